// Package match proposes point correspondences between two descriptor sets
// with a nearest neighbour search and a ratio test.
package match

import (
	"github.com/pkg/errors"
	"gocv.io/x/gocv"
)

const (
	// DefaultRatio is the largest accepted ratio between the nearest and
	// the second nearest neighbour distance.
	DefaultRatio = 0.5

	// MinDescriptors is the smallest set the ratio test can work with: a
	// second nearest neighbour has to exist.
	MinDescriptors = 2
)

// Kind names a nearest neighbour backend.
type Kind string

// Backends.
const (
	// FLANN searches an approximate k-d tree index built over the train set.
	FLANN Kind = "flann"
	// BruteForce compares every pair under the L2 norm.
	BruteForce Kind = "bf"
)

// Candidate pairs query descriptor QueryIdx with train descriptor TrainIdx.
type Candidate struct {
	QueryIdx int
	TrainIdx int
	Distance float32
}

// DMatch converts c for the OpenCV drawing helpers.
func (c Candidate) DMatch() gocv.DMatch {
	return gocv.DMatch{QueryIdx: c.QueryIdx, TrainIdx: c.TrainIdx, Distance: float64(c.Distance)}
}

// DMatches converts a candidate list.
func DMatches(cs []Candidate) []gocv.DMatch {
	out := make([]gocv.DMatch, len(cs))
	for i, c := range cs {
		out[i] = c.DMatch()
	}
	return out
}

type knnMatcher interface {
	KnnMatch(query, train gocv.Mat, k int) [][]gocv.DMatch
	Close() error
}

// Matcher finds ratio test correspondences. It is not safe for concurrent
// use.
type Matcher struct {
	knn   knnMatcher
	ratio float64
}

// NewMatcher returns a matcher using the given backend and ratio. An empty
// kind selects BruteForce, which unlike FLANN gives the same answer on every
// call.
func NewMatcher(kind Kind, ratio float64) (*Matcher, error) {
	if ratio <= 0 || ratio > 1 {
		return nil, errors.Errorf("match: ratio %v outside (0, 1]", ratio)
	}

	var knn knnMatcher
	switch kind {
	case BruteForce, "":
		m := gocv.NewBFMatcherWithParams(gocv.NormL2, false)
		knn = &m
	case FLANN:
		m := gocv.NewFlannBasedMatcher()
		knn = &m
	default:
		return nil, errors.Errorf("match: unknown matcher %q", kind)
	}
	return &Matcher{knn: knn, ratio: ratio}, nil
}

// Close releases the backend.
func (m *Matcher) Close() error {
	return m.knn.Close()
}

// Match returns, in query order, the nearest train descriptor of every query
// descriptor that passes the ratio test. Both sets need MinDescriptors rows,
// otherwise the result is empty.
func (m *Matcher) Match(query, train gocv.Mat) []Candidate {
	if query.Empty() || train.Empty() || query.Rows() < MinDescriptors || train.Rows() < MinDescriptors {
		return nil
	}

	q, owned := asFloat32(query)
	if owned {
		defer q.Close()
	}
	t, owned := asFloat32(train)
	if owned {
		defer t.Close()
	}

	return RatioTest(m.knn.KnnMatch(q, t, 2), m.ratio)
}

// RatioTest keeps the nearest neighbour of each row when its distance is
// strictly below ratio times the second nearest. Rows with fewer than two
// neighbours are dropped. Distances are compared in float32.
func RatioTest(knn [][]gocv.DMatch, ratio float64) []Candidate {
	r := float32(ratio)
	out := make([]Candidate, 0, len(knn))
	for _, pair := range knn {
		if len(pair) < 2 {
			continue
		}
		nearest, second := float32(pair[0].Distance), float32(pair[1].Distance)
		if nearest < r*second {
			out = append(out, Candidate{QueryIdx: pair[0].QueryIdx, TrainIdx: pair[0].TrainIdx, Distance: nearest})
		}
	}
	return out
}

func asFloat32(m gocv.Mat) (gocv.Mat, bool) {
	if m.Type() == gocv.MatTypeCV32F {
		return m, false
	}
	out := gocv.NewMat()
	m.ConvertTo(&out, gocv.MatTypeCV32F)
	return out, true
}
