// Package verify keeps the candidate correspondences that agree with a single
// planar homography between the two images.
package verify

import (
	"github.com/pkg/errors"
	"gocv.io/x/gocv"

	"github.com/Dzusmin/go-signmatch/internal/geom"
	"github.com/Dzusmin/go-signmatch/internal/match"
)

// MinCandidates is the smallest number of correspondences that determine a
// homography.
const MinCandidates = geom.MinPoints

// Kind names a verifier backend.
type Kind string

// Backends.
const (
	// OpenCV runs cv::findHomography with RANSAC.
	OpenCV Kind = "opencv"
	// Native runs the Go implementation in package geom.
	Native Kind = "native"
)

// Options tune the robust fit. Zero values select the geom defaults.
type Options struct {
	Threshold  float64
	MaxIters   int
	Confidence float64
	// Seed is only honoured by the native backend.
	Seed int64
}

// Verifier filters candidates down to the inliers of the best homography
// mapping keypoints a onto keypoints b. The result is a subsequence of cands.
type Verifier interface {
	Verify(cands []match.Candidate, a, b []gocv.KeyPoint) []match.Candidate
}

// New returns the verifier for kind. An empty kind selects OpenCV.
func New(kind Kind, opts Options) (Verifier, error) {
	def := geom.RANSACOptions{
		Threshold:  opts.Threshold,
		MaxIters:   opts.MaxIters,
		Confidence: opts.Confidence,
		Seed:       opts.Seed,
	}
	switch kind {
	case OpenCV, "":
		return &openCVVerifier{opts: def}, nil
	case Native:
		return &nativeVerifier{opts: def}, nil
	default:
		return nil, errors.Errorf("verify: unknown verifier %q", kind)
	}
}

type openCVVerifier struct {
	opts geom.RANSACOptions
}

func (v *openCVVerifier) Verify(cands []match.Candidate, a, b []gocv.KeyPoint) []match.Candidate {
	if len(cands) < MinCandidates || !inRange(cands, a, b) {
		return nil
	}
	opts := v.opts.WithDefaults()

	src := gocv.NewMatWithSize(len(cands), 1, gocv.MatTypeCV64FC2)
	defer src.Close()
	dst := gocv.NewMatWithSize(len(cands), 1, gocv.MatTypeCV64FC2)
	defer dst.Close()

	for i, c := range cands {
		p, q := a[c.QueryIdx], b[c.TrainIdx]
		src.SetDoubleAt(i, 0, p.X)
		src.SetDoubleAt(i, 1, p.Y)
		dst.SetDoubleAt(i, 0, q.X)
		dst.SetDoubleAt(i, 1, q.Y)
	}

	mask := gocv.NewMat()
	defer mask.Close()
	h := gocv.FindHomography(src, &dst, gocv.HomograpyMethodRANSAC, opts.Threshold, &mask, opts.MaxIters, opts.Confidence)
	defer h.Close()
	if h.Empty() || mask.Rows() != len(cands) {
		return nil
	}

	out := make([]match.Candidate, 0, len(cands))
	for i, c := range cands {
		if mask.GetUCharAt(i, 0) > 0 {
			out = append(out, c)
		}
	}
	return out
}

type nativeVerifier struct {
	opts geom.RANSACOptions
}

func (v *nativeVerifier) Verify(cands []match.Candidate, a, b []gocv.KeyPoint) []match.Candidate {
	if len(cands) < MinCandidates || !inRange(cands, a, b) {
		return nil
	}

	src := make([]geom.Point, len(cands))
	dst := make([]geom.Point, len(cands))
	for i, c := range cands {
		src[i] = geom.Point{X: a[c.QueryIdx].X, Y: a[c.QueryIdx].Y}
		dst[i] = geom.Point{X: b[c.TrainIdx].X, Y: b[c.TrainIdx].Y}
	}

	_, mask, err := geom.EstimateHomography(src, dst, v.opts)
	if err != nil {
		return nil
	}
	out := make([]match.Candidate, 0, len(cands))
	for i, c := range cands {
		if mask[i] {
			out = append(out, c)
		}
	}
	return out
}

func inRange(cands []match.Candidate, a, b []gocv.KeyPoint) bool {
	for _, c := range cands {
		if c.QueryIdx < 0 || c.QueryIdx >= len(a) || c.TrainIdx < 0 || c.TrainIdx >= len(b) {
			return false
		}
	}
	return true
}
