package geom

import (
	"math"
	"math/rand"

	"github.com/pkg/errors"
)

// RANSAC defaults, matching the usual findHomography parameters.
const (
	DefaultThreshold  = 5.0
	DefaultMaxIters   = 2000
	DefaultConfidence = 0.995
)

// maxSampleAttempts bounds the redraws spent looking for a non-collinear
// minimal sample within one iteration.
const maxSampleAttempts = 50

// collinearTolerance is the smallest doubled triangle area, in squared
// pixels, that a sample triple may span.
const collinearTolerance = 1e-6

// RANSACOptions control EstimateHomography. Zero values select the defaults.
type RANSACOptions struct {
	// Threshold is the largest reprojection error, in pixels, of an inlier.
	Threshold float64

	// MaxIters caps the number of minimal samples drawn.
	MaxIters int

	// Confidence is the probability of having drawn at least one
	// outlier-free sample at which iteration stops early.
	Confidence float64

	// Seed seeds the sampler so that repeated calls agree.
	Seed int64
}

// WithDefaults fills the zero fields of o.
func (o RANSACOptions) WithDefaults() RANSACOptions {
	if o.Threshold <= 0 {
		o.Threshold = DefaultThreshold
	}
	if o.MaxIters <= 0 {
		o.MaxIters = DefaultMaxIters
	}
	if o.Confidence <= 0 || o.Confidence >= 1 {
		o.Confidence = DefaultConfidence
	}
	return o
}

// EstimateHomography robustly fits a homography mapping src onto dst and
// reports, per pair, whether it agrees with the winning model. The model with
// the largest consensus set wins; it is then refit on that set.
func EstimateHomography(src, dst []Point, opts RANSACOptions) (Homography, []bool, error) {
	n := len(src)
	if n != len(dst) {
		return Homography{}, nil, errors.Errorf("geom: point count mismatch %d != %d", n, len(dst))
	}
	if n < MinPoints {
		return Homography{}, nil, ErrTooFewPoints
	}
	opts = opts.WithDefaults()
	rng := rand.New(rand.NewSource(opts.Seed))

	var (
		best      Homography
		bestMask  = make([]bool, n)
		bestCount int
	)
	mask := make([]bool, n)
	sample := make([]int, MinPoints)
	ps := make([]Point, MinPoints)
	qs := make([]Point, MinPoints)

	iters := opts.MaxIters
	for i := 0; i < iters; i++ {
		if !drawSample(rng, src, dst, sample) {
			continue
		}
		for k, idx := range sample {
			ps[k] = src[idx]
			qs[k] = dst[idx]
		}
		h, err := FitHomography(ps, qs)
		if err != nil {
			continue
		}
		count := consensus(h, src, dst, opts.Threshold, mask)
		if count > bestCount {
			best, bestCount = h, count
			copy(bestMask, mask)
			if k := requiredIters(bestCount, n, opts.Confidence, opts.MaxIters); k < iters {
				iters = k
			}
		}
	}
	if bestCount == 0 {
		return Homography{}, nil, ErrDegenerate
	}

	if bestCount > MinPoints {
		in := make([]Point, 0, bestCount)
		out := make([]Point, 0, bestCount)
		for i, ok := range bestMask {
			if ok {
				in = append(in, src[i])
				out = append(out, dst[i])
			}
		}
		if h, err := FitHomography(in, out); err == nil {
			if count := consensus(h, src, dst, opts.Threshold, mask); count >= bestCount {
				best, bestCount = h, count
				copy(bestMask, mask)
			}
		}
	}
	return best, bestMask, nil
}

// consensus flags in mask the pairs h maps within threshold and counts them.
func consensus(h Homography, src, dst []Point, threshold float64, mask []bool) int {
	count := 0
	for i := range src {
		mask[i] = h.Error(src[i], dst[i]) < threshold
		if mask[i] {
			count++
		}
	}
	return count
}

// requiredIters is the number of samples needed to draw one all-inlier
// sample with the given confidence, for the observed inlier ratio.
func requiredIters(inliers, total int, confidence float64, max int) int {
	w := float64(inliers) / float64(total)
	p := math.Pow(w, MinPoints)
	if p <= epsilon {
		return max
	}
	den := math.Log(1 - p)
	if math.IsInf(den, -1) {
		return 0
	}
	k := math.Ceil(math.Log(1-confidence) / den)
	if k > float64(max) {
		return max
	}
	return int(k)
}

// drawSample fills sample with distinct indices whose points span a proper
// quadrilateral in both images.
func drawSample(rng *rand.Rand, src, dst []Point, sample []int) bool {
	n := len(src)
	for attempt := 0; attempt < maxSampleAttempts; attempt++ {
		for k := range sample {
			idx := rng.Intn(n)
			for contains(sample[:k], idx) {
				idx = rng.Intn(n)
			}
			sample[k] = idx
		}
		if !hasCollinearTriple(src, sample) && !hasCollinearTriple(dst, sample) {
			return true
		}
	}
	return false
}

func contains(xs []int, x int) bool {
	for _, v := range xs {
		if v == x {
			return true
		}
	}
	return false
}

func hasCollinearTriple(pts []Point, idx []int) bool {
	for i := 0; i < len(idx); i++ {
		for j := i + 1; j < len(idx); j++ {
			for k := j + 1; k < len(idx); k++ {
				a, b, c := pts[idx[i]], pts[idx[j]], pts[idx[k]]
				area := (b.X-a.X)*(c.Y-a.Y) - (b.Y-a.Y)*(c.X-a.X)
				if math.Abs(area) <= collinearTolerance {
					return true
				}
			}
		}
	}
	return false
}
