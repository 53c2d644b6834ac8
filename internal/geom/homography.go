// Package geom fits planar projective transforms between two point sets.
package geom

import (
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// MinPoints is the number of point pairs that fixes a homography
// (8 degrees of freedom, two equations per pair).
const MinPoints = 4

const (
	epsilon       = 1e-12
	rankTolerance = 1e-10
)

var (
	// ErrTooFewPoints is returned when fewer than MinPoints pairs are given.
	ErrTooFewPoints = errors.New("geom: at least 4 point pairs are required")

	// ErrDegenerate is returned when the points do not determine a model,
	// e.g. because they are collinear or coincide.
	ErrDegenerate = errors.New("geom: degenerate point configuration")
)

// Point is a location in image pixel coordinates.
type Point struct {
	X, Y float64
}

// Homography is a 3x3 projective transform stored row-major. Fitted models
// are scaled so that the last element is 1.
type Homography [9]float64

// Identity returns the transform that maps every point onto itself.
func Identity() Homography {
	return Homography{1, 0, 0, 0, 1, 0, 0, 0, 1}
}

// Apply maps p through h. It reports false when p is sent to infinity.
func (h Homography) Apply(p Point) (Point, bool) {
	w := h[6]*p.X + h[7]*p.Y + h[8]
	if math.Abs(w) < epsilon {
		return Point{}, false
	}
	return Point{
		X: (h[0]*p.X + h[1]*p.Y + h[2]) / w,
		Y: (h[3]*p.X + h[4]*p.Y + h[5]) / w,
	}, true
}

// Error is the reprojection distance between h(src) and dst.
func (h Homography) Error(src, dst Point) float64 {
	q, ok := h.Apply(src)
	if !ok {
		return math.Inf(1)
	}
	return math.Hypot(q.X-dst.X, q.Y-dst.Y)
}

func (h Homography) mul(o Homography) Homography {
	var r Homography
	for row := 0; row < 3; row++ {
		for col := 0; col < 3; col++ {
			var sum float64
			for k := 0; k < 3; k++ {
				sum += h[row*3+k] * o[k*3+col]
			}
			r[row*3+col] = sum
		}
	}
	return r
}

// FitHomography computes the least-squares homography mapping src[i] onto
// dst[i] with the normalized direct linear transform. Exactly MinPoints pairs
// give an exact fit.
func FitHomography(src, dst []Point) (Homography, error) {
	if len(src) != len(dst) {
		return Homography{}, errors.Errorf("geom: point count mismatch %d != %d", len(src), len(dst))
	}
	if len(src) < MinPoints {
		return Homography{}, ErrTooFewPoints
	}

	srcT, _, ok := normalization(src)
	if !ok {
		return Homography{}, ErrDegenerate
	}
	dstT, dstInv, ok := normalization(dst)
	if !ok {
		return Homography{}, ErrDegenerate
	}

	n := len(src)
	a := mat.NewDense(2*n, 9, nil)
	for i := range src {
		p, _ := srcT.Apply(src[i])
		q, _ := dstT.Apply(dst[i])
		a.SetRow(2*i, []float64{-p.X, -p.Y, -1, 0, 0, 0, q.X * p.X, q.X * p.Y, q.X})
		a.SetRow(2*i+1, []float64{0, 0, 0, -p.X, -p.Y, -1, q.Y * p.X, q.Y * p.Y, q.Y})
	}

	var svd mat.SVD
	if !svd.Factorize(a, mat.SVDFull) {
		return Homography{}, ErrDegenerate
	}
	// A must have rank 8 for the null space to be a single direction.
	values := svd.Values(nil)
	if len(values) < 8 || values[7] <= rankTolerance*values[0] {
		return Homography{}, ErrDegenerate
	}
	var v mat.Dense
	svd.VTo(&v)

	var hn Homography
	for i := range hn {
		hn[i] = v.At(i, 8)
	}
	h := dstInv.mul(hn).mul(srcT)

	if math.Abs(h[8]) < epsilon {
		return Homography{}, ErrDegenerate
	}
	scale := 1 / h[8]
	for i := range h {
		h[i] *= scale
	}
	return h, nil
}

// normalization returns the similarity transform moving the centroid of pts
// to the origin with mean distance sqrt(2), and its inverse.
func normalization(pts []Point) (Homography, Homography, bool) {
	var cx, cy float64
	for _, p := range pts {
		cx += p.X
		cy += p.Y
	}
	cx /= float64(len(pts))
	cy /= float64(len(pts))

	var dist float64
	for _, p := range pts {
		dist += math.Hypot(p.X-cx, p.Y-cy)
	}
	dist /= float64(len(pts))
	if dist < epsilon {
		return Homography{}, Homography{}, false
	}

	s := math.Sqrt2 / dist
	t := Homography{s, 0, -s * cx, 0, s, -s * cy, 0, 0, 1}
	inv := Homography{1 / s, 0, cx, 0, 1 / s, cy, 0, 0, 1}
	return t, inv, true
}
