package geom

import (
	"math"
	"math/rand"
	"testing"

	"github.com/pkg/errors"
)

var testH = Homography{1.2, 0.1, 15, -0.05, 0.9, -7, 0.0005, -0.0003, 1}

func grid(n int, step float64) []Point {
	pts := make([]Point, 0, n*n)
	for y := 0; y < n; y++ {
		for x := 0; x < n; x++ {
			pts = append(pts, Point{X: 10 + float64(x)*step, Y: 20 + float64(y)*step})
		}
	}
	return pts
}

func project(t *testing.T, h Homography, pts []Point) []Point {
	t.Helper()
	out := make([]Point, len(pts))
	for i, p := range pts {
		q, ok := h.Apply(p)
		if !ok {
			t.Fatalf("point %v maps to infinity", p)
		}
		out[i] = q
	}
	return out
}

func equalHomography(a, b Homography, tol float64) bool {
	for i := range a {
		if math.Abs(a[i]-b[i]) > tol {
			return false
		}
	}
	return true
}

func TestFitHomographyExact(t *testing.T) {
	cases := []struct {
		name string
		src  []Point
	}{
		{"minimal", []Point{{0, 0}, {100, 0}, {100, 80}, {0, 80}}},
		{"grid", grid(5, 40)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			dst := project(t, testH, tc.src)
			h, err := FitHomography(tc.src, dst)
			if err != nil {
				t.Fatalf("FitHomography: %v", err)
			}
			if !equalHomography(h, testH, 1e-6) {
				t.Fatalf("got %v, want %v", h, testH)
			}
			for i := range tc.src {
				if e := h.Error(tc.src[i], dst[i]); e > 1e-6 {
					t.Fatalf("pair %d reprojection error %g", i, e)
				}
			}
		})
	}
}

func TestFitHomographyIdentity(t *testing.T) {
	src := grid(3, 25)
	h, err := FitHomography(src, src)
	if err != nil {
		t.Fatalf("FitHomography: %v", err)
	}
	if !equalHomography(h, Identity(), 1e-8) {
		t.Fatalf("got %v, want identity", h)
	}
}

func TestFitHomographyDegenerate(t *testing.T) {
	line := []Point{{0, 0}, {10, 10}, {20, 20}, {30, 30}, {40, 40}}
	same := []Point{{5, 5}, {5, 5}, {5, 5}, {5, 5}}

	if _, err := FitHomography(line, line); !errors.Is(err, ErrDegenerate) {
		t.Fatalf("collinear: got %v, want ErrDegenerate", err)
	}
	if _, err := FitHomography(same, same); !errors.Is(err, ErrDegenerate) {
		t.Fatalf("coincident: got %v, want ErrDegenerate", err)
	}
	if _, err := FitHomography(line[:3], line[:3]); !errors.Is(err, ErrTooFewPoints) {
		t.Fatalf("three points: got %v, want ErrTooFewPoints", err)
	}
	if _, err := FitHomography(line, line[:4]); err == nil {
		t.Fatalf("expected an error for mismatched lengths")
	}
}

func TestApplyAtInfinity(t *testing.T) {
	h := Homography{1, 0, 0, 0, 1, 0, 1, 0, 0}
	if _, ok := h.Apply(Point{0, 3}); ok {
		t.Fatalf("expected point on the line at infinity to be rejected")
	}
	if e := h.Error(Point{0, 3}, Point{0, 0}); !math.IsInf(e, 1) {
		t.Fatalf("got error %g, want +Inf", e)
	}
}

func outlierSet(t *testing.T, inliers, outliers int) ([]Point, []Point, []bool) {
	t.Helper()
	rng := rand.New(rand.NewSource(7))
	var src, dst []Point
	var truth []bool
	bad := 0
	for i := 0; i < inliers+outliers; i++ {
		p := Point{X: rng.Float64() * 600, Y: rng.Float64() * 400}
		q, _ := testH.Apply(p)
		isInlier := true
		if i%3 == 0 && bad < outliers {
			isInlier = false
			bad++
			// Push the target well beyond any threshold in a random direction.
			angle := rng.Float64() * 2 * math.Pi
			q.X += 60 * math.Cos(angle)
			q.Y += 60 * math.Sin(angle)
		}
		src = append(src, p)
		dst = append(dst, q)
		truth = append(truth, isInlier)
	}
	return src, dst, truth
}

func countTrue(xs []bool) int {
	n := 0
	for _, x := range xs {
		if x {
			n++
		}
	}
	return n
}

func TestEstimateHomographyRejectsOutliers(t *testing.T) {
	src, dst, truth := outlierSet(t, 40, 15)

	h, mask, err := EstimateHomography(src, dst, RANSACOptions{Threshold: 5, Seed: 1})
	if err != nil {
		t.Fatalf("EstimateHomography: %v", err)
	}
	for i := range truth {
		if mask[i] != truth[i] {
			t.Fatalf("pair %d: inlier=%v, want %v", i, mask[i], truth[i])
		}
	}
	if !equalHomography(h, testH, 1e-4) {
		t.Fatalf("got %v, want %v", h, testH)
	}
}

func TestEstimateHomographyDeterministic(t *testing.T) {
	src, dst, _ := outlierSet(t, 20, 10)
	opts := RANSACOptions{Seed: 42}

	h1, m1, err1 := EstimateHomography(src, dst, opts)
	h2, m2, err2 := EstimateHomography(src, dst, opts)
	if err1 != nil || err2 != nil {
		t.Fatalf("EstimateHomography: %v, %v", err1, err2)
	}
	if h1 != h2 {
		t.Fatalf("models differ: %v vs %v", h1, h2)
	}
	for i := range m1 {
		if m1[i] != m2[i] {
			t.Fatalf("masks differ at %d", i)
		}
	}
}

func TestEstimateHomographyMinimalAndDegenerate(t *testing.T) {
	src := []Point{{0, 0}, {100, 0}, {100, 80}, {0, 80}}
	dst := project(t, testH, src)
	_, mask, err := EstimateHomography(src, dst, RANSACOptions{})
	if err != nil {
		t.Fatalf("EstimateHomography: %v", err)
	}
	if countTrue(mask) != 4 {
		t.Fatalf("got %d inliers, want 4", countTrue(mask))
	}

	line := []Point{{0, 0}, {1, 1}, {2, 2}, {3, 3}, {4, 4}, {5, 5}}
	if _, _, err := EstimateHomography(line, line, RANSACOptions{MaxIters: 20}); !errors.Is(err, ErrDegenerate) {
		t.Fatalf("collinear: got %v, want ErrDegenerate", err)
	}
	if _, _, err := EstimateHomography(src[:3], dst[:3], RANSACOptions{}); !errors.Is(err, ErrTooFewPoints) {
		t.Fatalf("three points: got %v, want ErrTooFewPoints", err)
	}
}

func TestRequiredIters(t *testing.T) {
	if got := requiredIters(10, 10, 0.995, 2000); got != 0 {
		t.Errorf("all inliers: got %d, want 0", got)
	}
	if got := requiredIters(0, 10, 0.995, 2000); got != 2000 {
		t.Errorf("no inliers: got %d, want 2000", got)
	}
	half := requiredIters(50, 100, 0.995, 2000)
	if half <= 0 || half >= 2000 {
		t.Errorf("half inliers: got %d, want within (0, 2000)", half)
	}
	if quarter := requiredIters(25, 100, 0.995, 2000); quarter <= half {
		t.Errorf("lower inlier ratio must need more samples: %d <= %d", quarter, half)
	}
}
