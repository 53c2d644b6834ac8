// Package features turns images into SIFT keypoints and descriptors.
package features

import (
	"context"
	"image"
	"math"

	"github.com/edaniels/golog"
	"go.opencensus.io/trace"
	"go.uber.org/zap"
	"gocv.io/x/gocv"
)

// FeatureSet holds the keypoints of one image and their descriptors. Row i
// of Descriptors describes Keypoints[i]. A FeatureSet owns its descriptor
// matrix and must be closed.
type FeatureSet struct {
	Keypoints   []gocv.KeyPoint
	Descriptors gocv.Mat
}

// NewFeatureSet pairs keypoints with their descriptor rows.
func NewFeatureSet(kps []gocv.KeyPoint, des gocv.Mat) FeatureSet {
	return FeatureSet{Keypoints: kps, Descriptors: des}
}

// Len is the number of keypoints.
func (s FeatureSet) Len() int {
	return len(s.Keypoints)
}

// Close releases the descriptor matrix.
func (s *FeatureSet) Close() error {
	s.Keypoints = nil
	return s.Descriptors.Close()
}

// Extractor detects SIFT features. It is not safe for concurrent use; give
// every goroutine its own.
type Extractor struct {
	sift   gocv.SIFT
	scale  float64
	logger golog.Logger
}

// NewExtractor returns an extractor that resizes images by scale before
// detection. Keypoints are always reported in the coordinates of the image
// passed to Extract. A scale of 0 means 1.
func NewExtractor(scale float64, logger golog.Logger) *Extractor {
	if scale <= 0 {
		scale = 1
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Extractor{sift: gocv.NewSIFT(), scale: scale, logger: logger}
}

// Close releases the detector.
func (e *Extractor) Close() error {
	return e.sift.Close()
}

// Extract detects the features of img. It reports false, with nothing left
// to close, when the image yields no keypoints.
func (e *Extractor) Extract(ctx context.Context, img gocv.Mat) (FeatureSet, bool) {
	_, span := trace.StartSpan(ctx, "signmatch::features::Extract")
	defer span.End()

	if img.Empty() {
		e.logger.Debugw("empty image")
		return FeatureSet{}, false
	}

	gray := gocv.NewMat()
	defer gray.Close()
	toGray(img, &gray)

	work := gray
	if e.scale != 1 {
		w := int(math.Round(float64(gray.Cols()) * e.scale))
		h := int(math.Round(float64(gray.Rows()) * e.scale))
		if w == 0 || h == 0 {
			e.logger.Debugw("image too small for scale", "scale", e.scale, "cols", gray.Cols(), "rows", gray.Rows())
			return FeatureSet{}, false
		}
		smaller := gocv.NewMat()
		defer smaller.Close()
		gocv.Resize(gray, &smaller, image.Point{}, e.scale, e.scale, gocv.InterpolationDefault)
		work = smaller
	}

	mask := gocv.NewMat()
	defer mask.Close()

	kps, des := e.sift.DetectAndCompute(work, mask)
	if len(kps) == 0 || des.Empty() || des.Rows() != len(kps) {
		des.Close()
		e.logger.Debugw("no descriptors found", "keypoints", len(kps))
		span.AddAttributes(trace.Int64Attribute("keypoints", 0))
		return FeatureSet{}, false
	}

	if des.Type() != gocv.MatTypeCV32F {
		converted := gocv.NewMat()
		des.ConvertTo(&converted, gocv.MatTypeCV32F)
		des.Close()
		des = converted
	}

	if e.scale != 1 {
		for i := range kps {
			kps[i].X /= e.scale
			kps[i].Y /= e.scale
			kps[i].Size /= e.scale
		}
	}

	span.AddAttributes(trace.Int64Attribute("keypoints", int64(len(kps))))
	e.logger.Debugw("features extracted", "keypoints", len(kps))
	return NewFeatureSet(kps, des), true
}

// toGray writes the single channel intensity of src into dst.
func toGray(src gocv.Mat, dst *gocv.Mat) {
	switch src.Channels() {
	case 4:
		gocv.CvtColor(src, dst, gocv.ColorBGRAToGray)
	case 3:
		gocv.CvtColor(src, dst, gocv.ColorBGRToGray)
	default:
		src.CopyTo(dst)
	}
}
