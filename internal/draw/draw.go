// Package draw renders match results for people to look at.
package draw

import (
	"fmt"
	"image"
	"image/color"
	stddraw "image/draw"
	"image/png"
	"os"

	"github.com/golang/freetype"
	"github.com/nfnt/resize"
	"github.com/pkg/errors"
	"gocv.io/x/gocv"
	"golang.org/x/image/font/gofont/goregular"

	"github.com/Dzusmin/go-signmatch/internal/match"
	"github.com/Dzusmin/go-signmatch/internal/rank"
)

// Drawing colors.
var (
	Green = color.RGBA{0, 255, 0, 0}
	Red   = color.RGBA{255, 0, 0, 0}
	Blue  = color.RGBA{0, 0, 255, 0}

	background = color.RGBA{0xe6, 0xe6, 0xe6, 0xff}
)

// Preview cell size.
const (
	CellWidth  = 400
	CellHeight = 300
)

const (
	padding     = 10
	captionSize = 16
)

// Keypoints draws kps onto img with their scale and orientation.
func Keypoints(img *gocv.Mat, kps []gocv.KeyPoint, c color.RGBA) {
	if len(kps) == 0 {
		return
	}
	gocv.DrawKeyPoints(*img, kps, img, c, gocv.DrawRichKeyPoints)
}

// Info writes a line of text at org.
func Info(img *gocv.Mat, text string, org image.Point, c color.RGBA) {
	gocv.PutText(img, text, org, gocv.FontHersheyPlain, 1.2, c, 2)
}

// Matches places query and best side by side and joins the inlier pairs of
// res. Keypoints without an inlier are not drawn. The caller closes the
// returned matrix.
func Matches(query, best gocv.Mat, res *rank.Result) (gocv.Mat, error) {
	if res == nil || len(res.Inliers) == 0 {
		return gocv.Mat{}, errors.New("draw: result has no inliers")
	}
	mask := make([]byte, len(res.Inliers))
	for i := range mask {
		mask[i] = 1
	}

	out := gocv.NewMat()
	gocv.DrawMatches(query, res.Query.Keypoints, best, res.Features.Keypoints, match.DMatches(res.Inliers),
		&out, Green, Blue, mask, gocv.NotDrawSinglePoints)
	Info(&out, fmt.Sprintf("%s: %d inliers", res.ID, len(res.Inliers)), image.Pt(10, 20), Red)
	return out, nil
}

// Save writes img to path; the format follows the file extension.
func Save(path string, img gocv.Mat) error {
	if !gocv.IMWrite(path, img) {
		return errors.Errorf("draw: could not write %q", path)
	}
	return nil
}

// WritePNG encodes img to path.
func WritePNG(path string, img image.Image) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "draw: creating %q", path)
	}
	if err := png.Encode(f, img); err != nil {
		f.Close()
		return errors.Wrapf(err, "draw: encoding %q", path)
	}
	return f.Close()
}

// Show displays img in a window until a key is pressed.
func Show(title string, img gocv.Mat) {
	w := gocv.NewWindow(title)
	defer w.Close()
	w.IMShow(img)
	w.WaitKey(0)
}

// Fit scales img to the largest size that fits in maxW x maxH without
// changing its aspect ratio.
func Fit(img image.Image, maxW, maxH int) image.Image {
	b := img.Bounds()
	if b.Dx() == 0 || b.Dy() == 0 {
		return img
	}
	scale := float64(maxW) / float64(b.Dx())
	if s := float64(maxH) / float64(b.Dy()); s < scale {
		scale = s
	}
	w, h := uint(float64(b.Dx())*scale), uint(float64(b.Dy())*scale)
	if w == 0 {
		w = 1
	}
	if h == 0 {
		h = 1
	}
	return resize.Resize(w, h, img, resize.Bilinear)
}

// Preview lays out query and best, each fitted into a CellWidth x CellHeight
// cell, above a caption. best may be nil.
func Preview(query, best image.Image, caption string) (*image.RGBA, error) {
	width := 2*CellWidth + 3*padding
	height := CellHeight + 3*padding + captionSize
	canvas := image.NewRGBA(image.Rect(0, 0, width, height))
	stddraw.Draw(canvas, canvas.Bounds(), image.NewUniform(background), image.Point{}, stddraw.Src)

	for i, img := range []image.Image{query, best} {
		if img == nil {
			continue
		}
		cell := image.Rect(0, 0, CellWidth, CellHeight).Add(image.Pt(padding+i*(CellWidth+padding), padding))
		fitted := Fit(img, CellWidth, CellHeight)
		fb := fitted.Bounds()
		offset := image.Pt((CellWidth-fb.Dx())/2, (CellHeight-fb.Dy())/2)
		stddraw.Draw(canvas, fb.Sub(fb.Min).Add(cell.Min).Add(offset), fitted, fb.Min, stddraw.Src)
	}

	if caption == "" {
		return canvas, nil
	}
	f, err := freetype.ParseFont(goregular.TTF)
	if err != nil {
		return nil, errors.Wrap(err, "draw: parsing caption font")
	}
	c := freetype.NewContext()
	c.SetDPI(72)
	c.SetFont(f)
	c.SetFontSize(captionSize)
	c.SetClip(canvas.Bounds())
	c.SetDst(canvas)
	c.SetSrc(image.Black)
	if _, err := c.DrawString(caption, freetype.Pt(padding, CellHeight+2*padding+captionSize)); err != nil {
		return nil, errors.Wrap(err, "draw: caption")
	}
	return canvas, nil
}
