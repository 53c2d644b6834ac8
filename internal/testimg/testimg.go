// Package testimg builds synthetic images for pipeline tests.
package testimg

import (
	"image"
	"image/color"
	"image/draw"
	"math/rand"
	"testing"

	"github.com/nfnt/resize"
	"gocv.io/x/gocv"
)

// Textured draws a deterministic scene of overlapping rectangles and discs on
// a white background. Different seeds give unrelated scenes.
func Textured(seed int64, w, h int) *image.RGBA {
	rng := rand.New(rand.NewSource(seed))
	img := Flat(w, h, color.White)

	for i := 0; i < 80; i++ {
		c := color.RGBA{uint8(rng.Intn(256)), uint8(rng.Intn(256)), uint8(rng.Intn(256)), 255}
		x, y := rng.Intn(w), rng.Intn(h)
		size := 6 + rng.Intn(40)
		if i%2 == 0 {
			r := image.Rect(x, y, x+size, y+size/2+rng.Intn(size))
			draw.Draw(img, r.Intersect(img.Bounds()), image.NewUniform(c), image.Point{}, draw.Src)
			continue
		}
		disc(img, x, y, size/2, c)
	}
	return img
}

func disc(img *image.RGBA, cx, cy, r int, c color.Color) {
	for y := cy - r; y <= cy+r; y++ {
		for x := cx - r; x <= cx+r; x++ {
			dx, dy := x-cx, y-cy
			if dx*dx+dy*dy <= r*r && image.Pt(x, y).In(img.Bounds()) {
				img.Set(x, y, c)
			}
		}
	}
}

// Noise fills every pixel with an independent random color.
func Noise(seed int64, w, h int) *image.RGBA {
	rng := rand.New(rand.NewSource(seed))
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	rng.Read(img.Pix)
	for i := 3; i < len(img.Pix); i += 4 {
		img.Pix[i] = 255
	}
	return img
}

// Flat is a single color image without any features.
func Flat(w, h int, c color.Color) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(img, img.Bounds(), image.NewUniform(c), image.Point{}, draw.Src)
	return img
}

// Rotate90 turns img a quarter turn clockwise.
func Rotate90(img image.Image) *image.RGBA {
	b := img.Bounds()
	out := image.NewRGBA(image.Rect(0, 0, b.Dy(), b.Dx()))
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			out.Set(b.Max.Y-1-y, x-b.Min.X, img.At(x, y))
		}
	}
	return out
}

// Rescale resizes img by factor in both directions.
func Rescale(img image.Image, factor float64) image.Image {
	b := img.Bounds()
	return resize.Resize(uint(float64(b.Dx())*factor), uint(float64(b.Dy())*factor), img, resize.Bilinear)
}

// Mat converts img to a BGR matrix that is closed when the test ends.
func Mat(tb testing.TB, img image.Image) gocv.Mat {
	tb.Helper()
	m, err := gocv.ImageToMatRGB(img)
	if err != nil {
		tb.Fatalf("ImageToMatRGB: %v", err)
	}
	tb.Cleanup(func() { m.Close() })
	return m
}
