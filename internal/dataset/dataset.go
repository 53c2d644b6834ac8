// Package dataset reads the reference images a query is ranked against.
package dataset

import (
	"image"
	_ "image/jpeg" // decoders for the Go fallback
	_ "image/png"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"gocv.io/x/gocv"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// ErrUnreadable is returned for files that neither OpenCV nor the Go image
// decoders can read.
var ErrUnreadable = errors.New("unreadable image")

// DefaultExtensions are the file types picked up from a dataset directory.
var DefaultExtensions = []string{".png", ".jpg", ".jpeg"}

// Image is one dataset entry. ID is the file name and identifies the image
// in results.
type Image struct {
	ID   string
	Path string
	Mat  gocv.Mat
}

// Close releases the pixel data.
func (i *Image) Close() error {
	return i.Mat.Close()
}

// CloseAll closes every image in images.
func CloseAll(images []Image) {
	for i := range images {
		images[i].Close()
	}
}

// Loader enumerates and decodes dataset directories.
type Loader struct {
	// Extensions lists the accepted suffixes, compared case-insensitively.
	Extensions []string
	Logger     golog.Logger
}

// NewLoader returns a loader for the default extensions plus extra.
func NewLoader(logger golog.Logger, extra ...string) *Loader {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	exts := append([]string{}, DefaultExtensions...)
	for _, e := range extra {
		e = strings.ToLower(e)
		if !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		if !hasExtension(exts, e) {
			exts = append(exts, e)
		}
	}
	return &Loader{Extensions: exts, Logger: logger}
}

// Load reads every image with an accepted extension directly inside dir,
// ordered by file name. Files that fail to decode are logged and skipped; only
// an unreadable directory is an error. The caller owns the returned images.
func (l *Loader) Load(dir string) ([]Image, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.Wrapf(err, "reading dataset %q", dir)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	var images []Image
	for _, entry := range entries {
		if entry.IsDir() || !l.accepts(entry.Name()) {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		mat, err := ReadImage(path)
		if err != nil {
			l.logger().Warnw("skipping dataset image", "path", path, "error", err)
			continue
		}
		images = append(images, Image{ID: entry.Name(), Path: path, Mat: mat})
	}
	l.logger().Infow("dataset loaded", "dir", dir, "images", len(images))
	return images, nil
}

func (l *Loader) accepts(name string) bool {
	exts := l.Extensions
	if len(exts) == 0 {
		exts = DefaultExtensions
	}
	return hasExtension(exts, strings.ToLower(filepath.Ext(name)))
}

func (l *Loader) logger() golog.Logger {
	if l.Logger == nil {
		return zap.NewNop().Sugar()
	}
	return l.Logger
}

func hasExtension(exts []string, ext string) bool {
	for _, e := range exts {
		if strings.EqualFold(e, ext) {
			return true
		}
	}
	return false
}

// ReadImage decodes the image at path as BGR. Formats OpenCV was built
// without are decoded in Go.
func ReadImage(path string) (gocv.Mat, error) {
	if _, err := os.Stat(path); err != nil {
		return gocv.Mat{}, errors.Wrapf(ErrUnreadable, "%s: %v", path, err)
	}
	mat := gocv.IMRead(path, gocv.IMReadColor)
	if !mat.Empty() {
		return mat, nil
	}
	mat.Close()

	f, err := os.Open(path)
	if err != nil {
		return gocv.Mat{}, errors.Wrapf(ErrUnreadable, "%s: %v", path, err)
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return gocv.Mat{}, errors.Wrapf(ErrUnreadable, "%s: %v", path, err)
	}
	mat, err = gocv.ImageToMatRGB(img)
	if err != nil {
		return gocv.Mat{}, errors.Wrapf(ErrUnreadable, "%s: %v", path, err)
	}
	return mat, nil
}
