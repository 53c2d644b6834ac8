// Package session keeps a loaded dataset and query between the load dataset,
// load query and find match steps of an interactive run.
package session

import (
	"context"
	"path/filepath"
	"sync"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"gocv.io/x/gocv"

	"github.com/Dzusmin/go-signmatch/internal/dataset"
	"github.com/Dzusmin/go-signmatch/internal/rank"
)

// ErrNotReady is returned by FindMatch until a query and a dataset holding at
// least one image are loaded.
var ErrNotReady = errors.New("load both a dataset and a query image first")

// Session is safe for concurrent use. Loaded images are kept raw; features
// are extracted again on every FindMatch.
type Session struct {
	mu sync.Mutex

	ranker *rank.Ranker
	loader *dataset.Loader
	logger golog.Logger

	dir       string
	images    []dataset.Image
	queryPath string
	query     gocv.Mat
	hasQuery  bool
}

// New returns an empty session.
func New(ranker *rank.Ranker, loader *dataset.Loader, logger golog.Logger) *Session {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Session{ranker: ranker, loader: loader, logger: logger}
}

// LoadDataset replaces the dataset with the images in dir and returns how
// many were loaded. On error the previous dataset is kept.
func (s *Session) LoadDataset(dir string) (int, error) {
	images, err := s.loader.Load(dir)
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	dataset.CloseAll(s.images)
	s.dir, s.images = dir, images
	s.logger.Infow("dataset ready", "dir", dir, "images", len(images))
	return len(images), nil
}

// LoadQuery replaces the query image. On error the previous query is kept.
func (s *Session) LoadQuery(path string) error {
	mat, err := dataset.ReadImage(path)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.hasQuery {
		s.query.Close()
	}
	s.queryPath, s.query, s.hasQuery = path, mat, true
	s.logger.Infow("query ready", "path", path)
	return nil
}

// FindMatch ranks the loaded dataset against the loaded query. A nil result
// without error means no image matched. The caller closes the result.
func (s *Session) FindMatch(ctx context.Context) (*rank.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.hasQuery || len(s.images) == 0 {
		return nil, ErrNotReady
	}
	return s.ranker.Rank(ctx, s.query, s.images)
}

// Query returns the loaded query image and its path. The image stays owned by
// the session.
func (s *Session) Query() (gocv.Mat, string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.query, s.queryPath, s.hasQuery
}

// Image returns the dataset image with the given id.
func (s *Session) Image(id string) (dataset.Image, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, img := range s.images {
		if img.ID == id {
			return img, true
		}
	}
	return dataset.Image{}, false
}

// Status describes what is loaded.
func (s *Session) Status() (dir string, images int, query string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.hasQuery {
		query = filepath.Base(s.queryPath)
	}
	return s.dir, len(s.images), query
}

// Close releases every loaded image.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	dataset.CloseAll(s.images)
	s.images = nil
	if s.hasQuery {
		s.hasQuery = false
		return s.query.Close()
	}
	return nil
}
