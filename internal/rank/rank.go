// Package rank finds the dataset image that best matches a query.
//
// Every dataset image is compared against the query independently: features
// are extracted, correspondences proposed by the ratio test and filtered by a
// RANSAC homography. The image with the most inliers wins; among equal counts
// the one earliest in the dataset wins. The scan can be spread over several
// workers without changing the result.
package rank

import (
	"context"
	"sync"

	"github.com/edaniels/golog"
	"go.opencensus.io/trace"
	"go.uber.org/zap"
	"gocv.io/x/gocv"

	"github.com/Dzusmin/go-signmatch/internal/dataset"
	"github.com/Dzusmin/go-signmatch/internal/features"
	"github.com/Dzusmin/go-signmatch/internal/match"
	"github.com/Dzusmin/go-signmatch/internal/verify"
)

// MaxWorkers caps Options.Workers.
const MaxWorkers = 32

// Options select the pipeline stages.
type Options struct {
	Matcher  match.Kind
	Ratio    float64
	Verifier verify.Kind
	Verify   verify.Options
	// Scale resizes images before feature detection.
	Scale float64
	// Workers is the number of images compared concurrently.
	Workers int
}

// DefaultOptions is a sequential brute force and OpenCV pipeline.
func DefaultOptions() Options {
	return Options{
		Matcher:  match.BruteForce,
		Ratio:    match.DefaultRatio,
		Verifier: verify.OpenCV,
		Scale:    1,
		Workers:  1,
	}
}

// Comparison summarizes one dataset image against the query.
type Comparison struct {
	Index      int
	ID         string
	Absent     bool
	Keypoints  int
	Candidates int
	Inliers    int
}

// Observer is told about every compared image. Calls are serialized but
// arrive in completion order when more than one worker runs.
type Observer interface {
	OnCompared(c Comparison)
}

// Result is the winning image. Inliers index Query.Keypoints through QueryIdx
// and Features.Keypoints through TrainIdx. Close releases both feature sets.
type Result struct {
	ID       string
	Index    int
	Features features.FeatureSet
	Query    features.FeatureSet
	Inliers  []match.Candidate
}

// Close releases the descriptors held by r.
func (r *Result) Close() error {
	r.Features.Close()
	return r.Query.Close()
}

// Ranker compares a query against dataset images. A Ranker may serve several
// Rank calls at once; each call builds its own pipelines.
type Ranker struct {
	opts   Options
	logger golog.Logger

	mu       sync.Mutex
	observer Observer
}

// New validates opts and returns a ranker.
func New(opts Options, logger golog.Logger) (*Ranker, error) {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.Workers > MaxWorkers {
		opts.Workers = MaxWorkers
	}
	if opts.Ratio == 0 {
		opts.Ratio = match.DefaultRatio
	}
	r := &Ranker{opts: opts, logger: logger}

	p, err := r.newPipeline()
	if err != nil {
		return nil, err
	}
	p.Close()
	return r, nil
}

// Observe registers o for the following Rank calls. A Rank already running
// keeps the observer it started with.
func (r *Ranker) Observe(o Observer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.observer = o
}

func (r *Ranker) currentObserver() Observer {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.observer
}

// Options returns the effective options.
func (r *Ranker) Options() Options {
	return r.opts
}

type pipeline struct {
	extractor *features.Extractor
	matcher   *match.Matcher
	verifier  verify.Verifier
}

func (r *Ranker) newPipeline() (*pipeline, error) {
	m, err := match.NewMatcher(r.opts.Matcher, r.opts.Ratio)
	if err != nil {
		return nil, err
	}
	v, err := verify.New(r.opts.Verifier, r.opts.Verify)
	if err != nil {
		m.Close()
		return nil, err
	}
	return &pipeline{
		extractor: features.NewExtractor(r.opts.Scale, r.logger),
		matcher:   m,
		verifier:  v,
	}, nil
}

func (p *pipeline) Close() {
	p.extractor.Close()
	p.matcher.Close()
}

// outcome is one finished comparison. features is only set when inliers > 0.
type outcome struct {
	Comparison
	features features.FeatureSet
	inliers  []match.Candidate
}

func (o *outcome) close() {
	if o.Inliers > 0 {
		o.features.Close()
	}
}

// accumulator holds the best outcome folded so far.
type accumulator struct {
	best *outcome
}

// better orders outcomes by inlier count, then by earlier dataset position.
func better(a, b *outcome) bool {
	if a.Inliers != b.Inliers {
		return a.Inliers > b.Inliers
	}
	return a.Index < b.Index
}

// fold keeps the better of acc and o and releases the other.
func (acc accumulator) fold(o *outcome) accumulator {
	if o.Inliers == 0 {
		return acc
	}
	if acc.best == nil || better(o, acc.best) {
		if acc.best != nil {
			acc.best.close()
		}
		return accumulator{best: o}
	}
	o.close()
	return acc
}

func (acc accumulator) release() {
	if acc.best != nil {
		acc.best.close()
	}
}

// Rank returns the dataset image with the most geometrically consistent
// correspondences to query. It returns nil without error when the query has
// no features or no image shares an inlier with it. Only cancellation of ctx
// is reported as an error.
func (r *Ranker) Rank(ctx context.Context, query gocv.Mat, images []dataset.Image) (*Result, error) {
	ctx, span := trace.StartSpan(ctx, "signmatch::rank::Rank")
	defer span.End()
	span.AddAttributes(trace.Int64Attribute("images", int64(len(images))))

	p, err := r.newPipeline()
	if err != nil {
		return nil, err
	}
	defer p.Close()

	q, ok := p.extractor.Extract(ctx, query)
	if !ok {
		r.logger.Infow("no descriptors in query")
		return nil, nil
	}
	r.logger.Debugw("query features", "keypoints", q.Len())

	obs := r.currentObserver()
	var acc accumulator
	if r.opts.Workers == 1 || len(images) < 2 {
		acc, err = r.scan(ctx, p, q, images, obs)
	} else {
		acc, err = r.scanParallel(ctx, q, images, obs)
	}
	if err != nil {
		acc.release()
		q.Close()
		return nil, err
	}

	if acc.best == nil {
		r.logger.Infow("no matching image", "images", len(images))
		q.Close()
		return nil, nil
	}
	b := acc.best
	span.AddAttributes(trace.StringAttribute("best", b.ID), trace.Int64Attribute("inliers", int64(b.Inliers)))
	r.logger.Infow("best match", "id", b.ID, "index", b.Index, "inliers", b.Inliers)
	return &Result{
		ID:       b.ID,
		Index:    b.Index,
		Features: b.features,
		Query:    q,
		Inliers:  b.inliers,
	}, nil
}

func (r *Ranker) scan(ctx context.Context, p *pipeline, q features.FeatureSet, images []dataset.Image, obs Observer) (accumulator, error) {
	var acc accumulator
	for i := range images {
		if err := ctx.Err(); err != nil {
			return acc, err
		}
		o := r.compare(ctx, p, q, i, images[i])
		notify(obs, o)
		acc = acc.fold(o)
	}
	return acc, nil
}

func (r *Ranker) scanParallel(ctx context.Context, q features.FeatureSet, images []dataset.Image, obs Observer) (accumulator, error) {
	workers := r.opts.Workers
	if workers > len(images) {
		workers = len(images)
	}

	pipelines := make([]*pipeline, 0, workers)
	for w := 0; w < workers; w++ {
		p, err := r.newPipeline()
		if err != nil {
			for _, p := range pipelines {
				p.Close()
			}
			return accumulator{}, err
		}
		pipelines = append(pipelines, p)
	}

	jobs := make(chan int)
	results := make(chan *outcome, len(images))

	var wg sync.WaitGroup
	for _, p := range pipelines {
		p := p
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer p.Close()
			for i := range jobs {
				results <- r.compare(ctx, p, q, i, images[i])
			}
		}()
	}

	go func() {
		defer func() {
			close(jobs)
			wg.Wait()
			close(results)
		}()
		for i := range images {
			select {
			case jobs <- i:
			case <-ctx.Done():
				return
			}
		}
	}()

	var acc accumulator
	for o := range results {
		notify(obs, o)
		acc = acc.fold(o)
	}
	return acc, ctx.Err()
}

func (r *Ranker) compare(ctx context.Context, p *pipeline, q features.FeatureSet, i int, img dataset.Image) *outcome {
	ctx, span := trace.StartSpan(ctx, "signmatch::rank::compare")
	defer span.End()
	span.AddAttributes(trace.StringAttribute("id", img.ID))

	o := &outcome{Comparison: Comparison{Index: i, ID: img.ID}}
	fs, ok := p.extractor.Extract(ctx, img.Mat)
	if !ok {
		o.Absent = true
		r.logger.Infow("no descriptors in dataset image", "id", img.ID)
		return o
	}
	o.Keypoints = fs.Len()

	cands := p.matcher.Match(q.Descriptors, fs.Descriptors)
	o.Candidates = len(cands)
	inliers := p.verifier.Verify(cands, q.Keypoints, fs.Keypoints)
	o.Inliers = len(inliers)
	span.AddAttributes(trace.Int64Attribute("candidates", int64(o.Candidates)), trace.Int64Attribute("inliers", int64(o.Inliers)))
	r.logger.Debugw("compared", "id", img.ID, "keypoints", o.Keypoints, "candidates", o.Candidates, "inliers", o.Inliers)

	if o.Inliers == 0 {
		fs.Close()
		return o
	}
	o.features = fs
	o.inliers = inliers
	return o
}

func notify(obs Observer, o *outcome) {
	if obs != nil {
		obs.OnCompared(o.Comparison)
	}
}
