// Command signmatch finds the image of a dataset directory that shows the same
// scene as a query image.
//
//	signmatch match -dataset DIR -query FILE [-overlay OUT.png] [-preview OUT.png] [-show]
//	signmatch shell [-config FILE]
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	_ "net/http/pprof"
	"os"
	"path/filepath"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"

	"github.com/Dzusmin/go-signmatch/internal/config"
	"github.com/Dzusmin/go-signmatch/internal/dataset"
	"github.com/Dzusmin/go-signmatch/internal/draw"
	"github.com/Dzusmin/go-signmatch/internal/match"
	"github.com/Dzusmin/go-signmatch/internal/rank"
	"github.com/Dzusmin/go-signmatch/internal/session"
	"github.com/Dzusmin/go-signmatch/internal/verify"
)

const profilerAddr = "localhost:6060"

func main() {
	args := os.Args[1:]
	if len(args) == 0 || isHelp(args[0]) {
		printUsage()
		return
	}

	switch args[0] {
	case "match":
		os.Exit(matchCmd(args[1:]))
	case "shell":
		os.Exit(shellCmd(args[1:]))
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", args[0])
		printUsage()
		os.Exit(2)
	}
}

func isHelp(s string) bool {
	return s == "-h" || s == "-help" || s == "--help" || s == "help"
}

func printUsage() {
	fmt.Fprintln(os.Stderr, `Usage:
	signmatch match -dataset DIR -query FILE [flags]
	signmatch shell [flags]

Run "signmatch <command> -help" for the flags of a command.`)
}

// commonFlags are shared by every command.
type commonFlags struct {
	Config   string
	Matcher  string
	Verifier string
	Workers  int
	Scale    float64
	Profiler bool
}

// AddToSet registers the fields of f on set.
func (f *commonFlags) AddToSet(set *flag.FlagSet) {
	set.StringVar(&f.Config, "config", "", "YAML configuration file")
	set.StringVar(&f.Matcher, "matcher", "", "nearest neighbour backend (bf or flann)")
	set.StringVar(&f.Verifier, "verifier", "", "homography backend (opencv or native)")
	set.IntVar(&f.Workers, "workers", 0, "images compared concurrently")
	set.Float64Var(&f.Scale, "scale", 0, "resize factor applied before feature detection")
	set.BoolVar(&f.Profiler, "profiler", false, "serve pprof on "+profilerAddr)
}

// Load reads the configuration file and applies the flags set explicitly on
// set over it.
func (f *commonFlags) Load(set *flag.FlagSet) (config.Config, error) {
	cfg, err := config.Load(f.Config)
	if err != nil {
		return config.Config{}, err
	}
	set.Visit(func(fl *flag.Flag) {
		switch fl.Name {
		case "matcher":
			cfg.Matcher = match.Kind(f.Matcher)
		case "verifier":
			cfg.Verifier = verify.Kind(f.Verifier)
		case "workers":
			cfg.Workers = f.Workers
		case "scale":
			cfg.Scale = f.Scale
		}
	})
	if err := cfg.Validate(); err != nil {
		return config.Config{}, errors.Wrap(err, "flags")
	}
	return cfg, nil
}

// setup builds the pipeline described by cfg.
func setup(cfg config.Config, logger golog.Logger) (*session.Session, error) {
	r, err := rank.New(cfg.RankOptions(), logger)
	if err != nil {
		return nil, err
	}
	return session.New(r, dataset.NewLoader(logger, cfg.Extensions...), logger), nil
}

func startProfiler(enabled bool) {
	if !enabled {
		return
	}
	go func() {
		log.Println(http.ListenAndServe(profilerAddr, nil))
	}()
}

func matchCmd(args []string) int {
	fs := flag.NewFlagSet("match", flag.ContinueOnError)
	var common commonFlags
	common.AddToSet(fs)

	var dir, query, overlay, preview string
	var show, keypoints bool
	fs.StringVar(&dir, "dataset", "", "directory of reference images")
	fs.StringVar(&query, "query", "", "query image")
	fs.StringVar(&overlay, "overlay", "", "write the match overlay to this file")
	fs.StringVar(&preview, "preview", "", "write a side by side thumbnail to this PNG file")
	fs.BoolVar(&show, "show", false, "display the match overlay")
	fs.BoolVar(&keypoints, "keypoints", false, "draw every query keypoint on the overlay")

	if err := fs.Parse(args); err != nil {
		return 2
	}
	if dir == "" || query == "" {
		fmt.Fprintln(os.Stderr, "Required flags: -dataset and -query. See -help.")
		return 2
	}

	cfg, err := common.Load(fs)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}
	startProfiler(common.Profiler)

	logger := golog.NewDevelopmentLogger("signmatch")
	s, err := setup(cfg, logger)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}
	defer s.Close()

	if _, err := s.LoadDataset(dir); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	if err := s.LoadQuery(query); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	res, err := s.FindMatch(context.Background())
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	if res == nil {
		fmt.Println("No matching image found.")
		return 1
	}
	defer res.Close()
	fmt.Printf("The most similar image is: %s (%d inliers)\n", res.ID, len(res.Inliers))

	if overlay == "" && preview == "" && !show {
		return 0
	}
	if err := present(s, res, overlay, preview, show, keypoints); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	return 0
}

// present renders res in the requested ways.
func present(s *session.Session, res *rank.Result, overlay, preview string, show, keypoints bool) error {
	query, queryPath, _ := s.Query()
	best, ok := s.Image(res.ID)
	if !ok {
		return errors.Errorf("image %q is no longer loaded", res.ID)
	}

	if preview != "" {
		q, err := query.ToImage()
		if err != nil {
			return errors.Wrap(err, "converting query")
		}
		b, err := best.Mat.ToImage()
		if err != nil {
			return errors.Wrap(err, "converting best match")
		}
		caption := fmt.Sprintf("%s -> %s: %d inliers", filepath.Base(queryPath), res.ID, len(res.Inliers))
		img, err := draw.Preview(q, b, caption)
		if err != nil {
			return err
		}
		if err := draw.WritePNG(preview, img); err != nil {
			return err
		}
	}

	if overlay == "" && !show {
		return nil
	}
	out, err := draw.Matches(query, best.Mat, res)
	if err != nil {
		return err
	}
	defer out.Close()
	if keypoints {
		draw.Keypoints(&out, res.Query.Keypoints, draw.Blue)
	}
	if overlay != "" {
		if err := draw.Save(overlay, out); err != nil {
			return err
		}
	}
	if show {
		draw.Show("Best Match", out)
	}
	return nil
}
