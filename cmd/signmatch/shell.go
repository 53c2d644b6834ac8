package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"

	"github.com/Dzusmin/go-signmatch/internal/draw"
	"github.com/Dzusmin/go-signmatch/internal/session"
)

const shellHelp = `Commands:
	dataset DIR      load the reference images in DIR
	query FILE       load the query image
	match [OUT.png]  find the most similar image, optionally saving the overlay
	status           show what is loaded
	help             show this text
	quit             leave`

func shellCmd(args []string) int {
	fs := flag.NewFlagSet("shell", flag.ContinueOnError)
	var common commonFlags
	common.AddToSet(fs)
	if err := fs.Parse(args); err != nil {
		return 2
	}

	cfg, err := common.Load(fs)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}
	startProfiler(common.Profiler)

	s, err := setup(cfg, golog.NewDevelopmentLogger("signmatch"))
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}
	defer s.Close()

	if err := runShell(context.Background(), s, os.Stdin, os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	return 0
}

// runShell executes one command per input line until quit or end of input.
// Failed commands are reported on out and do not end the loop.
func runShell(ctx context.Context, s *session.Session, in io.Reader, out io.Writer) error {
	scanner := bufio.NewScanner(in)
	fmt.Fprint(out, "> ")
	for scanner.Scan() {
		cmd, arg, _ := strings.Cut(strings.TrimSpace(scanner.Text()), " ")
		arg = strings.TrimSpace(arg)

		switch cmd {
		case "":
		case "dataset":
			if arg == "" {
				fmt.Fprintln(out, "usage: dataset DIR")
				break
			}
			n, err := s.LoadDataset(arg)
			if err != nil {
				fmt.Fprintln(out, "Error:", err)
				break
			}
			fmt.Fprintf(out, "Loaded %d images.\n", n)
		case "query":
			if arg == "" {
				fmt.Fprintln(out, "usage: query FILE")
				break
			}
			if err := s.LoadQuery(arg); err != nil {
				fmt.Fprintln(out, "Error:", err)
				break
			}
			fmt.Fprintln(out, "Query loaded.")
		case "match":
			shellMatch(ctx, s, arg, out)
		case "status":
			dir, n, query := s.Status()
			fmt.Fprintf(out, "dataset: %q (%d images), query: %q\n", dir, n, query)
		case "help":
			fmt.Fprintln(out, shellHelp)
		case "quit", "exit":
			return nil
		default:
			fmt.Fprintf(out, "unknown command %q, try help\n", cmd)
		}
		fmt.Fprint(out, "> ")
	}
	return errors.Wrap(scanner.Err(), "reading commands")
}

func shellMatch(ctx context.Context, s *session.Session, overlay string, out io.Writer) {
	res, err := s.FindMatch(ctx)
	if errors.Is(err, session.ErrNotReady) {
		fmt.Fprintln(out, "Load both query image and dataset first!")
		return
	}
	if err != nil {
		fmt.Fprintln(out, "Error:", err)
		return
	}
	if res == nil {
		fmt.Fprintln(out, "No matching image found.")
		return
	}
	defer res.Close()
	fmt.Fprintf(out, "The most similar image is: %s (%d inliers)\n", res.ID, len(res.Inliers))

	if overlay == "" {
		return
	}
	query, _, _ := s.Query()
	best, ok := s.Image(res.ID)
	if !ok {
		return
	}
	img, err := draw.Matches(query, best.Mat, res)
	if err != nil {
		fmt.Fprintln(out, "Error:", err)
		return
	}
	defer img.Close()
	if err := draw.Save(overlay, img); err != nil {
		fmt.Fprintln(out, "Error:", err)
		return
	}
	fmt.Fprintf(out, "Overlay written to %s\n", overlay)
}
