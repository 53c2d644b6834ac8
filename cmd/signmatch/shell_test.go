package main

import (
	"bytes"
	"context"
	"flag"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/edaniels/golog"

	"github.com/Dzusmin/go-signmatch/internal/config"
	"github.com/Dzusmin/go-signmatch/internal/match"
	"github.com/Dzusmin/go-signmatch/internal/testimg"
	"github.com/Dzusmin/go-signmatch/internal/verify"
)

func savePNG(t *testing.T, path string, img image.Image) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		t.Fatal(err)
	}
}

func TestRunShell(t *testing.T) {
	query := testimg.Textured(41, 280, 210)
	dir := t.TempDir()
	savePNG(t, filepath.Join(dir, "a.png"), testimg.Textured(42, 280, 210))
	savePNG(t, filepath.Join(dir, "b.png"), testimg.Rescale(query, 0.85))
	queryPath := filepath.Join(t.TempDir(), "query.png")
	savePNG(t, queryPath, query)
	overlay := filepath.Join(t.TempDir(), "overlay.png")

	s, err := setup(config.Default(), golog.NewTestLogger(t))
	if err != nil {
		t.Fatalf("setup: %v", err)
	}
	defer s.Close()

	in := strings.Join([]string{
		"match",
		"dataset " + dir,
		"bogus",
		"query " + queryPath,
		"status",
		"match " + overlay,
		"quit",
		"match",
	}, "\n")
	var out bytes.Buffer
	if err := runShell(context.Background(), s, strings.NewReader(in), &out); err != nil {
		t.Fatalf("runShell: %v", err)
	}

	got := out.String()
	for _, want := range []string{
		"Load both query image and dataset first!",
		"Loaded 2 images.",
		`unknown command "bogus"`,
		"Query loaded.",
		"(2 images)",
		"The most similar image is: b.png",
		"Overlay written to " + overlay,
	} {
		if !strings.Contains(got, want) {
			t.Errorf("output lacks %q:\n%s", want, got)
		}
	}
	if strings.Count(got, "The most similar image is") != 1 {
		t.Errorf("commands after quit were run:\n%s", got)
	}
	if _, err := os.Stat(overlay); err != nil {
		t.Errorf("overlay not written: %v", err)
	}
}

func TestRunShellReportsErrors(t *testing.T) {
	s, err := setup(config.Default(), nil)
	if err != nil {
		t.Fatalf("setup: %v", err)
	}
	defer s.Close()

	in := "dataset\nquery " + filepath.Join(t.TempDir(), "none.png") + "\ndataset " + filepath.Join(t.TempDir(), "none") + "\n"
	var out bytes.Buffer
	if err := runShell(context.Background(), s, strings.NewReader(in), &out); err != nil {
		t.Fatalf("runShell: %v", err)
	}
	got := out.String()
	if !strings.Contains(got, "usage: dataset DIR") || strings.Count(got, "Error:") != 2 {
		t.Fatalf("unexpected output:\n%s", got)
	}
}

func TestCommonFlagsOverrideConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "signmatch.yaml")
	if err := os.WriteFile(path, []byte("matcher: flann\nworkers: 2\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	var f commonFlags
	f.AddToSet(fs)
	if err := fs.Parse([]string{"-config", path, "-verifier", "native", "-workers", "6"}); err != nil {
		t.Fatalf("Parse: %v", err)
	}
	cfg, err := f.Load(fs)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Matcher != match.FLANN || cfg.Verifier != verify.Native || cfg.Workers != 6 {
		t.Fatalf("got %+v", cfg)
	}
	// Flags left unset keep the file and default values.
	if cfg.Scale != 1 {
		t.Fatalf("scale %v, want 1", cfg.Scale)
	}

	fs = flag.NewFlagSet("test", flag.ContinueOnError)
	f = commonFlags{}
	f.AddToSet(fs)
	if err := fs.Parse([]string{"-matcher", "kdtree"}); err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if _, err := f.Load(fs); err == nil {
		t.Fatalf("expected an error for an unknown matcher")
	}
}
