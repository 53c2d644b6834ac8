package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/Dzusmin/go-signmatch/internal/match"
	"github.com/Dzusmin/go-signmatch/internal/verify"
)

func writeFile(t *testing.T, path string, data []byte) {
	t.Helper()
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestDefault(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Ratio != 0.5 || cfg.RANSACThreshold != 5.0 {
		t.Fatalf("ratio %v threshold %v", cfg.Ratio, cfg.RANSACThreshold)
	}
	if cfg.Matcher != match.BruteForce || cfg.Verifier != verify.OpenCV || cfg.Workers != 1 {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
	if match.MinDescriptors != 2 || verify.MinCandidates != 4 {
		t.Fatalf("minimum counts changed: %d, %d", match.MinDescriptors, verify.MinCandidates)
	}
}

func TestLoad_Overrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "signmatch.yaml")
	writeFile(t, path, []byte("matcher: FLANN\nverifier: native\nransac_seed: 9\nworkers: 64\nextensions: [bmp]\n"))

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Matcher != match.FLANN || cfg.Verifier != verify.Native {
		t.Fatalf("backends %q %q", cfg.Matcher, cfg.Verifier)
	}
	if cfg.Workers != 32 {
		t.Fatalf("workers %d, want clamped to 32", cfg.Workers)
	}
	if cfg.Ratio != 0.5 {
		t.Fatalf("unset ratio changed to %v", cfg.Ratio)
	}
	if len(cfg.Extensions) != 1 || cfg.Extensions[0] != "bmp" {
		t.Fatalf("extensions %v", cfg.Extensions)
	}

	opts := cfg.RankOptions()
	if opts.Verify.Seed != 9 || opts.Verify.Threshold != 5.0 || opts.Workers != 32 {
		t.Fatalf("rank options %+v", opts)
	}
}

func TestLoad_NotFound(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if Code(err) != ErrCodeNotFound {
		t.Fatalf("got err=%v (code=%q), want %q", err, Code(err), ErrCodeNotFound)
	}
}

func TestLoad_Invalid(t *testing.T) {
	cases := map[string]string{
		"syntax":        "matcher: [",
		"unknown field": "threshold: 3\n",
		"matcher":       "matcher: lsh\n",
		"verifier":      "verifier: magsac\n",
		"ratio":         "ratio: 1.5\n",
		"threshold":     "ransac_threshold: -1\n",
		"iterations":    "ransac_max_iters: -5\n",
		"confidence":    "ransac_confidence: 1\n",
		"scale":         "scale: -2\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "signmatch.yaml")
			writeFile(t, path, []byte(body))
			_, err := Load(path)
			if Code(err) != ErrCodeInvalid {
				t.Fatalf("got err=%v (code=%q), want %q", err, Code(err), ErrCodeInvalid)
			}
		})
	}
}

func TestValidate_ClampsWorkers(t *testing.T) {
	cfg := Default()
	cfg.Workers = -3
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if cfg.Workers != 1 {
		t.Fatalf("workers %d, want 1", cfg.Workers)
	}
}
