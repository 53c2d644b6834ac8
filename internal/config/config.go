// Package config reads the signmatch YAML configuration.
//
// Every field is optional; a missing field keeps its default. Example:
//
//	matcher: bf
//	verifier: native
//	ransac_threshold: 5
//	workers: 4
//	extensions: [bmp, webp]
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"

	"github.com/Dzusmin/go-signmatch/internal/geom"
	"github.com/Dzusmin/go-signmatch/internal/match"
	"github.com/Dzusmin/go-signmatch/internal/rank"
	"github.com/Dzusmin/go-signmatch/internal/verify"
)

const (
	// ErrCodeNotFound means the configuration file does not exist.
	ErrCodeNotFound = "config_not_found"
	// ErrCodeInvalid means the file could not be read or parsed, or a field
	// is out of range.
	ErrCodeInvalid = "config_invalid"
)

// Config is the file format.
type Config struct {
	Matcher          match.Kind  `yaml:"matcher"`
	Ratio            float64     `yaml:"ratio"`
	Verifier         verify.Kind `yaml:"verifier"`
	RANSACThreshold  float64     `yaml:"ransac_threshold"`
	RANSACMaxIters   int         `yaml:"ransac_max_iters"`
	RANSACConfidence float64     `yaml:"ransac_confidence"`
	RANSACSeed       int64       `yaml:"ransac_seed"`
	Scale            float64     `yaml:"scale"`
	Workers          int         `yaml:"workers"`
	// Extensions are accepted in addition to png, jpg and jpeg.
	Extensions []string `yaml:"extensions"`
}

// Default returns the built in configuration.
func Default() Config {
	return Config{
		Matcher:          match.BruteForce,
		Ratio:            match.DefaultRatio,
		Verifier:         verify.OpenCV,
		RANSACThreshold:  geom.DefaultThreshold,
		RANSACMaxIters:   geom.DefaultMaxIters,
		RANSACConfidence: geom.DefaultConfidence,
		Scale:            1,
		Workers:          1,
	}
}

// Error is a configuration failure with a stable code.
type Error struct {
	Code string
	Path string
	Err  error
}

func (e *Error) Error() string {
	switch e.Code {
	case ErrCodeNotFound:
		return fmt.Sprintf("%s: no configuration file at %q", e.Code, e.Path)
	case ErrCodeInvalid:
		if e.Err != nil {
			return fmt.Sprintf("%s: configuration %q is invalid: %v", e.Code, e.Path, e.Err)
		}
		return fmt.Sprintf("%s: configuration %q is invalid", e.Code, e.Path)
	default:
		if e.Err != nil {
			return fmt.Sprintf("%s: %v", e.Code, e.Err)
		}
		return e.Code
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Code extracts the code of a configuration error, or "" for other errors.
func Code(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// Load reads path over the defaults and validates the result. An empty path
// returns the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return Config{}, &Error{Code: ErrCodeNotFound, Path: path, Err: err}
	}
	if err != nil {
		return Config{}, &Error{Code: ErrCodeInvalid, Path: path, Err: err}
	}
	if err := yaml.UnmarshalStrict(data, &cfg); err != nil {
		return Config{}, &Error{Code: ErrCodeInvalid, Path: path, Err: err}
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, &Error{Code: ErrCodeInvalid, Path: path, Err: err}
	}
	return cfg, nil
}

// Validate normalizes c in place and rejects values no pipeline can use.
// Workers are clamped to [1, rank.MaxWorkers].
func (c *Config) Validate() error {
	c.Matcher = match.Kind(strings.ToLower(string(c.Matcher)))
	switch c.Matcher {
	case match.BruteForce, match.FLANN:
	default:
		return errors.Errorf("unknown matcher %q", c.Matcher)
	}
	c.Verifier = verify.Kind(strings.ToLower(string(c.Verifier)))
	switch c.Verifier {
	case verify.OpenCV, verify.Native:
	default:
		return errors.Errorf("unknown verifier %q", c.Verifier)
	}

	if c.Ratio <= 0 || c.Ratio > 1 {
		return errors.Errorf("ratio %v outside (0, 1]", c.Ratio)
	}
	if c.RANSACThreshold <= 0 {
		return errors.Errorf("ransac_threshold %v must be positive", c.RANSACThreshold)
	}
	if c.RANSACMaxIters <= 0 {
		return errors.Errorf("ransac_max_iters %d must be positive", c.RANSACMaxIters)
	}
	if c.RANSACConfidence <= 0 || c.RANSACConfidence >= 1 {
		return errors.Errorf("ransac_confidence %v outside (0, 1)", c.RANSACConfidence)
	}
	if c.Scale <= 0 {
		return errors.Errorf("scale %v must be positive", c.Scale)
	}

	if c.Workers < 1 {
		c.Workers = 1
	}
	if c.Workers > rank.MaxWorkers {
		c.Workers = rank.MaxWorkers
	}
	return nil
}

// RankOptions converts c for rank.New.
func (c Config) RankOptions() rank.Options {
	return rank.Options{
		Matcher:  c.Matcher,
		Ratio:    c.Ratio,
		Verifier: c.Verifier,
		Verify: verify.Options{
			Threshold:  c.RANSACThreshold,
			MaxIters:   c.RANSACMaxIters,
			Confidence: c.RANSACConfidence,
			Seed:       c.RANSACSeed,
		},
		Scale:   c.Scale,
		Workers: c.Workers,
	}
}
