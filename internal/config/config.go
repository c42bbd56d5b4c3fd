// Package config loads and validates the optional .calibrate YAML file and
// applies CALIBRATE_* environment overrides.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/deixis/calibrate/internal/params"
	"gopkg.in/yaml.v3"
)

// FileName is the name of the configuration file.
const FileName = ".calibrate"

// Default values.
const (
	DefaultRunsDir   = "runs"
	DefaultArity     = 3
	DefaultTimeout   = 5 * time.Minute
	DefaultMaxOutput = 1 << 20 // 1 MB
	DefaultLRUSize   = 256
)

// Config holds the parsed configuration.
// All fields are optional; zero values represent defaults.
type Config struct {
	Version      int       `yaml:"version"`
	Executable   string    `yaml:"executable"  env:"CALIBRATE_EXECUTABLE"`
	RawRunsDir   string    `yaml:"runs_dir"    env:"CALIBRATE_RUNS_DIR"`
	InputFile    string    `yaml:"input_file"`
	OutputFile   string    `yaml:"output_file"`
	RawArity     int       `yaml:"arity"       env:"CALIBRATE_ARITY"`
	RawFormat    string    `yaml:"format"      env:"CALIBRATE_FORMAT"`  // "short" or "exact"
	RawTimeout   string    `yaml:"timeout"     env:"CALIBRATE_TIMEOUT"` // e.g. "5m", "30s"; "0" disables
	RawMaxOutput int       `yaml:"max_output"`                          // bytes
	RawWorkers   int       `yaml:"workers"     env:"CALIBRATE_WORKERS"`
	RawLRUSize   int       `yaml:"lru_size"`
	LogLevel     string    `yaml:"log_level"   env:"CALIBRATE_LOG_LEVEL"`
	Fit          FitConfig `yaml:"fit"`

	// Root is the directory relative paths are resolved against.
	Root string `yaml:"-"`
}

// FitConfig controls the fit command.
type FitConfig struct {
	Initial        []float64 `yaml:"initial"`
	Lower          []float64 `yaml:"lower"`
	Upper          []float64 `yaml:"upper"`
	Target         []float64 `yaml:"target"`      // parameters producing the target curve
	TargetFile     string    `yaml:"target_file"` // or a curve file
	MaxEvaluations int       `yaml:"max_evaluations"`
	Tolerance      float64   `yaml:"tolerance"`
	SimplexSize    float64   `yaml:"simplex_size"`
	Scan           int       `yaml:"scan"` // grid points per dimension for the starting scan
}

// Arity returns the configured parameter count or the default.
func (c *Config) Arity() int {
	if c.RawArity > 0 {
		return c.RawArity
	}
	return DefaultArity
}

// Format returns the configured number format, falling back to exact.
func (c *Config) Format() params.Format {
	f, err := params.ParseFormat(c.RawFormat)
	if err != nil {
		return params.Exact
	}
	return f
}

// Timeout returns the configured per-run timeout or the default.
// A zero duration disables the timeout.
func (c *Config) Timeout() time.Duration {
	if c.RawTimeout != "" {
		d, err := time.ParseDuration(c.RawTimeout)
		if err == nil && d >= 0 {
			return d
		}
	}
	return DefaultTimeout
}

// MaxOutputBytes returns the configured max output size or the default.
func (c *Config) MaxOutputBytes() int {
	if c.RawMaxOutput > 0 {
		return c.RawMaxOutput
	}
	return DefaultMaxOutput
}

// Workers returns the configured scan concurrency, defaulting to the CPU count.
func (c *Config) Workers() int {
	if c.RawWorkers > 0 {
		return c.RawWorkers
	}
	return runtime.NumCPU()
}

// LRUSize returns the number of runs kept in memory.
func (c *Config) LRUSize() int {
	if c.RawLRUSize > 0 {
		return c.RawLRUSize
	}
	return DefaultLRUSize
}

// RunsDir returns the runs directory, resolved against Root.
func (c *Config) RunsDir() string {
	dir := c.RawRunsDir
	if dir == "" {
		dir = DefaultRunsDir
	}
	return c.Resolve(dir)
}

// ExecutablePath returns the executable resolved against Root. Bare names
// are left for PATH lookup.
func (c *Config) ExecutablePath() string {
	if c.Executable == "" || filepath.Base(c.Executable) == c.Executable {
		return c.Executable
	}
	return c.Resolve(c.Executable)
}

// Resolve makes path absolute relative to Root.
func (c *Config) Resolve(path string) string {
	if path == "" || filepath.IsAbs(path) || c.Root == "" {
		return path
	}
	return filepath.Join(c.Root, path)
}

// Validate checks the configuration for inconsistencies.
func (c *Config) Validate() error {
	var errs []error
	if c.RawArity < 0 {
		errs = append(errs, fmt.Errorf("arity must be positive, got %d", c.RawArity))
	}
	if _, err := params.ParseFormat(c.RawFormat); err != nil {
		errs = append(errs, err)
	}
	if c.RawTimeout != "" {
		if d, err := time.ParseDuration(c.RawTimeout); err != nil || d < 0 {
			errs = append(errs, fmt.Errorf("invalid timeout %q", c.RawTimeout))
		}
	}
	arity := c.Arity()
	check := func(name string, v []float64) {
		if len(v) > 0 && len(v) != arity {
			errs = append(errs, fmt.Errorf("fit.%s has %d values, want %d", name, len(v), arity))
		}
	}
	check("initial", c.Fit.Initial)
	check("lower", c.Fit.Lower)
	check("upper", c.Fit.Upper)
	check("target", c.Fit.Target)
	if c.Fit.Scan < 0 {
		errs = append(errs, fmt.Errorf("fit.scan must not be negative, got %d", c.Fit.Scan))
	}
	if (len(c.Fit.Lower) == 0) != (len(c.Fit.Upper) == 0) {
		errs = append(errs, errors.New("fit.lower and fit.upper must be set together"))
	}
	return errors.Join(errs...)
}

// LoadResult holds the parsed config and where it came from.
type LoadResult struct {
	Config *Config
	Path   string // empty if no file was found
}

// Load finds the nearest .calibrate file by walking upward from workspace,
// parses it and applies environment overrides. Without a file, a default
// Config rooted at workspace is returned.
func Load(workspace string) (*LoadResult, error) {
	workspace, err := filepath.Abs(workspace)
	if err != nil {
		return nil, err
	}

	cfg := &Config{Root: workspace}
	path, err := find(workspace)
	switch {
	case err == nil:
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", FileName, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", FileName, err)
		}
		cfg.Root = filepath.Dir(path)
	case errors.Is(err, fs.ErrNotExist):
		path = ""
	default:
		return nil, err
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("reading environment: %w", err)
	}
	return &LoadResult{Config: cfg, Path: path}, nil
}

// find walks upward from dir looking for FileName.
func find(dir string) (string, error) {
	for {
		path := filepath.Join(dir, FileName)
		info, err := os.Stat(path)
		if err == nil && !info.IsDir() {
			return path, nil
		}
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("checking %s: %w", path, err)
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fs.ErrNotExist
		}
		dir = parent
	}
}
