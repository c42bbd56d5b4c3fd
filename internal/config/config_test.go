package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/deixis/calibrate/internal/params"
)

func writeConfig(t *testing.T, dir, body string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, FileName), []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestLoad_FromRoot(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, `version: 1
executable: ./bin/gaussian
runs_dir: work/runs
arity: 3
format: short
timeout: 10m
fit:
  initial: [4, 1.5, 0.2]
  lower: [0, 0.1, 0]
  upper: [10, 5, 1]
  target: [5, 1, 0.1]
  max_evaluations: 200
`)

	res, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	cfg := res.Config
	if res.Path != filepath.Join(dir, FileName) {
		t.Errorf("Path = %q", res.Path)
	}
	if cfg.Root != dir {
		t.Errorf("Root = %q, want %q", cfg.Root, dir)
	}
	if got := cfg.ExecutablePath(); got != filepath.Join(dir, "bin", "gaussian") {
		t.Errorf("ExecutablePath() = %q", got)
	}
	if got := cfg.RunsDir(); got != filepath.Join(dir, "work", "runs") {
		t.Errorf("RunsDir() = %q", got)
	}
	if cfg.Format() != params.Short {
		t.Errorf("Format() = %q, want short", cfg.Format())
	}
	if cfg.Timeout() != 10*time.Minute {
		t.Errorf("Timeout() = %v, want 10m", cfg.Timeout())
	}
	if len(cfg.Fit.Initial) != 3 || cfg.Fit.Initial[1] != 1.5 {
		t.Errorf("Fit.Initial = %v", cfg.Fit.Initial)
	}
	if cfg.Fit.MaxEvaluations != 200 {
		t.Errorf("Fit.MaxEvaluations = %d", cfg.Fit.MaxEvaluations)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestLoad_FromSubdirectory(t *testing.T) {
	root := t.TempDir()
	writeConfig(t, root, "version: 2\n")

	sub := filepath.Join(root, "a", "b")
	if err := os.MkdirAll(sub, 0o755); err != nil {
		t.Fatal(err)
	}

	res, err := Load(sub)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if res.Config.Root != root {
		t.Errorf("Root = %q, want %q", res.Config.Root, root)
	}
	if res.Config.Version != 2 {
		t.Errorf("Version = %d, want 2", res.Config.Version)
	}
}

func TestLoad_NoFile(t *testing.T) {
	dir := t.TempDir()

	res, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	cfg := res.Config
	if res.Path != "" {
		t.Errorf("Path = %q, want empty", res.Path)
	}
	if cfg.Arity() != DefaultArity {
		t.Errorf("Arity() = %d, want %d", cfg.Arity(), DefaultArity)
	}
	if cfg.Format() != params.Exact {
		t.Errorf("Format() = %q, want exact", cfg.Format())
	}
	if cfg.Timeout() != DefaultTimeout {
		t.Errorf("Timeout() = %v", cfg.Timeout())
	}
	if cfg.RunsDir() != filepath.Join(dir, DefaultRunsDir) {
		t.Errorf("RunsDir() = %q", cfg.RunsDir())
	}
	if cfg.Workers() < 1 {
		t.Errorf("Workers() = %d", cfg.Workers())
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "executable: /opt/code\narity: 3\ntimeout: 1m\n")
	t.Setenv("CALIBRATE_EXECUTABLE", "/usr/local/bin/other")
	t.Setenv("CALIBRATE_ARITY", "4")
	t.Setenv("CALIBRATE_TIMEOUT", "0")
	t.Setenv("CALIBRATE_WORKERS", "3")

	res, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	cfg := res.Config
	if cfg.Executable != "/usr/local/bin/other" {
		t.Errorf("Executable = %q", cfg.Executable)
	}
	if cfg.Arity() != 4 {
		t.Errorf("Arity() = %d, want 4", cfg.Arity())
	}
	if cfg.Timeout() != 0 {
		t.Errorf("Timeout() = %v, want 0", cfg.Timeout())
	}
	if cfg.Workers() != 3 {
		t.Errorf("Workers() = %d, want 3", cfg.Workers())
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "arity: [\n")
	if _, err := Load(dir); err == nil {
		t.Fatal("expected error for invalid YAML")
	}
}

func TestExecutablePath_BareName(t *testing.T) {
	cfg := &Config{Executable: "gaussian", Root: "/project"}
	if got := cfg.ExecutablePath(); got != "gaussian" {
		t.Errorf("ExecutablePath() = %q, want bare name for PATH lookup", got)
	}
}

func TestValidate(t *testing.T) {
	cfg := &Config{
		RawFormat:  "hex",
		RawTimeout: "soon",
		Fit: FitConfig{
			Initial: []float64{1, 2},
			Lower:   []float64{0, 0, 0},
			Scan:    -1,
		},
	}
	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation errors")
	}
	for _, want := range []string{"hex", "soon", "fit.initial", "set together", "fit.scan"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %q", err, want)
		}
	}
}
