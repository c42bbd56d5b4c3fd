package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/deixis/calibrate"
	"github.com/deixis/calibrate/internal/runcache"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const gaussianScript = `#!/bin/sh
awk 'NR==1{m=$1} NR==2{s=$1} NR==3{a=$1}
END {
	if (s <= 0) { print "error: sigma cannot be <= 0"; exit 1 }
	for (i = 0; i < 100; i++) {
		x = -10 + i*0.2
		printf "%g %.17g\n", x, a*exp(-(m-x)*(m-x)/(2*s*s)) > "output.txt"
	}
}' "$1"
`

// project writes a .calibrate file and a Gaussian model into a temp dir.
func project(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "model.sh"), []byte(gaussianScript), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".calibrate"), []byte(`executable: ./model.sh
format: short
fit:
  initial: [4.5, 1.3, 0.12]
  lower: [0, 0.1, 0]
  upper: [10, 5, 1]
  target: [5, 1, 0.1]
`), 0o644))
	return dir
}

func run(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	cmd := (&app{}).rootCmd()
	cmd.SetArgs(args)
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	err := cmd.ExecuteContext(context.Background())
	return stdout.String(), stderr.String(), err
}

func TestVersion(t *testing.T) {
	out, _, err := run(t, "-C", t.TempDir(), "version")
	require.NoError(t, err)
	assert.Equal(t, calibrate.Version+"\n", out)
}

func TestEval(t *testing.T) {
	dir := project(t)

	out, _, err := run(t, "-C", dir, "--log-level", "error", "eval", "5", "1", "0.1")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 101)
	assert.Equal(t, "run_1d1aeb80d52dd5d3e48ac1715baa1e9d fresh", lines[0])
	assert.Equal(t, "5 0.1", lines[76])

	out, _, err = run(t, "-C", dir, "eval", "--json", "5", "1", "0.1")
	require.NoError(t, err)
	var o runcache.Outcome
	require.NoError(t, json.Unmarshal([]byte(out), &o))
	assert.Equal(t, runcache.Cached, o.Status)
	assert.Len(t, o.Points, 100)
}

func TestEval_NoResult(t *testing.T) {
	dir := project(t)
	out, stderr, err := run(t, "-C", dir, "--log-level", "error", "eval", "5", "0", "0.1")
	assert.ErrorIs(t, err, errSilent)
	assert.Contains(t, out, "no-result")
	assert.Contains(t, stderr, "exit status 1")
}

func TestEval_WrongArity(t *testing.T) {
	dir := project(t)
	_, _, err := run(t, "-C", dir, "eval", "5", "1")
	assert.ErrorContains(t, err, "has to be 3, got 2")
	assert.NoDirExists(t, filepath.Join(dir, "runs"))
}

func TestEval_NoExecutable(t *testing.T) {
	t.Setenv("CALIBRATE_EXECUTABLE", "")
	_, _, err := run(t, "-C", t.TempDir(), "eval", "1", "2", "3")
	assert.ErrorContains(t, err, "no executable configured")
}

func TestRuns(t *testing.T) {
	dir := project(t)

	out, stderr, err := run(t, "-C", dir, "runs")
	require.NoError(t, err)
	assert.Empty(t, out)
	assert.Contains(t, stderr, "no runs")

	_, _, err = run(t, "-C", dir, "--log-level", "error", "eval", "5", "1", "0.1")
	require.NoError(t, err)

	out, _, err = run(t, "-C", dir, "runs")
	require.NoError(t, err)
	assert.Contains(t, out, "run_1d1aeb80d52dd5d3e48ac1715baa1e9d")
	assert.Contains(t, out, "5 1 0.1")

	out, _, err = run(t, "-C", dir, "runs", "show", "1d1aeb80d52dd5d3e48ac1715baa1e9d")
	require.NoError(t, err)
	assert.Contains(t, out, "# params: 5 1 0.1")
	assert.Contains(t, out, "\n5 0.1\n")

	_, _, err = run(t, "-C", dir, "runs", "show", "run_00000000000000000000000000000000")
	assert.Error(t, err)
}

func TestFit(t *testing.T) {
	if testing.Short() {
		t.Skip("runs the model many times")
	}
	dir := project(t)
	out, _, err := run(t, "-C", dir, "--log-level", "error", "fit", "--json", "--max-evals", "2000")
	require.NoError(t, err)

	var rep struct {
		X     []float64      `json:"x"`
		Cost  float64        `json:"cost"`
		Cache runcache.Stats `json:"cache"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &rep))
	require.Len(t, rep.X, 3)
	assert.InDelta(t, 5, rep.X[0], 1e-2)
	assert.InDelta(t, 1, rep.X[1], 1e-2)
	assert.InDelta(t, 0.1, rep.X[2], 1e-3)
	assert.Less(t, rep.Cache.Executions, rep.Cache.Evaluations)
}

func TestInvalidConfig(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".calibrate"), []byte("format: hex\n"), 0o644))
	_, _, err := run(t, "-C", dir, "runs")
	assert.ErrorContains(t, err, "invalid config")
}
