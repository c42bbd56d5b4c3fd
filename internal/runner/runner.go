// Package runner executes external programs inside a directory tree with
// timeouts and output size limits. The directory is handed to the child
// process; the calling process never changes its own working directory.
package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
)

// Runner executes commands within a root directory.
type Runner struct {
	Root      string
	Timeout   time.Duration // zero means no timeout
	MaxOutput int           // bytes per stream
	Logger    *log.Logger   // optional
}

// Run executes argv with dir as its working directory. The first element of
// argv is the program, resolved via PATH when it is not a path.
// dir is resolved relative to the root and must remain within it.
//
// A process that starts and exits, with any status, yields a Result.
// Failing to start the program, or cancellation of ctx, yields an error.
func (r *Runner) Run(ctx context.Context, argv []string, dir string) (*Result, error) {
	if len(argv) == 0 {
		return nil, fmt.Errorf("empty argv")
	}

	wd, err := r.resolveDir(dir)
	if err != nil {
		return nil, err
	}

	runCtx := ctx
	if r.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}

	runID := uuid.New().String()

	cmd := exec.CommandContext(runCtx, argv[0], argv[1:]...)
	cmd.Dir = wd
	cmd.WaitDelay = waitDelay

	maxOutput := r.MaxOutput
	if maxOutput <= 0 {
		maxOutput = 1 << 20
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &limitWriter{buf: &stdout, limit: maxOutput}
	cmd.Stderr = &limitWriter{buf: &stderr, limit: maxOutput}

	r.logger().Debug("starting process", "run", runID, "argv", argv, "dir", wd)
	start := time.Now()
	runErr := cmd.Run()
	elapsed := time.Since(start)

	if ctx.Err() != nil {
		return nil, fmt.Errorf("running %s: %w", argv[0], ctx.Err())
	}

	res := &Result{
		RunID:     runID,
		Dir:       wd,
		Stdout:    stdout.Bytes(),
		Stderr:    stderr.Bytes(),
		Truncated: stdout.Len() >= maxOutput || stderr.Len() >= maxOutput,
		Elapsed:   elapsed,
	}

	if runErr != nil {
		var exitErr *exec.ExitError
		switch {
		case errors.Is(runCtx.Err(), context.DeadlineExceeded):
			res.TimedOut = true
			res.ExitCode = -1
		case errors.As(runErr, &exitErr):
			res.ExitCode = exitErr.ExitCode()
		default:
			// Binary not found or other exec error.
			return nil, fmt.Errorf("executing %s: %w", argv[0], runErr)
		}
	}

	r.logger().Debug("process finished", "run", runID, "exit", res.ExitCode, "elapsed", elapsed, "timed_out", res.TimedOut)
	return res, nil
}

// waitDelay bounds how long Wait blocks on output pipes after the process
// was killed.
const waitDelay = 2 * time.Second

func (r *Runner) logger() *log.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return discard
}

// resolveDir resolves dir relative to the root and validates it
// is within the root.
func (r *Runner) resolveDir(dir string) (string, error) {
	if dir == "" {
		return r.Root, nil
	}

	var wd string
	if filepath.IsAbs(dir) {
		wd = filepath.Clean(dir)
	} else {
		wd = filepath.Clean(filepath.Join(r.Root, dir))
	}

	rel, err := filepath.Rel(r.Root, wd)
	if err != nil {
		return "", fmt.Errorf("resolving dir: %w", err)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("dir %q is outside root %q", dir, r.Root)
	}
	return wd, nil
}

// limitWriter writes up to limit bytes to buf, then silently discards the rest.
type limitWriter struct {
	buf   *bytes.Buffer
	limit int
}

func (w *limitWriter) Write(p []byte) (int, error) {
	remaining := w.limit - w.buf.Len()
	if remaining <= 0 {
		return len(p), nil // discard
	}
	if len(p) > remaining {
		// Report all bytes as consumed to avoid short write errors from io.Copy.
		w.buf.Write(p[:remaining])
		return len(p), nil
	}
	return w.buf.Write(p)
}
