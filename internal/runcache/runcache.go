// Package runcache memoizes runs of an external executable by the content
// hash of their input file.
//
// Each evaluation serializes a parameter vector, derives its run identity
// and either reads the committed run directory for that identity or runs
// the executable in a private staging directory and commits it with an
// atomic rename. Failed runs are never committed, so a later evaluation of
// the same vector runs the executable again.
package runcache

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/deixis/calibrate/internal/curve"
	"github.com/deixis/calibrate/internal/params"
	"github.com/deixis/calibrate/internal/runner"
	"github.com/deixis/calibrate/internal/store"
	"golang.org/x/sync/singleflight"
)

// CommandRunner executes a command in a directory.
// Implemented by runner.Runner.
type CommandRunner interface {
	Run(ctx context.Context, argv []string, dir string) (*runner.Result, error)
}

// Status describes how an evaluation was satisfied.
type Status string

const (
	// Fresh means the executable ran and its output was committed.
	Fresh Status = "fresh"
	// Cached means a committed run was reused without running anything.
	Cached Status = "cached"
	// NoResult means no output is available for the vector.
	NoResult Status = "no-result"
)

// Outcome is the result of one evaluation.
type Outcome struct {
	Identity params.Identity `json:"identity"`
	Params   params.Vector   `json:"params"`
	Status   Status          `json:"status"`
	Points   curve.Curve     `json:"points,omitempty"`
	Reason   string          `json:"reason,omitempty"` // why there is no result
	RunID    string          `json:"run_id,omitempty"` // attempt ID of a process run
	Elapsed  time.Duration   `json:"elapsed,omitempty"`
}

// OK reports whether points are available.
func (o *Outcome) OK() bool {
	return o.Status != NoResult
}

// Stats counts evaluations since the cache was created.
type Stats struct {
	Evaluations int64 `json:"evaluations"`
	Hits        int64 `json:"hits"`
	Executions  int64 `json:"executions"`
	Failures    int64 `json:"failures"`
}

// Cache evaluates parameter vectors through the executable, at most once per
// run identity. A Cache is safe for concurrent use.
type Cache struct {
	Executable string
	Arity      int
	Format     params.Format
	Runner     CommandRunner
	Disk       *store.DiskStore
	Memory     *store.LRUStore
	Logger     *log.Logger

	group   singleflight.Group
	mu      sync.Mutex
	flights map[params.Identity]*flight

	evaluations atomic.Int64
	hits        atomic.Int64
	executions  atomic.Int64
	failures    atomic.Int64
}

// Options configures New.
type Options struct {
	Executable string
	Arity      int
	Format     params.Format
	RunsDir    string
	InputFile  string
	OutputFile string
	Timeout    time.Duration
	MaxOutput  int
	LRUSize    int
	Logger     *log.Logger
}

// New builds a Cache rooted at opts.RunsDir. A relative executable path is
// made absolute so it does not resolve against the run directory.
func New(opts Options) (*Cache, error) {
	if opts.Executable == "" {
		return nil, errors.New("no executable configured")
	}
	if opts.Arity < 1 {
		return nil, fmt.Errorf("invalid arity %d", opts.Arity)
	}
	root, err := filepath.Abs(opts.RunsDir)
	if err != nil {
		return nil, fmt.Errorf("resolving runs directory: %w", err)
	}
	exe := opts.Executable
	if strings.ContainsRune(exe, filepath.Separator) && !filepath.IsAbs(exe) {
		if exe, err = filepath.Abs(exe); err != nil {
			return nil, fmt.Errorf("resolving executable: %w", err)
		}
	}
	format := opts.Format
	if format == "" {
		format = params.Exact
	}
	lruSize := opts.LRUSize
	if lruSize <= 0 {
		lruSize = 256
	}

	disk := &store.DiskStore{Root: root, InputFile: opts.InputFile, OutputFile: opts.OutputFile}
	return &Cache{
		Executable: exe,
		Arity:      opts.Arity,
		Format:     format,
		Runner: &runner.Runner{
			Root:      root,
			Timeout:   opts.Timeout,
			MaxOutput: opts.MaxOutput,
			Logger:    opts.Logger,
		},
		Disk:   disk,
		Memory: store.NewLRUStore(lruSize, disk),
		Logger: opts.Logger,
	}, nil
}

// Identify validates v and returns its serialized input and run identity
// without touching the filesystem.
func (c *Cache) Identify(v params.Vector) ([]byte, params.Identity, error) {
	if err := params.Check(v, c.Arity); err != nil {
		return nil, "", err
	}
	input := params.Encode(v, c.Format)
	return input, params.IdentityOf(input), nil
}

// Evaluate returns the output of the executable for v.
//
// Configuration errors (wrong arity) are returned before any file is written
// or process started. A failed run is reported as an Outcome with status
// NoResult, not as an error. Errors are returned for faults of the
// environment: the executable cannot be started, the runs directory cannot be
// written, a run wrote a malformed output file, or ctx was cancelled.
//
// Concurrent callers evaluating the same vector share one execution. It runs
// until it finishes or every caller waiting on it has returned.
func (c *Cache) Evaluate(ctx context.Context, v params.Vector) (*Outcome, error) {
	input, id, err := c.Identify(v)
	if err != nil {
		return nil, err
	}
	c.evaluations.Add(1)

	if out, err := c.lookup(id, v); out != nil || err != nil {
		return out, err
	}

	for {
		f := c.join(ctx, id)
		ch := c.group.DoChan(string(id), func() (any, error) {
			// Another flight may have committed while we waited.
			if out, err := c.lookup(id, v); out != nil || err != nil {
				return out, err
			}
			return c.execute(f.ctx, id, v, input)
		})

		var res singleflight.Result
		select {
		case res = <-ch:
			c.leave(id, f)
		case <-ctx.Done():
			c.leave(id, f)
			return nil, fmt.Errorf("evaluating %s: %w", id, ctx.Err())
		}

		if res.Err != nil {
			// Joined a flight abandoned by all of its other callers.
			if errors.Is(res.Err, context.Canceled) && ctx.Err() == nil {
				continue
			}
			return nil, res.Err
		}
		out := res.Val.(*Outcome)
		if res.Shared {
			// Callers own their Outcome.
			cp := *out
			cp.Params = v.Clone()
			return &cp, nil
		}
		return out, nil
	}
}

// flight is the context of one shared execution. It is cancelled once every
// caller waiting on it has returned.
type flight struct {
	ctx     context.Context
	cancel  context.CancelFunc
	waiters int
}

// join registers the caller as a waiter on the flight for id. The flight's
// context keeps the values of ctx but not its cancellation.
func (c *Cache) join(ctx context.Context, id params.Identity) *flight {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.flights == nil {
		c.flights = make(map[params.Identity]*flight)
	}
	f := c.flights[id]
	if f == nil {
		fctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		f = &flight{ctx: fctx, cancel: cancel}
		c.flights[id] = f
	}
	f.waiters++
	return f
}

func (c *Cache) leave(id params.Identity, f *flight) {
	c.mu.Lock()
	defer c.mu.Unlock()
	f.waiters--
	if f.waiters == 0 {
		f.cancel()
		if c.flights[id] == f {
			delete(c.flights, id)
		}
	}
}

// Stats returns a snapshot of the evaluation counters.
func (c *Cache) Stats() Stats {
	return Stats{
		Evaluations: c.evaluations.Load(),
		Hits:        c.hits.Load(),
		Executions:  c.executions.Load(),
		Failures:    c.failures.Load(),
	}
}

// Inspect loads a committed run by identity.
func (c *Cache) Inspect(id params.Identity) (*store.Run, error) {
	return c.Memory.Load(id)
}

// lookup returns a non-nil Outcome when id is already committed, and
// (nil, nil) when the executable has to run. A run directory without an
// output file is run again and replaced on success.
func (c *Cache) lookup(id params.Identity, v params.Vector) (*Outcome, error) {
	run, err := c.Memory.Load(id)
	switch {
	case err == nil:
		c.hits.Add(1)
		c.logger().Debug("run already exists, skipping execution", "id", id)
		return &Outcome{Identity: id, Params: v.Clone(), Status: Cached, Points: run.Points}, nil
	case errors.Is(err, store.ErrNotFound):
		return nil, nil
	case errors.Is(err, store.ErrNoOutput):
		c.logger().Info("run directory has no output, running again", "id", id)
		return nil, nil
	default:
		return nil, err
	}
}

func (c *Cache) execute(ctx context.Context, id params.Identity, v params.Vector, input []byte) (*Outcome, error) {
	st, err := c.Disk.Stage(input)
	if err != nil {
		return nil, err
	}

	c.executions.Add(1)
	res, err := c.Runner.Run(ctx, []string{c.Executable, c.Disk.InputName()}, st.Dir)
	if err != nil {
		_ = c.Disk.Discard(st)
		return nil, err
	}

	out := &Outcome{Identity: id, Params: v.Clone(), RunID: res.RunID, Elapsed: res.Elapsed}

	if !res.Success() {
		_ = c.Disk.Discard(st)
		c.failures.Add(1)
		out.Status = NoResult
		if res.TimedOut {
			out.Reason = "timed out"
		} else {
			out.Reason = fmt.Sprintf("exit status %d", res.ExitCode)
		}
		c.logger().Warn("run failed", "id", id, "reason", out.Reason, "stderr", tail(res.Stderr, 5), "stdout", tail(res.Stdout, 5))
		return out, nil
	}

	points, err := curve.ReadFile(st.Path(c.Disk.OutputName()))
	if err != nil {
		_ = c.Disk.Discard(st)
		if errors.Is(err, fs.ErrNotExist) {
			c.failures.Add(1)
			out.Status = NoResult
			out.Reason = "no output file written"
			c.logger().Warn("run succeeded without output", "id", id, "output", c.Disk.OutputName())
			return out, nil
		}
		return nil, fmt.Errorf("run %s: %w", id, err)
	}

	if err := c.writeLogs(st, res); err != nil {
		_ = c.Disk.Discard(st)
		return nil, fmt.Errorf("run %s: writing logs: %w", id, err)
	}

	if err := c.Disk.Commit(st, id); err != nil {
		if !errors.Is(err, store.ErrExists) {
			return nil, err
		}
		// Another process committed first; its record is authoritative.
		c.logger().Debug("run committed concurrently", "id", id)
		winner, err := c.lookup(id, v)
		if err != nil {
			return nil, err
		}
		if winner == nil {
			return nil, fmt.Errorf("run %s vanished after concurrent commit", id)
		}
		return winner, nil
	}

	c.Memory.Put(&store.Run{ID: id, Params: v.Clone(), Points: points, Created: time.Now()})
	c.logger().Debug("run committed", "id", id, "points", len(points), "elapsed", res.Elapsed)

	out.Status = Fresh
	out.Points = points
	return out, nil
}

func (c *Cache) writeLogs(st *store.Staging, res *runner.Result) error {
	if err := st.WriteFile(store.StdoutFile, res.Stdout); err != nil {
		return err
	}
	return st.WriteFile(store.StderrFile, res.Stderr)
}

func (c *Cache) logger() *log.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return discard
}

var discard = log.New(io.Discard)

// tail returns the last n lines of b.
func tail(b []byte, n int) string {
	lines := bytes.Split(bytes.TrimRight(b, "\n"), []byte("\n"))
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return string(bytes.Join(lines, []byte("\n")))
}
