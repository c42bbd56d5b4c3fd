// Package fit minimizes an objective over parameter vectors with the
// derivative-free Nelder-Mead method from gonum, and scans candidate
// vectors concurrently to pick a starting point.
package fit

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"sort"
	"time"

	"github.com/charmbracelet/log"
	"github.com/deixis/calibrate/internal/objective"
	"github.com/deixis/calibrate/internal/params"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/optimize"
)

// Objective is a cost function over parameter vectors.
// Implemented by objective.Objective.
type Objective interface {
	Cost(ctx context.Context, x []float64) (float64, error)
	Func(ctx context.Context) func([]float64) float64
	Err() error
}

// ErrInitialNoResult is returned when the starting point has no finite cost.
var ErrInitialNoResult = errors.New("initial parameters have no result")

// MaxScanCandidates caps the number of grid points a scan may evaluate.
const MaxScanCandidates = 10000

// ErrScanTooLarge is returned when a scan grid exceeds MaxScanCandidates.
var ErrScanTooLarge = errors.New("scan grid too large")

// Defaults used when a Problem leaves a field zero.
const (
	DefaultMaxEvaluations = 500
	DefaultTolerance      = 1e-10
	DefaultStallIters     = 50
)

// Problem describes one minimization.
type Problem struct {
	Objective      Objective
	Initial        params.Vector
	MaxEvaluations int     // function evaluation limit
	Tolerance      float64 // absolute improvement below which an iteration stalls
	SimplexSize    float64 // initial simplex edge; gonum's default when zero
}

// Result is the outcome of a minimization.
type Result struct {
	X           params.Vector `json:"x"`
	Cost        float64       `json:"cost"`
	Evaluations int           `json:"evaluations"`
	Iterations  int           `json:"iterations"`
	Status      string        `json:"status"`
	Runtime     time.Duration `json:"runtime"`
}

// Fitter runs minimizations and scans.
type Fitter struct {
	Workers int // concurrent evaluations in Scan; 1 when zero
	Logger  *log.Logger
}

// Fit minimizes p.Objective starting from p.Initial.
func (f *Fitter) Fit(ctx context.Context, p Problem) (*Result, error) {
	if len(p.Initial) == 0 {
		return nil, errors.New("no initial parameters")
	}
	f0, err := p.Objective.Cost(ctx, p.Initial)
	if err != nil {
		return nil, err
	}
	if math.IsInf(f0, 1) {
		return nil, fmt.Errorf("%w: %v", ErrInitialNoResult, []float64(p.Initial))
	}

	maxEvals := p.MaxEvaluations
	if maxEvals <= 0 {
		maxEvals = DefaultMaxEvaluations
	}
	tol := p.Tolerance
	if tol <= 0 {
		tol = DefaultTolerance
	}

	problem := optimize.Problem{
		Func: p.Objective.Func(ctx),
		Status: func() (optimize.Status, error) {
			if err := ctx.Err(); err != nil {
				return optimize.Failure, err
			}
			if err := p.Objective.Err(); err != nil {
				return optimize.Failure, err
			}
			return optimize.NotTerminated, nil
		},
	}
	settings := &optimize.Settings{
		FuncEvaluations: maxEvals,
		Converger: &optimize.FunctionConverge{
			Absolute:   tol,
			Iterations: DefaultStallIters,
		},
	}
	method := &optimize.NelderMead{SimplexSize: p.SimplexSize}

	f.logger().Info("starting fit", "initial", []float64(p.Initial), "cost", f0, "max_evaluations", maxEvals)
	res, err := optimize.Minimize(problem, p.Initial.Clone(), settings, method)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}
	if objErr := p.Objective.Err(); objErr != nil {
		return nil, objErr
	}
	if err != nil {
		return nil, fmt.Errorf("minimizing: %w", err)
	}

	out := &Result{
		X:           params.Vector(res.X).Clone(),
		Cost:        res.F,
		Evaluations: res.Stats.FuncEvaluations,
		Iterations:  res.Stats.MajorIterations,
		Status:      res.Status.String(),
		Runtime:     res.Stats.Runtime,
	}
	f.logger().Info("fit finished", "x", []float64(out.X), "cost", out.Cost, "status", out.Status, "evaluations", out.Evaluations)
	return out, nil
}

// Candidate is a scanned vector and its cost.
type Candidate struct {
	X    params.Vector `json:"x"`
	Cost float64       `json:"cost"`
}

// Scan evaluates all candidates, up to Workers at a time, and returns them
// ordered by increasing cost. The first error cancels the remaining work.
func (f *Fitter) Scan(ctx context.Context, obj Objective, candidates []params.Vector) ([]Candidate, error) {
	workers := f.Workers
	if workers < 1 {
		workers = 1
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	out := make([]Candidate, len(candidates))
	for i, x := range candidates {
		g.Go(func() error {
			cost, err := obj.Cost(gctx, x)
			if err != nil {
				return err
			}
			out[i] = Candidate{X: x.Clone(), Cost: cost}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Cost < out[j].Cost })
	f.logger().Debug("scan finished", "candidates", len(out), "workers", workers)
	return out, nil
}

// Start returns the best of initial and an n-per-dimension grid over bounds.
// With n < 1 it returns initial unchanged.
func (f *Fitter) Start(ctx context.Context, obj Objective, bounds *objective.Bounds, n int, initial params.Vector) (params.Vector, error) {
	if n < 1 || bounds == nil {
		return initial, nil
	}
	if _, err := GridSize(n, len(bounds.Lower)); err != nil {
		return nil, err
	}
	candidates := append([]params.Vector{initial}, Grid(bounds, n)...)
	ranked, err := f.Scan(ctx, obj, candidates)
	if err != nil {
		return nil, err
	}
	if math.IsInf(ranked[0].Cost, 1) {
		return nil, fmt.Errorf("%w: none of %d scanned vectors produced a result", ErrInitialNoResult, len(ranked))
	}
	return ranked[0].X, nil
}

// GridSize returns n^dim, the number of points in a grid with n points per
// dimension, or ErrScanTooLarge if it exceeds MaxScanCandidates.
func GridSize(n, dim int) (int, error) {
	total := 1
	for range dim {
		if n > MaxScanCandidates/total {
			return 0, fmt.Errorf("%w: %d points per dimension over %d dimensions exceeds %d candidates",
				ErrScanTooLarge, n, dim, MaxScanCandidates)
		}
		total *= n
	}
	return total, nil
}

// Grid returns n evenly spaced values per dimension across bounds, in
// lexicographic order. With n == 1 it returns the center of the box. It
// returns nil if the grid would exceed MaxScanCandidates.
func Grid(bounds *objective.Bounds, n int) []params.Vector {
	dim := len(bounds.Lower)
	if n < 1 || dim == 0 {
		return nil
	}
	total, err := GridSize(n, dim)
	if err != nil {
		return nil
	}
	axes := make([][]float64, dim)
	for d := range axes {
		lo, hi := bounds.Lower[d], bounds.Upper[d]
		if n == 1 {
			axes[d] = []float64{(lo + hi) / 2}
			continue
		}
		axes[d] = make([]float64, n)
		for i := range axes[d] {
			axes[d][i] = lo + (hi-lo)*float64(i)/float64(n-1)
		}
	}

	out := make([]params.Vector, 0, total)
	idx := make([]int, dim)
	for k := 0; k < total; k++ {
		v := make(params.Vector, dim)
		for d := range v {
			v[d] = axes[d][idx[d]]
		}
		out = append(out, v)
		for d := dim - 1; d >= 0; d-- {
			idx[d]++
			if idx[d] < n {
				break
			}
			idx[d] = 0
		}
	}
	return out
}

func (f *Fitter) logger() *log.Logger {
	if f.Logger != nil {
		return f.Logger
	}
	return discard
}

var discard = log.New(io.Discard)
