// Package objective turns memoized runs into a scalar cost for an optimizer:
// the sum of squared differences between a run's output and a target curve.
package objective

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/deixis/calibrate/internal/curve"
	"github.com/deixis/calibrate/internal/params"
	"github.com/deixis/calibrate/internal/runcache"
)

// Evaluator produces the output of the executable for a parameter vector.
// Implemented by runcache.Cache.
type Evaluator interface {
	Evaluate(ctx context.Context, v params.Vector) (*runcache.Outcome, error)
}

// Worst is the cost reported for vectors without a usable result.
var Worst = math.Inf(1)

// ErrNoTarget is returned when the target curve cannot be computed.
var ErrNoTarget = errors.New("no result for target parameters")

// TargetFromParams computes the target curve by evaluating v once through ev.
func TargetFromParams(ctx context.Context, ev Evaluator, v params.Vector) (curve.Curve, error) {
	out, err := ev.Evaluate(ctx, v)
	if err != nil {
		return nil, fmt.Errorf("computing target: %w", err)
	}
	if !out.OK() {
		return nil, fmt.Errorf("%w %v: %s", ErrNoTarget, []float64(v), out.Reason)
	}
	return out.Points, nil
}

// Bounds is an inclusive box constraint.
type Bounds struct {
	Lower params.Vector
	Upper params.Vector
}

// Validate checks that the bounds have the given arity and are ordered.
func (b *Bounds) Validate(arity int) error {
	if err := params.Check(b.Lower, arity); err != nil {
		return fmt.Errorf("lower bounds: %w", err)
	}
	if err := params.Check(b.Upper, arity); err != nil {
		return fmt.Errorf("upper bounds: %w", err)
	}
	for i := range b.Lower {
		if b.Lower[i] > b.Upper[i] {
			return fmt.Errorf("bound %d: lower %g exceeds upper %g", i, b.Lower[i], b.Upper[i])
		}
	}
	return nil
}

// Contains reports whether x lies within the bounds.
func (b *Bounds) Contains(x []float64) bool {
	if len(x) != len(b.Lower) || len(x) != len(b.Upper) {
		return false
	}
	for i, xi := range x {
		if xi < b.Lower[i] || xi > b.Upper[i] {
			return false
		}
	}
	return true
}

// Objective is the sum-of-squared-differences cost against Target.
// It is safe for concurrent use.
type Objective struct {
	Evaluator Evaluator
	Target    curve.Curve
	Bounds    *Bounds // optional
	Logger    *log.Logger

	mu       sync.Mutex
	evals    int
	best     params.Vector
	bestCost float64
	err      error
}

// New returns an Objective comparing evaluations of ev against target.
func New(ev Evaluator, target curve.Curve, bounds *Bounds) *Objective {
	return &Objective{Evaluator: ev, Target: target, Bounds: bounds}
}

// Cost evaluates x and returns its cost. Vectors outside the bounds, runs
// without a result and outputs that cannot be compared with the target cost
// Worst. Errors are returned only for faults the optimizer cannot recover
// from: a vector of the wrong length or a failing environment.
func (o *Objective) Cost(ctx context.Context, x []float64) (float64, error) {
	v := params.Vector(x).Clone()

	if o.Bounds != nil {
		if err := params.Check(v, len(o.Bounds.Lower)); err != nil {
			return Worst, err
		}
		if !o.Bounds.Contains(v) {
			o.record(v, Worst)
			return Worst, nil
		}
	}

	out, err := o.Evaluator.Evaluate(ctx, v)
	if err != nil {
		return Worst, err
	}
	if !out.OK() {
		o.logger().Debug("no result, reporting worst cost", "params", []float64(v), "reason", out.Reason)
		o.record(v, Worst)
		return Worst, nil
	}

	cost, err := curve.SSE(out.Points, o.Target)
	if err != nil {
		o.logger().Warn("output not comparable with target", "id", out.Identity, "err", err)
		cost = Worst
	}
	if math.IsNaN(cost) {
		cost = Worst
	}
	o.record(v, cost)
	o.logger().Debug("evaluated", "params", []float64(v), "cost", cost, "status", out.Status)
	return cost, nil
}

// Func adapts Cost to the signature optimizers expect. The first error is
// kept for Err and reported to the optimizer as Worst.
func (o *Objective) Func(ctx context.Context) func([]float64) float64 {
	return func(x []float64) float64 {
		cost, err := o.Cost(ctx, x)
		if err != nil {
			o.mu.Lock()
			if o.err == nil {
				o.err = err
			}
			o.mu.Unlock()
			return Worst
		}
		return cost
	}
}

// Err returns the first error recorded by a Func adapter.
func (o *Objective) Err() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.err
}

// Evaluations returns the number of completed cost evaluations.
func (o *Objective) Evaluations() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.evals
}

// Best returns the lowest-cost vector seen so far, or nil if no evaluation
// had a finite cost.
func (o *Objective) Best() (params.Vector, float64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.best == nil {
		return nil, Worst
	}
	return o.best.Clone(), o.bestCost
}

func (o *Objective) record(v params.Vector, cost float64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.evals++
	if !math.IsInf(cost, 1) && (o.best == nil || cost < o.bestCost) {
		o.best = v
		o.bestCost = cost
	}
}

func (o *Objective) logger() *log.Logger {
	if o.Logger != nil {
		return o.Logger
	}
	return discard
}

var discard = log.New(io.Discard)
