package fit

import (
	"context"
	"errors"
	"fmt"

	"github.com/deixis/calibrate/internal/curve"
	"github.com/deixis/calibrate/internal/objective"
	"github.com/deixis/calibrate/internal/params"
)

// Job is a complete calibration: a target, optional bounds and scan, and the
// minimization itself.
type Job struct {
	Evaluator objective.Evaluator

	// Exactly one of Target and TargetParams is set. TargetParams are
	// evaluated through Evaluator to produce the target curve.
	Target       curve.Curve
	TargetParams params.Vector

	Initial        params.Vector
	Bounds         *objective.Bounds // optional
	Scan           int               // grid points per dimension; no scan when zero
	MaxEvaluations int
	Tolerance      float64
	SimplexSize    float64
}

// Report is the outcome of a Job.
type Report struct {
	*Result
	Start        params.Vector `json:"start"`
	Calls        int           `json:"calls"` // objective evaluations, including target and scan
	TargetPoints int           `json:"target_points"`
}

// Run computes the target, picks a starting point and minimizes.
func (f *Fitter) Run(ctx context.Context, job Job) (*Report, error) {
	if len(job.Initial) == 0 {
		return nil, errors.New("no initial parameters")
	}
	if job.Bounds != nil {
		if err := job.Bounds.Validate(len(job.Initial)); err != nil {
			return nil, err
		}
	}

	target := job.Target
	switch {
	case target != nil && job.TargetParams != nil:
		return nil, errors.New("both a target curve and target parameters given")
	case target == nil && job.TargetParams == nil:
		return nil, errors.New("no target")
	case target == nil:
		t, err := objective.TargetFromParams(ctx, job.Evaluator, job.TargetParams)
		if err != nil {
			return nil, err
		}
		target = t
	}
	if len(target) == 0 {
		return nil, errors.New("target curve is empty")
	}

	obj := objective.New(job.Evaluator, target, job.Bounds)
	obj.Logger = f.Logger

	start, err := f.Start(ctx, obj, job.Bounds, job.Scan, job.Initial)
	if err != nil {
		return nil, fmt.Errorf("scanning: %w", err)
	}
	res, err := f.Fit(ctx, Problem{
		Objective:      obj,
		Initial:        start,
		MaxEvaluations: job.MaxEvaluations,
		Tolerance:      job.Tolerance,
		SimplexSize:    job.SimplexSize,
	})
	if err != nil {
		return nil, err
	}
	return &Report{
		Result:       res,
		Start:        start,
		Calls:        obj.Evaluations(),
		TargetPoints: len(target),
	}, nil
}
