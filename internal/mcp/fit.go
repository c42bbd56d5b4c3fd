package mcp

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/deixis/calibrate/internal/curve"
	"github.com/deixis/calibrate/internal/fit"
	"github.com/deixis/calibrate/internal/objective"
	"github.com/deixis/calibrate/internal/params"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

type fitParams struct {
	Initial        []float64 `json:"initial,omitempty" jsonschema:"starting parameters. Defaults to fit.initial from .calibrate."`
	Lower          []float64 `json:"lower,omitempty" jsonschema:"lower bounds, one per parameter. Defaults to fit.lower."`
	Upper          []float64 `json:"upper,omitempty" jsonschema:"upper bounds, one per parameter. Defaults to fit.upper."`
	TargetParams   []float64 `json:"target_params,omitempty" jsonschema:"parameters whose output is the target curve. Defaults to fit.target."`
	TargetFile     string    `json:"target_file,omitempty" jsonschema:"path of a file with one 'x y' line per point to use as the target curve instead of target_params"`
	Scan           int       `json:"scan,omitempty" jsonschema:"grid points per dimension to scan within the bounds before minimizing. Default: fit.scan (no scan)."`
	MaxEvaluations int       `json:"max_evaluations,omitempty" jsonschema:"evaluation limit for the minimizer. Default: fit.max_evaluations or 500."`
}

func (h *handler) fitHandler(ctx context.Context, req *mcp.CallToolRequest, in fitParams) (*mcp.CallToolResult, any, error) {
	cfg, cache := h.state()

	job := fit.Job{
		Evaluator:      cache,
		Initial:        pick(in.Initial, cfg.Fit.Initial),
		Scan:           in.Scan,
		MaxEvaluations: in.MaxEvaluations,
		Tolerance:      cfg.Fit.Tolerance,
		SimplexSize:    cfg.Fit.SimplexSize,
	}
	if job.Scan == 0 {
		job.Scan = cfg.Fit.Scan
	}
	if job.MaxEvaluations == 0 {
		job.MaxEvaluations = cfg.Fit.MaxEvaluations
	}
	if lower, upper := pick(in.Lower, cfg.Fit.Lower), pick(in.Upper, cfg.Fit.Upper); lower != nil || upper != nil {
		job.Bounds = &objective.Bounds{Lower: lower, Upper: upper}
	}

	switch targetFile := firstNonEmpty(in.TargetFile, cfg.Fit.TargetFile); {
	case in.TargetParams != nil:
		job.TargetParams = in.TargetParams
	case targetFile != "":
		target, err := curve.ReadFile(cfg.Resolve(targetFile))
		if err != nil {
			return errorResult(fmt.Sprintf("Failed to read target: %v", err))
		}
		job.Target = target
	default:
		job.TargetParams = cfg.Fit.Target
	}

	before := cache.Stats()
	rep, err := h.fitter.Run(ctx, job)
	if err != nil {
		return errorResult(fmt.Sprintf("Fit failed: %v", err))
	}
	after := cache.Stats()

	var b strings.Builder
	fmt.Fprintf(&b, "Status: %s\n", rep.Status)
	fmt.Fprintf(&b, "Params: %v\n", []float64(rep.X))
	fmt.Fprintf(&b, "Cost: %g\n", rep.Cost)
	fmt.Fprintf(&b, "Start: %v\n", []float64(rep.Start))
	fmt.Fprintf(&b, "Evaluations: %d (%d iterations, %s)\n", rep.Calls, rep.Iterations, rep.Runtime.Round(time.Millisecond))
	fmt.Fprintf(&b, "Executions: %d (cache hits: %d, no result: %d)\n",
		after.Executions-before.Executions, after.Hits-before.Hits, after.Failures-before.Failures)
	return textResult(b.String())
}

func pick(v, fallback []float64) params.Vector {
	if len(v) > 0 {
		return v
	}
	return fallback
}

func firstNonEmpty(s ...string) string {
	for _, v := range s {
		if v != "" {
			return v
		}
	}
	return ""
}
