package mcp

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/deixis/calibrate/internal/curve"
	"github.com/deixis/calibrate/internal/params"
	"github.com/deixis/calibrate/internal/runcache"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

type evaluateParams struct {
	Params        []float64 `json:"params" jsonschema:"the parameter vector, in the order the executable reads them"`
	IncludePoints bool      `json:"include_points,omitempty" jsonschema:"list every output point instead of a summary. Default: false."`
}

func (h *handler) evaluateHandler(ctx context.Context, req *mcp.CallToolRequest, in evaluateParams) (*mcp.CallToolResult, any, error) {
	_, cache := h.state()

	out, err := cache.Evaluate(ctx, params.Vector(in.Params))
	if err != nil {
		var ae *params.ArityError
		if errors.As(err, &ae) {
			return errorResult(fmt.Sprintf("Invalid parameters: %v", err))
		}
		return errorResult(fmt.Sprintf("Evaluation failed: %v", err))
	}
	return textResult(formatOutcome(out, in.IncludePoints))
}

func formatOutcome(out *runcache.Outcome, all bool) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Run: %s\n", out.Identity)
	fmt.Fprintf(&b, "Params: %v\n", []float64(out.Params))
	switch out.Status {
	case runcache.NoResult:
		fmt.Fprintf(&b, "Status: %s (%s)\n", out.Status, out.Reason)
		fmt.Fprintln(&b)
		fmt.Fprintln(&b, "The executable produced no result for these parameters. The run was not stored and will be retried on the next call.")
		return b.String()
	case runcache.Fresh:
		fmt.Fprintf(&b, "Status: %s (%s)\n", out.Status, out.Elapsed.Round(time.Millisecond))
	default:
		fmt.Fprintf(&b, "Status: %s\n", out.Status)
	}

	fmt.Fprintf(&b, "Points: %d\n", len(out.Points))
	if all {
		fmt.Fprintln(&b)
		_ = curve.Write(&b, out.Points)
		return b.String()
	}
	if len(out.Points) > 0 {
		lo, hi := extrema(out.Points)
		fmt.Fprintf(&b, "x range: %g .. %g\n", out.Points[0].X, out.Points[len(out.Points)-1].X)
		fmt.Fprintf(&b, "min y: %g at x=%g\n", lo.Y, lo.X)
		fmt.Fprintf(&b, "max y: %g at x=%g\n", hi.Y, hi.X)
	}
	return b.String()
}

func extrema(c curve.Curve) (lo, hi curve.Point) {
	lo = curve.Point{Y: math.Inf(1)}
	hi = curve.Point{Y: math.Inf(-1)}
	for _, p := range c {
		if p.Y < lo.Y {
			lo = p
		}
		if p.Y > hi.Y {
			hi = p
		}
	}
	return lo, hi
}
