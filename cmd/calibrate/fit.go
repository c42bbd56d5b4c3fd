package main

import (
	"encoding/json"
	"fmt"

	"github.com/deixis/calibrate/internal/curve"
	"github.com/deixis/calibrate/internal/fit"
	"github.com/deixis/calibrate/internal/objective"
	"github.com/deixis/calibrate/internal/params"
	"github.com/spf13/cobra"
)

func (a *app) fitCmd() *cobra.Command {
	var (
		jsonOut      bool
		scan         int
		maxEvals     int
		targetFile   string
		targetParams []float64
		initial      []float64
		lower        []float64
		upper        []float64
	)
	cmd := &cobra.Command{
		Use:   "fit",
		Short: "Fit parameters to a target curve",
		Long: `Fit parameters to a target curve with Nelder-Mead.

The target curve is the output for the configured target parameters, or the
contents of --target. Every evaluation goes through the run cache, so repeating
a fit only runs the executable for vectors it has not seen before.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cache, err := a.cache()
			if err != nil {
				return err
			}
			fc := a.cfg.Fit
			flags := cmd.Flags()

			job := fit.Job{
				Evaluator:      cache,
				Initial:        fc.Initial,
				Scan:           fc.Scan,
				MaxEvaluations: fc.MaxEvaluations,
				Tolerance:      fc.Tolerance,
				SimplexSize:    fc.SimplexSize,
			}
			if flags.Changed("initial") {
				job.Initial = initial
			}
			if flags.Changed("scan") {
				job.Scan = scan
			}
			if flags.Changed("max-evals") {
				job.MaxEvaluations = maxEvals
			}
			lo, hi := params.Vector(fc.Lower), params.Vector(fc.Upper)
			if flags.Changed("lower") {
				lo = lower
			}
			if flags.Changed("upper") {
				hi = upper
			}
			if lo != nil || hi != nil {
				job.Bounds = &objective.Bounds{Lower: lo, Upper: hi}
			}

			switch {
			case flags.Changed("target-params"):
				job.TargetParams = targetParams
			case targetFile != "":
				if job.Target, err = curve.ReadFile(targetFile); err != nil {
					return err
				}
			case fc.TargetFile != "":
				if job.Target, err = curve.ReadFile(a.cfg.Resolve(fc.TargetFile)); err != nil {
					return err
				}
			default:
				job.TargetParams = fc.Target
			}

			fitter := &fit.Fitter{Workers: a.cfg.Workers(), Logger: a.logger}
			rep, err := fitter.Run(cmd.Context(), job)
			if err != nil {
				return err
			}
			stats := cache.Stats()

			w := cmd.OutOrStdout()
			if jsonOut {
				enc := json.NewEncoder(w)
				enc.SetIndent("", "  ")
				return enc.Encode(struct {
					*fit.Report
					Cache any `json:"cache"`
				}{rep, stats})
			}
			fmt.Fprintf(w, "status:      %s\n", rep.Status)
			fmt.Fprintf(w, "params:      %v\n", []float64(rep.X))
			fmt.Fprintf(w, "cost:        %g\n", rep.Cost)
			fmt.Fprintf(w, "start:       %v\n", []float64(rep.Start))
			fmt.Fprintf(w, "evaluations: %d (%d iterations)\n", rep.Calls, rep.Iterations)
			fmt.Fprintf(w, "executions:  %d (cache hits %d, no result %d)\n", stats.Executions, stats.Hits, stats.Failures)
			fmt.Fprintf(w, "runtime:     %s\n", rep.Runtime)
			return nil
		},
	}
	f := cmd.Flags()
	f.BoolVar(&jsonOut, "json", false, "output the result as JSON")
	f.IntVar(&scan, "scan", 0, "scan N grid points per dimension within the bounds to pick the start")
	f.IntVar(&maxEvals, "max-evals", 0, "evaluation limit for the minimizer (default 500)")
	f.StringVar(&targetFile, "target", "", "read the target curve from FILE instead of evaluating target parameters")
	f.Float64SliceVar(&targetParams, "target-params", nil, "parameters producing the target curve")
	f.Float64SliceVar(&initial, "initial", nil, "starting parameters")
	f.Float64SliceVar(&lower, "lower", nil, "lower bounds")
	f.Float64SliceVar(&upper, "upper", nil, "upper bounds")
	cmd.MarkFlagsMutuallyExclusive("target", "target-params")
	return cmd
}
