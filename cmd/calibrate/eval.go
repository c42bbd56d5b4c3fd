package main

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/deixis/calibrate/internal/curve"
	"github.com/deixis/calibrate/internal/params"
	"github.com/deixis/calibrate/internal/runcache"
	"github.com/spf13/cobra"
)

func (a *app) evalCmd() *cobra.Command {
	var jsonOut bool
	cmd := &cobra.Command{
		Use:   "eval VALUE...",
		Short: "Evaluate the executable for one parameter vector",
		Long: `Evaluate the executable for one parameter vector, reusing the stored run if the
vector was evaluated before. Prints the run identity, its status and the output
points. Exits 1 if the run produced no result. Put -- before the values if
any of them is negative.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := parseVector(args)
			if err != nil {
				return err
			}
			cache, err := a.cache()
			if err != nil {
				return err
			}
			out, err := cache.Evaluate(cmd.Context(), v)
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			if jsonOut {
				enc := json.NewEncoder(w)
				enc.SetIndent("", "  ")
				if err := enc.Encode(out); err != nil {
					return err
				}
			} else {
				printOutcome(cmd, out)
			}
			if !out.OK() {
				return errSilent
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "output the result as JSON")
	return cmd
}

func printOutcome(cmd *cobra.Command, out *runcache.Outcome) {
	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "%s %s\n", out.Identity, out.Status)
	if !out.OK() {
		fmt.Fprintf(cmd.ErrOrStderr(), "no result: %s\n", out.Reason)
		return
	}
	_ = curve.Write(w, out.Points)
}

func parseVector(args []string) (params.Vector, error) {
	v := make(params.Vector, len(args))
	for i, s := range args {
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, fmt.Errorf("parameter %d: %w", i+1, err)
		}
		v[i] = f
	}
	return v, nil
}
