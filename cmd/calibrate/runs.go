package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/deixis/calibrate/internal/curve"
	"github.com/deixis/calibrate/internal/params"
	"github.com/deixis/calibrate/internal/store"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

func (a *app) runsCmd() *cobra.Command {
	var jsonOut bool
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List stored runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			disk := a.disk()
			entries, err := disk.List()
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			if jsonOut {
				enc := json.NewEncoder(w)
				enc.SetIndent("", "  ")
				if entries == nil {
					entries = []store.Entry{}
				}
				return enc.Encode(entries)
			}
			if len(entries) == 0 {
				fmt.Fprintf(cmd.ErrOrStderr(), "no runs in %s\n", disk.Root)
				return nil
			}

			tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tPARAMS\tPOINTS\tSIZE\tAGE")
			for _, e := range entries {
				points := fmt.Sprint(e.Points)
				if !e.Complete {
					points = "-"
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
					e.ID, formatVector(e.Params), points, humanize.Bytes(uint64(e.Size)), humanize.Time(e.Modified))
			}
			return tw.Flush()
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "output the listing as JSON")
	cmd.AddCommand(a.runsShowCmd())
	return cmd
}

func (a *app) runsShowCmd() *cobra.Command {
	var (
		jsonOut bool
		logs    bool
	)
	cmd := &cobra.Command{
		Use:   "show ID",
		Short: "Show a stored run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := params.ParseIdentity(args[0])
			if err != nil {
				return err
			}
			disk := a.disk()
			run, err := disk.Load(id)
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			if jsonOut {
				enc := json.NewEncoder(w)
				enc.SetIndent("", "  ")
				return enc.Encode(run)
			}
			fmt.Fprintf(w, "# %s\n# params: %s\n# dir: %s\n", run.ID, formatVector(run.Params), disk.Dir(id))
			if err := curve.Write(w, run.Points); err != nil {
				return err
			}
			if logs {
				for _, name := range []string{store.StdoutFile, store.StderrFile} {
					data, err := os.ReadFile(filepath.Join(disk.Dir(id), name))
					if err != nil || len(data) == 0 {
						continue
					}
					fmt.Fprintf(w, "\n# %s\n%s", name, data)
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "output the run as JSON")
	cmd.Flags().BoolVar(&logs, "logs", false, "append the captured stdout and stderr")
	return cmd
}

// disk opens the runs directory without requiring an executable.
func (a *app) disk() *store.DiskStore {
	return &store.DiskStore{
		Root:       a.cfg.RunsDir(),
		InputFile:  a.cfg.InputFile,
		OutputFile: a.cfg.OutputFile,
	}
}

func formatVector(v params.Vector) string {
	if v == nil {
		return "?"
	}
	parts := make([]string, len(v))
	for i, f := range v {
		parts[i] = fmt.Sprintf("%g", f)
	}
	return strings.Join(parts, " ")
}
