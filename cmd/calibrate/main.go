// Command calibrate memoizes runs of an external executable and fits its
// parameters to a target curve.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/deixis/calibrate"
	"github.com/deixis/calibrate/internal/config"
	"github.com/deixis/calibrate/internal/runcache"
	"github.com/spf13/cobra"
)

// errSilent makes the command exit nonzero without printing anything more.
var errSilent = errors.New("")

// app holds state shared by all subcommands.
type app struct {
	dir      string
	logLevel string
	timeout  time.Duration

	cfg    *config.Config
	logger *log.Logger
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a := &app{}
	if err := a.rootCmd().ExecuteContext(ctx); err != nil {
		if !errors.Is(err, errSilent) {
			fmt.Fprintf(os.Stderr, "calibrate: %v\n", err)
		}
		stop()
		os.Exit(1)
	}
}

func (a *app) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "calibrate",
		Short: "Memoized runs of an external executable and parameter fitting",
		Long: `calibrate runs an external executable on parameter vectors written to an input
file, memoizes each run in a directory named after the MD5 hash of that file and
fits the parameters to a target curve with Nelder-Mead.

Configuration is read from the nearest .calibrate file and CALIBRATE_*
environment variables.`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.load,
	}

	root.PersistentFlags().StringVarP(&a.dir, "dir", "C", "", "directory to search for .calibrate from (default current directory)")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "log level: debug, info, warn, error (default info)")
	root.PersistentFlags().DurationVar(&a.timeout, "timeout", 0, "override the configured per-run timeout (e.g. 30s)")

	root.AddCommand(
		a.evalCmd(),
		a.fitCmd(),
		a.runsCmd(),
		a.mcpCmd(),
		versionCmd(),
	)
	return root
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), calibrate.Version)
		},
	}
}

// load reads the configuration and builds the logger.
func (a *app) load(cmd *cobra.Command, _ []string) error {
	dir := a.dir
	if dir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("determining working directory: %w", err)
		}
		dir = wd
	}

	loaded, err := config.Load(dir)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	a.cfg = loaded.Config
	if a.timeout > 0 {
		a.cfg.RawTimeout = a.timeout.String()
	}

	level := a.logLevel
	if level == "" {
		level = a.cfg.LogLevel
	}
	if level == "" {
		level = "info"
	}
	lvl, err := log.ParseLevel(level)
	if err != nil {
		return err
	}
	a.logger = log.NewWithOptions(cmd.ErrOrStderr(), log.Options{
		Level:           lvl,
		ReportTimestamp: true,
		TimeFormat:      time.Kitchen,
		Prefix:          "calibrate",
	})
	if loaded.Path != "" {
		a.logger.Debug("using config", "path", loaded.Path)
	}

	if err := a.cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

func (a *app) cache() (*runcache.Cache, error) {
	if a.cfg.Executable == "" {
		return nil, errors.New("no executable configured: set executable in .calibrate or CALIBRATE_EXECUTABLE")
	}
	return runcache.FromConfig(a.cfg, a.logger)
}
