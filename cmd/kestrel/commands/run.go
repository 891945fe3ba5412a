package commands

import (
	"context"
	"io"
	"os"
	"os/signal"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/teranos/kestrel/am"
	"github.com/teranos/kestrel/display"
	"github.com/teranos/kestrel/errors"
	"github.com/teranos/kestrel/interpreter"
	"github.com/teranos/kestrel/logger"
	"github.com/teranos/kestrel/metrics"
	"github.com/teranos/kestrel/session"
)

// RunCmd executes a hunt flow script
var RunCmd = &cobra.Command{
	Use:   "run <script>",
	Short: "Execute a hunt flow script",
	Long: `Execute a hunt flow script in a fresh session.

Statements run in order and execution stops at the first failing statement.
Displays produced by DISP, INFO and analytics are written to stdout; with
-v (or session.show_execution_summary) an execution summary follows.

Set the environment variable named by session.debug_env_var to keep the
session directory for inspection.

Examples:
  kestrel run hunt.hf
  kestrel run hunt.hf --watch
  kestrel run hunt.hf --json --metrics-file run.prom`,
	Args: cobra.ExactArgs(1),
	RunE: runRun,
}

var (
	runWatch       bool
	runJSON        bool
	runMetricsFile string
)

func init() {
	RunCmd.Flags().BoolVarP(&runWatch, "watch", "w", false, "Re-run the script in the same session whenever it changes")
	RunCmd.Flags().BoolVarP(&runJSON, "json", "j", false, "Write displays as JSON")
	RunCmd.Flags().StringVar(&runMetricsFile, "metrics-file", "", "Write Prometheus metrics for the run to this file")
}

func runRun(cmd *cobra.Command, args []string) error {
	path := args[0]
	cfg, err := am.Load()
	if err != nil {
		return errors.Wrap(err, "failed to load config")
	}
	verbosity, _ := cmd.Flags().GetCount("verbose")

	reg := prometheus.NewRegistry()
	collector, err := metrics.New(reg)
	if err != nil {
		return err
	}

	s, err := session.New(session.Options{Config: cfg, Metrics: collector}, logger.Logger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	out := cmd.OutOrStdout()
	execute := func(ctx context.Context) error {
		res, err := s.ExecuteFile(ctx, path)
		if res != nil {
			if werr := writeResult(out, res, cfg, verbosity); werr != nil {
				return werr
			}
		}
		return err
	}

	runErr := execute(ctx)
	if runWatch {
		if runErr != nil {
			ReportError(cmd.ErrOrStderr(), runErr)
		}
		runErr = watch(ctx, path, func(ctx context.Context) error {
			err := execute(ctx)
			if err != nil {
				ReportError(cmd.ErrOrStderr(), err)
			}
			return err
		})
	}

	if err := s.Close(runErr); err != nil {
		logger.Logger.Warnw("session cleanup failed", logger.FieldError, err)
	}
	if runMetricsFile != "" {
		if err := prometheus.WriteToTextfile(runMetricsFile, reg); err != nil {
			logger.Logger.Warnw("failed to write metrics", logger.FieldPath, runMetricsFile, logger.FieldError, err)
		}
	}
	return runErr
}

func watch(ctx context.Context, path string, onChange func(context.Context) error) error {
	w, err := session.NewScriptWatcher(path, logger.Logger)
	if err != nil {
		return err
	}
	defer w.Close()
	logger.Logger.Infow("watching script for changes", logger.FieldPath, path)
	return w.Run(ctx, onChange)
}

func writeResult(w io.Writer, res *interpreter.Result, cfg *am.Config, verbosity int) error {
	displays := res.Displays
	if cfg.Session.ShowExecutionSummary || logger.ShouldOutput(verbosity, logger.OutputSummary) {
		displays = append(displays[:len(displays):len(displays)], res.Summary())
	}
	return display.Write(w, displays, runJSON)
}
