package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/bulk-result-crawler/internal/results"
)

type runFlags struct {
	start     int
	end       int
	semester  string
	institute string
	out       string
}

func newRunCmd() *cobra.Command {
	var f runFlags
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Retrieve one roll range and write the CSV",
		Long: `Runs a single range to completion on this process and writes every
result found to --out. Rolls without a result are skipped.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runRange(cmd, f)
		},
	}
	cmd.Flags().IntVar(&f.start, "start", 0, "first roll number (inclusive)")
	cmd.Flags().IntVar(&f.end, "end", 0, "last roll number (inclusive)")
	cmd.Flags().StringVar(&f.semester, "semester", "", "semester value selected on the portal")
	cmd.Flags().StringVar(&f.institute, "institute", "", "institute code prefixed to every roll number")
	cmd.Flags().StringVar(&f.out, "out", "results.csv", "CSV output path")
	for _, name := range []string{"start", "end", "semester", "institute"} {
		_ = cmd.MarkFlagRequired(name)
	}
	return cmd
}

func runRange(cmd *cobra.Command, f runFlags) error {
	e, err := envFrom(cmd.Context())
	if err != nil {
		return err
	}
	req := results.RangeRequest{
		RollStart:     f.start,
		RollEnd:       f.end,
		Semester:      f.semester,
		InstituteCode: f.institute,
	}
	if err := req.ValidateLimit(e.cfg.Scheduler.MaxRange); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := newApp(ctx, e.cfg, e.logger)
	if err != nil {
		return fmt.Errorf("failed to initialize application services: %w", err)
	}
	defer func() {
		if cerr := app.Close(context.WithoutCancel(ctx)); cerr != nil {
			e.logger.Warn("application close failed", zap.Error(cerr))
		}
	}()

	run, runErr := app.Execute(ctx, req)
	if run.ID == "" {
		return fmt.Errorf("run range: %w", runErr)
	}
	// Whatever was collected is written even when the run stopped early.
	if err := writeExport(context.WithoutCancel(ctx), app, run.ID, f.out); err != nil {
		return errors.Join(runErr, err)
	}
	e.logger.Info("results written",
		zap.String("run_id", run.ID),
		zap.String("status", string(run.Status)),
		zap.String("path", f.out),
		zap.Int("succeeded", run.Counters.Succeeded),
		zap.Int("not_found", run.Counters.NotFound),
	)
	if runErr != nil {
		return fmt.Errorf("run %s: %w", run.ID, runErr)
	}
	return nil
}

func writeExport(ctx context.Context, app Application, runID, path string) (err error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("create output dir: %w", err)
		}
	}
	file, err := os.Create(filepath.Clean(path))
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer func() {
		if cerr := file.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close %s: %w", path, cerr)
		}
	}()
	if err := app.Export(ctx, runID, file); err != nil {
		return fmt.Errorf("export run %s: %w", runID, err)
	}
	return nil
}
