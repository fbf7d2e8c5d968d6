// Package cmd defines the resultcrawler CLI: an HTTP service and a one-shot
// range run.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/bulk-result-crawler/internal/config"
	"github.com/JakeFAU/bulk-result-crawler/internal/logging"
	"github.com/JakeFAU/bulk-result-crawler/internal/results"
	"github.com/JakeFAU/bulk-result-crawler/internal/server"
)

// Application is what the subcommands drive. It lets tests inject a fake.
type Application interface {
	Serve(ctx context.Context) error
	Execute(ctx context.Context, req results.RangeRequest) (results.Run, error)
	Export(ctx context.Context, runID string, w io.Writer) error
	Close(ctx context.Context) error
}

type serverApp struct {
	*server.App
}

func (a serverApp) Execute(ctx context.Context, req results.RangeRequest) (results.Run, error) {
	return a.Runs().Execute(ctx, req)
}

func (a serverApp) Export(ctx context.Context, runID string, w io.Writer) error {
	return a.Runs().Export(ctx, runID, w)
}

// newApp is the application factory, replaced in tests.
var newApp = func(ctx context.Context, cfg config.Config, logger *zap.Logger) (Application, error) {
	app, err := server.Build(ctx, cfg, logger, server.Options{})
	if err != nil {
		return nil, err
	}
	return serverApp{app}, nil
}

type envKey struct{}

// env is what PersistentPreRunE hands the subcommands.
type env struct {
	cfg    config.Config
	logger *zap.Logger
}

func envFrom(ctx context.Context) (env, error) {
	e, ok := ctx.Value(envKey{}).(env)
	if !ok {
		return env{}, errors.New("command environment not initialized")
	}
	return e, nil
}

func newRootCmd() *cobra.Command {
	var cfgFile, envFile string
	cmd := &cobra.Command{
		Use:   "resultcrawler",
		Short: "Bulk retrieval of student results from the university portal.",
		Long: `resultcrawler walks a range of roll numbers through the result portal,
solving each CAPTCHA with a recognition service, and exports the grades of
every student found as a CSV file.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := loadDotEnv(envFile); err != nil {
				return err
			}
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
			if err != nil {
				return fmt.Errorf("logger init failed: %w", err)
			}
			zap.ReplaceGlobals(logger)
			cmd.SetContext(context.WithValue(cmd.Context(), envKey{}, env{cfg: cfg, logger: logger}))
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if e, err := envFrom(cmd.Context()); err == nil {
				_ = e.logger.Sync()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML, JSON or TOML)")
	cmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before the config when present")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newRunCmd())
	return cmd
}

// loadDotEnv loads path into the process environment. A missing file is not
// an error.
func loadDotEnv(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
