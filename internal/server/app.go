// Package server builds the application graph from configuration and runs the
// HTTP service around it.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/bulk-result-crawler/internal/api"
	"github.com/JakeFAU/bulk-result-crawler/internal/captcha"
	"github.com/JakeFAU/bulk-result-crawler/internal/clock/system"
	"github.com/JakeFAU/bulk-result-crawler/internal/config"
	"github.com/JakeFAU/bulk-result-crawler/internal/dispatcher"
	"github.com/JakeFAU/bulk-result-crawler/internal/fetcher/portal"
	"github.com/JakeFAU/bulk-result-crawler/internal/id/uuid"
	"github.com/JakeFAU/bulk-result-crawler/internal/metrics"
	"github.com/JakeFAU/bulk-result-crawler/internal/policy/ratelimit"
	"github.com/JakeFAU/bulk-result-crawler/internal/progress"
	progresssinks "github.com/JakeFAU/bulk-result-crawler/internal/progress/sinks"
	gcppublisher "github.com/JakeFAU/bulk-result-crawler/internal/publisher/pubsub"
	queuememory "github.com/JakeFAU/bulk-result-crawler/internal/queue/memory"
	"github.com/JakeFAU/bulk-result-crawler/internal/results"
	"github.com/JakeFAU/bulk-result-crawler/internal/runs"
	resultstorage "github.com/JakeFAU/bulk-result-crawler/internal/storage"
	gcsstorage "github.com/JakeFAU/bulk-result-crawler/internal/storage/gcs"
	localstorage "github.com/JakeFAU/bulk-result-crawler/internal/storage/local"
	memorystorage "github.com/JakeFAU/bulk-result-crawler/internal/storage/memory"
	pgstore "github.com/JakeFAU/bulk-result-crawler/internal/storage/postgres"
	"github.com/JakeFAU/bulk-result-crawler/internal/worker"
)

const shutdownTimeout = 10 * time.Second

// App holds the wired dependencies and the resources that need closing.
type App struct {
	cfg    config.Config
	logger *zap.Logger

	runs      *runs.Service
	apiServer *api.Server
	queue     *queuememory.Queue

	fetcher         *portal.Fetcher
	progressHub     *progress.Hub
	pool            *pgxpool.Pool
	pubsubClient    *pubsub.Client
	pubsubPublisher *gcppublisher.Publisher
	storage         *storage.Client
}

// Options tweaks Build for callers other than the HTTP service.
type Options struct {
	// Registerer receives the progress collectors; nil uses the default registry.
	Registerer prometheus.Registerer
}

// Build creates the application's dependencies. On error every resource opened
// so far is released.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger, opts Options) (_ *App, err error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()
	app := &App{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			app.closeInfrastructure(context.WithoutCancel(ctx))
		}
	}()

	app.logger.Info("building application dependencies",
		zap.Int("concurrency", cfg.Scheduler.Concurrency),
		zap.String("portal_url", cfg.Portal.URL),
		zap.String("output_dir", cfg.Storage.OutputDir),
	)

	fetcher, err := setupFetcher(app)
	if err != nil {
		return nil, err
	}
	app.fetcher = fetcher

	stores, err := setupStores(ctx, app)
	if err != nil {
		return nil, err
	}
	blobStore, err := setupBlobStore(ctx, app)
	if err != nil {
		return nil, err
	}
	publisher, err := setupPublisher(ctx, app)
	if err != nil {
		return nil, err
	}
	events, err := setupProgress(app, opts.Registerer)
	if err != nil {
		return nil, err
	}

	clock := system.New()
	runner := worker.New(
		fetcher,
		stores.collector,
		clock,
		clock,
		results.NewConstantRetryPolicy(cfg.RetryDelay()).WithMaxAttempts(cfg.Scheduler.MaxAttempts),
		events,
		logger.Named("runner"),
	)
	scheduler := dispatcher.New(runner, clock, events, logger.Named("scheduler")).
		WithMaxRange(cfg.Scheduler.MaxRange)

	app.queue = queuememory.NewQueue(cfg.Scheduler.QueueDepth)
	app.runs, err = runs.New(runs.Deps{
		Runner:    scheduler,
		Store:     stores.runs,
		Records:   stores.records,
		Journal:   stores.journal,
		Queue:     app.queue,
		BlobStore: blobStore,
		Publisher: publisher,
		IDs:       uuid.New(),
		Clock:     clock,
		Events:    events,
	}, runs.Config{
		Concurrency:  cfg.Scheduler.Concurrency,
		MaxRange:     cfg.Scheduler.MaxRange,
		ExportPrefix: cfg.Storage.Prefix,
		Topic:        cfg.PubSub.TopicName,
	}, logger.Named("runs"))
	if err != nil {
		return nil, fmt.Errorf("run service init failed: %w", err)
	}

	app.apiServer = api.NewServer(app.runs, api.Options{
		CORSOrigin:  cfg.Server.CORSOrigin,
		AuthEnabled: cfg.Auth.Enabled,
		APIKey:      cfg.Auth.APIKey,
		MaxRange:    cfg.Scheduler.MaxRange,
		Ready:       app.readyChecks(),
		Logger:      logger,
	})
	return app, nil
}

// Runs exposes the run service for synchronous callers such as the CLI.
func (a *App) Runs() *runs.Service {
	return a.runs
}

// Serve runs the HTTP server and the queued-run consumer until ctx ends.
func (a *App) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.logger.Info("run consumer started")
		return a.runs.Run(gctx)
	})
	g.Go(func() error {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		a.logger.Info("shutdown initiated")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.logger.Error("server shutdown error", zap.Error(err))
		}
		return nil
	})
	return g.Wait()
}

// Close releases every resource Build opened.
func (a *App) Close(ctx context.Context) error {
	if a.queue != nil {
		a.queue.Close()
	}
	a.closeInfrastructure(ctx)
	a.logger.Info("shutdown complete")
	return nil
}

func (a *App) closeInfrastructure(ctx context.Context) {
	if a.progressHub != nil {
		if err := a.progressHub.Close(ctx); err != nil {
			a.logger.Warn("progress hub close failed", zap.Error(err))
		}
	}
	if a.fetcher != nil {
		a.fetcher.Close()
	}
	if a.pubsubPublisher != nil {
		a.pubsubPublisher.Stop()
	}
	if a.pubsubClient != nil {
		if err := a.pubsubClient.Close(); err != nil {
			a.logger.Warn("pubsub client close failed", zap.Error(err))
		}
	}
	if a.storage != nil {
		if err := a.storage.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
	}
	if a.pool != nil {
		a.pool.Close()
	}
}

func (a *App) readyChecks() []api.ReadyFunc {
	var checks []api.ReadyFunc
	if a.pool != nil {
		checks = append(checks, func(ctx context.Context) error {
			if err := a.pool.Ping(ctx); err != nil {
				return fmt.Errorf("postgres ping: %w", err)
			}
			return nil
		})
	}
	return checks
}

func setupFetcher(app *App) (*portal.Fetcher, error) {
	cfg := app.cfg
	recognizer, err := captcha.NewHTTPRecognizer(captcha.HTTPConfig{
		ServiceURL: cfg.Captcha.ServiceURL,
		Timeout:    time.Duration(cfg.Captcha.RequestTimeoutSeconds) * time.Second,
		UserAgent:  cfg.Portal.UserAgent,
	})
	if err != nil {
		return nil, fmt.Errorf("captcha recognizer init failed: %w", err)
	}
	solver := captcha.NewSolver(recognizer, cfg.CaptchaTimeout(), app.logger.Named("captcha"))

	throttle := ratelimit.New(ratelimit.Config{
		RequestsPerSecond: cfg.Portal.RequestsPerSecond,
		Burst:             cfg.Portal.Burst,
	})
	if cfg.Portal.RequestsPerSecond > 0 {
		app.logger.Info("portal throttle enabled",
			zap.Float64("requests_per_second", cfg.Portal.RequestsPerSecond),
			zap.Int("burst", cfg.Portal.Burst),
		)
	}

	selectors := portal.DefaultSelectors()
	if cfg.Portal.ProgramSelector != "" {
		selectors.Program = cfg.Portal.ProgramSelector
	}
	fetcher, err := portal.New(portal.Config{
		URL:               cfg.Portal.URL,
		Selectors:         selectors,
		NavigationTimeout: cfg.NavigationTimeout(),
		SettleDelay:       cfg.SettleDelay(),
		Headless:          cfg.Portal.Headless,
		UserAgent:         cfg.Portal.UserAgent,
	}, solver, throttle, app.logger.Named("portal"))
	if err != nil {
		return nil, fmt.Errorf("portal fetcher init failed: %w", err)
	}
	return fetcher, nil
}

// storeSet groups what setupStores wires: the collector the runners append
// to, the source exports read from, the local journal and the run store.
type storeSet struct {
	collector results.Collector
	records   runs.RecordSource
	journal   *localstorage.Journal
	runs      results.RunStore
}

// setupStores wires the record and run stores. Records always land in the
// local journal; with a DSN they are mirrored to Postgres, which then serves
// exports.
func setupStores(ctx context.Context, app *App) (storeSet, error) {
	journalDir := filepath.Join(app.cfg.Storage.OutputDir, "journal")
	journal, err := localstorage.NewJournal(journalDir)
	if err != nil {
		return storeSet{}, fmt.Errorf("journal init failed: %w", err)
	}
	app.logger.Debug("run journal", zap.String("path", journalDir))

	if app.cfg.DB.DSN == "" {
		app.logger.Warn("no DSN specified for database, using local journal and in-memory run store")
		return storeSet{
			collector: journal,
			records:   journal,
			journal:   journal,
			runs:      memorystorage.NewRunStore(),
		}, nil
	}

	app.pool, err = pgstore.Connect(ctx, pgstore.Config{
		DSN:          app.cfg.DB.DSN,
		ResultsTable: app.cfg.DB.ResultsTable,
		RunsTable:    app.cfg.DB.RunsTable,
		MaxConns:     app.cfg.DB.MaxConns,
	})
	if err != nil {
		return storeSet{}, fmt.Errorf("postgres init failed: %w", err)
	}
	resultStore, err := pgstore.NewResultStore(app.pool, app.cfg.DB.ResultsTable)
	if err != nil {
		return storeSet{}, fmt.Errorf("result store init failed: %w", err)
	}
	runStore, err := pgstore.NewRunStore(app.pool, app.cfg.DB.RunsTable)
	if err != nil {
		return storeSet{}, fmt.Errorf("run store init failed: %w", err)
	}
	app.logger.Info("postgres stores initialized",
		zap.String("results_table", app.cfg.DB.ResultsTable),
		zap.String("runs_table", app.cfg.DB.RunsTable),
	)
	return storeSet{
		collector: resultstorage.Tee(journal, resultStore),
		records:   resultStore,
		journal:   journal,
		runs:      runStore,
	}, nil
}

func setupBlobStore(ctx context.Context, app *App) (results.BlobStore, error) {
	if app.cfg.Storage.GCSBucket != "" {
		app.logger.Info("using GCS export archive", zap.String("bucket", app.cfg.Storage.GCSBucket))
		var err error
		app.storage, err = storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		blobStore, err := gcsstorage.New(app.storage, gcsstorage.Config{Bucket: app.cfg.Storage.GCSBucket})
		if err != nil {
			return nil, fmt.Errorf("gcs blob store init failed: %w", err)
		}
		return blobStore, nil
	}
	dir := filepath.Join(app.cfg.Storage.OutputDir, "exports")
	blobStore, err := localstorage.NewBlobStore(dir)
	if err != nil {
		return nil, fmt.Errorf("local blob store init failed: %w", err)
	}
	app.logger.Info("using local export archive", zap.String("path", dir))
	return blobStore, nil
}

func setupPublisher(ctx context.Context, app *App) (results.Publisher, error) {
	if app.cfg.PubSub.TopicName == "" || app.cfg.PubSub.ProjectID == "" {
		app.logger.Info("no Pub/Sub topic configured, run notifications disabled")
		return nil, nil
	}
	var err error
	app.pubsubClient, err = pubsub.NewClient(ctx, app.cfg.PubSub.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("pubsub client init failed: %w", err)
	}
	app.pubsubPublisher, err = gcppublisher.New(app.pubsubClient)
	if err != nil {
		return nil, fmt.Errorf("pubsub publisher init failed: %w", err)
	}
	app.logger.Info("Pub/Sub publisher initialized",
		zap.String("project", app.cfg.PubSub.ProjectID),
		zap.String("topic", app.cfg.PubSub.TopicName),
	)
	return app.pubsubPublisher, nil
}

func setupProgress(app *App, reg prometheus.Registerer) (progress.Emitter, error) {
	promSink, err := progresssinks.NewPrometheusSink(reg)
	if err != nil {
		return nil, fmt.Errorf("progress metrics init failed: %w", err)
	}
	sinkList := []progress.Sink{promSink}
	if app.cfg.Progress.LogEvents {
		sinkList = append(sinkList, progresssinks.NewLogSink(app.logger.Named("progress_log")))
		app.logger.Debug("added progress log sink")
	}
	app.progressHub = progress.NewHub(progress.Config{Logger: app.logger.Named("progress_hub")}, sinkList...)
	return app.progressHub, nil
}
