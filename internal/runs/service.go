// Package runs owns the lifecycle of a range run: submission, execution on
// the batch scheduler, export of the collected records and notification.
package runs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"

	"go.uber.org/zap"

	"github.com/JakeFAU/bulk-result-crawler/internal/dispatcher"
	"github.com/JakeFAU/bulk-result-crawler/internal/export"
	"github.com/JakeFAU/bulk-result-crawler/internal/progress"
	"github.com/JakeFAU/bulk-result-crawler/internal/results"
)

// ErrRunNotFinished is returned when results are requested before a run ends.
var ErrRunNotFinished = errors.New("run not finished")

// RangeRunner executes one validated range.
type RangeRunner interface {
	RunRange(ctx context.Context, runID string, req results.RangeRequest, concurrency int) (dispatcher.Summary, error)
}

// RecordSource reads back what a run collected.
type RecordSource interface {
	Records(ctx context.Context, runID string) ([]results.ResultRecord, error)
}

// RecordRemover deletes the local records of a run.
type RecordRemover interface {
	Remove(runID string) error
}

// Config tunes the service.
type Config struct {
	Concurrency int
	// MaxRange caps the rolls one request may span. Zero uses
	// results.DefaultMaxRangeSize.
	MaxRange int
	// ExportPrefix is the object path prefix for archived CSVs.
	ExportPrefix string
	// Topic receives a notification per finished run when a publisher is set.
	Topic string
}

// Deps bundles the collaborators. BlobStore, Publisher and Journal are
// optional. Journal is the local record file kept alongside a remote
// record source.
type Deps struct {
	Runner    RangeRunner
	Store     results.RunStore
	Records   RecordSource
	Journal   RecordRemover
	Queue     results.Queue
	BlobStore results.BlobStore
	Publisher results.Publisher
	IDs       results.IDGenerator
	Clock     results.Clock
	Events    progress.Emitter
}

// Service coordinates runs.
type Service struct {
	deps   Deps
	cfg    Config
	events progress.Emitter
	logger *zap.Logger
}

// New constructs a Service.
func New(deps Deps, cfg Config, logger *zap.Logger) (*Service, error) {
	switch {
	case deps.Runner == nil:
		return nil, errors.New("range runner is required")
	case deps.Store == nil:
		return nil, errors.New("run store is required")
	case deps.Records == nil:
		return nil, errors.New("record source is required")
	case deps.IDs == nil || deps.Clock == nil:
		return nil, errors.New("id generator and clock are required")
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = dispatcher.DefaultConcurrency
	}
	if cfg.MaxRange <= 0 {
		cfg.MaxRange = results.DefaultMaxRangeSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		deps:   deps,
		cfg:    cfg,
		events: progress.EmitterOrNop(deps.Events),
		logger: logger,
	}, nil
}

// Submit records a queued run and hands it to the background consumer.
func (s *Service) Submit(ctx context.Context, req results.RangeRequest) (results.Run, error) {
	if s.deps.Queue == nil {
		return results.Run{}, errors.New("run queue is not configured")
	}
	run, err := s.create(ctx, req)
	if err != nil {
		return results.Run{}, err
	}
	if err := s.deps.Queue.Enqueue(ctx, results.QueueItem{RunID: run.ID, Request: req}); err != nil {
		run.Status = results.RunFailed
		run.ErrorText = err.Error()
		s.update(ctx, run)
		return results.Run{}, fmt.Errorf("enqueue run: %w", err)
	}
	s.logger.Info("run queued", zap.String("run_id", run.ID), zap.Int("rolls", req.Size()))
	return run, nil
}

// Execute runs req to completion on the caller's goroutine.
func (s *Service) Execute(ctx context.Context, req results.RangeRequest) (results.Run, error) {
	run, err := s.create(ctx, req)
	if err != nil {
		return results.Run{}, err
	}
	return s.process(ctx, run)
}

// Run consumes queued runs until ctx ends or the queue closes.
func (s *Service) Run(ctx context.Context) error {
	if s.deps.Queue == nil {
		return errors.New("run queue is not configured")
	}
	for {
		item, err := s.deps.Queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("dequeue run: %w", err)
		}
		run, err := s.deps.Store.GetRun(ctx, item.RunID)
		if err != nil {
			s.logger.Error("load queued run", zap.String("run_id", item.RunID), zap.Error(err))
			continue
		}
		if _, err := s.process(ctx, run); err != nil {
			s.logger.Warn("run ended with error", zap.String("run_id", run.ID), zap.Error(err))
		}
	}
}

// Get returns the stored run.
func (s *Service) Get(ctx context.Context, runID string) (results.Run, error) {
	run, err := s.deps.Store.GetRun(ctx, runID)
	if err != nil {
		return results.Run{}, fmt.Errorf("get run: %w", err)
	}
	return run, nil
}

// Export writes the CSV of a finished run to w.
func (s *Service) Export(ctx context.Context, runID string, w io.Writer) error {
	run, err := s.Get(ctx, runID)
	if err != nil {
		return err
	}
	if !run.Status.Finished() {
		return fmt.Errorf("%w: %s is %s", ErrRunNotFinished, runID, run.Status)
	}
	recs, err := s.deps.Records.Records(ctx, runID)
	if err != nil {
		return fmt.Errorf("read records: %w", err)
	}
	return export.WriteCSV(w, recs)
}

// Discard drops the local records of runID from the journal and from the
// record source when it supports removal.
func (s *Service) Discard(runID string) error {
	var errs []error
	if s.deps.Journal != nil {
		if err := s.deps.Journal.Remove(runID); err != nil {
			errs = append(errs, fmt.Errorf("remove journal: %w", err))
		}
	}
	remover, ok := s.deps.Records.(RecordRemover)
	if ok && remover != s.deps.Journal {
		if err := remover.Remove(runID); err != nil {
			errs = append(errs, fmt.Errorf("remove records: %w", err))
		}
	}
	return errors.Join(errs...)
}

func (s *Service) create(ctx context.Context, req results.RangeRequest) (results.Run, error) {
	if err := req.ValidateLimit(s.cfg.MaxRange); err != nil {
		return results.Run{}, err
	}
	id, err := s.deps.IDs.NewID()
	if err != nil {
		return results.Run{}, fmt.Errorf("generate run id: %w", err)
	}
	run := results.Run{
		ID:        id,
		Status:    results.RunQueued,
		Request:   req,
		Submitted: s.deps.Clock.Now(),
	}
	if err := s.deps.Store.CreateRun(ctx, run); err != nil {
		return results.Run{}, fmt.Errorf("create run: %w", err)
	}
	return run, nil
}

func (s *Service) process(ctx context.Context, run results.Run) (results.Run, error) {
	log := s.logger.With(zap.String("run_id", run.ID))
	started := s.deps.Clock.Now()
	run.Status = results.RunRunning
	run.Started = &started
	s.update(ctx, run)
	s.emit(run.ID, progress.Event{Stage: progress.StageRunStart})
	log.Info("run started",
		zap.Int("roll_start", run.Request.RollStart),
		zap.Int("roll_end", run.Request.RollEnd),
		zap.Int("concurrency", s.cfg.Concurrency),
	)

	summary, runErr := s.runRange(ctx, run)
	run.Counters = summary.Counters

	// Bookkeeping must land even when ctx is what ended the run.
	finalCtx := context.WithoutCancel(ctx)
	switch {
	case runErr == nil:
		run.Status = results.RunSucceeded
	case ctx.Err() != nil:
		run.Status = results.RunCanceled
		run.ErrorText = runErr.Error()
	default:
		run.Status = results.RunFailed
		run.ErrorText = runErr.Error()
	}

	if uri, err := s.archive(finalCtx, run.ID); err != nil {
		log.Error("archive export failed", zap.Error(err))
	} else {
		run.ExportURI = uri
	}
	finished := s.deps.Clock.Now()
	run.Finished = &finished
	s.update(finalCtx, run)
	s.notify(finalCtx, run)

	evt := progress.Event{Stage: progress.StageRunDone, Dur: finished.Sub(started)}
	if run.Status != results.RunSucceeded {
		evt.Stage = progress.StageRunError
		evt.Note = run.ErrorText
	}
	s.emit(run.ID, evt)
	log.Info("run finished",
		zap.String("status", string(run.Status)),
		zap.Int("succeeded", run.Counters.Succeeded),
		zap.Int("not_found", run.Counters.NotFound),
		zap.Int("failed", run.Counters.Failed),
		zap.Int("attempts", run.Counters.Attempts),
		zap.Int("batches", summary.Batches),
	)
	return run, runErr
}

// runRange keeps a panicking runner from taking the consumer down with it.
func (s *Service) runRange(ctx context.Context, run results.Run) (summary dispatcher.Summary, err error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("range runner panicked", zap.String("run_id", run.ID), zap.Any("panic", r))
			err = fmt.Errorf("range runner panicked: %v", r)
		}
	}()
	return s.deps.Runner.RunRange(ctx, run.ID, run.Request, s.cfg.Concurrency)
}

func (s *Service) archive(ctx context.Context, runID string) (string, error) {
	if s.deps.BlobStore == nil {
		return "", nil
	}
	recs, err := s.deps.Records.Records(ctx, runID)
	if err != nil {
		return "", fmt.Errorf("read records: %w", err)
	}
	var buf bytes.Buffer
	if err := export.WriteCSV(&buf, recs); err != nil {
		return "", err
	}
	objectPath := path.Join(s.cfg.ExportPrefix, runID, "results.csv")
	uri, err := s.deps.BlobStore.PutObject(ctx, objectPath, export.ContentType, buf.Bytes())
	if err != nil {
		return "", fmt.Errorf("put export: %w", err)
	}
	return uri, nil
}

func (s *Service) notify(ctx context.Context, run results.Run) {
	if s.deps.Publisher == nil || s.cfg.Topic == "" {
		return
	}
	payload := map[string]any{
		"run_id":     run.ID,
		"status":     run.Status,
		"request":    run.Request,
		"counters":   run.Counters,
		"export_uri": run.ExportURI,
		"finished":   run.Finished,
	}
	if _, err := s.deps.Publisher.Publish(ctx, s.cfg.Topic, payload); err != nil {
		s.logger.Warn("run notification failed", zap.String("run_id", run.ID), zap.Error(err))
	}
}

func (s *Service) update(ctx context.Context, run results.Run) {
	if err := s.deps.Store.UpdateRun(ctx, run); err != nil {
		s.logger.Error("update run", zap.String("run_id", run.ID), zap.Error(err))
	}
}

func (s *Service) emit(runID string, evt progress.Event) {
	evt.RunID = runID
	evt.TS = s.deps.Clock.Now().UTC()
	s.events.Emit(evt)
}
