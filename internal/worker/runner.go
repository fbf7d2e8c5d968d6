// Package worker retries a single roll number against the portal until it
// reaches a terminal outcome.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/bulk-result-crawler/internal/progress"
	"github.com/JakeFAU/bulk-result-crawler/internal/results"
)

// Runner drives one RollJob through the retry loop.
type Runner struct {
	fetcher   results.Fetcher
	collector results.Collector
	sleeper   results.Sleeper
	clock     results.Clock
	policy    results.RetryPolicy
	events    progress.Emitter
	logger    *zap.Logger
}

// New constructs a Runner. A zero policy retries forever with the default delay.
func New(
	fetcher results.Fetcher,
	collector results.Collector,
	sleeper results.Sleeper,
	clock results.Clock,
	policy results.RetryPolicy,
	events progress.Emitter,
	logger *zap.Logger,
) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	if policy == (results.RetryPolicy{}) {
		policy = results.DefaultRetryPolicy()
	}
	return &Runner{
		fetcher:   fetcher,
		collector: collector,
		sleeper:   sleeper,
		clock:     clock,
		policy:    policy,
		events:    progress.EmitterOrNop(events),
		logger:    logger,
	}
}

// Run attempts job until it succeeds, the portal reports no result, the
// policy gives up, or ctx ends. A successful record is appended to the
// collector before Run returns. A non-nil error means the run must stop:
// either ctx ended or the collector failed.
func (r *Runner) Run(ctx context.Context, runID string, job results.RollJob) (results.Outcome, int, error) {
	log := r.logger.With(zap.String("run_id", runID), zap.Int("roll", job.Roll))
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return results.Failed("canceled"), attempt - 1, fmt.Errorf("roll %d: %w", job.Roll, err)
		}
		r.emit(runID, progress.Event{Stage: progress.StageAttempt, Roll: job.Roll, Attempt: attempt})
		start := r.clock.Now()

		rec, err := r.fetcher.Fetch(ctx, job)
		switch {
		case err == nil:
			if appendErr := r.collector.Append(ctx, runID, rec); appendErr != nil {
				return results.Failed(appendErr.Error()), attempt, fmt.Errorf("append roll %d: %w", job.Roll, appendErr)
			}
			r.emit(runID, progress.Event{Stage: progress.StageRollSucceeded, Roll: job.Roll, Attempt: attempt, Dur: r.since(start)})
			log.Debug("roll succeeded", zap.Int("attempt", attempt))
			return results.Succeeded(rec), attempt, nil
		case errors.Is(err, results.ErrResultNotFound):
			r.emit(runID, progress.Event{Stage: progress.StageRollNotFound, Roll: job.Roll, Attempt: attempt, Dur: r.since(start)})
			log.Info("no result for roll", zap.String("roll_no", job.RollNo()))
			return results.NotFound(), attempt, nil
		}

		if ctxErr := ctx.Err(); ctxErr != nil {
			return results.Failed("canceled"), attempt, fmt.Errorf("roll %d: %w", job.Roll, ctxErr)
		}
		r.emit(runID, progress.Event{
			Stage:   progress.StageAttemptFailed,
			Roll:    job.Roll,
			Attempt: attempt,
			Dur:     r.since(start),
			Note:    err.Error(),
		})
		log.Warn("attempt failed", zap.Int("attempt", attempt), zap.Error(err))

		if !r.policy.ShouldRetry(attempt) {
			r.emit(runID, progress.Event{Stage: progress.StageRollFailed, Roll: job.Roll, Attempt: attempt, Note: err.Error()})
			return results.Failed(fmt.Sprintf("%v: %v", results.ErrRetriesExhausted, err)), attempt, nil
		}
		if sleepErr := r.sleeper.Sleep(ctx, r.policy.Backoff(attempt)); sleepErr != nil {
			return results.Failed("canceled"), attempt, fmt.Errorf("roll %d: %w", job.Roll, sleepErr)
		}
	}
}

func (r *Runner) since(start time.Time) time.Duration {
	d := r.clock.Now().Sub(start)
	if d < 0 {
		return 0
	}
	return d
}

func (r *Runner) emit(runID string, evt progress.Event) {
	evt.RunID = runID
	evt.TS = r.clock.Now().UTC()
	r.events.Emit(evt)
}
