// Package dispatcher fans a roll range out over the runner in fixed-size
// batches. A batch runs concurrently; the next batch starts only after every
// job in the previous one is terminal.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/bulk-result-crawler/internal/progress"
	"github.com/JakeFAU/bulk-result-crawler/internal/results"
)

// DefaultConcurrency is the batch size used when none is configured.
const DefaultConcurrency = 10

// JobRunner drives a single roll to a terminal outcome.
type JobRunner interface {
	Run(ctx context.Context, runID string, job results.RollJob) (results.Outcome, int, error)
}

// Summary reports what a range run did.
type Summary struct {
	States   map[int]results.JobState
	Counters results.RunCounters
	Batches  int
}

// Scheduler runs range requests batch by batch.
type Scheduler struct {
	runner   JobRunner
	clock    results.Clock
	events   progress.Emitter
	logger   *zap.Logger
	maxRange int
}

// New creates a Scheduler.
func New(runner JobRunner, clock results.Clock, events progress.Emitter, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		runner: runner,
		clock:  clock,
		events: progress.EmitterOrNop(events),
		logger: logger,
	}
}

// WithMaxRange sets the widest span RunRange accepts. Zero keeps
// results.DefaultMaxRangeSize.
func (s *Scheduler) WithMaxRange(n int) *Scheduler {
	s.maxRange = n
	return s
}

// Rolls lists every roll number in req in ascending order.
func Rolls(req results.RangeRequest) []int {
	n := req.Size()
	if n == 0 {
		return nil
	}
	rolls := make([]int, n)
	for i := range rolls {
		rolls[i] = req.RollStart + i
	}
	return rolls
}

// Partition splits rolls into consecutive batches of at most size entries.
func Partition(rolls []int, size int) [][]int {
	if size <= 0 {
		return nil
	}
	batches := make([][]int, 0, (len(rolls)+size-1)/size)
	for start := 0; start < len(rolls); start += size {
		end := min(start+size, len(rolls))
		batches = append(batches, rolls[start:end])
	}
	return batches
}

// RunRange validates req and processes it. It returns early with an error when
// ctx ends or a runner reports a fatal error; rolls never attempted are then
// marked canceled.
func (s *Scheduler) RunRange(ctx context.Context, runID string, req results.RangeRequest, concurrency int) (Summary, error) {
	if err := req.ValidateLimit(s.maxRange); err != nil {
		return Summary{}, err
	}
	if concurrency <= 0 {
		return Summary{}, fmt.Errorf("%w: concurrency must be > 0, got %d", results.ErrInvalidRange, concurrency)
	}

	rolls := Rolls(req)
	summary := Summary{States: make(map[int]results.JobState, len(rolls))}
	for _, roll := range rolls {
		summary.States[roll] = results.JobPending
	}
	var mu sync.Mutex

	for i, batch := range Partition(rolls, concurrency) {
		index := i + 1
		if err := ctx.Err(); err != nil {
			cancelPending(&summary)
			return summary, fmt.Errorf("run %s canceled before batch %d: %w", runID, index, err)
		}
		start := s.clock.Now()
		s.emit(runID, progress.Event{Stage: progress.StageBatchStart, Batch: index})
		s.logger.Info("batch started",
			zap.String("run_id", runID),
			zap.Int("batch", index),
			zap.Int("first_roll", batch[0]),
			zap.Int("last_roll", batch[len(batch)-1]),
		)

		err := s.runBatch(ctx, runID, req, batch, &summary, &mu)
		summary.Batches = index
		s.emit(runID, progress.Event{Stage: progress.StageBatchDone, Batch: index, Dur: s.clock.Now().Sub(start)})
		if err != nil {
			cancelPending(&summary)
			return summary, err
		}
	}
	return summary, nil
}

func (s *Scheduler) runBatch(
	ctx context.Context,
	runID string,
	req results.RangeRequest,
	batch []int,
	summary *Summary,
	mu *sync.Mutex,
) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, roll := range batch {
		mu.Lock()
		summary.States[roll] = results.JobAttempting
		mu.Unlock()

		g.Go(func() error {
			outcome, attempts, err := s.runner.Run(gctx, runID, req.Job(roll))
			mu.Lock()
			defer mu.Unlock()
			summary.Counters.Attempts += attempts
			if err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					summary.States[roll] = results.JobCanceled
				} else {
					summary.States[roll] = results.JobFailed
					summary.Counters.Failed++
				}
				return err
			}
			summary.States[roll] = results.StateFor(outcome)
			switch outcome.Kind {
			case results.OutcomeSucceeded:
				summary.Counters.Succeeded++
			case results.OutcomeNotFound:
				summary.Counters.NotFound++
			default:
				summary.Counters.Failed++
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("batch of run %s: %w", runID, err)
	}
	return nil
}

func cancelPending(summary *Summary) {
	for roll, state := range summary.States {
		if state == results.JobPending || state == results.JobAttempting {
			summary.States[roll] = results.JobCanceled
		}
	}
}

func (s *Scheduler) emit(runID string, evt progress.Event) {
	evt.RunID = runID
	evt.TS = s.clock.Now().UTC()
	s.events.Emit(evt)
}
