package runs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/bulk-result-crawler/internal/dispatcher"
	pubmemory "github.com/JakeFAU/bulk-result-crawler/internal/publisher/memory"
	queuememory "github.com/JakeFAU/bulk-result-crawler/internal/queue/memory"
	"github.com/JakeFAU/bulk-result-crawler/internal/results"
	"github.com/JakeFAU/bulk-result-crawler/internal/storage/memory"
)

var validReq = results.RangeRequest{RollStart: 101, RollEnd: 103, Semester: "5", InstituteCode: "0101CS21"}

// fakeRange collects a record per even roll and marks odd rolls not found.
type fakeRange struct {
	collector *memory.Collector
	err       error
	block     chan struct{}

	mu   sync.Mutex
	seen []string
}

func (f *fakeRange) RunRange(ctx context.Context, runID string, req results.RangeRequest, _ int) (dispatcher.Summary, error) {
	f.mu.Lock()
	f.seen = append(f.seen, runID)
	f.mu.Unlock()
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return dispatcher.Summary{}, ctx.Err()
		}
	}
	summary := dispatcher.Summary{States: map[int]results.JobState{}}
	for roll := req.RollStart; roll <= req.RollEnd; roll++ {
		summary.Counters.Attempts++
		if roll%2 == 0 {
			job := req.Job(roll)
			rec := results.ResultRecord{
				Name:   fmt.Sprintf("Student %d", roll),
				RollNo: job.RollNo(),
				Grades: []results.SubjectGrade{{Code: "CS501", Grade: "A"}},
				SGPA:   "8.0",
			}
			if err := f.collector.Append(ctx, runID, rec); err != nil {
				return summary, err
			}
			summary.Counters.Succeeded++
			summary.States[roll] = results.JobSucceeded
			continue
		}
		summary.Counters.NotFound++
		summary.States[roll] = results.JobSkippedNotFound
	}
	summary.Batches = 1
	return summary, f.err
}

// panicOnce panics on its first range and delegates afterwards.
type panicOnce struct {
	next RangeRunner

	mu       sync.Mutex
	panicked bool
}

func (p *panicOnce) RunRange(ctx context.Context, runID string, req results.RangeRequest, concurrency int) (dispatcher.Summary, error) {
	p.mu.Lock()
	first := !p.panicked
	p.panicked = true
	p.mu.Unlock()
	if first {
		panic("makeslice: len out of range")
	}
	return p.next.RunRange(ctx, runID, req, concurrency)
}

// removableRecords is a record source that also supports removal.
type removableRecords struct {
	*memory.Collector

	mu      sync.Mutex
	removed []string
	err     error
}

func (r *removableRecords) Remove(runID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removed = append(r.removed, runID)
	return r.err
}

type seqIDs struct {
	mu sync.Mutex
	n  int
}

func (g *seqIDs) NewID() (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("run-%d", g.n), nil
}

type fixedClock struct{}

func (fixedClock) Now() time.Time { return time.Unix(1_700_000_000, 0).UTC() }

type fixture struct {
	svc       *Service
	store     *memory.RunStore
	collector *memory.Collector
	blobs     *memory.BlobStore
	pub       *pubmemory.Publisher
	queue     *queuememory.Queue
	runner    *fakeRange
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureWith(t, nil)
}

func newFixtureWith(t *testing.T, tweak func(*Deps, *Config)) *fixture {
	t.Helper()
	f := &fixture{
		store:     memory.NewRunStore(),
		collector: memory.NewCollector(),
		blobs:     memory.NewBlobStore(),
		pub:       pubmemory.New(),
		queue:     queuememory.NewQueue(4),
	}
	f.runner = &fakeRange{collector: f.collector}
	deps := Deps{
		Runner:    f.runner,
		Store:     f.store,
		Records:   f.collector,
		Queue:     f.queue,
		BlobStore: f.blobs,
		Publisher: f.pub,
		IDs:       &seqIDs{},
		Clock:     fixedClock{},
	}
	cfg := Config{Concurrency: 3, ExportPrefix: "exports", Topic: "runs"}
	if tweak != nil {
		tweak(&deps, &cfg)
	}
	svc, err := New(deps, cfg, zap.NewNop())
	require.NoError(t, err)
	f.svc = svc
	return f
}

func TestExecuteCompletesRun(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	run, err := f.svc.Execute(context.Background(), validReq)
	require.NoError(t, err)

	assert.Equal(t, results.RunSucceeded, run.Status)
	assert.Equal(t, 1, run.Counters.Succeeded)
	assert.Equal(t, 2, run.Counters.NotFound)
	assert.Equal(t, "memory://exports/run-1/results.csv", run.ExportURI)
	require.NotNil(t, run.Finished)

	stored, err := f.svc.Get(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, run, stored)

	archived, ok := f.blobs.Object("exports/run-1/results.csv")
	require.True(t, ok)
	assert.Contains(t, string(archived), `"Student 102","0101CS21102"`)

	msgs := f.pub.Messages("runs")
	require.Len(t, msgs, 1)
	payload, ok := msgs[0].Payload.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "run-1", payload["run_id"])

	var buf bytes.Buffer
	require.NoError(t, f.svc.Export(context.Background(), run.ID, &buf))
	assert.True(t, strings.HasPrefix(buf.String(), `"Name","Roll No.","Branch","CS501"`))
}

func TestExecuteRejectsInvalidRange(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	_, err := f.svc.Execute(context.Background(), results.RangeRequest{RollStart: 5, RollEnd: 1, Semester: "1", InstituteCode: "x"})
	require.ErrorIs(t, err, results.ErrInvalidRange)
	assert.Empty(t, f.runner.seen)
}

func TestExecuteFatalErrorMarksRunFailed(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.runner.err = errors.New("append roll 103: disk full")
	run, err := f.svc.Execute(context.Background(), validReq)
	require.Error(t, err)
	assert.Equal(t, results.RunFailed, run.Status)
	assert.Contains(t, run.ErrorText, "disk full")

	stored, err := f.store.GetRun(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, results.RunFailed, stored.Status)
}

func TestExecuteCanceledRun(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.runner.block = make(chan struct{})
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	run, err := f.svc.Execute(ctx, validReq)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, results.RunCanceled, run.Status)

	stored, err := f.store.GetRun(context.Background(), run.ID)
	require.NoError(t, err)
	assert.Equal(t, results.RunCanceled, stored.Status)
}

func TestSubmitAndBackgroundConsumer(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	run, err := f.svc.Submit(context.Background(), validReq)
	require.NoError(t, err)
	assert.Equal(t, results.RunQueued, run.Status)

	var buf bytes.Buffer
	require.ErrorIs(t, f.svc.Export(context.Background(), run.ID, &buf), ErrRunNotFinished)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.svc.Run(ctx) }()

	require.Eventually(t, func() bool {
		got, err := f.svc.Get(context.Background(), run.ID)
		return err == nil && got.Status == results.RunSucceeded
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("consumer did not stop")
	}
}

func TestSubmitRejectsInvalidRange(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	_, err := f.svc.Submit(context.Background(), results.RangeRequest{RollStart: 1, RollEnd: 2})
	require.ErrorIs(t, err, results.ErrInvalidRange)
	assert.Zero(t, f.queue.Len())
}

func TestGetUnknownRun(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	_, err := f.svc.Get(context.Background(), "missing")
	require.ErrorIs(t, err, results.ErrRunNotFound)
}

func TestNewValidatesDeps(t *testing.T) {
	t.Parallel()

	_, err := New(Deps{}, Config{}, nil)
	require.Error(t, err)
}

func TestSubmitRejectsRangeOverConfiguredMax(t *testing.T) {
	t.Parallel()

	f := newFixtureWith(t, func(_ *Deps, cfg *Config) { cfg.MaxRange = 2 })
	_, err := f.svc.Submit(context.Background(), validReq)
	require.ErrorIs(t, err, results.ErrInvalidRange)

	_, err = f.svc.Execute(context.Background(), validReq)
	require.ErrorIs(t, err, results.ErrInvalidRange)

	assert.Zero(t, f.queue.Len())
	assert.Empty(t, f.runner.seen)
}

func TestSubmitRejectsFullIntRange(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	req := validReq
	req.RollStart, req.RollEnd = 0, math.MaxInt
	_, err := f.svc.Submit(context.Background(), req)
	require.ErrorIs(t, err, results.ErrInvalidRange)
	assert.Zero(t, f.queue.Len())
}

func TestConsumerSurvivesPanickingRunner(t *testing.T) {
	t.Parallel()

	f := newFixtureWith(t, func(deps *Deps, _ *Config) {
		deps.Runner = &panicOnce{next: deps.Runner}
	})
	first, err := f.svc.Submit(context.Background(), validReq)
	require.NoError(t, err)
	second, err := f.svc.Submit(context.Background(), validReq)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.svc.Run(ctx) }()

	require.Eventually(t, func() bool {
		got, err := f.svc.Get(context.Background(), second.ID)
		return err == nil && got.Status == results.RunSucceeded
	}, time.Second, 5*time.Millisecond)

	failed, err := f.svc.Get(context.Background(), first.ID)
	require.NoError(t, err)
	assert.Equal(t, results.RunFailed, failed.Status)
	assert.Contains(t, failed.ErrorText, "panicked")

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("consumer did not stop")
	}
}

func TestDiscardRemovesJournalBesideRecordSource(t *testing.T) {
	t.Parallel()

	journal := &removableRecords{Collector: memory.NewCollector()}
	f := newFixtureWith(t, func(deps *Deps, _ *Config) { deps.Journal = journal })

	require.NoError(t, f.svc.Discard("run-1"))
	assert.Equal(t, []string{"run-1"}, journal.removed)
}

func TestDiscardRemovesSharedJournalOnce(t *testing.T) {
	t.Parallel()

	journal := &removableRecords{Collector: memory.NewCollector()}
	f := newFixtureWith(t, func(deps *Deps, _ *Config) {
		deps.Records = journal
		deps.Journal = journal
	})

	require.NoError(t, f.svc.Discard("run-1"))
	assert.Equal(t, []string{"run-1"}, journal.removed)
}

func TestDiscardReportsJournalError(t *testing.T) {
	t.Parallel()

	journal := &removableRecords{Collector: memory.NewCollector(), err: errors.New("permission denied")}
	f := newFixtureWith(t, func(deps *Deps, _ *Config) { deps.Journal = journal })

	err := f.svc.Discard("run-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "remove journal")
}
