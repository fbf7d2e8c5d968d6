package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/bulk-result-crawler/internal/progress"
	"github.com/JakeFAU/bulk-result-crawler/internal/results"
)

var job = results.RollJob{Roll: 101, Semester: "5", InstituteCode: "0101CS21"}

func TestRunnerRetriesUntilSuccess(t *testing.T) {
	t.Parallel()

	fetcher := &scriptedFetcher{errs: []error{
		results.ErrInvalidCaptcha,
		errors.New("navigation timeout"),
		results.ErrEmptyCaptcha,
	}}
	collector := &fakeCollector{}
	sleeper := &fakeSleeper{}
	events := &recordingEmitter{}
	r := New(fetcher, collector, sleeper, fakeClock{}, results.DefaultRetryPolicy(), events, zap.NewNop())

	outcome, attempts, err := r.Run(context.Background(), "run-1", job)
	require.NoError(t, err)
	assert.Equal(t, results.OutcomeSucceeded, outcome.Kind)
	assert.Equal(t, "0101CS21101", outcome.Record.RollNo)
	assert.Equal(t, 4, attempts)
	assert.Equal(t, 4, fetcher.calls())
	assert.Equal(t, []time.Duration{2 * time.Second, 2 * time.Second, 2 * time.Second}, sleeper.waits())
	require.Len(t, collector.records(), 1)
	assert.Equal(t, 1, events.count(progress.StageRollSucceeded))
	assert.Equal(t, 3, events.count(progress.StageAttemptFailed))
	assert.Equal(t, 4, events.count(progress.StageAttempt))
}

func TestRunnerNotFoundIsTerminal(t *testing.T) {
	t.Parallel()

	fetcher := &scriptedFetcher{errs: []error{results.ErrResultNotFound}}
	collector := &fakeCollector{}
	sleeper := &fakeSleeper{}
	r := New(fetcher, collector, sleeper, fakeClock{}, results.DefaultRetryPolicy(), nil, nil)

	outcome, attempts, err := r.Run(context.Background(), "run-1", job)
	require.NoError(t, err)
	assert.Equal(t, results.OutcomeNotFound, outcome.Kind)
	assert.Equal(t, 1, attempts)
	assert.Empty(t, sleeper.waits())
	assert.Empty(t, collector.records())
}

func TestRunnerNotFoundAfterRetries(t *testing.T) {
	t.Parallel()

	fetcher := &scriptedFetcher{errs: []error{results.ErrInvalidCaptcha, results.ErrResultNotFound}}
	sleeper := &fakeSleeper{}
	r := New(fetcher, &fakeCollector{}, sleeper, fakeClock{}, results.DefaultRetryPolicy(), nil, nil)

	outcome, attempts, err := r.Run(context.Background(), "run-1", job)
	require.NoError(t, err)
	assert.Equal(t, results.OutcomeNotFound, outcome.Kind)
	assert.Equal(t, 2, attempts)
	assert.Len(t, sleeper.waits(), 1)
}

func TestRunnerBoundedPolicyGivesUp(t *testing.T) {
	t.Parallel()

	boom := errors.New("portal down")
	fetcher := &scriptedFetcher{errs: []error{boom, boom, boom, boom}}
	sleeper := &fakeSleeper{}
	events := &recordingEmitter{}
	policy := results.NewConstantRetryPolicy(time.Second).WithMaxAttempts(3)
	r := New(fetcher, &fakeCollector{}, sleeper, fakeClock{}, policy, events, nil)

	outcome, attempts, err := r.Run(context.Background(), "run-1", job)
	require.NoError(t, err)
	assert.Equal(t, results.OutcomeFailed, outcome.Kind)
	assert.Contains(t, outcome.Reason, "portal down")
	assert.Contains(t, outcome.Reason, results.ErrRetriesExhausted.Error())
	assert.Equal(t, 3, attempts)
	assert.Len(t, sleeper.waits(), 2)
	assert.Equal(t, 1, events.count(progress.StageRollFailed))
}

func TestRunnerCollectorFailureIsFatal(t *testing.T) {
	t.Parallel()

	diskFull := errors.New("disk full")
	r := New(&scriptedFetcher{}, &fakeCollector{err: diskFull}, &fakeSleeper{}, fakeClock{},
		results.DefaultRetryPolicy(), nil, nil)

	outcome, _, err := r.Run(context.Background(), "run-1", job)
	require.ErrorIs(t, err, diskFull)
	assert.Equal(t, results.OutcomeFailed, outcome.Kind)
}

func TestRunnerStopsWhenCanceledDuringSleep(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	fetcher := &scriptedFetcher{errs: []error{results.ErrInvalidCaptcha, results.ErrInvalidCaptcha}}
	sleeper := &fakeSleeper{onSleep: cancel}
	r := New(fetcher, &fakeCollector{}, sleeper, fakeClock{}, results.DefaultRetryPolicy(), nil, nil)

	_, attempts, err := r.Run(ctx, "run-1", job)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, attempts)
	assert.Equal(t, 1, fetcher.calls())
}

func TestRunnerCanceledBeforeStart(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	fetcher := &scriptedFetcher{}
	r := New(fetcher, &fakeCollector{}, &fakeSleeper{}, fakeClock{}, results.DefaultRetryPolicy(), nil, nil)

	_, attempts, err := r.Run(ctx, "run-1", job)
	require.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, attempts)
	assert.Zero(t, fetcher.calls())
}

func TestNewDefaultsZeroPolicy(t *testing.T) {
	t.Parallel()

	r := New(nil, nil, nil, fakeClock{}, results.RetryPolicy{}, nil, nil)
	assert.Equal(t, results.DefaultRetryPolicy(), r.policy)
}

// scriptedFetcher returns errs in order, then succeeds.
type scriptedFetcher struct {
	mu   sync.Mutex
	errs []error
	n    int
}

func (f *scriptedFetcher) Fetch(_ context.Context, j results.RollJob) (results.ResultRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.n++
	if f.n <= len(f.errs) {
		return results.ResultRecord{}, f.errs[f.n-1]
	}
	return results.ResultRecord{Name: "ASHA", RollNo: j.RollNo(), SGPA: "8.0"}, nil
}

func (f *scriptedFetcher) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.n
}

type fakeCollector struct {
	mu   sync.Mutex
	recs []results.ResultRecord
	err  error
}

func (c *fakeCollector) Append(_ context.Context, _ string, rec results.ResultRecord) error {
	if c.err != nil {
		return c.err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.recs = append(c.recs, rec)
	return nil
}

func (c *fakeCollector) records() []results.ResultRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]results.ResultRecord(nil), c.recs...)
}

type fakeSleeper struct {
	mu      sync.Mutex
	slept   []time.Duration
	onSleep func()
}

func (s *fakeSleeper) Sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.slept = append(s.slept, d)
	s.mu.Unlock()
	if s.onSleep != nil {
		s.onSleep()
	}
	return ctx.Err()
}

func (s *fakeSleeper) waits() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.slept...)
}

type fakeClock struct{}

func (fakeClock) Now() time.Time { return time.Unix(1_700_000_000, 0) }

type recordingEmitter struct {
	mu     sync.Mutex
	events []progress.Event
}

func (e *recordingEmitter) Emit(evt progress.Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, evt)
}

func (e *recordingEmitter) count(stage progress.Stage) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for _, evt := range e.events {
		if evt.Stage == stage {
			n++
		}
	}
	return n
}
