package sinks

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/bulk-result-crawler/internal/progress"
)

// PrometheusSink turns progress events into run, attempt and roll metrics.
type PrometheusSink struct {
	runsStarted   prometheus.Counter
	runsCompleted *prometheus.CounterVec
	runsActive    prometheus.Gauge
	runDuration   *prometheus.HistogramVec

	batches       prometheus.Counter
	attempts      *prometheus.CounterVec
	rolls         *prometheus.CounterVec
	batchDuration prometheus.Histogram
}

// NewPrometheusSink registers the collectors against reg.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		runsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "results_runs_started_total",
			Help: "Range runs that started.",
		}),
		runsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "results_runs_completed_total",
			Help: "Range runs finished, by result.",
		}, []string{"result"}),
		runsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "results_runs_active",
			Help: "Range runs currently executing.",
		}),
		runDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "results_run_duration_seconds",
			Help:    "Wall time per finished run.",
			Buckets: []float64{10, 30, 60, 300, 600, 1800, 3600, 7200},
		}, []string{"result"}),
		batches: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "results_batches_completed_total",
			Help: "Batches that finished.",
		}),
		attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "results_attempts_total",
			Help: "Portal attempts, by result.",
		}, []string{"result"}),
		rolls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "results_rolls_total",
			Help: "Roll numbers reaching a terminal state, by state.",
		}, []string{"state"}),
		batchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "results_batch_duration_seconds",
			Help:    "Wall time per batch.",
			Buckets: []float64{5, 10, 30, 60, 120, 300, 600},
		}),
	}
	for _, c := range []prometheus.Collector{
		s.runsStarted, s.runsCompleted, s.runsActive, s.runDuration,
		s.batches, s.attempts, s.rolls, s.batchDuration,
	} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the collectors from batch.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		s.consume(evt)
	}
	return nil
}

func (s *PrometheusSink) consume(evt progress.Event) {
	switch evt.Stage {
	case progress.StageRunStart:
		s.runsStarted.Inc()
		s.runsActive.Inc()
	case progress.StageRunDone:
		s.finishRun(evt, "success")
	case progress.StageRunError:
		s.finishRun(evt, "error")
	case progress.StageBatchDone:
		s.batches.Inc()
		if evt.Dur > 0 {
			s.batchDuration.Observe(evt.Dur.Seconds())
		}
	case progress.StageAttempt:
		s.attempts.WithLabelValues("started").Inc()
	case progress.StageAttemptFailed:
		s.attempts.WithLabelValues("failed").Inc()
	case progress.StageRollSucceeded:
		s.rolls.WithLabelValues("succeeded").Inc()
	case progress.StageRollNotFound:
		s.rolls.WithLabelValues("not_found").Inc()
	case progress.StageRollFailed:
		s.rolls.WithLabelValues("failed").Inc()
	}
}

func (s *PrometheusSink) finishRun(evt progress.Event, result string) {
	s.runsActive.Dec()
	s.runsCompleted.WithLabelValues(result).Inc()
	if evt.Dur > 0 {
		s.runDuration.WithLabelValues(result).Observe(evt.Dur.Seconds())
	}
}

// Close implements progress.Sink.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}
