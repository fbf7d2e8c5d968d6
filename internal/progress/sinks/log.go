package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/bulk-result-crawler/internal/progress"
)

// LogSink writes every progress event as a structured log line.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume logs each event. Failed attempts and failed runs log at warn.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		fields := []zap.Field{
			zap.String("run_id", evt.RunID),
			zap.String("stage", string(evt.Stage)),
			zap.Time("ts", evt.TS),
		}
		if evt.Roll > 0 {
			fields = append(fields, zap.Int("roll", evt.Roll))
		}
		if evt.Batch > 0 {
			fields = append(fields, zap.Int("batch", evt.Batch))
		}
		if evt.Attempt > 0 {
			fields = append(fields, zap.Int("attempt", evt.Attempt))
		}
		if evt.Dur > 0 {
			fields = append(fields, zap.Duration("dur", evt.Dur))
		}
		if evt.Note != "" {
			fields = append(fields, zap.String("note", evt.Note))
		}
		switch evt.Stage {
		case progress.StageAttemptFailed, progress.StageRollFailed, progress.StageRunError:
			s.logger.Warn("progress event", fields...)
		default:
			s.logger.Info("progress event", fields...)
		}
	}
	return nil
}

// Close implements progress.Sink.
func (s *LogSink) Close(context.Context) error {
	return nil
}
