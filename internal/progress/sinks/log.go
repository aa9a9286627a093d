// Package sinks provides Sink implementations for the progress hub.
package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/mechdocs/harvester/internal/progress"
)

// LogSink mirrors the progress stream into structured logs. Useful during
// development or when no UI is attached.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a Zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume logs each event in the batch at its own level.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		fields := []zap.Field{
			zap.Time("ts", evt.TS),
			zap.String("job_id", evt.JobID),
			zap.String("site", evt.Site),
			zap.String("url", evt.URL),
		}
		switch evt.Level {
		case progress.LevelDebug:
			s.logger.Debug(evt.Message, fields...)
		case progress.LevelWarn:
			s.logger.Warn(evt.Message, fields...)
		case progress.LevelError:
			s.logger.Error(evt.Message, fields...)
		default:
			s.logger.Info(evt.Message, fields...)
		}
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
