package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/largest-banks-etl/internal/progress"
)

// LogSink mirrors progress markers into the structured application log.
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

// Consume logs the event using structured fields.
func (s *LogSink) Consume(_ context.Context, evt progress.Event) error {
	s.logger.Info(evt.Message,
		zap.String("run_id", evt.RunID.String()),
		zap.String("stage", string(evt.Stage)),
		zap.Time("at", evt.TS),
	)
	return nil
}
