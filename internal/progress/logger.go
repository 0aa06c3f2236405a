package progress

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// Logger fans stage markers out to its sinks.
type Logger struct {
	runID uuid.UUID
	clock Clock
	sinks []Sink
}

// NewLogger returns a Logger stamping events with runID and clock.Now.
func NewLogger(runID uuid.UUID, clock Clock, sinks ...Sink) *Logger {
	return &Logger{
		runID: runID,
		clock: clock,
		sinks: append([]Sink(nil), sinks...),
	}
}

// RunID returns the run identifier attached to every event.
func (l *Logger) RunID() uuid.UUID {
	return l.runID
}

// Log builds an event and delivers it to each sink in order.
func (l *Logger) Log(ctx context.Context, stage Stage, message string) error {
	evt := Event{
		RunID:   l.runID,
		TS:      l.clock.Now(),
		Stage:   stage,
		Message: message,
	}
	if err := evt.Validate(); err != nil {
		return fmt.Errorf("invalid progress event: %w", err)
	}
	for _, sink := range l.sinks {
		if err := sink.Consume(ctx, evt); err != nil {
			return fmt.Errorf("progress sink: %w", err)
		}
	}
	return nil
}
