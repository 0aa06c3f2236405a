package sinks

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/largest-banks-etl/internal/progress"
)

// PrometheusSink counts progress markers per stage.
type PrometheusSink struct {
	events *prometheus.CounterVec
}

// NewPrometheusSink registers the collector against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "banks_etl_progress_events_total",
			Help: "Progress markers emitted, partitioned by pipeline stage.",
		}, []string{"stage"}),
	}
	if err := reg.Register(s.events); err != nil {
		return nil, fmt.Errorf("register progress collector: %w", err)
	}
	return s, nil
}

// Consume increments the stage counter.
func (s *PrometheusSink) Consume(_ context.Context, evt progress.Event) error {
	s.events.WithLabelValues(string(evt.Stage)).Inc()
	return nil
}
