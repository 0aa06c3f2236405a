// Package metrics exposes Prometheus collectors for the ETL job.
package metrics

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Recorder owns the job collectors. Batch jobs have no scrape endpoint, so
// the registry is flushed to a node-exporter textfile at the end of a run.
type Recorder struct {
	registry *prometheus.Registry

	stageDuration *prometheus.HistogramVec
	records       *prometheus.GaugeVec
	fetchBytes    *prometheus.CounterVec
	lastSuccess   prometheus.Gauge
}

// New builds a Recorder on a fresh registry.
func New() *Recorder {
	reg := prometheus.NewRegistry()
	r := &Recorder{
		registry: reg,
		stageDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "banks_etl_stage_duration_seconds",
				Help:    "Histogram of ETL stage durations, labeled by stage.",
				Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"stage"},
		),
		records: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "banks_etl_records",
				Help: "Number of records handled by the last run, labeled by stage.",
			},
			[]string{"stage"},
		),
		fetchBytes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "banks_etl_fetch_bytes_total",
				Help: "Total number of bytes fetched, labeled by site and status.",
			},
			[]string{"site", "status"},
		),
		lastSuccess: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "banks_etl_last_success_timestamp_seconds",
				Help: "Unix time of the last run that completed every stage.",
			},
		),
	}
	reg.MustRegister(r.stageDuration, r.records, r.fetchBytes, r.lastSuccess)
	return r
}

// Registry exposes the underlying registry so other collectors can join it.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// ObserveStage records how long a stage took.
func (r *Recorder) ObserveStage(stage string, d time.Duration) {
	r.stageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

// SetRecords records how many rows a stage produced.
func (r *Recorder) SetRecords(stage string, n int) {
	r.records.WithLabelValues(stage).Set(float64(n))
}

// ObserveFetch records the size of a fetched page.
func (r *Recorder) ObserveFetch(site string, status int, bytesFetched int) {
	if bytesFetched <= 0 {
		return
	}
	r.fetchBytes.WithLabelValues(SanitizeSite(site), strconv.Itoa(status)).Add(float64(bytesFetched))
}

// MarkSuccess stamps the last-success gauge.
func (r *Recorder) MarkSuccess(at time.Time) {
	r.lastSuccess.Set(float64(at.Unix()))
}

// WriteTextfile writes the registry in the text exposition format. An empty
// path is a no-op.
func (r *Recorder) WriteTextfile(path string) error {
	if path == "" {
		return nil
	}
	if err := prometheus.WriteToTextfile(path, r.registry); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}

// SanitizeSite sanitizes a URL to extract a lowercase hostname.
// It returns "unknown" if the URL is invalid.
func SanitizeSite(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}
