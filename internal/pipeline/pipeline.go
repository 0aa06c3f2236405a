// Package pipeline runs the fixed extract, transform and load sequence for
// the largest-banks table.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/largest-banks-etl/internal/banks"
	"github.com/JakeFAU/largest-banks-etl/internal/currency"
	"github.com/JakeFAU/largest-banks-etl/internal/progress"
	"github.com/JakeFAU/largest-banks-etl/internal/query"
)

// Progress markers, in the order they are written.
const (
	MsgPreliminaries   = "Preliminaries complete. Initiating ETL process."
	MsgExtractStarted  = "Extract phase Started"
	MsgExtractDone     = "Data extraction complete. Initiating Transformation process."
	MsgTransformDone   = "Data transformation complete. Initiating loading process."
	MsgLoadingCSV      = "Loading data to CSV"
	MsgCSVSaved        = "Data saved to CSV file."
	MsgConnecting      = "Initiating Connection to SQL"
	MsgConnected       = "SQL Connection initiated."
	MsgLoadingDB       = "Loading data to Database"
	MsgLoadedDB        = "Data loaded to Database as table. Running the query."
	MsgProcessComplete = "Process Complete."
	MsgJobEnded        = "ETL Job Ended"
)

// Stdout markers.
const (
	transformedHeader = "Transformed Data"
	tableReady        = "Table is ready"
)

// Config carries the per-run settings the pipeline needs directly.
type Config struct {
	RunID     uuid.UUID
	SourceURL string
	RatesPath string
	// CSVPath is reported in the run summary.
	CSVPath string
	// MetricsTextfile is where the metrics registry is flushed; empty skips it.
	MetricsTextfile string
}

// Deps are the collaborators of a run. Archiver, Publisher and Metrics are
// optional.
type Deps struct {
	Fetcher   Fetcher
	Extractor Extractor
	CSV       RecordSink
	// Extra sinks run after the CSV file, e.g. the workbook.
	Extra     []RecordSink
	OpenTable TableOpener
	Progress  progress.Emitter
	Archiver  Archiver
	Publisher Publisher
	Metrics   Metrics
	Clock     Clock
	Out       io.Writer
	Logger    *zap.Logger
	// Tracer defaults to the global provider's tracer.
	Tracer trace.Tracer
}

// Summary describes a completed run and is the notification payload.
type Summary struct {
	RunID       string    `json:"run_id"`
	Records     int       `json:"records"`
	CSVPath     string    `json:"csv_path"`
	Table       string    `json:"table"`
	SnapshotURI string    `json:"snapshot_uri,omitempty"`
	FinishedAt  time.Time `json:"finished_at"`
}

// Pipeline executes one run at a time.
type Pipeline struct {
	cfg    Config
	deps   Deps
	logger *zap.Logger
	tracer trace.Tracer
}

const tracerName = "github.com/JakeFAU/largest-banks-etl/internal/pipeline"

// New validates the required collaborators.
func New(cfg Config, deps Deps) (*Pipeline, error) {
	switch {
	case deps.Fetcher == nil:
		return nil, errors.New("fetcher is required")
	case deps.Extractor == nil:
		return nil, errors.New("extractor is required")
	case deps.CSV == nil:
		return nil, errors.New("csv sink is required")
	case deps.OpenTable == nil:
		return nil, errors.New("table opener is required")
	case deps.Progress == nil:
		return nil, errors.New("progress emitter is required")
	case deps.Clock == nil:
		return nil, errors.New("clock is required")
	case deps.Out == nil:
		return nil, errors.New("output writer is required")
	}
	if cfg.SourceURL == "" {
		return nil, errors.New("source url is required")
	}
	if cfg.RatesPath == "" {
		return nil, errors.New("rates path is required")
	}
	if deps.Metrics == nil {
		deps.Metrics = nopMetrics{}
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	tracer := deps.Tracer
	if tracer == nil {
		tracer = otel.Tracer(tracerName)
	}
	return &Pipeline{
		cfg:    cfg,
		deps:   deps,
		logger: logger.With(zap.String("run_id", cfg.RunID.String())),
		tracer: tracer,
	}, nil
}

// Run executes every stage in order. The first failure aborts the run; the
// table store, once opened, is closed on every path.
func (p *Pipeline) Run(ctx context.Context) (summary Summary, err error) {
	ctx, span := p.tracer.Start(ctx, "etl.run", trace.WithAttributes(
		attribute.String("run_id", p.cfg.RunID.String()),
		attribute.String("source_url", p.cfg.SourceURL),
	))
	defer func() {
		if err != nil {
			fail(span, err)
		}
		span.End()
	}()

	summary = Summary{RunID: p.cfg.RunID.String(), CSVPath: p.cfg.CSVPath}

	if err := p.mark(ctx, progress.StageInit, MsgPreliminaries); err != nil {
		return summary, err
	}

	if err := p.mark(ctx, progress.StageExtract, MsgExtractStarted); err != nil {
		return summary, err
	}
	records, snapshotURI, err := p.extract(ctx)
	if err != nil {
		return summary, err
	}
	summary.SnapshotURI = snapshotURI
	if err := p.mark(ctx, progress.StageExtract, MsgExtractDone); err != nil {
		return summary, err
	}

	converted, err := p.transform(ctx, records)
	if err != nil {
		return summary, err
	}
	if err := p.mark(ctx, progress.StageTransform, MsgTransformDone); err != nil {
		return summary, err
	}

	if err := p.mark(ctx, progress.StageWriteFile, MsgLoadingCSV); err != nil {
		return summary, err
	}
	if err := p.writeFiles(ctx, converted); err != nil {
		return summary, err
	}
	if err := p.mark(ctx, progress.StageWriteFile, MsgCSVSaved); err != nil {
		return summary, err
	}

	if err := p.mark(ctx, progress.StageConnect, MsgConnecting); err != nil {
		return summary, err
	}
	store, err := p.connect(ctx)
	if err != nil {
		return summary, err
	}
	defer store.Close()
	summary.Table = store.Table()
	if err := p.mark(ctx, progress.StageConnect, MsgConnected); err != nil {
		return summary, err
	}

	if err := p.mark(ctx, progress.StageWriteDB, MsgLoadingDB); err != nil {
		return summary, err
	}
	if err := p.load(ctx, store, converted); err != nil {
		return summary, err
	}
	if err := p.mark(ctx, progress.StageWriteDB, MsgLoadedDB); err != nil {
		return summary, err
	}

	if err := p.report(ctx, store); err != nil {
		return summary, err
	}
	if err := p.mark(ctx, progress.StageQuery, MsgProcessComplete); err != nil {
		return summary, err
	}

	summary.Records = len(converted)
	summary.FinishedAt = p.deps.Clock.Now()
	p.deps.Metrics.MarkSuccess(summary.FinishedAt)
	if err := p.notify(ctx, summary); err != nil {
		return summary, err
	}
	if err := p.deps.Metrics.WriteTextfile(p.cfg.MetricsTextfile); err != nil {
		return summary, err
	}

	if err := p.mark(ctx, progress.StageClose, MsgJobEnded); err != nil {
		return summary, err
	}
	p.logger.Info("etl run finished", zap.Int("records", summary.Records), zap.String("table", summary.Table))
	return summary, nil
}

func (p *Pipeline) mark(ctx context.Context, stage progress.Stage, message string) error {
	if err := p.deps.Progress.Log(ctx, stage, message); err != nil {
		return fmt.Errorf("log progress %q: %w", message, err)
	}
	return nil
}

func (p *Pipeline) extract(ctx context.Context) ([]banks.Record, string, error) {
	ctx, span := p.tracer.Start(ctx, string(progress.StageExtract))
	defer span.End()

	start := time.Now()
	page, err := p.deps.Fetcher.Fetch(ctx, p.cfg.SourceURL)
	if err != nil {
		return nil, "", fail(span, fmt.Errorf("fetch %s: %w", p.cfg.SourceURL, err))
	}
	span.SetAttributes(attribute.Int("http.status_code", page.StatusCode), attribute.Int("bytes", len(page.Body)))
	p.deps.Metrics.ObserveFetch(p.cfg.SourceURL, page.StatusCode, len(page.Body))

	var snapshotURI string
	if p.deps.Archiver != nil {
		snap, err := p.deps.Archiver.Store(ctx, page.Body)
		if err != nil {
			return nil, "", fail(span, fmt.Errorf("archive page: %w", err))
		}
		snapshotURI = snap.URI
		p.logger.Debug("page archived", zap.String("uri", snap.URI), zap.String("sha256", snap.Hash))
	}

	records, err := p.deps.Extractor.Extract(page.Body, banks.BaseColumns())
	if err != nil {
		return nil, "", fail(span, fmt.Errorf("extract: %w", err))
	}
	span.SetAttributes(attribute.Int("records", len(records)))
	p.deps.Metrics.ObserveStage(string(progress.StageExtract), time.Since(start))
	p.deps.Metrics.SetRecords(string(progress.StageExtract), len(records))
	return records, snapshotURI, nil
}

func (p *Pipeline) transform(ctx context.Context, records []banks.Record) ([]banks.ConvertedRecord, error) {
	_, span := p.tracer.Start(ctx, string(progress.StageTransform))
	defer span.End()

	start := time.Now()
	rates, err := currency.LoadRates(p.cfg.RatesPath)
	if err != nil {
		return nil, fail(span, fmt.Errorf("transform: %w", err))
	}
	converted, err := currency.Convert(records, rates)
	if err != nil {
		return nil, fail(span, fmt.Errorf("transform: %w", err))
	}
	p.deps.Metrics.ObserveStage(string(progress.StageTransform), time.Since(start))
	p.deps.Metrics.SetRecords(string(progress.StageTransform), len(converted))

	if _, err := fmt.Fprintln(p.deps.Out, transformedHeader); err != nil {
		return nil, fmt.Errorf("print transformed data: %w", err)
	}
	rows := make([][]any, 0, len(converted))
	for _, rec := range converted {
		rows = append(rows, rec.Values())
	}
	if err := query.WriteTable(p.deps.Out, banks.Columns(), rows); err != nil {
		return nil, fmt.Errorf("print transformed data: %w", err)
	}
	return converted, nil
}

func (p *Pipeline) writeFiles(ctx context.Context, records []banks.ConvertedRecord) error {
	ctx, span := p.tracer.Start(ctx, string(progress.StageWriteFile))
	defer span.End()

	start := time.Now()
	if err := p.deps.CSV.Write(ctx, records); err != nil {
		return fail(span, fmt.Errorf("write csv: %w", err))
	}
	for _, sink := range p.deps.Extra {
		if err := sink.Write(ctx, records); err != nil {
			return fail(span, fmt.Errorf("write output: %w", err))
		}
	}
	p.deps.Metrics.ObserveStage(string(progress.StageWriteFile), time.Since(start))
	p.deps.Metrics.SetRecords(string(progress.StageWriteFile), len(records))
	return nil
}

func (p *Pipeline) connect(ctx context.Context) (TableStore, error) {
	ctx, span := p.tracer.Start(ctx, string(progress.StageConnect))
	defer span.End()

	start := time.Now()
	store, err := p.deps.OpenTable(ctx)
	if err != nil {
		return nil, fail(span, fmt.Errorf("connect: %w", err))
	}
	p.deps.Metrics.ObserveStage(string(progress.StageConnect), time.Since(start))
	return store, nil
}

func (p *Pipeline) load(ctx context.Context, store TableStore, records []banks.ConvertedRecord) error {
	ctx, span := p.tracer.Start(ctx, string(progress.StageWriteDB), trace.WithAttributes(attribute.String("db.table", store.Table())))
	defer span.End()

	start := time.Now()
	n, err := store.ReplaceTable(ctx, records)
	if err != nil {
		return fail(span, fmt.Errorf("load table %s: %w", store.Table(), err))
	}
	p.deps.Metrics.ObserveStage(string(progress.StageWriteDB), time.Since(start))
	p.deps.Metrics.SetRecords(string(progress.StageWriteDB), int(n))
	if _, err := fmt.Fprintln(p.deps.Out, tableReady); err != nil {
		return fmt.Errorf("print table status: %w", err)
	}
	return nil
}

func (p *Pipeline) report(ctx context.Context, store TableStore) error {
	ctx, span := p.tracer.Start(ctx, string(progress.StageQuery))
	defer span.End()

	start := time.Now()
	runner := query.NewRunner(store, p.deps.Out)
	for _, sql := range store.ReportQueries() {
		if err := runner.Run(ctx, sql); err != nil {
			return fail(span, fmt.Errorf("report: %w", err))
		}
	}
	p.deps.Metrics.ObserveStage(string(progress.StageQuery), time.Since(start))
	return nil
}

func (p *Pipeline) notify(ctx context.Context, summary Summary) error {
	if p.deps.Publisher == nil {
		return nil
	}
	id, err := p.deps.Publisher.Publish(ctx, summary)
	if err != nil {
		return fmt.Errorf("publish run summary: %w", err)
	}
	p.logger.Debug("run summary published", zap.String("message_id", id))
	return nil
}

// fail marks span as failed and returns err unchanged.
func fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

type nopMetrics struct{}

func (nopMetrics) ObserveStage(string, time.Duration) {}
func (nopMetrics) SetRecords(string, int)             {}
func (nopMetrics) ObserveFetch(string, int, int)      {}
func (nopMetrics) MarkSuccess(time.Time)              {}
func (nopMetrics) WriteTextfile(string) error         { return nil }
