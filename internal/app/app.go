// Package app initializes and holds the services a run needs, acting as a dependency injection container.
package app

import (
	"context"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/largest-banks-etl/internal/archive"
	"github.com/JakeFAU/largest-banks-etl/internal/clock/system"
	"github.com/JakeFAU/largest-banks-etl/internal/config"
	"github.com/JakeFAU/largest-banks-etl/internal/extract"
	collyfetcher "github.com/JakeFAU/largest-banks-etl/internal/fetcher/colly"
	"github.com/JakeFAU/largest-banks-etl/internal/id/uuid"
	"github.com/JakeFAU/largest-banks-etl/internal/metrics"
	"github.com/JakeFAU/largest-banks-etl/internal/pipeline"
	"github.com/JakeFAU/largest-banks-etl/internal/progress"
	"github.com/JakeFAU/largest-banks-etl/internal/progress/sinks"
	"github.com/JakeFAU/largest-banks-etl/internal/publisher/pubsub"
	"github.com/JakeFAU/largest-banks-etl/internal/sink/csvfile"
	"github.com/JakeFAU/largest-banks-etl/internal/sink/xlsx"
	"github.com/JakeFAU/largest-banks-etl/internal/storage/gcs"
	"github.com/JakeFAU/largest-banks-etl/internal/storage/local"
	"github.com/JakeFAU/largest-banks-etl/internal/storage/memory"
	"github.com/JakeFAU/largest-banks-etl/internal/storage/postgres"
	"github.com/JakeFAU/largest-banks-etl/internal/telemetry"
)

// App holds the shared services for one process. It is built once at startup
// from the loaded configuration and closed when the command finishes.
type App struct {
	cfg       config.Config
	logger    *zap.Logger
	metrics   *metrics.Recorder
	progress  *sinks.PrometheusSink
	location  *time.Location
	blobStore archive.BlobStore
	publisher pipeline.Publisher
	opener    pipeline.TableOpener
	closers   []func() error
}

// Option customizes NewApp, mainly so tests can swap external services.
type Option func(*App)

// WithBlobStore overrides the snapshot store chosen by archive.provider.
func WithBlobStore(store archive.BlobStore) Option {
	return func(a *App) { a.blobStore = store }
}

// WithPublisher overrides the Pub/Sub publisher.
func WithPublisher(p pipeline.Publisher) Option {
	return func(a *App) { a.publisher = p }
}

// WithTableOpener overrides how the relational sink is opened.
func WithTableOpener(open pipeline.TableOpener) Option {
	return func(a *App) { a.opener = open }
}

// NewApp creates the container. It fails fast if any configured service
// cannot be initialized; services that are not configured stay nil.
func NewApp(ctx context.Context, cfg config.Config, logger *zap.Logger, opts ...Option) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{cfg: cfg, logger: logger, metrics: metrics.New()}
	for _, opt := range opts {
		opt(a)
	}

	loc, err := system.LoadLocation(cfg.Progress.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load progress.timezone: %w", err)
	}
	a.location = loc

	a.progress, err = sinks.NewPrometheusSink(a.metrics.Registry())
	if err != nil {
		return nil, err
	}

	tp, err := telemetry.InitTracerProvider(ctx, telemetry.ServiceName)
	if err != nil {
		return nil, fmt.Errorf("init tracing: %w", err)
	}
	a.closers = append(a.closers, func() error {
		return tp.Shutdown(context.Background())
	})

	if a.blobStore == nil {
		if err := a.initBlobStore(ctx); err != nil {
			a.Close()
			return nil, err
		}
	}
	if a.publisher == nil && cfg.PubSub.TopicName != "" {
		logger.Info("connecting to pubsub", zap.String("topic", cfg.PubSub.TopicName))
		pub, err := pubsub.Open(ctx, cfg.PubSub.ProjectID, cfg.PubSub.TopicName)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("init publisher: %w", err)
		}
		a.publisher = pub
		a.closers = append(a.closers, pub.Close)
	}
	if a.opener == nil {
		a.opener = a.openPostgres
	}

	logger.Info("application services initialized",
		zap.String("archive", cfg.Archive.Provider),
		zap.Bool("notify", a.publisher != nil),
		zap.Bool("workbook", cfg.Output.XLSXPath != ""),
	)
	return a, nil
}

func (a *App) initBlobStore(ctx context.Context) error {
	switch a.cfg.Archive.Provider {
	case config.ArchiveNone, "":
		return nil
	case config.ArchiveMemory:
		a.blobStore = memory.NewBlobStore()
	case config.ArchiveLocal:
		store, err := local.New(local.Config{BaseDir: a.cfg.Archive.LocalDir})
		if err != nil {
			return fmt.Errorf("init local archive: %w", err)
		}
		a.blobStore = store
	case config.ArchiveGCS:
		a.logger.Info("using gcs archive", zap.String("bucket", a.cfg.Archive.GCSBucket))
		store, err := gcs.Open(ctx, gcs.Config{Bucket: a.cfg.Archive.GCSBucket})
		if err != nil {
			return fmt.Errorf("init gcs archive: %w", err)
		}
		a.blobStore = store
		a.closers = append(a.closers, store.Close)
	default:
		return fmt.Errorf("unknown archive provider: %s", a.cfg.Archive.Provider)
	}
	return nil
}

func (a *App) openPostgres(ctx context.Context) (pipeline.TableStore, error) {
	store, err := postgres.Open(ctx, postgres.Config{
		DSN:             a.cfg.DB.DSN,
		Table:           a.cfg.DB.Table,
		MaxConns:        a.cfg.DB.MaxConns,
		MaxConnLifetime: a.cfg.ConnLifetime(),
	})
	if err != nil {
		return nil, err
	}
	return store, nil
}

// GetLogger returns the shared zap logger.
func (a *App) GetLogger() *zap.Logger {
	return a.logger
}

// GetMetrics returns the run metrics recorder.
func (a *App) GetMetrics() *metrics.Recorder {
	return a.metrics
}

// NewPipeline assembles a pipeline for a single run, printing report output to out.
func (a *App) NewPipeline(out io.Writer) (*pipeline.Pipeline, error) {
	runID, err := uuid.New().NewRunID()
	if err != nil {
		return nil, err
	}
	clock := system.New(a.location)
	logger := a.logger.With(zap.String("run_id", runID.String()))

	fileSink, err := sinks.NewFileSink(a.cfg.Progress.LogPath)
	if err != nil {
		return nil, err
	}
	csvSink, err := csvfile.New(a.cfg.Output.CSVPath)
	if err != nil {
		return nil, err
	}

	deps := pipeline.Deps{
		Fetcher: collyfetcher.New(collyfetcher.Config{
			UserAgent: a.cfg.Source.UserAgent,
			Timeout:   a.cfg.FetchTimeout(),
		}, logger),
		Extractor: extract.New(extract.Options{StripFootnotes: a.cfg.Extract.StripFootnotes}),
		CSV:       csvSink,
		OpenTable: a.opener,
		Progress:  progress.NewLogger(runID, clock, fileSink, sinks.NewLogSink(logger), a.progress),
		Metrics:   a.metrics,
		Clock:     clock,
		Out:       out,
		Logger:    a.logger,
	}
	if a.cfg.Output.XLSXPath != "" {
		book, err := xlsx.New(a.cfg.Output.XLSXPath, a.cfg.Output.XLSXSheet)
		if err != nil {
			return nil, err
		}
		deps.Extra = append(deps.Extra, book)
	}
	if a.blobStore != nil {
		deps.Archiver = archive.New(a.blobStore, a.cfg.Archive.Prefix, clock)
	}
	if a.publisher != nil {
		deps.Publisher = a.publisher
	}

	return pipeline.New(pipeline.Config{
		RunID:           runID,
		SourceURL:       a.cfg.Source.URL,
		RatesPath:       a.cfg.Transform.RatesPath,
		CSVPath:         a.cfg.Output.CSVPath,
		MetricsTextfile: a.cfg.Metrics.TextfilePath,
	}, deps)
}

// Close shuts down every owned client and flushes the logger.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("error closing service", zap.Error(err))
		}
	}
	a.closers = nil
	_ = a.logger.Sync()
}
