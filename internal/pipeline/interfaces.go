package pipeline

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/largest-banks-etl/internal/archive"
	"github.com/JakeFAU/largest-banks-etl/internal/banks"
	collyfetcher "github.com/JakeFAU/largest-banks-etl/internal/fetcher/colly"
)

// Fetcher fetches a URL and returns the body plus metadata.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (collyfetcher.Page, error)
}

// Extractor turns page markup into base records.
type Extractor interface {
	Extract(markup []byte, columns []string) ([]banks.Record, error)
}

// RecordSink persists the converted record set.
type RecordSink interface {
	Write(ctx context.Context, records []banks.ConvertedRecord) error
}

// TableStore is the relational sink plus the read side used by the report queries.
type TableStore interface {
	ReplaceTable(ctx context.Context, records []banks.ConvertedRecord) (int64, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	ReportQueries() []string
	Table() string
	Close()
}

// TableOpener acquires a TableStore. The pipeline owns the returned store and
// closes it before Run returns.
type TableOpener func(ctx context.Context) (TableStore, error)

// Archiver keeps a copy of the raw page.
type Archiver interface {
	Store(ctx context.Context, body []byte) (archive.Snapshot, error)
}

// Publisher pushes run summaries to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, payload any) (string, error)
}

// Metrics records per-stage measurements.
type Metrics interface {
	ObserveStage(stage string, d time.Duration)
	SetRecords(stage string, n int)
	ObserveFetch(site string, status int, bytesFetched int)
	MarkSuccess(at time.Time)
	WriteTextfile(path string) error
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}
