package pipeline

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/JakeFAU/largest-banks-etl/internal/archive"
	"github.com/JakeFAU/largest-banks-etl/internal/banks"
	"github.com/JakeFAU/largest-banks-etl/internal/currency"
	"github.com/JakeFAU/largest-banks-etl/internal/extract"
	collyfetcher "github.com/JakeFAU/largest-banks-etl/internal/fetcher/colly"
	"github.com/JakeFAU/largest-banks-etl/internal/metrics"
	"github.com/JakeFAU/largest-banks-etl/internal/progress"
	"github.com/JakeFAU/largest-banks-etl/internal/progress/sinks"
	pubmemory "github.com/JakeFAU/largest-banks-etl/internal/publisher/memory"
	"github.com/JakeFAU/largest-banks-etl/internal/sink/csvfile"
	"github.com/JakeFAU/largest-banks-etl/internal/storage/memory"
	"github.com/JakeFAU/largest-banks-etl/internal/storage/postgres"
)

const sourceURL = "https://web.archive.org/web/20230908091635/https://en.wikipedia.org/wiki/List_of_largest_banks"

const pageTwoBanks = `<html><body><table><tbody>
<tr><th>Rank</th><th>Bank name</th><th>Market cap</th></tr>
<tr><td>1</td><td><a href="/wiki/JPMorgan_Chase">JPMorgan Chase</a></td><td>432.92</td></tr>
<tr><td>2</td><td>Bank of America</td><td>231.52</td></tr>
</tbody></table></body></html>`

const pageOneBank = `<html><body><table><tbody>
<tr><th>Rank</th><th>Bank name</th><th>Market cap</th></tr>
<tr><td>1</td><td><a href="/wiki/HSBC">HSBC</a></td><td>100</td></tr>
</tbody></table></body></html>`

var allMessages = []string{
	MsgPreliminaries,
	MsgExtractStarted,
	MsgExtractDone,
	MsgTransformDone,
	MsgLoadingCSV,
	MsgCSVSaved,
	MsgConnecting,
	MsgConnected,
	MsgLoadingDB,
	MsgLoadedDB,
	MsgProcessComplete,
	MsgJobEnded,
}

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

type stubFetcher struct {
	body  string
	err   error
	calls int
}

func (f *stubFetcher) Fetch(_ context.Context, url string) (collyfetcher.Page, error) {
	f.calls++
	if f.err != nil {
		return collyfetcher.Page{}, f.err
	}
	return collyfetcher.Page{URL: url, StatusCode: 200, Body: []byte(f.body)}, nil
}

type recordingSink struct {
	events []progress.Event
}

func (s *recordingSink) Consume(_ context.Context, evt progress.Event) error {
	s.events = append(s.events, evt)
	return nil
}

func (s *recordingSink) messages() []string {
	out := make([]string, 0, len(s.events))
	for _, evt := range s.events {
		out = append(out, evt.Message)
	}
	return out
}

type trackedStore struct {
	*postgres.TableStore
	closed int
}

// Close only counts; the mock pool is shared across runs.
func (s *trackedStore) Close() {
	s.closed++
}

type harness struct {
	pipeline *Pipeline
	fetcher  *stubFetcher
	mock     pgxmock.PgxPoolIface
	store    *trackedStore
	opened   int
	events   *recordingSink
	out      *bytes.Buffer
	csvPath  string
	blobs    *memory.BlobStore
	pub      *pubmemory.Publisher
	metrics  *metrics.Recorder
}

func writeRates(t *testing.T, dir string, content string) string {
	t.Helper()
	path := filepath.Join(dir, "exchange_rate.csv")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func newHarness(t *testing.T, body string, rates string) *harness {
	t.Helper()

	dir := t.TempDir()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	base, err := postgres.NewTableStoreWithPool(mock, "Largest_banks")
	require.NoError(t, err)

	clock := fixedClock{t: time.Date(2023, time.September, 8, 9, 16, 35, 0, time.UTC)}
	h := &harness{
		fetcher: &stubFetcher{body: body},
		mock:    mock,
		store:   &trackedStore{TableStore: base},
		events:  &recordingSink{},
		out:     &bytes.Buffer{},
		csvPath: filepath.Join(dir, "out", "Largest_banks_data.csv"),
		blobs:   memory.NewBlobStore(),
		pub:     pubmemory.New(),
		metrics: metrics.New(),
	}

	csvSink, err := csvfile.New(h.csvPath)
	require.NoError(t, err)

	runID := uuid.MustParse("01890a5d-ac96-774b-bcce-b302099a8057")
	p, err := New(Config{
		RunID:     runID,
		SourceURL: sourceURL,
		RatesPath: writeRates(t, dir, rates),
		CSVPath:   h.csvPath,
	}, Deps{
		Fetcher:   h.fetcher,
		Extractor: extract.New(extract.Options{StripFootnotes: true}),
		CSV:       csvSink,
		OpenTable: func(context.Context) (TableStore, error) {
			h.opened++
			return h.store, nil
		},
		Progress:  progress.NewLogger(runID, clock, h.events),
		Archiver:  archive.New(h.blobs, "snapshots", clock),
		Publisher: h.pub,
		Metrics:   h.metrics,
		Clock:     clock,
		Out:       h.out,
	})
	require.NoError(t, err)
	h.pipeline = p
	return h
}

func (h *harness) expectLoad(rows []banks.ConvertedRecord) {
	h.mock.ExpectBegin()
	h.mock.ExpectExec(regexp.QuoteMeta(`DROP TABLE IF EXISTS "Largest_banks"`)).
		WillReturnResult(pgxmock.NewResult("DROP TABLE", 0))
	h.mock.ExpectExec(regexp.QuoteMeta(`CREATE TABLE "Largest_banks"`)).
		WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	h.mock.ExpectCopyFrom(pgx.Identifier{"Largest_banks"}, banks.Columns()).
		WillReturnResult(int64(len(rows)))
	h.mock.ExpectCommit()

	all := pgxmock.NewRows(banks.Columns())
	avg := 0.0
	names := pgxmock.NewRows([]string{banks.ColumnName})
	for _, r := range rows {
		all.AddRow(r.Values()...)
		avg += r.MarketCapGBP
		names.AddRow(r.Name)
	}
	if len(rows) > 0 {
		avg /= float64(len(rows))
	}
	h.mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "Largest_banks"`)).WillReturnRows(all)
	h.mock.ExpectQuery(regexp.QuoteMeta(`SELECT AVG("MC_GBP_Billion") FROM "Largest_banks"`)).
		WillReturnRows(pgxmock.NewRows([]string{"avg"}).AddRow(avg))
	h.mock.ExpectQuery(regexp.QuoteMeta(`SELECT "Name" FROM "Largest_banks" LIMIT 5`)).WillReturnRows(names)
}

const rates = "Currency,Rate\nEUR,0.93\nGBP,0.8\nINR,82.95\n"

func twoBanks() []banks.ConvertedRecord {
	return []banks.ConvertedRecord{
		{
			Record:       banks.Record{Name: "JPMorgan Chase", MarketCapUSD: 432.92},
			MarketCapGBP: 346.34, MarketCapEUR: 402.62, MarketCapINR: 35910.71,
		},
		{
			Record:       banks.Record{Name: "Bank of America", MarketCapUSD: 231.52},
			MarketCapGBP: 185.22, MarketCapEUR: 215.31, MarketCapINR: 19204.58,
		},
	}
}

func TestRunWritesEveryStageInOrder(t *testing.T) {
	t.Parallel()

	h := newHarness(t, pageTwoBanks, rates)
	h.expectLoad(twoBanks())

	summary, err := h.pipeline.Run(context.Background())
	require.NoError(t, err)
	require.NoError(t, h.mock.ExpectationsWereMet())

	assert.Equal(t, allMessages, h.events.messages())
	assert.Equal(t, progress.StageInit, h.events.events[0].Stage)
	assert.Equal(t, progress.StageClose, h.events.events[len(h.events.events)-1].Stage)
	assert.Equal(t, 1, h.opened)
	assert.Equal(t, 1, h.store.closed)

	csvBytes, err := os.ReadFile(h.csvPath)
	require.NoError(t, err)
	assert.Equal(t,
		",Name,MC_USD_Billion,MC_GBP_Billion,MC_EUR_Billion,MC_INR_Billion\n"+
			"0,JPMorgan Chase,432.92,346.34,402.62,35910.71\n"+
			"1,Bank of America,231.52,185.22,215.31,19204.58\n",
		string(csvBytes))

	out := h.out.String()
	transformed := strings.Index(out, "Transformed Data")
	ready := strings.Index(out, "Table is ready")
	q1 := strings.Index(out, `SELECT * FROM "Largest_banks"`)
	q2 := strings.Index(out, `SELECT AVG("MC_GBP_Billion") FROM "Largest_banks"`)
	q3 := strings.Index(out, `SELECT "Name" FROM "Largest_banks" LIMIT 5`)
	assert.True(t, transformed >= 0 && transformed < ready && ready < q1 && q1 < q2 && q2 < q3, out)
	assert.Contains(t, out, "Bank of America")

	assert.Equal(t, 2, summary.Records)
	assert.Equal(t, "Largest_banks", summary.Table)
	assert.Equal(t, h.csvPath, summary.CSVPath)
	assert.Equal(t, "01890a5d-ac96-774b-bcce-b302099a8057", summary.RunID)
	assert.True(t, strings.HasPrefix(summary.SnapshotURI, "memory://snapshots/2023/09/08/"), summary.SnapshotURI)
	assert.Equal(t, 1, h.blobs.Len())

	msgs := h.pub.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, summary, msgs[0])

	series, err := testutil.GatherAndCount(h.metrics.Registry(), "banks_etl_records")
	require.NoError(t, err)
	assert.Equal(t, 4, series)
}

func TestRunTwiceReplacesOutputs(t *testing.T) {
	t.Parallel()

	h := newHarness(t, pageTwoBanks, rates)
	h.expectLoad(twoBanks())
	_, err := h.pipeline.Run(context.Background())
	require.NoError(t, err)
	first, err := os.ReadFile(h.csvPath)
	require.NoError(t, err)

	h.expectLoad(twoBanks())
	_, err = h.pipeline.Run(context.Background())
	require.NoError(t, err)
	second, err := os.ReadFile(h.csvPath)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	h.fetcher.body = pageOneBank
	h.expectLoad([]banks.ConvertedRecord{{
		Record:       banks.Record{Name: "HSBC", MarketCapUSD: 100},
		MarketCapGBP: 80, MarketCapEUR: 93, MarketCapINR: 8295,
	}})
	_, err = h.pipeline.Run(context.Background())
	require.NoError(t, err)
	third, err := os.ReadFile(h.csvPath)
	require.NoError(t, err)
	assert.Equal(t,
		",Name,MC_USD_Billion,MC_GBP_Billion,MC_EUR_Billion,MC_INR_Billion\n"+
			"0,HSBC,100.0,80.0,93.0,8295.0\n",
		string(third))

	require.NoError(t, h.mock.ExpectationsWereMet())
	assert.Equal(t, 3, h.store.closed)
	assert.Len(t, h.events.events, 3*len(allMessages))
}

func TestRunMissingRateFailsBeforeAnySink(t *testing.T) {
	t.Parallel()

	h := newHarness(t, pageTwoBanks, "Currency,Rate\nEUR,0.93\nGBP,0.8\n")

	_, err := h.pipeline.Run(context.Background())
	require.ErrorIs(t, err, currency.ErrMissingRate)

	_, statErr := os.Stat(h.csvPath)
	assert.True(t, errors.Is(statErr, os.ErrNotExist), "csv must not be written")
	assert.Equal(t, 0, h.opened)
	assert.Equal(t, allMessages[:3], h.events.messages())
	assert.Empty(t, h.pub.Messages())
	assert.NotContains(t, h.out.String(), "Transformed Data")
}

func TestRunFetchFailureStopsRun(t *testing.T) {
	t.Parallel()

	h := newHarness(t, pageTwoBanks, rates)
	h.fetcher.err = errors.New("status 503: service unavailable")

	_, err := h.pipeline.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "fetch "+sourceURL)
	assert.Equal(t, allMessages[:2], h.events.messages())
	assert.Equal(t, 0, h.blobs.Len())
}

func TestRunExtractFailure(t *testing.T) {
	t.Parallel()

	h := newHarness(t, "<html><body><p>no table</p></body></html>", rates)

	_, err := h.pipeline.Run(context.Background())
	require.ErrorIs(t, err, extract.ErrNoTable)
	assert.Equal(t, allMessages[:2], h.events.messages())
}

func TestRunClosesStoreWhenLoadFails(t *testing.T) {
	t.Parallel()

	h := newHarness(t, pageTwoBanks, rates)
	h.mock.ExpectBegin().WillReturnError(errors.New("connection reset"))

	_, err := h.pipeline.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load table Largest_banks")
	assert.Equal(t, 1, h.store.closed)
	assert.Equal(t, allMessages[:9], h.events.messages())
	assert.NotContains(t, h.out.String(), "Table is ready")
}

func TestRunOpenFailure(t *testing.T) {
	t.Parallel()

	h := newHarness(t, pageTwoBanks, rates)
	h.pipeline.deps.OpenTable = func(context.Context) (TableStore, error) {
		return nil, errors.New("dial tcp: connection refused")
	}

	_, err := h.pipeline.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connect: dial tcp")
	assert.Equal(t, allMessages[:7], h.events.messages())
	_, statErr := os.Stat(h.csvPath)
	assert.NoError(t, statErr, "csv is written before the connection stage")
}

func TestRunWithFileProgressLog(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	logPath := filepath.Join(dir, "logs", "code_log.txt")
	fileSink, err := sinks.NewFileSink(logPath)
	require.NoError(t, err)

	h := newHarness(t, pageTwoBanks, rates)
	clock := fixedClock{t: time.Date(2023, time.September, 8, 9, 16, 35, 0, time.UTC)}
	h.pipeline.deps.Progress = progress.NewLogger(uuid.New(), clock, fileSink)
	h.expectLoad(twoBanks())

	_, err = h.pipeline.Run(context.Background())
	require.NoError(t, err)

	data, err := os.ReadFile(logPath)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSuffix(string(data), "\n"), "\n")
	require.Len(t, lines, len(allMessages))
	assert.Equal(t, "2023-Sep-08-09:16:35:Preliminaries complete. Initiating ETL process.", lines[0])
	assert.Equal(t, "2023-Sep-08-09:16:35:ETL Job Ended", lines[len(lines)-1])
}

func TestNewRequiresCollaborators(t *testing.T) {
	t.Parallel()

	_, err := New(Config{SourceURL: sourceURL, RatesPath: "rates.csv"}, Deps{})
	assert.EqualError(t, err, "fetcher is required")

	_, err = New(Config{}, Deps{
		Fetcher:   &stubFetcher{},
		Extractor: extract.New(extract.Options{}),
		CSV:       &csvfile.Sink{},
		OpenTable: func(context.Context) (TableStore, error) { return nil, nil },
		Progress:  progress.NewLogger(uuid.New(), fixedClock{}),
		Clock:     fixedClock{},
		Out:       &bytes.Buffer{},
	})
	assert.EqualError(t, err, "source url is required")
}

func spanRecorder(t *testing.T, p *Pipeline) *tracetest.SpanRecorder {
	t.Helper()
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	p.tracer = tp.Tracer("test")
	return recorder
}

func TestRunRecordsStageSpans(t *testing.T) {
	t.Parallel()

	h := newHarness(t, pageTwoBanks, rates)
	recorder := spanRecorder(t, h.pipeline)
	h.expectLoad(twoBanks())

	_, err := h.pipeline.Run(context.Background())
	require.NoError(t, err)

	var names []string
	for _, span := range recorder.Ended() {
		names = append(names, span.Name())
	}
	assert.Equal(t, []string{"EXTRACT", "TRANSFORM", "WRITE_FILE", "CONNECT", "WRITE_DB", "QUERY", "etl.run"}, names)
}

func TestRunMarksFailedSpan(t *testing.T) {
	t.Parallel()

	h := newHarness(t, pageTwoBanks, "Currency,Rate\nGBP,0.8\n")
	recorder := spanRecorder(t, h.pipeline)

	_, err := h.pipeline.Run(context.Background())
	require.Error(t, err)

	ended := recorder.Ended()
	require.Len(t, ended, 3)
	assert.Equal(t, "TRANSFORM", ended[1].Name())
	assert.Equal(t, codes.Error, ended[1].Status().Code)
	assert.Equal(t, "etl.run", ended[2].Name())
	assert.Equal(t, codes.Error, ended[2].Status().Code)
}
