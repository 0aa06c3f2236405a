package sinks

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/largest-banks-etl/internal/progress"
)

func TestFormatLine(t *testing.T) {
	t.Parallel()

	evt := progress.Event{
		TS:      time.Date(2024, time.March, 5, 14, 7, 9, 0, time.UTC),
		Stage:   progress.StageInit,
		Message: "Preliminaries complete. Initiating ETL process.",
	}
	assert.Equal(t, "2024-Mar-05-14:07:09:Preliminaries complete. Initiating ETL process.\n", FormatLine(evt))
}

func TestFileSinkAppends(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "logs", "code_log.txt")
	sink, err := NewFileSink(path)
	require.NoError(t, err)

	ts := time.Date(2023, time.September, 8, 9, 16, 35, 0, time.UTC)
	require.NoError(t, sink.Consume(context.Background(), progress.Event{TS: ts, Stage: progress.StageInit, Message: "one"}))
	require.NoError(t, sink.Consume(context.Background(), progress.Event{TS: ts.Add(time.Second), Stage: progress.StageClose, Message: "two"}))

	// A second sink on the same path keeps appending.
	again, err := NewFileSink(path)
	require.NoError(t, err)
	require.NoError(t, again.Consume(context.Background(), progress.Event{TS: ts, Stage: progress.StageClose, Message: "three"}))

	// #nosec G304 -- test reads from the controlled temp directory.
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t,
		"2023-Sep-08-09:16:35:one\n2023-Sep-08-09:16:36:two\n2023-Sep-08-09:16:35:three\n",
		string(data))
}

func TestFileSinkErrors(t *testing.T) {
	t.Parallel()

	_, err := NewFileSink("")
	assert.Error(t, err)

	dir := t.TempDir()
	sink, err := NewFileSink(filepath.Join(dir, "sub"))
	require.NoError(t, err)
	// The target path is a directory, so opening it for append fails.
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "sub"), 0o750))
	err = sink.Consume(context.Background(), progress.Event{TS: time.Unix(1, 0), Stage: progress.StageInit, Message: "x"})
	assert.Error(t, err)
}
