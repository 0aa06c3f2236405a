package sinks

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/JakeFAU/largest-banks-etl/internal/progress"
)

// TimestampLayout renders year-month(abbrev)-day-hour:minute:second.
const TimestampLayout = "2006-Jan-02-15:04:05"

// FileSink appends one "<timestamp>:<message>" line per event. The file is
// opened and closed on every event; no handle is held between calls.
type FileSink struct {
	path string
}

// NewFileSink returns a sink appending to path. The parent directory is
// created if missing.
func NewFileSink(path string) (*FileSink, error) {
	if path == "" {
		return nil, fmt.Errorf("progress log path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("create progress log dir: %w", err)
	}
	return &FileSink{path: path}, nil
}

// Consume appends the formatted event.
func (s *FileSink) Consume(_ context.Context, evt progress.Event) error {
	// #nosec G304 -- path comes from trusted configuration.
	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open progress log %s: %w", s.path, err)
	}
	if _, err := f.WriteString(FormatLine(evt)); err != nil {
		f.Close() //nolint:errcheck,gosec // already failing
		return fmt.Errorf("append progress log: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close progress log: %w", err)
	}
	return nil
}

// FormatLine renders an event as written to the progress file.
func FormatLine(evt progress.Event) string {
	return evt.TS.Format(TimestampLayout) + ":" + evt.Message + "\n"
}
