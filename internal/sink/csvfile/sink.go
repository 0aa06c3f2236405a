// Package csvfile writes the converted record set as a comma-separated file.
package csvfile

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/JakeFAU/largest-banks-etl/internal/banks"
)

// Sink overwrites a single CSV file on every Write.
type Sink struct {
	path string
}

// New returns a Sink targeting path. The parent directory is created on demand.
func New(path string) (*Sink, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("csv path is required")
	}
	return &Sink{path: path}, nil
}

// Path returns the output location.
func (s *Sink) Path() string {
	return s.path
}

// Write replaces the file with a header row and one row per record. The first
// column is the 0-based row index with an empty header cell. The content is
// staged in a temporary file and renamed over the target.
func (s *Sink) Write(ctx context.Context, records []banks.ConvertedRecord) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context canceled: %w", err)
	}
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("create csv dir %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(s.path)+".*")
	if err != nil {
		return fmt.Errorf("create temp csv: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) //nolint:errcheck // no-op after a successful rename

	if err := encode(tmp, records); err != nil {
		tmp.Close() //nolint:errcheck,gosec // already failing
		return err
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp csv: %w", err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil { // #nosec G302 -- output is meant to be shared
		return fmt.Errorf("chmod temp csv: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("replace %s: %w", s.path, err)
	}
	return nil
}

func encode(f *os.File, records []banks.ConvertedRecord) error {
	w := csv.NewWriter(f)
	if err := w.Write(append([]string{""}, banks.Columns()...)); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	for i, rec := range records {
		row := []string{strconv.Itoa(i), rec.Name}
		for _, v := range rec.Amounts() {
			row = append(row, FormatFloat(v))
		}
		if err := w.Write(row); err != nil {
			return fmt.Errorf("write csv row %d: %w", i, err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("flush csv: %w", err)
	}
	return nil
}

// FormatFloat renders v in its shortest form, always with a decimal point
// ("80.0", "432.92").
func FormatFloat(v float64) string {
	s := strconv.FormatFloat(v, 'f', -1, 64)
	if !strings.ContainsRune(s, '.') {
		s += ".0"
	}
	return s
}
