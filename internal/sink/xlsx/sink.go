// Package xlsx renders the converted record set as an Excel workbook.
package xlsx

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/JakeFAU/largest-banks-etl/internal/banks"
)

const defaultSheet = "Sheet1"

// Sink overwrites a single workbook on every Write.
type Sink struct {
	path  string
	sheet string
}

// New returns a Sink writing records to sheet inside the workbook at path.
func New(path, sheet string) (*Sink, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("xlsx path is required")
	}
	if sheet == "" {
		sheet = defaultSheet
	}
	if len(sheet) > 31 {
		return nil, fmt.Errorf("sheet name %q exceeds 31 characters", sheet)
	}
	return &Sink{path: path, sheet: sheet}, nil
}

// Path returns the output location.
func (s *Sink) Path() string {
	return s.path
}

// Write replaces the workbook with a header row followed by one row per record.
func (s *Sink) Write(ctx context.Context, records []banks.ConvertedRecord) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context canceled: %w", err)
	}
	f := excelize.NewFile()
	defer f.Close() //nolint:errcheck // in-memory workbook

	if s.sheet != defaultSheet {
		if err := f.SetSheetName(defaultSheet, s.sheet); err != nil {
			return fmt.Errorf("name sheet: %w", err)
		}
	}

	header := make([]any, 0, len(banks.Columns()))
	for _, col := range banks.Columns() {
		header = append(header, col)
	}
	if err := f.SetSheetRow(s.sheet, "A1", &header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for i, rec := range records {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return fmt.Errorf("cell for row %d: %w", i, err)
		}
		values := rec.Values()
		if err := f.SetSheetRow(s.sheet, cell, &values); err != nil {
			return fmt.Errorf("write row %d: %w", i, err)
		}
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o750); err != nil {
		return fmt.Errorf("create xlsx dir: %w", err)
	}
	if err := f.SaveAs(s.path); err != nil {
		return fmt.Errorf("save workbook %s: %w", s.path, err)
	}
	return nil
}
