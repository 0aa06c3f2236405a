// Package extract turns the bank-list markup into base records.
package extract

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/largest-banks-etl/internal/banks"
)

// ErrNoTable is returned when the markup has no table body to read.
var ErrNoTable = errors.New("no table body found")

var footnoteMarker = regexp.MustCompile(`\[[^\]]*\]`)

// Options tunes name normalization.
type Options struct {
	// StripFootnotes removes bracketed reference markers such as "[a]" or "[12]" from names.
	StripFootnotes bool
}

// Extractor parses the first table body of a page into records.
type Extractor struct {
	opts Options
}

// New returns an Extractor.
func New(opts Options) *Extractor {
	return &Extractor{opts: opts}
}

// Extract reads every data row of the first tbody in markup. columns names the
// two extracted fields (name, market cap) and is used to label errors. Rows
// without td cells are skipped; any other malformed row fails the whole call.
func (e *Extractor) Extract(markup []byte, columns []string) ([]banks.Record, error) {
	if len(columns) != 2 {
		return nil, fmt.Errorf("expected 2 column labels, got %d", len(columns))
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(markup))
	if err != nil {
		return nil, fmt.Errorf("parse markup: %w", err)
	}
	body := doc.Find("tbody").First()
	if body.Length() == 0 {
		return nil, ErrNoTable
	}

	var (
		records []banks.Record
		rowErr  error
	)
	body.ChildrenFiltered("tr").EachWithBreak(func(i int, row *goquery.Selection) bool {
		cells := row.ChildrenFiltered("td")
		if cells.Length() == 0 {
			return true
		}
		rec, err := e.parseRow(cells, columns)
		if err != nil {
			rowErr = fmt.Errorf("row %d: %w", i, err)
			return false
		}
		records = append(records, rec)
		return true
	})
	if rowErr != nil {
		return nil, rowErr
	}
	return records, nil
}

func (e *Extractor) parseRow(cells *goquery.Selection, columns []string) (banks.Record, error) {
	name, err := e.rowName(cells)
	if err != nil {
		return banks.Record{}, fmt.Errorf("%s: %w", columns[0], err)
	}
	if cells.Length() < 3 {
		return banks.Record{}, fmt.Errorf("%s: row has %d cells, want at least 3", columns[1], cells.Length())
	}
	raw := cells.Eq(2).Text()
	value, err := ParseMarketCap(raw)
	if err != nil {
		return banks.Record{}, fmt.Errorf("%s: %w", columns[1], err)
	}
	return banks.Record{Name: name, MarketCapUSD: value}, nil
}

func (e *Extractor) rowName(cells *goquery.Selection) (string, error) {
	name := ""
	if link := cells.First().Find("a").First(); link.Length() > 0 {
		name = e.normalizeName(link.Text())
	}
	if name == "" {
		if cells.Length() < 2 {
			return "", fmt.Errorf("no link in first cell and no second cell")
		}
		name = e.normalizeName(cells.Eq(1).Text())
	}
	if name == "" {
		return "", errors.New("empty bank name")
	}
	return name, nil
}

func (e *Extractor) normalizeName(s string) string {
	if e.opts.StripFootnotes {
		s = footnoteMarker.ReplaceAllString(s, "")
	}
	return strings.TrimSpace(s)
}

// ParseMarketCap strips whitespace and thousands separators from raw and
// parses the remainder as a non-negative finite number.
func ParseMarketCap(raw string) (float64, error) {
	cleaned := strings.Map(func(r rune) rune {
		if r == ',' || unicode.IsSpace(r) {
			return -1
		}
		return r
	}, raw)
	value, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return 0, fmt.Errorf("parse market cap %q: %w", raw, err)
	}
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return 0, fmt.Errorf("market cap %q is not finite", raw)
	}
	if value < 0 {
		return 0, fmt.Errorf("market cap %q is negative", raw)
	}
	return value, nil
}
