// Package currency loads the static exchange-rate table and derives the
// per-currency market cap columns.
package currency

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/JakeFAU/largest-banks-etl/internal/banks"
)

// ErrMissingRate is returned when a target currency has no entry in the rate table.
var ErrMissingRate = errors.New("missing exchange rate")

// Rates maps a currency code to its multiplier against USD.
type Rates map[banks.Currency]decimal.Decimal

// Rate looks up the multiplier for c.
func (r Rates) Rate(c banks.Currency) (decimal.Decimal, error) {
	rate, ok := r[c]
	if !ok {
		return decimal.Decimal{}, fmt.Errorf("%w: %s", ErrMissingRate, c)
	}
	return rate, nil
}

// LoadRates reads a two-column rate table (currency code, rate) from path.
func LoadRates(path string) (Rates, error) {
	f, err := os.Open(path) // #nosec G304 -- path comes from trusted configuration.
	if err != nil {
		return nil, fmt.Errorf("open rate table %s: %w", path, err)
	}
	defer f.Close() //nolint:errcheck // read-only handle

	rates, err := ParseRates(f)
	if err != nil {
		return nil, fmt.Errorf("rate table %s: %w", path, err)
	}
	return rates, nil
}

// ParseRates reads a rate table with a "Currency,Rate" header.
func ParseRates(r io.Reader) (Rates, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = 2

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("empty rate table")
		}
		return nil, fmt.Errorf("read header: %w", err)
	}
	codeIdx, rateIdx := -1, -1
	for i, col := range header {
		switch strings.ToLower(strings.TrimSpace(col)) {
		case "currency":
			codeIdx = i
		case "rate":
			rateIdx = i
		}
	}
	if codeIdx < 0 || rateIdx < 0 {
		return nil, fmt.Errorf("header %v must contain Currency and Rate", header)
	}

	rates := make(Rates)
	for {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read row: %w", err)
		}
		code := banks.Currency(strings.ToUpper(strings.TrimSpace(row[codeIdx])))
		if code == "" {
			return nil, errors.New("row with empty currency code")
		}
		rate, err := decimal.NewFromString(strings.TrimSpace(row[rateIdx]))
		if err != nil {
			return nil, fmt.Errorf("parse rate for %s: %w", code, err)
		}
		if !rate.IsPositive() {
			return nil, fmt.Errorf("rate for %s must be > 0, got %s", code, rate)
		}
		rates[code] = rate
	}
	return rates, nil
}
