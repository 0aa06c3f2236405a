package currency

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/JakeFAU/largest-banks-etl/internal/banks"
)

// Places is the number of decimal places kept for derived values.
const Places = 2

// Convert derives the GBP/EUR/INR columns for every record and returns a new
// slice in the same order. records is not modified. Every target currency is
// resolved before any record is converted, so a missing rate fails the call
// without producing output.
func Convert(records []banks.Record, rates Rates) ([]banks.ConvertedRecord, error) {
	resolved := make(map[banks.Currency]decimal.Decimal, len(banks.TargetCurrencies))
	for _, c := range banks.TargetCurrencies {
		rate, err := rates.Rate(c)
		if err != nil {
			return nil, err
		}
		resolved[c] = rate
	}

	out := make([]banks.ConvertedRecord, 0, len(records))
	for _, rec := range records {
		converted := banks.ConvertedRecord{Record: rec}
		for _, c := range banks.TargetCurrencies {
			converted.Set(c, Apply(rec.MarketCapUSD, resolved[c]))
		}
		out = append(out, converted)
	}
	return out, nil
}

// Apply multiplies usd by rate and rounds half away from zero to Places.
// usd enters the decimal domain through its shortest float representation,
// so 33.335 is treated as exactly 33.335.
func Apply(usd float64, rate decimal.Decimal) float64 {
	product := decimal.NewFromFloat(usd).Mul(rate).Round(Places)
	f, _ := product.Float64()
	return f
}

// MustRates builds a Rates table from float literals. It panics on non-positive rates.
func MustRates(values map[banks.Currency]float64) Rates {
	rates := make(Rates, len(values))
	for code, v := range values {
		if v <= 0 {
			panic(fmt.Sprintf("rate for %s must be > 0", code))
		}
		rates[code] = decimal.NewFromFloat(v)
	}
	return rates
}
