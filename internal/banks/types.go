// Package banks defines the record types that flow through the ETL stages.
package banks

// Column labels shared by the extractor, the file sinks and the relational table.
const (
	ColumnName = "Name"
	ColumnUSD  = "MC_USD_Billion"
	ColumnGBP  = "MC_GBP_Billion"
	ColumnEUR  = "MC_EUR_Billion"
	ColumnINR  = "MC_INR_Billion"
)

// Currency is an ISO 4217 code used as a key into the exchange-rate table.
type Currency string

// Target currencies derived from the USD base figure.
const (
	GBP Currency = "GBP"
	EUR Currency = "EUR"
	INR Currency = "INR"
)

// TargetCurrencies lists the derived currencies in column order.
var TargetCurrencies = []Currency{GBP, EUR, INR}

// BaseColumns are the labels the extractor produces.
func BaseColumns() []string {
	return []string{ColumnName, ColumnUSD}
}

// Columns are the labels of a fully converted record, in output order.
func Columns() []string {
	return []string{ColumnName, ColumnUSD, ColumnGBP, ColumnEUR, ColumnINR}
}

// Record is one row of the source table: a bank and its market cap in USD billions.
type Record struct {
	Name         string
	MarketCapUSD float64
}

// ConvertedRecord extends Record with the derived currency columns.
type ConvertedRecord struct {
	Record
	MarketCapGBP float64
	MarketCapEUR float64
	MarketCapINR float64
}

// Values returns the record's cells in Columns order.
func (r ConvertedRecord) Values() []any {
	return []any{r.Name, r.MarketCapUSD, r.MarketCapGBP, r.MarketCapEUR, r.MarketCapINR}
}

// Amounts returns the numeric cells in Columns order, without the name.
func (r ConvertedRecord) Amounts() []float64 {
	return []float64{r.MarketCapUSD, r.MarketCapGBP, r.MarketCapEUR, r.MarketCapINR}
}

// Set assigns the derived value for the given currency. Unknown codes are ignored.
func (r *ConvertedRecord) Set(c Currency, value float64) {
	switch c {
	case GBP:
		r.MarketCapGBP = value
	case EUR:
		r.MarketCapEUR = value
	case INR:
		r.MarketCapINR = value
	}
}
