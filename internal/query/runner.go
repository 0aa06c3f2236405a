// Package query runs literal SQL against the relational sink and prints the
// complete result set.
package query

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

// Querier executes SQL and returns rows.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Runner prints queries and their results to out.
type Runner struct {
	q   Querier
	out io.Writer
}

// NewRunner returns a Runner writing to out.
func NewRunner(q Querier, out io.Writer) *Runner {
	return &Runner{q: q, out: out}
}

// Run prints sql, executes it without parameters and prints every row and column.
// sql must be built from trusted, fixed identifiers.
func (r *Runner) Run(ctx context.Context, sql string) error {
	if _, err := fmt.Fprintln(r.out, sql); err != nil {
		return fmt.Errorf("print query: %w", err)
	}
	rows, err := r.q.Query(ctx, sql)
	if err != nil {
		return fmt.Errorf("run %q: %w", sql, err)
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	columns := make([]string, 0, len(fields))
	for _, fd := range fields {
		columns = append(columns, fd.Name)
	}

	var table [][]any
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return fmt.Errorf("read row: %w", err)
		}
		table = append(table, values)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate rows: %w", err)
	}
	return WriteTable(r.out, columns, table)
}

// WriteTable prints a header line and one line per row, each prefixed with a
// 0-based row index, with columns aligned.
func WriteTable(w io.Writer, columns []string, rows [][]any) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	if _, err := fmt.Fprintln(tw, "\t"+strings.Join(columns, "\t")); err != nil {
		return fmt.Errorf("print header: %w", err)
	}
	for i, row := range rows {
		cells := make([]string, 0, len(row)+1)
		cells = append(cells, strconv.Itoa(i))
		for _, v := range row {
			cells = append(cells, FormatValue(v))
		}
		if _, err := fmt.Fprintln(tw, strings.Join(cells, "\t")); err != nil {
			return fmt.Errorf("print row %d: %w", i, err)
		}
	}
	if err := tw.Flush(); err != nil {
		return fmt.Errorf("flush table: %w", err)
	}
	return nil
}

// FormatValue renders a scanned value for display.
func FormatValue(v any) string {
	switch val := v.(type) {
	case nil:
		return "NULL"
	case string:
		return val
	case float64:
		return formatFloat(val)
	case float32:
		return formatFloat(float64(val))
	case pgtype.Numeric:
		f, err := val.Float64Value()
		if err != nil || !f.Valid {
			return "NULL"
		}
		return formatFloat(f.Float64)
	case time.Time:
		return val.Format(time.RFC3339)
	case []byte:
		return string(val)
	default:
		return fmt.Sprint(val)
	}
}

func formatFloat(f float64) string {
	s := strconv.FormatFloat(f, 'f', -1, 64)
	if !strings.ContainsRune(s, '.') {
		s += ".0"
	}
	return s
}
