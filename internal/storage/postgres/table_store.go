// Package postgres provides the Postgres-backed relational sink.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/largest-banks-etl/internal/banks"
)

// ErrInvalidTableName is returned for table names that are not plain identifiers.
var ErrInvalidTableName = errors.New("invalid table name")

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	Table           string
	MaxConns        int32
	MaxConnLifetime time.Duration
}

type pool interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Ping(ctx context.Context) error
	Close()
}

// TableStore replaces a single table with the converted record set and
// serves read queries against it.
type TableStore struct {
	pool  pool
	table string
}

// Open connects to Postgres and verifies the connection with a ping.
func Open(ctx context.Context, cfg Config) (*TableStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	if err := validateTable(cfg.Table); err != nil {
		return nil, err
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := p.Ping(ctx); err != nil {
		p.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &TableStore{pool: p, table: cfg.Table}, nil
}

// NewTableStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewTableStoreWithPool(p pool, table string) (*TableStore, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if err := validateTable(table); err != nil {
		return nil, err
	}
	return &TableStore{pool: p, table: table}, nil
}

func validateTable(table string) error {
	if !validTableName.MatchString(table) {
		return fmt.Errorf("%w: %q", ErrInvalidTableName, table)
	}
	return nil
}

// Table returns the unquoted table name.
func (s *TableStore) Table() string {
	return s.table
}

// Close releases the underlying pool resources.
func (s *TableStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// ReplaceTable drops and recreates the table, then bulk-copies records into it,
// all inside one transaction. It returns the number of rows copied.
func (s *TableStore) ReplaceTable(ctx context.Context, records []banks.ConvertedRecord) (int64, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin replace: %w", err)
	}
	n, err := s.replace(ctx, tx, records)
	if err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			return 0, fmt.Errorf("%w (rollback: %v)", err, rbErr)
		}
		return 0, err
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit replace: %w", err)
	}
	return n, nil
}

func (s *TableStore) replace(ctx context.Context, tx pgx.Tx, records []banks.ConvertedRecord) (int64, error) {
	ident := s.quotedTable()
	if _, err := tx.Exec(ctx, "DROP TABLE IF EXISTS "+ident); err != nil {
		return 0, fmt.Errorf("drop table: %w", err)
	}
	if _, err := tx.Exec(ctx, createTableSQL(ident)); err != nil {
		return 0, fmt.Errorf("create table: %w", err)
	}
	n, err := tx.CopyFrom(
		ctx,
		pgx.Identifier{s.table},
		banks.Columns(),
		pgx.CopyFromSlice(len(records), func(i int) ([]any, error) {
			return records[i].Values(), nil
		}),
	)
	if err != nil {
		return 0, fmt.Errorf("copy rows: %w", err)
	}
	return n, nil
}

func createTableSQL(ident string) string {
	cols := banks.Columns()
	defs := make([]string, 0, len(cols))
	for i, col := range cols {
		typ := "DOUBLE PRECISION"
		if i == 0 {
			typ = "TEXT"
		}
		defs = append(defs, pgx.Identifier{col}.Sanitize()+" "+typ+" NOT NULL")
	}
	return fmt.Sprintf("CREATE TABLE %s (%s)", ident, strings.Join(defs, ", "))
}

func (s *TableStore) quotedTable() string {
	return pgx.Identifier{s.table}.Sanitize()
}

// Query runs sql on the pool.
func (s *TableStore) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	return rows, nil
}

// ReportQueries returns the fixed read queries run after a load: every row,
// the average GBP market cap and the first five names.
func (s *TableStore) ReportQueries() []string {
	ident := s.quotedTable()
	return []string{
		"SELECT * FROM " + ident,
		fmt.Sprintf("SELECT AVG(%s) FROM %s", pgx.Identifier{banks.ColumnGBP}.Sanitize(), ident),
		fmt.Sprintf("SELECT %s FROM %s LIMIT 5", pgx.Identifier{banks.ColumnName}.Sanitize(), ident),
	}
}
