// Package postgres holds the lib/pq pool used for signal tables and query
// analytics snapshots, plus COPY-based bulk replacement of whole tables.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/Adithya-Monish-Kumar-K/wiki-retrieval/pkg/config"
)

type Client struct {
	DB *sql.DB
}

// New opens the pool and pings it.
func New(cfg config.PostgresConfig) (*Client, error) {
	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("opening postgres connection: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging postgres %s:%d: %w", cfg.Host, cfg.Port, err)
	}
	return &Client{DB: db}, nil
}

func (c *Client) Ping(ctx context.Context) error {
	return c.DB.PingContext(ctx)
}

func (c *Client) Close() error {
	return c.DB.Close()
}

// Column is a column definition; Type may carry constraints.
type Column struct {
	Name string
	Type string
}

// EnsureTable creates table when it does not exist.
func (c *Client) EnsureTable(ctx context.Context, table string, columns []Column) error {
	if _, err := c.DB.ExecContext(ctx, CreateTableSQL(table, columns)); err != nil {
		return fmt.Errorf("creating %s: %w", table, err)
	}
	return nil
}

// CreateTableSQL renders an idempotent CREATE TABLE with quoted identifiers.
func CreateTableSQL(table string, columns []Column) string {
	defs := make([]string, len(columns))
	for i, col := range columns {
		defs[i] = pq.QuoteIdentifier(col.Name) + " " + col.Type
	}
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)",
		pq.QuoteIdentifier(table), strings.Join(defs, ", "))
}

// RowSource yields one row per call and io.EOF when done.
type RowSource func() ([]any, error)

// ReplaceTable truncates table and streams rows into columns with COPY, all
// in one transaction. Readers see either the old or the new contents.
func (c *Client) ReplaceTable(ctx context.Context, table string, columns []string, next RowSource) (int64, error) {
	tx, err := c.DB.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("beginning transaction: %w", err)
	}
	n, err := copyRows(ctx, tx, table, columns, next)
	if err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return 0, fmt.Errorf("rolling back %s after error %v: %w", table, rbErr, err)
		}
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing %s: %w", table, err)
	}
	return n, nil
}

func copyRows(ctx context.Context, tx *sql.Tx, table string, columns []string, next RowSource) (int64, error) {
	if _, err := tx.ExecContext(ctx, "TRUNCATE "+pq.QuoteIdentifier(table)); err != nil {
		return 0, fmt.Errorf("truncating %s: %w", table, err)
	}
	stmt, err := tx.PrepareContext(ctx, pq.CopyIn(table, columns...))
	if err != nil {
		return 0, fmt.Errorf("preparing copy into %s: %w", table, err)
	}
	defer stmt.Close()

	var n int64
	for {
		row, err := next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return n, fmt.Errorf("reading row %d for %s: %w", n+1, table, err)
		}
		if _, err := stmt.ExecContext(ctx, row...); err != nil {
			return n, fmt.Errorf("copying row %d into %s: %w", n+1, table, err)
		}
		n++
	}
	if _, err := stmt.ExecContext(ctx); err != nil {
		return n, fmt.Errorf("flushing copy into %s: %w", table, err)
	}
	return n, nil
}
