// Package cache is the relational page cache: pages, projects, tags and their
// associations, in PostgreSQL or SQLite.
package cache

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const openMaxElapsed = 30 * time.Second

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Queries holds every cache query. It is embedded in both DB and Tx so the
// same operations run inside or outside a transaction.
type Queries struct {
	q querier
	d dialect
}

func (s *Queries) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return s.q.ExecContext(ctx, s.d.rebind(query), args...)
}

func (s *Queries) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return s.q.QueryContext(ctx, s.d.rebind(query), args...)
}

func (s *Queries) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return s.q.QueryRowContext(ctx, s.d.rebind(query), args...)
}

// DB wraps a sql.DB with cache-specific operations.
type DB struct {
	Queries
	conn *sql.DB
}

// Tx is a cache transaction.
type Tx struct {
	Queries
	tx *sql.Tx
}

// Open connects to the database, retrying the initial ping with exponential
// backoff, and applies the schema.
func Open(ctx context.Context, driver, dsn string) (*DB, error) {
	d, err := lookupDialect(driver)
	if err != nil {
		return nil, err
	}
	if d.name == DriverSQLite && !strings.Contains(dsn, "?") {
		dsn += "?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on&_txlock=immediate"
	}
	conn, err := sql.Open(d.driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("cache: open db: %w", err)
	}

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = openMaxElapsed
	err = backoff.RetryNotify(func() error {
		return conn.PingContext(ctx)
	}, backoff.WithContext(bo, ctx), func(err error, next time.Duration) {
		slog.Warn("cache: database not ready", slog.String("driver", d.name), slog.Any("err", err), slog.Duration("retry_in", next))
	})
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("cache: ping: %w", err)
	}
	if _, err := conn.ExecContext(ctx, d.schema); err != nil {
		conn.Close()
		return nil, fmt.Errorf("cache: apply schema: %w", err)
	}
	return &DB{Queries: Queries{q: conn, d: d}, conn: conn}, nil
}

// Driver returns the configured driver name.
func (db *DB) Driver() string { return db.d.name }

// Ping checks the database connection.
func (db *DB) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

// Close closes the underlying database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// WithTx runs fn in a transaction, committing when fn returns nil and rolling
// back otherwise.
func (db *DB) WithTx(ctx context.Context, fn func(tx *Tx) error) error {
	sqlTx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("cache: begin tx: %w", err)
	}
	defer sqlTx.Rollback() //nolint:errcheck // no-op after commit

	if err := fn(&Tx{Queries: Queries{q: sqlTx, d: db.d}, tx: sqlTx}); err != nil {
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("cache: commit: %w", err)
	}
	return nil
}
