package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/revittco/electrumlink/internal/store"
	_ "modernc.org/sqlite"
)

var _ store.Store = (*DB)(nil)

// pragmas run on every connection the driver opens. Foreign keys stay off:
// connection_events.session_id is a filter column, not a reference, since
// one-shot commands record events without a session row and retention
// prunes events on their own schedule.
var pragmas = []string{
	"journal_mode(WAL)",
	"busy_timeout(5000)",
	"synchronous(NORMAL)",
}

// dsn appends the pragmas in modernc's _pragma form, keeping any query the
// caller already put on path.
func dsn(path string) string {
	params := make([]string, len(pragmas))
	for i, p := range pragmas {
		params[i] = "_pragma=" + p
	}
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + strings.Join(params, "&")
}

// queryable is satisfied by *sql.DB and *sql.Tx.
type queryable interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type rowScanner interface {
	Scan(dest ...any) error
}

// DB stores servers, sessions and connection events in one SQLite file.
type DB struct {
	db *sql.DB
	q  queryable // db, or the tx a Tx callback runs in
}

// New opens (creating if needed) the database at path and migrates it.
// A single connection serialises writers; the event recorder and the API
// share it.
func New(ctx context.Context, path string) (*DB, error) {
	db, err := sql.Open("sqlite", dsn(path))
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if err := migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &DB{db: db, q: db}, nil
}

// Tx runs fn against a store bound to one transaction. Nested calls join
// the outer transaction.
func (d *DB) Tx(ctx context.Context, fn func(store.Store) error) error {
	return d.withTx(ctx, func(q queryable) error {
		return fn(&DB{db: d.db, q: q})
	})
}

// withTx reuses d's transaction when there is one; with a single pooled
// connection a second BeginTx would block forever.
func (d *DB) withTx(ctx context.Context, fn func(q queryable) error) error {
	if tx, ok := d.q.(*sql.Tx); ok {
		return fn(tx)
	}
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// Pragma reads one connection setting, e.g. "journal_mode".
func (d *DB) Pragma(ctx context.Context, name string) (string, error) {
	var v string
	if err := d.q.QueryRowContext(ctx, "PRAGMA "+name).Scan(&v); err != nil {
		return "", fmt.Errorf("pragma %s: %w", name, err)
	}
	return v, nil
}

func (d *DB) Ping(ctx context.Context) error {
	return d.db.PingContext(ctx)
}

func (d *DB) Close() error {
	return d.db.Close()
}
