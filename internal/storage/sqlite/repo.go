// Package sqlite implements a SQLite-backed storage.Repository using
// database/sql and the pure-Go modernc driver. Writes are prepared
// statements inside a transaction; SQLite has no bulk-load API like
// Postgres COPY, but transactions keep performance acceptable.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	msqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"skyetl/internal/schema"
	"skyetl/internal/storage"
	sqliteddl "skyetl/internal/storage/sqlite/ddl"
	"skyetl/internal/storage/sqldb"
)

// Repository is a SQLite-backed implementation of storage.Repository.
type Repository struct {
	*sqldb.Engine
	cfg Config
}

var _ storage.Repository = (*Repository)(nil)

// Close closes the underlying database. It is safe to call more than once.
func (r *Repository) Close() {
	_ = r.DB().Close()
}

// NewRepository opens a SQLite database using the provided DSN and returns
// a Repository plus a Close function for cleanup.
func NewRepository(ctx context.Context, cfg Config) (*Repository, func(), error) {
	db, err := Open(ctx, cfg.DSN)
	if err != nil {
		return nil, nil, err
	}
	closeFn := func() { db.Close() }
	return New(db, cfg), closeFn, nil
}

// New wraps an already-open database.
func New(db *sql.DB, cfg Config) *Repository {
	return &Repository{Engine: sqldb.New(db, Dialect{}, cfg.BatchSize), cfg: cfg}
}

// Open opens and pings a SQLite database. The pool is limited to a single
// connection: SQLite serialises writers anyway, and ":memory:" databases
// exist per connection.
func Open(ctx context.Context, dsn string) (*sql.DB, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("sqlite: DSN must not be empty")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}
	db.SetMaxOpenConns(1)

	// Apply a basic ping with context to fail fast on invalid DSNs.
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: ping: %w", storage.Classify(storage.ErrConnection, err))
	}

	// Enable foreign keys by default; ignore error if driver doesn't support it.
	_, _ = db.ExecContext(ctx, "PRAGMA foreign_keys = ON;")
	return db, nil
}

// Dialect is the SQLite sqldb.Dialect.
type Dialect struct{}

var _ sqldb.Dialect = Dialect{}

func (Dialect) Name() string                 { return "sqlite" }
func (Dialect) Quote(id string) string       { return sqliteddl.QuoteIdent(id) }
func (Dialect) QuoteFQN(table string) string { return sqliteddl.QuoteFQN(table) }
func (Dialect) Placeholder(int) string       { return "?" }

func (Dialect) CreateTableSQL(td schema.TableDescriptor) (string, error) {
	return sqliteddl.BuildCreateTableSQL(td)
}

func (Dialect) DropTableSQL(table string) string {
	return "DROP TABLE IF EXISTS " + sqliteddl.QuoteFQN(table)
}

// UpsertSQL renders INSERT ... ON CONFLICT (keys) DO UPDATE SET c = excluded.c.
func (d Dialect) UpsertSQL(td schema.TableDescriptor) string {
	insert := sqldb.InsertSQL(d, td.Name, td.ColumnNames())
	nonKey := td.NonKeyColumns()
	if len(nonKey) == 0 {
		return fmt.Sprintf("%s ON CONFLICT (%s) DO NOTHING", insert, sqldb.QuoteList(d, td.PrimaryKey))
	}
	return fmt.Sprintf("%s ON CONFLICT (%s) DO UPDATE SET %s",
		insert, sqldb.QuoteList(d, td.PrimaryKey), strings.Join(updateColumns(nonKey), ", "))
}

// updateColumns generates column updates in the format: "col" = excluded."col".
func updateColumns(cols []string) []string {
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = fmt.Sprintf("%s = excluded.%s", sqliteddl.QuoteIdent(c), sqliteddl.QuoteIdent(c))
	}
	return out
}

// Lock is a no-op: the pool has one connection, so the sequencing
// transaction is already exclusive within the process, and SQLite takes the
// database write lock on the insert.
func (Dialect) Lock(context.Context, *sql.Conn, *sql.Tx, string) (func(), error) {
	return func() {}, nil
}

func (Dialect) IsConstraintViolation(err error) bool {
	var se *msqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	switch se.Code() {
	case sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3.SQLITE_CONSTRAINT_UNIQUE,
		sqlite3.SQLITE_CONSTRAINT: // extended codes disabled
		return true
	}
	return false
}

// Bind stores timestamps as RFC 3339 text in UTC and JSON values as text.
func (Dialect) Bind(c schema.Column, v any) any {
	switch c.Type {
	case schema.Timestamp:
		if t, ok := v.(time.Time); ok {
			return t.UTC().Format(time.RFC3339Nano)
		}
	case schema.JSON:
		if s, err := storage.BindJSON(v); err == nil {
			return s
		}
	}
	return v
}
