// Package sqldb is the load engine shared by the database/sql backends
// (sqlite, mysql, mssql). A backend supplies a Dialect with its quoting, DDL,
// upsert statement, advisory locking and error classification; Engine turns
// those into storage.Repository operations.
package sqldb

import (
	"context"
	"database/sql"

	"skyetl/internal/schema"
)

// Dialect is the backend-specific part of the engine.
type Dialect interface {
	// Name is the storage kind, used in error messages and logs.
	Name() string

	// QuoteFQN quotes a possibly schema-qualified table name.
	QuoteFQN(table string) string

	// Quote quotes a single identifier.
	Quote(id string) string

	// Placeholder returns the bind marker for the n-th (1-based) argument.
	Placeholder(n int) string

	// CreateTableSQL renders an idempotent CREATE TABLE for td.
	CreateTableSQL(td schema.TableDescriptor) (string, error)

	// DropTableSQL renders an idempotent DROP TABLE.
	DropTableSQL(table string) string

	// UpsertSQL renders a single-row insert-or-update-non-key statement with
	// placeholders in td column order.
	UpsertSQL(td schema.TableDescriptor) string

	// Lock takes the sequencing lock named key. It runs inside tx, which is
	// bound to conn; release runs on conn after tx has ended.
	Lock(ctx context.Context, conn *sql.Conn, tx *sql.Tx, key string) (release func(), err error)

	// IsConstraintViolation reports a primary-key or unique violation.
	IsConstraintViolation(err error) bool

	// Bind converts a non-nil record value for the driver.
	Bind(c schema.Column, v any) any
}

// BulkInserter is implemented by dialects with a native bulk-load path
// (MSSQL bulk copy). Engine falls back to a prepared INSERT otherwise.
type BulkInserter interface {
	BulkInsert(ctx context.Context, tx *sql.Tx, table string, columns []string, rows [][]any) (int64, error)
}

// Swapper is implemented by dialects whose DDL is not transactional
// (MySQL). Overwrite then loads a shadow table and swaps it in with the
// statement returned by SwapSQL.
type Swapper interface {
	SwapSQL(target, shadow, retired string) string
}
