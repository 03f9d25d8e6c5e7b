// Package storage defines the storage-agnostic load engine contract and a
// small factory so callers can open a backend by kind without importing
// driver packages. Backends register themselves in init (see
// internal/storage/all).
package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"skyetl/internal/schema"
	"skyetl/pkg/records"
)

// Repository is the load engine. Every operation receives the
// TableDescriptor of the table it touches; the repository keeps no
// per-table state.
type Repository interface {
	// CreateTableIfAbsent creates td with its columns and primary key unless
	// a table with that name already exists.
	CreateTableIfAbsent(ctx context.Context, td schema.TableDescriptor) error

	// DropTable removes the table if present.
	DropTable(ctx context.Context, table string) error

	// Insert appends every record in one transaction. A primary-key
	// collision fails the whole batch with ErrConstraintViolation.
	Insert(ctx context.Context, td schema.TableDescriptor, recs []records.Record) (int64, error)

	// Upsert inserts records whose key is absent and overwrites the non-key
	// columns of records whose key exists. Applying the same batch twice
	// leaves the table unchanged the second time.
	Upsert(ctx context.Context, td schema.TableDescriptor, recs []records.Record) (int64, error)

	// Overwrite replaces the table contents with exactly recs. Readers never
	// observe the table empty between the drop and the completed insert.
	Overwrite(ctx context.Context, td schema.TableDescriptor, recs []records.Record) (int64, error)

	// SelectAll returns every row, declared columns only, in store order.
	SelectAll(ctx context.Context, td schema.TableDescriptor) ([]records.Record, error)

	// MaxInt returns max(column) over rows matching scope by equality.
	// ok is false when no row matches.
	MaxInt(ctx context.Context, td schema.TableDescriptor, column string, scope records.Record) (max int64, ok bool, err error)

	// InsertSequenced inserts rec with rec[column] set to
	// max(rec[column], max(column over scope)+1), computed while holding a
	// store-level lock keyed on the table and the scope values. It returns
	// the value written.
	InsertSequenced(ctx context.Context, td schema.TableDescriptor, column string, scope []string, rec records.Record) (int64, error)

	// Close releases the underlying connection pool.
	Close()
}

// Config selects and configures a backend.
type Config struct {
	// Kind is the registered backend name: "postgres", "sqlite", "mysql",
	// "mssql".
	Kind string

	// DSN is passed to the backend's driver unchanged.
	DSN string

	// BatchSize bounds the rows sent per bulk flush. 0 selects the
	// backend default.
	BatchSize int
}

// Factory opens a Repository for cfg.
type Factory func(ctx context.Context, cfg Config) (Repository, error)

var (
	regMu     sync.RWMutex
	factories = map[string]Factory{}
)

// Register installs (or replaces) the factory for kind. Backends call it
// from init.
func Register(kind string, f Factory) {
	regMu.Lock()
	defer regMu.Unlock()
	factories[kind] = f
}

// New opens a Repository for cfg.Kind.
func New(ctx context.Context, cfg Config) (Repository, error) {
	regMu.RLock()
	f, ok := factories[cfg.Kind]
	regMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unsupported storage.kind=%s", cfg.Kind)
	}
	return f(ctx, cfg)
}

// ListKinds returns a sorted snapshot of registered backend kinds.
func ListKinds() []string {
	regMu.RLock()
	defer regMu.RUnlock()
	out := make([]string, 0, len(factories))
	for k := range factories {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
