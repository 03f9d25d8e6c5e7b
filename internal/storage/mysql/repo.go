// Package mysql implements a MySQL-backed storage.Repository using
// database/sql and go-sql-driver/mysql.
//
// MySQL commits DDL implicitly, so Overwrite loads a shadow table and swaps
// it in with a single RENAME TABLE, which is atomic for readers.
package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	gomysql "github.com/go-sql-driver/mysql"

	"skyetl/internal/schema"
	"skyetl/internal/storage"
	myddl "skyetl/internal/storage/mysql/ddl"
	"skyetl/internal/storage/sqldb"
)

// errDupEntry is ER_DUP_ENTRY.
const errDupEntry = 1062

// lockTimeoutSeconds bounds how long GET_LOCK waits.
const lockTimeoutSeconds = 10

// Config holds MySQL repository configuration.
type Config struct {
	// DSN in go-sql-driver form, e.g. "user:pass@tcp(localhost:3306)/etl".
	// parseTime and loc are forced to true and UTC.
	DSN string

	// BatchSize bounds rows per loader flush; 0 selects the engine default.
	BatchSize int
}

// Repository is a MySQL-backed implementation of storage.Repository.
type Repository struct {
	*sqldb.Engine
	cfg Config
}

// NewRepository constructs a Repository and returns a Close function for cleanup.
func NewRepository(ctx context.Context, cfg Config) (*Repository, func(), error) {
	dsn, err := gomysql.ParseDSN(cfg.DSN)
	if err != nil {
		return nil, nil, fmt.Errorf("mysql dsn: %w", err)
	}
	dsn.ParseTime = true
	dsn.Loc = time.UTC

	connector, err := gomysql.NewConnector(dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("mysql connector: %w", err)
	}
	db := sql.OpenDB(connector)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("mysql: ping: %w", storage.Classify(storage.ErrConnection, err))
	}

	closeFn := func() { _ = db.Close() }
	return &Repository{Engine: sqldb.New(db, Dialect{}, cfg.BatchSize), cfg: cfg}, closeFn, nil
}

// Dialect is the MySQL sqldb.Dialect.
type Dialect struct{}

var (
	_ sqldb.Dialect = Dialect{}
	_ sqldb.Swapper = Dialect{}
)

func (Dialect) Name() string                 { return "mysql" }
func (Dialect) Quote(id string) string       { return myddl.QuoteIdent(id) }
func (Dialect) QuoteFQN(table string) string { return myddl.QuoteFQN(table) }
func (Dialect) Placeholder(int) string       { return "?" }

func (Dialect) CreateTableSQL(td schema.TableDescriptor) (string, error) {
	return myddl.BuildCreateTableSQL(td)
}

func (Dialect) DropTableSQL(table string) string {
	return "DROP TABLE IF EXISTS " + myddl.QuoteFQN(table)
}

// UpsertSQL renders INSERT ... ON DUPLICATE KEY UPDATE c = VALUES(c).
// VALUES() is used rather than a row alias so MariaDB accepts it too.
func (d Dialect) UpsertSQL(td schema.TableDescriptor) string {
	insert := sqldb.InsertSQL(d, td.Name, td.ColumnNames())
	nonKey := td.NonKeyColumns()
	if len(nonKey) == 0 {
		k := myddl.QuoteIdent(td.PrimaryKey[0])
		return fmt.Sprintf("%s ON DUPLICATE KEY UPDATE %s = %s", insert, k, k)
	}
	sets := make([]string, len(nonKey))
	for i, c := range nonKey {
		q := myddl.QuoteIdent(c)
		sets[i] = fmt.Sprintf("%s = VALUES(%s)", q, q)
	}
	return fmt.Sprintf("%s ON DUPLICATE KEY UPDATE %s", insert, strings.Join(sets, ", "))
}

// SwapSQL implements sqldb.Swapper.
func (Dialect) SwapSQL(target, shadow, retired string) string {
	return fmt.Sprintf("RENAME TABLE %s TO %s, %s TO %s",
		myddl.QuoteFQN(target), myddl.QuoteFQN(retired),
		myddl.QuoteFQN(shadow), myddl.QuoteFQN(target))
}

// Lock takes a session-level named lock. It is released on the same
// connection once the transaction has ended.
func (Dialect) Lock(ctx context.Context, conn *sql.Conn, tx *sql.Tx, key string) (func(), error) {
	var got sql.NullInt64
	if err := tx.QueryRowContext(ctx, "SELECT GET_LOCK(?, ?)", key, lockTimeoutSeconds).Scan(&got); err != nil {
		return nil, err
	}
	if !got.Valid || got.Int64 != 1 {
		return nil, fmt.Errorf("GET_LOCK(%s) not granted within %ds", key, lockTimeoutSeconds)
	}
	return func() {
		_, _ = conn.ExecContext(context.Background(), "DO RELEASE_LOCK(?)", key)
	}, nil
}

func (Dialect) IsConstraintViolation(err error) bool {
	var me *gomysql.MySQLError
	return errors.As(err, &me) && me.Number == errDupEntry
}

// Bind normalises timestamps to UTC and renders JSON values as text.
func (Dialect) Bind(c schema.Column, v any) any {
	switch c.Type {
	case schema.Timestamp:
		if t, ok := v.(time.Time); ok {
			return t.UTC()
		}
	case schema.JSON:
		if s, err := storage.BindJSON(v); err == nil {
			return s
		}
	}
	return v
}
