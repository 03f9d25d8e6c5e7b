// Package mssql implements a Microsoft SQL Server repository on database/sql
// and go-mssqldb. Inserts use the driver's bulk copy API; upserts run a
// single-row MERGE per record inside one transaction.
package mssql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	mssql "github.com/microsoft/go-mssqldb"
	"github.com/microsoft/go-mssqldb/msdsn"

	"skyetl/internal/schema"
	"skyetl/internal/storage"
	msddl "skyetl/internal/storage/mssql/ddl"
	"skyetl/internal/storage/sqldb"
)

// SQL Server error numbers for duplicate keys: PRIMARY KEY / UNIQUE
// constraint (2627) and unique index (2601).
const (
	errPKViolation    = 2627
	errUniqueIndexDup = 2601
)

const lockTimeoutMillis = 10000

// Config holds MSSQL repository configuration.
type Config struct {
	DSN       string
	BatchSize int
}

// Repository is an MSSQL-backed implementation of storage.Repository.
type Repository struct {
	*sqldb.Engine
	cfg Config
}

// NewRepository constructs a Repository and returns a Close function for cleanup.
func NewRepository(ctx context.Context, cfg Config) (*Repository, func(), error) {
	// Validate DSN early to fail fast on obvious mistakes.
	if _, err := msdsn.Parse(cfg.DSN); err != nil {
		return nil, nil, fmt.Errorf("mssql dsn: %w", err)
	}
	db, err := sql.Open("sqlserver", cfg.DSN)
	if err != nil {
		return nil, nil, fmt.Errorf("sql.Open: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("mssql: ping: %w", storage.Classify(storage.ErrConnection, err))
	}
	closeFn := func() { _ = db.Close() }
	return &Repository{Engine: sqldb.New(db, Dialect{}, cfg.BatchSize), cfg: cfg}, closeFn, nil
}

// Dialect is the SQL Server sqldb.Dialect.
type Dialect struct{}

var (
	_ sqldb.Dialect      = Dialect{}
	_ sqldb.BulkInserter = Dialect{}
)

func (Dialect) Name() string                 { return "mssql" }
func (Dialect) Quote(id string) string       { return msIdent(id) }
func (Dialect) QuoteFQN(table string) string { return msFQN(table) }
func (Dialect) Placeholder(n int) string     { return fmt.Sprintf("@p%d", n) }

func (Dialect) CreateTableSQL(td schema.TableDescriptor) (string, error) {
	return msddl.BuildCreateTableSQL(td)
}

func (Dialect) DropTableSQL(table string) string { return msddl.BuildDropTableSQL(table) }

// UpsertSQL renders a single-row MERGE. HOLDLOCK makes the match and the
// insert atomic against concurrent writers of the same key.
//
//	MERGE INTO [t] WITH (HOLDLOCK) AS T
//	USING (SELECT @p1 AS [k], @p2 AS [v]) AS S
//	ON T.[k] = S.[k]
//	WHEN MATCHED THEN UPDATE SET T.[v] = S.[v]
//	WHEN NOT MATCHED THEN INSERT ([k], [v]) VALUES (S.[k], S.[v]);
func (d Dialect) UpsertSQL(td schema.TableDescriptor) string {
	cols := td.ColumnNames()
	src := make([]string, len(cols))
	vals := make([]string, len(cols))
	for i, c := range cols {
		src[i] = fmt.Sprintf("%s AS %s", d.Placeholder(i+1), msIdent(c))
		vals[i] = "S." + msIdent(c)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "MERGE INTO %s WITH (HOLDLOCK) AS T\n", msFQN(td.Name))
	fmt.Fprintf(&sb, "USING (SELECT %s) AS S\n", strings.Join(src, ", "))
	fmt.Fprintf(&sb, "ON %s\n", buildMatchCondition(td.PrimaryKey))
	if nonKey := td.NonKeyColumns(); len(nonKey) > 0 {
		sets := make([]string, len(nonKey))
		for i, c := range nonKey {
			sets[i] = fmt.Sprintf("T.%s = S.%s", msIdent(c), msIdent(c))
		}
		fmt.Fprintf(&sb, "WHEN MATCHED THEN UPDATE SET %s\n", strings.Join(sets, ", "))
	}
	fmt.Fprintf(&sb, "WHEN NOT MATCHED THEN INSERT (%s) VALUES (%s);",
		strings.Join(mapIdent(cols), ", "), strings.Join(vals, ", "))
	return sb.String()
}

// Lock takes a transaction-owned application lock; SQL Server releases it
// at commit or rollback.
func (Dialect) Lock(ctx context.Context, _ *sql.Conn, tx *sql.Tx, key string) (func(), error) {
	const q = `DECLARE @r int;
EXEC @r = sp_getapplock @Resource = @p1, @LockMode = 'Exclusive', @LockOwner = 'Transaction', @LockTimeout = @p2;
SELECT @r;`
	var r int
	if err := tx.QueryRowContext(ctx, q, key, lockTimeoutMillis).Scan(&r); err != nil {
		return nil, err
	}
	// 0 = granted, 1 = granted after waiting, negative = failure.
	if r < 0 {
		return nil, fmt.Errorf("sp_getapplock(%s) returned %d", key, r)
	}
	return func() {}, nil
}

func (Dialect) IsConstraintViolation(err error) bool {
	var me mssql.Error
	if errors.As(err, &me) {
		return me.Number == errPKViolation || me.Number == errUniqueIndexDup
	}
	var pme *mssql.Error
	if errors.As(err, &pme) {
		return pme.Number == errPKViolation || pme.Number == errUniqueIndexDup
	}
	return false
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

// BulkInsert implements sqldb.BulkInserter with the driver's bulk copy.
func (Dialect) BulkInsert(ctx context.Context, tx *sql.Tx, table string, columns []string, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	stmt, err := tx.PrepareContext(ctx, mssql.CopyIn(table, mssql.BulkOptions{}, columns...))
	if err != nil {
		return 0, fmt.Errorf("prepare bulk: %w", err)
	}
	for i := range rows {
		if _, err := stmt.ExecContext(ctx, rows[i]...); err != nil {
			_ = stmt.Close()
			return 0, fmt.Errorf("bulk row %d: %w", i, err)
		}
	}
	res, err := stmt.ExecContext(ctx)
	if cerr := stmt.Close(); cerr != nil && err == nil {
		err = cerr
	}
	if err != nil {
		return 0, fmt.Errorf("bulk finalize: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return n, nil
}

// buildMatchCondition builds the T=S equality join for the provided key columns.
func buildMatchCondition(keyColumns []string) string {
	conds := make([]string, 0, len(keyColumns))
	for _, col := range keyColumns {
		conds = append(conds, fmt.Sprintf("T.%s = S.%s", msIdent(col), msIdent(col)))
	}
	return strings.Join(conds, " AND ")
}

// msIdent safely quotes a SQL Server identifier using [brackets], escaping ].
func msIdent(id string) string { return msddl.QuoteIdent(id) }

// msFQN quotes a possibly schema-qualified name like "dbo.flights" to
// "[dbo].[flights]".
func msFQN(name string) string { return msddl.QuoteFQN(name) }

// mapIdent maps a list of column names to their bracket-quoted forms.
func mapIdent(cols []string) []string {
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = msIdent(c)
	}
	return out
}
