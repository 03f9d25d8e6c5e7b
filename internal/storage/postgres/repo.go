// Package postgres implements a Postgres repository using pgx v5. Inserts
// stream through COPY; upserts COPY into a transaction-scoped temporary
// table and merge it into the target with INSERT ... ON CONFLICT.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"skyetl/internal/schema"
	"skyetl/internal/storage"
	pgddl "skyetl/internal/storage/postgres/ddl"
	"skyetl/pkg/records"
)

// uniqueViolation is the SQLSTATE for unique_violation.
const uniqueViolation = "23505"

const defaultBatchSize = 5000

// Config holds Postgres repository configuration.
type Config struct {
	DSN       string // connection string for pgxpool
	BatchSize int    // rows per COPY flush; 0 selects the default
}

// Repository is a Postgres-backed implementation of storage.Repository.
type Repository struct {
	pool *pgxpool.Pool
	cfg  Config
}

// NewRepository constructs a Repository and returns a Close function for cleanup.
func NewRepository(ctx context.Context, cfg Config) (*Repository, func(), error) {
	pool, err := pgxpool.New(ctx, cfg.DSN)
	if err != nil {
		return nil, nil, fmt.Errorf("pgxpool: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("postgres: ping: %w", storage.Classify(storage.ErrConnection, err))
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	closeFn := func() { pool.Close() }
	return &Repository{pool: pool, cfg: cfg}, closeFn, nil
}

// CreateTableIfAbsent implements storage.Repository.
func (r *Repository) CreateTableIfAbsent(ctx context.Context, td schema.TableDescriptor) error {
	stmt, err := pgddl.BuildCreateTableSQL(td)
	if err != nil {
		return storage.Classify(storage.ErrSchemaMismatch, err)
	}
	if _, err := r.pool.Exec(ctx, stmt); err != nil {
		return fmt.Errorf("postgres: create table %s: %w", td.Name, classify(err))
	}
	return nil
}

// DropTable implements storage.Repository.
func (r *Repository) DropTable(ctx context.Context, table string) error {
	if strings.TrimSpace(table) == "" {
		return fmt.Errorf("postgres: drop table: empty table name")
	}
	if _, err := r.pool.Exec(ctx, "DROP TABLE IF EXISTS "+pgddl.QuoteFQN(table)); err != nil {
		return fmt.Errorf("postgres: drop table %s: %w", table, classify(err))
	}
	return nil
}

// Insert implements storage.Repository by COPYing straight into the target.
func (r *Repository) Insert(ctx context.Context, td schema.TableDescriptor, recs []records.Record) (int64, error) {
	if err := storage.CheckRecords(td, recs); err != nil {
		return 0, err
	}
	if err := r.CreateTableIfAbsent(ctx, td); err != nil {
		return 0, err
	}
	if len(recs) == 0 {
		return 0, nil
	}
	return r.inTx(ctx, func(tx pgx.Tx) (int64, error) {
		return r.copyRows(ctx, tx, splitFQN(td.Name), td, recs)
	})
}

// Upsert implements storage.Repository.
func (r *Repository) Upsert(ctx context.Context, td schema.TableDescriptor, recs []records.Record) (int64, error) {
	if err := storage.CheckRecords(td, recs); err != nil {
		return 0, err
	}
	if err := r.CreateTableIfAbsent(ctx, td); err != nil {
		return 0, err
	}
	recs = storage.DedupByKey(td, recs)
	if len(recs) == 0 {
		return 0, nil
	}

	tmp := stageName(td.Name)
	return r.inTx(ctx, func(tx pgx.Tx) (int64, error) {
		create := fmt.Sprintf(
			"CREATE TEMP TABLE %s (LIKE %s INCLUDING DEFAULTS) ON COMMIT DROP",
			pgIdent(tmp), pgddl.QuoteFQN(td.Name),
		)
		if _, err := tx.Exec(ctx, create); err != nil {
			return 0, fmt.Errorf("postgres: create temp: %w", classify(err))
		}
		if _, err := r.copyRows(ctx, tx, pgx.Identifier{tmp}, td, recs); err != nil {
			return 0, err
		}
		tag, err := tx.Exec(ctx, upsertSQL(td, tmp))
		if err != nil {
			return 0, fmt.Errorf("postgres: upsert phase: %w", classify(err))
		}
		return tag.RowsAffected(), nil
	})
}

// Overwrite implements storage.Repository. Postgres DDL is transactional,
// so the drop, create and COPY commit together.
func (r *Repository) Overwrite(ctx context.Context, td schema.TableDescriptor, recs []records.Record) (int64, error) {
	if err := storage.CheckRecords(td, recs); err != nil {
		return 0, err
	}
	create, err := pgddl.BuildCreateTableSQL(td)
	if err != nil {
		return 0, storage.Classify(storage.ErrSchemaMismatch, err)
	}
	return r.inTx(ctx, func(tx pgx.Tx) (int64, error) {
		if _, err := tx.Exec(ctx, "DROP TABLE IF EXISTS "+pgddl.QuoteFQN(td.Name)); err != nil {
			return 0, fmt.Errorf("postgres: overwrite drop: %w", classify(err))
		}
		if _, err := tx.Exec(ctx, create); err != nil {
			return 0, fmt.Errorf("postgres: overwrite create: %w", classify(err))
		}
		if len(recs) == 0 {
			return 0, nil
		}
		return r.copyRows(ctx, tx, splitFQN(td.Name), td, recs)
	})
}

// SelectAll implements storage.Repository.
func (r *Repository) SelectAll(ctx context.Context, td schema.TableDescriptor) ([]records.Record, error) {
	if err := td.Validate(); err != nil {
		return nil, storage.Classify(storage.ErrSchemaMismatch, err)
	}
	q := fmt.Sprintf("SELECT %s FROM %s", strings.Join(mapIdent(td.ColumnNames()), ", "), pgddl.QuoteFQN(td.Name))
	rows, err := r.pool.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("postgres: select %s: %w", td.Name, classify(err))
	}
	defer rows.Close()

	var out []records.Record
	for rows.Next() {
		vals, err := rows.Values()
		if err != nil {
			return nil, fmt.Errorf("postgres: scan %s: %w", td.Name, err)
		}
		rec := make(records.Record, len(td.Columns))
		for i, c := range td.Columns {
			v, err := storage.Normalize(c, vals[i])
			if err != nil {
				return nil, fmt.Errorf("postgres: %s: %w", td.Name, err)
			}
			rec[c.Name] = v
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: select %s: %w", td.Name, classify(err))
	}
	return out, nil
}

// MaxInt implements storage.Repository.
func (r *Repository) MaxInt(ctx context.Context, td schema.TableDescriptor, column string, scope records.Record) (int64, bool, error) {
	q, args, err := maxQuery(td, column, scope.Keys(), scope)
	if err != nil {
		return 0, false, err
	}
	var v *int64
	if err := r.pool.QueryRow(ctx, q, args...).Scan(&v); err != nil {
		return 0, false, fmt.Errorf("postgres: max %s.%s: %w", td.Name, column, classify(err))
	}
	if v == nil {
		return 0, false, nil
	}
	return *v, true, nil
}

// InsertSequenced implements storage.Repository. The transaction-scoped
// advisory lock serialises concurrent reservations for the same key and is
// released at commit or rollback.
func (r *Repository) InsertSequenced(ctx context.Context, td schema.TableDescriptor, column string, scope []string, rec records.Record) (int64, error) {
	if !td.IsKey(column) {
		return 0, storage.Classify(storage.ErrSchemaMismatch,
			fmt.Errorf("sequence column %q is not part of the primary key of %s", column, td.Name))
	}
	if err := storage.CheckRecords(td, []records.Record{rec}); err != nil {
		return 0, err
	}
	want, ok := storage.Int64(rec[column])
	if !ok {
		return 0, storage.Classify(storage.ErrSchemaMismatch,
			fmt.Errorf("sequence column %q holds %T, want an integer", column, rec[column]))
	}
	if err := r.CreateTableIfAbsent(ctx, td); err != nil {
		return 0, err
	}

	scoped := make(records.Record, len(scope))
	for _, k := range scope {
		scoped[k] = rec[k]
	}
	q, args, err := maxQuery(td, column, scope, scoped)
	if err != nil {
		return 0, err
	}

	var next int64
	_, err = r.inTx(ctx, func(tx pgx.Tx) (int64, error) {
		if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock(hashtext($1))", storage.LockKey(td.Name, scope, rec)); err != nil {
			return 0, fmt.Errorf("postgres: sequence lock: %w", classify(err))
		}
		var cur *int64
		if err := tx.QueryRow(ctx, q, args...).Scan(&cur); err != nil {
			return 0, fmt.Errorf("postgres: sequence max: %w", classify(err))
		}
		next = want
		if cur != nil && *cur+1 > next {
			next = *cur + 1
		}
		row := rec.Clone()
		row[column] = next
		if _, err := tx.Exec(ctx, insertSQL(td), storage.Rows(td, []records.Record{row}, bind)[0]...); err != nil {
			return 0, fmt.Errorf("postgres: sequenced insert: %w", classify(err))
		}
		return 1, nil
	})
	if err != nil {
		return 0, err
	}
	return next, nil
}

// copyRows streams recs into table with COPY in batches of cfg.BatchSize.
func (r *Repository) copyRows(ctx context.Context, tx pgx.Tx, table pgx.Identifier, td schema.TableDescriptor, recs []records.Record) (int64, error) {
	batch := r.cfg.BatchSize
	if batch <= 0 {
		batch = defaultBatchSize
	}
	return storage.LoadBatches(ctx, td.ColumnNames(), storage.Rows(td, recs, bind), batch,
		func(ctx context.Context, columns []string, rows [][]any) (int64, error) {
			n, err := tx.CopyFrom(ctx, table, columns, pgx.CopyFromRows(rows))
			if err != nil {
				var pgErr *pgconn.PgError
				if errors.As(err, &pgErr) && pgErr.Detail != "" {
					log.Printf("postgres: copy into %s: %s (%s)", table.Sanitize(), pgErr.Detail, pgErr.SQLState())
				}
				return n, fmt.Errorf("postgres: copy into %s: %w", table.Sanitize(), classify(err))
			}
			return n, nil
		})
}

func (r *Repository) inTx(ctx context.Context, fn func(tx pgx.Tx) (int64, error)) (int64, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("postgres: begin tx: %w", classify(err))
	}
	n, err := fn(tx)
	if err != nil {
		_ = tx.Rollback(ctx)
		return 0, err
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("postgres: commit: %w", classify(err))
	}
	return n, nil
}

// bind passes values to pgx as-is so it can encode them properly, except
// timestamps (normalised to UTC) and JSON (rendered as JSON text).
func bind(c schema.Column, v any) any {
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

// classify maps pgx errors onto the storage taxonomy.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return storage.Classify(storage.ErrConstraintViolation, err)
	}
	var connErr *pgconn.ConnectError
	var netErr net.Error
	if errors.As(err, &connErr) || errors.As(err, &netErr) {
		return storage.Classify(storage.ErrConnection, err)
	}
	return err
}

// upsertSQL merges the staging table into the target. Key-only tables
// ignore conflicts.
func upsertSQL(td schema.TableDescriptor, tmp string) string {
	cols := strings.Join(mapIdent(td.ColumnNames()), ", ")
	action := "DO NOTHING"
	if nonKey := td.NonKeyColumns(); len(nonKey) > 0 {
		action = "DO UPDATE SET " + strings.Join(updateColumns(nonKey), ", ")
	}
	return fmt.Sprintf(
		"INSERT INTO %s (%s) SELECT %s FROM %s ON CONFLICT (%s) %s",
		pgddl.QuoteFQN(td.Name), cols, cols, pgIdent(tmp),
		strings.Join(mapIdent(td.PrimaryKey), ", "), action,
	)
}

func insertSQL(td schema.TableDescriptor) string {
	ph := make([]string, len(td.Columns))
	for i := range ph {
		ph[i] = fmt.Sprintf("$%d", i+1)
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		pgddl.QuoteFQN(td.Name), strings.Join(mapIdent(td.ColumnNames()), ", "), strings.Join(ph, ", "))
}

func maxQuery(td schema.TableDescriptor, column string, keys []string, scope records.Record) (string, []any, error) {
	if _, ok := td.Column(column); !ok {
		return "", nil, storage.Classify(storage.ErrSchemaMismatch,
			fmt.Errorf("column %q not declared in %s", column, td.Name))
	}
	conds := make([]string, 0, len(keys))
	args := make([]any, 0, len(keys))
	for i, k := range keys {
		c, ok := td.Column(k)
		if !ok {
			return "", nil, storage.Classify(storage.ErrSchemaMismatch,
				fmt.Errorf("scope column %q not declared in %s", k, td.Name))
		}
		conds = append(conds, fmt.Sprintf("%s = $%d", pgIdent(k), i+1))
		v := scope[k]
		if v != nil {
			v = bind(c, v)
		}
		args = append(args, v)
	}
	q := fmt.Sprintf("SELECT MAX(%s) FROM %s", pgIdent(column), pgddl.QuoteFQN(td.Name))
	if len(conds) > 0 {
		q += " WHERE " + strings.Join(conds, " AND ")
	}
	return q, args, nil
}

// updateColumns generates a list of column updates in the format: "col" = EXCLUDED."col"
func updateColumns(cols []string) []string {
	updates := make([]string, 0, len(cols))
	for _, col := range cols {
		updates = append(updates, fmt.Sprintf("%s = EXCLUDED.%s", pgIdent(col), pgIdent(col)))
	}
	return updates
}

// stageName derives the temp table name for an upsert into table.
func stageName(table string) string {
	return "stage_" + strings.ReplaceAll(table, ".", "_")
}

// pgIdent safely quotes a single identifier segment for Postgres.
func pgIdent(id string) string { return pgddl.QuoteIdent(id) }

// mapIdent maps a list of column names to their quoted forms.
func mapIdent(cols []string) []string {
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = pgIdent(c)
	}
	return out
}

// splitFQN converts "schema.table" into a pgx.Identifier {"schema","table"}.
// If no dot is present, returns {"table"}.
func splitFQN(fqn string) pgx.Identifier {
	parts := strings.Split(fqn, ".")
	id := make(pgx.Identifier, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			id = append(id, p)
		}
	}
	return id
}
