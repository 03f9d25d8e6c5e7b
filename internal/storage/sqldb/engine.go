package sqldb

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"log"
	"net"
	"strings"

	"skyetl/internal/schema"
	"skyetl/internal/storage"
	"skyetl/pkg/records"
)

// DefaultBatchSize bounds how many rows one LoadBatches flush carries.
const DefaultBatchSize = 1000

// Engine implements the storage.Repository operations (all but Close) over
// a *sql.DB and a Dialect.
type Engine struct {
	db        *sql.DB
	d         Dialect
	batchSize int
}

// New returns an Engine. batchSize <= 0 selects DefaultBatchSize.
func New(db *sql.DB, d Dialect, batchSize int) *Engine {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Engine{db: db, d: d, batchSize: batchSize}
}

// DB exposes the pool for backend-specific statements.
func (e *Engine) DB() *sql.DB { return e.db }

// CreateTableIfAbsent implements storage.Repository.
func (e *Engine) CreateTableIfAbsent(ctx context.Context, td schema.TableDescriptor) error {
	stmt, err := e.d.CreateTableSQL(td)
	if err != nil {
		return storage.Classify(storage.ErrSchemaMismatch, err)
	}
	if _, err := e.db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("%s: create table %s: %w", e.d.Name(), td.Name, e.classify(err))
	}
	return nil
}

// DropTable implements storage.Repository.
func (e *Engine) DropTable(ctx context.Context, table string) error {
	if strings.TrimSpace(table) == "" {
		return fmt.Errorf("%s: drop table: empty table name", e.d.Name())
	}
	if _, err := e.db.ExecContext(ctx, e.d.DropTableSQL(table)); err != nil {
		return fmt.Errorf("%s: drop table %s: %w", e.d.Name(), table, e.classify(err))
	}
	return nil
}

// Insert implements storage.Repository.
func (e *Engine) Insert(ctx context.Context, td schema.TableDescriptor, recs []records.Record) (int64, error) {
	if err := storage.CheckRecords(td, recs); err != nil {
		return 0, err
	}
	if err := e.CreateTableIfAbsent(ctx, td); err != nil {
		return 0, err
	}
	if len(recs) == 0 {
		return 0, nil
	}
	return e.inTx(ctx, func(tx *sql.Tx) (int64, error) {
		return e.insertRows(ctx, tx, td.Name, td, recs)
	})
}

// Upsert implements storage.Repository.
func (e *Engine) Upsert(ctx context.Context, td schema.TableDescriptor, recs []records.Record) (int64, error) {
	if err := storage.CheckRecords(td, recs); err != nil {
		return 0, err
	}
	if err := e.CreateTableIfAbsent(ctx, td); err != nil {
		return 0, err
	}
	recs = storage.DedupByKey(td, recs)
	if len(recs) == 0 {
		return 0, nil
	}

	return e.inTx(ctx, func(tx *sql.Tx) (int64, error) {
		stmt, err := tx.PrepareContext(ctx, e.d.UpsertSQL(td))
		if err != nil {
			return 0, fmt.Errorf("%s: prepare upsert: %w", e.d.Name(), e.classify(err))
		}
		defer stmt.Close()
		return storage.LoadBatches(ctx, td.ColumnNames(), storage.Rows(td, recs, e.d.Bind), e.batchSize, e.execEach(stmt, "upsert"))
	})
}

// Overwrite implements storage.Repository. Dialects with transactional DDL
// drop, create and load in one transaction; Swapper dialects load a shadow
// table and swap it in.
func (e *Engine) Overwrite(ctx context.Context, td schema.TableDescriptor, recs []records.Record) (int64, error) {
	if err := storage.CheckRecords(td, recs); err != nil {
		return 0, err
	}
	if sw, ok := e.d.(Swapper); ok {
		return e.overwriteBySwap(ctx, sw, td, recs)
	}

	create, err := e.d.CreateTableSQL(td)
	if err != nil {
		return 0, storage.Classify(storage.ErrSchemaMismatch, err)
	}
	return e.inTx(ctx, func(tx *sql.Tx) (int64, error) {
		if _, err := tx.ExecContext(ctx, e.d.DropTableSQL(td.Name)); err != nil {
			return 0, fmt.Errorf("%s: overwrite drop: %w", e.d.Name(), e.classify(err))
		}
		if _, err := tx.ExecContext(ctx, create); err != nil {
			return 0, fmt.Errorf("%s: overwrite create: %w", e.d.Name(), e.classify(err))
		}
		if len(recs) == 0 {
			return 0, nil
		}
		return e.insertRows(ctx, tx, td.Name, td, recs)
	})
}

func (e *Engine) overwriteBySwap(ctx context.Context, sw Swapper, td schema.TableDescriptor, recs []records.Record) (int64, error) {
	shadow := td.Name + "__shadow"
	retired := td.Name + "__retired"

	if err := e.CreateTableIfAbsent(ctx, td); err != nil {
		return 0, err
	}
	for _, t := range []string{shadow, retired} {
		if err := e.DropTable(ctx, t); err != nil {
			return 0, err
		}
	}
	if err := e.CreateTableIfAbsent(ctx, td.WithName(shadow)); err != nil {
		return 0, err
	}

	n, err := e.inTx(ctx, func(tx *sql.Tx) (int64, error) {
		if len(recs) == 0 {
			return 0, nil
		}
		return e.insertRows(ctx, tx, shadow, td, recs)
	})
	if err != nil {
		_ = e.DropTable(ctx, shadow)
		return 0, err
	}

	if _, err := e.db.ExecContext(ctx, sw.SwapSQL(td.Name, shadow, retired)); err != nil {
		_ = e.DropTable(ctx, shadow)
		return 0, fmt.Errorf("%s: overwrite swap: %w", e.d.Name(), e.classify(err))
	}
	if err := e.DropTable(ctx, retired); err != nil {
		log.Printf("%s: overwrite: retired table %s not dropped: %v", e.d.Name(), retired, err)
	}
	return n, nil
}

// SelectAll implements storage.Repository.
func (e *Engine) SelectAll(ctx context.Context, td schema.TableDescriptor) ([]records.Record, error) {
	if err := td.Validate(); err != nil {
		return nil, storage.Classify(storage.ErrSchemaMismatch, err)
	}
	q := fmt.Sprintf("SELECT %s FROM %s", e.columnList(td.ColumnNames()), e.d.QuoteFQN(td.Name))
	rows, err := e.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("%s: select %s: %w", e.d.Name(), td.Name, e.classify(err))
	}
	defer rows.Close()

	var out []records.Record
	for rows.Next() {
		vals := make([]any, len(td.Columns))
		ptrs := make([]any, len(td.Columns))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("%s: scan %s: %w", e.d.Name(), td.Name, err)
		}
		rec := make(records.Record, len(td.Columns))
		for i, c := range td.Columns {
			v, err := storage.Normalize(c, vals[i])
			if err != nil {
				return nil, fmt.Errorf("%s: %s: %w", e.d.Name(), td.Name, err)
			}
			rec[c.Name] = v
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: select %s: %w", e.d.Name(), td.Name, e.classify(err))
	}
	return out, nil
}

// MaxInt implements storage.Repository.
func (e *Engine) MaxInt(ctx context.Context, td schema.TableDescriptor, column string, scope records.Record) (int64, bool, error) {
	q, args, err := e.maxQuery(td, column, scope.Keys(), scope)
	if err != nil {
		return 0, false, err
	}
	var v sql.NullInt64
	if err := e.db.QueryRowContext(ctx, q, args...).Scan(&v); err != nil {
		return 0, false, fmt.Errorf("%s: max %s.%s: %w", e.d.Name(), td.Name, column, e.classify(err))
	}
	return v.Int64, v.Valid, nil
}

// InsertSequenced implements storage.Repository. The max lookup and the
// insert share one transaction on a pinned connection that holds the
// dialect's lock.
func (e *Engine) InsertSequenced(ctx context.Context, td schema.TableDescriptor, column string, scope []string, rec records.Record) (int64, error) {
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
	if err := e.CreateTableIfAbsent(ctx, td); err != nil {
		return 0, err
	}

	conn, err := e.db.Conn(ctx)
	if err != nil {
		return 0, fmt.Errorf("%s: acquire conn: %w", e.d.Name(), storage.Classify(storage.ErrConnection, err))
	}
	defer conn.Close()

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("%s: begin tx: %w", e.d.Name(), e.classify(err))
	}
	release, err := e.d.Lock(ctx, conn, tx, storage.LockKey(td.Name, scope, rec))
	if err != nil {
		_ = tx.Rollback()
		return 0, fmt.Errorf("%s: sequence lock: %w", e.d.Name(), e.classify(err))
	}
	defer release()

	scoped := make(records.Record, len(scope))
	for _, k := range scope {
		scoped[k] = rec[k]
	}
	q, args, err := e.maxQuery(td, column, scope, scoped)
	if err != nil {
		_ = tx.Rollback()
		return 0, err
	}
	var cur sql.NullInt64
	if err := tx.QueryRowContext(ctx, q, args...).Scan(&cur); err != nil {
		_ = tx.Rollback()
		return 0, fmt.Errorf("%s: sequence max: %w", e.d.Name(), e.classify(err))
	}

	next := want
	if cur.Valid && cur.Int64+1 > next {
		next = cur.Int64 + 1
	}
	row := rec.Clone()
	row[column] = next

	stmt, err := tx.PrepareContext(ctx, e.insertSQL(td.Name, td.ColumnNames()))
	if err != nil {
		_ = tx.Rollback()
		return 0, fmt.Errorf("%s: prepare insert: %w", e.d.Name(), e.classify(err))
	}
	defer stmt.Close()
	if _, err := stmt.ExecContext(ctx, storage.Rows(td, []records.Record{row}, e.d.Bind)[0]...); err != nil {
		_ = tx.Rollback()
		return 0, fmt.Errorf("%s: sequenced insert: %w", e.d.Name(), e.classify(err))
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("%s: commit: %w", e.d.Name(), e.classify(err))
	}
	return next, nil
}

func (e *Engine) maxQuery(td schema.TableDescriptor, column string, keys []string, scope records.Record) (string, []any, error) {
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
		conds = append(conds, fmt.Sprintf("%s = %s", e.d.Quote(k), e.d.Placeholder(i+1)))
		v := scope[k]
		if v != nil {
			v = e.d.Bind(c, v)
		}
		args = append(args, v)
	}
	q := fmt.Sprintf("SELECT MAX(%s) FROM %s", e.d.Quote(column), e.d.QuoteFQN(td.Name))
	if len(conds) > 0 {
		q += " WHERE " + strings.Join(conds, " AND ")
	}
	return q, args, nil
}

func (e *Engine) insertRows(ctx context.Context, tx *sql.Tx, table string, td schema.TableDescriptor, recs []records.Record) (int64, error) {
	cols := td.ColumnNames()
	rows := storage.Rows(td, recs, e.d.Bind)

	if b, ok := e.d.(BulkInserter); ok {
		return storage.LoadBatches(ctx, cols, rows, e.batchSize,
			func(ctx context.Context, columns []string, batch [][]any) (int64, error) {
				n, err := b.BulkInsert(ctx, tx, table, columns, batch)
				if err != nil {
					return n, fmt.Errorf("%s: bulk insert: %w", e.d.Name(), e.classify(err))
				}
				return n, nil
			})
	}

	stmt, err := tx.PrepareContext(ctx, e.insertSQL(table, cols))
	if err != nil {
		return 0, fmt.Errorf("%s: prepare insert: %w", e.d.Name(), e.classify(err))
	}
	defer stmt.Close()
	return storage.LoadBatches(ctx, cols, rows, e.batchSize, e.execEach(stmt, "insert"))
}

// execEach runs a prepared single-row statement for every row of a batch.
func (e *Engine) execEach(stmt *sql.Stmt, op string) storage.CopyFn {
	return func(ctx context.Context, columns []string, rows [][]any) (int64, error) {
		var n int64
		for i, row := range rows {
			if len(row) != len(columns) {
				return n, fmt.Errorf("%s: %s: row length %d != columns length %d", e.d.Name(), op, len(row), len(columns))
			}
			if _, err := stmt.ExecContext(ctx, row...); err != nil {
				return n, fmt.Errorf("%s: %s row %d: %w", e.d.Name(), op, i, e.classify(err))
			}
			n++
		}
		return n, nil
	}
}

func (e *Engine) inTx(ctx context.Context, fn func(tx *sql.Tx) (int64, error)) (int64, error) {
	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("%s: begin tx: %w", e.d.Name(), e.classify(err))
	}
	n, err := fn(tx)
	if err != nil {
		_ = tx.Rollback()
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("%s: commit: %w", e.d.Name(), e.classify(err))
	}
	return n, nil
}

// InsertSQL renders a single-row INSERT for table with placeholders in
// column order.
func InsertSQL(d Dialect, table string, columns []string) string {
	ph := make([]string, len(columns))
	for i := range ph {
		ph[i] = d.Placeholder(i + 1)
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		d.QuoteFQN(table), QuoteList(d, columns), strings.Join(ph, ", "))
}

func (e *Engine) insertSQL(table string, columns []string) string {
	return InsertSQL(e.d, table, columns)
}

func (e *Engine) columnList(cols []string) string { return QuoteList(e.d, cols) }

// QuoteList quotes and comma-joins identifiers.
func QuoteList(d Dialect, ids []string) string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = d.Quote(id)
	}
	return strings.Join(out, ", ")
}

// classify maps driver errors onto the storage taxonomy.
func (e *Engine) classify(err error) error {
	if err == nil {
		return nil
	}
	if e.d.IsConstraintViolation(err) {
		return storage.Classify(storage.ErrConstraintViolation, err)
	}
	return ClassifyConn(err)
}

// ClassifyConn marks transport-level failures as storage.ErrConnection and
// returns other errors unchanged.
func ClassifyConn(err error) error {
	var netErr net.Error
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) || errors.As(err, &netErr) {
		return storage.Classify(storage.ErrConnection, err)
	}
	return err
}
