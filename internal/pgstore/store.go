// Package pgstore implements the record store on Postgres with pgvector columns.
package pgstore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"

	"github.com/raphaelgruber/recast/internal/metrics"
	"github.com/raphaelgruber/recast/internal/models"
)

// ErrNoColumns is returned when rows to insert carry no fields.
var ErrNoColumns = errors.New("rows have no columns")

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Store is a record store backed by a pgx connection pool.
type Store struct {
	pool    *pgxpool.Pool
	metrics *metrics.Collector
}

// New connects to dsn and verifies the connection.
func New(ctx context.Context, dsn string, collector *metrics.Collector) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &Store{pool: pool, metrics: collector}, nil
}

// Close releases the pool.
func (s *Store) Close() {
	s.pool.Close()
}

func ident(name string) string {
	return pgx.Identifier{name}.Sanitize()
}

// tableIdent accepts "schema.table" as well as a bare table name.
func tableIdent(name string) string {
	return pgx.Identifier(strings.Split(name, ".")).Sanitize()
}

// whereClause returns the selection predicate with the job id as $1.
func whereClause(sel models.Selection) string {
	unclaimed := fmt.Sprintf("(%[1]s IS NULL OR %[1]s = $1)", ident(sel.MarkerField))
	if f := strings.TrimSpace(sel.Filter); f != "" {
		return fmt.Sprintf("(%s) AND %s", f, unclaimed)
	}
	return unclaimed
}

func countSQL(sel models.Selection) string {
	return fmt.Sprintf("SELECT count(*) FROM %s WHERE %s", tableIdent(sel.Collection), whereClause(sel))
}

func pageSQL(sel models.Selection) string {
	return fmt.Sprintf("SELECT * FROM %s WHERE %s ORDER BY %s ASC OFFSET $2 LIMIT $3",
		tableIdent(sel.Collection), whereClause(sel), ident(sel.PrimaryKey))
}

// deleteSQL builds a DELETE for n keys as $1..$n.
func deleteSQL(collection, primaryKey string, n int) string {
	params := make([]string, n)
	for i := range params {
		params[i] = fmt.Sprintf("$%d", i+1)
	}
	return fmt.Sprintf("DELETE FROM %s WHERE %s IN (%s)",
		tableIdent(collection), ident(primaryKey), strings.Join(params, ", "))
}

// insertSQL builds a multi-row INSERT over the union of the rows' columns.
// Columns missing from a row are written as NULL.
func insertSQL(collection string, rows []models.Record) (string, []any, error) {
	colSet := make(map[string]struct{})
	for _, r := range rows {
		for k := range r {
			colSet[k] = struct{}{}
		}
	}
	if len(colSet) == 0 {
		return "", nil, ErrNoColumns
	}
	cols := make([]string, 0, len(colSet))
	for k := range colSet {
		cols = append(cols, k)
	}
	sort.Strings(cols)

	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = ident(c)
	}

	var (
		b    strings.Builder
		args = make([]any, 0, len(rows)*len(cols))
	)
	fmt.Fprintf(&b, "INSERT INTO %s (%s) VALUES ", tableIdent(collection), strings.Join(quoted, ", "))
	for i, r := range rows {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteByte('(')
		for j, c := range cols {
			if j > 0 {
				b.WriteString(", ")
			}
			args = append(args, encodeValue(r[c]))
			fmt.Fprintf(&b, "$%d", len(args))
		}
		b.WriteByte(')')
	}
	return b.String(), args, nil
}

func encodeValue(v any) any {
	switch vec := v.(type) {
	case []float32:
		return pgvector.NewVector(vec)
	case []float64:
		f := make([]float32, len(vec))
		for i, x := range vec {
			f[i] = float32(x)
		}
		return pgvector.NewVector(f)
	default:
		return v
	}
}

// Prepare adds the marker column to collection when it is missing.
func (s *Store) Prepare(ctx context.Context, collection, markerField string) error {
	sql := fmt.Sprintf("ALTER TABLE %s ADD COLUMN IF NOT EXISTS %s text", tableIdent(collection), ident(markerField))
	if _, err := s.pool.Exec(ctx, sql); err != nil {
		return fmt.Errorf("prepare %s: %w", collection, err)
	}
	return nil
}

// Count returns the number of records in the selection.
func (s *Store) Count(ctx context.Context, sel models.Selection) (n int, err error) {
	start := time.Now()
	defer func() { s.metrics.Observe(metrics.OpStoreQuery, start, err) }()

	if err := s.pool.QueryRow(ctx, countSQL(sel), sel.JobID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count %s: %w", sel.Collection, err)
	}
	return n, nil
}

// Query returns up to limit records of the selection starting at offset.
func (s *Store) Query(ctx context.Context, sel models.Selection, offset, limit int) (out []models.Record, err error) {
	start := time.Now()
	defer func() { s.metrics.Observe(metrics.OpStoreQuery, start, err) }()

	rows, err := s.pool.Query(ctx, pageSQL(sel), sel.JobID, offset, limit)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", sel.Collection, err)
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, fmt.Errorf("read row: %w", err)
		}
		rec := make(models.Record, len(fields))
		for i, f := range fields {
			rec[f.Name] = values[i]
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s: %w", sel.Collection, err)
	}
	return out, nil
}

// Delete removes records whose primary key is in keys.
func (s *Store) Delete(ctx context.Context, collection, primaryKey string, keys []any) (err error) {
	if len(keys) == 0 {
		return nil
	}
	start := time.Now()
	defer func() { s.metrics.Observe(metrics.OpStoreWrite, start, err) }()

	return deleteKeys(ctx, s.pool, collection, primaryKey, keys)
}

// Insert writes rows into collection.
func (s *Store) Insert(ctx context.Context, collection string, rows []models.Record) (err error) {
	if len(rows) == 0 {
		return nil
	}
	start := time.Now()
	defer func() { s.metrics.Observe(metrics.OpStoreWrite, start, err) }()

	return insertRows(ctx, s.pool, collection, rows)
}

// Replace deletes rows by primary key and re-inserts them in one transaction.
func (s *Store) Replace(ctx context.Context, collection, primaryKey string, rows []models.Record) (err error) {
	if len(rows) == 0 {
		return nil
	}
	start := time.Now()
	defer func() { s.metrics.Observe(metrics.OpStoreWrite, start, err) }()

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	keys := make([]any, len(rows))
	for i, r := range rows {
		keys[i] = r[primaryKey]
	}
	if err := deleteKeys(ctx, tx, collection, primaryKey, keys); err != nil {
		return err
	}
	if err := insertRows(ctx, tx, collection, rows); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit replace: %w", err)
	}
	return nil
}

func deleteKeys(ctx context.Context, db execer, collection, primaryKey string, keys []any) error {
	if _, err := db.Exec(ctx, deleteSQL(collection, primaryKey, len(keys)), keys...); err != nil {
		return fmt.Errorf("delete from %s: %w", collection, err)
	}
	return nil
}

func insertRows(ctx context.Context, db execer, collection string, rows []models.Record) error {
	sql, args, err := insertSQL(collection, rows)
	if err != nil {
		return err
	}
	if _, err := db.Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("insert into %s: %w", collection, err)
	}
	return nil
}
