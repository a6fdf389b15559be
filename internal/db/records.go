package db

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/surrealdb/surrealdb.go"

	"github.com/raphaelgruber/recast/internal/metrics"
	"github.com/raphaelgruber/recast/internal/models"
)

// selectionSQL validates sel and returns the table name and WHERE clause.
func selectionSQL(sel models.Selection) (string, string, error) {
	for _, ident := range []string{sel.Collection, sel.PrimaryKey, sel.MarkerField} {
		if err := ValidIdentifier(ident); err != nil {
			return "", "", err
		}
	}

	unclaimed := fmt.Sprintf("(%[1]s IS NONE OR %[1]s IS NULL OR %[1]s = $job)", sel.MarkerField)
	where := unclaimed
	if f := strings.TrimSpace(sel.Filter); f != "" {
		where = fmt.Sprintf("(%s) AND %s", f, unclaimed)
	}
	return sel.Collection, where, nil
}

// Prepare indexes the marker field of collection.
func (c *Client) Prepare(ctx context.Context, collection, markerField string) error {
	if err := validIdents(collection, markerField); err != nil {
		return err
	}
	sql := fmt.Sprintf(`DEFINE INDEX IF NOT EXISTS %[1]s_%[2]s ON TABLE %[1]s FIELDS %[2]s`, collection, markerField)
	if _, err := surrealdb.Query[any](ctx, c.db, sql, nil); err != nil {
		return fmt.Errorf("prepare %s: %w", collection, wrapQueryError(err))
	}
	return nil
}

// Count returns the number of records in the selection.
func (c *Client) Count(ctx context.Context, sel models.Selection) (n int, err error) {
	start := time.Now()
	defer func() { c.metrics.Observe(metrics.OpStoreQuery, start, err) }()

	table, where, err := selectionSQL(sel)
	if err != nil {
		return 0, err
	}

	sql := fmt.Sprintf(`SELECT count() AS c FROM %s WHERE %s GROUP ALL`, table, where)
	results, err := surrealdb.Query[[]struct{ C int }](ctx, c.db, sql, map[string]any{"job": sel.JobID})
	if err != nil {
		return 0, fmt.Errorf("count %s: %w", table, wrapQueryError(err))
	}
	if results == nil || len(*results) == 0 || len((*results)[0].Result) == 0 {
		return 0, nil
	}
	return (*results)[0].Result[0].C, nil
}

// Query returns up to limit records of the selection starting at offset,
// ordered by primary key.
func (c *Client) Query(ctx context.Context, sel models.Selection, offset, limit int) (rows []models.Record, err error) {
	start := time.Now()
	defer func() { c.metrics.Observe(metrics.OpStoreQuery, start, err) }()

	table, where, err := selectionSQL(sel)
	if err != nil {
		return nil, err
	}

	sql := fmt.Sprintf(`SELECT * FROM %s WHERE %s ORDER BY %s ASC LIMIT $limit START $offset`,
		table, where, sel.PrimaryKey)
	results, err := surrealdb.Query[[]map[string]any](ctx, c.db, sql, map[string]any{
		"job":    sel.JobID,
		"limit":  limit,
		"offset": offset,
	})
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", table, wrapQueryError(err))
	}
	if results == nil || len(*results) == 0 {
		return nil, nil
	}

	raw := (*results)[0].Result
	rows = make([]models.Record, len(raw))
	for i, r := range raw {
		rows[i] = models.Record(r)
	}
	return rows, nil
}

// Delete removes records whose primary key is in keys.
func (c *Client) Delete(ctx context.Context, collection, primaryKey string, keys []any) (err error) {
	if len(keys) == 0 {
		return nil
	}
	start := time.Now()
	defer func() { c.metrics.Observe(metrics.OpStoreWrite, start, err) }()

	if err := validIdents(collection, primaryKey); err != nil {
		return err
	}
	sql := fmt.Sprintf(`DELETE %s WHERE %s IN $keys`, collection, primaryKey)
	if _, err := surrealdb.Query[any](ctx, c.db, sql, map[string]any{"keys": keys}); err != nil {
		return fmt.Errorf("delete from %s: %w", collection, wrapQueryError(err))
	}
	return nil
}

// Insert writes rows into collection.
func (c *Client) Insert(ctx context.Context, collection string, rows []models.Record) (err error) {
	if len(rows) == 0 {
		return nil
	}
	start := time.Now()
	defer func() { c.metrics.Observe(metrics.OpStoreWrite, start, err) }()

	if err := ValidIdentifier(collection); err != nil {
		return err
	}
	sql := fmt.Sprintf(`INSERT INTO %s $rows`, collection)
	if _, err := surrealdb.Query[any](ctx, c.db, sql, map[string]any{"rows": plainRows(rows)}); err != nil {
		return fmt.Errorf("insert into %s: %w", collection, wrapQueryError(err))
	}
	return nil
}

// Replace deletes rows by primary key and re-inserts them in one transaction.
func (c *Client) Replace(ctx context.Context, collection, primaryKey string, rows []models.Record) (err error) {
	if len(rows) == 0 {
		return nil
	}
	start := time.Now()
	defer func() { c.metrics.Observe(metrics.OpStoreWrite, start, err) }()

	if err := validIdents(collection, primaryKey); err != nil {
		return err
	}
	keys := make([]any, 0, len(rows))
	for _, r := range rows {
		keys = append(keys, r[primaryKey])
	}

	sql := fmt.Sprintf(`
		BEGIN TRANSACTION;
		DELETE %[1]s WHERE %[2]s IN $keys;
		INSERT INTO %[1]s $rows;
		COMMIT TRANSACTION;
	`, collection, primaryKey)
	_, err = surrealdb.Query[any](ctx, c.db, sql, map[string]any{
		"keys": keys,
		"rows": plainRows(rows),
	})
	if err != nil {
		return fmt.Errorf("replace in %s: %w", collection, wrapQueryError(err))
	}
	return nil
}

func validIdents(names ...string) error {
	for _, n := range names {
		if err := ValidIdentifier(n); err != nil {
			return err
		}
	}
	return nil
}

func plainRows(rows []models.Record) []map[string]any {
	out := make([]map[string]any, len(rows))
	for i, r := range rows {
		out[i] = map[string]any(r)
	}
	return out
}
