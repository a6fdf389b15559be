package engine

import (
	"context"
	"fmt"

	"github.com/raphaelgruber/recast/internal/models"
	"github.com/raphaelgruber/recast/internal/retry"
)

// RecordStore is the remote collection a job sweeps.
type RecordStore interface {
	// Count returns the number of records matching sel.
	Count(ctx context.Context, sel models.Selection) (int, error)
	// Query returns up to limit matching records ordered by primary key.
	Query(ctx context.Context, sel models.Selection, offset, limit int) ([]models.Record, error)
	Delete(ctx context.Context, collection, primaryKey string, keys []any) error
	Insert(ctx context.Context, collection string, rows []models.Record) error
}

// Replacer is implemented by stores that can swap rows in one transaction.
type Replacer interface {
	Replace(ctx context.Context, collection, primaryKey string, rows []models.Record) error
}

// Preparer is implemented by stores that need setup before a collection is swept.
type Preparer interface {
	Prepare(ctx context.Context, collection, markerField string) error
}

// recordIO wraps a RecordStore with the engine's retry policy.
type recordIO struct {
	store  RecordStore
	policy retry.Policy
}

func (r recordIO) prepare(ctx context.Context, inst *models.Instance) error {
	p, ok := r.store.(Preparer)
	if !ok {
		return nil
	}
	return retry.Do(ctx, r.policy, func(ctx context.Context) error {
		return p.Prepare(ctx, inst.Collection, inst.Marker())
	})
}

func (r recordIO) count(ctx context.Context, sel models.Selection) (int, error) {
	return retry.DoValue(ctx, r.policy, func(ctx context.Context) (int, error) {
		return r.store.Count(ctx, sel)
	})
}

func (r recordIO) page(ctx context.Context, sel models.Selection, offset, limit int) ([]models.Record, error) {
	return retry.DoValue(ctx, r.policy, func(ctx context.Context) ([]models.Record, error) {
		return r.store.Query(ctx, sel, offset, limit)
	})
}

// write replaces rows keyed by primaryKey, transactionally when the store supports it.
func (r recordIO) write(ctx context.Context, collection, primaryKey string, rows []models.Record) error {
	if len(rows) == 0 {
		return nil
	}
	if rep, ok := r.store.(Replacer); ok {
		return retry.Do(ctx, r.policy, func(ctx context.Context) error {
			return rep.Replace(ctx, collection, primaryKey, rows)
		})
	}

	keys := make([]any, len(rows))
	for i, row := range rows {
		keys[i] = row[primaryKey]
	}
	if err := retry.Do(ctx, r.policy, func(ctx context.Context) error {
		return r.store.Delete(ctx, collection, primaryKey, keys)
	}); err != nil {
		return fmt.Errorf("delete page rows: %w", err)
	}
	if err := retry.Do(ctx, r.policy, func(ctx context.Context) error {
		return r.store.Insert(ctx, collection, rows)
	}); err != nil {
		return fmt.Errorf("insert page rows: %w", err)
	}
	return nil
}
