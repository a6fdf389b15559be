// Package embedding fans embedding calls out over a page of records with
// bounded concurrency and per-record failure isolation.
package embedding

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/raphaelgruber/recast/internal/retry"
)

// Embedder defines the interface for text embedding providers.
type Embedder interface {
	// Embed generates an embedding vector for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Item is one record's final text.
type Item struct {
	Key  string
	Text string
}

// Result carries the vector for an Item, or the error that prevented it.
type Result struct {
	Key    string
	Vector []float32
	Err    error
}

// Config tunes the fan-out.
type Config struct {
	Concurrency int
	// Policy applies to each record's embedding call.
	Policy retry.Policy
}

// DefaultConfig returns production settings: 5 concurrent calls, 2 attempts
// 500ms apart, 15s per attempt.
func DefaultConfig() Config {
	return Config{
		Concurrency: 5,
		Policy:      retry.Policy{Attempts: 2, Initial: 500 * time.Millisecond, Timeout: 15 * time.Second},
	}
}

// FanOut embeds pages of records.
type FanOut struct {
	cfg    Config
	logger *slog.Logger
}

// NewFanOut returns a FanOut. A nil logger uses slog.Default().
func NewFanOut(cfg Config, logger *slog.Logger) *FanOut {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &FanOut{cfg: cfg, logger: logger}
}

// Embed returns one Result per item, in order. A failed item never affects
// the others.
func (f *FanOut) Embed(ctx context.Context, e Embedder, items []Item) []Result {
	results := make([]Result, len(items))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(f.cfg.Concurrency)
	for i, it := range items {
		results[i].Key = it.Key
		g.Go(func() error {
			vec, err := retry.DoValue(gctx, f.cfg.Policy, func(ctx context.Context) ([]float32, error) {
				return e.Embed(ctx, it.Text)
			})
			if err != nil {
				f.logger.Warn("embedding failed, keeping existing vector", "key", it.Key, "error", err)
				results[i].Err = err
				return nil
			}
			results[i].Vector = vec
			return nil
		})
	}
	_ = g.Wait()
	return results
}
