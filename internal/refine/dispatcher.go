// Package refine sends records that still need work after the programmatic
// pass to a generative model, either combined into one prompt or one by one.
package refine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/raphaelgruber/recast/internal/models"
	"github.com/raphaelgruber/recast/internal/retry"
)

var (
	// ErrRecordCountMismatch means a combined response did not carry one marker per record.
	ErrRecordCountMismatch = errors.New("record count mismatch in combined response")
	// ErrBatchFailed means the combined call failed after its outer retry budget.
	ErrBatchFailed = errors.New("batch refinement failed")
	// ErrEmptyResponse means the model returned only whitespace for a record.
	ErrEmptyResponse = errors.New("empty model response")
)

// Completer produces a completion for ordered role-tagged messages.
type Completer interface {
	Complete(ctx context.Context, model string, messages []models.Message) (string, error)
}

// Item is one record's text awaiting refinement.
type Item struct {
	Key  string
	Text string
}

// Result is the outcome for one Item. Err is set when the record failed.
type Result struct {
	Key  string
	Text string
	Err  error
}

// Config tunes the dispatcher.
type Config struct {
	// CombinedLimit is the largest combined prompt, in characters, sent as one
	// request. Zero always uses per-record requests.
	CombinedLimit int
	// LargeAverage is the average record length, in characters, above which
	// HeavyConcurrency replaces LightConcurrency.
	LargeAverage     int
	HeavyConcurrency int
	LightConcurrency int
	// PerChar scales the per-record timeout, clamped to [MinTimeout, MaxTimeout].
	PerChar    time.Duration
	MinTimeout time.Duration
	MaxTimeout time.Duration
	// Call applies to every completion request.
	Call retry.Policy
	// Batch is the outer budget around a combined request.
	Batch retry.Policy
	// Permanent reports provider errors that must not be retried.
	Permanent func(error) bool
}

// DefaultConfig returns production settings.
func DefaultConfig() Config {
	return Config{
		CombinedLimit:    50000,
		LargeAverage:     30000,
		HeavyConcurrency: 5,
		LightConcurrency: 8,
		PerChar:          6 * time.Millisecond,
		MinTimeout:       30 * time.Second,
		MaxTimeout:       180 * time.Second,
		Call:             retry.Policy{Attempts: 3, Initial: time.Second},
		Batch:            retry.Policy{Attempts: 3, Initial: 2 * time.Second},
	}
}

// Dispatcher runs the second pass over a page's records.
type Dispatcher struct {
	completer Completer
	cfg       Config
	logger    *slog.Logger
}

// New returns a Dispatcher. A nil logger uses slog.Default().
func New(completer Completer, cfg Config, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{completer: completer, cfg: cfg, logger: logger}
}

// Timeout returns the per-request timeout for content of n characters.
func (d *Dispatcher) Timeout(n int) time.Duration {
	t := time.Duration(n) * d.cfg.PerChar
	if t < d.cfg.MinTimeout {
		return d.cfg.MinTimeout
	}
	if d.cfg.MaxTimeout > 0 && t > d.cfg.MaxTimeout {
		return d.cfg.MaxTimeout
	}
	return t
}

// Concurrency returns the per-record fan-out limit for items.
func (d *Dispatcher) Concurrency(items []Item) int {
	if len(items) == 0 {
		return d.cfg.LightConcurrency
	}
	total := 0
	for _, it := range items {
		total += len([]rune(it.Text))
	}
	if total/len(items) > d.cfg.LargeAverage {
		return d.cfg.HeavyConcurrency
	}
	return d.cfg.LightConcurrency
}

// UseCombined reports whether items fit one combined request.
func (d *Dispatcher) UseCombined(template string, items []Item) bool {
	if d.cfg.CombinedLimit <= 0 || len(items) < 2 {
		return false
	}
	return combinedSize(template, items) <= d.cfg.CombinedLimit
}

// Refine rewrites items with model using template. Results are returned in
// item order. A combined request that exhausts its budget returns ErrBatchFailed
// and no results; per-record failures are reported in each Result.
func (d *Dispatcher) Refine(ctx context.Context, model, template string, items []Item) ([]Result, error) {
	if len(items) == 0 {
		return nil, nil
	}
	if d.UseCombined(template, items) {
		return d.refineCombined(ctx, model, template, items)
	}
	return d.refineIndividual(ctx, model, template, items), nil
}

func (d *Dispatcher) callPolicy(timeout time.Duration) retry.Policy {
	p := d.cfg.Call.WithTimeout(timeout)
	p.Permanent = d.cfg.Permanent
	return p
}

func (d *Dispatcher) refineCombined(ctx context.Context, model, template string, items []Item) ([]Result, error) {
	messages := combinedMessages(template, items)
	timeout := d.Timeout(combinedSize(template, items))

	batch := d.cfg.Batch
	batch.Permanent = d.cfg.Permanent
	texts, err := retry.DoValue(ctx, batch, func(ctx context.Context) ([]string, error) {
		response, err := retry.DoValue(ctx, d.callPolicy(timeout), func(ctx context.Context) (string, error) {
			return d.completer.Complete(ctx, model, messages)
		})
		if err != nil {
			return nil, err
		}
		texts, err := splitCombined(response, len(items))
		if err != nil {
			d.logger.Warn("combined response rejected", "records", len(items), "error", err)
			return nil, err
		}
		return texts, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %d records: %w", ErrBatchFailed, len(items), err)
	}

	results := make([]Result, len(items))
	for i, it := range items {
		results[i] = Result{Key: it.Key, Text: texts[i]}
		if texts[i] == "" {
			results[i].Err = ErrEmptyResponse
		}
	}
	return results, nil
}

func (d *Dispatcher) refineIndividual(ctx context.Context, model, template string, items []Item) []Result {
	results := make([]Result, len(items))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.Concurrency(items))
	for i, it := range items {
		results[i].Key = it.Key
		g.Go(func() error {
			timeout := d.Timeout(len([]rune(it.Text)))
			text, err := retry.DoValue(gctx, d.callPolicy(timeout), func(ctx context.Context) (string, error) {
				return d.completer.Complete(ctx, model, singleMessages(template, it.Text))
			})
			text = strings.TrimSpace(text)
			switch {
			case err != nil:
				d.logger.Warn("record refinement failed", "key", it.Key, "chars", len(it.Text), "error", err)
				results[i].Err = err
			case text == "":
				results[i].Err = ErrEmptyResponse
			default:
				results[i].Text = text
			}
			// Per-record failures never cancel siblings.
			return nil
		})
	}
	_ = g.Wait()
	return results
}
