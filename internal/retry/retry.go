// Package retry runs external calls with exponential backoff and hard per-attempt timeouts.
package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// ErrTimeout is returned when a single attempt exceeds its timeout.
var ErrTimeout = errors.New("operation timed out")

// Policy configures retry behavior.
type Policy struct {
	// Attempts is the total number of tries including the first.
	Attempts int
	// Initial is the delay before the second attempt; it doubles after each retry.
	Initial time.Duration
	// Timeout bounds each attempt. Zero means no per-attempt bound.
	Timeout time.Duration
	// Permanent reports errors that must not be retried.
	Permanent func(error) bool
}

// External is the default policy for store and provider calls: 3 attempts at 1s, 2s.
func External(timeout time.Duration) Policy {
	return Policy{Attempts: 3, Initial: time.Second, Timeout: timeout}
}

// WithTimeout returns a copy of p with a different per-attempt timeout.
func (p Policy) WithTimeout(d time.Duration) Policy {
	p.Timeout = d
	return p
}

func (p Policy) backOff(ctx context.Context) backoff.BackOffContext {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.Initial
	b.RandomizationFactor = 0
	b.Multiplier = 2
	b.MaxInterval = p.Initial << 4
	b.MaxElapsedTime = 0
	b.Reset()
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(attempts-1)), ctx)
}

// Do calls fn until it succeeds, returns a permanent error, or attempts run out.
// The last error is returned.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context) error) error {
	_, err := DoValue(ctx, p, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// DoValue is Do for calls that return a value.
func DoValue[T any](ctx context.Context, p Policy, fn func(ctx context.Context) (T, error)) (T, error) {
	var (
		result  T
		attempt int
	)
	op := func() error {
		attempt++
		v, err := runAttempt(ctx, p.Timeout, fn)
		if err == nil {
			result = v
			return nil
		}
		if ctx.Err() != nil {
			return backoff.Permanent(err)
		}
		if p.Permanent != nil && p.Permanent(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		slog.Debug("retrying after error", "attempt", attempt, "wait", wait, "error", err)
	}

	err := backoff.RetryNotify(op, p.backOff(ctx), notify)
	return result, err
}

// runAttempt runs fn with a deadline. A call that ignores its context is
// abandoned when the deadline passes.
func runAttempt[T any](ctx context.Context, timeout time.Duration, fn func(ctx context.Context) (T, error)) (T, error) {
	if timeout <= 0 {
		return fn(ctx)
	}

	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		v   T
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		v, err := fn(attemptCtx)
		done <- outcome{v, err}
	}()

	var zero T
	select {
	case o := <-done:
		if o.err != nil && errors.Is(attemptCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return zero, fmt.Errorf("%w after %s: %w", ErrTimeout, timeout, o.err)
		}
		return o.v, o.err
	case <-attemptCtx.Done():
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
		return zero, fmt.Errorf("%w after %s", ErrTimeout, timeout)
	}
}
