package retry

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errFlaky = errors.New("flaky")

func fastPolicy(attempts int) Policy {
	return Policy{Attempts: attempts, Initial: time.Millisecond}
}

func TestDoSucceedsAfterTransientErrors(t *testing.T) {
	var calls atomic.Int32
	err := Do(context.Background(), fastPolicy(3), func(ctx context.Context) error {
		if calls.Add(1) < 3 {
			return errFlaky
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())
}

func TestDoExhaustsAttempts(t *testing.T) {
	var calls atomic.Int32
	err := Do(context.Background(), fastPolicy(3), func(ctx context.Context) error {
		calls.Add(1)
		return errFlaky
	})
	require.ErrorIs(t, err, errFlaky)
	assert.Equal(t, int32(3), calls.Load())
}

func TestDoPermanentNotRetried(t *testing.T) {
	fatal := errors.New("invalid api key")
	p := fastPolicy(3)
	p.Permanent = func(err error) bool { return errors.Is(err, fatal) }

	var calls atomic.Int32
	err := Do(context.Background(), p, func(ctx context.Context) error {
		calls.Add(1)
		return fatal
	})
	require.ErrorIs(t, err, fatal)
	assert.Equal(t, int32(1), calls.Load())
}

func TestDoTimeoutOnHang(t *testing.T) {
	p := Policy{Attempts: 2, Initial: time.Millisecond, Timeout: 20 * time.Millisecond}

	var calls atomic.Int32
	start := time.Now()
	err := Do(context.Background(), p, func(ctx context.Context) error {
		calls.Add(1)
		// Ignores ctx entirely.
		time.Sleep(time.Second)
		return nil
	})
	require.ErrorIs(t, err, ErrTimeout)
	assert.Equal(t, int32(2), calls.Load())
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestDoParentCancelStopsRetrying(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var calls atomic.Int32
	err := Do(ctx, fastPolicy(5), func(ctx context.Context) error {
		calls.Add(1)
		cancel()
		return errFlaky
	})
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestDoValueReturnsResult(t *testing.T) {
	var calls atomic.Int32
	v, err := DoValue(context.Background(), fastPolicy(2), func(ctx context.Context) (string, error) {
		if calls.Add(1) == 1 {
			return "", errFlaky
		}
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", v)
}
