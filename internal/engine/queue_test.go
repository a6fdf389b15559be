package engine

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueue_DeduplicatesChains(t *testing.T) {
	q := NewQueue(4, time.Millisecond, nil, nil)

	assert.True(t, q.Enqueue("a"))
	assert.False(t, q.Enqueue("a"), "a job has at most one chain")
	assert.True(t, q.Enqueue("b"))
	assert.Equal(t, 2, q.Len())
	assert.True(t, q.Owned("a"))
}

func TestQueue_DropsWhenFull(t *testing.T) {
	q := NewQueue(1, time.Millisecond, nil, nil)

	assert.True(t, q.Enqueue("a"))
	assert.False(t, q.Enqueue("b"))
	assert.False(t, q.Owned("b"), "a dropped tick leaves the job for recovery")
}

func TestQueue_ReschedulesUntilDone(t *testing.T) {
	q := NewQueue(4, time.Millisecond, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())

	var ticks atomic.Int32
	done := make(chan struct{})
	handler := func(ctx context.Context, jobID string) bool {
		if ticks.Add(1) == 3 {
			close(done)
			return false
		}
		return true
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		q.Run(ctx, 2, handler)
	}()

	require.True(t, q.Enqueue("job"))
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("chain did not finish")
	}

	require.Eventually(t, func() bool { return !q.Owned("job") }, time.Second, time.Millisecond)
	assert.Equal(t, int32(3), ticks.Load())
	assert.True(t, q.Enqueue("job"), "a finished chain can start again")

	cancel()
	wg.Wait()
}

func TestQueue_RecoversFromPanic(t *testing.T) {
	q := NewQueue(4, time.Millisecond, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	handled := make(chan string, 2)
	handler := func(ctx context.Context, jobID string) bool {
		handled <- jobID
		if jobID == "boom" {
			panic("tick exploded")
		}
		return false
	}
	go q.Run(ctx, 1, handler)

	require.True(t, q.Enqueue("boom"))
	require.True(t, q.Enqueue("next"))

	assert.Equal(t, "boom", <-handled)
	assert.Equal(t, "next", <-handled)
	require.Eventually(t, func() bool { return !q.Owned("boom") }, time.Second, time.Millisecond)
}

func TestQueue_StopsOnCancel(t *testing.T) {
	q := NewQueue(4, time.Hour, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())

	handled := make(chan struct{})
	handler := func(ctx context.Context, jobID string) bool {
		close(handled)
		return true
	}

	stopped := make(chan struct{})
	go func() {
		q.Run(ctx, 1, handler)
		close(stopped)
	}()
	require.True(t, q.Enqueue("job"))
	<-handled

	cancel()
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
	}
	assert.False(t, q.Enqueue("other"), "closed queue rejects work")
}
