package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/raphaelgruber/recast/internal/metrics"
)

// Handler runs one tick and reports whether the job wants another.
type Handler func(ctx context.Context, jobID string) bool

// Queue feeds job ticks to a fixed worker pool. A job is owned by at most one
// chain of ticks: enqueueing a job that is queued, running or waiting for its
// next tick is a no-op.
type Queue struct {
	ch      chan string
	delay   time.Duration
	metrics *metrics.Engine
	logger  *slog.Logger

	mu     sync.Mutex
	owned  map[string]bool
	timers map[string]*time.Timer
	closed bool
}

// NewQueue returns a queue holding up to size ticks. Rescheduled ticks wait delay.
func NewQueue(size int, delay time.Duration, m *metrics.Engine, logger *slog.Logger) *Queue {
	if size < 1 {
		size = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Queue{
		ch:      make(chan string, size),
		delay:   delay,
		metrics: m,
		logger:  logger,
		owned:   make(map[string]bool),
		timers:  make(map[string]*time.Timer),
	}
}

// Enqueue schedules an immediate tick for jobID. It returns false when the
// job already has a chain or the queue is full or closed.
func (q *Queue) Enqueue(jobID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed || q.owned[jobID] {
		return false
	}
	if !q.push(jobID) {
		return false
	}
	q.owned[jobID] = true
	return true
}

// Len returns the number of ticks waiting for a worker.
func (q *Queue) Len() int {
	return len(q.ch)
}

// Owned reports whether jobID currently has a tick chain.
func (q *Queue) Owned(jobID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.owned[jobID]
}

// push sends without blocking. Callers hold q.mu.
func (q *Queue) push(jobID string) bool {
	select {
	case q.ch <- jobID:
		q.metrics.SetQueueDepth(len(q.ch))
		return true
	default:
		q.logger.Warn("queue full, dropping tick", "job_id", jobID, "capacity", cap(q.ch))
		return false
	}
}

// Run starts workers and blocks until ctx is done and every worker has returned.
func (q *Queue) Run(ctx context.Context, workers int, handle Handler) {
	if workers < 1 {
		workers = 1
	}
	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			q.work(ctx, handle)
		}()
	}
	<-ctx.Done()
	q.close()
	wg.Wait()
}

func (q *Queue) work(ctx context.Context, handle Handler) {
	for {
		select {
		case <-ctx.Done():
			return
		case jobID := <-q.ch:
			q.metrics.SetQueueDepth(len(q.ch))
			q.handle(ctx, jobID, handle)
		}
	}
}

func (q *Queue) handle(ctx context.Context, jobID string, handle Handler) {
	again := false
	func() {
		defer func() {
			if r := recover(); r != nil {
				q.logger.Error("tick panicked", "job_id", jobID, "panic", r)
			}
		}()
		again = handle(ctx, jobID)
	}()

	q.mu.Lock()
	defer q.mu.Unlock()
	if !again || q.closed {
		delete(q.owned, jobID)
		return
	}
	q.timers[jobID] = time.AfterFunc(q.delay, func() {
		q.mu.Lock()
		defer q.mu.Unlock()
		delete(q.timers, jobID)
		if q.closed || !q.push(jobID) {
			delete(q.owned, jobID)
		}
	})
}

func (q *Queue) close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	for id, t := range q.timers {
		t.Stop()
		delete(q.timers, id)
	}
}
