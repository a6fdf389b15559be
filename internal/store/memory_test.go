package store

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raphaelgruber/recast/internal/models"
)

func newJob(t *testing.T, s *Memory, id string) {
	t.Helper()
	require.NoError(t, s.CreateJob(context.Background(), &models.Job{
		ID:         id,
		InstanceID: "inst",
		Kind:       models.JobKindFull,
		Status:     models.JobStatusPending,
	}))
}

func TestMemory_InstanceUpsertKeepsLastRun(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()

	inst := &models.Instance{ID: "a", Collection: "docs", TextField: "body"}
	require.NoError(t, s.UpsertInstance(ctx, inst))

	at := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	require.NoError(t, s.SetLastRun(ctx, "a", at))

	require.NoError(t, s.UpsertInstance(ctx, &models.Instance{ID: "a", Collection: "notes", TextField: "body"}))

	got, err := s.GetInstance(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "notes", got.Collection)
	require.NotNil(t, got.LastRun)
	assert.True(t, got.LastRun.Equal(at))

	_, err = s.GetInstance(ctx, "missing")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestMemory_TryLock(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	newJob(t, s, "j1")
	now := time.Now()

	ok, err := s.TryLock(ctx, "j1", now)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.TryLock(ctx, "j1", now)
	require.NoError(t, err)
	assert.False(t, ok, "second lock must fail while the flag is set")

	require.NoError(t, s.Unlock(ctx, "j1"))
	ok, err = s.TryLock(ctx, "j1", now)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestMemory_TryLockRejectsTerminalJobs(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	newJob(t, s, "j1")

	changed, err := s.Cancel(ctx, "j1", time.Now())
	require.NoError(t, err)
	require.True(t, changed)

	ok, err := s.TryLock(ctx, "j1", time.Now())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemory_TryLockConcurrent(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	newJob(t, s, "j1")

	var (
		wg   sync.WaitGroup
		wins atomic.Int32
	)
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := s.TryLock(ctx, "j1", time.Now())
			if err == nil && ok {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
}

func TestMemory_ClearStaleLocks(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	newJob(t, s, "old")
	newJob(t, s, "fresh")

	now := time.Now()
	_, err := s.TryLock(ctx, "old", now.Add(-time.Hour))
	require.NoError(t, err)
	_, err = s.TryLock(ctx, "fresh", now)
	require.NoError(t, err)

	n, err := s.ClearStaleLocks(ctx, now.Add(-10*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	old, _ := s.GetJob(ctx, "old")
	fresh, _ := s.GetJob(ctx, "fresh")
	assert.False(t, old.IsProcessingBatch)
	assert.Nil(t, old.LockedAt)
	assert.True(t, fresh.IsProcessingBatch)
}

func TestMemory_RecordPage(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	newJob(t, s, "j1")

	total := 12
	require.NoError(t, s.Start(ctx, "j1", &total, time.Now()))
	_, err := s.TryLock(ctx, "j1", time.Now())
	require.NoError(t, err)

	require.NoError(t, s.RecordPage(ctx, "j1", models.PageProgress{
		PageLen: 10, Processed: 9, Failed: 1, Pass1Seen: 10, Pass1Resolved: 4,
		Pass2Escalated: 6, Pass2Completed: 5,
	}, time.Now()))

	job, err := s.GetJob(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusRunning, job.Status)
	assert.Equal(t, 10, job.Offset)
	assert.Equal(t, 9, job.ProcessedRecords)
	assert.Equal(t, 1, job.FailedRecords)
	assert.Equal(t, 4, job.Pass1Resolved)
	assert.False(t, job.IsProcessingBatch)
	assert.NotNil(t, job.LastBatchAt)

	require.NoError(t, s.RecordPage(ctx, "j1", models.PageProgress{
		PageLen: 2, Processed: 2, Complete: true,
	}, time.Now()))

	job, err = s.GetJob(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, job.Status)
	assert.Equal(t, 12, job.Done())
	assert.NotNil(t, job.CompletedAt)
}

func TestMemory_RecordPageDoesNotCompleteCancelledJob(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	newJob(t, s, "j1")
	require.NoError(t, s.Start(ctx, "j1", nil, time.Now()))

	_, err := s.Cancel(ctx, "j1", time.Now())
	require.NoError(t, err)
	require.NoError(t, s.RecordPage(ctx, "j1", models.PageProgress{PageLen: 1, Processed: 1, Complete: true}, time.Now()))

	job, _ := s.GetJob(ctx, "j1")
	assert.Equal(t, models.JobStatusCancelled, job.Status)
}

func TestMemory_Transitions(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	newJob(t, s, "j1")
	now := time.Now()

	changed, err := s.Resume(ctx, "j1", now)
	require.NoError(t, err)
	assert.False(t, changed, "only failed jobs resume")

	changed, err = s.Fail(ctx, "j1", "boom", now)
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = s.Complete(ctx, "j1", "", now)
	require.NoError(t, err)
	assert.False(t, changed, "failed jobs do not complete")

	changed, err = s.Resume(ctx, "j1", now)
	require.NoError(t, err)
	assert.True(t, changed)

	job, _ := s.GetJob(ctx, "j1")
	assert.Equal(t, models.JobStatusRunning, job.Status)
	assert.Equal(t, "boom", job.Details)

	changed, err = s.Complete(ctx, "j1", "done", now)
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = s.Cancel(ctx, "j1", now)
	require.NoError(t, err)
	assert.False(t, changed, "completed jobs stay completed")
}

func TestMemory_ListJobsAndActive(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()

	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"a", "b", "c"} {
		require.NoError(t, s.CreateJob(ctx, &models.Job{
			ID: id, InstanceID: "inst", Kind: models.JobKindFull, Status: models.JobStatusPending,
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}))
	}
	_, err := s.Cancel(ctx, "a", time.Now())
	require.NoError(t, err)

	jobs, err := s.ListJobs(ctx, JobFilter{})
	require.NoError(t, err)
	require.Len(t, jobs, 3)
	assert.Equal(t, "c", jobs[0].ID, "newest first")

	jobs, err = s.ListJobs(ctx, JobFilter{Status: models.JobStatusPending, Limit: 1})
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, "c", jobs[0].ID)

	active, err := s.HasActiveJob(ctx, "inst")
	require.NoError(t, err)
	assert.True(t, active)

	active, err = s.HasActiveJob(ctx, "other")
	require.NoError(t, err)
	assert.False(t, active)
}

func TestMemory_GetJobReturnsCopy(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	newJob(t, s, "j1")

	job, _ := s.GetJob(ctx, "j1")
	job.Status = models.JobStatusCompleted

	again, _ := s.GetJob(ctx, "j1")
	assert.Equal(t, models.JobStatusPending, again.Status)
}

func TestMemory_Logs(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()

	require.NoError(t, s.AppendLog(ctx, "j1", models.LogLevelInfo, "first"))
	require.NoError(t, s.AppendLog(ctx, "j1", models.LogLevelError, "configuration error: bad"))
	require.NoError(t, s.AppendLog(ctx, "j1", models.LogLevelInfo, "third"))
	require.NoError(t, s.AppendLog(ctx, "j2", models.LogLevelInfo, "other"))

	all, err := s.Logs(ctx, "j1", 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "first", all[0].Message)
	assert.Less(t, all[0].ID, all[1].ID)

	newest, err := s.Logs(ctx, "j1", 2)
	require.NoError(t, err)
	require.Len(t, newest, 2)
	assert.Equal(t, "configuration error: bad", newest[0].Message)
	assert.Equal(t, "third", newest[1].Message)

	latest, err := s.LatestLog(ctx, "j1", models.LogLevelError)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, "configuration error: bad", latest.Message)

	latest, err = s.LatestLog(ctx, "j2", models.LogLevelError)
	require.NoError(t, err)
	assert.Nil(t, latest)
}
