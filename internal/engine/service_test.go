package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raphaelgruber/recast/internal/models"
)

func newTestService(t *testing.T, recs RecordStore, inst *models.Instance) (*Service, *testEngine, *Queue) {
	t.Helper()
	e := newTestEngine(t, recs, &fakeCompleter{}, inst)
	q := NewQueue(8, time.Millisecond, nil, nil)
	return NewService(e.jobs, e.orch, q, nil), e, q
}

func TestService_StartJobQueuesFullExecution(t *testing.T) {
	svc, e, q := newTestService(t, newRecords(texts(3)...), testInstance())
	ctx := context.Background()

	job, err := svc.StartJob(ctx, "inst", models.JobKindFull)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusPending, job.Status)
	assert.Len(t, job.ID, 36)
	assert.True(t, q.Owned(job.ID))

	_, err = svc.StartJob(ctx, "inst", models.JobKindFull)
	assert.ErrorIs(t, err, ErrActiveJob)

	_, err = svc.StartJob(ctx, "missing", models.JobKindFull)
	assert.True(t, IsNotFound(err))

	_, err = svc.StartJob(ctx, "inst", "bogus")
	assert.Error(t, err)

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		svc.Run(runCtx, 2)
		close(done)
	}()
	require.Eventually(t, func() bool {
		return e.job(t, job.ID).Status == models.JobStatusCompleted
	}, 2*time.Second, 5*time.Millisecond)
	cancel()
	<-done
}

func TestService_DryRunIsSynchronous(t *testing.T) {
	svc, _, q := newTestService(t, newRecords("hello there"), testInstance())

	job, err := svc.StartJob(context.Background(), "inst", models.JobKindDryRun)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, job.Status)
	assert.Contains(t, job.Details, `"result":"HELLO THERE"`)
	assert.False(t, q.Owned(job.ID))
}

func TestService_DryRunAllowedWhileFullJobActive(t *testing.T) {
	svc, _, _ := newTestService(t, newRecords("x"), testInstance())
	ctx := context.Background()

	_, err := svc.StartJob(ctx, "inst", models.JobKindFull)
	require.NoError(t, err)
	_, err = svc.StartJob(ctx, "inst", models.JobKindDryRun)
	assert.NoError(t, err)
}

func TestService_CancelJob(t *testing.T) {
	svc, e, _ := newTestService(t, newRecords("x"), testInstance())
	ctx := context.Background()
	jobID := e.createJob(t, models.JobKindFull)

	job, err := svc.CancelJob(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCancelled, job.Status)

	_, err = svc.CancelJob(ctx, jobID)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	_, err = svc.CancelJob(ctx, "missing")
	assert.True(t, IsNotFound(err))
}

func TestService_ResumeConfigFailedJob(t *testing.T) {
	inst := testInstance()
	inst.TextField = "bad field"
	svc, e, q := newTestService(t, newRecords("x"), inst)
	ctx := context.Background()
	jobID := e.createJob(t, models.JobKindFull)

	e.orch.Tick(ctx, jobID)
	require.Equal(t, models.JobStatusFailed, e.job(t, jobID).Status)

	job, err := svc.ResumeJob(ctx, jobID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusRunning, job.Status)
	assert.True(t, q.Owned(jobID))

	_, err = svc.ResumeJob(ctx, jobID)
	assert.ErrorIs(t, err, ErrInvalidTransition, "running jobs cannot be resumed")
}
