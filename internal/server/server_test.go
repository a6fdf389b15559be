package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raphaelgruber/recast/internal/engine"
	"github.com/raphaelgruber/recast/internal/metrics"
	"github.com/raphaelgruber/recast/internal/models"
	"github.com/raphaelgruber/recast/internal/server"
	"github.com/raphaelgruber/recast/internal/store"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// fakeEngine creates jobs directly in the store.
type fakeEngine struct {
	jobs    *store.Memory
	started []models.JobKind
	err     error
}

func (f *fakeEngine) StartJob(ctx context.Context, instanceID string, kind models.JobKind) (*models.Job, error) {
	if f.err != nil {
		return nil, f.err
	}
	if _, err := f.jobs.GetInstance(ctx, instanceID); err != nil {
		return nil, err
	}
	f.started = append(f.started, kind)
	job := &models.Job{
		ID:         fmt.Sprintf("job-%d", len(f.started)),
		InstanceID: instanceID,
		Kind:       kind,
		Status:     models.JobStatusPending,
		CreatedAt:  time.Now().UTC(),
	}
	if err := f.jobs.CreateJob(ctx, job); err != nil {
		return nil, err
	}
	return job, nil
}

func (f *fakeEngine) CancelJob(ctx context.Context, jobID string) (*models.Job, error) {
	return f.transition(ctx, jobID, f.jobs.Cancel)
}

func (f *fakeEngine) ResumeJob(ctx context.Context, jobID string) (*models.Job, error) {
	return f.transition(ctx, jobID, f.jobs.Resume)
}

func (f *fakeEngine) transition(ctx context.Context, jobID string, fn func(context.Context, string, time.Time) (bool, error)) (*models.Job, error) {
	changed, err := fn(ctx, jobID, time.Now().UTC())
	if err != nil {
		return nil, err
	}
	job, err := f.jobs.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if !changed {
		return job, engine.ErrInvalidTransition
	}
	return job, nil
}

type fixture struct {
	jobs    *store.Memory
	engine  *fakeEngine
	handler http.Handler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	jobs := store.NewMemory()
	require.NoError(t, jobs.UpsertInstance(context.Background(), &models.Instance{
		ID:             "docs",
		Name:           "Docs",
		Collection:     "docs",
		PrimaryKey:     "id",
		TextField:      "body",
		PromptTemplate: models.ContentPlaceholder,
	}))

	reg := prometheus.NewRegistry()
	m := metrics.NewEngine(reg)
	m.Tick(metrics.TickCompleted)

	collector := metrics.NewCollector()
	collector.RecordTiming(metrics.OpCompletion, 20*time.Millisecond)

	eng := &fakeEngine{jobs: jobs}
	srv := server.New(":0", server.Deps{
		Engine:    eng,
		Jobs:      jobs,
		Collector: collector,
		Gatherer:  reg,
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	return &fixture{jobs: jobs, engine: eng, handler: srv.Handler()}
}

func (f *fixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(t.Context(), method, path, reader)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	f.handler.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func TestHealth(t *testing.T) {
	f := newFixture(t)
	w := f.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "healthy")
}

func TestMetricsAndStats(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "recast_ticks_total")

	w = f.do(t, http.MethodGet, "/api/stats", nil)
	require.Equal(t, http.StatusOK, w.Code)
	snap := decode[metrics.Snapshot](t, w)
	require.NotNil(t, snap.Completion)
	assert.Equal(t, int64(1), snap.Completion.Count)
}

func TestInstances(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodGet, "/api/instances", nil)
	require.Equal(t, http.StatusOK, w.Code)
	list := decode[struct {
		Instances []models.Instance `json:"instances"`
		Count     int               `json:"count"`
	}](t, w)
	require.Equal(t, 1, list.Count)
	assert.Equal(t, "docs", list.Instances[0].ID)

	w = f.do(t, http.MethodGet, "/api/instances/missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestStartJob(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodPost, "/api/instances/docs/jobs", server.StartRequest{Kind: models.JobKindDryRun})
	require.Equal(t, http.StatusCreated, w.Code)
	job := decode[models.Job](t, w)
	assert.Equal(t, models.JobKindDryRun, job.Kind)

	// No body means a full execution.
	w = f.do(t, http.MethodPost, "/api/instances/docs/jobs", nil)
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, []models.JobKind{models.JobKindDryRun, models.JobKindFull}, f.engine.started)
}

func TestStartJobErrors(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodPost, "/api/instances/docs/jobs", map[string]string{"kind": "bogus"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(t, http.MethodPost, "/api/instances/missing/jobs", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	f.engine.err = fmt.Errorf("instance docs: %w", engine.ErrActiveJob)
	w = f.do(t, http.MethodPost, "/api/instances/docs/jobs", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Contains(t, w.Body.String(), "active job")
}

func TestListAndGetJobs(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.jobs.CreateJob(ctx, &models.Job{ID: "a", InstanceID: "docs", Kind: models.JobKindFull, Status: models.JobStatusPending}))
	require.NoError(t, f.jobs.CreateJob(ctx, &models.Job{ID: "b", InstanceID: "docs", Kind: models.JobKindFull, Status: models.JobStatusFailed}))

	w := f.do(t, http.MethodGet, "/api/jobs?status=failed", nil)
	require.Equal(t, http.StatusOK, w.Code)
	list := decode[struct {
		Jobs []models.Job `json:"jobs"`
	}](t, w)
	require.Len(t, list.Jobs, 1)
	assert.Equal(t, "b", list.Jobs[0].ID)

	w = f.do(t, http.MethodGet, "/api/jobs?limit=x", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(t, http.MethodGet, "/api/jobs/a", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, models.JobStatusPending, decode[models.Job](t, w).Status)

	w = f.do(t, http.MethodGet, "/api/jobs/nope", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestJobLogs(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.jobs.CreateJob(ctx, &models.Job{ID: "a", InstanceID: "docs", Kind: models.JobKindFull, Status: models.JobStatusRunning}))
	for i := range 3 {
		require.NoError(t, f.jobs.AppendLog(ctx, "a", models.LogLevelInfo, fmt.Sprintf("page %d", i)))
	}

	w := f.do(t, http.MethodGet, "/api/jobs/a/logs?limit=2", nil)
	require.Equal(t, http.StatusOK, w.Code)
	list := decode[struct {
		Logs []models.JobLog `json:"logs"`
	}](t, w)
	require.Len(t, list.Logs, 2)
	assert.Equal(t, "page 2", list.Logs[1].Message)

	w = f.do(t, http.MethodGet, "/api/jobs/nope/logs", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCancelAndResume(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.jobs.CreateJob(ctx, &models.Job{ID: "a", InstanceID: "docs", Kind: models.JobKindFull, Status: models.JobStatusRunning}))

	// Resuming a running job is rejected but still returns the job.
	w := f.do(t, http.MethodPost, "/api/jobs/a/resume", nil)
	require.Equal(t, http.StatusConflict, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"running"`)

	w = f.do(t, http.MethodPost, "/api/jobs/a/cancel", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, models.JobStatusCancelled, decode[models.Job](t, w).Status)

	w = f.do(t, http.MethodPost, "/api/jobs/a/cancel", nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = f.do(t, http.MethodPost, "/api/jobs/nope/cancel", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestTruncatedParamsDoNotBreakLogging(t *testing.T) {
	f := newFixture(t)
	long := bytes.Repeat([]byte("x"), 500)
	w := f.do(t, http.MethodGet, "/api/jobs?instance_id="+string(long), nil)
	assert.Equal(t, http.StatusOK, w.Code)
}
