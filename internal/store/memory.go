package store

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/raphaelgruber/recast/internal/models"
)

// Memory is an in-process JobStore. State is lost on restart.
type Memory struct {
	mu        sync.Mutex
	instances map[string]models.Instance
	jobs      map[string]*models.Job
	logs      map[string][]models.JobLog
	nextLogID int64
}

var _ JobStore = (*Memory)(nil)

// NewMemory returns an empty Memory store.
func NewMemory() *Memory {
	return &Memory{
		instances: make(map[string]models.Instance),
		jobs:      make(map[string]*models.Job),
		logs:      make(map[string][]models.JobLog),
	}
}

func (m *Memory) ListInstances(ctx context.Context) ([]models.Instance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]models.Instance, 0, len(m.instances))
	for _, inst := range m.instances {
		out = append(out, inst)
	}
	slices.SortFunc(out, func(a, b models.Instance) int {
		return compareStrings(a.ID, b.ID)
	})
	return out, nil
}

func (m *Memory) GetInstance(ctx context.Context, id string) (*models.Instance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	inst, ok := m.instances[id]
	if !ok {
		return nil, fmt.Errorf("instance %s: %w", id, ErrNotFound)
	}
	return &inst, nil
}

func (m *Memory) UpsertInstance(ctx context.Context, inst *models.Instance) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.instances[inst.ID]; ok {
		inst.CreatedAt = existing.CreatedAt
		inst.LastRun = existing.LastRun
	} else if inst.CreatedAt.IsZero() {
		inst.CreatedAt = time.Now().UTC()
	}
	m.instances[inst.ID] = *inst
	return nil
}

func (m *Memory) SetLastRun(ctx context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	inst, ok := m.instances[id]
	if !ok {
		return fmt.Errorf("instance %s: %w", id, ErrNotFound)
	}
	inst.LastRun = &at
	m.instances[id] = inst
	return nil
}

func (m *Memory) CreateJob(ctx context.Context, job *models.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.jobs[job.ID]; ok {
		return fmt.Errorf("create job: duplicate id %s", job.ID)
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now().UTC()
	}
	job.UpdatedAt = job.CreatedAt
	cp := *job
	m.jobs[job.ID] = &cp
	return nil
}

func (m *Memory) GetJob(ctx context.Context, id string) (*models.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[id]
	if !ok {
		return nil, fmt.Errorf("job %s: %w", id, ErrNotFound)
	}
	return copyJob(job), nil
}

func (m *Memory) ListJobs(ctx context.Context, f JobFilter) ([]models.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []models.Job
	for _, job := range m.jobs {
		if f.Status != "" && job.Status != f.Status {
			continue
		}
		if f.InstanceID != "" && job.InstanceID != f.InstanceID {
			continue
		}
		if f.Kind != "" && job.Kind != f.Kind {
			continue
		}
		out = append(out, *copyJob(job))
	}
	slices.SortFunc(out, func(a, b models.Job) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return compareStrings(a.ID, b.ID)
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (m *Memory) HasActiveJob(ctx context.Context, instanceID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, job := range m.jobs {
		if job.InstanceID == instanceID && (job.Status == models.JobStatusPending || job.Status == models.JobStatusRunning) {
			return true, nil
		}
	}
	return false, nil
}

func (m *Memory) TryLock(ctx context.Context, id string, at time.Time) (bool, error) {
	return m.update(id, func(job *models.Job) bool {
		if job.IsProcessingBatch || !inStatus(job, models.JobStatusPending, models.JobStatusRunning) {
			return false
		}
		job.IsProcessingBatch = true
		job.LockedAt = &at
		job.UpdatedAt = at
		return true
	})
}

func (m *Memory) Unlock(ctx context.Context, id string) error {
	_, err := m.update(id, func(job *models.Job) bool {
		job.IsProcessingBatch = false
		job.LockedAt = nil
		return true
	})
	return err
}

func (m *Memory) ClearStaleLocks(ctx context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	for _, job := range m.jobs {
		if job.IsProcessingBatch && (job.LockedAt == nil || job.LockedAt.Before(before)) {
			job.IsProcessingBatch = false
			job.LockedAt = nil
			n++
		}
	}
	return n, nil
}

func (m *Memory) Start(ctx context.Context, id string, total *int, at time.Time) error {
	_, err := m.update(id, func(job *models.Job) bool {
		if job.Status != models.JobStatusPending {
			return false
		}
		job.Status = models.JobStatusRunning
		if total != nil {
			t := *total
			job.TotalRecords = &t
		}
		if job.StartedAt == nil {
			job.StartedAt = &at
		}
		job.UpdatedAt = at
		return true
	})
	return err
}

func (m *Memory) SetTotal(ctx context.Context, id string, total int) error {
	_, err := m.update(id, func(job *models.Job) bool {
		job.TotalRecords = &total
		return true
	})
	return err
}

func (m *Memory) RecordPage(ctx context.Context, id string, p models.PageProgress, at time.Time) error {
	_, err := m.update(id, func(job *models.Job) bool {
		job.ProcessedRecords += p.Processed
		job.FailedRecords += p.Failed
		job.Pass1Seen += p.Pass1Seen
		job.Pass1Resolved += p.Pass1Resolved
		job.Pass2Escalated += p.Pass2Escalated
		job.Pass2Completed += p.Pass2Completed
		job.EmbeddingsFailed += p.EmbeddingsFailed
		job.Offset += p.PageLen
		job.IsProcessingBatch = false
		job.LockedAt = nil
		job.LastBatchAt = &at
		job.UpdatedAt = at
		if p.Complete && job.Status == models.JobStatusRunning {
			job.Status = models.JobStatusCompleted
			job.CompletedAt = &at
		}
		return true
	})
	return err
}

func (m *Memory) Complete(ctx context.Context, id, details string, at time.Time) (bool, error) {
	return m.update(id, func(job *models.Job) bool {
		if !inStatus(job, models.JobStatusPending, models.JobStatusRunning) {
			return false
		}
		job.Status = models.JobStatusCompleted
		job.Details = details
		job.CompletedAt = &at
		job.UpdatedAt = at
		job.IsProcessingBatch = false
		job.LockedAt = nil
		return true
	})
}

func (m *Memory) Fail(ctx context.Context, id, details string, at time.Time) (bool, error) {
	return m.update(id, func(job *models.Job) bool {
		if !inStatus(job, models.JobStatusPending, models.JobStatusRunning) {
			return false
		}
		job.Status = models.JobStatusFailed
		job.Details = details
		job.UpdatedAt = at
		job.IsProcessingBatch = false
		job.LockedAt = nil
		return true
	})
}

func (m *Memory) Cancel(ctx context.Context, id string, at time.Time) (bool, error) {
	return m.update(id, func(job *models.Job) bool {
		if !inStatus(job, models.JobStatusPending, models.JobStatusRunning, models.JobStatusFailed) {
			return false
		}
		job.Status = models.JobStatusCancelled
		job.CompletedAt = &at
		job.UpdatedAt = at
		return true
	})
}

func (m *Memory) Resume(ctx context.Context, id string, at time.Time) (bool, error) {
	return m.update(id, func(job *models.Job) bool {
		if job.Status != models.JobStatusFailed {
			return false
		}
		job.Status = models.JobStatusRunning
		job.IsProcessingBatch = false
		job.LockedAt = nil
		job.UpdatedAt = at
		return true
	})
}

func (m *Memory) AppendLog(ctx context.Context, jobID string, level models.LogLevel, message string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextLogID++
	m.logs[jobID] = append(m.logs[jobID], models.JobLog{
		ID:        m.nextLogID,
		JobID:     jobID,
		Level:     level,
		Message:   message,
		CreatedAt: time.Now().UTC(),
	})
	return nil
}

func (m *Memory) Logs(ctx context.Context, jobID string, limit int) ([]models.JobLog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entries := m.logs[jobID]
	if limit > 0 && len(entries) > limit {
		entries = entries[len(entries)-limit:]
	}
	return slices.Clone(entries), nil
}

func (m *Memory) LatestLog(ctx context.Context, jobID string, level models.LogLevel) (*models.JobLog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entries := m.logs[jobID]
	for i := len(entries) - 1; i >= 0; i-- {
		if entries[i].Level == level {
			entry := entries[i]
			return &entry, nil
		}
	}
	return nil, nil
}

// update applies fn to the stored job under the lock and reports whether fn changed it.
func (m *Memory) update(id string, fn func(job *models.Job) bool) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[id]
	if !ok {
		return false, fmt.Errorf("job %s: %w", id, ErrNotFound)
	}
	return fn(job), nil
}

func inStatus(job *models.Job, statuses ...models.JobStatus) bool {
	return slices.Contains(statuses, job.Status)
}

func copyJob(job *models.Job) *models.Job {
	cp := *job
	if job.TotalRecords != nil {
		t := *job.TotalRecords
		cp.TotalRecords = &t
	}
	return &cp
}

func compareStrings(a, b string) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}
