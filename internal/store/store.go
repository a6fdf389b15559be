// Package store persists instances, jobs and job logs.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/raphaelgruber/recast/internal/models"
)

// ErrNotFound is returned when an instance or job does not exist.
var ErrNotFound = errors.New("not found")

// JobFilter narrows ListJobs. Zero fields match everything.
type JobFilter struct {
	Status     models.JobStatus
	InstanceID string
	Kind       models.JobKind
	Limit      int
}

// JobStore is the relational state behind the job engine.
//
// Status-changing methods are conditional on the current status and report
// whether a row changed, so concurrent callers cannot double-apply a transition.
type JobStore interface {
	ListInstances(ctx context.Context) ([]models.Instance, error)
	GetInstance(ctx context.Context, id string) (*models.Instance, error)
	UpsertInstance(ctx context.Context, inst *models.Instance) error
	SetLastRun(ctx context.Context, id string, at time.Time) error

	CreateJob(ctx context.Context, job *models.Job) error
	GetJob(ctx context.Context, id string) (*models.Job, error)
	ListJobs(ctx context.Context, f JobFilter) ([]models.Job, error)
	// HasActiveJob reports whether the instance has a pending or running job.
	HasActiveJob(ctx context.Context, instanceID string) (bool, error)

	// TryLock sets is_processing_batch when it is clear and the job is
	// pending or running. It returns false when another tick holds the flag.
	TryLock(ctx context.Context, id string, at time.Time) (bool, error)
	Unlock(ctx context.Context, id string) error
	// ClearStaleLocks clears flags set before the given time.
	ClearStaleLocks(ctx context.Context, before time.Time) (int64, error)

	// Start moves a pending job to running and records its total, if known.
	Start(ctx context.Context, id string, total *int, at time.Time) error
	SetTotal(ctx context.Context, id string, total int) error
	// RecordPage adds the page's counters, advances the offset, clears the
	// flag and, when p.Complete is set, completes a running job.
	RecordPage(ctx context.Context, id string, p models.PageProgress, at time.Time) error
	// Complete moves a pending or running job to completed.
	Complete(ctx context.Context, id, details string, at time.Time) (bool, error)
	// Fail moves a pending or running job to failed and clears the flag.
	Fail(ctx context.Context, id, details string, at time.Time) (bool, error)
	// Cancel moves a pending, running or failed job to cancelled.
	Cancel(ctx context.Context, id string, at time.Time) (bool, error)
	// Resume moves a failed job back to running and clears the flag.
	Resume(ctx context.Context, id string, at time.Time) (bool, error)

	AppendLog(ctx context.Context, jobID string, level models.LogLevel, message string) error
	// Logs returns a job's log entries oldest first. A positive limit keeps the newest entries.
	Logs(ctx context.Context, jobID string, limit int) ([]models.JobLog, error)
	// LatestLog returns the newest entry at level, or nil.
	LatestLog(ctx context.Context, jobID string, level models.LogLevel) (*models.JobLog, error)
}
