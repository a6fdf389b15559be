package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/raphaelgruber/recast/internal/models"
	"github.com/raphaelgruber/recast/internal/store"
)

// Service is the operator-facing surface of the engine.
type Service struct {
	jobs   store.JobStore
	orch   *Orchestrator
	queue  *Queue
	logger *slog.Logger
	joblog *JobLogger
	now    func() time.Time
}

// NewService returns a Service. A nil logger uses slog.Default().
func NewService(jobs store.JobStore, orch *Orchestrator, queue *Queue, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		jobs:   jobs,
		orch:   orch,
		queue:  queue,
		logger: logger,
		joblog: NewJobLogger(jobs, logger),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Run consumes the queue with workers until ctx is done.
func (s *Service) Run(ctx context.Context, workers int) {
	s.queue.Run(ctx, workers, s.orch.Tick)
}

// StartJob creates a job for instanceID. Full executions are queued and
// return immediately; dry runs complete before StartJob returns.
func (s *Service) StartJob(ctx context.Context, instanceID string, kind models.JobKind) (*models.Job, error) {
	if kind == "" {
		kind = models.JobKindFull
	}
	if kind != models.JobKindFull && kind != models.JobKindDryRun {
		return nil, fmt.Errorf("unknown job kind %q", kind)
	}
	if _, err := s.jobs.GetInstance(ctx, instanceID); err != nil {
		return nil, err
	}

	if kind == models.JobKindFull {
		active, err := s.jobs.HasActiveJob(ctx, instanceID)
		if err != nil {
			return nil, err
		}
		if active {
			return nil, fmt.Errorf("instance %s: %w", instanceID, ErrActiveJob)
		}
	}

	job := &models.Job{
		ID:         uuid.New().String(),
		InstanceID: instanceID,
		Kind:       kind,
		Status:     models.JobStatusPending,
		CreatedAt:  s.now(),
	}
	if err := s.jobs.CreateJob(ctx, job); err != nil {
		return nil, err
	}
	s.logger.Info("job created", "job_id", job.ID, "instance_id", instanceID, "kind", kind)

	if kind == models.JobKindDryRun {
		if _, err := s.orch.DryRun(ctx, job.ID); err != nil {
			s.logger.Warn("dry run failed", "job_id", job.ID, "error", err)
		}
		return s.jobs.GetJob(ctx, job.ID)
	}

	if !s.queue.Enqueue(job.ID) {
		s.joblog.Log(ctx, job.ID, models.LogLevelWarn, "queue full, job will start on the next recovery sweep")
	}
	return job, nil
}

// CancelJob stops a job cooperatively: a tick in flight finishes its page,
// and no further ticks run.
func (s *Service) CancelJob(ctx context.Context, jobID string) (*models.Job, error) {
	changed, err := s.jobs.Cancel(ctx, jobID, s.now())
	if err != nil {
		return nil, err
	}
	job, err := s.jobs.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if !changed {
		return job, fmt.Errorf("cancel %s job: %w", job.Status, ErrInvalidTransition)
	}
	s.joblog.Log(ctx, jobID, models.LogLevelInfo, "job cancelled")
	return job, nil
}

// ResumeJob moves a failed full execution back to running and queues it.
// It is the only way to resume a job failed by a configuration error.
func (s *Service) ResumeJob(ctx context.Context, jobID string) (*models.Job, error) {
	job, err := s.jobs.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.Kind != models.JobKindFull {
		return job, fmt.Errorf("resume %s job: %w", job.Kind, ErrInvalidTransition)
	}
	changed, err := s.jobs.Resume(ctx, jobID, s.now())
	if err != nil {
		return nil, err
	}
	if !changed {
		return job, fmt.Errorf("resume %s job: %w", job.Status, ErrInvalidTransition)
	}
	s.joblog.Log(ctx, jobID, models.LogLevelInfo, "job resumed manually")
	s.queue.Enqueue(jobID)
	return s.jobs.GetJob(ctx, jobID)
}

// Enqueue queues a tick for an existing job. It reports false when the job
// already has a tick chain or the queue is full.
func (s *Service) Enqueue(jobID string) bool {
	return s.queue.Enqueue(jobID)
}

// IsNotFound reports whether err means a missing job or instance.
func IsNotFound(err error) bool {
	return errors.Is(err, store.ErrNotFound)
}
