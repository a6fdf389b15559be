// Package scheduler reconciles orphaned and failed jobs and fires recurring
// per-instance triggers.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/raphaelgruber/recast/internal/engine"
	"github.com/raphaelgruber/recast/internal/models"
	"github.com/raphaelgruber/recast/internal/store"
)

// MaxFailureRatio is the failed/total ratio above which a failed job is left alone.
const MaxFailureRatio = 0.5

// Engine is the part of the job engine the scheduler drives.
type Engine interface {
	Enqueue(jobID string) bool
	StartJob(ctx context.Context, instanceID string, kind models.JobKind) (*models.Job, error)
}

// Config tunes the scheduler.
type Config struct {
	// Interval between sweeps.
	Interval time.Duration
	// StaleAfter is the age at which a processing flag is considered abandoned.
	StaleAfter time.Duration
	// Location evaluates daily and weekly triggers.
	Location *time.Location
}

// Report summarizes one sweep.
type Report struct {
	StaleCleared int64
	Resumed      int
	Retried      int
	Triggered    int
}

// Scheduler runs recovery sweeps.
type Scheduler struct {
	cfg    Config
	jobs   store.JobStore
	engine Engine
	joblog *engine.JobLogger
	logger *slog.Logger
	now    func() time.Time
}

// New returns a Scheduler. A nil logger uses slog.Default().
func New(cfg Config, jobs store.JobStore, eng Engine, logger *slog.Logger) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = 8 * time.Minute
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		cfg:    cfg,
		jobs:   jobs,
		engine: eng,
		joblog: engine.NewJobLogger(jobs, logger),
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Run sweeps once immediately and then every Interval until ctx is done.
func (s *Scheduler) Run(ctx context.Context) {
	s.logger.Info("recovery scheduler started", "interval", s.cfg.Interval, "stale_after", s.cfg.StaleAfter)
	s.RunOnce(ctx)

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("recovery scheduler stopped")
			return
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce performs one sweep. Step failures are logged and do not stop later steps.
func (s *Scheduler) RunOnce(ctx context.Context) Report {
	var r Report
	var err error

	if r.StaleCleared, err = s.ClearStaleLocks(ctx); err != nil {
		s.logger.Error("stale lock sweep failed", "error", err)
	}
	if r.Resumed, r.Retried, err = s.ResumeJobs(ctx); err != nil {
		s.logger.Error("job resumption failed", "error", err)
	}
	if r.Triggered, err = s.FireTriggers(ctx); err != nil {
		s.logger.Error("trigger evaluation failed", "error", err)
	}

	if r != (Report{}) {
		s.logger.Info("recovery sweep",
			"stale_cleared", r.StaleCleared,
			"resumed", r.Resumed,
			"retried", r.Retried,
			"triggered", r.Triggered)
	}
	return r
}

// ClearStaleLocks releases processing flags older than StaleAfter.
func (s *Scheduler) ClearStaleLocks(ctx context.Context) (int64, error) {
	n, err := s.jobs.ClearStaleLocks(ctx, s.now().Add(-s.cfg.StaleAfter))
	if err != nil {
		return 0, fmt.Errorf("clear stale locks: %w", err)
	}
	if n > 0 {
		s.logger.Warn("cleared stale processing flags", "count", n)
	}
	return n, nil
}

// ResumeJobs re-enqueues orphaned full executions and retries recoverable
// failures. It returns the number of running jobs enqueued and failed jobs retried.
func (s *Scheduler) ResumeJobs(ctx context.Context) (resumed, retried int, err error) {
	for _, status := range []models.JobStatus{models.JobStatusPending, models.JobStatusRunning} {
		jobs, err := s.jobs.ListJobs(ctx, store.JobFilter{Status: status, Kind: models.JobKindFull})
		if err != nil {
			return resumed, retried, fmt.Errorf("list %s jobs: %w", status, err)
		}
		for _, job := range jobs {
			if job.IsProcessingBatch {
				continue
			}
			if s.engine.Enqueue(job.ID) {
				s.logger.Info("job resumed", "job_id", job.ID, "status", job.Status, "offset", job.Offset)
				resumed++
			}
		}
	}

	failed, err := s.jobs.ListJobs(ctx, store.JobFilter{Status: models.JobStatusFailed, Kind: models.JobKindFull})
	if err != nil {
		return resumed, retried, fmt.Errorf("list failed jobs: %w", err)
	}
	for _, job := range failed {
		if job.IsProcessingBatch {
			continue
		}
		latest, err := s.jobs.LatestLog(ctx, job.ID, models.LogLevelError)
		if err != nil {
			s.logger.Warn("failed to read job log", "job_id", job.ID, "error", err)
			continue
		}
		if ok, reason := Recoverable(&job, latest); !ok {
			s.logger.Debug("failed job not retried", "job_id", job.ID, "reason", reason)
			continue
		}

		changed, err := s.jobs.Resume(ctx, job.ID, s.now())
		if err != nil {
			s.logger.Warn("failed to resume job", "job_id", job.ID, "error", err)
			continue
		}
		if !changed {
			continue
		}
		s.joblog.Log(ctx, job.ID, models.LogLevelInfo, "job retried by recovery: %d of %s records failed",
			job.FailedRecords, totalString(&job))
		s.engine.Enqueue(job.ID)
		retried++
	}
	return resumed, retried, nil
}

// Recoverable decides whether a failed job is retried automatically. A job is
// left alone when its newest error log is a configuration error, when every
// record failed, or when more than half of them did. An unknown total is retried.
func Recoverable(job *models.Job, latestError *models.JobLog) (bool, string) {
	if latestError != nil && engine.IsConfigError(latestError.Message) {
		return false, "configuration error requires manual resume"
	}
	total, ok := job.Total()
	if !ok || total <= 0 {
		return true, ""
	}
	if job.FailedRecords >= total {
		return false, "all records failed"
	}
	if job.FailureRatio() > MaxFailureRatio {
		return false, fmt.Sprintf("failure ratio %.2f above %.2f", job.FailureRatio(), MaxFailureRatio)
	}
	return true, ""
}

// FireTriggers starts a full execution for every active, scheduled instance
// whose trigger is due and which has no active job.
func (s *Scheduler) FireTriggers(ctx context.Context) (int, error) {
	instances, err := s.jobs.ListInstances(ctx)
	if err != nil {
		return 0, fmt.Errorf("list instances: %w", err)
	}

	now := s.now()
	fired := 0
	for i := range instances {
		inst := &instances[i]
		if !inst.Active || !inst.ScheduleEnabled {
			continue
		}
		sched, err := ScheduleFor(inst, s.cfg.Location)
		if err != nil {
			s.logger.Warn("instance schedule ignored", "instance_id", inst.ID, "error", err)
			continue
		}
		if !Due(sched, inst, now) {
			continue
		}

		job, err := s.engine.StartJob(ctx, inst.ID, models.JobKindFull)
		if errors.Is(err, engine.ErrActiveJob) {
			s.logger.Debug("trigger skipped, instance has an active job", "instance_id", inst.ID)
			continue
		}
		if err != nil {
			s.logger.Error("scheduled job failed to start", "instance_id", inst.ID, "error", err)
			continue
		}
		if err := s.jobs.SetLastRun(ctx, inst.ID, now); err != nil {
			s.logger.Warn("failed to stamp last run", "instance_id", inst.ID, "error", err)
		}
		s.joblog.Log(ctx, job.ID, models.LogLevelInfo, "job started by %s schedule", inst.ScheduleKind)
		fired++
	}
	return fired, nil
}

func totalString(job *models.Job) string {
	if total, ok := job.Total(); ok {
		return fmt.Sprint(total)
	}
	return "unknown"
}
