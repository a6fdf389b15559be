// Package engine runs augmentation jobs: one tick processes one page of an
// instance's collection and then hands the job back to the worker queue.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/raphaelgruber/recast/internal/embedding"
	"github.com/raphaelgruber/recast/internal/filter"
	"github.com/raphaelgruber/recast/internal/metrics"
	"github.com/raphaelgruber/recast/internal/models"
	"github.com/raphaelgruber/recast/internal/refine"
	"github.com/raphaelgruber/recast/internal/retry"
	"github.com/raphaelgruber/recast/internal/store"
)

// Config tunes the orchestrator.
type Config struct {
	PageSize int
	// TickBudget bounds the refinement and embedding work of one tick.
	TickBudget time.Duration
	// Store applies to every record store call.
	Store retry.Policy
}

// DefaultConfig returns production settings.
func DefaultConfig() Config {
	return Config{
		PageSize:   50,
		TickBudget: 4 * time.Minute,
		Store:      retry.External(30 * time.Second),
	}
}

// EmbedderSource resolves the embedder for an instance's embedding model.
type EmbedderSource func(model string) (embedding.Embedder, error)

// Deps are the collaborators of an Orchestrator.
type Deps struct {
	Jobs      store.JobStore
	Records   RecordStore
	Filter    *filter.Filter
	Refiner   *refine.Dispatcher
	FanOut    *embedding.FanOut
	Embedders EmbedderSource
	Metrics   *metrics.Engine
	Logger    *slog.Logger
}

// Orchestrator executes ticks.
type Orchestrator struct {
	cfg       Config
	jobs      store.JobStore
	records   recordIO
	filter    *filter.Filter
	refiner   *refine.Dispatcher
	fanOut    *embedding.FanOut
	embedders EmbedderSource
	metrics   *metrics.Engine
	logger    *slog.Logger
	joblog    *JobLogger
	now       func() time.Time
}

// NewOrchestrator returns an Orchestrator. Missing optional deps get defaults.
func NewOrchestrator(cfg Config, deps Deps) *Orchestrator {
	if cfg.PageSize < 1 {
		cfg.PageSize = DefaultConfig().PageSize
	}
	if cfg.TickBudget <= 0 {
		cfg.TickBudget = DefaultConfig().TickBudget
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	f := deps.Filter
	if f == nil {
		f = filter.New(nil)
	}
	fanOut := deps.FanOut
	if fanOut == nil {
		fanOut = embedding.NewFanOut(embedding.DefaultConfig(), logger)
	}
	return &Orchestrator{
		cfg:       cfg,
		jobs:      deps.Jobs,
		records:   recordIO{store: deps.Records, policy: cfg.Store},
		filter:    f,
		refiner:   deps.Refiner,
		fanOut:    fanOut,
		embedders: deps.Embedders,
		metrics:   deps.Metrics,
		logger:    logger,
		joblog:    NewJobLogger(deps.Jobs, logger),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Tick runs one page of jobID and reports whether the job wants another tick.
func (o *Orchestrator) Tick(ctx context.Context, jobID string) bool {
	start := time.Now()
	outcome, err := o.tick(ctx, jobID)
	o.metrics.Tick(outcome)
	if outcome != metrics.TickSkipped {
		o.metrics.ObserveTick(time.Since(start).Seconds())
	}
	if err != nil {
		o.logger.Error("tick failed", "job_id", jobID, "outcome", outcome, "error", err)
	}
	return outcome == metrics.TickContinued || outcome == metrics.TickBudget
}

func (o *Orchestrator) tick(ctx context.Context, jobID string) (string, error) {
	job, err := o.jobs.GetJob(ctx, jobID)
	if errors.Is(err, store.ErrNotFound) {
		return metrics.TickSkipped, nil
	}
	if err != nil {
		return metrics.TickSkipped, fmt.Errorf("load job: %w", err)
	}
	if job.IsProcessingBatch || !tickable(job) {
		return metrics.TickSkipped, nil
	}

	locked, err := o.jobs.TryLock(ctx, jobID, o.now())
	if err != nil {
		return metrics.TickSkipped, fmt.Errorf("lock job: %w", err)
	}
	if !locked {
		o.logger.Debug("tick skipped, job locked", "job_id", jobID)
		return metrics.TickSkipped, nil
	}

	t := &lockedTick{o: o, job: job}
	defer t.release(ctx)

	// Another tick may have recorded a page between the read above and the lock.
	if t.job, err = o.jobs.GetJob(ctx, jobID); err != nil {
		t.job = job
		return metrics.TickSkipped, fmt.Errorf("reload locked job: %w", err)
	}
	if !tickable(t.job) {
		return metrics.TickSkipped, nil
	}
	return t.run(ctx)
}

// tickable reports whether job is a full execution that still has pages to run.
func tickable(job *models.Job) bool {
	return job.Kind == models.JobKindFull &&
		(job.Status == models.JobStatusPending || job.Status == models.JobStatusRunning)
}

// lockedTick is a tick holding the job's processing flag. RecordPage, Complete
// and Fail clear the flag; release clears it on every other path.
type lockedTick struct {
	o        *Orchestrator
	job      *models.Job
	released bool
}

func (t *lockedTick) release(ctx context.Context) {
	if t.released {
		return
	}
	if err := t.o.jobs.Unlock(context.WithoutCancel(ctx), t.job.ID); err != nil {
		t.o.logger.Error("failed to clear processing flag", "job_id", t.job.ID, "error", err)
	}
}

func (t *lockedTick) run(ctx context.Context) (string, error) {
	o, job := t.o, t.job

	inst, embedder, err := o.loadInstance(ctx, job)
	if err != nil {
		return t.fail(ctx, err)
	}
	sel := models.SelectionFor(inst, job.ID)

	if err := o.ensureStarted(ctx, job, inst, sel); err != nil {
		return t.fail(ctx, err)
	}

	records, err := o.records.page(ctx, sel, job.Offset, o.cfg.PageSize)
	if err != nil {
		return t.fail(ctx, fmt.Errorf("fetch page at offset %d: %w", job.Offset, err))
	}
	if len(records) == 0 {
		return t.complete(ctx)
	}

	budget, cancel := context.WithTimeout(ctx, o.cfg.TickBudget)
	defer cancel()
	run := o.runPage(budget, inst, records, embedder)
	o.logRun(ctx, job.ID, run)

	if err := o.records.write(ctx, inst.Collection, inst.PrimaryKey, run.rows(inst, job.ID)); err != nil {
		return t.fail(ctx, fmt.Errorf("write page at offset %d: %w", job.Offset, err))
	}

	p := clampProgress(job, run.progress(inst.TwoPass))
	p.Complete = completes(job, p, o.cfg.PageSize)
	if err := o.jobs.RecordPage(ctx, job.ID, p, o.now()); err != nil {
		return metrics.TickFailed, fmt.Errorf("record page: %w", err)
	}
	t.released = true

	o.metrics.RecordsDone(p.Processed, p.Failed)
	o.metrics.Stage("pass1_seen", p.Pass1Seen)
	o.metrics.Stage("pass1_resolved", p.Pass1Resolved)
	o.metrics.Stage("pass2_escalated", p.Pass2Escalated)
	o.metrics.Stage("pass2_completed", p.Pass2Completed)
	o.metrics.EmbeddingFailures(p.EmbeddingsFailed)

	o.logger.Info("page processed",
		"job_id", job.ID,
		"offset", job.Offset,
		"page", p.PageLen,
		"processed", p.Processed,
		"failed", p.Failed,
		"pass1_resolved", p.Pass1Resolved,
		"pass2_completed", p.Pass2Completed)

	switch {
	case p.Complete:
		o.joblog.Log(ctx, job.ID, models.LogLevelInfo, "job completed: %d processed, %d failed",
			job.ProcessedRecords+p.Processed, job.FailedRecords+p.Failed)
		return metrics.TickCompleted, nil
	case run.budgetHit:
		return metrics.TickBudget, nil
	default:
		return metrics.TickContinued, nil
	}
}

func (t *lockedTick) complete(ctx context.Context) (string, error) {
	job := t.job
	details := fmt.Sprintf("%d processed, %d failed", job.ProcessedRecords, job.FailedRecords)
	if _, err := t.o.jobs.Complete(ctx, job.ID, details, t.o.now()); err != nil {
		return metrics.TickFailed, fmt.Errorf("complete job: %w", err)
	}
	t.released = true
	t.o.joblog.Log(ctx, job.ID, models.LogLevelInfo, "job completed: %s", details)
	return metrics.TickCompleted, nil
}

// fail moves the job to failed. Configuration errors carry ConfigErrorPrefix.
func (t *lockedTick) fail(ctx context.Context, cause error) (string, error) {
	msg := cause.Error()
	if errors.Is(cause, ErrConfig) && !IsConfigError(msg) {
		msg = ConfigErrorPrefix + " " + msg
	}
	t.o.joblog.Log(ctx, t.job.ID, models.LogLevelError, "%s", msg)

	if _, err := t.o.jobs.Fail(context.WithoutCancel(ctx), t.job.ID, msg, t.o.now()); err != nil {
		return metrics.TickFailed, fmt.Errorf("fail job: %w (cause: %w)", err, cause)
	}
	t.released = true
	return metrics.TickFailed, cause
}

// loadInstance returns the job's validated instance and, when it has a vector
// field, the embedder for its model.
func (o *Orchestrator) loadInstance(ctx context.Context, job *models.Job) (*models.Instance, embedding.Embedder, error) {
	inst, err := o.jobs.GetInstance(ctx, job.InstanceID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil, configErrorf("instance %s not found", job.InstanceID)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("load instance: %w", err)
	}
	if err := ValidateInstance(inst); err != nil {
		return nil, nil, err
	}
	if inst.VectorField == "" {
		return inst, nil, nil
	}
	if o.embedders == nil {
		return nil, nil, configErrorf("vector_field %q set but no embedding provider is configured", inst.VectorField)
	}
	e, err := o.embedders(inst.EmbeddingModel)
	if err != nil {
		return nil, nil, configErrorf("embedding model %q: %v", inst.EmbeddingModel, err)
	}
	return inst, e, nil
}

// ensureStarted moves a pending job to running, resolving its total on the way.
// A running job whose count failed earlier gets another attempt.
func (o *Orchestrator) ensureStarted(ctx context.Context, job *models.Job, inst *models.Instance, sel models.Selection) error {
	if job.Status == models.JobStatusPending {
		if err := o.records.prepare(ctx, inst); err != nil {
			return fmt.Errorf("prepare collection %s: %w", inst.Collection, err)
		}
		total := o.resolveTotal(ctx, job.ID, sel)
		if err := o.jobs.Start(ctx, job.ID, total, o.now()); err != nil {
			return fmt.Errorf("start job: %w", err)
		}
		job.Status = models.JobStatusRunning
		job.TotalRecords = total
		if total != nil {
			o.joblog.Log(ctx, job.ID, models.LogLevelInfo, "job started: %d matching records", *total)
		} else {
			o.joblog.Log(ctx, job.ID, models.LogLevelInfo, "job started: record count unavailable")
		}
		return nil
	}

	if job.TotalRecords == nil {
		if total := o.resolveTotal(ctx, job.ID, sel); total != nil {
			if err := o.jobs.SetTotal(ctx, job.ID, *total); err != nil {
				o.logger.Warn("failed to store record count", "job_id", job.ID, "error", err)
				return nil
			}
			job.TotalRecords = total
		}
	}
	return nil
}

func (o *Orchestrator) resolveTotal(ctx context.Context, jobID string, sel models.Selection) *int {
	n, err := o.records.count(ctx, sel)
	if err != nil {
		o.joblog.Log(ctx, jobID, models.LogLevelWarn, "record count failed, will retry on a later tick: %v", err)
		return nil
	}
	return &n
}

func (o *Orchestrator) logRun(ctx context.Context, jobID string, run pageRun) {
	if run.batchErr != nil {
		o.joblog.Log(ctx, jobID, models.LogLevelError, "batch refinement failed, %d records marked failed: %v",
			len(run.outcomes), run.batchErr)
		return
	}
	var embedFailed int
	for i := range run.outcomes {
		out := &run.outcomes[i]
		switch {
		case errors.Is(out.err, ErrContentTooLarge):
			o.joblog.Log(ctx, jobID, models.LogLevelWarn, "record %s skipped: %v", out.key, out.err)
		case out.err != nil && !run.budgetHit:
			o.joblog.Log(ctx, jobID, models.LogLevelWarn, "record %s failed: %v", out.key, out.err)
		}
		if out.embedErr != nil {
			embedFailed++
		}
	}
	if embedFailed > 0 {
		o.joblog.Log(ctx, jobID, models.LogLevelWarn, "%d embeddings failed, existing vectors kept", embedFailed)
	}
	if run.budgetHit {
		o.joblog.Log(ctx, jobID, models.LogLevelWarn,
			"tick budget exhausted, unrefined records counted as failed and embeddings skipped")
	}
}

// clampProgress trims p so processed+failed never exceeds a known total.
// Failures are trimmed first.
func clampProgress(job *models.Job, p models.PageProgress) models.PageProgress {
	total, ok := job.Total()
	if !ok || total <= 0 {
		return p
	}
	remaining := max(total-job.Done(), 0)
	over := p.Processed + p.Failed - remaining
	if over <= 0 {
		return p
	}
	cut := min(over, p.Failed)
	p.Failed -= cut
	p.Processed -= min(over-cut, p.Processed)
	return p
}

// completes reports whether recording p finishes the job.
func completes(job *models.Job, p models.PageProgress, pageSize int) bool {
	if total, ok := job.Total(); ok && total > 0 {
		return job.Done()+p.Processed+p.Failed >= total
	}
	return p.PageLen < pageSize
}

// Preview is the dry-run report stored in a job's details.
type Preview struct {
	Key           string        `json:"key,omitempty"`
	Original      string        `json:"original,omitempty"`
	Pass1         *filter.Stats `json:"pass1,omitempty"`
	Pass1Text     string        `json:"pass1_text,omitempty"`
	Pass2Skipped  bool          `json:"pass2_skipped"`
	Result        string        `json:"result,omitempty"`
	EmbeddingDims int           `json:"embedding_dims,omitempty"`
	Error         string        `json:"error,omitempty"`
}

// DryRun processes the first matching record of a dry-run job without
// writing it back and completes the job with a Preview in its details.
func (o *Orchestrator) DryRun(ctx context.Context, jobID string) (*Preview, error) {
	job, err := o.jobs.GetJob(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("load job: %w", err)
	}
	if job.Kind != models.JobKindDryRun {
		return nil, fmt.Errorf("job %s is not a dry run", jobID)
	}
	locked, err := o.jobs.TryLock(ctx, jobID, o.now())
	if err != nil {
		return nil, fmt.Errorf("lock job: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("job %s: %w", jobID, ErrInvalidTransition)
	}
	t := &lockedTick{o: o, job: job}
	defer t.release(ctx)

	inst, embedder, err := o.loadInstance(ctx, job)
	if err != nil {
		_, err = t.fail(ctx, err)
		return nil, err
	}
	if err := o.jobs.Start(ctx, job.ID, nil, o.now()); err != nil {
		_, err = t.fail(ctx, fmt.Errorf("start job: %w", err))
		return nil, err
	}

	records, err := o.records.page(ctx, models.SelectionFor(inst, job.ID), 0, 1)
	if err != nil {
		_, err = t.fail(ctx, fmt.Errorf("fetch record: %w", err))
		return nil, err
	}

	preview := &Preview{}
	var p models.PageProgress
	if len(records) > 0 {
		budget, cancel := context.WithTimeout(ctx, o.cfg.TickBudget)
		defer cancel()
		run := o.runPage(budget, inst, records, embedder)
		preview = previewOf(&run.outcomes[0])
		p = run.progress(inst.TwoPass)
	}

	details, err := json.Marshal(preview)
	if err != nil {
		return nil, fmt.Errorf("encode preview: %w", err)
	}
	if err := o.jobs.RecordPage(ctx, job.ID, p, o.now()); err != nil {
		return nil, fmt.Errorf("record dry run: %w", err)
	}
	t.released = true
	if _, err := o.jobs.Complete(ctx, job.ID, string(details), o.now()); err != nil {
		return nil, fmt.Errorf("complete dry run: %w", err)
	}
	o.joblog.Log(ctx, job.ID, models.LogLevelInfo, "dry run completed on %d record(s)", len(records))
	return preview, nil
}

func previewOf(out *outcome) *Preview {
	p := &Preview{
		Key:           out.key,
		Original:      out.original,
		Pass1:         out.stats,
		Pass1Text:     out.cleaned,
		Pass2Skipped:  out.resolved,
		EmbeddingDims: len(out.vector),
	}
	if out.ok() {
		p.Result = out.final
	} else {
		p.Error = out.err.Error()
	}
	if out.embedErr != nil && p.Error == "" {
		p.Error = "embedding: " + out.embedErr.Error()
	}
	return p
}
