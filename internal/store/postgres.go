package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" driver
	"github.com/jmoiron/sqlx"

	"github.com/raphaelgruber/recast/internal/models"
)

const (
	// DefaultMaxOpenConns is the default maximum number of open connections
	DefaultMaxOpenConns = 10
	// DefaultMaxIdleConns is the default maximum number of idle connections
	DefaultMaxIdleConns = 5
	// DefaultConnMaxLifetime is the default maximum connection lifetime
	DefaultConnMaxLifetime = 5 * time.Minute
)

const jobColumns = `id, instance_id, kind, status, page_offset, total_records, processed_records,
	failed_records, pass1_seen, pass1_resolved, pass2_escalated, pass2_completed, embeddings_failed,
	is_processing_batch, locked_at, last_batch_at, started_at, completed_at, details, created_at, updated_at`

const instanceColumns = `id, name, collection, filter, primary_key, text_field, vector_field, marker_field,
	prompt_template, generative_model, embedding_model, max_content_size, two_pass, remove_languages,
	clean_threshold, active, schedule_enabled, schedule_kind, schedule_interval_minutes, schedule_time,
	schedule_second_time, schedule_weekday, last_run, created_at`

// Postgres is a JobStore on PostgreSQL through sqlx and the pgx stdlib driver.
type Postgres struct {
	db *sqlx.DB
}

var _ JobStore = (*Postgres)(nil)

// Connect opens and verifies a connection to dsn.
func Connect(ctx context.Context, dsn string) (*Postgres, error) {
	db, err := sqlx.ConnectContext(ctx, "pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)
	return &Postgres{db: db}, nil
}

// NewPostgres wraps an existing handle.
func NewPostgres(db *sqlx.DB) *Postgres {
	return &Postgres{db: db}
}

// Close closes the connection pool.
func (p *Postgres) Close() error {
	return p.db.Close()
}

// Migrate creates missing tables and indexes.
func (p *Postgres) Migrate(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := p.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

func (p *Postgres) ListInstances(ctx context.Context) ([]models.Instance, error) {
	var out []models.Instance
	err := p.db.SelectContext(ctx, &out, `SELECT `+instanceColumns+` FROM instances ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list instances: %w", err)
	}
	return out, nil
}

func (p *Postgres) GetInstance(ctx context.Context, id string) (*models.Instance, error) {
	var inst models.Instance
	err := p.db.GetContext(ctx, &inst, `SELECT `+instanceColumns+` FROM instances WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("instance %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get instance %s: %w", id, err)
	}
	return &inst, nil
}

func (p *Postgres) UpsertInstance(ctx context.Context, inst *models.Instance) error {
	if inst.CreatedAt.IsZero() {
		inst.CreatedAt = time.Now().UTC()
	}
	_, err := p.db.NamedExecContext(ctx, `
		INSERT INTO instances (id, name, collection, filter, primary_key, text_field, vector_field,
			marker_field, prompt_template, generative_model, embedding_model, max_content_size, two_pass,
			remove_languages, clean_threshold, active, schedule_enabled, schedule_kind,
			schedule_interval_minutes, schedule_time, schedule_second_time, schedule_weekday, created_at)
		VALUES (:id, :name, :collection, :filter, :primary_key, :text_field, :vector_field,
			:marker_field, :prompt_template, :generative_model, :embedding_model, :max_content_size, :two_pass,
			:remove_languages, :clean_threshold, :active, :schedule_enabled, :schedule_kind,
			:schedule_interval_minutes, :schedule_time, :schedule_second_time, :schedule_weekday, :created_at)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name, collection = EXCLUDED.collection, filter = EXCLUDED.filter,
			primary_key = EXCLUDED.primary_key, text_field = EXCLUDED.text_field,
			vector_field = EXCLUDED.vector_field, marker_field = EXCLUDED.marker_field,
			prompt_template = EXCLUDED.prompt_template, generative_model = EXCLUDED.generative_model,
			embedding_model = EXCLUDED.embedding_model, max_content_size = EXCLUDED.max_content_size,
			two_pass = EXCLUDED.two_pass, remove_languages = EXCLUDED.remove_languages,
			clean_threshold = EXCLUDED.clean_threshold, active = EXCLUDED.active,
			schedule_enabled = EXCLUDED.schedule_enabled, schedule_kind = EXCLUDED.schedule_kind,
			schedule_interval_minutes = EXCLUDED.schedule_interval_minutes,
			schedule_time = EXCLUDED.schedule_time, schedule_second_time = EXCLUDED.schedule_second_time,
			schedule_weekday = EXCLUDED.schedule_weekday`, inst)
	if err != nil {
		return fmt.Errorf("upsert instance %s: %w", inst.ID, err)
	}
	return nil
}

func (p *Postgres) SetLastRun(ctx context.Context, id string, at time.Time) error {
	_, err := p.db.ExecContext(ctx, `UPDATE instances SET last_run = $2 WHERE id = $1`, id, at)
	if err != nil {
		return fmt.Errorf("set last run %s: %w", id, err)
	}
	return nil
}

func (p *Postgres) CreateJob(ctx context.Context, job *models.Job) error {
	now := time.Now().UTC()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	job.UpdatedAt = job.CreatedAt
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO jobs (id, instance_id, kind, status, details, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		job.ID, job.InstanceID, job.Kind, job.Status, job.Details, job.CreatedAt, job.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create job: %w", err)
	}
	return nil
}

func (p *Postgres) GetJob(ctx context.Context, id string) (*models.Job, error) {
	var job models.Job
	err := p.db.GetContext(ctx, &job, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("job %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get job %s: %w", id, err)
	}
	return &job, nil
}

func (p *Postgres) ListJobs(ctx context.Context, f JobFilter) ([]models.Job, error) {
	var (
		conds []string
		args  []any
	)
	if f.Status != "" {
		args = append(args, f.Status)
		conds = append(conds, fmt.Sprintf("status = $%d", len(args)))
	}
	if f.InstanceID != "" {
		args = append(args, f.InstanceID)
		conds = append(conds, fmt.Sprintf("instance_id = $%d", len(args)))
	}
	if f.Kind != "" {
		args = append(args, f.Kind)
		conds = append(conds, fmt.Sprintf("kind = $%d", len(args)))
	}

	query := `SELECT ` + jobColumns + ` FROM jobs`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY created_at DESC"
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	var out []models.Job
	if err := p.db.SelectContext(ctx, &out, query, args...); err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	return out, nil
}

func (p *Postgres) HasActiveJob(ctx context.Context, instanceID string) (bool, error) {
	var exists bool
	err := p.db.GetContext(ctx, &exists,
		`SELECT EXISTS (SELECT 1 FROM jobs WHERE instance_id = $1 AND status IN ('pending', 'running'))`,
		instanceID)
	if err != nil {
		return false, fmt.Errorf("check active job %s: %w", instanceID, err)
	}
	return exists, nil
}

func (p *Postgres) TryLock(ctx context.Context, id string, at time.Time) (bool, error) {
	return p.execChanged(ctx, "lock job", `
		UPDATE jobs SET is_processing_batch = true, locked_at = $2, updated_at = $2
		WHERE id = $1 AND is_processing_batch = false AND status IN ('pending', 'running')`, id, at)
}

func (p *Postgres) Unlock(ctx context.Context, id string) error {
	_, err := p.db.ExecContext(ctx,
		`UPDATE jobs SET is_processing_batch = false, locked_at = NULL WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("unlock job %s: %w", id, err)
	}
	return nil
}

func (p *Postgres) ClearStaleLocks(ctx context.Context, before time.Time) (int64, error) {
	res, err := p.db.ExecContext(ctx, `
		UPDATE jobs SET is_processing_batch = false, locked_at = NULL
		WHERE is_processing_batch = true AND (locked_at IS NULL OR locked_at < $1)`, before)
	if err != nil {
		return 0, fmt.Errorf("clear stale locks: %w", err)
	}
	return res.RowsAffected()
}

func (p *Postgres) Start(ctx context.Context, id string, total *int, at time.Time) error {
	_, err := p.db.ExecContext(ctx, `
		UPDATE jobs SET status = 'running', total_records = COALESCE($2, total_records),
			started_at = COALESCE(started_at, $3), updated_at = $3
		WHERE id = $1 AND status = 'pending'`, id, total, at)
	if err != nil {
		return fmt.Errorf("start job %s: %w", id, err)
	}
	return nil
}

func (p *Postgres) SetTotal(ctx context.Context, id string, total int) error {
	_, err := p.db.ExecContext(ctx, `UPDATE jobs SET total_records = $2 WHERE id = $1`, id, total)
	if err != nil {
		return fmt.Errorf("set total %s: %w", id, err)
	}
	return nil
}

func (p *Postgres) RecordPage(ctx context.Context, id string, pg models.PageProgress, at time.Time) error {
	_, err := p.db.ExecContext(ctx, `
		UPDATE jobs SET
			processed_records = processed_records + $2,
			failed_records = failed_records + $3,
			pass1_seen = pass1_seen + $4,
			pass1_resolved = pass1_resolved + $5,
			pass2_escalated = pass2_escalated + $6,
			pass2_completed = pass2_completed + $7,
			embeddings_failed = embeddings_failed + $8,
			page_offset = page_offset + $9,
			is_processing_batch = false,
			locked_at = NULL,
			last_batch_at = $10,
			updated_at = $10,
			status = CASE WHEN $11 AND status = 'running' THEN 'completed' ELSE status END,
			completed_at = CASE WHEN $11 AND status = 'running' THEN $10 ELSE completed_at END
		WHERE id = $1`,
		id, pg.Processed, pg.Failed, pg.Pass1Seen, pg.Pass1Resolved, pg.Pass2Escalated,
		pg.Pass2Completed, pg.EmbeddingsFailed, pg.PageLen, at, pg.Complete)
	if err != nil {
		return fmt.Errorf("record page %s: %w", id, err)
	}
	return nil
}

func (p *Postgres) Complete(ctx context.Context, id, details string, at time.Time) (bool, error) {
	return p.execChanged(ctx, "complete job", `
		UPDATE jobs SET status = 'completed', details = $2, completed_at = $3, updated_at = $3,
			is_processing_batch = false, locked_at = NULL
		WHERE id = $1 AND status IN ('pending', 'running')`, id, details, at)
}

func (p *Postgres) Fail(ctx context.Context, id, details string, at time.Time) (bool, error) {
	return p.execChanged(ctx, "fail job", `
		UPDATE jobs SET status = 'failed', details = $2, updated_at = $3,
			is_processing_batch = false, locked_at = NULL
		WHERE id = $1 AND status IN ('pending', 'running')`, id, details, at)
}

func (p *Postgres) Cancel(ctx context.Context, id string, at time.Time) (bool, error) {
	return p.execChanged(ctx, "cancel job", `
		UPDATE jobs SET status = 'cancelled', completed_at = $2, updated_at = $2
		WHERE id = $1 AND status IN ('pending', 'running', 'failed')`, id, at)
}

func (p *Postgres) Resume(ctx context.Context, id string, at time.Time) (bool, error) {
	return p.execChanged(ctx, "resume job", `
		UPDATE jobs SET status = 'running', is_processing_batch = false, locked_at = NULL, updated_at = $2
		WHERE id = $1 AND status = 'failed'`, id, at)
}

func (p *Postgres) AppendLog(ctx context.Context, jobID string, level models.LogLevel, message string) error {
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO job_logs (job_id, level, message, created_at) VALUES ($1, $2, $3, $4)`,
		jobID, level, message, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("append log %s: %w", jobID, err)
	}
	return nil
}

func (p *Postgres) Logs(ctx context.Context, jobID string, limit int) ([]models.JobLog, error) {
	var out []models.JobLog
	var err error
	if limit > 0 {
		err = p.db.SelectContext(ctx, &out, `
			SELECT id, job_id, level, message, created_at FROM (
				SELECT id, job_id, level, message, created_at FROM job_logs
				WHERE job_id = $1 ORDER BY id DESC LIMIT $2
			) newest ORDER BY id ASC`, jobID, limit)
	} else {
		err = p.db.SelectContext(ctx, &out,
			`SELECT id, job_id, level, message, created_at FROM job_logs WHERE job_id = $1 ORDER BY id ASC`, jobID)
	}
	if err != nil {
		return nil, fmt.Errorf("list logs %s: %w", jobID, err)
	}
	return out, nil
}

func (p *Postgres) LatestLog(ctx context.Context, jobID string, level models.LogLevel) (*models.JobLog, error) {
	var entry models.JobLog
	err := p.db.GetContext(ctx, &entry, `
		SELECT id, job_id, level, message, created_at FROM job_logs
		WHERE job_id = $1 AND level = $2 ORDER BY id DESC LIMIT 1`, jobID, level)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest log %s: %w", jobID, err)
	}
	return &entry, nil
}

func (p *Postgres) execChanged(ctx context.Context, op, query string, args ...any) (bool, error) {
	res, err := p.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	return n > 0, nil
}
