package store

// schemaStatements create the job store tables.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS instances (
		id                        TEXT PRIMARY KEY,
		name                      TEXT NOT NULL DEFAULT '',
		collection                TEXT NOT NULL,
		filter                    TEXT NOT NULL DEFAULT '',
		primary_key               TEXT NOT NULL DEFAULT 'id',
		text_field                TEXT NOT NULL,
		vector_field              TEXT NOT NULL DEFAULT '',
		marker_field              TEXT NOT NULL DEFAULT '',
		prompt_template           TEXT NOT NULL DEFAULT '',
		generative_model          TEXT NOT NULL DEFAULT '',
		embedding_model           TEXT NOT NULL DEFAULT '',
		max_content_size          INTEGER NOT NULL DEFAULT 0,
		two_pass                  BOOLEAN NOT NULL DEFAULT false,
		remove_languages          TEXT NOT NULL DEFAULT '',
		clean_threshold           DOUBLE PRECISION,
		active                    BOOLEAN NOT NULL DEFAULT true,
		schedule_enabled          BOOLEAN NOT NULL DEFAULT false,
		schedule_kind             TEXT NOT NULL DEFAULT '',
		schedule_interval_minutes INTEGER NOT NULL DEFAULT 0,
		schedule_time             TEXT NOT NULL DEFAULT '',
		schedule_second_time      TEXT NOT NULL DEFAULT '',
		schedule_weekday          INTEGER NOT NULL DEFAULT 0,
		last_run                  TIMESTAMPTZ,
		created_at                TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS jobs (
		id                  TEXT PRIMARY KEY,
		instance_id         TEXT NOT NULL REFERENCES instances(id) ON DELETE CASCADE,
		kind                TEXT NOT NULL,
		status              TEXT NOT NULL,
		page_offset         INTEGER NOT NULL DEFAULT 0,
		total_records       INTEGER,
		processed_records   INTEGER NOT NULL DEFAULT 0,
		failed_records      INTEGER NOT NULL DEFAULT 0,
		pass1_seen          INTEGER NOT NULL DEFAULT 0,
		pass1_resolved      INTEGER NOT NULL DEFAULT 0,
		pass2_escalated     INTEGER NOT NULL DEFAULT 0,
		pass2_completed     INTEGER NOT NULL DEFAULT 0,
		embeddings_failed   INTEGER NOT NULL DEFAULT 0,
		is_processing_batch BOOLEAN NOT NULL DEFAULT false,
		locked_at           TIMESTAMPTZ,
		last_batch_at       TIMESTAMPTZ,
		started_at          TIMESTAMPTZ,
		completed_at        TIMESTAMPTZ,
		details             TEXT NOT NULL DEFAULT '',
		created_at          TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at          TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS jobs_status_idx ON jobs (status)`,
	`CREATE INDEX IF NOT EXISTS jobs_instance_idx ON jobs (instance_id, created_at DESC)`,
	`CREATE TABLE IF NOT EXISTS job_logs (
		id         BIGSERIAL PRIMARY KEY,
		job_id     TEXT NOT NULL REFERENCES jobs(id) ON DELETE CASCADE,
		level      TEXT NOT NULL,
		message    TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS job_logs_job_idx ON job_logs (job_id, id)`,
	`ALTER TABLE instances ALTER COLUMN clean_threshold DROP NOT NULL`,
	`ALTER TABLE instances ALTER COLUMN clean_threshold DROP DEFAULT`,
}
