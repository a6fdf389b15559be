// Package models defines the data structures shared by the recast job engine.
package models

import "time"

// JobStatus is the lifecycle state of a job.
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// Terminal reports whether no further ticks may run for the status.
// Failed is not terminal: recovery or a manual resume can move it back to running.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusCancelled
}

// JobKind selects how a job executes.
type JobKind string

const (
	// JobKindDryRun processes a single record synchronously without writing back.
	JobKindDryRun JobKind = "dry_run"
	// JobKindFull is the paginated, resumable sweep.
	JobKindFull JobKind = "full_execution"
)

// Job is one execution of an Instance against its collection.
type Job struct {
	ID         string    `json:"id" db:"id"`
	InstanceID string    `json:"instance_id" db:"instance_id"`
	Kind       JobKind   `json:"kind" db:"kind"`
	Status     JobStatus `json:"status" db:"status"`

	// Offset is the pagination cursor into the filtered record set.
	Offset int `json:"offset" db:"page_offset"`

	// TotalRecords is nil until the matching record count has been resolved.
	TotalRecords     *int `json:"total_records,omitempty" db:"total_records"`
	ProcessedRecords int  `json:"processed_records" db:"processed_records"`
	FailedRecords    int  `json:"failed_records" db:"failed_records"`

	// Two-pass counters, for observability only.
	Pass1Seen        int `json:"pass1_seen" db:"pass1_seen"`
	Pass1Resolved    int `json:"pass1_resolved" db:"pass1_resolved"`
	Pass2Escalated   int `json:"pass2_escalated" db:"pass2_escalated"`
	Pass2Completed   int `json:"pass2_completed" db:"pass2_completed"`
	EmbeddingsFailed int `json:"embeddings_failed" db:"embeddings_failed"`

	IsProcessingBatch bool       `json:"is_processing_batch" db:"is_processing_batch"`
	LockedAt          *time.Time `json:"locked_at,omitempty" db:"locked_at"`
	LastBatchAt       *time.Time `json:"last_batch_at,omitempty" db:"last_batch_at"`
	StartedAt         *time.Time `json:"started_at,omitempty" db:"started_at"`
	CompletedAt       *time.Time `json:"completed_at,omitempty" db:"completed_at"`
	Details           string     `json:"details,omitempty" db:"details"`
	CreatedAt         time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at" db:"updated_at"`
}

// Total returns the resolved record count and whether it is known.
func (j *Job) Total() (int, bool) {
	if j.TotalRecords == nil {
		return 0, false
	}
	return *j.TotalRecords, true
}

// Done returns processed plus failed records.
func (j *Job) Done() int {
	return j.ProcessedRecords + j.FailedRecords
}

// FailureRatio returns failed/total, or 0 when the total is unknown or zero.
func (j *Job) FailureRatio() float64 {
	total, ok := j.Total()
	if !ok || total <= 0 {
		return 0
	}
	return float64(j.FailedRecords) / float64(total)
}

// LogLevel is the severity of a JobLog entry.
type LogLevel string

const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// JobLog is one append-only audit entry tied to a job.
type JobLog struct {
	ID        int64     `json:"id" db:"id"`
	JobID     string    `json:"job_id" db:"job_id"`
	Level     LogLevel  `json:"level" db:"level"`
	Message   string    `json:"message" db:"message"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// PageProgress is the counter delta recorded at the end of a tick.
type PageProgress struct {
	PageLen          int
	Processed        int
	Failed           int
	Pass1Seen        int
	Pass1Resolved    int
	Pass2Escalated   int
	Pass2Completed   int
	EmbeddingsFailed int
	// Complete ends a running job in the same write.
	Complete bool
}
