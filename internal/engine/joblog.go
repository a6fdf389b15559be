package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/raphaelgruber/recast/internal/models"
	"github.com/raphaelgruber/recast/internal/store"
)

// JobLogger writes operator-facing lines to a job's log and mirrors them to slog.
type JobLogger struct {
	jobs   store.JobStore
	logger *slog.Logger
}

// NewJobLogger returns a JobLogger. A nil logger uses slog.Default().
func NewJobLogger(jobs store.JobStore, logger *slog.Logger) *JobLogger {
	if logger == nil {
		logger = slog.Default()
	}
	return &JobLogger{jobs: jobs, logger: logger}
}

// Log appends a formatted entry. Store failures are logged, not returned.
func (l *JobLogger) Log(ctx context.Context, jobID string, level models.LogLevel, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	l.logger.Log(ctx, slogLevel(level), msg, "job_id", jobID)

	if err := l.jobs.AppendLog(context.WithoutCancel(ctx), jobID, level, msg); err != nil {
		l.logger.Warn("failed to append job log", "job_id", jobID, "error", err)
	}
}

func slogLevel(level models.LogLevel) slog.Level {
	switch level {
	case models.LogLevelDebug:
		return slog.LevelDebug
	case models.LogLevelWarn:
		return slog.LevelWarn
	case models.LogLevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
