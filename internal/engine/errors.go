package engine

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/raphaelgruber/recast/internal/models"
)

// ConfigErrorPrefix starts every job log line written for a configuration
// failure. The recovery scheduler does not retry jobs whose newest error log
// carries it.
const ConfigErrorPrefix = "configuration error:"

var (
	// ErrConfig marks failures caused by instance configuration. Jobs failed
	// with it wait for a manual resume.
	ErrConfig = errors.New("configuration error")
	// ErrActiveJob means the instance already has a pending or running job.
	ErrActiveJob = errors.New("instance has an active job")
	// ErrInvalidTransition means the job's status does not allow the request.
	ErrInvalidTransition = errors.New("invalid job status transition")
)

// Field names are plain identifiers. Collections may be schema-qualified.
var (
	fieldRe      = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)
	collectionRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)
)

func configErrorf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConfig, fmt.Sprintf(format, args...))
}

// IsConfigError reports whether a job log message records a configuration failure.
func IsConfigError(message string) bool {
	return strings.HasPrefix(message, ConfigErrorPrefix)
}

// ValidateInstance checks the fields a tick depends on.
func ValidateInstance(inst *models.Instance) error {
	if !collectionRe.MatchString(inst.Collection) {
		return configErrorf("invalid collection %q", inst.Collection)
	}
	fields := map[string]string{
		"primary_key":  inst.PrimaryKey,
		"text_field":   inst.TextField,
		"marker_field": inst.Marker(),
	}
	if inst.VectorField != "" {
		fields["vector_field"] = inst.VectorField
	}
	for name, value := range fields {
		if !fieldRe.MatchString(value) {
			return configErrorf("invalid %s %q", name, value)
		}
	}
	if inst.TextField == inst.PrimaryKey || inst.TextField == inst.Marker() {
		return configErrorf("text_field %q collides with a reserved field", inst.TextField)
	}
	if inst.VectorField != "" && (inst.VectorField == inst.TextField || inst.VectorField == inst.PrimaryKey) {
		return configErrorf("vector_field %q collides with another field", inst.VectorField)
	}
	if strings.TrimSpace(inst.PromptTemplate) == "" {
		return configErrorf("prompt_template is empty")
	}
	if inst.MaxContentSize < 0 {
		return configErrorf("max_content_size must not be negative")
	}
	if t := inst.Threshold(); t < 0 || t > 1 {
		return configErrorf("clean_threshold %.2f outside [0, 1]", t)
	}
	return nil
}
