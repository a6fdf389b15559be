package models

import (
	"strings"
	"time"
)

// DefaultCleanThreshold is the retained-content fraction at or below which Pass 2 is skipped.
const DefaultCleanThreshold = 0.15

// DefaultMarkerField is the record field stamped with the id of the job that rewrote it.
const DefaultMarkerField = "recast_job"

// ContentPlaceholder is substituted with record text in PromptTemplate.
const ContentPlaceholder = "{{content}}"

// ScheduleKind selects a recurring trigger rule.
type ScheduleKind string

const (
	ScheduleInterval   ScheduleKind = "interval"
	ScheduleDaily      ScheduleKind = "daily"
	ScheduleTwiceDaily ScheduleKind = "twice_daily"
	ScheduleWeekly     ScheduleKind = "weekly"
)

// Instance is the operator-owned configuration of one augmentation sweep.
// The engine treats it as read-only except for LastRun.
type Instance struct {
	ID         string `json:"id" db:"id" yaml:"id"`
	Name       string `json:"name" db:"name" yaml:"name"`
	Collection string `json:"collection" db:"collection" yaml:"collection"`
	// Filter is a store-native boolean expression selecting eligible records.
	Filter      string `json:"filter" db:"filter" yaml:"filter"`
	PrimaryKey  string `json:"primary_key" db:"primary_key" yaml:"primary_key"`
	TextField   string `json:"text_field" db:"text_field" yaml:"text_field"`
	VectorField string `json:"vector_field,omitempty" db:"vector_field" yaml:"vector_field"`
	MarkerField string `json:"marker_field,omitempty" db:"marker_field" yaml:"marker_field"`

	PromptTemplate  string `json:"prompt_template" db:"prompt_template" yaml:"prompt_template"`
	GenerativeModel string `json:"generative_model" db:"generative_model" yaml:"generative_model"`
	EmbeddingModel  string `json:"embedding_model,omitempty" db:"embedding_model" yaml:"embedding_model"`

	// MaxContentSize caps the characters sent to the model. Zero disables the cap.
	MaxContentSize  int    `json:"max_content_size" db:"max_content_size" yaml:"max_content_size"`
	TwoPass         bool   `json:"two_pass" db:"two_pass" yaml:"two_pass"`
	RemoveLanguages string `json:"remove_languages" db:"remove_languages" yaml:"remove_languages"`
	// CleanThreshold is nil when unset. An explicit 0 skips Pass 2 only for fully removed text.
	CleanThreshold *float64 `json:"clean_threshold,omitempty" db:"clean_threshold" yaml:"clean_threshold"`

	Active                  bool         `json:"active" db:"active" yaml:"active"`
	ScheduleEnabled         bool         `json:"schedule_enabled" db:"schedule_enabled" yaml:"schedule_enabled"`
	ScheduleKind            ScheduleKind `json:"schedule_kind,omitempty" db:"schedule_kind" yaml:"schedule_kind"`
	ScheduleIntervalMinutes int          `json:"schedule_interval_minutes,omitempty" db:"schedule_interval_minutes" yaml:"schedule_interval_minutes"`
	// ScheduleTime and ScheduleSecondTime are "HH:MM" in the scheduler's location.
	ScheduleTime       string `json:"schedule_time,omitempty" db:"schedule_time" yaml:"schedule_time"`
	ScheduleSecondTime string `json:"schedule_second_time,omitempty" db:"schedule_second_time" yaml:"schedule_second_time"`
	// ScheduleWeekday is 0 (Sunday) through 6.
	ScheduleWeekday int `json:"schedule_weekday,omitempty" db:"schedule_weekday" yaml:"schedule_weekday"`

	LastRun   *time.Time `json:"last_run,omitempty" db:"last_run" yaml:"-"`
	CreatedAt time.Time  `json:"created_at" db:"created_at" yaml:"-"`
}

// RemovalSet parses RemoveLanguages into normalized language tags.
func (i *Instance) RemovalSet() []string {
	var tags []string
	seen := make(map[string]bool)
	for _, part := range strings.Split(i.RemoveLanguages, ",") {
		tag := strings.ToLower(strings.TrimSpace(part))
		if tag == "" || seen[tag] {
			continue
		}
		seen[tag] = true
		tags = append(tags, tag)
	}
	return tags
}

// Threshold returns CleanThreshold, falling back to the default when unset.
func (i *Instance) Threshold() float64 {
	if i.CleanThreshold == nil {
		return DefaultCleanThreshold
	}
	return *i.CleanThreshold
}

// Marker returns the done-marker field name.
func (i *Instance) Marker() string {
	if i.MarkerField == "" {
		return DefaultMarkerField
	}
	return i.MarkerField
}
