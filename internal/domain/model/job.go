// Package model defines the core data types of the ingestd scheduler: job
// records, pipeline configuration values, execution records, statistics,
// health reports, and the export document.
package model

import (
	"regexp"
	"time"

	"github.com/ragline/ingestd/internal/domain/trigger"
	apperrors "github.com/ragline/ingestd/internal/errors"
)

const (
	// DefaultMaxInstances bounds concurrent firings of one job.
	DefaultMaxInstances = 3
	// DefaultMisfireGraceSeconds is how late a firing may be before it
	// counts as missed.
	DefaultMisfireGraceSeconds = 3600
)

var jobIDPattern = regexp.MustCompile(`^[A-Za-z0-9_.\-]+$`)

// ValidJobID reports whether id is non-empty and matches the allowed
// character set.
func ValidJobID(id string) bool {
	return jobIDPattern.MatchString(id)
}

// Job is one persistent schedule entry. The store owns the durable record;
// the scheduler only advances NextFireTime/LastFireTime through the store.
type Job struct {
	ID                  string         `json:"id"`
	Name                string         `json:"name"`
	Trigger             trigger.Spec   `json:"trigger"`
	PipelineConfig      PipelineConfig `json:"pipeline_config,omitempty"`
	NextFireTime        *time.Time     `json:"next_fire_time,omitempty"`
	LastFireTime        *time.Time     `json:"last_fire_time,omitempty"`
	Coalesce            bool           `json:"coalesce"`
	MaxInstances        int            `json:"max_instances"`
	MisfireGraceSeconds int            `json:"misfire_grace_seconds"`
	CreatedAt           time.Time      `json:"created_at"`
	UpdatedAt           time.Time      `json:"updated_at"`
}

// Validate checks the structural invariants of a job record.
func (j *Job) Validate() error {
	if !ValidJobID(j.ID) {
		return apperrors.ValidationField("id", "job id must be non-empty and match [A-Za-z0-9_.-]+")
	}
	if !j.Trigger.Kind.Valid() {
		return apperrors.ValidationField("trigger", "unknown trigger kind")
	}
	if j.MaxInstances < 1 {
		return apperrors.ValidationField("max_instances", "max instances must be >= 1")
	}
	if j.MisfireGraceSeconds < 0 {
		return apperrors.ValidationField("misfire_grace_seconds", "misfire grace must be >= 0")
	}
	if j.NextFireTime != nil && j.LastFireTime != nil && j.NextFireTime.Before(*j.LastFireTime) {
		return apperrors.ValidationField("next_fire_time", "next fire time precedes last fire time")
	}
	return nil
}

// MisfireGrace returns the grace period as a duration.
func (j *Job) MisfireGrace() time.Duration {
	return time.Duration(j.MisfireGraceSeconds) * time.Second
}

// Clone returns a deep copy; mutations of the copy never alias the original.
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	c := *j
	c.PipelineConfig = j.PipelineConfig.Clone()
	if j.NextFireTime != nil {
		t := *j.NextFireTime
		c.NextFireTime = &t
	}
	if j.LastFireTime != nil {
		t := *j.LastFireTime
		c.LastFireTime = &t
	}
	if j.Trigger.Anchor != nil {
		t := *j.Trigger.Anchor
		c.Trigger.Anchor = &t
	}
	if j.Trigger.RunDate != nil {
		t := *j.Trigger.RunDate
		c.Trigger.RunDate = &t
	}
	return &c
}
