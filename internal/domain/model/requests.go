package model

import (
	"fmt"
	"time"

	"github.com/ragline/ingestd/internal/domain/trigger"
	apperrors "github.com/ragline/ingestd/internal/errors"
)

// CreateCronJobRequest creates a job on a cron schedule. Callers supply
// either a full five-field expression or the hour/minute/day-of-week
// shorthand, not both.
type CreateCronJobRequest struct {
	ID                  string         `json:"id"`
	Name                string         `json:"name,omitempty"`
	Hour                *int           `json:"hour,omitempty"`
	Minute              *int           `json:"minute,omitempty"`
	DayOfWeek           string         `json:"day_of_week,omitempty"`
	Expression          string         `json:"cron_expression,omitempty"`
	Timezone            string         `json:"timezone,omitempty"`
	Config              PipelineConfig `json:"config,omitempty"`
	Coalesce            *bool          `json:"coalesce,omitempty"`
	MaxInstances        *int           `json:"max_instances,omitempty"`
	MisfireGraceSeconds *int           `json:"misfire_grace_seconds,omitempty"`
}

// Validate validates the CreateCronJobRequest fields.
func (r *CreateCronJobRequest) Validate() error {
	if !ValidJobID(r.ID) {
		return apperrors.ValidationField("id", "job id must be non-empty and match [A-Za-z0-9_.-]+")
	}
	shorthand := r.Hour != nil || r.Minute != nil || r.DayOfWeek != ""
	if r.Expression != "" && shorthand {
		return apperrors.ValidationField("cron_expression", "cron_expression and hour/minute/day_of_week are mutually exclusive")
	}
	if r.Expression == "" && !shorthand {
		return apperrors.ValidationField("cron_expression", "a cron expression or hour/minute is required")
	}
	if r.Hour != nil && (*r.Hour < 0 || *r.Hour > 23) {
		return apperrors.ValidationField("hour", "hour must be between 0 and 23")
	}
	if r.Minute != nil && (*r.Minute < 0 || *r.Minute > 59) {
		return apperrors.ValidationField("minute", "minute must be between 0 and 59")
	}
	if err := validateKnobs(r.MaxInstances, r.MisfireGraceSeconds); err != nil {
		return err
	}
	return nil
}

// CronExpression returns the five-field expression, building one from the
// shorthand fields when no explicit expression was given. An absent minute
// means the top of the hour; an absent hour means every hour.
func (r *CreateCronJobRequest) CronExpression() string {
	if r.Expression != "" {
		return r.Expression
	}
	minute := "0"
	if r.Minute != nil {
		minute = fmt.Sprintf("%d", *r.Minute)
	}
	hour := "*"
	if r.Hour != nil {
		hour = fmt.Sprintf("%d", *r.Hour)
	}
	dow := "*"
	if r.DayOfWeek != "" {
		dow = r.DayOfWeek
	}
	return fmt.Sprintf("%s %s * * %s", minute, hour, dow)
}

// CreateIntervalJobRequest creates a job firing every fixed period. The
// period is the sum of the duration components and must be positive.
type CreateIntervalJobRequest struct {
	ID                  string         `json:"id"`
	Name                string         `json:"name,omitempty"`
	Days                int            `json:"days,omitempty"`
	Hours               int            `json:"hours,omitempty"`
	Minutes             int            `json:"minutes,omitempty"`
	Seconds             int            `json:"seconds,omitempty"`
	Anchor              *time.Time     `json:"anchor,omitempty"`
	Config              PipelineConfig `json:"config,omitempty"`
	Coalesce            *bool          `json:"coalesce,omitempty"`
	MaxInstances        *int           `json:"max_instances,omitempty"`
	MisfireGraceSeconds *int           `json:"misfire_grace_seconds,omitempty"`
}

// Period returns the combined duration of all components.
func (r *CreateIntervalJobRequest) Period() time.Duration {
	return time.Duration(r.Days)*24*time.Hour +
		time.Duration(r.Hours)*time.Hour +
		time.Duration(r.Minutes)*time.Minute +
		time.Duration(r.Seconds)*time.Second
}

// Validate validates the CreateIntervalJobRequest fields.
func (r *CreateIntervalJobRequest) Validate() error {
	if !ValidJobID(r.ID) {
		return apperrors.ValidationField("id", "job id must be non-empty and match [A-Za-z0-9_.-]+")
	}
	if r.Days < 0 || r.Hours < 0 || r.Minutes < 0 || r.Seconds < 0 {
		return apperrors.ValidationField("interval", "interval components must be >= 0")
	}
	if r.Period() <= 0 {
		return apperrors.ValidationField("interval", "interval period must be positive")
	}
	if err := validateKnobs(r.MaxInstances, r.MisfireGraceSeconds); err != nil {
		return err
	}
	return nil
}

// CreateOneTimeJobRequest creates a job firing exactly once. The run date
// must still be in the future at creation time; the service checks that
// against its clock.
type CreateOneTimeJobRequest struct {
	ID                  string         `json:"id"`
	Name                string         `json:"name,omitempty"`
	RunDate             time.Time      `json:"run_date"`
	Config              PipelineConfig `json:"config,omitempty"`
	Coalesce            *bool          `json:"coalesce,omitempty"`
	MaxInstances        *int           `json:"max_instances,omitempty"`
	MisfireGraceSeconds *int           `json:"misfire_grace_seconds,omitempty"`
}

// Validate validates the CreateOneTimeJobRequest fields.
func (r *CreateOneTimeJobRequest) Validate() error {
	if !ValidJobID(r.ID) {
		return apperrors.ValidationField("id", "job id must be non-empty and match [A-Za-z0-9_.-]+")
	}
	if r.RunDate.IsZero() {
		return apperrors.ValidationField("run_date", "run date is required")
	}
	if err := validateKnobs(r.MaxInstances, r.MisfireGraceSeconds); err != nil {
		return err
	}
	return nil
}

// UpdateJobRequest is a patch; nil fields keep their current value. The
// update is applied as an atomic replace and re-derives the next fire time.
type UpdateJobRequest struct {
	Name                *string         `json:"name,omitempty"`
	Trigger             *trigger.Spec   `json:"trigger,omitempty"`
	Config              *PipelineConfig `json:"config,omitempty"`
	Coalesce            *bool           `json:"coalesce,omitempty"`
	MaxInstances        *int            `json:"max_instances,omitempty"`
	MisfireGraceSeconds *int            `json:"misfire_grace_seconds,omitempty"`
}

// Validate validates the UpdateJobRequest fields.
func (r *UpdateJobRequest) Validate() error {
	if r.Name == nil && r.Trigger == nil && r.Config == nil &&
		r.Coalesce == nil && r.MaxInstances == nil && r.MisfireGraceSeconds == nil {
		return apperrors.Validation("update patch has no fields")
	}
	if r.Trigger != nil && !r.Trigger.Kind.Valid() {
		return apperrors.ValidationField("trigger", "unknown trigger kind")
	}
	if err := validateKnobs(r.MaxInstances, r.MisfireGraceSeconds); err != nil {
		return err
	}
	return nil
}

func validateKnobs(maxInstances, misfireGraceSeconds *int) error {
	if maxInstances != nil && *maxInstances < 1 {
		return apperrors.ValidationField("max_instances", "max instances must be >= 1")
	}
	if misfireGraceSeconds != nil && *misfireGraceSeconds < 0 {
		return apperrors.ValidationField("misfire_grace_seconds", "misfire grace must be >= 0")
	}
	return nil
}
