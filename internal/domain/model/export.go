package model

import (
	"time"

	"github.com/ragline/ingestd/internal/domain/trigger"
)

// ConfigDocument is the export/import interchange format. Stats ride along
// for operator visibility; import only reads the jobs list.
type ConfigDocument struct {
	ExportedAt     time.Time      `json:"exported_at"`
	SchedulerStats SchedulerStats `json:"scheduler_stats"`
	Jobs           []ExportedJob  `json:"jobs"`
}

// ExportedJob is one job entry in a config document. Exactly one trigger
// field group is populated, selected by Type. The anchor and timezone
// fields keep re-imported triggers identical to the exported ones.
type ExportedJob struct {
	JobID string       `json:"job_id"`
	Name  string       `json:"name"`
	Type  trigger.Kind `json:"type"`

	// Cron fields. Exports always carry the full expression; imports also
	// accept the hour/minute/day_of_week shorthand.
	Hour           *int    `json:"hour,omitempty"`
	Minute         *int    `json:"minute,omitempty"`
	DayOfWeek      *string `json:"day_of_week,omitempty"`
	CronExpression *string `json:"cron_expression,omitempty"`
	Timezone       *string `json:"timezone,omitempty"`

	// Interval fields.
	Days    *int       `json:"days,omitempty"`
	Hours   *int       `json:"hours,omitempty"`
	Minutes *int       `json:"minutes,omitempty"`
	Seconds *int       `json:"seconds,omitempty"`
	Anchor  *time.Time `json:"anchor,omitempty"`

	// Date field.
	RunDate *time.Time `json:"run_date,omitempty"`

	Config PipelineConfig `json:"config"`

	Coalesce            *bool `json:"coalesce,omitempty"`
	MaxInstances        *int  `json:"max_instances,omitempty"`
	MisfireGraceSeconds *int  `json:"misfire_grace_seconds,omitempty"`
}
