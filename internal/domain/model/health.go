package model

import "time"

// HealthStatus is the overall verdict of a health evaluation.
type HealthStatus string

const (
	// HealthHealthy means all checks passed.
	HealthHealthy HealthStatus = "healthy"
	// HealthWarning means a non-critical check failed.
	HealthWarning HealthStatus = "warning"
	// HealthUnhealthy means a critical check failed.
	HealthUnhealthy HealthStatus = "unhealthy"
)

// Valid returns true if the HealthStatus is a known verdict.
func (s HealthStatus) Valid() bool {
	return s == HealthHealthy || s == HealthWarning || s == HealthUnhealthy
}

// HealthCheck is one named probe result inside a report.
type HealthCheck struct {
	Name   string `json:"name"`
	OK     bool   `json:"ok"`
	Detail string `json:"detail,omitempty"`
}

// HealthReport is the structured verdict returned by the health evaluator.
type HealthReport struct {
	Status           HealthStatus   `json:"status"`
	SchedulerRunning bool           `json:"scheduler_running"`
	TotalJobs        int            `json:"total_jobs"`
	Stats            SchedulerStats `json:"stats"`
	Checks           []HealthCheck  `json:"checks"`
	Recommendations  []string       `json:"recommendations,omitempty"`
	CheckedAt        time.Time      `json:"checked_at"`
}
