package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ragline/ingestd/internal/domain/model"
)

// ServiceMode represents the available service modes.
type ServiceMode string

const (
	// ServiceModeScheduler runs the scheduler loop, worker pool, and
	// background sweepers.
	ServiceModeScheduler ServiceMode = "scheduler"
	// ServiceModeHTTP runs the HTTP API server.
	ServiceModeHTTP ServiceMode = "http"
)

// ValidServiceModes returns all valid service mode names.
func ValidServiceModes() []ServiceMode {
	return []ServiceMode{
		ServiceModeScheduler,
		ServiceModeHTTP,
	}
}

// ParseServices parses a comma-delimited string of service names and returns the enabled services.
// It validates that all service names are valid and returns an error if any are invalid.
func ParseServices(servicesStr string) (map[ServiceMode]bool, error) {
	services := make(map[ServiceMode]bool)

	if servicesStr == "" {
		return services, errors.New("at least one service must be specified")
	}

	parts := strings.Split(servicesStr, ",")
	for _, part := range parts {
		serviceName := strings.TrimSpace(part)
		if serviceName == "" {
			continue
		}

		mode := ServiceMode(serviceName)
		switch mode {
		case ServiceModeScheduler, ServiceModeHTTP:
			services[mode] = true
		default:
			return nil, fmt.Errorf("invalid service name: %q (valid options: scheduler, http)", serviceName)
		}
	}

	if len(services) == 0 {
		return nil, errors.New("at least one valid service must be specified")
	}

	return services, nil
}

// SchedulerConfig contains scheduler service configuration.
type SchedulerConfig struct {
	// Timezone is the default timezone for cron jobs created without one.
	Timezone string `env:"SCHEDULER_TIMEZONE" envDefault:"UTC"`

	// MaxWorkers is the number of firings that may run concurrently.
	MaxWorkers int `env:"SCHEDULER_MAX_WORKERS" envDefault:"20"`

	// Backlog is the queued-firing allowance beyond running workers.
	Backlog int `env:"SCHEDULER_BACKLOG" envDefault:"0"`

	// AcquireLimit caps one acquisition batch regardless of free pool
	// slots. Zero means pool-driven only.
	AcquireLimit int `env:"SCHEDULER_ACQUIRE_LIMIT" envDefault:"0"`

	// StoreFailureLimit is how many consecutive loop-time store failures
	// the scheduler tolerates before stopping.
	StoreFailureLimit int `env:"SCHEDULER_STORE_FAILURE_LIMIT" envDefault:"10"`
}

// Sanitize applies guardrails to scheduler configuration values.
func (s *SchedulerConfig) Sanitize() []string {
	var warnings []string
	if s.Timezone == "" {
		s.Timezone = "UTC"
	} else if _, err := time.LoadLocation(s.Timezone); err != nil {
		warnings = append(warnings, fmt.Sprintf("scheduler timezone %q is unknown, using UTC", s.Timezone))
		s.Timezone = "UTC"
	}
	if s.MaxWorkers < 1 {
		warnings = append(warnings, fmt.Sprintf("scheduler max workers %d is invalid, using 1", s.MaxWorkers))
		s.MaxWorkers = 1
	}
	if s.Backlog < 0 {
		warnings = append(warnings, fmt.Sprintf("scheduler backlog %d is invalid, using 0", s.Backlog))
		s.Backlog = 0
	}
	if s.AcquireLimit < 0 {
		warnings = append(warnings, fmt.Sprintf("scheduler acquire limit %d is invalid, using 0", s.AcquireLimit))
		s.AcquireLimit = 0
	}
	if s.StoreFailureLimit < 1 {
		warnings = append(warnings, fmt.Sprintf("scheduler store failure limit %d is invalid, using 10", s.StoreFailureLimit))
		s.StoreFailureLimit = 10
	}
	return warnings
}

// RunnerConfig contains pipeline runner configuration.
type RunnerConfig struct {
	// PipelineBin is the pipeline executable name or path.
	PipelineBin string `env:"RUNNER_PIPELINE_BIN" envDefault:"pipeline_exec"`

	// TimeoutSeconds is the per-firing deadline.
	TimeoutSeconds int `env:"RUNNER_TIMEOUT_SECONDS" envDefault:"3600"`

	// OutputLimitBytes bounds each captured child stream.
	OutputLimitBytes int `env:"RUNNER_OUTPUT_LIMIT_BYTES" envDefault:"1048576"`

	// ArtifactsDir receives execution record files and the first-run marker.
	ArtifactsDir string `env:"ARTIFACTS_DIR" envDefault:"./data/artifacts"`
}

// Timeout returns the per-firing deadline as a duration.
func (r *RunnerConfig) Timeout() time.Duration {
	return time.Duration(r.TimeoutSeconds) * time.Second
}

// Sanitize applies guardrails to runner configuration values.
func (r *RunnerConfig) Sanitize() []string {
	var warnings []string
	if r.PipelineBin = strings.TrimSpace(r.PipelineBin); r.PipelineBin == "" {
		warnings = append(warnings, "runner pipeline binary is empty, using pipeline_exec")
		r.PipelineBin = "pipeline_exec"
	}
	if r.TimeoutSeconds < 1 {
		warnings = append(warnings, fmt.Sprintf("runner timeout of %ds is invalid, using 3600s", r.TimeoutSeconds))
		r.TimeoutSeconds = 3600
	}
	if r.OutputLimitBytes < 1 {
		warnings = append(warnings, fmt.Sprintf("runner output limit of %d bytes is invalid, using 1 MiB", r.OutputLimitBytes))
		r.OutputLimitBytes = 1 << 20
	}
	if r.ArtifactsDir = strings.TrimSpace(r.ArtifactsDir); r.ArtifactsDir == "" {
		warnings = append(warnings, "artifacts dir is empty, using ./data/artifacts")
		r.ArtifactsDir = "./data/artifacts"
	}
	return warnings
}

// BootstrapConfig contains first-run bootstrap configuration.
type BootstrapConfig struct {
	// Enabled controls whether the default job is seeded on startup.
	Enabled bool `env:"BOOTSTRAP_ENABLED" envDefault:"true"`

	// JobID is the id of the seeded default job.
	JobID string `env:"BOOTSTRAP_JOB_ID" envDefault:"daily_ingest"`

	// Hour and Minute place the seeded daily cron schedule.
	Hour   int `env:"BOOTSTRAP_HOUR"   envDefault:"2"`
	Minute int `env:"BOOTSTRAP_MINUTE" envDefault:"0"`
}

// Sanitize applies guardrails to bootstrap configuration values.
func (b *BootstrapConfig) Sanitize() []string {
	var warnings []string
	if !model.ValidJobID(b.JobID) {
		warnings = append(warnings, fmt.Sprintf("bootstrap job id %q is invalid, using daily_ingest", b.JobID))
		b.JobID = "daily_ingest"
	}
	if b.Hour < 0 || b.Hour > 23 {
		warnings = append(warnings, fmt.Sprintf("bootstrap hour %d is out of range, using 2", b.Hour))
		b.Hour = 2
	}
	if b.Minute < 0 || b.Minute > 59 {
		warnings = append(warnings, fmt.Sprintf("bootstrap minute %d is out of range, using 0", b.Minute))
		b.Minute = 0
	}
	return warnings
}

// RetentionConfig contains artifact retention sweeper configuration.
type RetentionConfig struct {
	// Interval is the sweep cadence.
	Interval time.Duration `env:"RETENTION_INTERVAL" envDefault:"1h"`

	// MaxAge is how old a job report may grow before it is deleted.
	MaxAge time.Duration `env:"RETENTION_MAX_AGE" envDefault:"720h"` // 30 days
}

// Sanitize applies guardrails to retention configuration values.
func (r *RetentionConfig) Sanitize() []string {
	var warnings []string

	// Enforce minimum intervals to prevent excessive filesystem churn
	if r.Interval < 1*time.Minute {
		warnings = append(warnings, fmt.Sprintf("retention interval %s is too short, using 1m", r.Interval))
		r.Interval = 1 * time.Minute
	}
	if r.MaxAge < 1*time.Hour {
		warnings = append(warnings, fmt.Sprintf("retention max age %s is too short, using 1h", r.MaxAge))
		r.MaxAge = 1 * time.Hour
	}
	return warnings
}
