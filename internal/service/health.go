package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/ragline/ingestd/internal/core"
	"github.com/ragline/ingestd/internal/domain/model"
)

// StateReporter exposes the scheduler lifecycle phase to health checks.
type StateReporter interface {
	State() State
}

// failureRateThreshold is the failed/(executed+failed) ratio above which the
// service reports unhealthy.
const failureRateThreshold = 0.5

// HealthService evaluates the liveness of the scheduling stack on demand:
// scheduler state, store reachability, artifacts directory writability,
// failure rate, and event loss.
type HealthService struct {
	store        core.JobStore
	stats        *StatsAggregator
	scheduler    StateReporter
	artifactsDir string
	clock        core.TimeProvider
	logger       *slog.Logger
}

// HealthOptions holds the dependencies for creating a HealthService.
type HealthOptions struct {
	Store     core.JobStore
	Stats     *StatsAggregator
	Scheduler StateReporter

	// Optional; defaulted when zero.
	ArtifactsDir string
	Clock        core.TimeProvider
	Logger       *slog.Logger
}

// NewHealthService creates a HealthService with the given options.
func NewHealthService(opts HealthOptions) (*HealthService, error) {
	if opts.Store == nil {
		return nil, errors.New("health: job store is required")
	}
	if opts.Stats == nil {
		return nil, errors.New("health: stats aggregator is required")
	}
	if opts.Scheduler == nil {
		return nil, errors.New("health: scheduler state reporter is required")
	}

	artifactsDir := opts.ArtifactsDir
	if artifactsDir == "" {
		artifactsDir = core.DefaultRunnerConfig().ArtifactsDir
	}
	clock := opts.Clock
	if clock == nil {
		clock = &core.RealTimeProvider{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &HealthService{
		store:        opts.Store,
		stats:        opts.Stats,
		scheduler:    opts.Scheduler,
		artifactsDir: artifactsDir,
		clock:        clock,
		logger:       logger,
	}, nil
}

// Check runs every probe and returns the structured verdict. It never
// errors; a failing probe shows up as a failed check instead.
func (h *HealthService) Check(ctx context.Context) model.HealthReport {
	stats := h.stats.Snapshot()
	state := h.scheduler.State()

	report := model.HealthReport{
		Status:           model.HealthHealthy,
		SchedulerRunning: state == StateRunning,
		Stats:            stats,
		CheckedAt:        h.clock.Now().UTC(),
	}

	addCheck := func(check model.HealthCheck, severity model.HealthStatus, recommendation string) {
		report.Checks = append(report.Checks, check)
		if check.OK {
			return
		}
		report.Status = worseStatus(report.Status, severity)
		if recommendation != "" {
			report.Recommendations = append(report.Recommendations, recommendation)
		}
	}

	schedCheck := model.HealthCheck{Name: "scheduler", OK: state == StateRunning}
	if !schedCheck.OK {
		schedCheck.Detail = fmt.Sprintf("scheduler is %s", state)
	}
	addCheck(schedCheck, model.HealthWarning,
		"Restart the service to resume scheduling")

	storeCheck := model.HealthCheck{Name: "store", OK: true}
	if err := h.store.Ping(ctx); err != nil {
		storeCheck.OK = false
		storeCheck.Detail = err.Error()
	} else if jobs, err := h.store.List(ctx); err != nil {
		storeCheck.OK = false
		storeCheck.Detail = err.Error()
	} else {
		report.TotalJobs = len(jobs)
	}
	addCheck(storeCheck, model.HealthUnhealthy,
		"Verify the job store backend is reachable and its schema is migrated")

	artifactsCheck := model.HealthCheck{Name: "artifacts_dir", OK: true}
	if err := h.probeArtifactsDir(); err != nil {
		artifactsCheck.OK = false
		artifactsCheck.Detail = err.Error()
	}
	addCheck(artifactsCheck, model.HealthWarning,
		fmt.Sprintf("Ensure the artifacts directory %s exists and is writable", h.artifactsDir))

	rateCheck := model.HealthCheck{Name: "failure_rate", OK: true}
	if stats.Outcomes() >= 1 && stats.FailureRate() > failureRateThreshold {
		rateCheck.OK = false
		rateCheck.Detail = "High job failure rate detected"
	}
	addCheck(rateCheck, model.HealthUnhealthy,
		"Inspect recent job reports in the artifacts directory for failing pipelines")

	droppedCheck := model.HealthCheck{Name: "dropped_events", OK: stats.DroppedEvents == 0}
	if !droppedCheck.OK {
		droppedCheck.Detail = fmt.Sprintf("%d events dropped from subscriber buffers", stats.DroppedEvents)
	}
	addCheck(droppedCheck, model.HealthWarning,
		"Drain event subscribers faster or raise the subscriber buffer size")

	if report.Status != model.HealthHealthy {
		h.logger.WarnContext(ctx, "health check degraded",
			"status", report.Status, "recommendations", len(report.Recommendations))
	}
	return report
}

// probeArtifactsDir verifies the report directory accepts writes.
func (h *HealthService) probeArtifactsDir() error {
	f, err := os.CreateTemp(h.artifactsDir, ".healthprobe-*")
	if err != nil {
		return err
	}
	name := f.Name()
	if err := f.Close(); err != nil {
		_ = os.Remove(name)
		return err
	}
	return os.Remove(name)
}

// worseStatus keeps the more severe of two verdicts.
func worseStatus(current, candidate model.HealthStatus) model.HealthStatus {
	if current == model.HealthUnhealthy || candidate == model.HealthUnhealthy {
		return model.HealthUnhealthy
	}
	if current == model.HealthWarning || candidate == model.HealthWarning {
		return model.HealthWarning
	}
	return model.HealthHealthy
}
