package core

import "time"

// SchedulerConfig holds the scheduler loop knobs.
type SchedulerConfig struct {
	// AcquireLimit caps one acquisition batch regardless of free pool
	// slots. Zero means pool-driven only.
	AcquireLimit int `json:"acquire_limit"`
	// LeaseDuration is how long acquired jobs stay leased.
	LeaseDuration time.Duration `json:"lease_duration"`
	// StoreFailureLimit is how many consecutive loop-time store failures
	// the scheduler tolerates before stopping.
	StoreFailureLimit int `json:"store_failure_limit"`
	// MaxPlanBoundaries caps the overdue boundaries one firing plan
	// enumerates.
	MaxPlanBoundaries int `json:"max_plan_boundaries"`
}

// DefaultSchedulerConfig returns a SchedulerConfig with sensible defaults.
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		AcquireLimit:      0,
		LeaseDuration:     DefaultLeaseDuration,
		StoreFailureLimit: 10,
		MaxPlanBoundaries: 1000,
	}
}

// RunnerConfig holds the pipeline child-process knobs.
type RunnerConfig struct {
	// PipelineBin is the pipeline executable name or path.
	PipelineBin string `json:"pipeline_bin"`
	// Timeout is the per-firing deadline.
	Timeout time.Duration `json:"timeout"`
	// OutputLimitBytes bounds each captured stream; overflow is dropped
	// and flagged.
	OutputLimitBytes int `json:"output_limit_bytes"`
	// ArtifactsDir receives execution record files.
	ArtifactsDir string `json:"artifacts_dir"`
}

// DefaultRunnerConfig returns a RunnerConfig with sensible defaults.
func DefaultRunnerConfig() RunnerConfig {
	return RunnerConfig{
		PipelineBin:      "pipeline_exec",
		Timeout:          3600 * time.Second,
		OutputLimitBytes: 1 << 20,
		ArtifactsDir:     "./data/artifacts",
	}
}

// PoolConfig holds worker pool sizing.
type PoolConfig struct {
	// MaxWorkers is the number of concurrent firings.
	MaxWorkers int `json:"max_workers"`
	// Backlog is the queued-task allowance beyond running workers.
	Backlog int `json:"backlog"`
}

// DefaultPoolConfig returns a PoolConfig with sensible defaults.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MaxWorkers: 20,
		Backlog:    0,
	}
}
