package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/ragline/ingestd/internal/core"
	"github.com/ragline/ingestd/internal/domain/model"
	apperrors "github.com/ragline/ingestd/internal/errors"
)

// markerFileName is the advisory first-run marker written into the
// artifacts directory once bootstrap has run.
const markerFileName = ".first_run_complete"

// DefaultBootstrapJobID is the id of the job bootstrap seeds.
const DefaultBootstrapJobID = "daily_ingest"

// BootstrapOptions groups dependencies for Bootstrap.
type BootstrapOptions struct {
	Jobs *JobService // Required: creates the seeded job

	// JobID of the seeded job; defaults to DefaultBootstrapJobID.
	JobID string
	// Hour and Minute place the daily firing.
	Hour   int
	Minute int
	// PipelineConfig attached to the seeded job.
	PipelineConfig model.PipelineConfig
	// ArtifactsDir holds the marker file; defaults to the runner default.
	ArtifactsDir string
	Clock        core.TimeProvider
	Logger       *slog.Logger
}

// Bootstrap seeds the default daily ingest job on first run. The store is
// the source of truth: a present job means bootstrap already happened, no
// matter what the marker file says. The marker only tells operators poking
// at the data directory that setup completed.
type Bootstrap struct {
	jobs         *JobService
	jobID        string
	hour         int
	minute       int
	config       model.PipelineConfig
	artifactsDir string
	clock        core.TimeProvider
	logger       *slog.Logger
}

// NewBootstrap constructs a Bootstrap.
func NewBootstrap(opts BootstrapOptions) (*Bootstrap, error) {
	if opts.Jobs == nil {
		return nil, errors.New("bootstrap: job service is required")
	}

	jobID := opts.JobID
	if jobID == "" {
		jobID = DefaultBootstrapJobID
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

	return &Bootstrap{
		jobs:         opts.Jobs,
		jobID:        jobID,
		hour:         opts.Hour,
		minute:       opts.Minute,
		config:       opts.PipelineConfig.Clone(),
		artifactsDir: artifactsDir,
		clock:        clock,
		logger:       logger,
	}, nil
}

// Run seeds the default job when it is absent and reports whether a job was
// created. Running twice is a no-op; losing a seeding race to another node
// is treated the same as the job already existing.
func (b *Bootstrap) Run(ctx context.Context) (bool, error) {
	_, err := b.jobs.GetJob(ctx, b.jobID)
	switch {
	case err == nil:
		b.logger.DebugContext(ctx, "bootstrap job already present", "job_id", b.jobID)
		b.ensureMarker(ctx)
		return false, nil
	case !apperrors.IsNotFound(err):
		return false, fmt.Errorf("check bootstrap job: %w", err)
	}

	if b.markerExists() {
		b.logger.WarnContext(ctx, "bootstrap marker present but default job missing, reseeding",
			"job_id", b.jobID)
	}

	coalesce := true
	job, err := b.jobs.CreateCronJob(ctx, &model.CreateCronJobRequest{
		ID:       b.jobID,
		Name:     "Daily ingest",
		Hour:     &b.hour,
		Minute:   &b.minute,
		Coalesce: &coalesce,
		Config:   b.config,
	})
	if err != nil {
		if apperrors.IsConflict(err) {
			b.logger.InfoContext(ctx, "bootstrap lost seeding race, job already created", "job_id", b.jobID)
			b.ensureMarker(ctx)
			return false, nil
		}
		return false, fmt.Errorf("seed bootstrap job: %w", err)
	}
	b.ensureMarker(ctx)

	b.logger.InfoContext(ctx, "bootstrap seeded default job",
		"job_id", job.ID,
		"next_fire_time", job.NextFireTime,
	)
	return true, nil
}

func (b *Bootstrap) markerPath() string {
	return filepath.Join(b.artifactsDir, markerFileName)
}

func (b *Bootstrap) markerExists() bool {
	_, err := os.Stat(b.markerPath())
	return err == nil
}

// ensureMarker writes the marker file if missing. Best-effort: a failure is
// logged and ignored, the store already carries the authoritative state.
func (b *Bootstrap) ensureMarker(ctx context.Context) {
	if b.markerExists() {
		return
	}
	if err := os.MkdirAll(b.artifactsDir, 0o750); err != nil {
		b.logger.WarnContext(ctx, "bootstrap marker directory not writable", "error", err)
		return
	}
	content := fmt.Sprintf("completed_at=%s\n", b.clock.Now().UTC().Format(time.RFC3339))
	if err := os.WriteFile(b.markerPath(), []byte(content), 0o600); err != nil {
		b.logger.WarnContext(ctx, "bootstrap marker write failed", "path", b.markerPath(), "error", err)
	}
}
