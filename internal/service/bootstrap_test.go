package service

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ragline/ingestd/internal/domain/model"
	"github.com/ragline/ingestd/internal/domain/trigger"
)

func newBootstrap(t *testing.T, h *jobsHarness, mutate func(*BootstrapOptions)) (*Bootstrap, string) {
	t.Helper()

	dir := t.TempDir()
	opts := BootstrapOptions{
		Jobs:         h.jobs,
		Hour:         2,
		Minute:       0,
		ArtifactsDir: dir,
		Clock:        h.clock,
	}
	if mutate != nil {
		mutate(&opts)
	}

	boot, err := NewBootstrap(opts)
	require.NoError(t, err)
	return boot, dir
}

func TestBootstrapSeedsDefaultJob(t *testing.T) {
	h := newJobsHarness(t, nil)
	boot, dir := newBootstrap(t, h, nil)

	created, err := boot.Run(context.Background())
	require.NoError(t, err)
	assert.True(t, created)

	job, err := h.jobs.GetJob(context.Background(), DefaultBootstrapJobID)
	require.NoError(t, err)
	assert.Equal(t, trigger.KindCron, job.Trigger.Kind)
	assert.Equal(t, "0 2 * * *", job.Trigger.Expression)
	assert.True(t, job.Coalesce, "the seeded job coalesces missed backlogs")

	marker, err := os.ReadFile(filepath.Join(dir, markerFileName))
	require.NoError(t, err)
	assert.Contains(t, string(marker), "completed_at=2025-03-01T12:00:00Z")
}

func TestBootstrapIsIdempotent(t *testing.T) {
	h := newJobsHarness(t, nil)
	boot, _ := newBootstrap(t, h, nil)

	created, err := boot.Run(context.Background())
	require.NoError(t, err)
	require.True(t, created)

	created, err = boot.Run(context.Background())
	require.NoError(t, err)
	assert.False(t, created, "second run finds the job and does nothing")

	jobs, err := h.jobs.ListJobs(context.Background())
	require.NoError(t, err)
	assert.Len(t, jobs, 1)
}

func TestBootstrapStoreBeatsStaleMarker(t *testing.T) {
	h := newJobsHarness(t, nil)
	boot, dir := newBootstrap(t, h, nil)

	// A leftover marker without the job means the store was wiped; the
	// store decides, so bootstrap reseeds.
	require.NoError(t, os.WriteFile(filepath.Join(dir, markerFileName), []byte("completed_at=old\n"), 0o600))

	created, err := boot.Run(context.Background())
	require.NoError(t, err)
	assert.True(t, created)

	_, err = h.jobs.GetJob(context.Background(), DefaultBootstrapJobID)
	assert.NoError(t, err)
}

func TestBootstrapCustomSchedule(t *testing.T) {
	h := newJobsHarness(t, nil)
	boot, _ := newBootstrap(t, h, func(o *BootstrapOptions) {
		o.JobID = "custom_seed"
		o.Hour = 5
		o.Minute = 30
		o.PipelineConfig = model.PipelineConfig{"collection_name": model.StringValue("docs")}
	})

	created, err := boot.Run(context.Background())
	require.NoError(t, err)
	require.True(t, created)

	job, err := h.jobs.GetJob(context.Background(), "custom_seed")
	require.NoError(t, err)
	assert.Equal(t, "30 5 * * *", job.Trigger.Expression)
	name, _ := job.PipelineConfig.GetString("collection_name")
	assert.Equal(t, "docs", name)
}

func TestBootstrapMarkerFailureIsNotFatal(t *testing.T) {
	h := newJobsHarness(t, nil)

	// Point the artifacts directory at a regular file so the marker write
	// cannot succeed.
	blocker := filepath.Join(t.TempDir(), "blocker")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o600))
	boot, _ := newBootstrap(t, h, func(o *BootstrapOptions) { o.ArtifactsDir = blocker })

	created, err := boot.Run(context.Background())
	require.NoError(t, err, "marker trouble never blocks seeding")
	assert.True(t, created)

	_, err = h.jobs.GetJob(context.Background(), DefaultBootstrapJobID)
	assert.NoError(t, err)
}

func TestNewBootstrapRequiresJobService(t *testing.T) {
	_, err := NewBootstrap(BootstrapOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "job service")
}
