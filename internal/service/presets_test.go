package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ragline/ingestd/internal/domain/model"
	"github.com/ragline/ingestd/internal/domain/trigger"
	apperrors "github.com/ragline/ingestd/internal/errors"
)

func TestPresetCatalogueLoads(t *testing.T) {
	assert.Equal(t, []string{
		"daily_2am",
		"every_30_minutes",
		"hourly",
		"twice_daily",
		"weekly_sunday_1am",
	}, PresetNames())
}

func TestCreateFromPresetDaily(t *testing.T) {
	h := newJobsHarness(t, nil)
	h.drainWake()

	jobs, err := h.jobs.CreateFromPreset(context.Background(), "daily_2am", "nightly", nil)
	require.NoError(t, err)
	require.Len(t, jobs, 1)

	job := jobs[0]
	assert.Equal(t, "nightly", job.ID, "single-schedule presets keep the id as-is")
	assert.Equal(t, trigger.KindCron, job.Trigger.Kind)
	assert.Equal(t, "0 2 * * *", job.Trigger.Expression)
	assert.True(t, job.Coalesce, "preset jobs coalesce by default")
	require.NotNil(t, job.NextFireTime)
	assert.True(t, job.NextFireTime.Equal(time.Date(2025, 3, 2, 2, 0, 0, 0, time.UTC)))

	h.requireSignaled(t)
}

func TestCreateFromPresetWeekly(t *testing.T) {
	h := newJobsHarness(t, nil)

	jobs, err := h.jobs.CreateFromPreset(context.Background(), "weekly_sunday_1am", "weekly", nil)
	require.NoError(t, err)
	require.Len(t, jobs, 1)

	// Base is Saturday 2025-03-01 12:00 UTC; the next Sunday 01:00 is the 2nd.
	require.NotNil(t, jobs[0].NextFireTime)
	assert.True(t, jobs[0].NextFireTime.Equal(time.Date(2025, 3, 2, 1, 0, 0, 0, time.UTC)))
}

func TestCreateFromPresetInterval(t *testing.T) {
	h := newJobsHarness(t, nil)

	hourly, err := h.jobs.CreateFromPreset(context.Background(), "hourly", "drip", nil)
	require.NoError(t, err)
	require.Len(t, hourly, 1)
	assert.Equal(t, trigger.KindInterval, hourly[0].Trigger.Kind)
	assert.Equal(t, int64(3600), hourly[0].Trigger.PeriodSeconds)
	assert.True(t, hourly[0].NextFireTime.Equal(schedTestBase.Add(time.Hour)))

	half, err := h.jobs.CreateFromPreset(context.Background(), "every_30_minutes", "drip30", nil)
	require.NoError(t, err)
	require.Len(t, half, 1)
	assert.Equal(t, int64(1800), half[0].Trigger.PeriodSeconds)
}

func TestCreateFromPresetTwiceDailyDerivesIDs(t *testing.T) {
	h := newJobsHarness(t, nil)

	jobs, err := h.jobs.CreateFromPreset(context.Background(), "twice_daily", "ingest", nil)
	require.NoError(t, err)
	require.Len(t, jobs, 2)

	assert.Equal(t, "ingest_1", jobs[0].ID)
	assert.Equal(t, "0 2 * * *", jobs[0].Trigger.Expression)
	assert.Equal(t, "ingest_2", jobs[1].ID)
	assert.Equal(t, "0 14 * * *", jobs[1].Trigger.Expression)

	listed, err := h.jobs.ListJobs(context.Background())
	require.NoError(t, err)
	assert.Len(t, listed, 2)
}

func TestCreateFromPresetUnknownName(t *testing.T) {
	h := newJobsHarness(t, nil)

	_, err := h.jobs.CreateFromPreset(context.Background(), "yearly", "x", nil)
	require.True(t, apperrors.IsNotFound(err), "want not found, got %v", err)
	assert.Contains(t, err.Error(), "available:")
}

func TestCreateFromPresetChecksDerivedIDsUpFront(t *testing.T) {
	h := newJobsHarness(t, nil)
	_, err := h.jobs.CreateIntervalJob(context.Background(), &model.CreateIntervalJobRequest{ID: "ingest_2", Hours: 1})
	require.NoError(t, err)

	_, err = h.jobs.CreateFromPreset(context.Background(), "twice_daily", "ingest", nil)
	require.True(t, apperrors.IsConflict(err), "want conflict, got %v", err)

	// The clash on the second derived id must block the first as well.
	_, err = h.jobs.GetJob(context.Background(), "ingest_1")
	assert.True(t, apperrors.IsNotFound(err), "no partial preset expansion")
}

func TestCreateFromPresetSharesPipelineConfig(t *testing.T) {
	h := newJobsHarness(t, nil)
	config := model.PipelineConfig{
		"collection_name": model.StringValue("blog"),
		"chunk_size":      model.IntValue(512),
	}

	jobs, err := h.jobs.CreateFromPreset(context.Background(), "twice_daily", "blog", config)
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	for _, job := range jobs {
		name, _ := job.PipelineConfig.GetString("collection_name")
		assert.Equal(t, "blog", name)
	}
}

func TestCreateFromPresetRejectsBadID(t *testing.T) {
	h := newJobsHarness(t, nil)

	_, err := h.jobs.CreateFromPreset(context.Background(), "daily_2am", "bad id", nil)
	assert.True(t, apperrors.IsValidation(err), "want validation, got %v", err)
}
