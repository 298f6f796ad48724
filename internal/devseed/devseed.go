// Package devseed creates demonstration jobs for local development so a
// fresh environment has something on the schedule immediately.
package devseed

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ragline/ingestd/internal/domain/model"
	apperrors "github.com/ragline/ingestd/internal/errors"
	"github.com/ragline/ingestd/internal/service"
)

// Run seeds the demonstration jobs. Seeding is idempotent: jobs that already
// exist are left untouched and reported as such.
func Run(ctx context.Context, jobs *service.JobService, logger *slog.Logger) error {
	failures := 0
	for _, seed := range demoJobs() {
		created, err := seed.create(ctx, jobs)
		if err != nil {
			if logger != nil {
				logger.ErrorContext(ctx, "failed to create demo job", "job_id", seed.id, "error", err)
			}
			failures++
			continue
		}
		if logger != nil {
			msg := "demo job already exists"
			if created {
				msg = "created demo job"
			}
			logger.InfoContext(ctx, msg, "job_id", seed.id)
		}
	}
	if failures > 0 {
		return fmt.Errorf("%d seed errors; check logs", failures)
	}
	return nil
}

type demoJob struct {
	id     string
	create func(ctx context.Context, jobs *service.JobService) (bool, error)
}

func demoJobs() []demoJob {
	return []demoJob{
		{
			id: "demo_daily_ingest",
			create: func(ctx context.Context, jobs *service.JobService) (bool, error) {
				hour, minute := 3, 30
				_, err := jobs.CreateCronJob(ctx, &model.CreateCronJobRequest{
					ID:     "demo_daily_ingest",
					Name:   "Demo nightly full ingest",
					Hour:   &hour,
					Minute: &minute,
					Config: model.PipelineConfig{
						"incremental_mode": model.StringValue("auto"),
						"use_chunking":     model.BoolValue(true),
					},
				})
				return creationOutcome(err)
			},
		},
		{
			id: "demo_freshness_probe",
			create: func(ctx context.Context, jobs *service.JobService) (bool, error) {
				_, err := jobs.CreateIntervalJob(ctx, &model.CreateIntervalJobRequest{
					ID:      "demo_freshness_probe",
					Name:    "Demo five minute freshness probe",
					Minutes: 5,
					Config: model.PipelineConfig{
						"incremental_mode": model.StringValue("incremental"),
						"dry_run":          model.BoolValue(true),
					},
				})
				return creationOutcome(err)
			},
		},
	}
}

// creationOutcome maps a conflict to "already existed" so reseeding an
// environment stays quiet.
func creationOutcome(err error) (bool, error) {
	if err == nil {
		return true, nil
	}
	if apperrors.IsConflict(err) {
		return false, nil
	}
	return false, err
}
