package service

import (
	"context"
	"fmt"

	"github.com/ragline/ingestd/internal/domain/model"
	"github.com/ragline/ingestd/internal/domain/trigger"
	apperrors "github.com/ragline/ingestd/internal/errors"
)

// ExportConfig snapshots every job plus the live scheduler stats into a
// config document. Cron jobs export the full five-field expression and
// timezone; interval jobs decompose the period and keep the anchor so a
// re-import lands on the same grid.
func (s *JobService) ExportConfig(ctx context.Context) (*model.ConfigDocument, error) {
	jobs, err := s.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}

	doc := &model.ConfigDocument{
		ExportedAt:     s.clock.Now().UTC(),
		SchedulerStats: s.stats.Snapshot(),
		Jobs:           make([]model.ExportedJob, 0, len(jobs)),
	}
	for _, job := range jobs {
		doc.Jobs = append(doc.Jobs, exportJob(job))
	}

	s.logger.InfoContext(ctx, "config exported", "jobs", len(doc.Jobs))
	return doc, nil
}

func exportJob(job *model.Job) model.ExportedJob {
	coalesce := job.Coalesce
	maxInstances := job.MaxInstances
	grace := job.MisfireGraceSeconds
	ej := model.ExportedJob{
		JobID:               job.ID,
		Name:                job.Name,
		Type:                job.Trigger.Kind,
		Config:              job.PipelineConfig.Clone(),
		Coalesce:            &coalesce,
		MaxInstances:        &maxInstances,
		MisfireGraceSeconds: &grace,
	}

	switch job.Trigger.Kind {
	case trigger.KindCron:
		expression := job.Trigger.Expression
		timezone := job.Trigger.Timezone
		ej.CronExpression = &expression
		ej.Timezone = &timezone
	case trigger.KindInterval:
		days, hours, minutes, seconds := intervalComponents(job.Trigger.PeriodSeconds)
		if days > 0 {
			ej.Days = &days
		}
		if hours > 0 {
			ej.Hours = &hours
		}
		if minutes > 0 {
			ej.Minutes = &minutes
		}
		if seconds > 0 || (ej.Days == nil && ej.Hours == nil && ej.Minutes == nil) {
			ej.Seconds = &seconds
		}
		if job.Trigger.Anchor != nil {
			anchor := *job.Trigger.Anchor
			ej.Anchor = &anchor
		}
	case trigger.KindDate:
		if job.Trigger.RunDate != nil {
			runDate := *job.Trigger.RunDate
			ej.RunDate = &runDate
		}
	}
	return ej
}

// intervalComponents decomposes a period into whole days, hours, minutes,
// and leftover seconds.
func intervalComponents(periodSeconds int64) (days, hours, minutes, seconds int) {
	days = int(periodSeconds / 86400)
	rem := periodSeconds % 86400
	hours = int(rem / 3600)
	rem %= 3600
	minutes = int(rem / 60)
	seconds = int(rem % 60)
	return days, hours, minutes, seconds
}

// ImportConfig creates the jobs a config document describes and returns how
// many were created. Ids already in the store are skipped with a warning, as
// are one-time jobs whose run date has elapsed; a malformed entry aborts the
// import, keeping the jobs created before it.
func (s *JobService) ImportConfig(ctx context.Context, doc *model.ConfigDocument) (int, error) {
	if doc == nil {
		return 0, apperrors.Validation("config document is required")
	}

	imported := 0
	for i := range doc.Jobs {
		entry := &doc.Jobs[i]
		if entry.JobID == "" {
			return imported, apperrors.ValidationField("job_id", fmt.Sprintf("jobs[%d] has no job_id", i))
		}

		_, err := s.store.Get(ctx, entry.JobID)
		switch {
		case err == nil:
			s.logger.WarnContext(ctx, "import skipping existing job", "job_id", entry.JobID)
			continue
		case apperrors.IsNotFound(err):
		default:
			return imported, fmt.Errorf("check job %s: %w", entry.JobID, err)
		}

		created, err := s.importJob(ctx, entry)
		if err != nil {
			return imported, fmt.Errorf("import job %s: %w", entry.JobID, err)
		}
		if created {
			imported++
		}
	}

	s.logger.InfoContext(ctx, "config imported", "created", imported, "entries", len(doc.Jobs))
	return imported, nil
}

func (s *JobService) importJob(ctx context.Context, entry *model.ExportedJob) (bool, error) {
	switch entry.Type {
	case trigger.KindCron:
		req := &model.CreateCronJobRequest{
			ID:                  entry.JobID,
			Name:                entry.Name,
			Hour:                entry.Hour,
			Minute:              entry.Minute,
			Config:              entry.Config,
			Coalesce:            entry.Coalesce,
			MaxInstances:        entry.MaxInstances,
			MisfireGraceSeconds: entry.MisfireGraceSeconds,
		}
		if entry.DayOfWeek != nil {
			req.DayOfWeek = *entry.DayOfWeek
		}
		if entry.CronExpression != nil {
			req.Expression = *entry.CronExpression
		}
		if entry.Timezone != nil {
			req.Timezone = *entry.Timezone
		}
		_, err := s.CreateCronJob(ctx, req)
		return err == nil, err

	case trigger.KindInterval:
		req := &model.CreateIntervalJobRequest{
			ID:                  entry.JobID,
			Name:                entry.Name,
			Anchor:              entry.Anchor,
			Config:              entry.Config,
			Coalesce:            entry.Coalesce,
			MaxInstances:        entry.MaxInstances,
			MisfireGraceSeconds: entry.MisfireGraceSeconds,
		}
		if entry.Days != nil {
			req.Days = *entry.Days
		}
		if entry.Hours != nil {
			req.Hours = *entry.Hours
		}
		if entry.Minutes != nil {
			req.Minutes = *entry.Minutes
		}
		if entry.Seconds != nil {
			req.Seconds = *entry.Seconds
		}
		_, err := s.CreateIntervalJob(ctx, req)
		return err == nil, err

	case trigger.KindDate:
		if entry.RunDate == nil {
			return false, apperrors.ValidationField("run_date", "date job has no run_date")
		}
		if !entry.RunDate.After(s.clock.Now()) {
			s.logger.WarnContext(ctx, "import skipping elapsed one-time job",
				"job_id", entry.JobID, "run_date", *entry.RunDate)
			return false, nil
		}
		_, err := s.CreateOneTimeJob(ctx, &model.CreateOneTimeJobRequest{
			ID:                  entry.JobID,
			Name:                entry.Name,
			RunDate:             *entry.RunDate,
			Config:              entry.Config,
			Coalesce:            entry.Coalesce,
			MaxInstances:        entry.MaxInstances,
			MisfireGraceSeconds: entry.MisfireGraceSeconds,
		})
		return err == nil, err

	default:
		return false, apperrors.ValidationField("type", fmt.Sprintf("unknown trigger type %q", entry.Type))
	}
}
