package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ragline/ingestd/internal/core"
	"github.com/ragline/ingestd/internal/domain/model"
	"github.com/ragline/ingestd/internal/domain/trigger"
	apperrors "github.com/ragline/ingestd/internal/errors"
	"github.com/ragline/ingestd/internal/events"
)

// JobServiceOptions groups dependencies for JobService.
type JobServiceOptions struct {
	Store    core.JobStore          // Required: durable job records
	Notifier *events.ChangeNotifier // Required: wakes the scheduler loop after mutations
	Stats    *StatsAggregator       // Required: serves GetStats snapshots
	Health   *HealthService         // Required: serves HealthCheck reports

	// Optional; defaulted when zero.
	Clock    core.TimeProvider // time source, defaults to the real clock
	Timezone string            // cron timezone when a request names none, defaults to UTC
	Logger   *slog.Logger
}

// JobService is the lifecycle API over the job store: create in all three
// trigger shapes, read, patch, delete, fire immediately, preset expansion,
// and config export/import. Every mutation persists through the store and
// then signals the scheduler so the loop re-peeks its timeline.
type JobService struct {
	store    core.JobStore
	notifier *events.ChangeNotifier
	stats    *StatsAggregator
	health   *HealthService
	clock    core.TimeProvider
	timezone string
	logger   *slog.Logger
}

// NewJobService constructs a new JobService.
func NewJobService(opts JobServiceOptions) (*JobService, error) {
	if opts.Store == nil {
		return nil, errors.New("jobs: job store is required")
	}
	if opts.Notifier == nil {
		return nil, errors.New("jobs: change notifier is required")
	}
	if opts.Stats == nil {
		return nil, errors.New("jobs: stats aggregator is required")
	}
	if opts.Health == nil {
		return nil, errors.New("jobs: health service is required")
	}

	clock := opts.Clock
	if clock == nil {
		clock = &core.RealTimeProvider{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &JobService{
		store:    opts.Store,
		notifier: opts.Notifier,
		stats:    opts.Stats,
		health:   opts.Health,
		clock:    clock,
		timezone: opts.Timezone,
		logger:   logger,
	}, nil
}

// MustNewJobService constructs a new JobService and panics on error.
// Use this when you're certain the options are valid (e.g., in main.go).
func MustNewJobService(opts JobServiceOptions) *JobService {
	svc, err := NewJobService(opts)
	if err != nil {
		panic(fmt.Sprintf("failed to create JobService: %v", err))
	}
	return svc
}

// CreateCronJob creates a job on a cron schedule. The request carries either
// a five-field expression or the hour/minute/day-of-week shorthand; the
// timezone falls back to the service default.
func (s *JobService) CreateCronJob(ctx context.Context, req *model.CreateCronJobRequest) (*model.Job, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	tz := req.Timezone
	if tz == "" {
		tz = s.timezone
	}
	trig, err := trigger.NewCron(req.CronExpression(), tz)
	if err != nil {
		return nil, err
	}

	job := newJobRecord(req.ID, req.Name, req.Config, req.Coalesce, req.MaxInstances, req.MisfireGraceSeconds)
	return s.createJob(ctx, job, trig)
}

// CreateIntervalJob creates a job firing every fixed period. The anchor
// defaults to the creation instant, so the first firing lands one full
// period out.
func (s *JobService) CreateIntervalJob(ctx context.Context, req *model.CreateIntervalJobRequest) (*model.Job, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	anchor := s.clock.Now()
	if req.Anchor != nil {
		anchor = *req.Anchor
	}
	trig, err := trigger.NewInterval(req.Period(), anchor)
	if err != nil {
		return nil, err
	}

	job := newJobRecord(req.ID, req.Name, req.Config, req.Coalesce, req.MaxInstances, req.MisfireGraceSeconds)
	return s.createJob(ctx, job, trig)
}

// CreateOneTimeJob creates a job firing exactly once at the request's run
// date, which must still be ahead of the clock.
func (s *JobService) CreateOneTimeJob(ctx context.Context, req *model.CreateOneTimeJobRequest) (*model.Job, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	job := newJobRecord(req.ID, req.Name, req.Config, req.Coalesce, req.MaxInstances, req.MisfireGraceSeconds)
	return s.createJob(ctx, job, trigger.NewDate(req.RunDate))
}

// createJob derives the first fire instant, persists the record, and wakes
// the scheduler. The trigger is already validated by the caller.
func (s *JobService) createJob(ctx context.Context, job *model.Job, trig trigger.Trigger) (*model.Job, error) {
	now := s.clock.Now()
	next, ok := trig.NextAfter(now)
	if !ok {
		if trig.Kind() == trigger.KindDate {
			return nil, apperrors.ValidationField("run_date", "run date is in the past")
		}
		return nil, apperrors.Validationf("trigger %s has no fire instant after %s", trig, now.Format(time.RFC3339))
	}

	job.Trigger = trig.Spec()
	job.NextFireTime = &next
	if err := job.Validate(); err != nil {
		return nil, err
	}

	if err := s.store.Insert(ctx, job); err != nil {
		return nil, fmt.Errorf("insert job %s: %w", job.ID, err)
	}
	s.notifier.Signal()

	s.logger.InfoContext(ctx, "job created",
		"job_id", job.ID,
		"trigger", trig.String(),
		"next_fire_time", next,
	)
	return job, nil
}

// newJobRecord builds a job shell with knob defaults applied; the trigger
// and fire times are filled in by createJob.
func newJobRecord(id, name string, config model.PipelineConfig, coalesce *bool, maxInstances, grace *int) *model.Job {
	if name == "" {
		name = id
	}
	job := &model.Job{
		ID:                  id,
		Name:                name,
		PipelineConfig:      config.Clone(),
		MaxInstances:        model.DefaultMaxInstances,
		MisfireGraceSeconds: model.DefaultMisfireGraceSeconds,
	}
	if coalesce != nil {
		job.Coalesce = *coalesce
	}
	if maxInstances != nil {
		job.MaxInstances = *maxInstances
	}
	if grace != nil {
		job.MisfireGraceSeconds = *grace
	}
	return job
}

// GetJob returns the job by id.
func (s *JobService) GetJob(ctx context.Context, id string) (*model.Job, error) {
	job, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get job %s: %w", id, err)
	}
	return job, nil
}

// ListJobs returns all jobs in insertion order.
func (s *JobService) ListJobs(ctx context.Context) ([]*model.Job, error) {
	jobs, err := s.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	return jobs, nil
}

// UpdateJob applies a patch to the stored job and replaces it atomically.
// A patched trigger re-derives the next fire time from the clock; otherwise
// the fire times are left alone, so a parked job stays parked until its
// trigger is replaced.
func (s *JobService) UpdateJob(ctx context.Context, id string, patch *model.UpdateJobRequest) (*model.Job, error) {
	if err := patch.Validate(); err != nil {
		return nil, err
	}

	current, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load job %s: %w", id, err)
	}

	updated := current.Clone()
	if patch.Name != nil {
		updated.Name = *patch.Name
	}
	if patch.Config != nil {
		updated.PipelineConfig = patch.Config.Clone()
	}
	if patch.Coalesce != nil {
		updated.Coalesce = *patch.Coalesce
	}
	if patch.MaxInstances != nil {
		updated.MaxInstances = *patch.MaxInstances
	}
	if patch.MisfireGraceSeconds != nil {
		updated.MisfireGraceSeconds = *patch.MisfireGraceSeconds
	}
	if patch.Trigger != nil {
		trig, err := trigger.FromSpec(*patch.Trigger)
		if err != nil {
			return nil, err
		}
		next, ok := trig.NextAfter(s.clock.Now())
		if !ok {
			return nil, apperrors.ValidationField("trigger", "trigger has no future fire instant")
		}
		updated.Trigger = trig.Spec()
		updated.NextFireTime = &next
	}
	if err := updated.Validate(); err != nil {
		return nil, err
	}

	if err := s.store.Replace(ctx, updated); err != nil {
		return nil, fmt.Errorf("replace job %s: %w", id, err)
	}
	s.notifier.Signal()

	s.logger.InfoContext(ctx, "job updated", "job_id", id, "trigger_patched", patch.Trigger != nil)
	return updated, nil
}

// DeleteJob removes the job by id.
func (s *JobService) DeleteJob(ctx context.Context, id string) error {
	if err := s.store.Delete(ctx, id); err != nil {
		return fmt.Errorf("delete job %s: %w", id, err)
	}
	s.notifier.Signal()

	s.logger.InfoContext(ctx, "job deleted", "job_id", id)
	return nil
}

// RunNow marks the job due immediately. The scheduler picks it up on its
// next pass and the trigger advances from there as usual; a one-time job
// that already fired runs once more and parks again.
func (s *JobService) RunNow(ctx context.Context, id string) (*model.Job, error) {
	job, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load job %s: %w", id, err)
	}

	now := s.clock.Now()
	updated := job.Clone()
	updated.NextFireTime = &now

	if err := s.store.Replace(ctx, updated); err != nil {
		return nil, fmt.Errorf("replace job %s: %w", id, err)
	}
	s.notifier.Signal()

	s.logger.InfoContext(ctx, "job queued for immediate firing", "job_id", id)
	return updated, nil
}

// GetStats returns the live scheduler counters.
func (s *JobService) GetStats() model.SchedulerStats {
	return s.stats.Snapshot()
}

// HealthCheck evaluates the scheduling stack and returns the report.
func (s *JobService) HealthCheck(ctx context.Context) model.HealthReport {
	return s.health.Check(ctx)
}
