package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/ragline/ingestd/internal/core"
	"github.com/ragline/ingestd/internal/domain/model"
	"github.com/ragline/ingestd/internal/domain/schedule"
	"github.com/ragline/ingestd/internal/domain/trigger"
	apperrors "github.com/ragline/ingestd/internal/errors"
	"github.com/ragline/ingestd/internal/events"
	obserrors "github.com/ragline/ingestd/internal/observability/errors"
	"github.com/ragline/ingestd/internal/observability/metrics"
	"github.com/ragline/ingestd/internal/observability/statsd"
)

// State is the scheduler lifecycle phase. Transitions are one-way:
// Created -> Running -> Stopping -> Stopped.
type State int32

const (
	// StateCreated means the scheduler was constructed but never started.
	StateCreated State = iota
	// StateRunning means the loop goroutine is live.
	StateRunning
	// StateStopping means the loop is quiescing; no new acquisitions.
	StateStopping
	// StateStopped means the loop has exited and the pool is shut down.
	StateStopped
)

// String renders the state for logs and health reports.
func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

const (
	// storeBackoffFloor is the first retry delay after a store failure.
	storeBackoffFloor = 1 * time.Second
	// storeBackoffCeil caps the store failure retry delay.
	storeBackoffCeil = 60 * time.Second
	// poolRetryDelay spaces re-peeks while the pool has no free slots.
	poolRetryDelay = 250 * time.Millisecond
)

// Scheduler runs the firing loop: it watches the store for the earliest due
// job, leases due jobs in batches sized to the pool's free capacity, computes
// each job's firing plan, persists the advanced fire times, and hands the
// planned firings to the worker pool. Firings the pool rejects and boundaries
// the plan rules out surface as missed events on the bus.
type Scheduler struct {
	store   core.JobStore
	pool    core.Pool
	runner  core.Runner
	bus     *events.Bus
	planner *schedule.Planner
	clock   core.TimeProvider
	cfg     core.SchedulerConfig
	logger  *slog.Logger
	metrics statsd.Sink

	state atomic.Int32

	wake      <-chan struct{}
	unsubWake func()

	loopCtx    context.Context
	loopCancel context.CancelFunc
	execCtx    context.Context
	execCancel context.CancelFunc
	done       chan struct{}
}

// SchedulerOptions holds the dependencies for creating a Scheduler.
type SchedulerOptions struct {
	Store    core.JobStore
	Pool     core.Pool
	Runner   core.Runner
	Bus      *events.Bus
	Notifier *events.ChangeNotifier

	// Optional; defaulted when zero.
	Clock   core.TimeProvider
	Config  core.SchedulerConfig
	Logger  *slog.Logger
	Metrics statsd.Sink
}

// NewScheduler creates a Scheduler with the given options. Store, Pool,
// Runner, Bus, and Notifier are required; the rest default sensibly.
func NewScheduler(opts SchedulerOptions) (*Scheduler, error) {
	if opts.Store == nil {
		return nil, errors.New("scheduler: job store is required")
	}
	if opts.Pool == nil {
		return nil, errors.New("scheduler: worker pool is required")
	}
	if opts.Runner == nil {
		return nil, errors.New("scheduler: job runner is required")
	}
	if opts.Bus == nil {
		return nil, errors.New("scheduler: event bus is required")
	}
	if opts.Notifier == nil {
		return nil, errors.New("scheduler: change notifier is required")
	}

	cfg := opts.Config
	defaults := core.DefaultSchedulerConfig()
	if cfg.LeaseDuration <= 0 {
		cfg.LeaseDuration = defaults.LeaseDuration
	}
	if cfg.StoreFailureLimit <= 0 {
		cfg.StoreFailureLimit = defaults.StoreFailureLimit
	}
	if cfg.MaxPlanBoundaries <= 0 {
		cfg.MaxPlanBoundaries = defaults.MaxPlanBoundaries
	}

	clock := opts.Clock
	if clock == nil {
		clock = &core.RealTimeProvider{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	sink := opts.Metrics
	if sink == nil {
		sink = statsd.NopSink{}
	}

	wake, unsubWake := opts.Notifier.Subscribe()
	loopCtx, loopCancel := context.WithCancel(context.Background())
	execCtx, execCancel := context.WithCancel(context.Background())

	return &Scheduler{
		store:      opts.Store,
		pool:       opts.Pool,
		runner:     opts.Runner,
		bus:        opts.Bus,
		planner:    schedule.NewPlanner(schedule.PlannerOptions{MaxBoundaries: cfg.MaxPlanBoundaries}),
		clock:      clock,
		cfg:        cfg,
		logger:     logger,
		metrics:    sink,
		wake:       wake,
		unsubWake:  unsubWake,
		loopCtx:    loopCtx,
		loopCancel: loopCancel,
		execCtx:    execCtx,
		execCancel: execCancel,
		done:       make(chan struct{}),
	}, nil
}

// State returns the current lifecycle phase.
func (s *Scheduler) State() State {
	return State(s.state.Load())
}

// Done returns a channel closed when the loop goroutine exits, whether via
// Shutdown or because the loop stopped itself after repeated store failures.
func (s *Scheduler) Done() <-chan struct{} {
	return s.done
}

// Start spawns the loop goroutine. It fails unless the scheduler is freshly
// created; a stopped scheduler cannot be restarted.
func (s *Scheduler) Start() error {
	if !s.state.CompareAndSwap(int32(StateCreated), int32(StateRunning)) {
		return errors.New("scheduler: already started")
	}
	s.logger.Info("scheduler starting",
		"lease", s.cfg.LeaseDuration,
		"acquire_limit", s.cfg.AcquireLimit,
		"store_failure_limit", s.cfg.StoreFailureLimit,
	)
	go s.loop()
	return nil
}

// Shutdown stops the loop and then the worker pool. wait=true drains
// in-flight firings to completion; wait=false cancels their pipeline
// children and drops any backlog. Safe to call more than once; the first
// call decides the drain mode.
func (s *Scheduler) Shutdown(wait bool) {
	if s.state.CompareAndSwap(int32(StateCreated), int32(StateStopped)) {
		s.loopCancel()
		s.execCancel()
		s.unsubWake()
		s.pool.Shutdown(wait)
		close(s.done)
		return
	}

	s.state.CompareAndSwap(int32(StateRunning), int32(StateStopping))
	s.loopCancel()
	<-s.done

	if !wait {
		s.execCancel()
	}
	s.pool.Shutdown(wait)
	s.execCancel()
	s.unsubWake()
	s.state.Store(int32(StateStopped))
	s.logger.Info("scheduler stopped")
}

// loop is the single scheduling goroutine. It peeks the earliest fire time,
// sleeps until that instant or until the job set changes, then acquires and
// dispatches everything due. Store failures back off exponentially; after
// StoreFailureLimit consecutive failures the scheduler stops itself.
func (s *Scheduler) loop() {
	defer close(s.done)

	ctx := s.loopCtx
	failures := 0
	backoff := storeBackoffFloor

	for s.State() == StateRunning {
		err := s.iterate(ctx)
		if ctx.Err() != nil {
			return
		}
		if err == nil {
			failures = 0
			backoff = storeBackoffFloor
			continue
		}

		failures++
		s.metrics.Count("scheduler.store_failures", 1, map[string]string{
			"error_class": obserrors.Classify(err),
		})
		if failures >= s.cfg.StoreFailureLimit {
			s.logger.ErrorContext(ctx, "scheduler stopping after repeated store failures",
				"failures", failures, "error", err)
			s.state.CompareAndSwap(int32(StateRunning), int32(StateStopping))
			return
		}
		s.logger.WarnContext(ctx, "scheduler store failure, backing off",
			"failures", failures, "backoff", backoff, "error", err)
		if !s.sleep(ctx, backoff) {
			return
		}
		backoff = min(backoff*2, storeBackoffCeil)
	}
}

// iterate performs one wait-or-tick pass: wait when nothing is due yet or
// the pool is saturated, tick when the earliest fire time has arrived.
func (s *Scheduler) iterate(ctx context.Context) error {
	next, err := s.store.PeekEarliest(ctx, s.clock.Now())
	if err != nil {
		return err
	}

	if next == nil || next.NextFireTime == nil {
		s.awaitWake(ctx, 0)
		return nil
	}

	if delay := next.NextFireTime.Sub(s.clock.Now()); delay > 0 {
		s.awaitWake(ctx, delay)
		return nil
	}

	if s.acquireLimit() <= 0 {
		s.awaitWake(ctx, poolRetryDelay)
		return nil
	}

	_, err = s.tick(ctx)
	return err
}

// tick leases everything due right now and dispatches it.
func (s *Scheduler) tick(ctx context.Context) (int, error) {
	start := time.Now()
	now := s.clock.Now()

	due, err := s.store.AcquireDue(ctx, core.AcquireParams{
		Now:   now,
		Limit: s.acquireLimit(),
		Lease: s.cfg.LeaseDuration,
	})
	if err != nil {
		s.emitTickMetrics(0, time.Since(start), err)
		return 0, err
	}

	dispatched := 0
	for _, job := range due {
		n, fireErr := s.fire(ctx, job, now)
		dispatched += n
		if fireErr != nil {
			s.emitTickMetrics(dispatched, time.Since(start), fireErr)
			return dispatched, fireErr
		}
	}

	s.emitTickMetrics(dispatched, time.Since(start), nil)
	if dispatched > 0 {
		s.logger.InfoContext(ctx, "scheduler dispatched firings",
			"dispatched", dispatched, "acquired", len(due))
	}
	return dispatched, nil
}

// fire plans and dispatches one acquired job. The advanced fire times are
// persisted before any dispatch, so a crash after this point re-fires at the
// following boundary instead of replaying this one. Returns how many firings
// reached the pool; the error is non-nil only for store failures.
func (s *Scheduler) fire(ctx context.Context, job *model.Job, now time.Time) (int, error) {
	if job.NextFireTime == nil {
		return 0, nil
	}
	originalNext := *job.NextFireTime

	trig, err := trigger.FromSpec(job.Trigger)
	if err != nil {
		return 0, s.parkJob(ctx, job, now, err)
	}

	plan := s.planner.Plan(schedule.PlanParams{
		Trigger:      trig,
		OriginalNext: originalNext,
		Now:          now,
		Coalesce:     job.Coalesce,
		Grace:        job.MisfireGrace(),
	})

	advanced := job.Clone()
	advanced.LastFireTime = &now
	advanced.NextFireTime = nil
	if next, ok := trig.NextAfter(now); ok {
		advanced.NextFireTime = &next
	}
	advanced.UpdatedAt = now
	if err := s.store.Replace(ctx, advanced); err != nil {
		if apperrors.IsNotFound(err) {
			s.logger.InfoContext(ctx, "job deleted before dispatch, skipping firing", "job_id", job.ID)
			return 0, nil
		}
		return 0, err
	}

	if plan.Truncated {
		s.logger.WarnContext(ctx, "firing plan truncated",
			"job_id", job.ID, "max_boundaries", s.cfg.MaxPlanBoundaries)
	}

	for _, boundary := range plan.Missed {
		s.publishMissed(advanced, boundary, now, missedMessage(job.Coalesce, plan))
	}

	dispatched := 0
	for _, boundary := range plan.Dispatch {
		if s.dispatch(ctx, advanced, boundary, now) {
			dispatched++
		}
	}
	return dispatched, nil
}

// parkJob clears the next fire time of a job whose stored trigger no longer
// loads, so the loop stops re-acquiring it every pass. The job stays listed
// and a later update can revive it.
func (s *Scheduler) parkJob(ctx context.Context, job *model.Job, now time.Time, cause error) error {
	s.logger.ErrorContext(ctx, "job trigger failed to load, parking job",
		"job_id", job.ID, "error", cause)
	parked := job.Clone()
	parked.NextFireTime = nil
	parked.UpdatedAt = now
	if err := s.store.Replace(ctx, parked); err != nil && !apperrors.IsNotFound(err) {
		return err
	}
	return nil
}

// dispatch submits one firing to the pool. A rejected firing becomes a
// missed event and is never retried.
func (s *Scheduler) dispatch(ctx context.Context, job *model.Job, firedAt, now time.Time) bool {
	jobCopy := job.Clone()
	execCtx := s.execCtx
	err := s.pool.Submit(core.SubmitParams{
		JobID:        job.ID,
		MaxInstances: job.MaxInstances,
		Run: func() {
			s.runner.Execute(execCtx, jobCopy, firedAt)
		},
	})
	if err == nil {
		return true
	}

	s.logger.WarnContext(ctx, "worker pool rejected firing",
		"job_id", job.ID, "fired_at", firedAt, "error", err)
	s.publishMissed(job, firedAt, now, fmt.Sprintf("not dispatched: %s", err.Error()))
	return false
}

// publishMissed emits the missed lifecycle event for one boundary.
func (s *Scheduler) publishMissed(job *model.Job, boundary, now time.Time, msg string) {
	s.bus.Publish(events.Event{
		Type:    events.TypeMissed,
		JobID:   job.ID,
		FiredAt: boundary,
		At:      now,
		Outcome: model.OutcomeMissed,
		Message: msg,
	})
	metrics.EmitFiring(s.metrics, metrics.FiringMetric{
		TriggerKind: string(job.Trigger.Kind),
		Outcome:     string(model.OutcomeMissed),
	})
}

// missedMessage renders why a boundary was reported missed by the plan.
func missedMessage(coalesce bool, plan schedule.Plan) string {
	if coalesce && plan.Coalesced > 0 {
		return fmt.Sprintf("%d overdue boundaries coalesced into one firing", plan.Coalesced+1)
	}
	return "firing boundary elapsed beyond the misfire grace"
}

// acquireLimit sizes one acquisition batch: the pool's free capacity, capped
// by AcquireLimit when configured.
func (s *Scheduler) acquireLimit() int {
	limit := s.pool.FreeSlots()
	if s.cfg.AcquireLimit > 0 && limit > s.cfg.AcquireLimit {
		limit = s.cfg.AcquireLimit
	}
	return limit
}

// awaitWake blocks until the jobs-changed notifier fires, d elapses (when
// positive), or the loop context ends.
func (s *Scheduler) awaitWake(ctx context.Context, d time.Duration) {
	if d <= 0 {
		select {
		case <-ctx.Done():
		case <-s.wake:
		}
		return
	}

	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-s.wake:
	case <-timer.C:
	}
}

// sleep blocks for d or until the loop context ends. Unlike awaitWake it
// ignores the notifier: a jobs-changed signal does not repair the store.
func (s *Scheduler) sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func (s *Scheduler) emitTickMetrics(dispatched int, elapsed time.Duration, err error) {
	result := metrics.ResultSuccess
	if err != nil {
		result = metrics.ResultError
	} else if dispatched == 0 {
		result = metrics.ResultNoop
	}

	tags := map[string]string{
		"result": result,
	}
	if err != nil {
		if class := obserrors.Classify(err); class != "" {
			tags["error_class"] = class
		}
	}

	s.metrics.Count("scheduler.tick", 1, tags)

	if dispatched > 0 {
		s.metrics.Count("scheduler.firings_dispatched", int64(dispatched), tags)
	}

	if elapsed > 0 {
		s.metrics.Timing("scheduler.tick_duration", elapsed, metrics.CloneTags(tags))
	}

	if err == nil {
		s.metrics.Gauge("scheduler.last_success_epoch", float64(s.clock.Now().Unix()), nil)
	}
}
