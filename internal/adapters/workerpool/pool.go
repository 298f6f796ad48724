// Package workerpool bounds concurrent pipeline executions. The pool caps
// total in-flight work, enforces per-job instance limits, and optionally
// queues overflow in a bounded backlog.
package workerpool

import (
	"context"
	"log/slog"
	"sync"

	"github.com/ragline/ingestd/internal/core"
	apperrors "github.com/ragline/ingestd/internal/errors"
)

// Options configures New.
type Options struct {
	// MaxWorkers caps concurrently running tasks. Defaults to
	// core.DefaultPoolConfig().MaxWorkers.
	MaxWorkers int
	// Backlog is how many accepted tasks may wait for a free worker.
	// Zero means submissions are rejected as soon as all workers are
	// busy.
	Backlog int
	Logger  *slog.Logger
}

type task struct {
	jobID string
	run   func()
}

// Pool runs submitted tasks on a bounded set of workers. A task is counted
// against its job's instance cap from acceptance until its run function
// returns.
type Pool struct {
	maxWorkers int
	backlogCap int
	logger     *slog.Logger

	mu      sync.Mutex
	running int
	perJob  map[string]int
	backlog []task
	closed  bool

	wg sync.WaitGroup
}

var _ core.Pool = (*Pool)(nil)

// New creates an idle pool. There are no background goroutines until work
// is submitted.
func New(opts Options) *Pool {
	maxWorkers := opts.MaxWorkers
	if maxWorkers <= 0 {
		maxWorkers = core.DefaultPoolConfig().MaxWorkers
	}
	backlogCap := opts.Backlog
	if backlogCap < 0 {
		backlogCap = 0
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Pool{
		maxWorkers: maxWorkers,
		backlogCap: backlogCap,
		logger:     logger,
		perJob:     make(map[string]int),
	}
}

// Submit accepts p.Run for execution or rejects it with an Overflow error.
// Rejection reasons: the job is already at its instance cap, or every
// worker is busy and the backlog is full.
func (p *Pool) Submit(params core.SubmitParams) error {
	if params.Run == nil {
		return apperrors.Validation("submit requires a run function")
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return apperrors.Overflow("worker pool is shut down")
	}
	if params.MaxInstances > 0 && p.perJob[params.JobID] >= params.MaxInstances {
		p.mu.Unlock()
		p.logger.WarnContext(context.Background(), "job at max instances, rejecting firing",
			"job_id", params.JobID, "max_instances", params.MaxInstances)
		return apperrors.Overflow("job is already running its maximum number of instances")
	}

	t := task{jobID: params.JobID, run: params.Run}
	switch {
	case p.running < p.maxWorkers:
		p.running++
		p.perJob[params.JobID]++
		p.wg.Add(1)
		p.mu.Unlock()
		go p.worker(t)
		return nil
	case len(p.backlog) < p.backlogCap:
		p.perJob[params.JobID]++
		p.wg.Add(1)
		p.backlog = append(p.backlog, t)
		p.mu.Unlock()
		return nil
	default:
		p.mu.Unlock()
		p.logger.WarnContext(context.Background(), "worker pool saturated, rejecting firing",
			"job_id", params.JobID, "max_workers", p.maxWorkers, "backlog", p.backlogCap)
		return apperrors.Overflow("worker pool is saturated")
	}
}

// FreeSlots reports how many more submissions Submit would accept right
// now, ignoring per-job instance caps.
func (p *Pool) FreeSlots() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return 0
	}
	return (p.maxWorkers - p.running) + (p.backlogCap - len(p.backlog))
}

// Shutdown stops accepting work. With wait=true it blocks until every
// accepted task, including the backlog, has finished. With wait=false the
// backlog is dropped and running tasks are left to finish on their own.
func (p *Pool) Shutdown(wait bool) {
	p.mu.Lock()
	p.closed = true
	var dropped []task
	if !wait {
		dropped = p.backlog
		p.backlog = nil
	}
	p.mu.Unlock()

	for _, t := range dropped {
		p.finishTask(t.jobID)
	}
	if wait {
		p.wg.Wait()
	}
}

// worker runs its first task, then keeps pulling from the backlog until it
// is empty.
func (p *Pool) worker(t task) {
	for {
		p.runTask(t)
		next, ok := p.nextTask()
		if !ok {
			return
		}
		t = next
	}
}

func (p *Pool) runTask(t task) {
	defer p.finishTask(t.jobID)
	t.run()
}

func (p *Pool) finishTask(jobID string) {
	p.mu.Lock()
	p.perJob[jobID]--
	if p.perJob[jobID] <= 0 {
		delete(p.perJob, jobID)
	}
	p.mu.Unlock()
	p.wg.Done()
}

func (p *Pool) nextTask() (task, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.backlog) == 0 {
		p.running--
		return task{}, false
	}
	t := p.backlog[0]
	p.backlog = p.backlog[1:]
	return t, true
}
