package data

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ragline/ingestd/internal/core"
	"github.com/ragline/ingestd/internal/domain/model"
	apperrors "github.com/ragline/ingestd/internal/errors"
)

// MemoryStore keeps jobs in process memory. It backs tests and ephemeral
// runs; nothing survives a restart. Every method clones on the way in and
// out so callers never share mutable state with the store.
type MemoryStore struct {
	clock core.TimeProvider

	mu   sync.RWMutex
	seq  int64
	jobs map[string]*memoryJob
}

type memoryJob struct {
	seq        int64
	job        *model.Job
	leaseUntil time.Time
}

var _ core.JobStore = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory job store.
func NewMemoryStore(clock core.TimeProvider) *MemoryStore {
	if clock == nil {
		clock = &core.RealTimeProvider{}
	}
	return &MemoryStore{
		clock: clock,
		jobs:  make(map[string]*memoryJob),
	}
}

// Insert stores a new job and stamps CreatedAt and UpdatedAt on it.
func (s *MemoryStore) Insert(ctx context.Context, job *model.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[job.ID]; ok {
		return apperrors.Conflictf("job %q already exists", job.ID)
	}

	now := s.clock.Now().UTC()
	job.CreatedAt = now
	job.UpdatedAt = now

	s.seq++
	s.jobs[job.ID] = &memoryJob{seq: s.seq, job: job.Clone()}
	return nil
}

// Replace swaps the stored record for job.ID, preserving its insertion
// order and creation time, and clears any acquisition lease.
func (s *MemoryStore) Replace(ctx context.Context, job *model.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.jobs[job.ID]
	if !ok {
		return apperrors.NotFoundf("job %q not found", job.ID)
	}

	job.UpdatedAt = s.clock.Now().UTC()
	clone := job.Clone()
	clone.CreatedAt = existing.job.CreatedAt
	existing.job = clone
	existing.leaseUntil = time.Time{}
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*model.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	existing, ok := s.jobs[id]
	if !ok {
		return nil, apperrors.NotFoundf("job %q not found", id)
	}
	return existing.job.Clone(), nil
}

func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[id]; !ok {
		return apperrors.NotFoundf("job %q not found", id)
	}
	delete(s.jobs, id)
	return nil
}

func (s *MemoryStore) List(ctx context.Context) ([]*model.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ordered := make([]*memoryJob, 0, len(s.jobs))
	for _, mj := range s.jobs {
		ordered = append(ordered, mj)
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].seq < ordered[j].seq })

	jobs := make([]*model.Job, 0, len(ordered))
	for _, mj := range ordered {
		jobs = append(jobs, mj.job.Clone())
	}
	return jobs, nil
}

func (s *MemoryStore) PeekEarliest(ctx context.Context, now time.Time) (*model.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var best *memoryJob
	for _, mj := range s.jobs {
		if !mj.fireable(now) {
			continue
		}
		if best == nil || fireOrderLess(mj.job, best.job) {
			best = mj
		}
	}
	if best == nil {
		return nil, nil
	}
	return best.job.Clone(), nil
}

func (s *MemoryStore) AcquireDue(ctx context.Context, p core.AcquireParams) ([]*model.Job, error) {
	if p.Limit <= 0 {
		return nil, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var due []*memoryJob
	for _, mj := range s.jobs {
		if !mj.fireable(p.Now) || mj.job.NextFireTime.After(p.Now) {
			continue
		}
		due = append(due, mj)
	}
	sort.Slice(due, func(i, j int) bool { return fireOrderLess(due[i].job, due[j].job) })
	if len(due) > p.Limit {
		due = due[:p.Limit]
	}

	leaseUntil := p.Now.Add(p.Lease)
	acquired := make([]*model.Job, 0, len(due))
	for _, mj := range due {
		mj.leaseUntil = leaseUntil
		acquired = append(acquired, mj.job.Clone())
	}
	return acquired, nil
}

func (s *MemoryStore) Ping(ctx context.Context) error {
	return nil
}

func (s *MemoryStore) Close() error {
	return nil
}

// fireable reports whether the job has a next fire time and is not held by
// an unexpired lease as of now.
func (mj *memoryJob) fireable(now time.Time) bool {
	if mj.job.NextFireTime == nil {
		return false
	}
	return mj.leaseUntil.IsZero() || !mj.leaseUntil.After(now)
}
