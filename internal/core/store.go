// Package core defines the interfaces and default configurations shared by
// the ingestd scheduler services: the job store contract, the worker pool
// contract, and the clock abstraction.
package core

import (
	"context"
	"time"

	"github.com/ragline/ingestd/internal/domain/model"
)

// AcquireParams bounds one due-job acquisition.
type AcquireParams struct {
	// Now is the acquisition instant; a job is due when its next fire
	// time is at or before Now.
	Now time.Time
	// Limit caps how many jobs one acquisition returns.
	Limit int
	// Lease is how long acquired jobs stay invisible to further
	// acquisitions. Replace and Delete clear the lease early.
	Lease time.Duration
}

// JobStore is the durable home of job records. All mutations are durable
// before return; failures surface as typed errors, never as partial writes.
type JobStore interface {
	// Insert stores a new job. A job with the same id yields a Conflict.
	Insert(ctx context.Context, job *model.Job) error

	// Replace atomically swaps the stored record for job.ID with job and
	// clears any acquisition lease. Absent ids yield NotFound.
	Replace(ctx context.Context, job *model.Job) error

	// Get returns the job by id, or NotFound.
	Get(ctx context.Context, id string) (*model.Job, error)

	// Delete removes the job by id, or NotFound. Clears any lease.
	Delete(ctx context.Context, id string) error

	// List returns all jobs in insertion order.
	List(ctx context.Context) ([]*model.Job, error)

	// PeekEarliest returns the job unleased as of now with the smallest
	// non-nil next fire time, ties broken by ascending id. Returns
	// (nil, nil) when no job is fireable.
	PeekEarliest(ctx context.Context, now time.Time) (*model.Job, error)

	// AcquireDue atomically leases and returns every unleased job whose
	// next fire time is at or before p.Now, ordered by next fire time
	// then id, up to p.Limit. It is the sole source of firings. Expired
	// leases are re-acquirable.
	AcquireDue(ctx context.Context, p AcquireParams) ([]*model.Job, error)

	// Ping verifies the backend is reachable.
	Ping(ctx context.Context) error

	// Close releases the backend.
	Close() error
}

// DefaultLeaseDuration covers the gap between acquiring a due job and
// persisting its advanced fire times. A crash inside that gap leaves the
// lease to expire, after which the firing is re-acquired (at-least-once).
const DefaultLeaseDuration = 60 * time.Second
