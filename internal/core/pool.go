package core

// SubmitParams describes one firing offered to the pool.
type SubmitParams struct {
	// JobID keys the per-job admission count.
	JobID string
	// MaxInstances caps concurrent firings of this job. Values below one
	// leave the job uncapped; callers pass the job's resolved setting.
	MaxInstances int
	// Run executes the firing. It must not panic and must return only
	// when the firing is terminal.
	Run func()
}

// Pool is the bounded executor behind the scheduler. Submission never
// blocks: a pool at capacity (or a job at its instance cap) rejects with an
// Overflow error and the scheduler records the firing as missed.
type Pool interface {
	Submit(p SubmitParams) error
	// FreeSlots returns how many more tasks the pool admits right now.
	FreeSlots() int
	// Shutdown stops admission. wait=true blocks until in-flight tasks
	// finish; wait=false lets them drain in the background.
	Shutdown(wait bool)
}
