package model

import "time"

// ErrorSnapshot captures the most recent failed firing.
type ErrorSnapshot struct {
	JobID   string    `json:"job_id"`
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

// SchedulerStats is a point-in-time snapshot of the lifetime counters.
// Counters reset with the process; nothing here is persisted.
type SchedulerStats struct {
	Executed      uint64         `json:"executed"`
	Failed        uint64         `json:"failed"`
	Missed        uint64         `json:"missed"`
	DroppedEvents uint64         `json:"dropped_events"`
	LastExecution *time.Time     `json:"last_execution,omitempty"`
	LastError     *ErrorSnapshot `json:"last_error,omitempty"`
}

// Outcomes returns the number of firings that reached a terminal outcome.
func (s SchedulerStats) Outcomes() uint64 {
	return s.Executed + s.Failed
}

// FailureRate returns failed/(executed+failed), or 0 when nothing ran.
func (s SchedulerStats) FailureRate() float64 {
	total := s.Outcomes()
	if total == 0 {
		return 0
	}
	return float64(s.Failed) / float64(total)
}
