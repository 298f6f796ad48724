package model

import (
	"fmt"
	"time"
)

// Outcome classifies how a firing ended.
type Outcome string

const (
	// OutcomeSuccess means the pipeline child exited 0.
	OutcomeSuccess Outcome = "success"
	// OutcomeFailure means the child exited non-zero or failed to spawn.
	OutcomeFailure Outcome = "failure"
	// OutcomeMissed means the firing was never dispatched (misfire or
	// pool rejection).
	OutcomeMissed Outcome = "missed"
	// OutcomeTimeout means the child was killed at the firing deadline.
	OutcomeTimeout Outcome = "timeout"
)

// Valid returns true if the Outcome is a known classification.
func (o Outcome) Valid() bool {
	return o == OutcomeSuccess || o == OutcomeFailure || o == OutcomeMissed || o == OutcomeTimeout
}

const (
	// ReportFilePrefix starts every execution record artifact name.
	ReportFilePrefix = "job_report_"
	// MaxRecordMessageBytes caps the message carried in a record.
	MaxRecordMessageBytes = 1000
)

// ExecutionRecord is the per-firing artifact written next to the store.
// It is append-only; the scheduler never reads it back.
type ExecutionRecord struct {
	RecordID        string    `json:"record_id"`
	JobID           string    `json:"job_id"`
	FiredAt         time.Time `json:"fired_at"`
	FinishedAt      time.Time `json:"finished_at"`
	Outcome         Outcome   `json:"outcome"`
	ExitCode        int       `json:"exit_code"`
	Message         string    `json:"message,omitempty"`
	TruncatedOutput string    `json:"truncated_output,omitempty"`
	OutputOverflow  bool      `json:"output_overflow,omitempty"`
}

// FileName returns the artifact name, job_report_<jobId>_<YYYYMMDD_HHMMSS>.json.
func (r *ExecutionRecord) FileName() string {
	return fmt.Sprintf("%s%s_%s.json", ReportFilePrefix, r.JobID, r.FiredAt.UTC().Format("20060102_150405"))
}
