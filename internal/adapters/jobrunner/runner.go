// Package jobrunner executes one pipeline firing per call: it builds the
// pipeline_exec argv from the job's configuration, spawns the child with a
// deadline, and turns the exit status into a lifecycle event plus a report
// artifact. It never returns an error to the worker pool.
package jobrunner

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/ragline/ingestd/internal/core"
	"github.com/ragline/ingestd/internal/domain/model"
	apperrors "github.com/ragline/ingestd/internal/errors"
	"github.com/ragline/ingestd/internal/events"
	"github.com/ragline/ingestd/internal/observability/metrics"
	"github.com/ragline/ingestd/internal/observability/statsd"
)

// pipeWaitDelay bounds how long Wait lingers on the child's output pipes
// after the process itself is gone, so an orphaned grandchild holding
// stdout cannot wedge a worker.
const pipeWaitDelay = 10 * time.Second

// Options holds the dependencies for NewRunner.
type Options struct {
	Config  core.RunnerConfig
	Clock   core.TimeProvider
	Bus     *events.Bus
	Logger  *slog.Logger
	Metrics statsd.Sink
}

// Runner spawns pipeline_exec children. Safe for concurrent use; every
// invocation is independent.
type Runner struct {
	bin         string
	timeout     time.Duration
	outputLimit int
	artifacts   string

	clock   core.TimeProvider
	bus     *events.Bus
	logger  *slog.Logger
	metrics statsd.Sink
}

var _ core.Runner = (*Runner)(nil)

// NewRunner validates options, fills defaults, and ensures the artifacts
// directory exists.
func NewRunner(opts Options) (*Runner, error) {
	if opts.Bus == nil {
		return nil, errors.New("jobrunner: event bus is required")
	}

	cfg := opts.Config
	def := core.DefaultRunnerConfig()
	if cfg.PipelineBin == "" {
		cfg.PipelineBin = def.PipelineBin
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.OutputLimitBytes <= 0 {
		cfg.OutputLimitBytes = def.OutputLimitBytes
	}
	if cfg.ArtifactsDir == "" {
		cfg.ArtifactsDir = def.ArtifactsDir
	}

	clock := opts.Clock
	if clock == nil {
		clock = &core.RealTimeProvider{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	if err := os.MkdirAll(cfg.ArtifactsDir, 0o750); err != nil {
		return nil, fmt.Errorf("create artifacts dir %s: %w", cfg.ArtifactsDir, err)
	}

	return &Runner{
		bin:         cfg.PipelineBin,
		timeout:     cfg.Timeout,
		outputLimit: cfg.OutputLimitBytes,
		artifacts:   cfg.ArtifactsDir,
		clock:       clock,
		bus:         opts.Bus,
		logger:      logger,
		metrics:     opts.Metrics,
	}, nil
}

// Execute runs one firing to its terminal state: child process, lifecycle
// event, metrics, report artifact. All outcomes are absorbed here.
func (r *Runner) Execute(ctx context.Context, job *model.Job, firedAt time.Time) {
	start := r.clock.Now()
	record, execErr := r.runPipeline(ctx, job, firedAt)
	duration := record.FinishedAt.Sub(start)

	evType := events.TypeExecuted
	if record.Outcome != model.OutcomeSuccess {
		evType = events.TypeFailed
	}
	r.bus.Publish(events.Event{
		Type:    evType,
		JobID:   job.ID,
		FiredAt: record.FiredAt,
		At:      record.FinishedAt,
		Outcome: record.Outcome,
		Message: record.Message,
	})

	metrics.EmitFiring(r.metrics, metrics.FiringMetric{
		TriggerKind: string(job.Trigger.Kind),
		Outcome:     string(record.Outcome),
		Duration:    duration,
		Err:         execErr,
	})

	if record.Outcome == model.OutcomeSuccess {
		r.logger.InfoContext(ctx, "pipeline firing succeeded",
			"job_id", job.ID, "record_id", record.RecordID, "duration", duration)
	} else {
		r.logger.ErrorContext(ctx, "pipeline firing failed",
			"job_id", job.ID, "record_id", record.RecordID, "outcome", record.Outcome,
			"exit_code", record.ExitCode, "message", record.Message)
	}

	r.writeRecord(ctx, record)
}

// runPipeline spawns the child and classifies its exit. The returned error
// only feeds metric tagging; the record is the authoritative outcome.
func (r *Runner) runPipeline(ctx context.Context, job *model.Job, firedAt time.Time) (*model.ExecutionRecord, error) {
	record := &model.ExecutionRecord{
		RecordID: uuid.NewString(),
		JobID:    job.ID,
		FiredAt:  firedAt,
	}

	args, badKeys := BuildArgs(job.PipelineConfig)
	if len(badKeys) > 0 {
		r.logger.WarnContext(ctx, "ignoring pipeline config keys with unusable values",
			"job_id", job.ID, "keys", badKeys)
	}

	runCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	stdout := &boundedBuffer{limit: r.outputLimit}
	stderr := &boundedBuffer{limit: r.outputLimit}

	// #nosec G204 -- the binary comes from operator configuration and the
	// argv from the stored job record, not from request input.
	cmd := exec.CommandContext(runCtx, r.bin, args...)
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.WaitDelay = pipeWaitDelay
	setProcessGroup(cmd)
	cmd.Cancel = func() error { return killProcessTree(cmd) }

	r.logger.InfoContext(ctx, "spawning pipeline",
		"job_id", job.ID, "record_id", record.RecordID, "bin", r.bin, "flags", len(args))

	if err := cmd.Start(); err != nil {
		record.FinishedAt = r.clock.Now()
		record.Outcome = model.OutcomeFailure
		record.ExitCode = -1
		record.Message = truncateTail("spawn pipeline: "+err.Error(), model.MaxRecordMessageBytes)
		return record, apperrors.Wrap(err, apperrors.ErrCodeSpawnFailed, "spawn pipeline")
	}

	waitErr := cmd.Wait()
	record.FinishedAt = r.clock.Now()
	record.TruncatedOutput = truncateTail(stdout.String(), model.MaxRecordMessageBytes)
	record.OutputOverflow = stdout.overflow || stderr.overflow

	return r.classifyExit(runCtx, record, cmd, stderr, waitErr)
}

func (r *Runner) classifyExit(
	runCtx context.Context,
	record *model.ExecutionRecord,
	cmd *exec.Cmd,
	stderr *boundedBuffer,
	waitErr error,
) (*model.ExecutionRecord, error) {
	if waitErr == nil {
		record.Outcome = model.OutcomeSuccess
		record.ExitCode = 0
		return record, nil
	}

	stderrTail := truncateTail(stderr.String(), model.MaxRecordMessageBytes)

	var exitErr *exec.ExitError
	switch {
	case errors.As(waitErr, &exitErr):
		record.ExitCode = exitErr.ExitCode()
		if runCtx.Err() != nil || record.ExitCode < 0 {
			record.Outcome = model.OutcomeTimeout
			fallback := "pipeline terminated by signal"
			if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
				fallback = fmt.Sprintf("pipeline killed after %s deadline", r.timeout)
			} else if runCtx.Err() != nil {
				fallback = "pipeline killed during shutdown"
			}
			record.Message = firstNonEmpty(stderrTail, fallback)
			return record, apperrors.Timeoutf("%s", fallback)
		}
		record.Outcome = model.OutcomeFailure
		record.Message = firstNonEmpty(stderrTail, fmt.Sprintf("pipeline exited with code %d", record.ExitCode))
		return record, waitErr

	case errors.Is(waitErr, exec.ErrWaitDelay) && cmd.ProcessState != nil && cmd.ProcessState.Success():
		// The child exited 0 but a descendant inherited its pipes and
		// held them past the wait delay; output capture is incomplete.
		record.Outcome = model.OutcomeSuccess
		record.ExitCode = 0
		record.OutputOverflow = true
		record.Message = "pipeline exited 0 with descendants still holding its output"
		return record, nil

	default:
		record.Outcome = model.OutcomeFailure
		record.ExitCode = -1
		record.Message = firstNonEmpty(stderrTail, waitErr.Error())
		return record, waitErr
	}
}

// writeRecord persists the report artifact. Best-effort: a write failure is
// logged and the firing outcome stands.
func (r *Runner) writeRecord(ctx context.Context, record *model.ExecutionRecord) {
	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		r.logger.ErrorContext(ctx, "failed to encode execution record",
			"job_id", record.JobID, "error", err)
		return
	}
	if err := os.MkdirAll(r.artifacts, 0o750); err != nil {
		r.logger.WarnContext(ctx, "failed to create artifacts dir",
			"dir", r.artifacts, "error", err)
		return
	}
	path := filepath.Join(r.artifacts, record.FileName())
	if err := os.WriteFile(path, data, 0o644); err != nil { // #nosec G306 -- reports are operator-readable
		r.logger.WarnContext(ctx, "failed to write execution record",
			"job_id", record.JobID, "path", path, "error", err)
	}
}

// boundedBuffer keeps the first limit bytes and drops the rest, flagging
// the overflow. Write never errors, so the child is never backpressured by
// a full capture buffer.
type boundedBuffer struct {
	limit    int
	buf      bytes.Buffer
	overflow bool
}

func (b *boundedBuffer) Write(p []byte) (int, error) {
	room := b.limit - b.buf.Len()
	switch {
	case room >= len(p):
		b.buf.Write(p)
	case room > 0:
		b.buf.Write(p[:room])
		b.overflow = true
	case len(p) > 0:
		b.overflow = true
	}
	return len(p), nil
}

func (b *boundedBuffer) String() string {
	return b.buf.String()
}

// truncateTail keeps at most max bytes from the end of s, where failure
// detail usually lives.
func truncateTail(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[len(s)-max:]
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}
