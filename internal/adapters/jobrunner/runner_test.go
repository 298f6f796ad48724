package jobrunner_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ragline/ingestd/internal/adapters/jobrunner"
	"github.com/ragline/ingestd/internal/core"
	"github.com/ragline/ingestd/internal/domain/model"
	"github.com/ragline/ingestd/internal/domain/trigger"
	"github.com/ragline/ingestd/internal/events"
)

func mockPipeline(t *testing.T, content string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("mock pipeline scripts need a POSIX shell")
	}

	path := filepath.Join(t.TempDir(), "pipeline_exec")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+content+"\n"), 0o600))
	require.NoError(t, os.Chmod(path, 0o700))
	return path
}

type runnerEnv struct {
	runner    *jobrunner.Runner
	eventCh   <-chan events.Event
	artifacts string
}

func newRunnerEnv(t *testing.T, bin string, mutate func(*core.RunnerConfig)) *runnerEnv {
	t.Helper()

	bus := events.NewBus(events.BusOptions{})
	t.Cleanup(bus.Close)
	ch, unsub := bus.Subscribe("runner-test")
	t.Cleanup(unsub)

	cfg := core.RunnerConfig{
		PipelineBin:  bin,
		Timeout:      30 * time.Second,
		ArtifactsDir: t.TempDir(),
	}
	if mutate != nil {
		mutate(&cfg)
	}

	runner, err := jobrunner.NewRunner(jobrunner.Options{
		Config: cfg,
		Bus:    bus,
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	require.NoError(t, err)

	return &runnerEnv{runner: runner, eventCh: ch, artifacts: cfg.ArtifactsDir}
}

func (e *runnerEnv) waitEvent(t *testing.T) events.Event {
	t.Helper()
	select {
	case ev := <-e.eventCh:
		return ev
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for a lifecycle event")
		return events.Event{}
	}
}

func (e *runnerEnv) readRecord(t *testing.T) *model.ExecutionRecord {
	t.Helper()

	entries, err := os.ReadDir(e.artifacts)
	require.NoError(t, err)
	require.Len(t, entries, 1, "expected exactly one report artifact")
	require.True(t, strings.HasPrefix(entries[0].Name(), model.ReportFilePrefix))

	data, err := os.ReadFile(filepath.Join(e.artifacts, entries[0].Name()))
	require.NoError(t, err)

	var record model.ExecutionRecord
	require.NoError(t, json.Unmarshal(data, &record))
	return &record
}

func runnerJob(id string, cfg model.PipelineConfig) *model.Job {
	return &model.Job{
		ID:                  id,
		Trigger:             trigger.Spec{Kind: trigger.KindInterval, PeriodSeconds: 60},
		PipelineConfig:      cfg,
		MaxInstances:        model.DefaultMaxInstances,
		MisfireGraceSeconds: model.DefaultMisfireGraceSeconds,
	}
}

func TestRunnerSuccess(t *testing.T) {
	t.Parallel()

	bin := mockPipeline(t, `echo "indexed 42 documents"`)
	env := newRunnerEnv(t, bin, nil)
	firedAt := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	env.runner.Execute(context.Background(), runnerJob("nightly", nil), firedAt)

	ev := env.waitEvent(t)
	assert.Equal(t, events.TypeExecuted, ev.Type)
	assert.Equal(t, "nightly", ev.JobID)
	assert.Equal(t, model.OutcomeSuccess, ev.Outcome)
	assert.True(t, ev.FiredAt.Equal(firedAt))

	record := env.readRecord(t)
	assert.Equal(t, model.OutcomeSuccess, record.Outcome)
	assert.Equal(t, 0, record.ExitCode)
	assert.NotEmpty(t, record.RecordID)
	assert.Contains(t, record.TruncatedOutput, "indexed 42 documents")
	assert.False(t, record.OutputOverflow)
}

func TestRunnerFailureCapturesStderr(t *testing.T) {
	t.Parallel()

	bin := mockPipeline(t, `echo "collection wedged" >&2
exit 3`)
	env := newRunnerEnv(t, bin, nil)

	env.runner.Execute(context.Background(), runnerJob("flaky", nil), time.Now())

	ev := env.waitEvent(t)
	assert.Equal(t, events.TypeFailed, ev.Type)
	assert.Equal(t, model.OutcomeFailure, ev.Outcome)
	assert.Contains(t, ev.Message, "collection wedged")

	record := env.readRecord(t)
	assert.Equal(t, model.OutcomeFailure, record.Outcome)
	assert.Equal(t, 3, record.ExitCode)
	assert.Contains(t, record.Message, "collection wedged")
}

func TestRunnerSpawnFailure(t *testing.T) {
	t.Parallel()

	bin := filepath.Join(t.TempDir(), "missing_pipeline")
	env := newRunnerEnv(t, bin, nil)

	env.runner.Execute(context.Background(), runnerJob("ghost", nil), time.Now())

	ev := env.waitEvent(t)
	assert.Equal(t, events.TypeFailed, ev.Type)
	assert.Equal(t, model.OutcomeFailure, ev.Outcome)
	assert.Contains(t, ev.Message, "spawn pipeline")

	record := env.readRecord(t)
	assert.Equal(t, model.OutcomeFailure, record.Outcome)
	assert.Equal(t, -1, record.ExitCode)
}

func TestRunnerTimeoutKillsChild(t *testing.T) {
	t.Parallel()

	bin := mockPipeline(t, `sleep 30`)
	env := newRunnerEnv(t, bin, func(cfg *core.RunnerConfig) {
		cfg.Timeout = 100 * time.Millisecond
	})

	start := time.Now()
	env.runner.Execute(context.Background(), runnerJob("slow", nil), time.Now())
	elapsed := time.Since(start)

	assert.Less(t, elapsed, 10*time.Second, "deadline kill should not wait for the sleep")

	ev := env.waitEvent(t)
	assert.Equal(t, events.TypeFailed, ev.Type)
	assert.Equal(t, model.OutcomeTimeout, ev.Outcome)
	assert.Contains(t, ev.Message, "deadline")

	record := env.readRecord(t)
	assert.Equal(t, model.OutcomeTimeout, record.Outcome)
}

func TestRunnerPassesBuiltArgv(t *testing.T) {
	t.Parallel()

	bin := mockPipeline(t, `printf '%s ' "$@"`)
	env := newRunnerEnv(t, bin, nil)
	cfg := model.PipelineConfig{
		"dry_run":    model.BoolValue(true),
		"batch_size": model.IntValue(25),
	}

	env.runner.Execute(context.Background(), runnerJob("argv", cfg), time.Now())

	env.waitEvent(t)
	record := env.readRecord(t)
	assert.Contains(t, record.TruncatedOutput, "--ci")
	assert.Contains(t, record.TruncatedOutput, "--dry-run")
	assert.Contains(t, record.TruncatedOutput, "--batch-size 25")
}

func TestRunnerFlagsOutputOverflow(t *testing.T) {
	t.Parallel()

	bin := mockPipeline(t, `i=0
while [ $i -lt 200 ]; do
  echo "0123456789"
  i=$((i+1))
done`)
	env := newRunnerEnv(t, bin, func(cfg *core.RunnerConfig) {
		cfg.OutputLimitBytes = 64
	})

	env.runner.Execute(context.Background(), runnerJob("chatty", nil), time.Now())

	ev := env.waitEvent(t)
	assert.Equal(t, events.TypeExecuted, ev.Type)

	record := env.readRecord(t)
	assert.True(t, record.OutputOverflow)
	assert.LessOrEqual(t, len(record.TruncatedOutput), model.MaxRecordMessageBytes)
}

func TestRunnerRequiresBus(t *testing.T) {
	t.Parallel()

	_, err := jobrunner.NewRunner(jobrunner.Options{})
	require.Error(t, err)
}

func TestRunnerArtifactNameMatchesConvention(t *testing.T) {
	t.Parallel()

	bin := mockPipeline(t, `exit 0`)
	env := newRunnerEnv(t, bin, nil)
	firedAt := time.Date(2025, 3, 1, 12, 30, 45, 0, time.UTC)

	env.runner.Execute(context.Background(), runnerJob("named", nil), firedAt)
	env.waitEvent(t)

	entries, err := os.ReadDir(env.artifacts)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "job_report_named_20250301_123045.json", entries[0].Name())
}
