package service

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/ragline/ingestd/internal/core"
	"github.com/ragline/ingestd/internal/domain/model"
	obserrors "github.com/ragline/ingestd/internal/observability/errors"
	"github.com/ragline/ingestd/internal/observability/metrics"
	"github.com/ragline/ingestd/internal/observability/statsd"
)

// Retention defaults.
const (
	DefaultRetentionInterval = time.Hour
	DefaultRetentionMaxAge   = 30 * 24 * time.Hour
)

// RetentionOptions groups dependencies for Retention.
type RetentionOptions struct {
	// Dir is the artifacts directory to sweep; defaults to the runner default.
	Dir string
	// MaxAge is how old a report may grow before deletion; defaults to 30 days.
	MaxAge time.Duration
	// Interval between sweeps; defaults to 1 hour.
	Interval time.Duration

	Clock   core.TimeProvider
	Logger  *slog.Logger
	Metrics statsd.Sink
}

// Retention sweeps expired job report artifacts out of the artifacts
// directory. Reports are append-only otherwise; without the sweeper a
// busy interval job fills the disk within weeks.
type Retention struct {
	dir      string
	maxAge   time.Duration
	interval time.Duration
	clock    core.TimeProvider
	logger   *slog.Logger
	metrics  statsd.Sink
}

// NewRetention constructs a Retention sweeper.
func NewRetention(opts RetentionOptions) *Retention {
	dir := opts.Dir
	if dir == "" {
		dir = core.DefaultRunnerConfig().ArtifactsDir
	}
	maxAge := opts.MaxAge
	if maxAge <= 0 {
		maxAge = DefaultRetentionMaxAge
	}
	interval := opts.Interval
	if interval <= 0 {
		interval = DefaultRetentionInterval
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

	return &Retention{
		dir:      dir,
		maxAge:   maxAge,
		interval: interval,
		clock:    clock,
		logger:   logger,
		metrics:  sink,
	}
}

// Run sweeps at the configured interval until the context is cancelled.
// Returns nil on graceful shutdown (context.Canceled), error otherwise.
func (r *Retention) Run(ctx context.Context) error {
	r.logger.InfoContext(ctx, "starting artifact retention",
		"dir", r.dir,
		"interval", r.interval,
		"max_age", r.maxAge,
	)

	// Jitter the first sweep so nodes sharing an artifacts volume do not
	// sweep in lockstep.
	r.waitWithJitter(ctx)
	if ctx.Err() != nil {
		return nil
	}

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.sweep(ctx)

	for {
		select {
		case <-ctx.Done():
			r.logger.InfoContext(ctx, "artifact retention stopping", "reason", ctx.Err())
			if errors.Is(ctx.Err(), context.Canceled) {
				return nil
			}
			return ctx.Err()
		case <-ticker.C:
			r.sweep(ctx)
		}
	}
}

// waitWithJitter delays up to 10% of the interval.
func (r *Retention) waitWithJitter(ctx context.Context) {
	maxJitter := int64(r.interval / 10)
	if maxJitter <= 0 {
		return
	}

	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		r.logger.WarnContext(ctx, "failed to generate sweep jitter, skipping", "error", err)
		return
	}
	jitter := time.Duration(int64(binary.BigEndian.Uint64(buf[:]) % uint64(maxJitter))) // #nosec G115 -- bounded by maxJitter

	select {
	case <-time.After(jitter):
	case <-ctx.Done():
	}
}

func (r *Retention) sweep(ctx context.Context) {
	start := time.Now()
	removed, err := r.removeExpired()
	r.emitSweepMetrics(removed, time.Since(start), err)

	switch {
	case err != nil:
		r.logger.ErrorContext(ctx, "artifact sweep failed", "error", err)
	case removed > 0:
		r.logger.InfoContext(ctx, "expired job reports removed",
			"count", removed,
			"max_age", r.maxAge,
		)
	}
}

// removeExpired deletes job reports whose modification time is older than
// the cutoff. Files vanishing mid-sweep are fine, another node got there
// first.
func (r *Retention) removeExpired() (int, error) {
	cutoff := r.clock.Now().Add(-r.maxAge)
	pattern := filepath.Join(r.dir, model.ReportFilePrefix+"*.json")
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return 0, fmt.Errorf("glob %s: %w", pattern, err)
	}

	removed := 0
	var errs []error
	for _, path := range matches {
		info, err := os.Stat(path)
		if err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				errs = append(errs, err)
			}
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		if err := os.Remove(path); err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				errs = append(errs, err)
			}
			continue
		}
		removed++
	}
	return removed, errors.Join(errs...)
}

func (r *Retention) emitSweepMetrics(removed int, elapsed time.Duration, err error) {
	result := metrics.ResultSuccess
	switch {
	case err != nil:
		result = metrics.ResultError
	case removed == 0:
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

	r.metrics.Count("retention.sweep", 1, tags)

	if removed > 0 {
		r.metrics.Count("retention.reports_removed", int64(removed), metrics.CloneTags(tags))
	}
	if elapsed > 0 {
		r.metrics.Timing("retention.sweep_duration", elapsed, metrics.CloneTags(tags))
	}
	if err == nil {
		r.metrics.Gauge("retention.last_success_epoch", float64(r.clock.Now().Unix()), nil)
	}
}
