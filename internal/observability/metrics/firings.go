// Package metrics holds shared tag vocabulary and emission helpers for the
// scheduler's firing lifecycle.
package metrics

import (
	"time"

	obserrors "github.com/ragline/ingestd/internal/observability/errors"
	"github.com/ragline/ingestd/internal/observability/statsd"
)

// Result constants for loop tick tagging.
const (
	ResultSuccess = "success"
	ResultError   = "error"
	ResultNoop    = "noop"
)

// FiringMetric captures one pipeline firing for emission.
type FiringMetric struct {
	// TriggerKind is cron, interval, or date.
	TriggerKind string
	// Outcome is success, failure, timeout, or missed.
	Outcome  string
	Duration time.Duration
	Err      error
}

// EmitFiring emits the standardised firing metrics: a result counter and,
// when the firing actually ran, its duration.
func EmitFiring(sink statsd.Sink, in FiringMetric) {
	if sink == nil {
		return
	}

	tags := map[string]string{
		"trigger": in.TriggerKind,
		"outcome": in.Outcome,
	}
	if in.Err != nil {
		if class := obserrors.Classify(in.Err); class != "" {
			tags["error_class"] = class
		}
	}

	sink.Count("firing.result", 1, tags)

	if in.Duration > 0 {
		sink.Timing("firing.duration", in.Duration, CloneTags(tags))
	}
}

// CloneTags creates a shallow copy of a tag map so callers can emit the
// same tags twice without aliasing.
func CloneTags(src map[string]string) map[string]string {
	if len(src) == 0 {
		return nil
	}
	out := make(map[string]string, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}
