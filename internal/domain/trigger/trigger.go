// Package trigger implements the firing rules that produce a job's next fire
// instant: five-field cron expressions, fixed intervals, and one-shot dates.
package trigger

import (
	"fmt"
	"time"

	apperrors "github.com/ragline/ingestd/internal/errors"
)

// Kind identifies a trigger variant.
//
//nolint:recvcheck // UnmarshalText needs pointer receiver, Valid needs value receiver
type Kind string

const (
	// KindCron fires on a five-field cron schedule in a fixed timezone.
	KindCron Kind = "cron"
	// KindInterval fires every fixed period from an anchor instant.
	KindInterval Kind = "interval"
	// KindDate fires exactly once at a fixed instant.
	KindDate Kind = "date"
)

// Valid returns true if the Kind is a known trigger variant.
func (k Kind) Valid() bool {
	return k == KindCron || k == KindInterval || k == KindDate
}

// UnmarshalText implements encoding.TextUnmarshaler for Kind.
func (k *Kind) UnmarshalText(text []byte) error {
	v := Kind(text)
	if !v.Valid() {
		return fmt.Errorf("invalid trigger kind: %q", string(text))
	}
	*k = v
	return nil
}

// Trigger yields fire instants for a job. Implementations are immutable and
// safe for concurrent use.
type Trigger interface {
	// NextAfter returns the first fire instant strictly after t.
	// ok is false when the trigger has no instant after t (exhausted).
	// NextAfter is monotonic in t and total.
	NextAfter(t time.Time) (next time.Time, ok bool)
	// Kind identifies the variant.
	Kind() Kind
	// Spec returns the serializable form of the trigger.
	Spec() Spec
	// String renders a stable, deterministic description.
	String() string
}

// Spec is the flat serialized form of a trigger variant. It is the only
// representation that crosses the store and export boundaries; trigger
// internals stay private.
type Spec struct {
	Kind          Kind       `json:"kind"`
	Expression    string     `json:"expression,omitempty"`
	Timezone      string     `json:"timezone,omitempty"`
	PeriodSeconds int64      `json:"period_seconds,omitempty"`
	Anchor        *time.Time `json:"anchor,omitempty"`
	RunDate       *time.Time `json:"run_date,omitempty"`
}

// FromSpec reconstructs a trigger from its serialized form.
func FromSpec(s Spec) (Trigger, error) {
	switch s.Kind {
	case KindCron:
		return NewCron(s.Expression, s.Timezone)
	case KindInterval:
		if s.Anchor == nil {
			return nil, apperrors.ValidationField("anchor", "interval trigger requires an anchor instant")
		}
		return NewInterval(time.Duration(s.PeriodSeconds)*time.Second, *s.Anchor)
	case KindDate:
		if s.RunDate == nil {
			return nil, apperrors.ValidationField("run_date", "date trigger requires a run date")
		}
		return NewDate(*s.RunDate), nil
	default:
		return nil, apperrors.Validationf("unknown trigger kind %q", s.Kind)
	}
}
