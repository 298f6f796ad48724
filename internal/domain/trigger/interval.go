package trigger

import (
	"fmt"
	"time"

	apperrors "github.com/ragline/ingestd/internal/errors"
)

// Interval fires on the grid anchor, anchor+period, anchor+2·period, ...
// The anchor pins the grid across restarts; jobs created without an explicit
// anchor use their creation instant.
type Interval struct {
	period time.Duration
	anchor time.Time
}

// NewInterval builds an interval trigger. The period must be positive and
// the anchor must be set.
func NewInterval(period time.Duration, anchor time.Time) (*Interval, error) {
	if period <= 0 {
		return nil, apperrors.ValidationField("period", "interval period must be positive")
	}
	if anchor.IsZero() {
		return nil, apperrors.ValidationField("anchor", "interval trigger requires an anchor instant")
	}
	return &Interval{
		period: period,
		anchor: anchor,
	}, nil
}

// NextAfter returns the first grid boundary strictly after t.
func (iv *Interval) NextAfter(t time.Time) (time.Time, bool) {
	if t.Before(iv.anchor) {
		return iv.anchor, true
	}
	elapsed := t.Sub(iv.anchor)
	k := elapsed/iv.period + 1
	return iv.anchor.Add(k * iv.period), true
}

// Kind identifies the variant.
func (iv *Interval) Kind() Kind {
	return KindInterval
}

// Spec returns the serializable form of the trigger.
func (iv *Interval) Spec() Spec {
	anchor := iv.anchor
	return Spec{
		Kind:          KindInterval,
		PeriodSeconds: int64(iv.period / time.Second),
		Anchor:        &anchor,
	}
}

// Period returns the spacing between boundaries.
func (iv *Interval) Period() time.Duration {
	return iv.period
}

func (iv *Interval) String() string {
	return fmt.Sprintf("interval[%s]", iv.period)
}

var _ Trigger = (*Interval)(nil)
