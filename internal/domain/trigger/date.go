package trigger

import (
	"fmt"
	"time"
)

// Date fires exactly once, at runDate. After that instant passes the trigger
// is exhausted and the owning job's next fire time becomes unset.
type Date struct {
	runDate time.Time
}

// NewDate builds a one-shot trigger for the given instant. Callers validate
// that the instant is in the future at creation time.
func NewDate(runDate time.Time) *Date {
	return &Date{runDate: runDate}
}

// NextAfter returns runDate while it is still strictly ahead of t.
func (d *Date) NextAfter(t time.Time) (time.Time, bool) {
	if d.runDate.After(t) {
		return d.runDate, true
	}
	return time.Time{}, false
}

// Kind identifies the variant.
func (d *Date) Kind() Kind {
	return KindDate
}

// Spec returns the serializable form of the trigger.
func (d *Date) Spec() Spec {
	runDate := d.runDate
	return Spec{
		Kind:    KindDate,
		RunDate: &runDate,
	}
}

// RunDate returns the single fire instant.
func (d *Date) RunDate() time.Time {
	return d.runDate
}

func (d *Date) String() string {
	return fmt.Sprintf("date[%s]", d.runDate.UTC().Format(time.RFC3339))
}

var _ Trigger = (*Date)(nil)
