package trigger

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	apperrors "github.com/ragline/ingestd/internal/errors"
)

// Cron fires on a five-field cron schedule (minute, hour, day-of-month,
// month, day-of-week) evaluated in a fixed timezone. Field syntax covers
// lists, ranges, steps, and mon..sun / jan..dec names. Around DST
// transitions, instants that do not exist (spring-forward) resolve to the
// first instant after the gap and repeated instants (fall-back) fire once.
type Cron struct {
	expression string
	timezone   string
	schedule   cron.Schedule
}

// NewCron parses expression in the given IANA timezone (empty means UTC).
func NewCron(expression, timezone string) (*Cron, error) {
	if expression == "" {
		return nil, apperrors.ValidationField("cron_expression", "cron expression is required")
	}
	tz := timezone
	if tz == "" {
		tz = "UTC"
	}
	if _, err := time.LoadLocation(tz); err != nil {
		return nil, apperrors.ValidationField("timezone", fmt.Sprintf("unknown timezone %q", tz))
	}
	schedule, err := cron.ParseStandard("CRON_TZ=" + tz + " " + expression)
	if err != nil {
		return nil, apperrors.ValidationField("cron_expression", fmt.Sprintf("invalid cron expression %q: %v", expression, err))
	}
	return &Cron{
		expression: expression,
		timezone:   tz,
		schedule:   schedule,
	}, nil
}

// NextAfter returns the first schedule activation strictly after t.
func (c *Cron) NextAfter(t time.Time) (time.Time, bool) {
	next := c.schedule.Next(t)
	if next.IsZero() {
		return time.Time{}, false
	}
	return next, true
}

// Kind identifies the variant.
func (c *Cron) Kind() Kind {
	return KindCron
}

// Spec returns the serializable form of the trigger.
func (c *Cron) Spec() Spec {
	return Spec{
		Kind:       KindCron,
		Expression: c.expression,
		Timezone:   c.timezone,
	}
}

// Expression returns the raw five-field expression.
func (c *Cron) Expression() string {
	return c.expression
}

// Timezone returns the IANA zone name the schedule evaluates in.
func (c *Cron) Timezone() string {
	return c.timezone
}

func (c *Cron) String() string {
	return fmt.Sprintf("cron[%s %s]", c.expression, c.timezone)
}

var _ Trigger = (*Cron)(nil)
