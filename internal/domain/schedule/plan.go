// Package schedule computes the firing plan for a due job: which trigger
// boundaries get dispatched and which are reported missed, honoring the
// job's coalesce flag and misfire grace.
package schedule

import (
	"time"

	"github.com/ragline/ingestd/internal/domain/trigger"
)

// DefaultMaxBoundaries caps how many overdue boundaries one plan enumerates.
// A job that slept for months must not unwind into an unbounded burst.
const DefaultMaxBoundaries = 1000

// Planner turns a due job into a firing plan. It is pure: no clocks, no
// stores, no side effects.
type Planner struct {
	maxBoundaries int
}

// PlannerOptions configures Planner limits.
type PlannerOptions struct {
	// MaxBoundaries overrides DefaultMaxBoundaries when positive.
	MaxBoundaries int
}

// NewPlanner constructs a Planner with sane defaults.
func NewPlanner(opts PlannerOptions) *Planner {
	maxBoundaries := opts.MaxBoundaries
	if maxBoundaries <= 0 {
		maxBoundaries = DefaultMaxBoundaries
	}
	return &Planner{maxBoundaries: maxBoundaries}
}

// PlanParams supplies one due job's firing context.
type PlanParams struct {
	// Trigger produces the job's boundaries.
	Trigger trigger.Trigger
	// OriginalNext is the persisted next fire time that made the job due.
	OriginalNext time.Time
	// Now is the acquisition instant.
	Now time.Time
	// Coalesce collapses a backlog into a single firing.
	Coalesce bool
	// Grace is how late a boundary may fire before it counts as missed.
	Grace time.Duration
}

// Plan is the outcome: boundaries to dispatch and boundaries to report
// missed, both ascending. A boundary appears in Dispatch, in Missed, or
// (coalesce with a late backlog) in both.
type Plan struct {
	Dispatch  []time.Time
	Missed    []time.Time
	Coalesced int
	Truncated bool
}

// Empty reports whether the plan carries no work at all.
func (p Plan) Empty() bool {
	return len(p.Dispatch) == 0 && len(p.Missed) == 0
}

// Plan enumerates the due boundaries in (OriginalNext-1, Now] and applies
// the misfire policy.
//
// coalesce=true: dispatch only the latest boundary; one Missed entry stands
// for the whole skipped backlog (or for lateness beyond grace when there is
// no backlog). coalesce=false: dispatch every boundary within grace, report
// every boundary beyond it. Counts saturate at the planner's boundary cap.
func (pl *Planner) Plan(params PlanParams) Plan {
	if params.Trigger == nil || params.OriginalNext.After(params.Now) {
		return Plan{}
	}

	boundaries, truncated := pl.dueBoundaries(params)
	if len(boundaries) == 0 {
		return Plan{}
	}

	if params.Coalesce {
		return coalescedPlan(boundaries, truncated, params)
	}
	return perBoundaryPlan(boundaries, truncated, params)
}

// dueBoundaries walks the trigger grid from OriginalNext to Now inclusive.
// OriginalNext is itself a boundary: it was derived from this trigger when
// the job was last written.
func (pl *Planner) dueBoundaries(params PlanParams) ([]time.Time, bool) {
	boundaries := []time.Time{params.OriginalNext}
	cursor := params.OriginalNext
	for len(boundaries) < pl.maxBoundaries {
		next, ok := params.Trigger.NextAfter(cursor)
		if !ok || next.After(params.Now) {
			return boundaries, false
		}
		boundaries = append(boundaries, next)
		cursor = next
	}
	return boundaries, true
}

func coalescedPlan(boundaries []time.Time, truncated bool, params PlanParams) Plan {
	latest := boundaries[len(boundaries)-1]
	plan := Plan{
		Dispatch:  []time.Time{latest},
		Coalesced: len(boundaries) - 1,
		Truncated: truncated,
	}
	if len(boundaries) > 1 {
		plan.Missed = []time.Time{boundaries[0]}
	} else if params.Now.Sub(boundaries[0]) > params.Grace {
		plan.Missed = []time.Time{boundaries[0]}
	}
	return plan
}

func perBoundaryPlan(boundaries []time.Time, truncated bool, params PlanParams) Plan {
	plan := Plan{Truncated: truncated}
	for _, b := range boundaries {
		if params.Now.Sub(b) > params.Grace {
			plan.Missed = append(plan.Missed, b)
			continue
		}
		plan.Dispatch = append(plan.Dispatch, b)
	}
	return plan
}
