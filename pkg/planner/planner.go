// Package planner computes how long each swimlane should idle before it starts
// so that every lane finishes together, and shrinks those waits as lanes progress.
package planner

import (
	"fmt"
	"time"

	"github.com/korjavin/routinetimer/pkg/models"
)

// TotalDurations returns the summed step duration of every lane, keyed by lane id.
// Steps with a non-positive duration are never scheduled and count as zero.
func TotalDurations(lanes []models.SwimLane) map[string]time.Duration {
	totals := make(map[string]time.Duration, len(lanes))
	for _, lane := range lanes {
		totals[lane.ID] = laneDuration(lane.Steps)
	}
	return totals
}

func laneDuration(steps []models.Step) time.Duration {
	var total time.Duration
	for _, step := range steps {
		if step.Schedulable() {
			total += step.Duration()
		}
	}
	return total
}

// Plan is the initial synchronisation of a routine's lanes
type Plan struct {
	// Horizon is the duration every lane is aligned to
	Horizon time.Duration
	// Totals holds each lane's own work
	Totals map[string]time.Duration
	// Waits holds each lane's idle period before its first step
	Waits map[string]time.Duration
	// Shortfall is how far the longest lane overruns a target end time
	Shortfall time.Duration
	// Timed is set when the plan was built against a target end time
	Timed bool
}

// Feasible reports whether every lane can finish by the target end time
func (p Plan) Feasible() bool {
	return p.Shortfall == 0
}

// IsWaiting reports whether a lane starts with a wait period
func (p Plan) IsWaiting(laneID string) bool {
	return p.Waits[laneID] > 0
}

// Initial builds the starting plan. Without a target the horizon is the longest
// lane; with one it is the time left until the target, never negative.
func Initial(lanes []models.SwimLane, target *time.Time, now time.Time) Plan {
	totals := TotalDurations(lanes)

	var longest time.Duration
	for _, total := range totals {
		if total > longest {
			longest = total
		}
	}

	plan := Plan{
		Horizon: longest,
		Totals:  totals,
		Waits:   make(map[string]time.Duration, len(lanes)),
	}

	if target != nil {
		plan.Timed = true
		plan.Horizon = target.Sub(now)
		if plan.Horizon < 0 {
			plan.Horizon = 0
		}
		if longest > plan.Horizon {
			plan.Shortfall = longest - plan.Horizon
		}
	}

	for _, lane := range lanes {
		plan.Waits[lane.ID] = nonNegative(plan.Horizon - totals[lane.ID])
	}

	return plan
}

// LaneProgress is where a lane currently stands
type LaneProgress struct {
	Waiting   bool
	StepIndex int
	// Elapsed is the time already spent on the current step
	Elapsed time.Duration
}

// RemainingWork is the step time a lane still has to run. A waiting lane owes its
// full duration; a lane in progress owes the unfinished part of its current step
// plus every later step; a finished lane owes nothing.
func RemainingWork(lane models.SwimLane, p LaneProgress) time.Duration {
	if p.Waiting {
		return laneDuration(lane.Steps)
	}
	if p.StepIndex < 0 || p.StepIndex >= len(lane.Steps) {
		return 0
	}

	current := lane.Steps[p.StepIndex]
	var remaining time.Duration
	if current.Schedulable() {
		remaining = nonNegative(current.Duration() - p.Elapsed)
	}
	return remaining + laneDuration(lane.Steps[p.StepIndex+1:])
}

// Recalculate shrinks the waits of still-waiting lanes against a new horizon,
// the largest remaining work of any lane. remaining must hold every lane; waits
// holds only lanes that are waiting, with their current wait remaining.
// The result holds only the lanes whose wait got shorter; a zero value means
// the lane should start now.
func Recalculate(remaining map[string]time.Duration, waits map[string]time.Duration) map[string]time.Duration {
	var horizon time.Duration
	for _, work := range remaining {
		if work > horizon {
			horizon = work
		}
	}

	adopted := make(map[string]time.Duration)
	for laneID, current := range waits {
		candidate := nonNegative(horizon - remaining[laneID])
		if candidate < current {
			adopted[laneID] = candidate
		}
	}
	return adopted
}

func nonNegative(d time.Duration) time.Duration {
	if d < 0 {
		return 0
	}
	return d
}

// NextOccurrence resolves a wall-clock "HH:MM" to the next time it comes round
// in now's location: later today, or tomorrow if it has already passed.
func NextOccurrence(now time.Time, hhmm string) (time.Time, error) {
	t, err := time.Parse("15:04", hhmm)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid end time %q, want HH:MM", hhmm)
	}
	target := time.Date(now.Year(), now.Month(), now.Day(), t.Hour(), t.Minute(), 0, 0, now.Location())
	if !target.After(now) {
		target = target.AddDate(0, 0, 1)
	}
	return target, nil
}
