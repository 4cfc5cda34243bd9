// Package timer keeps the set of active step and wait timers of a routine run.
//
// Timers do not own goroutines. The scheduler visits them on every tick and each
// timer reports how much wall-clock time passed since it was last observed, so a
// late tick catches up instead of drifting.
package timer

import (
	"time"
)

// Clock supplies the current time
type Clock interface {
	Now() time.Time
}

// SystemClock reads the real wall clock
type SystemClock struct{}

// Now implements Clock
func (SystemClock) Now() time.Time {
	return time.Now()
}

// Kind tells step timers from wait timers
type Kind int

const (
	KindStep Kind = iota
	KindWait
)

func (k Kind) String() string {
	if k == KindWait {
		return "wait"
	}
	return "step"
}

// Entry is one active timer
type Entry struct {
	Kind   Kind
	LaneID string
	StepID string
	last   time.Time
}

// Anchor is the instant the timer was last observed, or the settle deadline of a
// step that hasn't begun counting yet
func (e *Entry) Anchor() time.Time {
	return e.last
}

// Advance returns the time to credit since the previous observation and moves the
// anchor to now. Nothing is credited before the anchor (a settle delay) or while
// paused; a paused timer still moves its anchor so the pause is not credited later.
func (e *Entry) Advance(now time.Time, paused bool) time.Duration {
	if now.Before(e.last) {
		return 0
	}
	elapsed := now.Sub(e.last)
	e.last = now
	if paused {
		return 0
	}
	return elapsed
}

// Registry holds at most one timer per lane
type Registry struct {
	byLane map[string]*Entry
	byStep map[string]*Entry
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		byLane: make(map[string]*Entry),
		byStep: make(map[string]*Entry),
	}
}

// StartStep registers a step timer, replacing whatever timer the lane had.
// Time starts counting at notBefore, which may be later than now.
func (r *Registry) StartStep(laneID, stepID string, notBefore time.Time) *Entry {
	r.CancelLane(laneID)
	e := &Entry{Kind: KindStep, LaneID: laneID, StepID: stepID, last: notBefore}
	r.byLane[laneID] = e
	r.byStep[stepID] = e
	return e
}

// StartWait registers a wait countdown, replacing whatever timer the lane had
func (r *Registry) StartWait(laneID string, now time.Time) *Entry {
	r.CancelLane(laneID)
	e := &Entry{Kind: KindWait, LaneID: laneID, last: now}
	r.byLane[laneID] = e
	return e
}

// Lane returns the active timer of a lane
func (r *Registry) Lane(laneID string) (*Entry, bool) {
	e, ok := r.byLane[laneID]
	return e, ok
}

// Step returns the active timer of a step
func (r *Registry) Step(stepID string) (*Entry, bool) {
	e, ok := r.byStep[stepID]
	return e, ok
}

// CancelLane drops the lane's timer, whatever its kind
func (r *Registry) CancelLane(laneID string) bool {
	e, ok := r.byLane[laneID]
	if !ok {
		return false
	}
	delete(r.byLane, laneID)
	if e.Kind == KindStep {
		delete(r.byStep, e.StepID)
	}
	return true
}

// CancelStep drops a step timer
func (r *Registry) CancelStep(stepID string) bool {
	e, ok := r.byStep[stepID]
	if !ok {
		return false
	}
	delete(r.byStep, stepID)
	delete(r.byLane, e.LaneID)
	return true
}

// CancelWait drops a lane's wait timer, leaving a step timer alone
func (r *Registry) CancelWait(laneID string) bool {
	e, ok := r.byLane[laneID]
	if !ok || e.Kind != KindWait {
		return false
	}
	delete(r.byLane, laneID)
	return true
}

// CancelAll drops every timer
func (r *Registry) CancelAll() int {
	n := len(r.byLane)
	r.byLane = make(map[string]*Entry)
	r.byStep = make(map[string]*Entry)
	return n
}

// Len is the number of outstanding timers
func (r *Registry) Len() int {
	return len(r.byLane)
}

// Progress converts elapsed time into a 0-100 percentage
func Progress(elapsed, duration time.Duration) float64 {
	if duration <= 0 || elapsed >= duration {
		return 100
	}
	if elapsed <= 0 {
		return 0
	}
	return float64(elapsed) / float64(duration) * 100
}

// Remaining is the time left on a step, clamped to [0, duration]
func Remaining(elapsed, duration time.Duration) time.Duration {
	if duration <= 0 || elapsed >= duration {
		return 0
	}
	if elapsed <= 0 {
		return duration
	}
	return duration - elapsed
}
