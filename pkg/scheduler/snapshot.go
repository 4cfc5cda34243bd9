package scheduler

import (
	"time"

	"github.com/korjavin/routinetimer/pkg/models"
	"github.com/korjavin/routinetimer/pkg/swimlane"
	"github.com/korjavin/routinetimer/pkg/timer"
)

// Snapshot is a point-in-time copy of a routine run, safe to hand to renderers
type Snapshot struct {
	RoutineID string
	Status    models.RoutineStatus
	// Swimlanes is keyed by lane id
	Swimlanes map[string]models.SwimlaneStatus
	// StepProgress and RemainingTimeInSeconds hold the steps that have become current
	StepProgress           map[string]float64
	RemainingTimeInSeconds map[string]float64
	// WaitTimeRemaining holds the lanes that were planned with a wait
	WaitTimeRemaining map[string]float64
	Shortfall         time.Duration
	Timed             bool
	ActiveTimers      int
}

// Progress returns a step's percentage, zero for steps not reached yet
func (s Snapshot) Progress(stepID string) float64 {
	return s.StepProgress[stepID]
}

// Lane returns the status of one lane
func (s Snapshot) Lane(laneID string) (models.SwimlaneStatus, bool) {
	st, ok := s.Swimlanes[laneID]
	return st, ok
}

// Snapshot copies the current runtime state
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	snap := Snapshot{
		RoutineID:              c.routine.ID,
		Status:                 c.status,
		Swimlanes:              make(map[string]models.SwimlaneStatus, len(c.lanes)),
		StepProgress:           make(map[string]float64),
		RemainingTimeInSeconds: make(map[string]float64),
		WaitTimeRemaining:      make(map[string]float64),
		Shortfall:              c.plan.Shortfall,
		Timed:                  c.plan.Timed,
		ActiveTimers:           c.timers.Len(),
	}

	for _, ls := range c.lanes {
		snap.Swimlanes[ls.lane.ID] = models.SwimlaneStatus{
			CurrentStepIndex:  ls.fsm.StepIndex,
			WaitTimeInSeconds: ls.wait.Seconds(),
			IsWaiting:         ls.fsm.Phase == swimlane.Waiting,
		}
		if ls.hadWait {
			snap.WaitTimeRemaining[ls.lane.ID] = ls.wait.Seconds()
		}
		for _, st := range ls.stepStates {
			if !st.tracked || c.steps[st.step.ID] != st {
				continue
			}
			d := st.step.Duration()
			snap.StepProgress[st.step.ID] = timer.Progress(st.elapsed, d)
			snap.RemainingTimeInSeconds[st.step.ID] = timer.Remaining(st.elapsed, d).Seconds()
		}
	}

	return snap
}
