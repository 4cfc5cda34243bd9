// Package swimlane is the per-lane state machine: a lane waits, then runs its
// steps in order, then completes. Transitions are pure; the effects they return
// tell the scheduler which timers to start and which notices to send.
package swimlane

import (
	"fmt"

	"github.com/korjavin/routinetimer/pkg/models"
)

// Phase of a lane
type Phase int

const (
	Waiting Phase = iota
	Running
	Complete
)

func (p Phase) String() string {
	switch p {
	case Waiting:
		return "waiting"
	case Running:
		return "running"
	case Complete:
		return "complete"
	}
	return fmt.Sprintf("phase(%d)", int(p))
}

// State of a lane. StepIndex equals the step count once the lane is complete.
type State struct {
	Phase     Phase
	StepIndex int
}

// Event drives a transition
type Event int

const (
	// WaitExpired fires when the lane's wait reaches zero, by countdown, skip or recalculation
	WaitExpired Event = iota
	// StepCompleted fires when the current step reaches 100%, naturally or by skip
	StepCompleted
)

// EffectKind is what the scheduler has to do after a transition
type EffectKind int

const (
	// InitStep resets the step to 0% with its full duration remaining
	InitStep EffectKind = iota
	// StartTimer starts ticking an automatic step
	StartTimer
	// AnnounceReady tells the user a manual step is waiting to be started
	AnnounceReady
	// PassThrough completes a step that has nothing to schedule
	PassThrough
	// CompleteLane reports that the lane ran its last step
	CompleteLane
)

// Effect is a single scheduler action
type Effect struct {
	Kind      EffectKind
	StepIndex int
	// Settle asks for a short pause before an automatic step follows another one
	Settle bool
}

// Initial returns the starting state of a lane
func Initial(steps []models.Step, waiting bool) (State, []Effect) {
	if waiting {
		return State{Phase: Waiting}, nil
	}
	return enter(steps, 0, false)
}

// Transition applies an event. Events that don't apply to the current phase
// leave the state unchanged and return no effects.
func Transition(s State, ev Event, steps []models.Step) (State, []Effect) {
	switch {
	case s.Phase == Waiting && ev == WaitExpired:
		return enter(steps, 0, false)
	case s.Phase == Running && ev == StepCompleted:
		return enter(steps, s.StepIndex+1, true)
	}
	return s, nil
}

// enter makes step i current, passing straight through steps without a duration
func enter(steps []models.Step, i int, settle bool) (State, []Effect) {
	var effects []Effect
	for ; i < len(steps); i++ {
		effects = append(effects, Effect{Kind: InitStep, StepIndex: i})
		step := steps[i]
		if !step.Schedulable() {
			effects = append(effects, Effect{Kind: PassThrough, StepIndex: i})
			continue
		}
		if step.IsManual() {
			effects = append(effects, Effect{Kind: AnnounceReady, StepIndex: i})
		} else {
			effects = append(effects, Effect{Kind: StartTimer, StepIndex: i, Settle: settle})
		}
		return State{Phase: Running, StepIndex: i}, effects
	}
	effects = append(effects, Effect{Kind: CompleteLane, StepIndex: len(steps)})
	return State{Phase: Complete, StepIndex: len(steps)}, effects
}

// ShouldShowStartButton is true only for the lane's current step when it is
// manual and has not made any progress yet.
func ShouldShowStartButton(s State, stepIndex int, step models.Step, progress float64) bool {
	return s.Phase == Running &&
		s.StepIndex == stepIndex &&
		step.IsManual() &&
		progress == 0
}
