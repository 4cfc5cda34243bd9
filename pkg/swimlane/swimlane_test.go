package swimlane

import (
	"testing"

	"github.com/korjavin/routinetimer/pkg/models"
	"github.com/stretchr/testify/assert"
)

func steps() []models.Step {
	return []models.Step{
		{ID: "s0", DurationInSeconds: 10, StartType: models.StartAutomatic},
		{ID: "s1", DurationInSeconds: 20, StartType: models.StartManual},
		{ID: "s2", DurationInSeconds: 0, StartType: models.StartAutomatic},
		{ID: "s3", DurationInSeconds: 5, StartType: models.StartAutomatic},
	}
}

func kinds(effects []Effect) []EffectKind {
	out := make([]EffectKind, len(effects))
	for i, e := range effects {
		out[i] = e.Kind
	}
	return out
}

func TestInitial(t *testing.T) {
	s, effects := Initial(steps(), true)
	assert.Equal(t, State{Phase: Waiting}, s)
	assert.Empty(t, effects)

	s, effects = Initial(steps(), false)
	assert.Equal(t, State{Phase: Running, StepIndex: 0}, s)
	assert.Equal(t, []EffectKind{InitStep, StartTimer}, kinds(effects))
	assert.False(t, effects[1].Settle, "first step starts without settling")
}

func TestInitial_EmptyLaneIsComplete(t *testing.T) {
	s, effects := Initial(nil, false)
	assert.Equal(t, State{Phase: Complete, StepIndex: 0}, s)
	assert.Equal(t, []EffectKind{CompleteLane}, kinds(effects))
}

func TestTransition_FullLane(t *testing.T) {
	st := steps()

	s, effects := Transition(State{Phase: Waiting}, WaitExpired, st)
	assert.Equal(t, State{Phase: Running, StepIndex: 0}, s)
	assert.Equal(t, []EffectKind{InitStep, StartTimer}, kinds(effects))

	s, effects = Transition(s, StepCompleted, st)
	assert.Equal(t, State{Phase: Running, StepIndex: 1}, s)
	assert.Equal(t, []EffectKind{InitStep, AnnounceReady}, kinds(effects), "manual step waits for a start")

	// the zero-length step is passed straight through
	s, effects = Transition(s, StepCompleted, st)
	assert.Equal(t, State{Phase: Running, StepIndex: 3}, s)
	assert.Equal(t, []EffectKind{InitStep, PassThrough, InitStep, StartTimer}, kinds(effects))
	assert.True(t, effects[3].Settle)

	s, effects = Transition(s, StepCompleted, st)
	assert.Equal(t, State{Phase: Complete, StepIndex: 4}, s)
	assert.Equal(t, []EffectKind{CompleteLane}, kinds(effects))
}

func TestTransition_IgnoresEventsThatDontApply(t *testing.T) {
	st := steps()
	running := State{Phase: Running, StepIndex: 1}
	complete := State{Phase: Complete, StepIndex: 4}

	s, effects := Transition(running, WaitExpired, st)
	assert.Equal(t, running, s)
	assert.Nil(t, effects)

	s, effects = Transition(State{Phase: Waiting}, StepCompleted, st)
	assert.Equal(t, State{Phase: Waiting}, s)
	assert.Nil(t, effects)

	s, effects = Transition(complete, StepCompleted, st)
	assert.Equal(t, complete, s)
	assert.Nil(t, effects)
}

func TestShouldShowStartButton(t *testing.T) {
	st := steps()
	current := State{Phase: Running, StepIndex: 1}

	assert.True(t, ShouldShowStartButton(current, 1, st[1], 0))
	assert.False(t, ShouldShowStartButton(current, 1, st[1], 0.5), "already started")
	assert.False(t, ShouldShowStartButton(current, 0, st[0], 0), "not current")
	assert.False(t, ShouldShowStartButton(State{Phase: Running}, 0, st[0], 0), "automatic")
	assert.False(t, ShouldShowStartButton(State{Phase: Waiting}, 1, st[1], 0))
}

func TestPhase_String(t *testing.T) {
	assert.Equal(t, "waiting", Waiting.String())
	assert.Equal(t, "running", Running.String())
	assert.Equal(t, "complete", Complete.String())
}
