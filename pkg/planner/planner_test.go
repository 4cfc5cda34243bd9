package planner

import (
	"testing"
	"time"

	"github.com/korjavin/routinetimer/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func lane(id string, seconds ...int) models.SwimLane {
	l := models.SwimLane{ID: id, Name: id}
	for i, s := range seconds {
		l.Steps = append(l.Steps, models.Step{
			ID:                id + "-" + string(rune('a'+i)),
			SwimLaneID:        id,
			DurationInSeconds: s,
			StartType:         models.StartAutomatic,
		})
	}
	return l
}

func TestTotalDurations(t *testing.T) {
	totals := TotalDurations([]models.SwimLane{
		lane("a", 60, 30),
		lane("b", 10, 0, -5),
		lane("c"),
	})

	assert.Equal(t, 90*time.Second, totals["a"])
	assert.Equal(t, 10*time.Second, totals["b"])
	assert.Equal(t, time.Duration(0), totals["c"])
}

func TestInitial_FreeRunAlignsEveryLane(t *testing.T) {
	lanes := []models.SwimLane{lane("a", 60), lane("b", 30), lane("c", 20, 25)}
	plan := Initial(lanes, nil, time.Now())

	require.False(t, plan.Timed)
	assert.Equal(t, 60*time.Second, plan.Horizon)
	for _, l := range lanes {
		assert.Equal(t, plan.Horizon, plan.Waits[l.ID]+plan.Totals[l.ID], "lane %s", l.ID)
	}
	assert.False(t, plan.IsWaiting("a"))
	assert.True(t, plan.IsWaiting("b"))
	assert.Equal(t, 15*time.Second, plan.Waits["c"])
	assert.True(t, plan.Feasible())
}

func TestInitial_TimedMode(t *testing.T) {
	now := time.Date(2026, 1, 1, 18, 0, 0, 0, time.UTC)
	target := now.Add(2 * time.Minute)

	plan := Initial([]models.SwimLane{lane("a", 60), lane("b", 30)}, &target, now)

	assert.True(t, plan.Timed)
	assert.Equal(t, 120*time.Second, plan.Horizon)
	assert.Equal(t, 60*time.Second, plan.Waits["a"])
	assert.Equal(t, 90*time.Second, plan.Waits["b"])
	assert.True(t, plan.Feasible())
}

func TestInitial_TimedModeCannotMeetTarget(t *testing.T) {
	now := time.Date(2026, 1, 1, 18, 0, 0, 0, time.UTC)
	target := now.Add(10 * time.Second)

	plan := Initial([]models.SwimLane{lane("a", 30)}, &target, now)

	assert.Equal(t, time.Duration(0), plan.Waits["a"])
	assert.False(t, plan.IsWaiting("a"))
	assert.False(t, plan.Feasible())
	assert.Equal(t, 20*time.Second, plan.Shortfall)
}

func TestInitial_TargetInThePast(t *testing.T) {
	now := time.Date(2026, 1, 1, 18, 0, 0, 0, time.UTC)
	target := now.Add(-time.Hour)

	plan := Initial([]models.SwimLane{lane("a", 30), lane("b", 5)}, &target, now)

	assert.Equal(t, time.Duration(0), plan.Horizon)
	assert.Equal(t, time.Duration(0), plan.Waits["b"])
	assert.Equal(t, 30*time.Second, plan.Shortfall)
}

func TestRemainingWork(t *testing.T) {
	l := lane("a", 10, 20, 30)

	tests := []struct {
		name string
		p    LaneProgress
		want time.Duration
	}{
		{"waiting owes everything", LaneProgress{Waiting: true}, 60 * time.Second},
		{"first step untouched", LaneProgress{StepIndex: 0}, 60 * time.Second},
		{"half way through second step", LaneProgress{StepIndex: 1, Elapsed: 10 * time.Second}, 40 * time.Second},
		{"overrun clamps", LaneProgress{StepIndex: 2, Elapsed: time.Minute}, 0},
		{"complete", LaneProgress{StepIndex: 3}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, RemainingWork(l, tt.p))
		})
	}
}

func TestRecalculate_OnlyShrinks(t *testing.T) {
	remaining := map[string]time.Duration{
		"a": 10 * time.Second,
		"b": 30 * time.Second,
		"c": 5 * time.Second,
	}
	waits := map[string]time.Duration{
		"b": 20 * time.Second,
		"c": 2 * time.Second,
	}

	adopted := Recalculate(remaining, waits)

	// horizon is 30s: b can start now, c would need 25s which is longer than 2s
	assert.Equal(t, map[string]time.Duration{"b": 0}, adopted)
}

func TestRecalculate_SkippedLaneShortensWait(t *testing.T) {
	// a=[60] was skipped to the end, b=[30] had 20s of wait left
	adopted := Recalculate(
		map[string]time.Duration{"a": 0, "b": 30 * time.Second},
		map[string]time.Duration{"b": 20 * time.Second},
	)
	assert.Equal(t, time.Duration(0), adopted["b"])
}

func TestRecalculate_NoWaitingLanes(t *testing.T) {
	adopted := Recalculate(map[string]time.Duration{"a": time.Second}, map[string]time.Duration{})
	assert.Empty(t, adopted)
}

func TestNextOccurrence(t *testing.T) {
	now := time.Date(2024, 3, 1, 18, 30, 0, 0, time.UTC)

	got, err := NextOccurrence(now, "19:15")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 3, 1, 19, 15, 0, 0, time.UTC), got)

	got, err = NextOccurrence(now, "07:00")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 3, 2, 7, 0, 0, 0, time.UTC), got, "already passed, so tomorrow")

	got, err = NextOccurrence(now, "18:30")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 3, 2, 18, 30, 0, 0, time.UTC), got)

	_, err = NextOccurrence(now, "half past six")
	assert.Error(t, err)
}
