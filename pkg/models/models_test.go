package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleRoutine() Routine {
	return Routine{
		ID:   "roast",
		Name: "Sunday roast",
		SwimLanes: []SwimLane{
			{ID: "oven", Name: "Oven", Steps: []Step{
				{ID: "preheat", Name: "Preheat", DurationInSeconds: 600},
				{ID: "roast-meat", Name: "Roast", DurationInSeconds: 3600, StartType: StartManual},
			}},
			{ID: "hob", Name: "Hob", Steps: []Step{
				{ID: "boil", Name: "Boil potatoes", DurationInSeconds: 1200},
			}},
		},
		PrepTasks: []PrepTask{
			{ID: "peel", Name: "Peel potatoes", MustCompleteBeforeSwimlaneID: "hob"},
		},
	}
}

func TestStartType_UnmarshalText(t *testing.T) {
	tests := []struct {
		in      string
		want    StartType
		wantErr bool
	}{
		{"automatic", StartAutomatic, false},
		{"cascading", StartAutomatic, false},
		{"", StartAutomatic, false},
		{"Manual", StartManual, false},
		{"sometimes", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			var got StartType
			err := got.UnmarshalText([]byte(tt.in))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestStep_JSONLegacyStartType(t *testing.T) {
	var step Step
	err := json.Unmarshal([]byte(`{"id":"a","name":"A","duration_in_seconds":5,"start_type":"cascading"}`), &step)
	require.NoError(t, err)
	assert.Equal(t, StartAutomatic, step.StartType)
	assert.True(t, step.Schedulable())
	assert.False(t, step.IsManual())
}

func TestRoutine_FindStep(t *testing.T) {
	r := sampleRoutine()

	step, lane, idx, ok := r.FindStep("roast-meat")
	require.True(t, ok)
	assert.Equal(t, "Roast", step.Name)
	assert.Equal(t, "oven", lane.ID)
	assert.Equal(t, 1, idx)

	_, _, _, ok = r.FindStep("missing")
	assert.False(t, ok)

	_, ok = r.FindSwimLane("hob")
	assert.True(t, ok)
}

func TestRoutine_Normalize(t *testing.T) {
	r := sampleRoutine()
	r.Normalize()

	assert.Equal(t, "oven", r.SwimLanes[0].Steps[1].SwimLaneID)
	assert.Equal(t, StartAutomatic, r.SwimLanes[0].Steps[0].StartType)
	assert.Equal(t, StartManual, r.SwimLanes[0].Steps[1].StartType)
}

func TestRoutine_Clone(t *testing.T) {
	r := sampleRoutine()
	c := r.Clone()
	c.SwimLanes[0].Steps[0].Name = "changed"

	assert.Equal(t, "Preheat", r.SwimLanes[0].Steps[0].Name)
}

func TestRoutine_Validate(t *testing.T) {
	r := sampleRoutine()
	require.NoError(t, r.Validate())

	r.SwimLanes[1].Steps = append(r.SwimLanes[1].Steps, Step{ID: "boil", Name: "Again", DurationInSeconds: 0})
	r.PrepTasks = append(r.PrepTasks, PrepTask{ID: "x", Name: "X", MustCompleteBeforeSwimlaneID: "grill"})

	err := r.Validate()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidRoutine)
	assert.Contains(t, err.Error(), `duplicate id "boil"`)
	assert.Contains(t, err.Error(), "non-positive duration")
	assert.Contains(t, err.Error(), `unknown swimlane "grill"`)
}
