package models

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrInvalidRoutine is returned by Validate for malformed routines
var ErrInvalidRoutine = errors.New("invalid routine")

// StartType decides whether a step starts on its own once it becomes current
type StartType string

const (
	// StartAutomatic starts the step as soon as the previous one ends
	StartAutomatic StartType = "automatic"
	// StartManual waits for an explicit start
	StartManual StartType = "manual"
)

// UnmarshalText accepts "cascading" as a legacy spelling of automatic
func (s *StartType) UnmarshalText(text []byte) error {
	switch strings.ToLower(strings.TrimSpace(string(text))) {
	case "", "automatic", "auto", "cascading":
		*s = StartAutomatic
	case "manual":
		*s = StartManual
	default:
		return fmt.Errorf("unknown start type %q", string(text))
	}
	return nil
}

// MarshalText implements encoding.TextMarshaler
func (s StartType) MarshalText() ([]byte, error) {
	if s == "" {
		return []byte(StartAutomatic), nil
	}
	return []byte(s), nil
}

// RoutineStatus is the global run state of a routine
type RoutineStatus string

const (
	StatusRunning RoutineStatus = "running"
	StatusPaused  RoutineStatus = "paused"
	StatusStopped RoutineStatus = "stopped"
)

// Routine is a named set of swimlanes that run side by side
type Routine struct {
	ID        string     `json:"id" yaml:"id" toml:"id"`
	UserID    string     `json:"user_id,omitempty" yaml:"user_id,omitempty" toml:"user_id,omitempty"`
	Name      string     `json:"name" yaml:"name" toml:"name"`
	SwimLanes []SwimLane `json:"swim_lanes" yaml:"swim_lanes" toml:"swim_lanes"`
	PrepTasks []PrepTask `json:"prep_tasks,omitempty" yaml:"prep_tasks,omitempty" toml:"prep_tasks,omitempty"`
	Notes     string     `json:"notes,omitempty" yaml:"notes,omitempty" toml:"notes,omitempty"`
	UpdatedAt time.Time  `json:"updated_at" yaml:"updated_at,omitempty" toml:"updated_at,omitempty"`
}

// SwimLane is an ordered sequence of steps
type SwimLane struct {
	ID    string `json:"id" yaml:"id" toml:"id"`
	Name  string `json:"name" yaml:"name" toml:"name"`
	Steps []Step `json:"steps" yaml:"steps" toml:"steps"`
}

// Step is a single timed unit of work inside a swimlane
type Step struct {
	ID                string    `json:"id" yaml:"id" toml:"id"`
	SwimLaneID        string    `json:"swim_lane_id" yaml:"swim_lane_id,omitempty" toml:"swim_lane_id,omitempty"`
	Name              string    `json:"name" yaml:"name" toml:"name"`
	DurationInSeconds int       `json:"duration_in_seconds" yaml:"duration_in_seconds" toml:"duration_in_seconds"`
	StartType         StartType `json:"start_type" yaml:"start_type" toml:"start_type"`
}

// PrepTask is an untimed checklist item, optionally gating a swimlane
type PrepTask struct {
	ID                           string `json:"id" yaml:"id" toml:"id"`
	Name                         string `json:"name" yaml:"name" toml:"name"`
	MustCompleteBeforeSwimlaneID string `json:"must_complete_before_swimlane_id,omitempty" yaml:"must_complete_before_swimlane_id,omitempty" toml:"must_complete_before_swimlane_id,omitempty"`
}

// RunStats counts how often a routine was run and how those runs ended
type RunStats struct {
	RoutineID    string        `json:"routine_id"`
	RoutineName  string        `json:"routine_name"`
	Runs         int           `json:"runs"`
	Completed    int           `json:"completed"`
	Stopped      int           `json:"stopped"`
	TotalRunTime time.Duration `json:"total_run_time"`
	LastRunAt    time.Time     `json:"last_run_at"`
}

// AverageRunTime is the mean length of a recorded run
func (s RunStats) AverageRunTime() time.Duration {
	if s.Runs == 0 {
		return 0
	}
	return s.TotalRunTime / time.Duration(s.Runs)
}

// SwimlaneStatus is the scheduler-owned runtime state of one lane
type SwimlaneStatus struct {
	CurrentStepIndex  int     `json:"current_step_index"`
	WaitTimeInSeconds float64 `json:"wait_time_in_seconds"`
	IsWaiting         bool    `json:"is_waiting"`
}

// Duration returns the step duration
func (s Step) Duration() time.Duration {
	return time.Duration(s.DurationInSeconds) * time.Second
}

// Schedulable reports whether the step has a positive duration
func (s Step) Schedulable() bool {
	return s.DurationInSeconds > 0
}

// IsManual reports whether the step needs an explicit start
func (s Step) IsManual() bool {
	return s.StartType == StartManual
}

// FindSwimLane returns the lane with the given id
func (r *Routine) FindSwimLane(id string) (*SwimLane, bool) {
	for i := range r.SwimLanes {
		if r.SwimLanes[i].ID == id {
			return &r.SwimLanes[i], true
		}
	}
	return nil, false
}

// FindStep returns the step with the given id, its lane and its index in the lane
func (r *Routine) FindStep(id string) (*Step, *SwimLane, int, bool) {
	for i := range r.SwimLanes {
		lane := &r.SwimLanes[i]
		for j := range lane.Steps {
			if lane.Steps[j].ID == id {
				return &lane.Steps[j], lane, j, true
			}
		}
	}
	return nil, nil, -1, false
}

// Normalize fills in derived fields such as each step's swimlane id and default start type
func (r *Routine) Normalize() {
	for i := range r.SwimLanes {
		lane := &r.SwimLanes[i]
		for j := range lane.Steps {
			lane.Steps[j].SwimLaneID = lane.ID
			if lane.Steps[j].StartType == "" {
				lane.Steps[j].StartType = StartAutomatic
			}
		}
	}
}

// Clone returns a deep copy so callers can't mutate a running routine
func (r Routine) Clone() Routine {
	out := r
	out.SwimLanes = make([]SwimLane, len(r.SwimLanes))
	for i, lane := range r.SwimLanes {
		lane.Steps = append([]Step(nil), lane.Steps...)
		out.SwimLanes[i] = lane
	}
	out.PrepTasks = append([]PrepTask(nil), r.PrepTasks...)
	return out
}

// Validate checks the routine for missing names and ids and duplicate ids
func (r *Routine) Validate() error {
	var problems []string
	if r.ID == "" {
		problems = append(problems, "routine id is empty")
	}
	if strings.TrimSpace(r.Name) == "" {
		problems = append(problems, "routine name is empty")
	}

	seen := make(map[string]bool)
	check := func(kind, id string) {
		if id == "" {
			problems = append(problems, kind+" id is empty")
			return
		}
		if seen[id] {
			problems = append(problems, fmt.Sprintf("duplicate id %q", id))
		}
		seen[id] = true
	}

	laneIDs := make(map[string]bool)
	for _, lane := range r.SwimLanes {
		check("swimlane", lane.ID)
		laneIDs[lane.ID] = true
		for _, step := range lane.Steps {
			check("step", step.ID)
			if step.DurationInSeconds <= 0 {
				problems = append(problems, fmt.Sprintf("step %q has non-positive duration %d", step.ID, step.DurationInSeconds))
			}
		}
	}
	for _, task := range r.PrepTasks {
		check("prep task", task.ID)
		if task.MustCompleteBeforeSwimlaneID != "" && !laneIDs[task.MustCompleteBeforeSwimlaneID] {
			problems = append(problems, fmt.Sprintf("prep task %q references unknown swimlane %q", task.ID, task.MustCompleteBeforeSwimlaneID))
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidRoutine, strings.Join(problems, "; "))
	}
	return nil
}
