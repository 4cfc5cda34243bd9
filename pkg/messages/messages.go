// Package messages turns routine events into chat texts. When a text generator
// is configured it writes friendlier wording; otherwise, or when it fails, a
// fixed template is used.
package messages

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/korjavin/routinetimer/pkg/logger"
	"github.com/korjavin/routinetimer/pkg/models"
	"github.com/korjavin/routinetimer/pkg/planner"
)

// Generator writes a message for an intent
type Generator interface {
	GenerateChatMessage(ctx context.Context, intent string, contextData map[string]interface{}) (string, error)
}

// Service provides message generation functionality
type Service struct {
	generator Generator
	logger    *logger.Logger
}

// New creates a message service. generator may be nil.
func New(generator Generator) *Service {
	return &Service{
		generator: generator,
		logger:    logger.New("messages"),
	}
}

func (s *Service) generate(ctx context.Context, intent string, data map[string]interface{}, fallback string) string {
	if s.generator == nil {
		return fallback
	}
	msg, err := s.generator.GenerateChatMessage(ctx, intent, data)
	if err != nil || strings.TrimSpace(msg) == "" {
		s.logger.Error("Failed to generate %s message: %v", intent, err)
		return fallback
	}
	return msg
}

// Welcome is the reply to /start
func (s *Service) Welcome(ctx context.Context) string {
	return s.generate(ctx, "welcome", map[string]interface{}{
		"purpose": "Run several kitchen timers side by side so every part of a meal is ready at the same time",
	}, "👋 Welcome to RoutineTimer! Pick a routine with /routines and start it with /run <id>.")
}

// RoutineStarted announces a run
func (s *Service) RoutineStarted(ctx context.Context, r models.Routine, target *time.Time) string {
	fallback := fmt.Sprintf("▶️ %s started.", r.Name)
	data := map[string]interface{}{"routine": r.Name, "lanes": len(r.SwimLanes)}
	if target != nil {
		fallback = fmt.Sprintf("▶️ %s started, everything should be ready at %s.", r.Name, target.Format("15:04"))
		data["ready_at"] = target.Format("15:04")
	}
	return s.generate(ctx, "routine_started", data, fallback)
}

// StepReady asks the user to start a manual step
func (s *Service) StepReady(ctx context.Context, lane, step string) string {
	return s.generate(ctx, "manual_step_ready", map[string]interface{}{
		"lane": lane,
		"step": step,
	}, fmt.Sprintf("🔔 %s: \"%s\" is ready to start.", lane, step))
}

// LaneComplete reports a finished lane
func (s *Service) LaneComplete(ctx context.Context, lane string) string {
	return s.generate(ctx, "swimlane_complete", map[string]interface{}{
		"lane": lane,
	}, fmt.Sprintf("✅ %s is done.", lane))
}

// RoutineComplete reports that everything finished
func (s *Service) RoutineComplete(ctx context.Context, routine string) string {
	return s.generate(ctx, "routine_complete", map[string]interface{}{
		"routine": routine,
	}, fmt.Sprintf("🎉 %s is complete. Enjoy!", routine))
}

// Infeasible explains that a target end time can't be met
func (s *Service) Infeasible(target time.Time, shortfall time.Duration) string {
	return fmt.Sprintf("⚠️ Can't be ready by %s, the longest lane needs %s more. Starting anyway.",
		target.Format("15:04"), shortfall.Round(time.Second))
}

// Error is a generic failure reply
func (s *Service) Error(ctx context.Context, what string) string {
	return s.generate(ctx, "error", map[string]interface{}{
		"context": what,
	}, "😢 Sorry, something went wrong. Please try again later.")
}

// FormatPrepTasks lists prep tasks with check marks
func FormatPrepTasks(tasks []models.PrepTask, done func(id string) bool) string {
	if len(tasks) == 0 {
		return "No prep tasks for this routine."
	}
	var b strings.Builder
	b.WriteString("📝 Prep tasks:\n")
	for _, task := range tasks {
		mark := "⬜"
		if done(task.ID) {
			mark = "✅"
		}
		fmt.Fprintf(&b, "%s %s (/done %s)\n", mark, task.Name, task.ID)
	}
	return b.String()
}

// FormatRoutineList lists routines one per line
func FormatRoutineList(routines []models.Routine) string {
	if len(routines) == 0 {
		return "No routines yet. Drop a YAML, TOML or JSON file into the watched folder or use /draft."
	}
	var b strings.Builder
	b.WriteString("📋 Routines:\n")
	for _, r := range routines {
		fmt.Fprintf(&b, "• %s (%d lanes) /run %s\n", r.Name, len(r.SwimLanes), r.ID)
	}
	return b.String()
}

// FormatPlan describes when each lane starts and how long it runs
func FormatPlan(r models.Routine, plan planner.Plan) string {
	var b strings.Builder
	fmt.Fprintf(&b, "🗓 %s, %s in total\n", r.Name, plan.Horizon)
	for _, lane := range r.SwimLanes {
		wait := plan.Waits[lane.ID]
		if wait > 0 {
			fmt.Fprintf(&b, "• %s: starts after %s, runs %s\n", lane.Name, wait, plan.Totals[lane.ID])
		} else {
			fmt.Fprintf(&b, "• %s: starts now, runs %s\n", lane.Name, plan.Totals[lane.ID])
		}
	}
	if !plan.Feasible() {
		fmt.Fprintf(&b, "⚠️ Overruns the end time by %s\n", plan.Shortfall)
	}
	if r.Notes != "" {
		fmt.Fprintf(&b, "📝 %s\n", r.Notes)
	}
	return b.String()
}

// FormatStats lists run counts, most-run routine first
func FormatStats(list []models.RunStats) string {
	if len(list) == 0 {
		return "No runs recorded yet."
	}
	var b strings.Builder
	b.WriteString("📊 Runs:\n")
	for _, st := range list {
		fmt.Fprintf(&b, "• %s: %d runs, %d completed, %d stopped, %s on average\n",
			st.RoutineName, st.Runs, st.Completed, st.Stopped, st.AverageRunTime().Round(time.Second))
	}
	return b.String()
}
