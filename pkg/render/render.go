// Package render draws a routine run as a plain-text board for the terminal.
package render

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/korjavin/routinetimer/pkg/models"
	"github.com/korjavin/routinetimer/pkg/scheduler"
)

const barWidth = 20

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("69"))
	laneStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("252"))
	currentStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("230"))
	doneStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	mutedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
)

// Board renders every lane of r with the progress held in snap. blocked lists
// lanes that still have open prep tasks.
func Board(r models.Routine, snap scheduler.Snapshot, blocked []string) string {
	isBlocked := make(map[string]bool, len(blocked))
	for _, id := range blocked {
		isBlocked[id] = true
	}

	var b strings.Builder
	b.WriteString(titleStyle.Render(fmt.Sprintf("%s [%s]", r.Name, snap.Status)) + "\n")
	if snap.Shortfall > 0 {
		b.WriteString(warnStyle.Render(fmt.Sprintf("target end time overrun by %s", snap.Shortfall.Round(time.Second))) + "\n")
	}

	nameWidth := 0
	for _, lane := range r.SwimLanes {
		for _, step := range lane.Steps {
			nameWidth = max(nameWidth, lipgloss.Width(step.Name))
		}
	}

	for _, lane := range r.SwimLanes {
		st, ok := snap.Lane(lane.ID)
		if !ok {
			continue
		}

		header := laneStyle.Render(lane.Name)
		switch {
		case st.IsWaiting:
			header += mutedStyle.Render(" waiting " + FormatSeconds(st.WaitTimeInSeconds))
		case st.CurrentStepIndex >= len(lane.Steps):
			header += doneStyle.Render(" done")
		default:
			header += mutedStyle.Render(fmt.Sprintf(" step %d/%d", st.CurrentStepIndex+1, len(lane.Steps)))
		}
		if isBlocked[lane.ID] {
			header += warnStyle.Render(" (prep pending)")
		}
		b.WriteString(header + "\n")

		for i, step := range lane.Steps {
			b.WriteString("  " + stepLine(step, i, st, snap, nameWidth) + "\n")
		}
	}

	return b.String()
}

func stepLine(step models.Step, i int, lane models.SwimlaneStatus, snap scheduler.Snapshot, nameWidth int) string {
	name := step.Name + strings.Repeat(" ", nameWidth-lipgloss.Width(step.Name))
	progress, tracked := snap.StepProgress[step.ID]

	switch {
	case !lane.IsWaiting && i < lane.CurrentStepIndex:
		return doneStyle.Render(fmt.Sprintf("✓ %s %s 100%%", name, Bar(100)))
	case !lane.IsWaiting && i == lane.CurrentStepIndex && tracked:
		line := fmt.Sprintf("▶ %s %s %3.0f%% %s left", name, Bar(progress), math.Floor(progress),
			FormatSeconds(snap.RemainingTimeInSeconds[step.ID]))
		if step.IsManual() && progress == 0 {
			line += " (manual, press start)"
		}
		return currentStyle.Render(line)
	}
	return mutedStyle.Render(fmt.Sprintf("· %s %s", name, FormatSeconds(float64(step.DurationInSeconds))))
}

// Bar draws a fixed-width progress bar for a 0-100 percentage
func Bar(percent float64) string {
	percent = math.Max(0, math.Min(100, percent))
	filled := int(percent / 100 * barWidth)
	return "[" + strings.Repeat("#", filled) + strings.Repeat("-", barWidth-filled) + "]"
}

// FormatSeconds renders a second count as a short duration, rounded up to whole seconds
func FormatSeconds(seconds float64) string {
	if seconds <= 0 {
		return "0s"
	}
	return (time.Duration(math.Ceil(seconds)) * time.Second).String()
}
