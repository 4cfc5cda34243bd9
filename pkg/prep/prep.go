// Package prep tracks untimed preparation tasks and which swimlanes they
// nominally block. The result is advisory: nothing here stops a lane from running.
package prep

import (
	"sort"
	"sync"

	"github.com/korjavin/routinetimer/pkg/models"
)

// BlockedSwimlanes returns the lanes that still have an unfinished prep task pointing at them
func BlockedSwimlanes(tasks []models.PrepTask, completed map[string]bool) map[string]bool {
	blocked := make(map[string]bool)
	for _, task := range tasks {
		if task.MustCompleteBeforeSwimlaneID == "" || completed[task.ID] {
			continue
		}
		blocked[task.MustCompleteBeforeSwimlaneID] = true
	}
	return blocked
}

// Checklist is the completed-task set for one routine run
type Checklist struct {
	mu        sync.RWMutex
	tasks     []models.PrepTask
	completed map[string]bool
}

// NewChecklist creates a checklist with nothing ticked off
func NewChecklist(tasks []models.PrepTask) *Checklist {
	return &Checklist{
		tasks:     append([]models.PrepTask(nil), tasks...),
		completed: make(map[string]bool),
	}
}

// Toggle flips a task and returns its new completion state.
// Unknown task ids are ignored and report false.
func (c *Checklist) Toggle(taskID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.known(taskID) {
		return false
	}
	c.completed[taskID] = !c.completed[taskID]
	return c.completed[taskID]
}

// Complete ticks a task off
func (c *Checklist) Complete(taskID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.known(taskID) {
		return false
	}
	c.completed[taskID] = true
	return true
}

// Reopen marks a task as not done
func (c *Checklist) Reopen(taskID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.known(taskID) {
		return false
	}
	delete(c.completed, taskID)
	return true
}

// IsComplete reports whether a task is ticked off
func (c *Checklist) IsComplete(taskID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.completed[taskID]
}

// Blocked returns the sorted ids of lanes with unfinished prep tasks
func (c *Checklist) Blocked() []string {
	c.mu.RLock()
	blocked := BlockedSwimlanes(c.tasks, c.completed)
	c.mu.RUnlock()

	ids := make([]string, 0, len(blocked))
	for id := range blocked {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Pending returns tasks that are not done yet, in routine order
func (c *Checklist) Pending() []models.PrepTask {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var pending []models.PrepTask
	for _, task := range c.tasks {
		if !c.completed[task.ID] {
			pending = append(pending, task)
		}
	}
	return pending
}

// Tasks returns every task in routine order
func (c *Checklist) Tasks() []models.PrepTask {
	return append([]models.PrepTask(nil), c.tasks...)
}

func (c *Checklist) known(taskID string) bool {
	for _, task := range c.tasks {
		if task.ID == taskID {
			return true
		}
	}
	return false
}
