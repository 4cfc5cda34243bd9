package events

import (
	"sync"
	"time"

	"github.com/korjavin/routinetimer/pkg/models"
)

// Type represents the type of event being published.
type Type string

const (
	// StatusChanged is published whenever the routine status changes, including the final stop.
	StatusChanged Type = "status_changed"
	// StepStarted is published when a step timer starts ticking.
	StepStarted Type = "step_started"
	// StepReady is published when a manual step becomes current and waits for a start.
	StepReady Type = "step_ready"
	// StepCompleted is published when a step reaches 100%, naturally or by skip.
	StepCompleted Type = "step_completed"
	// WaitExpired is published when a lane leaves its wait period.
	WaitExpired Type = "wait_expired"
	// WaitsRecalculated is published after every recalculation pass.
	WaitsRecalculated Type = "waits_recalculated"
	// LaneComplete is published when a lane finishes its last step.
	LaneComplete Type = "lane_complete"
	// RoutineComplete is published when every lane has finished.
	RoutineComplete Type = "routine_complete"
)

// Event represents something that happened during a routine run.
type Event struct {
	Type      Type
	Timestamp time.Time
	RoutineID string
	LaneID    string
	LaneName  string
	StepID    string
	StepName  string
	Status    models.RoutineStatus
}

// Subscriber is a function that receives events.
type Subscriber func(Event)

// Notifier delivers events synchronously, in publish order, to every subscriber.
// A panicking subscriber is recovered so it can't break the others.
type Notifier struct {
	mu          sync.RWMutex
	nextID      int
	subscribers map[int]Subscriber
	order       []int
}

// NewNotifier creates a notifier with no subscribers.
func NewNotifier() *Notifier {
	return &Notifier{subscribers: make(map[int]Subscriber)}
}

// Subscribe registers fn and returns a function that removes it.
func (n *Notifier) Subscribe(fn Subscriber) func() {
	n.mu.Lock()
	defer n.mu.Unlock()

	id := n.nextID
	n.nextID++
	n.subscribers[id] = fn
	n.order = append(n.order, id)

	return func() {
		n.mu.Lock()
		defer n.mu.Unlock()
		if _, ok := n.subscribers[id]; !ok {
			return
		}
		delete(n.subscribers, id)
		for i, v := range n.order {
			if v == id {
				n.order = append(n.order[:i], n.order[i+1:]...)
				break
			}
		}
	}
}

// Publish hands each event to every subscriber.
func (n *Notifier) Publish(evs ...Event) {
	n.mu.RLock()
	subs := make([]Subscriber, 0, len(n.order))
	for _, id := range n.order {
		subs = append(subs, n.subscribers[id])
	}
	n.mu.RUnlock()

	for _, ev := range evs {
		for _, fn := range subs {
			deliver(fn, ev)
		}
	}
}

func deliver(fn Subscriber, ev Event) {
	defer func() {
		// Recover from subscriber panics to keep the scheduler running
		_ = recover()
	}()
	fn(ev)
}
