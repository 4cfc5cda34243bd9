// Package state keeps per-chat state: the routine run a chat owns and the
// conversation mode it is in.
package state

import (
	"context"
	"sync"
	"time"

	"github.com/korjavin/routinetimer/pkg/events"
	"github.com/korjavin/routinetimer/pkg/logger"
	"github.com/korjavin/routinetimer/pkg/models"
	"github.com/korjavin/routinetimer/pkg/prep"
	"github.com/korjavin/routinetimer/pkg/scheduler"
)

// State represents the conversation mode of a chat
type State string

const (
	// StateNormal is the normal state
	StateNormal State = "normal"
	// StateDrafting is the state when the next text message describes a routine to draft
	StateDrafting State = "drafting"
)

// stateTTL is how long a non-normal state survives without being cleared
const stateTTL = 10 * time.Minute

// maxQueued bounds the events waiting for delivery. Past it only events that
// change the routine status are still queued.
const maxQueued = 1024

// ChatState represents the state of a chat
type ChatState struct {
	State     State
	Timestamp time.Time
}

// Session is one routine run owned by a chat
type Session struct {
	ChatID     int64
	Routine    models.Routine
	Controller *scheduler.Controller
	Checklist  *prep.Checklist
	Target     *time.Time
	StartedAt  time.Time

	mu          sync.Mutex
	queue       []events.Event
	wake        chan struct{}
	onEvent     func(events.Event)
	unsubscribe func()
	cancel      context.CancelFunc
	wg          sync.WaitGroup
	closeOnce   sync.Once
	logger      *logger.Logger
}

// NewSession wires a controller to onEvent. It subscribes right away so events
// raised by Initialize are kept until Start delivers them; onEvent runs on the
// session's own goroutine and may be slow. Status changes and routine completion
// are never dropped.
func NewSession(chatID int64, routine models.Routine, ctrl *scheduler.Controller, onEvent func(events.Event)) *Session {
	s := &Session{
		ChatID:     chatID,
		Routine:    routine,
		Controller: ctrl,
		Checklist:  prep.NewChecklist(routine.PrepTasks),
		wake:       make(chan struct{}, 1),
		onEvent:    onEvent,
		logger:     logger.New("session").With(routine.ID),
	}
	s.unsubscribe = ctrl.Subscribe(s.enqueue)
	return s
}

func (s *Session) enqueue(e events.Event) {
	s.mu.Lock()
	if len(s.queue) >= maxQueued && e.Type != events.StatusChanged && e.Type != events.RoutineComplete {
		s.mu.Unlock()
		s.logger.Warn("Event queue full, dropping %s", e.Type)
		return
	}
	s.queue = append(s.queue, e)
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Session) drain() []events.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	evs := s.queue
	s.queue = nil
	return evs
}

// Start runs the controller and the event delivery loop until Close
func (s *Session) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)

	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		if err := s.Controller.Run(ctx); err != nil && ctx.Err() == nil {
			s.logger.Error("Controller stopped: %v", err)
		}
	}()
	go func() {
		defer s.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case <-s.wake:
				for _, e := range s.drain() {
					if s.onEvent != nil {
						s.onEvent(e)
					}
				}
			}
		}
	}()
}

// Close stops the run and waits for its goroutines
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.unsubscribe()
		s.Controller.Close()
		if s.cancel != nil {
			s.cancel()
		}
		s.wg.Wait()
	})
}

// Manager manages chat states and sessions
type Manager struct {
	states   map[int64]ChatState
	sessions map[int64]*Session
	mu       sync.RWMutex
	now      func() time.Time
}

// New creates a new state manager
func New() *Manager {
	return &Manager{
		states:   make(map[int64]ChatState),
		sessions: make(map[int64]*Session),
		now:      time.Now,
	}
}

// SetState sets the state for a chat
func (m *Manager) SetState(chatID int64, state State) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states[chatID] = ChatState{
		State:     state,
		Timestamp: m.now(),
	}
}

// GetState gets the state for a chat, falling back to normal once it expires
func (m *Manager) GetState(chatID int64) State {
	m.mu.Lock()
	defer m.mu.Unlock()
	state, ok := m.states[chatID]
	if !ok {
		return StateNormal
	}
	if m.now().Sub(state.Timestamp) > stateTTL {
		delete(m.states, chatID)
		return StateNormal
	}
	return state.State
}

// ClearState clears the state for a chat
func (m *Manager) ClearState(chatID int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.states, chatID)
}

// Put makes s the chat's session, closing the one it replaces
func (m *Manager) Put(s *Session) {
	m.mu.Lock()
	old := m.sessions[s.ChatID]
	m.sessions[s.ChatID] = s
	m.mu.Unlock()

	if old != nil && old != s {
		old.Close()
	}
}

// Session returns the chat's session
func (m *Manager) Session(chatID int64) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[chatID]
	return s, ok
}

// Remove closes and forgets the chat's session
func (m *Manager) Remove(chatID int64) {
	m.mu.Lock()
	s := m.sessions[chatID]
	delete(m.sessions, chatID)
	m.mu.Unlock()

	if s != nil {
		s.Close()
	}
}

// CloseAll closes every session
func (m *Manager) CloseAll() {
	m.mu.Lock()
	sessions := m.sessions
	m.sessions = make(map[int64]*Session)
	m.mu.Unlock()

	for _, s := range sessions {
		s.Close()
	}
}
