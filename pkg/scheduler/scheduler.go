package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/korjavin/routinetimer/pkg/events"
	"github.com/korjavin/routinetimer/pkg/logger"
	"github.com/korjavin/routinetimer/pkg/models"
	"github.com/korjavin/routinetimer/pkg/planner"
	"github.com/korjavin/routinetimer/pkg/swimlane"
	"github.com/korjavin/routinetimer/pkg/timer"
)

const (
	// DefaultTickInterval is how often step progress and wait countdowns move
	DefaultTickInterval = 100 * time.Millisecond
	// DefaultSettleDelay is the pause before an automatic step follows the previous one
	DefaultSettleDelay = 300 * time.Millisecond
)

type stepState struct {
	step    models.Step
	elapsed time.Duration
	paused  bool
	// started is set once the step has been asked to tick, automatically or by hand
	started bool
	// tracked steps have become current at least once and show up in snapshots
	tracked bool
}

type laneState struct {
	lane       models.SwimLane
	fsm        swimlane.State
	wait       time.Duration
	hadWait    bool
	stepStates []*stepState
}

func (ls *laneState) current() (*stepState, bool) {
	if ls.fsm.Phase != swimlane.Running || ls.fsm.StepIndex >= len(ls.stepStates) {
		return nil, false
	}
	return ls.stepStates[ls.fsm.StepIndex], true
}

// Controller runs one routine at a time. Every piece of runtime state lives here
// and is only touched with mu held; events raised while holding mu are delivered
// after it is released so subscribers may call back into the controller.
type Controller struct {
	mu sync.Mutex

	clock          timer.Clock
	tickInterval   time.Duration
	settleDelay    time.Duration
	baseLogger     *logger.Logger
	logger         *logger.Logger
	notifier       *events.Notifier
	onStatusChange func(models.RoutineStatus)

	routine  models.Routine
	status   models.RoutineStatus
	plan     planner.Plan
	lanes    []*laneState
	laneByID map[string]*laneState
	steps    map[string]*stepState
	timers   *timer.Registry
	pending  []events.Event
}

// Option configures a Controller
type Option func(*Controller)

// WithClock replaces the wall clock, mostly for tests
func WithClock(clock timer.Clock) Option {
	return func(c *Controller) { c.clock = clock }
}

// WithTickInterval sets how often Run ticks
func WithTickInterval(d time.Duration) Option {
	return func(c *Controller) {
		if d > 0 {
			c.tickInterval = d
		}
	}
}

// WithSettleDelay sets the pause between consecutive automatic steps
func WithSettleDelay(d time.Duration) Option {
	return func(c *Controller) {
		if d >= 0 {
			c.settleDelay = d
		}
	}
}

// WithLogger sets the logger
func WithLogger(l *logger.Logger) Option {
	return func(c *Controller) {
		c.baseLogger = l
		c.logger = l
	}
}

// WithStatusChange registers a callback fired on every status change
func WithStatusChange(fn func(models.RoutineStatus)) Option {
	return func(c *Controller) { c.onStatusChange = fn }
}

// New creates a controller with nothing loaded
func New(opts ...Option) *Controller {
	c := &Controller{
		clock:        timer.SystemClock{},
		tickInterval: DefaultTickInterval,
		settleDelay:  DefaultSettleDelay,
		baseLogger:   logger.New("scheduler"),
		notifier:     events.NewNotifier(),
		status:       models.StatusPaused,
		laneByID:     make(map[string]*laneState),
		steps:        make(map[string]*stepState),
		timers:       timer.NewRegistry(),
	}
	c.logger = c.baseLogger
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Subscribe registers an event subscriber and returns its unsubscribe function
func (c *Controller) Subscribe(fn events.Subscriber) func() {
	return c.notifier.Subscribe(fn)
}

// locked runs fn under the lock and then delivers whatever events fn raised
func (c *Controller) locked(fn func()) {
	c.mu.Lock()
	fn()
	evs := c.pending
	c.pending = nil
	c.mu.Unlock()

	for _, ev := range evs {
		if ev.Type == events.StatusChanged && c.onStatusChange != nil {
			c.onStatusChange(ev.Status)
		}
	}
	c.notifier.Publish(evs...)
}

func (c *Controller) do(fn func(now time.Time)) {
	c.locked(func() { fn(c.clock.Now()) })
}

func (c *Controller) emit(now time.Time, typ events.Type, ls *laneState, st *stepState) {
	ev := events.Event{
		Type:      typ,
		Timestamp: now,
		RoutineID: c.routine.ID,
		Status:    c.status,
	}
	if ls != nil {
		ev.LaneID = ls.lane.ID
		ev.LaneName = ls.lane.Name
	}
	if st != nil {
		ev.StepID = st.step.ID
		ev.StepName = st.step.Name
	}
	c.pending = append(c.pending, ev)
}

// Initialize loads a routine, drops anything that was running and plans the
// lanes' wait periods. A nil target plans a free run aligned to the longest
// lane. A routine without swimlanes leaves the controller empty.
func (c *Controller) Initialize(routine models.Routine, initial models.RoutineStatus, target *time.Time) Snapshot {
	c.do(func(now time.Time) {
		c.timers.CancelAll()
		c.routine = routine.Clone()
		c.routine.Normalize()
		c.logger = c.baseLogger.With(c.routine.ID)
		c.lanes = nil
		c.laneByID = make(map[string]*laneState)
		c.steps = make(map[string]*stepState)
		c.plan = planner.Plan{}

		if initial != models.StatusRunning {
			initial = models.StatusPaused
		}
		c.status = ""

		if len(c.routine.SwimLanes) == 0 {
			c.logger.Warn("Routine %q has no swimlanes, nothing to schedule", c.routine.Name)
			c.status = initial
			return
		}

		c.passThroughDuplicates()
		c.plan = planner.Initial(c.routine.SwimLanes, target, now)
		if !c.plan.Feasible() {
			c.logger.Warn("Target end time can't be met, longest lane overruns by %s", c.plan.Shortfall)
		}
		c.setStatus(now, initial)

		for _, lane := range c.routine.SwimLanes {
			ls := &laneState{lane: lane, wait: c.plan.Waits[lane.ID]}
			ls.hadWait = ls.wait > 0
			for _, step := range lane.Steps {
				st := &stepState{step: step}
				ls.stepStates = append(ls.stepStates, st)
				if _, dup := c.steps[step.ID]; !dup {
					c.steps[step.ID] = st
				}
			}
			c.lanes = append(c.lanes, ls)
			c.laneByID[lane.ID] = ls

			state, effects := swimlane.Initial(lane.Steps, ls.hadWait)
			ls.fsm = state
			c.apply(now, ls, effects)
			if ls.fsm.Phase == swimlane.Waiting && c.status == models.StatusRunning {
				c.timers.StartWait(lane.ID, now)
			}
			c.logger.Debug("Lane %s planned: wait=%s total=%s", lane.ID, ls.wait, c.plan.Totals[lane.ID])
		}

		c.checkComplete(now)
		c.logger.Info("Routine %q initialised with %d lanes, status %s", c.routine.Name, len(c.lanes), c.status)
	})
	return c.Snapshot()
}

// passThroughDuplicates empties every repeat of a step id so that two lanes
// never share one step's timer. The first step with the id keeps it.
func (c *Controller) passThroughDuplicates() {
	seen := make(map[string]bool)
	for i := range c.routine.SwimLanes {
		lane := &c.routine.SwimLanes[i]
		for j := range lane.Steps {
			step := &lane.Steps[j]
			if !seen[step.ID] {
				seen[step.ID] = true
				continue
			}
			c.logger.Warn("Step id %s repeats in lane %s, not scheduling it", step.ID, lane.ID)
			step.DurationInSeconds = 0
		}
	}
}

// PlayPause toggles between running and paused. Pausing cancels every timer but
// keeps progress, remaining time and waits; resuming picks up where it left off.
func (c *Controller) PlayPause() {
	c.do(func(now time.Time) {
		switch c.status {
		case models.StatusRunning:
			c.timers.CancelAll()
			c.setStatus(now, models.StatusPaused)
		case models.StatusPaused:
			c.setStatus(now, models.StatusRunning)
			c.startAll(now)
		}
	})
}

// Stop cancels every timer and stops the routine for good
func (c *Controller) Stop() {
	c.do(func(now time.Time) {
		if c.status == models.StatusStopped {
			return
		}
		c.timers.CancelAll()
		c.setStatus(now, models.StatusStopped)
	})
}

// Close cancels every timer without changing the status
func (c *Controller) Close() {
	c.do(func(time.Time) {
		c.timers.CancelAll()
	})
}

// ManualStart starts the timer of a lane's current step, manual or not
func (c *Controller) ManualStart(stepID string) {
	c.do(func(now time.Time) {
		ls, st, ok := c.currentStep(stepID)
		if !ok {
			return
		}
		if _, running := c.timers.Step(stepID); running {
			return
		}
		c.startStep(now, ls, st, false)
	})
}

// SkipStep completes the current step immediately, exactly as if it had run out
func (c *Controller) SkipStep(stepID string) {
	c.do(func(now time.Time) {
		ls, st, ok := c.currentStep(stepID)
		if !ok {
			return
		}
		c.timers.CancelStep(stepID)
		c.logger.Info("Skipping step %q in lane %q", st.step.Name, ls.lane.Name)
		c.completeStep(now, ls, st)
	})
}

// SkipWait ends a lane's wait period now
func (c *Controller) SkipWait(laneID string) {
	c.do(func(now time.Time) {
		if c.status == models.StatusStopped {
			return
		}
		ls, ok := c.laneByID[laneID]
		if !ok || ls.fsm.Phase != swimlane.Waiting {
			c.logger.Debug("SkipWait ignored for lane %s", laneID)
			return
		}
		c.timers.CancelWait(laneID)
		c.expireWait(now, ls)
		c.checkComplete(now)
	})
}

// PauseStep holds a single step without touching the routine status
func (c *Controller) PauseStep(stepID string) {
	c.setStepPaused(stepID, true)
}

// ResumeStep releases a step held by PauseStep
func (c *Controller) ResumeStep(stepID string) {
	c.setStepPaused(stepID, false)
}

func (c *Controller) setStepPaused(stepID string, paused bool) {
	c.do(func(time.Time) {
		if c.status == models.StatusStopped {
			return
		}
		if st, ok := c.steps[stepID]; ok {
			st.paused = paused
		}
	})
}

// RestartStep puts the current step back to 0% and starts it again
func (c *Controller) RestartStep(stepID string) {
	c.do(func(now time.Time) {
		ls, st, ok := c.currentStep(stepID)
		if !ok {
			return
		}
		c.timers.CancelStep(stepID)
		st.paused = false
		st.elapsed = 0
		c.startStep(now, ls, st, false)
	})
}

// ShouldShowStartButton reports whether the step is a manual current step that
// has made no progress. Unlike the plain progress rule it also turns false as
// soon as the step is started, before its first tick (or while the routine is
// paused) has moved it off zero.
func (c *Controller) ShouldShowStartButton(stepID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	st, ok := c.steps[stepID]
	if !ok {
		return false
	}
	ls, ok := c.laneByID[st.step.SwimLaneID]
	if !ok {
		return false
	}
	if st.started {
		return false
	}
	for i, s := range ls.stepStates {
		if s == st {
			return swimlane.ShouldShowStartButton(ls.fsm, i, st.step, timer.Progress(st.elapsed, st.step.Duration()))
		}
	}
	return false
}

// Tick moves every active timer forward to now. Timer boundaries that fell
// between the previous tick and now are crossed in the order they happened, so a
// late tick hands the overshoot to whatever comes next instead of losing it.
// Boundaries at the same instant are crossed in routine lane order.
func (c *Controller) Tick(now time.Time) {
	c.locked(func() { c.tick(now) })
}

func (c *Controller) tick(now time.Time) {
	for c.status == models.StatusRunning {
		ls, at, ok := c.nextBoundary(now)
		if !ok {
			break
		}
		c.advance(at)
		c.cross(at, ls)
	}
	if c.status == models.StatusRunning {
		c.advance(now)
	}
}

// nextBoundary finds the lane whose timer runs out first, no later than now
func (c *Controller) nextBoundary(now time.Time) (*laneState, time.Time, bool) {
	var first *laneState
	var at time.Time
	for _, ls := range c.lanes {
		due, ok := c.due(ls)
		if !ok || due.After(now) {
			continue
		}
		if first == nil || due.Before(at) {
			first, at = ls, due
		}
	}
	return first, at, first != nil
}

// due is when the lane's timer runs out if nothing else changes. Held steps
// never run out.
func (c *Controller) due(ls *laneState) (time.Time, bool) {
	e, ok := c.timers.Lane(ls.lane.ID)
	if !ok {
		return time.Time{}, false
	}
	if e.Kind == timer.KindWait {
		return e.Anchor().Add(ls.wait), true
	}
	st, ok := ls.current()
	if !ok || st.paused {
		return time.Time{}, false
	}
	return e.Anchor().Add(timer.Remaining(st.elapsed, st.step.Duration())), true
}

// advance credits every lane's timer up to t
func (c *Controller) advance(t time.Time) {
	for _, ls := range c.lanes {
		e, ok := c.timers.Lane(ls.lane.ID)
		if !ok {
			continue
		}
		if e.Kind == timer.KindWait {
			ls.wait = max(ls.wait-e.Advance(t, false), 0)
			continue
		}
		st, ok := ls.current()
		if !ok || st.step.ID != e.StepID {
			c.timers.CancelStep(e.StepID)
			continue
		}
		st.elapsed = min(st.elapsed+e.Advance(t, st.paused), st.step.Duration())
	}
}

// cross handles a lane timer running out at the instant at
func (c *Controller) cross(at time.Time, ls *laneState) {
	e, ok := c.timers.Lane(ls.lane.ID)
	if !ok {
		return
	}
	if e.Kind == timer.KindWait {
		c.timers.CancelWait(ls.lane.ID)
		c.expireWait(at, ls)
		c.checkComplete(at)
		return
	}
	c.timers.CancelStep(e.StepID)
	if st, ok := ls.current(); ok && st.step.ID == e.StepID {
		c.completeStep(at, ls, st)
	}
}

// Run ticks the controller until ctx is cancelled or the routine stops
func (c *Controller) Run(ctx context.Context) error {
	ticker := time.NewTicker(c.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			c.Tick(c.clock.Now())
			if c.Status() == models.StatusStopped {
				return nil
			}
		}
	}
}

// Status returns the current routine status
func (c *Controller) Status() models.RoutineStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// ActiveTimers returns the number of outstanding timers
func (c *Controller) ActiveTimers() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.timers.Len()
}

// Routine returns a copy of the loaded routine
func (c *Controller) Routine() models.Routine {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.routine.Clone()
}

func (c *Controller) setStatus(now time.Time, status models.RoutineStatus) {
	if c.status == status {
		return
	}
	c.status = status
	c.logger.Info("Routine status: %s", status)
	c.emit(now, events.StatusChanged, nil, nil)
}

// currentStep finds a step that is the current step of a running lane
func (c *Controller) currentStep(stepID string) (*laneState, *stepState, bool) {
	if c.status == models.StatusStopped {
		return nil, nil, false
	}
	st, ok := c.steps[stepID]
	if !ok {
		c.logger.Debug("Unknown step %s", stepID)
		return nil, nil, false
	}
	ls, ok := c.laneByID[st.step.SwimLaneID]
	if !ok {
		return nil, nil, false
	}
	cur, ok := ls.current()
	if !ok || cur != st {
		c.logger.Debug("Step %s is not the current step of lane %s", stepID, ls.lane.ID)
		return nil, nil, false
	}
	return ls, st, true
}

// startAll restarts the right timer for every lane after a resume
func (c *Controller) startAll(now time.Time) {
	c.timers.CancelAll()
	for _, ls := range c.lanes {
		switch ls.fsm.Phase {
		case swimlane.Waiting:
			if ls.wait > 0 {
				c.timers.StartWait(ls.lane.ID, now)
			} else {
				c.expireWait(now, ls)
			}
		case swimlane.Running:
			st, ok := ls.current()
			if !ok {
				continue
			}
			if st.started || !st.step.IsManual() || st.elapsed > 0 {
				c.startStep(now, ls, st, false)
			}
		}
	}
	c.checkComplete(now)
}

// startStep marks a step as started and, while running, registers its timer
func (c *Controller) startStep(now time.Time, ls *laneState, st *stepState, settle bool) {
	st.started = true
	if c.status != models.StatusRunning {
		return
	}
	notBefore := now
	if settle {
		notBefore = now.Add(c.settleDelay)
	}
	c.timers.StartStep(ls.lane.ID, st.step.ID, notBefore)
	c.emit(now, events.StepStarted, ls, st)
}

func (c *Controller) expireWait(now time.Time, ls *laneState) {
	ls.wait = 0
	state, effects := swimlane.Transition(ls.fsm, swimlane.WaitExpired, ls.lane.Steps)
	ls.fsm = state
	c.logger.Info("Lane %q finished waiting", ls.lane.Name)
	c.emit(now, events.WaitExpired, ls, nil)
	c.apply(now, ls, effects)
}

func (c *Controller) completeStep(now time.Time, ls *laneState, st *stepState) {
	st.elapsed = st.step.Duration()
	st.paused = false
	c.emit(now, events.StepCompleted, ls, st)

	state, effects := swimlane.Transition(ls.fsm, swimlane.StepCompleted, ls.lane.Steps)
	ls.fsm = state
	c.apply(now, ls, effects)

	c.recalculate(now)
	c.checkComplete(now)
}

func (c *Controller) apply(now time.Time, ls *laneState, effects []swimlane.Effect) {
	for _, eff := range effects {
		var st *stepState
		if eff.StepIndex < len(ls.stepStates) {
			st = ls.stepStates[eff.StepIndex]
		}

		switch eff.Kind {
		case swimlane.InitStep:
			st.elapsed = 0
			st.paused = false
			st.started = false
			st.tracked = true
		case swimlane.StartTimer:
			c.startStep(now, ls, st, eff.Settle)
		case swimlane.AnnounceReady:
			c.logger.Info("Manual step %q in %q is ready to start", st.step.Name, ls.lane.Name)
			c.emit(now, events.StepReady, ls, st)
		case swimlane.PassThrough:
			c.logger.Warn("Step %q has no duration, passing through", st.step.Name)
			c.emit(now, events.StepCompleted, ls, st)
		case swimlane.CompleteLane:
			c.logger.Info("Lane %q complete", ls.lane.Name)
			c.emit(now, events.LaneComplete, ls, nil)
		}
	}
}

// recalculate shrinks the waits of lanes that haven't started yet
func (c *Controller) recalculate(now time.Time) {
	remaining := make(map[string]time.Duration, len(c.lanes))
	waits := make(map[string]time.Duration)
	for _, ls := range c.lanes {
		p := planner.LaneProgress{
			Waiting:   ls.fsm.Phase == swimlane.Waiting,
			StepIndex: ls.fsm.StepIndex,
		}
		if st, ok := ls.current(); ok {
			p.Elapsed = st.elapsed
		}
		remaining[ls.lane.ID] = planner.RemainingWork(ls.lane, p)
		if p.Waiting {
			waits[ls.lane.ID] = ls.wait
		}
	}

	adopted := planner.Recalculate(remaining, waits)
	c.emit(now, events.WaitsRecalculated, nil, nil)

	for _, ls := range c.lanes {
		wait, ok := adopted[ls.lane.ID]
		if !ok {
			continue
		}
		c.logger.Debug("Lane %s wait shortened %s -> %s", ls.lane.ID, ls.wait, wait)
		ls.wait = wait
		if wait <= 0 {
			c.timers.CancelWait(ls.lane.ID)
			c.expireWait(now, ls)
			continue
		}
		// the new wait counts from now
		if e, ok := c.timers.Lane(ls.lane.ID); ok && e.Kind == timer.KindWait {
			c.timers.StartWait(ls.lane.ID, now)
		}
	}
}

// checkComplete stops the routine once every lane has run its last step
func (c *Controller) checkComplete(now time.Time) {
	if c.status == models.StatusStopped || len(c.lanes) == 0 {
		return
	}
	for _, ls := range c.lanes {
		if ls.fsm.Phase != swimlane.Complete {
			return
		}
	}
	c.timers.CancelAll()
	c.logger.Info("All lanes complete")
	c.emit(now, events.RoutineComplete, nil, nil)
	c.setStatus(now, models.StatusStopped)
}
