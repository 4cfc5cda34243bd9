package telegram

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/korjavin/routinetimer/pkg/events"
	"github.com/korjavin/routinetimer/pkg/loader"
	"github.com/korjavin/routinetimer/pkg/logger"
	"github.com/korjavin/routinetimer/pkg/messages"
	"github.com/korjavin/routinetimer/pkg/models"
	"github.com/korjavin/routinetimer/pkg/planner"
	"github.com/korjavin/routinetimer/pkg/render"
	"github.com/korjavin/routinetimer/pkg/routines"
	"github.com/korjavin/routinetimer/pkg/scheduler"
	"github.com/korjavin/routinetimer/pkg/state"
)

// startCallback prefixes the data of "Start" buttons on manual-ready notices
const startCallback = "start:"

// Sender is the part of Bot the handlers talk to
type Sender interface {
	SendMessage(chatID int64, text string) (tgbotapi.Message, error)
	SendMessageWithKeyboard(chatID int64, text string, keyboard tgbotapi.InlineKeyboardMarkup) (tgbotapi.Message, error)
	SendPre(chatID int64, text string) (tgbotapi.Message, error)
	AnswerCallbackQuery(callbackID string, text string) error
	EditMessage(chatID int64, messageID int, text string) (tgbotapi.Message, error)
}

// RoutineStore loads and saves routines
type RoutineStore interface {
	Fetch(id string) (models.Routine, error)
	Save(r models.Routine) (models.Routine, error)
	List(userID string) ([]models.Routine, error)
}

// Drafter turns a description into a routine document
type Drafter interface {
	DraftRoutine(ctx context.Context, description string) ([]byte, error)
}

// RunRecorder keeps run statistics
type RunRecorder interface {
	RecordRun(r models.Routine, completed bool, started, finished time.Time) error
	Top(limit int) ([]models.RunStats, error)
}

// Handlers implements the bot commands
type Handlers struct {
	ctx      context.Context
	sender   Sender
	store    RoutineStore
	drafter  Drafter
	messages *messages.Service
	sessions *state.Manager
	options  []scheduler.Option
	stats    RunRecorder
	logger   *logger.Logger
	now      func() time.Time
}

// NewHandlers creates the command set. drafter may be nil. ctx bounds every
// routine run started from the chat.
func NewHandlers(ctx context.Context, sender Sender, store RoutineStore, drafter Drafter, msgs *messages.Service, sessions *state.Manager, options ...scheduler.Option) *Handlers {
	return &Handlers{
		ctx:      ctx,
		sender:   sender,
		store:    store,
		drafter:  drafter,
		messages: msgs,
		sessions: sessions,
		options:  options,
		logger:   logger.New("handlers"),
		now:      time.Now,
	}
}

// SetStats turns on run statistics and the /stats command
func (h *Handlers) SetStats(stats RunRecorder) {
	h.stats = stats
}

// Commands returns the command handlers keyed by command name
func (h *Handlers) Commands() map[string]CommandHandler {
	return map[string]CommandHandler{
		"start":    h.handleStart,
		"routines": h.handleRoutines,
		"plan":     h.handlePlan,
		"run":      h.handleRun,
		"pause":    h.handlePause,
		"stop":     h.handleStop,
		"status":   h.handleStatus,
		"skip":     h.stepCommand("Skipped", (*scheduler.Controller).SkipStep),
		"begin":    h.stepCommand("Started", (*scheduler.Controller).ManualStart),
		"hold":     h.stepCommand("Holding", (*scheduler.Controller).PauseStep),
		"resume":   h.stepCommand("Resumed", (*scheduler.Controller).ResumeStep),
		"restart":  h.stepCommand("Restarted", (*scheduler.Controller).RestartStep),
		"skipwait": h.handleSkipWait,
		"prep":     h.handlePrep,
		"done":     h.handleDone,
		"draft":    h.handleDraft,
		"stats":    h.handleStats,
	}
}

// Callbacks returns the callback handlers keyed by data prefix
func (h *Handlers) Callbacks() map[string]CallbackHandler {
	return map[string]CallbackHandler{
		startCallback: h.handleStartButton,
	}
}

// Default handles plain text, which only matters while drafting
func (h *Handlers) Default(update tgbotapi.Update) {
	msg := update.Message
	if msg == nil || msg.Text == "" || msg.IsCommand() {
		return
	}
	if h.sessions.GetState(msg.Chat.ID) != state.StateDrafting {
		return
	}
	h.sessions.ClearState(msg.Chat.ID)
	h.draft(msg.Chat.ID, userID(msg.From), msg.Text)
}

func (h *Handlers) reply(chatID int64, text string) {
	if _, err := h.sender.SendMessage(chatID, text); err != nil {
		h.logger.Error("Failed to send message to %d: %v", chatID, err)
	}
}

func userID(u *tgbotapi.User) string {
	if u == nil {
		return ""
	}
	return strconv.FormatInt(u.ID, 10)
}

func (h *Handlers) handleStart(message *tgbotapi.Message) {
	h.reply(message.Chat.ID, h.messages.Welcome(h.ctx))
}

func (h *Handlers) handleRoutines(message *tgbotapi.Message) {
	list, err := h.store.List(userID(message.From))
	if err != nil {
		h.logger.Error("Failed to list routines: %v", err)
		h.reply(message.Chat.ID, h.messages.Error(h.ctx, "list routines"))
		return
	}
	h.reply(message.Chat.ID, messages.FormatRoutineList(list))
}

// fetch loads the routine named by the first argument and resolves an optional HH:MM
func (h *Handlers) fetch(message *tgbotapi.Message) (models.Routine, *time.Time, bool) {
	chatID := message.Chat.ID
	args := strings.Fields(message.CommandArguments())
	if len(args) == 0 {
		h.reply(chatID, fmt.Sprintf("Usage: /%s <routine id> [HH:MM]", message.Command()))
		return models.Routine{}, nil, false
	}

	r, err := h.store.Fetch(args[0])
	if err != nil {
		if errors.Is(err, routines.ErrNotFound) {
			h.reply(chatID, fmt.Sprintf("No routine with id %s. See /routines.", args[0]))
		} else {
			h.logger.Error("Failed to load routine %s: %v", args[0], err)
			h.reply(chatID, h.messages.Error(h.ctx, "load routine"))
		}
		return models.Routine{}, nil, false
	}
	if r.UserID != "" && r.UserID != userID(message.From) {
		h.reply(chatID, fmt.Sprintf("No routine with id %s. See /routines.", args[0]))
		return models.Routine{}, nil, false
	}

	if len(args) < 2 {
		return r, nil, true
	}
	target, err := planner.NextOccurrence(h.now(), args[1])
	if err != nil {
		h.reply(chatID, err.Error())
		return models.Routine{}, nil, false
	}
	return r, &target, true
}

func (h *Handlers) handlePlan(message *tgbotapi.Message) {
	r, target, ok := h.fetch(message)
	if !ok {
		return
	}
	plan := planner.Initial(r.SwimLanes, target, h.now())
	h.reply(message.Chat.ID, messages.FormatPlan(r, plan))
}

func (h *Handlers) handleRun(message *tgbotapi.Message) {
	chatID := message.Chat.ID
	r, target, ok := h.fetch(message)
	if !ok {
		return
	}

	ctrl := scheduler.New(h.options...)
	session := state.NewSession(chatID, r, ctrl, func(e events.Event) { h.notify(chatID, e) })
	session.Target = target
	session.StartedAt = h.now()
	if old, ok := h.sessions.Session(chatID); ok && old.Controller.Status() != models.StatusStopped {
		old.Controller.Stop()
		h.record(old, false)
	}
	h.sessions.Put(session)

	snap := ctrl.Initialize(r, models.StatusRunning, target)
	if target != nil && snap.Shortfall > 0 {
		h.reply(chatID, h.messages.Infeasible(*target, snap.Shortfall))
	}
	h.reply(chatID, h.messages.RoutineStarted(h.ctx, r, target))
	if blocked := session.Checklist.Blocked(); len(blocked) > 0 {
		h.reply(chatID, messages.FormatPrepTasks(session.Checklist.Pending(), session.Checklist.IsComplete))
	}
	session.Start(h.ctx)
}

// notify turns scheduler events into chat messages
func (h *Handlers) notify(chatID int64, e events.Event) {
	switch e.Type {
	case events.StepReady:
		keyboard := tgbotapi.NewInlineKeyboardMarkup(
			tgbotapi.NewInlineKeyboardRow(
				tgbotapi.NewInlineKeyboardButtonData("▶️ Start", startCallback+e.StepID),
			),
		)
		text := h.messages.StepReady(h.ctx, e.LaneName, e.StepName)
		if _, err := h.sender.SendMessageWithKeyboard(chatID, text, keyboard); err != nil {
			h.logger.Error("Failed to send step ready notice: %v", err)
		}
	case events.LaneComplete:
		h.reply(chatID, h.messages.LaneComplete(h.ctx, e.LaneName))
	case events.RoutineComplete:
		name := e.RoutineID
		if s, ok := h.sessions.Session(chatID); ok {
			name = s.Routine.Name
			h.record(s, true)
		}
		h.reply(chatID, h.messages.RoutineComplete(h.ctx, name))
	default:
		h.logger.Debug("Event %s lane=%s step=%s", e.Type, e.LaneID, e.StepID)
	}
}

func (h *Handlers) record(s *state.Session, completed bool) {
	if h.stats == nil {
		return
	}
	if err := h.stats.RecordRun(s.Routine, completed, s.StartedAt, h.now()); err != nil {
		h.logger.Error("Failed to record run of %s: %v", s.Routine.ID, err)
	}
}

func (h *Handlers) handleStats(message *tgbotapi.Message) {
	if h.stats == nil {
		h.reply(message.Chat.ID, "Run statistics are not enabled.")
		return
	}
	top, err := h.stats.Top(10)
	if err != nil {
		h.logger.Error("Failed to load stats: %v", err)
		h.reply(message.Chat.ID, h.messages.Error(h.ctx, "load statistics"))
		return
	}
	h.reply(message.Chat.ID, messages.FormatStats(top))
}

// session returns the chat's run or tells the user there is none
func (h *Handlers) session(chatID int64) (*state.Session, bool) {
	s, ok := h.sessions.Session(chatID)
	if !ok {
		h.reply(chatID, "Nothing is running. Start a routine with /run <id>.")
	}
	return s, ok
}

func (h *Handlers) handlePause(message *tgbotapi.Message) {
	s, ok := h.session(message.Chat.ID)
	if !ok {
		return
	}
	s.Controller.PlayPause()
	switch s.Controller.Status() {
	case models.StatusPaused:
		h.reply(message.Chat.ID, "⏸ Paused. /pause again to resume.")
	case models.StatusRunning:
		h.reply(message.Chat.ID, "▶️ Resumed.")
	default:
		h.reply(message.Chat.ID, "This run has already stopped.")
	}
}

func (h *Handlers) handleStop(message *tgbotapi.Message) {
	s, ok := h.session(message.Chat.ID)
	if !ok {
		return
	}
	if s.Controller.Status() != models.StatusStopped {
		s.Controller.Stop()
		h.record(s, false)
	}
	h.sessions.Remove(message.Chat.ID)
	h.reply(message.Chat.ID, "⏹ Stopped.")
}

func (h *Handlers) handleStatus(message *tgbotapi.Message) {
	s, ok := h.session(message.Chat.ID)
	if !ok {
		return
	}
	board := render.Board(s.Routine, s.Controller.Snapshot(), s.Checklist.Blocked())
	if _, err := h.sender.SendPre(message.Chat.ID, board); err != nil {
		h.logger.Error("Failed to send status: %v", err)
	}
}

// stepCommand builds a handler for commands that take a step id
func (h *Handlers) stepCommand(done string, action func(*scheduler.Controller, string)) CommandHandler {
	return func(message *tgbotapi.Message) {
		chatID := message.Chat.ID
		s, ok := h.session(chatID)
		if !ok {
			return
		}
		stepID := strings.TrimSpace(message.CommandArguments())
		step, _, _, found := s.Routine.FindStep(stepID)
		if !found {
			h.reply(chatID, fmt.Sprintf("Usage: /%s <step id>", message.Command()))
			return
		}
		action(s.Controller, stepID)
		h.reply(chatID, fmt.Sprintf("%s: %s", done, step.Name))
	}
}

func (h *Handlers) handleSkipWait(message *tgbotapi.Message) {
	chatID := message.Chat.ID
	s, ok := h.session(chatID)
	if !ok {
		return
	}
	laneID := strings.TrimSpace(message.CommandArguments())
	lane, found := s.Routine.FindSwimLane(laneID)
	if !found {
		h.reply(chatID, "Usage: /skipwait <lane id>")
		return
	}
	s.Controller.SkipWait(laneID)
	h.reply(chatID, fmt.Sprintf("⏭ %s starts now.", lane.Name))
}

func (h *Handlers) handlePrep(message *tgbotapi.Message) {
	s, ok := h.session(message.Chat.ID)
	if !ok {
		return
	}
	h.reply(message.Chat.ID, messages.FormatPrepTasks(s.Checklist.Tasks(), s.Checklist.IsComplete))
}

func (h *Handlers) handleDone(message *tgbotapi.Message) {
	chatID := message.Chat.ID
	s, ok := h.session(chatID)
	if !ok {
		return
	}
	taskID := strings.TrimSpace(message.CommandArguments())
	if !s.Checklist.Toggle(taskID) && !containsTask(s.Routine.PrepTasks, taskID) {
		h.reply(chatID, "Usage: /done <task id>")
		return
	}
	h.reply(chatID, messages.FormatPrepTasks(s.Checklist.Tasks(), s.Checklist.IsComplete))
}

func containsTask(tasks []models.PrepTask, id string) bool {
	for _, t := range tasks {
		if t.ID == id {
			return true
		}
	}
	return false
}

func (h *Handlers) handleDraft(message *tgbotapi.Message) {
	chatID := message.Chat.ID
	if h.drafter == nil {
		h.reply(chatID, "Drafting routines needs an OpenAI API key.")
		return
	}
	description := strings.TrimSpace(message.CommandArguments())
	if description == "" {
		h.sessions.SetState(chatID, state.StateDrafting)
		h.reply(chatID, "Describe what you're cooking and I'll draft a routine.")
		return
	}
	h.draft(chatID, userID(message.From), description)
}

func (h *Handlers) draft(chatID int64, owner, description string) {
	if h.drafter == nil {
		return
	}
	data, err := h.drafter.DraftRoutine(h.ctx, description)
	if err != nil {
		h.logger.Error("Failed to draft routine: %v", err)
		h.reply(chatID, h.messages.Error(h.ctx, "draft a routine"))
		return
	}

	r, err := loader.Parse(data, loader.FormatJSON)
	if err != nil {
		h.logger.Warn("Drafted routine rejected: %v", err)
		h.reply(chatID, "😢 The draft didn't make sense, try describing it differently.")
		return
	}
	r.UserID = owner

	saved, err := h.store.Save(r)
	if err != nil {
		h.logger.Error("Failed to save drafted routine: %v", err)
		h.reply(chatID, h.messages.Error(h.ctx, "save routine"))
		return
	}
	plan := planner.Initial(saved.SwimLanes, nil, h.now())
	h.reply(chatID, messages.FormatPlan(saved, plan)+fmt.Sprintf("Start it with /run %s", saved.ID))
}

func (h *Handlers) handleStartButton(callback *tgbotapi.CallbackQuery) {
	if callback.Message == nil {
		return
	}
	chatID := callback.Message.Chat.ID
	stepID := strings.TrimPrefix(callback.Data, startCallback)

	s, ok := h.sessions.Session(chatID)
	if !ok || !s.Controller.ShouldShowStartButton(stepID) {
		if err := h.sender.AnswerCallbackQuery(callback.ID, "Nothing to start"); err != nil {
			h.logger.Error("Failed to answer callback: %v", err)
		}
		return
	}

	s.Controller.ManualStart(stepID)
	if err := h.sender.AnswerCallbackQuery(callback.ID, "Started"); err != nil {
		h.logger.Error("Failed to answer callback: %v", err)
	}
	name := stepID
	if step, _, _, found := s.Routine.FindStep(stepID); found {
		name = step.Name
	}
	if _, err := h.sender.EditMessage(chatID, callback.Message.MessageID, "▶️ "+name+" started"); err != nil {
		h.logger.Error("Failed to edit message: %v", err)
	}
}
