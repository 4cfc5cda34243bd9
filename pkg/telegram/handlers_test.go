package telegram

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/korjavin/routinetimer/pkg/logger"
	"github.com/korjavin/routinetimer/pkg/messages"
	"github.com/korjavin/routinetimer/pkg/models"
	"github.com/korjavin/routinetimer/pkg/routines"
	"github.com/korjavin/routinetimer/pkg/scheduler"
	"github.com/korjavin/routinetimer/pkg/state"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const chatID = int64(100)

type sent struct {
	text     string
	keyboard *tgbotapi.InlineKeyboardMarkup
}

type fakeSender struct {
	mu       sync.Mutex
	messages []sent
	answers  []string
	edits    []string
}

func (f *fakeSender) SendMessage(_ int64, text string) (tgbotapi.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, sent{text: text})
	return tgbotapi.Message{}, nil
}

func (f *fakeSender) SendMessageWithKeyboard(_ int64, text string, keyboard tgbotapi.InlineKeyboardMarkup) (tgbotapi.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, sent{text: text, keyboard: &keyboard})
	return tgbotapi.Message{}, nil
}

func (f *fakeSender) SendPre(_ int64, text string) (tgbotapi.Message, error) {
	return f.SendMessage(chatID, text)
}

func (f *fakeSender) AnswerCallbackQuery(_ string, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.answers = append(f.answers, text)
	return nil
}

func (f *fakeSender) EditMessage(_ int64, _ int, text string) (tgbotapi.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.edits = append(f.edits, text)
	return tgbotapi.Message{}, nil
}

func (f *fakeSender) last() sent {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.messages) == 0 {
		return sent{}
	}
	return f.messages[len(f.messages)-1]
}

func (f *fakeSender) find(substr string) (sent, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range f.messages {
		if strings.Contains(m.text, substr) {
			return m, true
		}
	}
	return sent{}, false
}

type fakeStore struct {
	mu       sync.Mutex
	routines map[string]models.Routine
}

func (f *fakeStore) Fetch(id string) (models.Routine, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.routines[id]
	if !ok {
		return models.Routine{}, routines.ErrNotFound
	}
	return r, nil
}

func (f *fakeStore) Save(r models.Routine) (models.Routine, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.routines[r.ID] = r
	return r, nil
}

func (f *fakeStore) List(string) ([]models.Routine, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Routine
	for _, r := range f.routines {
		out = append(out, r)
	}
	return out, nil
}

type fakeDrafter struct {
	doc string
	err error
}

func (f fakeDrafter) DraftRoutine(context.Context, string) ([]byte, error) {
	return []byte(f.doc), f.err
}

func dinner() models.Routine {
	r := models.Routine{
		ID:   "dinner",
		Name: "Dinner",
		SwimLanes: []models.SwimLane{
			{ID: "oven", Name: "Oven", Steps: []models.Step{
				{ID: "bake", Name: "Bake", DurationInSeconds: 3600, StartType: models.StartManual},
			}},
			{ID: "hob", Name: "Hob", Steps: []models.Step{
				{ID: "boil", Name: "Boil", DurationInSeconds: 600},
				{ID: "mash", Name: "Mash", DurationInSeconds: 300},
			}},
		},
		PrepTasks: []models.PrepTask{{ID: "peel", Name: "Peel potatoes", MustCompleteBeforeSwimlaneID: "hob"}},
	}
	r.Normalize()
	return r
}

func command(text string) *tgbotapi.Message {
	return &tgbotapi.Message{
		MessageID: 1,
		Text:      text,
		Chat:      &tgbotapi.Chat{ID: chatID},
		From:      &tgbotapi.User{ID: 7, UserName: "cook"},
		Entities:  []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: len(strings.Fields(text)[0])}},
	}
}

type fixture struct {
	h        *Handlers
	sender   *fakeSender
	store    *fakeStore
	sessions *state.Manager
}

func newFixture(t *testing.T, drafter Drafter) *fixture {
	t.Helper()
	f := &fixture{
		sender:   &fakeSender{},
		store:    &fakeStore{routines: map[string]models.Routine{"dinner": dinner()}},
		sessions: state.New(),
	}
	f.h = NewHandlers(context.Background(), f.sender, f.store, drafter, messages.New(nil), f.sessions,
		scheduler.WithTickInterval(10*time.Millisecond))
	f.h.now = func() time.Time { return time.Date(2024, 3, 1, 18, 0, 0, 0, time.UTC) }
	t.Cleanup(f.sessions.CloseAll)
	return f
}

func (f *fixture) run(text string) {
	msg := command(text)
	f.h.Commands()[msg.Command()](msg)
}

func TestHandlers_Routines(t *testing.T) {
	f := newFixture(t, nil)
	f.run("/routines")
	assert.Contains(t, f.sender.last().text, "/run dinner")
}

func TestHandlers_PlanTimed(t *testing.T) {
	f := newFixture(t, nil)
	f.run("/plan dinner 18:30")

	text := f.sender.last().text
	assert.Contains(t, text, "Dinner, 30m0s in total")
	assert.Contains(t, text, "Oven: starts now, runs 1h0m0s")
	assert.Contains(t, text, "Hob: starts after 15m0s, runs 15m0s")
	assert.Contains(t, text, "Overruns the end time by 30m0s")
}

func TestHandlers_RunUnknownRoutine(t *testing.T) {
	f := newFixture(t, nil)
	f.run("/run nope")

	assert.Contains(t, f.sender.last().text, "No routine with id nope")
	_, ok := f.sessions.Session(chatID)
	assert.False(t, ok)
}

func TestHandlers_RunAndControl(t *testing.T) {
	f := newFixture(t, nil)
	f.run("/run dinner")

	s, ok := f.sessions.Session(chatID)
	require.True(t, ok)
	assert.Equal(t, models.StatusRunning, s.Controller.Status())
	_, ok = f.sender.find("Dinner started")
	assert.True(t, ok)
	_, ok = f.sender.find("Peel potatoes")
	assert.True(t, ok, "open prep tasks are listed")

	require.Eventually(t, func() bool {
		m, ok := f.sender.find("\"Bake\" is ready to start")
		return ok && m.keyboard != nil
	}, 2*time.Second, 10*time.Millisecond)

	f.run("/skipwait hob")
	assert.Contains(t, f.sender.last().text, "Hob starts now")
	assert.False(t, s.Controller.Snapshot().Swimlanes["hob"].IsWaiting)

	f.run("/skip boil")
	assert.Equal(t, "Skipped: Boil", f.sender.last().text)
	assert.Equal(t, 1, s.Controller.Snapshot().Swimlanes["hob"].CurrentStepIndex)

	f.run("/skip nope")
	assert.Contains(t, f.sender.last().text, "Usage: /skip")

	f.run("/done peel")
	assert.Contains(t, f.sender.last().text, "✅ Peel potatoes")
	assert.Empty(t, s.Checklist.Blocked())

	f.run("/status")
	assert.Contains(t, f.sender.last().text, "Dinner [running]")

	f.run("/pause")
	assert.Contains(t, f.sender.last().text, "Paused")
	f.run("/pause")
	assert.Contains(t, f.sender.last().text, "Resumed")

	f.run("/stop")
	assert.Contains(t, f.sender.last().text, "Stopped")
	_, ok = f.sessions.Session(chatID)
	assert.False(t, ok)

	f.run("/status")
	assert.Contains(t, f.sender.last().text, "Nothing is running")
}

func TestHandlers_StartButton(t *testing.T) {
	f := newFixture(t, nil)
	f.run("/run dinner")
	s, _ := f.sessions.Session(chatID)

	press := &tgbotapi.CallbackQuery{
		ID:      "cb1",
		Data:    startCallback + "bake",
		Message: &tgbotapi.Message{MessageID: 9, Chat: &tgbotapi.Chat{ID: chatID}},
	}
	f.h.Callbacks()[startCallback](press)

	assert.False(t, s.Controller.ShouldShowStartButton("bake"))
	assert.Equal(t, 2, s.Controller.ActiveTimers(), "bake and the hob wait")
	assert.Equal(t, []string{"Started"}, f.sender.answers)
	assert.Equal(t, []string{"▶️ Bake started"}, f.sender.edits)

	f.h.Callbacks()[startCallback](press)
	assert.Equal(t, []string{"Started", "Nothing to start"}, f.sender.answers)
}

func TestHandlers_Draft(t *testing.T) {
	doc := `{"name":"Pasta","swim_lanes":[{"name":"Pot","steps":[{"name":"Boil water","duration_in_seconds":480},{"name":"Cook pasta","duration_in_seconds":540}]}]}`
	f := newFixture(t, fakeDrafter{doc: doc})

	f.run("/draft")
	assert.Equal(t, state.StateDrafting, f.sessions.GetState(chatID))

	f.h.Default(tgbotapi.Update{Message: &tgbotapi.Message{
		Text: "spaghetti for four",
		Chat: &tgbotapi.Chat{ID: chatID},
		From: &tgbotapi.User{ID: 7},
	}})

	assert.Equal(t, state.StateNormal, f.sessions.GetState(chatID))
	assert.Contains(t, f.sender.last().text, "Pasta, 17m0s in total")
	assert.Contains(t, f.sender.last().text, "Start it with /run ")

	list, _ := f.store.List("")
	assert.Len(t, list, 2)
	for _, r := range list {
		if r.Name == "Pasta" {
			assert.Equal(t, "7", r.UserID)
		}
	}
}

func TestHandlers_DraftFailures(t *testing.T) {
	f := newFixture(t, nil)
	f.run("/draft soup")
	assert.Contains(t, f.sender.last().text, "needs an OpenAI API key")

	f = newFixture(t, fakeDrafter{err: errors.New("timeout")})
	f.run("/draft soup")
	assert.Contains(t, f.sender.last().text, "something went wrong")

	f = newFixture(t, fakeDrafter{doc: `{"name":"Soup","swim_lanes":[{"name":"Pot","steps":[{"name":"Simmer","duration_in_seconds":0}]}]}`})
	f.run("/draft soup")
	assert.Contains(t, f.sender.last().text, "didn't make sense")
}

func TestDispatch(t *testing.T) {
	var got []string
	commands := map[string]CommandHandler{
		"run": func(m *tgbotapi.Message) { got = append(got, "run:"+m.CommandArguments()) },
	}
	callbacks := map[string]CallbackHandler{
		startCallback: func(c *tgbotapi.CallbackQuery) { got = append(got, "cb:"+c.Data) },
	}
	fallback := func(u tgbotapi.Update) { got = append(got, "default") }
	l := logger.New("test")

	Dispatch(l, tgbotapi.Update{Message: command("/run dinner")}, commands, callbacks, fallback)
	Dispatch(l, tgbotapi.Update{CallbackQuery: &tgbotapi.CallbackQuery{
		Data:    "start:bake",
		Message: &tgbotapi.Message{Chat: &tgbotapi.Chat{ID: chatID}},
	}}, commands, callbacks, fallback)
	Dispatch(l, tgbotapi.Update{Message: command("/unknown")}, commands, callbacks, fallback)

	assert.Equal(t, []string{"run:dinner", "cb:start:bake", "default"}, got)
}

type fakeStats struct {
	mu   sync.Mutex
	runs []bool
}

func (f *fakeStats) RecordRun(_ models.Routine, completed bool, _, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runs = append(f.runs, completed)
	return nil
}

func (f *fakeStats) Top(int) ([]models.RunStats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	st := models.RunStats{RoutineName: "Dinner", Runs: len(f.runs)}
	for _, completed := range f.runs {
		if completed {
			st.Completed++
		} else {
			st.Stopped++
		}
	}
	return []models.RunStats{st}, nil
}

func TestHandlers_Stats(t *testing.T) {
	f := newFixture(t, nil)
	f.run("/stats")
	assert.Contains(t, f.sender.last().text, "not enabled")

	rec := &fakeStats{}
	f.h.SetStats(rec)
	f.run("/run dinner")
	f.run("/stop")
	f.run("/stats")

	assert.Contains(t, f.sender.last().text, "Dinner: 1 runs, 0 completed, 1 stopped")
	assert.Equal(t, []bool{false}, rec.runs)
}

func TestHandlers_RunReplacesUnfinishedRun(t *testing.T) {
	f := newFixture(t, nil)
	rec := &fakeStats{}
	f.h.SetStats(rec)

	f.run("/run dinner")
	f.run("/run dinner")
	f.run("/stats")

	assert.Equal(t, []bool{false}, rec.runs, "the replaced run counts as stopped")
	assert.Contains(t, f.sender.last().text, "Dinner: 1 runs, 0 completed, 1 stopped")
}
