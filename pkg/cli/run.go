package cli

import (
	"bufio"
	"context"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/korjavin/routinetimer/pkg/events"
	"github.com/korjavin/routinetimer/pkg/messages"
	"github.com/korjavin/routinetimer/pkg/models"
	"github.com/korjavin/routinetimer/pkg/render"
	"github.com/korjavin/routinetimer/pkg/scheduler"
	"github.com/korjavin/routinetimer/pkg/state"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
)

const clearScreen = "\033[H\033[2J"

const runHelp = `Commands while running:
  p                pause or resume the routine
  start <step>     start a manual step
  skip <step>      finish a step now
  hold <step>      hold a step's timer
  resume <step>    release a held step
  restart <step>   start a step over
  wait <lane>      end a lane's wait now
  done <task>      tick off a prep task
  q                stop and quit
`

func isTerminal(f *os.File) bool {
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

func newRunCommand(app *App) *cobra.Command {
	var end string
	var paused bool
	var refresh time.Duration

	cmd := &cobra.Command{
		Use:   "run <routine-id|file>",
		Short: "Run a routine in the terminal",
		Long: `Run a routine in the terminal, redrawing the board as it goes.

` + runHelp,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := app.resolve(args[0])
			if err != nil {
				return err
			}
			t, err := target(time.Now(), end)
			if err != nil {
				return err
			}
			return app.Run(cmd.Context(), r, t, paused, refresh)
		},
	}
	cmd.Flags().StringVar(&end, "end", "", "finish at this time of day (HH:MM)")
	cmd.Flags().BoolVar(&paused, "paused", false, "load the routine paused")
	cmd.Flags().DurationVar(&refresh, "refresh", time.Second, "board redraw interval")
	return cmd
}

// Run drives r until it completes, the user quits or ctx is done
func (a *App) Run(ctx context.Context, r models.Routine, target *time.Time, paused bool, refresh time.Duration) error {
	msgs := messages.New(nil)
	finished := make(chan struct{})
	var finishOnce sync.Once

	ctrl := scheduler.New(append(a.schedulerOptions(), scheduler.WithLogger(a.logger.With("run")))...)
	session := state.NewSession(0, r, ctrl, func(e events.Event) {
		switch e.Type {
		case events.StepReady:
			a.printf("%s Type: start %s\n", msgs.StepReady(ctx, e.LaneName, e.StepName), e.StepID)
		case events.LaneComplete:
			a.printf("%s\n", msgs.LaneComplete(ctx, e.LaneName))
		case events.RoutineComplete:
			a.printf("%s\n", msgs.RoutineComplete(ctx, r.Name))
			finishOnce.Do(func() { close(finished) })
		}
	})
	defer session.Close()
	session.StartedAt = time.Now()
	completed := false
	defer func() { a.record(session, completed) }()

	initial := models.StatusRunning
	if paused {
		initial = models.StatusPaused
	}
	snap := ctrl.Initialize(r, initial, target)
	if target != nil && snap.Shortfall > 0 {
		a.printf("%s\n", msgs.Infeasible(*target, snap.Shortfall))
	}
	if len(r.PrepTasks) > 0 {
		a.printf("%s", messages.FormatPrepTasks(session.Checklist.Tasks(), session.Checklist.IsComplete))
	}
	session.Start(ctx)

	lines := make(chan string)
	stop := make(chan struct{})
	defer close(stop)
	go scanLines(a.In, lines, stop)

	if refresh <= 0 {
		refresh = time.Second
	}
	ticker := time.NewTicker(refresh)
	defer ticker.Stop()

	a.draw(session)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-finished:
			completed = true
			a.draw(session)
			return nil
		case <-ticker.C:
			a.draw(session)
		case line, ok := <-lines:
			if !ok {
				// input closed, keep running on the timers alone
				lines = nil
				continue
			}
			if quit := a.control(session, line); quit {
				return nil
			}
			a.draw(session)
		}
	}
}

// record stores the outcome of a run when the store is open
func (a *App) record(s *state.Session, completed bool) {
	if a.stats == nil {
		return
	}
	if err := a.stats.RecordRun(s.Routine, completed, s.StartedAt, time.Now()); err != nil {
		a.logger.Error("Failed to record run of %s: %v", s.Routine.ID, err)
	}
}

func scanLines(in io.Reader, lines chan<- string, stop <-chan struct{}) {
	defer close(lines)
	if in == nil {
		return
	}
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		select {
		case lines <- scanner.Text():
		case <-stop:
			return
		}
	}
}

func (a *App) draw(s *state.Session) {
	board := render.Board(s.Routine, s.Controller.Snapshot(), s.Checklist.Blocked())
	if a.Interactive {
		board = clearScreen + board
	}
	a.printf("%s\n", board)
}

// control applies one line of user input and reports whether to quit
func (a *App) control(s *state.Session, line string) bool {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false
	}
	ctrl := s.Controller
	arg := ""
	if len(fields) > 1 {
		arg = fields[1]
	}

	switch fields[0] {
	case "p", "pause":
		ctrl.PlayPause()
	case "q", "quit", "stop":
		ctrl.Stop()
		return true
	case "start":
		ctrl.ManualStart(arg)
	case "skip":
		ctrl.SkipStep(arg)
	case "hold":
		ctrl.PauseStep(arg)
	case "resume":
		ctrl.ResumeStep(arg)
	case "restart":
		ctrl.RestartStep(arg)
	case "wait":
		ctrl.SkipWait(arg)
	case "done":
		if !s.Checklist.Complete(arg) {
			a.printf("No prep task %q\n", arg)
		}
	default:
		a.printf("%s", runHelp)
	}
	return false
}
