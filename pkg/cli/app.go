// Package cli implements the routinetimer command line: routine management,
// a terminal runner and the long-running bot and watch services.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/korjavin/routinetimer/pkg/config"
	"github.com/korjavin/routinetimer/pkg/logger"
	"github.com/korjavin/routinetimer/pkg/routines"
	"github.com/korjavin/routinetimer/pkg/scheduler"
	"github.com/korjavin/routinetimer/pkg/stats"
	"github.com/korjavin/routinetimer/pkg/storage"
	"github.com/spf13/cobra"
)

// App holds what the commands share. Config is loaded by the root command
// unless it was set beforehand.
type App struct {
	Config *config.Config
	Out    io.Writer
	In     io.Reader

	// Interactive enables screen clearing between board redraws
	Interactive bool

	outMu    sync.Mutex
	store    *storage.Store
	routines *routines.Service
	stats    *stats.Service
	logger   *logger.Logger
}

// NewApp creates an App writing to out and reading commands from in
func NewApp(out io.Writer, in io.Reader) *App {
	return &App{
		Out:    out,
		In:     in,
		logger: logger.New("cli"),
	}
}

// UseStore makes the app use an already open store instead of Config.DataDir
func (a *App) UseStore(store *storage.Store) {
	a.store = store
	a.routines = routines.New(store)
	a.stats = stats.New(store)
}

// Routines opens the store on first use
func (a *App) Routines() (*routines.Service, error) {
	if a.routines != nil {
		return a.routines, nil
	}
	store, err := storage.New(a.Config.DataDir)
	if err != nil {
		return nil, err
	}
	a.UseStore(store)
	return a.routines, nil
}

// Close releases the store if this app opened it
func (a *App) Close() {
	if a.store == nil {
		return
	}
	if err := a.store.Close(); err != nil {
		a.logger.Error("Failed to close storage: %v", err)
	}
	a.store = nil
	a.routines = nil
	a.stats = nil
}

func (a *App) schedulerOptions() []scheduler.Option {
	return []scheduler.Option{
		scheduler.WithTickInterval(a.Config.TickInterval),
		scheduler.WithSettleDelay(a.Config.SettleDelay),
	}
}

func (a *App) printf(format string, v ...interface{}) {
	a.outMu.Lock()
	defer a.outMu.Unlock()
	fmt.Fprintf(a.Out, format, v...)
}

// NewRootCommand builds the command tree around app
func NewRootCommand(app *App) *cobra.Command {
	var configPath string
	var debug bool

	root := &cobra.Command{
		Use:           "routinetimer",
		Short:         "Run routines of parallel timed steps that finish together",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if app.Config == nil {
				var cfg *config.Config
				var err error
				if configPath != "" {
					cfg, err = config.NewLoader().LoadFromFile(configPath)
				} else {
					cfg, err = config.Load()
				}
				if err != nil {
					return NewExitError(2, err)
				}
				app.Config = cfg
			}
			if debug {
				logger.SetDebug(true)
			}
			return nil
		},
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "YAML config file")
	root.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")

	root.AddCommand(
		newImportCommand(app),
		newListCommand(app),
		newDeleteCommand(app),
		newPlanCommand(app),
		newStatsCommand(app),
		newRunCommand(app),
		newWatchCommand(app),
		newBotCommand(app),
	)
	return root
}

// Execute runs the command line and returns the process exit code
func Execute() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app := NewApp(os.Stdout, os.Stdin)
	app.Interactive = isTerminal(os.Stdout)
	defer app.Close()

	root := NewRootCommand(app)
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		if code, ok := IsExitError(err); ok {
			return code
		}
		return 1
	}
	return 0
}
