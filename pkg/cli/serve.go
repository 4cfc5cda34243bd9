package cli

import (
	"context"
	"time"

	"github.com/korjavin/routinetimer/pkg/loader"
	"github.com/korjavin/routinetimer/pkg/messages"
	"github.com/korjavin/routinetimer/pkg/openai"
	"github.com/korjavin/routinetimer/pkg/state"
	"github.com/korjavin/routinetimer/pkg/telegram"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const gcInterval = 10 * time.Minute

func newWatchCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "watch [dir]",
		Short: "Import routine files as they change",
		Long: `Import every routine file in dir, then keep importing files as they are
written. dir defaults to the configured watch_dir.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := app.Config.WatchDir
			if len(args) == 1 {
				dir = args[0]
			}
			svc, err := app.Routines()
			if err != nil {
				return err
			}
			return loader.NewWatcher(dir, svc).Run(cmd.Context())
		},
	}
}

func newBotCommand(app *App) *cobra.Command {
	var watch bool
	cmd := &cobra.Command{
		Use:   "bot",
		Short: "Run the Telegram bot",
		Long: `Run the Telegram bot. Each chat can run one routine at a time and gets a
message whenever a manual step is ready or a lane finishes.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := app.Config.RequireBot(); err != nil {
				return NewExitError(2, err)
			}
			return app.serveBot(cmd.Context(), watch)
		},
	}
	cmd.Flags().BoolVar(&watch, "watch", true, "also import routine files from watch_dir")
	return cmd
}

func (a *App) serveBot(ctx context.Context, watch bool) error {
	cfg := a.Config
	log := a.logger.With("bot")
	log.Info("Starting routinetimer bot...")

	svc, err := a.Routines()
	if err != nil {
		return err
	}
	a.store.StartGCRoutine(ctx, gcInterval)

	var msgs *messages.Service
	var drafter telegram.Drafter
	if cfg.HasOpenAI() {
		client := openai.New(cfg.OpenAIAPIKey, cfg.OpenAIAPIBase, cfg.OpenAIModel)
		msgs = messages.New(client)
		drafter = client
	} else {
		log.Warn("No OpenAI API key, using fixed message texts and no /draft")
		msgs = messages.New(nil)
	}

	bot, err := telegram.New(cfg.BotToken)
	if err != nil {
		return err
	}

	sessions := state.New()
	defer sessions.CloseAll()

	handlers := telegram.NewHandlers(ctx, bot, svc, drafter, msgs, sessions, a.schedulerOptions()...)
	handlers.SetStats(a.stats)

	g, ctx := errgroup.WithContext(ctx)
	if watch {
		g.Go(func() error {
			return loader.NewWatcher(cfg.WatchDir, svc).Run(ctx)
		})
	}
	g.Go(func() error {
		err := bot.Start(ctx, handlers.Commands(), handlers.Callbacks(), handlers.Default)
		if ctx.Err() != nil {
			return nil
		}
		return err
	})

	err = g.Wait()
	log.Info("Bot stopped")
	return err
}
