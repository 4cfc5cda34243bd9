package cli

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/korjavin/routinetimer/pkg/loader"
	"github.com/korjavin/routinetimer/pkg/messages"
	"github.com/korjavin/routinetimer/pkg/models"
	"github.com/korjavin/routinetimer/pkg/planner"
	"github.com/korjavin/routinetimer/pkg/routines"
	"github.com/spf13/cobra"
)

// resolve treats arg as a routine file when one exists at that path, and as a
// stored routine id otherwise
func (a *App) resolve(arg string) (models.Routine, error) {
	if loader.Supported(arg) {
		if _, err := os.Stat(arg); err == nil {
			r, err := loader.LoadFile(arg)
			if err != nil {
				return models.Routine{}, NewExitError(2, err)
			}
			return r, nil
		}
	}

	svc, err := a.Routines()
	if err != nil {
		return models.Routine{}, err
	}
	r, err := svc.Fetch(arg)
	if errors.Is(err, routines.ErrNotFound) {
		return models.Routine{}, NewExitError(2, fmt.Errorf("no routine with id %s", arg))
	}
	return r, err
}

// target parses an optional HH:MM end time
func target(now time.Time, end string) (*time.Time, error) {
	if end == "" {
		return nil, nil
	}
	t, err := planner.NextOccurrence(now, end)
	if err != nil {
		return nil, NewExitError(2, err)
	}
	return &t, nil
}

func newImportCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "import <file> [file...]",
		Short: "Import routine files into the store",
		Long: `Import YAML, TOML or JSON routine files. Importing the same file again
replaces the routine it created the first time.

Example:
  routinetimer import routines/sunday-roast.yaml`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := app.Routines()
			if err != nil {
				return err
			}
			failed := 0
			for _, path := range args {
				r, err := loader.LoadFile(path)
				if err == nil {
					r, err = svc.Save(r)
				}
				if err != nil {
					app.printf("✗ %s: %v\n", path, err)
					failed++
					continue
				}
				app.printf("✓ %s imported as %s\n", r.Name, r.ID)
			}
			if failed > 0 {
				return NewExitError(1, fmt.Errorf("%d of %d files failed to import", failed, len(args)))
			}
			return nil
		},
	}
}

func newListCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List stored routines",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := app.Routines()
			if err != nil {
				return err
			}
			list, err := svc.List("")
			if err != nil {
				return err
			}
			if len(list) == 0 {
				app.printf("No routines yet. Import one with: routinetimer import <file>\n")
				return nil
			}
			for _, r := range list {
				var total time.Duration
				for _, d := range planner.TotalDurations(r.SwimLanes) {
					total = max(total, d)
				}
				app.printf("%s  %-24s %d lanes, %s\n", r.ID, r.Name, len(r.SwimLanes), total)
			}
			return nil
		},
	}
}

func newDeleteCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <routine-id>",
		Short: "Delete a stored routine",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := app.Routines()
			if err != nil {
				return err
			}
			if err := svc.Delete(args[0]); err != nil {
				if errors.Is(err, routines.ErrNotFound) {
					return NewExitError(2, fmt.Errorf("no routine with id %s", args[0]))
				}
				return err
			}
			app.printf("Deleted %s\n", args[0])
			return nil
		},
	}
}

func newPlanCommand(app *App) *cobra.Command {
	var end string
	cmd := &cobra.Command{
		Use:   "plan <routine-id|file>",
		Short: "Show when each lane starts",
		Long: `Show when each lane starts and how long it runs. Without --end the lanes
are aligned to finish with the longest one.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := app.resolve(args[0])
			if err != nil {
				return err
			}
			now := time.Now()
			t, err := target(now, end)
			if err != nil {
				return err
			}
			app.printf("%s", messages.FormatPlan(r, planner.Initial(r.SwimLanes, t, now)))
			return nil
		},
	}
	cmd.Flags().StringVar(&end, "end", "", "finish at this time of day (HH:MM)")
	return cmd
}

func newStatsCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show how often routines were run",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := app.Routines(); err != nil {
				return err
			}
			top, err := app.stats.Top(0)
			if err != nil {
				return err
			}
			app.printf("%s", messages.FormatStats(top))
			return nil
		},
	}
}
