package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ElijahFeldman7/workflow/internal/config"
	"github.com/ElijahFeldman7/workflow/internal/schema"
	"github.com/ElijahFeldman7/workflow/internal/ui"
	"github.com/ElijahFeldman7/workflow/internal/widgets"
)

var watchCmd = &cobra.Command{
	Use:     "watch",
	GroupID: "widgets",
	Short:   "Show the whole dashboard and follow changes live",
	Long: `Show every widget and redraw whenever a record changes, whether from
this machine or another client of the same store. Ctrl+C exits.`,
	Args: cobra.NoArgs,
	RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
		ctx := cmd.Context()
		cfg := a.widgetConfig()
		d := &dashboardView{}
		var err error

		if d.tasks, err = widgets.NewTasks(a.st, a.auth, cfg); err != nil {
			return err
		}
		a.track(d.tasks)
		if d.notes, err = widgets.NewNotes(a.st, a.auth, cfg); err != nil {
			return err
		}
		a.track(d.notes)
		if d.habits, err = widgets.NewHabits(a.st, a.auth, cfg); err != nil {
			return err
		}
		a.track(d.habits)
		if d.links, err = widgets.NewLinks(a.st, a.auth, cfg); err != nil {
			return err
		}
		a.track(d.links)
		if d.sched, err = widgets.NewScheduler(a.st, a.auth, cfg); err != nil {
			return err
		}
		a.track(d.sched)
		if d.timer, err = widgets.NewFocusTimer(a.st, a.auth, cfg); err != nil {
			return err
		}
		defer d.timer.Close()

		for _, w := range []interface{ Watch(context.Context) error }{d.tasks, d.notes, d.habits, d.links, d.timer} {
			if err := w.Watch(ctx); err != nil {
				return err
			}
		}

		if loader.File() != "" {
			logger := a.logs.New("config")
			err := loader.Watch(ctx, func(next *config.Config, err error) {
				if err != nil {
					logger.Printf("Config reload failed: %v", err)
					return
				}
				d.retune(next.Autosave.QuietPeriod, logger.Printf)
			})
			if err != nil {
				logger.Printf("Not watching config: %v", err)
			}
		}

		interactive := ui.IsTerminal(os.Stdout)
		refresh := time.NewTicker(time.Second)
		defer refresh.Stop()

		d.draw(ctx, interactive)
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-d.tasks.Changed():
			case <-d.notes.Changed():
			case <-d.habits.Changed():
			case <-d.links.Changed():
			case <-refresh.C:
				// The clock and the schedule's day move on their own.
				if !interactive {
					continue
				}
			}
			d.draw(ctx, interactive)
		}
	}),
}

// dashboardView renders every widget together.
type dashboardView struct {
	tasks  *widgets.Tasks
	notes  *widgets.Notes
	habits *widgets.Habits
	links  *widgets.Links
	sched  *widgets.Scheduler
	timer  *widgets.FocusTimer
}

func (d *dashboardView) retune(quiet time.Duration, logf func(string, ...any)) {
	for _, w := range []interface{ SetQuietPeriod(time.Duration) error }{d.tasks, d.notes, d.habits, d.links} {
		if err := w.SetQuietPeriod(quiet); err != nil {
			logf("Keeping quiet period: %v", err)
			return
		}
	}
	logf("Quiet period set to %v", quiet)
}

func (d *dashboardView) draw(ctx context.Context, clear bool) {
	now := time.Now()
	date := schema.DateKey(now)

	sections := []string{
		ui.RenderHeader("Tasks") + "\n" + ui.Tasks(d.tasks.List(), now),
		ui.RenderHeader("Habits") + "\n" + ui.Habits(d.habits.List(), schema.WeekdayIndex(now.Weekday())),
	}
	if events, err := d.sched.Day(ctx, date); err == nil {
		sections = append(sections, ui.Schedule(date, events))
	} else {
		sections = append(sections, ui.RenderFail("Schedule: "+err.Error()))
	}
	state, running := d.timer.State()
	sections = append(sections,
		ui.Timer(state, running),
		ui.RenderHeader("Notes")+"\n"+ui.Notes(d.notes.List()),
		ui.RenderHeader("Links")+"\n"+ui.Links(d.links.List()),
	)

	if clear {
		fmt.Print("\033[H\033[2J")
	} else {
		fmt.Println(ui.RenderMuted("── " + now.Format("15:04:05") + " ──"))
	}
	fmt.Println(strings.Join(sections, "\n\n"))
}

func init() {
	rootCmd.AddCommand(watchCmd)
}
