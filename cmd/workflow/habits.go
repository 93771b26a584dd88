package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ElijahFeldman7/workflow/internal/schema"
	"github.com/ElijahFeldman7/workflow/internal/ui"
	"github.com/ElijahFeldman7/workflow/internal/widgets"
)

var habitsCmd = &cobra.Command{
	Use:     "habits",
	Aliases: []string{"habit", "h"},
	GroupID: "widgets",
	Short:   "Show the weekly habit grid",
	Long: `Show this week's habit grid with streaks up to today.

Habits can be named by key or by name:
  workflow habits toggle read          # today
  workflow habits toggle workout mon`,
	Args: cobra.NoArgs,
	RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
		ctx := cmd.Context()
		habits, err := a.habits(ctx)
		if err != nil {
			return err
		}
		fmt.Println(ui.Habits(habits.List(), schema.WeekdayIndex(time.Now().Weekday())))
		return nil
	}),
}

var habitsAddCmd = &cobra.Command{
	Use:   "add <name...>",
	Short: "Add a habit",
	Args:  cobra.MinimumNArgs(1),
	RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
		ctx := cmd.Context()
		habits, err := a.habits(ctx)
		if err != nil {
			return err
		}
		habit, err := habits.Add(ctx, strings.Join(args, " "))
		if err != nil {
			return err
		}
		fmt.Printf("%s Added habit %s\n", ui.RenderPass("✓"), habit.Name)
		return nil
	}),
}

var habitsToggleCmd = &cobra.Command{
	Use:   "toggle <habit> [day]",
	Short: "Check or uncheck a day (default: today)",
	Args:  cobra.RangeArgs(1, 2),
	RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
		ctx := cmd.Context()
		habits, err := a.habits(ctx)
		if err != nil {
			return err
		}
		key, err := findHabit(habits, args[0])
		if err != nil {
			return err
		}
		day := schema.WeekdayIndex(time.Now().Weekday())
		if len(args) == 2 {
			if day, err = schema.DayIndex(args[1]); err != nil {
				return err
			}
		}
		habit, err := habits.Toggle(key, day)
		if err != nil {
			return err
		}
		mark := ui.RenderMuted("·")
		if habit.Days[day] {
			mark = ui.RenderPass("✓")
		}
		fmt.Printf("%s %s %s\n", mark, habit.Name, schema.Weekdays[day])
		return nil
	}),
}

var habitsRenameCmd = &cobra.Command{
	Use:   "rename <habit> <name...>",
	Short: "Rename a habit",
	Args:  cobra.MinimumNArgs(2),
	RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
		ctx := cmd.Context()
		habits, err := a.habits(ctx)
		if err != nil {
			return err
		}
		key, err := findHabit(habits, args[0])
		if err != nil {
			return err
		}
		name := strings.Join(args[1:], " ")
		if err := habits.Rename(key, name); err != nil {
			return err
		}
		fmt.Printf("%s Renamed to %s\n", ui.RenderPass("✓"), strings.TrimSpace(name))
		return nil
	}),
}

var habitsRmCmd = &cobra.Command{
	Use:     "rm <habit>",
	Aliases: []string{"delete"},
	Short:   "Delete a habit",
	Args:    cobra.ExactArgs(1),
	RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
		ctx := cmd.Context()
		habits, err := a.habits(ctx)
		if err != nil {
			return err
		}
		key, err := findHabit(habits, args[0])
		if err != nil {
			return err
		}
		habit, err := habits.Habit(key)
		if err != nil {
			return err
		}
		if err := habits.Delete(ctx, key); err != nil {
			return err
		}
		fmt.Printf("%s Deleted habit %s\n", ui.RenderPass("✓"), habit.Name)
		return nil
	}),
}

// findHabit resolves a habit by name, ignoring case, or by key.
func findHabit(habits *widgets.Habits, ref string) (string, error) {
	for _, h := range habits.List() {
		if strings.EqualFold(h.Name, ref) {
			return h.Key, nil
		}
	}
	return habits.Match(ref)
}

func init() {
	habitsCmd.AddCommand(habitsAddCmd, habitsToggleCmd, habitsRenameCmd, habitsRmCmd)
	rootCmd.AddCommand(habitsCmd)
}
