package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ElijahFeldman7/workflow/internal/ui"
)

var scheduleCmd = &cobra.Command{
	Use:     "schedule",
	Aliases: []string{"s"},
	GroupID: "widgets",
	Short:   "Show and fill in the day's hourly schedule",
	Long: `Show one day's hourly slots, 8:00 AM to 7:00 PM.

Hours may be written as shown ("9:00 AM") or short ("9am", "14").
  workflow schedule set 9am standup
  workflow schedule --date tomorrow`,
	Args: cobra.NoArgs,
	RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
		ctx := cmd.Context()
		date, err := dateFlag(cmd)
		if err != nil {
			return err
		}
		sched, err := a.scheduler()
		if err != nil {
			return err
		}
		events, err := sched.Day(ctx, date)
		if err != nil {
			return err
		}
		fmt.Println(ui.Schedule(date, events))
		return nil
	}),
}

var scheduleSetCmd = &cobra.Command{
	Use:   "set <hour> <text...>",
	Short: "Write an hour's event",
	Args:  cobra.MinimumNArgs(2),
	RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
		ctx := cmd.Context()
		date, err := dateFlag(cmd)
		if err != nil {
			return err
		}
		hour, err := parseHour(args[0])
		if err != nil {
			return err
		}
		sched, err := a.scheduler()
		if err != nil {
			return err
		}
		text := strings.Join(args[1:], " ")
		if err := sched.Set(ctx, date, hour, text); err != nil {
			return err
		}
		fmt.Printf("%s %s %s: %s\n", ui.RenderPass("✓"), date, hour, text)
		return nil
	}),
}

var scheduleClearCmd = &cobra.Command{
	Use:   "clear <hour>",
	Short: "Empty an hour's slot",
	Args:  cobra.ExactArgs(1),
	RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
		ctx := cmd.Context()
		date, err := dateFlag(cmd)
		if err != nil {
			return err
		}
		hour, err := parseHour(args[0])
		if err != nil {
			return err
		}
		sched, err := a.scheduler()
		if err != nil {
			return err
		}
		if err := sched.Clear(ctx, date, hour); err != nil {
			return err
		}
		fmt.Printf("%s Cleared %s %s\n", ui.RenderPass("✓"), date, hour)
		return nil
	}),
}

func dateFlag(cmd *cobra.Command) (string, error) {
	raw, _ := cmd.Flags().GetString("date")
	return parseDate(raw, time.Now())
}

func init() {
	scheduleCmd.PersistentFlags().StringP("date", "d", "today", "Day to show or change (YYYY-MM-DD, today, tomorrow, yesterday)")
	scheduleCmd.AddCommand(scheduleSetCmd, scheduleClearCmd)
	rootCmd.AddCommand(scheduleCmd)
}
