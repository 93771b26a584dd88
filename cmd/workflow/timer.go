package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/ElijahFeldman7/workflow/internal/ui"
	"github.com/ElijahFeldman7/workflow/internal/widgets"
)

var timerCmd = &cobra.Command{
	Use:     "timer",
	Aliases: []string{"pomodoro"},
	GroupID: "widgets",
	Short:   "Show the focus timer",
	Long: `Show the focus timer: 25 minutes of work, then a 5 minute break.

The countdown runs in the foreground with 'workflow timer start'; Ctrl+C pauses
it and saves the remaining time so any device can pick it up.`,
	Args: cobra.NoArgs,
	RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
		ctx := cmd.Context()
		t, err := a.timer(ctx)
		if err != nil {
			return err
		}
		defer t.Close()
		state, running := t.State()
		fmt.Println(ui.Timer(state, running))
		return nil
	}),
}

var timerStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Run the countdown until the phase ends or Ctrl+C",
	Args:  cobra.NoArgs,
	RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
		ctx := cmd.Context()
		t, err := a.timer(ctx)
		if err != nil {
			return err
		}
		defer t.Close()
		loop, _ := cmd.Flags().GetBool("loop")
		return runTimer(ctx, t, loop)
	}),
}

var timerResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Go back to the start of a work phase",
	Args:  cobra.NoArgs,
	RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
		ctx := cmd.Context()
		t, err := a.timer(ctx)
		if err != nil {
			return err
		}
		defer t.Close()
		if err := t.Reset(ctx); err != nil {
			return err
		}
		state, running := t.State()
		fmt.Println(ui.Timer(state, running))
		return nil
	}),
}

// runTimer counts down in the foreground, redrawing the clock on terminals.
func runTimer(ctx context.Context, t *widgets.FocusTimer, loop bool) error {
	interactive := ui.IsTerminal(os.Stdout)
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	t.Start()
	done := make(chan error, 1)
	go func() { done <- t.Run(runCtx, time.Second) }()

	redraw := time.NewTicker(250 * time.Millisecond)
	defer redraw.Stop()

	for {
		select {
		case <-ctx.Done():
			cancel()
			<-done
			stopCtx, stop := context.WithTimeout(context.WithoutCancel(ctx), closeTimeout)
			defer stop()
			if err := t.Stop(stopCtx); err != nil {
				return err
			}
			fmt.Printf("\n%s Paused at %s\n", ui.RenderWarn("⏸"), t.Format())
			return nil

		case alert := <-t.Alerts():
			fmt.Printf("\n%s %s\n", ui.RenderAccent("⏰"), alert)
			if !loop {
				cancel()
				if err := <-done; err != nil && !errors.Is(err, context.Canceled) {
					return err
				}
				return nil
			}
			t.Start()

		case <-redraw.C:
			if interactive {
				state, _ := t.State()
				phase := "work"
				if !state.IsWorkTime {
					phase = "break"
				}
				fmt.Printf("\r%s %s ", ui.RenderHeader(t.Format()), ui.RenderMuted(phase))
			}
		}
	}
}

func init() {
	timerStartCmd.Flags().Bool("loop", false, "Start the next phase automatically")
	timerCmd.AddCommand(timerStartCmd, timerResetCmd)
	rootCmd.AddCommand(timerCmd)
}
