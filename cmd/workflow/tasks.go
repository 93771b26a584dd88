package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ElijahFeldman7/workflow/internal/ui"
)

var tasksCmd = &cobra.Command{
	Use:     "tasks",
	Aliases: []string{"task", "t"},
	GroupID: "widgets",
	Short:   "List and manage tasks",
	Long: `List open and completed tasks.

A due date written in plain words is recognized when adding a task:
  workflow tasks add call mom tomorrow at 5pm
  workflow tasks add file taxes by next friday`,
	Args: cobra.NoArgs,
	RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
		ctx := cmd.Context()
		tasks, err := a.tasks(ctx)
		if err != nil {
			return err
		}
		fmt.Println(ui.Tasks(tasks.List(), time.Now()))
		return nil
	}),
}

var tasksAddCmd = &cobra.Command{
	Use:   "add <text...>",
	Short: "Add a task",
	Args:  cobra.MinimumNArgs(1),
	RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
		ctx := cmd.Context()
		tasks, err := a.tasks(ctx)
		if err != nil {
			return err
		}
		task, err := tasks.Add(ctx, strings.Join(args, " "))
		if err != nil {
			return err
		}
		fmt.Printf("%s Added %s\n", ui.RenderPass("✓"), task.Text)
		if task.Due != nil {
			fmt.Printf("   Due: %s\n", task.Due.Local().Format("Mon Jan 2 15:04"))
		}
		return nil
	}),
}

var tasksDoneCmd = &cobra.Command{
	Use:     "done <key>",
	Aliases: []string{"toggle"},
	Short:   "Mark a task completed, or open again",
	Args:    cobra.ExactArgs(1),
	RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
		ctx := cmd.Context()
		tasks, err := a.tasks(ctx)
		if err != nil {
			return err
		}
		key, err := tasks.Match(args[0])
		if err != nil {
			return err
		}
		task, err := tasks.Toggle(ctx, key)
		if err != nil {
			return err
		}
		if task.Completed {
			fmt.Printf("%s Completed %s\n", ui.RenderPass("✓"), task.Text)
		} else {
			fmt.Printf("%s Reopened %s\n", ui.RenderAccent("○"), task.Text)
		}
		return nil
	}),
}

var tasksEditCmd = &cobra.Command{
	Use:   "edit <key> <text...>",
	Short: "Change a task's text",
	Args:  cobra.MinimumNArgs(2),
	RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
		ctx := cmd.Context()
		tasks, err := a.tasks(ctx)
		if err != nil {
			return err
		}
		key, err := tasks.Match(args[0])
		if err != nil {
			return err
		}
		text := strings.Join(args[1:], " ")
		if err := tasks.Edit(key, text); err != nil {
			return err
		}
		fmt.Printf("%s Updated %s\n", ui.RenderPass("✓"), text)
		return nil
	}),
}

var tasksRmCmd = &cobra.Command{
	Use:     "rm <key>",
	Aliases: []string{"delete"},
	Short:   "Delete a task",
	Args:    cobra.ExactArgs(1),
	RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
		ctx := cmd.Context()
		tasks, err := a.tasks(ctx)
		if err != nil {
			return err
		}
		key, err := tasks.Match(args[0])
		if err != nil {
			return err
		}
		task, err := tasks.Task(key)
		if err != nil {
			return err
		}
		if err := tasks.Delete(ctx, key); err != nil {
			return err
		}
		fmt.Printf("%s Deleted %s\n", ui.RenderPass("✓"), task.Text)
		return nil
	}),
}

func init() {
	tasksCmd.AddCommand(tasksAddCmd, tasksDoneCmd, tasksEditCmd, tasksRmCmd)
	rootCmd.AddCommand(tasksCmd)
}
