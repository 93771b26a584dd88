package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ElijahFeldman7/workflow/internal/ui"
	"github.com/ElijahFeldman7/workflow/internal/widgets"
)

var notesCmd = &cobra.Command{
	Use:     "notes",
	Aliases: []string{"note", "n"},
	GroupID: "widgets",
	Short:   "List and manage notes",
	Args:    cobra.NoArgs,
	RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
		ctx := cmd.Context()
		notes, err := a.notes(ctx)
		if err != nil {
			return err
		}
		fmt.Println(ui.Notes(notes.List()))
		return nil
	}),
}

var notesNewCmd = &cobra.Command{
	Use:   "new [content...]",
	Short: "Write a new note",
	Long: `Write a new note. With no content on the command line and a terminal
attached, an editor form opens.`,
	RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
		ctx := cmd.Context()
		notes, err := a.notes(ctx)
		if err != nil {
			return err
		}
		title, _ := cmd.Flags().GetString("title")
		content := strings.Join(args, " ")
		if content == "" && title == "" {
			if !ui.IsTerminal(os.Stdin) {
				return fmt.Errorf("nothing to write: pass content or --title")
			}
			if err := ui.PromptNote(&title, &content); err != nil {
				return err
			}
		}

		draft, err := notes.New()
		if err != nil {
			return err
		}
		if err := notes.Edit(draft, title, content); err != nil {
			return err
		}
		return saveNote(ctx, notes, draft)
	}),
}

var notesShowCmd = &cobra.Command{
	Use:   "show <key>",
	Short: "Show a note",
	Args:  cobra.ExactArgs(1),
	RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
		ctx := cmd.Context()
		notes, err := a.notes(ctx)
		if err != nil {
			return err
		}
		key, err := notes.Match(args[0])
		if err != nil {
			return err
		}
		note, err := notes.Note(key)
		if err != nil {
			return err
		}
		fmt.Println(ui.Note(note, ""))
		return nil
	}),
}

var notesEditCmd = &cobra.Command{
	Use:   "edit <key>",
	Short: "Edit a note's title or content",
	Long: `Edit a note. --title and --content replace those fields; with neither
flag and a terminal attached, an editor form opens.`,
	Args: cobra.ExactArgs(1),
	RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
		ctx := cmd.Context()
		notes, err := a.notes(ctx)
		if err != nil {
			return err
		}
		key, err := notes.Match(args[0])
		if err != nil {
			return err
		}
		note, err := notes.Note(key)
		if err != nil {
			return err
		}

		flags := cmd.Flags()
		title, content := note.Title, note.Content
		if flags.Changed("title") {
			title, _ = flags.GetString("title")
		}
		if flags.Changed("content") {
			content, _ = flags.GetString("content")
		}
		if !flags.Changed("title") && !flags.Changed("content") {
			if !ui.IsTerminal(os.Stdin) {
				return fmt.Errorf("nothing to change: pass --title or --content")
			}
			if err := ui.PromptNote(&title, &content); err != nil {
				return err
			}
		}

		if err := notes.Edit(key, title, content); err != nil {
			return err
		}
		return saveNote(ctx, notes, key)
	}),
}

var notesRmCmd = &cobra.Command{
	Use:     "rm <key>",
	Aliases: []string{"delete"},
	Short:   "Delete a note",
	Args:    cobra.ExactArgs(1),
	RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
		ctx := cmd.Context()
		notes, err := a.notes(ctx)
		if err != nil {
			return err
		}
		key, err := notes.Match(args[0])
		if err != nil {
			return err
		}
		if yes, _ := cmd.Flags().GetBool("yes"); !yes && ui.IsTerminal(os.Stdin) {
			ok, err := ui.Confirm("Delete this note?")
			if err != nil {
				return err
			}
			if !ok {
				return nil
			}
		}
		if err := notes.Delete(ctx, key); err != nil {
			return err
		}
		fmt.Printf("%s Deleted note\n", ui.RenderPass("✓"))
		return nil
	}),
}

// saveNote writes the note's pending edit and prints it with its status.
func saveNote(ctx context.Context, notes *widgets.Notes, key string) error {
	flushErr := notes.Flush(ctx)
	key = notes.Resolve(key)
	note, err := notes.Note(key)
	if err != nil {
		return err
	}
	fmt.Println(ui.Note(note, notes.Status(key)))
	if flushErr != nil {
		return flushErr
	}
	fmt.Printf("Key: %s\n", key)
	return nil
}

func init() {
	notesNewCmd.Flags().StringP("title", "t", "", "Note title")
	notesEditCmd.Flags().StringP("title", "t", "", "New title")
	notesEditCmd.Flags().StringP("content", "c", "", "New content")
	notesRmCmd.Flags().BoolP("yes", "y", false, "Don't ask for confirmation")

	notesCmd.AddCommand(notesNewCmd, notesShowCmd, notesEditCmd, notesRmCmd)
	rootCmd.AddCommand(notesCmd)
}
