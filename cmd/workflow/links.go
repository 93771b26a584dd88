package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ElijahFeldman7/workflow/internal/ui"
)

var linksCmd = &cobra.Command{
	Use:     "links",
	Aliases: []string{"link", "l"},
	GroupID: "widgets",
	Short:   "List and manage quick links",
	Args:    cobra.NoArgs,
	RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
		ctx := cmd.Context()
		links, err := a.links(ctx)
		if err != nil {
			return err
		}
		fmt.Println(ui.Links(links.List()))
		return nil
	}),
}

var linksAddCmd = &cobra.Command{
	Use:   "add [title] [url]",
	Short: "Add a quick link",
	Long: `Add a quick link. With no arguments and a terminal attached, a form
opens.`,
	Args: cobra.MatchAll(cobra.MaximumNArgs(2), func(cmd *cobra.Command, args []string) error {
		if len(args) == 1 {
			return fmt.Errorf("pass both a title and a url")
		}
		return nil
	}),
	RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
		ctx := cmd.Context()
		links, err := a.links(ctx)
		if err != nil {
			return err
		}
		var title, url string
		if len(args) == 2 {
			title, url = args[0], args[1]
		} else {
			if !ui.IsTerminal(os.Stdin) {
				return fmt.Errorf("pass a title and a url")
			}
			if err := ui.PromptLink(&title, &url); err != nil {
				return err
			}
		}
		link, err := links.Add(ctx, title, url)
		if err != nil {
			return err
		}
		fmt.Printf("%s Added %s  %s\n", ui.RenderPass("✓"), link.Title, ui.RenderAccent(link.URL))
		return nil
	}),
}

var linksEditCmd = &cobra.Command{
	Use:   "edit <key>",
	Short: "Change a link's title or URL",
	Args:  cobra.ExactArgs(1),
	RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
		ctx := cmd.Context()
		links, err := a.links(ctx)
		if err != nil {
			return err
		}
		key, err := links.Match(args[0])
		if err != nil {
			return err
		}
		link, err := links.Link(key)
		if err != nil {
			return err
		}

		flags := cmd.Flags()
		title, url := link.Title, link.URL
		if flags.Changed("title") {
			title, _ = flags.GetString("title")
		}
		if flags.Changed("url") {
			url, _ = flags.GetString("url")
		}
		if !flags.Changed("title") && !flags.Changed("url") {
			if !ui.IsTerminal(os.Stdin) {
				return fmt.Errorf("nothing to change: pass --title or --url")
			}
			if err := ui.PromptLink(&title, &url); err != nil {
				return err
			}
		}
		if err := links.Edit(key, title, url); err != nil {
			return err
		}
		fmt.Printf("%s Updated %s  %s\n", ui.RenderPass("✓"), title, ui.RenderAccent(url))
		return nil
	}),
}

var linksRmCmd = &cobra.Command{
	Use:     "rm <key>",
	Aliases: []string{"delete"},
	Short:   "Delete a quick link",
	Args:    cobra.ExactArgs(1),
	RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
		ctx := cmd.Context()
		links, err := a.links(ctx)
		if err != nil {
			return err
		}
		key, err := links.Match(args[0])
		if err != nil {
			return err
		}
		link, err := links.Link(key)
		if err != nil {
			return err
		}
		if err := links.Delete(ctx, key); err != nil {
			return err
		}
		fmt.Printf("%s Deleted %s\n", ui.RenderPass("✓"), link.Title)
		return nil
	}),
}

func init() {
	linksEditCmd.Flags().String("title", "", "New title")
	linksEditCmd.Flags().String("url", "", "New URL")

	linksCmd.AddCommand(linksAddCmd, linksEditCmd, linksRmCmd)
	rootCmd.AddCommand(linksCmd)
}
