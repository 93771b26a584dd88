package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ElijahFeldman7/workflow/internal/ui"
)

var authCmd = &cobra.Command{
	Use:     "auth",
	GroupID: "setup",
	Short:   "Sign in and out",
	Long: `Manage the signed-in user. Every widget reads and writes the signed-in
user's records; nothing is shown while signed out.`,
}

var authSigninCmd = &cobra.Command{
	Use:   "signin [email]",
	Short: "Sign in",
	Args:  cobra.MaximumNArgs(1),
	RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
		ctx := cmd.Context()
		name, _ := cmd.Flags().GetString("name")
		var email string
		if len(args) == 1 {
			email = args[0]
		} else {
			if !ui.IsTerminal(os.Stdin) {
				return fmt.Errorf("pass an email address")
			}
			if err := ui.PromptSignIn(&email, &name); err != nil {
				return err
			}
		}
		user, err := a.auth.SignIn(ctx, email, name)
		if err != nil {
			return err
		}
		fmt.Printf("%s Signed in as %s\n", ui.RenderPass("✓"), user.Name())
		return nil
	}),
}

var authSignoutCmd = &cobra.Command{
	Use:   "signout",
	Short: "Sign out",
	Args:  cobra.NoArgs,
	RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
		if err := a.auth.SignOut(); err != nil {
			return err
		}
		fmt.Printf("%s Signed out\n", ui.RenderPass("✓"))
		return nil
	}),
}

var authWhoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Show the signed-in user",
	Args:  cobra.NoArgs,
	RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
		user := a.auth.CurrentUser()
		if user == nil {
			fmt.Printf("%s Not signed in\n", ui.RenderWarn("⚠"))
			return nil
		}
		fmt.Printf("%s <%s>\n", user.Name(), user.Email)
		fmt.Printf("ID: %s\n", user.ID)
		fmt.Printf("Signed in: %s\n", user.SignedInAt.Local().Format("2006-01-02 15:04:05"))
		return nil
	}),
}

func init() {
	authSigninCmd.Flags().String("name", "", "Display name")
	authCmd.AddCommand(authSigninCmd, authSignoutCmd, authWhoamiCmd)
	rootCmd.AddCommand(authCmd)
}
