package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ElijahFeldman7/workflow/internal/migrate"
	"github.com/ElijahFeldman7/workflow/internal/store"
	"github.com/ElijahFeldman7/workflow/internal/ui"
)

var exportCmd = &cobra.Command{
	Use:     "export",
	GroupID: "data",
	Short:   "Export the signed-in user's records",
	Long: `Write every record of the signed-in user as one document, nested by path.

Example usage:
  workflow export > backup.json
  workflow export --format yaml -o backup.yaml`,
	Args: cobra.NoArgs,
	RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
		ctx := cmd.Context()
		user, err := a.auth.RequireUser()
		if err != nil {
			return err
		}
		walker, ok := a.st.(store.Walker)
		if !ok {
			return fmt.Errorf("store %s cannot be exported", a.cfg.Store.Driver)
		}

		output, _ := cmd.Flags().GetString("output")
		raw, _ := cmd.Flags().GetString("format")
		if raw == "" {
			raw = "json"
			if ext := filepath.Ext(output); ext != "" {
				raw = ext
			}
		}
		format, err := migrate.ParseFormat(raw)
		if err != nil {
			return err
		}

		var out io.Writer = os.Stdout
		if output != "" {
			f, err := os.Create(output)
			if err != nil {
				return fmt.Errorf("failed to create %s: %w", output, err)
			}
			defer f.Close()
			out = f
		}

		n, err := migrate.Export(ctx, walker, user.ID, format, out)
		if err != nil {
			return err
		}
		if output != "" {
			fmt.Printf("%s Exported %d records to %s\n", ui.RenderPass("✓"), n, output)
		}
		return nil
	}),
}

var importCmd = &cobra.Command{
	Use:     "import <file>",
	GroupID: "data",
	Short:   "Import records from an export or a browser localStorage dump",
	Long: `Import records into the signed-in user's dashboard.

A file written by 'workflow export' is restored record by record. A JSON
object of localStorage keys from the original browser dashboard (notes,
habits, quickLinks, event_<hour>) is converted with --localstorage; its
schedule slots go to --date.

Example usage:
  workflow import backup.yaml
  workflow import --localstorage --date 2026-10-19 storage.json
  workflow import --dry-run backup.json`,
	Args: cobra.ExactArgs(1),
	RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
		ctx := cmd.Context()
		user, err := a.auth.RequireUser()
		if err != nil {
			return err
		}
		flags := cmd.Flags()
		dryRun, _ := flags.GetBool("dry-run")
		legacy, _ := flags.GetBool("localstorage")

		f, err := os.Open(args[0])
		if err != nil {
			return fmt.Errorf("failed to open %s: %w", args[0], err)
		}
		defer f.Close()

		verb := "Imported"
		if dryRun {
			verb = "Would import"
		}

		if legacy {
			rawDate, _ := flags.GetString("date")
			date, err := parseDate(rawDate, time.Now())
			if err != nil {
				return err
			}
			dump, err := migrate.ReadDump(f)
			if err != nil {
				return err
			}
			result, err := migrate.ImportLocalStorage(ctx, a.st, user.ID, dump, migrate.ImportOptions{
				DryRun: dryRun,
				Date:   date,
			})
			if err != nil {
				return err
			}
			fmt.Printf("%s %s %d records (%d keys skipped)\n", ui.RenderPass("✓"), verb, result.Records, result.Skipped)
			for _, msg := range result.Errors {
				fmt.Printf("   %s %s\n", ui.RenderWarn("⚠"), msg)
			}
			return nil
		}

		raw, _ := flags.GetString("format")
		if raw == "" {
			raw = strings.TrimPrefix(filepath.Ext(args[0]), ".")
		}
		format, err := migrate.ParseFormat(raw)
		if err != nil {
			return fmt.Errorf("%w (use --format)", err)
		}
		n, err := migrate.Restore(ctx, a.st, user.ID, f, format, dryRun)
		if err != nil {
			return err
		}
		fmt.Printf("%s %s %d records\n", ui.RenderPass("✓"), verb, n)
		return nil
	}),
}

func init() {
	exportCmd.Flags().StringP("format", "f", "", "Output format: json, yaml or toml (default: from --output, else json)")
	exportCmd.Flags().StringP("output", "o", "", "Write to this file instead of stdout")

	importCmd.Flags().StringP("format", "f", "", "Input format: json, yaml or toml (default: from the file extension)")
	importCmd.Flags().Bool("localstorage", false, "The file is a browser localStorage dump")
	importCmd.Flags().String("date", "today", "Day for imported schedule slots (--localstorage)")
	importCmd.Flags().Bool("dry-run", false, "Report what would be imported without writing")

	rootCmd.AddCommand(exportCmd, importCmd)
}
