// Command workflow is the productivity dashboard's command-line client and
// backend server.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ElijahFeldman7/workflow/internal/config"
	"github.com/ElijahFeldman7/workflow/internal/ui"
)

var (
	loader     = config.NewLoader()
	configFile string
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:   "workflow",
	Short: "Tasks, notes, schedule, habits, quick links and a focus timer",
	Long: `workflow keeps a personal productivity dashboard in a record store.

Edits made while typing are saved after a short quiet period; adding, toggling
and deleting items are saved immediately. The store is a local SQLite file by
default, a hosted Turso database with --store-driver libsql, or another
machine's 'workflow serve' with --store-driver remote.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		ui.Init(os.Stdout)
	},
}

func init() {
	rootCmd.AddGroup(
		&cobra.Group{ID: "widgets", Title: "Widgets:"},
		&cobra.Group{ID: "data", Title: "Data:"},
		&cobra.Group{ID: "setup", Title: "Setup:"},
	)

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&configFile, "config", "", "Config file (default: workflow.yaml in the data dir)")
	pf.BoolVarP(&verbose, "verbose", "v", false, "Log store and autosave activity to stderr")
	pf.String("data-dir", "", "Directory for the session, database and config")
	pf.String("store-driver", "", "Record store: sqlite3, libsql or remote")
	pf.String("store-dsn", "", "SQLite database file")
	pf.String("server-url", "", "Dashboard server for --store-driver remote")
	pf.Duration("quiet-period", 0, "How long typing must pause before an edit is saved")
	pf.String("log-file", "", "Write logs to this file, rotated by size")

	for flag, key := range map[string]string{
		"data-dir":     config.KeyDataDir,
		"store-driver": config.KeyStoreDriver,
		"store-dsn":    config.KeyStoreDSN,
		"server-url":   config.KeyServerURL,
		"quiet-period": config.KeyAutosaveQuietPeriod,
		"log-file":     config.KeyLogFile,
	} {
		if err := loader.Viper().BindPFlag(key, pf.Lookup(flag)); err != nil {
			panic(fmt.Sprintf("failed to bind --%s: %v", flag, err))
		}
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
