package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/ElijahFeldman7/workflow/internal/loadtest"
	"github.com/ElijahFeldman7/workflow/internal/store"
	"github.com/ElijahFeldman7/workflow/internal/store/db"
	"github.com/ElijahFeldman7/workflow/internal/ui"
)

var benchCmd = &cobra.Command{
	Use:     "bench",
	GroupID: "setup",
	Short:   "Measure how autosave coalesces concurrent typing",
	Long: `Simulate concurrent editors typing into autosaved records and report how
many store writes the keystrokes collapsed into, the latency from the last
keystroke to the stored value, and whether any final value was lost.

By default the run uses a scratch SQLite database that is removed afterwards.
With --live it writes under the signed-in user's "loadtest" path in the
configured store and deletes that path when done.

Examples:
  workflow bench
  workflow bench --editors 100 --keystrokes 50 --interval 0
  workflow bench --live --json`,
	Args: cobra.NoArgs,
	RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
		ctx := cmd.Context()
		flags := cmd.Flags()

		cfg := loadtest.DefaultConfig()
		cfg.Editors, _ = flags.GetInt("editors")
		cfg.Entities, _ = flags.GetInt("entities")
		cfg.Keystrokes, _ = flags.GetInt("keystrokes")
		cfg.Interval, _ = flags.GetDuration("interval")
		cfg.QuietPeriod = a.cfg.Autosave.QuietPeriod
		cfg.Logger = a.logs.New("loadtest")
		live, _ := flags.GetBool("live")
		jsonOutput, _ := flags.GetBool("json")

		st := a.st
		if live {
			user, err := a.auth.RequireUser()
			if err != nil {
				return err
			}
			cfg.Root = store.Join("users", user.ID, "loadtest")
			defer func() {
				if err := a.st.Delete(context.WithoutCancel(ctx), cfg.Root); err != nil {
					a.logs.New("loadtest").Printf("Warning: failed to remove %s: %v", cfg.Root, err)
				}
			}()
		} else {
			dir, err := os.MkdirTemp("", "workflow-bench-")
			if err != nil {
				return fmt.Errorf("failed to create scratch dir: %w", err)
			}
			defer os.RemoveAll(dir)
			scratch, err := db.Open(db.Options{DSN: filepath.Join(dir, "bench.db"), Logger: a.logs.New("store")})
			if err != nil {
				return err
			}
			defer scratch.Close()
			st = scratch
		}

		if !jsonOutput {
			fmt.Printf("Running %d editors x %d entities x %d keystrokes (quiet period %v)...\n\n",
				cfg.Editors, cfg.Entities, cfg.Keystrokes, cfg.QuietPeriod)
		}
		result, err := loadtest.Run(ctx, st, cfg)
		if err != nil {
			return err
		}

		if jsonOutput {
			encoder := json.NewEncoder(os.Stdout)
			encoder.SetIndent("", "  ")
			return encoder.Encode(map[string]any{
				"editors":      cfg.Editors,
				"entities":     cfg.Entities,
				"keystrokes":   result.Keystrokes,
				"writes":       result.Writes,
				"coalescing":   result.Coalescing(),
				"errors":       result.Errors,
				"lost":         result.Lost,
				"duration_ms":  result.Duration.Milliseconds(),
				"p50_ms":       result.Latency.P50.Milliseconds(),
				"p95_ms":       result.Latency.P95.Milliseconds(),
				"p99_ms":       result.Latency.P99.Milliseconds(),
				"max_ms":       result.Latency.Max.Milliseconds(),
				"quiet_period": cfg.QuietPeriod.String(),
			})
		}

		result.Print(os.Stdout)
		if result.Lost > 0 || result.Errors > 0 {
			return fmt.Errorf("%d lost values, %d failed writes", result.Lost, result.Errors)
		}
		fmt.Printf("\n%s No edits lost\n", ui.RenderPass("✓"))
		return nil
	}),
}

func init() {
	benchCmd.Flags().Int("editors", 10, "Number of concurrent editors to simulate")
	benchCmd.Flags().Int("entities", 5, "Records each editor types into")
	benchCmd.Flags().Int("keystrokes", 20, "Edits sent to each record")
	benchCmd.Flags().Duration("interval", loadtest.DefaultConfig().Interval, "Pause between keystrokes")
	benchCmd.Flags().Bool("live", false, "Run against the configured store instead of a scratch database")
	benchCmd.Flags().Bool("json", false, "Output results as JSON")
	rootCmd.AddCommand(benchCmd)
}
