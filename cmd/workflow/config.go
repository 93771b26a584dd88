package main

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ElijahFeldman7/workflow/internal/config"
	"github.com/ElijahFeldman7/workflow/internal/migrate"
	"github.com/ElijahFeldman7/workflow/internal/ui"
)

var configCmd = &cobra.Command{
	Use:     "config",
	GroupID: "setup",
	Short:   "Show and change settings",
	Long: `Settings come from the config file, WORKFLOW_* environment variables
(WORKFLOW_STORE_DRIVER sets store.driver) and flags, in increasing precedence.`,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective settings",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := loader.Load(configFile); err != nil {
			return err
		}
		raw, _ := cmd.Flags().GetString("format")
		if raw == "" {
			keys := loader.Keys()
			settings := loader.Settings()
			width := 0
			for _, k := range keys {
				width = max(width, len(k))
			}
			for _, k := range keys {
				fmt.Printf("%s  %v\n", ui.RenderAccent(fmt.Sprintf("%-*s", width, k)), redact(k, settings[k]))
			}
			return nil
		}

		format, err := migrate.ParseFormat(raw)
		if err != nil {
			return err
		}
		return migrate.Encode(nest(loader.Settings()), format, os.Stdout)
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Change a setting in the config file",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := loader.Load(configFile); err != nil {
			return err
		}
		if err := loader.Set(args[0], args[1]); err != nil {
			return err
		}
		fmt.Printf("%s Set %s = %s in %s\n", ui.RenderPass("✓"), args[0], args[1], loader.File())
		return nil
	},
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print the config file in use",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := loader.Load(configFile); err != nil {
			return err
		}
		file := loader.File()
		if file == "" {
			fmt.Printf("%s No config file; defaults and environment only\n", ui.RenderWarn("⚠"))
			return nil
		}
		fmt.Println(file)
		return nil
	},
}

// redact hides secrets in listings.
func redact(key string, v any) any {
	if key == config.KeyStoreAuthToken {
		if s, ok := v.(string); ok && s != "" {
			return "********"
		}
	}
	return v
}

// nest turns dotted keys into nested maps for encoding.
func nest(settings map[string]any) migrate.Tree {
	keys := make([]string, 0, len(settings))
	for k := range settings {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	tree := migrate.Tree{}
	for _, k := range keys {
		node := map[string]any(tree)
		parts := strings.Split(k, ".")
		for _, p := range parts[:len(parts)-1] {
			child, ok := node[p].(map[string]any)
			if !ok {
				child = map[string]any{}
				node[p] = child
			}
			node = child
		}
		v := redact(k, settings[k])
		if d, ok := v.(fmt.Stringer); ok {
			v = d.String()
		}
		node[parts[len(parts)-1]] = v
	}
	return tree
}

func init() {
	configShowCmd.Flags().StringP("format", "f", "", "Print as json, yaml or toml instead of a list")
	configCmd.AddCommand(configShowCmd, configSetCmd, configPathCmd)
	rootCmd.AddCommand(configCmd)
}
