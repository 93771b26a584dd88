package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ElijahFeldman7/workflow/internal/config"
	"github.com/ElijahFeldman7/workflow/internal/dashboard"
	"github.com/ElijahFeldman7/workflow/internal/ui"
)

var serveCmd = &cobra.Command{
	Use:     "serve",
	GroupID: "setup",
	Short:   "Serve the record store to other devices",
	Long: `Start the dashboard backend over the local store.

Other machines point at it with --store-driver remote --server-url. The server
exposes:
  /v1/db/{path}       GET, PUT (set), PATCH (update), DELETE
  /v1/keys/{path}     POST: generate a child key
  /v1/tree/{path}     GET: every record under path
  /v1/ws?path=...     WebSocket: snapshots of path as it changes
  /ws                 WebSocket: record_update and stats broadcasts
  /health             health check

Example usage:
  workflow serve                 # Start on the configured port (8080)
  workflow serve --port 9000`,
	Args: cobra.NoArgs,
	RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
		ctx := cmd.Context()
		if a.db == nil {
			return fmt.Errorf("serve needs a local store (%s is %q)", config.KeyStoreDriver, a.cfg.Store.Driver)
		}
		port := a.cfg.Server.Port
		if cmd.Flags().Changed("port") {
			port, _ = cmd.Flags().GetInt("port")
		}
		host, _ := cmd.Flags().GetString("host")

		logger := a.logs.New("dashboard")
		server := dashboard.NewServer(a.db, &dashboard.Config{
			Port:   port,
			Host:   host,
			Logger: logger,
		})
		if err := server.Start(); err != nil {
			return fmt.Errorf("failed to start dashboard: %w", err)
		}

		if loader.File() != "" {
			err := loader.Watch(ctx, func(cfg *config.Config, err error) {
				if err != nil {
					logger.Printf("Config reload failed: %v", err)
					return
				}
				if cfg.Store != a.cfg.Store || cfg.Server != a.cfg.Server {
					logger.Printf("Config changed; restart to apply store or server settings")
				}
			})
			if err != nil {
				logger.Printf("Not watching config: %v", err)
			}
		}

		addr := server.GetAddr()
		fmt.Printf("%s Dashboard server started on http://%s\n", ui.RenderPass("✓"), addr)
		fmt.Printf("   Store: %s\n", a.db)
		fmt.Printf("   WebSocket endpoint: ws://%s/ws\n", addr)
		fmt.Printf("   Health check: http://%s/health\n", addr)
		fmt.Println("\nPress Ctrl+C to stop...")

		<-ctx.Done()

		fmt.Println("\nShutting down dashboard server...")
		if err := server.Stop(); err != nil {
			return err
		}
		fmt.Println("Dashboard server stopped")
		return nil
	}),
}

func init() {
	serveCmd.Flags().IntP("port", "p", 8080, "Port to listen on (default: server.port)")
	serveCmd.Flags().String("host", "", "Address to bind (default: all interfaces)")
	rootCmd.AddCommand(serveCmd)
}
