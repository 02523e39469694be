package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/steveyegge/jirasync/internal/config"
	"github.com/steveyegge/jirasync/internal/jira/daemon"
	"github.com/steveyegge/jirasync/internal/jira/dashboard"
	"github.com/steveyegge/jirasync/internal/jira/schema"
	jirasync "github.com/steveyegge/jirasync/internal/jira/sync"
	"github.com/steveyegge/jirasync/internal/ui"
)

var daemonCmd = &cobra.Command{
	Use:     "daemon",
	GroupID: "advanced",
	Short:   "Sync on a schedule (foreground)",
	Long: `Run syncs every daemon.interval until interrupted.

The daemon will:
  1. Sync every credential context (jira.* plus jira.contexts) on start
  2. Re-sync them on every tick, --concurrency at a time
  3. Reload the contexts when the config file changes
  4. Optionally broadcast sync progress on a WebSocket dashboard

Set daemon.log_file to write a rotating log file instead of stderr.`,
	Example: `  jirasync daemon
  jirasync daemon --dashboard-port 8081`,
	RunE: func(cmd *cobra.Command, args []string) error {
		concurrency, _ := cmd.Flags().GetInt("concurrency")
		port, _ := cmd.Flags().GetInt("dashboard-port")
		ctx := cmd.Context()

		logger, closer := daemon.NewLogger(cfg.Daemon.LogFile)
		defer closer.Close()

		store, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer store.Close()

		var observer jirasync.Observer
		if port > 0 {
			server := dashboard.NewServer(&dashboard.Config{Port: port, Logger: logger})
			if err := server.Start(); err != nil {
				return fmt.Errorf("failed to start dashboard: %w", err)
			}
			defer server.Stop()

			handler := dashboard.NewHandler(server, logger)
			if stats, err := store.Stats(ctx); err == nil {
				handler.UpdateStats(stats)
			}
			observer = handler.Observer()
			fmt.Printf("   Dashboard: ws://localhost:%d/ws\n", port)
		}

		path := cfg.File
		d, err := daemon.New(newSyncer(store, observer, logger), &daemon.Config{
			Interval:    cfg.Daemon.Interval,
			Concurrency: concurrency,
			Contexts:    cfg.AllCredentials(),
			ConfigFile:  path,
			Reload: func() ([]schema.Credentials, error) {
				reloaded, err := config.Load(config.New(), path)
				if err != nil {
					return nil, err
				}
				return reloaded.AllCredentials(), nil
			},
			Logger: logger,
		})
		if err != nil {
			return err
		}

		fmt.Printf("%s Starting sync daemon...\n", ui.RenderAccent("🚀"))
		fmt.Printf("   Interval: %s\n", cfg.Daemon.Interval)
		fmt.Printf("   Contexts: %d\n", len(cfg.AllCredentials()))
		fmt.Printf("   Store: %s\n", cfg.Store.Path)
		if path != "" {
			fmt.Printf("   Config: %s (watched)\n", path)
		}
		fmt.Printf("\nPress Ctrl+C to stop\n\n")

		return d.Start(ctx)
	},
}

func init() {
	daemonCmd.Flags().Int("concurrency", 1, "contexts synced at once")
	daemonCmd.Flags().Int("dashboard-port", 0, "serve the WebSocket dashboard on this port (0 = off)")
	rootCmd.AddCommand(daemonCmd)
}
