package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/steveyegge/jirasync/internal/jira/api"
	"github.com/steveyegge/jirasync/internal/jira/dashboard"
	"github.com/steveyegge/jirasync/internal/ui"
)

var serveCmd = &cobra.Command{
	Use:     "serve",
	GroupID: "advanced",
	Short:   "Serve the HTTP API",
	Long: `Serve the sync operations and the store over HTTP.

Sync endpoints use the configured credentials unless the request body
carries {"base_url", "username", "api_token"}. Sync progress streams as
JSON messages over the WebSocket at /api/events.

Endpoints:
  POST /api/sync, /api/users/sync, /api/issues/sync, /api/history/sync
  GET  /api/issues, /api/remote/issues, /api/issues/{key}/history
  GET  /api/users, /api/users/{id}/activities, /api/users/{id}/profile
  POST /api/users, /api/activities, /api/activity-types, /api/profiles
  GET  /api/stats, /health`,
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, _ := cmd.Flags().GetString("addr")
		if addr == "" {
			addr = cfg.Server.Addr
		}
		ctx := cmd.Context()
		logger := log.New(os.Stderr, "[serve] ", log.LstdFlags)

		store, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer store.Close()

		events := dashboard.NewServer(&dashboard.Config{Port: -1, Logger: logger})
		if err := events.Start(); err != nil {
			return err
		}
		defer events.Stop()

		handler := dashboard.NewHandler(events, logger)
		if stats, err := store.Stats(ctx); err == nil {
			handler.UpdateStats(stats)
		}

		a := api.New(newSyncer(store, handler.Observer(), logger), &api.Config{
			Credentials: cfg.Credentials(),
			Events:      events,
			Logger:      logger,
		})
		srv := &http.Server{
			Addr:              addr,
			Handler:           a.Router(),
			ReadHeaderTimeout: 10 * time.Second,
		}

		errCh := make(chan error, 1)
		go func() {
			errCh <- srv.ListenAndServe()
		}()
		fmt.Printf("%s Serving on %s\n", ui.RenderAccent("🌐"), addr)
		fmt.Printf("   Events: ws://%s/api/events\n", addr)
		fmt.Printf("\nPress Ctrl+C to stop\n\n")

		select {
		case err := <-errCh:
			if !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("server error: %w", err)
			}
			return nil
		case <-ctx.Done():
		}

		fmt.Println("\nShutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
		return nil
	},
}

func init() {
	serveCmd.Flags().String("addr", "", "listen address (default: server.addr)")
	rootCmd.AddCommand(serveCmd)
}
