// Command jirasync keeps a local SQLite store in step with a Jira site.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/steveyegge/jirasync/internal/config"
)

var (
	cfgFile string
	v       = config.New()
	cfg     *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "jirasync",
	Short: "Sync Jira users, issues and history into a local store",
	Long: `jirasync pulls users, issues and field-change history from a Jira
Cloud site into a local SQLite store and derives a per-user activity log.

Every sync is incremental and idempotent: records are upserted by their
natural key (account id, issue key) and history is append-only, so running
the same sync twice leaves the store unchanged.

Configuration is read from jirasync.toml (see 'jirasync config init'),
JIRASYNC_* environment variables and flags, in increasing precedence.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		path := cfgFile
		if cmd == configInitCmd {
			// The file init is about to create need not exist yet.
			if _, err := os.Stat(path); err != nil {
				path = ""
			}
		}
		loaded, err := config.Load(v, path)
		if err != nil {
			return err
		}
		cfg = loaded
		return nil
	},
}

func init() {
	rootCmd.AddGroup(
		&cobra.Group{ID: "sync", Title: "Sync Commands:"},
		&cobra.Group{ID: "store", Title: "Store Commands:"},
		&cobra.Group{ID: "advanced", Title: "Advanced Commands:"},
	)

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default: jirasync.toml in . or .jirasync/)")
	flags.String("store", "", "path of the SQLite store")
	flags.String("jql", "", "JQL filter of the issue search")
	_ = v.BindPFlag("store.path", flags.Lookup("store"))
	_ = v.BindPFlag("jira.jql", flags.Lookup("jql"))
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
