package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/steveyegge/jirasync/internal/jira/schema"
	jirasync "github.com/steveyegge/jirasync/internal/jira/sync"
	"github.com/steveyegge/jirasync/internal/ui"
)

var syncCmd = &cobra.Command{
	Use:     "sync",
	GroupID: "sync",
	Short:   "Sync users, issues and history from Jira",
	Long: `Run a full sync against the configured Jira site.

A sync moves through these stages:
  1. Fetch and upsert every user by account id
  2. Fetch and upsert every issue matching the JQL by key
  3. Record a history row for each tracked field that changed
  4. Derive user activity from the new history rows

A failure stops the sync at its stage; work done in earlier stages stays
in the store and the next sync picks up from there.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer store.Close()

		creds := cfg.Credentials()
		fmt.Printf("%s Syncing from %s...\n", ui.RenderAccent("🔄"), creds.BaseURL)

		res, err := newSyncer(store, nil, nil).Sync(cmd.Context(), creds)
		if err != nil {
			return err
		}
		printResult(res)
		return nil
	},
}

var usersCmd = &cobra.Command{
	Use:     "users",
	GroupID: "store",
	Short:   "Sync or list users",
}

var usersSyncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Fetch every Jira user and upsert it by account id",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer store.Close()

		users, err := newSyncer(store, nil, nil).FetchAndReconcileUsers(cmd.Context(), cfg.Credentials())
		if err != nil {
			return err
		}
		fmt.Printf("%s Synced %d users\n", ui.RenderPass("✓"), len(users))
		return nil
	},
}

var usersListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored users",
	RunE: func(cmd *cobra.Command, args []string) error {
		format, _ := cmd.Flags().GetString("format")
		store, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer store.Close()

		users, err := store.ListUsers(cmd.Context())
		if err != nil {
			return err
		}
		return render(os.Stdout, format, users, func() string { return usersTable(users) })
	},
}

var issuesCmd = &cobra.Command{
	Use:     "issues",
	GroupID: "store",
	Short:   "Sync, preview or list issues",
}

var issuesSyncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Fetch issues, upsert them by key and record field history",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer store.Close()

		issues, err := newSyncer(store, nil, nil).FetchAndReconcileIssues(cmd.Context(), cfg.Credentials())
		if err != nil {
			return err
		}
		fmt.Printf("%s Synced %d issues\n", ui.RenderPass("✓"), len(issues))
		return nil
	},
}

var issuesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored issues",
	Long: `List stored issues ordered by key.

--since accepts a date, an RFC 3339 timestamp or a phrase such as
"2 days ago" or "last monday", and keeps issues updated at or after it.
--remote previews the issues Jira would return without storing them.`,
	Example: `  jirasync issues list --since "2 days ago"
  jirasync issues list --format json`,
	RunE: func(cmd *cobra.Command, args []string) error {
		format, _ := cmd.Flags().GetString("format")
		since, _ := cmd.Flags().GetString("since")
		fromRemote, _ := cmd.Flags().GetBool("remote")

		store, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer store.Close()

		var issues []*schema.Issue
		switch {
		case fromRemote:
			issues, err = newSyncer(store, nil, nil).FetchRemoteIssues(cmd.Context(), cfg.Credentials())
		case since != "":
			var t time.Time
			if t, err = parseSince(since, time.Now()); err == nil {
				issues, err = store.ListIssuesUpdatedSince(cmd.Context(), t)
			}
		default:
			issues, err = store.ListIssues(cmd.Context())
		}
		if err != nil {
			return err
		}
		return render(os.Stdout, format, issues, func() string { return issuesTable(issues) })
	},
}

var issuesHistoryCmd = &cobra.Command{
	Use:   "history KEY",
	Short: "Show the stored field history of an issue",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		format, _ := cmd.Flags().GetString("format")
		store, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer store.Close()

		rows, err := newSyncer(store, nil, nil).ListIssueHistory(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return render(os.Stdout, format, rows, func() string { return historyTable(rows) })
	},
}

var historyCmd = &cobra.Command{
	Use:     "history",
	GroupID: "sync",
	Short:   "Sync issue history from the Jira changelog",
}

var historySyncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Pull the Jira changelog of every stored issue",
	Long: `Pull the remote changelog of every stored issue and append the
entries not seen before. Entries are keyed by their changelog id, so
running this repeatedly adds nothing new.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer store.Close()

		rows, err := newSyncer(store, nil, nil).FetchAndSaveIssueHistory(cmd.Context(), cfg.Credentials())
		if err != nil {
			return err
		}
		fmt.Printf("%s Recorded %d history rows\n", ui.RenderPass("✓"), len(rows))
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:     "status",
	GroupID: "store",
	Short:   "Show store status",
	RunE: func(cmd *cobra.Command, args []string) error {
		info, err := os.Stat(cfg.Store.Path)
		if os.IsNotExist(err) {
			fmt.Printf("\n%s Store not initialized\n", ui.RenderWarn("⚠"))
			fmt.Printf("   Run 'jirasync sync' to create it\n\n")
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to check store: %w", err)
		}

		store, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer store.Close()

		stats, err := store.Stats(cmd.Context())
		if err != nil {
			return err
		}
		issues, err := store.ListIssues(cmd.Context())
		if err != nil {
			return err
		}
		var lastSynced time.Time
		for _, i := range issues {
			if i.SyncedAt.After(lastSynced) {
				lastSynced = i.SyncedAt
			}
		}

		fmt.Printf("\n%s Store Status\n\n", ui.RenderAccent("📊"))
		fmt.Print(ui.Fields(
			ui.Field{Key: "Location", Value: cfg.Store.Path},
			ui.Field{Key: "Size", Value: formatSize(info.Size())},
			ui.Field{Key: "Last synced", Value: formatStamp(lastSynced)},
		))
		fmt.Println()
		fmt.Print(statsFields(stats))
		fmt.Println()
		return nil
	},
}

func printResult(res *jirasync.Result) {
	fmt.Printf("%s Sync complete\n", ui.RenderPass("✓"))
	fmt.Print(resultFields(res))
	if res.ErrorCount() > 0 {
		fmt.Printf("\n%s %d records skipped:\n", ui.RenderWarn("⚠"), res.ErrorCount())
		for _, err := range res.Errors.Errors {
			fmt.Printf("   %s\n", ui.RenderMuted(err.Error()))
		}
	}
}

func formatSize(size int64) string {
	switch {
	case size > 1024*1024:
		return fmt.Sprintf("%.1f MB", float64(size)/(1024*1024))
	case size > 1024:
		return fmt.Sprintf("%.1f KB", float64(size)/1024)
	default:
		return fmt.Sprintf("%d bytes", size)
	}
}

func init() {
	for _, c := range []*cobra.Command{usersListCmd, issuesListCmd, issuesHistoryCmd} {
		c.Flags().StringP("format", "f", formatTable, "output format: table, json or yaml")
	}
	issuesListCmd.Flags().String("since", "", "only issues updated since this time")
	issuesListCmd.Flags().Bool("remote", false, "preview remote issues without storing them")

	usersCmd.AddCommand(usersSyncCmd, usersListCmd)
	issuesCmd.AddCommand(issuesSyncCmd, issuesListCmd, issuesHistoryCmd)
	historyCmd.AddCommand(historySyncCmd)
	rootCmd.AddCommand(syncCmd, usersCmd, issuesCmd, historyCmd, statusCmd)
}
