package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/steveyegge/jirasync/internal/config"
	"github.com/steveyegge/jirasync/internal/jira/export"
	"github.com/steveyegge/jirasync/internal/ui"
)

var exportCmd = &cobra.Command{
	Use:     "export [DIR]",
	GroupID: "store",
	Short:   "Write a JSONL snapshot of the store",
	Long: `Write every stored entity to DIR, one JSONL file per entity:
users, issues, issue_history, activity_types, user_activities and
user_profiles. DIR defaults to .jirasync/export.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dryRun, _ := cmd.Flags().GetBool("dry-run")
		dir := filepath.Join(config.DefaultDir, "export")
		if len(args) == 1 {
			dir = args[0]
		}

		store, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer store.Close()

		res, err := export.Export(cmd.Context(), store, export.Options{Dir: dir, DryRun: dryRun})
		if err != nil {
			return err
		}

		if dryRun {
			fmt.Printf("%s Dry run, nothing written\n", ui.RenderWarn("⚠"))
		} else {
			fmt.Printf("%s Exported to %s\n", ui.RenderPass("✓"), dir)
		}
		fmt.Print(statsFields(res.Stats))
		return nil
	},
}

func init() {
	exportCmd.Flags().Bool("dry-run", false, "count rows without writing")
	rootCmd.AddCommand(exportCmd)
}
