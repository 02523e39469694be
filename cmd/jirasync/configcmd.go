package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/steveyegge/jirasync/internal/config"
	"github.com/steveyegge/jirasync/internal/ui"
)

var configCmd = &cobra.Command{
	Use:     "config",
	GroupID: "advanced",
	Short:   "Create or show the configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a config file",
	Long: `Write a jirasync.toml holding the current settings.

On a terminal the base URL, username, API token and store path are asked
for interactively; otherwise the values come from flags and JIRASYNC_*
environment variables. The file is written to --config, or to
.jirasync/jirasync.toml by default, readable only by its owner.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		force, _ := cmd.Flags().GetBool("force")
		noPrompt, _ := cmd.Flags().GetBool("no-prompt")

		path := cfgFile
		if path == "" {
			path = filepath.Join(config.DefaultDir, config.FileName+".toml")
		}
		if _, err := os.Stat(path); err == nil && !force {
			return fmt.Errorf("%s already exists (use --force to overwrite)", path)
		}

		if !noPrompt && config.Interactive() {
			if err := config.Prompt(cfg); err != nil {
				return err
			}
		}
		if err := cfg.Validate(); err != nil {
			return err
		}
		if err := cfg.WriteFile(path); err != nil {
			return err
		}

		fmt.Printf("%s Wrote %s\n", ui.RenderPass("✓"), path)
		if err := cfg.Credentials().Validate(); err != nil {
			fmt.Printf("%s Credentials incomplete: %v\n", ui.RenderWarn("⚠"), err)
		}
		return nil
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration with secrets masked",
	RunE: func(cmd *cobra.Command, args []string) error {
		source := cfg.File
		if source == "" {
			source = "defaults and environment"
		}
		fmt.Printf("%s\n\n", ui.RenderMuted("# from "+source))

		redacted := cfg.Redacted()
		return redacted.Encode(os.Stdout)
	},
}

func init() {
	configInitCmd.Flags().Bool("force", false, "overwrite an existing file")
	configInitCmd.Flags().Bool("no-prompt", false, "never prompt, even on a terminal")
	configCmd.AddCommand(configInitCmd, configShowCmd)
	rootCmd.AddCommand(configCmd)
}
