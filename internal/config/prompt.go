package config

import (
	"fmt"
	"os"

	"github.com/charmbracelet/huh"
	"golang.org/x/term"

	"github.com/steveyegge/jirasync/internal/jira/schema"
)

// Interactive reports whether stdin is a terminal a prompt can use.
func Interactive() bool {
	return term.IsTerminal(int(os.Stdin.Fd()))
}

// Prompt asks for the primary credentials and the store path, starting from
// the values already in c.
func Prompt(c *Config) error {
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Jira base URL").
				Placeholder("https://example.atlassian.net").
				Value(&c.Jira.BaseURL).
				Validate(func(s string) error {
					creds := schema.Credentials{BaseURL: s, Username: "x", APIToken: "x"}
					return creds.Validate()
				}),
			huh.NewInput().
				Title("Username").
				Description("Usually the e-mail address of the account.").
				Value(&c.Jira.Username),
			huh.NewInput().
				Title("API token").
				EchoMode(huh.EchoModePassword).
				Value(&c.Jira.APIToken),
		),
		huh.NewGroup(
			huh.NewInput().
				Title("Store path").
				Value(&c.Store.Path),
			huh.NewConfirm().
				Title("Ingest the remote changelog on every sync?").
				Value(&c.Sync.IngestChangelog),
		),
	)

	if err := form.Run(); err != nil {
		return fmt.Errorf("failed to read settings: %w", err)
	}
	return nil
}
