package config

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/steveyegge/jirasync/internal/jira/schema"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load(New(), "")
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.File != "" {
		t.Errorf("File = %q, want none", cfg.File)
	}
	if cfg.Sync.Timeout != 30*time.Second || cfg.Sync.PageSize != 50 || cfg.Daemon.Interval != 15*time.Minute {
		t.Errorf("defaults = %+v", cfg.Sync)
	}
	if cfg.Store.Path != filepath.Join(".jirasync", "jirasync.db") {
		t.Errorf("store path = %q", cfg.Store.Path)
	}
	if len(cfg.AllCredentials()) != 0 {
		t.Errorf("AllCredentials() = %v, want none", cfg.AllCredentials())
	}
}

func TestWriteFileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "jirasync.toml")

	base, err := Load(New(), "")
	if err != nil {
		t.Fatal(err)
	}
	base.Jira.BaseURL = "https://example.atlassian.net"
	base.Jira.Username = "me@example.com"
	base.Jira.APIToken = "secret"
	base.Jira.Contexts = []schema.Credentials{{BaseURL: "https://other.atlassian.net", Username: "bot", APIToken: "t2"}}
	base.Sync.Timeout = 45 * time.Second
	base.Sync.IngestChangelog = true
	base.Daemon.Interval = 5 * time.Minute

	if err := base.WriteFile(path); err != nil {
		t.Fatalf("WriteFile() failed: %v", err)
	}

	got, err := Load(New(), path)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	base.File = path
	if diff := cmp.Diff(base, got); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}

	all := got.AllCredentials()
	if len(all) != 2 || all[1].Username != "bot" {
		t.Errorf("AllCredentials() = %+v", all)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "jirasync.toml")
	cfg, _ := Load(New(), "")
	cfg.Jira.APIToken = "from-file"
	if err := cfg.WriteFile(path); err != nil {
		t.Fatal(err)
	}

	t.Setenv("JIRASYNC_JIRA_API_TOKEN", "from-env")
	t.Setenv("JIRASYNC_SYNC_WALK_RETRIES", "3")

	got, err := Load(New(), path)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if got.Jira.APIToken != "from-env" || got.Sync.WalkRetries != 3 {
		t.Errorf("env overrides not applied: token=%q walk_retries=%d", got.Jira.APIToken, got.Sync.WalkRetries)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	t.Setenv("JIRASYNC_DAEMON_INTERVAL", "0s")
	t.Chdir(t.TempDir())

	_, err := Load(New(), "")
	if !errors.Is(err, schema.ErrValidation) {
		t.Errorf("Load() = %v, want validation error", err)
	}

	if _, err := Load(New(), filepath.Join(t.TempDir(), "missing.toml")); err == nil {
		t.Error("Load() of a missing explicit file should fail")
	}
}

func TestRemoteAndRedacted(t *testing.T) {
	cfg, _ := Load(New(), "")
	cfg.Jira.APIToken = "secret"
	cfg.Jira.Contexts = []schema.Credentials{{APIToken: "t2"}}
	cfg.Sync.RetryBudget = 4

	r := cfg.Remote()
	if r.RetryBudget != 4 || r.JQL != "order by key asc" || r.Timeout != 30*time.Second {
		t.Errorf("Remote() = %+v", r)
	}

	red := cfg.Redacted()
	if red.Jira.APIToken != "****" || red.Jira.Contexts[0].APIToken != "****" {
		t.Errorf("Redacted() leaked a token: %+v", red.Jira)
	}
	if cfg.Jira.Contexts[0].APIToken != "t2" {
		t.Error("Redacted() modified the original")
	}
}
