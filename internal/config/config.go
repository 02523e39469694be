// Package config loads jirasync settings from a config file, the environment
// and command-line flags, in increasing order of precedence.
//
// Environment variables use the JIRASYNC_ prefix with dots replaced by
// underscores, e.g. JIRASYNC_JIRA_API_TOKEN for jira.api_token.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/spf13/viper"

	"github.com/steveyegge/jirasync/internal/jira/remote"
	"github.com/steveyegge/jirasync/internal/jira/schema"
)

const (
	// EnvPrefix prefixes every environment override.
	EnvPrefix = "JIRASYNC"

	// FileName is the config file looked up when no path is given.
	FileName = "jirasync"

	// DefaultDir holds the store and config of a workspace.
	DefaultDir = ".jirasync"
)

// Config is the full jirasync configuration.
type Config struct {
	Store  StoreConfig  `mapstructure:"store"`
	Jira   JiraConfig   `mapstructure:"jira"`
	Sync   SyncConfig   `mapstructure:"sync"`
	Daemon DaemonConfig `mapstructure:"daemon"`
	Server ServerConfig `mapstructure:"server"`

	// File is the config file that was read, empty if none.
	File string `mapstructure:"-"`
}

type StoreConfig struct {
	Path string `mapstructure:"path"`
}

// JiraConfig holds the primary credentials and any extra credential contexts
// the daemon syncs alongside them.
type JiraConfig struct {
	BaseURL  string               `mapstructure:"base_url"`
	Username string               `mapstructure:"username"`
	APIToken string               `mapstructure:"api_token"`
	JQL      string               `mapstructure:"jql"`
	Contexts []schema.Credentials `mapstructure:"contexts"`
}

type SyncConfig struct {
	PageSize        int           `mapstructure:"page_size"`
	Timeout         time.Duration `mapstructure:"timeout"`
	RetryBudget     int           `mapstructure:"retry_budget"`
	WalkRetries     int           `mapstructure:"walk_retries"`
	RatePerSecond   float64       `mapstructure:"rate_per_second"`
	IngestChangelog bool          `mapstructure:"ingest_changelog"`
}

type DaemonConfig struct {
	Interval time.Duration `mapstructure:"interval"`
	LogFile  string        `mapstructure:"log_file"`
}

type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}

// SetDefaults registers the default of every key on v. Every key needs a
// default so that environment overrides reach Unmarshal.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("store.path", filepath.Join(DefaultDir, "jirasync.db"))

	v.SetDefault("jira.base_url", "")
	v.SetDefault("jira.username", "")
	v.SetDefault("jira.api_token", "")
	v.SetDefault("jira.jql", "order by key asc")
	v.SetDefault("jira.contexts", []map[string]any{})

	v.SetDefault("sync.page_size", remote.DefaultPageSize)
	v.SetDefault("sync.timeout", 30*time.Second)
	v.SetDefault("sync.retry_budget", 2)
	v.SetDefault("sync.walk_retries", 1)
	v.SetDefault("sync.rate_per_second", 0.0)
	v.SetDefault("sync.ingest_changelog", false)

	v.SetDefault("daemon.interval", 15*time.Minute)
	v.SetDefault("daemon.log_file", "")

	v.SetDefault("server.addr", ":8080")
}

// New returns a viper instance with defaults and environment overrides set up.
func New() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads the config file at path into v and decodes the result. An empty
// path searches the working directory, DefaultDir and the user config dir; no
// file found there is not an error.
func Load(v *viper.Viper, path string) (*Config, error) {
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(FileName)
		v.AddConfigPath(".")
		v.AddConfigPath(DefaultDir)
		if dir, err := os.UserConfigDir(); err == nil {
			v.AddConfigPath(filepath.Join(dir, "jirasync"))
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	cfg.File = v.ConfigFileUsed()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the settings that have no usable zero value.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Store.Path) == "" {
		return &schema.ValidationError{Field: "store.path", Reason: "is required"}
	}
	if c.Daemon.Interval <= 0 {
		return &schema.ValidationError{Field: "daemon.interval", Reason: "must be positive"}
	}
	if c.Sync.PageSize < 0 || c.Sync.RetryBudget < 0 || c.Sync.WalkRetries < 0 {
		return &schema.ValidationError{Field: "sync", Reason: "counts must not be negative"}
	}
	return nil
}

// Credentials returns the primary credentials. They are not validated here;
// the sync engine does that before any request.
func (c *Config) Credentials() schema.Credentials {
	return schema.Credentials{
		BaseURL:  c.Jira.BaseURL,
		Username: c.Jira.Username,
		APIToken: c.Jira.APIToken,
	}
}

// AllCredentials returns the primary credentials, if set, followed by every
// extra context.
func (c *Config) AllCredentials() []schema.Credentials {
	var all []schema.Credentials
	if c.Jira.BaseURL != "" {
		all = append(all, c.Credentials())
	}
	return append(all, c.Jira.Contexts...)
}

// Remote returns the HTTP client settings.
func (c *Config) Remote() *remote.Config {
	cfg := remote.DefaultConfig()
	cfg.Timeout = c.Sync.Timeout
	cfg.RetryBudget = c.Sync.RetryBudget
	cfg.PageSize = c.Sync.PageSize
	cfg.RatePerSecond = c.Sync.RatePerSecond
	if c.Jira.JQL != "" {
		cfg.JQL = c.Jira.JQL
	}
	return cfg
}

// fileConfig is the on-disk TOML layout. Durations are written as strings
// such as "30s" so they read back through viper.
type fileConfig struct {
	Store struct {
		Path string `toml:"path"`
	} `toml:"store"`
	Jira struct {
		BaseURL  string               `toml:"base_url"`
		Username string               `toml:"username"`
		APIToken string               `toml:"api_token,omitempty"`
		JQL      string               `toml:"jql"`
		Contexts []schema.Credentials `toml:"contexts,omitempty"`
	} `toml:"jira"`
	Sync struct {
		PageSize        int     `toml:"page_size"`
		Timeout         string  `toml:"timeout"`
		RetryBudget     int     `toml:"retry_budget"`
		WalkRetries     int     `toml:"walk_retries"`
		RatePerSecond   float64 `toml:"rate_per_second"`
		IngestChangelog bool    `toml:"ingest_changelog"`
	} `toml:"sync"`
	Daemon struct {
		Interval string `toml:"interval"`
		LogFile  string `toml:"log_file,omitempty"`
	} `toml:"daemon"`
	Server struct {
		Addr string `toml:"addr"`
	} `toml:"server"`
}

// Encode writes c as TOML to w.
func (c *Config) Encode(w io.Writer) error {
	var f fileConfig
	f.Store.Path = c.Store.Path
	f.Jira.BaseURL = c.Jira.BaseURL
	f.Jira.Username = c.Jira.Username
	f.Jira.APIToken = c.Jira.APIToken
	f.Jira.JQL = c.Jira.JQL
	f.Jira.Contexts = c.Jira.Contexts
	f.Sync.PageSize = c.Sync.PageSize
	f.Sync.Timeout = c.Sync.Timeout.String()
	f.Sync.RetryBudget = c.Sync.RetryBudget
	f.Sync.WalkRetries = c.Sync.WalkRetries
	f.Sync.RatePerSecond = c.Sync.RatePerSecond
	f.Sync.IngestChangelog = c.Sync.IngestChangelog
	f.Daemon.Interval = c.Daemon.Interval.String()
	f.Daemon.LogFile = c.Daemon.LogFile
	f.Server.Addr = c.Server.Addr
	return toml.NewEncoder(w).Encode(f)
}

// WriteFile writes c as TOML to path, creating parent directories. The file
// is only readable by its owner since it may hold an API token.
func (c *Config) WriteFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer file.Close()

	if err := c.Encode(file); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Redacted returns a copy safe to print.
func (c *Config) Redacted() Config {
	out := *c
	if out.Jira.APIToken != "" {
		out.Jira.APIToken = "****"
	}
	out.Jira.Contexts = make([]schema.Credentials, len(c.Jira.Contexts))
	for i, creds := range c.Jira.Contexts {
		out.Jira.Contexts[i] = creds.Redacted()
	}
	return out
}
