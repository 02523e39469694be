package schema

import (
	"net/url"
	"strings"
)

// Credentials identify one remote tracker account.
type Credentials struct {
	BaseURL  string `json:"base_url" mapstructure:"base_url" toml:"base_url"`
	Username string `json:"username" mapstructure:"username" toml:"username"`
	APIToken string `json:"api_token" mapstructure:"api_token" toml:"api_token"`
}

// Validate reports a ValidationError for the first missing or unusable field.
// It never touches the network.
func (c Credentials) Validate() error {
	if strings.TrimSpace(c.BaseURL) == "" {
		return &ValidationError{Field: "base_url", Reason: "is required"}
	}
	u, err := url.Parse(c.BaseURL)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return &ValidationError{Field: "base_url", Reason: "must be an absolute http(s) URL"}
	}
	if strings.TrimSpace(c.Username) == "" {
		return &ValidationError{Field: "username", Reason: "is required"}
	}
	if strings.TrimSpace(c.APIToken) == "" {
		return &ValidationError{Field: "api_token", Reason: "is required"}
	}
	return nil
}

// Endpoint joins path onto the base URL.
func (c Credentials) Endpoint(path string) string {
	return strings.TrimRight(c.BaseURL, "/") + "/" + strings.TrimLeft(path, "/")
}

// Redacted returns a copy safe to log.
func (c Credentials) Redacted() Credentials {
	if c.APIToken != "" {
		c.APIToken = "****"
	}
	return c
}
