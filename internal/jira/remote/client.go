// Package remote is the HTTP client for the Jira REST API.
//
// It issues authenticated GET requests, classifies failures into the
// schema error taxonomy and exposes each paginated endpoint as a PageFunc
// that Walk can drive.
package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"log"
	"net"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/time/rate"

	"github.com/steveyegge/jirasync/internal/jira/schema"
)

const (
	searchPath    = "rest/api/3/search"
	usersPath     = "rest/api/3/users/search"
	changelogPath = "rest/api/3/issue/%s/changelog"

	// issueFields limits search responses to the fields the normalizer reads.
	issueFields = "summary,description,status,assignee,updated"

	maxBodyBytes = 32 << 20
)

// Config holds configuration for the remote client.
type Config struct {
	// Timeout bounds every single HTTP request.
	Timeout time.Duration

	// RetryBudget is how many times a retryable transport failure is retried
	// before it is surfaced. Zero disables retries.
	RetryBudget int

	// InitialBackoff is the first wait between retries.
	InitialBackoff time.Duration

	// PageSize is the maxResults requested per page.
	PageSize int

	// RatePerSecond caps request rate (0 = unlimited).
	RatePerSecond float64

	// JQL filters the issue search (empty = all issues visible to the account).
	JQL string

	// HTTPClient overrides the underlying client, mainly for tests.
	HTTPClient *http.Client

	// Logger for retries and warnings.
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Timeout:        30 * time.Second,
		InitialBackoff: 500 * time.Millisecond,
		PageSize:       DefaultPageSize,
		JQL:            "order by key asc",
		Logger:         log.New(os.Stderr, "[remote] ", log.LstdFlags),
	}
}

// Client talks to one remote tracker with one set of credentials.
type Client struct {
	creds   schema.Credentials
	config  *Config
	http    *http.Client
	limiter *rate.Limiter
	logger  *log.Logger
}

// New creates a client after validating creds. Invalid credentials return a
// *schema.ValidationError and no request is ever made.
func New(creds schema.Credentials, config *Config) (*Client, error) {
	if err := creds.Validate(); err != nil {
		return nil, err
	}

	defaults := DefaultConfig()
	if config == nil {
		config = defaults
	}
	cfg := *config
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaults.Timeout
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = defaults.InitialBackoff
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = defaults.PageSize
	}
	if cfg.Logger == nil {
		cfg.Logger = defaults.Logger
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}

	var limiter *rate.Limiter
	if cfg.RatePerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), 1)
	}

	return &Client{
		creds:   creds,
		config:  &cfg,
		http:    httpClient,
		limiter: limiter,
		logger:  cfg.Logger,
	}, nil
}

// PageSize returns the page size requested by this client.
func (c *Client) PageSize() int { return c.config.PageSize }

// Issues walks the issue search.
func (c *Client) Issues(ctx context.Context) iter.Seq2[json.RawMessage, error] {
	return Walk(ctx, c.IssuePage, c.config.PageSize)
}

// Users walks the user search.
func (c *Client) Users(ctx context.Context) iter.Seq2[json.RawMessage, error] {
	return Walk(ctx, c.UserPage, c.config.PageSize)
}

// Changelog walks the change history of one issue.
func (c *Client) Changelog(ctx context.Context, issueKey string) iter.Seq2[json.RawMessage, error] {
	return Walk(ctx, c.ChangelogPage(issueKey), c.config.PageSize)
}

// IssuePage fetches one page of the issue search.
// An absent or null "issues" member is an empty page, not an error.
func (c *Client) IssuePage(ctx context.Context, startAt, maxResults int) (Page, error) {
	q := url.Values{}
	if c.config.JQL != "" {
		q.Set("jql", c.config.JQL)
	}
	q.Set("startAt", strconv.Itoa(startAt))
	q.Set("maxResults", strconv.Itoa(maxResults))
	q.Set("fields", issueFields)

	endpoint := c.creds.Endpoint(searchPath)
	body, err := c.get(ctx, endpoint, q)
	if err != nil {
		return Page{}, err
	}

	var envelope struct {
		Issues []json.RawMessage `json:"issues"`
		Total  *int              `json:"total"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return Page{}, &schema.DecodeError{URL: endpoint, Err: err}
	}

	page := Page{Records: envelope.Issues}
	if envelope.Total != nil && startAt+len(envelope.Issues) >= *envelope.Total {
		page.Last = true
	}
	return page, nil
}

// UserPage fetches one page of the user search, which answers with a bare array.
func (c *Client) UserPage(ctx context.Context, startAt, maxResults int) (Page, error) {
	q := url.Values{}
	q.Set("startAt", strconv.Itoa(startAt))
	q.Set("maxResults", strconv.Itoa(maxResults))

	endpoint := c.creds.Endpoint(usersPath)
	body, err := c.get(ctx, endpoint, q)
	if err != nil {
		return Page{}, err
	}

	var users []json.RawMessage
	if err := json.Unmarshal(body, &users); err != nil {
		return Page{}, &schema.DecodeError{URL: endpoint, Err: err}
	}
	return Page{Records: users}, nil
}

// ChangelogPage returns the PageFunc for the changelog of issueKey.
func (c *Client) ChangelogPage(issueKey string) PageFunc {
	return func(ctx context.Context, startAt, maxResults int) (Page, error) {
		q := url.Values{}
		q.Set("startAt", strconv.Itoa(startAt))
		q.Set("maxResults", strconv.Itoa(maxResults))

		endpoint := c.creds.Endpoint(fmt.Sprintf(changelogPath, url.PathEscape(issueKey)))
		body, err := c.get(ctx, endpoint, q)
		if err != nil {
			return Page{}, err
		}

		var envelope struct {
			Values []json.RawMessage `json:"values"`
			IsLast bool              `json:"isLast"`
		}
		if err := json.Unmarshal(body, &envelope); err != nil {
			return Page{}, &schema.DecodeError{URL: endpoint, Err: err}
		}
		return Page{Records: envelope.Values, Last: envelope.IsLast}, nil
	}
}

// get performs a GET with the configured retry budget.
func (c *Client) get(ctx context.Context, endpoint string, q url.Values) ([]byte, error) {
	if c.config.RetryBudget <= 0 {
		return c.getOnce(ctx, endpoint, q)
	}

	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = c.config.InitialBackoff
	exp.MaxElapsedTime = 0
	exp.Reset()
	policy := backoff.WithContext(backoff.WithMaxRetries(exp, uint64(c.config.RetryBudget)), ctx)

	var body []byte
	op := func() error {
		var err error
		body, err = c.getOnce(ctx, endpoint, q)
		if err != nil && !schema.IsRetryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		c.logger.Printf("WARNING: %v (retrying in %s)", err, wait.Round(time.Millisecond))
	}

	if err := backoff.RetryNotify(op, policy, notify); err != nil {
		return nil, err
	}
	return body, nil
}

// getOnce performs a single GET bounded by the configured timeout.
func (c *Client) getOnce(ctx context.Context, endpoint string, q url.Values) ([]byte, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	u := endpoint
	if len(q) > 0 {
		u += "?" + q.Encode()
	}

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, u, nil)
	if err != nil {
		return nil, &schema.TransportError{Method: http.MethodGet, URL: endpoint, Err: err}
	}
	req.SetBasicAuth(c.creds.Username, c.creds.APIToken)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		// Caller cancellation is not a transport failure.
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, &schema.TransportError{
			Method:  http.MethodGet,
			URL:     endpoint,
			Timeout: isTimeout(err),
			Err:     err,
		}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, &schema.TransportError{Method: http.MethodGet, URL: endpoint, Timeout: isTimeout(err), Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &schema.TransportError{
			Method:     http.MethodGet,
			URL:        endpoint,
			StatusCode: resp.StatusCode,
			Err:        errors.New(truncate(string(body), 200)),
		}
	}

	if !json.Valid(body) {
		return nil, &schema.DecodeError{URL: endpoint, Err: errors.New("response body is not valid JSON")}
	}

	return body, nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
