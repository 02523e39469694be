package remote

import (
	"context"
	"errors"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/steveyegge/jirasync/internal/jira/schema"
)

func testConfig() *Config {
	cfg := DefaultConfig()
	cfg.InitialBackoff = time.Millisecond
	cfg.Logger = log.New(io.Discard, "", 0)
	return cfg
}

func newTestClient(t *testing.T, srv *httptest.Server, cfg *Config) *Client {
	t.Helper()
	if cfg == nil {
		cfg = testConfig()
	}
	creds := schema.Credentials{BaseURL: srv.URL, Username: "user", APIToken: "api-token"}
	c, err := New(creds, cfg)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	return c
}

func TestIssuePageParsesIssues(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/rest/api/3/search" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		user, token, ok := r.BasicAuth()
		if !ok || user != "user" || token != "api-token" {
			t.Errorf("basic auth = %q/%q/%v", user, token, ok)
		}
		if got := r.URL.Query().Get("startAt"); got != "0" {
			t.Errorf("startAt = %s", got)
		}
		io.WriteString(w, `{"issues":[{"id":"1","key":"TEST-1","fields":{"summary":"Test issue"}}],"total":1}`)
	}))
	defer srv.Close()

	c := newTestClient(t, srv, nil)
	page, err := c.IssuePage(context.Background(), 0, 50)
	if err != nil {
		t.Fatalf("IssuePage() failed: %v", err)
	}
	if len(page.Records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(page.Records))
	}
	if !page.Last {
		t.Error("expected Last when startAt+len >= total")
	}
}

func TestIssuesEmptyOrNull(t *testing.T) {
	for _, body := range []string{`{"issues":[]}`, `{"issues":null}`, `{}`} {
		t.Run(body, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				io.WriteString(w, body)
			}))
			defer srv.Close()

			c := newTestClient(t, srv, nil)
			records, err := Collect(c.Issues(context.Background()))
			if err != nil {
				t.Fatalf("Collect() failed: %v", err)
			}
			if len(records) != 0 {
				t.Errorf("expected no records, got %d", len(records))
			}
		})
	}
}

func TestIssuesMalformedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "Invalid JSON")
	}))
	defer srv.Close()

	c := newTestClient(t, srv, nil)
	_, err := Collect(c.Issues(context.Background()))
	if !errors.Is(err, schema.ErrDecode) {
		t.Fatalf("expected decode error, got %v", err)
	}
	if errors.Is(err, schema.ErrTransport) {
		t.Error("decode failure must not be reported as transport failure")
	}
}

func TestIssuesWrongShape(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"issues":"nope"}`)
	}))
	defer srv.Close()

	c := newTestClient(t, srv, nil)
	if _, err := c.IssuePage(context.Background(), 0, 50); !errors.Is(err, schema.ErrDecode) {
		t.Fatalf("expected decode error, got %v", err)
	}
}

func TestServerErrorIsTransport(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := newTestClient(t, srv, nil)
	_, err := c.IssuePage(context.Background(), 0, 50)

	var te *schema.TransportError
	if !errors.As(err, &te) {
		t.Fatalf("expected *TransportError, got %v", err)
	}
	if te.StatusCode != http.StatusInternalServerError {
		t.Errorf("StatusCode = %d, want 500", te.StatusCode)
	}
	if !schema.IsRetryable(err) {
		t.Error("5xx should be retryable")
	}
}

func TestRetryBudget(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) <= 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		io.WriteString(w, `{"issues":[]}`)
	}))
	defer srv.Close()

	cfg := testConfig()
	cfg.RetryBudget = 2
	c := newTestClient(t, srv, cfg)

	if _, err := c.IssuePage(context.Background(), 0, 50); err != nil {
		t.Fatalf("IssuePage() failed after retries: %v", err)
	}
	if got := hits.Load(); got != 3 {
		t.Errorf("expected 3 requests, got %d", got)
	}
}

func TestRetryBudgetExhausted(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	cfg := testConfig()
	cfg.RetryBudget = 1
	c := newTestClient(t, srv, cfg)

	_, err := c.IssuePage(context.Background(), 0, 50)
	if !errors.Is(err, schema.ErrTransport) {
		t.Fatalf("expected transport error, got %v", err)
	}
	if got := hits.Load(); got != 2 {
		t.Errorf("expected 2 requests, got %d", got)
	}
}

func TestClientErrorNotRetried(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	cfg := testConfig()
	cfg.RetryBudget = 3
	c := newTestClient(t, srv, cfg)

	_, err := c.IssuePage(context.Background(), 0, 50)
	var te *schema.TransportError
	if !errors.As(err, &te) || te.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 transport error, got %v", err)
	}
	if got := hits.Load(); got != 1 {
		t.Errorf("4xx should not be retried, got %d requests", got)
	}
}

func TestTimeoutIsRetryableTransport(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	cfg := testConfig()
	cfg.Timeout = 20 * time.Millisecond
	c := newTestClient(t, srv, cfg)

	_, err := c.IssuePage(context.Background(), 0, 50)
	var te *schema.TransportError
	if !errors.As(err, &te) {
		t.Fatalf("expected *TransportError, got %v", err)
	}
	if !te.Timeout {
		t.Error("expected Timeout to be set")
	}
	if !schema.IsRetryable(err) {
		t.Error("timeouts should be retryable")
	}
}

func TestInvalidCredentialsNeverReachNetwork(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer srv.Close()

	_, err := New(schema.Credentials{BaseURL: srv.URL, Username: "user"}, testConfig())
	if !errors.Is(err, schema.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if hits.Load() != 0 {
		t.Error("validation failure reached the network")
	}
}

func TestUsersPaginate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/rest/api/3/users/search" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		start, _ := strconv.Atoi(r.URL.Query().Get("startAt"))
		switch start {
		case 0:
			io.WriteString(w, `[{"accountId":"a1"},{"accountId":"a2"}]`)
		case 2:
			io.WriteString(w, `[{"accountId":"a3"}]`)
		default:
			t.Errorf("unexpected startAt %d", start)
			io.WriteString(w, `[]`)
		}
	}))
	defer srv.Close()

	cfg := testConfig()
	cfg.PageSize = 2
	c := newTestClient(t, srv, cfg)

	records, err := Collect(c.Users(context.Background()))
	if err != nil {
		t.Fatalf("Collect() failed: %v", err)
	}
	if len(records) != 3 {
		t.Errorf("expected 3 users, got %d", len(records))
	}
}

func TestChangelogHonoursIsLast(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.URL.Path != "/rest/api/3/issue/TEST-1/changelog" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		io.WriteString(w, `{"values":[{"id":"10"},{"id":"11"}],"isLast":true}`)
	}))
	defer srv.Close()

	cfg := testConfig()
	cfg.PageSize = 2
	c := newTestClient(t, srv, cfg)

	records, err := Collect(c.Changelog(context.Background(), "TEST-1"))
	if err != nil {
		t.Fatalf("Collect() failed: %v", err)
	}
	if len(records) != 2 || hits.Load() != 1 {
		t.Errorf("got %d records over %d requests, want 2 over 1", len(records), hits.Load())
	}
}

func TestCancelledContextIsNotTransport(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"issues":[]}`)
	}))
	defer srv.Close()

	c := newTestClient(t, srv, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.IssuePage(ctx, 0, 50)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if errors.Is(err, schema.ErrTransport) {
		t.Error("cancellation reported as transport failure")
	}
}
