package daemon

import (
	"context"
	"errors"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/steveyegge/jirasync/internal/jira/schema"
	jirasync "github.com/steveyegge/jirasync/internal/jira/sync"
)

// fakeRunner counts syncs per base URL and fails the ones listed in fail.
type fakeRunner struct {
	mu       sync.Mutex
	calls    map[string]int
	fail     map[string]bool
	delay    time.Duration
	inFlight atomic.Int32
	maxSeen  atomic.Int32
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{calls: map[string]int{}, fail: map[string]bool{}}
}

func (f *fakeRunner) Sync(ctx context.Context, creds schema.Credentials) (*jirasync.Result, error) {
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		old := f.maxSeen.Load()
		if n <= old || f.maxSeen.CompareAndSwap(old, n) {
			break
		}
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}

	f.mu.Lock()
	f.calls[creds.BaseURL]++
	fail := f.fail[creds.BaseURL]
	f.mu.Unlock()

	if fail {
		return nil, &schema.TransportError{Method: "GET", URL: creds.BaseURL, StatusCode: 503}
	}
	return &jirasync.Result{Operation: jirasync.OpSync, Stage: schema.StageComplete}, nil
}

func (f *fakeRunner) count(url string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[url]
}

func creds(url string) schema.Credentials {
	return schema.Credentials{BaseURL: url, Username: "user", APIToken: "token"}
}

func quietConfig() *Config {
	return &Config{
		Interval:         time.Hour,
		DebounceInterval: 10 * time.Millisecond,
		Logger:           log.New(io.Discard, "", 0),
	}
}

// waitFor polls cond until it holds or a second passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		runner  Runner
		config  *Config
		wantErr bool
	}{
		{"defaults", newFakeRunner(), nil, false},
		{"nil runner", nil, nil, true},
		{"zero interval", newFakeRunner(), &Config{}, true},
		{"watch without reload", newFakeRunner(), &Config{Interval: time.Second, ConfigFile: "x.toml"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := New(tt.runner, tt.config)
			if (err != nil) != tt.wantErr {
				t.Fatalf("New() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil && d.config.Concurrency != 1 {
				t.Errorf("Concurrency = %d, want default 1", d.config.Concurrency)
			}
		})
	}
}

func TestRunOnceSyncsEveryContext(t *testing.T) {
	runner := newFakeRunner()
	runner.fail["https://b.example.com"] = true

	cfg := quietConfig()
	cfg.Contexts = []schema.Credentials{creds("https://a.example.com"), creds("https://b.example.com"), creds("https://c.example.com")}
	d, err := New(runner, cfg)
	if err != nil {
		t.Fatal(err)
	}

	err = d.RunOnce(context.Background())
	if err == nil || !strings.Contains(err.Error(), "b.example.com") {
		t.Fatalf("RunOnce() = %v, want the failure of b", err)
	}
	if !schema.IsRetryable(err) {
		t.Errorf("aggregated error should keep the transport cause: %v", err)
	}
	for _, url := range []string{"https://a.example.com", "https://b.example.com", "https://c.example.com"} {
		if got := runner.count(url); got != 1 {
			t.Errorf("syncs of %s = %d, want 1", url, got)
		}
	}
	if d.Runs() != 1 {
		t.Errorf("Runs() = %d, want 1", d.Runs())
	}
}

func TestRunOnceRespectsConcurrency(t *testing.T) {
	for _, limit := range []int{1, 2} {
		runner := newFakeRunner()
		runner.delay = 20 * time.Millisecond

		cfg := quietConfig()
		cfg.Concurrency = limit
		for _, h := range []string{"a", "b", "c", "d"} {
			cfg.Contexts = append(cfg.Contexts, creds("https://"+h+".example.com"))
		}
		d, _ := New(runner, cfg)

		if err := d.RunOnce(context.Background()); err != nil {
			t.Fatalf("RunOnce() failed: %v", err)
		}
		if got := runner.maxSeen.Load(); got > int32(limit) {
			t.Errorf("limit %d: saw %d syncs in flight", limit, got)
		}
	}
}

func TestRunOnceWithoutContexts(t *testing.T) {
	d, _ := New(newFakeRunner(), quietConfig())
	if err := d.RunOnce(context.Background()); err != nil {
		t.Errorf("RunOnce() with no contexts = %v", err)
	}
}

func TestStartSyncsImmediatelyAndStops(t *testing.T) {
	runner := newFakeRunner()
	cfg := quietConfig()
	cfg.Contexts = []schema.Credentials{creds("https://a.example.com")}
	d, _ := New(runner, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Start(ctx) }()

	waitFor(t, "first sync", func() bool { return d.Runs() >= 1 })

	d.Trigger()
	waitFor(t, "triggered sync", func() bool { return d.Runs() >= 2 })

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Start() = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("daemon did not stop")
	}
}

func TestTicker(t *testing.T) {
	cfg := quietConfig()
	cfg.Interval = 10 * time.Millisecond
	cfg.Contexts = []schema.Credentials{creds("https://a.example.com")}
	d, _ := New(newFakeRunner(), cfg)

	go d.Start(context.Background())
	waitFor(t, "several ticks", func() bool { return d.Runs() >= 3 })

	if err := d.Stop(); err != nil {
		t.Errorf("Stop() = %v", err)
	}
}

func TestConfigReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "jirasync.toml")
	if err := os.WriteFile(path, []byte("a"), 0600); err != nil {
		t.Fatal(err)
	}

	var reloads atomic.Int32
	runner := newFakeRunner()
	cfg := quietConfig()
	cfg.ConfigFile = path
	cfg.Contexts = []schema.Credentials{creds("https://old.example.com")}
	cfg.Reload = func() ([]schema.Credentials, error) {
		reloads.Add(1)
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if string(data) != "ready" {
			return nil, errors.New("half-written")
		}
		return []schema.Credentials{creds("https://new.example.com")}, nil
	}
	d, err := New(runner, cfg)
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Start(ctx)
	waitFor(t, "first sync", func() bool { return runner.count("https://old.example.com") == 1 })

	// A failed reload keeps the old contexts.
	if err := os.WriteFile(path, []byte("b"), 0600); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "first reload", func() bool { return reloads.Load() >= 1 })
	if got := d.Contexts(); len(got) != 1 || got[0].BaseURL != "https://old.example.com" {
		t.Fatalf("Contexts() after failed reload = %v", got)
	}

	if err := os.WriteFile(path, []byte("ready"), 0600); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "sync of the reloaded context", func() bool { return runner.count("https://new.example.com") >= 1 })

	// Other files in the directory are ignored.
	before := reloads.Load()
	if err := os.WriteFile(filepath.Join(dir, "other.txt"), []byte("x"), 0600); err != nil {
		t.Fatal(err)
	}
	time.Sleep(50 * time.Millisecond)
	if reloads.Load() != before {
		t.Error("unrelated file triggered a reload")
	}
}

func TestNewLogger(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "daemon.log")
	logger, closer := NewLogger(path)
	logger.Println("hello")
	if err := closer.Close(); err != nil {
		t.Fatalf("Close() = %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("log file not written: %v", err)
	}
	if !strings.Contains(string(data), "[daemon] ") || !strings.Contains(string(data), "hello") {
		t.Errorf("log = %q", data)
	}

	if _, closer := NewLogger(""); closer.Close() != nil {
		t.Error("stderr logger closer should be a no-op")
	}
}
