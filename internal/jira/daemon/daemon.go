// Package daemon runs syncs on a schedule.
//
// The daemon:
// 1. Syncs every configured credential context on start
// 2. Re-syncs them every Interval, a bounded number at a time
// 3. Watches the config file and reloads the contexts when it changes
// 4. Handles graceful shutdown
package daemon

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/hashicorp/go-multierror"
	"golang.org/x/sync/errgroup"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/steveyegge/jirasync/internal/jira/schema"
	jirasync "github.com/steveyegge/jirasync/internal/jira/sync"
)

// Runner is the part of a jirasync.Syncer the daemon drives.
type Runner interface {
	Sync(ctx context.Context, creds schema.Credentials) (*jirasync.Result, error)
}

// Config holds configuration for the daemon.
type Config struct {
	// Interval is how often every context is synced.
	Interval time.Duration

	// Concurrency caps how many contexts sync at once. Zero means one.
	Concurrency int

	// Contexts are the credentials synced on each tick.
	Contexts []schema.Credentials

	// ConfigFile is watched when set; a change calls Reload.
	ConfigFile string

	// Reload returns the contexts after ConfigFile changed.
	Reload func() ([]schema.Credentials, error)

	// DebounceInterval is how long a config change must settle before reloading.
	DebounceInterval time.Duration

	// Logger for daemon activity
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Interval:         15 * time.Minute,
		Concurrency:      1,
		DebounceInterval: 100 * time.Millisecond,
		Logger:           log.New(os.Stderr, "[daemon] ", log.LstdFlags),
	}
}

// Daemon triggers syncs periodically.
type Daemon struct {
	runner Runner
	config *Config

	mu       sync.Mutex
	contexts []schema.Credentials

	watcher *fsnotify.Watcher
	trigger chan struct{}
	runs    atomic.Int64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a daemon driving runner.
func New(runner Runner, config *Config) (*Daemon, error) {
	if runner == nil {
		return nil, fmt.Errorf("runner cannot be nil")
	}
	defaults := DefaultConfig()
	if config == nil {
		config = defaults
	}
	if config.Interval <= 0 {
		return nil, &schema.ValidationError{Field: "interval", Reason: "must be positive"}
	}
	if config.ConfigFile != "" && config.Reload == nil {
		return nil, fmt.Errorf("reload cannot be nil when a config file is watched")
	}
	if config.Concurrency <= 0 {
		config.Concurrency = defaults.Concurrency
	}
	if config.DebounceInterval <= 0 {
		config.DebounceInterval = defaults.DebounceInterval
	}
	if config.Logger == nil {
		config.Logger = defaults.Logger
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Daemon{
		runner:   runner,
		config:   config,
		contexts: config.Contexts,
		trigger:  make(chan struct{}, 1),
		ctx:      ctx,
		cancel:   cancel,
	}, nil
}

// Start syncs once, then on every tick until ctx is cancelled or Stop is called.
func (d *Daemon) Start(ctx context.Context) error {
	d.config.Logger.Printf("Starting daemon (interval %s)", d.config.Interval)

	if d.config.ConfigFile != "" {
		watcher, err := fsnotify.NewWatcher()
		if err != nil {
			return fmt.Errorf("failed to create watcher: %w", err)
		}
		// Editors replace files by rename, so the directory is watched.
		if err := watcher.Add(filepath.Dir(d.config.ConfigFile)); err != nil {
			watcher.Close()
			return fmt.Errorf("failed to watch config directory: %w", err)
		}
		d.watcher = watcher
		d.config.Logger.Printf("Watching: %s", d.config.ConfigFile)

		d.wg.Add(1)
		go d.watchConfig()
	}

	d.wg.Add(1)
	go d.loop()

	select {
	case <-ctx.Done():
		d.config.Logger.Println("Shutdown signal received")
		return d.Stop()
	case <-d.ctx.Done():
		return nil
	}
}

// Stop gracefully shuts down the daemon, waiting for running syncs.
func (d *Daemon) Stop() error {
	d.config.Logger.Println("Stopping daemon")
	d.cancel()

	if d.watcher != nil {
		if err := d.watcher.Close(); err != nil {
			d.config.Logger.Printf("WARNING: failed to close watcher: %v", err)
		}
	}
	d.wg.Wait()

	d.config.Logger.Println("Daemon stopped")
	return nil
}

// Trigger requests a sync now. It never blocks; a pending request absorbs it.
func (d *Daemon) Trigger() {
	select {
	case d.trigger <- struct{}{}:
	default:
	}
}

// Runs returns how many sync rounds have finished.
func (d *Daemon) Runs() int64 {
	return d.runs.Load()
}

// Contexts returns the credentials synced on each tick.
func (d *Daemon) Contexts() []schema.Credentials {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]schema.Credentials(nil), d.contexts...)
}

func (d *Daemon) loop() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.config.Interval)
	defer ticker.Stop()

	d.round()
	for {
		select {
		case <-d.ctx.Done():
			return
		case <-ticker.C:
			d.round()
		case <-d.trigger:
			d.round()
		}
	}
}

func (d *Daemon) round() {
	if err := d.RunOnce(d.ctx); err != nil && d.ctx.Err() == nil {
		d.config.Logger.Printf("ERROR: sync round failed: %v", err)
	}
}

// RunOnce syncs every context once, at most Concurrency at a time. A failing
// context does not stop the others; all failures are returned together.
func (d *Daemon) RunOnce(ctx context.Context) error {
	contexts := d.Contexts()
	if len(contexts) == 0 {
		d.config.Logger.Println("WARNING: no credentials configured, nothing to sync")
		d.runs.Add(1)
		return nil
	}

	var (
		mu   sync.Mutex
		errs *multierror.Error
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.config.Concurrency)
	for _, creds := range contexts {
		g.Go(func() error {
			res, err := d.runner.Sync(gctx, creds)
			if err != nil {
				mu.Lock()
				errs = multierror.Append(errs, fmt.Errorf("failed to sync %s: %w", creds.BaseURL, err))
				mu.Unlock()
				return nil
			}
			d.config.Logger.Printf("Synced %s: %s", creds.BaseURL, res)
			return nil
		})
	}
	_ = g.Wait()

	d.runs.Add(1)
	return errs.ErrorOrNil()
}

// watchConfig reloads the contexts once the config file settles after a change.
func (d *Daemon) watchConfig() {
	defer d.wg.Done()

	name := filepath.Clean(d.config.ConfigFile)
	var pending <-chan time.Time

	for {
		select {
		case <-d.ctx.Done():
			return

		case event, ok := <-d.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != name {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
				continue
			}
			d.config.Logger.Printf("Config event: %s %s", event.Op, event.Name)
			pending = time.After(d.config.DebounceInterval)

		case <-pending:
			pending = nil
			d.reload()

		case err, ok := <-d.watcher.Errors:
			if !ok {
				return
			}
			d.config.Logger.Printf("WARNING: watcher error: %v", err)
		}
	}
}

func (d *Daemon) reload() {
	contexts, err := d.config.Reload()
	if err != nil {
		// A half-written file is common mid-save; keep the old contexts.
		d.config.Logger.Printf("WARNING: failed to reload config: %v", err)
		return
	}
	d.mu.Lock()
	d.contexts = contexts
	d.mu.Unlock()

	d.config.Logger.Printf("Reloaded config: %d context(s)", len(contexts))
	d.Trigger()
}

// NewLogger returns the daemon logger. With a path it writes to a rotating
// file; the returned closer must be closed on shutdown.
func NewLogger(path string) (*log.Logger, io.Closer) {
	if path == "" {
		return log.New(os.Stderr, "[daemon] ", log.LstdFlags), io.NopCloser(nil)
	}
	w := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    10, // megabytes
		MaxBackups: 3,
		MaxAge:     28, // days
		Compress:   true,
	}
	return log.New(w, "[daemon] ", log.LstdFlags), w
}
