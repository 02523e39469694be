package sync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"log"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/steveyegge/jirasync/internal/jira/activity"
	"github.com/steveyegge/jirasync/internal/jira/history"
	"github.com/steveyegge/jirasync/internal/jira/normalize"
	"github.com/steveyegge/jirasync/internal/jira/reconcile"
	"github.com/steveyegge/jirasync/internal/jira/remote"
	"github.com/steveyegge/jirasync/internal/jira/schema"
)

// Operation names reported in Result and Event.
const (
	OpSync    = "sync"
	OpUsers   = "users"
	OpIssues  = "issues"
	OpHistory = "history"
)

// Options configures a Syncer.
type Options struct {
	// Remote configures the HTTP client built for each run. Nil uses
	// remote.DefaultConfig.
	Remote *remote.Config

	// NewRemote builds the client for a run. Nil builds a *remote.Client
	// from Remote.
	NewRemote func(creds schema.Credentials) (Remote, error)

	// WalkRetries is how many times a failed paginated fetch is restarted
	// from the first page when the failure is retryable.
	WalkRetries int

	// IngestChangelog makes Sync also pull the remote changelog of every
	// fetched issue during the history stage.
	IngestChangelog bool

	// ChangedBy is recorded as the changer of diff-derived history rows.
	// Empty means the username of the run's credentials.
	ChangedBy string

	Observer Observer
	Logger   *log.Logger
	Now      func() time.Time
}

// syncer implements the Syncer interface.
type syncer struct {
	store  Store
	opts   Options
	logger *log.Logger

	users  *reconcile.Reconciler[*schema.User]
	issues *reconcile.Reconciler[*schema.Issue]
	types  *reconcile.Reconciler[*schema.ActivityType]

	last atomic.Pointer[Result]
}

// New creates a new Syncer over store.
//
// The store must be initialized (schema created) before passing it in.
// If opts.Logger is nil, a default logger writing to stderr is used.
//
// Example:
//
//	store, err := db.Open(".jirasync/jirasync.db")
//	if err != nil {
//	    return err
//	}
//	if err := store.InitSchema(); err != nil {
//	    return err
//	}
//	syncer := sync.New(store, sync.Options{WalkRetries: 1})
func New(store Store, opts Options) Syncer {
	if opts.Logger == nil {
		opts.Logger = log.New(os.Stderr, "[sync] ", log.LstdFlags)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewRemote == nil {
		cfg := opts.Remote
		opts.NewRemote = func(creds schema.Credentials) (Remote, error) {
			return remote.New(creds, cfg)
		}
	}

	return &syncer{
		store:  store,
		opts:   opts,
		logger: opts.Logger,
		users:  reconcile.Users(store),
		issues: reconcile.Issues(store),
		types:  reconcile.ActivityTypes(store),
	}
}

// run is the state of one operation moving through its stages.
type run struct {
	s         *syncer
	op        string
	client    Remote
	deriver   *activity.Deriver
	changedBy string

	stage schema.Stage
	res   *Result

	users   []*schema.User
	issues  []*schema.Issue
	changed []reconcile.Change[*schema.Issue]
	history []*schema.IssueHistory

	// logged holds, per issue id and lowercased field, the latest change
	// time seen in the remote changelog during this run.
	logged map[string]map[string]time.Time
}

// start validates creds and builds the client. On failure err is an idle
// *schema.StageError and the run never started: no result is recorded and no
// event is emitted.
func (s *syncer) start(op string, creds schema.Credentials) (*run, error) {
	r := &run{
		s:     s,
		op:    op,
		stage: schema.StageIdle,
		res: &Result{
			Operation: op,
			Stage:     schema.StageIdle,
			StartedAt: s.opts.Now().UTC(),
		},
	}

	if err := creds.Validate(); err != nil {
		return r, r.reject(err)
	}
	client, err := s.opts.NewRemote(creds)
	if err != nil {
		return r, r.reject(err)
	}

	r.client = client
	r.deriver = activity.New(s.store, s.logger)
	r.changedBy = s.opts.ChangedBy
	if r.changedBy == "" {
		r.changedBy = creds.Username
	}
	return r, nil
}

func (r *run) enter(stage schema.Stage) {
	if !r.stage.CanTransition(stage) {
		panic(fmt.Sprintf("sync: invalid stage transition %s -> %s", r.stage, stage))
	}
	r.stage = stage
	r.res.Stage = stage
	r.s.emit(Event{Operation: r.op, Stage: stage, At: r.s.opts.Now().UTC()})
}

func (r *run) fail(err error) error {
	se := &schema.StageError{Stage: r.stage, Err: err}
	r.stage = schema.StageFailed
	r.res.Stage = schema.StageFailed
	r.finish(se)
	r.s.logger.Printf("ERROR: %s run failed: %v", r.op, se)
	return se
}

// reject fails a run that never left Idle without recording it.
func (r *run) reject(err error) error {
	r.res.Stage = schema.StageFailed
	r.s.logger.Printf("ERROR: %s rejected: %v", r.op, err)
	return &schema.StageError{Stage: schema.StageIdle, Err: err}
}

func (r *run) complete() {
	r.enter(schema.StageComplete)
	r.finish(nil)
	r.s.logger.Printf("%s", r.res)
}

func (r *run) finish(err error) {
	r.res.Duration = r.s.opts.Now().UTC().Sub(r.res.StartedAt)
	r.s.last.Store(r.res)
	r.s.emit(Event{Operation: r.op, Stage: r.stage, At: r.s.opts.Now().UTC(), Result: r.res, Err: err})
}

func (s *syncer) emit(e Event) {
	if s.opts.Observer != nil {
		s.opts.Observer(e)
	}
}

// steps runs each step in order and fails the run at the first error.
func (r *run) steps(ctx context.Context, steps ...func(context.Context) error) error {
	for _, step := range steps {
		if err := step(ctx); err != nil {
			return r.fail(err)
		}
	}
	r.complete()
	return nil
}

// Sync implements Syncer.Sync.
func (s *syncer) Sync(ctx context.Context, creds schema.Credentials) (*Result, error) {
	r, err := s.start(OpSync, creds)
	if err != nil {
		return r.res, err
	}
	s.logger.Printf("Starting sync from %s", creds.BaseURL)

	err = r.steps(ctx, r.syncUsers, r.syncIssues, r.diffHistory, r.deriveActivity)
	return r.res, err
}

// fetch drains a walk, restarting it up to WalkRetries times on retryable failures.
func (r *run) fetch(ctx context.Context, what string, walk func() iter.Seq2[json.RawMessage, error]) ([]json.RawMessage, error) {
	retries := r.s.opts.WalkRetries
	for attempt := 0; ; attempt++ {
		records, err := remote.Collect(walk())
		if err == nil {
			return records, nil
		}
		if attempt >= retries || ctx.Err() != nil || !schema.IsRetryable(err) {
			return nil, fmt.Errorf("failed to fetch %s: %w", what, err)
		}
		r.s.logger.Printf("WARNING: fetching %s failed (attempt %d of %d): %v", what, attempt+1, retries+1, err)
	}
}

// skip records a per-record problem without aborting the run.
func (r *run) skip(err error, index int) {
	var mr *schema.MalformedRecordError
	if errors.As(err, &mr) {
		mr.Index = index
	}
	r.res.MalformedSkipped++
	r.res.addError(err)
	r.s.logger.Printf("WARNING: skipping record: %v", err)
}

func (r *run) syncUsers(ctx context.Context) error {
	r.enter(schema.StageFetchingUsers)
	raws, err := r.fetch(ctx, "users", func() iter.Seq2[json.RawMessage, error] { return r.client.Users(ctx) })
	if err != nil {
		return err
	}

	r.enter(schema.StageReconcilingUsers)
	for i, raw := range raws {
		if err := ctx.Err(); err != nil {
			return err
		}

		u, err := normalize.User(raw)
		if err != nil {
			r.skip(err, i)
			continue
		}

		change, err := r.s.users.Reconcile(ctx, u.AccountID, u)
		if errors.Is(err, schema.ErrValidation) {
			r.skip(err, i)
			continue
		}
		if err != nil {
			return err
		}

		r.res.UsersProcessed++
		switch change.Outcome {
		case reconcile.Created:
			r.res.UsersCreated++
		case reconcile.Updated:
			r.res.UsersUpdated++
		}
		r.users = append(r.users, change.Current)
	}
	return nil
}

func (r *run) syncIssues(ctx context.Context) error {
	r.enter(schema.StageFetchingIssues)
	raws, err := r.fetch(ctx, "issues", func() iter.Seq2[json.RawMessage, error] { return r.client.Issues(ctx) })
	if err != nil {
		return err
	}

	r.enter(schema.StageReconcilingIssues)
	for i, raw := range raws {
		if err := ctx.Err(); err != nil {
			return err
		}

		issue, err := normalize.Issue(raw)
		if err != nil {
			r.skip(err, i)
			continue
		}

		change, err := r.s.issues.Reconcile(ctx, issue.Key, issue)
		if errors.Is(err, schema.ErrValidation) {
			r.skip(err, i)
			continue
		}
		if err != nil {
			return err
		}

		r.res.IssuesProcessed++
		switch change.Outcome {
		case reconcile.Created:
			r.res.IssuesCreated++
		case reconcile.Updated:
			r.res.IssuesUpdated++
			r.changed = append(r.changed, change)
		case reconcile.Stale:
			r.res.StaleSkipped++
			r.s.logger.Printf("WARNING: ignoring stale update of %s (remote %s, stored %s)",
				issue.Key, issue.Fields.Updated.Format(time.RFC3339), change.Current.Fields.Updated.Format(time.RFC3339))
		}
		r.issues = append(r.issues, change.Current)
	}
	return nil
}

// diffHistory appends one history row per changed tracked field of every
// updated issue. Newly created issues get no history. With changelog ingestion
// on, the changelog goes first and a field it already reports as changed since
// the stored version gets no diff row.
func (r *run) diffHistory(ctx context.Context) error {
	r.enter(schema.StageDiffingHistory)
	if r.s.opts.IngestChangelog {
		if err := r.ingestChangelog(ctx, r.issues); err != nil {
			return err
		}
	}

	now := r.s.opts.Now().UTC()
	for _, c := range r.changed {
		if err := ctx.Err(); err != nil {
			return err
		}
		changes := history.Diff(c.Previous.Fields, c.Current.Fields)
		for _, row := range history.Rows(c.Current.ID, changes, r.changedBy, now) {
			if r.inChangelog(row.IssueID, row.Field, c.Previous.Fields.Updated) {
				continue
			}
			if err := r.appendHistory(ctx, row); err != nil {
				return err
			}
		}
	}
	return nil
}

// ingestChangelog appends the remote changelog entries not stored yet.
func (r *run) ingestChangelog(ctx context.Context, issues []*schema.Issue) error {
	now := r.s.opts.Now().UTC()
	for _, issue := range issues {
		key := issue.Key
		raws, err := r.fetch(ctx, "changelog of "+key, func() iter.Seq2[json.RawMessage, error] {
			return r.client.Changelog(ctx, key)
		})
		if err != nil {
			return err
		}

		for i, raw := range raws {
			if err := ctx.Err(); err != nil {
				return err
			}
			entry, err := normalize.Changelog(raw)
			if err != nil {
				r.skip(err, i)
				continue
			}
			for _, row := range history.Rows(issue.ID, history.FromChangelog(entry), r.changedBy, now) {
				r.markLogged(row)
				if err := r.appendHistory(ctx, row); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func (r *run) markLogged(row *schema.IssueHistory) {
	if r.logged == nil {
		r.logged = make(map[string]map[string]time.Time)
	}
	fields := r.logged[row.IssueID]
	if fields == nil {
		fields = make(map[string]time.Time)
		r.logged[row.IssueID] = fields
	}
	field := strings.ToLower(row.Field)
	if row.ChangedAt.After(fields[field]) {
		fields[field] = row.ChangedAt
	}
}

// inChangelog reports whether the changelog ingested in this run changed
// field of the issue after since. A zero since matches any logged change.
func (r *run) inChangelog(issueID, field string, since time.Time) bool {
	at, ok := r.logged[issueID][strings.ToLower(field)]
	return ok && (since.IsZero() || at.After(since))
}

// appendHistory writes one row. A row whose external id is already stored is
// skipped silently.
func (r *run) appendHistory(ctx context.Context, row *schema.IssueHistory) error {
	err := r.s.store.InsertIssueHistory(ctx, row)
	switch {
	case err == nil:
		r.history = append(r.history, row)
		r.res.HistoryRecorded++
		return nil
	case errors.Is(err, schema.ErrConflict):
		return nil
	case errors.Is(err, schema.ErrPersistence):
		return err
	default:
		return &schema.PersistenceError{Op: fmt.Sprintf("append history of issue %s", row.IssueID), Err: err}
	}
}

func (r *run) deriveActivity(ctx context.Context) error {
	r.enter(schema.StageDerivingActivity)
	_, sum, err := r.deriver.Derive(ctx, r.history)
	r.res.ActivitiesDerived += sum.Derived
	r.res.UnknownChangers += sum.UnknownChanger
	return err
}

// LastResult implements Syncer.LastResult.
func (s *syncer) LastResult() *Result {
	return s.last.Load()
}
