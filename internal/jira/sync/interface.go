package sync

import (
	"context"
	"encoding/json"
	"iter"

	"github.com/steveyegge/jirasync/internal/jira/activity"
	"github.com/steveyegge/jirasync/internal/jira/reconcile"
	"github.com/steveyegge/jirasync/internal/jira/schema"
)

// Syncer keeps the local store in step with a remote tracker.
//
// Every remote operation validates its credentials before touching the
// network. A run moves through the stages of schema.Stage in order; a failure
// aborts the run with a *schema.StageError naming the stage that failed.
// Stages that completed before the failure stay committed: there is no
// rollback, and re-running converges because every write is an upsert by
// natural key.
//
// Per-record problems (a record without its natural key) never abort a run.
// They are logged, counted in Result.MalformedSkipped and collected in
// Result.Errors.
type Syncer interface {
	// Sync runs users, issues, history diffing and activity derivation.
	//
	// Example:
	//   res, err := syncer.Sync(ctx, creds)
	//   if err != nil {
	//       var se *schema.StageError
	//       errors.As(err, &se) // se.Stage tells how far the run got
	//   }
	Sync(ctx context.Context, creds schema.Credentials) (*Result, error)

	// FetchAndReconcileUsers fetches every remote user and upserts it by account id.
	FetchAndReconcileUsers(ctx context.Context, creds schema.Credentials) ([]*schema.User, error)

	// FetchAndReconcileIssues fetches every issue matching the configured JQL,
	// upserts it by key, records history for changed fields and derives the
	// resulting activity.
	FetchAndReconcileIssues(ctx context.Context, creds schema.Credentials) ([]*schema.Issue, error)

	// FetchAndSaveIssueHistory pulls the remote changelog of every stored
	// issue, appends the entries not seen before and derives their activity.
	// It returns the newly appended rows.
	FetchAndSaveIssueHistory(ctx context.Context, creds schema.Credentials) ([]*schema.IssueHistory, error)

	// FetchRemoteIssues fetches and normalizes issues without persisting them.
	FetchRemoteIssues(ctx context.Context, creds schema.Credentials) ([]*schema.Issue, error)

	// GetIssuesFromStore returns every stored issue ordered by key.
	GetIssuesFromStore(ctx context.Context) ([]*schema.Issue, error)

	// LastResult returns the result of the most recent finished run, or nil.
	LastResult() *Result

	Directory
}

// Directory reads and writes the local store directly, without the remote.
type Directory interface {
	ListUsers(ctx context.Context) ([]*schema.User, error)
	// AddUser upserts u by account id.
	AddUser(ctx context.Context, u *schema.User) (*schema.User, error)

	ListActivityTypes(ctx context.Context) ([]*schema.ActivityType, error)
	// AddActivityType returns the type called name, creating it if absent.
	AddActivityType(ctx context.Context, name string) (*schema.ActivityType, error)

	// ListUserActivities returns the activity of a user; the user must exist.
	ListUserActivities(ctx context.Context, userID string) ([]*schema.UserActivity, error)
	// AddUserActivity records that a user performed an activity of the named type.
	AddUserActivity(ctx context.Context, userID, typeName string) (*schema.UserActivity, error)

	GetUserProfile(ctx context.Context, userID string) (*schema.UserProfile, error)
	// AddUserProfile stores the profile of a user. A user has at most one.
	AddUserProfile(ctx context.Context, p *schema.UserProfile) (*schema.UserProfile, error)

	// ListIssueHistory returns the history of the issue with key, oldest first.
	ListIssueHistory(ctx context.Context, key string) ([]*schema.IssueHistory, error)

	Stats(ctx context.Context) (schema.Stats, error)
}

// Remote is the subset of the remote client a run uses.
type Remote interface {
	Users(ctx context.Context) iter.Seq2[json.RawMessage, error]
	Issues(ctx context.Context) iter.Seq2[json.RawMessage, error]
	Changelog(ctx context.Context, issueKey string) iter.Seq2[json.RawMessage, error]
}

// Store is everything the sync engine reads and writes.
// Both db.DB and memstore.Store implement it.
type Store interface {
	reconcile.UserStore
	reconcile.IssueStore
	activity.Store

	GetUser(ctx context.Context, id string) (*schema.User, error)
	ListUsers(ctx context.Context) ([]*schema.User, error)
	ListIssues(ctx context.Context) ([]*schema.Issue, error)

	InsertIssueHistory(ctx context.Context, h *schema.IssueHistory) error
	ListIssueHistory(ctx context.Context, issueID string) ([]*schema.IssueHistory, error)

	ListActivityTypes(ctx context.Context) ([]*schema.ActivityType, error)
	ListUserActivities(ctx context.Context, userID string) ([]*schema.UserActivity, error)

	GetUserProfile(ctx context.Context, userID string) (*schema.UserProfile, error)
	InsertUserProfile(ctx context.Context, p *schema.UserProfile) error

	Stats(ctx context.Context) (schema.Stats, error)
}
