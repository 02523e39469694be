package reconcile

import (
	"context"
	"time"

	"github.com/steveyegge/jirasync/internal/jira/schema"
)

// UserStore is the store capability behind user reconciliation.
type UserStore interface {
	GetUserByAccountID(ctx context.Context, accountID string) (*schema.User, error)
	InsertUser(ctx context.Context, u *schema.User) error
	UpdateUser(ctx context.Context, u *schema.User) error
}

// IssueStore is the store capability behind issue reconciliation.
type IssueStore interface {
	GetIssueByKey(ctx context.Context, key string) (*schema.Issue, error)
	InsertIssue(ctx context.Context, i *schema.Issue) error
	UpdateIssue(ctx context.Context, i *schema.Issue) error
}

// ActivityTypeStore is the store capability behind activity type lookup-or-create.
type ActivityTypeStore interface {
	GetActivityTypeByName(ctx context.Context, name string) (*schema.ActivityType, error)
	InsertActivityType(ctx context.Context, t *schema.ActivityType) error
}

// Users returns a reconciler keyed by account id.
func Users(s UserStore) *Reconciler[*schema.User] {
	return New(Options[*schema.User]{
		Entity: "user",
		Table: TableFuncs[*schema.User]{
			LookupFunc: s.GetUserByAccountID,
			InsertFunc: s.InsertUser,
			UpdateFunc: s.UpdateUser,
		},
		Merge: MergeUser,
		Prepare: func(u *schema.User, id string, now time.Time) {
			u.ID = id
			u.CreatedAt = now
			u.UpdatedAt = now
		},
	})
}

// Issues returns a reconciler keyed by issue key.
func Issues(s IssueStore) *Reconciler[*schema.Issue] {
	return New(Options[*schema.Issue]{
		Entity: "issue",
		Table: TableFuncs[*schema.Issue]{
			LookupFunc: s.GetIssueByKey,
			InsertFunc: s.InsertIssue,
			UpdateFunc: s.UpdateIssue,
		},
		Merge: MergeIssue,
		Prepare: func(i *schema.Issue, id string, now time.Time) {
			i.ID = id
			i.CreatedAt = now
			i.SyncedAt = now
		},
	})
}

// ActivityTypes returns a lookup-or-create reconciler keyed by name.
func ActivityTypes(s ActivityTypeStore) *Reconciler[*schema.ActivityType] {
	return New(Options[*schema.ActivityType]{
		Entity: "activity type",
		Table: TableFuncs[*schema.ActivityType]{
			LookupFunc: s.GetActivityTypeByName,
			InsertFunc: s.InsertActivityType,
			// Activity types carry nothing mutable, so merges never update.
			UpdateFunc: func(context.Context, *schema.ActivityType) error { return nil },
		},
		Merge: func(existing, _ *schema.ActivityType, _ time.Time) (*schema.ActivityType, Outcome) {
			return existing, Unchanged
		},
		Prepare: func(t *schema.ActivityType, id string, _ time.Time) {
			t.ID = id
		},
	})
}

// MergeUser copies display name, email and active flag onto existing.
func MergeUser(existing, incoming *schema.User, now time.Time) (*schema.User, Outcome) {
	if existing.DisplayName == incoming.DisplayName &&
		existing.Email == incoming.Email &&
		existing.Active == incoming.Active {
		return existing, Unchanged
	}

	merged := *existing
	merged.DisplayName = incoming.DisplayName
	merged.Email = incoming.Email
	merged.Active = incoming.Active
	merged.UpdatedAt = now
	return &merged, Updated
}

// MergeIssue replaces the tracked fields of existing with incoming.
//
// An incoming value whose Updated timestamp is strictly older than the stored
// one is stale and leaves the row untouched. Missing timestamps on either side
// never make a value stale, and an incoming value without one keeps the
// stored timestamp.
func MergeIssue(existing, incoming *schema.Issue, now time.Time) (*schema.Issue, Outcome) {
	fields := incoming.Fields
	if fields.Updated.IsZero() {
		fields.Updated = existing.Fields.Updated
	} else if !existing.Fields.Updated.IsZero() && fields.Updated.Before(existing.Fields.Updated) {
		return existing, Stale
	}

	externalID := existing.ExternalID
	if incoming.ExternalID != "" {
		externalID = incoming.ExternalID
	}

	if fieldsEqual(existing.Fields, fields) && externalID == existing.ExternalID {
		return existing, Unchanged
	}

	merged := *existing
	merged.ExternalID = externalID
	merged.Fields = fields
	merged.SyncedAt = now
	return &merged, Updated
}

func fieldsEqual(a, b schema.Fields) bool {
	return a.Summary == b.Summary &&
		a.Description == b.Description &&
		a.Status == b.Status &&
		a.Assignee == b.Assignee &&
		a.Updated.Equal(b.Updated)
}
