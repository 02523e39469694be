// Package activity derives user activity from issue history.
//
// Each history row whose field belongs to the activity taxonomy becomes one
// UserActivity linking the changer's User to the matching ActivityType.
// Activity types are looked up by name and created on first use.
package activity

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/steveyegge/jirasync/internal/jira/reconcile"
	"github.com/steveyegge/jirasync/internal/jira/schema"
)

// Activity type names.
const (
	TypeAssignedIssue      = "Assigned Issue"
	TypeUpdatedDescription = "Updated Description"
	TypeUpdatedSummary     = "Updated Summary"
	TypeChangedStatus      = "Changed Status"
	TypeChangedPriority    = "Changed Priority"
	TypeUpdatedLabels      = "Updated Labels"
	TypeCommentedOnIssue   = "Commented On Issue"
)

// taxonomy maps lower-cased field names to activity type names.
var taxonomy = map[string]string{
	"assignee":    TypeAssignedIssue,
	"description": TypeUpdatedDescription,
	"summary":     TypeUpdatedSummary,
	"status":      TypeChangedStatus,
	"priority":    TypeChangedPriority,
	"labels":      TypeUpdatedLabels,
	"comment":     TypeCommentedOnIssue,
}

// TypeFor returns the activity type for a changed field, matched case-insensitively.
func TypeFor(field string) (string, bool) {
	name, ok := taxonomy[strings.ToLower(strings.TrimSpace(field))]
	return name, ok
}

// Store is the store capability the deriver needs.
type Store interface {
	reconcile.ActivityTypeStore
	GetUserByAccountID(ctx context.Context, accountID string) (*schema.User, error)
	GetUserByEmail(ctx context.Context, email string) (*schema.User, error)
	InsertUserActivity(ctx context.Context, a *schema.UserActivity) error
}

// Summary counts what a Derive call did.
type Summary struct {
	// Derived is the number of new UserActivity rows.
	Derived int
	// Unmapped is the number of rows whose field has no activity type.
	Unmapped int
	// UnknownChanger is the number of rows whose changer is not a known user.
	UnknownChanger int
	// Existing is the number of rows that already had their activity.
	Existing int
}

// Deriver turns history rows into user activity. A Deriver caches activity
// types and is not safe for concurrent use.
type Deriver struct {
	store  Store
	types  *reconcile.Reconciler[*schema.ActivityType]
	cache  map[string]*schema.ActivityType
	logger *log.Logger
}

// New creates a deriver. If logger is nil, logs to stderr.
func New(store Store, logger *log.Logger) *Deriver {
	if logger == nil {
		logger = log.New(os.Stderr, "[activity] ", log.LstdFlags)
	}
	return &Deriver{
		store:  store,
		types:  reconcile.ActivityTypes(store),
		cache:  make(map[string]*schema.ActivityType),
		logger: logger,
	}
}

// Derive creates the activity for each row. Rows must already be persisted.
// Calling Derive again with the same rows creates nothing new.
func (d *Deriver) Derive(ctx context.Context, rows []*schema.IssueHistory) ([]*schema.UserActivity, Summary, error) {
	var (
		created []*schema.UserActivity
		sum     Summary
	)

	for _, row := range rows {
		if err := ctx.Err(); err != nil {
			return created, sum, err
		}

		typeName, ok := TypeFor(row.Field)
		if !ok {
			sum.Unmapped++
			continue
		}

		user, err := d.resolveUser(ctx, row.ChangedBy)
		if errors.Is(err, schema.ErrNotFound) {
			sum.UnknownChanger++
			continue
		}
		if err != nil {
			return created, sum, err
		}

		typ, err := d.ActivityType(ctx, typeName)
		if err != nil {
			return created, sum, err
		}

		act := &schema.UserActivity{
			ID:             uuid.NewString(),
			UserID:         user.ID,
			ActivityTypeID: typ.ID,
			IssueHistoryID: row.ID,
			CreatedAt:      row.ChangedAt,
		}
		if act.CreatedAt.IsZero() {
			act.CreatedAt = time.Now().UTC()
		}

		if err := d.store.InsertUserActivity(ctx, act); err != nil {
			if errors.Is(err, schema.ErrConflict) {
				sum.Existing++
				continue
			}
			return created, sum, &schema.PersistenceError{Op: fmt.Sprintf("insert activity for history %s", row.ID), Err: err}
		}

		created = append(created, act)
		sum.Derived++
	}

	if sum.UnknownChanger > 0 {
		d.logger.Printf("WARNING: %d history rows have a changer that is not a known user", sum.UnknownChanger)
	}
	return created, sum, nil
}

// ActivityType looks up the type called name, creating it if absent.
func (d *Deriver) ActivityType(ctx context.Context, name string) (*schema.ActivityType, error) {
	if typ, ok := d.cache[name]; ok {
		return typ, nil
	}
	change, err := d.types.Reconcile(ctx, name, &schema.ActivityType{Name: name})
	if err != nil {
		return nil, err
	}
	d.cache[name] = change.Current
	return change.Current, nil
}

// resolveUser matches a changer by account id, then by email.
func (d *Deriver) resolveUser(ctx context.Context, changer string) (*schema.User, error) {
	changer = strings.TrimSpace(changer)
	if changer == "" {
		return nil, schema.ErrNotFound
	}

	u, err := d.store.GetUserByAccountID(ctx, changer)
	if err == nil || !errors.Is(err, schema.ErrNotFound) {
		return u, wrapLookup(changer, err)
	}

	if !strings.Contains(changer, "@") {
		return nil, err
	}
	u, err = d.store.GetUserByEmail(ctx, changer)
	return u, wrapLookup(changer, err)
}

func wrapLookup(changer string, err error) error {
	if err == nil || errors.Is(err, schema.ErrNotFound) || errors.Is(err, schema.ErrPersistence) {
		return err
	}
	return &schema.PersistenceError{Op: fmt.Sprintf("look up user %q", changer), Err: err}
}
