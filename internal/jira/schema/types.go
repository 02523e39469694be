package schema

import (
	"fmt"
	"strings"
	"time"
)

// User is a person known to the remote tracker.
type User struct {
	// ===== Identity =====
	ID        string `json:"id"`
	AccountID string `json:"account_id"` // natural key

	// ===== Mutable attributes =====
	DisplayName string `json:"display_name"`
	Email       string `json:"email,omitempty"`
	Active      bool   `json:"active"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Key returns the natural key of the user.
func (u *User) Key() string { return u.AccountID }

// Validate checks that the user carries its natural key.
func (u *User) Validate() error {
	if strings.TrimSpace(u.AccountID) == "" {
		return &ValidationError{Field: "account_id", Reason: "is required"}
	}
	if len(u.DisplayName) > 255 {
		return &ValidationError{Field: "display_name", Reason: fmt.Sprintf("must be 255 characters or less (got %d)", len(u.DisplayName))}
	}
	return nil
}

// Fields is the mutable, tracked portion of an issue.
// A Fields value is always replaced wholesale on re-sync.
type Fields struct {
	Summary     string    `json:"summary"`
	Description string    `json:"description,omitempty"`
	Status      string    `json:"status,omitempty"`
	Assignee    string    `json:"assignee,omitempty"` // account id
	Updated     time.Time `json:"updated"`
}

// Issue is a tracked work item identified by its key.
type Issue struct {
	ID         string `json:"id"`
	Key        string `json:"key"`                   // natural key, e.g. "TEST-1"
	ExternalID string `json:"external_id,omitempty"` // remote numeric id

	Fields Fields `json:"fields"`

	CreatedAt time.Time `json:"created_at"`
	SyncedAt  time.Time `json:"synced_at"`
}

// Validate checks that the issue carries its natural key.
func (i *Issue) Validate() error {
	if strings.TrimSpace(i.Key) == "" {
		return &ValidationError{Field: "key", Reason: "is required"}
	}
	return nil
}

// IssueHistory is one append-only field change of an issue.
// OldValue and NewValue are nil when the field was absent on that side.
type IssueHistory struct {
	ID         string  `json:"id"`
	IssueID    string  `json:"issue_id"`
	ExternalID string  `json:"external_id,omitempty"`
	Field      string  `json:"field"`
	OldValue   *string `json:"old_value"`
	NewValue   *string `json:"new_value"`

	ChangedAt time.Time `json:"changed_at"`
	ChangedBy string    `json:"changed_by"`
}

// Validate checks the references and stamps a history row needs before it is written.
func (h *IssueHistory) Validate() error {
	if h.IssueID == "" {
		return &ValidationError{Field: "issue_id", Reason: "is required"}
	}
	if h.Field == "" {
		return &ValidationError{Field: "field", Reason: "is required"}
	}
	if h.ChangedAt.IsZero() {
		return &ValidationError{Field: "changed_at", Reason: "is required"}
	}
	return nil
}

// ActivityType is one entry of the closed activity taxonomy.
type ActivityType struct {
	ID   string `json:"id"`
	Name string `json:"name"` // natural key
}

// Validate checks that the activity type is named.
func (a *ActivityType) Validate() error {
	if strings.TrimSpace(a.Name) == "" {
		return &ValidationError{Field: "name", Reason: "is required"}
	}
	return nil
}

// UserActivity records that a user performed a kind of change.
type UserActivity struct {
	ID             string    `json:"id"`
	UserID         string    `json:"user_id"`
	ActivityTypeID string    `json:"activity_type_id"`
	IssueHistoryID string    `json:"issue_history_id,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// Validate checks the references of the activity.
func (a *UserActivity) Validate() error {
	if a.UserID == "" {
		return &ValidationError{Field: "user_id", Reason: "is required"}
	}
	if a.ActivityTypeID == "" {
		return &ValidationError{Field: "activity_type_id", Reason: "is required"}
	}
	return nil
}

// UserProfile holds auxiliary attributes of a user.
type UserProfile struct {
	ID         string    `json:"id"`
	UserID     string    `json:"user_id"`
	Title      string    `json:"title,omitempty"`
	Department string    `json:"department,omitempty"`
	Location   string    `json:"location,omitempty"`
	TimeZone   string    `json:"time_zone,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// Validate checks that the profile belongs to a user.
func (p *UserProfile) Validate() error {
	if p.UserID == "" {
		return &ValidationError{Field: "user_id", Reason: "is required"}
	}
	return nil
}

// StringPtr returns a pointer to s, or nil when s is empty.
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// Deref returns the value behind p, or "" for nil.
func Deref(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

// Stats is the number of rows per entity in a store.
type Stats struct {
	Users          int `json:"users"`
	Issues         int `json:"issues"`
	IssueHistory   int `json:"issue_history"`
	ActivityTypes  int `json:"activity_types"`
	UserActivities int `json:"user_activities"`
	UserProfiles   int `json:"user_profiles"`
}
