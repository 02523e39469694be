// Package history computes field-level changes of issues.
//
// Diff compares two snapshots of an issue's tracked fields; FromChangelog
// converts the remote tracker's own change log. Both are pure. Rows turns
// changes into IssueHistory rows ready to append.
package history

import (
	"strconv"
	"time"

	"github.com/steveyegge/jirasync/internal/jira/schema"
)

// Tracked field names, in diff order.
const (
	FieldSummary     = "summary"
	FieldDescription = "description"
	FieldStatus      = "status"
	FieldAssignee    = "assignee"
)

// Tracked lists the fields compared by Diff.
var Tracked = []string{FieldSummary, FieldDescription, FieldStatus, FieldAssignee}

// FieldChange is one field moving from Old to New. Absent values are nil.
type FieldChange struct {
	Field string
	Old   *string
	New   *string

	// Set for changes taken from the remote changelog.
	ExternalID string
	ChangedAt  time.Time
	ChangedBy  string
}

// Diff returns one change per tracked field whose value differs between prev
// and next. An empty value counts as absent, so empty and absent never differ.
func Diff(prev, next schema.Fields) []FieldChange {
	var changes []FieldChange
	for _, field := range Tracked {
		oldValue, newValue := value(prev, field), value(next, field)
		if oldValue == newValue {
			continue
		}
		changes = append(changes, FieldChange{
			Field: field,
			Old:   schema.StringPtr(oldValue),
			New:   schema.StringPtr(newValue),
		})
	}
	return changes
}

func value(f schema.Fields, field string) string {
	switch field {
	case FieldSummary:
		return f.Summary
	case FieldDescription:
		return f.Description
	case FieldStatus:
		return f.Status
	case FieldAssignee:
		return f.Assignee
	default:
		return ""
	}
}

// FromChangelog converts every item of a changelog entry, tracked or not.
// Each change keeps the entry's author and timestamp and gets a stable
// external id of the form "<entry id>:<item index>".
func FromChangelog(entry *schema.ChangelogEntry) []FieldChange {
	changes := make([]FieldChange, 0, len(entry.Items))
	for i, item := range entry.Items {
		changes = append(changes, FieldChange{
			Field:      item.Field,
			Old:        item.From,
			New:        item.To,
			ExternalID: externalID(entry.ID, i),
			ChangedAt:  entry.Created,
			ChangedBy:  entry.Author(),
		})
	}
	return changes
}

func externalID(entryID string, index int) string {
	return entryID + ":" + strconv.Itoa(index)
}

// Rows stamps changes as history rows of issueID. Changes without their own
// author or timestamp get changedBy and now.
func Rows(issueID string, changes []FieldChange, changedBy string, now time.Time) []*schema.IssueHistory {
	rows := make([]*schema.IssueHistory, 0, len(changes))
	for _, c := range changes {
		row := &schema.IssueHistory{
			IssueID:    issueID,
			ExternalID: c.ExternalID,
			Field:      c.Field,
			OldValue:   c.Old,
			NewValue:   c.New,
			ChangedAt:  c.ChangedAt,
			ChangedBy:  c.ChangedBy,
		}
		if row.ChangedAt.IsZero() {
			row.ChangedAt = now
		}
		if row.ChangedBy == "" {
			row.ChangedBy = changedBy
		}
		rows = append(rows, row)
	}
	return rows
}
