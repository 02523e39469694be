package history

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/steveyegge/jirasync/internal/jira/schema"
)

func TestDiffStatusChange(t *testing.T) {
	prev := schema.Fields{Summary: "Test issue", Status: "Open"}
	next := schema.Fields{Summary: "Test issue", Status: "In Progress"}

	got := Diff(prev, next)
	want := []FieldChange{{Field: "status", Old: schema.StringPtr("Open"), New: schema.StringPtr("In Progress")}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Diff() mismatch (-want +got):\n%s", diff)
	}
}

func TestDiffIdenticalFields(t *testing.T) {
	f := schema.Fields{Summary: "Test issue", Description: "d", Status: "Open", Assignee: "acc-1"}
	if got := Diff(f, f); len(got) != 0 {
		t.Errorf("Diff() of identical fields = %v, want none", got)
	}
}

func TestDiffAbsentAndPresent(t *testing.T) {
	tests := []struct {
		name string
		prev schema.Fields
		next schema.Fields
		want []FieldChange
	}{
		{
			name: "absent to present",
			prev: schema.Fields{Summary: "s"},
			next: schema.Fields{Summary: "s", Assignee: "acc-1"},
			want: []FieldChange{{Field: "assignee", New: schema.StringPtr("acc-1")}},
		},
		{
			name: "present to absent",
			prev: schema.Fields{Summary: "s", Description: "text"},
			next: schema.Fields{Summary: "s"},
			want: []FieldChange{{Field: "description", Old: schema.StringPtr("text")}},
		},
		{
			name: "several fields in tracked order",
			prev: schema.Fields{Summary: "a", Status: "Open"},
			next: schema.Fields{Summary: "b", Status: "Done"},
			want: []FieldChange{
				{Field: "summary", Old: schema.StringPtr("a"), New: schema.StringPtr("b")},
				{Field: "status", Old: schema.StringPtr("Open"), New: schema.StringPtr("Done")},
			},
		},
		{
			name: "timestamp only",
			prev: schema.Fields{Summary: "s", Updated: time.Unix(1, 0)},
			next: schema.Fields{Summary: "s", Updated: time.Unix(2, 0)},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if diff := cmp.Diff(tt.want, Diff(tt.prev, tt.next)); diff != "" {
				t.Errorf("Diff() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestFromChangelogAndRows(t *testing.T) {
	created := time.Date(2024, 3, 2, 9, 0, 0, 0, time.UTC)
	entry := &schema.ChangelogEntry{
		ID:              "100",
		AuthorAccountID: "acc-1",
		Created:         created,
		Items: []schema.ChangelogItem{
			{Field: "status", From: schema.StringPtr("To Do"), To: schema.StringPtr("In Progress")},
			{Field: "labels", To: schema.StringPtr("backend")},
		},
	}

	now := created.Add(time.Hour)
	rows := Rows("issue-1", FromChangelog(entry), "sync@example.com", now)

	want := []*schema.IssueHistory{
		{
			IssueID:    "issue-1",
			ExternalID: "100:0",
			Field:      "status",
			OldValue:   schema.StringPtr("To Do"),
			NewValue:   schema.StringPtr("In Progress"),
			ChangedAt:  created,
			ChangedBy:  "acc-1",
		},
		{
			IssueID:    "issue-1",
			ExternalID: "100:1",
			Field:      "labels",
			NewValue:   schema.StringPtr("backend"),
			ChangedAt:  created,
			ChangedBy:  "acc-1",
		},
	}
	if diff := cmp.Diff(want, rows); diff != "" {
		t.Errorf("Rows() mismatch (-want +got):\n%s", diff)
	}
}

func TestRowsStampsDiffChanges(t *testing.T) {
	now := time.Date(2024, 3, 2, 9, 0, 0, 0, time.UTC)
	changes := Diff(schema.Fields{Status: "Open"}, schema.Fields{Status: "Done"})

	rows := Rows("issue-1", changes, "sync@example.com", now)
	if len(rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(rows))
	}
	if !rows[0].ChangedAt.Equal(now) || rows[0].ChangedBy != "sync@example.com" {
		t.Errorf("row = %+v, want stamped with now and changer", rows[0])
	}
	if rows[0].ExternalID != "" {
		t.Errorf("diff rows must not carry an external id, got %q", rows[0].ExternalID)
	}
}
