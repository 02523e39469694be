package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
	"gopkg.in/yaml.v3"

	"github.com/steveyegge/jirasync/internal/jira/schema"
	jirasync "github.com/steveyegge/jirasync/internal/jira/sync"
	"github.com/steveyegge/jirasync/internal/ui"
)

// Output formats accepted by --format.
const (
	formatTable = "table"
	formatJSON  = "json"
	formatYAML  = "yaml"
)

// render writes v in format. Table output comes from table, which is only
// called for the table format.
func render(w io.Writer, format string, v any, table func() string) error {
	switch format {
	case formatTable, "":
		_, err := fmt.Fprintln(w, table())
		return err
	case formatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case formatYAML:
		// Round trip through JSON so YAML keys match the JSON field names.
		data, err := json.Marshal(v)
		if err != nil {
			return err
		}
		var doc any
		if err := json.Unmarshal(data, &doc); err != nil {
			return err
		}
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(doc); err != nil {
			return err
		}
		return enc.Close()
	default:
		return &schema.ValidationError{Field: "format", Reason: fmt.Sprintf("must be %s, %s or %s (got %q)", formatTable, formatJSON, formatYAML, format)}
	}
}

func issuesTable(issues []*schema.Issue) string {
	rows := make([][]string, 0, len(issues))
	for _, i := range issues {
		rows = append(rows, []string{
			i.Key,
			ui.Truncate(i.Fields.Summary, 50),
			i.Fields.Status,
			i.Fields.Assignee,
			formatStamp(i.Fields.Updated),
		})
	}
	return ui.Table([]string{"KEY", "SUMMARY", "STATUS", "ASSIGNEE", "UPDATED"}, rows)
}

func usersTable(users []*schema.User) string {
	rows := make([][]string, 0, len(users))
	for _, u := range users {
		active := "yes"
		if !u.Active {
			active = "no"
		}
		rows = append(rows, []string{u.AccountID, u.DisplayName, u.Email, active})
	}
	return ui.Table([]string{"ACCOUNT", "NAME", "EMAIL", "ACTIVE"}, rows)
}

func historyTable(rows []*schema.IssueHistory) string {
	out := make([][]string, 0, len(rows))
	for _, h := range rows {
		out = append(out, []string{
			formatStamp(h.ChangedAt),
			h.Field,
			ui.Truncate(schema.Deref(h.OldValue), 30),
			ui.Truncate(schema.Deref(h.NewValue), 30),
			h.ChangedBy,
		})
	}
	return ui.Table([]string{"CHANGED", "FIELD", "FROM", "TO", "BY"}, out)
}

func resultFields(res *jirasync.Result) string {
	return ui.Fields(
		ui.Field{Key: "Users", Value: fmt.Sprintf("%d (%d new, %d updated)", res.UsersProcessed, res.UsersCreated, res.UsersUpdated)},
		ui.Field{Key: "Issues", Value: fmt.Sprintf("%d (%d new, %d updated, %d stale)", res.IssuesProcessed, res.IssuesCreated, res.IssuesUpdated, res.StaleSkipped)},
		ui.Field{Key: "History rows", Value: res.HistoryRecorded},
		ui.Field{Key: "Activities", Value: res.ActivitiesDerived},
		ui.Field{Key: "Skipped", Value: res.MalformedSkipped},
		ui.Field{Key: "Duration", Value: res.Duration.Round(time.Millisecond)},
	)
}

func statsFields(stats schema.Stats) string {
	return ui.Fields(
		ui.Field{Key: "Users", Value: stats.Users},
		ui.Field{Key: "Issues", Value: stats.Issues},
		ui.Field{Key: "History rows", Value: stats.IssueHistory},
		ui.Field{Key: "Activity types", Value: stats.ActivityTypes},
		ui.Field{Key: "Activities", Value: stats.UserActivities},
		ui.Field{Key: "Profiles", Value: stats.UserProfiles},
	)
}

func formatStamp(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04")
}

// parseSince reads a point in time such as "2024-03-01", an RFC 3339
// timestamp or "2 days ago", relative to now.
func parseSince(text string, now time.Time) (time.Time, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return time.Time{}, &schema.ValidationError{Field: "since", Reason: "is empty"}
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02 15:04", "2006-01-02"} {
		if t, err := time.ParseInLocation(layout, text, now.Location()); err == nil {
			return t, nil
		}
	}

	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)
	r, err := w.Parse(text, now)
	if err != nil {
		return time.Time{}, &schema.ValidationError{Field: "since", Reason: err.Error()}
	}
	if r == nil {
		return time.Time{}, &schema.ValidationError{Field: "since", Reason: fmt.Sprintf("cannot understand %q", text)}
	}
	return r.Time, nil
}
