package db

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/steveyegge/jirasync/internal/jira/schema"
)

const historyColumns = `id, issue_id, external_id, field, old_value, new_value, changed_at, changed_by`

// InsertIssueHistory appends one history row. The owning issue must exist.
// A repeated external id is a *schema.ConflictError.
func (db *DB) InsertIssueHistory(ctx context.Context, h *schema.IssueHistory) error {
	if err := h.Validate(); err != nil {
		return err
	}
	if h.ID == "" {
		h.ID = uuid.NewString()
	}

	_, err := db.conn.ExecContext(ctx, `
	INSERT INTO issue_history (`+historyColumns+`)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		h.ID,
		h.IssueID,
		toNullString(h.ExternalID),
		h.Field,
		ptrToNullString(h.OldValue),
		ptrToNullString(h.NewValue),
		formatTime(h.ChangedAt),
		h.ChangedBy,
	)
	if err != nil {
		key := h.ExternalID
		if key == "" {
			key = h.ID
		}
		return writeError(fmt.Sprintf("insert history for issue %s", h.IssueID), "issue history", key, err)
	}
	return nil
}

// ListIssueHistory returns the history of one issue, oldest change first.
func (db *DB) ListIssueHistory(ctx context.Context, issueID string) ([]*schema.IssueHistory, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT `+historyColumns+` FROM issue_history WHERE issue_id = ? ORDER BY changed_at, rowid`, issueID)
	if err != nil {
		return nil, &schema.PersistenceError{Op: "list issue history", Err: err}
	}
	defer rows.Close()

	var out []*schema.IssueHistory
	for rows.Next() {
		var h schema.IssueHistory
		var externalID, oldValue, newValue sql.NullString
		var changedAt string
		if err := rows.Scan(&h.ID, &h.IssueID, &externalID, &h.Field, &oldValue, &newValue, &changedAt, &h.ChangedBy); err != nil {
			return nil, &schema.PersistenceError{Op: "scan issue history", Err: err}
		}
		h.ExternalID = externalID.String
		h.OldValue = nullStringToPtr(oldValue)
		h.NewValue = nullStringToPtr(newValue)
		h.ChangedAt = parseTime(changedAt)
		out = append(out, &h)
	}
	if err := rows.Err(); err != nil {
		return nil, &schema.PersistenceError{Op: "iterate issue history", Err: err}
	}
	return out, nil
}
