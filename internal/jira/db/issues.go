package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/steveyegge/jirasync/internal/jira/schema"
)

const issueColumns = `id, issue_key, external_id, summary, description, status, assignee,
	remote_updated, created_at, synced_at`

// GetIssueByKey returns the issue with the given natural key.
func (db *DB) GetIssueByKey(ctx context.Context, key string) (*schema.Issue, error) {
	row := db.conn.QueryRowContext(ctx, `SELECT `+issueColumns+` FROM issues WHERE issue_key = ?`, key)
	i, err := scanIssue(row)
	if err != nil {
		return nil, readError("get issue", "issue", key, err)
	}
	return i, nil
}

// InsertIssue inserts a new issue. A taken key is a *schema.ConflictError.
func (db *DB) InsertIssue(ctx context.Context, i *schema.Issue) error {
	if err := i.Validate(); err != nil {
		return err
	}
	if i.ID == "" {
		i.ID = uuid.NewString()
	}

	_, err := db.conn.ExecContext(ctx, `
	INSERT INTO issues (`+issueColumns+`)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		i.ID,
		i.Key,
		toNullString(i.ExternalID),
		i.Fields.Summary,
		i.Fields.Description,
		i.Fields.Status,
		i.Fields.Assignee,
		timeToNullString(i.Fields.Updated),
		formatTime(i.CreatedAt),
		formatTime(i.SyncedAt),
	)
	if err != nil {
		return writeError(fmt.Sprintf("insert issue %s", i.Key), "issue", i.Key, err)
	}
	return nil
}

// UpdateIssue replaces the fields of an existing issue.
func (db *DB) UpdateIssue(ctx context.Context, i *schema.Issue) error {
	if err := i.Validate(); err != nil {
		return err
	}

	res, err := db.conn.ExecContext(ctx, `
	UPDATE issues SET
		issue_key = ?,
		external_id = ?,
		summary = ?,
		description = ?,
		status = ?,
		assignee = ?,
		remote_updated = ?,
		synced_at = ?
	WHERE id = ?`,
		i.Key,
		toNullString(i.ExternalID),
		i.Fields.Summary,
		i.Fields.Description,
		i.Fields.Status,
		i.Fields.Assignee,
		timeToNullString(i.Fields.Updated),
		formatTime(i.SyncedAt),
		i.ID,
	)
	if err != nil {
		return writeError(fmt.Sprintf("update issue %s", i.Key), "issue", i.Key, err)
	}
	return expectOneRow(res, "issue", i.ID)
}

// ListIssues returns all issues ordered by key.
func (db *DB) ListIssues(ctx context.Context) ([]*schema.Issue, error) {
	return db.queryIssues(ctx, `SELECT `+issueColumns+` FROM issues ORDER BY issue_key`)
}

// ListIssuesUpdatedSince returns issues whose remote timestamp is at or after since.
func (db *DB) ListIssuesUpdatedSince(ctx context.Context, since time.Time) ([]*schema.Issue, error) {
	return db.queryIssues(ctx,
		`SELECT `+issueColumns+` FROM issues WHERE remote_updated >= ? ORDER BY issue_key`,
		formatTime(since))
}

func (db *DB) queryIssues(ctx context.Context, query string, args ...any) ([]*schema.Issue, error) {
	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, &schema.PersistenceError{Op: "list issues", Err: err}
	}
	defer rows.Close()

	var issues []*schema.Issue
	for rows.Next() {
		i, err := scanIssue(rows)
		if err != nil {
			return nil, &schema.PersistenceError{Op: "scan issue", Err: err}
		}
		issues = append(issues, i)
	}
	if err := rows.Err(); err != nil {
		return nil, &schema.PersistenceError{Op: "iterate issues", Err: err}
	}
	return issues, nil
}

func scanIssue(s scanner) (*schema.Issue, error) {
	var i schema.Issue
	var externalID, remoteUpdated sql.NullString
	var createdAt, syncedAt string
	err := s.Scan(
		&i.ID,
		&i.Key,
		&externalID,
		&i.Fields.Summary,
		&i.Fields.Description,
		&i.Fields.Status,
		&i.Fields.Assignee,
		&remoteUpdated,
		&createdAt,
		&syncedAt,
	)
	if err != nil {
		return nil, err
	}
	i.ExternalID = externalID.String
	i.Fields.Updated = nullStringToTime(remoteUpdated)
	i.CreatedAt = parseTime(createdAt)
	i.SyncedAt = parseTime(syncedAt)
	return &i, nil
}
