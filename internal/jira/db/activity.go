package db

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/steveyegge/jirasync/internal/jira/schema"
)

// GetActivityTypeByName returns the activity type with the given name.
func (db *DB) GetActivityTypeByName(ctx context.Context, name string) (*schema.ActivityType, error) {
	var t schema.ActivityType
	err := db.conn.QueryRowContext(ctx, `SELECT id, name FROM activity_types WHERE name = ?`, name).Scan(&t.ID, &t.Name)
	if err != nil {
		return nil, readError("get activity type", "activity type", name, err)
	}
	return &t, nil
}

// InsertActivityType inserts a new activity type. A taken name is a *schema.ConflictError.
func (db *DB) InsertActivityType(ctx context.Context, t *schema.ActivityType) error {
	if err := t.Validate(); err != nil {
		return err
	}
	if t.ID == "" {
		t.ID = uuid.NewString()
	}

	if _, err := db.conn.ExecContext(ctx, `INSERT INTO activity_types (id, name) VALUES (?, ?)`, t.ID, t.Name); err != nil {
		return writeError(fmt.Sprintf("insert activity type %q", t.Name), "activity type", t.Name, err)
	}
	return nil
}

// ListActivityTypes returns all activity types ordered by name.
func (db *DB) ListActivityTypes(ctx context.Context) ([]*schema.ActivityType, error) {
	rows, err := db.conn.QueryContext(ctx, `SELECT id, name FROM activity_types ORDER BY name`)
	if err != nil {
		return nil, &schema.PersistenceError{Op: "list activity types", Err: err}
	}
	defer rows.Close()

	var out []*schema.ActivityType
	for rows.Next() {
		var t schema.ActivityType
		if err := rows.Scan(&t.ID, &t.Name); err != nil {
			return nil, &schema.PersistenceError{Op: "scan activity type", Err: err}
		}
		out = append(out, &t)
	}
	if err := rows.Err(); err != nil {
		return nil, &schema.PersistenceError{Op: "iterate activity types", Err: err}
	}
	return out, nil
}

// InsertUserActivity inserts one activity. Its user and type must exist; a
// second activity for the same history row is a *schema.ConflictError.
func (db *DB) InsertUserActivity(ctx context.Context, a *schema.UserActivity) error {
	if err := a.Validate(); err != nil {
		return err
	}
	if a.ID == "" {
		a.ID = uuid.NewString()
	}

	_, err := db.conn.ExecContext(ctx, `
	INSERT INTO user_activities (id, user_id, activity_type_id, issue_history_id, created_at)
	VALUES (?, ?, ?, ?, ?)`,
		a.ID,
		a.UserID,
		a.ActivityTypeID,
		toNullString(a.IssueHistoryID),
		formatTime(a.CreatedAt),
	)
	if err != nil {
		key := a.IssueHistoryID
		if key == "" {
			key = a.ID
		}
		return writeError(fmt.Sprintf("insert activity for user %s", a.UserID), "user activity", key, err)
	}
	return nil
}

// ListUserActivities returns the activities of one user, oldest first.
func (db *DB) ListUserActivities(ctx context.Context, userID string) ([]*schema.UserActivity, error) {
	rows, err := db.conn.QueryContext(ctx, `
	SELECT id, user_id, activity_type_id, issue_history_id, created_at
	FROM user_activities WHERE user_id = ? ORDER BY created_at, rowid`, userID)
	if err != nil {
		return nil, &schema.PersistenceError{Op: "list user activities", Err: err}
	}
	defer rows.Close()

	var out []*schema.UserActivity
	for rows.Next() {
		var a schema.UserActivity
		var historyID sql.NullString
		var createdAt string
		if err := rows.Scan(&a.ID, &a.UserID, &a.ActivityTypeID, &historyID, &createdAt); err != nil {
			return nil, &schema.PersistenceError{Op: "scan user activity", Err: err}
		}
		a.IssueHistoryID = historyID.String
		a.CreatedAt = parseTime(createdAt)
		out = append(out, &a)
	}
	if err := rows.Err(); err != nil {
		return nil, &schema.PersistenceError{Op: "iterate user activities", Err: err}
	}
	return out, nil
}

// GetUserProfile returns the profile of a user.
func (db *DB) GetUserProfile(ctx context.Context, userID string) (*schema.UserProfile, error) {
	var p schema.UserProfile
	var createdAt string
	err := db.conn.QueryRowContext(ctx, `
	SELECT id, user_id, title, department, location, time_zone, created_at
	FROM user_profiles WHERE user_id = ?`, userID).
		Scan(&p.ID, &p.UserID, &p.Title, &p.Department, &p.Location, &p.TimeZone, &createdAt)
	if err != nil {
		return nil, readError("get user profile", "user profile", userID, err)
	}
	p.CreatedAt = parseTime(createdAt)
	return &p, nil
}

// InsertUserProfile inserts the profile of an existing user. A user has at
// most one profile; a second is a *schema.ConflictError.
func (db *DB) InsertUserProfile(ctx context.Context, p *schema.UserProfile) error {
	if err := p.Validate(); err != nil {
		return err
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}

	_, err := db.conn.ExecContext(ctx, `
	INSERT INTO user_profiles (id, user_id, title, department, location, time_zone, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.UserID, p.Title, p.Department, p.Location, p.TimeZone, formatTime(p.CreatedAt),
	)
	if err != nil {
		return writeError(fmt.Sprintf("insert profile for user %s", p.UserID), "user profile", p.UserID, err)
	}
	return nil
}
