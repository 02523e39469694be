// Package db provides the embedded SQLite store for jirasync.
//
// The database runs in embedded mode through the ncruces/go-sqlite3 driver
// with WAL enabled, so the CLI, the API server and the daemon can read while
// a sync is writing.
//
// Architecture:
//   - Database file: .jirasync/jirasync.db
//   - WAL mode: concurrent readers during writes
//   - Tables: users, issues, issue_history, activity_types, user_activities, user_profiles
//   - Natural keys (account id, issue key, activity type name) carry UNIQUE
//     constraints; they are the backstop when two syncs race on the same key.
//
// Every write touches a single row. Nothing relies on a transaction spanning
// more than one aggregate.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/steveyegge/jirasync/internal/jira/schema"
)

// DB wraps the SQLite connection pool.
type DB struct {
	conn *sql.DB
	path string
}

// Open creates a new database connection at the specified path.
//
// The caller MUST call Close() when done to ensure proper cleanup.
//
// Example:
//
//	store, err := db.Open(".jirasync/jirasync.db")
//	if err != nil {
//	    return err
//	}
//	defer store.Close()
func Open(path string) (*DB, error) {
	// Ensure parent directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	// busy_timeout and foreign_keys are per connection, so they go in the DSN
	// where the driver applies them to every pooled connection.
	connStr := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)", path)
	conn, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(5 * time.Minute)

	db := &DB{
		conn: conn,
		path: path,
	}

	// Enable WAL mode for concurrent reads
	if _, err := db.conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	return db, nil
}

// Path returns the database file path.
func (db *DB) Path() string { return db.path }

// RawDB returns the underlying sql.DB connection.
func (db *DB) RawDB() *sql.DB {
	return db.conn
}

// Close closes the database connection.
// Performs a WAL checkpoint to ensure all changes are persisted.
func (db *DB) Close() error {
	if db.conn == nil {
		return nil
	}

	if _, err := db.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to checkpoint WAL: %v\n", err)
	}

	if err := db.conn.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}

	db.conn = nil
	return nil
}

// InitSchema creates the database schema if it doesn't exist.
// This is idempotent - safe to call multiple times.
func (db *DB) InitSchema() error {
	return db.InitSchemaContext(context.Background())
}

// InitSchemaContext creates the database schema with context support.
func (db *DB) InitSchemaContext(ctx context.Context) error {
	ddl := `
	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		account_id TEXT NOT NULL UNIQUE,
		display_name TEXT NOT NULL DEFAULT '',
		email TEXT,
		active INTEGER NOT NULL DEFAULT 1,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS issues (
		id TEXT PRIMARY KEY,
		issue_key TEXT NOT NULL UNIQUE,
		external_id TEXT,
		summary TEXT NOT NULL DEFAULT '',
		description TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT '',
		assignee TEXT NOT NULL DEFAULT '',
		remote_updated TEXT,  -- NULL when the remote sent no timestamp
		created_at TEXT NOT NULL,
		synced_at TEXT NOT NULL
	);

	-- Append-only. external_id is set for rows taken from the remote
	-- changelog; NULLs do not collide under UNIQUE.
	CREATE TABLE IF NOT EXISTS issue_history (
		id TEXT PRIMARY KEY,
		issue_id TEXT NOT NULL,
		external_id TEXT UNIQUE,
		field TEXT NOT NULL,
		old_value TEXT,
		new_value TEXT,
		changed_at TEXT NOT NULL,
		changed_by TEXT NOT NULL DEFAULT '',
		FOREIGN KEY (issue_id) REFERENCES issues(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS activity_types (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL UNIQUE
	);

	CREATE TABLE IF NOT EXISTS user_activities (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		activity_type_id TEXT NOT NULL,
		issue_history_id TEXT UNIQUE,
		created_at TEXT NOT NULL,
		FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE,
		FOREIGN KEY (activity_type_id) REFERENCES activity_types(id),
		FOREIGN KEY (issue_history_id) REFERENCES issue_history(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS user_profiles (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL UNIQUE,
		title TEXT NOT NULL DEFAULT '',
		department TEXT NOT NULL DEFAULT '',
		location TEXT NOT NULL DEFAULT '',
		time_zone TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_users_email ON users(email);
	CREATE INDEX IF NOT EXISTS idx_issues_status ON issues(status);
	CREATE INDEX IF NOT EXISTS idx_history_issue ON issue_history(issue_id, changed_at);
	CREATE INDEX IF NOT EXISTS idx_activities_user ON user_activities(user_id, created_at);
	`

	if _, err := db.conn.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	return nil
}

// Stats counts the rows of every entity.
func (db *DB) Stats(ctx context.Context) (schema.Stats, error) {
	var s schema.Stats
	counts := []struct {
		table string
		dst   *int
	}{
		{"users", &s.Users},
		{"issues", &s.Issues},
		{"issue_history", &s.IssueHistory},
		{"activity_types", &s.ActivityTypes},
		{"user_activities", &s.UserActivities},
		{"user_profiles", &s.UserProfiles},
	}
	for _, c := range counts {
		if err := db.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+c.table).Scan(c.dst); err != nil {
			return s, &schema.PersistenceError{Op: "count " + c.table, Err: err}
		}
	}
	return s, nil
}

// timeLayout is fixed width so stored timestamps sort lexicographically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	if t, err := time.Parse(timeLayout, s); err == nil {
		return t
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.UTC()
	}
	return time.Time{}
}

// timeToNullString stores the zero time as NULL.
func timeToNullString(t time.Time) sql.NullString {
	if t.IsZero() {
		return sql.NullString{Valid: false}
	}
	return sql.NullString{String: formatTime(t), Valid: true}
}

func nullStringToTime(ns sql.NullString) time.Time {
	if !ns.Valid {
		return time.Time{}
	}
	return parseTime(ns.String)
}

// toNullString stores the empty string as NULL so UNIQUE columns accept
// any number of unset values.
func toNullString(s string) sql.NullString {
	if strings.TrimSpace(s) == "" {
		return sql.NullString{Valid: false}
	}
	return sql.NullString{String: s, Valid: true}
}

func ptrToNullString(p *string) sql.NullString {
	if p == nil {
		return sql.NullString{Valid: false}
	}
	return sql.NullString{String: *p, Valid: true}
}

func nullStringToPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}
