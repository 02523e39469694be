package db

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/steveyegge/jirasync/internal/jira/schema"
)

const userColumns = `id, account_id, display_name, email, active, created_at, updated_at`

// GetUser returns the user with surrogate id.
func (db *DB) GetUser(ctx context.Context, id string) (*schema.User, error) {
	row := db.conn.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id)
	u, err := scanUser(row)
	if err != nil {
		return nil, readError("get user", "user", id, err)
	}
	return u, nil
}

// GetUserByAccountID returns the user with the given natural key.
func (db *DB) GetUserByAccountID(ctx context.Context, accountID string) (*schema.User, error) {
	row := db.conn.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE account_id = ?`, accountID)
	u, err := scanUser(row)
	if err != nil {
		return nil, readError("get user by account id", "user", accountID, err)
	}
	return u, nil
}

// GetUserByEmail returns the first user, by account id, with that email.
func (db *DB) GetUserByEmail(ctx context.Context, email string) (*schema.User, error) {
	row := db.conn.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE email = ? ORDER BY account_id LIMIT 1`, email)
	u, err := scanUser(row)
	if err != nil {
		return nil, readError("get user by email", "user", email, err)
	}
	return u, nil
}

// InsertUser inserts a new user. A taken account id is a *schema.ConflictError.
func (db *DB) InsertUser(ctx context.Context, u *schema.User) error {
	if err := u.Validate(); err != nil {
		return err
	}
	if u.ID == "" {
		u.ID = uuid.NewString()
	}

	_, err := db.conn.ExecContext(ctx, `
	INSERT INTO users (`+userColumns+`)
	VALUES (?, ?, ?, ?, ?, ?, ?)`,
		u.ID,
		u.AccountID,
		u.DisplayName,
		toNullString(u.Email),
		u.Active,
		formatTime(u.CreatedAt),
		formatTime(u.UpdatedAt),
	)
	if err != nil {
		return writeError(fmt.Sprintf("insert user %s", u.AccountID), "user", u.AccountID, err)
	}
	return nil
}

// UpdateUser rewrites the mutable columns of an existing user.
func (db *DB) UpdateUser(ctx context.Context, u *schema.User) error {
	if err := u.Validate(); err != nil {
		return err
	}

	res, err := db.conn.ExecContext(ctx, `
	UPDATE users SET
		account_id = ?,
		display_name = ?,
		email = ?,
		active = ?,
		updated_at = ?
	WHERE id = ?`,
		u.AccountID,
		u.DisplayName,
		toNullString(u.Email),
		u.Active,
		formatTime(u.UpdatedAt),
		u.ID,
	)
	if err != nil {
		return writeError(fmt.Sprintf("update user %s", u.AccountID), "user", u.AccountID, err)
	}
	return expectOneRow(res, "user", u.ID)
}

// ListUsers returns all users ordered by account id.
func (db *DB) ListUsers(ctx context.Context) ([]*schema.User, error) {
	rows, err := db.conn.QueryContext(ctx, `SELECT `+userColumns+` FROM users ORDER BY account_id`)
	if err != nil {
		return nil, &schema.PersistenceError{Op: "list users", Err: err}
	}
	defer rows.Close()

	var users []*schema.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, &schema.PersistenceError{Op: "scan user", Err: err}
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, &schema.PersistenceError{Op: "iterate users", Err: err}
	}
	return users, nil
}

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanUser(s scanner) (*schema.User, error) {
	var u schema.User
	var email sql.NullString
	var createdAt, updatedAt string
	if err := s.Scan(&u.ID, &u.AccountID, &u.DisplayName, &email, &u.Active, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	u.Email = email.String
	u.CreatedAt = parseTime(createdAt)
	u.UpdatedAt = parseTime(updatedAt)
	return &u, nil
}
