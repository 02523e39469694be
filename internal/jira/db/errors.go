package db

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/ncruces/go-sqlite3"

	"github.com/steveyegge/jirasync/internal/jira/schema"
)

// writeError classifies a failed write. Unique and primary key violations
// become *schema.ConflictError so reconcilers can retry them; everything
// else, including foreign key violations, is a *schema.PersistenceError.
func writeError(op, entity, key string, err error) error {
	if errors.Is(err, sqlite3.CONSTRAINT_UNIQUE) || errors.Is(err, sqlite3.CONSTRAINT_PRIMARYKEY) {
		return &schema.ConflictError{Entity: entity, Key: key, Err: err}
	}
	return &schema.PersistenceError{Op: op, Err: err}
}

// readError maps sql.ErrNoRows to schema.ErrNotFound.
func readError(op, entity, key string, err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s %q: %w", entity, key, schema.ErrNotFound)
	}
	return &schema.PersistenceError{Op: op, Err: err}
}

// expectOneRow turns an update that matched nothing into schema.ErrNotFound.
func expectOneRow(res sql.Result, entity, key string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return &schema.PersistenceError{Op: "update " + entity, Err: err}
	}
	if n == 0 {
		return fmt.Errorf("%s %q: %w", entity, key, schema.ErrNotFound)
	}
	return nil
}
