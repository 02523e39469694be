// Package export writes a JSONL snapshot of the store, one file per entity.
package export

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/steveyegge/jirasync/internal/jira/schema"
)

// File names inside the export directory.
const (
	UsersFile          = "users.jsonl"
	IssuesFile         = "issues.jsonl"
	HistoryFile        = "issue_history.jsonl"
	ActivityTypesFile  = "activity_types.jsonl"
	UserActivitiesFile = "user_activities.jsonl"
	UserProfilesFile   = "user_profiles.jsonl"
)

// Source is the read side of a store.
type Source interface {
	ListUsers(ctx context.Context) ([]*schema.User, error)
	ListIssues(ctx context.Context) ([]*schema.Issue, error)
	ListIssueHistory(ctx context.Context, issueID string) ([]*schema.IssueHistory, error)
	ListActivityTypes(ctx context.Context) ([]*schema.ActivityType, error)
	ListUserActivities(ctx context.Context, userID string) ([]*schema.UserActivity, error)
	GetUserProfile(ctx context.Context, userID string) (*schema.UserProfile, error)
}

// Options contains configuration for an export.
type Options struct {
	Dir    string // Output directory
	DryRun bool   // Count rows without writing
}

// Result contains statistics about the export.
type Result struct {
	schema.Stats
	Files []string `json:"files,omitempty"`
}

// Export reads every entity from src and writes it to opts.Dir.
// Each file is written to a temp file first and renamed into place.
func Export(ctx context.Context, src Source, opts Options) (*Result, error) {
	if !opts.DryRun && opts.Dir == "" {
		return nil, &schema.ValidationError{Field: "dir", Reason: "is required"}
	}
	res := &Result{}

	users, err := src.ListUsers(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	issues, err := src.ListIssues(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list issues: %w", err)
	}
	types, err := src.ListActivityTypes(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list activity types: %w", err)
	}

	var (
		history    []*schema.IssueHistory
		activities []*schema.UserActivity
		profiles   []*schema.UserProfile
	)
	for _, issue := range issues {
		rows, err := src.ListIssueHistory(ctx, issue.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to list history of %s: %w", issue.Key, err)
		}
		history = append(history, rows...)
	}
	for _, u := range users {
		acts, err := src.ListUserActivities(ctx, u.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to list activities of %s: %w", u.AccountID, err)
		}
		activities = append(activities, acts...)

		p, err := src.GetUserProfile(ctx, u.ID)
		switch {
		case errors.Is(err, schema.ErrNotFound):
		case err != nil:
			return nil, fmt.Errorf("failed to read profile of %s: %w", u.AccountID, err)
		default:
			profiles = append(profiles, p)
		}
	}

	res.Users = len(users)
	res.Issues = len(issues)
	res.IssueHistory = len(history)
	res.ActivityTypes = len(types)
	res.UserActivities = len(activities)
	res.UserProfiles = len(profiles)
	if opts.DryRun {
		return res, nil
	}

	files := []struct {
		name   string
		encode func(*json.Encoder) error
	}{
		{UsersFile, lines(users)},
		{IssuesFile, lines(issues)},
		{HistoryFile, lines(history)},
		{ActivityTypesFile, lines(types)},
		{UserActivitiesFile, lines(activities)},
		{UserProfilesFile, lines(profiles)},
	}
	for _, f := range files {
		path := filepath.Join(opts.Dir, f.name)
		if err := writeFile(path, f.encode); err != nil {
			return res, err
		}
		res.Files = append(res.Files, path)
	}
	return res, nil
}

func writeFile(path string, encode func(*json.Encoder) error) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create export directory: %w", err)
	}

	tmpPath := path + ".tmp"
	// #nosec G304 - controlled path from CLI
	f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}

	w := bufio.NewWriter(f)
	if err := encode(json.NewEncoder(w)); err != nil {
		f.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to write %s: %w", filepath.Base(path), err)
	}
	if err := w.Flush(); err != nil {
		f.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to write %s: %w", filepath.Base(path), err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}

// lines encodes each row as one line.
func lines[T any](rows []T) func(*json.Encoder) error {
	return func(enc *json.Encoder) error {
		for _, row := range rows {
			if err := enc.Encode(row); err != nil {
				return err
			}
		}
		return nil
	}
}

// ReadFile reads a JSONL file written by Export.
func ReadFile[T any](path string) ([]T, error) {
	// #nosec G304 - controlled path from CLI
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open JSONL file: %w", err)
	}
	defer file.Close()

	var rows []T
	decoder := json.NewDecoder(file)
	for line := 1; ; line++ {
		var row T
		if err := decoder.Decode(&row); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, &schema.DecodeError{URL: path, Err: fmt.Errorf("invalid JSON at line %d: %w", line, err)}
		}
		rows = append(rows, row)
	}
	return rows, nil
}
