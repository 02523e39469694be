package sync

import (
	"context"
	"fmt"
	"strings"

	"github.com/steveyegge/jirasync/internal/jira/normalize"
	"github.com/steveyegge/jirasync/internal/jira/schema"
)

// FetchAndReconcileUsers implements Syncer.FetchAndReconcileUsers.
func (s *syncer) FetchAndReconcileUsers(ctx context.Context, creds schema.Credentials) ([]*schema.User, error) {
	r, err := s.start(OpUsers, creds)
	if err != nil {
		return nil, err
	}
	if err := r.steps(ctx, r.syncUsers); err != nil {
		return r.users, err
	}
	return r.users, nil
}

// FetchAndReconcileIssues implements Syncer.FetchAndReconcileIssues.
func (s *syncer) FetchAndReconcileIssues(ctx context.Context, creds schema.Credentials) ([]*schema.Issue, error) {
	r, err := s.start(OpIssues, creds)
	if err != nil {
		return nil, err
	}
	if err := r.steps(ctx, r.syncIssues, r.diffHistory, r.deriveActivity); err != nil {
		return r.issues, err
	}
	return r.issues, nil
}

// FetchAndSaveIssueHistory implements Syncer.FetchAndSaveIssueHistory.
func (s *syncer) FetchAndSaveIssueHistory(ctx context.Context, creds schema.Credentials) ([]*schema.IssueHistory, error) {
	r, err := s.start(OpHistory, creds)
	if err != nil {
		return nil, err
	}
	if err := r.steps(ctx, r.ingestStored, r.deriveActivity); err != nil {
		return r.history, err
	}
	return r.history, nil
}

// ingestStored pulls the changelog of every issue already in the store.
func (r *run) ingestStored(ctx context.Context) error {
	r.enter(schema.StageDiffingHistory)
	issues, err := r.s.store.ListIssues(ctx)
	if err != nil {
		return fmt.Errorf("failed to list stored issues: %w", err)
	}
	return r.ingestChangelog(ctx, issues)
}

// FetchRemoteIssues implements Syncer.FetchRemoteIssues.
func (s *syncer) FetchRemoteIssues(ctx context.Context, creds schema.Credentials) ([]*schema.Issue, error) {
	if err := creds.Validate(); err != nil {
		return nil, err
	}
	client, err := s.opts.NewRemote(creds)
	if err != nil {
		return nil, err
	}

	var issues []*schema.Issue
	for res, err := range normalize.Records(client.Issues(ctx), normalize.Issue) {
		if err != nil {
			return nil, fmt.Errorf("failed to fetch issues: %w", err)
		}
		if res.Err != nil {
			s.logger.Printf("WARNING: skipping record: %v", res.Err)
			continue
		}
		issues = append(issues, res.Value)
	}
	return issues, nil
}

// GetIssuesFromStore implements Syncer.GetIssuesFromStore.
func (s *syncer) GetIssuesFromStore(ctx context.Context) ([]*schema.Issue, error) {
	return s.store.ListIssues(ctx)
}

// ===== Directory =====

func (s *syncer) ListUsers(ctx context.Context) ([]*schema.User, error) {
	return s.store.ListUsers(ctx)
}

func (s *syncer) AddUser(ctx context.Context, u *schema.User) (*schema.User, error) {
	if err := u.Validate(); err != nil {
		return nil, err
	}
	change, err := s.users.Reconcile(ctx, u.AccountID, u)
	if err != nil {
		return nil, err
	}
	return change.Current, nil
}

func (s *syncer) ListActivityTypes(ctx context.Context) ([]*schema.ActivityType, error) {
	return s.store.ListActivityTypes(ctx)
}

func (s *syncer) AddActivityType(ctx context.Context, name string) (*schema.ActivityType, error) {
	t := &schema.ActivityType{Name: strings.TrimSpace(name)}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	change, err := s.types.Reconcile(ctx, t.Name, t)
	if err != nil {
		return nil, err
	}
	return change.Current, nil
}

func (s *syncer) ListUserActivities(ctx context.Context, userID string) ([]*schema.UserActivity, error) {
	if _, err := s.store.GetUser(ctx, userID); err != nil {
		return nil, err
	}
	return s.store.ListUserActivities(ctx, userID)
}

func (s *syncer) AddUserActivity(ctx context.Context, userID, typeName string) (*schema.UserActivity, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, &schema.ValidationError{Field: "user_id", Reason: "is required"}
	}
	if _, err := s.store.GetUser(ctx, userID); err != nil {
		return nil, err
	}
	typ, err := s.AddActivityType(ctx, typeName)
	if err != nil {
		return nil, err
	}

	a := &schema.UserActivity{
		UserID:         userID,
		ActivityTypeID: typ.ID,
		CreatedAt:      s.opts.Now().UTC(),
	}
	if err := s.store.InsertUserActivity(ctx, a); err != nil {
		return nil, err
	}
	return a, nil
}

func (s *syncer) GetUserProfile(ctx context.Context, userID string) (*schema.UserProfile, error) {
	return s.store.GetUserProfile(ctx, userID)
}

func (s *syncer) AddUserProfile(ctx context.Context, p *schema.UserProfile) (*schema.UserProfile, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if _, err := s.store.GetUser(ctx, p.UserID); err != nil {
		return nil, err
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = s.opts.Now().UTC()
	}
	if err := s.store.InsertUserProfile(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

func (s *syncer) ListIssueHistory(ctx context.Context, key string) ([]*schema.IssueHistory, error) {
	issue, err := s.store.GetIssueByKey(ctx, key)
	if err != nil {
		return nil, err
	}
	return s.store.ListIssueHistory(ctx, issue.ID)
}

func (s *syncer) Stats(ctx context.Context) (schema.Stats, error) {
	return s.store.Stats(ctx)
}
