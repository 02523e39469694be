// Package memstore is a thread-safe in-memory store.
//
// It enforces the same natural-key uniqueness and references as the SQLite
// store and returns the same error kinds, so the sync engine can run against
// either. Values are copied in and out; callers never share memory with the
// store.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/steveyegge/jirasync/internal/jira/schema"
)

// Store is the in-memory store.
type Store struct {
	mu sync.RWMutex

	users         map[string]schema.User // by id
	usersByAcct   map[string]string      // account id -> id
	issues        map[string]schema.Issue
	issuesByKey   map[string]string
	history       []schema.IssueHistory
	historyByExt  map[string]struct{}
	types         map[string]schema.ActivityType
	typesByName   map[string]string
	activities    []schema.UserActivity
	activityByHst map[string]struct{}
	profiles      map[string]schema.UserProfile // by user id

	beforeInsert func(entity, key string)
}

// New creates an empty store.
func New() *Store {
	return &Store{
		users:         make(map[string]schema.User),
		usersByAcct:   make(map[string]string),
		issues:        make(map[string]schema.Issue),
		issuesByKey:   make(map[string]string),
		historyByExt:  make(map[string]struct{}),
		types:         make(map[string]schema.ActivityType),
		typesByName:   make(map[string]string),
		activityByHst: make(map[string]struct{}),
		profiles:      make(map[string]schema.UserProfile),
	}
}

// SetBeforeInsert installs fn to run before every insert, outside the store
// lock. Tests use it to interleave a competing writer between a reconciler's
// lookup and its insert.
func (s *Store) SetBeforeInsert(fn func(entity, key string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.beforeInsert = fn
}

func (s *Store) hook(entity, key string) {
	s.mu.RLock()
	fn := s.beforeInsert
	s.mu.RUnlock()
	if fn != nil {
		fn(entity, key)
	}
}

func notFound(entity, key string) error {
	return fmt.Errorf("%s %q: %w", entity, key, schema.ErrNotFound)
}

func conflict(entity, key string) error {
	return &schema.ConflictError{Entity: entity, Key: key, Err: fmt.Errorf("%s %q already exists", entity, key)}
}

func missingRef(op, entity, id string) error {
	return &schema.PersistenceError{Op: op, Err: fmt.Errorf("%s %q does not exist", entity, id)}
}

// ===== Users =====

func (s *Store) GetUser(ctx context.Context, id string) (*schema.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return nil, notFound("user", id)
	}
	return &u, nil
}

func (s *Store) GetUserByAccountID(ctx context.Context, accountID string) (*schema.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.usersByAcct[accountID]
	if !ok {
		return nil, notFound("user", accountID)
	}
	u := s.users[id]
	return &u, nil
}

// GetUserByEmail matches the first user, by account id order, with that email.
func (s *Store) GetUserByEmail(ctx context.Context, email string) (*schema.User, error) {
	users, _ := s.ListUsers(ctx)
	for _, u := range users {
		if u.Email != "" && u.Email == email {
			return u, nil
		}
	}
	return nil, notFound("user", email)
}

func (s *Store) InsertUser(ctx context.Context, u *schema.User) error {
	if err := u.Validate(); err != nil {
		return err
	}
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	s.hook("user", u.AccountID)

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.usersByAcct[u.AccountID]; ok {
		return conflict("user", u.AccountID)
	}
	if _, ok := s.users[u.ID]; ok {
		return conflict("user", u.ID)
	}
	s.users[u.ID] = *u
	s.usersByAcct[u.AccountID] = u.ID
	return nil
}

func (s *Store) UpdateUser(ctx context.Context, u *schema.User) error {
	if err := u.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	old, ok := s.users[u.ID]
	if !ok {
		return notFound("user", u.ID)
	}
	if old.AccountID != u.AccountID {
		if _, taken := s.usersByAcct[u.AccountID]; taken {
			return conflict("user", u.AccountID)
		}
		delete(s.usersByAcct, old.AccountID)
		s.usersByAcct[u.AccountID] = u.ID
	}
	s.users[u.ID] = *u
	return nil
}

// ListUsers returns all users ordered by account id.
func (s *Store) ListUsers(ctx context.Context) ([]*schema.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*schema.User, 0, len(s.users))
	for _, u := range s.users {
		u := u
		out = append(out, &u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AccountID < out[j].AccountID })
	return out, nil
}

// ===== Issues =====

func (s *Store) GetIssueByKey(ctx context.Context, key string) (*schema.Issue, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.issuesByKey[key]
	if !ok {
		return nil, notFound("issue", key)
	}
	i := s.issues[id]
	return &i, nil
}

func (s *Store) InsertIssue(ctx context.Context, i *schema.Issue) error {
	if err := i.Validate(); err != nil {
		return err
	}
	if i.ID == "" {
		i.ID = uuid.NewString()
	}
	s.hook("issue", i.Key)

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.issuesByKey[i.Key]; ok {
		return conflict("issue", i.Key)
	}
	if _, ok := s.issues[i.ID]; ok {
		return conflict("issue", i.ID)
	}
	s.issues[i.ID] = *i
	s.issuesByKey[i.Key] = i.ID
	return nil
}

func (s *Store) UpdateIssue(ctx context.Context, i *schema.Issue) error {
	if err := i.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	old, ok := s.issues[i.ID]
	if !ok {
		return notFound("issue", i.ID)
	}
	if old.Key != i.Key {
		if _, taken := s.issuesByKey[i.Key]; taken {
			return conflict("issue", i.Key)
		}
		delete(s.issuesByKey, old.Key)
		s.issuesByKey[i.Key] = i.ID
	}
	s.issues[i.ID] = *i
	return nil
}

// ListIssues returns all issues ordered by key.
func (s *Store) ListIssues(ctx context.Context) ([]*schema.Issue, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*schema.Issue, 0, len(s.issues))
	for _, i := range s.issues {
		i := i
		out = append(out, &i)
	}
	sort.Slice(out, func(a, b int) bool { return out[a].Key < out[b].Key })
	return out, nil
}

// ===== Issue history =====

func (s *Store) InsertIssueHistory(ctx context.Context, h *schema.IssueHistory) error {
	if err := h.Validate(); err != nil {
		return err
	}
	if h.ID == "" {
		h.ID = uuid.NewString()
	}
	s.hook("issue history", h.ExternalID)

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.issues[h.IssueID]; !ok {
		return missingRef("insert issue history", "issue", h.IssueID)
	}
	if h.ExternalID != "" {
		if _, ok := s.historyByExt[h.ExternalID]; ok {
			return conflict("issue history", h.ExternalID)
		}
		s.historyByExt[h.ExternalID] = struct{}{}
	}
	s.history = append(s.history, *h)
	return nil
}

// ListIssueHistory returns the history of one issue, oldest change first.
func (s *Store) ListIssueHistory(ctx context.Context, issueID string) ([]*schema.IssueHistory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*schema.IssueHistory
	for _, h := range s.history {
		if h.IssueID == issueID {
			h := h
			out = append(out, &h)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ChangedAt.Before(out[j].ChangedAt) })
	return out, nil
}

// ===== Activity types =====

func (s *Store) GetActivityTypeByName(ctx context.Context, name string) (*schema.ActivityType, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.typesByName[name]
	if !ok {
		return nil, notFound("activity type", name)
	}
	t := s.types[id]
	return &t, nil
}

func (s *Store) InsertActivityType(ctx context.Context, t *schema.ActivityType) error {
	if err := t.Validate(); err != nil {
		return err
	}
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	s.hook("activity type", t.Name)

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.typesByName[t.Name]; ok {
		return conflict("activity type", t.Name)
	}
	s.types[t.ID] = *t
	s.typesByName[t.Name] = t.ID
	return nil
}

// ListActivityTypes returns all activity types ordered by name.
func (s *Store) ListActivityTypes(ctx context.Context) ([]*schema.ActivityType, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*schema.ActivityType, 0, len(s.types))
	for _, t := range s.types {
		t := t
		out = append(out, &t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// ===== User activities =====

func (s *Store) InsertUserActivity(ctx context.Context, a *schema.UserActivity) error {
	if err := a.Validate(); err != nil {
		return err
	}
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	s.hook("user activity", a.IssueHistoryID)

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[a.UserID]; !ok {
		return missingRef("insert user activity", "user", a.UserID)
	}
	if _, ok := s.types[a.ActivityTypeID]; !ok {
		return missingRef("insert user activity", "activity type", a.ActivityTypeID)
	}
	if a.IssueHistoryID != "" {
		if _, ok := s.activityByHst[a.IssueHistoryID]; ok {
			return conflict("user activity", a.IssueHistoryID)
		}
		s.activityByHst[a.IssueHistoryID] = struct{}{}
	}
	s.activities = append(s.activities, *a)
	return nil
}

// ListUserActivities returns the activities of one user, oldest first.
func (s *Store) ListUserActivities(ctx context.Context, userID string) ([]*schema.UserActivity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*schema.UserActivity
	for _, a := range s.activities {
		if a.UserID == userID {
			a := a
			out = append(out, &a)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// ===== User profiles =====

func (s *Store) GetUserProfile(ctx context.Context, userID string) (*schema.UserProfile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.profiles[userID]
	if !ok {
		return nil, notFound("user profile", userID)
	}
	return &p, nil
}

func (s *Store) InsertUserProfile(ctx context.Context, p *schema.UserProfile) error {
	if err := p.Validate(); err != nil {
		return err
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	s.hook("user profile", p.UserID)

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[p.UserID]; !ok {
		return missingRef("insert user profile", "user", p.UserID)
	}
	if _, ok := s.profiles[p.UserID]; ok {
		return conflict("user profile", p.UserID)
	}
	s.profiles[p.UserID] = *p
	return nil
}

// Stats counts the rows of every entity.
func (s *Store) Stats(ctx context.Context) (schema.Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return schema.Stats{
		Users:          len(s.users),
		Issues:         len(s.issues),
		IssueHistory:   len(s.history),
		ActivityTypes:  len(s.types),
		UserActivities: len(s.activities),
		UserProfiles:   len(s.profiles),
	}, nil
}
