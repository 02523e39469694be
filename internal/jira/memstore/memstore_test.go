package memstore

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/steveyegge/jirasync/internal/jira/reconcile"
	"github.com/steveyegge/jirasync/internal/jira/schema"
)

func TestUserUniqueness(t *testing.T) {
	s := New()
	ctx := context.Background()

	if err := s.InsertUser(ctx, &schema.User{AccountID: "acc-1", DisplayName: "Ann"}); err != nil {
		t.Fatalf("InsertUser() failed: %v", err)
	}
	err := s.InsertUser(ctx, &schema.User{AccountID: "acc-1", DisplayName: "Ann again"})
	if !errors.Is(err, schema.ErrConflict) {
		t.Fatalf("second InsertUser() = %v, want conflict", err)
	}

	users, _ := s.ListUsers(ctx)
	if len(users) != 1 {
		t.Errorf("expected 1 user, got %d", len(users))
	}
}

func TestReturnedValuesAreCopies(t *testing.T) {
	s := New()
	ctx := context.Background()

	in := &schema.Issue{Key: "TEST-1", Fields: schema.Fields{Summary: "Test issue"}}
	if err := s.InsertIssue(ctx, in); err != nil {
		t.Fatalf("InsertIssue() failed: %v", err)
	}
	in.Fields.Summary = "mutated after insert"

	got, err := s.GetIssueByKey(ctx, "TEST-1")
	if err != nil {
		t.Fatalf("GetIssueByKey() failed: %v", err)
	}
	got.Fields.Summary = "mutated after read"

	again, _ := s.GetIssueByKey(ctx, "TEST-1")
	if again.Fields.Summary != "Test issue" {
		t.Errorf("store shares memory with callers: %q", again.Fields.Summary)
	}
}

func TestHistoryRequiresIssue(t *testing.T) {
	s := New()
	err := s.InsertIssueHistory(context.Background(), &schema.IssueHistory{
		IssueID:   "missing",
		Field:     "status",
		ChangedAt: time.Now(),
	})
	if !errors.Is(err, schema.ErrPersistence) {
		t.Errorf("InsertIssueHistory() = %v, want persistence error", err)
	}
}

func TestHistoryExternalIDUnique(t *testing.T) {
	s := New()
	ctx := context.Background()
	issue := &schema.Issue{Key: "TEST-1"}
	if err := s.InsertIssue(ctx, issue); err != nil {
		t.Fatalf("InsertIssue() failed: %v", err)
	}

	row := func() *schema.IssueHistory {
		return &schema.IssueHistory{IssueID: issue.ID, ExternalID: "100:0", Field: "status", ChangedAt: time.Now()}
	}
	if err := s.InsertIssueHistory(ctx, row()); err != nil {
		t.Fatalf("InsertIssueHistory() failed: %v", err)
	}
	if err := s.InsertIssueHistory(ctx, row()); !errors.Is(err, schema.ErrConflict) {
		t.Errorf("duplicate external id = %v, want conflict", err)
	}

	// Diff rows have no external id and may repeat.
	for i := 0; i < 2; i++ {
		h := &schema.IssueHistory{IssueID: issue.ID, Field: "summary", ChangedAt: time.Now()}
		if err := s.InsertIssueHistory(ctx, h); err != nil {
			t.Fatalf("InsertIssueHistory() without external id failed: %v", err)
		}
	}

	rows, _ := s.ListIssueHistory(ctx, issue.ID)
	if len(rows) != 3 {
		t.Errorf("expected 3 history rows, got %d", len(rows))
	}
}

func TestConcurrentReconcileSameKey(t *testing.T) {
	s := New()
	r := reconcile.Users(s)
	ctx := context.Background()

	const workers = 16
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := r.Reconcile(ctx, "acc-1", &schema.User{AccountID: "acc-1", DisplayName: "Ann"})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Errorf("Reconcile() failed: %v", err)
		}
	}

	stats, _ := s.Stats(ctx)
	if stats.Users != 1 {
		t.Errorf("expected exactly 1 user, got %d", stats.Users)
	}
}

func TestBeforeInsertHookForcesConflict(t *testing.T) {
	s := New()
	ctx := context.Background()

	s.SetBeforeInsert(func(entity, key string) {
		if entity != "activity type" {
			return
		}
		s.SetBeforeInsert(nil)
		if err := s.InsertActivityType(ctx, &schema.ActivityType{Name: key}); err != nil {
			t.Errorf("competing insert failed: %v", err)
		}
	})

	change, err := reconcile.ActivityTypes(s).Reconcile(ctx, "Changed Status", &schema.ActivityType{Name: "Changed Status"})
	if err != nil {
		t.Fatalf("Reconcile() failed: %v", err)
	}
	if change.Outcome != reconcile.Unchanged {
		t.Errorf("Outcome = %v, want unchanged (reused)", change.Outcome)
	}

	types, _ := s.ListActivityTypes(ctx)
	if len(types) != 1 {
		t.Errorf("expected 1 activity type, got %d", len(types))
	}
}

func TestUserActivityReferences(t *testing.T) {
	s := New()
	ctx := context.Background()

	err := s.InsertUserActivity(ctx, &schema.UserActivity{UserID: "nobody", ActivityTypeID: "none"})
	if !errors.Is(err, schema.ErrPersistence) {
		t.Errorf("InsertUserActivity() with dangling refs = %v, want persistence error", err)
	}

	u := &schema.User{AccountID: "acc-1"}
	typ := &schema.ActivityType{Name: "Changed Status"}
	if err := s.InsertUser(ctx, u); err != nil {
		t.Fatal(err)
	}
	if err := s.InsertActivityType(ctx, typ); err != nil {
		t.Fatal(err)
	}
	act := func() *schema.UserActivity {
		return &schema.UserActivity{UserID: u.ID, ActivityTypeID: typ.ID, IssueHistoryID: "h1", CreatedAt: time.Now()}
	}
	if err := s.InsertUserActivity(ctx, act()); err != nil {
		t.Fatalf("InsertUserActivity() failed: %v", err)
	}
	if err := s.InsertUserActivity(ctx, act()); !errors.Is(err, schema.ErrConflict) {
		t.Errorf("second activity for same history row = %v, want conflict", err)
	}
}

func TestUserProfileOnePerUser(t *testing.T) {
	s := New()
	ctx := context.Background()
	u := &schema.User{AccountID: "acc-1"}
	if err := s.InsertUser(ctx, u); err != nil {
		t.Fatal(err)
	}

	if err := s.InsertUserProfile(ctx, &schema.UserProfile{UserID: u.ID, Title: "Engineer"}); err != nil {
		t.Fatalf("InsertUserProfile() failed: %v", err)
	}
	if err := s.InsertUserProfile(ctx, &schema.UserProfile{UserID: u.ID}); !errors.Is(err, schema.ErrConflict) {
		t.Errorf("second profile = %v, want conflict", err)
	}

	p, err := s.GetUserProfile(ctx, u.ID)
	if err != nil || p.Title != "Engineer" {
		t.Errorf("GetUserProfile() = %+v, %v", p, err)
	}
	if _, err := s.GetUserProfile(ctx, "other"); !errors.Is(err, schema.ErrNotFound) {
		t.Errorf("GetUserProfile(unknown) = %v, want not found", err)
	}
}
