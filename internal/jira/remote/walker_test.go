package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/steveyegge/jirasync/internal/jira/schema"
)

// fakePages serves fixed page sizes and records every fetch.
type fakePages struct {
	sizes   []int
	fail    map[int]error
	fetches []int
}

func (f *fakePages) fetch(ctx context.Context, startAt, maxResults int) (Page, error) {
	n := len(f.fetches)
	f.fetches = append(f.fetches, startAt)
	if err, ok := f.fail[n]; ok {
		return Page{}, err
	}
	if n >= len(f.sizes) {
		return Page{}, nil
	}
	var recs []json.RawMessage
	for i := 0; i < f.sizes[n]; i++ {
		recs = append(recs, json.RawMessage(fmt.Sprintf(`{"n":%d}`, startAt+i)))
	}
	return Page{Records: recs}, nil
}

func TestWalkTerminatesOnShortPage(t *testing.T) {
	f := &fakePages{sizes: []int{2, 2, 1}}

	records, err := Collect(Walk(context.Background(), f.fetch, 2))
	if err != nil {
		t.Fatalf("Collect() failed: %v", err)
	}

	if len(records) != 5 {
		t.Errorf("expected 5 records, got %d", len(records))
	}
	if len(f.fetches) != 3 {
		t.Errorf("expected 3 page fetches, got %d", len(f.fetches))
	}
	want := []int{0, 2, 4}
	for i, off := range want {
		if f.fetches[i] != off {
			t.Errorf("fetch %d: startAt = %d, want %d", i, f.fetches[i], off)
		}
	}
}

func TestWalkTerminatesOnEmptyPage(t *testing.T) {
	f := &fakePages{sizes: []int{2, 2, 0}}

	records, err := Collect(Walk(context.Background(), f.fetch, 2))
	if err != nil {
		t.Fatalf("Collect() failed: %v", err)
	}
	if len(records) != 4 || len(f.fetches) != 3 {
		t.Errorf("got %d records over %d fetches, want 4 over 3", len(records), len(f.fetches))
	}
}

func TestWalkStopsOnLastFlag(t *testing.T) {
	calls := 0
	fetch := func(ctx context.Context, startAt, maxResults int) (Page, error) {
		calls++
		return Page{Records: []json.RawMessage{json.RawMessage(`1`), json.RawMessage(`2`)}, Last: true}, nil
	}

	records, err := Collect(Walk(context.Background(), fetch, 2))
	if err != nil {
		t.Fatalf("Collect() failed: %v", err)
	}
	if calls != 1 || len(records) != 2 {
		t.Errorf("got %d records over %d fetches, want 2 over 1", len(records), calls)
	}
}

func TestWalkSurfacesPageFailure(t *testing.T) {
	boom := &schema.TransportError{Method: "GET", URL: "u", StatusCode: 500}
	f := &fakePages{sizes: []int{2, 2, 2}, fail: map[int]error{1: boom}}

	var got int
	var walkErr error
	for _, err := range Walk(context.Background(), f.fetch, 2) {
		if err != nil {
			walkErr = err
			continue
		}
		got++
	}

	if !errors.Is(walkErr, schema.ErrTransport) {
		t.Fatalf("expected transport error, got %v", walkErr)
	}
	if got != 2 {
		t.Errorf("expected 2 records before failure, got %d", got)
	}
	if len(f.fetches) != 2 {
		t.Errorf("walk continued after failure: %d fetches", len(f.fetches))
	}

	f2 := &fakePages{sizes: []int{2, 2}, fail: map[int]error{1: boom}}
	records, err := Collect(Walk(context.Background(), f2.fetch, 2))
	if err == nil || records != nil {
		t.Errorf("Collect() = %d records, %v; want nil, error", len(records), err)
	}
}

func TestWalkCancellationBetweenPages(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	f := &fakePages{sizes: []int{2, 2, 2, 2}}
	var walkErr error
	seen := 0
	for _, err := range Walk(ctx, f.fetch, 2) {
		if err != nil {
			walkErr = err
			break
		}
		seen++
		if seen == 2 {
			cancel()
		}
	}

	if !errors.Is(walkErr, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", walkErr)
	}
	if len(f.fetches) != 1 {
		t.Errorf("expected 1 fetch before cancellation, got %d", len(f.fetches))
	}
}

func TestWalkEarlyBreak(t *testing.T) {
	f := &fakePages{sizes: []int{2, 2, 2}}
	for _, err := range Walk(context.Background(), f.fetch, 2) {
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		break
	}
	if len(f.fetches) != 1 {
		t.Errorf("expected lazy walk to stop after 1 fetch, got %d", len(f.fetches))
	}
}

func TestWalkNotRestartable(t *testing.T) {
	f := &fakePages{sizes: []int{1}}
	seq := Walk(context.Background(), f.fetch, 2)

	if _, err := Collect(seq); err != nil {
		t.Fatalf("first Collect() failed: %v", err)
	}
	if _, err := Collect(seq); !errors.Is(err, ErrWalkConsumed) {
		t.Errorf("second Collect() = %v, want ErrWalkConsumed", err)
	}
	if len(f.fetches) != 1 {
		t.Errorf("second range fetched again: %d fetches", len(f.fetches))
	}
}

func TestWalkDefaultPageSize(t *testing.T) {
	var sizes []int
	fetch := func(ctx context.Context, startAt, maxResults int) (Page, error) {
		sizes = append(sizes, maxResults)
		return Page{}, nil
	}
	if _, err := Collect(Walk(context.Background(), fetch, 0)); err != nil {
		t.Fatalf("Collect() failed: %v", err)
	}
	if len(sizes) != 1 || sizes[0] != DefaultPageSize {
		t.Errorf("maxResults = %v, want [%d]", sizes, DefaultPageSize)
	}
}
