// Package reconcile upserts entities by natural key.
//
// A Reconciler looks an entity up by its natural key, inserts it with a fresh
// surrogate id when absent and merges the mutable fields into the stored row
// when present. The store's unique constraint is the backstop against two
// writers inserting the same key: the losing insert is retried once as a
// re-fetch and merge.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/steveyegge/jirasync/internal/jira/schema"
)

// Outcome classifies what a reconciliation did to the store.
type Outcome int

const (
	// Created means no row existed and one was inserted.
	Created Outcome = iota
	// Updated means a row existed and its mutable fields changed.
	Updated
	// Unchanged means a row existed and already matched.
	Unchanged
	// Stale means the incoming value was older than the stored one and was dropped.
	Stale
)

func (o Outcome) String() string {
	switch o {
	case Created:
		return "created"
	case Updated:
		return "updated"
	case Unchanged:
		return "unchanged"
	case Stale:
		return "stale"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Table is the store capability a Reconciler needs.
//
// LookupByKey returns an error matching schema.ErrNotFound when no row has the
// key. Insert returns an error matching schema.ErrConflict when the key is
// already taken.
type Table[T any] interface {
	LookupByKey(ctx context.Context, key string) (T, error)
	Insert(ctx context.Context, v T) error
	Update(ctx context.Context, v T) error
}

// TableFuncs adapts three functions into a Table.
type TableFuncs[T any] struct {
	LookupFunc func(ctx context.Context, key string) (T, error)
	InsertFunc func(ctx context.Context, v T) error
	UpdateFunc func(ctx context.Context, v T) error
}

func (f TableFuncs[T]) LookupByKey(ctx context.Context, key string) (T, error) {
	return f.LookupFunc(ctx, key)
}

func (f TableFuncs[T]) Insert(ctx context.Context, v T) error { return f.InsertFunc(ctx, v) }

func (f TableFuncs[T]) Update(ctx context.Context, v T) error { return f.UpdateFunc(ctx, v) }

// MergeFunc folds incoming into a copy of existing and reports the outcome.
// It must keep the surrogate id of existing and must not modify either argument.
type MergeFunc[T any] func(existing, incoming T, now time.Time) (T, Outcome)

// PrepareFunc stamps a new entity with its surrogate id before insertion.
type PrepareFunc[T any] func(v T, id string, now time.Time)

// Change is the result of one reconciliation.
type Change[T any] struct {
	// Previous is the stored value before the merge; zero when Created.
	Previous T
	// Current is the value now in the store (or the stored value for Stale).
	Current T
	Outcome Outcome
}

// Options configures a Reconciler.
type Options[T any] struct {
	Entity  string
	Table   Table[T]
	Merge   MergeFunc[T]
	Prepare PrepareFunc[T]

	// NewID defaults to uuid.NewString.
	NewID func() string
	// Now defaults to time.Now.
	Now func() time.Time
}

// Reconciler upserts values of one entity type.
type Reconciler[T any] struct {
	entity  string
	table   Table[T]
	merge   MergeFunc[T]
	prepare PrepareFunc[T]
	newID   func() string
	now     func() time.Time
}

// New creates a reconciler.
func New[T any](opts Options[T]) *Reconciler[T] {
	r := &Reconciler[T]{
		entity:  opts.Entity,
		table:   opts.Table,
		merge:   opts.Merge,
		prepare: opts.Prepare,
		newID:   opts.NewID,
		now:     opts.Now,
	}
	if r.newID == nil {
		r.newID = uuid.NewString
	}
	if r.now == nil {
		r.now = time.Now
	}
	return r
}

// Reconcile upserts incoming under key.
//
// Reconciling the same value twice leaves the store as after the first call.
// A conflicting insert is retried once by re-fetching and merging; a second
// conflict is returned as a *schema.PersistenceError.
func (r *Reconciler[T]) Reconcile(ctx context.Context, key string, incoming T) (Change[T], error) {
	var zero Change[T]

	for attempt := 0; attempt < 2; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}

		now := r.now().UTC()
		existing, err := r.table.LookupByKey(ctx, key)
		if err != nil && !errors.Is(err, schema.ErrNotFound) {
			return zero, r.persistence("look up", key, err)
		}

		if err == nil {
			merged, outcome := r.merge(existing, incoming, now)
			if outcome == Updated {
				if err := r.table.Update(ctx, merged); err != nil {
					return zero, r.persistence("update", key, err)
				}
			}
			return Change[T]{Previous: existing, Current: merged, Outcome: outcome}, nil
		}

		r.prepare(incoming, r.newID(), now)
		err = r.table.Insert(ctx, incoming)
		if err == nil {
			return Change[T]{Current: incoming, Outcome: Created}, nil
		}
		if !errors.Is(err, schema.ErrConflict) {
			return zero, r.persistence("insert", key, err)
		}
		if attempt == 1 {
			return zero, r.persistence("insert", key, err)
		}
	}

	return zero, nil
}

// persistence wraps a store failure. Validation errors pass through so
// callers can treat them as a bad record rather than a broken store.
func (r *Reconciler[T]) persistence(op, key string, err error) error {
	var pe *schema.PersistenceError
	if errors.As(err, &pe) || errors.Is(err, schema.ErrValidation) {
		return err
	}
	return &schema.PersistenceError{Op: fmt.Sprintf("%s %s %q", op, r.entity, key), Err: err}
}
