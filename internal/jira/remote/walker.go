package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"sync/atomic"
)

// DefaultPageSize is used when a walk is started with a non-positive page size.
const DefaultPageSize = 50

// ErrWalkConsumed is yielded when a walk is ranged over a second time.
var ErrWalkConsumed = errors.New("walk already consumed")

// Page is one page of raw records returned by the remote API.
type Page struct {
	Records []json.RawMessage
	// Last is set when the remote explicitly signals there are no more results.
	Last bool
}

// PageFunc fetches the page of at most maxResults records starting at startAt.
type PageFunc func(ctx context.Context, startAt, maxResults int) (Page, error)

// Walk returns a lazy sequence over every record of a paginated query.
//
// Pages are requested with increasing offsets until a page comes back empty,
// shorter than pageSize, or flagged Last. A failed page ends the sequence with
// that error; records already yielded stay yielded, and nothing after the
// failure is produced. ctx is checked before every page fetch.
//
// The sequence is not restartable: ranging over it again yields ErrWalkConsumed.
func Walk(ctx context.Context, fetch PageFunc, pageSize int) iter.Seq2[json.RawMessage, error] {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}

	var consumed atomic.Bool
	return func(yield func(json.RawMessage, error) bool) {
		if !consumed.CompareAndSwap(false, true) {
			yield(nil, ErrWalkConsumed)
			return
		}

		startAt := 0
		for {
			if err := ctx.Err(); err != nil {
				yield(nil, err)
				return
			}

			page, err := fetch(ctx, startAt, pageSize)
			if err != nil {
				yield(nil, fmt.Errorf("failed to fetch page at offset %d: %w", startAt, err))
				return
			}

			for _, rec := range page.Records {
				if !yield(rec, nil) {
					return
				}
			}

			n := len(page.Records)
			if n == 0 || n < pageSize || page.Last {
				return
			}
			startAt += n
		}
	}
}

// Collect drains a walk. On failure it returns the error and no records, so a
// partially fetched query is never mistaken for a complete one.
func Collect(seq iter.Seq2[json.RawMessage, error]) ([]json.RawMessage, error) {
	var records []json.RawMessage
	for rec, err := range seq {
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}
