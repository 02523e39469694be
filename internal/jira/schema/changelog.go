package schema

import "time"

// ChangelogEntry is one remote change set: everything one author changed on
// an issue at one instant.
type ChangelogEntry struct {
	ID              string
	AuthorAccountID string
	AuthorEmail     string
	Created         time.Time
	Items           []ChangelogItem
}

// ChangelogItem is a single field transition inside a ChangelogEntry.
type ChangelogItem struct {
	Field string
	From  *string
	To    *string
}

// Author returns the best identifier available for the entry's author.
func (e *ChangelogEntry) Author() string {
	if e.AuthorAccountID != "" {
		return e.AuthorAccountID
	}
	return e.AuthorEmail
}
