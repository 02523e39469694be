// Package normalize turns raw remote records into typed entities.
//
// Records are navigated loosely: optional fields default to their zero value
// and only a missing natural key rejects a record. A rejected record is a
// *schema.MalformedRecordError and never aborts the rest of a page.
package normalize

import (
	"encoding/json"
	"errors"
	"iter"
	"strconv"
	"strings"
	"time"

	"github.com/Jeffail/gabs/v2"

	"github.com/steveyegge/jirasync/internal/jira/schema"
)

// timeLayouts are the timestamp formats seen in remote payloads.
var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.000-0700",
	"2006-01-02T15:04:05-0700",
}

// Result is one normalized record or the reason it was rejected.
type Result[T any] struct {
	Value T
	Err   error
}

// Records adapts a walk into a stream of normalized values.
//
// Malformed records arrive as Result.Err, stamped with their position in the
// walk. A walk failure ends the stream as the second value.
func Records[T any](seq iter.Seq2[json.RawMessage, error], fn func(json.RawMessage) (T, error)) iter.Seq2[Result[T], error] {
	return func(yield func(Result[T], error) bool) {
		index := 0
		for raw, err := range seq {
			if err != nil {
				yield(Result[T]{}, err)
				return
			}

			v, nerr := fn(raw)
			var mr *schema.MalformedRecordError
			if errors.As(nerr, &mr) {
				mr.Index = index
			}
			index++

			if !yield(Result[T]{Value: v, Err: nerr}, nil) {
				return
			}
		}
	}
}

// Issue normalizes one issue record.
func Issue(raw json.RawMessage) (*schema.Issue, error) {
	c, err := parseObject(raw, "issue")
	if err != nil {
		return nil, err
	}

	key := strings.TrimSpace(str(c, "key"))
	if key == "" {
		return nil, malformed("issue", "missing key")
	}

	return &schema.Issue{
		Key:        key,
		ExternalID: str(c, "id"),
		Fields: schema.Fields{
			Summary:     str(c, "fields", "summary"),
			Description: description(c.Search("fields", "description")),
			Status:      nameOrString(c.Search("fields", "status"), "name"),
			Assignee:    nameOrString(c.Search("fields", "assignee"), "accountId"),
			Updated:     parseTime(str(c, "fields", "updated")),
		},
	}, nil
}

// User normalizes one user record. A record without "active" counts as active.
func User(raw json.RawMessage) (*schema.User, error) {
	c, err := parseObject(raw, "user")
	if err != nil {
		return nil, err
	}

	accountID := strings.TrimSpace(str(c, "accountId"))
	if accountID == "" {
		return nil, malformed("user", "missing accountId")
	}

	active := true
	if b, ok := c.Search("active").Data().(bool); ok {
		active = b
	}

	return &schema.User{
		AccountID:   accountID,
		DisplayName: str(c, "displayName"),
		Email:       str(c, "emailAddress"),
		Active:      active,
	}, nil
}

// Changelog normalizes one changelog entry. Items without a field name are
// dropped; an entry without an id or a parsable timestamp is malformed.
func Changelog(raw json.RawMessage) (*schema.ChangelogEntry, error) {
	c, err := parseObject(raw, "changelog")
	if err != nil {
		return nil, err
	}

	id := strings.TrimSpace(str(c, "id"))
	if id == "" {
		return nil, malformed("changelog", "missing id")
	}

	created := parseTime(str(c, "created"))
	if created.IsZero() {
		return nil, malformed("changelog", "missing or invalid created timestamp")
	}

	entry := &schema.ChangelogEntry{
		ID:              id,
		AuthorAccountID: str(c, "author", "accountId"),
		AuthorEmail:     str(c, "author", "emailAddress"),
		Created:         created,
	}

	for _, item := range c.Search("items").Children() {
		field := strings.TrimSpace(str(item, "field"))
		if field == "" {
			continue
		}
		entry.Items = append(entry.Items, schema.ChangelogItem{
			Field: field,
			From:  optional(item.Search("fromString")),
			To:    optional(item.Search("toString")),
		})
	}

	return entry, nil
}

func parseObject(raw json.RawMessage, kind string) (*gabs.Container, error) {
	c, err := gabs.ParseJSON(raw)
	if err != nil {
		return nil, malformed(kind, "record is not valid JSON")
	}
	if _, ok := c.Data().(map[string]interface{}); !ok {
		return nil, malformed(kind, "record is not a JSON object")
	}
	return c, nil
}

func malformed(kind, reason string) error {
	return &schema.MalformedRecordError{Kind: kind, Index: -1, Reason: reason}
}

// str returns the scalar at path as a string, or "" when absent.
func str(c *gabs.Container, path ...string) string {
	if c == nil {
		return ""
	}
	return scalar(c.Search(path...))
}

func scalar(c *gabs.Container) string {
	switch v := c.Data().(type) {
	case string:
		return v
	case json.Number:
		return v.String()
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	default:
		return ""
	}
}

// nameOrString reads either a bare string or the named member of an object.
func nameOrString(c *gabs.Container, member string) string {
	if s, ok := c.Data().(string); ok {
		return s
	}
	return str(c, member)
}

func optional(c *gabs.Container) *string {
	return schema.StringPtr(scalar(c))
}

// description flattens a plain string or an Atlassian Document Format tree.
func description(c *gabs.Container) string {
	switch c.Data().(type) {
	case string:
		return c.Data().(string)
	case map[string]interface{}:
		var blocks []string
		collectBlocks(c, &blocks)
		return strings.Join(blocks, "\n")
	default:
		return ""
	}
}

// collectBlocks appends the text of each block node under c.
func collectBlocks(c *gabs.Container, blocks *[]string) {
	if c == nil {
		return
	}
	for _, child := range c.Search("content").Children() {
		if hasBlockChildren(child) {
			collectBlocks(child, blocks)
			continue
		}
		var b strings.Builder
		inlineText(child, &b)
		if b.Len() > 0 {
			*blocks = append(*blocks, b.String())
		}
	}
}

func hasBlockChildren(c *gabs.Container) bool {
	for _, child := range c.Search("content").Children() {
		if len(child.Search("content").Children()) > 0 {
			return true
		}
	}
	return false
}

func inlineText(c *gabs.Container, b *strings.Builder) {
	switch str(c, "type") {
	case "text":
		b.WriteString(str(c, "text"))
	case "hardBreak":
		b.WriteString("\n")
	}
	for _, child := range c.Search("content").Children() {
		inlineText(child, b)
	}
}

// parseTime returns the zero time for absent or unparsable timestamps.
func parseTime(s string) time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}
