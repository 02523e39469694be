// Package schema defines the entities jirasync keeps in its local store and the
// error taxonomy shared by every stage of a sync run.
//
// Entities
//
// Each persisted entity has a store-assigned surrogate ID (a UUID string) and,
// where the source system provides one, a natural key:
//
//	User          natural key AccountID     (unique)
//	Issue         natural key Key           (unique, e.g. "TEST-1")
//	ActivityType  natural key Name          (unique)
//	IssueHistory  append-only, optional ExternalID (unique when set)
//	UserActivity  references User + ActivityType
//	UserProfile   one-to-one with User
//
// The store owns the canonical copy. Values held in memory during a sync are
// transient working copies.
//
// Errors
//
// Every failure produced by the sync engine matches exactly one sentinel with
// errors.Is:
//
//	ErrValidation       bad credentials or entity fields, never reaches the network
//	ErrTransport        non-2xx, timeout, connection failure (maybe retryable)
//	ErrDecode           a response body that is not valid JSON
//	ErrMalformedRecord  one record missing its natural key (skipped, counted)
//	ErrConflict         a unique-key race lost on insert (re-fetch and merge)
//	ErrPersistence      store failure, fatal to the current stage
//
// StageError wraps any of them with the name of the stage that failed.
package schema
