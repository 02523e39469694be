package schema

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors of the sync engine.
//
// Typed errors below match exactly one of these with errors.Is, so callers can
// branch on the kind of failure without string matching:
//
//	if errors.Is(err, schema.ErrDecode) {
//	    // remote answered 200 with a body that is not JSON
//	}
var (
	// ErrValidation is returned for missing or malformed credentials and
	// entity fields. It is raised before any network call.
	ErrValidation = errors.New("validation failed")

	// ErrTransport is returned for non-2xx responses, timeouts and
	// connection failures.
	ErrTransport = errors.New("transport failure")

	// ErrDecode is returned when a response body is not valid JSON.
	ErrDecode = errors.New("decode failure")

	// ErrMalformedRecord is returned for a single record that lacks its
	// natural key. It never aborts a page.
	ErrMalformedRecord = errors.New("malformed record")

	// ErrConflict is returned when an insert loses a unique-key race.
	ErrConflict = errors.New("unique key conflict")

	// ErrPersistence is returned for store failures.
	ErrPersistence = errors.New("persistence failure")

	// ErrNotFound is returned by key lookups that match nothing.
	ErrNotFound = errors.New("not found")
)

// ValidationError describes one invalid field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Is reports whether target is ErrValidation.
func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// TransportError is a failed HTTP exchange with the remote tracker.
// StatusCode is zero when no response was received.
type TransportError struct {
	Method     string
	URL        string
	StatusCode int
	Timeout    bool
	Err        error
}

func (e *TransportError) Error() string {
	switch {
	case e.StatusCode != 0:
		return fmt.Sprintf("%s %s: unexpected status %d %s", e.Method, e.URL, e.StatusCode, http.StatusText(e.StatusCode))
	case e.Timeout:
		return fmt.Sprintf("%s %s: timed out: %v", e.Method, e.URL, e.Err)
	default:
		return fmt.Sprintf("%s %s: %v", e.Method, e.URL, e.Err)
	}
}

func (e *TransportError) Unwrap() error { return e.Err }

// Is reports whether target is ErrTransport.
func (e *TransportError) Is(target error) bool { return target == ErrTransport }

// Retryable reports whether the same request may succeed later.
func (e *TransportError) Retryable() bool {
	if e.StatusCode == 0 {
		return true
	}
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}

// DecodeError is a response body that could not be decoded.
type DecodeError struct {
	URL string
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("failed to decode response from %s: %v", e.URL, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Is reports whether target is ErrDecode.
func (e *DecodeError) Is(target error) bool { return target == ErrDecode }

// MalformedRecordError rejects one record of a page.
type MalformedRecordError struct {
	Kind   string // "issue", "user", "changelog"
	Index  int    // position in the walk, -1 if unknown
	Reason string
}

func (e *MalformedRecordError) Error() string {
	if e.Index >= 0 {
		return fmt.Sprintf("malformed %s record #%d: %s", e.Kind, e.Index, e.Reason)
	}
	return fmt.Sprintf("malformed %s record: %s", e.Kind, e.Reason)
}

// Is reports whether target is ErrMalformedRecord.
func (e *MalformedRecordError) Is(target error) bool { return target == ErrMalformedRecord }

// ConflictError is an insert rejected by a unique constraint.
type ConflictError struct {
	Entity string
	Key    string
	Err    error
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s %q already exists: %v", e.Entity, e.Key, e.Err)
}

func (e *ConflictError) Unwrap() error { return e.Err }

// Is reports whether target is ErrConflict.
func (e *ConflictError) Is(target error) bool { return target == ErrConflict }

// PersistenceError is a store failure during Op.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("failed to %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// Is reports whether target is ErrPersistence.
func (e *PersistenceError) Is(target error) bool { return target == ErrPersistence }

// StageError reports the sync stage that aborted and why.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("sync failed during %s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// IsRetryable returns true if the error is likely to succeed on retry.
// Transport failures without a response, 5xx and 429 are retryable, as are
// lost unique-key races.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var te *TransportError
	if errors.As(err, &te) {
		return te.Retryable()
	}

	return errors.Is(err, ErrConflict)
}

// IsClientError returns true if the failure was caused by caller input rather
// than by the remote service or the store.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation)
}

// IsFatal returns true if the error leaves the store unusable for the
// remainder of the run.
func IsFatal(err error) bool {
	return errors.Is(err, ErrPersistence)
}
