package domain

import (
	"errors"
	"fmt"
)

// ErrNotFound is the sentinel matched by every NotFoundError.
var ErrNotFound = errors.New("not found")

// ValidationError reports a required field that is missing or malformed.
type ValidationError struct {
	Field  string
	Reason string
}

func (e ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// NotFoundError reports an id that is unknown within the tenant.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e NotFoundError) Error() string {
	kind := e.Kind
	if kind == "" {
		kind = "action"
	}
	return fmt.Sprintf("%s %s not found", kind, e.ID)
}

func (e NotFoundError) Is(target error) bool { return target == ErrNotFound }

// InvalidStatusError reports a status outside the closed enumeration.
type InvalidStatusError struct {
	Value string
}

func (e InvalidStatusError) Error() string {
	return fmt.Sprintf("invalid status %q", e.Value)
}

// TransitionError is returned in strict mode for a jump the workflow table forbids.
type TransitionError struct {
	From Status
	To   Status
}

func (e TransitionError) Error() string {
	return fmt.Sprintf("status transition %s -> %s not allowed", e.From, e.To)
}

// ConflictError reports an edit based on a stale version.
type ConflictError struct {
	ID       string
	Expected int
	Actual   int
}

func (e ConflictError) Error() string {
	return fmt.Sprintf("action %s was modified (expected version %d, current %d)", e.ID, e.Expected, e.Actual)
}

// TransportError wraps timeouts, network failures and server-side 5xx replies.
type TransportError struct {
	Op  string
	Err error
}

func (e TransportError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e TransportError) Unwrap() error { return e.Err }
