package models

import (
	"errors"
	"fmt"
)

var (
	ErrValidation        = errors.New("validation failed")
	ErrDuplicateUsername = errors.New("username already exists")
	ErrNotFound          = errors.New("not found")
	ErrCandidateNotFound = errors.New("candidate not found")
	ErrRoleUndetermined  = errors.New("could not determine candidate's role")
	ErrAlreadyVoted      = errors.New("already voted for this role")
	ErrUnauthorized      = errors.New("invalid credentials")
	ErrPersistence       = errors.New("persistence failure")
)

// ValidationError reports malformed or missing input.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

func Invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// AlreadyVotedError names the candidate that already holds the voter's
// ballot for Role.
type AlreadyVotedError struct {
	Candidate string
	Role      string
}

func (e *AlreadyVotedError) Error() string {
	return fmt.Sprintf("already voted for a %s: vote was cast for %s", e.Role, e.Candidate)
}

func (e *AlreadyVotedError) Unwrap() error { return ErrAlreadyVoted }

// PersistenceError wraps a storage failure. The triggering operation has been
// aborted and in-memory state left as it was before the call.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() []error { return []error{ErrPersistence, e.Err} }

func Persistence(op string, err error) error {
	return &PersistenceError{Op: op, Err: err}
}

// IsFatal reports whether err is a storage failure rather than a business
// rule violation.
func IsFatal(err error) bool {
	return errors.Is(err, ErrPersistence)
}
