// Package apperr defines the error taxonomy shared by the document store,
// the page cache and the HTTP layer.
package apperr

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrConflict      = errors.New("conflict")
	ErrAlreadyExists = errors.New("already exists")
	ErrInvalidInput  = errors.New("invalid input")
	ErrRemoteStore   = errors.New("remote store error")
	ErrPartialMove   = errors.New("partial move")
)

// ConflictError is returned when an optimistic-concurrency check fails.
// It carries enough of the current state for a client to reconcile.
type ConflictError struct {
	ExpectedHash   string
	CurrentHash    string
	LastEditor     string
	LastEditedAt   time.Time
	CurrentContent string
	// Remote is set when the remote store rejected the write rather than the cache check.
	Remote bool
}

func (e *ConflictError) Error() string {
	if e.Remote {
		return fmt.Sprintf("conflict: remote rejected base hash %q", e.ExpectedHash)
	}
	return fmt.Sprintf("conflict: expected hash %q, current %q", e.ExpectedHash, e.CurrentHash)
}

func (e *ConflictError) Is(target error) bool {
	return target == ErrConflict
}

// RemoteError wraps a failure reported by the remote document store.
type RemoteError struct {
	Op     string
	Path   string
	Status int
	Err    error
}

func (e *RemoteError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("remote %s %s: status=%d: %v", e.Op, e.Path, e.Status, e.Err)
	}
	return fmt.Sprintf("remote %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *RemoteError) Is(target error) bool {
	return target == ErrRemoteStore
}

func (e *RemoteError) Unwrap() error {
	return e.Err
}

// PartialMoveError reports a move whose copy succeeded but whose delete of the
// source failed; both copies are present in the remote store.
type PartialMoveError struct {
	From string
	To   string
	Err  error
}

func (e *PartialMoveError) Error() string {
	return fmt.Sprintf("move %s -> %s: copy committed, source delete failed: %v", e.From, e.To, e.Err)
}

func (e *PartialMoveError) Is(target error) bool {
	return target == ErrPartialMove || target == ErrRemoteStore
}

func (e *PartialMoveError) Unwrap() error {
	return e.Err
}
