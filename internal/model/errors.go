package model

import (
	"errors"
	"fmt"
)

// Fatal run errors. Callers wrap them with context and test with errors.Is.
var (
	// ErrAuth means no authenticated session could be obtained.
	ErrAuth = errors.New("remote authentication failed")
	// ErrRemoteList means the remote listing used for existence checks failed.
	ErrRemoteList = errors.New("remote listing failed")
	// ErrRecordIO means the persisted sync state could not be read or written.
	ErrRecordIO = errors.New("sync record io failed")
)

// FailureKind tells recoverable per-event failures apart.
type FailureKind int

const (
	ParseFailure FailureKind = iota
	MutationFailure
)

func (k FailureKind) String() string {
	if k == MutationFailure {
		return "mutation"
	}
	return "parse"
}

// EventError is a recoverable failure isolated to one record or event.
type EventError struct {
	Kind     FailureKind
	Op       string // "parse", "delete", "insert", "purge"
	EventID  string
	Identity string
	Err      error
}

func (e *EventError) Error() string {
	if e.EventID != "" {
		return fmt.Sprintf("%s %s (%s): %v", e.Op, e.EventID, e.Identity, e.Err)
	}
	return fmt.Sprintf("%s %q: %v", e.Op, e.Identity, e.Err)
}

func (e *EventError) Unwrap() error {
	return e.Err
}
