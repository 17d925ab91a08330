package challenge

import (
	"errors"
	"fmt"
)

// ErrChallengeNotFound is returned when a join targets an id the shared
// store has never seen. Recoverable; no session is created.
var ErrChallengeNotFound = errors.New("challenge not found")

// ErrChallengeAlreadyStarted is returned when a join arrives after the
// challenge left the waiting state. Late joiners have no legal status path,
// so they are rejected outright.
var ErrChallengeAlreadyStarted = errors.New("challenge already started")

// ErrNoSession is returned by operations that need a loaded challenge when
// the session has none.
var ErrNoSession = errors.New("no active challenge in session")

// ValidationError rejects bad input before any state mutation.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// TransportError marks a read against the shared store that failed for
// connectivity or server reasons, as opposed to the id simply being unknown.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("remote store read failed: %v", e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// SyncError marks a write to the shared store that failed. The local state
// has already advanced; other participants just may not see the update yet.
type SyncError struct {
	Err error
}

func (e *SyncError) Error() string {
	return fmt.Sprintf("remote store write failed: %v", e.Err)
}

func (e *SyncError) Unwrap() error { return e.Err }
