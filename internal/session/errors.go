package session

import (
	"errors"
	"fmt"
)

var (
	// ErrAnalysisFailure means the breakdown could not be generated. The
	// session is left in the error phase and the question may be resubmitted.
	ErrAnalysisFailure = errors.New("analysis failed")

	// ErrInvalidBreakdown means an edited breakdown failed validation. The
	// transition to running is refused and nothing changes.
	ErrInvalidBreakdown = errors.New("invalid breakdown")

	// ErrTransportFailure means the event stream failed to open or closed
	// before the run finished.
	ErrTransportFailure = errors.New("transport failure")

	// ErrInvalidTransition means the requested operation is not allowed in
	// the current phase.
	ErrInvalidTransition = errors.New("invalid phase transition")

	// ErrNoActiveSession means there is no current session to act on.
	ErrNoActiveSession = errors.New("no active session")

	// ErrSuperseded means a newer session replaced the one the call was for.
	ErrSuperseded = errors.New("session superseded")

	// ErrInvalidRequest means a new session was asked for with missing or
	// unusable settings.
	ErrInvalidRequest = errors.New("invalid request")

	// ErrNotFound means the session is unknown to the backend and the archive.
	ErrNotFound = errors.New("session not found")
)

// TransitionError describes a refused phase change.
type TransitionError struct {
	SessionID string
	From      string
	Op        string
}

// Error implements the error interface.
func (e *TransitionError) Error() string {
	return fmt.Sprintf("cannot %s session %s in phase %s", e.Op, e.SessionID, e.From)
}

// Unwrap lets errors.Is match ErrInvalidTransition.
func (e *TransitionError) Unwrap() error {
	return ErrInvalidTransition
}
