// Package storage keeps a local history of panel sessions.
package storage

import (
	"errors"

	"github.com/mosaictheory-jt/panel-chat/internal/core"
)

// ErrNotFound is returned when a session is not in the history.
var ErrNotFound = errors.New("session not found in local history")

// Storage defines the interface for session persistence.
type Storage interface {
	// Initialize sets up the storage (creates tables, etc.)
	Initialize() error

	// Close closes the storage connection.
	Close() error

	// Session operations
	SaveSession(s *core.Session) error
	GetSession(id string) (*core.Session, error)
	DeleteSession(id string) error
	ListSessions(limit, offset int) ([]*core.SessionSummary, error)

	// Result operations
	GetResponses(sessionID string) ([]core.Response, error)
	GetDebateMessages(sessionID string) ([]core.DebateMessage, error)
}
