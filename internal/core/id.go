package core

import (
	"github.com/google/uuid"
)

// GenerateID returns a new random identifier.
// The backend assigns session and response IDs; this is only used for
// records that arrive without one.
func GenerateID() string {
	return uuid.New().String()
}
