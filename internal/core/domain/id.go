package domain

import (
	"github.com/google/uuid"
)

// UserID is the document-store identifier of a user. It is opaque to the
// call subsystem.
type UserID string

// ConnectionID identifies one live signaling connection.
type ConnectionID string

func NewConnectionID() ConnectionID {
	return ConnectionID(uuid.New().String())
}

func (id UserID) String() string {
	return string(id)
}

func (id ConnectionID) String() string {
	return string(id)
}

// UserChannel is the logical channel every connection of a user joins.
func UserChannel(id UserID) string {
	return "user:" + string(id)
}
