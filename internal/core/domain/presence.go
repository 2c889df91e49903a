package domain

import "time"

type PresenceStatus string

const (
	StatusOnline  PresenceStatus = "online"
	StatusOffline PresenceStatus = "offline"
)

// PresenceRecord maps a user to the connection currently serving them.
type PresenceRecord struct {
	UserID       UserID         `json:"userId"`
	ConnectionID ConnectionID   `json:"connectionId"`
	Status       PresenceStatus `json:"status"`
	UpdatedAt    time.Time      `json:"updatedAt"`
}
