package ws

import "github.com/vasanthgoud799/connectify-sub001/internal/core/domain"

// Client is one live signaling connection.
type Client interface {
	ID() domain.ConnectionID
	UserID() domain.UserID
	Send(frame domain.Frame) error
	Close() error
}
