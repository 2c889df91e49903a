package port

import (
	"context"

	"github.com/vasanthgoud799/connectify-sub001/internal/core/domain"
)

// Gateway delivers frames to live signaling connections.
type Gateway interface {
	// Send writes one frame to a connection. An unknown connection is not an error.
	Send(ctx context.Context, connID domain.ConnectionID, frame domain.Frame) error
	// ChannelMembers lists the connections joined to a logical channel.
	ChannelMembers(channel string) []domain.ConnectionID
}
