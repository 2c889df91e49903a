package port

import (
	"context"

	"github.com/vasanthgoud799/connectify-sub001/internal/core/domain"
)

// Signaler is the client side of the signaling connection.
type Signaler interface {
	// Emit sends an event under the wire name of the negotiated protocol.
	// It fails immediately while disconnected; nothing is queued.
	Emit(ctx context.Context, event domain.Event, body domain.Body) error
	// Envelopes delivers relay-to-client events. From is set by the relay.
	Envelopes() <-chan domain.Envelope
}

// TokenSource supplies the credential presented when connecting.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
	// Refresh is called after the server rejected the current token.
	Refresh(ctx context.Context) (string, error)
}
