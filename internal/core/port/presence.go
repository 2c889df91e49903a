package port

import (
	"context"
	"time"

	"github.com/vasanthgoud799/connectify-sub001/internal/core/domain"
)

// PresenceStore is the backing store of the presence registry. Records expire
// on their own after the ttl given at write time.
type PresenceStore interface {
	Put(ctx context.Context, rec domain.PresenceRecord, ttl time.Duration) error
	// Get reports false when no live record exists.
	Get(ctx context.Context, userID domain.UserID) (domain.PresenceRecord, bool, error)
	// Touch extends the ttl of a live record.
	Touch(ctx context.Context, userID domain.UserID, ttl time.Duration) (bool, error)
	// DeleteIf removes the record only while it still names connID.
	DeleteIf(ctx context.Context, userID domain.UserID, connID domain.ConnectionID) (bool, error)
}

type PresenceLookup interface {
	LookupConnection(ctx context.Context, userID domain.UserID) (domain.ConnectionID, bool)
	Heartbeat(ctx context.Context, userID domain.UserID)
}
