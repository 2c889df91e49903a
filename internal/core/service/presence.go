package service

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/vasanthgoud799/connectify-sub001/internal/core/domain"
	"github.com/vasanthgoud799/connectify-sub001/internal/core/port"
	"github.com/vasanthgoud799/connectify-sub001/internal/metrics"
)

// PresenceRegistry maps users to the connection currently serving them.
// Store failures never reach callers: they are logged and read as absent.
type PresenceRegistry struct {
	store port.PresenceStore
	ttl   time.Duration
	now   func() time.Time
}

func NewPresenceRegistry(store port.PresenceStore, ttl time.Duration) *PresenceRegistry {
	return &PresenceRegistry{store: store, ttl: ttl, now: time.Now}
}

func (r *PresenceRegistry) SetOnline(ctx context.Context, userID domain.UserID, connID domain.ConnectionID) {
	rec := domain.PresenceRecord{
		UserID:       userID,
		ConnectionID: connID,
		Status:       domain.StatusOnline,
		UpdatedAt:    r.now().UTC(),
	}
	if err := r.store.Put(ctx, rec, r.ttl); err != nil {
		r.storeError("put", userID, err)
	}
}

// SetOffline clears the record unless a newer connection has replaced connID.
func (r *PresenceRegistry) SetOffline(ctx context.Context, userID domain.UserID, connID domain.ConnectionID) {
	removed, err := r.store.DeleteIf(ctx, userID, connID)
	if err != nil {
		r.storeError("delete", userID, err)
		return
	}
	if !removed {
		log.Debug().Str("user_id", userID.String()).Str("connection_id", connID.String()).Msg("Presence owned by another connection, kept")
	}
}

func (r *PresenceRegistry) LookupConnection(ctx context.Context, userID domain.UserID) (domain.ConnectionID, bool) {
	rec, ok, err := r.store.Get(ctx, userID)
	if err != nil {
		r.storeError("get", userID, err)
		return "", false
	}
	if !ok || rec.ConnectionID == "" {
		return "", false
	}
	return rec.ConnectionID, true
}

// Heartbeat refreshes the ttl of a live record.
func (r *PresenceRegistry) Heartbeat(ctx context.Context, userID domain.UserID) {
	if _, err := r.store.Touch(ctx, userID, r.ttl); err != nil {
		r.storeError("touch", userID, err)
	}
}

func (r *PresenceRegistry) Status(ctx context.Context, userID domain.UserID) domain.PresenceRecord {
	rec, ok, err := r.store.Get(ctx, userID)
	if err != nil {
		r.storeError("get", userID, err)
	}
	if err != nil || !ok {
		return domain.PresenceRecord{UserID: userID, Status: domain.StatusOffline}
	}
	return rec
}

func (r *PresenceRegistry) storeError(op string, userID domain.UserID, err error) {
	metrics.PresenceStoreErrors.WithLabelValues(op).Inc()
	log.Error().Err(err).Str("op", op).Str("user_id", userID.String()).Msg("Presence store failed")
}
