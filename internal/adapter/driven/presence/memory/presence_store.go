package memory

import (
	"context"
	"sync"
	"time"

	"github.com/vasanthgoud799/connectify-sub001/internal/core/domain"
)

type entry struct {
	rec     domain.PresenceRecord
	expires time.Time
}

// PresenceStore keeps presence records in process memory. Expired records
// are dropped lazily on access and by Sweep.
type PresenceStore struct {
	mu      sync.Mutex
	records map[domain.UserID]entry
	now     func() time.Time
}

func NewPresenceStore() *PresenceStore {
	return NewPresenceStoreWithClock(time.Now)
}

func NewPresenceStoreWithClock(now func() time.Time) *PresenceStore {
	return &PresenceStore{
		records: make(map[domain.UserID]entry),
		now:     now,
	}
}

func (s *PresenceStore) Put(ctx context.Context, rec domain.PresenceRecord, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records[rec.UserID] = entry{rec: rec, expires: s.now().Add(ttl)}
	return nil
}

func (s *PresenceStore) Get(ctx context.Context, userID domain.UserID) (domain.PresenceRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.live(userID)
	return e.rec, ok, nil
}

func (s *PresenceStore) Touch(ctx context.Context, userID domain.UserID, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.live(userID)
	if !ok {
		return false, nil
	}
	now := s.now()
	e.rec.UpdatedAt = now
	e.expires = now.Add(ttl)
	s.records[userID] = e
	return true, nil
}

func (s *PresenceStore) DeleteIf(ctx context.Context, userID domain.UserID, connID domain.ConnectionID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.live(userID)
	if !ok || e.rec.ConnectionID != connID {
		return false, nil
	}
	delete(s.records, userID)
	return true, nil
}

// Sweep removes every expired record and returns how many were removed.
func (s *PresenceStore) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	n := 0
	for id, e := range s.records {
		if !now.Before(e.expires) {
			delete(s.records, id)
			n++
		}
	}
	return n
}

// caller holds mu
func (s *PresenceStore) live(userID domain.UserID) (entry, bool) {
	e, ok := s.records[userID]
	if !ok {
		return entry{}, false
	}
	if !s.now().Before(e.expires) {
		delete(s.records, userID)
		return entry{}, false
	}
	return e, true
}
