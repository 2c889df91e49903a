package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/vasanthgoud799/connectify-sub001/internal/core/domain"
)

const keyPrefix = "presence:"

// deleteIfOwner removes the key only while its record still names ARGV[1].
var deleteIfOwner = redis.NewScript(`
local v = redis.call('GET', KEYS[1])
if not v then
  return 0
end
local rec = cjson.decode(v)
if rec.connectionId == ARGV[1] then
  return redis.call('DEL', KEYS[1])
end
return 0
`)

type PresenceStore struct {
	rdb *redis.Client
}

// NewPresenceStore accepts either a redis:// URL or a bare host:port.
func NewPresenceStore(addr string) *PresenceStore {
	opt, err := redis.ParseURL(addr)
	var rdb *redis.Client
	if err != nil {
		rdb = redis.NewClient(&redis.Options{
			Addr: addr,
		})
	} else {
		rdb = redis.NewClient(opt)
	}
	return NewPresenceStoreWithClient(rdb)
}

func NewPresenceStoreWithClient(rdb *redis.Client) *PresenceStore {
	return &PresenceStore{rdb: rdb}
}

func key(userID domain.UserID) string {
	return keyPrefix + userID.String()
}

func (s *PresenceStore) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

func (s *PresenceStore) Close() error {
	return s.rdb.Close()
}

func (s *PresenceStore) Put(ctx context.Context, rec domain.PresenceRecord, ttl time.Duration) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return s.rdb.Set(ctx, key(rec.UserID), raw, ttl).Err()
}

func (s *PresenceStore) Get(ctx context.Context, userID domain.UserID) (domain.PresenceRecord, bool, error) {
	raw, err := s.rdb.Get(ctx, key(userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.PresenceRecord{}, false, nil
	} else if err != nil {
		return domain.PresenceRecord{}, false, err
	}

	var rec domain.PresenceRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return domain.PresenceRecord{}, false, fmt.Errorf("decode presence %s: %w", userID, err)
	}
	return rec, true, nil
}

func (s *PresenceStore) Touch(ctx context.Context, userID domain.UserID, ttl time.Duration) (bool, error) {
	return s.rdb.Expire(ctx, key(userID), ttl).Result()
}

func (s *PresenceStore) DeleteIf(ctx context.Context, userID domain.UserID, connID domain.ConnectionID) (bool, error) {
	n, err := deleteIfOwner.Run(ctx, s.rdb, []string{key(userID)}, connID.String()).Int()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}
