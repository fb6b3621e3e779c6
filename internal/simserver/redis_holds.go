package simserver

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis key shapes:
//   seat:{slot}:{seat} -> hold token, PX = remaining TTL
//   hold:{token}       -> JSON Hold, same TTL
// Seat keys make conflict checks O(1); the TTL on both sides means an
// abandoned hold vanishes with no janitor.

// acquireScript claims every seat key or none of them.
var acquireScript = redis.NewScript(`
    local token = ARGV[1]
    local ttl_ms = tonumber(ARGV[2])
    for i = 1, #KEYS do
        if redis.call('EXISTS', KEYS[i]) == 1 then
            return 0
        end
    end
    for i = 1, #KEYS do
        redis.call('SET', KEYS[i], token, 'PX', ttl_ms)
    end
    return 1
`)

// RedisHoldStore keeps holds in redis so the TTL is enforced even if
// the server process dies with the hold outstanding.
type RedisHoldStore struct {
	rdb *redis.Client
}

// NewRedisHoldStore wraps an established redis client.
func NewRedisHoldStore(rdb *redis.Client) *RedisHoldStore {
	return &RedisHoldStore{rdb: rdb}
}

func seatKey(slotID, seatID string) string { return "seat:" + slotID + ":" + seatID }
func holdKey(token string) string          { return "hold:" + token }

// Acquire claims all seats atomically via the Lua script, then records
// the hold itself with the same TTL.
func (s *RedisHoldStore) Acquire(ctx context.Context, h Hold) error {
	ttl := time.Until(h.ExpiresAt)
	if ttl <= 0 {
		return fmt.Errorf("acquire: hold already expired")
	}
	keys := make([]string, len(h.SeatIDs))
	for i, id := range h.SeatIDs {
		keys[i] = seatKey(h.SlotID, id)
	}
	ok, err := acquireScript.Run(ctx, s.rdb, keys, h.Token, ttl.Milliseconds()).Int()
	if err != nil {
		return fmt.Errorf("acquire script: %w", err)
	}
	if ok != 1 {
		return ErrSeatsHeld
	}
	raw, err := json.Marshal(h)
	if err != nil {
		return fmt.Errorf("marshal hold: %w", err)
	}
	if err := s.rdb.Set(ctx, holdKey(h.Token), raw, ttl).Err(); err != nil {
		return fmt.Errorf("store hold: %w", err)
	}
	return nil
}

// Release deletes the hold record and every seat key it still owns.
func (s *RedisHoldStore) Release(ctx context.Context, token string) (Hold, bool, error) {
	h, ok, err := s.Get(ctx, token)
	if err != nil || !ok {
		return Hold{}, false, err
	}
	if err := s.rdb.Del(ctx, holdKey(token)).Err(); err != nil {
		return Hold{}, false, fmt.Errorf("del hold: %w", err)
	}
	for _, id := range h.SeatIDs {
		// Only clear seat keys this token still owns; a later hold on
		// the same seat must survive a double release.
		key := seatKey(h.SlotID, id)
		if cur, err := s.rdb.Get(ctx, key).Result(); err == nil && cur == token {
			_ = s.rdb.Del(ctx, key).Err()
		}
	}
	return h, true, nil
}

// Get loads the live hold for a token; expired records were evicted by
// redis itself.
func (s *RedisHoldStore) Get(ctx context.Context, token string) (Hold, bool, error) {
	raw, err := s.rdb.Get(ctx, holdKey(token)).Bytes()
	if err == redis.Nil {
		return Hold{}, false, nil
	}
	if err != nil {
		return Hold{}, false, fmt.Errorf("get hold: %w", err)
	}
	var h Hold
	if err := json.Unmarshal(raw, &h); err != nil {
		return Hold{}, false, fmt.Errorf("unmarshal hold: %w", err)
	}
	return h, true, nil
}

// HeldSeats scans the slot's seat keys.  SCAN keeps redis responsive;
// the harness key space is small anyway.
func (s *RedisHoldStore) HeldSeats(ctx context.Context, slotID string) ([]string, error) {
	var out []string
	prefix := "seat:" + slotID + ":"
	iter := s.rdb.Scan(ctx, 0, prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		out = append(out, iter.Val()[len(prefix):])
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scan seats: %w", err)
	}
	return out, nil
}
