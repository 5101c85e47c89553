package presence

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps heartbeats as `presence:{<channel>}:<visitor>` keys with
// SET EX so every gateway process sees the same count.
type RedisStore struct {
	rdb       redis.UniversalClient
	scanCount int64
}

// NewRedisStore wraps an existing client.
func NewRedisStore(rdb redis.UniversalClient) *RedisStore {
	return &RedisStore{rdb: rdb, scanCount: 200}
}

// Touch implements Store.
func (s *RedisStore) Touch(ctx context.Context, channelID, visitorID string, ttl time.Duration) error {
	if err := s.rdb.Set(ctx, Key(channelID, visitorID), 1, ttl).Err(); err != nil {
		return fmt.Errorf("presence: touch: %w", err)
	}
	return nil
}

// Count implements Store with SCAN MATCH. SCAN may return a key more than
// once, so keys are de-duplicated.
func (s *RedisStore) Count(ctx context.Context, channelID string) (int, error) {
	seen := make(map[string]struct{})
	var cursor uint64
	for {
		keys, next, err := s.rdb.Scan(ctx, cursor, channelPattern(channelID), s.scanCount).Result()
		if err != nil {
			return 0, fmt.Errorf("presence: scan: %w", err)
		}
		for _, k := range keys {
			seen[k] = struct{}{}
		}
		if next == 0 {
			return len(seen), nil
		}
		cursor = next
	}
}

// RedisCoalescer shares the broadcast window across processes with
// SET NX PX: whoever creates the key broadcasts, everyone else skips until
// it expires.
type RedisCoalescer struct {
	rdb    redis.UniversalClient
	window time.Duration
}

// NewRedisCoalescer wraps an existing client.
func NewRedisCoalescer(rdb redis.UniversalClient, window time.Duration) *RedisCoalescer {
	return &RedisCoalescer{rdb: rdb, window: window}
}

// Allow implements Coalescer. now is unused; the key TTL is the clock.
func (c *RedisCoalescer) Allow(ctx context.Context, channelID string, _ time.Time) (bool, error) {
	if c.window <= 0 {
		return true, nil
	}
	ok, err := c.rdb.SetNX(ctx, coalesceKey(channelID), 1, c.window).Result()
	if err != nil {
		return false, fmt.Errorf("presence: coalesce: %w", err)
	}
	return ok, nil
}
