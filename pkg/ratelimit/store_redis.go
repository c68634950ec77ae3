package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// fixedWindowScript counts hits in a fixed window atomically.
// KEYS[1] = counter key (already window-qualified)
// ARGV[1] = window span in seconds (expiry)
var fixedWindowScript = redis.NewScript(`
local count = redis.call("INCR", KEYS[1])
if count == 1 then
    redis.call("EXPIRE", KEYS[1], tonumber(ARGV[1]))
end
return count
`)

// RedisStore implements Store over Redis so replicas share counters.
type RedisStore struct {
	client *redis.Client
	clock  func() time.Time
}

// NewRedisStore creates a store backed by Redis.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client, clock: time.Now}
}

// WithClock overrides the clock for deterministic testing.
func (s *RedisStore) WithClock(clock func() time.Time) *RedisStore {
	s.clock = clock
	return s
}

// Incr increments the window-qualified counter and returns the new count.
func (s *RedisStore) Incr(ctx context.Context, key string, span time.Duration) (int64, error) {
	windowStart := s.clock().Truncate(span).Unix()
	redisKey := fmt.Sprintf("ratelimit:%s:%d:%d", key, int64(span.Seconds()), windowStart)

	res, err := fixedWindowScript.Run(ctx, s.client, []string{redisKey}, int64(span.Seconds())).Result()
	if err != nil {
		return 0, fmt.Errorf("ratelimit: redis incr: %w", err)
	}
	count, ok := res.(int64)
	if !ok {
		return 0, fmt.Errorf("ratelimit: unexpected script result %T", res)
	}
	return count, nil
}
