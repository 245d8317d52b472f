package bucket

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// incrementScript bumps the counter and arms the expiry only on the first
// hit of a window, so later hits never extend it.
var incrementScript = redis.NewScript(`
local count = redis.call('INCR', KEYS[1])
local ttl = redis.call('PTTL', KEYS[1])
if ttl < 0 then
	redis.call('PEXPIRE', KEYS[1], ARGV[1])
	ttl = tonumber(ARGV[1])
end
return {count, ttl}
`)

// RedisStore implements ports.WindowStore on Redis counters with TTLs, so
// every instance sharing the Redis shares the budget.
type RedisStore struct {
	client redis.UniversalClient
	now    func() time.Time
}

// NewRedis creates a Redis-backed window store. A nil now uses time.Now.
func NewRedis(client redis.UniversalClient, now func() time.Time) *RedisStore {
	if now == nil {
		now = time.Now
	}
	return &RedisStore{client: client, now: now}
}

func (s *RedisStore) Increment(ctx context.Context, key string, window time.Duration) (int, time.Time, error) {
	res, err := incrementScript.Run(ctx, s.client, []string{key}, window.Milliseconds()).Int64Slice()
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("increment window %s: %w", key, err)
	}
	if len(res) != 2 {
		return 0, time.Time{}, fmt.Errorf("increment window %s: unexpected reply length %d", key, len(res))
	}
	return int(res[0]), s.now().Add(time.Duration(res[1]) * time.Millisecond), nil
}

func (s *RedisStore) Count(ctx context.Context, key string) (int, time.Time, error) {
	pipe := s.client.Pipeline()
	getCmd := pipe.Get(ctx, key)
	ttlCmd := pipe.PTTL(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return 0, time.Time{}, fmt.Errorf("read window %s: %w", key, err)
	}

	count, err := getCmd.Int()
	if errors.Is(err, redis.Nil) {
		return 0, time.Time{}, nil
	}
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("read window %s: %w", key, err)
	}

	ttl, err := ttlCmd.Result()
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("read window ttl %s: %w", key, err)
	}
	// Negative PTTL means the key vanished or lost its expiry.
	if ttl < 0 {
		return count, time.Time{}, nil
	}
	return count, s.now().Add(ttl), nil
}

func (s *RedisStore) Reset(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("reset window %s: %w", key, err)
	}
	return nil
}
