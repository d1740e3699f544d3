// redis.go -- go-redis client for login rate limiting.
//
// Counters live in Redis so every web instance shares one view of attempts.
// When REDIS_URL is empty, NoopRateLimiter allows everything.
package store

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// NewRedisClient connects to Redis and pings it before returning.
// Call once at startup from main.go...the returned client is safe for concurrent use.
func NewRedisClient(ctx context.Context, redisURL string) (*redis.Client, error) {
	// Parse redisURL to get option values, if err return it
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}

	rdb := redis.NewClient(opt)

	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, err
	}

	return rdb, nil
}

// RedisRateLimiter counts attempts per key inside a window and locks the key out
// once the policy's MaxAttempts is exceeded.
type RedisRateLimiter struct {
	rdb *redis.Client
}

// NewRedisRateLimiter wraps a shared Redis client.
func NewRedisRateLimiter(rdb *redis.Client) *RedisRateLimiter {
	return &RedisRateLimiter{rdb: rdb}
}

// allowScript records one attempt and reports whether it is within policy.
// Returns 1 if allowed, 0 if locked out.
// KEYS[1] = counter, KEYS[2] = lockout flag.
// ARGV[1] = max attempts, ARGV[2] = window ms, ARGV[3] = lockout ms.
var allowScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[2]) == 1 then
    return 0
end
local n = redis.call('INCR', KEYS[1])
if n == 1 then
    redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
if n > tonumber(ARGV[1]) then
    redis.call('SET', KEYS[2], '1', 'PX', ARGV[3])
    redis.call('DEL', KEYS[1])
    return 0
end
return 1
`)

// Allow records an attempt for key. Returns ErrRateLimitExceeded when locked out.
func (l *RedisRateLimiter) Allow(ctx context.Context, key string, policy RateLimit) error {
	ok, err := allowScript.Run(ctx, l.rdb,
		[]string{counterKey(key), lockoutKey(key)},
		policy.MaxAttempts, policy.Window.Milliseconds(), policy.LockoutTTL.Milliseconds(),
	).Int64()
	if err != nil {
		return fmt.Errorf("checking rate limit: %w", err)
	}
	if ok == 0 {
		return ErrRateLimitExceeded
	}
	return nil
}

// Reset clears the attempt counter for key (e.g. after a successful login).
// An active lockout is left in place.
func (l *RedisRateLimiter) Reset(ctx context.Context, key string) error {
	if err := l.rdb.Del(ctx, counterKey(key)).Err(); err != nil {
		return fmt.Errorf("resetting rate limit: %w", err)
	}
	return nil
}

// CheckHealth pings Redis. Used by GET /health.
func (l *RedisRateLimiter) CheckHealth(ctx context.Context) error {
	return l.rdb.Ping(ctx).Err()
}

func counterKey(key string) string { return fmt.Sprintf("ratelimit:%s", key) }
func lockoutKey(key string) string { return fmt.Sprintf("lockout:%s", key) }

// NoopRateLimiter allows every attempt. Used when Redis is not configured.
type NoopRateLimiter struct{}

func (NoopRateLimiter) Allow(context.Context, string, RateLimit) error { return nil }
func (NoopRateLimiter) Reset(context.Context, string) error            { return nil }

// CheckHealth always returns ErrLimiterDisabled so /health can report "disabled".
func (NoopRateLimiter) CheckHealth(context.Context) error { return ErrLimiterDisabled }
