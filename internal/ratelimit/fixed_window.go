// Package ratelimit throttles login attempts per account across every
// terminal sharing one Redis.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

var fixedWindowScript = redis.NewScript(`
local count = redis.call("INCR", KEYS[1])
if count == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return count
`)

// FixedWindowLimiter allows at most limit attempts per key in each window.
type FixedWindowLimiter struct {
	limit  int
	window time.Duration
	now    func() time.Time

	redisClient *redis.Client
	redisPrefix string
}

// NewRedisFixedWindowLimiter creates a limiter backed by the Redis at addr.
func NewRedisFixedWindowLimiter(addr, password, prefix string, limit int, window time.Duration) (*FixedWindowLimiter, error) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return nil, errors.New("rate limiter redis addr is required")
	}
	return NewFixedWindowLimiter(redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
	}), prefix, limit, window)
}

// NewFixedWindowLimiter creates a limiter on an existing Redis client.
func NewFixedWindowLimiter(client *redis.Client, prefix string, limit int, window time.Duration) (*FixedWindowLimiter, error) {
	if limit <= 0 || window < time.Millisecond {
		return nil, errors.New("rate limiter requires positive limit and window")
	}
	if client == nil {
		return nil, errors.New("rate limiter redis client is required")
	}
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = "librarydesk:login"
	}
	return &FixedWindowLimiter{
		limit:       limit,
		window:      window,
		now:         time.Now,
		redisClient: client,
		redisPrefix: prefix,
	}, nil
}

// Close releases the Redis client.
func (l *FixedWindowLimiter) Close() error {
	return l.redisClient.Close()
}

// Allow counts one attempt for key and reports whether it is within quota.
// Redis failures are returned so the caller can fail closed.
func (l *FixedWindowLimiter) Allow(ctx context.Context, key string) (bool, error) {
	key = strings.ToLower(strings.TrimSpace(key))
	if key == "" {
		key = "unknown"
	}
	windowMs := l.window.Milliseconds()
	windowSlot := l.now().UTC().UnixMilli() / windowMs
	redisKey := fmt.Sprintf("%s:%s:%d", l.redisPrefix, key, windowSlot)
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	count, err := fixedWindowScript.Run(ctx, l.redisClient, []string{redisKey}, windowMs).Int64()
	if err != nil {
		return false, fmt.Errorf("rate limit %s: %w", key, err)
	}
	return count <= int64(l.limit), nil
}
