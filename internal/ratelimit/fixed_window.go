package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultPrefix = "ransomhub:ratelimit"

var fixedWindowScript = redis.NewScript(`
local count = redis.call("INCR", KEYS[1])
if count == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return count
`)

// FixedWindowLimiter counts hits per key in fixed Redis-backed windows.
// Several limiters may share one client; each gets its own prefix.
type FixedWindowLimiter struct {
	limit  int
	window time.Duration
	client *redis.Client
	prefix string
}

// NewFixedWindowLimiter builds a limiter on an existing client.
func NewFixedWindowLimiter(client *redis.Client, prefix string, limit int, window time.Duration) (*FixedWindowLimiter, error) {
	if client == nil {
		return nil, errors.New("rate limiter redis client is required")
	}
	if limit <= 0 || window <= 0 {
		return nil, errors.New("rate limiter requires positive limit and window")
	}
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		prefix = defaultPrefix
	}
	return &FixedWindowLimiter{limit: limit, window: window, client: client, prefix: prefix}, nil
}

// NewRedisFixedWindowLimiter dials its own client.
func NewRedisFixedWindowLimiter(addr, password, prefix string, limit int, window time.Duration) (*FixedWindowLimiter, error) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return nil, errors.New("rate limiter redis addr is required")
	}
	return NewFixedWindowLimiter(redis.NewClient(&redis.Options{Addr: addr, Password: password}), prefix, limit, window)
}

// RetryAfter returns the Retry-After header value in whole seconds.
func (l *FixedWindowLimiter) RetryAfter() string {
	if l == nil {
		return "60"
	}
	secs := int(l.window.Round(time.Second) / time.Second)
	if secs < 1 {
		secs = 1
	}
	return strconv.Itoa(secs)
}

// Allow reports whether key is within quota for the current window.
// Redis failures fail closed.
func (l *FixedWindowLimiter) Allow(ctx context.Context, key string) bool {
	if l == nil {
		return false
	}
	key = strings.TrimSpace(key)
	if key == "" {
		key = "unknown"
	}
	windowMs := l.window.Milliseconds()
	slot := time.Now().UTC().UnixMilli() / windowMs
	redisKey := fmt.Sprintf("%s:%s:%d", l.prefix, key, slot)

	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	count, err := fixedWindowScript.Run(ctx, l.client, []string{redisKey}, windowMs).Int64()
	if err != nil {
		return false
	}
	return count <= int64(l.limit)
}
