package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestFixedWindowLimiterRedis(t *testing.T) {
	srv := miniredis.RunT(t)
	limiter, err := NewRedisFixedWindowLimiter(srv.Addr(), "", "test:ratelimit", 2, time.Minute)
	if err != nil {
		t.Fatalf("new redis limiter: %v", err)
	}
	ctx := context.Background()
	if !limiter.Allow(ctx, "ip-1") {
		t.Fatalf("first request should pass")
	}
	if !limiter.Allow(ctx, "ip-1") {
		t.Fatalf("second request should pass")
	}
	if limiter.Allow(ctx, "ip-1") {
		t.Fatalf("third request should be blocked")
	}
	if !limiter.Allow(ctx, "ip-2") {
		t.Fatalf("other key should have its own quota")
	}
}

func TestFixedWindowLimitersShareClient(t *testing.T) {
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	login, err := NewFixedWindowLimiter(client, "test:login", 1, time.Minute)
	if err != nil {
		t.Fatalf("login limiter: %v", err)
	}
	otp, err := NewFixedWindowLimiter(client, "test:otp", 1, time.Minute)
	if err != nil {
		t.Fatalf("otp limiter: %v", err)
	}
	ctx := context.Background()
	if !login.Allow(ctx, "ip-1") || !otp.Allow(ctx, "ip-1") {
		t.Fatalf("prefixes should not share counters")
	}
	if login.Allow(ctx, "ip-1") {
		t.Fatalf("second login should be blocked")
	}
}

func TestFixedWindowLimiterRedisFailClosed(t *testing.T) {
	srv := miniredis.RunT(t)
	limiter, err := NewRedisFixedWindowLimiter(srv.Addr(), "", "test:ratelimit", 1, time.Second)
	if err != nil {
		t.Fatalf("new redis limiter: %v", err)
	}
	srv.Close()
	if limiter.Allow(context.Background(), "ip-1") {
		t.Fatalf("limiter should fail closed on redis errors")
	}
}

func TestFixedWindowLimiterRequiresRedisAddr(t *testing.T) {
	limiter, err := NewRedisFixedWindowLimiter("", "", "test:ratelimit", 1, time.Second)
	if err == nil || limiter != nil {
		t.Fatalf("expected constructor error for empty redis addr")
	}
}

func TestFixedWindowLimiterRetryAfter(t *testing.T) {
	srv := miniredis.RunT(t)
	limiter, err := NewRedisFixedWindowLimiter(srv.Addr(), "", "", 1, time.Minute)
	if err != nil {
		t.Fatalf("new redis limiter: %v", err)
	}
	if got := limiter.RetryAfter(); got != "60" {
		t.Fatalf("retry after = %q", got)
	}
}
