package auth

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// TokenRevoker tracks revoked token ids until expiry.
type TokenRevoker interface {
	Revoke(ctx context.Context, tokenID string, ttl time.Duration) error
	IsRevoked(ctx context.Context, tokenID string) (bool, error)
}

// RedisTokenRevoker stores revoked token ids in Redis with TTL.
type RedisTokenRevoker struct {
	client *redis.Client
	prefix string
}

// NewRedisTokenRevoker builds a Redis-backed revoker.
func NewRedisTokenRevoker(addr, password, prefix string) *RedisTokenRevoker {
	if prefix == "" {
		prefix = "ransomhub:revoked"
	}
	return &RedisTokenRevoker{
		client: redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: password,
		}),
		prefix: prefix,
	}
}

// Revoke marks a token as revoked until expiry.
func (r *RedisTokenRevoker) Revoke(ctx context.Context, tokenID string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	return r.client.Set(ctx, r.key(tokenID), "1", ttl).Err()
}

// IsRevoked checks if the token is revoked.
func (r *RedisTokenRevoker) IsRevoked(ctx context.Context, tokenID string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	res, err := r.client.Exists(ctx, r.key(tokenID)).Result()
	if err != nil {
		return false, err
	}
	return res > 0, nil
}

func (r *RedisTokenRevoker) key(tokenID string) string {
	return r.prefix + ":" + tokenID
}
