package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Revocations is the logout blacklist. A revoked token is refused by both
// the HTTP middleware and the websocket handshake until it would have
// expired anyway.
type Revocations interface {
	Revoke(ctx context.Context, token string, ttl time.Duration) error
	IsRevoked(ctx context.Context, token string) (bool, error)
}

// RedisRevocations stores "blacklist:<token>" keys with a TTL equal to the
// token's remaining lifetime, so the set never outgrows the live tokens.
type RedisRevocations struct {
	client redis.UniversalClient
}

func NewRedisRevocations(client redis.UniversalClient) *RedisRevocations {
	return &RedisRevocations{client: client}
}

func revocationKey(token string) string {
	return "blacklist:" + token
}

func (r *RedisRevocations) Revoke(ctx context.Context, token string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	if err := r.client.Set(ctx, revocationKey(token), "1", ttl).Err(); err != nil {
		return fmt.Errorf("revoke token: %w", err)
	}
	return nil
}

func (r *RedisRevocations) IsRevoked(ctx context.Context, token string) (bool, error) {
	n, err := r.client.Exists(ctx, revocationKey(token)).Result()
	if err != nil {
		return false, fmt.Errorf("check revocation: %w", err)
	}
	return n > 0, nil
}

// NoRevocations is used when redis is not configured: logout becomes a
// client-side token drop and nothing is ever considered revoked.
type NoRevocations struct{}

func (NoRevocations) Revoke(context.Context, string, time.Duration) error { return nil }

func (NoRevocations) IsRevoked(context.Context, string) (bool, error) { return false, nil }
