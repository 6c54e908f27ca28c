package auth

import (
	"context"
	"time"
)

const revokedKeyPrefix = "auth:revoked:"

// KeyValue is the subset of the redis client needed to track revoked tokens.
type KeyValue interface {
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Exists(ctx context.Context, key string) (bool, error)
}

// RedisRevocations keeps revoked token ids in redis with a TTL matching the token expiry.
type RedisRevocations struct {
	kv KeyValue
}

func NewRedisRevocations(kv KeyValue) *RedisRevocations {
	return &RedisRevocations{kv: kv}
}

func (r *RedisRevocations) Revoke(ctx context.Context, tokenID string, ttl time.Duration) error {
	return r.kv.Set(ctx, revokedKeyPrefix+tokenID, "1", ttl)
}

func (r *RedisRevocations) IsRevoked(ctx context.Context, tokenID string) (bool, error) {
	return r.kv.Exists(ctx, revokedKeyPrefix+tokenID)
}
