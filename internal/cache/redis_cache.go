// Package cache keeps form documents and revoked access tokens in Redis.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"formsync/api/internal/auth"
	"formsync/api/internal/store"
)

// ErrMiss reports a key that is absent or expired.
var ErrMiss = errors.New("cache miss")

const (
	formPrefix    = "form:"
	revokedPrefix = "revoked:"
)

// RedisCache is a read-through cache for form details. Entries are dropped on
// every write to the form, so TTL only bounds memory.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisCache connects to redisURL and verifies the connection.
func NewRedisCache(redisURL string, ttl time.Duration) (*RedisCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return NewRedisCacheWithClient(client, ttl), nil
}

func NewRedisCacheWithClient(client *redis.Client, ttl time.Duration) *RedisCache {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &RedisCache{client: client, ttl: ttl}
}

func (c *RedisCache) GetForm(ctx context.Context, formID string) (store.FormDetail, error) {
	raw, err := c.client.Get(ctx, formPrefix+formID).Bytes()
	if errors.Is(err, redis.Nil) {
		return store.FormDetail{}, ErrMiss
	}
	if err != nil {
		return store.FormDetail{}, fmt.Errorf("get cached form: %w", err)
	}
	var detail store.FormDetail
	if err := json.Unmarshal(raw, &detail); err != nil {
		return store.FormDetail{}, fmt.Errorf("decode cached form: %w", err)
	}
	return detail, nil
}

func (c *RedisCache) SetForm(ctx context.Context, detail store.FormDetail) error {
	raw, err := json.Marshal(detail)
	if err != nil {
		return fmt.Errorf("encode form: %w", err)
	}
	if err := c.client.Set(ctx, formPrefix+detail.ID, raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("cache form: %w", err)
	}
	return nil
}

func (c *RedisCache) InvalidateForm(ctx context.Context, formID string) error {
	if err := c.client.Del(ctx, formPrefix+formID).Err(); err != nil {
		return fmt.Errorf("invalidate form: %w", err)
	}
	return nil
}

func revokedKey(jti string) string {
	return revokedPrefix + auth.HashToken(jti)
}

// RevokeToken blocks an access token id until it would have expired anyway.
// Only a hash of the id is stored.
func (c *RedisCache) RevokeToken(ctx context.Context, jti string, expiresAt time.Time) error {
	ttl := time.Until(expiresAt)
	if ttl <= 0 {
		return nil
	}
	if err := c.client.Set(ctx, revokedKey(jti), "1", ttl).Err(); err != nil {
		return fmt.Errorf("revoke token: %w", err)
	}
	return nil
}

func (c *RedisCache) IsTokenRevoked(ctx context.Context, jti string) (bool, error) {
	n, err := c.client.Exists(ctx, revokedKey(jti)).Result()
	if err != nil {
		return false, fmt.Errorf("check revoked token: %w", err)
	}
	return n > 0, nil
}

func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}
