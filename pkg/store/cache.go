package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/third-eye/thirdeye/pkg/models"
)

// ResultCache memoizes eye results in Redis keyed by eye name and payload
// digest. A nil *ResultCache is a no-op, so callers need no enabled checks.
type ResultCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewResultCache creates a cache over an existing Redis client.
func NewResultCache(client *redis.Client, ttl time.Duration) *ResultCache {
	return &ResultCache{client: client, ttl: ttl}
}

// CacheKey derives the storage key for an eye invocation.
func CacheKey(eye string, payload []byte) string {
	sum := sha256.Sum256(payload)
	return fmt.Sprintf("thirdeye:result:%s:%s", eye, hex.EncodeToString(sum[:]))
}

// Get returns the cached result for the key, or found=false on a miss.
func (c *ResultCache) Get(ctx context.Context, key string) (models.EyeResult, bool, error) {
	if c == nil {
		return models.EyeResult{}, false, nil
	}
	data, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return models.EyeResult{}, false, nil
	}
	if err != nil {
		return models.EyeResult{}, false, fmt.Errorf("cache get %s: %w", key, err)
	}
	var result models.EyeResult
	if err := json.Unmarshal(data, &result); err != nil {
		return models.EyeResult{}, false, fmt.Errorf("cache decode %s: %w", key, err)
	}
	return result, true, nil
}

// Set stores a result under the key for the cache TTL.
func (c *ResultCache) Set(ctx context.Context, key string, result models.EyeResult) error {
	if c == nil {
		return nil
	}
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("cache encode %s: %w", key, err)
	}
	if err := c.client.Set(ctx, key, data, c.ttl).Err(); err != nil {
		return fmt.Errorf("cache set %s: %w", key, err)
	}
	return nil
}

// Invalidate removes one cached result.
func (c *ResultCache) Invalidate(ctx context.Context, key string) error {
	if c == nil {
		return nil
	}
	return c.client.Del(ctx, key).Err()
}
