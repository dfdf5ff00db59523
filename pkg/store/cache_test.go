package store

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/third-eye/thirdeye/pkg/models"
)

func newTestCache(t *testing.T) (*ResultCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewResultCache(client, time.Hour), mr
}

func TestResultCache_RoundTrip(t *testing.T) {
	ctx := context.Background()
	cache, _ := newTestCache(t)

	key := CacheKey("sharingan", []byte(`{"intent":"review"}`))
	want := models.EyeResult{
		Eye:        "sharingan",
		OK:         models.BoolPtr(true),
		Code:       models.CodeOKEye,
		MD:         "## Verdict\nlooks intentional",
		Confidence: 0.9,
	}

	_, found, err := cache.Get(ctx, key)
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, cache.Set(ctx, key, want))

	got, found, err := cache.Get(ctx, key)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, want, got)
}

func TestResultCache_TTLExpiry(t *testing.T) {
	ctx := context.Background()
	cache, mr := newTestCache(t)

	key := CacheKey("jogan", []byte("payload"))
	require.NoError(t, cache.Set(ctx, key, models.EyeResult{Eye: "jogan", Code: models.CodeOKEye}))

	mr.FastForward(2 * time.Hour)

	_, found, err := cache.Get(ctx, key)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestResultCache_Invalidate(t *testing.T) {
	ctx := context.Background()
	cache, _ := newTestCache(t)

	key := CacheKey("byakugan", []byte("claims"))
	require.NoError(t, cache.Set(ctx, key, models.EyeResult{Eye: "byakugan", Code: models.CodeOKEye}))
	require.NoError(t, cache.Invalidate(ctx, key))

	_, found, err := cache.Get(ctx, key)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestResultCache_NilIsNoOp(t *testing.T) {
	ctx := context.Background()
	var cache *ResultCache

	require.NoError(t, cache.Set(ctx, "k", models.EyeResult{}))
	_, found, err := cache.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, found)
	require.NoError(t, cache.Invalidate(ctx, "k"))
}

func TestCacheKey_DistinguishesEyeAndPayload(t *testing.T) {
	a := CacheKey("sharingan", []byte("x"))
	b := CacheKey("sharingan", []byte("y"))
	c := CacheKey("rinnegan", []byte("x"))

	assert.NotEqual(t, a, b)
	assert.NotEqual(t, a, c)
}
