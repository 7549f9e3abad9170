package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryCache_Expiry(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache()
	now := time.Unix(1000, 0)
	c.now = func() time.Time { return now }

	c.SetURL(ctx, "videos/a.mp4", "https://signed/a", 50*time.Minute)
	c.SetURL(ctx, "videos/b.mp4", "https://signed/b", 0)

	u, ok := c.GetURL(ctx, "videos/a.mp4")
	require.True(t, ok)
	assert.Equal(t, "https://signed/a", u)
	_, ok = c.GetURL(ctx, "videos/b.mp4")
	assert.False(t, ok)

	now = now.Add(50 * time.Minute)
	_, ok = c.GetURL(ctx, "videos/a.mp4")
	assert.False(t, ok)
	assert.Zero(t, c.Len())
}

func TestMemoryCache_SweepsExpiredOnGrowth(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache()
	c.sweepAt = 4
	now := time.Unix(1000, 0)
	c.now = func() time.Time { return now }

	for _, k := range []string{"a", "b", "c", "d"} {
		c.SetURL(ctx, k, "u-"+k, time.Minute)
	}
	now = now.Add(2 * time.Minute)
	c.SetURL(ctx, "e", "u-e", time.Minute)
	assert.Equal(t, 1, c.Len())
}

func setupMiniRedis(t *testing.T) (*miniredis.Miniredis, *RedisCache) {
	t.Helper()
	mr := miniredis.RunT(t)
	c, err := NewRedisCache(context.Background(), RedisConfig{Addr: mr.Addr()}, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return mr, c
}

func TestRedisCache_SetGetExpire(t *testing.T) {
	ctx := context.Background()
	mr, c := setupMiniRedis(t)

	_, ok := c.GetURL(ctx, "videos/a.mp4")
	assert.False(t, ok)

	c.SetURL(ctx, "videos/a.mp4", "https://signed/a", 50*time.Minute)
	u, ok := c.GetURL(ctx, "videos/a.mp4")
	require.True(t, ok)
	assert.Equal(t, "https://signed/a", u)
	assert.True(t, mr.Exists(keyPrefix+"videos/a.mp4"))
	assert.Equal(t, 50*time.Minute, mr.TTL(keyPrefix+"videos/a.mp4"))

	mr.FastForward(51 * time.Minute)
	_, ok = c.GetURL(ctx, "videos/a.mp4")
	assert.False(t, ok)
}

func TestRedisCache_FailuresAreMisses(t *testing.T) {
	ctx := context.Background()
	mr, c := setupMiniRedis(t)
	c.SetURL(ctx, "k", "v", time.Minute)
	mr.Close()

	_, ok := c.GetURL(ctx, "k")
	assert.False(t, ok)
	c.SetURL(ctx, "k", "v", time.Minute)
}

func TestNewRedisCache_Unreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	_, err := NewRedisCache(context.Background(), RedisConfig{Addr: addr}, zerolog.Nop())
	assert.Error(t, err)
}
