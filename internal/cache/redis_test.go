package cache

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fjod/storefront/internal/domain"
)

// setupTestRedis creates a miniredis server and a client pointing at it
func setupTestRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)

	client := redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})
	t.Cleanup(func() { _ = client.Close() })

	return client, mr
}

func TestGet_Success(t *testing.T) {
	client, mr := setupTestRedis(t)
	cache := NewRedisCache(client, 15*time.Minute)

	userID := "user123"
	cart := &domain.Cart{
		UserID: userID,
		Items: []domain.LineItem{
			{ProductID: "p1", Quantity: 2},
			{ProductID: "p2", Quantity: 3},
		},
		Version: 4,
	}

	// Manually set data in miniredis
	cartJSON, _ := json.Marshal(cart)
	require.NoError(t, mr.Set(cacheKey(userID), string(cartJSON)))

	result, generation, err := cache.Get(context.Background(), userID)
	require.NoError(t, err)
	assert.Zero(t, generation)
	assert.Equal(t, userID, result.UserID)
	assert.Len(t, result.Items, 2)
	assert.Equal(t, "p1", result.Items[0].ProductID)
	assert.Equal(t, int64(4), result.Version)
}

func TestGet_CacheMiss(t *testing.T) {
	client, _ := setupTestRedis(t)
	cache := NewRedisCache(client, 15*time.Minute)

	result, _, err := cache.Get(context.Background(), "nonexistent")
	assert.ErrorIs(t, err, ErrCacheMiss)
	assert.Nil(t, result)
}

func TestGet_InvalidJSON(t *testing.T) {
	client, mr := setupTestRedis(t)
	cache := NewRedisCache(client, 15*time.Minute)

	require.NoError(t, mr.Set(cacheKey("user123"), `{"user_id":"us`))

	_, _, err := cache.Get(context.Background(), "user123")
	require.ErrorContains(t, err, "unmarshal cart failed")
}

func TestSet_WithTTL(t *testing.T) {
	client, mr := setupTestRedis(t)
	cache := NewRedisCache(client, 15*time.Minute)

	userID := "user789"
	err := cache.Set(context.Background(), userID, 0, &domain.Cart{
		UserID: userID,
		Items:  []domain.LineItem{{ProductID: "p10", Quantity: 5}},
	})
	require.NoError(t, err)

	stored, err := mr.Get(cacheKey(userID))
	require.NoError(t, err)

	var storedCart domain.Cart
	require.NoError(t, json.Unmarshal([]byte(stored), &storedCart))
	assert.Equal(t, userID, storedCart.UserID)
	assert.Len(t, storedCart.Items, 1)

	// Check that TTL was set (miniredis tracks TTL)
	ttl := mr.TTL(cacheKey(userID))
	assert.True(t, ttl >= 15*time.Minute, "TTL should be at least base TTL")
	assert.True(t, ttl <= 20*time.Minute, "TTL should be base + max jitter")
}

func TestDelete(t *testing.T) {
	client, mr := setupTestRedis(t)
	cache := NewRedisCache(client, 15*time.Minute)

	require.NoError(t, mr.Set(cacheKey("user999"), `{}`))
	assert.True(t, mr.Exists(cacheKey("user999")))

	require.NoError(t, cache.Delete(context.Background(), "user999"))
	assert.False(t, mr.Exists(cacheKey("user999")))

	// Deleting non-existent key should not error
	assert.NoError(t, cache.Delete(context.Background(), "nonexistent"))
}

func TestSet_SkipsCartReadBeforeInvalidation(t *testing.T) {
	client, mr := setupTestRedis(t)
	cache := NewRedisCache(client, 15*time.Minute)
	ctx := context.Background()

	// a reader misses and loads the cart from storage
	_, generation, err := cache.Get(ctx, "u1")
	require.ErrorIs(t, err, ErrCacheMiss)
	stale := &domain.Cart{UserID: "u1", Items: []domain.LineItem{{ProductID: "p1", Quantity: 1}}, Version: 1}

	// a writer changes the cart and invalidates before the reader fills
	require.NoError(t, cache.Delete(ctx, "u1"))

	require.NoError(t, cache.Set(ctx, "u1", generation, stale))
	assert.False(t, mr.Exists(cacheKey("u1")), "stale cart must not be cached")

	// the next reader fills with the current generation
	_, generation, err = cache.Get(ctx, "u1")
	require.ErrorIs(t, err, ErrCacheMiss)
	assert.Equal(t, int64(1), generation)
	fresh := &domain.Cart{UserID: "u1", Items: []domain.LineItem{{ProductID: "p1", Quantity: 2}}, Version: 2}
	require.NoError(t, cache.Set(ctx, "u1", generation, fresh))

	got, _, err := cache.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.Version)
	assert.Equal(t, generationTTL, mr.TTL(generationKey("u1")))
}

func TestCacheKey_Format(t *testing.T) {
	assert.Equal(t, "cart:test123", cacheKey("test123"))
	assert.Equal(t, "cart-gen:test123", generationKey("test123"))
	assert.Equal(t, "cart-merge:u1:k1", mergeKey("u1", "k1"))
}

func TestMergeGuard_ClaimOnce(t *testing.T) {
	client, mr := setupTestRedis(t)
	guard := NewRedisMergeGuard(client, 24*time.Hour)
	ctx := context.Background()

	first, err := guard.Claim(ctx, "u1", "login-1")
	require.NoError(t, err)
	assert.True(t, first)

	second, err := guard.Claim(ctx, "u1", "login-1")
	require.NoError(t, err)
	assert.False(t, second)

	// keys are scoped per user
	other, err := guard.Claim(ctx, "u2", "login-1")
	require.NoError(t, err)
	assert.True(t, other)

	assert.Equal(t, 24*time.Hour, mr.TTL(mergeKey("u1", "login-1")))

	require.NoError(t, guard.Release(ctx, "u1", "login-1"))
	again, err := guard.Claim(ctx, "u1", "login-1")
	require.NoError(t, err)
	assert.True(t, again)
}

func TestMergeGuard_RedisDown(t *testing.T) {
	client, mr := setupTestRedis(t)
	guard := NewRedisMergeGuard(client, time.Hour)
	mr.Close()

	_, err := guard.Claim(context.Background(), "u1", "k")
	assert.ErrorContains(t, err, "redis setnx failed")
}
