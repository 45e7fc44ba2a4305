package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"strconv"
	"time"

	"github.com/go-faster/errors"
	"github.com/redis/go-redis/v9"

	"github.com/fjod/storefront/internal/domain"
)

// generationTTL keeps the generation counter well past any cache fill that
// could still be in flight.
const generationTTL = 24 * time.Hour

// setIfCurrent stores ARGV[2] under KEYS[1] with a PX of ARGV[3] only when
// the generation in KEYS[2] (missing counts as 0) equals ARGV[1].
var setIfCurrent = redis.NewScript(`
local current = redis.call('GET', KEYS[2]) or '0'
if current ~= ARGV[1] then
	return 0
end
redis.call('SET', KEYS[1], ARGV[2], 'PX', ARGV[3])
return 1
`)

func NewRedisCache(client *redis.Client, baseTTL time.Duration) *RedisCache {
	return &RedisCache{
		client:  client,
		baseTTL: baseTTL,
	}
}

type RedisCache struct {
	client  *redis.Client
	baseTTL time.Duration
}

func (r *RedisCache) Get(ctx context.Context, userID string) (*domain.Cart, int64, error) {
	pipe := r.client.Pipeline()
	cartCmd := pipe.Get(ctx, cacheKey(userID))
	genCmd := pipe.Get(ctx, generationKey(userID))
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, 0, errors.Wrap(err, "redis get failed")
	}

	generation, err := genCmd.Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, 0, errors.Wrap(err, "parse cart generation failed")
	}

	data, err := cartCmd.Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, generation, ErrCacheMiss
	}
	if err != nil {
		return nil, 0, errors.Wrap(err, "redis get failed")
	}

	var cart domain.Cart
	if err2 := json.Unmarshal(data, &cart); err2 != nil {
		return nil, 0, errors.Wrap(err2, "unmarshal cart failed")
	}

	return &cart, generation, nil
}

// Set stores the cart with the base TTL plus up to five minutes of jitter so
// that carts cached together do not expire together. Nothing is stored when
// the cart was invalidated after generation was read.
func (r *RedisCache) Set(ctx context.Context, userID string, generation int64, cart *domain.Cart) error {
	jsonCart, err := json.Marshal(cart)
	if err != nil {
		return errors.Wrap(err, "marshal cart failed")
	}

	jitter := time.Duration(rand.IntN(5)) * time.Minute
	ttl := r.baseTTL + jitter
	err = setIfCurrent.Run(ctx, r.client,
		[]string{cacheKey(userID), generationKey(userID)},
		strconv.FormatInt(generation, 10), jsonCart, ttl.Milliseconds(),
	).Err()
	if err != nil {
		return errors.Wrap(err, "redis set failed")
	}
	return nil
}

func (r *RedisCache) Delete(ctx context.Context, userID string) error {
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, generationKey(userID))
		pipe.Expire(ctx, generationKey(userID), generationTTL)
		pipe.Del(ctx, cacheKey(userID))
		return nil
	})
	if err != nil {
		return errors.Wrap(err, "redis delete failed")
	}

	return nil
}

func cacheKey(userID string) string {
	return fmt.Sprintf("cart:%s", userID)
}

func generationKey(userID string) string {
	return fmt.Sprintf("cart-gen:%s", userID)
}

func NewRedisMergeGuard(client *redis.Client, ttl time.Duration) *RedisMergeGuard {
	return &RedisMergeGuard{client: client, ttl: ttl}
}

type RedisMergeGuard struct {
	client *redis.Client
	ttl    time.Duration
}

func (g *RedisMergeGuard) Claim(ctx context.Context, userID, key string) (bool, error) {
	ok, err := g.client.SetNX(ctx, mergeKey(userID, key), time.Now().UTC().Format(time.RFC3339), g.ttl).Result()
	if err != nil {
		return false, errors.Wrap(err, "redis setnx failed")
	}
	return ok, nil
}

func (g *RedisMergeGuard) Release(ctx context.Context, userID, key string) error {
	if err := g.client.Del(ctx, mergeKey(userID, key)).Err(); err != nil {
		return errors.Wrap(err, "redis delete failed")
	}
	return nil
}

func mergeKey(userID, key string) string {
	return fmt.Sprintf("cart-merge:%s:%s", userID, key)
}
