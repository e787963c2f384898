package identity

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	DefaultCacheTTL = time.Hour
	cacheKeyPrefix  = "payments:identity:"
)

type cmdable interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// RedisCache stores resolved users keyed by a digest of the credential, so
// raw tokens never reach Redis.
type RedisCache struct {
	store  cmdable
	ttl    time.Duration
	logger *zap.Logger
}

func NewRedisCache(client *redis.Client, ttl time.Duration, logger *zap.Logger) *RedisCache {
	return newRedisCache(client, ttl, logger)
}

func newRedisCache(store cmdable, ttl time.Duration, logger *zap.Logger) *RedisCache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &RedisCache{store: store, ttl: ttl, logger: logger}
}

// NewRedisClient parses url and checks the server answers.
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

func cacheKey(credential string) string {
	sum := sha256.Sum256([]byte(credential))
	return cacheKeyPrefix + hex.EncodeToString(sum[:])
}

func (c *RedisCache) Get(ctx context.Context, credential string) (*User, bool) {
	raw, err := c.store.Get(ctx, cacheKey(credential)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, false
	}
	if err != nil {
		c.logger.Warn("Не удалось прочитать кэш пользователей", zap.Error(err))
		return nil, false
	}
	var user User
	if err := json.Unmarshal([]byte(raw), &user); err != nil {
		return nil, false
	}
	return &user, true
}

func (c *RedisCache) Put(ctx context.Context, credential string, user *User) {
	data, err := json.Marshal(user)
	if err != nil {
		return
	}
	if err := c.store.Set(ctx, cacheKey(credential), data, c.ttl).Err(); err != nil {
		c.logger.Warn("Не удалось записать пользователя в кэш", zap.Error(err))
	}
}

func (c *RedisCache) Invalidate(ctx context.Context, credential string) error {
	if err := c.store.Del(ctx, cacheKey(credential)).Err(); err != nil {
		return fmt.Errorf("invalidate cached identity: %w", err)
	}
	return nil
}
