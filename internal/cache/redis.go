package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

// RedisConfig holds connection parameters for the shared token cache.
type RedisConfig struct {
	Addr     string `toml:"addr"`
	Password string `toml:"password"`
	DB       int    `toml:"db"`
	Prefix   string `toml:"prefix"`
}

// RedisTokenCache shares tokens between appraiser processes. Redis errors
// degrade to fetching directly from the source.
type RedisTokenCache struct {
	rdb    *redis.Client
	prefix string
	skew   time.Duration
	group  singleflight.Group
}

// NewRedisTokenCache connects to Redis and verifies the connection.
func NewRedisTokenCache(ctx context.Context, cfg RedisConfig) (*RedisTokenCache, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis: ping: %w", err)
	}
	return NewRedisTokenCacheWithClient(rdb, cfg.Prefix), nil
}

// NewRedisTokenCacheWithClient wraps an existing client.
func NewRedisTokenCacheWithClient(rdb *redis.Client, prefix string) *RedisTokenCache {
	if prefix == "" {
		prefix = "appraiser:token:"
	}
	return &RedisTokenCache{rdb: rdb, prefix: prefix, skew: DefaultSkew}
}

func (r *RedisTokenCache) GetOrFetch(ctx context.Context, key string, fetch FetchFunc) (string, error) {
	rk := r.prefix + key

	v, err := r.rdb.Get(ctx, rk).Result()
	switch {
	case err == nil && v != "":
		return v, nil
	case err != nil && !errors.Is(err, redis.Nil):
		log.Warn().Err(err).Str("key", key).Msg("token cache read failed")
	}

	res, err, _ := r.group.Do(key, func() (any, error) {
		t, err := fetch(ctx)
		if err != nil {
			return "", err
		}
		if t.Value == "" {
			return "", ErrEmptyToken
		}
		if ttl := time.Until(t.ExpiresAt) - r.skew; ttl > 0 {
			if err := r.rdb.Set(ctx, rk, t.Value, ttl).Err(); err != nil {
				log.Warn().Err(err).Str("key", key).Msg("token cache write failed")
			}
		}
		return t.Value, nil
	})
	if err != nil {
		return "", err
	}
	return res.(string), nil
}

func (r *RedisTokenCache) Invalidate(ctx context.Context, key string) error {
	if err := r.rdb.Del(ctx, r.prefix+key).Err(); err != nil {
		return fmt.Errorf("redis: invalidate %s: %w", key, err)
	}
	return nil
}

// Close closes the Redis connection.
func (r *RedisTokenCache) Close() error {
	return r.rdb.Close()
}

var (
	_ TokenCache = (*MemoryTokenCache)(nil)
	_ TokenCache = (*RedisTokenCache)(nil)
)
