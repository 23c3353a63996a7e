package osuconcierge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lmittmann/tint"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

var ErrCacheMiss = errors.New("cache miss")

// Cache stores serialized osu! responses and rendered artifacts
type Cache interface {
	// Get returns ErrCacheMiss if the key isn't set
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// RedisCache is a [Cache] backed by redis
type RedisCache struct {
	client *redis.Client
	prefix string
}

// NewRedisCache connects to redis, returning an error if it can't be
// pinged within the dial timeout
func NewRedisCache(ctx context.Context, cfg RedisConfig) (*RedisCache, error) {
	dialTimeout := cfg.DialTimeout
	if dialTimeout <= 0 {
		dialTimeout = DefaultRedisDialTimeout
	}
	rdb := redis.NewClient(
		&redis.Options{
			Addr:        cfg.Addr,
			Password:    cfg.Password,
			DB:          cfg.DB,
			DialTimeout: dialTimeout,
		},
	)

	pingCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("error connecting to redis at %s: %w", cfg.Addr, err)
	}
	return &RedisCache{client: rdb, prefix: cfg.KeyPrefix}, nil
}

func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, error) {
	v, err := c.client.Get(ctx, c.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrCacheMiss
	}
	return v, err
}

func (c *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return c.client.Set(ctx, c.prefix+key, value, ttl).Err()
}

func (c *RedisCache) Delete(ctx context.Context, key string) error {
	return c.client.Del(ctx, c.prefix+key).Err()
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}

// noopCache never stores anything, used when redis isn't configured
type noopCache struct{}

func (noopCache) Get(context.Context, string) ([]byte, error) {
	return nil, ErrCacheMiss
}

func (noopCache) Set(context.Context, string, []byte, time.Duration) error {
	return nil
}

func (noopCache) Delete(context.Context, string) error {
	return nil
}

func (noopCache) Close() error {
	return nil
}

// cachedFetch returns the cached value for key, or calls fetch and
// caches its result. Concurrent misses for the same key share a single
// fetch. Cache errors are logged and otherwise ignored.
func cachedFetch[T any](
	ctx context.Context,
	cache Cache,
	group *singleflight.Group,
	logger *slog.Logger,
	key string,
	ttl time.Duration,
	fetch func(ctx context.Context) (T, error),
) (T, error) {
	var zero T
	if data, err := cache.Get(ctx, key); err == nil {
		var v T
		if err = json.Unmarshal(data, &v); err == nil {
			return v, nil
		}
		logger.WarnContext(ctx, "discarding undecodable cache entry", "key", key, tint.Err(err))
	} else if !errors.Is(err, ErrCacheMiss) {
		logger.WarnContext(ctx, "cache read failed", "key", key, tint.Err(err))
	}

	rv, err, shared := group.Do(
		key, func() (any, error) {
			v, fetchErr := fetch(ctx)
			if fetchErr != nil {
				return nil, fetchErr
			}
			if ttl > 0 {
				if data, marshalErr := json.Marshal(v); marshalErr == nil {
					if setErr := cache.Set(ctx, key, data, ttl); setErr != nil {
						logger.WarnContext(ctx, "cache write failed", "key", key, tint.Err(setErr))
					}
				}
			}
			return v, nil
		},
	)
	if err != nil {
		return zero, err
	}
	if shared {
		logger.DebugContext(ctx, "shared in-flight fetch", "key", key)
	}
	return rv.(T), nil
}
