package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"metoffice-climate/pkg/logging"
)

// RedisCache is the Redis-backed Cache. Prefix invalidation walks the key
// space with SCAN rather than KEYS so large caches do not block the server.
type RedisCache struct {
	client *redis.Client
	logger *logging.StructuredLogger
}

// RedisOptions configures the Redis connection.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
}

// NewRedisCache connects to Redis and verifies the connection.
func NewRedisCache(ctx context.Context, opts RedisOptions, logger *logging.StructuredLogger) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", opts.Addr, err)
	}

	logger.Info(ctx, "[CACHE_INIT] Redis connection established", logging.Fields{
		"addr": opts.Addr,
		"db":   opts.DB,
	})

	return &RedisCache{client: client, logger: logger}, nil
}

// Get returns the cached value if present.
func (r *RedisCache) Get(ctx context.Context, key string) (string, bool, error) {
	value, err := r.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("cache get %s: %w", key, err)
	}
	return value, true, nil
}

// Set stores a value with the given TTL.
func (r *RedisCache) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := r.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("cache set %s: %w", key, err)
	}
	return nil
}

// Invalidate removes every key with the given prefix and returns the number
// of keys removed.
func (r *RedisCache) Invalidate(ctx context.Context, prefix string) (int, error) {
	var (
		cursor  uint64
		removed int
	)

	for {
		keys, next, err := r.client.Scan(ctx, cursor, prefix+"*", 200).Result()
		if err != nil {
			return removed, fmt.Errorf("cache scan %s: %w", prefix, err)
		}

		if len(keys) > 0 {
			n, err := r.client.Del(ctx, keys...).Result()
			if err != nil {
				return removed, fmt.Errorf("cache del %s: %w", prefix, err)
			}
			removed += int(n)
		}

		cursor = next
		if cursor == 0 {
			break
		}
	}

	if removed > 0 {
		r.logger.Debug(ctx, "[CACHE_INVALIDATE] Keys removed", logging.Fields{
			"prefix":  prefix,
			"removed": removed,
		})
	}

	return removed, nil
}

// Ping checks the Redis connection.
func (r *RedisCache) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (r *RedisCache) Close() error {
	return r.client.Close()
}
