package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisConfig configures a RedisCache connection.
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
	Prefix   string
}

// RedisCache implements Cache against a Redis server.
type RedisCache struct {
	client *redis.Client
	prefix string
}

// NewRedisCache dials Redis and verifies connectivity before returning.
func NewRedisCache(cfg RedisConfig) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return &RedisCache{client: client, prefix: cfg.Prefix}, nil
}

func (r *RedisCache) fullKey(key string) string {
	if r.prefix == "" {
		return key
	}
	return r.prefix + ":" + key
}

// Set marshals value as JSON and stores it with the given ttl. ttl<=0
// means no expiration.
func (r *RedisCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal cache value: %w", err)
	}
	if err := r.client.Set(ctx, r.fullKey(key), data, ttl).Err(); err != nil {
		return fmt.Errorf("set cache key %s: %w", key, err)
	}
	return nil
}

// Get unmarshals the stored value into dest, returning (false, nil) on a
// cache miss.
func (r *RedisCache) Get(ctx context.Context, key string, dest interface{}) (bool, error) {
	data, err := r.client.Get(ctx, r.fullKey(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, fmt.Errorf("get cache key %s: %w", key, err)
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return false, fmt.Errorf("unmarshal cache value for %s: %w", key, err)
	}
	return true, nil
}

// Delete removes key, ignoring a missing key.
func (r *RedisCache) Delete(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, r.fullKey(key)).Err(); err != nil {
		return fmt.Errorf("delete cache key %s: %w", key, err)
	}
	return nil
}

// Has reports whether key currently exists.
func (r *RedisCache) Has(ctx context.Context, key string) (bool, error) {
	count, err := r.client.Exists(ctx, r.fullKey(key)).Result()
	if err != nil {
		return false, fmt.Errorf("check cache key %s: %w", key, err)
	}
	return count > 0, nil
}

// Health pings the Redis server.
func (r *RedisCache) Health(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close releases the underlying connection pool.
func (r *RedisCache) Close() error {
	return r.client.Close()
}
