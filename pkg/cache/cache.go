// Package cache provides the key-value cache with expiring entries the
// router consumes: a Redis-backed implementation for production and an
// in-memory implementation for tests.
package cache

import (
	"context"
	"time"
)

// Cache is the key-value capability with expiring entries the coalescer
// and route engine build on top of.
type Cache interface {
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Get(ctx context.Context, key string, dest interface{}) (bool, error)
	Delete(ctx context.Context, key string) error
	Has(ctx context.Context, key string) (bool, error)
	Health(ctx context.Context) error
	Close() error
}
