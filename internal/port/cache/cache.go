// Package cache defines the in-process cache port (interface).
package cache

import (
	"context"
	"time"
)

// Cache is a best-effort byte cache. A miss is never an error.
type Cache interface {
	Get(ctx context.Context, key string) (data []byte, ok bool, err error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Close()
}
