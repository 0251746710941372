// Package ristretto implements the cache port with dgraph-io/ristretto,
// sized and TTL'd for Maestro's persona rows.
package ristretto

import (
	"context"
	"time"

	"github.com/dgraph-io/ristretto/v2"

	"github.com/calyptra/maestro/internal/config"
)

// Cache holds hot persona rows between event-processor ticks so a busy
// subscription does not hit Postgres on every 2-second drain.
type Cache struct {
	c          *ristretto.Cache[string, []byte]
	defaultTTL time.Duration
}

// New builds the cache from config. Cost is byte-sized; the admission
// counters assume persona JSON blobs of roughly a kilobyte.
func New(cfg config.Cache) (*Cache, error) {
	maxCost := cfg.MaxSizeMB << 20
	if maxCost <= 0 {
		maxCost = 16 << 20
	}

	c, err := ristretto.NewCache(&ristretto.Config[string, []byte]{
		NumCounters: maxCost / 1024 * 10, // ~10x the expected entry count
		MaxCost:     maxCost,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}

	return &Cache{c: c, defaultTTL: cfg.TTL}, nil
}

// Get retrieves a value. A miss is not an error.
func (c *Cache) Get(_ context.Context, key string) (data []byte, ok bool, err error) {
	val, found := c.c.Get(key)
	if !found {
		return nil, false, nil
	}
	return val, true, nil
}

// Set stores a value, costed by its size. A non-positive ttl falls back to
// the configured default so persona entries always age out and pick up CRUD
// updates.
func (c *Cache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}
	c.c.SetWithTTL(key, value, int64(len(value)), ttl)
	return nil
}

// Delete removes a value.
func (c *Cache) Delete(_ context.Context, key string) error {
	c.c.Del(key)
	return nil
}

// Close shuts down the cache and releases resources.
func (c *Cache) Close() {
	c.c.Close()
}
