// Package cache provides the derived-data cache used in front of the
// persistence store. Entries are disposable: everything in the cache can be
// reconstructed from the database, and the primary freshness guarantee is
// event-driven prefix invalidation from the ingestion and aggregation write
// paths. TTL is a secondary safety net only.
package cache

import (
	"context"
	"time"
)

// Cache is the read/write/invalidate contract. Keys are canonical strings
// built by the Key helpers so that one ingestion event can invalidate
// exactly the entries whose filter values intersect the affected scope.
type Cache interface {
	// Get returns the cached value and whether the key was present.
	Get(ctx context.Context, key string) (string, bool, error)
	// Set stores a value under key with the given TTL.
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	// Invalidate removes every key sharing the given prefix and returns
	// the number of keys removed. It never flushes unrelated entries.
	Invalidate(ctx context.Context, prefix string) (int, error)
	// Ping checks backend availability.
	Ping(ctx context.Context) error
	Close() error
}
