package cache

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

type memoryEntry struct {
	value     string
	expiresAt time.Time
}

// MemoryCache is an in-process Cache with the same prefix-invalidation
// semantics as the Redis backend. Used in tests and cache-less deployments.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	clock   clockwork.Clock
}

// NewMemoryCache creates an empty in-memory cache.
func NewMemoryCache(clock clockwork.Clock) *MemoryCache {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &MemoryCache{
		entries: make(map[string]memoryEntry),
		clock:   clock,
	}
}

// Get returns the cached value if present and not expired.
func (m *MemoryCache) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.RLock()
	entry, ok := m.entries[key]
	m.mu.RUnlock()

	if !ok {
		return "", false, nil
	}
	if !entry.expiresAt.IsZero() && m.clock.Now().After(entry.expiresAt) {
		m.mu.Lock()
		delete(m.entries, key)
		m.mu.Unlock()
		return "", false, nil
	}
	return entry.value, true, nil
}

// Set stores a value; ttl <= 0 means no expiry.
func (m *MemoryCache) Set(_ context.Context, key, value string, ttl time.Duration) error {
	entry := memoryEntry{value: value}
	if ttl > 0 {
		entry.expiresAt = m.clock.Now().Add(ttl)
	}

	m.mu.Lock()
	m.entries[key] = entry
	m.mu.Unlock()
	return nil
}

// Invalidate removes every key with the given prefix.
func (m *MemoryCache) Invalidate(_ context.Context, prefix string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for key := range m.entries {
		if strings.HasPrefix(key, prefix) {
			delete(m.entries, key)
			removed++
		}
	}
	return removed, nil
}

// Ping always succeeds for the in-memory backend.
func (m *MemoryCache) Ping(_ context.Context) error { return nil }

// Close releases all entries.
func (m *MemoryCache) Close() error {
	m.mu.Lock()
	m.entries = make(map[string]memoryEntry)
	m.mu.Unlock()
	return nil
}

// Len reports the number of live entries. Test helper.
func (m *MemoryCache) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}
