package cache

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"metoffice-climate/internal/models"
)

func TestMemoryCacheGetSet(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache(nil)

	_, ok, err := c.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Set(ctx, "k", "v", 0))
	value, ok, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "v", value)
}

func TestMemoryCacheTTL(t *testing.T) {
	ctx := context.Background()
	clock := clockwork.NewFakeClock()
	c := NewMemoryCache(clock)

	require.NoError(t, c.Set(ctx, "k", "v", time.Minute))

	_, ok, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)

	clock.Advance(2 * time.Minute)

	_, ok, err = c.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok, "expired entry should be a miss")
}

func TestMemoryCacheInvalidateByPrefix(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache(nil)

	keys := []string{
		RecordsPageKey("England", "Tmax", 2021, 1, 100),
		RecordsPageKey("England", "Tmax", 2021, 2, 100),
		RecordsPageKey("England", "Tmax", 2019, 1, 100),
		RecordsPageKey("Scotland", "Tmax", 2021, 1, 100),
	}
	for _, k := range keys {
		require.NoError(t, c.Set(ctx, k, "payload", 0))
	}

	removed, err := c.Invalidate(ctx, RecordsYearPrefix("England", "Tmax", 2021))
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	// 2019 and Scotland entries are untouched.
	_, ok, _ := c.Get(ctx, keys[2])
	assert.True(t, ok)
	_, ok, _ = c.Get(ctx, keys[3])
	assert.True(t, ok)
	_, ok, _ = c.Get(ctx, keys[0])
	assert.False(t, ok)
}

func TestKeyEncodingCanonical(t *testing.T) {
	// Codes are lowercased so invalidation and population agree on keys.
	assert.Equal(t,
		RecordsYearPrefix("england", "tmax", 2021),
		RecordsYearPrefix(" England ", "TMAX", 2021),
	)
	assert.Equal(t, "records:england:tmax:2021:p1:l100", RecordsPageKey("England", "Tmax", 2021, 1, 100))
	assert.Equal(t, "agg:yearly:england:tmax:2021", AggregatesKey(models.AggregateYearly, "England", "Tmax", "2021"))
	assert.Equal(t, "agg:decadal:england:tmax:2020s", AggregatesDecadePrefix("England", "Tmax", 2021))
}

func TestInvalidationPrefixesCoverWinterCarryOver(t *testing.T) {
	prefixes := InvalidationPrefixes("England", "Tmax", []int{2021})

	assert.Contains(t, prefixes, "records:england:tmax:2021")
	assert.Contains(t, prefixes, "agg:monthly:england:tmax:2021")
	assert.Contains(t, prefixes, "agg:yearly:england:tmax:2021")
	assert.Contains(t, prefixes, "agg:seasonal:england:tmax:2021")
	// December 2021 feeds the winter labeled 2022.
	assert.Contains(t, prefixes, "agg:seasonal:england:tmax:2022")
	assert.Contains(t, prefixes, "agg:decadal:england:tmax:2020s")
	assert.NotContains(t, prefixes, "records:england:tmax:2019")
}

func TestInvalidationPrefixesDeduplicates(t *testing.T) {
	// Two years in the same decade share one decadal prefix.
	prefixes := InvalidationPrefixes("England", "Rainfall", []int{2020, 2021})

	count := 0
	for _, p := range prefixes {
		if p == "agg:decadal:england:rainfall:2020s" {
			count++
		}
	}
	assert.Equal(t, 1, count)
}
