package services

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCacheSetGetRoundTrip(t *testing.T) {
	cache := NewCacheService(10, nil)

	cache.Set("greeting", "hello", time.Minute)

	var got string
	require.True(t, cache.Get("greeting", &got))
	assert.Equal(t, "hello", got)
}

func TestCacheMissOnUnknownKey(t *testing.T) {
	cache := NewCacheService(10, nil)

	var got string
	assert.False(t, cache.Get("absent", &got))
}

func TestCacheEntryExpiresAfterTTL(t *testing.T) {
	cache := NewCacheService(10, nil)

	cache.Set("ephemeral", 42, 50*time.Millisecond)

	var got int
	require.True(t, cache.Get("ephemeral", &got))
	assert.Equal(t, 42, got)

	time.Sleep(100 * time.Millisecond)
	assert.False(t, cache.Get("ephemeral", &got), "entry should be expired 100ms after a 50ms TTL")
}

func TestCacheEvictsLeastRecentlyAccessed(t *testing.T) {
	cache := NewCacheService(2, nil)
	base := time.Now()
	tick := 0
	cache.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	}

	cache.Set("a", 1, time.Hour)
	cache.Set("b", 2, time.Hour)

	// Touch "a" so "b" becomes the eviction candidate.
	var got int
	require.True(t, cache.Get("a", &got))

	cache.Set("c", 3, time.Hour)

	assert.True(t, cache.Get("a", &got))
	assert.False(t, cache.Get("b", &got), "least-recently-accessed entry should be evicted")
	assert.True(t, cache.Get("c", &got))
}

func TestCacheOverwriteDoesNotEvict(t *testing.T) {
	cache := NewCacheService(2, nil)

	cache.Set("a", 1, time.Hour)
	cache.Set("b", 2, time.Hour)
	cache.Set("a", 10, time.Hour)

	var got int
	require.True(t, cache.Get("a", &got))
	assert.Equal(t, 10, got)
	assert.True(t, cache.Get("b", &got))
}

func TestCacheServesFromDurableTierAfterEviction(t *testing.T) {
	store := newMemStore()
	cache := NewCacheService(10, store)

	// Seed the durable tier directly, as if the volatile copy was evicted.
	now := time.Now()
	require.NoError(t, store.Put(StoredEntry{
		Key:       "quote:VNM",
		Value:     []byte(`{"symbol":"VNM"}`),
		Category:  "quotes",
		CreatedAt: now,
		ExpiresAt: now.Add(time.Hour),
	}))

	var got struct {
		Symbol string `json:"symbol"`
	}
	require.True(t, cache.Get("quote:VNM", &got))
	assert.Equal(t, "VNM", got.Symbol)

	// The read promoted the entry back into the volatile tier.
	assert.Equal(t, 1, cache.Stats().TotalEntries)
}

func TestCacheIgnoresExpiredDurableEntry(t *testing.T) {
	store := newMemStore()
	cache := NewCacheService(10, store)

	now := time.Now()
	require.NoError(t, store.Put(StoredEntry{
		Key:       "stale",
		Value:     []byte(`"old"`),
		CreatedAt: now.Add(-2 * time.Hour),
		ExpiresAt: now.Add(-time.Hour),
	}))

	var got string
	assert.False(t, cache.Get("stale", &got))
}

func TestCacheMalformedDurablePayloadIsAMiss(t *testing.T) {
	store := newMemStore()
	cache := NewCacheService(10, store)

	now := time.Now()
	require.NoError(t, store.Put(StoredEntry{
		Key:       "bad",
		Value:     []byte(`{invalid`),
		CreatedAt: now,
		ExpiresAt: now.Add(time.Hour),
	}))

	var got map[string]string
	assert.False(t, cache.Get("bad", &got))
}

func TestCacheMalformedVolatileEntryDroppedAsMiss(t *testing.T) {
	cache := NewCacheService(10, nil)

	cache.Set("k", "text", time.Minute)

	// Decoding into an incompatible type fails; the entry must be dropped
	// and counted as a miss, not a hit.
	var wrong int
	assert.False(t, cache.Get("k", &wrong))

	stats := cache.Stats()
	assert.Equal(t, 0, stats.TotalEntries)
	assert.Equal(t, 0.0, stats.HitRate)

	// A later read with the right type goes to a clean miss, not the
	// stale payload.
	var right string
	assert.False(t, cache.Get("k", &right))
}

func TestCacheWritesThroughToDurableTier(t *testing.T) {
	store := newMemStore()
	cache := NewCacheService(10, store)

	cache.SetWithOptions("k", "v", time.Minute, CacheOptions{Category: "quotes", Tags: []string{"live"}})

	// The durable write is asynchronous.
	require.Eventually(t, func() bool { return store.len() == 1 }, time.Second, 10*time.Millisecond)

	stored, err := store.Get("k")
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, "quotes", stored.Category)
	assert.Equal(t, []string{"live"}, stored.Tags)
}

func TestCacheDegradesWhenStoreFails(t *testing.T) {
	cache := NewCacheService(10, brokenStore{})

	cache.Set("k", "v", time.Minute)

	var got string
	assert.True(t, cache.Get("k", &got), "volatile tier must keep serving when the store is down")
	assert.False(t, cache.Get("absent", &got))

	cache.Delete("k")
	cache.ClearCategory("quotes")
	cache.ClearByTag("live")
	assert.Equal(t, int64(0), cache.PurgeExpired())
}

func TestCacheClearCategory(t *testing.T) {
	store := newMemStore()
	cache := NewCacheService(10, store)

	cache.SetWithOptions("q1", 1, time.Minute, CacheOptions{Category: "quotes"})
	cache.SetWithOptions("q2", 2, time.Minute, CacheOptions{Category: "quotes"})
	cache.SetWithOptions("s1", 3, time.Minute, CacheOptions{Category: "search"})
	require.Eventually(t, func() bool { return store.len() == 3 }, time.Second, 10*time.Millisecond)

	cache.ClearCategory("quotes")

	var got int
	assert.False(t, cache.Get("q1", &got))
	assert.False(t, cache.Get("q2", &got))
	assert.True(t, cache.Get("s1", &got))
}

func TestCacheClearByTag(t *testing.T) {
	store := newMemStore()
	cache := NewCacheService(10, store)

	cache.SetWithOptions("a", 1, time.Minute, CacheOptions{Tags: []string{"live", "vndirect"}})
	cache.SetWithOptions("b", 2, time.Minute, CacheOptions{Tags: []string{"simulated"}})
	require.Eventually(t, func() bool { return store.len() == 2 }, time.Second, 10*time.Millisecond)

	cache.ClearByTag("live")

	var got int
	assert.False(t, cache.Get("a", &got))
	assert.True(t, cache.Get("b", &got))
}

func TestCacheStats(t *testing.T) {
	cache := NewCacheService(10, nil)

	cache.SetWithOptions("hot", 1, time.Minute, CacheOptions{Category: "quotes"})
	cache.SetWithOptions("cold", 2, time.Minute, CacheOptions{Category: "search"})

	var got int
	for i := 0; i < 3; i++ {
		require.True(t, cache.Get("hot", &got))
	}
	require.True(t, cache.Get("cold", &got))
	cache.Get("absent", &got)

	stats := cache.Stats()
	assert.Equal(t, 2, stats.TotalEntries)
	assert.InDelta(t, 0.8, stats.HitRate, 0.001)
	assert.Equal(t, map[string]int{"quotes": 1, "search": 1}, stats.Categories)
	require.NotEmpty(t, stats.MostAccessed)
	assert.Equal(t, "hot", stats.MostAccessed[0])
}

func TestCachePurgeExpired(t *testing.T) {
	store := newMemStore()
	cache := NewCacheService(10, store)
	base := time.Now()
	cache.now = func() time.Time { return base }

	cache.Set("keep", 1, time.Hour)
	cache.Set("drop", 2, time.Millisecond)
	require.Eventually(t, func() bool { return store.len() == 2 }, time.Second, 10*time.Millisecond)

	cache.now = func() time.Time { return base.Add(time.Second) }
	removed := cache.PurgeExpired()

	assert.Equal(t, int64(1), removed)
	assert.Equal(t, 1, cache.Stats().TotalEntries)
}

func TestCacheUnserializableValueIsSkipped(t *testing.T) {
	cache := NewCacheService(10, nil)

	cache.Set("fn", func() {}, time.Minute)

	assert.Equal(t, 0, cache.Stats().TotalEntries)
}
