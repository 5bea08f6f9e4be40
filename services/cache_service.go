package services

import (
	"encoding/json"
	"log"
	"sort"
	"sync"
	"time"
)

// CacheOptions carries optional entry metadata used by bulk clears.
type CacheOptions struct {
	Category string
	Tags     []string
}

// CacheStats is a read-only snapshot of cache behavior.
type CacheStats struct {
	TotalEntries int            `json:"total_entries"`
	HitRate      float64        `json:"hit_rate"`
	Categories   map[string]int `json:"categories"`
	MostAccessed []string       `json:"most_accessed"`
}

type cacheEntry struct {
	key         string
	value       []byte
	category    string
	tags        []string
	createdAt   time.Time
	expiresAt   time.Time
	lastAccess  time.Time
	accessCount int64
}

// CacheService is a two-tier cache: a volatile in-memory tier with TTL expiry
// and LRU eviction, backed by a best-effort durable tier. The volatile copy is
// authoritative while present; the durable copy serves reads once the volatile
// entry has been evicted. Durable-tier failures degrade to volatile-only
// operation and are never surfaced to callers.
type CacheService struct {
	mu         sync.Mutex
	entries    map[string]*cacheEntry
	maxEntries int
	store      PersistentStore
	hits       int64
	misses     int64
	now        func() time.Time
}

// NewCacheService creates a cache with the given volatile capacity. store may
// be nil, in which case the cache runs volatile-only.
func NewCacheService(maxEntries int, store PersistentStore) *CacheService {
	if maxEntries <= 0 {
		maxEntries = 1000
	}
	return &CacheService{
		entries:    make(map[string]*cacheEntry),
		maxEntries: maxEntries,
		store:      store,
		now:        time.Now,
	}
}

// Set stores a value under key with the given TTL.
func (c *CacheService) Set(key string, value interface{}, ttl time.Duration) {
	c.SetWithOptions(key, value, ttl, CacheOptions{})
}

// SetWithOptions stores a value with category/tag metadata. The volatile write
// is synchronous; the durable write happens in the background and a failure
// there is logged and otherwise ignored.
func (c *CacheService) SetWithOptions(key string, value interface{}, ttl time.Duration, opts CacheOptions) {
	payload, err := json.Marshal(value)
	if err != nil {
		log.Printf("Cache set skipped for %s: unserializable value: %v", key, err)
		return
	}

	now := c.now()
	entry := &cacheEntry{
		key:        key,
		value:      payload,
		category:   opts.Category,
		tags:       opts.Tags,
		createdAt:  now,
		expiresAt:  now.Add(ttl),
		lastAccess: now,
	}

	c.mu.Lock()
	c.insertLocked(entry)
	c.mu.Unlock()

	if c.store != nil {
		stored := StoredEntry{
			Key:       key,
			Value:     payload,
			Category:  opts.Category,
			Tags:      opts.Tags,
			CreatedAt: now,
			ExpiresAt: entry.expiresAt,
		}
		go func() {
			if err := c.store.Put(stored); err != nil {
				log.Printf("Durable cache write failed for %s: %v", key, err)
			}
		}()
	}
}

// insertLocked admits an entry into the volatile tier, evicting the
// least-recently-accessed entry first when at capacity.
func (c *CacheService) insertLocked(entry *cacheEntry) {
	if _, exists := c.entries[entry.key]; !exists && len(c.entries) >= c.maxEntries {
		var lruKey string
		var lruAccess time.Time
		for k, e := range c.entries {
			if lruKey == "" || e.lastAccess.Before(lruAccess) {
				lruKey = k
				lruAccess = e.lastAccess
			}
		}
		if lruKey != "" {
			delete(c.entries, lruKey)
		}
	}
	c.entries[entry.key] = entry
}

// Get loads the value for key into dest. It returns false on a miss; durable
// tier failures and malformed payloads count as misses, never errors.
func (c *CacheService) Get(key string, dest interface{}) bool {
	now := c.now()

	c.mu.Lock()
	entry, exists := c.entries[key]
	if exists {
		if now.Before(entry.expiresAt) {
			if err := json.Unmarshal(entry.value, dest); err != nil {
				// A payload that cannot decode will never decode; drop it.
				log.Printf("Cache entry for %s is malformed: %v", key, err)
				delete(c.entries, key)
				c.misses++
				c.mu.Unlock()
				return false
			}
			entry.accessCount++
			entry.lastAccess = now
			c.hits++
			c.mu.Unlock()
			return true
		}
		// Expired in the volatile tier; drop and fall through to durable.
		delete(c.entries, key)
	}
	c.mu.Unlock()

	if c.store == nil {
		c.recordMiss()
		return false
	}

	stored, err := c.store.Get(key)
	if err != nil {
		log.Printf("Durable cache read failed for %s: %v", key, err)
		c.recordMiss()
		return false
	}
	if stored == nil || !now.Before(stored.ExpiresAt) {
		c.recordMiss()
		return false
	}

	if err := json.Unmarshal(stored.Value, dest); err != nil {
		log.Printf("Durable cache entry for %s is malformed: %v", key, err)
		c.recordMiss()
		return false
	}

	// Promote back into the volatile tier.
	c.mu.Lock()
	c.insertLocked(&cacheEntry{
		key:         key,
		value:       stored.Value,
		category:    stored.Category,
		tags:        stored.Tags,
		createdAt:   stored.CreatedAt,
		expiresAt:   stored.ExpiresAt,
		lastAccess:  now,
		accessCount: 1,
	})
	c.hits++
	c.mu.Unlock()

	return true
}

func (c *CacheService) recordMiss() {
	c.mu.Lock()
	c.misses++
	c.mu.Unlock()
}

// Delete removes an entry from both tiers.
func (c *CacheService) Delete(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()

	if c.store != nil {
		if err := c.store.Delete(key); err != nil {
			log.Printf("Durable cache delete failed for %s: %v", key, err)
		}
	}
}

// ClearCategory drops every entry in a category from both tiers.
func (c *CacheService) ClearCategory(category string) {
	c.mu.Lock()
	for k, e := range c.entries {
		if e.category == category {
			delete(c.entries, k)
		}
	}
	c.mu.Unlock()

	if c.store != nil {
		if _, err := c.store.DeleteByCategory(category); err != nil {
			log.Printf("Durable cache category clear failed for %s: %v", category, err)
		}
	}
}

// ClearByTag drops every entry carrying the tag from both tiers.
func (c *CacheService) ClearByTag(tag string) {
	c.mu.Lock()
	for k, e := range c.entries {
		for _, t := range e.tags {
			if t == tag {
				delete(c.entries, k)
				break
			}
		}
	}
	c.mu.Unlock()

	if c.store != nil {
		if _, err := c.store.DeleteByTag(tag); err != nil {
			log.Printf("Durable cache tag clear failed for %s: %v", tag, err)
		}
	}
}

// Stats returns a snapshot without mutating cache state.
func (c *CacheService) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	categories := make(map[string]int)
	type keyAccess struct {
		key   string
		count int64
	}
	accessed := make([]keyAccess, 0, len(c.entries))
	for k, e := range c.entries {
		if e.category != "" {
			categories[e.category]++
		}
		accessed = append(accessed, keyAccess{key: k, count: e.accessCount})
	}

	sort.Slice(accessed, func(i, j int) bool {
		if accessed[i].count != accessed[j].count {
			return accessed[i].count > accessed[j].count
		}
		return accessed[i].key < accessed[j].key
	})
	top := make([]string, 0, 5)
	for i := 0; i < len(accessed) && i < 5; i++ {
		top = append(top, accessed[i].key)
	}

	total := c.hits + c.misses
	hitRate := 0.0
	if total > 0 {
		hitRate = float64(c.hits) / float64(total)
	}

	return CacheStats{
		TotalEntries: len(c.entries),
		HitRate:      hitRate,
		Categories:   categories,
		MostAccessed: top,
	}
}

// PurgeExpired removes expired entries from both tiers and returns the number
// of durable entries removed.
func (c *CacheService) PurgeExpired() int64 {
	now := c.now()

	c.mu.Lock()
	for k, e := range c.entries {
		if !now.Before(e.expiresAt) {
			delete(c.entries, k)
		}
	}
	c.mu.Unlock()

	if c.store == nil {
		return 0
	}
	removed, err := c.store.PurgeExpired()
	if err != nil {
		log.Printf("Durable cache purge failed: %v", err)
		return 0
	}
	return removed
}
