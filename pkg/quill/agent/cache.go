// cache.go implements the TTL cache for tool results, keyed by tool name and
// the canonical JSON encoding of the arguments. The cache is process-wide by
// default, but tools may carry their own instance cache which the executor
// consults first.
package agent

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// DefaultCacheTTL is the entry lifetime when the caller passes no TTL.
const DefaultCacheTTL = 5 * time.Minute

// cacheEntry is a stored value with its expiry time.
type cacheEntry struct {
	value  any
	expiry time.Time
}

// CacheStats is a coherent snapshot of cache counters.
type CacheStats struct {
	Hits      int64
	Misses    int64
	Evictions int64
	Entries   int
}

// Cache is a thread-safe TTL map for tool results.
type Cache struct {
	mu         sync.Mutex
	entries    map[string]cacheEntry
	defaultTTL time.Duration

	// byTool indexes keys per tool name so Invalidate(tool) evicts exactly
	// the entries that belong to that tool.
	byTool map[string]map[string]struct{}

	hits      int64
	misses    int64
	evictions int64
}

// NewCache creates a cache with the given default TTL (DefaultCacheTTL when
// zero or negative).
func NewCache(defaultTTL time.Duration) *Cache {
	if defaultTTL <= 0 {
		defaultTTL = DefaultCacheTTL
	}
	return &Cache{
		entries:    make(map[string]cacheEntry),
		byTool:     make(map[string]map[string]struct{}),
		defaultTTL: defaultTTL,
	}
}

// cacheKey builds the MD5 key from the tool name and canonical JSON args.
func cacheKey(toolName string, args map[string]any) string {
	sum := md5.Sum([]byte(toolName + canonicalJSON(args)))
	return hex.EncodeToString(sum[:])
}

// canonicalJSON serializes args with sorted keys so logically equal argument
// maps produce identical keys.
func canonicalJSON(args map[string]any) string {
	if len(args) == 0 {
		return "{}"
	}
	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	sb.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			sb.WriteByte(',')
		}
		kb, _ := json.Marshal(k)
		sb.Write(kb)
		sb.WriteByte(':')
		vb, err := json.Marshal(args[k])
		if err != nil {
			// Unmarshalable values (func, chan) still need a stable key.
			vb, _ = json.Marshal(fmt.Sprintf("%v", args[k]))
		}
		sb.Write(vb)
	}
	sb.WriteByte('}')
	return sb.String()
}

// Get returns the cached value for (toolName, args) when present and fresh.
// Stale entries are removed on access.
func (c *Cache) Get(toolName string, args map[string]any) (any, bool) {
	key := cacheKey(toolName, args)

	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		c.misses++
		return nil, false
	}
	if !time.Now().Before(entry.expiry) {
		c.removeLocked(toolName, key)
		c.evictions++
		c.misses++
		return nil, false
	}
	c.hits++
	return entry.value, true
}

// Set stores value for (toolName, args) with the given TTL (default TTL when
// zero or negative).
func (c *Cache) Set(toolName string, args map[string]any, value any, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}
	key := cacheKey(toolName, args)

	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[key] = cacheEntry{value: value, expiry: time.Now().Add(ttl)}
	idx, ok := c.byTool[toolName]
	if !ok {
		idx = make(map[string]struct{})
		c.byTool[toolName] = idx
	}
	idx[key] = struct{}{}
}

// Invalidate removes the entry for (toolName, args). When args is nil, every
// entry belonging to toolName is removed. Returns the number of entries
// removed.
func (c *Cache) Invalidate(toolName string, args map[string]any) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	if args != nil {
		key := cacheKey(toolName, args)
		if _, ok := c.entries[key]; ok {
			c.removeLocked(toolName, key)
			return 1
		}
		return 0
	}

	removed := 0
	for key := range c.byTool[toolName] {
		delete(c.entries, key)
		removed++
	}
	delete(c.byTool, toolName)
	return removed
}

// Cleanup scans for expired entries and removes them. Returns the count
// removed.
func (c *Cache) Cleanup() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	removed := 0
	for tool, keys := range c.byTool {
		for key := range keys {
			if entry, ok := c.entries[key]; ok && !now.Before(entry.expiry) {
				c.removeLocked(tool, key)
				c.evictions++
				removed++
			}
		}
	}
	return removed
}

// Clear removes every entry without touching the hit/miss counters.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]cacheEntry)
	c.byTool = make(map[string]map[string]struct{})
}

// Stats returns a snapshot of the cache counters.
func (c *Cache) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return CacheStats{
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
		Entries:   len(c.entries),
	}
}

// removeLocked deletes a key from both maps. Caller holds c.mu.
func (c *Cache) removeLocked(toolName, key string) {
	delete(c.entries, key)
	if idx, ok := c.byTool[toolName]; ok {
		delete(idx, key)
		if len(idx) == 0 {
			delete(c.byTool, toolName)
		}
	}
}
