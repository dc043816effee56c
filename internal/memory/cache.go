// Package memory orchestrates the conversational memory of the coach: a
// short-term per-user cache of recent turns and a gated long-term pipeline
// that retrieves, re-ranks, and pairs past question/answer turns.
package memory

import "sync"

const defaultCacheSize = 10

// CacheEntry is one role-tagged turn held in the short-term cache.
type CacheEntry struct {
	Role    string
	Content string
}

// ShortTermCache keeps a bounded per-owner window of recent turns in
// process memory. When the window is full the oldest entry is evicted.
// All operations serialize on one mutex so concurrent requests for the
// same owner never lose appends.
type ShortTermCache struct {
	mu      sync.Mutex
	maxSize int
	entries map[string][]CacheEntry
}

// NewShortTermCache creates a cache holding up to maxSize entries per
// owner. maxSize defaults to 10 if <= 0.
func NewShortTermCache(maxSize int) *ShortTermCache {
	if maxSize <= 0 {
		maxSize = defaultCacheSize
	}
	return &ShortTermCache{
		maxSize: maxSize,
		entries: make(map[string][]CacheEntry),
	}
}

// Cap returns the per-owner window size.
func (c *ShortTermCache) Cap() int {
	return c.maxSize
}

// Append adds an entry to the owner's window, evicting the oldest entry
// if the window is full.
func (c *ShortTermCache) Append(owner string, entry CacheEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()

	window := c.entries[owner]
	if len(window) >= c.maxSize {
		window = window[1:]
	}
	c.entries[owner] = append(window, entry)
}

// History returns a copy of the owner's window in chronological order.
func (c *ShortTermCache) History(owner string) []CacheEntry {
	c.mu.Lock()
	defer c.mu.Unlock()

	window := c.entries[owner]
	if len(window) == 0 {
		return nil
	}
	out := make([]CacheEntry, len(window))
	copy(out, window)
	return out
}

// Seed replaces the owner's window with the given entries, keeping only
// the newest maxSize of them. Used to warm the cache from persisted
// history after a restart. An already-populated window is left alone.
func (c *ShortTermCache) Seed(owner string, entries []CacheEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.entries[owner]) > 0 {
		return
	}
	if len(entries) > c.maxSize {
		entries = entries[len(entries)-c.maxSize:]
	}
	window := make([]CacheEntry, len(entries))
	copy(window, entries)
	c.entries[owner] = window
}
