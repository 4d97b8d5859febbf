// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cache provides the content-addressed response cache.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"sync"
	"time"
)

// =============================================================================
// KEYING
// =============================================================================

// Key derives the cache key for a query. Two queries that differ only
// in case, surrounding whitespace, or internal whitespace runs share a
// key; the resolved mode is part of the identity so a chat answer is
// never served for a code request.
func Key(text, mode string) string {
	h := sha256.New()
	h.Write([]byte(normalize(text)))
	h.Write([]byte{0})
	h.Write([]byte(mode))
	return hex.EncodeToString(h.Sum(nil))
}

// normalize lowercases, trims, and collapses whitespace runs to single
// spaces.
func normalize(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// =============================================================================
// CACHE
// =============================================================================

// DefaultTTL is the default entry lifetime.
const DefaultTTL = 24 * time.Hour

// DefaultMaxEntries bounds cache memory.
const DefaultMaxEntries = 10000

// Entry is one cached answer.
type Entry struct {
	Key       string    `json:"key"`
	Answer    string    `json:"answer"`
	Provider  string    `json:"provider"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Stats reports cache effectiveness.
type Stats struct {
	Entries int     `json:"entries"`
	Hits    int64   `json:"hits"`
	Misses  int64   `json:"misses"`
	HitRate float64 `json:"hit_rate"`
}

// Cache is an in-memory TTL cache for final answers. Only successful
// answers are stored; entries expire lazily on read and are never
// refreshed by hits, so a popular stale answer still ages out.
type Cache struct {
	mu         sync.Mutex
	entries    map[string]*Entry
	ttl        time.Duration
	maxEntries int
	hits       int64
	misses     int64

	// now is swappable for tests.
	now func() time.Time
}

// New creates a Cache. Zero values select the defaults.
func New(ttl time.Duration, maxEntries int) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	return &Cache{
		entries:    make(map[string]*Entry),
		ttl:        ttl,
		maxEntries: maxEntries,
		now:        time.Now,
	}
}

// Get returns the entry for key if present and unexpired. An expired
// entry is evicted on the spot and reported as a miss.
func (c *Cache) Get(key string) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		c.misses++
		return Entry{}, false
	}
	if c.now().After(e.ExpiresAt) {
		delete(c.entries, key)
		c.misses++
		return Entry{}, false
	}
	c.hits++
	return *e, true
}

// Put stores a successful answer under key, overwriting any previous
// entry. When the cache is full the entry closest to expiry is evicted.
func (c *Cache) Put(key, answer, provider string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.maxEntries {
		c.evictOldestLocked()
	}
	c.entries[key] = &Entry{
		Key:       key,
		Answer:    answer,
		Provider:  provider,
		CreatedAt: now,
		ExpiresAt: now.Add(c.ttl),
	}
}

// evictOldestLocked removes the entry with the earliest expiry.
// Called with c.mu held.
func (c *Cache) evictOldestLocked() {
	var oldestKey string
	var oldest time.Time
	for k, e := range c.entries {
		if oldestKey == "" || e.ExpiresAt.Before(oldest) {
			oldestKey = k
			oldest = e.ExpiresAt
		}
	}
	if oldestKey != "" {
		delete(c.entries, oldestKey)
	}
}

// Stats returns a point-in-time snapshot of cache effectiveness.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := Stats{
		Entries: len(c.entries),
		Hits:    c.hits,
		Misses:  c.misses,
	}
	if total := c.hits + c.misses; total > 0 {
		s.HitRate = float64(c.hits) / float64(total)
	}
	return s
}

// Len returns the number of stored entries, expired or not.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Clear drops every entry and resets counters.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*Entry)
	c.hits = 0
	c.misses = 0
}
