package kurirgo

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"io"
	"net/http"
	"path"
	"sort"
	"sync"
	"time"
)

// CacheEntry is a stored response snapshot with an absolute expiry and a
// last-access timestamp used for LRU ordering.
type CacheEntry struct {
	Body       []byte
	StatusCode int
	Header     http.Header
	ExpiresAt  time.Time

	lastAccess time.Time
}

// Cache is the response cache interface keyed by request fingerprint.
type Cache interface {
	Get(key string) (*CacheEntry, bool)
	Set(key string, entry *CacheEntry, ttl time.Duration)
	Delete(key string)
	// InvalidatePattern removes every entry whose key matches the glob
	// pattern and returns the number of entries removed.
	InvalidatePattern(pattern string) int
	Clear()
	Len() int
}

// TTLRule maps a path glob pattern to a TTL. Rules are evaluated in order;
// the first match wins.
type TTLRule struct {
	Pattern string
	TTL     time.Duration
}

// resolveTTL returns the TTL of the first matching rule, or fallback when
// no rule matches.
func resolveTTL(rules []TTLRule, requestPath string, fallback time.Duration) time.Duration {
	for _, rule := range rules {
		if ok, err := path.Match(rule.Pattern, requestPath); err == nil && ok {
			return rule.TTL
		}
	}
	return fallback
}

// evictionFraction is the share of entries removed in one LRU eviction
// batch. Batch eviction amortizes cost versus evicting one entry at a time.
const evictionFraction = 10

// InMemoryCache is a bounded, TTL-aware, LRU-evicting cache. Safe for
// concurrent use; every compound check-and-update runs under one lock.
type InMemoryCache struct {
	mu         sync.Mutex
	store      map[string]*CacheEntry
	maxEntries int
}

// NewInMemoryCache creates a cache bounded to maxEntries entries. A
// non-positive bound falls back to 1000.
func NewInMemoryCache(maxEntries int) *InMemoryCache {
	if maxEntries <= 0 {
		maxEntries = 1000
	}
	return &InMemoryCache{
		store:      make(map[string]*CacheEntry),
		maxEntries: maxEntries,
	}
}

// Get returns a live entry and touches its last-access time. Expired
// entries are removed on the way out.
func (c *InMemoryCache) Get(key string) (*CacheEntry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, exists := c.store[key]
	if !exists {
		return nil, false
	}
	if time.Now().After(entry.ExpiresAt) {
		delete(c.store, key)
		return nil, false
	}
	entry.lastAccess = time.Now()
	return entry, true
}

// Set stores an entry under key with the given TTL. Before inserting at
// capacity the cache drops all expired entries, then the oldest tenth of
// the remaining entries by last access (at least one).
func (c *InMemoryCache) Set(key string, entry *CacheEntry, ttl time.Duration) {
	now := time.Now()
	entry.ExpiresAt = now.Add(ttl)
	entry.lastAccess = now

	c.mu.Lock()
	defer c.mu.Unlock()

	c.evictExpiredLocked(now)
	if _, replacing := c.store[key]; !replacing && len(c.store) >= c.maxEntries {
		c.evictOldestLocked()
	}
	c.store[key] = entry
}

// Delete removes a single entry.
func (c *InMemoryCache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.store, key)
}

// InvalidatePattern removes entries whose key matches the glob pattern.
func (c *InMemoryCache) InvalidatePattern(pattern string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for key := range c.store {
		if ok, err := path.Match(pattern, key); err == nil && ok {
			delete(c.store, key)
			removed++
		}
	}
	return removed
}

// Clear removes all entries.
func (c *InMemoryCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.store = make(map[string]*CacheEntry)
}

// Len returns the current number of entries, expired ones included.
func (c *InMemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.store)
}

func (c *InMemoryCache) evictExpiredLocked(now time.Time) {
	for key, entry := range c.store {
		if now.After(entry.ExpiresAt) {
			delete(c.store, key)
		}
	}
}

func (c *InMemoryCache) evictOldestLocked() {
	batch := len(c.store) / evictionFraction
	if batch < 1 {
		batch = 1
	}

	type aged struct {
		key        string
		lastAccess time.Time
	}
	entries := make([]aged, 0, len(c.store))
	for key, entry := range c.store {
		entries = append(entries, aged{key: key, lastAccess: entry.lastAccess})
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].lastAccess.Before(entries[j].lastAccess)
	})

	for i := 0; i < batch && i < len(entries); i++ {
		delete(c.store, entries[i].key)
	}
}

// DefaultCacheKeyFunc derives the fingerprint for GET-only caching: the
// request path plus its sorted query string.
func DefaultCacheKeyFunc(req *http.Request) string {
	return normalizedURL(req)
}

// BodyCacheKeyFunc extends the default fingerprint with a hash of the
// request body, for configurations that cache non-GET responses.
func BodyCacheKeyFunc(req *http.Request) string {
	return normalizedURL(req) + "#" + bodyDigest(req)
}

// DefaultCacheCondition caches GET requests only.
func DefaultCacheCondition(req *http.Request) bool {
	return req.Method == http.MethodGet
}

// normalizedURL renders path + sorted query so that parameter order does
// not change the fingerprint.
func normalizedURL(req *http.Request) string {
	p := req.URL.Path
	if p == "" {
		p = "/"
	}
	query := req.URL.Query()
	if len(query) == 0 {
		return p
	}
	keys := make([]string, 0, len(query))
	for k := range query {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b bytes.Buffer
	b.WriteString(p)
	b.WriteByte('?')
	for i, k := range keys {
		values := query[k]
		sort.Strings(values)
		for j, v := range values {
			if i > 0 || j > 0 {
				b.WriteByte('&')
			}
			b.WriteString(k)
			b.WriteByte('=')
			b.WriteString(v)
		}
	}
	return b.String()
}

// bodyDigest hashes the request body via GetBody so the original reader
// stays consumable.
func bodyDigest(req *http.Request) string {
	if req.Body == nil || req.GetBody == nil {
		return ""
	}
	body, err := req.GetBody()
	if err != nil {
		return ""
	}
	defer body.Close()

	h := sha256.New()
	if _, err := io.Copy(h, body); err != nil {
		return ""
	}
	return fmt.Sprintf("%x", h.Sum(nil))
}
