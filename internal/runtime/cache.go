package runtime

import (
	"crypto/sha1"
	"encoding/hex"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

const (
	DefaultCacheMaxSize = 100
	DefaultCacheMaxAge  = 5 * time.Minute
)

type CacheOptions struct {
	MaxSize int
	MaxAge  time.Duration
	Now     func() time.Time
}

type cacheEntry struct {
	output   Output
	storedAt time.Time
	hits     int
}

// ResultCache memoizes agent outputs by (agent, request, attachments).
// Entries are only read with Peek, so the lru order is insertion order and
// RemoveOldest drops the entry stored longest ago.
type ResultCache struct {
	mu      sync.Mutex
	store   *lru.Cache[string, *cacheEntry]
	maxSize int
	maxAge  time.Duration
	now     func() time.Time
	hits    uint64
	misses  uint64
}

func NewResultCache(opts CacheOptions) *ResultCache {
	if opts.MaxSize <= 0 {
		opts.MaxSize = DefaultCacheMaxSize
	}
	if opts.MaxAge <= 0 {
		opts.MaxAge = DefaultCacheMaxAge
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	// one spare slot: Set evicts explicitly before the store would.
	store, err := lru.New[string, *cacheEntry](opts.MaxSize + 1)
	if err != nil {
		panic(err)
	}
	return &ResultCache{
		store:   store,
		maxSize: opts.MaxSize,
		maxAge:  opts.MaxAge,
		now:     opts.Now,
	}
}

// Key is the sha1 of agentID, the normalized request text and the ordered
// attachment kinds and names.
func (c *ResultCache) Key(agentID string, in AgentInput) string {
	atts := make([]string, 0, len(in.Attachments))
	for _, a := range in.Attachments {
		atts = append(atts, string(a.Kind)+":"+a.Name)
	}
	raw := strings.Join([]string{
		agentID,
		strings.ToLower(strings.TrimSpace(in.UserRequest)),
		strings.Join(atts, ","),
	}, "|")
	sum := sha1.Sum([]byte(raw))
	return hex.EncodeToString(sum[:])
}

func (c *ResultCache) expired(e *cacheEntry, now time.Time) bool {
	return now.Sub(e.storedAt) > c.maxAge
}

// Get returns a copy of the stored output marked as cached with zero duration.
func (c *ResultCache) Get(key string) (Output, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.store.Peek(key)
	if !ok {
		c.misses++
		return Output{}, false
	}
	if c.expired(e, c.now()) {
		c.store.Remove(key)
		c.misses++
		return Output{}, false
	}
	e.hits++
	c.hits++
	out := e.output
	out.Meta.Cached = true
	out.Meta.Duration = 0
	return out, true
}

func (c *ResultCache) Has(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.store.Peek(key)
	if !ok {
		return false
	}
	if c.expired(e, c.now()) {
		c.store.Remove(key)
		return false
	}
	return true
}

func (c *ResultCache) Set(key string, out Output) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	entry := &cacheEntry{output: out, storedAt: now}
	// an overwrite becomes the newest entry but keeps its hit count
	if prev, ok := c.store.Peek(key); ok {
		entry.hits = prev.hits
	} else if c.store.Len() >= c.maxSize {
		c.purgeExpiredLocked(now)
		if c.store.Len() >= c.maxSize {
			c.store.RemoveOldest()
		}
	}
	c.store.Add(key, entry)
}

// Hits returns how often the entry under key was served.
func (c *ResultCache) Hits(key string) (int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.store.Peek(key)
	if !ok {
		return 0, false
	}
	return e.hits, true
}

// Cleanup removes expired entries and returns how many were dropped.
func (c *ResultCache) Cleanup() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.purgeExpiredLocked(c.now())
}

func (c *ResultCache) purgeExpiredLocked(now time.Time) int {
	removed := 0
	// Keys is oldest first, so the first live entry ends the scan.
	for _, k := range c.store.Keys() {
		e, ok := c.store.Peek(k)
		if !ok {
			continue
		}
		if !c.expired(e, now) {
			break
		}
		c.store.Remove(k)
		removed++
	}
	return removed
}

func (c *ResultCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.store.Purge()
}

func (c *ResultCache) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return CacheStats{
		Size:    c.store.Len(),
		MaxSize: c.maxSize,
		MaxAge:  c.maxAge,
		Hits:    c.hits,
		Misses:  c.misses,
	}
}
