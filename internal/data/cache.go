package data

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// CacheKey identifies one cached download: a ticker set and a date window.
// Build it with NewCacheKey so equal requests produce equal keys.
type CacheKey struct {
	Tickers []string
	Start   time.Time
	End     time.Time
}

// NewCacheKey normalizes tickers (upper-case, de-duplicated, sorted) and
// truncates the window to whole days.
func NewCacheKey(tickers []string, rng Range) CacheKey {
	ts := NormalizeTickers(tickers)
	sort.Strings(ts)
	return CacheKey{Tickers: ts, Start: day(rng.Start), End: day(rng.End)}
}

func (k CacheKey) String() string {
	return strings.Join(k.Tickers, ",") + "|" + k.Start.Format(dateLayout) + "|" + k.End.Format(dateLayout)
}

// Contains reports whether ticker is part of the key.
func (k CacheKey) Contains(ticker string) bool {
	ticker = strings.ToUpper(ticker)
	i := sort.SearchStrings(k.Tickers, ticker)
	return i < len(k.Tickers) && k.Tickers[i] == ticker
}

// Cache stores complete downloads keyed by CacheKey.
type Cache interface {
	Get(ctx context.Context, key CacheKey) ([]*PriceData, bool, error)
	Set(ctx context.Context, key CacheKey, prices []*PriceData) error
	// Invalidate drops every entry whose ticker set contains ticker and
	// reports how many were removed.
	Invalidate(ctx context.Context, ticker string) (int, error)
	// Purge drops everything.
	Purge(ctx context.Context) error
}

type memoryEntry struct {
	key     CacheKey
	prices  []*PriceData
	expires time.Time
}

// MemoryCache is a thread-safe in-process Cache with a fixed TTL.
type MemoryCache struct {
	mu      sync.RWMutex
	ttl     time.Duration
	entries map[string]*memoryEntry
	now     func() time.Time
}

// NewMemoryCache creates an empty cache whose entries live for ttl.
func NewMemoryCache(ttl time.Duration) *MemoryCache {
	return &MemoryCache{
		ttl:     ttl,
		entries: make(map[string]*memoryEntry),
		now:     time.Now,
	}
}

// Get returns cached prices if present and not expired.
func (c *MemoryCache) Get(_ context.Context, key CacheKey) ([]*PriceData, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.entries[key.String()]
	if !ok || c.now().After(e.expires) {
		return nil, false, nil
	}
	return e.prices, true, nil
}

// Set stores prices under key.
func (c *MemoryCache) Set(_ context.Context, key CacheKey, prices []*PriceData) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[key.String()] = &memoryEntry{
		key:     key,
		prices:  prices,
		expires: c.now().Add(c.ttl),
	}
	return nil
}

// Invalidate drops every entry that includes ticker.
func (c *MemoryCache) Invalidate(_ context.Context, ticker string) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	for k, e := range c.entries {
		if e.key.Contains(ticker) {
			delete(c.entries, k)
			n++
		}
	}
	return n, nil
}

// Purge empties the cache.
func (c *MemoryCache) Purge(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*memoryEntry)
	return nil
}

// Len returns the number of entries, expired ones included.
func (c *MemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
