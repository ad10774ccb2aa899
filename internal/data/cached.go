package data

import (
	"context"
	"strings"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

// CacheObserver is told about every cache lookup.
type CacheObserver interface {
	CacheHit()
	CacheMiss()
}

// CachedFetcher serves multi-ticker downloads from a Cache and coalesces
// concurrent identical requests so the provider sees one of them.
type CachedFetcher struct {
	fetcher     Fetcher
	cache       Cache
	observer    CacheObserver
	concurrency int
	group       singleflight.Group
}

// NewCachedFetcher wraps f with cache. observer may be nil.
func NewCachedFetcher(f Fetcher, cache Cache, observer CacheObserver, concurrency int) *CachedFetcher {
	return &CachedFetcher{
		fetcher:     f,
		cache:       cache,
		observer:    observer,
		concurrency: concurrency,
	}
}

// Cache returns the underlying cache, for explicit invalidation.
func (c *CachedFetcher) Cache() Cache { return c.cache }

// Fetch returns prices for tickers over rng. Only downloads where every
// ticker succeeded are stored.
func (c *CachedFetcher) Fetch(ctx context.Context, tickers []string, rng Range) (*FetchResult, error) {
	if err := rng.Validate(); err != nil {
		return nil, err
	}
	tickers = NormalizeTickers(tickers)
	key := NewCacheKey(tickers, rng)

	prices, hit, err := c.cache.Get(ctx, key)
	if err != nil {
		log.Warn().Err(err).Str("key", key.String()).Msg("cache read failed")
	}
	if hit {
		c.observe(true)
		log.Debug().Str("key", key.String()).Msg("price cache hit")
		return &FetchResult{Prices: reorder(prices, tickers), Failed: map[string]error{}}, nil
	}
	c.observe(false)

	// The download outlives any single caller so one cancellation does not
	// fail the others waiting on it.
	bg := context.WithoutCancel(ctx)
	ch := c.group.DoChan(key.String()+"|"+strings.Join(tickers, ","), func() (interface{}, error) {
		out, err := FetchAll(bg, c.fetcher, tickers, rng, c.concurrency)
		if err != nil {
			return nil, err
		}
		if len(out.Failed) == 0 {
			if err := c.cache.Set(bg, key, out.Prices); err != nil {
				log.Warn().Err(err).Str("key", key.String()).Msg("cache write failed")
			}
		}
		return out, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-ch:
		if r.Err != nil {
			return nil, r.Err
		}
		if r.Shared {
			log.Debug().Str("key", key.String()).Msg("price download shared")
		}
		return r.Val.(*FetchResult), nil
	}
}

func (c *CachedFetcher) observe(hit bool) {
	if c.observer == nil {
		return
	}
	if hit {
		c.observer.CacheHit()
	} else {
		c.observer.CacheMiss()
	}
}

// reorder returns the cached series in the requested ticker order.
func reorder(prices []*PriceData, tickers []string) []*PriceData {
	by := make(map[string]*PriceData, len(prices))
	for _, p := range prices {
		by[p.Ticker] = p
	}
	out := make([]*PriceData, 0, len(tickers))
	for _, t := range tickers {
		if p, ok := by[t]; ok {
			out = append(out, p)
		}
	}
	if len(out) != len(prices) {
		return prices
	}
	return out
}
