package data

import (
	"context"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// FetchResult is the outcome of a multi-ticker download. Prices keeps the
// requested ticker order and omits failures, which are listed in Failed.
type FetchResult struct {
	Prices []*PriceData
	Failed map[string]error
}

// Tickers returns the tickers that were fetched successfully.
func (r *FetchResult) Tickers() []string {
	out := make([]string, len(r.Prices))
	for i, p := range r.Prices {
		out[i] = p.Ticker
	}
	return out
}

// NormalizeTickers upper-cases, trims and de-duplicates tickers, keeping
// first-seen order.
func NormalizeTickers(tickers []string) []string {
	seen := make(map[string]bool, len(tickers))
	out := make([]string, 0, len(tickers))
	for _, t := range tickers {
		up := strings.ToUpper(strings.TrimSpace(t))
		if up != "" && !seen[up] {
			seen[up] = true
			out = append(out, up)
		}
	}
	return out
}

// FetchAll downloads every ticker concurrently with at most concurrency
// requests in flight. A failing ticker does not abort the others; the
// returned error is non-nil only when ctx is done.
func FetchAll(ctx context.Context, f Fetcher, tickers []string, rng Range, concurrency int) (*FetchResult, error) {
	results := make([]*PriceData, len(tickers))
	failed := make(map[string]error)
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	if concurrency > 0 {
		g.SetLimit(concurrency)
	}
	for i, ticker := range tickers {
		g.Go(func() error {
			pd, err := f.FetchPrices(gctx, ticker, rng)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				log.Warn().Err(err).Str("ticker", ticker).Msg("fetch error")
				mu.Lock()
				failed[ticker] = err
				mu.Unlock()
				return nil
			}
			results[i] = pd
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := &FetchResult{Failed: failed}
	for _, pd := range results {
		if pd != nil {
			out.Prices = append(out.Prices, pd)
		}
	}
	return out, nil
}
