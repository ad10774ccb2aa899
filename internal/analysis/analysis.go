package analysis

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"frontier/internal/data"
	"frontier/internal/portfolio"
	"frontier/internal/storage"
)

var (
	// ErrInvalidRequest marks problems with the caller's input.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrNotEnoughAssets is returned when fewer than two tickers could be fetched.
	ErrNotEnoughAssets = errors.New("could not fetch enough data to compute the frontier")
)

// StrategyCurrent names the caller's own allocation in a Result.
const StrategyCurrent = "Current"

// PriceSource downloads aligned multi-ticker history.
type PriceSource interface {
	Fetch(ctx context.Context, tickers []string, rng data.Range) (*data.FetchResult, error)
}

// Recorder is told how long each optimization took and whether it failed.
type Recorder interface {
	ObserveOptimization(objective string, elapsed time.Duration, err error)
}

// Request describes one analysis over downloaded prices.
type Request struct {
	Tickers          []string
	Range            data.Range
	RiskFreeRate     float64
	PeriodsPerYear   float64
	FrontierPoints   int
	Samples          int
	Seed             int64
	MarketCaps       map[string]float64
	CurrentPortfolio map[string]float64
}

// Result is everything an analysis produces.
type Result struct {
	Tickers      []string                       `json:"tickers"`
	Start        time.Time                      `json:"start"`
	End          time.Time                      `json:"end"`
	Periods      int                            `json:"periods"`
	RiskFreeRate float64                        `json:"risk_free_rate"`
	AssetStats   []portfolio.AssetStats         `json:"asset_stats"`
	Correlation  [][]float64                    `json:"correlation"`
	Strategies   []portfolio.StrategyResult     `json:"strategies"`
	Frontier     []portfolio.FrontierPoint      `json:"frontier_points"`
	Samples      []portfolio.SimulatedPortfolio `json:"monte_carlo_points,omitempty"`
	Current      *portfolio.StrategyResult      `json:"current_portfolio_stats,omitempty"`
	Warnings     []string                       `json:"warnings,omitempty"`
	Failed       map[string]string              `json:"failed,omitempty"`
}

// Strategy returns the named strategy result.
func (r *Result) Strategy(name string) (portfolio.StrategyResult, bool) {
	for _, s := range r.Strategies {
		if s.Name == name {
			return s, true
		}
	}
	return portfolio.StrategyResult{}, false
}

// Record converts the result into a run for the history store.
func (r *Result) Record() *storage.Run {
	return &storage.Run{
		Tickers:      r.Tickers,
		Start:        r.Start,
		End:          r.End,
		Periods:      r.Periods,
		RiskFreeRate: r.RiskFreeRate,
		Strategies:   r.Strategies,
		AssetStats:   r.AssetStats,
	}
}

// Analyzer turns a ticker list into strategy comparisons, a frontier and a
// cloud of random portfolios.
type Analyzer struct {
	source   PriceSource
	recorder Recorder
}

// New returns an Analyzer reading prices from source. recorder may be nil.
func New(source PriceSource, recorder Recorder) *Analyzer {
	return &Analyzer{source: source, recorder: recorder}
}

// Analyze fetches prices, estimates statistics and runs every strategy.
// Tickers that fail to download are reported in Result.Failed as long as two
// or more remain.
func (a *Analyzer) Analyze(ctx context.Context, req Request) (*Result, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}

	fetched, err := a.source.Fetch(ctx, req.Tickers, req.Range)
	if err != nil {
		return nil, fmt.Errorf("fetch prices: %w", err)
	}

	res := &Result{
		Start:        req.Range.Start,
		End:          req.Range.End,
		RiskFreeRate: req.RiskFreeRate,
	}
	years := req.Range.End.Sub(req.Range.Start).Hours() / 24 / 365.25
	for _, pd := range fetched.Prices {
		if pd.Partial {
			res.Warnings = append(res.Warnings, fmt.Sprintf(
				"%s: only ~%.1f years of data available (requested %.1f years), using available data",
				pd.Ticker, pd.YearsAvailable(), years,
			))
			log.Info().Str("ticker", pd.Ticker).Float64("years", pd.YearsAvailable()).Msg("partial price history")
		}
	}
	if len(fetched.Failed) > 0 {
		res.Failed = make(map[string]string, len(fetched.Failed))
		for t, ferr := range fetched.Failed {
			res.Failed[t] = ferr.Error()
		}
	}
	if len(fetched.Prices) < 2 {
		return nil, fmt.Errorf("%w: %s", ErrNotEnoughAssets, res.failureSummary())
	}

	returns, err := data.AlignReturns(fetched.Prices)
	if err != nil {
		return nil, err
	}
	est, err := portfolio.Estimate(returns, portfolio.WithPeriodsPerYear(req.PeriodsPerYear))
	if err != nil {
		return nil, err
	}
	opt, err := portfolio.NewOptimizer(est)
	if err != nil {
		return nil, err
	}

	res.Tickers = est.Assets()
	res.Periods = est.Periods()
	res.AssetStats = est.AssetStats()
	res.Correlation = est.Correlation()

	if err := a.observe("compare", func() error {
		res.Strategies, err = portfolio.CompareAll(opt, req.RiskFreeRate, req.MarketCaps)
		return err
	}); err != nil {
		return nil, err
	}
	if err := a.observe("frontier", func() error {
		res.Frontier, err = opt.Frontier(req.FrontierPoints)
		return err
	}); err != nil {
		return nil, err
	}

	res.Samples, err = portfolio.SamplePortfolios(est, req.Samples, req.RiskFreeRate, req.Seed)
	if err != nil {
		return nil, err
	}

	if len(req.CurrentPortfolio) > 0 {
		a.scoreCurrent(res, est, req)
	}
	return res, nil
}

// scoreCurrent normalizes the caller's holdings over the fetched tickers and
// evaluates them. Problems become warnings.
func (a *Analyzer) scoreCurrent(res *Result, est *portfolio.Estimates, req Request) {
	holdings := make(map[string]float64, len(req.CurrentPortfolio))
	for t, w := range req.CurrentPortfolio {
		holdings[strings.ToUpper(strings.TrimSpace(t))] += w
	}

	w := make(portfolio.Weights, est.NumAssets())
	for i, t := range est.Assets() {
		w[i] = holdings[t]
	}
	sum := w.Sum()
	if sum <= 0 {
		res.Warnings = append(res.Warnings, "current portfolio has no positive weight in the analyzed tickers")
		return
	}
	for i := range w {
		w[i] /= sum
	}
	st, err := est.Stats(w, req.RiskFreeRate)
	if err != nil {
		res.Warnings = append(res.Warnings, "current portfolio: "+err.Error())
		return
	}
	res.Current = &portfolio.StrategyResult{Name: StrategyCurrent, Weights: w, Stats: st}
}

func (a *Analyzer) observe(objective string, fn func() error) error {
	start := time.Now()
	err := fn()
	if a.recorder != nil {
		a.recorder.ObserveOptimization(objective, time.Since(start), err)
	}
	return err
}

func (r *Result) failureSummary() string {
	if len(r.Failed) == 0 {
		return "fewer than 2 tickers returned data"
	}
	tickers := make([]string, 0, len(r.Failed))
	for t := range r.Failed {
		tickers = append(tickers, t)
	}
	sort.Strings(tickers)
	parts := make([]string, len(tickers))
	for i, t := range tickers {
		parts[i] = t + ": " + r.Failed[t]
	}
	return strings.Join(parts, "; ")
}

func (req *Request) validate() error {
	req.Tickers = data.NormalizeTickers(req.Tickers)
	if len(req.Tickers) < 2 {
		return fmt.Errorf("%w: please provide at least 2 tickers to compute a frontier", ErrInvalidRequest)
	}
	if err := req.Range.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if req.RiskFreeRate < 0 || req.RiskFreeRate > 1 {
		return fmt.Errorf("%w: risk free rate must be in [0, 1], got %v", ErrInvalidRequest, req.RiskFreeRate)
	}
	if req.PeriodsPerYear == 0 {
		req.PeriodsPerYear = portfolio.TradingDays
	}
	if req.FrontierPoints < 2 {
		return fmt.Errorf("%w: frontier needs at least 2 points", ErrInvalidRequest)
	}
	if req.Samples < 0 {
		return fmt.Errorf("%w: sample count must be non-negative", ErrInvalidRequest)
	}
	if len(req.MarketCaps) > 0 {
		caps := make(map[string]float64, len(req.MarketCaps))
		for t, c := range req.MarketCaps {
			caps[strings.ToUpper(strings.TrimSpace(t))] = c
		}
		for _, t := range req.Tickers {
			if _, ok := caps[t]; !ok {
				return fmt.Errorf("%w: no market cap for %s", ErrInvalidRequest, t)
			}
		}
		req.MarketCaps = caps
	}
	return nil
}
