package portfolio

import "fmt"

// Strategy names reported by CompareAll.
const (
	StrategyEqualWeight = "Equal Weight"
	StrategyMaxSharpe   = "Max Sharpe"
	StrategyMinVol      = "Min Volatility"
	StrategyMarketCap   = "Market Cap"
)

// StrategyResult is one allocation strategy and how it scores.
type StrategyResult struct {
	Name    string         `json:"name"`
	Weights Weights        `json:"weights"`
	Stats   PortfolioStats `json:"stats"`
}

// MarketCapWeights weights each asset by its share of total capitalization.
func MarketCapWeights(assets []string, caps map[string]float64) (Weights, error) {
	w := make(Weights, len(assets))
	total := 0.0
	for i, a := range assets {
		c, ok := caps[a]
		if !ok {
			return nil, fmt.Errorf("no market cap for %s", a)
		}
		if c < 0 {
			return nil, fmt.Errorf("negative market cap for %s", a)
		}
		w[i] = c
		total += c
	}
	if total <= 0 {
		return nil, fmt.Errorf("total market cap must be positive")
	}
	for i := range w {
		w[i] /= total
	}
	return w, nil
}

// CompareAll scores equal weight, max Sharpe and min volatility, plus market
// cap weighting when caps is non-empty.
func CompareAll(opt *Optimizer, riskFreeRate float64, caps map[string]float64) ([]StrategyResult, error) {
	type strategy struct {
		name  string
		build func() (Weights, error)
	}
	strategies := []strategy{
		{StrategyEqualWeight, opt.EqualWeight},
		{StrategyMaxSharpe, func() (Weights, error) { return opt.MaxSharpe(riskFreeRate) }},
		{StrategyMinVol, opt.MinVol},
	}
	if len(caps) > 0 {
		strategies = append(strategies, strategy{StrategyMarketCap, func() (Weights, error) {
			return MarketCapWeights(opt.est.assets, caps)
		}})
	}

	out := make([]StrategyResult, 0, len(strategies))
	for _, s := range strategies {
		w, err := s.build()
		if err != nil {
			return nil, fmt.Errorf("%s: %w", s.name, err)
		}
		st, err := opt.est.Stats(w, riskFreeRate)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", s.name, err)
		}
		out = append(out, StrategyResult{Name: s.name, Weights: w, Stats: st})
	}
	return out, nil
}
