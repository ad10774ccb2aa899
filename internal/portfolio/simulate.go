package portfolio

import (
	"fmt"
	"math/rand"
)

// SimulatedPortfolio represents one random portfolio
type SimulatedPortfolio struct {
	Weights Weights `json:"weights"`
	Return  float64 `json:"return"`
	Risk    float64 `json:"risk"`
	Sharpe  float64 `json:"sharpe"`
}

// randomWeights generates n random weights that sum to 1
func randomWeights(n int, rng *rand.Rand) Weights {
	w := make(Weights, n)
	sum := 0.0
	for i := range w {
		w[i] = rng.ExpFloat64()
		sum += w[i]
	}
	for i := range w {
		w[i] /= sum
	}
	return w
}

// SamplePortfolios draws n uniformly distributed long-only portfolios for
// scatter plots. The same seed always yields the same cloud.
func SamplePortfolios(est *Estimates, n int, riskFreeRate float64, seed int64) ([]SimulatedPortfolio, error) {
	if n < 0 {
		return nil, fmt.Errorf("sample count must be non-negative, got %d", n)
	}
	rng := rand.New(rand.NewSource(seed))

	sims := make([]SimulatedPortfolio, 0, n)
	for s := 0; s < n; s++ {
		w := randomWeights(est.NumAssets(), rng)
		st, err := est.Stats(w, riskFreeRate)
		if err != nil {
			return nil, fmt.Errorf("sample %d: %w", s, err)
		}
		sims = append(sims, SimulatedPortfolio{
			Weights: w,
			Return:  st.Return,
			Risk:    st.Volatility,
			Sharpe:  st.Sharpe,
		})
	}
	return sims, nil
}
