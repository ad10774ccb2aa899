package portfolio

import (
	"sort"

	"gonum.org/v1/gonum/floats"
)

// Weights is an allocation aligned with Estimates.Assets.
type Weights []float64

// Sum returns the total allocation.
func (w Weights) Sum() float64 { return floats.Sum(w) }

// Labeled pairs each weight with its asset id.
func (w Weights) Labeled(assets []string) map[string]float64 {
	out := make(map[string]float64, len(w))
	for i, a := range assets {
		if i < len(w) {
			out[a] = w[i]
		}
	}
	return out
}

// EqualWeights returns the 1/n allocation.
func EqualWeights(n int) Weights {
	w := make(Weights, n)
	for i := range w {
		w[i] = 1 / float64(n)
	}
	return w
}

// Holding is one asset's share of a portfolio.
type Holding struct {
	Asset  string  `json:"asset"`
	Weight float64 `json:"weight"`
}

// TopHoldings returns the k largest positions, heaviest first. Ties keep
// asset order.
func TopHoldings(assets []string, w Weights, k int) []Holding {
	n := len(assets)
	if len(w) < n {
		n = len(w)
	}
	hs := make([]Holding, n)
	for i := 0; i < n; i++ {
		hs[i] = Holding{Asset: assets[i], Weight: w[i]}
	}
	sort.SliceStable(hs, func(i, j int) bool { return hs[i].Weight > hs[j].Weight })
	if k >= 0 && k < len(hs) {
		hs = hs[:k]
	}
	return hs
}
