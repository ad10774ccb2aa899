package portfolio

import (
	"math"
	"testing"
)

func TestCompareAll(t *testing.T) {
	opt := newOptimizer(t, fourAssets(t))

	results, err := CompareAll(opt, 0, nil)
	if err != nil {
		t.Fatalf("CompareAll: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("expected 3 strategies, got %d", len(results))
	}
	byName := map[string]StrategyResult{}
	for _, r := range results {
		byName[r.Name] = r
	}
	ms, mv := byName[StrategyMaxSharpe], byName[StrategyMinVol]
	for _, r := range results {
		if r.Stats.Sharpe > ms.Stats.Sharpe+1e-9 {
			t.Errorf("%s Sharpe %f beats max Sharpe %f", r.Name, r.Stats.Sharpe, ms.Stats.Sharpe)
		}
		if r.Stats.Volatility < mv.Stats.Volatility-1e-9 {
			t.Errorf("%s volatility %f below min vol %f", r.Name, r.Stats.Volatility, mv.Stats.Volatility)
		}
	}
}

func TestCompareAllMarketCap(t *testing.T) {
	opt := newOptimizer(t, fourAssets(t))
	caps := map[string]float64{"AAPL": 3000, "MSFT": 2500, "JNJ": 400, "TBILL": 100}

	results, err := CompareAll(opt, 0.01, caps)
	if err != nil {
		t.Fatalf("CompareAll: %v", err)
	}
	if len(results) != 4 || results[3].Name != StrategyMarketCap {
		t.Fatalf("expected market cap as fourth strategy, got %+v", results)
	}
	if math.Abs(results[3].Weights[0]-0.5) > 1e-12 {
		t.Errorf("expected AAPL at 50%%, got %f", results[3].Weights[0])
	}

	delete(caps, "JNJ")
	if _, err := CompareAll(opt, 0, caps); err == nil {
		t.Error("expected error for a missing market cap")
	}
}

func TestMarketCapWeights(t *testing.T) {
	if _, err := MarketCapWeights([]string{"A"}, map[string]float64{"A": 0}); err == nil {
		t.Error("expected error for zero total cap")
	}
	if _, err := MarketCapWeights([]string{"A"}, map[string]float64{"A": -1}); err == nil {
		t.Error("expected error for negative cap")
	}
}

func TestTopHoldings(t *testing.T) {
	assets := []string{"A", "B", "C", "D"}
	w := Weights{0.1, 0.4, 0.1, 0.4}

	top := TopHoldings(assets, w, 3)
	want := []Holding{{"B", 0.4}, {"D", 0.4}, {"A", 0.1}}
	if len(top) != len(want) {
		t.Fatalf("expected %d holdings, got %d", len(want), len(top))
	}
	for i := range want {
		if top[i] != want[i] {
			t.Errorf("holding %d = %+v, want %+v", i, top[i], want[i])
		}
	}

	if got := TopHoldings(assets, w, 10); len(got) != 4 {
		t.Errorf("expected all 4 holdings, got %d", len(got))
	}

	labeled := w.Labeled(assets)
	if labeled["D"] != 0.4 || len(labeled) != 4 {
		t.Errorf("unexpected labeled weights %v", labeled)
	}
}

func TestSamplePortfolios(t *testing.T) {
	est := fourAssets(t)

	a, err := SamplePortfolios(est, 100, 0.02, 7)
	if err != nil {
		t.Fatalf("SamplePortfolios: %v", err)
	}
	if len(a) != 100 {
		t.Fatalf("expected 100 samples, got %d", len(a))
	}
	b, err := SamplePortfolios(est, 100, 0.02, 7)
	if err != nil {
		t.Fatalf("SamplePortfolios: %v", err)
	}
	for i := range a {
		if a[i].Sharpe != b[i].Sharpe {
			t.Fatalf("same seed produced different samples at %d", i)
		}
		checkFeasible(t, a[i].Weights, 0, 1)
	}

	if _, err := SamplePortfolios(est, -1, 0, 1); err == nil {
		t.Error("expected error for negative sample count")
	}
}
