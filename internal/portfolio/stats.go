package portfolio

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

const (
	// varianceTolerance is how far below zero wᵀΣw may fall from rounding.
	varianceTolerance = 1e-12
	// zeroVolatility is the volatility below which a Sharpe ratio is undefined.
	zeroVolatility = 1e-12
)

// PortfolioStats holds annualized portfolio-level figures.
type PortfolioStats struct {
	Return     float64 `json:"return"`
	Volatility float64 `json:"volatility"`
	Sharpe     float64 `json:"sharpe"`
}

// Stats evaluates w against the estimates: return = wᵀμ,
// volatility = √(wᵀΣw), sharpe = (return − rf) / volatility.
func (e *Estimates) Stats(w Weights, riskFreeRate float64) (PortfolioStats, error) {
	if len(w) != e.NumAssets() {
		return PortfolioStats{}, &DimensionMismatchError{Got: len(w), Want: e.NumAssets()}
	}

	ret := e.expectedReturn(w)
	variance := e.variance(w)
	if variance < -varianceTolerance {
		return PortfolioStats{}, &NegativeVarianceError{Variance: variance}
	}
	vol := math.Sqrt(math.Max(variance, 0))
	if vol <= zeroVolatility {
		return PortfolioStats{}, &ZeroVolatilityError{Volatility: vol}
	}

	return PortfolioStats{
		Return:     ret,
		Volatility: vol,
		Sharpe:     (ret - riskFreeRate) / vol,
	}, nil
}

func (e *Estimates) expectedReturn(w []float64) float64 {
	return floats.Dot(w, e.mean)
}

func (e *Estimates) variance(w []float64) float64 {
	x := mat.NewVecDense(len(w), w)
	return mat.Inner(x, e.cov, x)
}

// covMul writes Σw into dst.
func (e *Estimates) covMul(dst, w []float64) {
	mat.NewVecDense(len(dst), dst).MulVec(e.cov, mat.NewVecDense(len(w), w))
}

func (e *Estimates) volatility(w []float64) float64 {
	return math.Sqrt(math.Max(e.variance(w), 0))
}

func (e *Estimates) trace() float64 {
	tr := 0.0
	for i := 0; i < e.NumAssets(); i++ {
		tr += e.cov.At(i, i)
	}
	return tr
}
