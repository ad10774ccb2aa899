package portfolio

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// TradingDays is the default annualization factor for daily returns.
const TradingDays = 252.0

// ReturnsMatrix is a clean, aligned table of periodic returns.
// Rows are periods in chronological order, columns follow Assets.
type ReturnsMatrix struct {
	Assets []string
	Rows   [][]float64
}

// NewReturnsMatrix validates shape and contents: at least 2 periods, at least
// 1 asset, unique asset ids, rectangular rows and finite entries.
func NewReturnsMatrix(assets []string, rows [][]float64) (*ReturnsMatrix, error) {
	if len(rows) < 2 || len(assets) == 0 {
		return nil, &InsufficientDataError{Periods: len(rows), Assets: len(assets)}
	}

	seen := make(map[string]bool, len(assets))
	for _, a := range assets {
		if a == "" {
			return nil, &InsufficientDataError{Periods: len(rows), Assets: len(assets), Reason: "empty asset identifier"}
		}
		if seen[a] {
			return nil, &InsufficientDataError{Periods: len(rows), Assets: len(assets), Reason: fmt.Sprintf("duplicate asset %q", a)}
		}
		seen[a] = true
	}

	for t, row := range rows {
		if len(row) != len(assets) {
			return nil, &InsufficientDataError{
				Periods: len(rows),
				Assets:  len(assets),
				Reason:  fmt.Sprintf("period %d has %d entries, expected %d", t, len(row), len(assets)),
			}
		}
		for j, r := range row {
			if math.IsNaN(r) || math.IsInf(r, 0) {
				return nil, &InsufficientDataError{
					Periods: len(rows),
					Assets:  len(assets),
					Reason:  fmt.Sprintf("missing or non-finite return for %s in period %d", assets[j], t),
				}
			}
		}
	}

	m := &ReturnsMatrix{
		Assets: append([]string(nil), assets...),
		Rows:   make([][]float64, len(rows)),
	}
	for t, row := range rows {
		m.Rows[t] = append([]float64(nil), row...)
	}
	return m, nil
}

// Periods returns the number of rows.
func (m *ReturnsMatrix) Periods() int { return len(m.Rows) }

// NumAssets returns the number of columns.
func (m *ReturnsMatrix) NumAssets() int { return len(m.Assets) }

func (m *ReturnsMatrix) dense() *mat.Dense {
	t, n := m.Periods(), m.NumAssets()
	flat := make([]float64, 0, t*n)
	for _, row := range m.Rows {
		flat = append(flat, row...)
	}
	return mat.NewDense(t, n, flat)
}

// SimpleReturns computes percentage returns from a price series.
func SimpleReturns(prices []float64) []float64 {
	if len(prices) < 2 {
		return nil
	}
	ret := make([]float64, len(prices)-1)
	for i := 1; i < len(prices); i++ {
		ret[i-1] = prices[i]/prices[i-1] - 1
	}
	return ret
}

// LogReturns computes log-returns from a price series
func LogReturns(prices []float64) []float64 {
	if len(prices) < 2 {
		return nil
	}
	ret := make([]float64, len(prices)-1)
	for i := 1; i < len(prices); i++ {
		ret[i-1] = math.Log(prices[i] / prices[i-1])
	}
	return ret
}

// AssetStats holds annualized stats for one asset
type AssetStats struct {
	Ticker           string  `json:"ticker"`
	AnnualReturn     float64 `json:"annual_return"`
	AnnualVolatility float64 `json:"annual_volatility"`
}

// Estimates is the annualized expected-return vector and covariance matrix
// derived from a returns matrix. It is immutable once built.
type Estimates struct {
	assets         []string
	mean           []float64
	cov            *mat.SymDense
	periodsPerYear float64
	periods        int
}

type estimateConfig struct {
	periodsPerYear float64
}

// EstimateOption configures Estimate.
type EstimateOption func(*estimateConfig)

// WithPeriodsPerYear sets the annualization factor (252 for daily data).
func WithPeriodsPerYear(p float64) EstimateOption {
	return func(c *estimateConfig) { c.periodsPerYear = p }
}

// Estimate derives annualized expected returns (mean × periods-per-year) and
// the annualized sample covariance matrix (N−1 denominator) from r.
func Estimate(r *ReturnsMatrix, opts ...EstimateOption) (*Estimates, error) {
	cfg := estimateConfig{periodsPerYear: TradingDays}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.periodsPerYear <= 0 || math.IsNaN(cfg.periodsPerYear) || math.IsInf(cfg.periodsPerYear, 0) {
		return nil, fmt.Errorf("periods per year must be positive, got %v", cfg.periodsPerYear)
	}
	if r == nil {
		return nil, &InsufficientDataError{Reason: "nil returns matrix"}
	}
	if r.Periods() < 2 || r.NumAssets() == 0 {
		return nil, &InsufficientDataError{Periods: r.Periods(), Assets: r.NumAssets()}
	}
	for t, row := range r.Rows {
		if len(row) != r.NumAssets() {
			return nil, &InsufficientDataError{
				Periods: r.Periods(),
				Assets:  r.NumAssets(),
				Reason:  fmt.Sprintf("period %d has %d entries, expected %d", t, len(row), r.NumAssets()),
			}
		}
	}

	data := r.dense()
	n := r.NumAssets()

	mean := make([]float64, n)
	for j := 0; j < n; j++ {
		mean[j] = stat.Mean(mat.Col(nil, j, data), nil) * cfg.periodsPerYear
	}

	cov := mat.NewSymDense(n, nil)
	stat.CovarianceMatrix(cov, data, nil)
	cov.ScaleSym(cfg.periodsPerYear, cov)

	for j := 0; j < n; j++ {
		if math.IsNaN(mean[j]) || math.IsInf(mean[j], 0) || math.IsNaN(cov.At(j, j)) || math.IsInf(cov.At(j, j), 0) {
			return nil, &InsufficientDataError{
				Periods: r.Periods(),
				Assets:  n,
				Reason:  fmt.Sprintf("non-finite statistics for %s", r.Assets[j]),
			}
		}
	}

	return &Estimates{
		assets:         append([]string(nil), r.Assets...),
		mean:           mean,
		cov:            cov,
		periodsPerYear: cfg.periodsPerYear,
		periods:        r.Periods(),
	}, nil
}

// NewEstimates builds Estimates from an already annualized mean vector and
// covariance matrix. The covariance is symmetrized from its two triangles.
func NewEstimates(assets []string, mean []float64, cov [][]float64) (*Estimates, error) {
	n := len(mean)
	if n == 0 {
		return nil, &InsufficientDataError{Reason: "empty expected return vector"}
	}
	if assets == nil {
		assets = make([]string, n)
		for i := range assets {
			assets[i] = fmt.Sprintf("Asset%d", i+1)
		}
	}
	if len(assets) != n {
		return nil, &DimensionMismatchError{Got: len(assets), Want: n}
	}
	if len(cov) != n {
		return nil, &DimensionMismatchError{Got: len(cov), Want: n}
	}

	sym := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		if len(cov[i]) != n {
			return nil, &DimensionMismatchError{Got: len(cov[i]), Want: n}
		}
		for j := i; j < n; j++ {
			v := (cov[i][j] + cov[j][i]) / 2
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return nil, &InsufficientDataError{Assets: n, Reason: fmt.Sprintf("non-finite covariance at (%d,%d)", i, j)}
			}
			sym.SetSym(i, j, v)
		}
	}
	for i, m := range mean {
		if math.IsNaN(m) || math.IsInf(m, 0) {
			return nil, &InsufficientDataError{Assets: n, Reason: fmt.Sprintf("non-finite expected return for %s", assets[i])}
		}
	}

	return &Estimates{
		assets:         append([]string(nil), assets...),
		mean:           append([]float64(nil), mean...),
		cov:            sym,
		periodsPerYear: TradingDays,
	}, nil
}

// Assets returns the asset ordering shared by every weight vector.
func (e *Estimates) Assets() []string { return append([]string(nil), e.assets...) }

// NumAssets returns the number of assets.
func (e *Estimates) NumAssets() int { return len(e.assets) }

// Mean returns a copy of the annualized expected return vector.
func (e *Estimates) Mean() []float64 { return append([]float64(nil), e.mean...) }

// Covariance returns a copy of the annualized covariance matrix.
func (e *Estimates) Covariance() [][]float64 {
	n := e.NumAssets()
	out := make([][]float64, n)
	for i := range out {
		out[i] = make([]float64, n)
		for j := range out[i] {
			out[i][j] = e.cov.At(i, j)
		}
	}
	return out
}

// PeriodsPerYear returns the annualization factor used.
func (e *Estimates) PeriodsPerYear() float64 { return e.periodsPerYear }

// Periods returns the number of return periods the estimates were built from
// (0 when built directly with NewEstimates).
func (e *Estimates) Periods() int { return e.periods }

// AssetStats returns per-asset annualized return and volatility.
func (e *Estimates) AssetStats() []AssetStats {
	stats := make([]AssetStats, e.NumAssets())
	for i, a := range e.assets {
		stats[i] = AssetStats{
			Ticker:           a,
			AnnualReturn:     e.mean[i],
			AnnualVolatility: math.Sqrt(math.Max(e.cov.At(i, i), 0)),
		}
	}
	return stats
}

// Correlation returns the correlation matrix implied by the covariance,
// clamped to [-1, 1]. Zero-variance assets get zero correlation off the diagonal.
func (e *Estimates) Correlation() [][]float64 {
	n := e.NumAssets()
	corr := make([][]float64, n)
	for i := 0; i < n; i++ {
		corr[i] = make([]float64, n)
		for j := 0; j < n; j++ {
			si := math.Sqrt(e.cov.At(i, i))
			sj := math.Sqrt(e.cov.At(j, j))
			if si > 0 && sj > 0 {
				corr[i][j] = math.Max(-1, math.Min(1, e.cov.At(i, j)/(si*sj)))
			}
		}
	}
	return corr
}
