package portfolio

import (
	"fmt"
	"math"
	"sort"

	"github.com/rs/zerolog/log"
	"gonum.org/v1/gonum/floats"
)

const (
	// returnTolerance is the relative accuracy of EfficientReturn on its target.
	returnTolerance = 1e-7
	maxBisections   = 100
	maxDoublings    = 60
	// frontierHeadroom keeps the top of the frontier below the best single asset.
	frontierHeadroom = 0.05
)

// FrontierPoint is a point on the efficient frontier line
type FrontierPoint struct {
	Return  float64 `json:"return"`
	Risk    float64 `json:"risk"`
	Weights Weights `json:"weights"`
}

// Optimizer solves mean-variance problems over
// {w : Σwᵢ = 1, lᵢ ≤ wᵢ ≤ uᵢ} for one set of estimates. It holds no mutable
// state after construction and is safe for concurrent use.
type Optimizer struct {
	est    *Estimates
	bounds []Bound
	solver SolverConfig
}

// OptimizerOption configures NewOptimizer.
type OptimizerOption func(*Optimizer) error

// WithBounds applies the same [lower, upper] interval to every asset.
func WithBounds(lower, upper float64) OptimizerOption {
	return func(o *Optimizer) error {
		b := Bound{Lower: lower, Upper: upper}
		if !b.valid() {
			return fmt.Errorf("invalid bound [%v, %v]", lower, upper)
		}
		for i := range o.bounds {
			o.bounds[i] = b
		}
		return nil
	}
}

// WithAssetBounds sets one interval per asset, in asset order.
func WithAssetBounds(bounds []Bound) OptimizerOption {
	return func(o *Optimizer) error {
		if len(bounds) != len(o.bounds) {
			return &DimensionMismatchError{Got: len(bounds), Want: len(o.bounds)}
		}
		for i, b := range bounds {
			if !b.valid() {
				return fmt.Errorf("invalid bound [%v, %v] for %s", b.Lower, b.Upper, o.est.assets[i])
			}
		}
		copy(o.bounds, bounds)
		return nil
	}
}

// WithSolver overrides the solver tolerances and iteration budget.
func WithSolver(cfg SolverConfig) OptimizerOption {
	return func(o *Optimizer) error {
		if cfg.Tolerance <= 0 || cfg.StallTolerance < cfg.Tolerance || cfg.MaxIterations <= 0 {
			return fmt.Errorf("invalid solver config %+v", cfg)
		}
		o.solver = cfg
		return nil
	}
}

// NewOptimizer binds an optimizer to est. Bounds default to long-only [0, 1].
func NewOptimizer(est *Estimates, opts ...OptimizerOption) (*Optimizer, error) {
	if est == nil || est.NumAssets() == 0 {
		return nil, &InsufficientDataError{Reason: "no estimates"}
	}
	o := &Optimizer{
		est:    est,
		bounds: make([]Bound, est.NumAssets()),
		solver: DefaultSolverConfig(),
	}
	for i := range o.bounds {
		o.bounds[i] = LongOnly
	}
	for _, opt := range opts {
		if err := opt(o); err != nil {
			return nil, err
		}
	}
	return o, nil
}

// Estimates returns the statistics the optimizer was built from.
func (o *Optimizer) Estimates() *Estimates { return o.est }

// Bounds returns a copy of the per-asset bounds.
func (o *Optimizer) Bounds() []Bound { return append([]Bound(nil), o.bounds...) }

// MinVol returns the minimum variance portfolio: argmin wᵀΣw.
func (o *Optimizer) MinVol() (Weights, error) {
	obj := objective{
		name: "min_vol",
		f:    o.est.variance,
		grad: func(dst, w []float64) {
			o.est.covMul(dst, w)
			floats.Scale(2, dst)
		},
	}
	return o.run(obj)
}

// MaxSharpe returns the portfolio maximizing (wᵀμ − rf) / √(wᵀΣw).
//
// The objective is not convex. The search starts from equal weights and
// returns the stationary point it reaches from there, which is a local
// optimum and not guaranteed to be the global one. No multi-start is tried.
func (o *Optimizer) MaxSharpe(riskFreeRate float64) (Weights, error) {
	mu := o.est.mean
	sigmaW := make([]float64, o.est.NumAssets())
	obj := objective{
		name: "max_sharpe",
		f: func(w []float64) float64 {
			v := o.est.variance(w)
			if v <= 0 {
				return math.NaN()
			}
			return -(o.est.expectedReturn(w) - riskFreeRate) / math.Sqrt(v)
		},
		grad: func(dst, w []float64) {
			a := o.est.expectedReturn(w) - riskFreeRate
			o.est.covMul(sigmaW, w)
			v := floats.Dot(w, sigmaW)
			s := math.Sqrt(v)
			for i := range dst {
				dst[i] = -mu[i]/s + a*sigmaW[i]/(v*s)
			}
		},
	}
	return o.run(obj)
}

// EqualWeight returns the 1/n allocation, projected onto the bounds when
// 1/n violates them.
func (o *Optimizer) EqualWeight() (Weights, error) {
	if ok, reason := feasible(o.bounds); !ok {
		return nil, &OptimizationDidNotConvergeError{Objective: "equal_weight", Reason: "infeasible bounds: " + reason}
	}
	w := EqualWeights(o.est.NumAssets())
	return finalize(w, o.bounds)
}

// EfficientReturn returns the minimum variance portfolio whose expected
// return equals target. Each candidate solves min wᵀΣw − λμᵀw; the portfolio
// return is nondecreasing in λ, so λ is found by bracketing and bisection.
func (o *Optimizer) EfficientReturn(target float64) (Weights, error) {
	const name = "efficient_return"
	tol := returnTolerance * (1 + math.Abs(target))

	if ok, reason := feasible(o.bounds); !ok {
		return nil, &OptimizationDidNotConvergeError{Objective: name, Reason: "infeasible bounds: " + reason}
	}
	lo, hi := o.returnRange()
	if target < lo-tol || target > hi+tol {
		return nil, fmt.Errorf("%w: %.6f outside achievable [%.6f, %.6f]", ErrUnreachableTarget, target, lo, hi)
	}
	if o.est.NumAssets() == 1 {
		return Weights{1}, nil
	}

	solve := func(lambda float64) (Weights, float64, error) {
		obj := objective{
			name: name,
			f: func(w []float64) float64 {
				return o.est.variance(w) - lambda*o.est.expectedReturn(w)
			},
			grad: func(dst, w []float64) {
				o.est.covMul(dst, w)
				floats.Scale(2, dst)
				floats.AddScaled(dst, -lambda, o.est.mean)
			},
		}
		w, err := o.run(obj)
		if err != nil {
			return nil, 0, err
		}
		return w, o.est.expectedReturn(w), nil
	}

	w, r, err := solve(0)
	if err != nil {
		return nil, err
	}
	if math.Abs(r-target) <= tol {
		return w, nil
	}

	// Bracket: near stays on the starting side of target, far crosses it.
	dir := 1.0
	if target < r {
		dir = -1
	}
	near, far := 0.0, dir
	for k := 0; ; k++ {
		w, r, err = solve(far)
		if err != nil {
			return nil, err
		}
		if math.Abs(r-target) <= tol {
			return w, nil
		}
		if dir*(r-target) > 0 {
			break
		}
		if k == maxDoublings {
			return nil, fmt.Errorf("%w: %.6f not reached, best %.6f", ErrUnreachableTarget, target, r)
		}
		near, far = far, 2*far
	}

	for k := 0; k < maxBisections; k++ {
		mid := (near + far) / 2
		w, r, err = solve(mid)
		if err != nil {
			return nil, err
		}
		if math.Abs(r-target) <= tol {
			return w, nil
		}
		if dir*(r-target) < 0 {
			near = mid
		} else {
			far = mid
		}
	}
	return nil, &OptimizationDidNotConvergeError{
		Objective:  name,
		Iterations: maxBisections,
		Reason:     fmt.Sprintf("return %.8f after bisection, target %.8f", r, target),
	}
}

// Frontier sweeps points target returns evenly from the minimum variance
// return up to 95% of the highest achievable return. When the minimum
// variance return is already above that cap the sweep runs to the highest
// achievable return instead. Targets the solver cannot reach are skipped.
func (o *Optimizer) Frontier(points int) ([]FrontierPoint, error) {
	if points < 2 {
		return nil, fmt.Errorf("frontier needs at least 2 points, got %d", points)
	}
	mv, err := o.MinVol()
	if err != nil {
		return nil, fmt.Errorf("minimum variance anchor: %w", err)
	}

	low := o.est.expectedReturn(mv)
	_, maxRet := o.returnRange()
	high := maxRet - frontierHeadroom*math.Abs(maxRet)
	if high <= low {
		// The minimum variance portfolio already sits inside the headroom.
		high = maxRet
	}
	if high <= low {
		return []FrontierPoint{o.point(mv)}, nil
	}

	out := make([]FrontierPoint, 0, points)
	out = append(out, o.point(mv))
	for i := 1; i < points; i++ {
		target := low + (high-low)*float64(i)/float64(points-1)
		w, err := o.EfficientReturn(target)
		if err != nil {
			log.Debug().Err(err).Float64("target", target).Msg("frontier point skipped")
			continue
		}
		out = append(out, o.point(w))
	}
	return out, nil
}

func (o *Optimizer) point(w Weights) FrontierPoint {
	return FrontierPoint{
		Return:  o.est.expectedReturn(w),
		Risk:    o.est.volatility(w),
		Weights: w,
	}
}

// run handles the degenerate cases, solves obj from equal weights and cleans
// up the result.
func (o *Optimizer) run(obj objective) (Weights, error) {
	if ok, reason := feasible(o.bounds); !ok {
		return nil, &OptimizationDidNotConvergeError{Objective: obj.name, Reason: "infeasible bounds: " + reason}
	}
	n := o.est.NumAssets()
	if n == 1 {
		return Weights{1}, nil
	}

	sol, err := o.solver.minimize(obj, EqualWeights(n), o.bounds, o.step0())
	if err != nil {
		log.Debug().Err(err).Str("objective", obj.name).Msg("solver failed")
		return nil, err
	}
	w, err := finalize(sol.x, o.bounds)
	if err != nil {
		return nil, &OptimizationDidNotConvergeError{Objective: obj.name, Iterations: sol.iterations, Reason: err.Error()}
	}
	log.Debug().
		Str("objective", obj.name).
		Int("iterations", sol.iterations).
		Float64("value", sol.value).
		Msg("solver converged")
	return w, nil
}

// step0 is the projected gradient reference step, 1/(2·tr Σ).
func (o *Optimizer) step0() float64 {
	tr := o.est.trace()
	if tr <= 0 {
		return 1
	}
	return 1 / (2 * tr)
}

// returnRange is the lowest and highest expected return reachable under the
// bounds: start every asset at its lower bound, then spend the remaining
// budget on the worst (or best) assets first.
func (o *Optimizer) returnRange() (lo, hi float64) {
	n := o.est.NumAssets()
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool { return o.est.mean[idx[a]] < o.est.mean[idx[b]] })

	fill := func(order []int) float64 {
		w := make([]float64, n)
		budget := 1.0
		for i, b := range o.bounds {
			w[i] = b.Lower
			budget -= b.Lower
		}
		for _, i := range order {
			add := math.Min(o.bounds[i].Upper-o.bounds[i].Lower, math.Max(budget, 0))
			w[i] += add
			budget -= add
		}
		return o.est.expectedReturn(w)
	}

	desc := make([]int, n)
	for i, j := range idx {
		desc[n-1-i] = j
	}
	return fill(idx), fill(desc)
}
