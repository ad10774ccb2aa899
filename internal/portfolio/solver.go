package portfolio

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
)

// Bound is the allowed weight interval for one asset.
type Bound struct {
	Lower float64 `json:"lower"`
	Upper float64 `json:"upper"`
}

// LongOnly is the default bound: no short selling, no leverage.
var LongOnly = Bound{Lower: 0, Upper: 1}

func (b Bound) valid() bool {
	return !math.IsNaN(b.Lower) && !math.IsNaN(b.Upper) &&
		!math.IsInf(b.Lower, 0) && !math.IsInf(b.Upper, 0) &&
		b.Lower <= b.Upper
}

// feasible reports whether {Σw = 1, lᵢ ≤ wᵢ ≤ uᵢ} is non-empty.
func feasible(bounds []Bound) (bool, string) {
	var lo, hi float64
	for _, b := range bounds {
		lo += b.Lower
		hi += b.Upper
	}
	if lo > 1+constraintTolerance {
		return false, fmt.Sprintf("lower bounds sum to %.6f > 1", lo)
	}
	if hi < 1-constraintTolerance {
		return false, fmt.Sprintf("upper bounds sum to %.6f < 1", hi)
	}
	return true, ""
}

// project replaces v with its Euclidean projection onto
// {x : Σxᵢ = 1, lᵢ ≤ xᵢ ≤ uᵢ}. The projection is clip(v − θ) for the unique
// shift θ that restores the budget. The budget as a function of θ is
// piecewise linear with breakpoints vᵢ−uᵢ and vᵢ−lᵢ, so θ is found exactly
// by a search over the sorted breakpoints; for long-only bounds this is the
// simplex projection of Duchi et al. (2008). The caller guarantees the set
// is feasible.
func project(v []float64, bounds []Bound) {
	budget := func(theta float64) float64 {
		s := 0.0
		for i, x := range v {
			s += clamp(x-theta, bounds[i].Lower, bounds[i].Upper)
		}
		return s
	}

	bp := make([]float64, 0, 2*len(v))
	for i, x := range v {
		bp = append(bp, x-bounds[i].Upper, x-bounds[i].Lower)
	}
	sort.Float64s(bp)

	// budget(bp[0]) = Σu ≥ 1 and budget(bp[last]) = Σl ≤ 1.
	k := sort.Search(len(bp), func(i int) bool { return budget(bp[i]) < 1 })
	var theta float64
	switch {
	case k == 0:
		theta = bp[0]
	case k == len(bp):
		theta = bp[len(bp)-1]
	default:
		a, b := bp[k-1], bp[k]
		ga, gb := budget(a), budget(b)
		theta = a
		if ga != gb {
			theta = a + (ga-1)*(b-a)/(ga-gb)
		}
	}
	for i, x := range v {
		v[i] = clamp(x-theta, bounds[i].Lower, bounds[i].Upper)
	}

	// Spread the last rounding residue over coordinates strictly inside their bounds.
	residual := 1 - floats.Sum(v)
	if residual == 0 {
		return
	}
	free := 0
	for i, x := range v {
		if x > bounds[i].Lower && x < bounds[i].Upper {
			free++
		}
	}
	if free == 0 {
		return
	}
	share := residual / float64(free)
	for i, x := range v {
		if x > bounds[i].Lower && x < bounds[i].Upper {
			v[i] = clamp(x+share, bounds[i].Lower, bounds[i].Upper)
		}
	}
}

func clamp(x, lo, hi float64) float64 {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}

const (
	// constraintTolerance bounds the budget and box violations of a returned vector.
	constraintTolerance = 1e-9
	// snapTolerance pulls weights this close to a bound onto the bound.
	snapTolerance = 1e-10
	armijo        = 1e-4
	maxBacktracks = 60
)

// SolverConfig fixes the numerical search: one deterministic projected
// gradient method, a fixed stationarity tolerance and an iteration budget.
type SolverConfig struct {
	// Tolerance is the stationarity threshold: the search stops when a
	// reference projected gradient step moves no weight by more than this.
	Tolerance float64
	// StallTolerance is accepted instead of Tolerance once the objective
	// stops decreasing at floating point resolution.
	StallTolerance float64
	MaxIterations  int
}

// DefaultSolverConfig returns the solver settings used unless overridden.
func DefaultSolverConfig() SolverConfig {
	return SolverConfig{
		Tolerance:      1e-10,
		StallTolerance: 1e-6,
		MaxIterations:  20000,
	}
}

type objective struct {
	name string
	f    func(w []float64) float64
	grad func(dst, w []float64)
}

type solution struct {
	x          []float64
	value      float64
	iterations int
}

func finite(x float64) bool { return !math.IsNaN(x) && !math.IsInf(x, 0) }

// minimize runs projected gradient descent with Armijo backtracking along the
// projection arc, starting from x0. step0 is the reference step used both as
// the initial trial step and for the stationarity measure.
func (c SolverConfig) minimize(obj objective, x0 []float64, bounds []Bound, step0 float64) (solution, error) {
	n := len(x0)
	x := append([]float64(nil), x0...)
	project(x, bounds)

	fx := obj.f(x)
	if !finite(fx) {
		return solution{}, &OptimizationDidNotConvergeError{Objective: obj.name, Reason: "objective is not finite at the starting point"}
	}

	g := make([]float64, n)
	trial := make([]float64, n)
	ref := make([]float64, n)
	step := step0
	maxStep := step0 * 1e4

	for iter := 1; iter <= c.MaxIterations; iter++ {
		obj.grad(g, x)
		for _, gi := range g {
			if !finite(gi) {
				return solution{}, &OptimizationDidNotConvergeError{Objective: obj.name, Iterations: iter, Reason: "gradient is not finite"}
			}
		}

		copy(ref, x)
		floats.AddScaled(ref, -step0, g)
		project(ref, bounds)
		residual := floats.Distance(ref, x, math.Inf(1))
		if residual <= c.Tolerance {
			return solution{x: x, value: fx, iterations: iter}, nil
		}

		t := step
		accepted := false
		var ft float64
		for k := 0; k < maxBacktracks; k++ {
			copy(trial, x)
			floats.AddScaled(trial, -t, g)
			project(trial, bounds)

			decrease := 0.0
			for i := range trial {
				decrease += g[i] * (trial[i] - x[i])
			}
			ft = obj.f(trial)
			if finite(ft) && ft <= fx+armijo*decrease {
				accepted = true
				break
			}
			t /= 2
		}

		if !accepted || fx-ft <= 1e-15*(1+math.Abs(fx)) {
			if residual <= c.StallTolerance {
				if accepted && ft < fx {
					copy(x, trial)
					fx = ft
				}
				return solution{x: x, value: fx, iterations: iter}, nil
			}
			if !accepted {
				return solution{}, &OptimizationDidNotConvergeError{
					Objective:  obj.name,
					Iterations: iter,
					Reason:     fmt.Sprintf("line search failed with stationarity residual %.3g", residual),
				}
			}
		}

		copy(x, trial)
		fx = ft
		step = math.Min(2*t, maxStep)
	}

	return solution{}, &OptimizationDidNotConvergeError{
		Objective:  obj.name,
		Iterations: c.MaxIterations,
		Reason:     "iteration budget exhausted",
	}
}

// finalize clips numerical drift: weights within snapTolerance of a bound
// are moved onto it and the vector is re-projected so the budget holds.
func finalize(w []float64, bounds []Bound) ([]float64, error) {
	out := append([]float64(nil), w...)
	for i, x := range out {
		b := bounds[i]
		if math.Abs(x-b.Lower) < snapTolerance {
			x = b.Lower
		}
		if math.Abs(x-b.Upper) < snapTolerance {
			x = b.Upper
		}
		out[i] = clamp(x, b.Lower, b.Upper)
	}
	project(out, bounds)

	if math.Abs(floats.Sum(out)-1) > constraintTolerance {
		return nil, fmt.Errorf("weights sum to %.12f after projection", floats.Sum(out))
	}
	for i, x := range out {
		if x < bounds[i].Lower || x > bounds[i].Upper {
			return nil, fmt.Errorf("weight %d = %g outside [%g, %g]", i, x, bounds[i].Lower, bounds[i].Upper)
		}
	}
	return out, nil
}
