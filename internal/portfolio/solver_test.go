package portfolio

import (
	"math"
	"testing"

	"gonum.org/v1/gonum/floats"
)

func uniformBounds(n int, b Bound) []Bound {
	out := make([]Bound, n)
	for i := range out {
		out[i] = b
	}
	return out
}

func TestProjectSimplex(t *testing.T) {
	cases := []struct {
		name string
		in   []float64
		want []float64
	}{
		{"already equal", []float64{1.0 / 3, 1.0 / 3, 1.0 / 3}, []float64{1.0 / 3, 1.0 / 3, 1.0 / 3}},
		{"shift down", []float64{0.5, 0.5, 0.5}, []float64{1.0 / 3, 1.0 / 3, 1.0 / 3}},
		{"corner", []float64{2, 0, 0}, []float64{1, 0, 0}},
		{"shift up", []float64{0.2, 0.1}, []float64{0.55, 0.45}},
		{"negative clipped", []float64{0.9, 0.6, -3}, []float64{0.65, 0.35, 0}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			v := append([]float64(nil), tc.in...)
			project(v, uniformBounds(len(v), LongOnly))
			if !floats.EqualApprox(v, tc.want, 1e-12) {
				t.Errorf("project(%v) = %v, want %v", tc.in, v, tc.want)
			}
		})
	}
}

func TestProjectBox(t *testing.T) {
	v := []float64{1, 0, 0}
	project(v, uniformBounds(3, Bound{Lower: 0, Upper: 0.4}))
	if !floats.EqualApprox(v, []float64{0.4, 0.3, 0.3}, 1e-12) {
		t.Errorf("capped projection = %v", v)
	}

	v = []float64{0, 0}
	project(v, uniformBounds(2, Bound{Lower: -1, Upper: 2}))
	if !floats.EqualApprox(v, []float64{0.5, 0.5}, 1e-12) {
		t.Errorf("short-allowed projection = %v", v)
	}

	v = []float64{3, -2}
	project(v, uniformBounds(2, Bound{Lower: -1, Upper: 2}))
	if !floats.EqualApprox(v, []float64{2, -1}, 1e-12) {
		t.Errorf("projection onto both bounds = %v", v)
	}
}

func TestProjectSumsToOne(t *testing.T) {
	v := []float64{0.123, -4.2, 7.7, 0.01, 1e-9, 0.33}
	bounds := []Bound{{0, 0.3}, {0, 1}, {0.1, 0.5}, {0, 1}, {0, 0.2}, {0.05, 1}}
	project(v, bounds)
	if math.Abs(floats.Sum(v)-1) > 1e-12 {
		t.Errorf("sum = %.15f", floats.Sum(v))
	}
	for i, x := range v {
		if x < bounds[i].Lower || x > bounds[i].Upper {
			t.Errorf("v[%d] = %f outside %+v", i, x, bounds[i])
		}
	}
}

func TestFeasible(t *testing.T) {
	if ok, _ := feasible(uniformBounds(3, LongOnly)); !ok {
		t.Error("long-only should be feasible")
	}
	if ok, reason := feasible(uniformBounds(3, Bound{Lower: 0, Upper: 0.3})); ok {
		t.Error("upper bounds summing to 0.9 should be infeasible")
	} else if reason == "" {
		t.Error("expected a reason")
	}
	if ok, _ := feasible(uniformBounds(3, Bound{Lower: 0.4, Upper: 1})); ok {
		t.Error("lower bounds summing to 1.2 should be infeasible")
	}
	if ok, _ := feasible(uniformBounds(4, Bound{Lower: 0.25, Upper: 0.25})); !ok {
		t.Error("single point set should be feasible")
	}
}

func TestFinalizeSnapsDrift(t *testing.T) {
	w, err := finalize([]float64{1e-12, 1 - 1e-12}, uniformBounds(2, LongOnly))
	if err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if w[0] != 0 || w[1] != 1 {
		t.Errorf("expected [0 1], got %v", w)
	}

	w, err = finalize([]float64{-1e-11, 0.5, 0.5 + 2e-11}, uniformBounds(3, LongOnly))
	if err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if w[0] < 0 || math.Abs(floats.Sum(w)-1) > 1e-12 {
		t.Errorf("unexpected finalize result %v", w)
	}
}

func TestMinimizeQuadratic(t *testing.T) {
	// min (w1-0.7)² + (w2-0.3)² on the simplex has its optimum inside.
	obj := objective{
		name: "quadratic",
		f: func(w []float64) float64 {
			return (w[0]-0.7)*(w[0]-0.7) + (w[1]-0.3)*(w[1]-0.3)
		},
		grad: func(dst, w []float64) {
			dst[0] = 2 * (w[0] - 0.7)
			dst[1] = 2 * (w[1] - 0.3)
		},
	}
	sol, err := DefaultSolverConfig().minimize(obj, []float64{0.5, 0.5}, uniformBounds(2, LongOnly), 0.25)
	if err != nil {
		t.Fatalf("minimize: %v", err)
	}
	if !floats.EqualApprox(sol.x, []float64{0.7, 0.3}, 1e-9) {
		t.Errorf("expected [0.7 0.3], got %v", sol.x)
	}
}

func TestMinimizeRejectsNonFiniteStart(t *testing.T) {
	obj := objective{
		name: "nan",
		f:    func([]float64) float64 { return math.NaN() },
		grad: func(dst, _ []float64) {},
	}
	_, err := DefaultSolverConfig().minimize(obj, []float64{0.5, 0.5}, uniformBounds(2, LongOnly), 1)
	if _, ok := err.(*OptimizationDidNotConvergeError); !ok {
		t.Fatalf("expected OptimizationDidNotConvergeError, got %v", err)
	}
}
