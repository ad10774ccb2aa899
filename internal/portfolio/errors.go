package portfolio

import (
	"errors"
	"fmt"
)

// Sentinels for errors.Is checks. Every typed error below unwraps to one of these.
var (
	ErrInsufficientData  = errors.New("insufficient data")
	ErrDimensionMismatch = errors.New("dimension mismatch")
	ErrDidNotConverge    = errors.New("optimization did not converge")
	ErrZeroVolatility    = errors.New("zero volatility")
	ErrNegativeVariance  = errors.New("negative variance")
	ErrUnreachableTarget = errors.New("target return unreachable")
)

// InsufficientDataError reports a returns matrix that is too small or malformed.
type InsufficientDataError struct {
	Periods int
	Assets  int
	Reason  string
}

func (e *InsufficientDataError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("insufficient data (%d periods, %d assets): %s", e.Periods, e.Assets, e.Reason)
	}
	return fmt.Sprintf("insufficient data: need at least 2 periods and 1 asset, got %d periods and %d assets", e.Periods, e.Assets)
}

func (e *InsufficientDataError) Unwrap() error { return ErrInsufficientData }

// DimensionMismatchError reports a weight vector whose length differs from the asset count.
type DimensionMismatchError struct {
	Got  int
	Want int
}

func (e *DimensionMismatchError) Error() string {
	return fmt.Sprintf("dimension mismatch: got %d weights, want %d", e.Got, e.Want)
}

func (e *DimensionMismatchError) Unwrap() error { return ErrDimensionMismatch }

// OptimizationDidNotConvergeError reports a solver failure: exhausted iteration
// budget, non-finite objective or an infeasible constraint set.
type OptimizationDidNotConvergeError struct {
	Objective  string
	Iterations int
	Reason     string
}

func (e *OptimizationDidNotConvergeError) Error() string {
	return fmt.Sprintf("%s: optimization did not converge after %d iterations: %s", e.Objective, e.Iterations, e.Reason)
}

func (e *OptimizationDidNotConvergeError) Unwrap() error { return ErrDidNotConverge }

// ZeroVolatilityError is returned when the Sharpe ratio would divide by zero.
type ZeroVolatilityError struct {
	Volatility float64
}

func (e *ZeroVolatilityError) Error() string {
	return fmt.Sprintf("portfolio volatility is numerically zero (%g)", e.Volatility)
}

func (e *ZeroVolatilityError) Unwrap() error { return ErrZeroVolatility }

// NegativeVarianceError signals a malformed covariance matrix.
type NegativeVarianceError struct {
	Variance float64
}

func (e *NegativeVarianceError) Error() string {
	return fmt.Sprintf("portfolio variance is negative (%g): covariance matrix is not positive semidefinite", e.Variance)
}

func (e *NegativeVarianceError) Unwrap() error { return ErrNegativeVariance }
