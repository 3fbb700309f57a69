// Package optim provides the numerical minimizers and root finder used by the
// likelihood fits.
package optim

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/mat"
)

var (
	// ErrNotBracketed is returned by FindRoot when f(a) and f(b) have the
	// same sign.
	ErrNotBracketed = errors.New("optim: root is not bracketed")
	// ErrRootNotConverged is returned when the root finder runs out of
	// iterations.
	ErrRootNotConverged = errors.New("optim: root finder did not converge")
	// ErrNonFinite is returned when an objective evaluates to NaN or Inf at
	// a point the solver cannot avoid.
	ErrNonFinite = errors.New("optim: non-finite function value")
)

// Problem is a twice differentiable objective. Hess may be nil for solvers
// that do not need it.
type Problem struct {
	Func func(x []float64) float64
	Grad func(grad, x []float64)
	Hess func(hess *mat.SymDense, x []float64)
}

// Bound is a closed interval for one parameter.
type Bound struct {
	Lower, Upper float64
}

// Status describes why a minimizer stopped. The values follow the return
// codes of truncated-Newton box solvers.
type Status int

const (
	LocalMinimum Status = iota
	FunctionConverged
	XConverged
	MaxIterations
	LineSearchFailed
	Failure
)

func (s Status) String() string {
	switch s {
	case LocalMinimum:
		return "local minimum"
	case FunctionConverged:
		return "function converged"
	case XConverged:
		return "x converged"
	case MaxIterations:
		return "max iterations"
	case LineSearchFailed:
		return "line search failed"
	default:
		return "failure"
	}
}

// Benign reports whether the solver stopped at an acceptable point.
func (s Status) Benign() bool {
	return s == LocalMinimum || s == FunctionConverged || s == XConverged
}

// Result is the outcome of a minimization.
type Result struct {
	X          []float64
	F          float64
	Status     Status
	Converged  bool
	Iterations int
}

// Tolerance controls the root finder. The interval is accepted once its half
// width is below (Abs + Rel*|x|)/2.
type Tolerance struct {
	Rel     float64
	Abs     float64
	MaxIter int
}

// RootFunc is a scalar function whose evaluation may fail.
type RootFunc func(x float64) (float64, error)

// Optimizer abstracts the three numerical primitives of the fits.
type Optimizer interface {
	// MinimizeUnconstrained minimizes p from x0 using gradient and Hessian.
	MinimizeUnconstrained(p Problem, x0 []float64) (*Result, error)
	// MinimizeBoxConstrained minimizes p from x0 within bounds using only
	// the gradient.
	MinimizeBoxConstrained(p Problem, x0 []float64, bounds []Bound) (*Result, error)
	// FindRoot finds a zero of f in [a, b]; f(a) and f(b) must differ in
	// sign.
	FindRoot(f RootFunc, a, b float64, tol Tolerance) (float64, error)
}

func isFinite(x float64) bool {
	return !math.IsNaN(x) && !math.IsInf(x, 0)
}

func allFinite(x []float64) bool {
	for _, v := range x {
		if !isFinite(v) {
			return false
		}
	}
	return true
}
