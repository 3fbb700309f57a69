package optim

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize"
)

// Default implements Optimizer with gonum's Newton method for unconstrained
// problems, a projected quasi-Newton method for box constraints and Brent's
// method for roots.
type Default struct {
	MaxIterations     int     // major iterations of either minimizer (default: 200)
	GradientThreshold float64 // stop when the (projected) gradient max-norm is below this (default: 1e-10)
	FunctionTolerance float64 // relative change in f treated as converged (default: 1e-12)
	XTolerance        float64 // relative step length treated as converged (default: 1e-12)
}

// NewDefault returns a Default optimizer with default settings.
func NewDefault() *Default {
	return &Default{
		MaxIterations:     200,
		GradientThreshold: 1e-10,
		FunctionTolerance: 1e-12,
		XTolerance:        1e-12,
	}
}

// MinimizeUnconstrained runs a Newton method with Hessian modification. A
// nil error with Converged false means the method stopped early but X is
// still its best point.
func (d *Default) MinimizeUnconstrained(p Problem, x0 []float64) (*Result, error) {
	if p.Hess == nil {
		return nil, errors.New("optim: Newton method needs a Hessian")
	}

	problem := optimize.Problem{
		Func: p.Func,
		Grad: p.Grad,
		Hess: p.Hess,
	}
	settings := &optimize.Settings{
		GradientThreshold: d.GradientThreshold,
		MajorIterations:   d.MaxIterations,
		Converger: &optimize.FunctionConverge{
			Absolute:   d.FunctionTolerance,
			Relative:   d.FunctionTolerance,
			Iterations: 10,
		},
	}

	res, err := optimize.Minimize(problem, x0, settings, &optimize.Newton{})
	if res == nil {
		return nil, fmt.Errorf("optim: newton: %w", err)
	}

	out := &Result{
		X:          res.X,
		F:          res.F,
		Iterations: res.Stats.MajorIterations,
	}
	switch res.Status {
	case optimize.GradientThreshold, optimize.MethodConverge, optimize.Success:
		out.Status = LocalMinimum
	case optimize.FunctionConvergence:
		out.Status = FunctionConverged
	case optimize.StepConvergence:
		out.Status = XConverged
	case optimize.IterationLimit, optimize.FunctionEvaluationLimit,
		optimize.GradientEvaluationLimit, optimize.HessianEvaluationLimit:
		out.Status = MaxIterations
	default:
		out.Status = Failure
	}
	out.Converged = err == nil && out.Status.Benign()
	if !allFinite(out.X) || !isFinite(out.F) {
		return nil, ErrNonFinite
	}
	return out, nil
}

// MinimizeBoxConstrained runs a projected BFGS method: the search direction
// is restricted to parameters that are not held at an active bound and
// every trial point is projected back into the box.
func (d *Default) MinimizeBoxConstrained(p Problem, x0 []float64, bounds []Bound) (*Result, error) {
	n := len(x0)
	if len(bounds) != n {
		return nil, fmt.Errorf("optim: %d bounds for %d parameters", len(bounds), n)
	}
	for i, b := range bounds {
		if b.Lower > b.Upper {
			return nil, fmt.Errorf("optim: empty bound %d: [%g, %g]", i, b.Lower, b.Upper)
		}
	}

	x := make([]float64, n)
	copy(x, x0)
	project(x, bounds)

	f := p.Func(x)
	if !isFinite(f) {
		return nil, ErrNonFinite
	}
	g := make([]float64, n)
	p.Grad(g, x)

	h := identity(n)
	fresh := true
	res := &Result{X: x, F: f}

	pg := make([]float64, n)
	dir := make([]float64, n)
	xn := make([]float64, n)
	gn := make([]float64, n)
	s := make([]float64, n)
	y := make([]float64, n)

	for iter := 0; iter < d.MaxIterations; iter++ {
		res.Iterations = iter + 1

		projectedGradient(pg, x, g, bounds)
		if floats.Norm(pg, math.Inf(1)) <= d.GradientThreshold {
			res.Status = LocalMinimum
			res.Converged = true
			return res, nil
		}

		direction(dir, h, pg)
		if floats.Dot(dir, pg) >= 0 {
			h = identity(n)
			fresh = true
			for i := range dir {
				dir[i] = -pg[i]
			}
		}

		accepted := false
		xNorm := floats.Norm(x, math.Inf(1))
		dirNorm := floats.Norm(dir, math.Inf(1))
		var fn float64
		for alpha := 1.0; alpha*dirNorm > d.XTolerance*(1+xNorm); alpha *= 0.5 {
			for i := range xn {
				xn[i] = x[i] + alpha*dir[i]
			}
			project(xn, bounds)
			floats.SubTo(s, xn, x)
			fn = p.Func(xn)
			if isFinite(fn) && fn <= f+1e-4*floats.Dot(g, s) {
				accepted = true
				break
			}
		}
		if !accepted {
			if !fresh {
				h = identity(n)
				fresh = true
				continue
			}
			// No decrease is available at the resolution of XTolerance.
			res.Status = XConverged
			res.Converged = true
			return res, nil
		}

		p.Grad(gn, xn)
		floats.SubTo(y, gn, g)
		fOld := f
		copy(x, xn)
		copy(g, gn)
		f = fn
		res.F = f

		if math.Abs(fOld-f) <= d.FunctionTolerance*math.Max(1, math.Abs(f)) {
			res.Status = FunctionConverged
			res.Converged = true
			return res, nil
		}
		if floats.Norm(s, math.Inf(1)) <= d.XTolerance*(1+floats.Norm(x, math.Inf(1))) {
			res.Status = XConverged
			res.Converged = true
			return res, nil
		}

		sy := floats.Dot(s, y)
		if sy > 1e-12*floats.Norm(s, 2)*floats.Norm(y, 2) {
			if fresh {
				h.ScaleSym(sy/floats.Dot(y, y), h)
				fresh = false
			}
			bfgsUpdate(h, s, y, sy)
		}
	}

	res.Status = MaxIterations
	return res, nil
}

// FindRoot implements Brent's method combining bisection, secant and inverse
// quadratic interpolation steps.
func (d *Default) FindRoot(f RootFunc, a, b float64, tol Tolerance) (float64, error) {
	if tol.MaxIter <= 0 {
		tol.MaxIter = 100
	}

	fa, err := f(a)
	if err != nil {
		return 0, err
	}
	fb, err := f(b)
	if err != nil {
		return 0, err
	}
	if !isFinite(fa) || !isFinite(fb) {
		return 0, ErrNonFinite
	}
	if fa == 0 {
		return a, nil
	}
	if fb == 0 {
		return b, nil
	}
	if math.Signbit(fa) == math.Signbit(fb) {
		return 0, fmt.Errorf("%w: f(%g)=%g, f(%g)=%g", ErrNotBracketed, a, fa, b, fb)
	}

	xpre, xcur := a, b
	fpre, fcur := fa, fb
	var xblk, fblk, spre, scur float64

	for i := 0; i < tol.MaxIter; i++ {
		if fpre != 0 && fcur != 0 && math.Signbit(fpre) != math.Signbit(fcur) {
			xblk = xpre
			fblk = fpre
			spre = xcur - xpre
			scur = spre
		}
		if math.Abs(fblk) < math.Abs(fcur) {
			xpre, xcur, xblk = xcur, xblk, xcur
			fpre, fcur, fblk = fcur, fblk, fcur
		}

		delta := (tol.Abs + tol.Rel*math.Abs(xcur)) / 2
		sbis := (xblk - xcur) / 2
		if fcur == 0 || math.Abs(sbis) < delta {
			return xcur, nil
		}

		if math.Abs(spre) > delta && math.Abs(fcur) < math.Abs(fpre) {
			var stry float64
			if xpre == xblk {
				// secant
				stry = -fcur * (xcur - xpre) / (fcur - fpre)
			} else {
				// inverse quadratic interpolation
				dpre := (fpre - fcur) / (xpre - xcur)
				dblk := (fblk - fcur) / (xblk - xcur)
				stry = -fcur * (fblk*dblk - fpre*dpre) / (dblk * dpre * (fblk - fpre))
			}
			if 2*math.Abs(stry) < math.Min(math.Abs(spre), 3*math.Abs(sbis)-delta) {
				spre = scur
				scur = stry
			} else {
				spre = sbis
				scur = sbis
			}
		} else {
			spre = sbis
			scur = sbis
		}

		xpre = xcur
		fpre = fcur
		if math.Abs(scur) > delta {
			xcur += scur
		} else if sbis > 0 {
			xcur += delta
		} else {
			xcur -= delta
		}

		fcur, err = f(xcur)
		if err != nil {
			return 0, err
		}
		if !isFinite(fcur) {
			return 0, ErrNonFinite
		}
	}
	return xcur, ErrRootNotConverged
}

func project(x []float64, bounds []Bound) {
	for i := range x {
		x[i] = math.Max(bounds[i].Lower, math.Min(bounds[i].Upper, x[i]))
	}
}

// projectedGradient zeroes the components that point out of the box at an
// active bound.
func projectedGradient(dst, x, g []float64, bounds []Bound) {
	for i := range x {
		b := bounds[i]
		switch {
		case b.Lower == b.Upper:
			dst[i] = 0
		case x[i] <= b.Lower && g[i] > 0:
			dst[i] = 0
		case x[i] >= b.Upper && g[i] < 0:
			dst[i] = 0
		default:
			dst[i] = g[i]
		}
	}
}

// direction computes -H*pg restricted to the free parameters.
func direction(dst []float64, h *mat.SymDense, pg []float64) {
	n := len(pg)
	for i := 0; i < n; i++ {
		if pg[i] == 0 {
			dst[i] = 0
			continue
		}
		var sum float64
		for j := 0; j < n; j++ {
			if pg[j] != 0 {
				sum += h.At(i, j) * pg[j]
			}
		}
		dst[i] = -sum
	}
}

// bfgsUpdate applies the inverse-Hessian BFGS update
// H += (1 + y'Hy/sy) ss'/sy - (Hy s' + s y'H)/sy.
func bfgsUpdate(h *mat.SymDense, s, y []float64, sy float64) {
	n := len(s)
	hy := make([]float64, n)
	for i := 0; i < n; i++ {
		var sum float64
		for j := 0; j < n; j++ {
			sum += h.At(i, j) * y[j]
		}
		hy[i] = sum
	}
	yhy := floats.Dot(y, hy)
	coef := (1 + yhy/sy) / sy
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			v := h.At(i, j) + coef*s[i]*s[j] - (hy[i]*s[j]+s[i]*hy[j])/sy
			h.SetSym(i, j, v)
		}
	}
}

func identity(n int) *mat.SymDense {
	h := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		h.SetSym(i, i, 1)
	}
	return h
}
