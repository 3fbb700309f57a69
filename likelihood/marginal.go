package likelihood

import (
	"fmt"
	"math"

	"github.com/sartorproj/simplik/stats"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/integrate/quad"
	"gonum.org/v1/gonum/stat/distmv"
	"gonum.org/v1/gonum/stat/distuv"
)

const (
	// zeroLikelihood stands in for a vanishing Monte Carlo average in NLL
	// mode.
	zeroLikelihood = 1e-100

	quadStartPoints = 64
	quadMaxPoints   = 8192
	quadRuleTol     = 1e-3
	quadRangeTol    = 1e-2
)

// marginal integrates the likelihood over the nuisance prior. One linear
// region is integrated numerically, everything else by Monte Carlo.
func (e *Engine) marginal(nsig []float64, nll bool) (float64, error) {
	if e.m.Len() == 1 && e.m.IsLinear() {
		l, err := e.marginalQuad(nsig[0])
		if err == nil && l > 0 {
			if nll {
				return -math.Log(l), nil
			}
			return l, nil
		}
		e.log.Warn("quadrature marginalization failed, falling back to monte carlo",
			"model", e.m.Name, "nsig", nsig[0], "value", l, "error", err)
	}
	return e.marginalMC(nsig, nll)
}

// marginalQuad integrates Poisson(obs; x) * Normal(x; b+s, sigma) over x > 0,
// where sigma^2 combines the background variance and the signal
// uncertainty, and renormalizes for the truncation of the Gaussian at zero.
func (e *Engine) marginalQuad(nsig float64) (float64, error) {
	nobs := e.m.Observed()[0]
	lg := e.m.LogGamma()[0]
	mean := e.m.Background()[0] + nsig

	ds := e.m.DeltasRel * nsig
	sigma2 := e.m.ConstraintCovariance().At(0, 0) + ds*ds
	if sigma2 <= 0 {
		return 0, fmt.Errorf("%w: vanishing variance", ErrQuadrature)
	}
	sigma := math.Sqrt(sigma2)

	// mode of the integrand
	xm := mean - sigma2
	if xm == 0 {
		xm = 0.001
	}
	xmax := (xm + math.Sqrt(xm*xm+4*nobs*sigma2)) / 2

	prior := distuv.Normal{Mu: mean, Sigma: sigma}
	integrand := func(x float64) float64 {
		if x <= 0 {
			return 0
		}
		return math.Exp(stats.LogPoissonWithGamma(nobs, x, lg) + prior.LogProb(x))
	}

	half := 5 * sigma
	var last float64
	converged := false
	for k := 0; k <= e.cfg.QuadratureWidenings; k++ {
		lo := math.Max(0, xmax-half)
		hi := xmax + half
		val, err := integrateFixed(integrand, lo, hi)
		if err != nil {
			return 0, err
		}
		if k > 0 && math.Abs(val-last) <= quadRangeTol*math.Abs(val) {
			last = val
			converged = true
			break
		}
		last = val
		half *= 2
	}
	if !converged {
		return 0, fmt.Errorf("%w: range still changing after %d widenings", ErrQuadrature, e.cfg.QuadratureWidenings)
	}

	norm := 0.5 * (1 + math.Erf(mean/math.Sqrt(2*sigma2)))
	if norm <= 0 {
		return 0, fmt.Errorf("%w: prior has no mass above zero", ErrQuadrature)
	}
	return last / norm, nil
}

// integrateFixed applies Gauss-Legendre rules of increasing order until two
// successive estimates agree.
func integrateFixed(f func(float64) float64, lo, hi float64) (float64, error) {
	prev := quad.Fixed(f, lo, hi, quadStartPoints, quad.Legendre{}, 0)
	for n := 2 * quadStartPoints; n <= quadMaxPoints; n *= 2 {
		cur := quad.Fixed(f, lo, hi, n, quad.Legendre{}, 0)
		if math.Abs(cur-prev) <= quadRuleTol*math.Abs(cur) {
			return cur, nil
		}
		prev = cur
	}
	return 0, fmt.Errorf("%w: on [%g, %g] with %d points", ErrQuadrature, lo, hi, quadMaxPoints)
}

// marginalMC averages the Poisson likelihood over nuisance samples drawn
// from Normal(0, V). The samples are drawn once per seed and reused, so
// the estimate is a smooth function of nsig.
func (e *Engine) marginalMC(nsig []float64, nll bool) (float64, error) {
	toys, err := e.samples()
	if err != nil {
		return 0, err
	}

	obs := e.m.Observed()
	lg := e.m.LogGamma()
	lambda := make([]float64, e.m.Len())
	logs := make([]float64, len(toys))
	for k, theta := range toys {
		e.m.Lambda(lambda, nsig, theta)
		logs[k] = stats.SumLogPoisson(obs, lambda, lg)
	}

	logMean := floats.LogSumExp(logs) - math.Log(float64(len(toys)))
	if nll {
		if math.IsInf(logMean, -1) {
			return -math.Log(zeroLikelihood), nil
		}
		return -logMean, nil
	}
	return math.Exp(logMean), nil
}

func (e *Engine) samples() ([][]float64, error) {
	if e.toys != nil {
		return e.toys, nil
	}

	n := e.m.Len()
	normal, ok := distmv.NewNormal(make([]float64, n), e.m.ConstraintCovariance(), e.rng)
	if !ok {
		return nil, fmt.Errorf("likelihood: covariance of %q is not positive definite", e.m.Name)
	}
	toys := make([][]float64, e.cfg.Toys)
	for k := range toys {
		toys[k] = normal.Rand(nil)
	}
	e.toys = toys
	return toys, nil
}
