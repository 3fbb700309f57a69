package likelihood

import (
	"fmt"
	"math"

	"github.com/sartorproj/simplik/optim"
)

const (
	muHatRounds     = 20
	bracketExpands  = 50
	muHatRootRelTol = 1e-9
	muHatAbsTol     = 1e-10
	muHatRelTol     = 0.5e-2
	tinySignal      = 1e-20
	minSignal       = 1e-16
	minHessian      = 1e-10
)

// Result is the maximum of the profile likelihood in the signal strength.
type Result struct {
	MuHat    float64   `json:"mu_hat"`
	SigmaMu  float64   `json:"sigma_mu"`
	NLL      float64   `json:"nll"` // profiled NLL at MuHat
	ThetaHat []float64 `json:"theta_hat"`
}

// Lmax returns the maximal profile likelihood.
func (r *Result) Lmax() float64 { return math.Exp(-r.NLL) }

// DNLLDMu returns dNLL/dmu for the signal yields mu*nsig at fixed theta:
// sum_i nsig_i - obs_i*nsig_i/lambda_i.
func (e *Engine) DNLLDMu(mu float64, nsig, theta []float64) float64 {
	lambda := e.m.Lambda(nil, scale(mu, nsig), theta)
	obs := e.m.Observed()
	var d float64
	for i, s := range nsig {
		d += s - obs[i]*s/lambda[i]
	}
	return d
}

// SigmaMu returns the inverse-Hessian estimate of the uncertainty on mu,
// 1/sqrt(sum_i obs_i*nsig_i^2/lambda_i^2), at mu*nsig and theta.
func (e *Engine) SigmaMu(mu float64, nsig, theta []float64) float64 {
	hess := e.d2NLLdMu2(mu, nsig, theta)
	var total float64
	for _, h := range hess {
		total += h
	}
	if total == 0 {
		total = minHessian
	}
	return 1 / math.Sqrt(total)
}

// d2NLLdMu2 returns the per-region terms obs_i*nsig_i^2/lambda_i^2.
func (e *Engine) d2NLLdMu2(mu float64, nsig, theta []float64) []float64 {
	lambda := e.m.Lambda(nil, scale(mu, nsig), theta)
	obs := e.m.Observed()
	out := make([]float64, len(nsig))
	for i, s := range nsig {
		out[i] = obs[i] * s * s / (lambda[i] * lambda[i])
	}
	return out
}

// FindMuHat returns the signal strength mu maximizing the profile
// likelihood of mu*nsig.
//
// The profile is maximized by alternating between refitting theta at the
// current mu and solving dNLL/dmu = 0 at fixed theta, until mu moves by
// less than a small absolute plus relative amount. Unless allowNegative is
// set, mu is clamped at zero.
func (e *Engine) FindMuHat(nsig []float64, allowNegative bool) (*Result, error) {
	if err := e.checkSignal(nsig, false); err != nil {
		return nil, err
	}
	if sum(nsig) < minSignal {
		return nil, ErrZeroSignal
	}

	s := make([]float64, len(nsig))
	for i, v := range nsig {
		if v == 0 {
			v = tinySignal
		}
		s[i] = v
	}

	if equal(e.m.Observed(), e.m.Background()) {
		// mu_hat is 0, but a skewed model still moves theta away from 0.
		fit, err := e.fitter.Fit(make([]float64, len(s)))
		if err != nil {
			return nil, err
		}
		return &Result{
			MuHat:    0,
			SigmaMu:  e.SigmaMu(0, s, fit.Theta),
			NLL:      fit.NLL,
			ThetaHat: fit.Theta,
		}, nil
	}

	mu := 0.0
	fit, err := e.fitter.Fit(scale(mu, s))
	if err != nil {
		return nil, err
	}
	theta := fit.Theta

	for round := 0; round < muHatRounds; round++ {
		next, err := e.solveMu(s, theta, allowNegative)
		if err != nil {
			return nil, err
		}
		fit, err = e.fitter.Fit(scale(next, s))
		if err != nil {
			return nil, err
		}
		theta = fit.Theta

		done := math.Abs(next-mu) <= muHatAbsTol+muHatRelTol*math.Abs(next+mu)
		mu = next
		if done {
			break
		}
	}

	return &Result{
		MuHat:    mu,
		SigmaMu:  e.SigmaMu(mu, s, theta),
		NLL:      fit.NLL,
		ThetaHat: theta,
	}, nil
}

// solveMu brackets and solves dNLL/dmu = 0 at fixed theta.
func (e *Engine) solveMu(s, theta []float64, allowNegative bool) (float64, error) {
	minr, avgr, maxr, err := e.findAvgr(s, theta)
	if err != nil {
		return 0, err
	}

	lower := minr
	switch {
	case minr > 0:
		lower = 0.5 * minr
	case minr < 0:
		lower = 2 * minr
	}
	upper := 3 * avgr
	switch {
	case maxr > 0:
		upper = 2 * maxr
	case maxr < 0:
		upper = 0.5 * maxr
	}
	if upper <= lower {
		upper = lower + 1
	}

	f := func(mu float64) (float64, error) { return e.DNLLDMu(mu, s, theta), nil }
	flo, _ := f(lower)
	fhi, _ := f(upper)
	for k := 0; flo*fhi > 0; k++ {
		if k == bracketExpands {
			if flo > 0 && !allowNegative {
				// The derivative is positive down to the lowest trial, so the
				// clamped maximum is at zero.
				return 0, nil
			}
			return 0, fmt.Errorf("likelihood: no sign change of dNLL/dmu in [%g, %g]", lower, upper)
		}
		width := math.Max(1, upper-lower)
		if flo > 0 {
			lower -= width
			flo, _ = f(lower)
		}
		if fhi < 0 {
			upper += width
			fhi, _ = f(upper)
		}
	}

	mu, err := e.fitter.Optimizer().FindRoot(f, lower, upper, optim.Tolerance{Rel: muHatRootRelTol, Abs: muHatAbsTol})
	if err != nil {
		return 0, fmt.Errorf("likelihood: solving dNLL/dmu: %w", err)
	}
	if !allowNegative && mu < 0 {
		mu = 0
	}
	return mu, nil
}

// findAvgr returns the smallest, the Hessian-weighted average and the
// largest per-region estimate (obs - b - theta)/s of mu.
func (e *Engine) findAvgr(s, theta []float64) (minr, avgr, maxr float64, err error) {
	obs := e.m.Observed()
	bg := e.m.Background()
	hess := e.d2NLLdMu2(1, s, theta)

	minr, maxr = math.Inf(1), math.Inf(-1)
	var wsum, wtot float64
	found := false
	for i, si := range s {
		if si <= minSignal {
			continue
		}
		w := 1.0
		if hess[i] > 0 {
			w = hess[i]
		}
		r := (obs[i] - bg[i] - theta[i]) / si
		minr = math.Min(minr, r)
		maxr = math.Max(maxr, r)
		wsum += w * r
		wtot += w
		found = true
	}
	if !found {
		return 0, 0, 0, ErrZeroSignal
	}
	return minr, wsum / wtot, maxr, nil
}

func equal(a, b []float64) bool {
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
