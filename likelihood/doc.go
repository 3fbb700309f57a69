// Package likelihood evaluates profile and marginal likelihoods of a
// simplified-likelihood model and maximizes them in the signal strength.
//
// An Engine wraps one model.Model:
//
//	e := likelihood.New(m, likelihood.DefaultConfig())
//
//	// profiled negative log-likelihood of the nominal signal
//	nll, err := e.Likelihood(m.Signal(), false, true)
//
//	// marginalized likelihood; one linear region is integrated by
//	// quadrature, everything else by Monte Carlo over Normal(0, V)
//	l, err := e.Likelihood(m.Signal(), true, false)
//
//	// best-fit signal strength and its uncertainty
//	res, err := e.FindMuHat(m.Signal(), false)
//	fmt.Println(res.MuHat, res.SigmaMu)
//
// The Monte Carlo samples are drawn from a PCG generator seeded by
// Config.Seed and reused between calls, so repeated evaluations with the
// same seed agree exactly. Reseed draws a fresh set.
package likelihood
