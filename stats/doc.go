// Package stats provides the statistical building blocks of the likelihood
// and limit computations.
//
// # Poisson Terms
//
// Log probabilities of (possibly non-integer) counts:
//
//	lp := stats.LogPoisson(12, 10.5)
//
//	// with lgamma(k+1) cached per region
//	sum := stats.SumLogPoisson(observed, lambda, lgamma)
//
// # CLs
//
// The asymptotic CLs of a signal hypothesis follows from four negative
// log-likelihoods, on the Asimov dataset and on data, each at the
// hypothesis and at its best fit:
//
//	r := stats.CLsFromNLL(nllA, nll0A, nll, nll0)
//	if r.Excluded(0.95) {
//	    // 1-CLs >= 0.95
//	}
//
// The formulae are those of Cowan, Cranmer, Gross and Vitells,
// Eur. Phys. J. C 71 (2011) 1554.
package stats
