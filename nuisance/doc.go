// Package nuisance profiles the nuisance parameters of a simplified
// likelihood.
//
// For fixed signal yields the negative log-likelihood
//
//	NLL(theta) = -sum_i log Poisson(obs_i; lambda_i(theta)) + 0.5 theta' W theta - logcoeff
//
// is minimized over theta, where W is the inverse of the background
// covariance. The fit runs three stages in order:
//
//  1. A closed-form per-region seed, refined coordinate by coordinate with
//     the off-diagonal constraint terms.
//  2. An unconstrained Newton solve with the analytic gradient and Hessian.
//  3. A box-constrained quasi-Newton refinement with
//     |theta_i| <= 10*obs_i, which always runs.
//
// Basic usage:
//
//	fitter := nuisance.NewFitter(m, nuisance.DefaultConfig())
//	res, err := fitter.Fit(m.Signals(10))
//	if errors.Is(err, nuisance.ErrFitDivergence) {
//	    // seed iteration ran away
//	}
//	fmt.Println(res.Theta, res.Method)
package nuisance
