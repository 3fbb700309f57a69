// Package limits computes asymptotic CLs exclusion levels and upper limits
// for simplified-likelihood models.
//
// The test statistic q_mu and its Asimov counterpart q_A are turned into
// CLs with the formulae of Cowan, Cranmer, Gross and Vitells. The signal
// strength mu scales the relative signal shape, so it is a total signal
// yield and an upper limit on mu is a limit on the number of signal events.
//
// Basic usage:
//
//	solver := limits.New(limits.DefaultConfig())
//
//	// exclusion confidence level of 20 signal events
//	cl, err := solver.ComputeCLs(ctx, m, 20, limits.Observed)
//
//	// 95% CL upper limit on the signal yield
//	ul, err := solver.ULOnYields(ctx, m, limits.Observed)
//	if errors.Is(err, limits.ErrBracketNotFound) {
//	    // ul.State == limits.StateFailed
//	}
//
//	// and on the visible cross section
//	xs, err := solver.ULOnSigmaTimesEff(ctx, m, 139, limits.APriori)
//
// # Expected limits
//
// APriori evaluates on the nominal background, APosteriori on the
// background with its nuisances fitted to the data under the
// background-only hypothesis.
//
// # Budgets
//
// Every call is bounded by Config.MaxEvaluations CLs evaluations and
// optionally by Config.Timeout; the context passed in cancels it as well.
// Run evaluates independent models concurrently.
package limits
