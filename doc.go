// Package simplik provides simplified likelihoods for counting experiments.
//
// A simplified likelihood describes one or more signal regions by their
// observed counts, expected backgrounds, the background covariance and,
// optionally, the third moments of the background distribution. Nuisance
// parameters are either profiled or marginalized, and signal hypotheses are
// tested with the asymptotic CLs method.
//
// # Features
//
//   - Linear and skewed (quadratic) background models
//   - Profiled nuisances via a closed-form seed and Newton/box-constrained refinement
//   - Marginalized likelihoods by quadrature (one region) or Monte Carlo
//   - Best-fit signal strength and its uncertainty
//   - Asymptotic CLs, exclusion levels and upper limits on yields or sigma x efficiency
//   - Observed, a priori and a posteriori expected limits
//   - Concurrent evaluation of many regions
//
// # Quick Start
//
// Compute an upper limit on the signal yield of a single region:
//
//	m, _ := model.NewSingle(8, 10, 2, 5) // observed, background, error, signal
//	solver := limits.New(limits.DefaultConfig())
//	ul, err := solver.ULOnYields(ctx, m, limits.Observed)
//
// Fit the signal strength:
//
//	e := likelihood.New(m, likelihood.DefaultConfig())
//	res, _ := e.FindMuHat(m.Signal(), false)
//
// # Packages
//
// The library is organized into the following packages:
//
//   - model: Region data, skew coefficients and constraint covariance
//   - stats: Poisson terms and the CLs formulae
//   - optim: Unconstrained, box-constrained and root-finding solvers
//   - nuisance: Profiling of the nuisance parameters
//   - likelihood: Profile and marginal likelihoods, signal-strength fit
//   - limits: CLs values, upper limits and batch evaluation
//
// The simplik command exposes the same computations for YAML or CSV inputs.
//
// # References
//
//   - CMS Collaboration, Simplified likelihood for the re-interpretation of public CMS results, CMS-NOTE-2017-001
//   - Buckley, Citron, Fichet, Kraml, Waltenberger, Wardle (2019). The Simplified Likelihood Framework, JHEP 04 (2019) 064
//   - Cowan, Cranmer, Gross, Vitells (2011). Asymptotic formulae for likelihood-based tests of new physics, Eur. Phys. J. C 71 1554
package simplik
