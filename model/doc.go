// Package model holds the inputs of a simplified likelihood and everything
// derived from them once per construction.
//
// A model describes one analysis: a single signal region or a set of
// correlated regions. Each region contributes a Poisson term whose mean is
// the signal, the background and a nuisance offset theta. The nuisances are
// constrained by a multivariate Gaussian with covariance V.
//
// # Basic Usage
//
// Build a model from explicit vectors:
//
//	m, err := model.New(model.Data{
//	    Observed:   []float64{12, 5},
//	    Background: []float64{10.2, 4.1},
//	    Covariance: [][]float64{{4.0, 0.5}, {0.5, 1.2}},
//	    Signal:     []float64{3.1, 1.7},
//	})
//
// Or, for one region, from scalars:
//
//	m, err := model.NewSingle(12, 10.2, 2.0, 3.1)
//
// # Asymmetric Uncertainties
//
// When Data.ThirdMoment is set and not all zero, each background is
// modelled as a skew-normal, A + B*x + C*x^2 with x standard normal. The
// coefficients are solved from the variance and third moment of every
// region, and the Poisson mean becomes
//
//	lambda = nsig + A + theta + C*theta^2/B^2
//
// A linear model uses lambda = nsig + background + theta.
//
// # Region Tables
//
// LoadCSV reads one uncorrelated region per row (observed, background,
// bg_error, signal). Combine merges such rows into one joint record.
package model
