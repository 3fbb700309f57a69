package stats

import "math"

// LogPoisson returns log P(k | lambda) for a Poisson mean lambda. k may be
// non-integer, as it is for Asimov datasets.
func LogPoisson(k, lambda float64) float64 {
	lg, _ := math.Lgamma(k + 1)
	return LogPoissonWithGamma(k, lambda, lg)
}

// LogPoissonWithGamma is LogPoisson with lgamma(k+1) supplied by the caller.
func LogPoissonWithGamma(k, lambda, lgammaK float64) float64 {
	if k == 0 {
		return -lambda
	}
	return k*math.Log(lambda) - lambda - lgammaK
}

// SumLogPoisson returns the summed log Poisson probability of the observed
// counts given the means lambda and the cached lgamma(observed+1).
func SumLogPoisson(observed, lambda, lgamma []float64) float64 {
	var sum float64
	for i, k := range observed {
		sum += LogPoissonWithGamma(k, lambda[i], lgamma[i])
	}
	return sum
}
