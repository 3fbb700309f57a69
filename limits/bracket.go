package limits

import (
	"fmt"
	"math"

	"github.com/sartorproj/simplik/optim"
)

var (
	// trial points for an end where CLs - (1-CL) is positive
	lowerProbes = []float64{0, 1, -1, 3, -3, 10, -10, 0.1, -0.1, 0.01, -0.01}
	// trial points for an end where it is negative
	upperProbes = []float64{1, 0, 3, -1, 10, -3, 0.1, -0.1, -10, 100, -100, 1000}
)

const lowestTrial = -10000

// determineBracket finds an interval on which root changes sign.
//
// The lower end starts at mu_hat + 1.5 sigma and moves down by i^2 sigma
// until the hypothesis is no longer excluded; the upper end starts at
// mu_hat + 2.5 sigma and moves up until it is. After BracketTries steps a
// fixed list of trial points is searched instead. Evaluation errors other
// than a spent budget or a cancelled context only disqualify the trial
// point.
func (s *Solver) determineBracket(ev *evaluator, root optim.RootFunc) (float64, float64, error) {
	sigma := math.Max(ev.sigmaMu, s.cfg.MinSigmaMu)

	a := ev.muHat + 1.5*sigma
	ok, err := s.probe(root, a, positive)
	for i := 1; !ok; i++ {
		if err != nil {
			return 0, 0, err
		}
		if i > s.cfg.BracketTries || a < lowestTrial {
			a, err = s.search(root, lowerProbes, positive)
			if err != nil {
				return 0, 0, fmt.Errorf("%w: no non-excluded point (mu_hat %g, sigma %g): %w", ErrBracketNotFound, ev.muHat, sigma, err)
			}
			break
		}
		a -= float64(i*i) * sigma
		ok, err = s.probe(root, a, positive)
	}

	b := ev.muHat + 2.5*sigma
	ok, err = s.probe(root, b, negative)
	for i := 1; !ok; i++ {
		if err != nil {
			return 0, 0, err
		}
		if i > s.cfg.BracketTries {
			b, err = s.search(root, upperProbes, negative)
			if err != nil {
				return 0, 0, fmt.Errorf("%w: no excluded point (mu_hat %g, sigma %g): %w", ErrBracketNotFound, ev.muHat, sigma, err)
			}
			break
		}
		b += float64(i*i) * sigma
		ok, err = s.probe(root, b, negative)
	}

	return math.Min(a, b), math.Max(a, b), nil
}

func positive(x float64) bool { return x > 0 }
func negative(x float64) bool { return x < 0 }

// probe evaluates root at mu. It returns a non-nil error only when the
// computation has to stop.
func (s *Solver) probe(root optim.RootFunc, mu float64, want func(float64) bool) (bool, error) {
	v, err := root(mu)
	if err != nil {
		if fatal(err) {
			return false, err
		}
		s.log.Debug("bracket trial failed", "mu", mu, "error", err)
		return false, nil
	}
	return want(v), nil
}

func (s *Solver) search(root optim.RootFunc, trials []float64, want func(float64) bool) (float64, error) {
	for _, mu := range trials {
		ok, err := s.probe(root, mu, want)
		if err != nil {
			return 0, err
		}
		if ok {
			return mu, nil
		}
	}
	return 0, fmt.Errorf("none of %d trial points qualifies", len(trials))
}
