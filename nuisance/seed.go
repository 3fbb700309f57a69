package nuisance

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// Seed returns the closed-form starting point of the fit.
//
// Every region is first solved on its own: with lambda = ntot + theta and a
// Gaussian of variance V_ii, the stationarity condition is the quadratic
// theta^2 + p*theta + q = 0 with p = ntot + V_ii and q = V_ii*(ntot - obs).
// The off-diagonal constraint terms are then folded in one coordinate at a
// time, using the conditional variance 1/W_ii, until successive iterates
// agree.
func (f *Fitter) Seed(nsig []float64) ([]float64, error) {
	theta, _, err := f.seed(nsig)
	return theta, err
}

func (f *Fitter) seed(nsig []float64) ([]float64, int, error) {
	n := f.m.Len()
	obs := f.m.Observed()
	bg := f.m.Background()
	v := f.m.ConstraintCovariance()

	ntot := make([]float64, n)
	theta := make([]float64, n)
	for i := 0; i < n; i++ {
		ntot[i] = nsig[i] + bg[i]
		s2 := v.At(i, i)
		theta[i] = largerRoot(ntot[i]+s2, s2*(ntot[i]-obs[i]))
	}
	if n == 1 {
		return theta, 0, nil
	}

	w := f.m.Weight()
	if offDiagonalZero(w) {
		return theta, 0, nil
	}

	prev := make([]float64, n)
	dFirst, dPrev := math.Inf(1), math.Inf(1)
	frac := f.cfg.MaxStepFraction

	for round := 1; round <= f.cfg.SeedRounds; round++ {
		copy(prev, theta)

		for i := 0; i < n; i++ {
			wii := w.At(i, i)
			if wii <= 0 {
				continue
			}
			s2 := 1 / wii
			p := ntot[i] + s2
			q := s2 * (ntot[i] - obs[i])

			var cross float64
			for j := 0; j < n; j++ {
				if j != i {
					cross += w.At(i, j) * theta[j]
				}
			}
			dp := capStep(s2*cross, p, frac)
			dq := capStep(s2*ntot[i]*cross, q, frac)
			theta[i] = largerRoot(p+dp, q+dq)
		}

		d := distance(prev, theta)
		if round == 1 {
			dFirst = d
		}
		if d < f.cfg.SeedTolerance {
			return theta, round, nil
		}
		if round > 1 && d > dPrev && d > dFirst {
			return nil, round, &DivergenceError{Round: round, Distance: d, Previous: dPrev}
		}
		dPrev = d
	}

	f.log.Info("seed iteration hit round limit", "rounds", f.cfg.SeedRounds, "distance", dPrev)
	return theta, f.cfg.SeedRounds, nil
}

// largerRoot returns the larger root of x^2 + p*x + q in the form that does
// not cancel when q is small.
func largerRoot(p, q float64) float64 {
	disc := p*p - 4*q
	if disc < 0 {
		disc = 0
	}
	sq := math.Sqrt(disc)
	if p >= 0 {
		den := p + sq
		if den == 0 {
			return 0
		}
		return -2 * q / den
	}
	return (-p + sq) / 2
}

// capStep limits |d| to frac*|ref|.
func capStep(d, ref, frac float64) float64 {
	limit := frac * math.Abs(ref)
	if d > limit {
		return limit
	}
	if d < -limit {
		return -limit
	}
	return d
}

// distance is sum |a-b| / |a+b| with vanishing denominators replaced.
func distance(a, b []float64) float64 {
	var d float64
	for i := range a {
		den := math.Abs(a[i] + b[i])
		if den == 0 {
			den = 1e-20
		}
		d += math.Abs(a[i]-b[i]) / den
	}
	return d
}

func offDiagonalZero(w mat.Symmetric) bool {
	n := w.SymmetricDim()
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			if w.At(i, j) != 0 {
				return false
			}
		}
	}
	return true
}
