package likelihood

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"

	"github.com/sartorproj/simplik/model"
	"github.com/sartorproj/simplik/nuisance"
)

var (
	// ErrNonFinite is returned when a likelihood or chi2 evaluates to NaN or
	// Inf.
	ErrNonFinite = errors.New("likelihood: non-finite result")
	// ErrZeroSignal is returned by FindMuHat when no region carries signal.
	ErrZeroSignal = errors.New("likelihood: signal vanishes in every region")
	// ErrNegativeSignal is returned for signal yields below zero.
	ErrNegativeSignal = errors.New("likelihood: negative signal yield")
	// ErrQuadrature is returned when the one-region integral does not
	// stabilize.
	ErrQuadrature = errors.New("likelihood: quadrature did not converge")
)

// Config controls an Engine.
type Config struct {
	Toys                int             `yaml:"toys"`                 // Monte Carlo samples for marginalization (default: 30000)
	Seed                uint64          `yaml:"seed"`                 // seed of the Monte Carlo generator
	QuadratureWidenings int             `yaml:"quadrature_widenings"` // doublings of the integration range before giving up (default: 10)
	Nuisance            nuisance.Config `yaml:"nuisance"`

	Logger *slog.Logger `yaml:"-"` // nil selects slog.Default()
}

// DefaultConfig returns the default engine configuration.
func DefaultConfig() Config {
	return Config{
		Toys:                30000,
		Seed:                1,
		QuadratureWidenings: 10,
		Nuisance:            nuisance.DefaultConfig(),
	}
}

// Engine evaluates profile and marginal likelihoods of one model.
//
// An Engine caches its Monte Carlo samples and is not safe for concurrent
// use. Engines for different models are independent.
type Engine struct {
	m      *model.Model
	cfg    Config
	fitter *nuisance.Fitter
	log    *slog.Logger

	rng  *rand.Rand
	toys [][]float64 // cached nuisance samples, drawn on first use
}

// New returns an Engine for m. Zero fields of cfg take their defaults.
func New(m *model.Model, cfg Config) *Engine {
	def := DefaultConfig()
	if cfg.Toys <= 0 {
		cfg.Toys = def.Toys
	}
	if cfg.QuadratureWidenings <= 0 {
		cfg.QuadratureWidenings = def.QuadratureWidenings
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Nuisance.Logger == nil {
		cfg.Nuisance.Logger = cfg.Logger
	}

	e := &Engine{
		m:      m,
		cfg:    cfg,
		fitter: nuisance.NewFitter(m, cfg.Nuisance),
		log:    cfg.Logger,
	}
	e.Reseed(cfg.Seed)
	return e
}

// Model returns the engine's model.
func (e *Engine) Model() *model.Model { return e.m }

// Fitter returns the nuisance fitter used for profiling.
func (e *Engine) Fitter() *nuisance.Fitter { return e.fitter }

// Reseed resets the Monte Carlo generator and drops cached samples.
func (e *Engine) Reseed(seed uint64) {
	e.cfg.Seed = seed
	e.rng = rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	e.toys = nil
}

// ThetaHat profiles the nuisance parameters for the signal yields nsig.
// Negative yields are allowed here and in Likelihood.
func (e *Engine) ThetaHat(nsig []float64) (*nuisance.FitResult, error) {
	if err := e.checkSignal(nsig, true); err != nil {
		return nil, err
	}
	return e.fitter.Fit(nsig)
}

// Likelihood returns the likelihood of the observed counts for the signal
// yields nsig, or its negative logarithm when nll is set. With marginalize
// the nuisances are integrated over their Gaussian prior, otherwise they
// are profiled.
func (e *Engine) Likelihood(nsig []float64, marginalize, nll bool) (float64, error) {
	if err := e.checkSignal(nsig, true); err != nil {
		return 0, err
	}

	var value float64
	if marginalize {
		v, err := e.marginal(nsig, nll)
		if err != nil {
			return 0, err
		}
		value = v
	} else {
		fit, err := e.fitter.Fit(nsig)
		if err != nil {
			return 0, err
		}
		value = fit.NLL
		if !nll {
			value = math.Exp(-value)
		}
	}

	if math.IsNaN(value) || math.IsInf(value, 0) {
		return 0, fmt.Errorf("%w: likelihood at %v", ErrNonFinite, nsig)
	}
	return value, nil
}

// Chi2 returns 2*(NLL(nsig) - NLL at the best fit), the likelihood ratio of
// the hypothesis against its own maximum. A vanishing signal gives 0.
func (e *Engine) Chi2(nsig []float64, marginalize bool) (float64, error) {
	if err := e.checkSignal(nsig, false); err != nil {
		return 0, err
	}
	if sum(nsig) == 0 {
		return 0, nil
	}

	nll, err := e.Likelihood(nsig, marginalize, true)
	if err != nil {
		return 0, err
	}

	best, err := e.FindMuHat(nsig, false)
	if err != nil {
		return 0, err
	}
	nllMax := best.NLL
	if marginalize {
		nllMax, err = e.Likelihood(scale(best.MuHat, nsig), true, true)
		if err != nil {
			return 0, err
		}
	}
	nllMax = math.Min(nllMax, nll)

	chi2 := 2 * (nll - nllMax)
	if math.IsNaN(chi2) || math.IsInf(chi2, 0) {
		return 0, fmt.Errorf("%w: chi2 = %g (nll %g, nll max %g)", ErrNonFinite, chi2, nll, nllMax)
	}
	return chi2, nil
}

// checkSignal validates the signal yields. Negative yields are accepted
// only where allowNegative is set; the Poisson means are clamped either way.
func (e *Engine) checkSignal(nsig []float64, allowNegative bool) error {
	if len(nsig) != e.m.Len() {
		return fmt.Errorf("%w: %d signal yields for %d regions", model.ErrInvalidModel, len(nsig), e.m.Len())
	}
	for i, s := range nsig {
		if math.IsNaN(s) || math.IsInf(s, 0) {
			return fmt.Errorf("%w: nsig[%d] = %g", ErrNonFinite, i, s)
		}
		if s < 0 && !allowNegative {
			return fmt.Errorf("%w: nsig[%d] = %g", ErrNegativeSignal, i, s)
		}
	}
	return nil
}

func sum(x []float64) float64 {
	var s float64
	for _, v := range x {
		s += v
	}
	return s
}

func scale(mu float64, x []float64) []float64 {
	out := make([]float64, len(x))
	for i, v := range x {
		out[i] = mu * v
	}
	return out
}
