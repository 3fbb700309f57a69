package limits

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/sartorproj/simplik/likelihood"
	"github.com/sartorproj/simplik/model"
	"github.com/sartorproj/simplik/optim"
	"github.com/sartorproj/simplik/stats"
)

var (
	// ErrBracketNotFound is returned when no interval with a sign change of
	// CLs - (1-CL) could be found.
	ErrBracketNotFound = errors.New("limits: no bracket for the upper limit")
	// ErrZeroSignal is returned for models whose signal vanishes everywhere.
	ErrZeroSignal = errors.New("limits: signal vanishes in every region")
	// ErrBudgetExceeded is returned when a computation runs out of
	// likelihood evaluations.
	ErrBudgetExceeded = errors.New("limits: evaluation budget exceeded")
	// ErrInvalidLumi is returned for a non-positive luminosity.
	ErrInvalidLumi = errors.New("limits: luminosity must be positive")
)

// Config controls a Solver.
type Config struct {
	CL             float64           `yaml:"cl"`              // confidence level of the limit (default: 0.95)
	Marginalize    bool              `yaml:"marginalize"`     // marginalize instead of profiling the nuisances
	BracketTries   int               `yaml:"bracket_tries"`   // geometric bracket expansions before the probe list (default: 20)
	MinSigmaMu     float64           `yaml:"min_sigma_mu"`    // floor on the step unit of the bracket search (default: 0.5)
	MaxEvaluations int               `yaml:"max_evaluations"` // CLs evaluations per call, 0 for no limit (default: 1000)
	Timeout        time.Duration     `yaml:"timeout"`         // wall-clock limit per call, 0 for none
	Workers        int               `yaml:"workers"`         // concurrent regions in Run (default: 4)
	RootRelTol     float64           `yaml:"root_rel_tol"`    // (default: 1e-3)
	RootAbsTol     float64           `yaml:"root_abs_tol"`    // (default: 1e-6)
	Likelihood     likelihood.Config `yaml:"likelihood"`

	Logger *slog.Logger `yaml:"-"` // nil selects slog.Default()
}

// DefaultConfig returns the default solver configuration.
func DefaultConfig() Config {
	return Config{
		CL:             0.95,
		BracketTries:   20,
		MinSigmaMu:     0.5,
		MaxEvaluations: 1000,
		Workers:        4,
		RootRelTol:     1e-3,
		RootAbsTol:     1e-6,
		Likelihood:     likelihood.DefaultConfig(),
	}
}

// Limit is the outcome of an upper-limit computation. State tells a failed
// computation apart from a limit that is legitimately zero.
type Limit struct {
	Value       float64 `json:"value"`
	MuHat       float64 `json:"mu_hat"`
	SigmaMu     float64 `json:"sigma_mu"`
	Lower       float64 `json:"bracket_lower"`
	Upper       float64 `json:"bracket_upper"`
	State       State   `json:"state"`
	Evaluations int     `json:"evaluations"`
}

// Valid reports whether the computation reached StateDone.
func (l *Limit) Valid() bool { return l.State == StateDone }

// Solver computes CLs values and upper limits with the asymptotic CCGV
// formulae. A Solver is stateless between calls and safe for concurrent
// use; every call builds its own likelihood engines.
type Solver struct {
	cfg Config
	opt optim.Optimizer
	log *slog.Logger
}

// New returns a Solver. Zero fields of cfg take their defaults.
func New(cfg Config) *Solver {
	def := DefaultConfig()
	if cfg.CL <= 0 || cfg.CL >= 1 {
		cfg.CL = def.CL
	}
	if cfg.BracketTries <= 0 {
		cfg.BracketTries = def.BracketTries
	}
	if cfg.MinSigmaMu <= 0 {
		cfg.MinSigmaMu = def.MinSigmaMu
	}
	if cfg.MaxEvaluations < 0 {
		cfg.MaxEvaluations = 0
	}
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.RootRelTol <= 0 {
		cfg.RootRelTol = def.RootRelTol
	}
	if cfg.RootAbsTol <= 0 {
		cfg.RootAbsTol = def.RootAbsTol
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Likelihood.Logger == nil {
		cfg.Likelihood.Logger = cfg.Logger
	}

	opt := cfg.Likelihood.Nuisance.Optimizer
	if opt == nil {
		opt = optim.NewDefault()
	}
	return &Solver{cfg: cfg, opt: opt, log: cfg.Logger}
}

// Config returns the effective configuration.
func (s *Solver) Config() Config { return s.cfg }

// CLs evaluates the CCGV asymptotic CLs of the hypothesis mu*signal_rel, so
// mu is a total signal yield.
func (s *Solver) CLs(ctx context.Context, m *model.Model, mu float64, expected Expected) (stats.CLsResult, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	ev, err := s.prepare(ctx, m, expected)
	if err != nil {
		return stats.CLsResult{}, err
	}
	return ev.cls(mu)
}

// ComputeCLs returns the exclusion confidence level 1-CLs of the hypothesis
// mu*signal_rel.
func (s *Solver) ComputeCLs(ctx context.Context, m *model.Model, mu float64, expected Expected) (float64, error) {
	r, err := s.CLs(ctx, m, mu, expected)
	if err != nil {
		return 0, err
	}
	return r.OneMinusCLs(), nil
}

// ExclusionCL returns 1-CLs of the nominal signal.
func (s *Solver) ExclusionCL(ctx context.Context, m *model.Model, expected Expected) (float64, error) {
	var total float64
	for _, v := range m.Signal() {
		total += v
	}
	return s.ComputeCLs(ctx, m, total, expected)
}

// ULOnYields returns the upper limit on the total signal yield at the
// configured confidence level. The returned Limit is never nil; on error its
// State is StateFailed.
func (s *Solver) ULOnYields(ctx context.Context, m *model.Model, expected Expected) (*Limit, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	l := &Limit{State: StateInit}
	fail := func(err error) (*Limit, error) {
		l.State = StateFailed
		return l, err
	}

	ev, err := s.prepare(ctx, m, expected)
	if ev != nil {
		l.Evaluations = ev.evals
	}
	if err != nil {
		return fail(err)
	}

	l.State = StateSeed
	l.MuHat = ev.muHat
	l.SigmaMu = ev.sigmaMu

	root := func(mu float64) (float64, error) {
		r, err := ev.cls(mu)
		if err != nil {
			return 0, err
		}
		return r.Root(s.cfg.CL), nil
	}

	l.State = StateBracket
	lo, hi, err := s.determineBracket(ev, root)
	l.Evaluations = ev.evals
	if err != nil {
		s.log.Error("upper limit bracket not found",
			"model", m.Name, "mu_hat", ev.muHat, "sigma_mu", ev.sigmaMu, "error", err)
		return fail(err)
	}
	l.Lower, l.Upper = lo, hi

	l.State = StateRootSolve
	ul, err := s.opt.FindRoot(root, lo, hi, optim.Tolerance{Rel: s.cfg.RootRelTol, Abs: s.cfg.RootAbsTol})
	l.Evaluations = ev.evals
	if err != nil {
		return fail(fmt.Errorf("limits: root solve on [%g, %g]: %w", lo, hi, err))
	}

	l.Value = ul
	l.State = StateDone
	return l, nil
}

// ULOnSigmaTimesEff returns the upper limit on the visible cross section,
// the yield limit divided by lumi. A zero lumi selects the model's Lumi.
func (s *Solver) ULOnSigmaTimesEff(ctx context.Context, m *model.Model, lumi float64, expected Expected) (*Limit, error) {
	if lumi == 0 {
		lumi = m.Lumi
	}
	if lumi <= 0 || math.IsNaN(lumi) || math.IsInf(lumi, 0) {
		return &Limit{State: StateFailed}, fmt.Errorf("%w: %g", ErrInvalidLumi, lumi)
	}

	l, err := s.ULOnYields(ctx, m, expected)
	if err != nil {
		return l, err
	}
	l.Value /= lumi
	return l, nil
}

func (s *Solver) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.cfg.Timeout > 0 {
		return context.WithTimeout(ctx, s.cfg.Timeout)
	}
	return context.WithCancel(ctx)
}
