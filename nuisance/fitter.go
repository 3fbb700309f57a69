package nuisance

import (
	"fmt"
	"log/slog"
	"math"

	"github.com/sartorproj/simplik/model"
	"github.com/sartorproj/simplik/optim"
	"github.com/sartorproj/simplik/stats"
	"gonum.org/v1/gonum/mat"
)

// Method names the stage that produced a fit.
type Method int

const (
	NewtonCG Method = iota
	TNC
	Failed
)

func (m Method) String() string {
	switch m {
	case NewtonCG:
		return "newton-cg"
	case TNC:
		return "tnc"
	default:
		return "failed"
	}
}

// FitResult is the profiled nuisance point for one signal hypothesis.
type FitResult struct {
	Theta      []float64
	NLL        float64
	Converged  bool
	Iterations int
	Method     Method
	Status     optim.Status // status of the bounded refinement
}

// Config controls the nuisance fit.
type Config struct {
	SeedRounds      int     `yaml:"seed_rounds"`       // rounds of the coordinate-wise seed refinement (default: 50)
	SeedTolerance   float64 `yaml:"seed_tolerance"`    // distance between seed iterates treated as converged (default: 1e-5)
	MaxStepFraction float64 `yaml:"max_step_fraction"` // cap on a cross-term update relative to its base value (default: 0.3)
	BoundScale      float64 `yaml:"bound_scale"`       // theta_i is bounded to +/- BoundScale*observed_i (default: 10)

	Optimizer optim.Optimizer `yaml:"-"` // nil selects optim.NewDefault()
	Logger    *slog.Logger    `yaml:"-"` // nil selects slog.Default()
}

// DefaultConfig returns the default fit configuration.
func DefaultConfig() Config {
	return Config{
		SeedRounds:      50,
		SeedTolerance:   1e-5,
		MaxStepFraction: 0.3,
		BoundScale:      10,
	}
}

// Fitter profiles the nuisance parameters of one model. It holds no mutable
// state and may be shared between goroutines if its Optimizer can.
type Fitter struct {
	m   *model.Model
	cfg Config
	opt optim.Optimizer
	log *slog.Logger
}

// NewFitter returns a Fitter for m. Zero fields of cfg take their defaults.
func NewFitter(m *model.Model, cfg Config) *Fitter {
	def := DefaultConfig()
	if cfg.SeedRounds <= 0 {
		cfg.SeedRounds = def.SeedRounds
	}
	if cfg.SeedTolerance <= 0 {
		cfg.SeedTolerance = def.SeedTolerance
	}
	if cfg.MaxStepFraction <= 0 {
		cfg.MaxStepFraction = def.MaxStepFraction
	}
	if cfg.BoundScale <= 0 {
		cfg.BoundScale = def.BoundScale
	}

	f := &Fitter{m: m, cfg: cfg, opt: cfg.Optimizer, log: cfg.Logger}
	if f.opt == nil {
		f.opt = optim.NewDefault()
	}
	if f.log == nil {
		f.log = slog.Default()
	}
	return f
}

// Model returns the fitted model.
func (f *Fitter) Model() *model.Model { return f.m }

// Optimizer returns the numerical back end of the fit.
func (f *Fitter) Optimizer() optim.Optimizer { return f.opt }

// NLL returns the negative log of the Poisson x Gaussian density at theta.
func (f *Fitter) NLL(nsig, theta []float64) float64 {
	lambda := f.m.Lambda(nil, nsig, theta)
	poisson := stats.SumLogPoisson(f.m.Observed(), lambda, f.m.LogGamma())

	th := mat.NewVecDense(len(theta), theta)
	gauss := f.m.LogCoeff() - 0.5*mat.Inner(th, f.m.Weight(), th)

	return -poisson - gauss
}

// Gradient writes dNLL/dtheta into dst and returns it. A nil dst is
// allocated.
func (f *Fitter) Gradient(dst, nsig, theta []float64) []float64 {
	n := f.m.Len()
	if dst == nil {
		dst = make([]float64, n)
	}
	lambda := f.m.Lambda(nil, nsig, theta)
	obs := f.m.Observed()
	curv := f.m.Curvature()
	w := f.m.Weight()

	for i := 0; i < n; i++ {
		t := 1.0
		if curv != nil {
			t += curv[i] * theta[i]
		}
		var wt float64
		for j := 0; j < n; j++ {
			wt += w.At(i, j) * theta[j]
		}
		dst[i] = t - obs[i]*t/lambda[i] + wt
	}
	return dst
}

// Hessian writes d2NLL/dtheta2 into dst and returns it. A nil dst is
// allocated.
func (f *Fitter) Hessian(dst *mat.SymDense, nsig, theta []float64) *mat.SymDense {
	n := f.m.Len()
	if dst == nil {
		dst = mat.NewSymDense(n, nil)
	}
	dst.CopySym(f.m.Weight())

	lambda := f.m.Lambda(nil, nsig, theta)
	obs := f.m.Observed()
	curv := f.m.Curvature()
	for i := 0; i < n; i++ {
		t, c := 1.0, 0.0
		if curv != nil {
			c = curv[i]
			t += c * theta[i]
		}
		l := lambda[i]
		dst.SetSym(i, i, dst.At(i, i)+obs[i]*t*t/(l*l)-obs[i]/l*c+c)
	}
	return dst
}

// Fit finds the theta minimizing NLL for the signal yields nsig.
//
// The closed-form seed is refined by an unconstrained Newton solve, and the
// better of the two starts a box-constrained solve with
// |theta_i| <= BoundScale*observed_i. The bounded stage always runs; its
// status decides whether the fit succeeded.
func (f *Fitter) Fit(nsig []float64) (*FitResult, error) {
	n := f.m.Len()
	if len(nsig) != n {
		return nil, fmt.Errorf("nuisance: %d signal yields for %d regions", len(nsig), n)
	}

	seed, rounds, err := f.seed(nsig)
	if err != nil {
		return nil, err
	}

	problem := optim.Problem{
		Func: func(x []float64) float64 { return f.NLL(nsig, x) },
		Grad: func(g, x []float64) { f.Gradient(g, nsig, x) },
		Hess: func(h *mat.SymDense, x []float64) { f.Hessian(h, nsig, x) },
	}

	start := seed
	startNLL := f.NLL(nsig, seed)
	iterations := rounds

	newton, err := f.opt.MinimizeUnconstrained(problem, seed)
	switch {
	case err != nil:
		f.log.Debug("newton stage failed, continuing from seed", "error", err)
	default:
		iterations += newton.Iterations
		if !newton.Converged {
			f.log.Debug("newton stage did not converge", "status", newton.Status)
		}
		if newton.F < startNLL {
			start = newton.X
			startNLL = newton.F
		}
	}

	obs := f.m.Observed()
	bounds := make([]optim.Bound, n)
	for i := range bounds {
		r := f.cfg.BoundScale * obs[i]
		bounds[i] = optim.Bound{Lower: -r, Upper: r}
	}

	box, err := f.opt.MinimizeBoxConstrained(problem, start, bounds)
	if err != nil {
		return nil, &OptimizerError{Theta: start, Status: optim.Failure, Err: err}
	}
	iterations += box.Iterations
	if !box.Status.Benign() {
		f.log.Debug("bounded refinement failed", "status", box.Status, "nll", box.F)
		return nil, &OptimizerError{Theta: box.X, Status: box.Status}
	}

	method := TNC
	if box.F >= startNLL && sameVector(box.X, start) {
		method = NewtonCG
	}
	return &FitResult{
		Theta:      box.X,
		NLL:        box.F,
		Converged:  true,
		Iterations: iterations,
		Method:     method,
		Status:     box.Status,
	}, nil
}

func sameVector(a, b []float64) bool {
	for i := range a {
		if math.Abs(a[i]-b[i]) > 1e-12*math.Max(1, math.Abs(b[i])) {
			return false
		}
	}
	return true
}
