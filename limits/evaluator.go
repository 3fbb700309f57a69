package limits

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/sartorproj/simplik/likelihood"
	"github.com/sartorproj/simplik/model"
	"github.com/sartorproj/simplik/stats"
)

// evaluator holds everything a sequence of CLs evaluations of one model
// shares: the engines for the data and its Asimov dataset, and the
// likelihoods at their best fits.
type evaluator struct {
	ctx         context.Context
	budget      int
	evals       int
	marginalize bool

	signal []float64 // signal_rel, mu is a total yield
	data   *likelihood.Engine
	asimov *likelihood.Engine

	muHat   float64
	sigmaMu float64
	nll0    float64
	muHatA  float64
	nll0A   float64
}

func (s *Solver) prepare(ctx context.Context, m *model.Model, expected Expected) (*evaluator, error) {
	if m.ZeroSignal() {
		return nil, ErrZeroSignal
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	dataModel, err := s.dataset(m, expected)
	if err != nil {
		return nil, err
	}

	ev := &evaluator{
		ctx:         ctx,
		budget:      s.cfg.MaxEvaluations,
		marginalize: s.cfg.Marginalize,
		signal:      m.SignalRel(),
		data:        likelihood.New(dataModel, s.cfg.Likelihood),
	}

	best, err := ev.data.FindMuHat(ev.signal, false)
	if err != nil {
		return ev, fmt.Errorf("limits: best fit of %q: %w", m.Name, err)
	}
	ev.muHat = best.MuHat
	ev.sigmaMu = best.SigmaMu
	ev.nll0 = best.NLL
	if ev.marginalize {
		if ev.nll0, err = ev.data.Likelihood(ev.nsig(ev.muHat), true, true); err != nil {
			return ev, err
		}
	}

	if !ev.marginalize && !isFinite(ev.nll0) {
		s.log.Info("profile likelihood not finite at mu_hat, marginalizing instead",
			"model", m.Name, "mu_hat", ev.muHat, "nll", ev.nll0)
		nll0, err := ev.data.Likelihood(ev.nsig(ev.muHat), true, true)
		if err != nil || !isFinite(nll0) {
			return ev, fmt.Errorf("%w: nll at mu_hat = %g", likelihood.ErrNonFinite, ev.nll0)
		}
		ev.marginalize = true
		ev.nll0 = nll0
	}

	asimovModel, err := s.asimovDataset(ev.data, expected)
	if err != nil {
		return ev, err
	}
	ev.asimov = likelihood.New(asimovModel, s.cfg.Likelihood)

	bestA, err := ev.asimov.FindMuHat(ev.signal, false)
	if err != nil {
		return ev, fmt.Errorf("limits: best fit of the asimov dataset of %q: %w", m.Name, err)
	}
	ev.muHatA = bestA.MuHat
	ev.nll0A = bestA.NLL
	if ev.marginalize {
		if ev.nll0A, err = ev.asimov.Likelihood(ev.nsig(bestA.MuHat), true, true); err != nil {
			return ev, err
		}
	}
	return ev, nil
}

// dataset returns the model whose observation the test statistic is
// computed on.
func (s *Solver) dataset(m *model.Model, expected Expected) (*model.Model, error) {
	switch expected {
	case Observed:
		return m, nil
	case APriori:
		return m.WithObserved(nonNegative(m.Background()))
	case APosteriori:
		e := likelihood.New(m, s.cfg.Likelihood)
		zero := make([]float64, m.Len())
		fit, err := e.ThetaHat(zero)
		if err != nil {
			return nil, fmt.Errorf("limits: background-only fit of %q: %w", m.Name, err)
		}
		return m.WithObserved(m.Lambda(nil, zero, fit.Theta))
	default:
		return nil, fmt.Errorf("limits: unknown expected mode %v", expected)
	}
}

// asimovDataset returns the background-only Asimov dataset of the engine's
// model: the nominal background for APriori, otherwise the background with
// the nuisances profiled at zero signal.
func (s *Solver) asimovDataset(e *likelihood.Engine, expected Expected) (*model.Model, error) {
	m := e.Model()
	if expected == APriori {
		return m.WithObserved(nonNegative(m.Background()))
	}
	zero := make([]float64, m.Len())
	fit, err := e.ThetaHat(zero)
	if err != nil {
		return nil, fmt.Errorf("limits: asimov fit of %q: %w", m.Name, err)
	}
	return m.WithObserved(m.Lambda(nil, zero, fit.Theta))
}

// cls evaluates the asymptotic CLs at the total yield mu. The test
// statistics are one-sided: below its own best fit, q on data and q_A on
// the Asimov dataset vanish.
func (ev *evaluator) cls(mu float64) (stats.CLsResult, error) {
	if err := ev.ctx.Err(); err != nil {
		return stats.CLsResult{}, err
	}
	if ev.budget > 0 && ev.evals >= ev.budget {
		return stats.CLsResult{}, fmt.Errorf("%w: %d evaluations", ErrBudgetExceeded, ev.evals)
	}
	ev.evals++

	nsig := ev.nsig(mu)
	var err error
	nll := ev.nll0
	if mu > ev.muHat {
		nll, err = ev.data.Likelihood(nsig, ev.marginalize, true)
		if err != nil {
			return stats.CLsResult{}, err
		}
	}
	nllA := ev.nll0A
	if mu > ev.muHatA {
		nllA, err = ev.asimov.Likelihood(nsig, ev.marginalize, true)
		if err != nil {
			return stats.CLsResult{}, err
		}
	}

	r := stats.CLsFromNLL(nllA, ev.nll0A, nll, ev.nll0)
	if math.IsNaN(r.CLs) {
		return r, fmt.Errorf("%w: CLs at mu = %g", likelihood.ErrNonFinite, mu)
	}
	return r, nil
}

func (ev *evaluator) nsig(mu float64) []float64 {
	out := make([]float64, len(ev.signal))
	for i, v := range ev.signal {
		out[i] = mu * v
	}
	return out
}

// fatal reports errors that end a computation instead of a single probe.
func fatal(err error) bool {
	return errors.Is(err, ErrBudgetExceeded) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}

func nonNegative(x []float64) []float64 {
	out := make([]float64, len(x))
	for i, v := range x {
		out[i] = math.Max(0, v)
	}
	return out
}

func isFinite(x float64) bool {
	return !math.IsNaN(x) && !math.IsInf(x, 0)
}
