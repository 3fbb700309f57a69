// Package model implements the data container of a simplified likelihood.
package model

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// DefaultDeltasRel is the relative uncertainty assumed on the signal yield.
const DefaultDeltasRel = 0.2

// MinLambda is the floor applied to every Poisson mean.
const MinLambda = 1e-30

const (
	// thirdMomentFloor replaces an exactly vanishing third moment in a
	// skewed model before the skew coefficients are solved.
	thirdMomentFloor = 1e-30
	// linearThreshold is the summed |third moment| below which the model is
	// treated as linear.
	linearThreshold = 1e-10
	symmetryTol     = 1e-8
	// eigenTol is the relative negative eigenvalue accepted as rounding
	// noise in a published covariance.
	eigenTol = 1e-6
)

// ErrInvalidModel is returned when the inputs cannot describe a likelihood.
var ErrInvalidModel = errors.New("invalid model")

// Data holds the raw inputs for one analysis: a single region or a set of
// correlated regions.
type Data struct {
	Name        string      `yaml:"name" json:"name"`
	Observed    []float64   `yaml:"observed" json:"observed"`
	Background  []float64   `yaml:"background" json:"background"`
	Covariance  [][]float64 `yaml:"covariance" json:"covariance"`
	ThirdMoment []float64   `yaml:"third_moment,omitempty" json:"third_moment,omitempty"`
	Signal      []float64   `yaml:"signal" json:"signal"`
	DeltasRel   float64     `yaml:"deltas_rel,omitempty" json:"deltas_rel,omitempty"` // 0 selects DefaultDeltasRel
	Lumi        float64     `yaml:"lumi,omitempty" json:"lumi,omitempty"`             // integrated luminosity, optional
}

// Model is an immutable simplified-likelihood model. All derived quantities
// (skew coefficients, constraint covariance, its inverse and log-determinant)
// are computed once in New.
type Model struct {
	Name      string
	Lumi      float64
	DeltasRel float64

	n           int
	observed    []float64
	background  []float64
	signal      []float64
	signalRel   []float64
	thirdMoment []float64 // nil for a linear model
	logGamma    []float64 // lgamma(observed+1)

	cov *mat.SymDense

	// skew-normal decomposition, nil for a linear model
	a, b, c []float64
	curv    []float64 // 2C/B^2
	rho     *mat.SymDense

	v        *mat.SymDense // Gaussian constraint covariance
	vUsed    *mat.SymDense // v, possibly regularized so that it factorizes
	weight   *mat.SymDense
	logCoeff float64
}

// New validates d and derives the model matrices.
func New(d Data) (*Model, error) {
	n := len(d.Observed)
	if n == 0 {
		return nil, fmt.Errorf("%w: no observed counts", ErrInvalidModel)
	}
	if len(d.Background) != n {
		return nil, fmt.Errorf("%w: %d backgrounds for %d regions", ErrInvalidModel, len(d.Background), n)
	}
	signal := d.Signal
	if signal == nil {
		signal = make([]float64, n)
	}
	if len(signal) != n {
		return nil, fmt.Errorf("%w: %d signal yields for %d regions", ErrInvalidModel, len(signal), n)
	}
	if len(d.Covariance) != n {
		return nil, fmt.Errorf("%w: covariance has %d rows, want %d", ErrInvalidModel, len(d.Covariance), n)
	}
	for i := 0; i < n; i++ {
		if d.Observed[i] < 0 || !isFinite(d.Observed[i]) {
			return nil, fmt.Errorf("%w: observed[%d] = %g", ErrInvalidModel, i, d.Observed[i])
		}
		if !isFinite(d.Background[i]) {
			return nil, fmt.Errorf("%w: background[%d] = %g", ErrInvalidModel, i, d.Background[i])
		}
		if signal[i] < 0 || !isFinite(signal[i]) {
			return nil, fmt.Errorf("%w: signal[%d] = %g", ErrInvalidModel, i, signal[i])
		}
		if len(d.Covariance[i]) != n {
			return nil, fmt.Errorf("%w: covariance row %d has %d columns, want %d", ErrInvalidModel, i, len(d.Covariance[i]), n)
		}
	}

	cov, err := covarianceFromRows(d.Covariance)
	if err != nil {
		return nil, err
	}
	if err := checkPSD(cov); err != nil {
		return nil, fmt.Errorf("covariance: %w", err)
	}

	m := &Model{
		Name:       d.Name,
		Lumi:       d.Lumi,
		DeltasRel:  d.DeltasRel,
		n:          n,
		observed:   append([]float64(nil), d.Observed...),
		background: append([]float64(nil), d.Background...),
		signal:     append([]float64(nil), signal...),
		cov:        cov,
	}
	if m.DeltasRel == 0 {
		m.DeltasRel = DefaultDeltasRel
	}
	m.signalRel = relative(m.signal)
	m.logGamma = logGammaPlusOne(m.observed)

	if d.ThirdMoment != nil {
		if len(d.ThirdMoment) != n {
			return nil, fmt.Errorf("%w: %d third moments for %d regions", ErrInvalidModel, len(d.ThirdMoment), n)
		}
		var total float64
		for _, x := range d.ThirdMoment {
			total += math.Abs(x)
		}
		if total >= linearThreshold {
			m.thirdMoment = append([]float64(nil), d.ThirdMoment...)
		}
	}

	if m.thirdMoment == nil {
		m.v = mat.NewSymDense(n, nil)
		m.v.CopySym(cov)
	} else {
		if err := m.computeABC(); err != nil {
			return nil, err
		}
		if err := checkPSD(m.v); err != nil {
			return nil, fmt.Errorf("skewed covariance: %w", err)
		}
	}

	if err := m.computeWeight(); err != nil {
		return nil, err
	}
	return m, nil
}

// NewSingle builds a one-region model from scalars. bgError is the absolute
// uncertainty on the background.
func NewSingle(observed, background, bgError, signal float64) (*Model, error) {
	return New(Data{
		Observed:   []float64{observed},
		Background: []float64{background},
		Covariance: [][]float64{{bgError * bgError}},
		Signal:     []float64{signal},
	})
}

// computeABC matches a skew-normal to the first three moments of every
// region and builds the induced correlation and covariance.
func (m *Model) computeABC() error {
	n := m.n
	m.a = make([]float64, n)
	m.b = make([]float64, n)
	m.c = make([]float64, n)
	m.curv = make([]float64, n)

	for i := 0; i < n; i++ {
		m2 := m.cov.At(i, i)
		m3 := m.thirdMoment[i]
		if m3 == 0 {
			m3 = thirdMomentFloor
		}
		if m2 <= 0 {
			return fmt.Errorf("%w: region %d has a third moment but no variance", ErrInvalidModel, i)
		}
		arg := 8*m2*m2*m2/(m3*m3) - 1
		if arg < 0 {
			return fmt.Errorf("%w: third moment %g too large for variance %g in region %d", ErrInvalidModel, m3, m2, i)
		}
		k := -math.Copysign(1, m3) * math.Sqrt(2*m2)
		c := k * math.Cos(4*math.Pi/3+math.Atan(math.Sqrt(arg))/3)
		b2 := m2 - 2*c*c
		if b2 <= 0 {
			return fmt.Errorf("%w: skew decomposition of region %d has no Gaussian part", ErrInvalidModel, i)
		}
		m.c[i] = c
		m.b[i] = math.Sqrt(b2)
		m.a[i] = m.background[i] - c
		m.curv[i] = 2 * c / b2
	}

	m.rho = mat.NewSymDense(n, nil)
	m.v = mat.NewSymDense(n, nil)
	for x := 0; x < n; x++ {
		for y := x; y < n; y++ {
			bxby := m.b[x] * m.b[y]
			cxcy := m.c[x] * m.c[y]
			cov := m.cov.At(x, y)
			// Rationalized form of (sqrt(bxby^2+8cxcy*cov)-bxby)/(4cxcy),
			// finite as cxcy goes to zero.
			u := 1 + 8*cxcy*cov/(bxby*bxby)
			if u < 0 {
				return fmt.Errorf("%w: no real correlation between regions %d and %d", ErrInvalidModel, x, y)
			}
			rho := 2 * cov / (bxby * (1 + math.Sqrt(u)))
			m.rho.SetSym(x, y, rho)
			m.v.SetSym(x, y, bxby*rho)
		}
	}
	return nil
}

// computeWeight caches the inverse and log-determinant of the constraint
// covariance. A singular covariance is regularized with a small ridge.
func (m *Model) computeWeight() error {
	n := m.n
	var chol mat.Cholesky
	used := mat.NewSymDense(n, nil)
	used.CopySym(m.v)

	if !chol.Factorize(used) {
		scale := 0.0
		for i := 0; i < n; i++ {
			scale = math.Max(scale, used.At(i, i))
		}
		if scale == 0 {
			scale = 1
		}
		ok := false
		for ridge := 1e-12 * scale; ridge <= 1e-4*scale; ridge *= 100 {
			for i := 0; i < n; i++ {
				used.SetSym(i, i, m.v.At(i, i)+ridge)
			}
			if chol.Factorize(used) {
				ok = true
				break
			}
		}
		if !ok {
			return fmt.Errorf("%w: constraint covariance is singular", ErrInvalidModel)
		}
	}

	m.vUsed = used
	m.weight = mat.NewSymDense(n, nil)
	if err := chol.InverseTo(m.weight); err != nil {
		return fmt.Errorf("%w: inverting constraint covariance: %v", ErrInvalidModel, err)
	}
	m.logCoeff = -float64(n)/2*math.Log(2*math.Pi) - 0.5*chol.LogDet()
	return nil
}

// Len returns the number of regions.
func (m *Model) Len() int { return m.n }

// IsLinear reports whether the Poisson mean is linear in the nuisances.
func (m *Model) IsLinear() bool { return m.thirdMoment == nil }

// Observed returns the observed counts. The slice must not be modified.
func (m *Model) Observed() []float64 { return m.observed }

// Background returns the expected background yields. The slice must not be
// modified.
func (m *Model) Background() []float64 { return m.background }

// Signal returns the nominal signal yields. The slice must not be modified.
func (m *Model) Signal() []float64 { return m.signal }

// SignalRel returns nsignal / sum(nsignal), or zeros for a zero signal. The
// slice must not be modified.
func (m *Model) SignalRel() []float64 { return m.signalRel }

// ThirdMoment returns the third moments, nil for a linear model.
func (m *Model) ThirdMoment() []float64 { return m.thirdMoment }

// LogGamma returns lgamma(observed+1) per region.
func (m *Model) LogGamma() []float64 { return m.logGamma }

// A returns the skew-normal offsets background - C, nil for a linear model.
func (m *Model) A() []float64 { return m.a }

// B returns the Gaussian widths of the skew-normal decomposition.
func (m *Model) B() []float64 { return m.b }

// C returns the quadratic coefficients of the skew-normal decomposition.
func (m *Model) C() []float64 { return m.c }

// Curvature returns 2C/B^2 per region, nil for a linear model. It is the
// derivative of dLambda/dTheta with respect to theta.
func (m *Model) Curvature() []float64 { return m.curv }

// Rho returns the correlation induced by the third moments, nil for a
// linear model.
func (m *Model) Rho() mat.Symmetric {
	if m.rho == nil {
		return nil
	}
	return m.rho
}

// Covariance returns the background covariance as supplied.
func (m *Model) Covariance() mat.Symmetric { return m.cov }

// V returns the Gaussian constraint covariance: the raw covariance for a
// linear model, the B-rho-B sandwich otherwise.
func (m *Model) V() mat.Symmetric { return m.v }

// ConstraintCovariance returns the matrix whose inverse is Weight. It equals
// V unless V had to be regularized.
func (m *Model) ConstraintCovariance() mat.Symmetric { return m.vUsed }

// Weight returns the inverse of the constraint covariance.
func (m *Model) Weight() mat.Symmetric { return m.weight }

// LogCoeff returns -n/2 log(2pi) - 1/2 logdet(V).
func (m *Model) LogCoeff() float64 { return m.logCoeff }

// VarS returns the diagonal signal variance (nsig*deltas_rel)^2.
func (m *Model) VarS(nsig []float64) *mat.DiagDense {
	d := make([]float64, m.n)
	for i := range d {
		s := nsig[i] * m.DeltasRel
		d[i] = s * s
	}
	return mat.NewDiagDense(m.n, d)
}

// TotalCovariance returns V + VarS(nsig).
func (m *Model) TotalCovariance(nsig []float64) *mat.SymDense {
	tot := mat.NewSymDense(m.n, nil)
	tot.CopySym(m.v)
	vs := m.VarS(nsig)
	for i := 0; i < m.n; i++ {
		tot.SetSym(i, i, tot.At(i, i)+vs.At(i, i))
	}
	return tot
}

// Lambda writes the Poisson means for signal nsig and nuisances theta into
// dst and returns it. Means are clamped to MinLambda. A nil dst is
// allocated.
func (m *Model) Lambda(dst, nsig, theta []float64) []float64 {
	if dst == nil {
		dst = make([]float64, m.n)
	}
	for i := 0; i < m.n; i++ {
		var l float64
		if m.thirdMoment == nil {
			l = nsig[i] + m.background[i] + theta[i]
		} else {
			l = nsig[i] + m.a[i] + theta[i] + 0.5*m.curv[i]*theta[i]*theta[i]
		}
		if l <= MinLambda {
			l = MinLambda
		}
		dst[i] = l
	}
	return dst
}

// Signals returns mu * SignalRel.
func (m *Model) Signals(mu float64) []float64 {
	out := make([]float64, m.n)
	for i, s := range m.signalRel {
		out[i] = mu * s
	}
	return out
}

// ZeroSignal reports whether the nominal signal vanishes in every region.
func (m *Model) ZeroSignal() bool {
	var total float64
	for _, s := range m.signal {
		total += s
	}
	return total < linearThreshold
}

// WithObserved returns a copy of m with different observed counts. Derived
// matrices do not depend on the observation and are shared.
func (m *Model) WithObserved(observed []float64) (*Model, error) {
	if len(observed) != m.n {
		return nil, fmt.Errorf("%w: %d observed counts for %d regions", ErrInvalidModel, len(observed), m.n)
	}
	for i, o := range observed {
		if o < 0 || !isFinite(o) {
			return nil, fmt.Errorf("%w: observed[%d] = %g", ErrInvalidModel, i, o)
		}
	}
	cp := *m
	cp.observed = append([]float64(nil), observed...)
	cp.logGamma = logGammaPlusOne(cp.observed)
	return &cp, nil
}

func covarianceFromRows(rows [][]float64) (*mat.SymDense, error) {
	n := len(rows)
	cov := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		if rows[i][i] < 0 || !isFinite(rows[i][i]) {
			return nil, fmt.Errorf("%w: variance[%d] = %g", ErrInvalidModel, i, rows[i][i])
		}
		for j := i; j < n; j++ {
			x, y := rows[i][j], rows[j][i]
			if !isFinite(x) || !isFinite(y) {
				return nil, fmt.Errorf("%w: covariance[%d][%d] is not finite", ErrInvalidModel, i, j)
			}
			if math.Abs(x-y) > symmetryTol*math.Max(1, math.Max(math.Abs(x), math.Abs(y))) {
				return nil, fmt.Errorf("%w: covariance is not symmetric at (%d,%d)", ErrInvalidModel, i, j)
			}
			cov.SetSym(i, j, 0.5*(x+y))
		}
	}
	return cov, nil
}

func checkPSD(s *mat.SymDense) error {
	var eig mat.EigenSym
	if !eig.Factorize(s, false) {
		return fmt.Errorf("%w: eigen decomposition failed", ErrInvalidModel)
	}
	values := eig.Values(nil)
	lo, hi := values[0], values[len(values)-1]
	if lo < -eigenTol*math.Max(1, math.Abs(hi)) {
		return fmt.Errorf("%w: not positive semi-definite (smallest eigenvalue %g)", ErrInvalidModel, lo)
	}
	return nil
}

func relative(signal []float64) []float64 {
	out := make([]float64, len(signal))
	var total float64
	for _, s := range signal {
		total += s
	}
	if total < linearThreshold {
		return out
	}
	for i, s := range signal {
		out[i] = s / total
	}
	return out
}

func logGammaPlusOne(x []float64) []float64 {
	out := make([]float64, len(x))
	for i, v := range x {
		out[i], _ = math.Lgamma(v + 1)
	}
	return out
}

func isFinite(x float64) bool {
	return !math.IsNaN(x) && !math.IsInf(x, 0)
}
