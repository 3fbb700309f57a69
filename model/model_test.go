package model

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func twoRegionData() Data {
	return Data{
		Name:       "two regions",
		Observed:   []float64{12, 5},
		Background: []float64{10, 4},
		Covariance: [][]float64{{4, 0.5}, {0.5, 1}},
		Signal:     []float64{3, 1},
	}
}

func TestNewLinear(t *testing.T) {
	m, err := New(twoRegionData())
	require.NoError(t, err)

	assert.Equal(t, 2, m.Len())
	assert.True(t, m.IsLinear())
	assert.Equal(t, DefaultDeltasRel, m.DeltasRel)
	assert.InDeltaSlice(t, []float64{0.75, 0.25}, m.SignalRel(), 1e-12)

	// V is the raw covariance for a linear model.
	assert.InDelta(t, 4.0, m.V().At(0, 0), 1e-12)
	assert.InDelta(t, 0.5, m.V().At(0, 1), 1e-12)

	// weight is the inverse of V: det = 3.75
	w := m.Weight()
	assert.InDelta(t, 1/3.75, w.At(0, 0), 1e-12)
	assert.InDelta(t, 4/3.75, w.At(1, 1), 1e-12)
	assert.InDelta(t, -0.5/3.75, w.At(0, 1), 1e-12)

	want := -math.Log(2*math.Pi) - 0.5*math.Log(3.75)
	assert.InDelta(t, want, m.LogCoeff(), 1e-12)
}

func TestNewRejectsInvalidInput(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(d *Data)
	}{
		{"empty", func(d *Data) { d.Observed = nil }},
		{"background length", func(d *Data) { d.Background = []float64{1} }},
		{"signal length", func(d *Data) { d.Signal = []float64{1, 2, 3} }},
		{"covariance rows", func(d *Data) { d.Covariance = d.Covariance[:1] }},
		{"covariance columns", func(d *Data) { d.Covariance[1] = []float64{0.5} }},
		{"asymmetric", func(d *Data) { d.Covariance[0][1] = 0.7 }},
		{"not psd", func(d *Data) { d.Covariance = [][]float64{{1, 2}, {2, 1}} }},
		{"negative variance", func(d *Data) { d.Covariance[1][1] = -1 }},
		{"negative observed", func(d *Data) { d.Observed[0] = -1 }},
		{"negative signal", func(d *Data) { d.Signal[0] = -1 }},
		{"nan background", func(d *Data) { d.Background[1] = math.NaN() }},
		{"third moment length", func(d *Data) { d.ThirdMoment = []float64{1} }},
		{"third moment too large", func(d *Data) { d.ThirdMoment = []float64{100, 0.1} }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := twoRegionData()
			tt.mutate(&d)
			_, err := New(d)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidModel), "got %v", err)
		})
	}
}

func TestZeroThirdMomentIsLinear(t *testing.T) {
	d := twoRegionData()
	d.ThirdMoment = []float64{0, 0}
	m, err := New(d)
	require.NoError(t, err)
	assert.True(t, m.IsLinear())
	assert.Nil(t, m.A())
	assert.Nil(t, m.Curvature())
}

func TestSkewDecomposition(t *testing.T) {
	d := twoRegionData()
	d.ThirdMoment = []float64{1.5, 0.2}
	m, err := New(d)
	require.NoError(t, err)
	require.False(t, m.IsLinear())

	for i := 0; i < m.Len(); i++ {
		a, b, c := m.A()[i], m.B()[i], m.C()[i]
		variance := d.Covariance[i][i]

		// Moments of A + B x + C x^2 with x ~ N(0,1).
		assert.InDelta(t, d.Background[i], a+c, 1e-9, "mean of region %d", i)
		assert.InDelta(t, variance, b*b+2*c*c, 1e-9, "variance of region %d", i)
		third := 6*b*b*c + 8*c*c*c
		assert.InDelta(t, d.ThirdMoment[i], third, 1e-6, "third moment of region %d", i)

		// Diagonal of rho is one, so V_ii = B_i^2.
		assert.InDelta(t, 1.0, m.Rho().At(i, i), 1e-9)
		assert.InDelta(t, b*b, m.V().At(i, i), 1e-9)
	}
}

func TestVanishingThirdMomentInOneRegion(t *testing.T) {
	d := twoRegionData()
	d.ThirdMoment = []float64{1.5, 0}
	m, err := New(d)
	require.NoError(t, err)
	require.False(t, m.IsLinear())

	// The nudged region degrades to its Gaussian moments.
	assert.InDelta(t, 0, m.C()[1], 1e-12)
	assert.InDelta(t, 1.0, m.B()[1], 1e-9)
	assert.InDelta(t, 1.0, m.V().At(1, 1), 1e-9)
	assert.False(t, math.IsNaN(m.V().At(0, 1)))
}

func TestLambda(t *testing.T) {
	m, err := New(twoRegionData())
	require.NoError(t, err)

	lam := m.Lambda(nil, []float64{1, 2}, []float64{0.5, -10})
	assert.InDelta(t, 11.5, lam[0], 1e-12)
	assert.Equal(t, MinLambda, lam[1])
}

func TestSkewLambda(t *testing.T) {
	d := twoRegionData()
	d.ThirdMoment = []float64{1.5, 0.2}
	m, err := New(d)
	require.NoError(t, err)

	theta := []float64{0.3, -0.2}
	nsig := []float64{1, 0}
	lam := m.Lambda(nil, nsig, theta)
	for i := range lam {
		b := m.B()[i]
		want := nsig[i] + m.A()[i] + theta[i] + m.C()[i]*theta[i]*theta[i]/(b*b)
		assert.InDelta(t, want, lam[i], 1e-12)
	}
}

func TestTotalCovariance(t *testing.T) {
	m, err := New(twoRegionData())
	require.NoError(t, err)

	tot := m.TotalCovariance([]float64{10, 5})
	assert.InDelta(t, 4+4, tot.At(0, 0), 1e-12)
	assert.InDelta(t, 1+1, tot.At(1, 1), 1e-12)
	assert.InDelta(t, 0.5, tot.At(0, 1), 1e-12)

	vs := m.VarS([]float64{10, 5})
	assert.InDelta(t, 4, vs.At(0, 0), 1e-12)
	assert.Zero(t, vs.At(0, 1))
}

func TestSignalsAndZeroSignal(t *testing.T) {
	m, err := New(twoRegionData())
	require.NoError(t, err)
	assert.False(t, m.ZeroSignal())
	assert.InDeltaSlice(t, []float64{7.5, 2.5}, m.Signals(10), 1e-12)

	d := twoRegionData()
	d.Signal = nil
	z, err := New(d)
	require.NoError(t, err)
	assert.True(t, z.ZeroSignal())
	assert.Equal(t, []float64{0, 0}, z.SignalRel())
}

func TestWithObserved(t *testing.T) {
	m, err := New(twoRegionData())
	require.NoError(t, err)

	a, err := m.WithObserved([]float64{10.5, 4.2})
	require.NoError(t, err)
	assert.Equal(t, []float64{10.5, 4.2}, a.Observed())
	assert.Equal(t, []float64{12, 5}, m.Observed())
	assert.Same(t, m.Weight(), a.Weight())

	lg, _ := math.Lgamma(11.5)
	assert.InDelta(t, lg, a.LogGamma()[0], 1e-12)

	_, err = m.WithObserved([]float64{1})
	assert.ErrorIs(t, err, ErrInvalidModel)
}

func TestNewSingle(t *testing.T) {
	m, err := NewSingle(20, 10, 2, 5)
	require.NoError(t, err)
	assert.Equal(t, 1, m.Len())
	assert.InDelta(t, 4, m.V().At(0, 0), 1e-12)
	assert.InDelta(t, 0.25, m.Weight().At(0, 0), 1e-12)
	assert.Equal(t, []float64{1}, m.SignalRel())
}

func TestRoundingNoiseInCovarianceIsAccepted(t *testing.T) {
	// eigenvalues 2+1e-7 and -1e-7
	m, err := New(Data{
		Observed:   []float64{5, 5},
		Background: []float64{5, 5},
		Covariance: [][]float64{{1, 1 + 1e-7}, {1 + 1e-7, 1}},
		Signal:     []float64{1, 1},
	})
	require.NoError(t, err)
	assert.False(t, math.IsInf(m.LogCoeff(), 0))

	// a clearly negative direction is still rejected
	_, err = New(Data{
		Observed:   []float64{5, 5},
		Background: []float64{5, 5},
		Covariance: [][]float64{{1, 1.001}, {1.001, 1}},
		Signal:     []float64{1, 1},
	})
	assert.ErrorIs(t, err, ErrInvalidModel)
}

func TestSingularCovarianceIsRegularized(t *testing.T) {
	m, err := New(Data{
		Observed:   []float64{5, 5},
		Background: []float64{5, 5},
		Covariance: [][]float64{{1, 1}, {1, 1}},
		Signal:     []float64{1, 1},
	})
	require.NoError(t, err)

	w := m.Weight()
	for i := 0; i < 2; i++ {
		for j := 0; j < 2; j++ {
			assert.False(t, math.IsNaN(w.At(i, j)))
		}
	}
	assert.False(t, math.IsInf(m.LogCoeff(), 0))
}
