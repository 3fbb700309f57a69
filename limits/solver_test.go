package limits

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sartorproj/simplik/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Likelihood.Toys = 4000
	cfg.Likelihood.Seed = 11
	return cfg
}

func single(t *testing.T, obs, bg, bgErr, sig float64) *model.Model {
	t.Helper()
	m, err := model.NewSingle(obs, bg, bgErr, sig)
	require.NoError(t, err)
	return m
}

func TestComputeCLsAtZeroSignal(t *testing.T) {
	s := New(testConfig())
	ctx := context.Background()

	models := []*model.Model{
		single(t, 10, 10, 2, 5),
		single(t, 15, 10, 2, 5),
		single(t, 4, 10, 3, 5),
	}
	for _, m := range models {
		cl, err := s.ComputeCLs(ctx, m, 0, Observed)
		require.NoError(t, err)
		assert.InDelta(t, 0, cl, 1e-3)
	}
}

func TestComputeCLsMonotone(t *testing.T) {
	s := New(testConfig())
	ctx := context.Background()
	m := single(t, 8, 10, 2, 5)

	prev := -1.0
	for mu := 0.0; mu <= 30; mu += 2 {
		cl, err := s.ComputeCLs(ctx, m, mu, Observed)
		require.NoError(t, err, "mu=%g", mu)
		assert.GreaterOrEqual(t, cl, prev-1e-6, "mu=%g", mu)
		assert.GreaterOrEqual(t, cl, 0.0)
		assert.LessOrEqual(t, cl, 1.0)
		prev = cl
	}
	assert.Greater(t, prev, 0.95)
}

func TestCLsForms(t *testing.T) {
	s := New(testConfig())
	m := single(t, 12, 10, 2, 5)

	r, err := s.CLs(context.Background(), m, 10, Observed)
	require.NoError(t, err)
	assert.InDelta(t, 1-r.CLs, r.OneMinusCLs(), 1e-15)
	assert.InDelta(t, r.CLs-0.05, r.Root(0.95), 1e-15)
	assert.Equal(t, r.OneMinusCLs() >= 0.95, r.Excluded(0.95))
	assert.GreaterOrEqual(t, r.QA, 0.0)
	assert.GreaterOrEqual(t, r.QMu, 0.0)
}

func TestULOnYieldsRoundTrip(t *testing.T) {
	s := New(testConfig())
	ctx := context.Background()

	tests := []struct {
		name string
		m    *model.Model
	}{
		{"excess", single(t, 15, 10, 2, 5)},
		{"deficit", single(t, 6, 10, 2, 5)},
		{"no error", single(t, 10, 10, 0.01, 3)},
		{"correlated", correlated(t)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, err := s.ULOnYields(ctx, tt.m, Observed)
			require.NoError(t, err)
			require.True(t, l.Valid())
			assert.Equal(t, StateDone, l.State)
			assert.Greater(t, l.Value, 0.0)
			assert.LessOrEqual(t, l.Lower, l.Value)
			assert.GreaterOrEqual(t, l.Upper, l.Value)
			assert.Greater(t, l.Evaluations, 0)

			cl, err := s.ComputeCLs(ctx, tt.m, l.Value, Observed)
			require.NoError(t, err)
			assert.InDelta(t, 0.95, cl, 1e-2)
		})
	}
}

func TestULMarginalizedCloseToProfiled(t *testing.T) {
	ctx := context.Background()
	m := single(t, 12, 10, 2, 5)

	prof, err := New(testConfig()).ULOnYields(ctx, m, Observed)
	require.NoError(t, err)

	cfg := testConfig()
	cfg.Marginalize = true
	marg, err := New(cfg).ULOnYields(ctx, m, Observed)
	require.NoError(t, err)

	assert.InEpsilon(t, prof.Value, marg.Value, 0.3)
}

func TestULExpectedModes(t *testing.T) {
	s := New(testConfig())
	ctx := context.Background()
	m := single(t, 20, 10, 2, 5)

	obs, err := s.ULOnYields(ctx, m, Observed)
	require.NoError(t, err)
	prior, err := s.ULOnYields(ctx, m, APriori)
	require.NoError(t, err)
	post, err := s.ULOnYields(ctx, m, APosteriori)
	require.NoError(t, err)

	// an excess weakens the observed limit
	assert.Greater(t, obs.Value, prior.Value)
	assert.True(t, post.Valid())
	assert.InDelta(t, 0, prior.MuHat, 1e-9)
}

func TestULZeroSignal(t *testing.T) {
	s := New(testConfig())
	m := single(t, 10, 10, 2, 0)

	l, err := s.ULOnYields(context.Background(), m, Observed)
	require.ErrorIs(t, err, ErrZeroSignal)
	require.NotNil(t, l)
	assert.Equal(t, StateFailed, l.State)
	assert.False(t, l.Valid())
}

func TestULOnSigmaTimesEff(t *testing.T) {
	s := New(testConfig())
	ctx := context.Background()
	m := single(t, 12, 10, 2, 5)

	yields, err := s.ULOnYields(ctx, m, Observed)
	require.NoError(t, err)
	xs, err := s.ULOnSigmaTimesEff(ctx, m, 20, Observed)
	require.NoError(t, err)
	assert.InDelta(t, yields.Value/20, xs.Value, 1e-9)

	_, err = s.ULOnSigmaTimesEff(ctx, m, 0, Observed)
	assert.ErrorIs(t, err, ErrInvalidLumi)

	m.Lumi = 10
	xs, err = s.ULOnSigmaTimesEff(ctx, m, 0, Observed)
	require.NoError(t, err)
	assert.InDelta(t, yields.Value/10, xs.Value, 1e-9)
}

func TestExclusionCL(t *testing.T) {
	s := New(testConfig())
	ctx := context.Background()

	weak := single(t, 10, 10, 2, 1)
	strong := single(t, 10, 10, 2, 40)

	clWeak, err := s.ExclusionCL(ctx, weak, Observed)
	require.NoError(t, err)
	clStrong, err := s.ExclusionCL(ctx, strong, Observed)
	require.NoError(t, err)

	assert.Less(t, clWeak, 0.95)
	assert.Greater(t, clStrong, 0.95)
}

func TestBudgetExceeded(t *testing.T) {
	cfg := testConfig()
	cfg.MaxEvaluations = 2
	s := New(cfg)

	l, err := s.ULOnYields(context.Background(), single(t, 12, 10, 2, 5), Observed)
	require.ErrorIs(t, err, ErrBudgetExceeded)
	assert.Equal(t, StateFailed, l.State)
	assert.Equal(t, 2, l.Evaluations)
}

func TestCancelledContext(t *testing.T) {
	s := New(testConfig())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	l, err := s.ULOnYields(ctx, single(t, 12, 10, 2, 5), Observed)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StateFailed, l.State)
}

func TestTimeout(t *testing.T) {
	cfg := testConfig()
	cfg.Timeout = time.Nanosecond
	s := New(cfg)

	_, err := s.ULOnYields(context.Background(), single(t, 12, 10, 2, 5), Observed)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestRun(t *testing.T) {
	s := New(testConfig())
	a := single(t, 12, 10, 2, 5)
	a.Name = "a"
	b := single(t, 10, 10, 2, 0)
	b.Name = "b"
	c := single(t, 30, 25, 4, 8)
	c.Name = "c"

	results, err := s.Run(context.Background(), []*model.Model{a, b, c}, Observed)
	require.NoError(t, err)
	require.Len(t, results, 3)

	assert.Equal(t, "a", results[0].Name)
	assert.True(t, results[0].Limit.Valid())
	assert.NoError(t, results[0].Err)

	assert.ErrorIs(t, results[1].Err, ErrZeroSignal)
	assert.NotEmpty(t, results[1].Error)
	assert.Equal(t, StateFailed, results[1].Limit.State)

	assert.True(t, results[2].Limit.Valid())

	// concurrent results match a sequential computation
	seq, err := s.ULOnYields(context.Background(), c, Observed)
	require.NoError(t, err)
	assert.InDelta(t, seq.Value, results[2].Limit.Value, 1e-9)
}

func TestParseExpected(t *testing.T) {
	tests := []struct {
		in   string
		want Expected
	}{
		{"observed", Observed},
		{"", Observed},
		{"false", Observed},
		{"apriori", APriori},
		{"True", APriori},
		{"aposteriori", APosteriori},
		{" posteriori ", APosteriori},
	}
	for _, tt := range tests {
		got, err := ParseExpected(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}

	_, err := ParseExpected("sometimes")
	assert.Error(t, err)

	var e Expected
	require.NoError(t, e.UnmarshalText([]byte(APosteriori.String())))
	assert.Equal(t, APosteriori, e)
	assert.Equal(t, "root-solve", StateRootSolve.String())
}

func correlated(t *testing.T) *model.Model {
	t.Helper()
	m, err := model.New(model.Data{
		Name:       "correlated",
		Observed:   []float64{12, 7, 3},
		Background: []float64{10, 8, 2.5},
		Covariance: [][]float64{{4, 1.2, 0.3}, {1.2, 2.5, 0.4}, {0.3, 0.4, 0.8}},
		Signal:     []float64{3, 1, 1},
	})
	require.NoError(t, err)
	return m
}

// cmsCovariance is the published 8x8 background covariance of the
// CMS-NOTE-2017-001 validation case, used as printed.
func cmsCovariance() [][]float64 {
	return [][]float64{
		{18774.2, -2866.97, -5807.3, -4460.52, -2777.25, -1572.97, -846.653, -442.531},
		{-2866.97, 496.273, 900.195, 667.591, 403.92, 222.614, 116.779, 59.5958},
		{-5807.3, 900.195, 1799.56, 1376.77, 854.448, 482.435, 258.92, 134.975},
		{-4460.52, 667.591, 1376.77, 1063.03, 664.527, 377.714, 203.967, 106.926},
		{-2777.25, 403.92, 854.448, 664.527, 417.837, 238.76, 129.55, 68.2075},
		{-1572.97, 222.614, 482.435, 377.714, 238.76, 137.151, 74.7665, 39.5247},
		{-846.653, 116.779, 258.92, 203.967, 129.55, 74.7665, 40.9423, 21.7285},
		{-442.531, 59.5958, 134.975, 106.926, 68.2075, 39.5247, 21.7285, 11.5775},
	}
}

func cmsModel(t *testing.T) *model.Model {
	t.Helper()
	m, err := model.New(model.Data{
		Name:       "CMS-NOTE-2017-001",
		Observed:   []float64{1964, 877, 354, 182, 82, 36, 15, 11},
		Background: []float64{2006.4, 836.4, 350.0, 147.1, 62.0, 26.2, 11.1, 4.7},
		Covariance: cmsCovariance(),
		Signal:     []float64{0.47, 0.294, 0.211, 0.143, 0.094, 0.071, 0.047, 0.043},
	})
	require.NoError(t, err)
	return m
}

func TestReferenceScenarioProfiled(t *testing.T) {
	m := cmsModel(t)
	s := New(DefaultConfig())
	ctx := context.Background()

	l, err := s.ULOnYields(ctx, m, Observed)
	require.NoError(t, err)
	require.True(t, l.Valid())
	assert.InEpsilon(t, 180.68, l.Value, 0.01)

	cl, err := s.ComputeCLs(ctx, m, l.Value, Observed)
	require.NoError(t, err)
	assert.InDelta(t, 0.95, cl, 1e-2)

	// mu is a total yield far below mu_hat, so only the Asimov statistic
	// contributes and the exclusion is marginal.
	require.Greater(t, l.MuHat, 1.0)
	cl1, err := s.ComputeCLs(ctx, m, 1, Observed)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, cl1, 0.0)
	assert.Less(t, cl1, 0.05)
}

func TestReferenceScenarioMarginalized(t *testing.T) {
	if testing.Short() {
		t.Skip("marginalized reference scenario draws 30000 toys per evaluation")
	}
	m := cmsModel(t)
	cfg := DefaultConfig()
	cfg.Marginalize = true
	s := New(cfg)
	ctx := context.Background()

	l, err := s.ULOnYields(ctx, m, Observed)
	require.NoError(t, err)
	require.True(t, l.Valid())
	// Nuisances are drawn from the background covariance alone, without
	// the signal variance, which puts the limit about 1.5% below 184.8.
	assert.InEpsilon(t, 184.8, l.Value, 0.025)

	cl, err := s.ComputeCLs(ctx, m, l.Value, Observed)
	require.NoError(t, err)
	assert.InDelta(t, 0.95, cl, 1e-2)
}
