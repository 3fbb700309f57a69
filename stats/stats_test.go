package stats

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"gonum.org/v1/gonum/stat/distuv"
)

func TestLogPoisson(t *testing.T) {
	tests := []struct {
		k, lambda float64
	}{
		{0, 3.5},
		{1, 1},
		{5, 4.2},
		{12, 10.5},
	}
	for _, tt := range tests {
		want := distuv.Poisson{Lambda: tt.lambda}.LogProb(tt.k)
		assert.InDelta(t, want, LogPoisson(tt.k, tt.lambda), 1e-10, "k=%g lambda=%g", tt.k, tt.lambda)
	}

	// non-integer counts are allowed
	lg, _ := math.Lgamma(3.5)
	assert.InDelta(t, 2.5*math.Log(2)-2-lg, LogPoisson(2.5, 2), 1e-12)
}

func TestLogPoissonZeroCountIgnoresTinyMean(t *testing.T) {
	assert.Equal(t, -1e-30, LogPoissonWithGamma(0, 1e-30, 0))
	assert.False(t, math.IsNaN(LogPoisson(0, 0)))
}

func TestSumLogPoisson(t *testing.T) {
	obs := []float64{3, 0, 7}
	lambda := []float64{2.5, 0.4, 8}
	lg := make([]float64, len(obs))
	var want float64
	for i := range obs {
		lg[i], _ = math.Lgamma(obs[i] + 1)
		want += LogPoisson(obs[i], lambda[i])
	}
	assert.InDelta(t, want, SumLogPoisson(obs, lambda, lg), 1e-12)
}

func TestCLsFromNLL(t *testing.T) {
	t.Run("no exclusion at best fit", func(t *testing.T) {
		r := CLsFromNLL(10, 10, 20, 20)
		assert.Equal(t, 0.0, r.QMu)
		assert.Equal(t, 0.0, r.QA)
		assert.InDelta(t, 1, r.CLs, 1e-15)
		assert.InDelta(t, 0, r.OneMinusCLs(), 1e-15)
		assert.False(t, r.Excluded(0.95))
	})

	t.Run("asimov dominates", func(t *testing.T) {
		// q = 1, qA = 4
		r := CLsFromNLL(12, 10, 20.5, 20)
		assert.InDelta(t, 1, r.QMu, 1e-12)
		assert.InDelta(t, 4, r.QA, 1e-12)
		clsb := 1 - distuv.UnitNormal.CDF(1)
		clb := distuv.UnitNormal.CDF(2 - 1)
		assert.InDelta(t, clsb, r.CLsb, 1e-12)
		assert.InDelta(t, clb, r.CLb, 1e-12)
		assert.InDelta(t, clsb/clb, r.CLs, 1e-12)
	})

	t.Run("data dominates", func(t *testing.T) {
		// q = 9, qA = 4
		r := CLsFromNLL(12, 10, 24.5, 20)
		clsb := 1 - distuv.UnitNormal.CDF((9+4)/(2*2.0))
		clb := 1 - distuv.UnitNormal.CDF((9-4)/(2*2.0))
		assert.InDelta(t, clsb/clb, r.CLs, 1e-12)
		assert.True(t, r.Excluded(0.95) == (r.OneMinusCLs() >= 0.95))
	})

	t.Run("vanishing asimov statistic", func(t *testing.T) {
		r := CLsFromNLL(10, 10, 21, 20)
		assert.Equal(t, 1.0, r.CLsb)
		assert.Equal(t, 1.0, r.CLb)
		assert.Equal(t, 1.0, r.CLs)
	})

	t.Run("negative differences are clipped", func(t *testing.T) {
		r := CLsFromNLL(9, 10, 19, 20)
		assert.Equal(t, 0.0, r.QMu)
		assert.Equal(t, 0.0, r.QA)
	})

	t.Run("vanishing CLb", func(t *testing.T) {
		r := CLsFromNLL(12, 10, 1e6, 0)
		assert.Equal(t, 0.0, r.CLb)
		assert.Equal(t, 0.0, r.CLs)
		assert.True(t, r.Excluded(0.95))
	})
}

func TestCLsRoot(t *testing.T) {
	r := CLsResult{CLs: 0.2}
	assert.InDelta(t, 0.15, r.Root(0.95), 1e-15)
	r = CLsResult{CLs: 0.01}
	assert.Less(t, r.Root(0.95), 0.0)
}
