package stats

import (
	"math"

	"gonum.org/v1/gonum/stat/distuv"
)

// CLsResult holds the asymptotic CLs quantities for one signal hypothesis.
type CLsResult struct {
	QMu  float64 // test statistic on data
	QA   float64 // test statistic on the Asimov dataset
	CLsb float64
	CLb  float64
	CLs  float64
}

// CLsFromNLL evaluates the CCGV asymptotic formulae from four negative
// log-likelihoods: on the Asimov dataset at mu and at its own best fit, and
// on data at mu and at its best fit.
func CLsFromNLL(nllA, nll0A, nll, nll0 float64) CLsResult {
	qmu := math.Max(0, 2*(nll-nll0))
	qA := math.Max(0, 2*(nllA-nll0A))
	sqmu := math.Sqrt(qmu)
	sqA := math.Sqrt(qA)

	var clsb, clb float64
	if qA >= qmu {
		clsb = 1 - distuv.UnitNormal.CDF(sqmu)
		clb = distuv.UnitNormal.CDF(sqA - sqmu)
	} else if qA == 0 {
		clsb = 1
		clb = 1
	} else {
		clsb = 1 - distuv.UnitNormal.CDF((qmu+qA)/(2*sqA))
		clb = 1 - distuv.UnitNormal.CDF((qmu-qA)/(2*sqA))
	}

	cls := 0.0
	if clb > 0 {
		cls = clsb / clb
	}

	return CLsResult{
		QMu:  qmu,
		QA:   qA,
		CLsb: clsb,
		CLb:  clb,
		CLs:  cls,
	}
}

// OneMinusCLs returns the exclusion confidence level 1-CLs.
func (r CLsResult) OneMinusCLs() float64 {
	return 1 - r.CLs
}

// Root returns CLs - (1-cl). It is positive for hypotheses that are not
// excluded at confidence level cl and negative for excluded ones.
func (r CLsResult) Root(cl float64) float64 {
	return r.CLs - (1 - cl)
}

// Excluded reports whether the hypothesis is excluded at confidence level cl.
func (r CLsResult) Excluded(cl float64) bool {
	return r.OneMinusCLs() >= cl
}
