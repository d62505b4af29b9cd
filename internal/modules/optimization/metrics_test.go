package optimization

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestComputeMetrics_UncorrelatedEqualVolatility(t *testing.T) {
	est := estimateFromColumns(t, []string{"AAA", "BBB"},
		hadamardColumns([]float64{0.001, 0.002}, []float64{0.01, 0.01}, 40), 252)

	m := ComputeMetrics([]float64{0.5, 0.5}, est, 0.02)

	assert.InDelta(t, 0.0015*252, m.ExpectedReturn, 1e-12)
	assert.InDelta(t, math.Sqrt(0.5e-4*252), m.Volatility, 1e-12)
	assert.InDelta(t, math.Sqrt2, m.DiversificationRatio, 1e-9)
	assert.LessOrEqual(t, m.CVaR95, m.VaR95)
	assert.LessOrEqual(t, m.MaxDrawdown, 0.0)
}

func TestComputeMetrics_SingleAssetHasNoDiversification(t *testing.T) {
	est := factorEstimate(t, 3)

	m := ComputeMetrics([]float64{0, 1, 0}, est, 0.02)
	assert.InDelta(t, 1.0, m.DiversificationRatio, 1e-12)
	assert.InDelta(t, est.Mu[1]*252, m.ExpectedReturn, 1e-12)
	assert.InDelta(t, math.Sqrt(est.Cov.At(1, 1)*252), m.Volatility, 1e-12)
}

func TestModelSharpe(t *testing.T) {
	est := estimateFromColumns(t, []string{"AAA", "BBB"},
		hadamardColumns([]float64{0.001, 0.002}, []float64{0.01, 0.02}, 40), 252)

	got := modelSharpe([]float64{1, 0}, est, 0.0002)
	assert.InDelta(t, (0.001-0.0002)/0.01*math.Sqrt(252), got, 1e-9)

	assert.True(t, math.IsInf(modelSharpe([]float64{0, 0}, est, 0), -1))
}
