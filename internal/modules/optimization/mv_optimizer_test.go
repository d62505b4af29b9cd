package optimization

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMVOptimizer_MaxSharpe(t *testing.T) {
	// A: mu 1%/period, sigma 10%; B: mu 1.2%/period, sigma 10%; uncorrelated
	est := estimateFromColumns(t, []string{"A", "B"},
		hadamardColumns([]float64{0.01, 0.012}, []float64{0.10, 0.10}, 20), 252)
	rf := 0.02

	res, err := testEngine().Optimize(ObjectiveMaxSharpe, est, NewConstraints(2), rf)
	require.NoError(t, err)

	// Tangency portfolio: w proportional to mu - rf/252 for equal variances
	rfp := rf / 252
	wantB := (0.012 - rfp) / (0.01 - rfp + 0.012 - rfp)
	assert.InDelta(t, wantB, res.Weights[1], 1e-3)
	assert.Greater(t, res.Weights[1], res.Weights[0])
	assert.InDelta(t, 1.0, sum(res.Weights), WeightTolerance)

	onlyA := ComputeMetrics([]float64{1, 0}, est, rf)
	onlyB := ComputeMetrics([]float64{0, 1}, est, rf)
	assert.Greater(t, res.Metrics.SharpeRatio, onlyA.SharpeRatio)
	assert.Greater(t, res.Metrics.SharpeRatio, onlyB.SharpeRatio)
}

func TestMVOptimizer_MaxSharpeRespectsBounds(t *testing.T) {
	est := estimateFromColumns(t, []string{"A", "B"},
		hadamardColumns([]float64{0.01, 0.012}, []float64{0.10, 0.10}, 20), 252)
	c := bounds([]float64{0, 0}, []float64{1, 0.3})

	res, err := testEngine().Optimize(ObjectiveMaxSharpe, est, c, 0.02)
	require.NoError(t, err)
	assert.InDelta(t, 0.3, res.Weights[1], 1e-6)
	assert.InDelta(t, 0.7, res.Weights[0], 1e-6)
}

// gridMinVariance scans the simplex on a step grid and returns the lowest
// variance among points whose periodic return is at least minReturn.
func gridMinVariance(est *Estimate, step float64, minReturn float64) float64 {
	best := math.Inf(1)
	steps := int(math.Round(1 / step))
	for i := 0; i <= steps; i++ {
		for j := 0; i+j <= steps; j++ {
			w := []float64{float64(i) * step, float64(j) * step, float64(steps-i-j) * step}
			if dot(est.Mu, w) < minReturn {
				continue
			}
			best = math.Min(best, est.Variance(w))
		}
	}
	return best
}

func TestMVOptimizer_MinVolatilityIsGlobal(t *testing.T) {
	est := factorEstimate(t, 3)

	res, err := testEngine().Optimize(ObjectiveMinVolatility, est, NewConstraints(3), 0.02)
	require.NoError(t, err)

	grid := gridMinVariance(est, 0.01, math.Inf(-1))
	assert.LessOrEqual(t, est.Variance(res.Weights), grid+1e-12)

	// No other tested feasible portfolio has lower volatility
	for _, w := range [][]float64{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}, {1.0 / 3, 1.0 / 3, 1.0 / 3}} {
		assert.LessOrEqual(t, res.Metrics.Volatility, ComputeMetrics(w, est, 0.02).Volatility+1e-9)
	}
}

func TestMVOptimizer_MinVolatilityWithTarget(t *testing.T) {
	est := factorEstimate(t, 3)
	e := testEngine()
	p := float64(est.PeriodsPerYear)

	base, err := e.Optimize(ObjectiveMinVolatility, est, NewConstraints(3), 0)
	require.NoError(t, err)
	_, maxRet := NewConstraints(3).MaxReturn(est.Mu)

	target := (base.Metrics.ExpectedReturn + maxRet*p) / 2
	c := NewConstraints(3)
	c.TargetReturn = &target

	res, err := e.Optimize(ObjectiveMinVolatility, est, c, 0)
	require.NoError(t, err)

	assert.GreaterOrEqual(t, res.Metrics.ExpectedReturn, target-1e-6)
	assert.GreaterOrEqual(t, res.Metrics.Volatility, base.Metrics.Volatility-1e-12)

	grid := gridMinVariance(est, 0.01, target/p)
	assert.LessOrEqual(t, est.Variance(res.Weights), grid+1e-10)
}

func TestMVOptimizer_TargetAboveMaximumIsInfeasible(t *testing.T) {
	est := factorEstimate(t, 3)
	_, maxRet := NewConstraints(3).MaxReturn(est.Mu)

	target := maxRet*float64(est.PeriodsPerYear) + 0.05
	c := NewConstraints(3)
	c.TargetReturn = &target

	_, err := testEngine().Optimize(ObjectiveMinVolatility, est, c, 0)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInfeasible))
}

func TestMVOptimizer_TangencyDirection(t *testing.T) {
	est := estimateFromColumns(t, []string{"A", "B"},
		hadamardColumns([]float64{0.01, 0.02}, []float64{0.10, 0.10}, 20), 252)

	w, ok := tangencyDirection(est, 0)
	require.True(t, ok)
	assert.InDeltaSlice(t, []float64{1.0 / 3, 2.0 / 3}, w, 1e-9)
}
