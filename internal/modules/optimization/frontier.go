package optimization

import (
	"math"

	"github.com/aristath/allocator/pkg/formulas"
)

// FrontierPoint is one portfolio on (or, for RandomCloud, below) the
// efficient frontier. Return and Volatility are annualized fractions.
type FrontierPoint struct {
	Return     float64
	Volatility float64
	Sharpe     float64
	Weights    []float64
}

// Frontier traces n minimum-volatility portfolios with evenly spaced return
// targets between the global minimum-volatility portfolio and the maximum
// achievable return. Each target starts from the previous point's weights.
// The output is non-decreasing in volatility.
func (e *Engine) Frontier(est *Estimate, c *Constraints, n int, rfAnnual float64) ([]FrontierPoint, error) {
	if n <= 0 {
		return nil, nil
	}
	if c.N() != est.N() {
		return nil, validationErrorf("assets", "constraints cover %d assets, estimate has %d", c.N(), est.N())
	}

	base := c.Clone()
	base.TargetReturn = nil
	base.MaxAssets = 0
	if err := base.CheckFeasible(ObjectiveMinVolatility); err != nil {
		return nil, err
	}

	p := float64(est.PeriodsPerYear)
	rf := formulas.PeriodicRate(rfAnnual, p)
	sigma := denseCov(est)

	minW, _, err := e.globalMinVariance(est, base, sigma)
	if err != nil {
		return nil, err
	}
	minRet := dot(est.Mu, minW)
	maxW, maxRet := base.MaxReturn(est.Mu)

	point := func(w []float64) FrontierPoint {
		return FrontierPoint{
			Return:     dot(est.Mu, w) * p,
			Volatility: math.Sqrt(est.Variance(w) * p),
			Sharpe:     modelSharpe(w, est, rf),
			Weights:    w,
		}
	}

	if n == 1 || maxRet-minRet < 1e-12 {
		return []FrontierPoint{point(minW)}, nil
	}

	points := make([]FrontierPoint, 0, n)
	points = append(points, point(minW))
	prev := minW
	for k := 1; k < n; k++ {
		target := minRet + float64(k)*(maxRet-minRet)/float64(n-1)
		if k == n-1 {
			target = maxRet
		}

		w, _ := e.targetVariance(est, base, sigma, target, prev, maxW)
		if !finite(w) {
			e.log.Debug().Float64("target", target*p).Msg("Skipping frontier point")
			continue
		}
		prev = w
		points = append(points, point(cleanWeights(w, base)))
	}

	return monotoneInVolatility(points), nil
}

// monotoneInVolatility drops points whose volatility falls below an earlier
// point's, which only happens through solver tolerance.
func monotoneInVolatility(points []FrontierPoint) []FrontierPoint {
	out := points[:0]
	maxVol := math.Inf(-1)
	for _, pt := range points {
		if pt.Volatility+1e-12 < maxVol {
			continue
		}
		maxVol = math.Max(maxVol, pt.Volatility)
		out = append(out, pt)
	}
	return out
}

// RandomCloud samples k feasible portfolios (Dirichlet draws projected onto
// the bounds) for plotting beneath the frontier.
func (e *Engine) RandomCloud(est *Estimate, c *Constraints, k int, rfAnnual float64) []FrontierPoint {
	p := float64(est.PeriodsPerYear)
	rf := formulas.PeriodicRate(rfAnnual, p)
	sampler := newDirichletSampler(est.N(), e.seed)

	out := make([]FrontierPoint, 0, k)
	for i := 0; i < k; i++ {
		w := c.Project(sampler.draw())
		out = append(out, FrontierPoint{
			Return:     dot(est.Mu, w) * p,
			Volatility: math.Sqrt(est.Variance(w) * p),
			Sharpe:     modelSharpe(w, est, rf),
			Weights:    w,
		})
	}
	return out
}
