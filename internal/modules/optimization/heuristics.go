package optimization

import (
	"math"
	"math/rand/v2"

	"github.com/aristath/allocator/pkg/formulas"
	"gonum.org/v1/gonum/stat/distuv"
)

// assetSharpe is the annualized Sharpe ratio of each asset on its own.
func assetSharpe(est *Estimate, rfAnnual float64) []float64 {
	p := float64(est.PeriodsPerYear)
	rf := formulas.PeriodicRate(rfAnnual, p)
	vol := est.Volatilities()
	out := make([]float64, est.N())
	for i := range out {
		if vol[i] == 0 {
			out[i] = math.Inf(-1)
			continue
		}
		out[i] = (est.Mu[i] - rf) / vol[i] * math.Sqrt(p)
	}
	return out
}

// equalWeight spreads the portfolio evenly. With a cardinality cap only the
// assets with the best individual Sharpe ratios (plus every asset with a
// positive minimum) are held. Bounds are honoured by projection.
func (e *Engine) equalWeight(est *Estimate, c *Constraints, rfAnnual float64) ([]float64, int, error) {
	n := est.N()
	held := c.Clone()
	held.MaxAssets = 0

	if c.MaxAssets > 0 && c.MaxAssets < n {
		sharpe := assetSharpe(est, rfAnnual)
		chosen := selectPositions(sharpe, c)
		keep := make(map[int]bool, len(chosen))
		for _, i := range chosen {
			keep[i] = true
		}
		for i := range held.Upper {
			if !keep[i] {
				held.Upper[i] = 0
			}
		}
	}

	active := 0
	for i := range held.Upper {
		if held.Upper[i] > 0 {
			active++
		}
	}
	x := make([]float64, n)
	for i := range x {
		if held.Upper[i] > 0 {
			x[i] = 1 / float64(active)
		}
	}
	return held.Project(x), 1, nil
}

// monteCarlo samples Dirichlet(1, ..., 1) portfolios, clips them to the
// bounds and keeps the best Sharpe ratio. The generator is seeded, so the
// same estimate always yields the same portfolio.
func (e *Engine) monteCarlo(est *Estimate, c *Constraints, rfAnnual float64) ([]float64, int, error) {
	rf := formulas.PeriodicRate(rfAnnual, float64(est.PeriodsPerYear))
	sampler := newDirichletSampler(est.N(), e.seed)

	var best []float64
	var bestSharpe, bestVol float64
	for k := 0; k < e.monteCarloDraws; k++ {
		w := c.Project(sampler.draw())
		sharpe := modelSharpe(w, est, rf)
		vol := math.Sqrt(est.Variance(w))
		if best == nil || sharpe > bestSharpe+1e-9 || (math.Abs(sharpe-bestSharpe) <= 1e-9 && vol < bestVol) {
			best, bestSharpe, bestVol = w, sharpe, vol
		}
	}

	if best == nil || math.IsInf(bestSharpe, 0) || math.IsNaN(bestSharpe) {
		return nil, e.monteCarloDraws, &SolverError{Objective: ObjectiveMonteCarlo, Reason: "no sampled portfolio has a finite Sharpe ratio"}
	}
	return best, e.monteCarloDraws, nil
}

// dirichletSampler draws uniform points on the simplex as normalized
// Gamma(1, 1) variates.
type dirichletSampler struct {
	n     int
	gamma distuv.Gamma
}

func newDirichletSampler(n int, seed uint64) *dirichletSampler {
	return &dirichletSampler{
		n:     n,
		gamma: distuv.Gamma{Alpha: 1, Beta: 1, Src: rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)},
	}
}

func (d *dirichletSampler) draw() []float64 {
	w := make([]float64, d.n)
	sum := 0.0
	for i := range w {
		w[i] = d.gamma.Rand()
		sum += w[i]
	}
	if sum <= 0 {
		for i := range w {
			w[i] = 1 / float64(d.n)
		}
		return w
	}
	for i := range w {
		w[i] /= sum
	}
	return w
}
