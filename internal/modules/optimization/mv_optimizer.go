package optimization

import (
	"math"

	"github.com/aristath/allocator/pkg/formulas"
	"gonum.org/v1/gonum/mat"
)

// denseCov copies Σ into a row-major slice for the hot loops.
func denseCov(est *Estimate) []float64 {
	n := est.N()
	out := make([]float64, n*n)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			out[i*n+j] = est.Cov.At(i, j)
		}
	}
	return out
}

func mulCov(sigma []float64, w, out []float64) {
	n := len(w)
	for i := 0; i < n; i++ {
		s := 0.0
		row := sigma[i*n : (i+1)*n]
		for j, v := range row {
			s += v * w[j]
		}
		out[i] = s
	}
}

// varianceObjective is w'Σw - lambda*mu.w.
func varianceObjective(sigma, mu []float64, lambda float64) objectiveFunc {
	n := len(mu)
	sw := make([]float64, n)
	return objectiveFunc{
		f: func(w []float64) float64 {
			mulCov(sigma, w, sw)
			return dot(w, sw) - lambda*dot(mu, w)
		},
		grad: func(g, w []float64) {
			mulCov(sigma, w, sw)
			for i := range g {
				g[i] = 2*sw[i] - lambda*mu[i]
			}
		},
	}
}

// sharpeObjective is the negative per-period Sharpe ratio.
func sharpeObjective(sigma, mu []float64, rf float64) objectiveFunc {
	n := len(mu)
	sw := make([]float64, n)
	return objectiveFunc{
		f: func(w []float64) float64 {
			mulCov(sigma, w, sw)
			s := math.Sqrt(math.Max(dot(w, sw), 0))
			if s == 0 {
				return 0
			}
			return -(dot(mu, w) - rf) / s
		},
		grad: func(g, w []float64) {
			mulCov(sigma, w, sw)
			s := math.Sqrt(math.Max(dot(w, sw), 0))
			if s == 0 {
				for i := range g {
					g[i] = 0
				}
				return
			}
			excess := dot(mu, w) - rf
			s3 := s * s * s
			for i := range g {
				g[i] = -(mu[i]/s - excess*sw[i]/s3)
			}
		},
	}
}

// maxSharpe maximizes (mu.w - rf)/sqrt(w'Σw). The ratio is not concave in
// general, so the projected-gradient ascent runs from several feasible
// starts: equal weights, gonum's penalized warm start, the maximum-return
// and minimum-variance corners and the unconstrained tangency direction.
func (e *Engine) maxSharpe(est *Estimate, c *Constraints, rfAnnual float64) ([]float64, int, error) {
	sigma := denseCov(est)
	rf := formulas.PeriodicRate(rfAnnual, float64(est.PeriodsPerYear))
	obj := sharpeObjective(sigma, est.Mu, rf)

	starts := [][]float64{c.Start()}
	if warm, ok := penaltyWarmStart(obj, c, c.Start()); ok {
		starts = append(starts, warm)
	} else {
		e.log.Debug().Msg("Penalty warm start unavailable, using direct starts only")
	}
	maxRet, _ := c.MaxReturn(est.Mu)
	starts = append(starts, maxRet)
	minVar, iterations, err := e.globalMinVariance(est, c, sigma)
	if err == nil {
		starts = append(starts, minVar)
	}
	if t, ok := tangencyDirection(est, rf); ok {
		starts = append(starts, c.Project(t))
	}

	var best []float64
	var bestSharpe, bestVol float64
	for _, s := range starts {
		res := projectedGradient(obj, c, s, 1, stationarityTol)
		iterations += res.iterations
		if !finite(res.w) {
			continue
		}

		sharpe := modelSharpe(res.w, est, rf)
		vol := math.Sqrt(est.Variance(res.w))
		if best == nil || sharpe > bestSharpe+1e-9 || (math.Abs(sharpe-bestSharpe) <= 1e-9 && vol < bestVol) {
			best, bestSharpe, bestVol = res.w, sharpe, vol
		}
	}

	if best == nil || math.IsInf(bestSharpe, 0) || math.IsNaN(bestSharpe) {
		return nil, iterations, &SolverError{Objective: ObjectiveMaxSharpe, Reason: "no finite Sharpe ratio found"}
	}
	return best, iterations, nil
}

// tangencyDirection solves Σx = mu - rf and normalizes x to sum to one.
func tangencyDirection(est *Estimate, rf float64) ([]float64, bool) {
	n := est.N()
	excess := make([]float64, n)
	for i := range excess {
		excess[i] = est.Mu[i] - rf
	}

	var chol mat.Cholesky
	if ok := chol.Factorize(est.Cov); !ok {
		return nil, false
	}
	var x mat.VecDense
	if err := chol.SolveVecTo(&x, mat.NewVecDense(n, excess)); err != nil {
		return nil, false
	}

	raw := x.RawVector().Data
	sum := 0.0
	for _, v := range raw {
		sum += v
	}
	if sum == 0 || math.IsNaN(sum) {
		return nil, false
	}
	out := make([]float64, n)
	for i, v := range raw {
		out[i] = v / sum
	}
	return out, true
}

// minVolatility minimizes w'Σw. With a return target the minimizer sits on
// mu.w = target whenever the unconstrained minimum falls short of it.
func (e *Engine) minVolatility(est *Estimate, c *Constraints) ([]float64, int, error) {
	sigma := denseCov(est)

	base, iterations, err := e.globalMinVariance(est, c, sigma)
	if err != nil {
		return nil, iterations, err
	}
	if c.TargetReturn == nil {
		return base, iterations, nil
	}

	target := formulas.PeriodicRate(*c.TargetReturn, float64(est.PeriodsPerYear))
	if dot(est.Mu, base) >= target-1e-14 {
		return base, iterations, nil
	}

	maxW, maxRet := c.MaxReturn(est.Mu)
	if target > maxRet+1e-12 {
		return nil, iterations, infeasible(ObjectiveMinVolatility,
			"target return %.4f exceeds the maximum achievable %.4f",
			*c.TargetReturn, maxRet*float64(est.PeriodsPerYear))
	}

	w, extra := e.targetVariance(est, c, sigma, math.Min(target, maxRet), base, maxW)
	return w, iterations + extra, nil
}

// globalMinVariance solves min w'Σw over c with the active-set method and
// falls back to projected gradient when the KKT systems degenerate.
func (e *Engine) globalMinVariance(est *Estimate, c *Constraints, sigma []float64) ([]float64, int, error) {
	if w, iterations, ok := activeSetQP(sigma, nil, c, c.Start()); ok {
		return w, iterations, nil
	}

	e.log.Debug().Msg("Active-set variance solve failed, using projected gradient")
	res := projectedGradient(varianceObjective(sigma, est.Mu, 0), c, c.Start(), stepHint(est), stationarityTol)
	if !finite(res.w) {
		return nil, res.iterations, &SolverError{Objective: ObjectiveMinVolatility, Reason: "variance minimization diverged"}
	}
	return res.w, res.iterations, nil
}

// targetVariance minimizes w'Σw subject to mu.w = target (per period). from
// is feasible with mu.from <= target and maxW attains the maximum return,
// so a blend of the two is a feasible start on the target.
func (e *Engine) targetVariance(est *Estimate, c *Constraints, sigma []float64, target float64, from, maxW []float64) ([]float64, int) {
	if target >= dot(est.Mu, maxW)-1e-15 {
		// Only the maximum-return portfolio reaches the top target
		return append([]float64(nil), maxW...), 0
	}

	start := blendToTarget(est.Mu, from, maxW, target)
	if w, iterations, ok := activeSetQP(sigma, est.Mu, c, start); ok {
		return w, iterations
	}

	e.log.Debug().Msg("Active-set target solve failed, using the Lagrangian bisection")
	return e.lagrangianTarget(est, c, sigma, target, from, maxW)
}

// blendToTarget returns the point on the segment from -> maxW whose return
// is target.
func blendToTarget(mu, from, maxW []float64, target float64) []float64 {
	r0, r1 := dot(mu, from), dot(mu, maxW)
	if r1-r0 <= 0 {
		return append([]float64(nil), maxW...)
	}
	theta := clamp((target-r0)/(r1-r0), 0, 1)
	out := make([]float64, len(from))
	for i := range out {
		out[i] = (1-theta)*from[i] + theta*maxW[i]
	}
	return out
}

// lagrangianTarget minimizes w'Σw - lambda*mu.w and bisects lambda until
// mu.w reaches the target. Inner solves are warm started and stop at a
// looser tolerance than the standalone objectives.
func (e *Engine) lagrangianTarget(est *Estimate, c *Constraints, sigma []float64, target float64, from, maxW []float64) ([]float64, int) {
	const innerTol = 1e-9
	step := stepHint(est)

	iterations := 0
	solve := func(lambda float64, start []float64) []float64 {
		res := projectedGradient(varianceObjective(sigma, est.Mu, lambda), c, start, step, innerTol)
		iterations += res.iterations
		return res.w
	}

	scale := 0.0
	for _, m := range est.Mu {
		scale = math.Max(scale, math.Abs(m))
	}
	lamLo, lamHi := 0.0, 1.0
	if scale > 0 {
		lamHi = 1 / (step * float64(est.N()) * scale)
	}

	wHi := solve(lamHi, from)
	for k := 0; k < 100 && dot(est.Mu, wHi) < target; k++ {
		lamLo = lamHi
		lamHi *= 2
		wHi = solve(lamHi, wHi)
	}
	if dot(est.Mu, wHi) < target-1e-12 {
		// The target sits on the maximum-return face
		return maxW, iterations
	}

	wLo := from
	for k := 0; k < 60 && lamHi-lamLo > 1e-9*lamHi; k++ {
		mid := 0.5 * (lamLo + lamHi)
		w := solve(mid, wLo)
		if dot(est.Mu, w) >= target {
			lamHi, wHi = mid, w
		} else {
			lamLo, wLo = mid, w
		}
	}

	return wHi, iterations
}
