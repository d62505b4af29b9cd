package optimization

import (
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize"
)

const (
	// cleanThreshold is the weight below which an unconstrained position is
	// reported as zero.
	cleanThreshold   = 1e-6
	penaltyWeight    = 1000.0
	maxPGIterations  = 5000
	stationarityTol  = 1e-11
	maxBacktrackings = 60

	// qpStepTol is the size below which an active-set step counts as zero.
	qpStepTol = 1e-13
	// qpMaxCondition rejects KKT systems too close to singular to trust.
	qpMaxCondition = 1e14
)

// objectiveFunc is a smooth function of the weights with its gradient.
type objectiveFunc struct {
	f    func(w []float64) float64
	grad func(g, w []float64)
}

type pgResult struct {
	w          []float64
	f          float64
	iterations int
	converged  bool
}

// projectedGradient minimizes obj over the constraint set from start. The
// step t adapts: it grows after every accepted step and halves until the
// sufficient-decrease condition f(w') <= f(w) + g.(w'-w) + |w'-w|^2/(2t)
// holds. Every iterate is feasible. The loop stops once no coordinate moves
// by more than tol.
func projectedGradient(obj objectiveFunc, c *Constraints, start []float64, step, tol float64) pgResult {
	n := c.N()
	w := c.Project(start)
	fw := obj.f(w)
	g := make([]float64, n)
	cand := make([]float64, n)
	if step <= 0 {
		step = 1
	}

	res := pgResult{}
	for res.iterations = 0; res.iterations < maxPGIterations; res.iterations++ {
		obj.grad(g, w)

		var next []float64
		var fNext, moved float64
		accepted := false
		for bt := 0; bt < maxBacktrackings; bt++ {
			for i := range cand {
				cand[i] = w[i] - step*g[i]
			}
			next = c.Project(cand)

			var lin, sq float64
			moved = 0
			for i := range next {
				d := next[i] - w[i]
				lin += g[i] * d
				sq += d * d
				moved = math.Max(moved, math.Abs(d))
			}
			fNext = obj.f(next)
			if fNext <= fw+lin+sq/(2*step)+1e-18 {
				accepted = true
				break
			}
			step *= 0.5
		}

		if !accepted || moved < tol {
			res.converged = true
			break
		}

		w, fw = next, fNext
		step = math.Min(step*2, 1e12)
	}

	res.w = w
	res.f = fw
	return res
}

// penaltyWarmStart runs gonum's unconstrained minimizers on the penalized
// problem f(P(x)) + rho*|x - P(x)|^2, BFGS first with NelderMead as a
// fallback, and returns the projected minimizer.
func penaltyWarmStart(obj objectiveFunc, c *Constraints, start []float64) ([]float64, bool) {
	n := c.N()
	pg := make([]float64, n)

	problem := optimize.Problem{
		Func: func(x []float64) float64 {
			p := c.Project(x)
			val := obj.f(p)
			for i := range x {
				d := x[i] - p[i]
				val += penaltyWeight * d * d
			}
			return val
		},
		Grad: func(grad, x []float64) {
			p := c.Project(x)
			obj.grad(pg, p)
			for i := range x {
				grad[i] = pg[i] + 2*penaltyWeight*(x[i]-p[i])
			}
		},
	}

	settings := &optimize.Settings{MajorIterations: 500}

	result, err := optimize.Minimize(problem, start, settings, &optimize.BFGS{})
	if err != nil || result == nil || !usableStatus(result.Status) {
		result, err = optimize.Minimize(problem, start, settings, &optimize.NelderMead{})
		if err != nil || result == nil || !usableStatus(result.Status) {
			return nil, false
		}
	}

	for _, v := range result.X {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, false
		}
	}
	return c.Project(result.X), true
}

func usableStatus(s optimize.Status) bool {
	switch s {
	case optimize.Success, optimize.GradientThreshold, optimize.FunctionConvergence,
		optimize.StepConvergence, optimize.FunctionThreshold, optimize.MethodConverge, optimize.IterationLimit:
		return true
	}
	return false
}

// cleanWeights zeroes dust positions that have no lower bound and returns
// the freed weight to the largest position with room.
func cleanWeights(w []float64, c *Constraints) []float64 {
	out := append([]float64(nil), w...)
	freed := 0.0
	for i, v := range out {
		if c.Lower[i] == 0 && v < cleanThreshold {
			freed += v
			out[i] = 0
		}
	}
	if freed == 0 {
		return out
	}

	for freed > 0 {
		best := -1
		for i, v := range out {
			if v > 0 && c.Upper[i]-v > 0 && (best < 0 || v > out[best]) {
				best = i
			}
		}
		if best < 0 {
			return w
		}
		add := math.Min(freed, c.Upper[best]-out[best])
		out[best] += add
		freed -= add
	}
	return out
}

func finite(w []float64) bool {
	for _, v := range w {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// stepHint is 1/L for the quadratic w'Σw, L = 2*λmax(Σ). The trace bounds
// λmax from above when the eigen decomposition fails.
func stepHint(est *Estimate) float64 {
	var eig mat.EigenSym
	if eig.Factorize(est.Cov, false) {
		top := 0.0
		for _, v := range eig.Values(nil) {
			top = math.Max(top, v)
		}
		if top > 0 {
			return 1 / (2 * top)
		}
	}

	trace := 0.0
	for i := 0; i < est.N(); i++ {
		trace += est.Cov.At(i, i)
	}
	if trace <= 0 {
		return 1
	}
	return 1 / (2 * trace)
}

type boundState int8

const (
	freeBound boundState = iota
	atLower
	atUpper
	fixedBound
)

// activeSetQP minimizes w'Σw over the bounds in c with sum(w) = 1 and, when
// mu is non-nil, mu.w held at its value in start. start must be feasible.
//
// This is the primal active-set method: each iteration solves the KKT system
// of the free coordinates, then either moves to the first blocking bound or,
// at a stationary point, releases the bound whose multiplier is most
// negative. It reports false when a KKT system is singular or the iteration
// budget runs out.
func activeSetQP(sigma, mu []float64, c *Constraints, start []float64) ([]float64, int, bool) {
	n := c.N()
	w := append([]float64(nil), start...)
	state := make([]boundState, n)
	for i := range state {
		if c.Upper[i]-c.Lower[i] <= feasibilityTol {
			state[i] = fixedBound
			w[i] = c.Lower[i]
		}
	}

	// Σ is scaled to a unit diagonal maximum and mu to a unit range so the
	// KKT blocks are of comparable size. Neither changes the minimizer.
	scale := 0.0
	for i := 0; i < n; i++ {
		scale = math.Max(scale, sigma[i*n+i])
	}
	if scale <= 0 {
		return nil, 0, false
	}
	scale = 1 / scale

	var ret []float64
	if mu != nil {
		all := make([]int, n)
		for i := range all {
			all[i] = i
		}
		if r := spread(mu, all); r > 0 {
			ret = make([]float64, n)
			for i := range ret {
				ret[i] = (mu[i] - mu[0]) / r
			}
		}
	}

	sw := make([]float64, n)
	g := make([]float64, n)
	free := make([]int, 0, n)
	maxIterations := 50 + 10*n

	for it := 0; it < maxIterations; it++ {
		free = free[:0]
		for i, st := range state {
			if st == freeBound {
				free = append(free, i)
			}
		}
		k := len(free)
		if k == 0 {
			return nil, it, false
		}

		mulCov(sigma, w, sw)
		gMax := 0.0
		for i := range g {
			g[i] = 2 * scale * sw[i]
			gMax = math.Max(gMax, math.Abs(g[i]))
		}

		// A return row whose free entries are all equal repeats the budget row
		withMu := ret != nil && k >= 2 && spread(ret, free) > 1e-12
		m := 1
		if withMu {
			m = 2
		}

		kkt := mat.NewDense(k+m, k+m, nil)
		rhs := make([]float64, k+m)
		for a, i := range free {
			for b, j := range free {
				kkt.Set(a, b, 2*scale*sigma[i*n+j])
			}
			kkt.Set(a, k, 1)
			kkt.Set(k, a, 1)
			if withMu {
				kkt.Set(a, k+1, ret[i])
				kkt.Set(k+1, a, ret[i])
			}
			rhs[a] = -g[i]
		}

		var sol mat.VecDense
		if err := sol.SolveVec(kkt, mat.NewVecDense(k+m, rhs)); err != nil {
			if cond, ok := err.(mat.Condition); !ok || float64(cond) > qpMaxCondition {
				return nil, it, false
			}
		}

		step := 0.0
		for a := 0; a < k; a++ {
			step = math.Max(step, math.Abs(sol.AtVec(a)))
		}

		if step <= qpStepTol {
			// Multipliers of the equality rows are the negated solution tail
			nuBudget := -sol.AtVec(k)
			nuReturn := 0.0
			if withMu {
				nuReturn = -sol.AtVec(k + 1)
			}

			release, worst := -1, -(1e-10*gMax + 1e-18)
			for i, st := range state {
				if st != atLower && st != atUpper {
					continue
				}
				r := g[i] - nuBudget
				if ret != nil {
					r -= nuReturn * ret[i]
				}
				if st == atUpper {
					r = -r
				}
				if r < worst {
					release, worst = i, r
				}
			}
			if release < 0 {
				return w, it + 1, true
			}
			state[release] = freeBound
			continue
		}

		alpha, block, blockState := 1.0, -1, freeBound
		for a, i := range free {
			d := sol.AtVec(a)
			switch {
			case d < 0:
				if r := (c.Lower[i] - w[i]) / d; r < alpha {
					alpha, block, blockState = r, i, atLower
				}
			case d > 0:
				if r := (c.Upper[i] - w[i]) / d; r < alpha {
					alpha, block, blockState = r, i, atUpper
				}
			}
		}
		alpha = math.Max(alpha, 0)

		for a, i := range free {
			w[i] += alpha * sol.AtVec(a)
		}
		if block >= 0 {
			state[block] = blockState
			if blockState == atLower {
				w[block] = c.Lower[block]
			} else {
				w[block] = c.Upper[block]
			}
		}
	}

	return nil, maxIterations, false
}

// spread is max - min of v over idx.
func spread(v []float64, idx []int) float64 {
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, i := range idx {
		lo = math.Min(lo, v[i])
		hi = math.Max(hi, v[i])
	}
	return hi - lo
}
