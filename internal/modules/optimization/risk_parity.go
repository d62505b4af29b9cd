package optimization

import (
	"fmt"
	"math"
)

const (
	riskParityTol = 1e-6
	ercMaxSweeps  = 10000
)

// RiskShares returns each asset's fraction of portfolio variance,
// w_i*(Σw)_i / w'Σw. Shares sum to one.
func RiskShares(w, sigma []float64) []float64 {
	n := len(w)
	sw := make([]float64, n)
	mulCov(sigma, w, sw)
	variance := dot(w, sw)

	out := make([]float64, n)
	if variance <= 0 {
		return out
	}
	for i := range out {
		out[i] = w[i] * sw[i] / variance
	}
	return out
}

// RiskParityConverged reports whether the risk shares of the assets that
// are not pinned at a bound differ by less than tol.
func RiskParityConverged(w, sigma []float64, c *Constraints, tol float64) bool {
	shares := RiskShares(w, sigma)
	lo, hi := math.Inf(1), math.Inf(-1)
	free := 0
	for i, s := range shares {
		if c.Upper[i] == 0 {
			continue
		}
		pinned := (c.Lower[i] > 0 && w[i] <= c.Lower[i]+1e-9) || (c.Upper[i] < 1 && w[i] >= c.Upper[i]-1e-9)
		if pinned {
			continue
		}
		lo = math.Min(lo, s)
		hi = math.Max(hi, s)
		free++
	}
	if free == 0 {
		return true
	}
	return hi-lo < tol
}

// riskParity equalizes the risk contributions of every asset not held at a
// bound. The free assets solve the log-barrier problem
//
//	min 1/2 w'Σw - kappa * sum_i log w_i
//
// whose stationary point has w_i*(Σw)_i = kappa for every free i. It is
// strictly convex for positive-definite Σ, so a long-only solution exists
// whatever the signs of the correlations. Assets whose solution breaks a
// bound are pinned at it and the rest re-solved on the remaining budget.
func (e *Engine) riskParity(est *Estimate, c *Constraints) ([]float64, int, error) {
	n := est.N()
	sigma := denseCov(est)
	seed := hierarchicalWeights(est)

	w := make([]float64, n)
	pinned := make([]bool, n)
	for i := range pinned {
		if c.Upper[i]-c.Lower[i] <= feasibilityTol {
			pinned[i] = true
			w[i] = c.Lower[i]
		}
	}

	iterations := 0
	for round := 0; round <= n; round++ {
		var free []int
		budget := 1.0
		for i := range pinned {
			if pinned[i] {
				budget -= w[i]
			} else {
				free = append(free, i)
			}
		}
		if len(free) == 0 {
			break
		}

		sweeps, ok := ercOnBudget(sigma, free, w, seed, budget)
		iterations += sweeps
		if !ok {
			return nil, iterations, &SolverError{
				Objective: ObjectiveRiskParity,
				Reason:    "risk contributions did not equalize on the remaining budget",
			}
		}

		violated := false
		for _, i := range free {
			switch {
			case w[i] > c.Upper[i]+feasibilityTol:
				pinned[i], w[i], violated = true, c.Upper[i], true
			case w[i] < c.Lower[i]-feasibilityTol:
				pinned[i], w[i], violated = true, c.Lower[i], true
			}
		}
		if !violated {
			break
		}
		e.log.Debug().Int("round", round).Msg("Risk parity pinned assets at their bounds")
	}

	if !RiskParityConverged(w, sigma, c, riskParityTol) {
		return nil, iterations, &SolverError{
			Objective: ObjectiveRiskParity,
			Reason:    fmt.Sprintf("risk contributions did not equalize within %d sweeps", iterations),
		}
	}
	return w, iterations, nil
}

// ercOnBudget fills w[free] with equal risk contributions summing to budget,
// holding the other entries of w fixed. Without a fixed position the
// solution for one kappa scales to any budget; otherwise kappa is found by
// bisection on its logarithm.
func ercOnBudget(sigma []float64, free []int, w, seed []float64, budget float64) (int, bool) {
	if budget <= 0 {
		for _, i := range free {
			w[i] = 0
		}
		return 0, budget > -feasibilityTol
	}

	seedSum := 0.0
	for _, i := range free {
		seedSum += seed[i]
	}
	for _, i := range free {
		if seedSum > 0 {
			w[i] = math.Max(seed[i]/seedSum*budget, 1e-12)
		} else {
			w[i] = budget / float64(len(free))
		}
	}

	isFree := make(map[int]bool, len(free))
	for _, i := range free {
		isFree[i] = true
	}
	crossHeld := false
	for i, v := range w {
		if !isFree[i] && v != 0 {
			crossHeld = true
			break
		}
	}

	// The seed's average contribution sets the scale of kappa
	n := len(w)
	sw := make([]float64, n)
	mulCov(sigma, w, sw)
	kappa := 0.0
	for _, i := range free {
		kappa += math.Abs(w[i] * sw[i])
	}
	kappa /= float64(len(free))
	if kappa <= 0 || math.IsNaN(kappa) {
		return 0, false
	}

	total := 0
	solveAt := func(k float64) (float64, bool) {
		sweeps, ok := ercCoordinateDescent(sigma, free, w, k)
		total += sweeps
		s := 0.0
		for _, i := range free {
			s += w[i]
		}
		return s, ok
	}

	s, ok := solveAt(kappa)
	if !ok {
		return total, false
	}
	if !crossHeld {
		for _, i := range free {
			w[i] *= budget / s
		}
		return total, true
	}

	lo, hi := math.Log(kappa), math.Log(kappa)
	for k := 0; s < budget && k < 200; k++ {
		lo = hi
		hi += math.Ln2
		if s, ok = solveAt(math.Exp(hi)); !ok {
			return total, false
		}
	}
	for k := 0; s > budget && k < 200; k++ {
		hi = lo
		lo -= math.Ln2
		if s, ok = solveAt(math.Exp(lo)); !ok {
			return total, false
		}
	}

	for k := 0; k < 200 && math.Abs(s-budget) > 1e-13*budget; k++ {
		mid := 0.5 * (lo + hi)
		if s, ok = solveAt(math.Exp(mid)); !ok {
			return total, false
		}
		if s < budget {
			lo = mid
		} else {
			hi = mid
		}
	}
	return total, math.Abs(s-budget) <= 1e-9*budget
}

// ercCoordinateDescent minimizes 1/2 x'Σx - kappa * sum log x_i over the
// free coordinates of x, the rest held fixed. Each coordinate update is the
// positive root of Σ_ii y^2 + a*y - kappa = 0 with a = (Σx)_i - Σ_ii x_i,
// which exists whatever the sign of a. Sweeps stop once every free
// contribution x_i*(Σx)_i is within a relative 1e-10 of kappa.
func ercCoordinateDescent(sigma []float64, free []int, x []float64, kappa float64) (int, bool) {
	n := len(x)
	sx := make([]float64, n)
	worst := math.Inf(1)

	for sweep := 1; sweep <= ercMaxSweeps; sweep++ {
		mulCov(sigma, x, sx)
		for _, i := range free {
			d := sigma[i*n+i]
			if d <= 0 {
				return sweep, false
			}
			a := sx[i] - d*x[i]
			root := math.Sqrt(a*a + 4*d*kappa)
			var y float64
			if a >= 0 {
				y = 2 * kappa / (a + root)
			} else {
				y = (root - a) / (2 * d)
			}
			if delta := y - x[i]; delta != 0 {
				for j := 0; j < n; j++ {
					sx[j] += delta * sigma[j*n+i]
				}
				x[i] = y
			}
		}

		mulCov(sigma, x, sx)
		worst = 0
		for _, i := range free {
			worst = math.Max(worst, math.Abs(x[i]*sx[i]-kappa))
		}
		if worst <= 1e-10*kappa {
			return sweep, true
		}
	}
	return ercMaxSweeps, worst <= 1e-8*kappa
}
