package optimization

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize/convex/lp"
)

const (
	cvarAlpha     = 0.95
	simplexTol    = 1e-10
	maxCutRounds  = 20
	cutViolateTol = 1e-12
)

// minCVaR minimizes the Rockafellar-Uryasev form
//
//	zeta + 1/((1-alpha)T) * sum_t max(0, -r_t.w - zeta)
//
// over the realized scenarios. Only scenarios that can sit in the loss tail
// carry a nonzero slack at the optimum, so the LP starts from the worst
// scenarios and adds any scenario whose loss exceeds zeta until none does.
func (e *Engine) minCVaR(est *Estimate, c *Constraints) ([]float64, int, error) {
	t := est.T()
	tail := int(math.Ceil((1 - cvarAlpha) * float64(t)))

	// Seed with the worst scenarios of the starting portfolio
	losses := negate(est.PortfolioReturns(c.Start()))
	order := make([]int, t)
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return losses[order[a]] > losses[order[b]] })

	size := min(t, 2*tail+est.N())
	active := make(map[int]bool, size)
	for _, idx := range order[:size] {
		active[idx] = true
	}

	rounds := 0
	for rounds = 1; rounds <= maxCutRounds; rounds++ {
		scenarios := make([]int, 0, len(active))
		for idx := range active {
			scenarios = append(scenarios, idx)
		}
		sort.Ints(scenarios)

		w, zeta, err := solveCVaRLP(est, c, scenarios)
		if err != nil {
			return nil, rounds, &SolverError{Objective: ObjectiveMinCVaR, Reason: "linear program failed", Err: err}
		}

		added := 0
		realized := est.PortfolioReturns(w)
		for idx, r := range realized {
			if !active[idx] && -r-zeta > cutViolateTol {
				active[idx] = true
				added++
			}
		}
		if added == 0 {
			e.log.Debug().
				Int("rounds", rounds).
				Int("scenarios", len(active)).
				Int("periods", t).
				Msg("CVaR linear program converged")
			return w, rounds, nil
		}
	}

	return nil, rounds, &SolverError{Objective: ObjectiveMinCVaR, Reason: "scenario generation did not converge"}
}

// solveCVaRLP builds the LP in standard form over the given scenarios.
// Columns: v = w - lo (n), upper slacks s (one per capped asset), zeta+ and
// zeta-, tail excesses u (k), surplus q (k). Rows:
//
//	sum(v) = 1 - sum(lo)
//	v_i + s_i = hi_i - lo_i        (capped assets only)
//	u_t + r_t.v + zeta+ - zeta- - q_t = -r_t.lo
//
// An asset whose range covers the whole budget is bounded by the budget row
// and gets no upper row.
func solveCVaRLP(est *Estimate, c *Constraints, scenarios []int) ([]float64, float64, error) {
	n := est.N()
	k := len(scenarios)
	totalT := float64(est.T())

	sumLo := 0.0
	for _, lo := range c.Lower {
		sumLo += lo
	}
	budget := 1 - sumLo

	var capped []int
	for i := 0; i < n; i++ {
		if c.Upper[i]-c.Lower[i] < budget-feasibilityTol {
			capped = append(capped, i)
		}
	}
	nc := len(capped)

	cols := n + nc + 2 + 2*k
	rows := 1 + nc + k
	sOff := n
	zp, zm := n+nc, n+nc+1
	uOff, qOff := n+nc+2, n+nc+2+k

	a := mat.NewDense(rows, cols, nil)
	b := make([]float64, rows)
	cost := make([]float64, cols)

	for i := 0; i < n; i++ {
		a.Set(0, i, 1)
	}
	b[0] = budget

	for r, i := range capped {
		a.Set(1+r, i, 1)
		a.Set(1+r, sOff+r, 1)
		b[1+r] = c.Upper[i] - c.Lower[i]
	}

	for j, idx := range scenarios {
		row := 1 + nc + j
		rhs := 0.0
		for i := 0; i < n; i++ {
			r := est.Returns.At(idx, i)
			a.Set(row, i, r)
			rhs -= r * c.Lower[i]
		}
		a.Set(row, zp, 1)
		a.Set(row, zm, -1)
		a.Set(row, uOff+j, 1)
		a.Set(row, qOff+j, -1)
		b[row] = rhs
	}

	cost[zp] = 1
	cost[zm] = -1
	for j := 0; j < k; j++ {
		cost[uOff+j] = 1 / ((1 - cvarAlpha) * totalT)
	}

	basis := cvarStartBasis(est, c, scenarios, capped, budget)
	x, err := simplexFrom(cost, a, b, basis)
	if err != nil && basis != nil {
		x, err = simplexFrom(cost, a, b, nil)
	}
	if err != nil {
		return nil, 0, err
	}

	w := make([]float64, n)
	for i := 0; i < n; i++ {
		w[i] = c.Lower[i] + math.Max(x[i], 0)
	}
	return c.Project(w), x[zp] - x[zm], nil
}

// cvarStartBasis returns a feasible basis for solveCVaRLP, saving the
// simplex its phase one. The weights fill the budget in index order, so at
// most one asset is strictly between its bounds. That asset's v is basic in
// the budget row, filled assets' v and unfilled assets' slacks cover the
// upper rows, and each scenario row takes u or q depending on the sign of
// its loss with zeta at zero. It returns nil when no such basis exists.
func cvarStartBasis(est *Estimate, c *Constraints, scenarios, capped []int, budget float64) []int {
	n := est.N()
	nc := len(capped)
	k := len(scenarios)

	v := make([]float64, n)
	remaining := budget
	last := 0
	for i := 0; i < n && remaining > 0; i++ {
		add := math.Min(c.Upper[i]-c.Lower[i], remaining)
		if add <= 0 {
			continue
		}
		v[i] = add
		remaining -= add
		last = i
	}
	if remaining > feasibilityTol {
		return nil
	}

	isCapped := make(map[int]int, nc)
	for r, i := range capped {
		isCapped[i] = r
	}

	basis := make([]int, 0, 1+nc+k)
	basis = append(basis, last)
	full := make(map[int]bool)
	for i := 0; i < n; i++ {
		if i == last || v[i] == 0 {
			continue
		}
		if _, ok := isCapped[i]; !ok {
			return nil
		}
		full[i] = true
		basis = append(basis, i)
	}
	for r, i := range capped {
		if !full[i] {
			basis = append(basis, n+r)
		}
	}

	uOff, qOff := n+nc+2, n+nc+2+k
	for j, idx := range scenarios {
		loss := 0.0
		for i := 0; i < n; i++ {
			loss -= est.Returns.At(idx, i) * (c.Lower[i] + v[i])
		}
		if loss >= 0 {
			basis = append(basis, uOff+j)
		} else {
			basis = append(basis, qOff+j)
		}
	}

	if len(basis) != 1+nc+k {
		return nil
	}
	return basis
}

// simplexFrom runs lp.Simplex, turning its panic on a rejected initial basis
// into an error.
func simplexFrom(cost []float64, a *mat.Dense, b []float64, basis []int) (x []float64, err error) {
	defer func() {
		if r := recover(); r != nil {
			x, err = nil, fmt.Errorf("initial basis rejected: %v", r)
		}
	}()
	_, x, err = lp.Simplex(cost, a, b, simplexTol, basis)
	return x, err
}

func negate(v []float64) []float64 {
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = -x
	}
	return out
}
