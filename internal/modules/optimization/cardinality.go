package optimization

import (
	"sort"
)

// selectPositions picks at most c.MaxAssets assets: every asset with a
// positive lower bound, then the largest weights in w. When the chosen
// assets cannot hold the whole portfolio the remaining slots go to the
// largest upper bounds instead.
func selectPositions(w []float64, c *Constraints) []int {
	var mandatory, optional []int
	for i := range w {
		if c.Lower[i] > 0 {
			mandatory = append(mandatory, i)
		} else if c.Upper[i] > 0 {
			optional = append(optional, i)
		}
	}
	slots := c.MaxAssets - len(mandatory)

	pick := func(less func(a, b int) bool) []int {
		order := append([]int(nil), optional...)
		sort.SliceStable(order, func(a, b int) bool { return less(order[a], order[b]) })
		out := append([]int(nil), mandatory...)
		for k := 0; k < slots && k < len(order); k++ {
			out = append(out, order[k])
		}
		sort.Ints(out)
		return out
	}

	capacity := func(idx []int) float64 {
		s := 0.0
		for _, i := range idx {
			s += c.Upper[i]
		}
		return s
	}

	chosen := pick(func(a, b int) bool { return w[a] > w[b] })
	if capacity(chosen) >= 1-feasibilityTol {
		return chosen
	}
	return pick(func(a, b int) bool {
		if c.Upper[a] != c.Upper[b] {
			return c.Upper[a] > c.Upper[b]
		}
		return w[a] > w[b]
	})
}

// subsetConstraints restricts c to idx without a cardinality cap.
func subsetConstraints(c *Constraints, idx []int) *Constraints {
	out := &Constraints{
		Lower: make([]float64, len(idx)),
		Upper: make([]float64, len(idx)),
	}
	for a, i := range idx {
		out.Lower[a] = c.Lower[i]
		out.Upper[a] = c.Upper[i]
	}
	if c.TargetReturn != nil {
		t := *c.TargetReturn
		out.TargetReturn = &t
	}
	return out
}

// enforceCardinality keeps the selected positions, excludes every other
// asset (upper bound zero) and re-solves the objective on what is left.
func (e *Engine) enforceCardinality(objective Objective, est *Estimate, c *Constraints, rfAnnual float64, w []float64) ([]float64, int, error) {
	idx := selectPositions(w, c)
	sub := subsetConstraints(c, idx)
	if err := sub.CheckFeasible(objective); err != nil {
		return nil, 0, err
	}

	subW, iterations, err := e.solve(objective, est.Subset(idx), sub, rfAnnual)
	if err != nil {
		return nil, iterations, err
	}

	out := make([]float64, len(w))
	for a, i := range idx {
		out[i] = subW[a]
	}
	return out, iterations, nil
}
