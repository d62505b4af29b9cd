package optimization

import (
	"math"
	"sort"
)

const (
	// WeightTolerance is the accepted deviation of sum(w) from 1.
	WeightTolerance = 1e-4
	feasibilityTol  = 1e-9
)

// Constraints is the feasible set {w : sum(w) = 1, Lower <= w <= Upper},
// optionally capped at MaxAssets nonzero weights. Fixed weights are
// expressed as Lower == Upper.
type Constraints struct {
	Lower     []float64
	Upper     []float64
	MaxAssets int // 0 = no cap
	// TargetReturn is an annualized lower bound on mu.w (min_volatility).
	TargetReturn *float64
}

// NewConstraints returns long-only [0, 1] bounds for n assets.
func NewConstraints(n int) *Constraints {
	c := &Constraints{Lower: make([]float64, n), Upper: make([]float64, n)}
	for i := range c.Upper {
		c.Upper[i] = 1
	}
	return c
}

// N returns the number of assets.
func (c *Constraints) N() int {
	return len(c.Lower)
}

// Clone returns a deep copy.
func (c *Constraints) Clone() *Constraints {
	out := &Constraints{
		Lower:     append([]float64(nil), c.Lower...),
		Upper:     append([]float64(nil), c.Upper...),
		MaxAssets: c.MaxAssets,
	}
	if c.TargetReturn != nil {
		t := *c.TargetReturn
		out.TargetReturn = &t
	}
	return out
}

// Relaxed drops every per-asset bound, fixed weight, cardinality cap and
// return target.
func (c *Constraints) Relaxed() *Constraints {
	return NewConstraints(c.N())
}

// CheckFeasible rejects constraint sets with no feasible portfolio.
func (c *Constraints) CheckFeasible(objective Objective) error {
	var sumLo, sumHi float64
	mandatory := 0
	for i := range c.Lower {
		sumLo += c.Lower[i]
		sumHi += c.Upper[i]
		if c.Lower[i] > 0 {
			mandatory++
		}
	}

	if sumLo > 1+feasibilityTol {
		return infeasible(objective, "minimum weights sum to %.4f, above 1", sumLo)
	}
	if sumHi < 1-feasibilityTol {
		return infeasible(objective, "maximum weights sum to %.4f, below 1", sumHi)
	}

	if c.MaxAssets > 0 && c.MaxAssets < c.N() {
		if c.MaxAssets < mandatory {
			return infeasible(objective, "max_assets %d is below the %d assets with a positive minimum weight", c.MaxAssets, mandatory)
		}
		if reach := c.cappedCapacity(); reach < 1-feasibilityTol {
			return infeasible(objective, "%d assets can hold at most %.4f of the portfolio", c.MaxAssets, reach)
		}
	}

	return nil
}

// cappedCapacity is the largest total weight MaxAssets assets can hold:
// every mandatory asset plus the largest remaining upper bounds.
func (c *Constraints) cappedCapacity() float64 {
	var total float64
	var optional []float64
	slots := c.MaxAssets
	for i := range c.Lower {
		if c.Lower[i] > 0 {
			total += c.Upper[i]
			slots--
		} else {
			optional = append(optional, c.Upper[i])
		}
	}
	sort.Sort(sort.Reverse(sort.Float64Slice(optional)))
	for i := 0; i < slots && i < len(optional); i++ {
		total += optional[i]
	}
	return total
}

// Contains reports whether w satisfies the bounds and sums to 1 within tol.
func (c *Constraints) Contains(w []float64, tol float64) bool {
	if len(w) != c.N() {
		return false
	}
	sum := 0.0
	for i, v := range w {
		if v < c.Lower[i]-tol || v > c.Upper[i]+tol {
			return false
		}
		sum += v
	}
	return math.Abs(sum-1) <= tol
}

// Project returns the Euclidean projection of x onto the feasible set
// (ignoring MaxAssets). The shift tau with sum(clip(x - tau)) = 1 is found
// by bisection.
func (c *Constraints) Project(x []float64) []float64 {
	n := c.N()
	lo, hi := c.Lower, c.Upper

	y := make([]float64, n)
	for i, v := range x {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			v = 0
		}
		y[i] = v
	}

	total := func(tau float64) float64 {
		s := 0.0
		for i := range y {
			s += clamp(y[i]-tau, lo[i], hi[i])
		}
		return s
	}

	tLo, tHi := math.Inf(1), math.Inf(-1)
	for i := range y {
		tLo = math.Min(tLo, y[i]-hi[i])
		tHi = math.Max(tHi, y[i]-lo[i])
	}

	for iter := 0; iter < 200 && tHi-tLo > 1e-15; iter++ {
		mid := 0.5 * (tLo + tHi)
		if total(mid) > 1 {
			tLo = mid
		} else {
			tHi = mid
		}
	}

	tau := 0.5 * (tLo + tHi)
	w := make([]float64, n)
	sum := 0.0
	for i := range y {
		w[i] = clamp(y[i]-tau, lo[i], hi[i])
		sum += w[i]
	}

	// Push the bisection residual into coordinates with room
	residual := 1 - sum
	for i := 0; i < n && math.Abs(residual) > 1e-15; i++ {
		if residual > 0 {
			step := math.Min(residual, hi[i]-w[i])
			w[i] += step
			residual -= step
		} else {
			step := math.Min(-residual, w[i]-lo[i])
			w[i] -= step
			residual += step
		}
	}

	return w
}

// Start returns a feasible point close to equal weighting.
func (c *Constraints) Start() []float64 {
	n := c.N()
	x := make([]float64, n)
	for i := range x {
		x[i] = 1 / float64(n)
	}
	return c.Project(x)
}

// MaxReturn solves max mu.w over the feasible set: start at the lower bounds
// and fill the highest-return assets first.
func (c *Constraints) MaxReturn(mu []float64) ([]float64, float64) {
	return c.greedyFill(mu, true)
}

// MinReturn solves min mu.w over the feasible set.
func (c *Constraints) MinReturn(mu []float64) ([]float64, float64) {
	return c.greedyFill(mu, false)
}

func (c *Constraints) greedyFill(mu []float64, descending bool) ([]float64, float64) {
	n := c.N()
	w := append([]float64(nil), c.Lower...)
	remaining := 1.0
	for _, v := range w {
		remaining -= v
	}

	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		if descending {
			return mu[order[a]] > mu[order[b]]
		}
		return mu[order[a]] < mu[order[b]]
	})

	for _, i := range order {
		if remaining <= 0 {
			break
		}
		add := math.Min(c.Upper[i]-w[i], remaining)
		w[i] += add
		remaining -= add
	}

	return w, dot(mu, w)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func dot(a, b []float64) float64 {
	s := 0.0
	for i := range a {
		s += a[i] * b[i]
	}
	return s
}

// countNonZero counts weights above the cleaning threshold.
func countNonZero(w []float64) int {
	n := 0
	for _, v := range w {
		if v > cleanThreshold {
			n++
		}
	}
	return n
}
