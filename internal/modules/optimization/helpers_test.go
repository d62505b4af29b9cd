package optimization

import (
	"fmt"
	"math"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
)

func testEngine() *Engine {
	return NewEngine(zerolog.Nop())
}

// estimateFromColumns builds an estimate from per-asset return columns the
// same way BuildEstimate does after alignment.
func estimateFromColumns(t *testing.T, tickers []string, cols [][]float64, periodsPerYear int) *Estimate {
	t.Helper()
	require.Equal(t, len(tickers), len(cols))

	n := len(cols)
	periods := len(cols[0])
	returns := mat.NewDense(periods, n, nil)
	mu := make([]float64, n)
	for j, col := range cols {
		require.Len(t, col, periods)
		for i, r := range col {
			returns.Set(i, j, r)
		}
		mu[j] = stat.Mean(col, nil)
	}

	cov := mat.NewSymDense(n, nil)
	stat.CovarianceMatrix(cov, returns, nil)

	dates := make([]time.Time, periods)
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := range dates {
		dates[i] = base.AddDate(0, 0, i+1)
	}

	last := make([]float64, n)
	for i := range last {
		last[i] = 100
	}

	return &Estimate{
		Tickers:        tickers,
		Dates:          dates,
		Returns:        returns,
		Mu:             mu,
		Cov:            cov,
		PeriodsPerYear: periodsPerYear,
		Condition:      mat.Cond(cov, 2),
		LastPrices:     last,
	}
}

// hadamardColumns returns returns with exactly the given sample means and
// standard deviations and zero sample correlation. periods must be a
// multiple of 4 and len(mu) at most 3.
func hadamardColumns(mu, sigma []float64, periods int) [][]float64 {
	patterns := [][4]float64{
		{1, 1, -1, -1},
		{1, -1, 1, -1},
		{1, -1, -1, 1},
	}
	scale := math.Sqrt(float64(periods-1) / float64(periods))

	cols := make([][]float64, len(mu))
	for j := range mu {
		cols[j] = make([]float64, periods)
		for i := range cols[j] {
			cols[j][i] = mu[j] + sigma[j]*scale*patterns[j][i%4]
		}
	}
	return cols
}

// factorColumns simulates n assets driven by one common factor plus
// idiosyncratic noise. Correlations are positive.
func factorColumns(n, periods int, seed uint64) [][]float64 {
	src := rand.NewPCG(seed, seed+1)
	normal := distuv.Normal{Mu: 0, Sigma: 1, Src: src}

	drift := []float64{0.0004, 0.0006, 0.0002, 0.0008, 0.0005, 0.0003}
	beta := []float64{0.6, 0.9, 0.4, 1.2, 0.8, 0.5}
	idio := []float64{0.008, 0.012, 0.006, 0.015, 0.01, 0.007}

	cols := make([][]float64, n)
	for j := range cols {
		cols[j] = make([]float64, periods)
	}
	for i := 0; i < periods; i++ {
		f := 0.01 * normal.Rand()
		for j := 0; j < n; j++ {
			cols[j][i] = drift[j%len(drift)] + beta[j%len(beta)]*f + idio[j%len(idio)]*normal.Rand()
		}
	}
	return cols
}

// hedgedColumns simulates n assets on one common factor with alternating
// signs, so every other pair is negatively correlated.
func hedgedColumns(n, periods int, seed uint64) [][]float64 {
	src := rand.NewPCG(seed, seed+1)
	normal := distuv.Normal{Mu: 0, Sigma: 1, Src: src}

	cols := make([][]float64, n)
	for j := range cols {
		cols[j] = make([]float64, periods)
	}
	for i := 0; i < periods; i++ {
		f := 0.01 * normal.Rand()
		for j := 0; j < n; j++ {
			beta := 0.5 + 0.1*float64(j%4)
			if j%2 == 1 {
				beta = -beta
			}
			drift := 0.0002 + 0.0001*float64(j%5)
			cols[j][i] = drift + beta*f + (0.004+0.001*float64(j%3))*normal.Rand()
		}
	}
	return cols
}

func tickerNames(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("T%02d", i)
	}
	return out
}

func factorEstimate(t *testing.T, n int) *Estimate {
	t.Helper()
	tickers := []string{"AAA", "BBB", "CCC", "DDD", "EEE", "FFF"}[:n]
	return estimateFromColumns(t, tickers, factorColumns(n, 250, 7), 252)
}

func sum(w []float64) float64 {
	s := 0.0
	for _, v := range w {
		s += v
	}
	return s
}

// cvarObjective evaluates the Rockafellar-Uryasev objective at its optimal
// zeta, which is one of the scenario losses.
func cvarObjective(est *Estimate, w []float64) float64 {
	losses := negate(est.PortfolioReturns(w))
	scale := 1 / ((1 - cvarAlpha) * float64(len(losses)))

	best := math.Inf(1)
	for _, zeta := range losses {
		v := zeta
		for _, l := range losses {
			if l > zeta {
				v += scale * (l - zeta)
			}
		}
		best = math.Min(best, v)
	}
	return best
}
