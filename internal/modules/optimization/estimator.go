package optimization

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/aristath/allocator/internal/modules/prices"
	"github.com/aristath/allocator/pkg/formulas"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// Frequency is the sampling interval of the return matrix.
type Frequency string

const (
	FrequencyDaily   Frequency = "daily"
	FrequencyWeekly  Frequency = "weekly"
	FrequencyMonthly Frequency = "monthly"
)

// ParseFrequency maps a request value to a Frequency. Empty means daily.
func ParseFrequency(s string) (Frequency, error) {
	switch f := Frequency(s); f {
	case "":
		return FrequencyDaily, nil
	case FrequencyDaily, FrequencyWeekly, FrequencyMonthly:
		return f, nil
	default:
		return "", fmt.Errorf("unknown frequency %q", s)
	}
}

// PeriodsPerYear returns the annualization factor.
func (f Frequency) PeriodsPerYear() int {
	switch f {
	case FrequencyWeekly:
		return 52
	case FrequencyMonthly:
		return 12
	default:
		return formulas.TradingDaysPerYear
	}
}

const (
	// DefaultMinPeriods is the fewest aligned returns an estimate accepts.
	DefaultMinPeriods = 20
	// DefaultMaxCondition triggers diagonal loading of the covariance.
	DefaultMaxCondition = 1e8
)

// EstimatorOptions tunes BuildEstimate.
type EstimatorOptions struct {
	MinPeriods   int
	Frequency    Frequency
	MaxCondition float64
	// PeriodsPerYear overrides the frequency's factor when positive.
	PeriodsPerYear int
}

// Estimate is the aligned return data every solver works from. It is
// read-only once built.
type Estimate struct {
	Tickers        []string
	Dates          []time.Time // one per return row (the period's closing date)
	Returns        *mat.Dense  // T x n simple returns
	Mu             []float64   // per-period mean returns
	Cov            *mat.SymDense
	PeriodsPerYear int
	Regularized    bool
	Condition      float64
	LastPrices     []float64
}

// N returns the number of assets.
func (e *Estimate) N() int {
	return len(e.Tickers)
}

// T returns the number of return periods.
func (e *Estimate) T() int {
	r, _ := e.Returns.Dims()
	return r
}

// BuildEstimate aligns the series on their common dates within [start, end],
// computes simple returns, mean vector and sample covariance, and loads the
// diagonal when the covariance is singular or ill-conditioned.
func BuildEstimate(series []prices.PriceSeries, start, end time.Time, opts EstimatorOptions) (*Estimate, error) {
	if opts.MinPeriods <= 0 {
		opts.MinPeriods = DefaultMinPeriods
	}
	if opts.MaxCondition <= 0 {
		opts.MaxCondition = DefaultMaxCondition
	}
	if opts.Frequency == "" {
		opts.Frequency = FrequencyDaily
	}
	periodsPerYear := opts.Frequency.PeriodsPerYear()
	if opts.PeriodsPerYear > 0 && opts.Frequency == FrequencyDaily {
		periodsPerYear = opts.PeriodsPerYear
	}

	n := len(series)
	if n == 0 {
		return nil, fmt.Errorf("no price series provided")
	}

	tickers := make([]string, n)
	lookup := make([]map[time.Time]float64, n)
	counts := make(map[time.Time]int)
	ownPeriods := make([]int, n)

	for j, s := range series {
		tickers[j] = s.Ticker
		restricted := s.Normalize().Restrict(start, end)
		ownPeriods[j] = len(resample(pointDates(restricted), opts.Frequency)) - 1

		lookup[j] = make(map[time.Time]float64, restricted.Len())
		for _, p := range restricted.Points {
			lookup[j][p.Date] = p.Price
			counts[p.Date]++
		}
	}

	var common []time.Time
	for d, c := range counts {
		if c == n {
			common = append(common, d)
		}
	}
	sort.Slice(common, func(a, b int) bool { return common[a].Before(common[b]) })
	common = resample(common, opts.Frequency)

	periods := len(common) - 1
	if periods < opts.MinPeriods {
		var short []string
		for j, p := range ownPeriods {
			if p < opts.MinPeriods {
				short = append(short, tickers[j])
			}
		}
		reason := fmt.Sprintf("need at least %d overlapping %s returns, found %d", opts.MinPeriods, opts.Frequency, max(periods, 0))
		if len(short) == 0 {
			short = append(short, tickers...)
			reason += " (histories do not overlap enough)"
		}
		return nil, &InsufficientDataError{Tickers: short, Reason: reason}
	}

	returns := mat.NewDense(periods, n, nil)
	mu := make([]float64, n)
	aligned := make([]float64, len(common))
	for j := 0; j < n; j++ {
		for t, d := range common {
			aligned[t] = lookup[j][d]
		}
		col := formulas.CalculateReturns(aligned)
		returns.SetCol(j, col)
		mu[j] = formulas.Mean(col)
	}

	cov := mat.NewSymDense(n, nil)
	stat.CovarianceMatrix(cov, returns, nil)

	est := &Estimate{
		Tickers:        tickers,
		Dates:          append([]time.Time(nil), common[1:]...),
		Returns:        returns,
		Mu:             mu,
		Cov:            cov,
		PeriodsPerYear: periodsPerYear,
		LastPrices:     make([]float64, n),
	}
	for j := 0; j < n; j++ {
		est.LastPrices[j] = lookup[j][common[periods]]
	}

	est.Condition = conditionNumber(cov)
	if math.IsInf(est.Condition, 0) || math.IsNaN(est.Condition) || est.Condition > opts.MaxCondition {
		regularize(cov)
		est.Regularized = true
		est.Condition = conditionNumber(cov)
	}

	return est, nil
}

func pointDates(s prices.PriceSeries) []time.Time {
	out := make([]time.Time, len(s.Points))
	for i, p := range s.Points {
		out[i] = p.Date
	}
	return out
}

// resample keeps the last date of each ISO week or calendar month. Dates
// must be sorted.
func resample(dates []time.Time, f Frequency) []time.Time {
	if f == FrequencyDaily || len(dates) == 0 {
		return dates
	}

	bucket := func(d time.Time) int {
		if f == FrequencyWeekly {
			y, w := d.ISOWeek()
			return y*100 + w
		}
		return d.Year()*100 + int(d.Month())
	}

	out := make([]time.Time, 0, len(dates)/4+1)
	for i, d := range dates {
		if i+1 < len(dates) && bucket(dates[i+1]) == bucket(d) {
			continue
		}
		out = append(out, d)
	}
	return out
}

func conditionNumber(cov *mat.SymDense) float64 {
	c := mat.Cond(cov, 2)
	if math.IsNaN(c) {
		return math.Inf(1)
	}
	return c
}

// regularize adds eps*I with eps = max(1e-8, 1e-6 * trace/n).
func regularize(cov *mat.SymDense) {
	n := cov.SymmetricDim()
	trace := 0.0
	for i := 0; i < n; i++ {
		trace += cov.At(i, i)
	}
	eps := math.Max(1e-8, 1e-6*trace/float64(n))
	for i := 0; i < n; i++ {
		cov.SetSym(i, i, cov.At(i, i)+eps)
	}
}

// Volatilities returns per-asset periodic standard deviations from Cov.
func (e *Estimate) Volatilities() []float64 {
	out := make([]float64, e.N())
	for i := range out {
		out[i] = math.Sqrt(math.Max(e.Cov.At(i, i), 0))
	}
	return out
}

// Correlation converts Cov to a correlation matrix.
func (e *Estimate) Correlation() *mat.SymDense {
	n := e.N()
	vol := e.Volatilities()
	corr := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			if vol[i] == 0 || vol[j] == 0 {
				if i == j {
					corr.SetSym(i, j, 1)
				}
				continue
			}
			corr.SetSym(i, j, e.Cov.At(i, j)/(vol[i]*vol[j]))
		}
	}
	return corr
}

// Variance returns w'Σw.
func (e *Estimate) Variance(w []float64) float64 {
	v := mat.NewVecDense(len(w), append([]float64(nil), w...))
	return math.Max(mat.Inner(v, e.Cov, v), 0)
}

// PortfolioReturns returns the realized per-period returns of w.
func (e *Estimate) PortfolioReturns(w []float64) []float64 {
	var out mat.VecDense
	out.MulVec(e.Returns, mat.NewVecDense(len(w), append([]float64(nil), w...)))
	return out.RawVector().Data
}

// Subset returns an estimate restricted to the given asset indexes.
func (e *Estimate) Subset(idx []int) *Estimate {
	t := e.T()
	k := len(idx)

	returns := mat.NewDense(t, k, nil)
	cov := mat.NewSymDense(k, nil)
	mu := make([]float64, k)
	tickers := make([]string, k)
	last := make([]float64, k)

	for a, i := range idx {
		tickers[a] = e.Tickers[i]
		mu[a] = e.Mu[i]
		last[a] = e.LastPrices[i]
		for r := 0; r < t; r++ {
			returns.Set(r, a, e.Returns.At(r, i))
		}
		for b := a; b < k; b++ {
			cov.SetSym(a, b, e.Cov.At(i, idx[b]))
		}
	}

	return &Estimate{
		Tickers:        tickers,
		Dates:          e.Dates,
		Returns:        returns,
		Mu:             mu,
		Cov:            cov,
		PeriodsPerYear: e.PeriodsPerYear,
		Regularized:    e.Regularized,
		Condition:      e.Condition,
		LastPrices:     last,
	}
}
