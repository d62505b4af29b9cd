package optimization

import (
	"math"

	"github.com/aristath/allocator/pkg/formulas"
	"github.com/markcheno/go-talib"
	"gonum.org/v1/gonum/mat"
)

// analysisWindow is the lookback, in periods, for the trend, rolling
// volatility and momentum indicators.
const analysisWindow = 20

// AssetStats summarizes one asset over the estimate's window.
type AssetStats struct {
	Ticker           string
	Price            float64
	MeanReturn       float64 // per period
	Volatility       float64 // per period
	AnnualReturn     float64
	AnnualVolatility float64
	SharpeRatio      float64
	ProfitPerShare   float64 // expected gain of one share per period
	RiskPerShare     float64 // one standard deviation of one share per period
	// Trend is the last price relative to its simple moving average.
	Trend float64
	// RollingVolatility is the annualized volatility of the latest window.
	RollingVolatility float64
	// Momentum is the rate of change over the latest window, in percent.
	Momentum float64
}

// AnalyzeAssets computes per-asset statistics. The price path of each asset
// is rebuilt backwards from its last price and aligned returns.
func AnalyzeAssets(est *Estimate, rfAnnual float64) []AssetStats {
	p := float64(est.PeriodsPerYear)
	sharpe := assetSharpe(est, rfAnnual)
	vol := est.Volatilities()

	out := make([]AssetStats, est.N())
	for i, ticker := range est.Tickers {
		returns := make([]float64, est.T())
		for t := range returns {
			returns[t] = est.Returns.At(t, i)
		}
		path := pricePath(est.LastPrices[i], returns)

		s := AssetStats{
			Ticker:           ticker,
			Price:            est.LastPrices[i],
			MeanReturn:       est.Mu[i],
			Volatility:       vol[i],
			AnnualReturn:     est.Mu[i] * p,
			AnnualVolatility: vol[i] * math.Sqrt(p),
			ProfitPerShare:   est.Mu[i] * est.LastPrices[i],
			RiskPerShare:     vol[i] * est.LastPrices[i],
		}
		if !math.IsInf(sharpe[i], 0) {
			s.SharpeRatio = sharpe[i]
		}

		window := min(analysisWindow, len(returns))
		if window >= 2 {
			if sma := talib.Sma(path, window); len(sma) > 0 && sma[len(sma)-1] > 0 {
				s.Trend = path[len(path)-1]/sma[len(sma)-1] - 1
			}
			if sd := talib.StdDev(returns, window, 1); len(sd) > 0 {
				s.RollingVolatility = sd[len(sd)-1] * math.Sqrt(p)
			}
			if roc := talib.Roc(path, window); len(roc) > 0 {
				s.Momentum = roc[len(roc)-1]
			}
		}

		out[i] = s
	}
	return out
}

// pricePath rebuilds len(returns)+1 prices ending at last.
func pricePath(last float64, returns []float64) []float64 {
	path := make([]float64, len(returns)+1)
	path[len(returns)] = last
	for t := len(returns) - 1; t >= 0; t-- {
		path[t] = path[t+1] / (1 + returns[t])
	}
	return path
}

// CorrelationMatrix returns the sample correlation of the asset returns as
// rows. Diagonal loading of Cov does not show up here.
func CorrelationMatrix(est *Estimate) [][]float64 {
	n := est.N()
	cols := make([][]float64, n)
	for i := range cols {
		cols[i] = mat.Col(nil, i, est.Returns)
	}

	out := make([][]float64, n)
	for i := range out {
		out[i] = make([]float64, n)
		out[i][i] = 1
	}
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			c := formulas.Correlation(cols[i], cols[j])
			out[i][j], out[j][i] = c, c
		}
	}
	return out
}

// HoldingsAnalysis evaluates a portfolio given as share quantities.
type HoldingsAnalysis struct {
	Tickers    []string
	Quantities []float64
	Value      float64
	Weights    []float64
	Metrics    Metrics
	// ProfitPerPeriod and RiskPerPeriod are in currency per return period.
	ProfitPerPeriod float64
	RiskPerPeriod   float64
	// PaybackPeriods is Value/ProfitPerPeriod; nil when the expected profit
	// is not positive.
	PaybackPeriods *float64
}

// AnalyzeHoldings values quantities at the last prices and computes the
// resulting portfolio's metrics.
func AnalyzeHoldings(est *Estimate, quantities []float64, rfAnnual float64) (*HoldingsAnalysis, error) {
	if len(quantities) != est.N() {
		return nil, validationErrorf("assets", "quantities cover %d assets, estimate has %d", len(quantities), est.N())
	}

	value := 0.0
	for i, q := range quantities {
		if q < 0 {
			return nil, validationErrorf("assets", "quantity for %s cannot be negative", est.Tickers[i])
		}
		value += q * est.LastPrices[i]
	}
	if value <= 0 {
		return nil, validationErrorf("assets", "holdings have no value")
	}

	w := make([]float64, est.N())
	for i, q := range quantities {
		w[i] = q * est.LastPrices[i] / value
	}

	out := &HoldingsAnalysis{
		Tickers:         append([]string(nil), est.Tickers...),
		Quantities:      append([]float64(nil), quantities...),
		Value:           value,
		Weights:         w,
		Metrics:         ComputeMetrics(w, est, rfAnnual),
		ProfitPerPeriod: dot(est.Mu, w) * value,
		RiskPerPeriod:   math.Sqrt(est.Variance(w)) * value,
	}
	if out.ProfitPerPeriod > 0 {
		payback := value / out.ProfitPerPeriod
		out.PaybackPeriods = &payback
	}
	return out, nil
}
