// Package formulas holds the statistical building blocks shared by the
// estimator and the risk metrics calculator.
package formulas

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// TradingDaysPerYear is the annualization factor for daily returns.
const TradingDaysPerYear = 252

// Mean calculates the arithmetic mean of a slice of float64 values
func Mean(data []float64) float64 {
	if len(data) == 0 {
		return 0
	}
	return stat.Mean(data, nil)
}

// StdDev calculates the sample standard deviation (n-1 denominator)
func StdDev(data []float64) float64 {
	if len(data) < 2 {
		return 0
	}
	return stat.StdDev(data, nil)
}

// CalculateReturns converts prices to simple returns.
// Returns[i] = Price[i+1]/Price[i] - 1
func CalculateReturns(prices []float64) []float64 {
	if len(prices) < 2 {
		return []float64{}
	}

	returns := make([]float64, len(prices)-1)
	for i := 1; i < len(prices); i++ {
		if prices[i-1] != 0 {
			returns[i-1] = prices[i]/prices[i-1] - 1
		}
	}

	return returns
}

// Correlation calculates the Pearson correlation coefficient between two datasets
func Correlation(x, y []float64) float64 {
	if len(x) < 2 || len(x) != len(y) {
		return 0
	}
	c := stat.Correlation(x, y, nil)
	if math.IsNaN(c) {
		return 0
	}
	return c
}

// CalculateAnnualReturn compounds periodic returns and annualizes them:
// ((1+r1)*(1+r2)*...*(1+rN))^(P/N) - 1
//
// Fewer than 3 periods return the plain cumulative return to avoid extreme
// annualization.
func CalculateAnnualReturn(returns []float64, periodsPerYear float64) float64 {
	if len(returns) == 0 {
		return 0.0
	}

	cumulative := 1.0
	for _, r := range returns {
		cumulative *= 1 + r
	}

	numPeriods := float64(len(returns))
	if numPeriods < 3 {
		return cumulative - 1
	}
	if cumulative <= 0 {
		return -1
	}

	years := numPeriods / periodsPerYear
	return math.Pow(cumulative, 1.0/years) - 1
}

// PeriodicRate converts an annual rate into a per-period rate by simple division.
func PeriodicRate(annual, periodsPerYear float64) float64 {
	if periodsPerYear <= 0 {
		return annual
	}
	return annual / periodsPerYear
}
