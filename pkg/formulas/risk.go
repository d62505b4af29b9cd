package formulas

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// HistoricalVaR returns the empirical (1-confidence) quantile of returns.
// The value is a return, so losses are negative.
func HistoricalVaR(returns []float64, confidence float64) float64 {
	if len(returns) == 0 {
		return 0
	}

	sorted := make([]float64, len(returns))
	copy(sorted, returns)
	sort.Float64s(sorted)

	return stat.Quantile(1.0-confidence, stat.Empirical, sorted, nil)
}

// CalculateCVaR calculates Conditional Value at Risk at the given confidence.
// It is the mean of all returns at or below the historical VaR, which makes
// CVaR <= VaR for every sample.
func CalculateCVaR(returns []float64, confidence float64) float64 {
	if len(returns) == 0 {
		return 0.0
	}

	if len(returns) == 1 {
		return returns[0]
	}

	sorted := make([]float64, len(returns))
	copy(sorted, returns)
	sort.Float64s(sorted)

	threshold := stat.Quantile(1.0-confidence, stat.Empirical, sorted, nil)

	sum := 0.0
	count := 0
	for _, r := range sorted {
		if r > threshold {
			break
		}
		sum += r
		count++
	}

	return sum / float64(count)
}

// DownsideDeviation is the root mean square of returns below target,
// with returns above target contributing zero.
func DownsideDeviation(returns []float64, target float64) float64 {
	if len(returns) == 0 {
		return 0
	}

	var sumSq float64
	for _, r := range returns {
		if d := r - target; d < 0 {
			sumSq += d * d
		}
	}

	return math.Sqrt(sumSq / float64(len(returns)))
}

// MaxDrawdown returns the largest peak-to-trough decline of the compounded
// return path as a positive fraction (0.25 = 25% drawdown).
func MaxDrawdown(returns []float64) float64 {
	value := 1.0
	peak := 1.0
	maxDD := 0.0

	for _, r := range returns {
		value *= 1 + r
		if value > peak {
			peak = value
		}
		if peak > 0 {
			if dd := (peak - value) / peak; dd > maxDD {
				maxDD = dd
			}
		}
	}

	return maxDD
}

// SharpeRatio annualizes the excess return per unit of volatility:
// (mean*P - rf) / (std*sqrt(P)). rfAnnual is an annual fraction.
func SharpeRatio(returns []float64, rfAnnual, periodsPerYear float64) float64 {
	std := StdDev(returns)
	if std == 0 {
		return 0
	}
	return (Mean(returns)*periodsPerYear - rfAnnual) / (std * math.Sqrt(periodsPerYear))
}

// SortinoRatio is SharpeRatio with downside deviation in the denominator.
func SortinoRatio(returns []float64, rfAnnual, periodsPerYear float64) float64 {
	dd := DownsideDeviation(returns, 0)
	if dd == 0 {
		return 0
	}
	return (Mean(returns)*periodsPerYear - rfAnnual) / (dd * math.Sqrt(periodsPerYear))
}

// CalmarRatio divides the annual return by the absolute max drawdown.
func CalmarRatio(returns []float64, periodsPerYear float64) float64 {
	mdd := MaxDrawdown(returns)
	if mdd == 0 {
		return 0
	}
	return CalculateAnnualReturn(returns, periodsPerYear) / mdd
}
