package optimization

import (
	"math"

	"github.com/aristath/allocator/pkg/formulas"
)

// VaRConfidence is the confidence level for VaR and CVaR.
const VaRConfidence = 0.95

// ComputeMetrics evaluates w against the estimate. rfAnnual is an annual
// fraction.
func ComputeMetrics(w []float64, est *Estimate, rfAnnual float64) Metrics {
	p := float64(est.PeriodsPerYear)
	realized := est.PortfolioReturns(w)

	variance := est.Variance(w)
	sigmaP := math.Sqrt(variance)

	m := Metrics{
		ExpectedReturn: dot(est.Mu, w) * p,
		Volatility:     sigmaP * math.Sqrt(p),
		SharpeRatio:    formulas.SharpeRatio(realized, rfAnnual, p),
		SortinoRatio:   formulas.SortinoRatio(realized, rfAnnual, p),
		VaR95:          formulas.HistoricalVaR(realized, VaRConfidence),
		CVaR95:         formulas.CalculateCVaR(realized, VaRConfidence),
		MaxDrawdown:    formulas.MaxDrawdown(realized),
		CalmarRatio:    formulas.CalmarRatio(realized, p),
	}

	m.DiversificationRatio = 1
	if sigmaP > 0 {
		m.DiversificationRatio = dot(w, est.Volatilities()) / sigmaP
	}

	return m
}

// modelSharpe is the annualized Sharpe ratio under the mean/covariance model
// used by the solvers.
func modelSharpe(w []float64, est *Estimate, rfPeriodic float64) float64 {
	sigma := math.Sqrt(est.Variance(w))
	if sigma == 0 {
		return math.Inf(-1)
	}
	return (dot(est.Mu, w) - rfPeriodic) / sigma * math.Sqrt(float64(est.PeriodsPerYear))
}
