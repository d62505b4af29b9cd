package optimization

import (
	"fmt"
	"strings"
)

// Objective selects the optimization problem.
type Objective string

const (
	ObjectiveMaxSharpe     Objective = "max_sharpe"
	ObjectiveMinVolatility Objective = "min_volatility"
	ObjectiveRiskParity    Objective = "risk_parity"
	ObjectiveMinCVaR       Objective = "min_cvar"
	ObjectiveEqualWeight   Objective = "equal_weight"
	ObjectiveMonteCarlo    Objective = "monte_carlo"
	ObjectiveAll           Objective = "all"
)

// CoreObjectives are the objectives run for an "all" request.
var CoreObjectives = []Objective{
	ObjectiveMaxSharpe,
	ObjectiveMinVolatility,
	ObjectiveRiskParity,
	ObjectiveMinCVaR,
}

// ParseObjective maps a request value onto an Objective. Empty means max_sharpe.
func ParseObjective(s string) (Objective, error) {
	switch o := Objective(strings.ToLower(strings.TrimSpace(s))); o {
	case "":
		return ObjectiveMaxSharpe, nil
	case ObjectiveMaxSharpe, ObjectiveMinVolatility, ObjectiveRiskParity, ObjectiveMinCVaR,
		ObjectiveEqualWeight, ObjectiveMonteCarlo, ObjectiveAll:
		return o, nil
	default:
		return "", fmt.Errorf("unknown optimization goal %q", s)
	}
}

// Metrics describes one portfolio. Returns and volatility are annualized
// fractions; VaR95 and CVaR95 are periodic returns (losses are negative).
type Metrics struct {
	ExpectedReturn       float64
	Volatility           float64
	SharpeRatio          float64
	SortinoRatio         float64
	VaR95                float64
	CVaR95               float64
	DiversificationRatio float64
	MaxDrawdown          float64
	CalmarRatio          float64
}

// Result is one solved portfolio. Weights follow Tickers.
type Result struct {
	Objective  Objective
	Tickers    []string
	Weights    []float64
	Metrics    Metrics
	Relaxed    bool
	Iterations int
}

// WeightMap returns ticker -> weight.
func (r *Result) WeightMap() map[string]float64 {
	out := make(map[string]float64, len(r.Tickers))
	for i, t := range r.Tickers {
		out[t] = r.Weights[i]
	}
	return out
}

// betterThan orders results by Sharpe, ties within 1e-9 going to the lower
// volatility.
func betterThan(a, b Metrics) bool {
	if d := a.SharpeRatio - b.SharpeRatio; d > 1e-9 {
		return true
	} else if d < -1e-9 {
		return false
	}
	return a.Volatility < b.Volatility
}
