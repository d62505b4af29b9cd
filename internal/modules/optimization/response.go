package optimization

import (
	"math"
	"time"
)

// RiskMetrics carries the secondary metrics of a result. VaR, CVaR and max
// drawdown are percentages.
type RiskMetrics struct {
	SortinoRatio float64 `json:"sortino_ratio" msgpack:"sortino_ratio"`
	VaR95        float64 `json:"var_95" msgpack:"var_95"`
	CVaR95       float64 `json:"cvar_95" msgpack:"cvar_95"`
	MaxDrawdown  float64 `json:"max_drawdown" msgpack:"max_drawdown"`
	CalmarRatio  float64 `json:"calmar_ratio" msgpack:"calmar_ratio"`
}

// ObjectiveResult is one solved objective with weights and returns in
// percent.
type ObjectiveResult struct {
	Objective            Objective          `json:"objective" msgpack:"objective"`
	Weights              map[string]float64 `json:"weights" msgpack:"weights"`
	ExpectedReturn       float64            `json:"expected_return" msgpack:"expected_return"`
	ExpectedVolatility   float64            `json:"expected_volatility" msgpack:"expected_volatility"`
	SharpeRatio          float64            `json:"sharpe_ratio" msgpack:"sharpe_ratio"`
	DiversificationRatio float64            `json:"diversification_ratio" msgpack:"diversification_ratio"`
	Metrics              RiskMetrics        `json:"metrics" msgpack:"metrics"`
	RelaxedConstraints   bool               `json:"relaxed_constraints" msgpack:"relaxed_constraints"`
}

// ObjectiveFailure names an objective that could not be solved.
type ObjectiveFailure struct {
	Objective Objective `json:"objective" msgpack:"objective"`
	Error     string    `json:"error" msgpack:"error"`
	Type      string    `json:"type" msgpack:"type"`
}

// FrontierPointResponse is a frontier or cloud point in percent.
type FrontierPointResponse struct {
	Return      float64            `json:"return" msgpack:"return"`
	Volatility  float64            `json:"volatility" msgpack:"volatility"`
	SharpeRatio float64            `json:"sharpe_ratio" msgpack:"sharpe_ratio"`
	Weights     map[string]float64 `json:"weights,omitempty" msgpack:"weights"`
}

// AllocationResponse is the whole-share purchase plan for a budget.
type AllocationResponse struct {
	Budget   float64            `json:"budget" msgpack:"budget"`
	Shares   map[string]int     `json:"shares" msgpack:"shares"`
	Prices   map[string]float64 `json:"prices" msgpack:"prices"`
	Weights  map[string]float64 `json:"weights" msgpack:"weights"`
	Invested float64            `json:"invested" msgpack:"invested"`
	Leftover float64            `json:"leftover" msgpack:"leftover"`
}

// AssetStatsResponse is AssetStats with returns and volatility in percent.
type AssetStatsResponse struct {
	Ticker            string  `json:"ticker" msgpack:"ticker"`
	Name              string  `json:"name,omitempty" msgpack:"name"`
	Sector            string  `json:"sector,omitempty" msgpack:"sector"`
	Price             float64 `json:"price" msgpack:"price"`
	MeanReturn        float64 `json:"mean_return" msgpack:"mean_return"`
	Volatility        float64 `json:"volatility" msgpack:"volatility"`
	AnnualReturn      float64 `json:"annual_return" msgpack:"annual_return"`
	AnnualVolatility  float64 `json:"annual_volatility" msgpack:"annual_volatility"`
	SharpeRatio       float64 `json:"sharpe_ratio" msgpack:"sharpe_ratio"`
	ProfitPerShare    float64 `json:"profit_per_share" msgpack:"profit_per_share"`
	RiskPerShare      float64 `json:"risk_per_share" msgpack:"risk_per_share"`
	Trend             float64 `json:"trend" msgpack:"trend"`
	RollingVolatility float64 `json:"rolling_volatility" msgpack:"rolling_volatility"`
	Momentum          float64 `json:"momentum" msgpack:"momentum"`
}

// CorrelationResponse is the asset correlation matrix; rows and columns
// follow Tickers.
type CorrelationResponse struct {
	Tickers []string    `json:"tickers" msgpack:"tickers"`
	Matrix  [][]float64 `json:"matrix" msgpack:"matrix"`
}

// HoldingsResponse evaluates the portfolio the caller currently holds.
type HoldingsResponse struct {
	Value                float64            `json:"value" msgpack:"value"`
	Weights              map[string]float64 `json:"weights" msgpack:"weights"`
	ExpectedReturn       float64            `json:"expected_return" msgpack:"expected_return"`
	ExpectedVolatility   float64            `json:"expected_volatility" msgpack:"expected_volatility"`
	SharpeRatio          float64            `json:"sharpe_ratio" msgpack:"sharpe_ratio"`
	DiversificationRatio float64            `json:"diversification_ratio" msgpack:"diversification_ratio"`
	Metrics              RiskMetrics        `json:"metrics" msgpack:"metrics"`
	ProfitPerPeriod      float64            `json:"profit_per_period" msgpack:"profit_per_period"`
	RiskPerPeriod        float64            `json:"risk_per_period" msgpack:"risk_per_period"`
	PaybackPeriods       *float64           `json:"payback_periods,omitempty" msgpack:"payback_periods"`
}

// Period describes the data window an estimate was built from.
type Period struct {
	Start     string    `json:"start" msgpack:"start"`
	End       string    `json:"end" msgpack:"end"`
	Periods   int       `json:"periods" msgpack:"periods"`
	Frequency Frequency `json:"frequency" msgpack:"frequency"`
}

// Response is the result of an optimization request. The top-level weights
// and metrics are those of the best objective.
type Response struct {
	ID                   string                  `json:"id" msgpack:"id"`
	Objective            Objective               `json:"objective" msgpack:"objective"`
	BestObjective        Objective               `json:"best_objective" msgpack:"best_objective"`
	OptimizedWeights     map[string]float64      `json:"optimized_weights" msgpack:"optimized_weights"`
	ExpectedReturn       float64                 `json:"expected_return" msgpack:"expected_return"`
	ExpectedVolatility   float64                 `json:"expected_volatility" msgpack:"expected_volatility"`
	SharpeRatio          float64                 `json:"sharpe_ratio" msgpack:"sharpe_ratio"`
	DiversificationRatio float64                 `json:"diversification_ratio" msgpack:"diversification_ratio"`
	Metrics              RiskMetrics             `json:"metrics" msgpack:"metrics"`
	Results              []ObjectiveResult       `json:"results,omitempty" msgpack:"results"`
	Failures             []ObjectiveFailure      `json:"failures,omitempty" msgpack:"failures"`
	Frontier             []FrontierPointResponse `json:"frontier,omitempty" msgpack:"frontier"`
	Allocation           *AllocationResponse     `json:"allocation,omitempty" msgpack:"allocation"`
	AssetStats           []AssetStatsResponse    `json:"asset_stats,omitempty" msgpack:"asset_stats"`
	Correlation          *CorrelationResponse    `json:"correlation,omitempty" msgpack:"correlation"`
	InputPortfolio       *HoldingsResponse       `json:"input_portfolio,omitempty" msgpack:"input_portfolio"`
	Period               Period                  `json:"period" msgpack:"period"`
	RelaxedConstraints   bool                    `json:"relaxed_constraints" msgpack:"relaxed_constraints"`
	Regularized          bool                    `json:"regularized" msgpack:"regularized"`
	Cached               bool                    `json:"cached" msgpack:"cached"`
	ComputedAt           time.Time               `json:"computed_at" msgpack:"computed_at"`
}

// FrontierResponse is returned by Service.Frontier.
type FrontierResponse struct {
	Tickers  []string                `json:"tickers"`
	Period   Period                  `json:"period"`
	Frontier []FrontierPointResponse `json:"frontier"`
	Cloud    []FrontierPointResponse `json:"cloud,omitempty"`
}

// AnalysisResponse is returned by Service.Analyze.
type AnalysisResponse struct {
	Tickers        []string             `json:"tickers"`
	Period         Period               `json:"period"`
	AssetStats     []AssetStatsResponse `json:"asset_stats"`
	Correlation    CorrelationResponse  `json:"correlation"`
	InputPortfolio *HoldingsResponse    `json:"input_portfolio,omitempty"`
	Regularized    bool                 `json:"regularized"`
}

// ObjectiveOutcome is streamed once per objective as it finishes.
type ObjectiveOutcome struct {
	Objective Objective        `json:"objective"`
	Result    *ObjectiveResult `json:"result,omitempty"`
	Error     string           `json:"error,omitempty"`
	ErrorType string           `json:"error_type,omitempty"`
}

// pct converts a fraction to a percentage. Non-finite values become 0 so
// responses always encode.
func pct(v float64) float64 {
	return finiteOrZero(v * 100)
}

func finiteOrZero(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}

func percentMap(tickers []string, w []float64) map[string]float64 {
	out := make(map[string]float64, len(tickers))
	for i, t := range tickers {
		out[t] = pct(w[i])
	}
	return out
}

func riskMetrics(m Metrics) RiskMetrics {
	return RiskMetrics{
		SortinoRatio: finiteOrZero(m.SortinoRatio),
		VaR95:        pct(m.VaR95),
		CVaR95:       pct(m.CVaR95),
		MaxDrawdown:  pct(m.MaxDrawdown),
		CalmarRatio:  finiteOrZero(m.CalmarRatio),
	}
}

func objectiveResult(r *Result) ObjectiveResult {
	weights := r.WeightMap()
	for t, w := range weights {
		weights[t] = pct(w)
	}
	return ObjectiveResult{
		Objective:            r.Objective,
		Weights:              weights,
		ExpectedReturn:       pct(r.Metrics.ExpectedReturn),
		ExpectedVolatility:   pct(r.Metrics.Volatility),
		SharpeRatio:          finiteOrZero(r.Metrics.SharpeRatio),
		DiversificationRatio: finiteOrZero(r.Metrics.DiversificationRatio),
		Metrics:              riskMetrics(r.Metrics),
		RelaxedConstraints:   r.Relaxed,
	}
}

func frontierPoints(tickers []string, points []FrontierPoint, withWeights bool) []FrontierPointResponse {
	out := make([]FrontierPointResponse, 0, len(points))
	for _, p := range points {
		fp := FrontierPointResponse{
			Return:      pct(p.Return),
			Volatility:  pct(p.Volatility),
			SharpeRatio: finiteOrZero(p.Sharpe),
		}
		if withWeights {
			fp.Weights = percentMap(tickers, p.Weights)
		}
		out = append(out, fp)
	}
	return out
}

func assetStatsResponse(stats []AssetStats, labels map[string]assetLabel) []AssetStatsResponse {
	out := make([]AssetStatsResponse, 0, len(stats))
	for _, s := range stats {
		label := labels[s.Ticker]
		out = append(out, AssetStatsResponse{
			Ticker:            s.Ticker,
			Name:              label.name,
			Sector:            label.sector,
			Price:             s.Price,
			MeanReturn:        pct(s.MeanReturn),
			Volatility:        pct(s.Volatility),
			AnnualReturn:      pct(s.AnnualReturn),
			AnnualVolatility:  pct(s.AnnualVolatility),
			SharpeRatio:       finiteOrZero(s.SharpeRatio),
			ProfitPerShare:    finiteOrZero(s.ProfitPerShare),
			RiskPerShare:      finiteOrZero(s.RiskPerShare),
			Trend:             pct(s.Trend),
			RollingVolatility: pct(s.RollingVolatility),
			Momentum:          finiteOrZero(s.Momentum),
		})
	}
	return out
}

func correlationResponse(est *Estimate) CorrelationResponse {
	m := CorrelationMatrix(est)
	for i := range m {
		for j := range m[i] {
			m[i][j] = finiteOrZero(m[i][j])
		}
	}
	return CorrelationResponse{Tickers: append([]string(nil), est.Tickers...), Matrix: m}
}

func holdingsResponse(h *HoldingsAnalysis) *HoldingsResponse {
	return &HoldingsResponse{
		Value:                h.Value,
		Weights:              percentMap(h.Tickers, h.Weights),
		ExpectedReturn:       pct(h.Metrics.ExpectedReturn),
		ExpectedVolatility:   pct(h.Metrics.Volatility),
		SharpeRatio:          finiteOrZero(h.Metrics.SharpeRatio),
		DiversificationRatio: finiteOrZero(h.Metrics.DiversificationRatio),
		Metrics:              riskMetrics(h.Metrics),
		ProfitPerPeriod:      finiteOrZero(h.ProfitPerPeriod),
		RiskPerPeriod:        finiteOrZero(h.RiskPerPeriod),
		PaybackPeriods:       h.PaybackPeriods,
	}
}

func allocationResponse(a *Allocation, budget float64) *AllocationResponse {
	out := &AllocationResponse{
		Budget:   budget,
		Shares:   make(map[string]int, len(a.Tickers)),
		Prices:   make(map[string]float64, len(a.Tickers)),
		Weights:  percentMap(a.Tickers, a.Weights),
		Invested: a.Invested,
		Leftover: a.Leftover,
	}
	for i, t := range a.Tickers {
		out.Shares[t] = a.Shares[i]
		out.Prices[t] = a.Prices[i]
	}
	return out
}
