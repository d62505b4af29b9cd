package optimization

import (
	"encoding/json"
	"math"
	"strings"
	"time"

	"github.com/aristath/allocator/internal/modules/prices"
)

const (
	// DefaultFrontierPoints is used when a request does not say.
	DefaultFrontierPoints = 20
	maxFrontierPoints     = 200
	defaultLookbackYears  = 3
)

// AssetRequest is one requested asset. Weights are fractions in [0, 1].
type AssetRequest struct {
	Ticker      string   `json:"ticker"`
	MinWeight   *float64 `json:"min_weight,omitempty"`
	MaxWeight   *float64 `json:"max_weight,omitempty"`
	FixedWeight *float64 `json:"fixed_weight,omitempty"`
	// Quantity is the number of shares currently held.
	Quantity *float64 `json:"quantity,omitempty"`
	// Name and Sector are echoed back in the asset statistics.
	Name   string `json:"name,omitempty"`
	Sector string `json:"sector,omitempty"`
}

// Request is an optimization request.
type Request struct {
	Assets           []AssetRequest `json:"assets"`
	StartDate        string         `json:"start_date,omitempty"`
	EndDate          string         `json:"end_date,omitempty"`
	OptimizationGoal string         `json:"optimization_goal,omitempty"`
	// RiskFreeRate is an annual fraction (0.02 = 2%).
	RiskFreeRate  *float64 `json:"risk_free_rate,omitempty"`
	MaxAssets     int      `json:"max_assets,omitempty"`
	ManualWeights bool     `json:"manual_weights,omitempty"`
	// TargetReturn is an annualized fraction, used by min_volatility.
	TargetReturn   *float64 `json:"target_return,omitempty"`
	Frequency      string   `json:"frequency,omitempty"`
	Budget         float64  `json:"budget,omitempty"`
	FrontierPoints *int     `json:"frontier_points,omitempty"`
}

// FrontierRequest asks for the efficient frontier and, optionally, a cloud
// of random feasible portfolios.
type FrontierRequest struct {
	Request
	CloudPoints int `json:"cloud_points,omitempty"`
}

// plan is a validated, normalized request.
type plan struct {
	tickers        []string
	start, end     time.Time
	objective      Objective
	rf             float64
	constraints    *Constraints
	frequency      Frequency
	budget         float64
	frontierPoints int
	quantities     []float64 // nil when no holdings were given
	labels         map[string]assetLabel
	signature      string
}

type assetLabel struct {
	name, sector string
}

// signature is the canonical form of a normalized request used for result
// caching. Field order is fixed by the struct.
type signature struct {
	Tickers        []string  `json:"tickers"`
	Start          string    `json:"start"`
	End            string    `json:"end"`
	Objective      Objective `json:"objective"`
	RiskFreeRate   float64   `json:"rf"`
	Lower          []float64 `json:"lo"`
	Upper          []float64 `json:"hi"`
	MaxAssets      int       `json:"max_assets"`
	TargetReturn   *float64  `json:"target,omitempty"`
	Frequency      Frequency `json:"frequency"`
	Budget         float64   `json:"budget"`
	FrontierPoints int       `json:"frontier_points"`
	Quantities     []float64 `json:"quantities,omitempty"`
	Names          []string  `json:"names,omitempty"`
	Sectors        []string  `json:"sectors,omitempty"`
}

// prepare validates req and resolves every default. Fixed weights are only
// honoured in manual mode, where they become equal lower and upper bounds.
func (s *Service) prepare(req Request) (*plan, error) {
	n := len(req.Assets)
	if n < 2 {
		return nil, validationErrorf("assets", "at least 2 assets are required, got %d", n)
	}

	objective, err := ParseObjective(req.OptimizationGoal)
	if err != nil {
		return nil, validationErrorf("optimization_goal", "%s", err.Error())
	}

	frequency, err := ParseFrequency(strings.ToLower(strings.TrimSpace(req.Frequency)))
	if err != nil {
		return nil, validationErrorf("frequency", "%s", err.Error())
	}

	start, err := prices.ParseDate(strings.TrimSpace(req.StartDate))
	if err != nil {
		return nil, validationErrorf("start_date", "%s", err.Error())
	}
	end, err := prices.ParseDate(strings.TrimSpace(req.EndDate))
	if err != nil {
		return nil, validationErrorf("end_date", "%s", err.Error())
	}
	if end.IsZero() {
		now := s.now().UTC()
		end = time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	}
	if start.IsZero() {
		start = end.AddDate(-defaultLookbackYears, 0, 0)
	}
	if !start.Before(end) {
		return nil, validationErrorf("start_date", "must be before end_date")
	}

	rf := s.cfg.RiskFreeRate
	if req.RiskFreeRate != nil {
		rf = *req.RiskFreeRate
	}
	if math.IsNaN(rf) || rf < 0 || rf >= 1 {
		return nil, validationErrorf("risk_free_rate", "must be an annual fraction in [0, 1), got %v", rf)
	}

	if req.MaxAssets < 0 {
		return nil, validationErrorf("max_assets", "cannot be negative")
	}
	if req.Budget < 0 || math.IsNaN(req.Budget) {
		return nil, validationErrorf("budget", "cannot be negative")
	}

	frontierPoints := s.cfg.FrontierPoints
	if req.FrontierPoints != nil {
		frontierPoints = *req.FrontierPoints
	}
	if frontierPoints < 0 || frontierPoints > maxFrontierPoints {
		return nil, validationErrorf("frontier_points", "must be between 0 and %d", maxFrontierPoints)
	}

	if req.TargetReturn != nil && (math.IsNaN(*req.TargetReturn) || *req.TargetReturn <= -1) {
		return nil, validationErrorf("target_return", "must be an annual fraction above -1")
	}

	c := NewConstraints(n)
	tickers := make([]string, n)
	seen := make(map[string]bool, n)
	var quantities []float64
	var names, sectors []string
	labels := make(map[string]assetLabel)

	for i, a := range req.Assets {
		ticker := strings.ToUpper(strings.TrimSpace(a.Ticker))
		if ticker == "" {
			return nil, validationErrorf("assets", "asset %d has no ticker", i)
		}
		if seen[ticker] {
			return nil, validationErrorf("assets", "duplicate ticker %s", ticker)
		}
		seen[ticker] = true
		tickers[i] = ticker

		name, sector := strings.TrimSpace(a.Name), strings.TrimSpace(a.Sector)
		if name != "" || sector != "" {
			labels[ticker] = assetLabel{name: name, sector: sector}
			if names == nil {
				names = make([]string, n)
				sectors = make([]string, n)
			}
			names[i], sectors[i] = name, sector
		}

		if a.MinWeight != nil {
			if !unitInterval(*a.MinWeight) {
				return nil, validationErrorf("min_weight", "%s: must be in [0, 1]", ticker)
			}
			c.Lower[i] = *a.MinWeight
		}
		if a.MaxWeight != nil {
			if !unitInterval(*a.MaxWeight) {
				return nil, validationErrorf("max_weight", "%s: must be in [0, 1]", ticker)
			}
			c.Upper[i] = *a.MaxWeight
		}
		if c.Lower[i] > c.Upper[i] {
			return nil, validationErrorf("min_weight", "%s: min_weight %.4f exceeds max_weight %.4f", ticker, c.Lower[i], c.Upper[i])
		}

		if a.FixedWeight != nil {
			if !unitInterval(*a.FixedWeight) {
				return nil, validationErrorf("fixed_weight", "%s: must be in [0, 1]", ticker)
			}
			if req.ManualWeights {
				c.Lower[i] = *a.FixedWeight
				c.Upper[i] = *a.FixedWeight
			} else {
				s.log.Debug().Str("ticker", ticker).Msg("Ignoring fixed_weight outside manual mode")
			}
		}

		if a.Quantity != nil {
			if *a.Quantity < 0 || math.IsNaN(*a.Quantity) {
				return nil, validationErrorf("quantity", "%s: cannot be negative", ticker)
			}
			if quantities == nil {
				quantities = make([]float64, n)
			}
			quantities[i] = *a.Quantity
		}
	}

	if req.MaxAssets > 0 && req.MaxAssets < n {
		c.MaxAssets = req.MaxAssets
	}
	if req.TargetReturn != nil {
		t := *req.TargetReturn
		c.TargetReturn = &t
	}

	p := &plan{
		tickers:        tickers,
		start:          start,
		end:            end,
		objective:      objective,
		rf:             rf,
		constraints:    c,
		frequency:      frequency,
		budget:         req.Budget,
		frontierPoints: frontierPoints,
		quantities:     quantities,
		labels:         labels,
	}

	raw, err := json.Marshal(signature{
		Tickers:        tickers,
		Start:          prices.FormatDate(start),
		End:            prices.FormatDate(end),
		Objective:      objective,
		RiskFreeRate:   rf,
		Lower:          c.Lower,
		Upper:          c.Upper,
		MaxAssets:      c.MaxAssets,
		TargetReturn:   c.TargetReturn,
		Frequency:      frequency,
		Budget:         req.Budget,
		FrontierPoints: frontierPoints,
		Quantities:     quantities,
		Names:          names,
		Sectors:        sectors,
	})
	if err != nil {
		return nil, err
	}
	p.signature = string(raw)

	return p, nil
}

func unitInterval(v float64) bool {
	return v >= 0 && v <= 1
}
