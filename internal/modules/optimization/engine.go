package optimization

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

const (
	// DefaultMonteCarloDraws is the number of random portfolios sampled by
	// the monte_carlo objective.
	DefaultMonteCarloDraws = 10000
	// DefaultSeed makes the sampled objectives reproducible.
	DefaultSeed uint64 = 42
)

// Engine solves single objectives over an estimate. It holds no per-request
// state and is safe for concurrent use.
type Engine struct {
	log             zerolog.Logger
	monteCarloDraws int
	seed            uint64
}

// NewEngine creates an optimizer engine.
func NewEngine(log zerolog.Logger) *Engine {
	return &Engine{
		log:             log.With().Str("component", "optimizer_engine").Logger(),
		monteCarloDraws: DefaultMonteCarloDraws,
		seed:            DefaultSeed,
	}
}

// Optimize solves objective over the feasible set c. Infeasible constraint
// sets are rejected before any solver runs. A solution holding more than
// c.MaxAssets positions is re-solved on its largest positions.
func (e *Engine) Optimize(objective Objective, est *Estimate, c *Constraints, rfAnnual float64) (*Result, error) {
	if c.N() != est.N() {
		return nil, fmt.Errorf("constraints cover %d assets, estimate has %d", c.N(), est.N())
	}
	if err := c.CheckFeasible(objective); err != nil {
		return nil, err
	}

	started := time.Now()

	w, iterations, err := e.solve(objective, est, c, rfAnnual)
	if err != nil {
		return nil, err
	}

	if c.MaxAssets > 0 && countNonZero(w) > c.MaxAssets {
		e.log.Debug().
			Str("objective", string(objective)).
			Int("positions", countNonZero(w)).
			Int("max_assets", c.MaxAssets).
			Msg("Enforcing cardinality")
		var extra int
		w, extra, err = e.enforceCardinality(objective, est, c, rfAnnual, w)
		iterations += extra
		if err != nil {
			return nil, err
		}
	}

	w = cleanWeights(w, c)
	if !c.Contains(w, WeightTolerance) {
		return nil, &SolverError{Objective: objective, Reason: "solution violates the constraints"}
	}

	e.log.Debug().
		Str("objective", string(objective)).
		Int("assets", est.N()).
		Int("iterations", iterations).
		Dur("duration", time.Since(started)).
		Msg("Objective solved")

	return &Result{
		Objective:  objective,
		Tickers:    append([]string(nil), est.Tickers...),
		Weights:    w,
		Metrics:    ComputeMetrics(w, est, rfAnnual),
		Iterations: iterations,
	}, nil
}

func (e *Engine) solve(objective Objective, est *Estimate, c *Constraints, rfAnnual float64) ([]float64, int, error) {
	switch objective {
	case ObjectiveMaxSharpe:
		return e.maxSharpe(est, c, rfAnnual)
	case ObjectiveMinVolatility:
		return e.minVolatility(est, c)
	case ObjectiveRiskParity:
		return e.riskParity(est, c)
	case ObjectiveMinCVaR:
		return e.minCVaR(est, c)
	case ObjectiveEqualWeight:
		return e.equalWeight(est, c, rfAnnual)
	case ObjectiveMonteCarlo:
		return e.monteCarlo(est, c, rfAnnual)
	default:
		return nil, 0, fmt.Errorf("objective %q cannot be solved directly", objective)
	}
}
