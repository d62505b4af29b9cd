package optimization

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/aristath/allocator/internal/cache"
	"github.com/aristath/allocator/internal/metrics"
	"github.com/aristath/allocator/internal/modules/prices"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// PriceProvider loads price history. Failed tickers are reported per
// ticker so the caller can name them.
type PriceProvider interface {
	GetMany(ctx context.Context, tickers []string, start, end time.Time) (map[string]prices.PriceSeries, map[string]error)
	LatestPrices(ctx context.Context, tickers []string) (map[string]float64, error)
}

// ServiceConfig holds defaults applied to requests.
type ServiceConfig struct {
	RiskFreeRate   float64 // annual fraction
	PeriodsPerYear int     // daily annualization factor
	MinPeriods     int
	FrontierPoints int
	ResultTTL      time.Duration
}

// Service validates requests, loads prices, runs the engine and caches
// complete responses.
type Service struct {
	engine  *Engine
	prices  PriceProvider
	results *cache.Tiered[Response]
	metrics *metrics.Metrics
	cfg     ServiceConfig
	log     zerolog.Logger
	now     func() time.Time
}

// NewService creates the optimization service. m may be nil.
func NewService(engine *Engine, provider PriceProvider, results *cache.Tiered[Response], m *metrics.Metrics, cfg ServiceConfig, log zerolog.Logger) *Service {
	if cfg.MinPeriods <= 0 {
		cfg.MinPeriods = DefaultMinPeriods
	}
	if cfg.ResultTTL <= 0 {
		cfg.ResultTTL = time.Hour
	}
	return &Service{
		engine:  engine,
		prices:  provider,
		results: results,
		metrics: m,
		cfg:     cfg,
		log:     log.With().Str("component", "optimization_service").Logger(),
		now:     time.Now,
	}
}

// Optimize runs one objective, or all core objectives, for req.
func (s *Service) Optimize(ctx context.Context, req Request) (*Response, error) {
	return s.OptimizeStream(ctx, req, nil)
}

// OptimizeStream is Optimize with emit called once per objective as soon as
// it finishes. emit calls are serialized. A cached response is replayed
// through emit in objective order.
func (s *Service) OptimizeStream(ctx context.Context, req Request, emit func(ObjectiveOutcome)) (*Response, error) {
	p, err := s.prepare(req)
	if err != nil {
		return nil, err
	}
	if err := p.constraints.CheckFeasible(p.objective); err != nil {
		return nil, err
	}

	key := cache.Key("result", p.signature)
	if cached, ok := s.results.Get(ctx, key, s.cfg.ResultTTL); ok {
		s.metrics.RecordCacheLookup("result", true)
		s.log.Debug().Str("objective", string(p.objective)).Msg("Serving cached optimization")
		replay(cached, emit)
		cached.Cached = true
		return &cached, nil
	}
	s.metrics.RecordCacheLookup("result", false)

	gen := s.results.Generation()

	est, err := s.estimate(ctx, p)
	if err != nil {
		return nil, err
	}

	resp, err := s.solve(ctx, p, est, emit)
	if err != nil {
		return nil, err
	}

	s.results.Set(ctx, key, *resp, s.cfg.ResultTTL, gen)
	return resp, nil
}

func replay(resp Response, emit func(ObjectiveOutcome)) {
	if emit == nil {
		return
	}
	for i := range resp.Results {
		r := resp.Results[i]
		emit(ObjectiveOutcome{Objective: r.Objective, Result: &r})
	}
	for _, f := range resp.Failures {
		emit(ObjectiveOutcome{Objective: f.Objective, Error: f.Error, ErrorType: f.Type})
	}
}

// estimate loads every series and builds the return estimate. Provider
// failures surface as InsufficientDataError naming the tickers.
func (s *Service) estimate(ctx context.Context, p *plan) (*Estimate, error) {
	loaded, failed := s.prices.GetMany(ctx, p.tickers, p.start, p.end)

	if len(failed) > 0 {
		tickers := make([]string, 0, len(failed))
		reasons := make([]string, 0, len(failed))
		for ticker := range failed {
			tickers = append(tickers, ticker)
		}
		sort.Strings(tickers)
		for _, ticker := range tickers {
			s.metrics.RecordPriceLoad(false)
			reasons = append(reasons, failed[ticker].Error())
		}
		s.log.Warn().Strs("tickers", tickers).Msg("Price retrieval failed")
		return nil, &InsufficientDataError{
			Tickers: tickers,
			Reason:  "price history unavailable: " + strings.Join(reasons, "; "),
		}
	}

	series := make([]prices.PriceSeries, len(p.tickers))
	for i, ticker := range p.tickers {
		s.metrics.RecordPriceLoad(true)
		series[i] = loaded[ticker]
		series[i].Ticker = ticker
	}

	est, err := BuildEstimate(series, p.start, p.end, EstimatorOptions{
		MinPeriods:     s.cfg.MinPeriods,
		Frequency:      p.frequency,
		PeriodsPerYear: s.cfg.PeriodsPerYear,
	})
	if err != nil {
		return nil, err
	}
	if est.Regularized {
		s.log.Info().
			Strs("tickers", est.Tickers).
			Float64("condition", est.Condition).
			Msg("Covariance regularized")
	}
	return est, nil
}

type objectiveRun struct {
	result *Result
	err    error
}

// solve runs the requested objectives and assembles the response. For an
// "all" request every core objective runs concurrently and failures are
// reported without failing the request.
func (s *Service) solve(ctx context.Context, p *plan, est *Estimate, emit func(ObjectiveOutcome)) (*Response, error) {
	objectives := []Objective{p.objective}
	if p.objective == ObjectiveAll {
		objectives = CoreObjectives
	}

	var emitMu sync.Mutex
	send := func(o ObjectiveOutcome) {
		if emit == nil {
			return
		}
		emitMu.Lock()
		defer emitMu.Unlock()
		emit(o)
	}

	runs := make([]objectiveRun, len(objectives))
	g, _ := errgroup.WithContext(ctx)
	for i, obj := range objectives {
		i, obj := i, obj
		g.Go(func() error {
			res, err := s.runObjective(obj, est, p)
			runs[i] = objectiveRun{result: res, err: err}

			if err != nil {
				send(ObjectiveOutcome{Objective: obj, Error: err.Error(), ErrorType: ErrorType(err)})
			} else {
				or := objectiveResult(res)
				send(ObjectiveOutcome{Objective: obj, Result: &or})
			}
			return nil
		})
	}
	_ = g.Wait()

	var best *Result
	resp := &Response{
		ID:          uuid.NewString(),
		Objective:   p.objective,
		Regularized: est.Regularized,
		ComputedAt:  s.now().UTC(),
		Period:      period(p, est),
	}

	for i, run := range runs {
		if run.err != nil {
			if len(objectives) == 1 {
				return nil, run.err
			}
			s.log.Warn().Err(run.err).Str("objective", string(objectives[i])).Msg("Objective failed")
			resp.Failures = append(resp.Failures, ObjectiveFailure{
				Objective: objectives[i],
				Error:     run.err.Error(),
				Type:      ErrorType(run.err),
			})
			continue
		}
		if p.objective == ObjectiveAll {
			resp.Results = append(resp.Results, objectiveResult(run.result))
		}
		if best == nil || betterThan(run.result.Metrics, best.Metrics) {
			best = run.result
		}
	}

	if best == nil {
		return nil, &SolverError{Objective: ObjectiveAll, Reason: "every objective failed", Err: runs[0].err}
	}

	top := objectiveResult(best)
	resp.BestObjective = best.Objective
	resp.OptimizedWeights = top.Weights
	resp.ExpectedReturn = top.ExpectedReturn
	resp.ExpectedVolatility = top.ExpectedVolatility
	resp.SharpeRatio = top.SharpeRatio
	resp.DiversificationRatio = top.DiversificationRatio
	resp.Metrics = top.Metrics
	resp.RelaxedConstraints = best.Relaxed

	if p.frontierPoints > 0 {
		points, err := s.engine.Frontier(est, p.constraints, p.frontierPoints, p.rf)
		if err != nil {
			s.log.Warn().Err(err).Msg("Efficient frontier unavailable")
		} else {
			resp.Frontier = frontierPoints(est.Tickers, points, false)
		}
	}

	resp.AssetStats = assetStatsResponse(AnalyzeAssets(est, p.rf), p.labels)
	corr := correlationResponse(est)
	resp.Correlation = &corr

	if p.budget > 0 {
		alloc, err := DiscreteAllocation(est.Tickers, best.Weights, s.currentPrices(ctx, est), p.budget)
		if err != nil {
			return nil, err
		}
		resp.Allocation = allocationResponse(alloc, p.budget)
	}

	if p.quantities != nil {
		holdings, err := AnalyzeHoldings(est, p.quantities, p.rf)
		if err != nil {
			return nil, err
		}
		resp.InputPortfolio = holdingsResponse(holdings)
	}

	s.log.Info().
		Str("id", resp.ID).
		Str("objective", string(p.objective)).
		Str("best", string(best.Objective)).
		Int("assets", est.N()).
		Int("periods", est.T()).
		Float64("sharpe", resp.SharpeRatio).
		Msg("Optimization complete")

	return resp, nil
}

// runObjective solves one objective. A solver failure other than an
// infeasible constraint set is retried once without any constraints.
func (s *Service) runObjective(obj Objective, est *Estimate, p *plan) (*Result, error) {
	started := time.Now()

	res, err := s.engine.Optimize(obj, est, p.constraints, p.rf)
	if err == nil {
		s.metrics.RecordOptimization(string(obj), "success", time.Since(started))
		return res, nil
	}

	var serr *SolverError
	if !errors.As(err, &serr) || errors.Is(err, ErrInfeasible) {
		s.metrics.RecordOptimization(string(obj), "error", time.Since(started))
		return nil, err
	}

	s.log.Warn().Err(err).Str("objective", string(obj)).Msg("Solver failed, retrying with relaxed constraints")

	res, relaxedErr := s.engine.Optimize(obj, est, p.constraints.Relaxed(), p.rf)
	if relaxedErr != nil {
		s.metrics.RecordOptimization(string(obj), "error", time.Since(started))
		return nil, err
	}
	res.Relaxed = true
	s.metrics.RecordOptimization(string(obj), "relaxed", time.Since(started))
	return res, nil
}

// currentPrices prefers the provider's latest closes and falls back to the
// last prices in the estimate window.
func (s *Service) currentPrices(ctx context.Context, est *Estimate) []float64 {
	out := append([]float64(nil), est.LastPrices...)

	latest, err := s.prices.LatestPrices(ctx, est.Tickers)
	if err != nil {
		s.log.Warn().Err(err).Msg("Latest prices unavailable, using window close")
		return out
	}
	for i, t := range est.Tickers {
		if p, ok := latest[t]; ok && p > 0 {
			out[i] = p
		}
	}
	return out
}

func period(p *plan, est *Estimate) Period {
	return Period{
		Start:     prices.FormatDate(p.start),
		End:       prices.FormatDate(p.end),
		Periods:   est.T(),
		Frequency: p.frequency,
	}
}

// Frontier computes the efficient frontier (and an optional random cloud)
// for the assets and bounds of req.
func (s *Service) Frontier(ctx context.Context, req FrontierRequest) (*FrontierResponse, error) {
	p, err := s.prepare(req.Request)
	if err != nil {
		return nil, err
	}
	if req.CloudPoints < 0 || req.CloudPoints > 10000 {
		return nil, validationErrorf("cloud_points", "must be between 0 and 10000")
	}
	n := p.frontierPoints
	if n == 0 {
		n = DefaultFrontierPoints
	}

	est, err := s.estimate(ctx, p)
	if err != nil {
		return nil, err
	}

	points, err := s.engine.Frontier(est, p.constraints, n, p.rf)
	if err != nil {
		return nil, err
	}

	out := &FrontierResponse{
		Tickers:  append([]string(nil), est.Tickers...),
		Period:   period(p, est),
		Frontier: frontierPoints(est.Tickers, points, true),
	}
	if req.CloudPoints > 0 {
		out.Cloud = frontierPoints(est.Tickers, s.engine.RandomCloud(est, p.constraints, req.CloudPoints, p.rf), false)
	}
	return out, nil
}

// Analyze returns per-asset statistics, the correlation matrix and, when
// quantities are given, an evaluation of the current holdings.
func (s *Service) Analyze(ctx context.Context, req Request) (*AnalysisResponse, error) {
	p, err := s.prepare(req)
	if err != nil {
		return nil, err
	}

	est, err := s.estimate(ctx, p)
	if err != nil {
		return nil, err
	}

	out := &AnalysisResponse{
		Tickers:     append([]string(nil), est.Tickers...),
		Period:      period(p, est),
		AssetStats:  assetStatsResponse(AnalyzeAssets(est, p.rf), p.labels),
		Correlation: correlationResponse(est),
		Regularized: est.Regularized,
	}
	if p.quantities != nil {
		holdings, err := AnalyzeHoldings(est, p.quantities, p.rf)
		if err != nil {
			return nil, err
		}
		out.InputPortfolio = holdingsResponse(holdings)
	}
	return out, nil
}

// ClearCache empties the result and price caches, including the shared
// tier. Computations already running when it is called do not repopulate
// the cache.
func (s *Service) ClearCache(ctx context.Context) error {
	if err := s.results.Clear(ctx); err != nil {
		return fmt.Errorf("failed to clear shared cache: %w", err)
	}
	s.log.Info().Msg("Caches cleared")
	return nil
}
