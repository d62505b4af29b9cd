package optimization

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aristath/allocator/internal/cache"
	"github.com/aristath/allocator/internal/modules/prices"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fakeTickers = []string{"AAA", "BBB", "CCC", "DDD", "EEE", "FFF"}

// fakeProvider serves deterministic daily prices for every calendar day of
// the requested range. Each known ticker maps to a column of one
// factor simulation, so assets are positively correlated.
type fakeProvider struct {
	mu     sync.Mutex
	calls  atomic.Int32
	fail   map[string]error
	latest map[string]float64
}

func (f *fakeProvider) GetMany(ctx context.Context, tickers []string, start, end time.Time) (map[string]prices.PriceSeries, map[string]error) {
	f.calls.Add(1)

	days := int(end.Sub(start).Hours()/24) + 1
	cols := factorColumns(len(fakeTickers), days, 99)

	loaded := make(map[string]prices.PriceSeries)
	failed := make(map[string]error)
	for _, ticker := range tickers {
		if err := f.fail[ticker]; err != nil {
			failed[ticker] = err
			continue
		}
		col := -1
		for j, known := range fakeTickers {
			if known == ticker {
				col = j
			}
		}
		if col < 0 {
			failed[ticker] = errors.New("unknown ticker")
			continue
		}

		s := prices.PriceSeries{Ticker: ticker}
		price := 50.0 + 10*float64(col)
		for d := 0; d < days; d++ {
			if d > 0 {
				price *= 1 + cols[col][d]
			}
			s.Points = append(s.Points, prices.Point{Date: start.AddDate(0, 0, d), Price: price})
		}
		loaded[ticker] = s
	}
	return loaded, failed
}

func (f *fakeProvider) LatestPrices(ctx context.Context, tickers []string) (map[string]float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.latest == nil {
		return nil, errors.New("quotes unavailable")
	}
	return f.latest, nil
}

func newTestService(provider PriceProvider) *Service {
	results := cache.NewTiered[Response](cache.New(16), nil, "result", zerolog.Nop())
	return NewService(testEngine(), provider, results, nil, ServiceConfig{
		RiskFreeRate:   0.02,
		PeriodsPerYear: 252,
		MinPeriods:     20,
	}, zerolog.Nop())
}

func assets(tickers ...string) []AssetRequest {
	out := make([]AssetRequest, len(tickers))
	for i, t := range tickers {
		out[i] = AssetRequest{Ticker: t}
	}
	return out
}

func ptr[T any](v T) *T {
	return &v
}

func baseRequest() Request {
	return Request{
		Assets:    assets("AAA", "BBB", "CCC"),
		StartDate: "2024-01-01",
		EndDate:   "2024-06-30",
	}
}

func TestService_ValidationErrors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(r *Request)
		field  string
	}{
		{"single asset", func(r *Request) { r.Assets = assets("AAA") }, "assets"},
		{"unknown goal", func(r *Request) { r.OptimizationGoal = "max_alpha" }, "optimization_goal"},
		{"unknown frequency", func(r *Request) { r.Frequency = "hourly" }, "frequency"},
		{"bad date", func(r *Request) { r.StartDate = "01/01/2024" }, "start_date"},
		{"start after end", func(r *Request) { r.StartDate = "2024-07-01" }, "start_date"},
		{"percentage risk-free rate", func(r *Request) { r.RiskFreeRate = ptr(2.0) }, "risk_free_rate"},
		{"negative max assets", func(r *Request) { r.MaxAssets = -1 }, "max_assets"},
		{"negative budget", func(r *Request) { r.Budget = -5 }, "budget"},
		{"too many frontier points", func(r *Request) { r.FrontierPoints = ptr(500) }, "frontier_points"},
		{"target below -100%", func(r *Request) { r.TargetReturn = ptr(-1.5) }, "target_return"},
		{"empty ticker", func(r *Request) { r.Assets[1].Ticker = " " }, "assets"},
		{"duplicate ticker", func(r *Request) { r.Assets[1].Ticker = "aaa" }, "assets"},
		{"min weight above 1", func(r *Request) { r.Assets[0].MinWeight = ptr(1.5) }, "min_weight"},
		{"min above max", func(r *Request) {
			r.Assets[0].MinWeight = ptr(0.5)
			r.Assets[0].MaxWeight = ptr(0.2)
		}, "min_weight"},
		{"negative quantity", func(r *Request) { r.Assets[0].Quantity = ptr(-3.0) }, "quantity"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			provider := &fakeProvider{}
			svc := newTestService(provider)

			req := baseRequest()
			tt.mutate(&req)

			_, err := svc.Optimize(context.Background(), req)
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.field, verr.Field)
			assert.Equal(t, int32(0), provider.calls.Load())
		})
	}
}

func TestService_InfeasibleBoundsSkipPriceLoading(t *testing.T) {
	provider := &fakeProvider{}
	svc := newTestService(provider)

	req := baseRequest()
	req.Assets[0].MinWeight = ptr(0.6)
	req.Assets[1].MinWeight = ptr(0.6)

	_, err := svc.Optimize(context.Background(), req)
	require.Error(t, err)
	assert.Equal(t, "infeasible", ErrorType(err))
	assert.Equal(t, int32(0), provider.calls.Load())
}

func TestService_OptimizeMaxSharpe(t *testing.T) {
	svc := newTestService(&fakeProvider{})

	resp, err := svc.Optimize(context.Background(), baseRequest())
	require.NoError(t, err)

	assert.Equal(t, ObjectiveMaxSharpe, resp.Objective)
	assert.Equal(t, ObjectiveMaxSharpe, resp.BestObjective)
	assert.NotEmpty(t, resp.ID)
	assert.False(t, resp.Cached)
	assert.Empty(t, resp.Results)

	total := 0.0
	for ticker, w := range resp.OptimizedWeights {
		assert.Contains(t, []string{"AAA", "BBB", "CCC"}, ticker)
		assert.GreaterOrEqual(t, w, 0.0)
		total += w
	}
	assert.InDelta(t, 100, total, 1e-4)

	assert.Equal(t, "2024-01-01", resp.Period.Start)
	assert.Equal(t, "2024-06-30", resp.Period.End)
	assert.Equal(t, 181, resp.Period.Periods)
	assert.Equal(t, FrequencyDaily, resp.Period.Frequency)

	assert.Len(t, resp.AssetStats, 3)
	require.NotNil(t, resp.Correlation)
	assert.Len(t, resp.Correlation.Matrix, 3)
	assert.Nil(t, resp.Allocation)
	assert.Nil(t, resp.InputPortfolio)
	assert.Empty(t, resp.Frontier)
}

func TestService_HonoursBoundsAndFixedWeights(t *testing.T) {
	svc := newTestService(&fakeProvider{})

	req := baseRequest()
	req.OptimizationGoal = "min_volatility"
	req.Assets[0].MaxWeight = ptr(0.2)
	req.Assets[2].FixedWeight = ptr(0.5)
	req.ManualWeights = true

	resp, err := svc.Optimize(context.Background(), req)
	require.NoError(t, err)
	assert.LessOrEqual(t, resp.OptimizedWeights["AAA"], 20+1e-4)
	assert.InDelta(t, 50, resp.OptimizedWeights["CCC"], 1e-4)
}

func TestService_CachesResults(t *testing.T) {
	provider := &fakeProvider{}
	svc := newTestService(provider)
	ctx := context.Background()

	first, err := svc.Optimize(ctx, baseRequest())
	require.NoError(t, err)
	require.Equal(t, int32(1), provider.calls.Load())

	// Ticker case and whitespace do not change the request
	req := baseRequest()
	req.Assets[0].Ticker = " aaa"
	second, err := svc.Optimize(ctx, req)
	require.NoError(t, err)
	assert.True(t, second.Cached)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, int32(1), provider.calls.Load())

	other := baseRequest()
	other.RiskFreeRate = ptr(0.03)
	_, err = svc.Optimize(ctx, other)
	require.NoError(t, err)
	assert.Equal(t, int32(2), provider.calls.Load())

	require.NoError(t, svc.ClearCache(ctx))

	third, err := svc.Optimize(ctx, baseRequest())
	require.NoError(t, err)
	assert.False(t, third.Cached)
	assert.NotEqual(t, first.ID, third.ID)
	assert.Equal(t, int32(3), provider.calls.Load())
}

func TestService_AllObjectivesStream(t *testing.T) {
	provider := &fakeProvider{}
	svc := newTestService(provider)
	ctx := context.Background()

	req := Request{
		Assets:           assets("AAA", "BBB", "CCC", "DDD"),
		StartDate:        "2023-01-01",
		EndDate:          "2024-12-31",
		Frequency:        "weekly",
		OptimizationGoal: "all",
	}

	var outcomes []ObjectiveOutcome
	resp, err := svc.OptimizeStream(ctx, req, func(o ObjectiveOutcome) {
		outcomes = append(outcomes, o)
	})
	require.NoError(t, err)

	require.Len(t, outcomes, len(CoreObjectives))
	streamed := make(map[Objective]bool)
	for _, o := range outcomes {
		streamed[o.Objective] = true
	}
	for _, obj := range CoreObjectives {
		assert.True(t, streamed[obj], string(obj))
	}

	assert.Equal(t, ObjectiveAll, resp.Objective)
	assert.Equal(t, len(CoreObjectives), len(resp.Results)+len(resp.Failures))
	assert.Contains(t, CoreObjectives, resp.BestObjective)
	assert.Equal(t, FrequencyWeekly, resp.Period.Frequency)

	for _, r := range resp.Results {
		assert.LessOrEqual(t, r.SharpeRatio, resp.SharpeRatio+1e-9)
	}

	// A cached replay streams the same objectives
	var replayed int
	cached, err := svc.OptimizeStream(ctx, req, func(ObjectiveOutcome) { replayed++ })
	require.NoError(t, err)
	assert.True(t, cached.Cached)
	assert.Equal(t, len(CoreObjectives), replayed)
	assert.Equal(t, int32(1), provider.calls.Load())
}

func TestService_ProviderFailureNamesTicker(t *testing.T) {
	provider := &fakeProvider{fail: map[string]error{"BBB": errors.New("not found")}}
	svc := newTestService(provider)

	_, err := svc.Optimize(context.Background(), baseRequest())
	var derr *InsufficientDataError
	require.ErrorAs(t, err, &derr)
	assert.Equal(t, []string{"BBB"}, derr.Tickers)
	assert.Contains(t, derr.Error(), "not found")
}

func TestService_ShortHistoryIsInsufficient(t *testing.T) {
	svc := newTestService(&fakeProvider{})

	req := baseRequest()
	req.StartDate = "2024-06-20"

	_, err := svc.Optimize(context.Background(), req)
	assert.Equal(t, "insufficient_data", ErrorType(err))
}

func TestService_BudgetAllocation(t *testing.T) {
	provider := &fakeProvider{latest: map[string]float64{"AAA": 50, "BBB": 80, "CCC": 120}}
	svc := newTestService(provider)

	req := baseRequest()
	req.OptimizationGoal = "equal_weight"
	req.Budget = 10000

	resp, err := svc.Optimize(context.Background(), req)
	require.NoError(t, err)
	require.NotNil(t, resp.Allocation)

	alloc := resp.Allocation
	assert.Equal(t, 10000.0, alloc.Budget)
	assert.Equal(t, 120.0, alloc.Prices["CCC"])
	assert.InDelta(t, 10000, alloc.Invested+alloc.Leftover, 1e-6)
	assert.Less(t, alloc.Leftover, 50.0)

	spent := 0.0
	for ticker, n := range alloc.Shares {
		spent += float64(n) * alloc.Prices[ticker]
	}
	assert.InDelta(t, alloc.Invested, spent, 1e-6)
}

func TestService_BudgetFallsBackToWindowClose(t *testing.T) {
	svc := newTestService(&fakeProvider{})

	req := baseRequest()
	req.OptimizationGoal = "equal_weight"
	req.Budget = 5000

	resp, err := svc.Optimize(context.Background(), req)
	require.NoError(t, err)
	require.NotNil(t, resp.Allocation)

	for i, s := range resp.AssetStats {
		assert.Equal(t, s.Price, resp.Allocation.Prices[s.Ticker], i)
	}
}

func TestService_InputPortfolio(t *testing.T) {
	svc := newTestService(&fakeProvider{})

	req := baseRequest()
	req.Assets[0].Quantity = ptr(10.0)
	req.Assets[1].Quantity = ptr(5.0)

	resp, err := svc.Optimize(context.Background(), req)
	require.NoError(t, err)
	require.NotNil(t, resp.InputPortfolio)

	holdings := resp.InputPortfolio
	assert.Greater(t, holdings.Value, 0.0)
	assert.Equal(t, 0.0, holdings.Weights["CCC"])
	assert.InDelta(t, 100, holdings.Weights["AAA"]+holdings.Weights["BBB"], 1e-9)
}

func TestService_FrontierPoints(t *testing.T) {
	svc := newTestService(&fakeProvider{})

	req := baseRequest()
	req.FrontierPoints = ptr(6)

	resp, err := svc.Optimize(context.Background(), req)
	require.NoError(t, err)
	require.NotEmpty(t, resp.Frontier)
	assert.LessOrEqual(t, len(resp.Frontier), 6)
	for i := 1; i < len(resp.Frontier); i++ {
		assert.GreaterOrEqual(t, resp.Frontier[i].Volatility, resp.Frontier[i-1].Volatility-1e-9)
	}
}

func TestService_Frontier(t *testing.T) {
	svc := newTestService(&fakeProvider{})

	fr := FrontierRequest{Request: baseRequest(), CloudPoints: 25}
	fr.FrontierPoints = ptr(8)

	resp, err := svc.Frontier(context.Background(), fr)
	require.NoError(t, err)

	assert.Equal(t, []string{"AAA", "BBB", "CCC"}, resp.Tickers)
	require.NotEmpty(t, resp.Frontier)
	assert.LessOrEqual(t, len(resp.Frontier), 8)
	assert.Len(t, resp.Frontier[0].Weights, 3)
	assert.Len(t, resp.Cloud, 25)
	assert.Nil(t, resp.Cloud[0].Weights)

	fr.CloudPoints = 20000
	_, err = svc.Frontier(context.Background(), fr)
	assert.Equal(t, "validation_error", ErrorType(err))
}

func TestService_AnalyzeDefaultsWindow(t *testing.T) {
	svc := newTestService(&fakeProvider{})
	svc.now = func() time.Time { return time.Date(2025, 3, 14, 15, 30, 0, 0, time.UTC) }

	req := Request{Assets: assets("AAA", "BBB")}
	req.Assets[0].Quantity = ptr(4.0)

	resp, err := svc.Analyze(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, "2022-03-14", resp.Period.Start)
	assert.Equal(t, "2025-03-14", resp.Period.End)
	assert.Len(t, resp.AssetStats, 2)
	assert.Len(t, resp.Correlation.Matrix, 2)
	require.NotNil(t, resp.InputPortfolio)
	assert.InDelta(t, 100, resp.InputPortfolio.Weights["AAA"], 1e-9)
}

func TestService_EchoesAssetLabels(t *testing.T) {
	provider := &fakeProvider{}
	svc := newTestService(provider)
	ctx := context.Background()

	req := baseRequest()
	req.Assets[0].Name = " Alpha Corp "
	req.Assets[0].Sector = "Technology"
	req.Assets[2].Sector = "Utilities"

	resp, err := svc.Optimize(ctx, req)
	require.NoError(t, err)
	require.Len(t, resp.AssetStats, 3)
	assert.Equal(t, "Alpha Corp", resp.AssetStats[0].Name)
	assert.Equal(t, "Technology", resp.AssetStats[0].Sector)
	assert.Empty(t, resp.AssetStats[1].Name)
	assert.Empty(t, resp.AssetStats[1].Sector)
	assert.Equal(t, "Utilities", resp.AssetStats[2].Sector)

	// Labels are part of the response, so they key the cache
	plain, err := svc.Optimize(ctx, baseRequest())
	require.NoError(t, err)
	assert.False(t, plain.Cached)
	assert.Empty(t, plain.AssetStats[0].Name)

	analysis, err := svc.Analyze(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, "Alpha Corp", analysis.AssetStats[0].Name)
}
