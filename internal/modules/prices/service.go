package prices

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/aristath/allocator/internal/cache"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// HistoryStore is the persistence the Service reads through.
type HistoryStore interface {
	GetRange(ctx context.Context, ticker string, start, end time.Time) (PriceSeries, error)
	Coverage(ctx context.Context, ticker string) (Coverage, bool, error)
	Upsert(ctx context.Context, series PriceSeries, start, end time.Time) error
}

// ServiceConfig tunes retries and caching.
type ServiceConfig struct {
	MaxRetries     int
	RetryBaseDelay time.Duration
	CacheTTL       time.Duration
	MaxConcurrent  int
	// LoadTimeout bounds a coalesced load, which runs detached from the
	// callers waiting on it.
	LoadTimeout time.Duration
}

// Service is the price provider used by the optimizer. Lookups go through
// the shared cache, then local history, then the upstream fetcher.
type Service struct {
	history HistoryStore // may be nil
	fetcher Fetcher
	cache   *cache.Cache // may be nil
	cfg     ServiceConfig
	group   singleflight.Group
	sem     chan struct{}
	now     func() time.Time
	log     zerolog.Logger
}

// NewService wires the provider.
func NewService(history HistoryStore, fetcher Fetcher, c *cache.Cache, cfg ServiceConfig, log zerolog.Logger) *Service {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 4
	}
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = time.Second
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = time.Hour
	}
	if cfg.LoadTimeout <= 0 {
		cfg.LoadTimeout = 2 * time.Minute
	}
	return &Service{
		history: history,
		fetcher: fetcher,
		cache:   c,
		cfg:     cfg,
		sem:     make(chan struct{}, cfg.MaxConcurrent),
		now:     time.Now,
		log:     log.With().Str("component", "price_service").Logger(),
	}
}

// GetPrices returns the normalized closes for ticker within [start, end].
func (s *Service) GetPrices(ctx context.Context, ticker string, start, end time.Time) (PriceSeries, error) {
	key := cache.Key("prices", ticker, FormatDate(start), FormatDate(end))

	if s.cache != nil {
		if v, ok := s.cache.Get(key); ok {
			if series, ok := v.(PriceSeries); ok {
				return series, nil
			}
			s.cache.Delete(key)
		}
	}

	// The load is shared, so one caller's cancellation must not fail the rest
	ch := s.group.DoChan(key, func() (interface{}, error) {
		loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.LoadTimeout)
		defer cancel()
		return s.load(loadCtx, ticker, start, end)
	})

	var res singleflight.Result
	select {
	case res = <-ch:
	case <-ctx.Done():
		return PriceSeries{}, ctx.Err()
	}
	if res.Err != nil {
		return PriceSeries{}, res.Err
	}
	if res.Shared {
		s.log.Debug().Str("ticker", ticker).Msg("Coalesced concurrent price load")
	}

	series := res.Val.(PriceSeries)
	if s.cache != nil {
		s.cache.Set(key, series, s.cfg.CacheTTL)
	}
	return series, nil
}

func (s *Service) load(ctx context.Context, ticker string, start, end time.Time) (PriceSeries, error) {
	effectiveEnd := end
	if effectiveEnd.IsZero() {
		effectiveEnd = s.now()
	}

	var stored PriceSeries
	if s.history != nil {
		cov, ok, err := s.history.Coverage(ctx, ticker)
		if err != nil {
			s.log.Warn().Err(err).Str("ticker", ticker).Msg("Failed to read history coverage")
		} else if ok && cov.Covers(start, effectiveEnd) {
			series, err := s.history.GetRange(ctx, ticker, start, end)
			if err == nil && series.Len() > 0 {
				if verr := series.Validate(); verr != nil {
					s.log.Warn().Err(verr).Str("ticker", ticker).Msg("Stored history is invalid, refetching")
				} else {
					s.log.Debug().Str("ticker", ticker).Int("points", series.Len()).Msg("Served from history")
					return series, nil
				}
			}
			if err != nil {
				s.log.Warn().Err(err).Str("ticker", ticker).Msg("Failed to read history")
			}
		}
		if ok {
			if prior, err := s.history.GetRange(ctx, ticker, start, end); err == nil && prior.Validate() == nil {
				stored = prior
			}
		}
	}

	fetched, err := s.fetchWithRetry(ctx, ticker, start, effectiveEnd)
	if err != nil {
		// Stale history beats no data
		if stored.Len() > 0 {
			s.log.Warn().Err(err).Str("ticker", ticker).Int("points", stored.Len()).Msg("Provider failed, using stored history")
			return stored, nil
		}
		return PriceSeries{}, err
	}

	if s.history != nil && fetched.Len() > 0 {
		if err := s.history.Upsert(ctx, fetched, start, effectiveEnd); err != nil {
			s.log.Warn().Err(err).Str("ticker", ticker).Msg("Failed to persist fetched prices")
		}
	}

	return fetched.Restrict(start, end), nil
}

func (s *Service) fetchWithRetry(ctx context.Context, ticker string, start, end time.Time) (PriceSeries, error) {
	select {
	case s.sem <- struct{}{}:
		defer func() { <-s.sem }()
	case <-ctx.Done():
		return PriceSeries{}, &ProviderError{Ticker: ticker, Attempts: 0, Err: ctx.Err()}
	}

	var lastErr error
	attempts := 0
	for attempt := 0; attempt <= s.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := time.Duration(1<<(attempt-1)) * s.cfg.RetryBaseDelay
			s.log.Debug().
				Str("ticker", ticker).
				Int("attempt", attempt+1).
				Dur("delay", delay).
				Msg("Retrying price fetch")

			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return PriceSeries{}, &ProviderError{Ticker: ticker, Attempts: attempts, Err: ctx.Err()}
			}
		}

		attempts++
		series, err := s.fetcher.Fetch(ctx, ticker, start, end)
		if err == nil {
			normalized := series.Normalize()
			if err = normalized.Validate(); err == nil {
				return normalized, nil
			}
			err = fmt.Errorf("%w: %v", errPermanent, err)
		}

		lastErr = err
		s.log.Warn().Err(err).Str("ticker", ticker).Int("attempt", attempts).Msg("Price fetch failed")

		if errors.Is(err, errPermanent) {
			break
		}
	}

	return PriceSeries{}, &ProviderError{Ticker: ticker, Attempts: attempts, Err: lastErr}
}

// GetMany loads several tickers concurrently. Failures are collected per
// ticker; the returned map holds only successful loads.
func (s *Service) GetMany(ctx context.Context, tickers []string, start, end time.Time) (map[string]PriceSeries, map[string]error) {
	var (
		mu     sync.Mutex
		out    = make(map[string]PriceSeries, len(tickers))
		failed = make(map[string]error)
	)

	g, gctx := errgroup.WithContext(ctx)
	for _, ticker := range tickers {
		ticker := ticker
		g.Go(func() error {
			series, err := s.GetPrices(gctx, ticker, start, end)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failed[ticker] = err
				return nil
			}
			out[ticker] = series
			return nil
		})
	}
	_ = g.Wait()

	return out, failed
}

// LatestPrices returns the most recent close for each ticker, looking back
// two weeks to cover weekends and holidays.
func (s *Service) LatestPrices(ctx context.Context, tickers []string) (map[string]float64, error) {
	end := truncateDay(s.now())
	start := end.AddDate(0, 0, -14)

	loaded, failed := s.GetMany(ctx, tickers, start, end)
	if len(failed) > 0 {
		for ticker, err := range failed {
			return nil, fmt.Errorf("failed to get latest price for %s: %w", ticker, err)
		}
	}

	out := make(map[string]float64, len(loaded))
	for ticker, series := range loaded {
		last, ok := series.Last()
		if !ok {
			return nil, fmt.Errorf("no recent price for %s", ticker)
		}
		out[ticker] = last.Price
	}
	return out, nil
}
