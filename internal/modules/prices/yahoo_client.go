package prices

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rs/zerolog"
)

// Fetcher retrieves a price series from an upstream source.
type Fetcher interface {
	Fetch(ctx context.Context, ticker string, start, end time.Time) (PriceSeries, error)
}

// errPermanent marks upstream failures that retrying cannot fix.
var errPermanent = errors.New("permanent provider failure")

// YahooClient reads daily closes from the Yahoo Finance chart API.
type YahooClient struct {
	baseURL string
	client  *http.Client
	log     zerolog.Logger
}

// NewYahooClient creates a chart API client.
func NewYahooClient(baseURL string, timeout time.Duration, log zerolog.Logger) *YahooClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &YahooClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
		log:     log.With().Str("client", "yahoo").Logger(),
	}
}

type chartResponse struct {
	Chart struct {
		Result []chartResult `json:"result"`
		Error  *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"chart"`
}

type chartResult struct {
	Meta struct {
		Symbol    string `json:"symbol"`
		GMTOffset int64  `json:"gmtoffset"`
	} `json:"meta"`
	Timestamp  []int64 `json:"timestamp"`
	Indicators struct {
		Quote []struct {
			Close []*float64 `json:"close"`
		} `json:"quote"`
		AdjClose []struct {
			AdjClose []*float64 `json:"adjclose"`
		} `json:"adjclose"`
	} `json:"indicators"`
}

// Fetch downloads daily closes for ticker in [start, end]. Adjusted closes
// are preferred; null closes are skipped. A zero start fetches ten years.
func (c *YahooClient) Fetch(ctx context.Context, ticker string, start, end time.Time) (PriceSeries, error) {
	if end.IsZero() {
		end = time.Now()
	}
	if start.IsZero() {
		start = end.AddDate(-10, 0, 0)
	}

	params := url.Values{}
	params.Set("period1", strconv.FormatInt(truncateDay(start).Unix(), 10))
	// period2 is exclusive
	params.Set("period2", strconv.FormatInt(truncateDay(end).AddDate(0, 0, 1).Unix(), 10))
	params.Set("interval", "1d")
	params.Set("events", "history")

	endpoint := fmt.Sprintf("%s/v8/finance/chart/%s?%s", c.baseURL, url.PathEscape(ticker), params.Encode())
	c.log.Debug().Str("ticker", ticker).Str("url", endpoint).Msg("Fetching chart")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return PriceSeries{}, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; allocator/1.0)")
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return PriceSeries{}, fmt.Errorf("chart request failed: %w", err)
	}
	defer resp.Body.Close()

	var body chartResponse
	decodeErr := json.NewDecoder(resp.Body).Decode(&body)

	if resp.StatusCode != http.StatusOK {
		msg := fmt.Sprintf("chart API returned status %d", resp.StatusCode)
		if decodeErr == nil && body.Chart.Error != nil {
			msg += ": " + body.Chart.Error.Description
		}
		if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			return PriceSeries{}, fmt.Errorf("%s: %w", msg, errPermanent)
		}
		return PriceSeries{}, errors.New(msg)
	}
	if decodeErr != nil {
		return PriceSeries{}, fmt.Errorf("failed to parse chart response: %w", decodeErr)
	}
	if body.Chart.Error != nil {
		return PriceSeries{}, fmt.Errorf("chart API error %s: %s: %w", body.Chart.Error.Code, body.Chart.Error.Description, errPermanent)
	}
	if len(body.Chart.Result) == 0 {
		return PriceSeries{}, fmt.Errorf("chart API returned no result for %s: %w", ticker, errPermanent)
	}

	series := parseChart(ticker, body.Chart.Result[0])

	c.log.Debug().
		Str("ticker", ticker).
		Int("points", series.Len()).
		Msg("Fetched chart")

	return series, nil
}

func parseChart(ticker string, result chartResult) PriceSeries {
	var closes []*float64
	if len(result.Indicators.AdjClose) > 0 && len(result.Indicators.AdjClose[0].AdjClose) == len(result.Timestamp) {
		closes = result.Indicators.AdjClose[0].AdjClose
	} else if len(result.Indicators.Quote) > 0 {
		closes = result.Indicators.Quote[0].Close
	}

	series := PriceSeries{Ticker: ticker}
	for i, ts := range result.Timestamp {
		if i >= len(closes) || closes[i] == nil {
			continue
		}
		// Exchange-local trading date
		date := time.Unix(ts+result.Meta.GMTOffset, 0).UTC()
		series.Points = append(series.Points, Point{Date: date, Price: *closes[i]})
	}

	return series.Normalize()
}
