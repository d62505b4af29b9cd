// Package prices provides historical price retrieval for the optimizer:
// a local SQLite history, a Yahoo Finance fallback and a caching service
// that ties them together.
package prices

import (
	"fmt"
	"sort"
	"time"
)

// DateLayout is the storage and wire format for trading dates.
const DateLayout = "2006-01-02"

// Point is a single closing price.
type Point struct {
	Date  time.Time `json:"date" msgpack:"date"`
	Price float64   `json:"price" msgpack:"price"`
}

// PriceSeries is an ordered price history for one ticker. Dates are strictly
// increasing once the series has been normalized.
type PriceSeries struct {
	Ticker string  `json:"ticker" msgpack:"ticker"`
	Points []Point `json:"points" msgpack:"points"`
}

// Len returns the number of points.
func (s PriceSeries) Len() int {
	return len(s.Points)
}

// Last returns the most recent point.
func (s PriceSeries) Last() (Point, bool) {
	if len(s.Points) == 0 {
		return Point{}, false
	}
	return s.Points[len(s.Points)-1], true
}

// Validate checks ordering, uniqueness and price positivity.
func (s PriceSeries) Validate() error {
	if s.Ticker == "" {
		return fmt.Errorf("price series has no ticker")
	}
	for i, p := range s.Points {
		if !(p.Price > 0) {
			return fmt.Errorf("%s: non-positive price %v on %s", s.Ticker, p.Price, p.Date.Format(DateLayout))
		}
		if i > 0 && !p.Date.After(s.Points[i-1].Date) {
			return fmt.Errorf("%s: dates not strictly increasing at %s", s.Ticker, p.Date.Format(DateLayout))
		}
	}
	return nil
}

// Normalize returns a copy with dates truncated to the day, sorted ascending,
// duplicates collapsed (last price wins) and non-positive prices dropped.
func (s PriceSeries) Normalize() PriceSeries {
	points := make([]Point, 0, len(s.Points))
	for _, p := range s.Points {
		if !(p.Price > 0) {
			continue
		}
		points = append(points, Point{Date: truncateDay(p.Date), Price: p.Price})
	}

	sort.SliceStable(points, func(i, j int) bool {
		return points[i].Date.Before(points[j].Date)
	})

	out := points[:0]
	for _, p := range points {
		if n := len(out); n > 0 && out[n-1].Date.Equal(p.Date) {
			out[n-1] = p
			continue
		}
		out = append(out, p)
	}

	return PriceSeries{Ticker: s.Ticker, Points: out}
}

// Restrict returns the points within [start, end]. A zero bound is open.
func (s PriceSeries) Restrict(start, end time.Time) PriceSeries {
	out := make([]Point, 0, len(s.Points))
	for _, p := range s.Points {
		if !start.IsZero() && p.Date.Before(truncateDay(start)) {
			continue
		}
		if !end.IsZero() && p.Date.After(truncateDay(end)) {
			continue
		}
		out = append(out, p)
	}
	return PriceSeries{Ticker: s.Ticker, Points: out}
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ParseDate parses a YYYY-MM-DD date. Empty input returns the zero time.
func ParseDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q, expected YYYY-MM-DD: %w", s, err)
	}
	return t, nil
}

// FormatDate formats a date, mapping the zero time to "".
func FormatDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(DateLayout)
}

// ProviderError reports a price retrieval failure after retries.
type ProviderError struct {
	Ticker   string
	Attempts int
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("failed to fetch prices for %s after %d attempt(s): %v", e.Ticker, e.Attempts, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}
