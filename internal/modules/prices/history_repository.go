package prices

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/aristath/allocator/internal/database"
)

// Coverage is the date range already pulled from the upstream provider.
type Coverage struct {
	Start     time.Time
	End       time.Time
	FetchedAt time.Time
}

// Covers reports whether [start, end] lies inside the covered range.
// A zero start means "from the beginning of coverage".
func (c Coverage) Covers(start, end time.Time) bool {
	if !start.IsZero() && truncateDay(start).Before(c.Start) {
		return false
	}
	return !truncateDay(end).After(c.End)
}

// HistoryRepository persists daily closes in history.db.
type HistoryRepository struct {
	db  *sql.DB
	now func() time.Time
}

// NewHistoryRepository creates a repository over an open history database.
func NewHistoryRepository(db *sql.DB) *HistoryRepository {
	return &HistoryRepository{db: db, now: time.Now}
}

// GetRange returns the stored closes for ticker within [start, end].
// Zero bounds are open.
func (r *HistoryRepository) GetRange(ctx context.Context, ticker string, start, end time.Time) (PriceSeries, error) {
	query := "SELECT date, close FROM daily_prices WHERE ticker = ?"
	args := []interface{}{ticker}
	if !start.IsZero() {
		query += " AND date >= ?"
		args = append(args, start.Format(DateLayout))
	}
	if !end.IsZero() {
		query += " AND date <= ?"
		args = append(args, end.Format(DateLayout))
	}
	query += " ORDER BY date ASC"

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return PriceSeries{}, fmt.Errorf("failed to query prices for %s: %w", ticker, err)
	}
	defer rows.Close()

	series := PriceSeries{Ticker: ticker}
	for rows.Next() {
		var dateStr string
		var price float64
		if err := rows.Scan(&dateStr, &price); err != nil {
			return PriceSeries{}, fmt.Errorf("failed to scan price row: %w", err)
		}
		date, err := time.Parse(DateLayout, dateStr)
		if err != nil {
			return PriceSeries{}, fmt.Errorf("invalid stored date %q for %s: %w", dateStr, ticker, err)
		}
		series.Points = append(series.Points, Point{Date: date, Price: price})
	}
	if err := rows.Err(); err != nil {
		return PriceSeries{}, fmt.Errorf("failed to iterate prices for %s: %w", ticker, err)
	}

	return series, nil
}

// Upsert stores the series and widens the coverage record to include
// [start, end] in one transaction.
func (r *HistoryRepository) Upsert(ctx context.Context, series PriceSeries, start, end time.Time) error {
	now := r.now()

	return database.WithTransaction(r.db, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx,
			"INSERT OR REPLACE INTO daily_prices (ticker, date, close, updated_at) VALUES (?, ?, ?, ?)")
		if err != nil {
			return fmt.Errorf("failed to prepare price insert: %w", err)
		}
		defer stmt.Close()

		for _, p := range series.Points {
			if _, err := stmt.ExecContext(ctx, series.Ticker, p.Date.Format(DateLayout), p.Price, now.Unix()); err != nil {
				return fmt.Errorf("failed to store %s price for %s: %w", series.Ticker, p.Date.Format(DateLayout), err)
			}
		}

		if start.IsZero() {
			if first, ok := firstDate(series); ok {
				start = first
			} else {
				return nil
			}
		}
		if end.IsZero() {
			end = now
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO price_coverage (ticker, start_date, end_date, fetched_at) VALUES (?, ?, ?, ?)
			ON CONFLICT(ticker) DO UPDATE SET
				start_date = MIN(start_date, excluded.start_date),
				end_date   = MAX(end_date, excluded.end_date),
				fetched_at = excluded.fetched_at`,
			series.Ticker, start.Format(DateLayout), end.Format(DateLayout), now.Unix())
		if err != nil {
			return fmt.Errorf("failed to update coverage for %s: %w", series.Ticker, err)
		}
		return nil
	})
}

func firstDate(series PriceSeries) (time.Time, bool) {
	if len(series.Points) == 0 {
		return time.Time{}, false
	}
	return series.Points[0].Date, true
}

// Coverage returns the fetched range for ticker, if any.
func (r *HistoryRepository) Coverage(ctx context.Context, ticker string) (Coverage, bool, error) {
	var startStr, endStr string
	var fetchedAt int64
	err := r.db.QueryRowContext(ctx,
		"SELECT start_date, end_date, fetched_at FROM price_coverage WHERE ticker = ?", ticker,
	).Scan(&startStr, &endStr, &fetchedAt)
	if err == sql.ErrNoRows {
		return Coverage{}, false, nil
	}
	if err != nil {
		return Coverage{}, false, fmt.Errorf("failed to get coverage for %s: %w", ticker, err)
	}

	start, err := time.Parse(DateLayout, startStr)
	if err != nil {
		return Coverage{}, false, fmt.Errorf("invalid coverage start for %s: %w", ticker, err)
	}
	end, err := time.Parse(DateLayout, endStr)
	if err != nil {
		return Coverage{}, false, fmt.Errorf("invalid coverage end for %s: %w", ticker, err)
	}

	return Coverage{Start: start, End: end, FetchedAt: time.Unix(fetchedAt, 0)}, true, nil
}

// LatestDate returns the most recent stored date for ticker.
func (r *HistoryRepository) LatestDate(ctx context.Context, ticker string) (time.Time, bool, error) {
	var dateStr sql.NullString
	err := r.db.QueryRowContext(ctx,
		"SELECT MAX(date) FROM daily_prices WHERE ticker = ?", ticker,
	).Scan(&dateStr)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("failed to get latest date for %s: %w", ticker, err)
	}
	if !dateStr.Valid {
		return time.Time{}, false, nil
	}

	date, err := time.Parse(DateLayout, dateStr.String)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("invalid stored date %q: %w", dateStr.String, err)
	}
	return date, true, nil
}

// Tickers lists every ticker with stored history.
func (r *HistoryRepository) Tickers(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT DISTINCT ticker FROM daily_prices ORDER BY ticker")
	if err != nil {
		return nil, fmt.Errorf("failed to list tickers: %w", err)
	}
	defer rows.Close()

	var tickers []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, fmt.Errorf("failed to scan ticker: %w", err)
		}
		tickers = append(tickers, t)
	}
	return tickers, rows.Err()
}

// DeleteOlderThan removes closes dated before cutoff and trims coverage.
// Returns the number of price rows deleted.
func (r *HistoryRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	cut := cutoff.Format(DateLayout)
	var deleted int64

	err := database.WithTransaction(r.db, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, "DELETE FROM daily_prices WHERE date < ?", cut)
		if err != nil {
			return fmt.Errorf("failed to delete old prices: %w", err)
		}
		deleted, err = result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to get rows affected: %w", err)
		}

		if _, err := tx.ExecContext(ctx,
			"UPDATE price_coverage SET start_date = ? WHERE start_date < ?", cut, cut); err != nil {
			return fmt.Errorf("failed to trim coverage: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			"DELETE FROM price_coverage WHERE end_date < start_date"); err != nil {
			return fmt.Errorf("failed to drop empty coverage: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	return deleted, nil
}
