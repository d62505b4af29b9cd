package prices

import (
	"context"
	"database/sql"
	"os"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupHistoryDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	// Each pooled connection would otherwise get its own in-memory database
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	schema, err := os.ReadFile("../../database/schemas/history_schema.sql")
	require.NoError(t, err)
	_, err = db.Exec(string(schema))
	require.NoError(t, err)

	return db
}

func series(ticker string, start string, prices ...float64) PriceSeries {
	s := PriceSeries{Ticker: ticker}
	d := day(start)
	for _, p := range prices {
		s.Points = append(s.Points, Point{Date: d, Price: p})
		d = d.AddDate(0, 0, 1)
	}
	return s
}

func TestHistoryRepository_UpsertAndGetRange(t *testing.T) {
	ctx := context.Background()
	repo := NewHistoryRepository(setupHistoryDB(t))

	err := repo.Upsert(ctx, series("AAA", "2024-01-01", 10, 11, 12, 13), day("2024-01-01"), day("2024-01-04"))
	require.NoError(t, err)

	got, err := repo.GetRange(ctx, "AAA", day("2024-01-02"), day("2024-01-03"))
	require.NoError(t, err)
	require.Len(t, got.Points, 2)
	assert.Equal(t, 11.0, got.Points[0].Price)
	assert.Equal(t, day("2024-01-03"), got.Points[1].Date)

	all, err := repo.GetRange(ctx, "AAA", time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.Len(t, all.Points, 4)

	// Replacing a close keeps one row per date
	require.NoError(t, repo.Upsert(ctx, series("AAA", "2024-01-04", 20), day("2024-01-04"), day("2024-01-04")))
	all, err = repo.GetRange(ctx, "AAA", time.Time{}, time.Time{})
	require.NoError(t, err)
	require.Len(t, all.Points, 4)
	assert.Equal(t, 20.0, all.Points[3].Price)
}

func TestHistoryRepository_CoverageWidens(t *testing.T) {
	ctx := context.Background()
	repo := NewHistoryRepository(setupHistoryDB(t))

	_, ok, err := repo.Coverage(ctx, "AAA")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, repo.Upsert(ctx, series("AAA", "2024-02-01", 1, 2), day("2024-02-01"), day("2024-02-10")))
	require.NoError(t, repo.Upsert(ctx, series("AAA", "2024-01-01", 1, 2), day("2024-01-01"), day("2024-01-20")))

	cov, ok, err := repo.Coverage(ctx, "AAA")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, day("2024-01-01"), cov.Start)
	assert.Equal(t, day("2024-02-10"), cov.End)

	assert.True(t, cov.Covers(day("2024-01-05"), day("2024-02-01")))
	assert.False(t, cov.Covers(day("2023-12-01"), day("2024-02-01")))
	assert.False(t, cov.Covers(day("2024-01-05"), day("2024-03-01")))
}

func TestHistoryRepository_LatestDateAndTickers(t *testing.T) {
	ctx := context.Background()
	repo := NewHistoryRepository(setupHistoryDB(t))

	_, ok, err := repo.LatestDate(ctx, "AAA")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, repo.Upsert(ctx, series("BBB", "2024-01-01", 1, 2, 3), time.Time{}, time.Time{}))
	require.NoError(t, repo.Upsert(ctx, series("AAA", "2024-01-01", 1), time.Time{}, time.Time{}))

	latest, ok, err := repo.LatestDate(ctx, "BBB")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, day("2024-01-03"), latest)

	tickers, err := repo.Tickers(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"AAA", "BBB"}, tickers)
}

func TestHistoryRepository_DeleteOlderThan(t *testing.T) {
	ctx := context.Background()
	repo := NewHistoryRepository(setupHistoryDB(t))

	require.NoError(t, repo.Upsert(ctx, series("AAA", "2024-01-01", 1, 2, 3, 4, 5), day("2024-01-01"), day("2024-01-05")))

	deleted, err := repo.DeleteOlderThan(ctx, day("2024-01-03"))
	require.NoError(t, err)
	assert.Equal(t, int64(2), deleted)

	all, err := repo.GetRange(ctx, "AAA", time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.Len(t, all.Points, 3)

	cov, ok, err := repo.Coverage(ctx, "AAA")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, day("2024-01-03"), cov.Start)
}

func TestRetentionJob(t *testing.T) {
	repo := NewHistoryRepository(setupHistoryDB(t))
	require.NoError(t, repo.Upsert(context.Background(), series("AAA", "2024-01-01", 1, 2, 3), time.Time{}, time.Time{}))

	job := NewRetentionJob(repo, 1, zerolog.Nop())
	job.now = func() time.Time { return day("2024-01-03") }
	assert.Equal(t, "history_retention", job.Name())

	require.NoError(t, job.Run())

	all, err := repo.GetRange(context.Background(), "AAA", time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.Len(t, all.Points, 2)
}
