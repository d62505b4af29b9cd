package prices

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func day(s string) time.Time {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		panic(err)
	}
	return t
}

func TestPriceSeries_Normalize(t *testing.T) {
	raw := PriceSeries{
		Ticker: "AAA",
		Points: []Point{
			{Date: day("2024-01-03"), Price: 11},
			{Date: day("2024-01-02"), Price: 10},
			{Date: day("2024-01-03").Add(15 * time.Hour), Price: 12},
			{Date: day("2024-01-04"), Price: 0},
			{Date: day("2024-01-05"), Price: 13},
		},
	}

	got := raw.Normalize()
	require.NoError(t, got.Validate())
	require.Len(t, got.Points, 3)

	assert.Equal(t, day("2024-01-02"), got.Points[0].Date)
	assert.Equal(t, day("2024-01-03"), got.Points[1].Date)
	assert.Equal(t, 12.0, got.Points[1].Price, "last duplicate wins")
	assert.Equal(t, day("2024-01-05"), got.Points[2].Date)

	// Input untouched
	assert.Len(t, raw.Points, 5)
}

func TestPriceSeries_Validate(t *testing.T) {
	tests := []struct {
		name    string
		series  PriceSeries
		wantErr bool
	}{
		{"valid", PriceSeries{Ticker: "A", Points: []Point{{day("2024-01-01"), 1}, {day("2024-01-02"), 2}}}, false},
		{"empty is valid", PriceSeries{Ticker: "A"}, false},
		{"missing ticker", PriceSeries{Points: []Point{{day("2024-01-01"), 1}}}, true},
		{"duplicate date", PriceSeries{Ticker: "A", Points: []Point{{day("2024-01-01"), 1}, {day("2024-01-01"), 2}}}, true},
		{"out of order", PriceSeries{Ticker: "A", Points: []Point{{day("2024-01-02"), 1}, {day("2024-01-01"), 2}}}, true},
		{"zero price", PriceSeries{Ticker: "A", Points: []Point{{day("2024-01-01"), 0}}}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.series.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestPriceSeries_Restrict(t *testing.T) {
	s := PriceSeries{Ticker: "A", Points: []Point{
		{day("2024-01-01"), 1},
		{day("2024-01-02"), 2},
		{day("2024-01-03"), 3},
		{day("2024-01-04"), 4},
	}}

	assert.Len(t, s.Restrict(day("2024-01-02"), day("2024-01-03")).Points, 2)
	assert.Len(t, s.Restrict(time.Time{}, day("2024-01-02")).Points, 2)
	assert.Len(t, s.Restrict(day("2024-01-03"), time.Time{}).Points, 2)
	assert.Len(t, s.Restrict(time.Time{}, time.Time{}).Points, 4)

	last, ok := s.Last()
	require.True(t, ok)
	assert.Equal(t, 4.0, last.Price)

	_, ok = PriceSeries{}.Last()
	assert.False(t, ok)
}

func TestParseDate(t *testing.T) {
	d, err := ParseDate("2024-02-29")
	require.NoError(t, err)
	assert.Equal(t, 2024, d.Year())

	d, err = ParseDate("")
	require.NoError(t, err)
	assert.True(t, d.IsZero())
	assert.Equal(t, "", FormatDate(d))

	_, err = ParseDate("29/02/2024")
	assert.Error(t, err)
}
