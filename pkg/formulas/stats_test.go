package formulas

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func makeReturns(value float64, count int) []float64 {
	returns := make([]float64, count)
	for i := range returns {
		returns[i] = value
	}
	return returns
}

func TestCalculateAnnualReturn(t *testing.T) {
	tests := []struct {
		name      string
		returns   []float64
		periods   float64
		expected  float64
		tolerance float64
	}{
		{
			name:      "empty returns",
			returns:   []float64{},
			periods:   252,
			expected:  0.0,
			tolerance: 0.0,
		},
		{
			name:      "one year of small positive daily returns",
			returns:   makeReturns(0.001, 252),
			periods:   252,
			expected:  0.286,
			tolerance: 0.01,
		},
		{
			name:      "one year of negative daily returns",
			returns:   makeReturns(-0.001, 252),
			periods:   252,
			expected:  -0.221,
			tolerance: 0.01,
		},
		{
			name:      "twelve monthly returns",
			returns:   makeReturns(0.01, 12),
			periods:   12,
			expected:  math.Pow(1.01, 12) - 1,
			tolerance: 1e-9,
		},
		{
			name:      "very short period",
			returns:   []float64{0.01, 0.02},
			periods:   252,
			expected:  0.0302,
			tolerance: 0.001,
		},
		{
			name:      "zero returns",
			returns:   makeReturns(0.0, 252),
			periods:   252,
			expected:  0.0,
			tolerance: 0.001,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CalculateAnnualReturn(tt.returns, tt.periods)
			assert.InDelta(t, tt.expected, got, tt.tolerance)
		})
	}
}

func TestCalculateReturns(t *testing.T) {
	tests := []struct {
		name     string
		prices   []float64
		expected []float64
	}{
		{"empty", nil, []float64{}},
		{"single price", []float64{100}, []float64{}},
		{"up and down", []float64{100, 110, 99}, []float64{0.1, -0.1}},
		{"zero base price", []float64{0, 10}, []float64{0}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CalculateReturns(tt.prices)
			assert.Len(t, got, len(tt.expected))
			for i := range tt.expected {
				assert.InDelta(t, tt.expected[i], got[i], 1e-12)
			}
		})
	}
}

func TestMeanAndStdDev(t *testing.T) {
	data := []float64{2, 4, 4, 4, 5, 5, 7, 9}

	assert.InDelta(t, 5.0, Mean(data), 1e-12)
	assert.InDelta(t, math.Sqrt(32.0/7.0), StdDev(data), 1e-12)

	assert.Equal(t, 0.0, StdDev([]float64{1}))
	assert.Equal(t, 0.0, Mean(nil))
}

func TestCorrelation(t *testing.T) {
	x := []float64{1, 2, 3, 4, 5}
	y := []float64{2, 4, 6, 8, 10}
	z := []float64{5, 4, 3, 2, 1}

	assert.InDelta(t, 1.0, Correlation(x, y), 1e-12)
	assert.InDelta(t, -1.0, Correlation(x, z), 1e-12)
	assert.Equal(t, 0.0, Correlation(x, []float64{1, 1, 1, 1, 1}))
	assert.Equal(t, 0.0, Correlation(x, y[:3]))
}

func TestPeriodicRate(t *testing.T) {
	assert.InDelta(t, 0.02/12, PeriodicRate(0.02, 12), 1e-15)
	assert.InDelta(t, 0.02, PeriodicRate(0.02, 0), 1e-15)
}
