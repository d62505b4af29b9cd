package optimization

import (
	"math"
)

// Allocation converts target weights into whole shares for a cash budget.
type Allocation struct {
	Tickers  []string
	Shares   []int
	Prices   []float64
	Weights  []float64 // realized weights of the invested amount
	Invested float64
	Leftover float64
	// Error is the squared distance between realized and target weights.
	Error float64
}

// DiscreteAllocation buys floor(w_i * budget / price_i) shares of each
// asset, then spends the remaining cash one share at a time on whichever
// held asset most reduces the squared weight error, until no affordable
// share is left.
func DiscreteAllocation(tickers []string, weights, prices []float64, budget float64) (*Allocation, error) {
	if budget <= 0 {
		return nil, validationErrorf("budget", "must be positive")
	}
	if len(weights) != len(tickers) || len(prices) != len(tickers) {
		return nil, validationErrorf("budget", "weights and prices must cover every ticker")
	}
	for i, p := range prices {
		if !(p > 0) {
			return nil, &InsufficientDataError{Tickers: []string{tickers[i]}, Reason: "no current price for discrete allocation"}
		}
	}

	n := len(tickers)
	shares := make([]int, n)
	remaining := budget
	for i := range shares {
		if weights[i] <= 0 {
			continue
		}
		shares[i] = int(math.Floor(weights[i] * budget / prices[i]))
		remaining -= float64(shares[i]) * prices[i]
	}

	for {
		best := -1
		bestErr := math.Inf(1)
		for i := range shares {
			if weights[i] <= 0 || prices[i] > remaining+1e-9 {
				continue
			}
			shares[i]++
			if e := weightError(shares, prices, weights); e < bestErr {
				best, bestErr = i, e
			}
			shares[i]--
		}
		if best < 0 {
			break
		}
		shares[best]++
		remaining -= prices[best]
	}

	realized := realizedWeights(shares, prices)
	return &Allocation{
		Tickers:  append([]string(nil), tickers...),
		Shares:   shares,
		Prices:   append([]float64(nil), prices...),
		Weights:  realized,
		Invested: budget - remaining,
		Leftover: math.Max(remaining, 0),
		Error:    weightError(shares, prices, weights),
	}, nil
}

func realizedWeights(shares []int, prices []float64) []float64 {
	out := make([]float64, len(shares))
	total := 0.0
	for i := range shares {
		total += float64(shares[i]) * prices[i]
	}
	if total == 0 {
		return out
	}
	for i := range shares {
		out[i] = float64(shares[i]) * prices[i] / total
	}
	return out
}

func weightError(shares []int, prices, target []float64) float64 {
	realized := realizedWeights(shares, prices)
	e := 0.0
	for i := range realized {
		d := realized[i] - target[i]
		e += d * d
	}
	return e
}
