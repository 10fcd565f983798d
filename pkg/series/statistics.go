package series

import (
	"math"
	"sort"
)

// Statistics summarizes the values of a series over a window
type Statistics struct {
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	Avg    float64 `json:"avg"`
	Median float64 `json:"median"`
	P95    float64 `json:"p95"`
	P99    float64 `json:"p99"`
	Count  int     `json:"count"`
}

// Calculate computes summary statistics. Empty input yields the zero value.
func Calculate(values []float64) Statistics {
	if len(values) == 0 {
		return Statistics{}
	}

	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	sum := 0.0
	for _, v := range sorted {
		sum += v
	}

	n := len(sorted)
	return Statistics{
		Min:    sorted[0],
		Max:    sorted[n-1],
		Avg:    sum / float64(n),
		Median: median(sorted),
		P95:    percentile(sorted, 0.95),
		P99:    percentile(sorted, 0.99),
		Count:  n,
	}
}

// median expects sorted input
func median(sorted []float64) float64 {
	n := len(sorted)
	if n%2 == 0 {
		return (sorted[n/2-1] + sorted[n/2]) / 2
	}
	return sorted[n/2]
}

// percentile uses the nearest-rank method on sorted input
func percentile(sorted []float64, p float64) float64 {
	rank := int(math.Ceil(p*float64(len(sorted)))) - 1
	if rank < 0 {
		rank = 0
	}
	if rank >= len(sorted) {
		rank = len(sorted) - 1
	}
	return sorted[rank]
}
