// Package stats holds small numeric helpers shared by the pricing sources.
package stats

import "sort"

// Median returns the middle value of values, averaging the two middle values
// for even counts. It returns 0 for no values and does not modify its input.
func Median(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	mid := len(sorted) / 2
	if len(sorted)%2 == 0 {
		return (sorted[mid-1] + sorted[mid]) / 2
	}
	return sorted[mid]
}
