package authority

import "math"

const (
	criticalShare = 0.7
	optionalShare = 0.3
	// maxSampleBoost is the most that distinct price observations add.
	maxSampleBoost = 0.1
	maxConfidence  = 0.95
)

// Completeness scores which fields a source returned. Critical fields carry
// 70% of the score, optional fields 30%.
func Completeness(critical, optional []bool) float64 {
	if len(optional) == 0 {
		return share(critical)
	}
	return share(critical)*criticalShare + share(optional)*optionalShare
}

// SampleBoost grows with the number of distinct price observations.
func SampleBoost(samples int) float64 {
	if samples <= 0 {
		return 0
	}
	return math.Min(maxSampleBoost, 0.02*float64(samples))
}

// Confidence combines completeness and sample size, capped at 0.95.
func Confidence(critical, optional []bool, samples int) float64 {
	return math.Min(maxConfidence, Completeness(critical, optional)+SampleBoost(samples))
}

func share(fields []bool) float64 {
	if len(fields) == 0 {
		return 0
	}
	n := 0
	for _, ok := range fields {
		if ok {
			n++
		}
	}
	return float64(n) / float64(len(fields))
}
