package consensus

import (
	"math"
	"sort"
	"strings"
	"time"
)

// VoteStats are the statistics of a vote set used by the confidence scorer.
type VoteStats struct {
	Count             int
	AvgConfidence     float64
	AvgResponseTime   time.Duration
	WeightedValue     float64
	ValueAgreement    float64
	DecisionAgreement float64
	ConsensusItemName string
}

// ComputeStats derives VoteStats. An empty vote set yields zero stats.
func ComputeStats(votes []Vote) VoteStats {
	if len(votes) == 0 {
		return VoteStats{}
	}

	var confSum, weightSum, weightedValueSum, valueSum float64
	var rtSum time.Duration
	var positives []float64
	for _, v := range votes {
		confSum += v.Confidence
		rtSum += v.ResponseTime
		weightSum += v.Weight
		weightedValueSum += v.Weight * v.EstimatedValue
		valueSum += v.EstimatedValue
		if v.EstimatedValue > 0 {
			positives = append(positives, v.EstimatedValue)
		}
	}

	n := len(votes)
	s := VoteStats{
		Count:             n,
		AvgConfidence:     confSum / float64(n),
		AvgResponseTime:   rtSum / time.Duration(n),
		ValueAgreement:    ValueAgreement(positives),
		DecisionAgreement: Tally(votes, 0).DominantShare(),
		ConsensusItemName: consensusItemName(votes),
	}
	if weightSum > 0 {
		s.WeightedValue = weightedValueSum / weightSum
	} else {
		s.WeightedValue = valueSum / float64(n)
	}
	return s
}

// ValueAgreement is 1 minus the coefficient of variation of the positive
// values, clamped to [0, 1]. It is 1 when there is at most one value.
func ValueAgreement(values []float64) float64 {
	var positives []float64
	for _, v := range values {
		if v > 0 {
			positives = append(positives, v)
		}
	}
	if len(positives) <= 1 {
		return 1
	}
	return clamp(1-CoefficientOfVariation(positives), 0, 1)
}

// CoefficientOfVariation is the population standard deviation divided by the
// mean, or 0 when the mean is 0.
func CoefficientOfVariation(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	mean := sum / float64(len(values))
	if mean == 0 {
		return 0
	}
	var sq float64
	for _, v := range values {
		d := v - mean
		sq += d * d
	}
	return math.Sqrt(sq/float64(len(values))) / mean
}

// consensusItemName picks the name carrying the most weight×confidence mass.
// Names are grouped case-insensitively; the spelling of the strongest vote in
// the winning group is returned. Equal masses resolve alphabetically so the
// result does not depend on vote order.
func consensusItemName(votes []Vote) string {
	type group struct {
		mass     float64
		best     string
		bestMass float64
	}
	groups := map[string]*group{}
	for _, v := range votes {
		key := strings.ToLower(strings.Join(strings.Fields(v.ItemName), " "))
		if key == "" {
			continue
		}
		m := v.Weight * v.Confidence
		g, ok := groups[key]
		if !ok {
			g = &group{best: v.ItemName, bestMass: m}
			groups[key] = g
		}
		g.mass += m
		if m > g.bestMass || (m == g.bestMass && v.ItemName < g.best) {
			g.best, g.bestMass = v.ItemName, m
		}
	}

	keys := make([]string, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var winner *group
	for _, k := range keys {
		if g := groups[k]; winner == nil || g.mass > winner.mass {
			winner = g
		}
	}
	if winner == nil {
		return ""
	}
	return winner.best
}
