package consensus

import (
	"math"
	"sort"

	"github.com/raine/item-appraiser/internal/llm"
)

// DefaultCloseVoteThreshold is the weight difference below which a tally is
// considered a near-tie.
const DefaultCloseVoteThreshold = 0.15

// VoteTally is the weighted BUY/SELL aggregate of a vote set.
type VoteTally struct {
	BuyWeight        float64
	SellWeight       float64
	TotalWeight      float64
	WeightDifference float64
	BuyVotes         int
	SellVotes        int
	Decision         llm.Decision
	IsCloseVote      bool
}

// Tally sums vote weights per side. BUY wins only when its weight strictly
// exceeds SELL; ties, including the empty tally, are SELL. The result does not
// depend on the order of votes. A non-positive threshold means
// DefaultCloseVoteThreshold.
func Tally(votes []Vote, threshold float64) VoteTally {
	if threshold <= 0 {
		threshold = DefaultCloseVoteThreshold
	}

	var buy, sell []float64
	for _, v := range votes {
		if v.Decision == llm.DecisionBuy {
			buy = append(buy, v.Weight)
		} else {
			sell = append(sell, v.Weight)
		}
	}

	t := VoteTally{
		BuyWeight:  sortedSum(buy),
		SellWeight: sortedSum(sell),
		BuyVotes:   len(buy),
		SellVotes:  len(sell),
		Decision:   llm.DecisionSell,
	}
	t.TotalWeight = t.BuyWeight + t.SellWeight
	if t.BuyWeight > t.SellWeight {
		t.Decision = llm.DecisionBuy
	}
	if t.TotalWeight > 0 {
		t.WeightDifference = math.Abs(t.BuyWeight-t.SellWeight) / t.TotalWeight
		t.IsCloseVote = t.WeightDifference < threshold
	}
	return t
}

// DominantShare is max(buy, sell) / total, or 0 for an empty tally.
func (t VoteTally) DominantShare() float64 {
	if t.TotalWeight == 0 {
		return 0
	}
	return math.Max(t.BuyWeight, t.SellWeight) / t.TotalWeight
}

// sortedSum adds values in ascending order so the sum is identical for every
// permutation of the input.
func sortedSum(values []float64) float64 {
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	var sum float64
	for _, v := range sorted {
		sum += v
	}
	return sum
}
