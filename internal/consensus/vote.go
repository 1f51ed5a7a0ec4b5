// Package consensus turns provider analyses into weighted votes and reduces
// them into a decision, statistics, a confidence score and a quality tier.
package consensus

import (
	"time"

	"github.com/raine/item-appraiser/internal/llm"
)

// Weight multipliers applied by BuildVote, in order.
const (
	PricingSpecialtyMultiplier = 1.3
	LiveSearchMultiplier       = 1.2
	TiebreakerWeightMultiplier = 0.6
)

// Confidence discounts for votes cast outside a regular pricing round.
const (
	TiebreakerConfidenceDiscount = 0.8
	EmergencyConfidenceDiscount  = 0.5
)

// TiebreakerSuffix is appended to the provider name of tiebreaker votes.
const TiebreakerSuffix = " (tiebreaker)"

const unknownItemName = "Unknown item"

// Vote is one provider's opinion about a single appraisal. Votes are values:
// nothing mutates a Vote after BuildVote returns it.
type Vote struct {
	ProviderID     string
	ProviderName   string
	ItemName       string
	Category       string
	EstimatedValue float64
	Decision       llm.Decision
	Confidence     float64
	ResponseTime   time.Duration
	Weight         float64
	LiveSearch     bool
	Tiebreaker     bool
	Emergency      bool
	Reasoning      string
	Factors        []string
	Raw            map[string]any
}

// VoteOptions describes how the call that produced an analysis was made.
type VoteOptions struct {
	LiveSearch   bool
	Tiebreaker   bool
	Emergency    bool
	ResponseTime time.Duration
	NameHint     string
}

// BuildVote converts a validated analysis into a weighted vote. The decision
// is taken as stated; callers validate that one is present.
//
//	weight = base × confidence
//	×1.3 for pricing specialists, ×1.2 with live market search, ×0.6 for tiebreakers
//
// Tiebreaker confidence is discounted ×0.8 and emergency confidence ×0.5
// before the weight is computed.
func BuildVote(p llm.Profile, a llm.Analysis, raw map[string]any, opts VoteOptions) Vote {
	confidence := clamp(a.Confidence, 0, 1)
	if opts.Tiebreaker {
		confidence *= TiebreakerConfidenceDiscount
	}
	if opts.Emergency {
		confidence *= EmergencyConfidenceDiscount
	}

	weight := p.Weight() * confidence
	if p.Specialty == llm.SpecialtyPricing {
		weight *= PricingSpecialtyMultiplier
	}
	if opts.LiveSearch {
		weight *= LiveSearchMultiplier
	}
	if opts.Tiebreaker {
		weight *= TiebreakerWeightMultiplier
	}

	name := p.DisplayName()
	if opts.Tiebreaker {
		name += TiebreakerSuffix
	}

	itemName := a.ItemName
	if itemName == "" {
		itemName = opts.NameHint
	}
	if itemName == "" {
		itemName = unknownItemName
	}

	return Vote{
		ProviderID:     p.ID,
		ProviderName:   name,
		ItemName:       itemName,
		Category:       a.Category,
		EstimatedValue: max(a.EstimatedValue, 0),
		Decision:       a.Decision,
		Confidence:     confidence,
		ResponseTime:   opts.ResponseTime,
		Weight:         weight,
		LiveSearch:     opts.LiveSearch,
		Tiebreaker:     opts.Tiebreaker,
		Emergency:      opts.Emergency,
		Reasoning:      a.SummaryReasoning,
		Factors:        a.ValuationFactors,
		Raw:            raw,
	}
}

// AsEmergency returns a copy of v recast as an emergency vote, with
// confidence and weight discounted by EmergencyConfidenceDiscount.
func (v Vote) AsEmergency() Vote {
	if v.Emergency {
		return v
	}
	v.Confidence *= EmergencyConfidenceDiscount
	v.Weight *= EmergencyConfidenceDiscount
	v.Emergency = true
	return v
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
