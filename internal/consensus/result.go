package consensus

import (
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/raine/item-appraiser/internal/llm"
)

// highVarianceAgreement and highAgreement bound the value/decision agreement
// that trigger the variance penalty and the agreement bonus.
const (
	highVarianceAgreement = 0.5
	highAgreement         = 0.9
	manyVotes             = 8
)

// ConsensusResult is the terminal object of the pricing path.
type ConsensusResult struct {
	ItemName          string       `json:"itemName"`
	EstimatedValue    float64      `json:"estimatedValue"`
	Decision          llm.Decision `json:"decision"`
	Confidence        int          `json:"confidence"`
	Reasoning         string       `json:"reasoning"`
	Quality           Tier         `json:"analysisQuality"`
	AuthorityVerified bool         `json:"authorityVerified"`
	Adjustments       []Reason     `json:"adjustments,omitempty"`
	Tally             VoteTally    `json:"tally"`
	Stats             VoteStats    `json:"stats"`
}

// BuildResult reduces votes into a ConsensusResult. It never fails: no votes
// gives a SELL result with zero confidence.
func BuildResult(votes []Vote, authorityVerified bool, cfg Config) ConsensusResult {
	scorer := NewScorer(cfg)
	cfg = scorer.Config
	score := scorer.Score(votes, authorityVerified)

	reasons := adjustmentReasons(votes, score.Stats)
	confidence := score.Confidence
	if len(votes) > 0 {
		confidence = Adjust(confidence, reasons...)
		confidence = CapByVoteCount(confidence, len(votes), cfg.MinVotesForFullConfidence, cfg.LowVoteCap)
	}

	itemName := score.Stats.ConsensusItemName
	if itemName == "" {
		itemName = unknownItemName
	}

	return ConsensusResult{
		ItemName:          itemName,
		EstimatedValue:    RoundCents(score.Stats.WeightedValue),
		Decision:          score.Tally.Decision,
		Confidence:        confidence,
		Reasoning:         reasoning(votes, score.Tally, score.Stats),
		Quality:           scorer.Tier(confidence, len(votes), score.ParticipationRate),
		AuthorityVerified: authorityVerified,
		Adjustments:       reasons,
		Tally:             score.Tally,
		Stats:             score.Stats,
	}
}

func adjustmentReasons(votes []Vote, stats VoteStats) []Reason {
	if len(votes) == 0 {
		return nil
	}
	var reasons []Reason

	providers := map[string]struct{}{}
	tiebreaker, allEmergency := false, true
	for _, v := range votes {
		providers[v.ProviderID] = struct{}{}
		tiebreaker = tiebreaker || v.Tiebreaker
		allEmergency = allEmergency && v.Emergency
	}

	if allEmergency {
		reasons = append(reasons, ReasonLowVotes)
	}
	if len(providers) == 1 {
		reasons = append(reasons, ReasonSingleProvider)
	}
	if tiebreaker {
		reasons = append(reasons, ReasonTiebreakerUsed)
	}
	if stats.ValueAgreement < highVarianceAgreement {
		reasons = append(reasons, ReasonHighVariance)
	}
	if stats.DecisionAgreement >= highAgreement && stats.ValueAgreement >= highAgreement {
		reasons = append(reasons, ReasonHighAgreement)
	}
	if len(votes) >= manyVotes {
		reasons = append(reasons, ReasonManyVotes)
	}
	return reasons
}

// reasoning takes the summary of the heaviest vote agreeing with the decision,
// or synthesizes one from the tally.
func reasoning(votes []Vote, tally VoteTally, stats VoteStats) string {
	agreeing := make([]Vote, 0, len(votes))
	for _, v := range votes {
		if v.Decision == tally.Decision && strings.TrimSpace(v.Reasoning) != "" {
			agreeing = append(agreeing, v)
		}
	}
	if len(agreeing) > 0 {
		sort.Slice(agreeing, func(i, j int) bool {
			if agreeing[i].Weight != agreeing[j].Weight {
				return agreeing[i].Weight > agreeing[j].Weight
			}
			return agreeing[i].ProviderID < agreeing[j].ProviderID
		})
		return strings.TrimSpace(agreeing[0].Reasoning)
	}

	if len(votes) == 0 {
		return "No provider returned a usable valuation."
	}
	side := tally.BuyVotes
	if tally.Decision == llm.DecisionSell {
		side = tally.SellVotes
	}
	return fmt.Sprintf("%d of %d providers recommend %s (weight %.2f vs %.2f); weighted estimate $%s.",
		side, len(votes), tally.Decision,
		max(tally.BuyWeight, tally.SellWeight), min(tally.BuyWeight, tally.SellWeight),
		decimal.NewFromFloat(stats.WeightedValue).StringFixed(2))
}

// RoundCents rounds a money amount to two decimals.
func RoundCents(v float64) float64 {
	return decimal.NewFromFloat(v).Round(2).InexactFloat64()
}
