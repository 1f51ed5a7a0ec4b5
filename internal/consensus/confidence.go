package consensus

import (
	"math"
)

// Tier is the coarse quality band attached to a result.
type Tier string

const (
	TierHigh     Tier = "HIGH"
	TierGood     Tier = "GOOD"
	TierModerate Tier = "MODERATE"
	TierLow      Tier = "LOW"
	TierDegraded Tier = "DEGRADED"
)

// rank orders tiers from worst to best.
func (t Tier) rank() int {
	switch t {
	case TierHigh:
		return 4
	case TierGood:
		return 3
	case TierModerate:
		return 2
	case TierLow:
		return 1
	}
	return 0
}

// Weights of the confidence formula.
const (
	avgConfidenceWeight     = 0.35
	decisionAgreementWeight = 0.25
	valueAgreementWeight    = 0.25
	participationWeight     = 0.15
	authorityScoreBonus     = 0.05
	maxConfidence           = 99
)

// TierThresholds are the minimum confidence scores of each tier.
type TierThresholds struct {
	High     int `toml:"high"`
	Good     int `toml:"good"`
	Moderate int `toml:"moderate"`
	Low      int `toml:"low"`
}

// Config tunes tallying and scoring.
type Config struct {
	CloseVoteThreshold        float64        `toml:"close_vote_threshold"`
	MinVotesForFullConfidence int            `toml:"min_votes_for_full_confidence"`
	LowVoteCap                int            `toml:"low_vote_cap"`
	TargetProviderCount       int            `toml:"target_provider_count"`
	CriticalVoteCount         int            `toml:"critical_vote_count"`
	MinParticipationForTop    float64        `toml:"min_participation_for_top"`
	Tiers                     TierThresholds `toml:"tiers"`
}

// DefaultConfig returns the default scoring policy.
func DefaultConfig() Config {
	return Config{
		CloseVoteThreshold:        DefaultCloseVoteThreshold,
		MinVotesForFullConfidence: 3,
		LowVoteCap:                75,
		TargetProviderCount:       10,
		CriticalVoteCount:         2,
		MinParticipationForTop:    0.5,
		Tiers:                     TierThresholds{High: 90, Good: 80, Moderate: 65, Low: 50},
	}
}

// WithDefaults fills zero fields from DefaultConfig.
func (c Config) WithDefaults() Config {
	d := DefaultConfig()
	if c.CloseVoteThreshold <= 0 {
		c.CloseVoteThreshold = d.CloseVoteThreshold
	}
	if c.MinVotesForFullConfidence <= 0 {
		c.MinVotesForFullConfidence = d.MinVotesForFullConfidence
	}
	if c.LowVoteCap <= 0 {
		c.LowVoteCap = d.LowVoteCap
	}
	if c.TargetProviderCount <= 0 {
		c.TargetProviderCount = d.TargetProviderCount
	}
	if c.CriticalVoteCount <= 0 {
		c.CriticalVoteCount = d.CriticalVoteCount
	}
	if c.MinParticipationForTop <= 0 {
		c.MinParticipationForTop = d.MinParticipationForTop
	}
	if c.Tiers == (TierThresholds{}) {
		c.Tiers = d.Tiers
	}
	return c
}

// Score is the confidence of a vote set.
type Score struct {
	Confidence        int
	Quality           Tier
	Base              float64
	ParticipationRate float64
	Stats             VoteStats
	Tally             VoteTally
}

// Scorer computes confidence scores and quality tiers.
type Scorer struct {
	Config Config
}

// NewScorer returns a scorer with cfg defaults filled in.
func NewScorer(cfg Config) *Scorer {
	return &Scorer{Config: cfg.WithDefaults()}
}

// Score computes
//
//	base = avgConfidence×0.35 + decisionAgreement×0.25 + valueAgreement×0.25 + participation×0.15
//	confidence = min(99, round((base + 0.05 if authorityVerified) × 100))
//
// capped at LowVoteCap when fewer than MinVotesForFullConfidence votes exist.
// No votes scores 0.
func (s *Scorer) Score(votes []Vote, authorityVerified bool) Score {
	cfg := s.Config.WithDefaults()
	stats := ComputeStats(votes)
	tally := Tally(votes, cfg.CloseVoteThreshold)
	participation := s.ParticipationRate(len(votes))

	out := Score{Stats: stats, Tally: tally, ParticipationRate: participation}
	if len(votes) == 0 {
		out.Quality = s.Tier(0, 0, 0)
		return out
	}

	base := stats.AvgConfidence*avgConfidenceWeight +
		stats.DecisionAgreement*decisionAgreementWeight +
		stats.ValueAgreement*valueAgreementWeight +
		participation*participationWeight
	out.Base = base

	raw := base
	if authorityVerified {
		raw += authorityScoreBonus
	}
	confidence := clampScore(int(math.Round(raw * 100)))
	confidence = CapByVoteCount(confidence, len(votes), cfg.MinVotesForFullConfidence, cfg.LowVoteCap)

	out.Confidence = confidence
	out.Quality = s.Tier(confidence, len(votes), participation)
	return out
}

// ParticipationRate is min(1, n / TargetProviderCount).
func (s *Scorer) ParticipationRate(n int) float64 {
	cfg := s.Config.WithDefaults()
	return math.Min(1, float64(n)/float64(cfg.TargetProviderCount))
}

// Tier maps a confidence score onto a quality band. Fewer than
// CriticalVoteCount votes is always DEGRADED; participation below
// MinParticipationForTop caps the band at MODERATE.
func (s *Scorer) Tier(confidence, voteCount int, participation float64) Tier {
	cfg := s.Config.WithDefaults()
	if voteCount < cfg.CriticalVoteCount {
		return TierDegraded
	}

	var tier Tier
	switch {
	case confidence >= cfg.Tiers.High:
		tier = TierHigh
	case confidence >= cfg.Tiers.Good:
		tier = TierGood
	case confidence >= cfg.Tiers.Moderate:
		tier = TierModerate
	case confidence >= cfg.Tiers.Low:
		tier = TierLow
	default:
		tier = TierDegraded
	}

	if participation < cfg.MinParticipationForTop && tier.rank() > TierModerate.rank() {
		tier = TierModerate
	}
	return tier
}
