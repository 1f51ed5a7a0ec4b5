package consensus

// Reason names a confidence adjustment.
type Reason string

const (
	ReasonLowVotes          Reason = "low_votes"
	ReasonHighVariance      Reason = "high_variance"
	ReasonSingleProvider    Reason = "single_provider"
	ReasonTiebreakerUsed    Reason = "tiebreaker_used"
	ReasonAuthorityVerified Reason = "authority_verified"
	ReasonHighAgreement     Reason = "high_agreement"
	ReasonManyVotes         Reason = "many_votes"
)

var penalties = map[Reason]int{
	ReasonLowVotes:       25,
	ReasonHighVariance:   15,
	ReasonSingleProvider: 50,
	ReasonTiebreakerUsed: 5,
}

var bonuses = map[Reason]int{
	ReasonAuthorityVerified: 5,
	ReasonHighAgreement:     3,
	ReasonManyVotes:         2,
}

// Delta returns the signed adjustment of a reason, 0 for unknown reasons.
func (r Reason) Delta() int {
	if p, ok := penalties[r]; ok {
		return -p
	}
	return bonuses[r]
}

// Penalize subtracts the penalty of each reason. Bonus reasons are ignored.
func Penalize(confidence int, reasons ...Reason) int {
	for _, r := range reasons {
		confidence -= penalties[r]
	}
	return clampScore(confidence)
}

// Bonus adds the bonus of each reason. Penalty reasons are ignored.
func Bonus(confidence int, reasons ...Reason) int {
	for _, r := range reasons {
		confidence += bonuses[r]
	}
	return clampScore(confidence)
}

// Adjust applies every reason's delta and clamps once, so the result does not
// depend on the order of reasons.
func Adjust(confidence int, reasons ...Reason) int {
	for _, r := range reasons {
		confidence += r.Delta()
	}
	return clampScore(confidence)
}

// CapByVoteCount limits confidence to limit when voteCount < minVotes.
func CapByVoteCount(confidence, voteCount, minVotes, limit int) int {
	confidence = clampScore(confidence)
	if voteCount < minVotes && confidence > limit {
		return clampScore(limit)
	}
	return confidence
}

func clampScore(c int) int {
	if c < 0 {
		return 0
	}
	if c > maxConfidence {
		return maxConfidence
	}
	return c
}
