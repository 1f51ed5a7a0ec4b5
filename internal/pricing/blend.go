// Package pricing reconciles the AI consensus value with authority prices and
// market samples into one final price.
package pricing

import (
	"fmt"

	"github.com/raine/item-appraiser/internal/authority"
	"github.com/raine/item-appraiser/internal/consensus"
	"github.com/raine/item-appraiser/internal/market"
	"github.com/raine/item-appraiser/internal/stats"
)

// Source names used in blend results.
const (
	SourceAI = "ai_consensus"

	MethodNone = "none"
)

// Options tunes the blend. Zero fields take the values of DefaultOptions.
type Options struct {
	// Condition selects the authority price, see ConditionPrice.
	Condition string `toml:"-"`

	AuthorityWeight     float64 `toml:"authority_weight"`
	AuthorityConfidence float64 `toml:"authority_confidence"`
	AIWeight            float64 `toml:"ai_weight"`
	AIConfidence        float64 `toml:"ai_confidence"`
	// AIDisagreeConfidence replaces AIConfidence when the AI value is more
	// than DisagreementRatio away from the authority price.
	AIDisagreeConfidence float64 `toml:"ai_disagree_confidence"`
	DisagreementRatio    float64 `toml:"disagreement_ratio"`
	MarketWeight         float64 `toml:"market_weight"`
	MarketConfidence     float64 `toml:"market_confidence"`
	// With authority present, AI weight is multiplied by AIAuthorityFactor
	// and market weight by MarketAuthorityFactor.
	AIAuthorityFactor     float64 `toml:"ai_authority_factor"`
	MarketAuthorityFactor float64 `toml:"market_authority_factor"`

	// A blend below FloorRatio of the authority price is re-blended as
	// FloorPull*authority + (1-FloorPull)*blend.
	FloorRatio float64 `toml:"floor_ratio"`
	FloorPull  float64 `toml:"floor_pull"`

	// StrictAnchoring discards authority prices above MaxAuthorityRatio or
	// below MinAuthorityRatio times the AI value.
	StrictAnchoring   bool    `toml:"strict_anchoring"`
	MaxAuthorityRatio float64 `toml:"max_authority_ratio"`
	MinAuthorityRatio float64 `toml:"min_authority_ratio"`

	MinSourcesForHighConfidence int `toml:"min_sources_for_high_confidence"`
}

// DefaultOptions returns the default blend policy.
func DefaultOptions() Options {
	return Options{
		AuthorityWeight:             0.65,
		AuthorityConfidence:         0.95,
		AIWeight:                    0.4,
		AIConfidence:                0.7,
		AIDisagreeConfidence:        0.5,
		DisagreementRatio:           0.5,
		MarketWeight:                0.3,
		MarketConfidence:            0.6,
		AIAuthorityFactor:           0.5,
		MarketAuthorityFactor:       0.7,
		FloorRatio:                  0.5,
		FloorPull:                   0.7,
		MaxAuthorityRatio:           5,
		MinAuthorityRatio:           0.2,
		MinSourcesForHighConfidence: 2,
	}
}

// WithDefaults fills zero fields from DefaultOptions.
func (o Options) WithDefaults() Options {
	d := DefaultOptions()
	fill := func(v *float64, def float64) {
		if *v <= 0 {
			*v = def
		}
	}
	fill(&o.AuthorityWeight, d.AuthorityWeight)
	fill(&o.AuthorityConfidence, d.AuthorityConfidence)
	fill(&o.AIWeight, d.AIWeight)
	fill(&o.AIConfidence, d.AIConfidence)
	fill(&o.AIDisagreeConfidence, d.AIDisagreeConfidence)
	fill(&o.DisagreementRatio, d.DisagreementRatio)
	fill(&o.MarketWeight, d.MarketWeight)
	fill(&o.MarketConfidence, d.MarketConfidence)
	fill(&o.AIAuthorityFactor, d.AIAuthorityFactor)
	fill(&o.MarketAuthorityFactor, d.MarketAuthorityFactor)
	fill(&o.FloorRatio, d.FloorRatio)
	fill(&o.FloorPull, d.FloorPull)
	fill(&o.MaxAuthorityRatio, d.MaxAuthorityRatio)
	fill(&o.MinAuthorityRatio, d.MinAuthorityRatio)
	if o.MinSourcesForHighConfidence <= 0 {
		o.MinSourcesForHighConfidence = d.MinSourcesForHighConfidence
	}
	return o
}

// PriceSource is one contributing price observation.
type PriceSource struct {
	Source     string  `json:"source"`
	Value      float64 `json:"value"`
	Confidence float64 `json:"confidence"`
	Weight     float64 `json:"weight"`
	Condition  string  `json:"condition,omitempty"`
}

// Range is the span of contributing source values.
type Range struct {
	Low  float64 `json:"low"`
	High float64 `json:"high"`
}

// BlendedPrice is the reconciled final price.
type BlendedPrice struct {
	FinalPrice        float64       `json:"finalPrice"`
	Method            string        `json:"method"`
	Confidence        int           `json:"confidence"`
	Range             Range         `json:"range"`
	Sources           []PriceSource `json:"sources"`
	AuthorityVerified bool          `json:"authorityVerified"`
	FloorApplied      bool          `json:"floorApplied,omitempty"`
}

// Blend combines the AI consensus value, an optional authority record and
// market samples. Non-positive inputs are ignored; with no usable source the
// result has method "none" and zero price and confidence.
func Blend(aiConsensusValue float64, auth *authority.Data, samples []market.Sample, opts Options) BlendedPrice {
	opts = opts.WithDefaults()

	authPrice := 0.0
	if auth != nil {
		authPrice = ConditionPrice(auth.MarketValue, opts.Condition)
	}
	if authPrice > 0 && opts.StrictAnchoring && aiConsensusValue > 0 {
		ratio := authPrice / aiConsensusValue
		if ratio > opts.MaxAuthorityRatio || ratio < opts.MinAuthorityRatio {
			authPrice = 0
		}
	}
	hasAuthority := authPrice > 0

	var sources []PriceSource
	if hasAuthority {
		sources = append(sources, PriceSource{
			Source:     auth.Source,
			Value:      authPrice,
			Confidence: opts.AuthorityConfidence,
			Weight:     opts.AuthorityWeight,
			Condition:  opts.Condition,
		})
	}

	if aiConsensusValue > 0 {
		weight, confidence := opts.AIWeight, opts.AIConfidence
		if hasAuthority {
			weight *= opts.AIAuthorityFactor
			if disagreement(aiConsensusValue, authPrice) > opts.DisagreementRatio {
				confidence = opts.AIDisagreeConfidence
			}
		}
		sources = append(sources, PriceSource{
			Source:     SourceAI,
			Value:      aiConsensusValue,
			Confidence: confidence,
			Weight:     weight,
		})
	}

	marketSources := 0
	for _, s := range samples {
		m := stats.Median(positive(s.Prices))
		if m <= 0 {
			continue
		}
		weight := opts.MarketWeight
		if hasAuthority {
			weight *= opts.MarketAuthorityFactor
		}
		sources = append(sources, PriceSource{
			Source:     s.Source,
			Value:      m,
			Confidence: opts.MarketConfidence,
			Weight:     weight,
		})
		marketSources++
	}

	if len(sources) == 0 {
		return BlendedPrice{Method: MethodNone, Sources: []PriceSource{}}
	}

	var weighted, totalWeight float64
	values := make([]float64, 0, len(sources))
	low, high := sources[0].Value, sources[0].Value
	for _, s := range sources {
		weighted += s.Value * s.Weight
		totalWeight += s.Weight
		values = append(values, s.Value)
		low = min(low, s.Value)
		high = max(high, s.Value)
	}
	final := weighted / totalWeight

	floorApplied := false
	if hasAuthority && final < opts.FloorRatio*authPrice {
		final = opts.FloorPull*authPrice + (1-opts.FloorPull)*final
		floorApplied = true
	}

	return BlendedPrice{
		FinalPrice:        consensus.RoundCents(final),
		Method:            method(sources, hasAuthority, aiConsensusValue > 0, marketSources),
		Confidence:        blendConfidence(values, hasAuthority, opts.MinSourcesForHighConfidence),
		Range:             Range{Low: consensus.RoundCents(low), High: consensus.RoundCents(high)},
		Sources:           sources,
		AuthorityVerified: hasAuthority && auth.Verified,
		FloorApplied:      floorApplied,
	}
}

func disagreement(ai, authority float64) float64 {
	d := ai - authority
	if d < 0 {
		d = -d
	}
	return d / authority
}

func positive(values []float64) []float64 {
	out := make([]float64, 0, len(values))
	for _, v := range values {
		if v > 0 {
			out = append(out, v)
		}
	}
	return out
}

func method(sources []PriceSource, hasAuthority, hasAI bool, marketSources int) string {
	switch {
	case len(sources) == 1:
		return "single_source_" + sources[0].Source
	case hasAuthority && hasAI && marketSources > 0:
		return "full_blend"
	case hasAuthority && hasAI && marketSources == 0:
		return "ai_authority_blend"
	case !hasAuthority && hasAI && marketSources > 0:
		return "ai_market_blend"
	}
	return fmt.Sprintf("weighted_%d_sources", len(sources))
}

func blendConfidence(values []float64, hasAuthority bool, minSources int) int {
	c := 60
	if len(values) >= minSources {
		c = 80
	}
	if hasAuthority {
		c += 15
	}
	if len(values) > 1 {
		cv := consensus.CoefficientOfVariation(values)
		switch {
		case cv < 0.15:
			c += 5
		case cv > 0.5 && hasAuthority:
			c -= 5
		case cv > 0.5:
			c -= 10
		}
	}
	return min(max(c, 0), 99)
}
