package llm

import (
	"context"
	"errors"
)

var (
	// ErrInvalidAnalysis is returned when a provider answered but the answer
	// could not be normalized into a usable analysis.
	ErrInvalidAnalysis = errors.New("invalid analysis")
	// ErrEmptyResponse is returned when a provider returned no content.
	ErrEmptyResponse = errors.New("empty response")
)

// Provider specialties that affect vote weighting.
const (
	SpecialtyGeneral = "general"
	SpecialtyPricing = "pricing"
)

// DefaultBaseWeight is used for providers without a configured weight.
const DefaultBaseWeight = 0.75

// Profile describes a configured model provider.
type Profile struct {
	ID             string
	Name           string
	Model          string
	Specialty      string
	BaseWeight     float64
	SupportsVision bool
	LiveSearch     bool // provider can ground answers with live market search
	Tiebreaker     bool // provider is held back for tiebreaker rounds

	InputPricePerMillion  float64
	OutputPricePerMillion float64
}

// Weight returns the configured base weight or DefaultBaseWeight.
func (p Profile) Weight() float64 {
	if p.BaseWeight <= 0 {
		return DefaultBaseWeight
	}
	return p.BaseWeight
}

// DisplayName returns Name, falling back to ID.
func (p Profile) DisplayName() string {
	if p.Name != "" {
		return p.Name
	}
	return p.ID
}

// Usage contains token usage and cost information.
type Usage struct {
	InputTokens  int64
	OutputTokens int64
	TotalTokens  int64
	CostUSD      float64
}

// Request is one call to a provider.
type Request struct {
	Images [][]byte
	Prompt string
	// Search asks the provider to ground its answer with live market search
	// when its profile supports it.
	Search bool
}

// Completion is the raw text a provider returned.
type Completion struct {
	Text       string
	Usage      Usage
	LiveSearch bool // live search was actually used for this call
}

// Provider is a model provider adapter. Complete returns the provider's raw
// answer; normalization into an Analysis happens in Analyze.
type Provider interface {
	Profile() Profile
	Complete(ctx context.Context, req Request) (*Completion, error)
}

func calculateCost(inputTokens, outputTokens int64, inputPrice, outputPrice float64) float64 {
	inputCost := float64(inputTokens) / 1_000_000 * inputPrice
	outputCost := float64(outputTokens) / 1_000_000 * outputPrice
	return inputCost + outputCost
}

// FuncProvider adapts a function to the Provider interface.
type FuncProvider struct {
	Info Profile
	Fn   func(ctx context.Context, req Request) (*Completion, error)
}

func (f FuncProvider) Profile() Profile { return f.Info }

func (f FuncProvider) Complete(ctx context.Context, req Request) (*Completion, error) {
	return f.Fn(ctx, req)
}
