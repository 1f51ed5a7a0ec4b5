package llm

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize_CodeFence(t *testing.T) {
	text := "```json\n{\"itemName\": \"Nintendo Switch\", \"estimatedValue\": \"$180\", \"decision\": \"buy\", \"confidence\": 85}\n```"

	p := Normalize(text)

	require.True(t, p.Valid, p.Reason)
	assert.Equal(t, "Nintendo Switch", p.Analysis.ItemName)
	assert.InDelta(t, 180.0, p.Analysis.EstimatedValue, 1e-9)
	assert.Equal(t, DecisionBuy, p.Analysis.Decision)
	assert.InDelta(t, 0.85, p.Analysis.Confidence, 1e-9)
	assert.True(t, p.Analysis.ConfidenceAsserted)
}

func TestNormalize_ProseAndAliases(t *testing.T) {
	text := `Here is my analysis: {"title": "Lego 75192", "price": "$700 - $800", "recommendation": "pass", "reasoning": "Market saturated", "factors": ["sealed", "retired"]} Hope this helps.`

	p := ValidatePricing(Normalize(text))

	require.True(t, p.Valid, p.Reason)
	assert.Equal(t, "Lego 75192", p.Analysis.ItemName)
	assert.InDelta(t, 750.0, p.Analysis.EstimatedValue, 1e-9)
	assert.Equal(t, DecisionSell, p.Analysis.Decision)
	assert.Equal(t, "Market saturated", p.Analysis.SummaryReasoning)
	assert.Equal(t, []string{"sealed", "retired"}, p.Analysis.ValuationFactors)
	assert.False(t, p.Analysis.ConfidenceAsserted)
	assert.InDelta(t, 0.7, p.Analysis.Confidence, 1e-9)
}

func TestNormalize_NestedPaths(t *testing.T) {
	text := `{"item": {"name": "Morgan Dollar", "category": "coins"}, "valuation": {"estimated_value": 45.5, "decision": "BUY"}}`

	p := ValidatePricing(Normalize(text))

	require.True(t, p.Valid, p.Reason)
	assert.Equal(t, "Morgan Dollar", p.Analysis.ItemName)
	assert.Equal(t, "coins", p.Analysis.Category)
	assert.InDelta(t, 45.5, p.Analysis.EstimatedValue, 1e-9)
	assert.Equal(t, DecisionBuy, p.Analysis.Decision)
	assert.NotNil(t, p.Raw["valuation"])
}

func TestNormalize_Invalid(t *testing.T) {
	tests := []struct {
		name   string
		text   string
		reason string
	}{
		{"no json", "I cannot identify this item.", "no json object in response"},
		{"unknown fields", `{"foo": 1}`, "no recognized fields"},
		{"broken json", `{"itemName": "Watch",}`, "malformed json"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := Normalize(tt.text)
			assert.False(t, p.Valid)
			assert.Contains(t, p.Reason, tt.reason)
		})
	}
}

func TestValidatePricing(t *testing.T) {
	p := ValidatePricing(Normalize(`{"itemName": "Watch", "estimatedValue": 100, "decision": "maybe"}`))
	assert.False(t, p.Valid)
	assert.Contains(t, p.Reason, "unrecognized decision")

	p = ValidatePricing(Normalize(`{"itemName": "Watch", "estimatedValue": -5, "decision": "BUY"}`))
	assert.False(t, p.Valid)
	assert.Equal(t, "negative estimated value", p.Reason)

	p = ValidatePricing(Normalize(`{"itemName": "Watch", "decision": "BUY"}`))
	assert.False(t, p.Valid)
	assert.Equal(t, "missing estimated value", p.Reason)
}

func TestValidateIdentification(t *testing.T) {
	p := ValidateIdentification(Normalize(`{"estimatedValue": 5}`))
	assert.False(t, p.Valid)
	assert.Equal(t, "missing item name", p.Reason)

	p = ValidateIdentification(Normalize(`{"name": "Casio F-91W", "identifiers": {"catalog_number": "F-91W-1"}}`))
	assert.True(t, p.Valid)
	assert.Equal(t, "F-91W-1", p.Analysis.Identifiers["catalog_number"])
}

func TestParseDecision(t *testing.T) {
	for _, s := range []string{"BUY", "buy", "Strong Buy", "yes", "Buy."} {
		d, ok := ParseDecision(s)
		assert.True(t, ok, s)
		assert.Equal(t, DecisionBuy, d, s)
	}
	for _, s := range []string{"SELL", "pass", "Hold", "avoid"} {
		d, ok := ParseDecision(s)
		assert.True(t, ok, s)
		assert.Equal(t, DecisionSell, d, s)
	}
	_, ok := ParseDecision("maybe")
	assert.False(t, ok)
}

func TestParseMoney(t *testing.T) {
	tests := map[string]float64{
		"$1,200":    1200,
		"45.50 USD": 45.5,
		"40-60":     50,
		"€ 15":      15,
		"-3":        -3,
	}
	for in, want := range tests {
		got, ok := parseMoney(in)
		assert.True(t, ok, in)
		assert.InDelta(t, want, got, 1e-9, in)
	}
	_, ok := parseMoney("priceless")
	assert.False(t, ok)
}

func TestAnalyze_UnparsableIsInvalid(t *testing.T) {
	p := FuncProvider{
		Info: Profile{ID: "stub"},
		Fn: func(ctx context.Context, req Request) (*Completion, error) {
			return &Completion{Text: "Sorry, I can't help with that."}, nil
		},
	}

	resp, err := Analyze(context.Background(), p, Request{Prompt: "x"}, ValidatePricing)

	assert.Nil(t, resp)
	assert.True(t, errors.Is(err, ErrInvalidAnalysis))
}

func TestAnalyze_EmptyText(t *testing.T) {
	p := FuncProvider{
		Info: Profile{ID: "stub"},
		Fn: func(ctx context.Context, req Request) (*Completion, error) {
			return &Completion{}, nil
		},
	}

	_, err := Analyze(context.Background(), p, Request{}, nil)

	assert.ErrorIs(t, err, ErrEmptyResponse)
}

func TestProfileWeight(t *testing.T) {
	assert.Equal(t, DefaultBaseWeight, Profile{}.Weight())
	assert.Equal(t, 1.1, Profile{BaseWeight: 1.1}.Weight())
	assert.Equal(t, "gemini", Profile{ID: "gemini"}.DisplayName())
}
