package pipeline

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raine/item-appraiser/internal/authority"
	"github.com/raine/item-appraiser/internal/consensus"
	"github.com/raine/item-appraiser/internal/identify"
	"github.com/raine/item-appraiser/internal/llm"
	"github.com/raine/item-appraiser/internal/market"
	"github.com/raine/item-appraiser/internal/storage"
	"github.com/raine/item-appraiser/internal/telemetry"
)

const identification = `{"itemName": "Nintendo Switch OLED", "category": "electronics", "condition": "good", "identifiers": {"barcode": "0045496883386"}, "estimatedValue": 290, "decision": "BUY", "confidence": 0.7}`

var image = [][]byte{[]byte("\x89PNG fake image")}

// provider answers identification prompts with identification and every
// other prompt with pricing.
func provider(id string, pricing string, profile llm.Profile) llm.Provider {
	profile.ID = id
	return llm.FuncProvider{
		Info: profile,
		Fn: func(ctx context.Context, req llm.Request) (*llm.Completion, error) {
			if strings.HasPrefix(req.Prompt, "Identify the item") {
				return &llm.Completion{Text: identification, Usage: llm.Usage{CostUSD: 0.01}}, nil
			}
			if pricing == "" {
				return nil, errors.New("pricing unavailable")
			}
			return &llm.Completion{Text: pricing, Usage: llm.Usage{CostUSD: 0.02}}, nil
		},
	}
}

func pricingAnswer(decision string, value string) string {
	return `{"estimatedValue": ` + value + `, "decision": "` + decision + `", "confidence": 0.8, "summary_reasoning": "popular console"}`
}

type fakeFetcher struct {
	name string
	data *authority.Data
	err  error
}

func (f fakeFetcher) Name() string { return f.name }
func (f fakeFetcher) Covers(q authority.Query) bool { return q.Identifiers["barcode"] != "" }
func (f fakeFetcher) Lookup(ctx context.Context, q authority.Query) (*authority.Data, error) {
	return f.data, f.err
}
func (f fakeFetcher) Health(ctx context.Context) authority.Health {
	return authority.Health{Source: f.name, Status: authority.StatusHealthy}
}

type fakeSampler struct {
	prices []float64
	err    error
}

func (f fakeSampler) Name() string { return "tori" }
func (f fakeSampler) Sample(ctx context.Context, q market.Query) (market.Sample, error) {
	return market.Sample{Source: "tori", Prices: f.prices}, f.err
}

type memoryLog struct {
	mu         sync.Mutex
	valuations []*storage.Valuation
}

func (m *memoryLog) SaveValuation(v *storage.Valuation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.valuations = append(m.valuations, v)
	return nil
}

func vision() llm.Profile { return llm.Profile{SupportsVision: true, BaseWeight: 1} }

func TestAppraise_FullPipeline(t *testing.T) {
	rec := &telemetry.Recorder{}
	valuations := &memoryLog{}
	a := NewAppraiser(Config{}, Deps{
		Providers: []llm.Provider{
			provider("gemini", pricingAnswer("BUY", "300"), vision()),
			provider("gpt", pricingAnswer("BUY", "280"), vision()),
			provider("claude", pricingAnswer("SELL", "250"), vision()),
		},
		Fetchers: []authority.Fetcher{
			fakeFetcher{name: "upcitemdb", data: &authority.Data{
				Source:      "upcitemdb",
				Verified:    true,
				Confidence:  0.9,
				MarketValue: authority.ConditionPrices{Good: 320},
			}},
			fakeFetcher{name: "ean-search", err: authority.ErrNotFound},
		},
		Samplers:   []market.Sampler{fakeSampler{prices: []float64{280, 300, 310}}},
		Valuations: valuations,
		Emitter:    rec,
	})

	report, err := a.Appraise(context.Background(), Request{Images: image})
	require.NoError(t, err)

	assert.NotEmpty(t, report.RequestID)
	assert.Equal(t, "Nintendo Switch OLED", report.Identification.ItemName)
	assert.Equal(t, "0045496883386", report.Identification.Identifiers["barcode"])
	require.Len(t, report.Votes, 3)
	assert.Equal(t, llm.DecisionBuy, report.Consensus.Decision)
	assert.True(t, report.Consensus.AuthorityVerified)
	assert.Equal(t, "upcitemdb", report.Authority.Source)
	assert.Equal(t, "full_blend", report.Price.Method)
	assert.True(t, report.Price.AuthorityVerified)
	assert.False(t, report.TiebreakerUsed)
	assert.False(t, report.EmergencyVotes)
	assert.InDelta(t, 0.07, report.Usage.CostUSD, 1e-9)

	assert.Equal(t, 3, rec.Count(EventVote))
	assert.Equal(t, 1, rec.Count(EventAuthorityFound))
	assert.Equal(t, 1, rec.Count(EventAuthorityMiss))
	assert.Equal(t, 1, rec.Count(EventMarketSample))
	for _, e := range rec.Events() {
		if e.Stage != telemetry.StageIdentify {
			assert.Equal(t, report.RequestID, e.RequestID, e.Name)
		}
	}

	require.Len(t, valuations.valuations, 1)
	saved := valuations.valuations[0]
	assert.Equal(t, report.RequestID, saved.RequestID)
	assert.Equal(t, report.Price.FinalPrice, saved.FinalPrice)
	assert.Equal(t, 3, saved.VoteCount)
	assert.Contains(t, string(saved.Report), `"requestId"`)
}

func TestAppraise_NoImages(t *testing.T) {
	a := NewAppraiser(Config{}, Deps{})

	_, err := a.Appraise(context.Background(), Request{})

	assert.ErrorIs(t, err, ErrNoImages)
}

func TestAppraise_CloseVoteRunsTiebreaker(t *testing.T) {
	rec := &telemetry.Recorder{}
	a := NewAppraiser(Config{}, Deps{
		Providers: []llm.Provider{
			provider("gemini", pricingAnswer("BUY", "300"), vision()),
			provider("gpt", pricingAnswer("SELL", "200"), vision()),
			provider("referee", pricingAnswer("BUY", "260"), llm.Profile{Tiebreaker: true}),
		},
		Emitter: rec,
	})

	report, err := a.Appraise(context.Background(), Request{Images: image})
	require.NoError(t, err)

	assert.True(t, report.TiebreakerUsed)
	require.Len(t, report.Votes, 3)
	tb := report.Votes[2]
	assert.True(t, tb.Tiebreaker)
	assert.Equal(t, "referee"+consensus.TiebreakerSuffix, tb.ProviderName)
	assert.Equal(t, llm.DecisionBuy, report.Consensus.Decision)
	assert.Contains(t, report.Consensus.Adjustments, consensus.ReasonTiebreakerUsed)
	assert.Equal(t, 1, rec.Count(EventTiebreaker))
}

func TestAppraise_TiebreakerProvidersSkipRegularRound(t *testing.T) {
	a := NewAppraiser(Config{}, Deps{
		Providers: []llm.Provider{
			provider("gemini", pricingAnswer("BUY", "300"), vision()),
			provider("gpt", pricingAnswer("BUY", "280"), vision()),
			provider("referee", pricingAnswer("SELL", "100"), llm.Profile{Tiebreaker: true}),
		},
	})

	report, err := a.Appraise(context.Background(), Request{Images: image})
	require.NoError(t, err)

	assert.False(t, report.TiebreakerUsed)
	assert.Len(t, report.Votes, 2)
}

func TestAppraise_EmergencyVotesWhenPricingFails(t *testing.T) {
	rec := &telemetry.Recorder{}
	a := NewAppraiser(Config{}, Deps{
		Providers: []llm.Provider{provider("gemini", "", vision())},
		Emitter:   rec,
	})

	report, err := a.Appraise(context.Background(), Request{Images: image})
	require.NoError(t, err)

	assert.True(t, report.EmergencyVotes)
	require.Len(t, report.Votes, 1)
	assert.True(t, report.Votes[0].Emergency)
	assert.Equal(t, llm.DecisionBuy, report.Votes[0].Decision)
	assert.Equal(t, 290.0, report.Votes[0].EstimatedValue)
	assert.InDelta(t, 0.35, report.Votes[0].Weight, 1e-9)
	assert.Equal(t, llm.DecisionBuy, report.Consensus.Decision)
	assert.Equal(t, 290.0, report.Price.FinalPrice)
	assert.Equal(t, "single_source_ai_consensus", report.Price.Method)
	assert.Equal(t, consensus.TierDegraded, report.Consensus.Quality)
	assert.Contains(t, report.Consensus.Adjustments, consensus.ReasonLowVotes)
	assert.Equal(t, 1, rec.Count(EventVoteFailed))
	assert.Equal(t, 1, rec.Count(EventEmergencyVotes))
}

func TestAppraise_NoProvidersStillReports(t *testing.T) {
	a := NewAppraiser(Config{}, Deps{
		Samplers: []market.Sampler{fakeSampler{err: market.ErrInsufficientSamples}},
	})

	report, err := a.Appraise(context.Background(), Request{Images: image, NameHint: "old lamp"})
	require.NoError(t, err)

	assert.Equal(t, identify.NoProvider, report.Identification.PrimaryProvider)
	assert.Equal(t, "old lamp", report.Identification.ItemName)
	assert.Empty(t, report.Votes)
	assert.Equal(t, 0, report.Consensus.Confidence)
	assert.Equal(t, consensus.TierDegraded, report.Consensus.Quality)
	assert.Equal(t, "none", report.Price.Method)
}

func TestAppraise_UsesInjectedIdentifier(t *testing.T) {
	ident := identifierFunc(func(ctx context.Context, in identify.Input) identify.Result {
		return identify.Result{ItemName: "1921 Morgan Dollar", Category: "coins", Condition: "fine", PrimaryProvider: "cache", Cached: true}
	})
	a := NewAppraiser(Config{VoteTimeout: time.Second}, Deps{
		Identifier: ident,
		Providers:  []llm.Provider{provider("gemini", pricingAnswer("BUY", "45"), vision())},
	})

	report, err := a.Appraise(context.Background(), Request{Images: image, Condition: "good"})
	require.NoError(t, err)

	assert.True(t, report.Identification.Cached)
	assert.Equal(t, "1921 Morgan Dollar", report.Consensus.ItemName)
	assert.Equal(t, 45.0, report.Price.FinalPrice)
	assert.Equal(t, "single_source_ai_consensus", report.Price.Method)
}

type identifierFunc func(ctx context.Context, in identify.Input) identify.Result

func (f identifierFunc) Identify(ctx context.Context, in identify.Input) identify.Result {
	return f(ctx, in)
}
