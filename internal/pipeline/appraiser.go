// Package pipeline runs one appraisal end to end: identify the item, collect
// pricing votes, authority records and market samples in parallel, reduce the
// votes to a consensus and blend the final price.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/raine/item-appraiser/internal/authority"
	"github.com/raine/item-appraiser/internal/consensus"
	"github.com/raine/item-appraiser/internal/identify"
	"github.com/raine/item-appraiser/internal/llm"
	"github.com/raine/item-appraiser/internal/market"
	"github.com/raine/item-appraiser/internal/pricing"
	"github.com/raine/item-appraiser/internal/stats"
	"github.com/raine/item-appraiser/internal/storage"
	"github.com/raine/item-appraiser/internal/telemetry"
)

// ErrNoImages is returned for requests without photographs.
var ErrNoImages = errors.New("appraisal request has no images")

const (
	DefaultVoteTimeout   = 30 * time.Second
	DefaultLookupTimeout = 10 * time.Second
)

// Event names emitted by the pipeline.
const (
	EventVote            = "pricing_vote"
	EventVoteFailed      = "pricing_vote_failed"
	EventTiebreaker      = "tiebreaker_round"
	EventEmergencyVotes  = "emergency_votes"
	EventAuthorityFound  = "authority_found"
	EventAuthorityMiss   = "authority_miss"
	EventAuthorityFailed = "authority_failed"
	EventMarketSample    = "market_sample"
	EventMarketFailed    = "market_failed"
	EventConsensus       = "consensus_built"
	EventBlended         = "price_blended"
)

// Config tunes the stages after identification.
type Config struct {
	Identify  identify.Config
	Consensus consensus.Config
	Pricing   pricing.Options
	// VoteTimeout bounds each pricing and tiebreaker round.
	VoteTimeout time.Duration
	// LookupTimeout bounds authority lookups and market sampling.
	LookupTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.VoteTimeout <= 0 {
		c.VoteTimeout = DefaultVoteTimeout
	}
	if c.LookupTimeout <= 0 {
		c.LookupTimeout = DefaultLookupTimeout
	}
	c.Consensus = c.Consensus.WithDefaults()
	return c
}

// ValuationLog receives every finished appraisal.
type ValuationLog interface {
	SaveValuation(v *storage.Valuation) error
}

// Deps are the collaborators of an Appraiser. Only Providers is required.
type Deps struct {
	Providers []llm.Provider
	// Identifier defaults to a race over the vision-capable Providers.
	Identifier identify.Identifier
	Fetchers   []authority.Fetcher
	Samplers   []market.Sampler
	Valuations ValuationLog
	Emitter    telemetry.Emitter
}

// Appraiser is the composition root of the appraisal stages.
type Appraiser struct {
	cfg        Config
	identifier identify.Identifier
	providers  []llm.Provider
	fetchers   []authority.Fetcher
	samplers   []market.Sampler
	valuations ValuationLog
	emitter    telemetry.Emitter
}

// NewAppraiser creates an appraiser.
func NewAppraiser(cfg Config, deps Deps) *Appraiser {
	emitter := telemetry.OrNop(deps.Emitter)
	identifier := deps.Identifier
	if identifier == nil {
		identifier = identify.NewRace(deps.Providers, emitter, cfg.Identify)
	}
	return &Appraiser{
		cfg:        cfg.withDefaults(),
		identifier: identifier,
		providers:  deps.Providers,
		fetchers:   deps.Fetchers,
		samplers:   deps.Samplers,
		valuations: deps.Valuations,
		emitter:    emitter,
	}
}

// Request is one appraisal.
type Request struct {
	Images       [][]byte
	NameHint     string
	CategoryHint string
	// Condition overrides the condition reported by identification.
	Condition string
	// Search asks providers that support it to ground pricing in live
	// market search.
	Search bool
}

// Report is the outcome of an appraisal.
type Report struct {
	RequestID      string                    `json:"requestId"`
	Identification identify.Result           `json:"identification"`
	Consensus      consensus.ConsensusResult `json:"consensus"`
	Price          pricing.BlendedPrice      `json:"price"`
	Authority      *authority.Data           `json:"authority,omitempty"`
	Market         []market.Sample           `json:"market,omitempty"`
	Votes          []consensus.Vote          `json:"-"`
	TiebreakerUsed bool                      `json:"tiebreakerUsed,omitempty"`
	EmergencyVotes bool                      `json:"emergencyVotes,omitempty"`
	Usage          llm.Usage                 `json:"usage"`
	Elapsed        time.Duration             `json:"elapsed"`
}

// Appraise runs all stages. It fails only for malformed requests: provider,
// authority and market failures degrade the report instead.
func (a *Appraiser) Appraise(ctx context.Context, req Request) (*Report, error) {
	if len(req.Images) == 0 {
		return nil, ErrNoImages
	}

	start := time.Now()
	report := &Report{RequestID: uuid.NewString()}
	logger := log.With().Str("requestId", report.RequestID).Logger()

	ident := a.identifier.Identify(ctx, identify.Input{
		Images:       req.Images,
		NameHint:     req.NameHint,
		CategoryHint: req.CategoryHint,
		Timeout:      a.cfg.Identify.StageTimeout,
	})
	report.Identification = ident
	addUsage(&report.Usage, ident.Usage)
	logger.Info().
		Str("itemName", ident.ItemName).
		Str("provider", ident.PrimaryProvider).
		Bool("cached", ident.Cached).
		Bool("fallback", ident.Fallback).
		Dur("stageTime", ident.StageTime).
		Msg("identified item")

	item := llm.ItemContext{
		ItemName:    ident.ItemName,
		Category:    ident.Category,
		Condition:   ident.Condition,
		Identifiers: ident.Identifiers,
	}
	if req.Condition != "" {
		item.Condition = req.Condition
	}
	query := authority.Query{ItemName: item.ItemName, Category: item.Category, Identifiers: item.Identifiers}

	var (
		votes   []consensus.Vote
		usage   llm.Usage
		records []*authority.Data
		samples []market.Sample
	)
	g := new(errgroup.Group)
	g.Go(func() error {
		votes, usage = a.collectVotes(ctx, report.RequestID, a.regularProviders(), llm.PricingPrompt(item), req, consensus.VoteOptions{NameHint: item.ItemName})
		return nil
	})
	g.Go(func() error {
		records = a.lookupAuthority(ctx, report.RequestID, query)
		return nil
	})
	g.Go(func() error {
		samples = a.sampleMarkets(ctx, report.RequestID, market.Query{ItemName: item.ItemName, Category: item.Category})
		return nil
	})
	g.Wait()
	addUsage(&report.Usage, usage)

	tally := consensus.Tally(votes, a.cfg.Consensus.CloseVoteThreshold)
	if len(votes) > 0 && tally.IsCloseVote {
		tiebreakers := a.tiebreakerProviders()
		a.emit(report.RequestID, telemetry.StagePricing, telemetry.Event{Name: EventTiebreaker, Fields: map[string]any{
			"providers":        len(tiebreakers),
			"weightDifference": tally.WeightDifference,
		}})
		prompt := llm.TiebreakerPrompt(item, tally.BuyVotes, tally.BuyWeight, tally.SellVotes, tally.SellWeight)
		extra, extraUsage := a.collectVotes(ctx, report.RequestID, tiebreakers, prompt, req, consensus.VoteOptions{Tiebreaker: true, NameHint: item.ItemName})
		votes = append(votes, extra...)
		addUsage(&report.Usage, extraUsage)
		report.TiebreakerUsed = len(extra) > 0
	}

	if len(votes) == 0 && len(ident.Votes) > 0 {
		for _, v := range ident.Votes {
			votes = append(votes, v.AsEmergency())
		}
		report.EmergencyVotes = true
		a.emit(report.RequestID, telemetry.StagePricing, telemetry.Event{Name: EventEmergencyVotes, Fields: map[string]any{"votes": len(votes)}})
	}
	report.Votes = votes

	report.Authority = authority.Best(records)
	authorityVerified := report.Authority != nil && report.Authority.Verified
	report.Consensus = consensus.BuildResult(votes, authorityVerified, a.cfg.Consensus)
	a.emit(report.RequestID, telemetry.StageConsensus, telemetry.Event{Name: EventConsensus, Fields: map[string]any{
		"votes":      len(votes),
		"decision":   string(report.Consensus.Decision),
		"confidence": report.Consensus.Confidence,
		"quality":    string(report.Consensus.Quality),
	}})

	opts := a.cfg.Pricing
	opts.Condition = item.Condition
	report.Market = samples
	report.Price = pricing.Blend(report.Consensus.EstimatedValue, report.Authority, samples, opts)
	a.emit(report.RequestID, telemetry.StageBlend, telemetry.Event{Name: EventBlended, Fields: map[string]any{
		"finalPrice": report.Price.FinalPrice,
		"method":     report.Price.Method,
		"confidence": report.Price.Confidence,
	}})

	report.Elapsed = time.Since(start)
	logger.Info().
		Str("decision", string(report.Consensus.Decision)).
		Float64("finalPrice", report.Price.FinalPrice).
		Str("quality", string(report.Consensus.Quality)).
		Float64("costUSD", report.Usage.CostUSD).
		Dur("elapsed", report.Elapsed).
		Msg("appraisal complete")

	a.save(report)
	return report, nil
}

func (a *Appraiser) regularProviders() []llm.Provider {
	var out []llm.Provider
	for _, p := range a.providers {
		if !p.Profile().Tiebreaker {
			out = append(out, p)
		}
	}
	return out
}

func (a *Appraiser) tiebreakerProviders() []llm.Provider {
	var out []llm.Provider
	for _, p := range a.providers {
		if p.Profile().Tiebreaker {
			out = append(out, p)
		}
	}
	return out
}

// collectVotes asks every provider concurrently and waits for all of them or
// the vote timeout. Votes keep provider order.
func (a *Appraiser) collectVotes(ctx context.Context, requestID string, providers []llm.Provider, prompt string, req Request, opts consensus.VoteOptions) ([]consensus.Vote, llm.Usage) {
	if len(providers) == 0 {
		return nil, llm.Usage{}
	}
	ctx, cancel := context.WithTimeout(ctx, a.cfg.VoteTimeout)
	defer cancel()

	slots := make([]*consensus.Vote, len(providers))
	var (
		mu    sync.Mutex
		usage llm.Usage
	)
	g := new(errgroup.Group)
	for i, p := range providers {
		g.Go(func() error {
			id := p.Profile().ID
			resp, err := llm.Analyze(ctx, p, llm.Request{Images: req.Images, Prompt: prompt, Search: req.Search}, llm.ValidatePricing)
			if err != nil {
				a.emit(requestID, telemetry.StagePricing, telemetry.Event{Name: EventVoteFailed, Provider: id, Fields: map[string]any{"error": err.Error()}})
				return nil
			}

			o := opts
			o.LiveSearch = resp.LiveSearch
			o.ResponseTime = resp.Elapsed
			v := consensus.BuildVote(resp.Profile, resp.Parsed.Analysis, resp.Parsed.Raw, o)
			slots[i] = &v

			mu.Lock()
			addUsage(&usage, resp.Usage)
			mu.Unlock()

			a.emit(requestID, telemetry.StagePricing, telemetry.Event{Name: EventVote, Provider: id, Fields: map[string]any{
				"decision":       string(v.Decision),
				"estimatedValue": v.EstimatedValue,
				"weight":         v.Weight,
				"tiebreaker":     v.Tiebreaker,
				"responseTime":   v.ResponseTime.String(),
			}})
			return nil
		})
	}
	g.Wait()

	var votes []consensus.Vote
	for _, v := range slots {
		if v != nil {
			votes = append(votes, *v)
		}
	}
	return votes, usage
}

// lookupAuthority asks every fetcher covering the query. Results keep
// fetcher order; misses and failures are dropped.
func (a *Appraiser) lookupAuthority(ctx context.Context, requestID string, q authority.Query) []*authority.Data {
	ctx, cancel := context.WithTimeout(ctx, a.cfg.LookupTimeout)
	defer cancel()

	results := make([]*authority.Data, len(a.fetchers))
	g := new(errgroup.Group)
	for i, f := range a.fetchers {
		if !f.Covers(q) {
			continue
		}
		g.Go(func() error {
			d, err := f.Lookup(ctx, q)
			switch {
			case errors.Is(err, authority.ErrNotFound):
				a.emit(requestID, telemetry.StageAuthority, telemetry.Event{Name: EventAuthorityMiss, Provider: f.Name()})
			case err != nil:
				a.emit(requestID, telemetry.StageAuthority, telemetry.Event{Name: EventAuthorityFailed, Provider: f.Name(), Fields: map[string]any{"error": err.Error()}})
			default:
				results[i] = d
				a.emit(requestID, telemetry.StageAuthority, telemetry.Event{Name: EventAuthorityFound, Provider: d.Source, Fields: map[string]any{
					"verified":   d.Verified,
					"confidence": d.Confidence,
				}})
			}
			return nil
		})
	}
	g.Wait()
	return results
}

func (a *Appraiser) sampleMarkets(ctx context.Context, requestID string, q market.Query) []market.Sample {
	ctx, cancel := context.WithTimeout(ctx, a.cfg.LookupTimeout)
	defer cancel()

	slots := make([]*market.Sample, len(a.samplers))
	g := new(errgroup.Group)
	for i, s := range a.samplers {
		g.Go(func() error {
			sample, err := s.Sample(ctx, q)
			if err != nil {
				a.emit(requestID, telemetry.StageMarket, telemetry.Event{Name: EventMarketFailed, Provider: s.Name(), Fields: map[string]any{"error": err.Error()}})
				return nil
			}
			slots[i] = &sample
			a.emit(requestID, telemetry.StageMarket, telemetry.Event{Name: EventMarketSample, Provider: s.Name(), Fields: map[string]any{
				"count":  len(sample.Prices),
				"median": stats.Median(sample.Prices),
			}})
			return nil
		})
	}
	g.Wait()

	var samples []market.Sample
	for _, s := range slots {
		if s != nil {
			samples = append(samples, *s)
		}
	}
	return samples
}

func (a *Appraiser) save(r *Report) {
	if a.valuations == nil {
		return
	}
	body, err := json.Marshal(r)
	if err != nil {
		log.Error().Err(err).Str("requestId", r.RequestID).Msg("failed to encode report")
		return
	}
	v := &storage.Valuation{
		RequestID:       r.RequestID,
		ItemName:        r.Consensus.ItemName,
		Decision:        string(r.Consensus.Decision),
		EstimatedValue:  r.Consensus.EstimatedValue,
		FinalPrice:      r.Price.FinalPrice,
		Confidence:      r.Consensus.Confidence,
		Quality:         string(r.Consensus.Quality),
		Method:          r.Price.Method,
		PrimaryProvider: r.Identification.PrimaryProvider,
		VoteCount:       len(r.Votes),
		CostUSD:         r.Usage.CostUSD,
		Report:          body,
	}
	if err := a.valuations.SaveValuation(v); err != nil {
		log.Error().Err(err).Str("requestId", r.RequestID).Msg("failed to save valuation")
	}
}

func (a *Appraiser) emit(requestID, stage string, e telemetry.Event) {
	telemetry.Scoped{Next: a.emitter, RequestID: requestID, Stage: stage}.Emit(e)
}

func addUsage(total *llm.Usage, u llm.Usage) {
	total.InputTokens += u.InputTokens
	total.OutputTokens += u.OutputTokens
	total.TotalTokens += u.TotalTokens
	total.CostUSD += u.CostUSD
}

// String summarizes a report on one line.
func (r *Report) String() string {
	return fmt.Sprintf("%s: %s at $%.2f (%s, confidence %d, %s)",
		r.Consensus.ItemName, r.Consensus.Decision, r.Price.FinalPrice,
		r.Consensus.Quality, r.Consensus.Confidence, r.Price.Method)
}
