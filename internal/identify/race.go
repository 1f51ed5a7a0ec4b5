// Package identify determines what an item is by racing vision providers
// and taking the first usable answer.
package identify

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/raine/item-appraiser/internal/consensus"
	"github.com/raine/item-appraiser/internal/llm"
	"github.com/raine/item-appraiser/internal/telemetry"
)

// NoProvider is the primary provider of a hint-only fallback result.
const NoProvider = "none"

const (
	DefaultStageTimeout = 15 * time.Second
	// DefaultCallMargin is how much shorter each call's timeout is than the
	// stage timeout.
	DefaultCallMargin = 500 * time.Millisecond
)

// Event names emitted by the race.
const (
	EventStarted        = "race_started"
	EventProviderFailed = "race_provider_failed"
	EventGarbageName    = "race_garbage_name"
	EventWon            = "race_won"
	EventTimeout        = "race_timeout"
	EventExhausted      = "race_exhausted"
	EventNoProviders    = "race_no_providers"
)

// Config tunes the race.
type Config struct {
	StageTimeout time.Duration `toml:"stage_timeout"`
	CallMargin   time.Duration `toml:"call_margin"`
}

func (c Config) withDefaults() Config {
	if c.StageTimeout <= 0 {
		c.StageTimeout = DefaultStageTimeout
	}
	if c.CallMargin <= 0 {
		c.CallMargin = DefaultCallMargin
	}
	return c
}

// Input is one identification request.
type Input struct {
	Images       [][]byte
	NameHint     string
	CategoryHint string
	// Timeout overrides Config.StageTimeout when positive.
	Timeout time.Duration
}

// Result is the outcome of an identification.
type Result struct {
	ItemName        string           `json:"itemName"`
	Category        string           `json:"category,omitempty"`
	Condition       string           `json:"condition,omitempty"`
	Identifiers     Identifiers      `json:"identifiers,omitempty"`
	Description     string           `json:"description,omitempty"`
	PrimaryProvider string           `json:"primaryProvider"`
	Votes           []consensus.Vote `json:"-"`
	StageTime       time.Duration    `json:"stageTime"`
	Usage           llm.Usage        `json:"-"`
	Fallback        bool             `json:"fallback,omitempty"`
	Cached          bool             `json:"cached,omitempty"`
}

// Identifier identifies items.
type Identifier interface {
	Identify(ctx context.Context, in Input) Result
}

// Race sends the identification prompt to every vision provider at once and
// resolves on the first answer with a real item name.
type Race struct {
	Providers []llm.Provider
	Emitter   telemetry.Emitter
	Config    Config
}

// NewRace creates a race over providers.
func NewRace(providers []llm.Provider, emitter telemetry.Emitter, cfg Config) *Race {
	return &Race{Providers: providers, Emitter: emitter, Config: cfg}
}

type outcome struct {
	provider llm.Provider
	resp     *llm.Response
	err      error
}

// Identify never fails. When no provider produces a usable name before the
// stage timeout, or none is configured, the result is built from the hints
// with PrimaryProvider "none".
//
// Once the race resolves, completions still in flight are dropped where they
// arrive: they emit nothing and cannot change the result.
func (r *Race) Identify(ctx context.Context, in Input) Result {
	start := time.Now()
	cfg := r.Config.withDefaults()
	emitter := telemetry.Scoped{Next: telemetry.OrNop(r.Emitter), Stage: telemetry.StageIdentify}

	providers := visionProviders(r.Providers)
	if len(providers) == 0 {
		emitter.Emit(telemetry.Event{Name: EventNoProviders})
		return fallback(in, start)
	}

	stageTimeout := cfg.StageTimeout
	if in.Timeout > 0 {
		stageTimeout = in.Timeout
	}
	callTimeout := stageTimeout - cfg.CallMargin
	if callTimeout <= 0 {
		callTimeout = stageTimeout * 9 / 10
	}

	ctx, cancel := context.WithTimeout(ctx, stageTimeout)
	defer cancel()

	req := llm.Request{
		Images: in.Images,
		Prompt: llm.IdentifyPrompt(in.NameHint, in.CategoryHint),
	}

	// Buffered so abandoned calls never block on send.
	outcomes := make(chan outcome, len(providers))
	var resolved atomic.Bool

	emitter.Emit(telemetry.Event{Name: EventStarted, Fields: map[string]any{
		"providers":    len(providers),
		"stageTimeout": stageTimeout.String(),
	}})

	for _, p := range providers {
		go func(p llm.Provider) {
			callCtx, cancelCall := context.WithTimeout(ctx, callTimeout)
			defer cancelCall()
			resp, err := llm.Analyze(callCtx, p, req, llm.ValidateIdentification)
			if resolved.Load() {
				return
			}
			outcomes <- outcome{provider: p, resp: resp, err: err}
		}(p)
	}

	for pending := len(providers); pending > 0; {
		select {
		case o := <-outcomes:
			pending--
			id := o.provider.Profile().ID
			if o.err != nil {
				emitter.Emit(telemetry.Event{Name: EventProviderFailed, Provider: id, Fields: map[string]any{"error": o.err.Error()}})
				continue
			}
			name := o.resp.Parsed.Analysis.ItemName
			if IsGarbageName(name) {
				emitter.Emit(telemetry.Event{Name: EventGarbageName, Provider: id, Fields: map[string]any{"itemName": name}})
				continue
			}

			resolved.Store(true)
			cancel()
			result := winner(in, o.resp, start)
			emitter.Emit(telemetry.Event{Name: EventWon, Provider: id, Fields: map[string]any{
				"itemName":  result.ItemName,
				"stageTime": result.StageTime.String(),
			}})
			return result

		case <-ctx.Done():
			resolved.Store(true)
			emitter.Emit(telemetry.Event{Name: EventTimeout, Fields: map[string]any{"pending": pending}})
			return fallback(in, start)
		}
	}

	resolved.Store(true)
	emitter.Emit(telemetry.Event{Name: EventExhausted})
	return fallback(in, start)
}

func visionProviders(all []llm.Provider) []llm.Provider {
	var out []llm.Provider
	for _, p := range all {
		if p.Profile().SupportsVision {
			out = append(out, p)
		}
	}
	return out
}

func winner(in Input, resp *llm.Response, start time.Time) Result {
	a := resp.Parsed.Analysis
	category := a.Category
	if category == "" {
		category = in.CategoryHint
	}
	// Only answers that also priced the item count as a vote.
	var votes []consensus.Vote
	if llm.ValidatePricing(resp.Parsed).Valid {
		votes = append(votes, consensus.BuildVote(resp.Profile, a, resp.Parsed.Raw, consensus.VoteOptions{
			ResponseTime: resp.Elapsed,
			NameHint:     in.NameHint,
		}))
	}
	return Result{
		ItemName:        a.ItemName,
		Category:        category,
		Condition:       a.Condition,
		Identifiers:     ExtractIdentifiers(resp.Parsed.Raw, a.ItemName),
		Description:     a.Description,
		PrimaryProvider: resp.Profile.ID,
		Votes:           votes,
		StageTime:       time.Since(start),
		Usage:           resp.Usage,
	}
}

func fallback(in Input, start time.Time) Result {
	name := in.NameHint
	if name == "" {
		name = "Unknown item"
	}
	return Result{
		ItemName:        name,
		Category:        in.CategoryHint,
		Identifiers:     ExtractIdentifiers(nil, in.NameHint),
		PrimaryProvider: NoProvider,
		StageTime:       time.Since(start),
		Fallback:        true,
	}
}
