// Package app builds the appraiser's collaborators from configuration.
package app

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/raine/item-appraiser/config"
	"github.com/raine/item-appraiser/internal/authority"
	"github.com/raine/item-appraiser/internal/cache"
	"github.com/raine/item-appraiser/internal/identify"
	"github.com/raine/item-appraiser/internal/llm"
	"github.com/raine/item-appraiser/internal/market"
	"github.com/raine/item-appraiser/internal/pipeline"
	"github.com/raine/item-appraiser/internal/storage"
	"github.com/raine/item-appraiser/internal/telemetry"
)

// BuildProviders creates the enabled providers. Providers whose API key
// variable is configured but empty are skipped with a warning.
func BuildProviders(ctx context.Context, cfg *config.Config) ([]llm.Provider, error) {
	var providers []llm.Provider
	for _, id := range cfg.ProviderIDs() {
		pc := cfg.Providers[id]
		key := pc.APIKey()
		if pc.APIKeyEnv != "" && key == "" {
			log.Warn().Str("provider", id).Str("env", pc.APIKeyEnv).Msg("api key not set, provider disabled")
			continue
		}

		switch pc.Kind {
		case config.KindGemini:
			p, err := llm.NewGeminiProvider(ctx, llm.GeminiConfig{APIKey: key, Profile: pc.Profile(id)})
			if err != nil {
				return nil, fmt.Errorf("provider %s: %w", id, err)
			}
			providers = append(providers, p)
		case config.KindOpenAI:
			providers = append(providers, llm.NewOpenAIProvider(llm.OpenAIConfig{
				BaseURL: pc.BaseURL,
				APIKey:  key,
				Profile: pc.Profile(id),
			}))
		default:
			return nil, fmt.Errorf("provider %s: unknown kind %q", id, pc.Kind)
		}
		log.Info().Str("provider", id).Str("kind", pc.Kind).Msg("provider initialized")
	}
	return providers, nil
}

// BuildTokenCache returns a Redis token cache when an address is configured
// and reachable, otherwise an in-process cache.
func BuildTokenCache(ctx context.Context, cfg *config.Config) cache.TokenCache {
	if cfg.Redis.Addr == "" {
		return cache.NewMemoryTokenCache(cache.DefaultSkew)
	}
	rc, err := cache.NewRedisTokenCache(ctx, cfg.Redis)
	if err != nil {
		log.Warn().Err(err).Str("addr", cfg.Redis.Addr).Msg("redis unavailable, using in-memory token cache")
		return cache.NewMemoryTokenCache(cache.DefaultSkew)
	}
	return rc
}

// BuildFetchers creates the enabled authority sources. Barcode sources are
// chained into one cascade so a UPCitemdb miss falls through to EAN-Search.
func BuildFetchers(cfg *config.Config, tokens cache.TokenCache) []authority.Fetcher {
	a := cfg.Authority

	var barcode []authority.Fetcher
	if a.UPCItemDB.Enabled {
		barcode = append(barcode, authority.NewUPCItemDB(authority.UPCItemDBConfig{
			ClientOpts: a.UPCItemDB.ClientOpts(),
			UserKey:    a.UPCItemDB.Key(),
		}))
	}
	if a.EANSearch.Enabled && a.EANSearch.Key() != "" {
		barcode = append(barcode, authority.NewEANSearch(authority.EANSearchConfig{
			ClientOpts: a.EANSearch.ClientOpts(),
			Token:      a.EANSearch.Key(),
		}))
	}

	var fetchers []authority.Fetcher
	switch len(barcode) {
	case 0:
	case 1:
		fetchers = append(fetchers, barcode[0])
	default:
		fetchers = append(fetchers, authority.NewCascade("barcode", barcode...))
	}

	if a.Numista.Enabled && a.Numista.Key() != "" {
		fetchers = append(fetchers, authority.NewNumista(authority.NumistaConfig{
			ClientOpts: a.Numista.ClientOpts(),
			APIKey:     a.Numista.Key(),
			Currency:   a.NumistaCurrency,
		}, tokens))
	}
	return fetchers
}

// BuildSamplers creates the enabled market samplers.
func BuildSamplers(cfg *config.Config) []market.Sampler {
	var samplers []market.Sampler
	if cfg.Market.Tori.Enabled {
		samplers = append(samplers, market.NewToriSampler(cfg.Market.Tori.Sampler()))
	}
	return samplers
}

// Appraiser bundles an appraiser with the resources it holds open.
type Appraiser struct {
	*pipeline.Appraiser
	Store  storage.Store
	tokens cache.TokenCache
}

// Close releases the store and the token cache.
func (a *Appraiser) Close() error {
	if c, ok := a.tokens.(interface{ Close() error }); ok {
		if err := c.Close(); err != nil {
			log.Warn().Err(err).Msg("failed to close token cache")
		}
	}
	return a.Store.Close()
}

// NewAppraiser wires every collaborator from cfg. Identification results are
// cached in the SQLite store.
func NewAppraiser(ctx context.Context, cfg *config.Config) (*Appraiser, error) {
	providers, err := BuildProviders(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if len(providers) == 0 {
		return nil, fmt.Errorf("no providers configured: set GEMINI_API_KEY or OPENAI_API_KEY")
	}

	store, err := storage.NewSQLiteStore(cfg.Storage.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	log.Info().Str("dbPath", cfg.Storage.Path).Msg("store initialized")

	tokens := BuildTokenCache(ctx, cfg)
	emitter := telemetry.NewLogEmitter()
	race := identify.NewRace(providers, emitter, cfg.IdentifyOptions())

	appraiser := pipeline.NewAppraiser(cfg.PipelineOptions(), pipeline.Deps{
		Providers:  providers,
		Identifier: identify.NewCachedIdentifier(race, store),
		Fetchers:   BuildFetchers(cfg, tokens),
		Samplers:   BuildSamplers(cfg),
		Valuations: store,
		Emitter:    emitter,
	})
	return &Appraiser{Appraiser: appraiser, Store: store, tokens: tokens}, nil
}
