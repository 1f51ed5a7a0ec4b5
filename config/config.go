// Package config loads the appraiser configuration: built-in defaults, an
// optional TOML file, the user's config.env and APPRAISER_* environment
// overrides, in that order.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/raine/item-appraiser/internal/authority"
	"github.com/raine/item-appraiser/internal/cache"
	"github.com/raine/item-appraiser/internal/consensus"
	"github.com/raine/item-appraiser/internal/identify"
	"github.com/raine/item-appraiser/internal/llm"
	"github.com/raine/item-appraiser/internal/market"
	"github.com/raine/item-appraiser/internal/pipeline"
	"github.com/raine/item-appraiser/internal/pricing"
)

const (
	AppName     = "item-appraiser"
	EnvFileName = "config.env"
	DBFileName  = "appraiser.db"
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid config")

// Provider kinds.
const (
	KindGemini = "gemini"
	KindOpenAI = "openai"
)

// LoadEnvFile loads environment variables from the config file in the user's
// config directory. Errors are ignored since the file may not exist.
func LoadEnvFile() {
	configBase, err := os.UserConfigDir()
	if err != nil {
		return
	}
	configPath := filepath.Join(configBase, AppName, EnvFileName)
	_ = godotenv.Load(configPath)
}

// DefaultDBPath is the SQLite database in the user's config directory, or
// in the working directory when that is unknown.
func DefaultDBPath() string {
	configBase, err := os.UserConfigDir()
	if err != nil {
		return DBFileName
	}
	return filepath.Join(configBase, AppName, DBFileName)
}

// duration decodes TOML strings like "15s".
type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Config is the root configuration. A [providers.<id>] table in the file
// replaces the built-in entry with the same id.
type Config struct {
	LogLevel  string                    `toml:"log_level"`
	Identify  IdentifyConfig            `toml:"identify"`
	Pipeline  PipelineConfig            `toml:"pipeline"`
	Consensus consensus.Config          `toml:"consensus"`
	Pricing   pricing.Options           `toml:"pricing"`
	Providers map[string]ProviderConfig `toml:"providers"`
	Authority AuthorityConfig           `toml:"authority"`
	Market    MarketConfig              `toml:"market"`
	Storage   StorageConfig             `toml:"storage"`
	Redis     cache.RedisConfig         `toml:"redis"`
}

// IdentifyConfig tunes the identification race.
type IdentifyConfig struct {
	StageTimeout duration `toml:"stage_timeout"`
	CallMargin   duration `toml:"call_margin"`
}

// PipelineConfig bounds the stages after identification.
type PipelineConfig struct {
	VoteTimeout   duration `toml:"vote_timeout"`
	LookupTimeout duration `toml:"lookup_timeout"`
}

// ProviderConfig describes one model provider.
type ProviderConfig struct {
	Enabled    bool    `toml:"enabled"`
	Kind       string  `toml:"kind"`
	Name       string  `toml:"name"`
	Model      string  `toml:"model"`
	BaseURL    string  `toml:"base_url"`
	APIKeyEnv  string  `toml:"api_key_env"`
	BaseWeight float64 `toml:"base_weight"`
	Specialty  string  `toml:"specialty"`
	Vision     bool    `toml:"vision"`
	LiveSearch bool    `toml:"live_search"`
	Tiebreaker bool    `toml:"tiebreaker"`
}

// APIKey reads the provider key from its environment variable.
func (p ProviderConfig) APIKey() string {
	if p.APIKeyEnv == "" {
		return ""
	}
	return os.Getenv(p.APIKeyEnv)
}

// Profile converts the entry into an llm.Profile.
func (p ProviderConfig) Profile(id string) llm.Profile {
	return llm.Profile{
		ID:             id,
		Name:           p.Name,
		Model:          p.Model,
		Specialty:      p.Specialty,
		BaseWeight:     p.BaseWeight,
		SupportsVision: p.Vision,
		LiveSearch:     p.LiveSearch,
		Tiebreaker:     p.Tiebreaker,
	}
}

// FetcherConfig configures one authority source.
type FetcherConfig struct {
	Enabled           bool     `toml:"enabled"`
	BaseURL           string   `toml:"base_url"`
	Timeout           duration `toml:"timeout"`
	RequestsPerSecond float64  `toml:"requests_per_second"`
	Burst             int      `toml:"burst"`
	KeyEnv            string   `toml:"key_env"`
}

// Key reads the source credential from its environment variable.
func (f FetcherConfig) Key() string {
	if f.KeyEnv == "" {
		return ""
	}
	return os.Getenv(f.KeyEnv)
}

// ClientOpts converts the entry into authority client options.
func (f FetcherConfig) ClientOpts() authority.ClientOpts {
	return authority.ClientOpts{
		BaseURL:           f.BaseURL,
		Timeout:           f.Timeout.Duration,
		RequestsPerSecond: f.RequestsPerSecond,
		Burst:             f.Burst,
	}
}

// AuthorityConfig configures the authority sources.
type AuthorityConfig struct {
	UPCItemDB       FetcherConfig `toml:"upcitemdb"`
	EANSearch       FetcherConfig `toml:"ean_search"`
	Numista         FetcherConfig `toml:"numista"`
	NumistaCurrency string        `toml:"numista_currency"`
}

// MarketConfig configures market samplers.
type MarketConfig struct {
	Tori ToriConfig `toml:"tori"`
}

// ToriConfig configures the tori.fi sampler.
type ToriConfig struct {
	Enabled           bool     `toml:"enabled"`
	BaseURL           string   `toml:"base_url"`
	Rows              int      `toml:"rows"`
	MinListings       int      `toml:"min_listings"`
	Timeout           duration `toml:"timeout"`
	RequestsPerSecond float64  `toml:"requests_per_second"`
}

// Sampler converts the entry into market sampler options.
func (t ToriConfig) Sampler() market.ToriConfig {
	return market.ToriConfig{
		BaseURL:           t.BaseURL,
		Rows:              t.Rows,
		MinListings:       t.MinListings,
		Timeout:           t.Timeout.Duration,
		RequestsPerSecond: t.RequestsPerSecond,
	}
}

// StorageConfig configures the SQLite database.
type StorageConfig struct {
	Path string `toml:"path"`
}

// Defaults returns the built-in configuration.
func Defaults() Config {
	return Config{
		LogLevel: "info",
		Identify: IdentifyConfig{
			StageTimeout: duration{identify.DefaultStageTimeout},
			CallMargin:   duration{identify.DefaultCallMargin},
		},
		Pipeline: PipelineConfig{
			VoteTimeout:   duration{pipeline.DefaultVoteTimeout},
			LookupTimeout: duration{pipeline.DefaultLookupTimeout},
		},
		Consensus: consensus.DefaultConfig(),
		Pricing:   pricing.DefaultOptions(),
		Providers: map[string]ProviderConfig{
			"gemini": {
				Enabled:    true,
				Kind:       KindGemini,
				Name:       "Gemini",
				APIKeyEnv:  "GEMINI_API_KEY",
				BaseWeight: 0.85,
				Specialty:  llm.SpecialtyGeneral,
				Vision:     true,
				LiveSearch: true,
			},
			"openai": {
				Enabled:    true,
				Kind:       KindOpenAI,
				Name:       "GPT",
				APIKeyEnv:  "OPENAI_API_KEY",
				BaseWeight: 0.8,
				Specialty:  llm.SpecialtyPricing,
				Vision:     true,
			},
		},
		Authority: AuthorityConfig{
			UPCItemDB:       FetcherConfig{Enabled: true, RequestsPerSecond: 1, KeyEnv: "UPCITEMDB_USER_KEY"},
			EANSearch:       FetcherConfig{Enabled: true, RequestsPerSecond: 1, KeyEnv: "EAN_SEARCH_TOKEN"},
			Numista:         FetcherConfig{Enabled: true, RequestsPerSecond: 2, KeyEnv: "NUMISTA_API_KEY"},
			NumistaCurrency: "USD",
		},
		Market: MarketConfig{
			Tori: ToriConfig{Enabled: true, Rows: 20, MinListings: market.DefaultMinListings, RequestsPerSecond: 1},
		},
		Storage: StorageConfig{Path: DefaultDBPath()},
	}
}

// IdentifyOptions returns the identification race settings.
func (c *Config) IdentifyOptions() identify.Config {
	return identify.Config{
		StageTimeout: c.Identify.StageTimeout.Duration,
		CallMargin:   c.Identify.CallMargin.Duration,
	}
}

// PipelineOptions returns the appraiser settings.
func (c *Config) PipelineOptions() pipeline.Config {
	return pipeline.Config{
		Identify:      c.IdentifyOptions(),
		Consensus:     c.Consensus,
		Pricing:       c.Pricing,
		VoteTimeout:   c.Pipeline.VoteTimeout.Duration,
		LookupTimeout: c.Pipeline.LookupTimeout.Duration,
	}
}

// ProviderIDs returns the enabled provider IDs in sorted order.
func (c *Config) ProviderIDs() []string {
	ids := make([]string, 0, len(c.Providers))
	for id, p := range c.Providers {
		if p.Enabled {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []string

	if _, err := zerolog.ParseLevel(strings.ToLower(c.LogLevel)); err != nil || c.LogLevel == "" {
		errs = append(errs, fmt.Sprintf("unknown log_level %q", c.LogLevel))
	}

	if c.Identify.StageTimeout.Duration <= 0 {
		errs = append(errs, "identify: stage_timeout must be positive")
	}
	if c.Identify.CallMargin.Duration < 0 {
		errs = append(errs, "identify: call_margin must not be negative")
	}
	if c.Pipeline.VoteTimeout.Duration <= 0 {
		errs = append(errs, "pipeline: vote_timeout must be positive")
	}
	if c.Pipeline.LookupTimeout.Duration <= 0 {
		errs = append(errs, "pipeline: lookup_timeout must be positive")
	}

	if t := c.Consensus.CloseVoteThreshold; t <= 0 || t >= 1 {
		errs = append(errs, "consensus: close_vote_threshold must be in (0, 1)")
	}
	if limit := c.Consensus.LowVoteCap; limit < 0 || limit > 99 {
		errs = append(errs, "consensus: low_vote_cap must be in [0, 99]")
	}
	if t := c.Consensus.Tiers; t != (consensus.TierThresholds{}) && !(t.High > t.Good && t.Good > t.Moderate && t.Moderate > t.Low) {
		errs = append(errs, "consensus: tiers must be strictly descending (high > good > moderate > low)")
	}

	p := c.Pricing
	for name, v := range map[string]float64{
		"authority_weight":        p.AuthorityWeight,
		"ai_weight":               p.AIWeight,
		"market_weight":           p.MarketWeight,
		"authority_confidence":    p.AuthorityConfidence,
		"ai_confidence":           p.AIConfidence,
		"ai_disagree_confidence":  p.AIDisagreeConfidence,
		"market_confidence":       p.MarketConfidence,
		"ai_authority_factor":     p.AIAuthorityFactor,
		"market_authority_factor": p.MarketAuthorityFactor,
		"floor_ratio":             p.FloorRatio,
		"floor_pull":              p.FloorPull,
	} {
		if v < 0 || v > 1 {
			errs = append(errs, fmt.Sprintf("pricing: %s must be in [0, 1]", name))
		}
	}
	if p.MinAuthorityRatio > 0 && p.MaxAuthorityRatio > 0 && p.MinAuthorityRatio >= p.MaxAuthorityRatio {
		errs = append(errs, "pricing: min_authority_ratio must be below max_authority_ratio")
	}

	for _, id := range c.ProviderIDs() {
		pc := c.Providers[id]
		if pc.Kind != KindGemini && pc.Kind != KindOpenAI {
			errs = append(errs, fmt.Sprintf("providers.%s: unknown kind %q (valid: gemini, openai)", id, pc.Kind))
		}
		if pc.BaseWeight < 0 {
			errs = append(errs, fmt.Sprintf("providers.%s: base_weight must not be negative", id))
		}
		if pc.Specialty != "" && pc.Specialty != llm.SpecialtyGeneral && pc.Specialty != llm.SpecialtyPricing {
			errs = append(errs, fmt.Sprintf("providers.%s: unknown specialty %q", id, pc.Specialty))
		}
	}

	if c.Storage.Path == "" {
		errs = append(errs, "storage: path must not be empty")
	}
	if c.Redis.DB < 0 {
		errs = append(errs, "redis: db must not be negative")
	}

	if len(errs) > 0 {
		sort.Strings(errs)
		return fmt.Errorf("%w:\n  - %s", ErrInvalid, strings.Join(errs, "\n  - "))
	}
	return nil
}
