package config

import (
	"os"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
)

// Load starts from Defaults, decodes the TOML file at path when path is not
// empty, loads config.env and applies APPRAISER_* overrides. The result is
// not validated.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	LoadEnvFile()
	applyEnvOverrides(&cfg)

	return &cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	setStr(&cfg.LogLevel, "APPRAISER_LOG_LEVEL")

	setDuration(&cfg.Identify.StageTimeout, "APPRAISER_IDENTIFY_STAGE_TIMEOUT")
	setDuration(&cfg.Identify.CallMargin, "APPRAISER_IDENTIFY_CALL_MARGIN")
	setDuration(&cfg.Pipeline.VoteTimeout, "APPRAISER_VOTE_TIMEOUT")
	setDuration(&cfg.Pipeline.LookupTimeout, "APPRAISER_LOOKUP_TIMEOUT")

	setFloat64(&cfg.Consensus.CloseVoteThreshold, "APPRAISER_CLOSE_VOTE_THRESHOLD")
	setInt(&cfg.Consensus.TargetProviderCount, "APPRAISER_TARGET_PROVIDER_COUNT")

	setBool(&cfg.Pricing.StrictAnchoring, "APPRAISER_STRICT_ANCHORING")
	setFloat64(&cfg.Pricing.AuthorityWeight, "APPRAISER_AUTHORITY_WEIGHT")
	setFloat64(&cfg.Pricing.AIWeight, "APPRAISER_AI_WEIGHT")

	setStr(&cfg.Authority.NumistaCurrency, "APPRAISER_NUMISTA_CURRENCY")
	setBool(&cfg.Market.Tori.Enabled, "APPRAISER_TORI_ENABLED")

	setStr(&cfg.Storage.Path, "APPRAISER_DB_PATH")

	setStr(&cfg.Redis.Addr, "APPRAISER_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "APPRAISER_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "APPRAISER_REDIS_DB")
}

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}
