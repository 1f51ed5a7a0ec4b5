package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raine/item-appraiser/internal/consensus"
)

func isolateEnv(t *testing.T) {
	t.Helper()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("HOME", t.TempDir())
}

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "appraiser.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestDefaultsAreValid(t *testing.T) {
	cfg := Defaults()

	require.NoError(t, cfg.Validate())
	assert.Equal(t, []string{"gemini", "openai"}, cfg.ProviderIDs())
	assert.Equal(t, 15*time.Second, cfg.IdentifyOptions().StageTimeout)
	assert.Equal(t, 0.65, cfg.PipelineOptions().Pricing.AuthorityWeight)
}

func TestLoad_FileAndEnvOverrides(t *testing.T) {
	isolateEnv(t)
	path := writeFile(t, `
log_level = "debug"

[identify]
stage_timeout = "20s"

[pipeline]
vote_timeout = "45s"

[consensus]
close_vote_threshold = 0.2

[consensus.tiers]
high = 95
good = 85
moderate = 70
low = 55

[pricing]
strict_anchoring = true
authority_weight = 0.7

[providers.gemini]
enabled = false

[providers.local]
enabled = true
kind = "openai"
base_url = "http://localhost:11434/v1"
model = "qwen2.5vl"
vision = true
tiebreaker = true

[redis]
addr = "localhost:6379"
`)
	t.Setenv("APPRAISER_LOG_LEVEL", "warn")
	t.Setenv("APPRAISER_REDIS_DB", "3")
	t.Setenv("APPRAISER_STRICT_ANCHORING", "false")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "warn", cfg.LogLevel)
	assert.Equal(t, 20*time.Second, cfg.Identify.StageTimeout.Duration)
	assert.Equal(t, 500*time.Millisecond, cfg.Identify.CallMargin.Duration, "unset keys keep defaults")
	assert.Equal(t, 45*time.Second, cfg.PipelineOptions().VoteTimeout)
	assert.Equal(t, 0.2, cfg.Consensus.CloseVoteThreshold)
	assert.Equal(t, consensus.TierThresholds{High: 95, Good: 85, Moderate: 70, Low: 55}, cfg.Consensus.Tiers)
	assert.False(t, cfg.Pricing.StrictAnchoring)
	assert.Equal(t, 0.7, cfg.Pricing.AuthorityWeight)
	assert.Equal(t, 0.4, cfg.Pricing.AIWeight)
	assert.Equal(t, []string{"local", "openai"}, cfg.ProviderIDs())
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, 3, cfg.Redis.DB)

	local := cfg.Providers["local"].Profile("local")
	assert.Equal(t, "qwen2.5vl", local.Model)
	assert.True(t, local.SupportsVision)
	assert.True(t, local.Tiebreaker)
}

func TestLoad_MissingFile(t *testing.T) {
	isolateEnv(t)

	_, err := Load(filepath.Join(t.TempDir(), "missing.toml"))

	assert.Error(t, err)
}

func TestLoad_NoFileUsesDefaults(t *testing.T) {
	isolateEnv(t)

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.LogLevel)
	assert.True(t, cfg.Market.Tori.Enabled)
}

func TestLoadEnvFile(t *testing.T) {
	isolateEnv(t)
	dir := filepath.Join(os.Getenv("XDG_CONFIG_HOME"), AppName)
	require.NoError(t, os.MkdirAll(dir, 0700))
	require.NoError(t, os.WriteFile(filepath.Join(dir, EnvFileName), []byte("APPRAISER_DB_PATH=/tmp/from-env-file.db\n"), 0600))
	t.Cleanup(func() { os.Unsetenv("APPRAISER_DB_PATH") })

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "/tmp/from-env-file.db", cfg.Storage.Path)
}

func TestValidate(t *testing.T) {
	cfg := Defaults()
	cfg.LogLevel = "loud"
	cfg.Consensus.CloseVoteThreshold = 1.5
	cfg.Consensus.Tiers = consensus.TierThresholds{High: 50, Good: 80, Moderate: 65, Low: 50}
	cfg.Pricing.FloorPull = 1.2
	cfg.Pricing.MinAuthorityRatio = 6
	cfg.Providers["broken"] = ProviderConfig{Enabled: true, Kind: "anthropic", BaseWeight: -1}
	cfg.Providers["ignored"] = ProviderConfig{Kind: "anthropic"}

	err := cfg.Validate()

	require.ErrorIs(t, err, ErrInvalid)
	for _, want := range []string{
		`unknown log_level "loud"`,
		"close_vote_threshold",
		"tiers must be strictly descending",
		"floor_pull",
		"min_authority_ratio",
		`providers.broken: unknown kind "anthropic"`,
		"providers.broken: base_weight",
	} {
		assert.Contains(t, err.Error(), want)
	}
	assert.NotContains(t, err.Error(), "ignored")
}

func TestValidate_ZeroCloseVoteThreshold(t *testing.T) {
	cfg := Defaults()
	cfg.Consensus.CloseVoteThreshold = 0

	err := cfg.Validate()

	require.ErrorIs(t, err, ErrInvalid)
	assert.Contains(t, err.Error(), "close_vote_threshold must be in (0, 1)")
}
