package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jmehdipour/aigen-gateway/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.HTTP.Addr)
	assert.Equal(t, 5*time.Minute, cfg.Quota.HoldTTL)
	assert.Equal(t, "aigen.usage", cfg.Quota.EventsTopic)
	assert.Equal(t, time.Second, cfg.UsageSink.BatchWait)
	require.Len(t, cfg.Providers, 2)
	assert.Equal(t, 3, cfg.Providers[0].Breaker.FailThreshold)

	tt, err := cfg.TierTable()
	require.NoError(t, err)
	assert.Equal(t, model.DefaultTierTable().All(), tt.All(), "embedded defaults match the built-in table")
}

func TestLoad_MergesFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
http:
  addr: ":9090"
quota:
  hold_ttl: 90s
`), 0o600))

	t.Setenv("AIGEN_LOG_LEVEL", "debug")
	t.Setenv("AIGEN_ADMIN_TOKEN", "s3cret")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.HTTP.Addr)
	assert.Equal(t, 90*time.Second, cfg.Quota.HoldTTL)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "s3cret", cfg.Admin.Token)
	assert.Equal(t, 200, cfg.Quota.SweepBatchSize, "untouched keys keep defaults")
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestConfig_TierTable(t *testing.T) {
	cfg := Config{Tiers: []TierConfig{
		{Tier: "free", MonthlyQuota: 3, RateWindowSeconds: 10, RateWindowMaxRequests: 1, MaxProductsPerRequest: 1, MaxImageSizeKB: 100},
		{Tier: "pro_basic", MonthlyQuota: 30, RateWindowSeconds: 10, RateWindowMaxRequests: 2, MaxProductsPerRequest: 2, MaxImageSizeKB: 200},
		{Tier: "pro_premium", MonthlyQuota: 300, RateWindowSeconds: 10, RateWindowMaxRequests: 3, MaxProductsPerRequest: -1, MaxImageSizeKB: 300},
	}}
	tt, err := cfg.TierTable()
	require.NoError(t, err)
	assert.Equal(t, 3, tt.Free().MonthlyQuota)

	cfg.Tiers[2].Tier = "enterprise"
	_, err = cfg.TierTable()
	assert.ErrorContains(t, err, "enterprise")

	cfg.Tiers = cfg.Tiers[:1]
	_, err = cfg.TierTable()
	assert.Error(t, err)
}
