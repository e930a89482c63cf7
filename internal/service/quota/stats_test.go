package quota_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jmehdipour/aigen-gateway/internal/model"
	"github.com/jmehdipour/aigen-gateway/internal/repository/memory"
	"github.com/jmehdipour/aigen-gateway/internal/service/quota"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUsageStats(t *testing.T) {
	f := newFixture(t, model.DefaultTierTable())
	f.put(model.License{ID: "lic-1", Tier: model.TierProBasic, MonthlyQuota: 100, UsageCount: 30})
	ctx := context.Background()

	_, err := f.enf.CheckAdmission(ctx, "lic-1")
	require.NoError(t, err)
	f.clock.Advance(5 * time.Second)

	st, err := f.enf.UsageStats(ctx, "lic-1")
	require.NoError(t, err)
	assert.Equal(t, model.TierProBasic, st.Tier)
	assert.Equal(t, model.LicenseActive, st.Status)
	assert.Equal(t, 30, st.CurrentUsage)
	assert.Equal(t, 70, st.RemainingGenerations)
	assert.Equal(t, 1, st.PendingGenerations)
	assert.Equal(t, 9, st.RateWindowRemaining)
	assert.Equal(t, int64(25_000), st.RateWindowResetMs)
	assert.False(t, st.Expired)
}

func TestUsageStats_ProjectsWithoutWriting(t *testing.T) {
	f := newFixture(t, model.DefaultTierTable())
	f.put(model.License{
		ID:           "lic-1",
		Tier:         model.TierProPremium,
		MonthlyQuota: 500,
		UsageCount:   150,
		ExpiresAt:    ptr(epoch.Add(-time.Minute)),
	})

	st, err := f.enf.UsageStats(context.Background(), "lic-1")
	require.NoError(t, err)
	assert.True(t, st.Expired)
	assert.Equal(t, model.TierFree, st.Tier)
	assert.Equal(t, 10, st.CurrentUsage)
	assert.Equal(t, 0, st.RemainingGenerations)
	assert.Equal(t, 5, st.RateWindowRemaining, "no window yet: full free allowance")

	stored := f.license(t, "lic-1")
	assert.Equal(t, model.TierProPremium, stored.Tier)
	assert.Equal(t, 150, stored.UsageCount)
	assert.Empty(t, f.store.Outbox())
	_, ok := f.store.Window("lic-1")
	assert.False(t, ok)
}

func TestUsageStats_Errors(t *testing.T) {
	f := newFixture(t, model.DefaultTierTable())
	_, err := f.enf.UsageStats(context.Background(), "missing")
	assert.ErrorIs(t, err, quota.ErrLicenseNotFound)

	f.put(model.License{ID: "lic-1", Tier: model.TierFree, MonthlyQuota: 10})
	f.store.SetFaults(memory.Faults{FindWindow: errors.New("redis timeout")})
	_, err = f.enf.UsageStats(context.Background(), "lic-1")
	assert.ErrorIs(t, err, quota.ErrPersistence)
}

func TestTierHelpers(t *testing.T) {
	f := newFixture(t, model.DefaultTierTable())

	assert.Equal(t, 100, f.enf.TierConfig(model.TierProBasic).MonthlyQuota)
	assert.Equal(t, 10, f.enf.TierConfig(model.Tier("enterprise")).MonthlyQuota, "unknown tier falls back to free")
	assert.Len(t, f.enf.Tiers(), 3)

	tests := []struct {
		name  string
		tier  model.Tier
		count int
		want  bool
	}{
		{"free single", model.TierFree, 1, true},
		{"free two", model.TierFree, 2, false},
		{"basic at ceiling", model.TierProBasic, 5, true},
		{"basic over", model.TierProBasic, 6, false},
		{"premium unlimited", model.TierProPremium, 10_000, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, f.enf.IsProductCountAllowed(tt.tier, tt.count))
		})
	}

	assert.True(t, f.enf.IsImageSizeAllowed(model.TierFree, 2048))
	assert.False(t, f.enf.IsImageSizeAllowed(model.TierFree, 2049))
	assert.True(t, f.enf.IsImageSizeAllowed(model.TierProPremium, 10240))
}
