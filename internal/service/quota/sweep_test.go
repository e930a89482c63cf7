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

func TestSweepMonthlyResets(t *testing.T) {
	f := newFixture(t, model.DefaultTierTable(), quota.WithSweep(2, 2))
	lastMonth := time.Date(2026, time.February, 20, 0, 0, 0, 0, time.UTC)

	f.put(model.License{ID: "a", Tier: model.TierFree, MonthlyQuota: 10, UsageCount: 4, LastResetAt: lastMonth})
	f.put(model.License{ID: "b", Tier: model.TierFree, MonthlyQuota: 10, UsageCount: 9, LastResetAt: lastMonth})
	f.put(model.License{ID: "c", Tier: model.TierFree, MonthlyQuota: 10, UsageCount: 3})
	f.put(model.License{ID: "d", Tier: model.TierProBasic, MonthlyQuota: 100, UsageCount: 77, LastResetAt: lastMonth})

	n, err := f.enf.SweepMonthlyResets(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	for _, id := range []string{"a", "b", "d"} {
		l := f.license(t, id)
		assert.Equal(t, 0, l.UsageCount, id)
		assert.Equal(t, epoch, l.LastResetAt, id)
	}
	assert.Equal(t, 3, f.license(t, "c").UsageCount, "reset this month already")
	assert.Len(t, f.store.Outbox(), 3)

	// nothing left to do
	n, err = f.enf.SweepMonthlyResets(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestSweepMonthlyResets_SkipsFailingLicense(t *testing.T) {
	f := newFixture(t, model.DefaultTierTable(), quota.WithSweep(1, 1))
	lastMonth := time.Date(2026, time.February, 1, 0, 0, 0, 0, time.UTC)
	for _, id := range []string{"a", "b", "c"} {
		f.put(model.License{ID: id, Tier: model.TierFree, MonthlyQuota: 10, UsageCount: 5, LastResetAt: lastMonth})
	}
	f.store.SetFaults(memory.Faults{SaveLicenseFor: map[string]error{"b": errors.New("lock wait timeout")}})

	n, err := f.enf.SweepMonthlyResets(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	assert.Equal(t, 0, f.license(t, "a").UsageCount)
	assert.Equal(t, 5, f.license(t, "b").UsageCount)
	assert.Equal(t, 0, f.license(t, "c").UsageCount)
}

func TestSweepMonthlyResets_ListFailure(t *testing.T) {
	f := newFixture(t, model.DefaultTierTable())
	f.store.SetFaults(memory.Faults{FindLicense: errors.New("too many connections")})

	_, err := f.enf.SweepMonthlyResets(context.Background())
	assert.ErrorIs(t, err, quota.ErrPersistence)
}

func TestSweepExpired(t *testing.T) {
	f := newFixture(t, model.DefaultTierTable())
	f.put(model.License{
		ID:           "old",
		Tier:         model.TierProPremium,
		MonthlyQuota: 500,
		UsageCount:   150,
		ExpiresAt:    ptr(epoch.Add(-24 * time.Hour)),
	})
	f.put(model.License{
		ID:           "current",
		Tier:         model.TierProBasic,
		MonthlyQuota: 100,
		ExpiresAt:    ptr(epoch.Add(24 * time.Hour)),
	})
	f.put(model.License{ID: "free", Tier: model.TierFree, MonthlyQuota: 10})

	n, err := f.enf.SweepExpired(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	old := f.license(t, "old")
	assert.Equal(t, model.TierFree, old.Tier)
	assert.Equal(t, 10, old.MonthlyQuota)
	assert.Equal(t, 10, old.UsageCount)
	assert.Nil(t, old.ExpiresAt)

	assert.Equal(t, model.TierProBasic, f.license(t, "current").Tier)
	assert.Equal(t, []model.UsageEventKind{model.EventLicenseDegraded}, f.eventKinds(t))
}
