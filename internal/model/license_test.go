package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 12, 0, 0, 0, time.UTC)
}

func ptr(t time.Time) *time.Time { return &t }

func TestLicense_IsExpired(t *testing.T) {
	now := date(2026, 5, 10)

	tests := []struct {
		name      string
		expiresAt *time.Time
		want      bool
	}{
		{"no expiry", nil, false},
		{"future", ptr(now.Add(time.Hour)), false},
		{"exactly now", ptr(now), false},
		{"past", ptr(now.Add(-time.Nanosecond)), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := &License{ExpiresAt: tt.expiresAt}
			assert.Equal(t, tt.want, l.IsExpired(now))
		})
	}

	// nil expiry never expires, however far in the future we look
	l := &License{}
	assert.False(t, l.IsExpired(date(2999, 1, 1)))
}

func TestLicense_ShouldResetUsage(t *testing.T) {
	tests := []struct {
		name      string
		lastReset time.Time
		now       time.Time
		want      bool
	}{
		{"jan 31 to feb 1", date(2026, 1, 31), date(2026, 2, 1), true},
		{"feb 1 to feb 28", date(2026, 2, 1), date(2026, 2, 28), false},
		{"first to last day of month", date(2026, 3, 1), date(2026, 3, 31), false},
		{"same month different year", date(2025, 6, 15), date(2026, 6, 15), true},
		{"dec to jan", date(2025, 12, 31), date(2026, 1, 1), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := &License{LastResetAt: tt.lastReset}
			assert.Equal(t, tt.want, l.ShouldResetUsage(tt.now))
		})
	}
}

func TestLicense_ResetMonthlyUsage(t *testing.T) {
	now := date(2026, 2, 1)
	l := &License{
		UsageCount:   42,
		LastResetAt:  date(2026, 1, 3),
		PendingHolds: HoldDeadlines{now.Add(-time.Second), now.Add(time.Minute), now.Add(2 * time.Minute)},
	}

	l.ResetMonthlyUsage(now)

	assert.Equal(t, 0, l.UsageCount)
	assert.Equal(t, now, l.LastResetAt)
	// in-flight requests keep their holds in the new month; lapsed ones go
	assert.Equal(t, 2, l.ActivePending(now))
	assert.Len(t, l.PendingHolds, 2)
}

func TestLicense_DegradeToFree(t *testing.T) {
	free := DefaultTierTable().Free()

	t.Run("caps usage instead of zeroing", func(t *testing.T) {
		l := &License{
			Tier:         TierProPremium,
			Status:       LicenseActive,
			MonthlyQuota: 500,
			UsageCount:   150,
			ExpiresAt:    ptr(date(2026, 1, 1)),
		}
		l.DegradeToFree(free)

		assert.Equal(t, TierFree, l.Tier)
		assert.Equal(t, 10, l.MonthlyQuota)
		assert.Equal(t, 10, l.UsageCount)
		assert.Equal(t, LicenseActive, l.Status)
		assert.Nil(t, l.ExpiresAt)
	})

	t.Run("low usage untouched", func(t *testing.T) {
		l := &License{Tier: TierProBasic, Status: LicenseActive, MonthlyQuota: 100, UsageCount: 3}
		l.DegradeToFree(free)
		assert.Equal(t, 3, l.UsageCount)
	})

	t.Run("stored expired status becomes active", func(t *testing.T) {
		l := &License{Tier: TierProBasic, Status: LicenseExpired, MonthlyQuota: 100}
		l.DegradeToFree(free)
		assert.Equal(t, LicenseActive, l.Status)
	})

	t.Run("suspension survives", func(t *testing.T) {
		l := &License{Tier: TierProBasic, Status: LicenseSuspended, MonthlyQuota: 100}
		l.DegradeToFree(free)
		assert.Equal(t, LicenseSuspended, l.Status)
	})
}

func TestLicense_CanGenerate(t *testing.T) {
	now := date(2026, 5, 10)

	tests := []struct {
		name string
		l    License
		want bool
	}{
		{"active under quota", License{Status: LicenseActive, MonthlyQuota: 10, UsageCount: 9}, true},
		{"at quota", License{Status: LicenseActive, MonthlyQuota: 10, UsageCount: 10}, false},
		{"suspended", License{Status: LicenseSuspended, MonthlyQuota: 10}, false},
		{"expired by time", License{Status: LicenseActive, MonthlyQuota: 10, ExpiresAt: ptr(now.Add(-time.Hour))}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.l.CanGenerate(now))
		})
	}
}

func TestLicense_Holds(t *testing.T) {
	now := date(2026, 5, 10)
	l := &License{}

	l.Hold(now, time.Minute)
	l.Hold(now, time.Minute)
	assert.Equal(t, 2, l.ActivePending(now))

	l.ReleaseHold(now)
	assert.Equal(t, 1, l.ActivePending(now))

	// holds lapse after the ttl
	assert.Equal(t, 0, l.ActivePending(now.Add(time.Minute)))

	// a new hold after lapse starts from zero
	later := now.Add(2 * time.Minute)
	l.Hold(later, time.Minute)
	assert.Equal(t, 1, l.ActivePending(later))
	assert.Len(t, l.PendingHolds, 1)

	l.ReleaseHold(later)
	l.ReleaseHold(later)
	assert.Empty(t, l.PendingHolds)
}

func TestLicense_HoldsKeepTheirOwnDeadlines(t *testing.T) {
	t0 := date(2026, 5, 10)
	l := &License{MonthlyQuota: 2}

	// A is admitted and never comes back
	l.Hold(t0, time.Minute)

	// B is admitted later and records
	l.Hold(t0.Add(50*time.Second), time.Minute)
	l.ReleaseHold(t0.Add(55 * time.Second))
	l.IncrementUsage()
	assert.Equal(t, 1, l.ActivePending(t0.Add(55*time.Second)))

	// A's hold lapses one ttl after it was placed, not after B's
	assert.Equal(t, 0, l.ActivePending(t0.Add(60*time.Second)))
	assert.Equal(t, 0, l.ActivePending(t0.Add(100*time.Second)))
}

func TestLicense_ReleaseHoldDropsLatestDeadline(t *testing.T) {
	now := date(2026, 5, 10)
	l := &License{PendingHolds: HoldDeadlines{now.Add(3 * time.Minute), now.Add(time.Minute)}}

	l.ReleaseHold(now)

	require.Len(t, l.PendingHolds, 1)
	assert.Equal(t, now.Add(time.Minute), l.PendingHolds[0])
}

func TestHoldDeadlines_SQL(t *testing.T) {
	now := time.Date(2026, 5, 10, 12, 0, 0, 0, time.UTC)

	v, err := HoldDeadlines(nil).Value()
	require.NoError(t, err)
	assert.Nil(t, v)

	v, err = HoldDeadlines{now}.Value()
	require.NoError(t, err)
	assert.Equal(t, `["2026-05-10T12:00:00Z"]`, v)

	var h HoldDeadlines
	require.NoError(t, h.Scan([]byte(`["2026-05-10T12:00:00Z"]`)))
	assert.Equal(t, HoldDeadlines{now}, h)

	require.NoError(t, h.Scan(nil))
	assert.Nil(t, h)

	assert.Error(t, h.Scan(42))
	assert.Error(t, h.Scan("{not json"))
}

func TestLicense_IncrementUsage(t *testing.T) {
	l := &License{UsageCount: 4}
	l.IncrementUsage()
	assert.Equal(t, 5, l.UsageCount)
}

func TestNextResetDate(t *testing.T) {
	assert.Equal(t, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), NextResetDate(date(2026, 2, 14)))
	assert.Equal(t, time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC), NextResetDate(date(2026, 12, 31)))
}

func TestNewPaidLicense(t *testing.T) {
	now := date(2026, 5, 10)
	exp := now.AddDate(1, 0, 0)
	cfg := DefaultTierTable().Lookup(TierProPremium)

	l := NewPaidLicense("lic-1", "key", "shop.example", cfg, &exp, now)

	assert.Equal(t, TierProPremium, l.Tier)
	assert.Equal(t, 500, l.MonthlyQuota)
	assert.Equal(t, 0, l.UsageCount)
	assert.Equal(t, LicenseActive, l.Status)
	assert.Equal(t, &exp, l.ExpiresAt)
	assert.Equal(t, now, l.LastResetAt)
}
