package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultTierTable_Literals(t *testing.T) {
	table := DefaultTierTable()

	quotas := map[Tier]int{TierFree: 10, TierProBasic: 100, TierProPremium: 500}
	windows := map[Tier]int{TierFree: 60, TierProBasic: 30, TierProPremium: 15}

	for tier, want := range quotas {
		assert.Equal(t, want, table.Lookup(tier).MonthlyQuota, "monthly quota for %s", tier)
		assert.Equal(t, windows[tier], table.Lookup(tier).RateWindowSeconds, "rate window for %s", tier)
	}
}

func TestTierTable_UnknownFallsBackToFree(t *testing.T) {
	table := DefaultTierTable()
	assert.Equal(t, table.Free(), table.Lookup(Tier("enterprise")))
	assert.Equal(t, table.Free(), table.Lookup(""))
}

func TestNewTierTable_Validation(t *testing.T) {
	base := DefaultTiers()

	t.Run("missing tier", func(t *testing.T) {
		_, err := NewTierTable(base[:2])
		require.Error(t, err)
		assert.Contains(t, err.Error(), "missing tier")
	})

	t.Run("duplicate tier", func(t *testing.T) {
		_, err := NewTierTable(append(DefaultTiers(), base[0]))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "duplicate tier")
	})

	t.Run("unknown tier", func(t *testing.T) {
		bad := DefaultTiers()
		bad[0].Tier = "gold"
		_, err := NewTierTable(bad)
		require.Error(t, err)
	})

	t.Run("zero rate window", func(t *testing.T) {
		bad := DefaultTiers()
		bad[1].RateWindowSeconds = 0
		_, err := NewTierTable(bad)
		require.Error(t, err)
	})

	t.Run("custom tiers are accepted", func(t *testing.T) {
		custom := DefaultTiers()
		custom[1].RateWindowSeconds = 60
		custom[1].RateWindowMaxRequests = 2
		table, err := NewTierTable(custom)
		require.NoError(t, err)
		assert.Equal(t, 2, table.Lookup(TierProBasic).RateWindowMaxRequests)
	})
}

func TestTierTable_IsImmutable(t *testing.T) {
	cfgs := DefaultTiers()
	table, err := NewTierTable(cfgs)
	require.NoError(t, err)

	cfgs[0].MonthlyQuota = 9999
	all := table.All()
	all[0].MonthlyQuota = 9999

	assert.Equal(t, 10, table.Free().MonthlyQuota)
}

func TestParseTier(t *testing.T) {
	tier, ok := ParseTier(" PRO_BASIC ")
	assert.True(t, ok)
	assert.Equal(t, TierProBasic, tier)

	tier, ok = ParseTier("")
	assert.True(t, ok)
	assert.Equal(t, TierFree, tier)

	tier, ok = ParseTier("platinum")
	assert.False(t, ok)
	assert.Equal(t, TierFree, tier)
}
