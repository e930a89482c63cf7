package model

import (
	"fmt"
	"strings"
)

type Tier string

const (
	TierFree       Tier = "free"
	TierProBasic   Tier = "pro_basic"
	TierProPremium Tier = "pro_premium"
)

// UnlimitedProducts marks a tier without a per-request product ceiling.
const UnlimitedProducts = -1

func (t Tier) String() string { return string(t) }

func (t Tier) Valid() bool {
	return t == TierFree || t == TierProBasic || t == TierProPremium
}

// ParseTier normalizes input; empty => free.
// Returns (value, true) if valid; otherwise (free, false).
func ParseTier(s string) (Tier, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "free":
		return TierFree, true
	case "pro_basic":
		return TierProBasic, true
	case "pro_premium":
		return TierProPremium, true
	default:
		return TierFree, false
	}
}

// TierConfig holds the limits attached to one subscription tier.
type TierConfig struct {
	Tier                  Tier `json:"tier"`
	MonthlyQuota          int  `json:"monthly_quota"`
	RateWindowSeconds     int  `json:"rate_window_seconds"`
	RateWindowMaxRequests int  `json:"rate_window_max_requests"`
	MaxProductsPerRequest int  `json:"max_products_per_request"` // -1 = unlimited
	MaxImageSizeKB        int  `json:"max_image_size_kb"`
}

// RateWindowMs is the rate window length in milliseconds.
func (c TierConfig) RateWindowMs() int64 {
	return int64(c.RateWindowSeconds) * 1000
}

// TierTable is an immutable lookup from tier to limits.
// The zero value is not usable; build one with NewTierTable or DefaultTierTable.
type TierTable struct {
	byTier map[Tier]TierConfig
}

// DefaultTiers returns the built-in tier limits.
func DefaultTiers() []TierConfig {
	return []TierConfig{
		{
			Tier:                  TierFree,
			MonthlyQuota:          10,
			RateWindowSeconds:     60,
			RateWindowMaxRequests: 5,
			MaxProductsPerRequest: 1,
			MaxImageSizeKB:        2048,
		},
		{
			Tier:                  TierProBasic,
			MonthlyQuota:          100,
			RateWindowSeconds:     30,
			RateWindowMaxRequests: 10,
			MaxProductsPerRequest: 5,
			MaxImageSizeKB:        5120,
		},
		{
			Tier:                  TierProPremium,
			MonthlyQuota:          500,
			RateWindowSeconds:     15,
			RateWindowMaxRequests: 20,
			MaxProductsPerRequest: UnlimitedProducts,
			MaxImageSizeKB:        10240,
		},
	}
}

// DefaultTierTable is NewTierTable(DefaultTiers()).
func DefaultTierTable() TierTable {
	t, err := NewTierTable(DefaultTiers())
	if err != nil {
		panic(err)
	}
	return t
}

// NewTierTable validates that every known tier appears exactly once.
func NewTierTable(cfgs []TierConfig) (TierTable, error) {
	byTier := make(map[Tier]TierConfig, len(cfgs))
	for _, c := range cfgs {
		if !c.Tier.Valid() {
			return TierTable{}, fmt.Errorf("unknown tier %q", c.Tier)
		}
		if _, dup := byTier[c.Tier]; dup {
			return TierTable{}, fmt.Errorf("duplicate tier %q", c.Tier)
		}
		if c.MonthlyQuota < 0 || c.RateWindowSeconds <= 0 || c.RateWindowMaxRequests <= 0 {
			return TierTable{}, fmt.Errorf("tier %q: quota, rate window and rate max must be positive", c.Tier)
		}
		if c.MaxProductsPerRequest < UnlimitedProducts || c.MaxImageSizeKB <= 0 {
			return TierTable{}, fmt.Errorf("tier %q: invalid product or image ceiling", c.Tier)
		}
		byTier[c.Tier] = c
	}
	for _, t := range []Tier{TierFree, TierProBasic, TierProPremium} {
		if _, ok := byTier[t]; !ok {
			return TierTable{}, fmt.Errorf("missing tier %q", t)
		}
	}
	return TierTable{byTier: byTier}, nil
}

// Lookup returns the limits for tier; unknown tiers get free's limits.
func (t TierTable) Lookup(tier Tier) TierConfig {
	if c, ok := t.byTier[tier]; ok {
		return c
	}
	return t.byTier[TierFree]
}

// Free is shorthand for Lookup(TierFree).
func (t TierTable) Free() TierConfig {
	return t.byTier[TierFree]
}

// All returns a copy of every entry in a stable order.
func (t TierTable) All() []TierConfig {
	out := make([]TierConfig, 0, len(t.byTier))
	for _, tier := range []Tier{TierFree, TierProBasic, TierProPremium} {
		out = append(out, t.byTier[tier])
	}
	return out
}
