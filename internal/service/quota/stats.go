package quota

import (
	"context"

	"github.com/jmehdipour/aigen-gateway/internal/model"
)

// UsageStats reads a license without locking or writing. Pending lazy
// transitions (degrade, monthly reset) are applied to the copy only, so the
// numbers match what the next CheckAdmission would see.
func (e *Enforcer) UsageStats(ctx context.Context, licenseID string) (model.UsageStats, error) {
	l, err := e.store.Licenses().FindByID(ctx, licenseID)
	if err != nil {
		return model.UsageStats{}, persistErr("usage stats: find license", err)
	}
	if l == nil {
		return model.UsageStats{}, ErrLicenseNotFound
	}

	now := e.now()
	expired := l.IsExpired(now)
	if expired {
		l.DegradeToFree(e.tiers.Free())
	}
	if l.ShouldResetUsage(now) {
		l.ResetMonthlyUsage(now)
	}

	cfg := e.tiers.Lookup(l.Tier)
	st := model.UsageStats{
		LicenseID:            l.ID,
		Tier:                 l.Tier,
		Status:               l.Status,
		CurrentUsage:         l.UsageCount,
		MonthlyQuota:         l.MonthlyQuota,
		RemainingGenerations: l.RemainingGenerations(),
		PendingGenerations:   l.ActivePending(now),
		ResetDate:            model.NextResetDate(now),
		ExpiresAt:            l.ExpiresAt,
		Expired:              expired,
		RateWindowRemaining:  cfg.RateWindowMaxRequests,
	}

	w, err := e.store.Windows().FindByLicenseID(ctx, licenseID)
	if err != nil {
		return model.UsageStats{}, persistErr("usage stats: find window", err)
	}
	if w != nil {
		w.ApplyLimits(cfg)
		st.RateWindowRemaining = w.RemainingRequests(now)
		st.RateWindowResetMs = w.TimeUntilResetMs(now)
	}
	return st, nil
}

// TierConfig returns the limits of tier; unknown tiers get free's.
func (e *Enforcer) TierConfig(tier model.Tier) model.TierConfig {
	return e.tiers.Lookup(tier)
}

// EffectiveTier is the tier l will have at its next admission: an expired
// paid license already counts as free.
func (e *Enforcer) EffectiveTier(l *model.License) model.Tier {
	if l.IsExpired(e.now()) {
		return model.TierFree
	}
	return e.tiers.Lookup(l.Tier).Tier
}

// Tiers lists every configured tier.
func (e *Enforcer) Tiers() []model.TierConfig {
	return e.tiers.All()
}

func (e *Enforcer) IsProductCountAllowed(tier model.Tier, count int) bool {
	max := e.tiers.Lookup(tier).MaxProductsPerRequest
	return max == model.UnlimitedProducts || count <= max
}

func (e *Enforcer) IsImageSizeAllowed(tier model.Tier, sizeKB int) bool {
	return sizeKB <= e.tiers.Lookup(tier).MaxImageSizeKB
}
