package model

import "time"

type LicenseStatus string

const (
	LicenseActive    LicenseStatus = "active"
	LicenseExpired   LicenseStatus = "expired"
	LicenseSuspended LicenseStatus = "suspended"
)

func (s LicenseStatus) String() string { return string(s) }

func (s LicenseStatus) Valid() bool {
	return s == LicenseActive || s == LicenseExpired || s == LicenseSuspended
}

// License is the entitlement record for one customer domain (licenses table).
type License struct {
	ID           string        `db:"id"`
	APIKey       string        `db:"api_key"`
	Domain       string        `db:"domain"`
	Tier         Tier          `db:"tier"`
	Status       LicenseStatus `db:"status"`
	MonthlyQuota int           `db:"monthly_quota"`
	UsageCount   int           `db:"usage_count"`
	PendingHolds HoldDeadlines `db:"pending_holds"` // admission holds not yet recorded
	LastResetAt  time.Time     `db:"last_reset_at"`
	ExpiresAt    *time.Time    `db:"expires_at"` // nullable
	CreatedAt    time.Time     `db:"created_at"`
	UpdatedAt    time.Time     `db:"updated_at"`
}

// NewFreeLicense builds the record created on registration.
func NewFreeLicense(id, apiKey, domain string, free TierConfig, now time.Time) *License {
	return &License{
		ID:           id,
		APIKey:       apiKey,
		Domain:       domain,
		Tier:         TierFree,
		Status:       LicenseActive,
		MonthlyQuota: free.MonthlyQuota,
		LastResetAt:  now,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// NewPaidLicense builds the record created on a paid upgrade. expiresAt may be nil.
func NewPaidLicense(id, apiKey, domain string, cfg TierConfig, expiresAt *time.Time, now time.Time) *License {
	l := NewFreeLicense(id, apiKey, domain, cfg, now)
	l.Tier = cfg.Tier
	l.ExpiresAt = expiresAt
	return l
}

// IsExpired reports whether expiresAt is set and strictly before now.
func (l *License) IsExpired(now time.Time) bool {
	return l.ExpiresAt != nil && l.ExpiresAt.Before(now)
}

func (l *License) CanGenerate(now time.Time) bool {
	return l.Status == LicenseActive && !l.IsExpired(now) && l.UsageCount < l.MonthlyQuota
}

// ShouldResetUsage compares calendar months in UTC, not a rolling 30 days.
func (l *License) ShouldResetUsage(now time.Time) bool {
	n, last := now.UTC(), l.LastResetAt.UTC()
	return n.Year() != last.Year() || n.Month() != last.Month()
}

// ResetMonthlyUsage starts a new month. Holds of requests still in flight are
// kept so they keep counting against the new month.
func (l *License) ResetMonthlyUsage(now time.Time) {
	l.UsageCount = 0
	l.LastResetAt = now
	l.PendingHolds = l.PendingHolds.active(now, 0)
}

// DegradeToFree turns an expired paid license into a working free one.
// Usage is capped at the free quota, not zeroed. A suspension is kept.
func (l *License) DegradeToFree(free TierConfig) {
	l.Tier = TierFree
	l.MonthlyQuota = free.MonthlyQuota
	if l.UsageCount > l.MonthlyQuota {
		l.UsageCount = l.MonthlyQuota
	}
	if l.Status == LicenseExpired {
		l.Status = LicenseActive
	}
	l.ExpiresAt = nil
}

func (l *License) IncrementUsage() {
	l.UsageCount++
}

// ActivePending returns the number of holds still in force at now.
func (l *License) ActivePending(now time.Time) int {
	n := 0
	for _, d := range l.PendingHolds {
		if now.Before(d) {
			n++
		}
	}
	return n
}

// Hold reserves one generation until now+ttl. Lapsed holds are dropped; the
// others keep their own deadlines.
func (l *License) Hold(now time.Time, ttl time.Duration) {
	l.PendingHolds = append(l.PendingHolds.active(now, 1), now.Add(ttl))
}

// ReleaseHold drops the hold with the latest deadline; it is a no-op when
// none is active. Holds are anonymous, so the remaining ones lapse no later
// than the holds actually left open.
func (l *License) ReleaseHold(now time.Time) {
	act := l.PendingHolds.active(now, 0)
	if len(act) == 0 {
		l.PendingHolds = nil
		return
	}
	l.PendingHolds = act[:len(act)-1]
}

// RemainingGenerations is monthlyQuota - usageCount, floored at zero.
func (l *License) RemainingGenerations() int {
	if r := l.MonthlyQuota - l.UsageCount; r > 0 {
		return r
	}
	return 0
}

// NextResetDate is the first instant of the calendar month after now (UTC).
func NextResetDate(now time.Time) time.Time {
	n := now.UTC()
	return time.Date(n.Year(), n.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, 1, 0)
}

// MonthStart is the first instant of now's calendar month (UTC).
func MonthStart(now time.Time) time.Time {
	n := now.UTC()
	return time.Date(n.Year(), n.Month(), 1, 0, 0, 0, 0, time.UTC)
}
