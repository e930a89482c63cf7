package model

import "time"

// DenyReason is the machine-readable cause of a denied admission.
type DenyReason string

const (
	ReasonNone             DenyReason = ""
	ReasonLicenseInactive  DenyReason = "License not active"
	ReasonMonthlyExceeded  DenyReason = "Monthly limit exceeded"
	ReasonRateLimitReached DenyReason = "Rate limit exceeded"
)

// Decision is the outcome of an admission check. A denial is data, not an error.
type Decision struct {
	Allowed               bool       `json:"allowed"`
	Reason                DenyReason `json:"reason,omitempty"`
	Tier                  Tier       `json:"tier"`
	CurrentUsage          int        `json:"current_usage"`
	MonthlyQuota          int        `json:"monthly_quota"`
	RemainingGenerations  int        `json:"remaining_generations"`
	ResetDate             time.Time  `json:"reset_date"`
	RemainingRateWindowMs *int64     `json:"remaining_rate_window_ms,omitempty"`
}

// UsageStats is a read-only projection of a license for dashboards and headers.
type UsageStats struct {
	LicenseID            string        `json:"license_id"`
	Tier                 Tier          `json:"tier"`
	Status               LicenseStatus `json:"status"`
	CurrentUsage         int           `json:"current_usage"`
	MonthlyQuota         int           `json:"monthly_quota"`
	RemainingGenerations int           `json:"remaining_generations"`
	PendingGenerations   int           `json:"pending_generations"`
	ResetDate            time.Time     `json:"reset_date"`
	ExpiresAt            *time.Time    `json:"expires_at,omitempty"`
	Expired              bool          `json:"expired"`
	RateWindowRemaining  int           `json:"rate_window_remaining"`
	RateWindowResetMs    int64         `json:"rate_window_reset_ms"`
}
