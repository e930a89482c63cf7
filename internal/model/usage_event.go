package model

import "time"

type UsageEventKind string

const (
	EventUsageRecorded   UsageEventKind = "usage.recorded"
	EventLicenseDegraded UsageEventKind = "license.degraded"
	EventLicenseReset    UsageEventKind = "license.reset"
)

func (k UsageEventKind) String() string { return string(k) }

func (k UsageEventKind) Valid() bool {
	return k == EventUsageRecorded || k == EventLicenseDegraded || k == EventLicenseReset
}

// UsageEvent is the payload written to the outbox and published to Kafka
// (via Debezium outbox SMT), then sunk into ClickHouse.
type UsageEvent struct {
	ID           string         `json:"id" db:"id"` // ULID
	LicenseID    string         `json:"license_id" db:"license_id"`
	Kind         UsageEventKind `json:"kind" db:"kind"`
	Tier         Tier           `json:"tier" db:"tier"`
	UsageCount   int            `json:"usage_count" db:"usage_count"`
	MonthlyQuota int            `json:"monthly_quota" db:"monthly_quota"`
	OccurredAt   time.Time      `json:"occurred_at" db:"occurred_at"`
}

// NewUsageEvent snapshots l for kind.
func NewUsageEvent(id string, kind UsageEventKind, l *License, now time.Time) UsageEvent {
	return UsageEvent{
		ID:           id,
		LicenseID:    l.ID,
		Kind:         kind,
		Tier:         l.Tier,
		UsageCount:   l.UsageCount,
		MonthlyQuota: l.MonthlyQuota,
		OccurredAt:   now,
	}
}
