package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	AdmissionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aigen_admissions_total",
			Help: "Admission decisions by tier and outcome",
		},
		[]string{"tier", "outcome"}, // allowed|inactive|monthly_limit|rate_limit|error
	)

	UsageRecordsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aigen_usage_records_total",
			Help: "Usage increments by result",
		},
		[]string{"result"}, // ok|error
	)

	LicenseTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aigen_license_transitions_total",
			Help: "Automatic license transitions",
		},
		[]string{"kind", "trigger"}, // degraded|reset , admission|record|sweep
	)

	GenerationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aigen_generations_total",
			Help: "Provider calls by provider and result",
		},
		[]string{"provider", "result"}, // ok|failed|rejected|breaker_open
	)

	UsageEventsSunkTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aigen_usage_events_sunk_total",
			Help: "Usage events written to ClickHouse by result",
		},
		[]string{"result"}, // ok|bad|failed
	)
)

var registerOnce sync.Once

// MustRegister registers every collector once; later calls are no-ops.
func MustRegister(r prometheus.Registerer) {
	registerOnce.Do(func() {
		r.MustRegister(
			AdmissionsTotal,
			UsageRecordsTotal,
			LicenseTransitionsTotal,
			GenerationsTotal,
			UsageEventsSunkTotal,
		)
	})
}
