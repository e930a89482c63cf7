// Package quota decides whether a license may start a generation.
//
// Every read-modify-write on a license runs under a per-license lock in this
// process and inside repository.Store.WithLicense, which the SQL store backs
// with SELECT ... FOR UPDATE. An admitted request places a hold on one unit of
// monthly quota; RecordUsage turns the hold into usage and ReleaseAdmission
// drops it. Concurrent admissions therefore cannot overshoot the quota.
package quota

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmehdipour/aigen-gateway/internal/metrics"
	"github.com/jmehdipour/aigen-gateway/internal/model"
	"github.com/jmehdipour/aigen-gateway/internal/repository"
	"github.com/jmehdipour/aigen-gateway/internal/util"
	"go.uber.org/zap"
)

const (
	DefaultHoldTTL     = 5 * time.Minute
	DefaultEventsTopic = "aigen.usage"
	DefaultSweepBatch  = 200
)

// Enforcer is the single entry point for admission and usage accounting.
type Enforcer struct {
	store repository.Store
	tiers model.TierTable
	log   *zap.Logger
	locks *keyedLock

	now         func() time.Time
	holdTTL     time.Duration
	eventsTopic string
	sweepBatch  int
	sweepPar    int
}

type Option func(*Enforcer)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(e *Enforcer) { e.now = now }
}

// WithHoldTTL bounds how long an admission without RecordUsage keeps quota reserved.
func WithHoldTTL(d time.Duration) Option {
	return func(e *Enforcer) {
		if d > 0 {
			e.holdTTL = d
		}
	}
}

func WithEventsTopic(topic string) Option {
	return func(e *Enforcer) {
		if topic != "" {
			e.eventsTopic = topic
		}
	}
}

// WithSweep sets the page size and parallelism of the batch sweeps.
func WithSweep(batch, parallelism int) Option {
	return func(e *Enforcer) {
		if batch > 0 {
			e.sweepBatch = batch
		}
		if parallelism > 0 {
			e.sweepPar = parallelism
		}
	}
}

// New builds an Enforcer. tiers is copied by value and never changes afterwards.
func New(store repository.Store, tiers model.TierTable, log *zap.Logger, opts ...Option) *Enforcer {
	if log == nil {
		log = zap.NewNop()
	}
	e := &Enforcer{
		store:       store,
		tiers:       tiers,
		log:         log,
		locks:       newKeyedLock(),
		now:         time.Now,
		holdTTL:     DefaultHoldTTL,
		eventsTopic: DefaultEventsTopic,
		sweepBatch:  DefaultSweepBatch,
		sweepPar:    4,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// licenseFn runs with the license row locked; l is saved by the callback itself.
type licenseFn func(ctx context.Context, u repository.Unit, l *model.License) error

func (e *Enforcer) withLicense(ctx context.Context, op, licenseID string, fn licenseFn) error {
	unlock, err := e.locks.lock(ctx, licenseID)
	if err != nil {
		return err
	}
	defer unlock()

	err = e.store.WithLicense(ctx, licenseID, func(ctx context.Context, u repository.Unit) error {
		l, err := u.Licenses().FindByID(ctx, licenseID)
		if err != nil {
			return persistErr(op+": find license", err)
		}
		if l == nil {
			return ErrLicenseNotFound
		}
		return fn(ctx, u, l)
	})
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrLicenseNotFound), errors.Is(err, ErrPersistence):
		return err
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	default:
		// begin/commit failures from the store itself
		return persistErr(op, err)
	}
}

// CheckAdmission decides whether licenseID may start one generation.
//
// Order: degrade if expired, deny if not active, reset if a new month began,
// deny if the monthly quota (usage plus holds) is used up, deny if the rate
// window is full, otherwise allow. Allowing consumes a rate-window slot and
// places a quota hold; usageCount itself is left untouched.
func (e *Enforcer) CheckAdmission(ctx context.Context, licenseID string) (model.Decision, error) {
	var d model.Decision
	err := e.withLicense(ctx, "check admission", licenseID, func(ctx context.Context, u repository.Unit, l *model.License) error {
		now := e.now()
		dirty := false

		if l.IsExpired(now) {
			if err := e.degrade(ctx, u, l, now, "admission"); err != nil {
				return err
			}
			dirty = true
		}

		d = e.evaluate(l, now)

		if l.Status == model.LicenseActive && l.ShouldResetUsage(now) {
			if err := e.reset(ctx, u, l, now, "admission"); err != nil {
				return err
			}
			dirty = true
			d = e.evaluate(l, now)
		}

		if d.Allowed {
			var err error
			d, err = e.admitWindow(ctx, u, l, d, now)
			if err != nil {
				return err
			}
			if d.Allowed {
				l.Hold(now, e.holdTTL)
				dirty = true
			}
		}

		if dirty {
			if err := u.Licenses().Save(ctx, l); err != nil {
				return persistErr("check admission: save license", err)
			}
		}
		return nil
	})
	if err != nil {
		metrics.AdmissionsTotal.WithLabelValues("unknown", "error").Inc()
		return model.Decision{}, err
	}

	metrics.AdmissionsTotal.WithLabelValues(d.Tier.String(), outcomeLabel(d)).Inc()
	if !d.Allowed {
		e.log.Info("admission denied",
			zap.String("license_id", licenseID),
			zap.String("tier", d.Tier.String()),
			zap.String("reason", string(d.Reason)),
			zap.Int("usage", d.CurrentUsage),
			zap.Int("quota", d.MonthlyQuota),
		)
	}
	return d, nil
}

// evaluate applies the status and monthly checks without touching state.
func (e *Enforcer) evaluate(l *model.License, now time.Time) model.Decision {
	d := model.Decision{
		Allowed:              true,
		Tier:                 l.Tier,
		CurrentUsage:         l.UsageCount,
		MonthlyQuota:         l.MonthlyQuota,
		RemainingGenerations: l.RemainingGenerations(),
		ResetDate:            model.NextResetDate(now),
	}
	switch {
	case l.Status != model.LicenseActive:
		d.Allowed = false
		d.Reason = model.ReasonLicenseInactive
	case l.UsageCount+l.ActivePending(now) >= l.MonthlyQuota:
		d.Allowed = false
		d.Reason = model.ReasonMonthlyExceeded
		d.RemainingGenerations = 0
	}
	return d
}

// admitWindow resolves or creates the rate window and consumes a slot if one is free.
func (e *Enforcer) admitWindow(ctx context.Context, u repository.Unit, l *model.License, d model.Decision, now time.Time) (model.Decision, error) {
	cfg := e.tiers.Lookup(l.Tier)

	w, err := u.Windows().FindByLicenseID(ctx, l.ID)
	if err != nil {
		return d, persistErr("check admission: find window", err)
	}
	created := false
	if w == nil {
		w = model.NewUsageWindow(l.ID, cfg, now)
		created = true
	}
	resized := w.ApplyLimits(cfg)

	if !w.CanMakeRequest(now) {
		wait := w.TimeUntilResetMs(now)
		d.Allowed = false
		d.Reason = model.ReasonRateLimitReached
		d.RemainingRateWindowMs = &wait
		if resized {
			if err := u.Windows().Save(ctx, w); err != nil {
				return d, persistErr("check admission: save window", err)
			}
		}
		return d, nil
	}

	w.RecordRequest(now)
	if created {
		err = u.Windows().Create(ctx, w)
	} else {
		err = u.Windows().Save(ctx, w)
	}
	if err != nil {
		return d, persistErr("check admission: save window", err)
	}
	return d, nil
}

// RecordUsage charges one generation after the protected work ran. It re-checks
// the month boundary in case it was crossed since admission.
//
// A failure is logged, counted and returned; callers on the response path drop
// it, so a lost increment under-counts rather than blocking the customer.
func (e *Enforcer) RecordUsage(ctx context.Context, licenseID string) error {
	err := e.withLicense(ctx, "record usage", licenseID, func(ctx context.Context, u repository.Unit, l *model.License) error {
		now := e.now()
		if l.ShouldResetUsage(now) {
			if err := e.reset(ctx, u, l, now, "record"); err != nil {
				return err
			}
		}
		l.IncrementUsage()
		l.ReleaseHold(now)

		if err := u.Licenses().Save(ctx, l); err != nil {
			return persistErr("record usage: save license", err)
		}
		return e.emit(ctx, u, l, model.EventUsageRecorded, now)
	})
	if err != nil {
		metrics.UsageRecordsTotal.WithLabelValues("error").Inc()
		e.log.Error("record usage failed", zap.String("license_id", licenseID), zap.Error(err))
		return err
	}
	metrics.UsageRecordsTotal.WithLabelValues("ok").Inc()
	return nil
}

// ReleaseAdmission gives back the quota hold of an admission whose work was
// abandoned. The rate-window slot it consumed is not refunded.
func (e *Enforcer) ReleaseAdmission(ctx context.Context, licenseID string) error {
	err := e.withLicense(ctx, "release admission", licenseID, func(ctx context.Context, u repository.Unit, l *model.License) error {
		now := e.now()
		if l.ActivePending(now) == 0 {
			return nil
		}
		l.ReleaseHold(now)
		if err := u.Licenses().Save(ctx, l); err != nil {
			return persistErr("release admission: save license", err)
		}
		return nil
	})
	if err != nil {
		e.log.Warn("release admission failed", zap.String("license_id", licenseID), zap.Error(err))
	}
	return err
}

func (e *Enforcer) degrade(ctx context.Context, u repository.Unit, l *model.License, now time.Time, trigger string) error {
	from := l.Tier
	l.DegradeToFree(e.tiers.Free())
	metrics.LicenseTransitionsTotal.WithLabelValues("degraded", trigger).Inc()
	e.log.Info("license degraded to free",
		zap.String("license_id", l.ID),
		zap.String("from_tier", from.String()),
		zap.Int("usage", l.UsageCount),
	)
	return e.emit(ctx, u, l, model.EventLicenseDegraded, now)
}

func (e *Enforcer) reset(ctx context.Context, u repository.Unit, l *model.License, now time.Time, trigger string) error {
	l.ResetMonthlyUsage(now)
	metrics.LicenseTransitionsTotal.WithLabelValues("reset", trigger).Inc()
	return e.emit(ctx, u, l, model.EventLicenseReset, now)
}

func (e *Enforcer) emit(ctx context.Context, u repository.Unit, l *model.License, kind model.UsageEventKind, now time.Time) error {
	ev := model.NewUsageEvent(util.NewAt(now), kind, l, now)
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal usage event: %w", err)
	}
	if err := u.Outbox().Insert(ctx, "license", l.ID, e.eventsTopic, payload); err != nil {
		return persistErr("insert outbox", err)
	}
	return nil
}

func outcomeLabel(d model.Decision) string {
	switch d.Reason {
	case model.ReasonNone:
		return "allowed"
	case model.ReasonLicenseInactive:
		return "inactive"
	case model.ReasonMonthlyExceeded:
		return "monthly_limit"
	case model.ReasonRateLimitReached:
		return "rate_limit"
	default:
		return "other"
	}
}
