package quota

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/jmehdipour/aigen-gateway/internal/model"
	"github.com/jmehdipour/aigen-gateway/internal/repository"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// listPage returns license ids after afterID, ordered by id.
type listPage func(ctx context.Context, now time.Time, afterID string, limit int) ([]string, error)

// sweepOne re-checks and transitions one locked license; it reports whether l changed.
type sweepOne func(ctx context.Context, u repository.Unit, l *model.License, now time.Time) (bool, error)

// SweepMonthlyResets resets every license whose last reset precedes the current
// calendar month and returns how many were reset. A license that fails is
// logged and skipped; only a failing page scan aborts the sweep.
func (e *Enforcer) SweepMonthlyResets(ctx context.Context) (int, error) {
	list := func(ctx context.Context, now time.Time, afterID string, limit int) ([]string, error) {
		return e.store.Licenses().ListDueForReset(ctx, model.MonthStart(now), afterID, limit)
	}
	apply := func(ctx context.Context, u repository.Unit, l *model.License, now time.Time) (bool, error) {
		if !l.ShouldResetUsage(now) {
			return false, nil
		}
		return true, e.reset(ctx, u, l, now, "sweep")
	}
	return e.sweep(ctx, "monthly reset", list, apply)
}

// SweepExpired degrades every expired paid license to free and returns how many were degraded.
func (e *Enforcer) SweepExpired(ctx context.Context) (int, error) {
	list := func(ctx context.Context, now time.Time, afterID string, limit int) ([]string, error) {
		return e.store.Licenses().ListExpired(ctx, now, afterID, limit)
	}
	apply := func(ctx context.Context, u repository.Unit, l *model.License, now time.Time) (bool, error) {
		if !l.IsExpired(now) {
			return false, nil
		}
		return true, e.degrade(ctx, u, l, now, "sweep")
	}
	return e.sweep(ctx, "expiry", list, apply)
}

func (e *Enforcer) sweep(ctx context.Context, name string, list listPage, apply sweepOne) (int, error) {
	start := e.now()
	var done atomic.Int64
	var failed int

	after := ""
	for {
		ids, err := list(ctx, start, after, e.sweepBatch)
		if err != nil {
			return int(done.Load()), persistErr(name+" sweep: list", err)
		}
		if len(ids) == 0 {
			break
		}
		after = ids[len(ids)-1]

		var pageFailed atomic.Int64
		g, gCtx := errgroup.WithContext(ctx)
		g.SetLimit(e.sweepPar)
		for _, id := range ids {
			g.Go(func() error {
				changed := false
				err := e.withLicense(gCtx, name+" sweep", id, func(ctx context.Context, u repository.Unit, l *model.License) error {
					var err error
					changed, err = apply(ctx, u, l, e.now())
					if err != nil || !changed {
						return err
					}
					if err := u.Licenses().Save(ctx, l); err != nil {
						return persistErr(name+" sweep: save license", err)
					}
					return nil
				})
				if err != nil {
					// one bad license must not stop the rest
					pageFailed.Add(1)
					e.log.Warn("sweep item failed",
						zap.String("sweep", name),
						zap.String("license_id", id),
						zap.Error(err),
					)
					return nil
				}
				if changed {
					done.Add(1)
				}
				return nil
			})
		}
		_ = g.Wait()
		failed += int(pageFailed.Load())

		if err := ctx.Err(); err != nil {
			return int(done.Load()), err
		}
		if len(ids) < e.sweepBatch {
			break
		}
	}

	e.log.Info("sweep finished",
		zap.String("sweep", name),
		zap.Int64("changed", done.Load()),
		zap.Int("failed", failed),
		zap.Duration("took", e.now().Sub(start)),
	)
	return int(done.Load()), nil
}
