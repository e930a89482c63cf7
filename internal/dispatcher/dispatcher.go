package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/jmehdipour/aigen-gateway/internal/metrics"
	"github.com/jmehdipour/aigen-gateway/internal/model"
	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
)

var ErrNoHealthy = fmt.Errorf("no healthy providers")

// Dispatcher spreads generations over providers round-robin and retries on
// another provider when one fails.
type Dispatcher struct {
	providers         []Provider
	roundRobinCounter atomic.Uint64
	maxAttempts       int
	log               *zap.Logger
}

func NewDispatcher(provs []Provider, maxAttempts int, log *zap.Logger) *Dispatcher {
	if maxAttempts < 1 {
		maxAttempts = 2
	}
	if log == nil {
		log = zap.NewNop()
	}

	return &Dispatcher{providers: provs, maxAttempts: maxAttempts, log: log}
}

func (d *Dispatcher) selectProvider() (Provider, error) {
	healthy := make([]Provider, 0, len(d.providers))
	for _, p := range d.providers {
		if p.Ready() {
			healthy = append(healthy, p)
		}
	}

	if len(healthy) == 0 {
		return nil, ErrNoHealthy
	}

	x := d.roundRobinCounter.Add(1)
	idx := int((x - 1) % uint64(len(healthy)))

	return healthy[idx], nil
}

// Generate returns the first successful provider answer. A rejected request
// is returned at once; other failures move on to the next provider.
func (d *Dispatcher) Generate(ctx context.Context, req model.GenerationRequest) (model.GenerationResult, error) {
	var last error
	for i := 0; i < d.maxAttempts; i++ {
		if err := ctx.Err(); err != nil {
			return model.GenerationResult{}, err
		}

		p, err := d.selectProvider()
		if err != nil {
			last = err
			break
		}

		res, err := p.Generate(ctx, req)
		if err == nil {
			metrics.GenerationsTotal.WithLabelValues(p.Name(), "ok").Inc()
			return res, nil
		}

		metrics.GenerationsTotal.WithLabelValues(p.Name(), resultLabel(err)).Inc()
		d.log.Warn("provider attempt failed",
			zap.String("provider", p.Name()),
			zap.String("request_id", req.RequestID),
			zap.Int("attempt", i+1),
			zap.Error(err),
		)
		last = err
		if errors.Is(err, ErrRejected) {
			break
		}
	}

	if last == nil {
		last = fmt.Errorf("generate failed")
	}

	return model.GenerationResult{}, last
}

func resultLabel(err error) string {
	switch {
	case errors.Is(err, ErrRejected):
		return "rejected"
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return "breaker_open"
	default:
		return "failed"
	}
}
