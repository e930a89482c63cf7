package repository

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/jmehdipour/aigen-gateway/internal/model"
	"github.com/redis/go-redis/v9"
)

// UsageWindowsRepository persists the per-license rate window.
type UsageWindowsRepository interface {
	// FindByLicenseID returns (nil, nil) when the license has no live window.
	FindByLicenseID(ctx context.Context, licenseID string) (*model.UsageWindow, error)
	Create(ctx context.Context, w *model.UsageWindow) error
	Save(ctx context.Context, w *model.UsageWindow) error
}

// RedisUsageWindows keeps one hash per license: uw:lic:{id}.
// Keys expire a while after the window ends; a missing key is an expired window.
type RedisUsageWindows struct {
	rds       *redis.Client
	keyPrefix string
}

func NewRedisUsageWindows(rds *redis.Client, keyPrefix string) *RedisUsageWindows {
	if keyPrefix == "" {
		keyPrefix = "uw:lic:"
	}
	return &RedisUsageWindows{rds: rds, keyPrefix: keyPrefix}
}

var _ UsageWindowsRepository = (*RedisUsageWindows)(nil)

const (
	fieldStart    = "start_ms"
	fieldCount    = "count"
	fieldDuration = "duration_ms"
	fieldMax      = "max"
	fieldLast     = "last_ms"
)

func (r *RedisUsageWindows) key(licenseID string) string {
	return r.keyPrefix + licenseID
}

func (r *RedisUsageWindows) FindByLicenseID(ctx context.Context, licenseID string) (*model.UsageWindow, error) {
	vals, err := r.rds.HGetAll(ctx, r.key(licenseID)).Result()
	if err != nil {
		return nil, err
	}
	if len(vals) == 0 {
		return nil, nil
	}

	ints := make(map[string]int64, 5)
	for _, f := range []string{fieldStart, fieldCount, fieldDuration, fieldMax, fieldLast} {
		n, err := strconv.ParseInt(vals[f], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("usage window %s: field %s: %w", licenseID, f, err)
		}
		ints[f] = n
	}

	w := &model.UsageWindow{
		LicenseID:        licenseID,
		WindowStart:      time.UnixMilli(ints[fieldStart]).UTC(),
		RequestCount:     int(ints[fieldCount]),
		WindowDurationMs: ints[fieldDuration],
		MaxRequests:      int(ints[fieldMax]),
	}
	if ints[fieldLast] > 0 {
		w.LastRequestAt = time.UnixMilli(ints[fieldLast]).UTC()
	}
	return w, nil
}

func (r *RedisUsageWindows) Create(ctx context.Context, w *model.UsageWindow) error {
	return r.write(ctx, w)
}

func (r *RedisUsageWindows) Save(ctx context.Context, w *model.UsageWindow) error {
	return r.write(ctx, w)
}

// write sets every field and refreshes the expiry (2*window, at least a minute).
func (r *RedisUsageWindows) write(ctx context.Context, w *model.UsageWindow) error {
	var last int64
	if !w.LastRequestAt.IsZero() {
		last = w.LastRequestAt.UnixMilli()
	}

	ttl := 2 * time.Duration(w.WindowDurationMs) * time.Millisecond
	if ttl < time.Minute {
		ttl = time.Minute
	}

	key := r.key(w.LicenseID)
	pipe := r.rds.TxPipeline()
	pipe.HSet(ctx, key,
		fieldStart, w.WindowStart.UnixMilli(),
		fieldCount, w.RequestCount,
		fieldDuration, w.WindowDurationMs,
		fieldMax, w.MaxRequests,
		fieldLast, last,
	)
	pipe.Expire(ctx, key, ttl)
	_, err := pipe.Exec(ctx)
	return err
}
