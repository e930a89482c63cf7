package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jmehdipour/aigen-gateway/internal/model"
	"github.com/jmoiron/sqlx"
)

// CHUsageRepository stores and lists usage events in ClickHouse.
type CHUsageRepository interface {
	InsertBatch(ctx context.Context, events []model.UsageEvent) error
	ListByLicense(ctx context.Context, licenseID string, kind model.UsageEventKind, since time.Time, limit, offset int) ([]model.UsageEvent, error)
}

type chUsageRepository struct {
	ch *sqlx.DB // ClickHouse connection
}

func NewCHUsageRepository(ch *sqlx.DB) CHUsageRepository {
	return &chUsageRepository{ch: ch}
}

// InsertBatch sends all rows as one ClickHouse block (prepare once, exec per row, commit).
// The table is a ReplacingMergeTree sorted by (license_id, occurred_at, id). A
// redelivered message carries the same outbox payload, so its row has the same
// sort key and collapses on merge (or under FINAL).
func (r *chUsageRepository) InsertBatch(ctx context.Context, events []model.UsageEvent) error {
	if len(events) == 0 {
		return nil
	}

	tx, err := r.ch.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin batch: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO aigen.usage_events
		    (id, license_id, kind, tier, usage_count, monthly_quota, occurred_at)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}
	defer stmt.Close()

	for _, e := range events {
		if _, err := stmt.ExecContext(ctx,
			e.ID, e.LicenseID, e.Kind.String(), e.Tier.String(),
			uint32(e.UsageCount), uint32(e.MonthlyQuota), e.OccurredAt,
		); err != nil {
			return fmt.Errorf("append %s: %w", e.ID, err)
		}
	}

	return tx.Commit()
}

func (r *chUsageRepository) ListByLicense(ctx context.Context, licenseID string, kind model.UsageEventKind, since time.Time, limit, offset int) ([]model.UsageEvent, error) {
	if limit <= 0 || limit > 1000 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	q := `
		SELECT id, license_id, kind, tier, toInt64(usage_count) AS usage_count,
		       toInt64(monthly_quota) AS monthly_quota, occurred_at
		FROM aigen.usage_events FINAL
		WHERE license_id = ?
	`
	args := []any{licenseID}

	if kind != "" {
		q += " AND kind = ?"
		args = append(args, kind.String())
	}
	if !since.IsZero() {
		q += " AND occurred_at >= ?"
		args = append(args, since)
	}

	q += " ORDER BY occurred_at DESC LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	var rows []model.UsageEvent
	if err := r.ch.SelectContext(ctx, &rows, q, args...); err != nil {
		return nil, err
	}
	return rows, nil
}
