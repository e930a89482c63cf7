package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmehdipour/aigen-gateway/internal/model"
	"github.com/jmoiron/sqlx"
)

type LicensesRepository interface {
	// FindByID returns (nil, nil) when no row matches. Inside Store.WithLicense
	// the row is read with FOR UPDATE.
	FindByID(ctx context.Context, id string) (*model.License, error)
	FindByAPIKey(ctx context.Context, apiKey string) (*model.License, error)
	Create(ctx context.Context, l *model.License) error
	Save(ctx context.Context, l *model.License) error

	// ListDueForReset returns ids whose last reset precedes monthStart, ordered by id after afterID.
	ListDueForReset(ctx context.Context, monthStart time.Time, afterID string, limit int) ([]string, error)
	// ListExpired returns ids whose expires_at precedes now, ordered by id after afterID.
	ListExpired(ctx context.Context, now time.Time, afterID string, limit int) ([]string, error)
}

type LicensesRepositoryImpl struct {
	db        sqlx.ExtContext
	forUpdate bool
}

func NewLicensesRepository(db *sqlx.DB) *LicensesRepositoryImpl {
	return &LicensesRepositoryImpl{db: db}
}

var _ LicensesRepository = (*LicensesRepositoryImpl)(nil)

// lockedIn binds the repository to tx and makes reads take row locks.
func (r *LicensesRepositoryImpl) lockedIn(tx *sqlx.Tx) *LicensesRepositoryImpl {
	return &LicensesRepositoryImpl{db: tx, forUpdate: true}
}

const licenseColumns = `id, api_key, domain, tier, status, monthly_quota, usage_count,
	pending_holds, last_reset_at, expires_at, created_at, updated_at`

func (r *LicensesRepositoryImpl) findOne(ctx context.Context, where string, arg any) (*model.License, error) {
	q := `SELECT ` + licenseColumns + ` FROM licenses WHERE ` + where + ` LIMIT 1`
	if r.forUpdate {
		q += ` FOR UPDATE`
	}

	var l model.License
	err := sqlx.GetContext(ctx, r.db, &l, q, arg)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &l, nil
}

func (r *LicensesRepositoryImpl) FindByID(ctx context.Context, id string) (*model.License, error) {
	return r.findOne(ctx, `id = ?`, id)
}

func (r *LicensesRepositoryImpl) FindByAPIKey(ctx context.Context, apiKey string) (*model.License, error) {
	return r.findOne(ctx, `api_key = ?`, apiKey)
}

func (r *LicensesRepositoryImpl) Create(ctx context.Context, l *model.License) error {
	const q = `
		INSERT INTO licenses
		    (id, api_key, domain, tier, status, monthly_quota, usage_count,
		     pending_holds, last_reset_at, expires_at, created_at, updated_at)
		VALUES
		    (:id, :api_key, :domain, :tier, :status, :monthly_quota, :usage_count,
		     :pending_holds, :last_reset_at, :expires_at, NOW(3), NOW(3))
	`
	_, err := sqlx.NamedExecContext(ctx, r.db, q, l)
	return err
}

// Save writes the entitlement fields; api_key and domain are administrative.
func (r *LicensesRepositoryImpl) Save(ctx context.Context, l *model.License) error {
	const q = `
		UPDATE licenses
		SET tier = ?, status = ?, monthly_quota = ?, usage_count = ?,
		    pending_holds = ?, last_reset_at = ?, expires_at = ?,
		    updated_at = NOW(3)
		WHERE id = ?
	`
	_, err := r.db.ExecContext(ctx, q,
		l.Tier.String(), l.Status.String(), l.MonthlyQuota, l.UsageCount,
		l.PendingHolds, l.LastResetAt, l.ExpiresAt,
		l.ID,
	)
	return err
}

func (r *LicensesRepositoryImpl) ListDueForReset(ctx context.Context, monthStart time.Time, afterID string, limit int) ([]string, error) {
	const q = `
		SELECT id FROM licenses
		WHERE last_reset_at < ? AND id > ?
		ORDER BY id
		LIMIT ?
	`
	var ids []string
	if err := sqlx.SelectContext(ctx, r.db, &ids, q, monthStart, afterID, clampLimit(limit)); err != nil {
		return nil, err
	}
	return ids, nil
}

func (r *LicensesRepositoryImpl) ListExpired(ctx context.Context, now time.Time, afterID string, limit int) ([]string, error) {
	const q = `
		SELECT id FROM licenses
		WHERE expires_at IS NOT NULL AND expires_at < ? AND id > ?
		ORDER BY id
		LIMIT ?
	`
	var ids []string
	if err := sqlx.SelectContext(ctx, r.db, &ids, q, now, afterID, clampLimit(limit)); err != nil {
		return nil, err
	}
	return ids, nil
}

func clampLimit(limit int) int {
	if limit <= 0 || limit > 1000 {
		return 100
	}
	return limit
}
