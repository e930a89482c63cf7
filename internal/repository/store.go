package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"
)

// Unit is the set of repositories bound to one locked unit of work.
type Unit interface {
	Licenses() LicensesRepository
	Windows() UsageWindowsRepository
	Outbox() OutboxRepository
}

// Store hands out unlocked repositories for reads and locked units for
// read-modify-write on a single license.
type Store interface {
	// WithLicense runs fn while holding an exclusive lock on licenseID.
	// License and outbox writes commit only when fn returns nil.
	WithLicense(ctx context.Context, licenseID string, fn func(ctx context.Context, u Unit) error) error

	Licenses() LicensesRepository
	Windows() UsageWindowsRepository
}

// SQLStore keeps licenses and outbox in MySQL and rate windows in Redis.
// Window writes are not part of the MySQL transaction but happen under its row lock.
type SQLStore struct {
	db       *sqlx.DB
	licenses *LicensesRepositoryImpl
	windows  UsageWindowsRepository
}

func NewSQLStore(db *sqlx.DB, windows UsageWindowsRepository) *SQLStore {
	return &SQLStore{
		db:       db,
		licenses: NewLicensesRepository(db),
		windows:  windows,
	}
}

var _ Store = (*SQLStore)(nil)

func (s *SQLStore) Licenses() LicensesRepository   { return s.licenses }
func (s *SQLStore) Windows() UsageWindowsRepository { return s.windows }

type sqlUnit struct {
	licenses *LicensesRepositoryImpl
	windows  UsageWindowsRepository
	outbox   *OutboxRepositoryImpl
}

func (u *sqlUnit) Licenses() LicensesRepository   { return u.licenses }
func (u *sqlUnit) Windows() UsageWindowsRepository { return u.windows }
func (u *sqlUnit) Outbox() OutboxRepository        { return u.outbox }

// WithLicense opens a transaction and takes the row lock (SELECT ... FOR UPDATE)
// up front, which serializes every instance on that license. A missing row is
// left for fn to discover through FindByID.
func (s *SQLStore) WithLicense(ctx context.Context, licenseID string, fn func(ctx context.Context, u Unit) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var locked string
	err = tx.QueryRowxContext(ctx, `SELECT id FROM licenses WHERE id = ? FOR UPDATE`, licenseID).Scan(&locked)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return err
	}

	u := &sqlUnit{
		licenses: s.licenses.lockedIn(tx),
		windows:  s.windows,
		outbox:   NewOutboxRepository(tx),
	}
	if err := fn(ctx, u); err != nil {
		return err
	}

	return tx.Commit()
}
