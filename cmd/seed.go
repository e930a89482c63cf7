package cmd

import (
	"fmt"
	"time"

	"github.com/jmehdipour/aigen-gateway/internal/db"
	"github.com/jmehdipour/aigen-gateway/internal/logger"
	"github.com/jmehdipour/aigen-gateway/internal/model"
	"github.com/jmehdipour/aigen-gateway/internal/util"
	"github.com/jmoiron/sqlx"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var seedExtraFree int

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Seed the database with demo licenses",
	RunE: func(cmd *cobra.Command, args []string) error {
		// 1) load config
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		tiers, err := cfg.TierTable()
		if err != nil {
			return err
		}

		// 2) connect MySQL
		sqlDB, err := db.NewMySQLConnection(cfg.MySQL)
		if err != nil {
			return fmt.Errorf("mysql connect: %w", err)
		}
		defer sqlDB.Close()

		logger.Log.Info("seeding demo licenses")
		now := time.Now().UTC()
		licenses := demoLicenses(tiers, now)
		for i := 0; i < seedExtraFree; i++ {
			domain := fmt.Sprintf("load-%03d.example", i)
			licenses = append(licenses, model.NewFreeLicense(util.New(), util.NewAPIKey(), domain, tiers.Free(), now))
		}

		n, err := seedLicenses(sqlDB, licenses)
		if err != nil {
			return err
		}

		logger.Log.Info("seed completed", zap.Int("licenses", n))
		return nil
	},
}

func init() {
	seedCmd.Flags().IntVar(&seedExtraFree, "extra-free", 0, "also create this many free licenses with random keys")
}

// demoLicenses covers every tier plus an expired and a suspended license.
// Keys are fixed so the seed is idempotent.
func demoLicenses(tiers model.TierTable, now time.Time) []*model.License {
	nextYear := now.AddDate(1, 0, 0)
	lastWeek := now.AddDate(0, 0, -7)

	free := model.NewFreeLicense(util.New(), "11111111111111111111111111111111", "demo-free.example", tiers.Free(), now)
	basic := model.NewPaidLicense(util.New(), "22222222222222222222222222222222", "demo-basic.example", tiers.Lookup(model.TierProBasic), &nextYear, now)
	premium := model.NewPaidLicense(util.New(), "33333333333333333333333333333333", "demo-premium.example", tiers.Lookup(model.TierProPremium), nil, now)
	expired := model.NewPaidLicense(util.New(), "44444444444444444444444444444444", "demo-expired.example", tiers.Lookup(model.TierProBasic), &lastWeek, now)
	suspended := model.NewFreeLicense(util.New(), "55555555555555555555555555555555", "demo-suspended.example", tiers.Free(), now)
	suspended.Status = model.LicenseSuspended

	return []*model.License{free, basic, premium, expired, suspended}
}

// seedLicenses upserts on api_key (UNIQUE); existing rows keep their id and usage.
func seedLicenses(dbx *sqlx.DB, licenses []*model.License) (int, error) {
	const q = `
INSERT INTO licenses
    (id, api_key, domain, tier, status, monthly_quota, usage_count,
     last_reset_at, expires_at, created_at, updated_at)
VALUES
    (?, ?, ?, ?, ?, ?, 0, ?, ?, ?, ?)
ON DUPLICATE KEY UPDATE
    domain        = VALUES(domain),
    tier          = VALUES(tier),
    status        = VALUES(status),
    monthly_quota = VALUES(monthly_quota),
    expires_at    = VALUES(expires_at),
    updated_at    = VALUES(updated_at)
`
	tx, err := dbx.Beginx()
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	for _, l := range licenses {
		if _, err := tx.Exec(q,
			l.ID, l.APIKey, l.Domain, l.Tier.String(), l.Status.String(), l.MonthlyQuota,
			l.LastResetAt, l.ExpiresAt, l.CreatedAt, l.UpdatedAt,
		); err != nil {
			return 0, fmt.Errorf("insert license %q: %w", l.Domain, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit licenses: %w", err)
	}
	return len(licenses), nil
}
