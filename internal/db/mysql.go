package db

import (
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/jmehdipour/aigen-gateway/internal/config"
	"github.com/jmoiron/sqlx"
)

// NewMySQLConnection opens the licenses/outbox database.
func NewMySQLConnection(c config.DatabaseConfig) (*sqlx.DB, error) {
	dsn, err := NormalizeMySQLDSN(c.DSN)
	if err != nil {
		return nil, err
	}
	return open("mysql", dsn, c, 5*time.Second)
}

// NormalizeMySQLDSN forces parseTime and UTC so DATETIME columns scan into
// time.Time and month boundaries are computed the same way everywhere.
func NormalizeMySQLDSN(dsn string) (string, error) {
	if dsn == "" {
		return "", fmt.Errorf("empty mysql DSN")
	}
	mc, err := mysql.ParseDSN(dsn)
	if err != nil {
		return "", fmt.Errorf("parse mysql dsn: %w", err)
	}
	mc.ParseTime = true
	mc.Loc = time.UTC
	return mc.FormatDSN(), nil
}
