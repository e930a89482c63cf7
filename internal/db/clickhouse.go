package db

import (
	"time"

	_ "github.com/ClickHouse/clickhouse-go/v2"
	"github.com/jmehdipour/aigen-gateway/internal/config"
	"github.com/jmoiron/sqlx"
)

// NewClickHouseConnection opens the usage analytics store, e.g.
// clickhouse://default:@localhost:9000/aigen?dial_timeout=5s&compress=true
func NewClickHouseConnection(c config.DatabaseConfig) (*sqlx.DB, error) {
	return open("clickhouse", c.DSN, c, 3*time.Second)
}
