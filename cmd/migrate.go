package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/jmehdipour/aigen-gateway/internal/db"
	"github.com/jmehdipour/aigen-gateway/internal/logger"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var withClickHouse bool

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Run database migrations (dev: DROP & CREATE tables)",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		sqlDB, err := db.NewMySQLConnection(cfg.MySQL)
		if err != nil {
			return fmt.Errorf("open db: %w", err)
		}
		defer sqlDB.Close()

		sqlBytes, err := readMigration("001_init.sql")
		if err != nil {
			return err
		}
		// the DSN enables multiStatements
		if _, err := sqlDB.Exec(sqlBytes); err != nil {
			return fmt.Errorf("exec migration: %w", err)
		}
		logger.Log.Info("mysql migration complete")

		if !withClickHouse {
			return nil
		}

		chDB, err := db.NewClickHouseConnection(cfg.ClickHouse)
		if err != nil {
			return fmt.Errorf("clickhouse connect: %w", err)
		}
		defer chDB.Close()

		chSQL, err := readMigration("clickhouse_001_usage_events.sql")
		if err != nil {
			return err
		}
		// clickhouse takes one statement per query
		for _, stmt := range strings.Split(chSQL, ";") {
			if strings.TrimSpace(stmt) == "" {
				continue
			}
			if _, err := chDB.Exec(stmt); err != nil {
				return fmt.Errorf("exec clickhouse migration: %w", err)
			}
		}
		logger.Log.Info("clickhouse migration complete", zap.String("table", "aigen.usage_events"))
		return nil
	},
}

func init() {
	migrateCmd.Flags().BoolVar(&withClickHouse, "clickhouse", false, "also create the ClickHouse usage_events table")
}

func readMigration(name string) (string, error) {
	path := filepath.Join("migrations", name)
	b, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read migration file %s: %w", path, err)
	}
	return string(b), nil
}
