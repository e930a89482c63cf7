package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/jmehdipour/aigen-gateway/internal/config"
	"github.com/jmehdipour/aigen-gateway/internal/dispatcher"
	"github.com/jmehdipour/aigen-gateway/internal/logger"
	"github.com/jmehdipour/aigen-gateway/internal/repository"
	"github.com/jmehdipour/aigen-gateway/internal/service/quota"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
)

// newEnforcer builds the quota enforcer on MySQL licenses and Redis windows.
func newEnforcer(cfg config.Config, mysqlDB *sqlx.DB, rds *redis.Client) (*quota.Enforcer, *repository.SQLStore, error) {
	tiers, err := cfg.TierTable()
	if err != nil {
		return nil, nil, err
	}
	store := repository.NewSQLStore(mysqlDB, repository.NewRedisUsageWindows(rds, cfg.Redis.WindowKey))

	enf := quota.New(store, tiers, logger.Log,
		quota.WithHoldTTL(cfg.Quota.HoldTTL),
		quota.WithEventsTopic(cfg.Quota.EventsTopic),
		quota.WithSweep(cfg.Quota.SweepBatchSize, cfg.Quota.SweepParallelism),
	)
	return enf, store, nil
}

// newDispatcher wires every enabled provider behind its own circuit breaker.
func newDispatcher(cfg config.Config) (*dispatcher.Dispatcher, error) {
	var provs []dispatcher.Provider
	for _, pc := range cfg.Providers {
		if !pc.Enabled || strings.TrimSpace(pc.BaseURL) == "" {
			continue
		}
		provs = append(provs,
			dispatcher.NewHTTPProvider(
				pc.Name,
				strings.TrimRight(pc.BaseURL, "/"),
				pc.GeneratePath,
				pc.APIKey,
				time.Duration(pc.TimeoutMs)*time.Millisecond,
				dispatcher.BreakerSettings{
					FailThreshold: pc.Breaker.FailThreshold,
					OpenFor:       time.Duration(pc.Breaker.OpenForMs) * time.Millisecond,
					HalfOpenMax:   pc.Breaker.HalfOpenMax,
				},
			),
		)
	}
	if len(provs) == 0 {
		return nil, fmt.Errorf("no providers enabled in config")
	}
	return dispatcher.NewDispatcher(provs, cfg.Dispatcher.MaxAttempts, logger.Log), nil
}
