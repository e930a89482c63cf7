package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmehdipour/aigen-gateway/internal/db"
	"github.com/jmehdipour/aigen-gateway/internal/logger"
	"github.com/jmehdipour/aigen-gateway/internal/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	sweepKind  string
	sweepEvery time.Duration
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Degrade expired licenses and reset monthly usage in bulk",
	RunE: func(cmd *cobra.Command, args []string) error {
		if sweepKind != "all" && sweepKind != "monthly" && sweepKind != "expired" {
			return fmt.Errorf("--kind must be monthly, expired or all")
		}

		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		defer func() { _ = logger.Log.Sync() }()

		metrics.MustRegister(prometheus.DefaultRegisterer)

		mysqlDB, err := db.NewMySQLConnection(cfg.MySQL)
		if err != nil {
			return fmt.Errorf("mysql connect: %w", err)
		}
		defer mysqlDB.Close()

		redisClient, err := db.NewRedisClient(cfg.Redis)
		if err != nil {
			return fmt.Errorf("redis connect: %w", err)
		}
		defer func() { _ = redisClient.Close() }()

		enf, _, err := newEnforcer(cfg, mysqlDB, redisClient)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		run := func() error {
			// degrade first so licenses that expired last month are also reset
			if sweepKind != "monthly" {
				n, err := enf.SweepExpired(ctx)
				if err != nil {
					return fmt.Errorf("expiry sweep: %w", err)
				}
				logger.Log.Info("expiry sweep done", zap.Int("degraded", n))
			}
			if sweepKind != "expired" {
				n, err := enf.SweepMonthlyResets(ctx)
				if err != nil {
					return fmt.Errorf("monthly sweep: %w", err)
				}
				logger.Log.Info("monthly sweep done", zap.Int("reset", n))
			}
			return nil
		}

		if sweepEvery <= 0 {
			return run()
		}

		tick := time.NewTicker(sweepEvery)
		defer tick.Stop()
		for {
			if err := run(); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				logger.Log.Error("sweep failed", zap.Error(err))
			}
			select {
			case <-ctx.Done():
				return nil
			case <-tick.C:
			}
		}
	},
}

func init() {
	sweepCmd.Flags().StringVar(&sweepKind, "kind", "all", "monthly | expired | all")
	sweepCmd.Flags().DurationVar(&sweepEvery, "every", 0, "repeat on this interval instead of running once")
}
