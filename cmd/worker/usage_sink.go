package worker

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmehdipour/aigen-gateway/internal/config"
	"github.com/jmehdipour/aigen-gateway/internal/db"
	"github.com/jmehdipour/aigen-gateway/internal/kafka"
	"github.com/jmehdipour/aigen-gateway/internal/logger"
	"github.com/jmehdipour/aigen-gateway/internal/metrics"
	"github.com/jmehdipour/aigen-gateway/internal/repository"
	"github.com/jmehdipour/aigen-gateway/internal/worker"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var usageSinkCmd = &cobra.Command{
	Use:   "usage-sink",
	Short: "Copy usage events from Kafka into ClickHouse",
	RunE:  runUsageSink,
}

func runUsageSink(cmd *cobra.Command, args []string) error {
	// 1) load config
	cfgPath, _ := cmd.Root().PersistentFlags().GetString("config")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	log := logger.Init(cfg.Log.Level)
	defer func() { _ = log.Sync() }()

	metrics.MustRegister(prometheus.DefaultRegisterer)

	// 2) ClickHouse
	chDB, err := db.NewClickHouseConnection(cfg.ClickHouse)
	if err != nil {
		return fmt.Errorf("clickhouse connect: %w", err)
	}
	defer chDB.Close()

	// 3) kafka consumer on the outbox topic
	groupID := cfg.Kafka.GroupID
	if groupID == "" {
		groupID = "aigen-usage-sink"
	}
	consumer := kafka.NewConsumerFromConfig(kafka.Config{
		Brokers:        cfg.Kafka.Brokers,
		Topic:          cfg.Quota.EventsTopic,
		GroupID:        groupID,
		MinBytes:       cfg.Kafka.MinBytes,
		MaxBytes:       cfg.Kafka.MaxBytes,
		CommitInterval: time.Duration(cfg.Kafka.CommitInterval) * time.Millisecond,
	})
	defer consumer.Close()

	w := worker.NewUsageSink(consumer, repository.NewCHUsageRepository(chDB), log)

	// tune knobs
	if cfg.UsageSink.Workers > 0 {
		w.Workers = cfg.UsageSink.Workers
	}
	if cfg.UsageSink.BatchSize > 0 {
		w.BatchSize = cfg.UsageSink.BatchSize
	}
	if cfg.UsageSink.BatchWait > 0 {
		w.BatchWait = cfg.UsageSink.BatchWait
	}

	// 4) graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go reportLag(ctx, consumer, log)

	log.Info("usage sink started",
		zap.String("topic", cfg.Quota.EventsTopic),
		zap.String("group", groupID),
		zap.Int("workers", w.Workers),
		zap.Int("batch_size", w.BatchSize),
		zap.Duration("batch_wait", w.BatchWait),
	)

	return w.Run(ctx)
}

func reportLag(ctx context.Context, c *kafka.Consumer, log *zap.Logger) {
	tick := time.NewTicker(30 * time.Second)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
			log.Debug("usage sink lag", zap.Int64("lag", c.Lag()))
		}
	}
}
