package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmehdipour/aigen-gateway/internal/db"
	httpSrv "github.com/jmehdipour/aigen-gateway/internal/http"
	"github.com/jmehdipour/aigen-gateway/internal/imagepipe"
	"github.com/jmehdipour/aigen-gateway/internal/logger"
	"github.com/jmehdipour/aigen-gateway/internal/repository"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run HTTP server",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		defer func() { _ = logger.Log.Sync() }()

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

		// reports are optional; the gateway serves without ClickHouse
		var usage repository.CHUsageRepository
		chDB, err := db.NewClickHouseConnection(cfg.ClickHouse)
		if err != nil {
			logger.Log.Warn("clickhouse unavailable, usage reports disabled", zap.Error(err))
		} else {
			defer func() { _ = chDB.Close() }()
			usage = repository.NewCHUsageRepository(chDB)
		}

		enf, store, err := newEnforcer(cfg, mysqlDB, redisClient)
		if err != nil {
			return err
		}
		disp, err := newDispatcher(cfg)
		if err != nil {
			return err
		}

		server := httpSrv.NewServer(cfg, httpSrv.Deps{
			Enforcer:  enf,
			Licenses:  store.Licenses(),
			Usage:     usage,
			Images:    imagepipe.New(cfg.Image.MaxEdge, cfg.Image.JPEGQuality),
			Generator: disp,
			Redis:     redisClient,
			Log:       logger.Log,
		})

		errCh := make(chan error, 1)
		go func() {
			logger.Log.Info("starting http", zap.String("addr", cfg.HTTP.Addr))
			errCh <- server.Start(cfg.HTTP.Addr)
		}()

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

		select {
		case sig := <-sigCh:
			logger.Log.Info("signal received, shutting down", zap.String("signal", sig.String()))
		case err := <-errCh:
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Log.Error("http server exited", zap.Error(err))
			}
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(ctx)

		return nil
	},
}
