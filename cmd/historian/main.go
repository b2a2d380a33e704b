// cmd/historian/main.go drains archived battle events from Redis into Postgres.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/jason-s-yu/voicebattle/internal/cache"
	"github.com/jason-s-yu/voicebattle/internal/config"
	"github.com/jason-s-yu/voicebattle/internal/database"
	"github.com/jason-s-yu/voicebattle/internal/historian"
)

func main() {
	cfg := config.Load()
	logger := cfg.NewLogger()

	if cfg.DatabaseURL == "" {
		logger.Fatal("historian needs DATABASE_URL or PG_HOST")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rdb, err := cache.ConnectRedis(ctx, cfg.RedisAddr, cfg.RedisDB)
	if err != nil {
		logger.Fatalf("redis: %v", err)
	}
	defer rdb.Close()

	pool, err := database.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatalf("postgres: %v", err)
	}
	defer pool.Close()
	if err := database.Migrate(ctx, pool); err != nil {
		logger.Fatalf("migrate: %v", err)
	}

	svc := historian.NewService(rdb, database.NewBattleLog(pool), historian.Options{
		Queue:      cfg.HistorianQueue,
		BatchSize:  cfg.HistorianBatchSize,
		FlushDelay: cfg.HistorianFlushDelay,
	}, logger)

	svc.Run(ctx)
	logger.Info("voicebattle-historian shut down.")
}
