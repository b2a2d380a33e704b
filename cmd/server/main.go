// cmd/server/main.go
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jason-s-yu/voicebattle/internal/auth"
	"github.com/jason-s-yu/voicebattle/internal/cache"
	"github.com/jason-s-yu/voicebattle/internal/config"
	"github.com/jason-s-yu/voicebattle/internal/database"
	"github.com/jason-s-yu/voicebattle/internal/gateway"
	"github.com/jason-s-yu/voicebattle/internal/handlers"
	"github.com/jason-s-yu/voicebattle/internal/media"
	"github.com/jason-s-yu/voicebattle/internal/metrics"
	"github.com/jason-s-yu/voicebattle/internal/session"
	"github.com/sirupsen/logrus"
)

func loadKeys(cfg config.Config, logger *logrus.Logger) (*auth.Keys, error) {
	if cfg.JWTPublicKeyPath != "" {
		return auth.LoadKeys(cfg.JWTPrivateKeyPath, cfg.JWTPublicKeyPath, cfg.TokenExpiry)
	}
	logger.Warn("JWT_PUBLIC_KEY_PATH not set, generating an ephemeral key pair; tokens die with this process")
	return auth.GenerateKeys(cfg.TokenExpiry)
}

func main() {
	cfg := config.Load()
	logger := cfg.NewLogger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	keys, err := loadKeys(cfg, logger)
	if err != nil {
		logger.Fatalf("auth keys: %v", err)
	}

	rdb, err := cache.ConnectRedis(ctx, cfg.RedisAddr, cfg.RedisDB)
	if err != nil {
		logger.Fatalf("redis: %v", err)
	}
	defer rdb.Close()

	checks := map[string]handlers.HealthCheck{
		"redis": func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
	}

	var profiles gateway.ProfileStore
	if cfg.DatabaseURL != "" {
		pool, err := database.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Fatalf("postgres: %v", err)
		}
		defer pool.Close()
		if err := database.Migrate(ctx, pool); err != nil {
			logger.Fatalf("migrate: %v", err)
		}
		profiles = database.NewProfileStore(pool)
		checks["postgres"] = pool.Ping
		logger.Info("profile database connected")
	} else {
		logger.Warn("no database configured, using placeholder displays and unrated results")
	}

	m := metrics.New()
	gw := gateway.New(gateway.Deps{
		Sessions: session.NewStore(rdb, cfg.BattleTTL),
		Profiles: profiles,
		Media:    media.NewDirCleaner(cfg.MediaDir),
		Events:   cache.NewPublisher(rdb, cfg.HistorianQueue),
		Metrics:  m,
		Logger:   logger,
		Grace:    cfg.ReconnectGrace,
	})
	defer gw.Shutdown()

	ws := handlers.NewWSHandler(gw, keys, handlers.WSOptions{
		OriginPatterns:  cfg.CORSOrigins,
		EventsPerSecond: cfg.EventsPerSecond,
		EventBurst:      cfg.EventBurst,
		OutboundBuffer:  cfg.OutboundBuffer,
	}, logger)

	srv := &http.Server{
		Addr: ":" + cfg.Port,
		Handler: handlers.NewRouter(handlers.RouterConfig{
			Gateway:     gw,
			Keys:        keys,
			WS:          ws,
			Metrics:     m.Handler(),
			CORSOrigins: cfg.CORSOrigins,
			Checks:      checks,
			Logger:      logger,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Infof("Running on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("server exited: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	ws.Shutdown()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warnf("http shutdown: %v", err)
	}
}
