package config

import (
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	for _, k := range []string{"PORT", "REDIS_ADDR", "BATTLE_TTL", "RECONNECT_GRACE", "DATABASE_URL", "PG_HOST", "CORS_ORIGINS", "TOKEN_EXPIRE_TIME"} {
		t.Setenv(k, "")
	}

	cfg := Load()
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "localhost:6379", cfg.RedisAddr)
	assert.Equal(t, time.Hour, cfg.BattleTTL)
	assert.Equal(t, 10*time.Second, cfg.ReconnectGrace)
	assert.Empty(t, cfg.DatabaseURL)
	assert.Equal(t, time.Duration(0), cfg.TokenExpiry)
	assert.Len(t, cfg.CORSOrigins, 2)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("PG_HOST", "db")
	t.Setenv("PG_PORT", "6543")
	t.Setenv("POSTGRES_USER", "u")
	t.Setenv("POSTGRES_PASSWORD", "p")
	t.Setenv("PG_DATABASE", "battles")
	t.Setenv("RECONNECT_GRACE", "3s")
	t.Setenv("REDIS_DB", "not-a-number")
	t.Setenv("CORS_ORIGINS", " https://a.example , ,https://b.example")
	t.Setenv("TOKEN_EXPIRE_TIME", "72h")

	cfg := Load()
	assert.Equal(t, "postgres://u:p@db:6543/battles", cfg.DatabaseURL)
	assert.Equal(t, 3*time.Second, cfg.ReconnectGrace)
	assert.Equal(t, 0, cfg.RedisDB, "unparsable ints fall back to the default")
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORSOrigins)
	assert.Equal(t, 72*time.Hour, cfg.TokenExpiry)
}

func TestNewLogger(t *testing.T) {
	logger := Config{LogLevel: "debug", LogFormat: "json"}.NewLogger()
	assert.Equal(t, logrus.DebugLevel, logger.GetLevel())
	_, isJSON := logger.Formatter.(*logrus.JSONFormatter)
	assert.True(t, isJSON)

	logger = Config{LogLevel: "loud"}.NewLogger()
	assert.Equal(t, logrus.InfoLevel, logger.GetLevel())
}

func TestHistorianSettings(t *testing.T) {
	t.Setenv("HISTORIAN_QUEUE_NAME", "")
	t.Setenv("HISTORIAN_BATCH_SIZE", "50")
	t.Setenv("HISTORIAN_FLUSH_MS", "250")

	cfg := Load()
	assert.Equal(t, "battle_events", cfg.HistorianQueue)
	assert.Equal(t, 50, cfg.HistorianBatchSize)
	assert.Equal(t, 250*time.Millisecond, cfg.HistorianFlushDelay)
}
