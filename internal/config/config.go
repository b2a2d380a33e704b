// internal/config/config.go
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "github.com/joho/godotenv/autoload"
	"github.com/sirupsen/logrus"
)

// Config holds every tunable the coordinator reads at startup.
type Config struct {
	Port string

	RedisAddr string
	RedisDB   int

	// DatabaseURL is empty when no profile database is configured; displays
	// then fall back to placeholders and ranked results are not persisted.
	DatabaseURL string

	BattleTTL      time.Duration
	ReconnectGrace time.Duration

	JWTPrivateKeyPath string
	JWTPublicKeyPath  string
	TokenExpiry       time.Duration

	MediaDir    string
	CORSOrigins []string

	EventsPerSecond float64
	EventBurst      int
	OutboundBuffer  int

	HistorianQueue      string
	HistorianBatchSize  int
	HistorianFlushDelay time.Duration

	LogLevel  string
	LogFormat string
}

// Load reads the environment (after .env autoload) into a Config.
func Load() Config {
	return Config{
		Port:                getEnv("PORT", "8080"),
		RedisAddr:           getEnv("REDIS_ADDR", "localhost:6379"),
		RedisDB:             getEnvInt("REDIS_DB", 0),
		DatabaseURL:         databaseURL(),
		BattleTTL:           getEnvDuration("BATTLE_TTL", time.Hour),
		ReconnectGrace:      getEnvDuration("RECONNECT_GRACE", 10*time.Second),
		JWTPrivateKeyPath:   os.Getenv("JWT_PRIVATE_KEY_PATH"),
		JWTPublicKeyPath:    os.Getenv("JWT_PUBLIC_KEY_PATH"),
		TokenExpiry:         tokenExpiry(),
		MediaDir:            getEnv("MEDIA_DIR", filepath.Join(os.TempDir(), "battles")),
		CORSOrigins:         splitList(getEnv("CORS_ORIGINS", "http://localhost:3000,http://localhost:5173")),
		EventsPerSecond:     getEnvFloat("WS_EVENTS_PER_SECOND", 20),
		EventBurst:          getEnvInt("WS_EVENT_BURST", 40),
		OutboundBuffer:      getEnvInt("WS_OUTBOUND_BUFFER", 32),
		HistorianQueue:      getEnv("HISTORIAN_QUEUE_NAME", "battle_events"),
		HistorianBatchSize:  getEnvInt("HISTORIAN_BATCH_SIZE", 20),
		HistorianFlushDelay: time.Duration(getEnvInt("HISTORIAN_FLUSH_MS", 500)) * time.Millisecond,
		LogLevel:            getEnv("LOG_LEVEL", "info"),
		LogFormat:           getEnv("LOG_FORMAT", "text"),
	}
}

// NewLogger builds the process logger from LogLevel and LogFormat.
func (c Config) NewLogger() *logrus.Logger {
	logger := logrus.New()
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
		logger.Warnf("unknown LOG_LEVEL %q, using info", c.LogLevel)
	}
	logger.SetLevel(level)
	if c.LogFormat == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}
	return logger
}

// databaseURL prefers DATABASE_URL and otherwise assembles one from the
// POSTGRES_* / PG_* variables. Returns "" when PG_HOST is unset too.
func databaseURL() string {
	if u := os.Getenv("DATABASE_URL"); u != "" {
		return u
	}
	host := os.Getenv("PG_HOST")
	if host == "" {
		return ""
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s",
		os.Getenv("POSTGRES_USER"),
		os.Getenv("POSTGRES_PASSWORD"),
		host,
		getEnv("PG_PORT", "5432"),
		os.Getenv("PG_DATABASE"),
	)
}

// tokenExpiry parses TOKEN_EXPIRE_TIME; "never", "0" or empty mean tokens carry no exp claim.
func tokenExpiry() time.Duration {
	s := os.Getenv("TOKEN_EXPIRE_TIME")
	if s == "" || s == "never" || s == "0" {
		return 0
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0
	}
	return d
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// getEnv is a helper to read an environment variable or return a default value.
func getEnv(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

// getEnvInt is a helper to parse an environment variable as integer, else a default value.
func getEnvInt(key string, def int) int {
	s := os.Getenv(key)
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return v
}

func getEnvFloat(key string, def float64) float64 {
	s := os.Getenv(key)
	if s == "" {
		return def
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return def
	}
	return v
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	s := os.Getenv(key)
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return def
	}
	return d
}
