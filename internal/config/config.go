package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	AppName string
	Env     string
	Host    string
	Port    int

	// DatabaseURL selects the store: postgres://... uses the pgx driver,
	// anything else is treated as a SQLite DSN.
	DatabaseURL string

	JWTSecret  string
	EncryptKey string

	CORSOrigins []string

	TypingTimeout      time.Duration
	RingTimeout        time.Duration
	PresenceStaleAfter time.Duration

	ModerationURL string
	ModerationKey string

	RedisAddr        string
	QueueWorkers     int
	PushMaxAttempts  int
	PushRetryBackoff time.Duration

	HistoryLimit int
	Debug        bool
}

func Load() (*Config, error) {
	cfg := &Config{
		AppName: getEnv("APP_NAME", "chatrelay"),
		Env:     getEnv("APP_ENV", "development"),
		Host:    getEnv("HTTP_HOST", "0.0.0.0"),
		Port:    getEnvAsInt("HTTP_PORT", 8000),

		DatabaseURL: getEnv("DATABASE_URL", "chatrelay.db"),

		JWTSecret:  os.Getenv("JWT_SECRET"),
		EncryptKey: os.Getenv("ENCRYPTION_KEY"),

		TypingTimeout:      getEnvAsDuration("TYPING_TIMEOUT", 3*time.Second),
		RingTimeout:        getEnvAsDuration("CALL_RING_TIMEOUT", 30*time.Second),
		PresenceStaleAfter: getEnvAsDuration("PRESENCE_STALE_AFTER", 5*time.Minute),

		ModerationURL: os.Getenv("MODERATION_API_URL"),
		ModerationKey: os.Getenv("MODERATION_API_KEY"),

		RedisAddr:        os.Getenv("REDIS_ADDR"),
		QueueWorkers:     getEnvAsInt("NOTIFY_WORKERS", 4),
		PushMaxAttempts:  getEnvAsInt("PUSH_MAX_ATTEMPTS", 5),
		PushRetryBackoff: getEnvAsDuration("PUSH_RETRY_BACKOFF", 2*time.Second),

		HistoryLimit: getEnvAsInt("HISTORY_LIMIT", 100),
		Debug:        getEnvAsBool("DEBUG", true),
	}

	cors := getEnv("CORS_ORIGINS", "")
	if cors != "" {
		parts := strings.Split(cors, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		cfg.CORSOrigins = parts
	} else {
		cfg.CORSOrigins = []string{"http://localhost:3000", "http://localhost:5173"}
	}

	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}
	if cfg.EncryptKey == "" {
		return nil, fmt.Errorf("ENCRYPTION_KEY is required")
	}

	return cfg, nil
}

func (c *Config) HTTPAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

func (c *Config) UsesPostgres() bool {
	return strings.HasPrefix(c.DatabaseURL, "postgres://") || strings.HasPrefix(c.DatabaseURL, "postgresql://")
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvAsInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getEnvAsBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func getEnvAsDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
