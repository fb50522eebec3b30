package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Version is stamped at build time with -ldflags "-X".
var Version = "dev"

// Config holds all configuration for the PulseKit server.
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Fanout    FanoutConfig
	Webhook   WebhookConfig
	Retention RetentionConfig
	Auth      AuthConfig
}

type ServerConfig struct {
	Port     int
	Env      string
	LogLevel string
}

type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	MigrationsDir   string
}

type RedisConfig struct {
	URL string
}

// FanoutConfig selects how realtime notifications travel between processes.
type FanoutConfig struct {
	Backend string
	NATSURL string
}

type WebhookConfig struct {
	Timeout        time.Duration
	MaxConcurrency int
	UserAgent      string
}

type RetentionConfig struct {
	Interval     time.Duration
	InitialDelay time.Duration
	DefaultDays  int
}

type AuthConfig struct {
	RateLimitPerMinute int
	CacheTTL           time.Duration
}

const (
	FanoutMemory = "memory"
	FanoutRedis  = "redis"
	FanoutNATS   = "nats"
)

var validFanoutBackends = map[string]bool{
	FanoutMemory: true,
	FanoutRedis:  true,
	FanoutNATS:   true,
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Load reads configuration from environment variables and returns a validated Config.
// Returns an error with a descriptive message if any required value is missing or invalid.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:     envInt("PULSEKIT_PORT", 8080),
			Env:      envString("PULSEKIT_ENV", "development"),
			LogLevel: strings.ToLower(envString("PULSEKIT_LOG_LEVEL", "info")),
		},
		Database: DatabaseConfig{
			URL:             os.Getenv("DATABASE_URL"),
			MaxOpenConns:    envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    envInt("DATABASE_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: envDuration("DATABASE_CONN_MAX_LIFETIME", 5*time.Minute),
			MigrationsDir:   envString("PULSEKIT_MIGRATIONS_DIR", "migrations"),
		},
		Redis: RedisConfig{
			URL: os.Getenv("REDIS_URL"),
		},
		Fanout: FanoutConfig{
			Backend: strings.ToLower(envString("PULSEKIT_FANOUT_BACKEND", FanoutMemory)),
			NATSURL: os.Getenv("NATS_URL"),
		},
		Webhook: WebhookConfig{
			Timeout:        envDuration("WEBHOOK_TIMEOUT", 10*time.Second),
			MaxConcurrency: envInt("WEBHOOK_MAX_CONCURRENCY", 16),
			UserAgent:      envString("WEBHOOK_USER_AGENT", "PulseKit-Webhook/"+Version),
		},
		Retention: RetentionConfig{
			Interval:     envDuration("RETENTION_INTERVAL", 24*time.Hour),
			InitialDelay: envDuration("RETENTION_INITIAL_DELAY", time.Minute),
			DefaultDays:  envInt("RETENTION_DEFAULT_DAYS", 30),
		},
		Auth: AuthConfig{
			RateLimitPerMinute: envInt("RATE_LIMIT_PER_MINUTE", 600),
			CacheTTL:           envDuration("AUTH_CACHE_TTL", time.Minute),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if c.Redis.URL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}

	if !validLogLevels[c.Server.LogLevel] {
		return fmt.Errorf("PULSEKIT_LOG_LEVEL must be one of debug, info, warn, error; got %q", c.Server.LogLevel)
	}

	if !validFanoutBackends[c.Fanout.Backend] {
		return fmt.Errorf("PULSEKIT_FANOUT_BACKEND must be one of memory, redis, nats; got %q", c.Fanout.Backend)
	}
	if c.Fanout.Backend == FanoutNATS && c.Fanout.NATSURL == "" {
		return fmt.Errorf("NATS_URL is required when PULSEKIT_FANOUT_BACKEND is nats")
	}

	if c.Webhook.Timeout <= 0 {
		return fmt.Errorf("WEBHOOK_TIMEOUT must be positive, got %s", c.Webhook.Timeout)
	}
	if c.Webhook.MaxConcurrency < 1 {
		return fmt.Errorf("WEBHOOK_MAX_CONCURRENCY must be at least 1, got %d", c.Webhook.MaxConcurrency)
	}

	if c.Retention.Interval <= 0 {
		return fmt.Errorf("RETENTION_INTERVAL must be positive, got %s", c.Retention.Interval)
	}
	if c.Retention.DefaultDays < 0 {
		return fmt.Errorf("RETENTION_DEFAULT_DAYS must not be negative, got %d", c.Retention.DefaultDays)
	}

	if c.Auth.RateLimitPerMinute < 1 {
		return fmt.Errorf("RATE_LIMIT_PER_MINUTE must be at least 1, got %d", c.Auth.RateLimitPerMinute)
	}

	return nil
}

// SlogLevel maps the configured log level to a slog.Level.
func (c ServerConfig) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func envString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
