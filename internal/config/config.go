// Package config reads the service configuration from the environment.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Store drivers.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverMemory   = "memory"
)

// Historian modes.
const (
	HistorianDirect = "direct"
	HistorianRedis  = "redis"
)

type Config struct {
	Port string `env:"PORT" envDefault:"8080"`

	StoreDriver string `env:"STORE_DRIVER" envDefault:"postgres"`
	DatabaseURL string `env:"DATABASE_URL"`
	SQLitePath  string `env:"SQLITE_PATH" envDefault:"fairtable.db"`

	RedisAddr string `env:"REDIS_ADDR"`
	RedisDB   int    `env:"REDIS_DB" envDefault:"0"`

	Historian Historian

	AntiCheat AntiCheat

	Reconnect Reconnect

	SweepInterval time.Duration `env:"STATE_SWEEP_INTERVAL" envDefault:"30s"`

	ActionRatePerSec float64 `env:"ACTION_RATE_PER_SEC" envDefault:"10"`
	ActionRateBurst  int     `env:"ACTION_RATE_BURST" envDefault:"20"`

	TokenExpireTime string `env:"TOKEN_EXPIRE_TIME" envDefault:"72h"`
	PrivateKeyPath  string `env:"JWT_PRIVATE_KEY_PATH"`
	PublicKeyPath   string `env:"JWT_PUBLIC_KEY_PATH"`
}

type Historian struct {
	Mode      string `env:"HISTORIAN_MODE" envDefault:"direct"`
	QueueName string `env:"HISTORIAN_QUEUE_NAME" envDefault:"fairtable_history"`
	BatchSize int    `env:"HISTORIAN_BATCH_SIZE" envDefault:"20"`
	FlushMS   int    `env:"HISTORIAN_FLUSH_MS" envDefault:"500"`
}

// FlushDelay is FlushMS as a duration.
func (h Historian) FlushDelay() time.Duration {
	return time.Duration(h.FlushMS) * time.Millisecond
}

type AntiCheat struct {
	Window           time.Duration `env:"ANTICHEAT_WINDOW" envDefault:"5m"`
	TimingDeviation  float64       `env:"ANTICHEAT_TIMING_DEVIATION" envDefault:"0.5"`
	PatternThreshold float64       `env:"ANTICHEAT_PATTERN_THRESHOLD" envDefault:"0.95"`
	FlagTTL          time.Duration `env:"ANTICHEAT_FLAG_TTL" envDefault:"0s"`
}

type Reconnect struct {
	MaxAttempts int           `env:"RECONNECT_MAX_ATTEMPTS" envDefault:"5"`
	Interval    time.Duration `env:"RECONNECT_INTERVAL" envDefault:"3s"`
	PingTimeout time.Duration `env:"RECONNECT_PING_TIMEOUT" envDefault:"1s"`
}

// Load parses the environment and checks the values that would otherwise
// fail late.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("parse env: %w", err)
	}
	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	switch c.StoreDriver {
	case DriverPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required for STORE_DRIVER=%s", c.StoreDriver)
		}
	case DriverSQLite, DriverMemory:
	default:
		return fmt.Errorf("unknown STORE_DRIVER %q", c.StoreDriver)
	}
	switch c.Historian.Mode {
	case HistorianDirect:
	case HistorianRedis:
		if c.RedisAddr == "" {
			return fmt.Errorf("REDIS_ADDR is required for HISTORIAN_MODE=%s", c.Historian.Mode)
		}
	default:
		return fmt.Errorf("unknown HISTORIAN_MODE %q", c.Historian.Mode)
	}
	if (c.PrivateKeyPath == "") != (c.PublicKeyPath == "") {
		return fmt.Errorf("JWT_PRIVATE_KEY_PATH and JWT_PUBLIC_KEY_PATH must be set together")
	}
	return nil
}
