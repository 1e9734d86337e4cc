package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Port          string `envconfig:"PORT" default:"8080"`
	AllowedOrigin string `envconfig:"ALLOWED_ORIGIN" default:"http://127.0.0.1:3000"`
	DatabaseURL   string `envconfig:"DATABASE_URL"`

	RedisAddr     string `envconfig:"REDIS_ADDR"`
	RedisPassword string `envconfig:"REDIS_PASSWORD"`
	RedisDB       int    `envconfig:"REDIS_DB" default:"0"`

	AuthSecret     string        `envconfig:"AUTH_SECRET"`
	AccessTokenTTL time.Duration `envconfig:"ACCESS_TOKEN_TTL" default:"8h"`
	LoginRateLimit int           `envconfig:"LOGIN_RATE_LIMIT" default:"5"`
	SSLRedirect    bool          `envconfig:"SSL_REDIRECT" default:"false"`

	// BootstrapAdminPassword creates the postgres admin account when it is missing.
	BootstrapAdminPassword string `envconfig:"SEED_ADMIN_PASSWORD"`

	LedgerLockTimeout   time.Duration `envconfig:"LEDGER_LOCK_TIMEOUT" default:"5s"`
	StockReportCacheTTL time.Duration `envconfig:"STOCK_REPORT_CACHE_TTL" default:"30s"`
	LowStockThreshold   int           `envconfig:"LOW_STOCK_THRESHOLD" default:"10"`
	LowStockLimit       int           `envconfig:"LOW_STOCK_LIMIT" default:"5"`

	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat string `envconfig:"LOG_FORMAT" default:"text"`
}

func Load() (Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	cfg.AuthSecret = strings.TrimSpace(cfg.AuthSecret)
	cfg.LogFormat = strings.ToLower(strings.TrimSpace(cfg.LogFormat))
	return cfg, nil
}

// Validate rejects settings the ledger cannot run with.
func (c Config) Validate() error {
	var errs []error
	if c.LedgerLockTimeout <= 0 {
		errs = append(errs, errors.New("LEDGER_LOCK_TIMEOUT must be positive"))
	}
	if c.AccessTokenTTL <= 0 {
		errs = append(errs, errors.New("ACCESS_TOKEN_TTL must be positive"))
	}
	if c.LowStockThreshold < 1 || c.LowStockLimit < 1 {
		errs = append(errs, errors.New("LOW_STOCK_THRESHOLD and LOW_STOCK_LIMIT must be at least 1"))
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		errs = append(errs, fmt.Errorf("LOG_FORMAT %q must be text or json", c.LogFormat))
	}
	return errors.Join(errs...)
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}
