package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Port          string `envconfig:"PORT" default:"8080"`
	AllowedOrigin string `envconfig:"ALLOWED_ORIGIN" default:"http://127.0.0.1:3000"`
	DatabaseURL   string `envconfig:"DATABASE_URL"`

	RedisAddr     string `envconfig:"REDIS_ADDR"`
	RedisPassword string `envconfig:"REDIS_PASSWORD"`
	RedisDB       int    `envconfig:"REDIS_DB" default:"0"`

	AuthSecret            string `envconfig:"AUTH_SECRET"`
	AccessTokenTTLMinutes int    `envconfig:"ACCESS_TOKEN_TTL_MINUTES" default:"480"`

	DashboardCacheTTLSeconds int `envconfig:"DASHBOARD_CACHE_TTL_SECONDS" default:"30"`
	LedgerMaxRetries         int `envconfig:"LEDGER_MAX_RETRIES" default:"3"`

	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat string `envconfig:"LOG_FORMAT" default:"json"`

	GCSBucket          string `envconfig:"GCS_BUCKET"`
	GCSPublicBaseURL   string `envconfig:"GCS_PUBLIC_BASE_URL"`
	GCSCredentialsJSON string `envconfig:"GCS_CREDENTIALS_JSON"`
	UploadMaxBytes     int64  `envconfig:"UPLOAD_MAX_BYTES" default:"5242880"`

	WorkerConcurrency int    `envconfig:"WORKER_CONCURRENCY" default:"5"`
	ReconcileCron     string `envconfig:"RECONCILE_CRON" default:"@every 1h"`
}

// Load reads an optional .env file and then the process environment. Values
// already present in the environment win over the file.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return Config{}, err
	}
	cfg.AuthSecret = strings.TrimSpace(cfg.AuthSecret)

	if cfg.AccessTokenTTLMinutes < 1 {
		cfg.AccessTokenTTLMinutes = 480
	}
	if cfg.DashboardCacheTTLSeconds < 1 {
		cfg.DashboardCacheTTLSeconds = 30
	}
	if cfg.LedgerMaxRetries < 0 {
		cfg.LedgerMaxRetries = 0
	}
	if cfg.UploadMaxBytes < 1 {
		cfg.UploadMaxBytes = 5 << 20
	}
	if cfg.WorkerConcurrency < 1 {
		cfg.WorkerConcurrency = 5
	}
	return cfg, nil
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

func (c Config) AccessTokenTTL() time.Duration {
	return time.Duration(c.AccessTokenTTLMinutes) * time.Minute
}

func (c Config) DashboardCacheTTL() time.Duration {
	return time.Duration(c.DashboardCacheTTLSeconds) * time.Second
}
