package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// DatabaseConfig holds the PostgreSQL pool settings.
type DatabaseConfig struct {
	URL             string        `yaml:"url"`
	MaxConns        int32         `yaml:"max_conns"`
	MinConns        int32         `yaml:"min_conns"`
	MaxConnIdleTime time.Duration `yaml:"max_conn_idle_time"`
}

// RedisConfig holds the Redis connection settings shared by the outbox relay
// and the run lock.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// RenewalConfig tunes the renewal pass and its scheduler.
type RenewalConfig struct {
	Interval  time.Duration `yaml:"interval"`
	PageSize  int           `yaml:"page_size"`
	ChunkSize int           `yaml:"chunk_size"`
	MaxPerRun int           `yaml:"max_per_run"`
	LockKey   string        `yaml:"lock_key"`
	LockTTL   time.Duration `yaml:"lock_ttl"`
	TenantID  string        `yaml:"tenant_id"`
}

// OutboxConfig tunes the outbox relay.
type OutboxConfig struct {
	Stream      string        `yaml:"stream"`
	BatchSize   int           `yaml:"batch_size"`
	MaxAttempts int           `yaml:"max_attempts"`
	Interval    time.Duration `yaml:"interval"`
}

type Config struct {
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	Renewal  RenewalConfig  `yaml:"renewal"`
	Outbox   OutboxConfig   `yaml:"outbox"`

	HTTP struct {
		Addr string `yaml:"addr"`
	} `yaml:"http"`

	Auth struct {
		JWTSecret string `yaml:"jwt_secret"`
	} `yaml:"auth"`

	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
}

// maxRenewalPageSize matches the largest page the agreement selector returns.
const maxRenewalPageSize = 1000

// Default returns the configuration used when neither a file nor the
// environment overrides a value.
func Default() *Config {
	cfg := &Config{}
	cfg.Database.MaxConns = 10
	cfg.Database.MinConns = 1
	cfg.Database.MaxConnIdleTime = 30 * time.Second

	cfg.Redis.Addr = "localhost:6379"

	cfg.Renewal.Interval = 24 * time.Hour
	cfg.Renewal.PageSize = 200
	cfg.Renewal.ChunkSize = 50
	cfg.Renewal.LockKey = "fieldflow:renewal:lock"
	cfg.Renewal.LockTTL = 10 * time.Minute

	cfg.Outbox.Stream = "fieldflow:events"
	cfg.Outbox.BatchSize = 100
	cfg.Outbox.MaxAttempts = 10
	cfg.Outbox.Interval = 5 * time.Second

	cfg.HTTP.Addr = ":8080"
	cfg.Log.Level = "info"
	cfg.Log.Format = "json"
	return cfg
}

// Load builds the configuration from defaults, then the YAML file at path
// (skipped when path is empty), then environment variables.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	c.Database.URL = getEnv("DATABASE_URL", c.Database.URL)
	c.Redis.Addr = getEnv("REDIS_ADDR", c.Redis.Addr)
	c.Redis.Password = getEnv("REDIS_PASSWORD", c.Redis.Password)
	c.HTTP.Addr = getEnv("HTTP_ADDR", c.HTTP.Addr)
	c.Auth.JWTSecret = getEnv("JWT_SECRET", c.Auth.JWTSecret)
	c.Log.Level = getEnv("LOG_LEVEL", c.Log.Level)
	c.Log.Format = getEnv("LOG_FORMAT", c.Log.Format)
	c.Renewal.TenantID = getEnv("RENEWAL_TENANT_ID", c.Renewal.TenantID)
	c.Outbox.Stream = getEnv("OUTBOX_STREAM", c.Outbox.Stream)

	var err error
	if c.Redis.DB, err = getEnvInt("REDIS_DB", c.Redis.DB); err != nil {
		return err
	}
	if c.Renewal.PageSize, err = getEnvInt("RENEWAL_PAGE_SIZE", c.Renewal.PageSize); err != nil {
		return err
	}
	if c.Renewal.ChunkSize, err = getEnvInt("RENEWAL_CHUNK_SIZE", c.Renewal.ChunkSize); err != nil {
		return err
	}
	if c.Renewal.MaxPerRun, err = getEnvInt("RENEWAL_MAX_PER_RUN", c.Renewal.MaxPerRun); err != nil {
		return err
	}
	if c.Outbox.BatchSize, err = getEnvInt("OUTBOX_BATCH_SIZE", c.Outbox.BatchSize); err != nil {
		return err
	}
	if c.Renewal.Interval, err = getEnvDuration("RENEWAL_INTERVAL", c.Renewal.Interval); err != nil {
		return err
	}
	if c.Renewal.LockTTL, err = getEnvDuration("RENEWAL_LOCK_TTL", c.Renewal.LockTTL); err != nil {
		return err
	}
	if c.Outbox.Interval, err = getEnvDuration("OUTBOX_INTERVAL", c.Outbox.Interval); err != nil {
		return err
	}
	return nil
}

// Validate reports the first setting that would prevent the services from
// starting.
func (c *Config) Validate() error {
	switch {
	case c.Database.URL == "":
		return errors.New("config: database url required")
	case c.Renewal.PageSize <= 0:
		return errors.New("config: renewal page size must be positive")
	case c.Renewal.PageSize > maxRenewalPageSize:
		return fmt.Errorf("config: renewal page size must not exceed %d", maxRenewalPageSize)
	case c.Renewal.ChunkSize <= 0:
		return errors.New("config: renewal chunk size must be positive")
	case c.Renewal.MaxPerRun < 0:
		return errors.New("config: renewal max per run must not be negative")
	case c.Renewal.Interval <= 0:
		return errors.New("config: renewal interval must be positive")
	case c.Renewal.LockTTL <= 0:
		return errors.New("config: renewal lock ttl must be positive")
	case c.Outbox.BatchSize <= 0:
		return errors.New("config: outbox batch size must be positive")
	case c.Outbox.Interval <= 0:
		return errors.New("config: outbox interval must be positive")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", key, err)
	}
	return n, nil
}

func getEnvDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("config: %s: %w", key, err)
	}
	return d, nil
}
