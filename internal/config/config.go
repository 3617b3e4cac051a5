// Package config loads catalogsync configuration from an optional YAML file,
// an optional .env file and CATALOG_* environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	apperrors "github.com/kimhsiao/catalogsync/internal/errors"
)

// EnvPrefix prefixes every environment override: sync.interval is read from
// CATALOG_SYNC_INTERVAL.
const EnvPrefix = "CATALOG"

// Backend kinds.
const (
	BackendREST     = "rest"
	BackendPostgres = "postgres"
)

// Storage kinds.
const (
	StorageSQLite = "sqlite"
	StorageRedis  = "redis"
	StorageMemory = "memory"
)

// Config holds all configuration for the application.
type Config struct {
	Company string        `mapstructure:"company"`
	Backend BackendConfig `mapstructure:"backend"`
	Storage StorageConfig `mapstructure:"storage"`
	Sync    SyncConfig    `mapstructure:"sync"`
	Server  ServerConfig  `mapstructure:"server"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// BackendConfig selects and configures the remote backend client.
type BackendConfig struct {
	Kind              string        `mapstructure:"kind"`
	URL               string        `mapstructure:"url"`
	APIKey            string        `mapstructure:"api_key"`
	Token             string        `mapstructure:"token"`
	DatabaseURL       string        `mapstructure:"database_url"`
	Timeout           time.Duration `mapstructure:"timeout"`
	MaxRetries        int           `mapstructure:"max_retries"`
	RequestsPerSecond int           `mapstructure:"requests_per_second"`
	Breaker           BreakerConfig `mapstructure:"breaker"`
}

// BreakerConfig holds circuit breaker settings.
type BreakerConfig struct {
	MaxFailures uint32        `mapstructure:"max_failures"`
	OpenTimeout time.Duration `mapstructure:"open_timeout"`
}

// StorageConfig selects the local durable key-value substrate.
type StorageConfig struct {
	Kind    string      `mapstructure:"kind"`
	DataDir string      `mapstructure:"data_dir"`
	Redis   RedisConfig `mapstructure:"redis"`
}

// RedisConfig holds Redis connection details. Redis also backs the replay
// lock when it is the storage substrate.
type RedisConfig struct {
	Addr      string `mapstructure:"addr"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

// SyncConfig holds coordinator and connectivity settings.
type SyncConfig struct {
	Interval      time.Duration `mapstructure:"interval"`
	Timeout       time.Duration `mapstructure:"timeout"`
	ProbeInterval time.Duration `mapstructure:"probe_interval"`
	InitialOnline bool          `mapstructure:"initial_online"`
	AutoReplay    bool          `mapstructure:"auto_replay"`
}

// ServerConfig holds desktop server settings.
type ServerConfig struct {
	Host          string `mapstructure:"host"`
	Port          int    `mapstructure:"port"`
	SyncRateLimit int    `mapstructure:"sync_rate_limit"` // manual sync requests per minute
}

// Addr returns host:port.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// LoggingConfig holds logger settings. An empty File logs to stderr.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("company", "")

	v.SetDefault("backend.kind", BackendREST)
	v.SetDefault("backend.url", "")
	v.SetDefault("backend.api_key", "")
	v.SetDefault("backend.token", "")
	v.SetDefault("backend.database_url", "")
	v.SetDefault("backend.timeout", 30*time.Second)
	v.SetDefault("backend.max_retries", 2)
	v.SetDefault("backend.requests_per_second", 10)
	v.SetDefault("backend.breaker.max_failures", 3)
	v.SetDefault("backend.breaker.open_timeout", 10*time.Second)

	v.SetDefault("storage.kind", StorageSQLite)
	v.SetDefault("storage.data_dir", "data")
	v.SetDefault("storage.redis.addr", "")
	v.SetDefault("storage.redis.password", "")
	v.SetDefault("storage.redis.db", 0)
	v.SetDefault("storage.redis.key_prefix", "catalogsync:")

	v.SetDefault("sync.interval", 15*time.Minute)
	v.SetDefault("sync.timeout", 5*time.Minute)
	v.SetDefault("sync.probe_interval", 30*time.Second)
	v.SetDefault("sync.initial_online", true)
	v.SetDefault("sync.auto_replay", true)

	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", 8420)
	v.SetDefault("server.sync_rate_limit", 6)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.file", "")
	v.SetDefault("logging.max_size_mb", 10)
	v.SetDefault("logging.max_backups", 3)
	v.SetDefault("logging.max_age_days", 28)
}

// LoadDotEnv loads variables from the given .env files (default ".env")
// without overriding ones already set. Missing files are ignored.
func LoadDotEnv(files ...string) error {
	if err := godotenv.Load(files...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return apperrors.Wrap(apperrors.ErrConfig, "failed to load .env file", err)
	}
	return nil
}

// Load reads configuration. When path is empty, catalogsync.yaml is looked
// up in the working directory and is optional; an explicit path must exist.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, apperrors.Wrap(apperrors.ErrConfig, "error reading config file", err)
		}
	} else {
		v.SetConfigName("catalogsync")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, apperrors.Wrap(apperrors.ErrConfig, "error reading config file", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrConfig, "unable to decode config", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the built-in defaults, ignoring files and environment.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	_ = v.Unmarshal(&cfg)
	return &cfg
}

// Validate checks cross-field requirements.
func (c *Config) Validate() error {
	switch c.Backend.Kind {
	case BackendREST:
		if c.Backend.URL == "" {
			return apperrors.New(apperrors.ErrConfig, "backend.url is required for the rest backend")
		}
	case BackendPostgres:
		if c.Backend.DatabaseURL == "" {
			return apperrors.New(apperrors.ErrConfig, "backend.database_url is required for the postgres backend")
		}
	default:
		return apperrors.Newf(apperrors.ErrConfig, "unknown backend.kind %q", c.Backend.Kind)
	}

	switch c.Storage.Kind {
	case StorageSQLite:
		if c.Storage.DataDir == "" {
			return apperrors.New(apperrors.ErrConfig, "storage.data_dir is required for sqlite storage")
		}
	case StorageRedis:
		if c.Storage.Redis.Addr == "" {
			return apperrors.New(apperrors.ErrConfig, "storage.redis.addr is required for redis storage")
		}
	case StorageMemory:
	default:
		return apperrors.Newf(apperrors.ErrConfig, "unknown storage.kind %q", c.Storage.Kind)
	}

	if c.Sync.Timeout <= 0 {
		return apperrors.New(apperrors.ErrConfig, "sync.timeout must be positive")
	}
	if c.Sync.Interval < 0 || c.Sync.ProbeInterval < 0 {
		return apperrors.New(apperrors.ErrConfig, "sync intervals must not be negative")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return apperrors.Newf(apperrors.ErrConfig, "server.port %d out of range", c.Server.Port)
	}
	return nil
}
