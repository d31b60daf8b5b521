package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/Njaecha/manga-helper/internal/templates"
)

// Config holds every server-level option.
type Config struct {
	Server ServerConfig `koanf:"server"`
}

// ServerConfig collects the bootstrap knobs of the annotation service.
type ServerConfig struct {
	Listen  ListenConfig  `koanf:"listen"`
	Logging LoggingConfig `koanf:"logging"`
	Storage StorageConfig `koanf:"storage"`
	Cache   CacheConfig   `koanf:"cache"`
}

// ListenConfig instructs the HTTP listener about bind address and port.
type ListenConfig struct {
	Address string `koanf:"address"`
	Port    int    `koanf:"port"`
}

// LoggingConfig expresses log level, format and the optional rotated file.
type LoggingConfig struct {
	Level      string `koanf:"level"`
	Format     string `koanf:"format"`
	File       string `koanf:"file"`
	MaxSizeMB  int    `koanf:"maxSizeMB"`
	MaxBackups int    `koanf:"maxBackups"`
	MaxAgeDays int    `koanf:"maxAgeDays"`
	Compress   bool   `koanf:"compress"`
}

// StorageConfig selects the durable medium under the caches.
type StorageConfig struct {
	Backend    string              `koanf:"backend"`
	QuotaBytes int64               `koanf:"quotaBytes"`
	KeyPrefix  string              `koanf:"keyPrefix"`
	File       FileStorageConfig   `koanf:"file"`
	Redis      RedisStorageConfig  `koanf:"redis"`
	SQLite     SQLiteStorageConfig `koanf:"sqlite"`
}

type FileStorageConfig struct {
	Dir   string `koanf:"dir"`
	Watch bool   `koanf:"watch"`
}

type RedisStorageConfig struct {
	Address  string         `koanf:"address"`
	Username string         `koanf:"username"`
	Password string         `koanf:"password"`
	DB       int            `koanf:"db"`
	TLS      RedisTLSConfig `koanf:"tls"`
}

type RedisTLSConfig struct {
	Enabled bool   `koanf:"enabled"`
	CAFile  string `koanf:"caFile"`
}

type SQLiteStorageConfig struct {
	Path         string `koanf:"path"`
	MaxPageCount int    `koanf:"maxPageCount"`
}

// CacheConfig controls entry lifetime, layout versioning and page keys.
type CacheConfig struct {
	Version         string `koanf:"version"`
	ExpiryDays      int    `koanf:"expiryDays"`
	PageKeyTemplate string `koanf:"pageKeyTemplate"`
	// SweepSchedule is a cron spec for proactive TTL sweeps. Empty disables
	// them; expiry is then only checked on load and lookup.
	SweepSchedule   string `koanf:"sweepSchedule"`
}

// TTL converts the configured expiry into a duration.
func (c CacheConfig) TTL() time.Duration {
	return time.Duration(c.ExpiryDays) * 24 * time.Hour
}

const (
	BackendMemory = "memory"
	BackendFile   = "file"
	BackendRedis  = "redis"
	BackendSQLite = "sqlite"
)

// Validate enforces invariants that keep the runtime predictable before serving traffic.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config: nil")
	}
	if c.Server.Listen.Port <= 0 || c.Server.Listen.Port > 65535 {
		return fmt.Errorf("config: listen.port invalid: %d", c.Server.Listen.Port)
	}
	switch strings.ToLower(strings.TrimSpace(c.Server.Logging.Level)) {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("config: server.logging.level unsupported: %s", c.Server.Logging.Level)
	}
	switch strings.ToLower(strings.TrimSpace(c.Server.Logging.Format)) {
	case "", "json", "text":
	default:
		return fmt.Errorf("config: server.logging.format unsupported: %s", c.Server.Logging.Format)
	}
	if c.Server.Logging.MaxSizeMB < 0 || c.Server.Logging.MaxBackups < 0 || c.Server.Logging.MaxAgeDays < 0 {
		return errors.New("config: server.logging rotation limits must not be negative")
	}

	storage := c.Server.Storage
	if storage.QuotaBytes < 0 {
		return fmt.Errorf("config: server.storage.quotaBytes invalid: %d", storage.QuotaBytes)
	}
	switch strings.ToLower(strings.TrimSpace(storage.Backend)) {
	case "", BackendMemory:
	case BackendFile:
		if strings.TrimSpace(storage.File.Dir) == "" {
			return errors.New("config: server.storage.file.dir required for file backend")
		}
	case BackendRedis:
		if strings.TrimSpace(storage.Redis.Address) == "" {
			return errors.New("config: server.storage.redis.address required for redis backend")
		}
	case BackendSQLite:
		if strings.TrimSpace(storage.SQLite.Path) == "" {
			return errors.New("config: server.storage.sqlite.path required for sqlite backend")
		}
		if storage.SQLite.MaxPageCount < 0 {
			return fmt.Errorf("config: server.storage.sqlite.maxPageCount invalid: %d", storage.SQLite.MaxPageCount)
		}
	default:
		return fmt.Errorf("config: server.storage.backend unsupported: %s", storage.Backend)
	}

	if c.Server.Cache.ExpiryDays <= 0 {
		return fmt.Errorf("config: server.cache.expiryDays invalid: %d", c.Server.Cache.ExpiryDays)
	}
	if strings.TrimSpace(c.Server.Cache.Version) == "" {
		return errors.New("config: server.cache.version required")
	}
	if _, err := templates.NewRenderer().PageKeyFunc(c.Server.Cache.PageKeyTemplate); err != nil {
		return fmt.Errorf("config: server.cache.pageKeyTemplate: %w", err)
	}
	if schedule := strings.TrimSpace(c.Server.Cache.SweepSchedule); schedule != "" {
		if _, err := cron.ParseStandard(schedule); err != nil {
			return fmt.Errorf("config: server.cache.sweepSchedule: %w", err)
		}
	}
	return nil
}

// BackendName is the normalized storage backend, defaulting to memory.
func (s StorageConfig) BackendName() string {
	backend := strings.ToLower(strings.TrimSpace(s.Backend))
	if backend == "" {
		return BackendMemory
	}
	return backend
}

// DefaultConfig returns the baseline values.
func DefaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Listen: ListenConfig{
				Address: "127.0.0.1",
				Port:    8765,
			},
			Logging: LoggingConfig{
				Level:      "info",
				Format:     "json",
				MaxSizeMB:  50,
				MaxBackups: 3,
				MaxAgeDays: 28,
			},
			Storage: StorageConfig{
				Backend:    BackendMemory,
				QuotaBytes: 5 * 1024 * 1024,
				File: FileStorageConfig{
					Dir: "./data",
				},
				SQLite: SQLiteStorageConfig{
					Path: "./data/manga-helper.db",
				},
			},
			Cache: CacheConfig{
				Version:       "1.0.0",
				ExpiryDays:    7,
				SweepSchedule: "@every 1h",
			},
		},
	}
}
