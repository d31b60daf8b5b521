package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	kjson "github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// DefaultEnvPrefix namespaces environment overrides, e.g.
// MANGA_SERVER__STORAGE__BACKEND=redis.
const DefaultEnvPrefix = "MANGA"

// Loader hydrates the runtime configuration while respecting env > file > default precedence.
type Loader struct {
	envPrefix string
	files     []string
}

// NewLoader prepares a config hydrator that honors the env-first contract before touching files or defaults.
func NewLoader(envPrefix string, files ...string) *Loader {
	return &Loader{
		envPrefix: envPrefix,
		files:     files,
	}
}

// canonical maps lower-cased env paths back to the camelCase koanf keys.
var canonical = map[string]string{
	"server.logging.maxsizemb":           "server.logging.maxSizeMB",
	"server.logging.maxbackups":          "server.logging.maxBackups",
	"server.logging.maxagedays":          "server.logging.maxAgeDays",
	"server.storage.quotabytes":          "server.storage.quotaBytes",
	"server.storage.keyprefix":           "server.storage.keyPrefix",
	"server.storage.redis.tls.cafile":    "server.storage.redis.tls.caFile",
	"server.storage.sqlite.maxpagecount": "server.storage.sqlite.maxPageCount",
	"server.cache.expirydays":            "server.cache.expiryDays",
	"server.cache.pagekeytemplate":       "server.cache.pageKeyTemplate",
	"server.cache.sweepschedule":         "server.cache.sweepSchedule",
}

// Load assembles the effective snapshot using the documented precedence rules.
func (l *Loader) Load(ctx context.Context) (Config, error) {
	defaultCfg := DefaultConfig()
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(structToMap(defaultCfg), "."), nil); err != nil {
		return Config{}, fmt.Errorf("config: load defaults: %w", err)
	}

	for _, path := range l.files {
		if path == "" {
			continue
		}
		select {
		case <-ctx.Done():
			return Config{}, ctx.Err()
		default:
		}
		if _, err := os.Stat(path); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return Config{}, fmt.Errorf("config: file %s not found", path)
			}
			return Config{}, fmt.Errorf("config: stat %s: %w", path, err)
		}
		parser, err := parserFor(path)
		if err != nil {
			return Config{}, err
		}
		if err := k.Load(file.Provider(path), parser); err != nil {
			return Config{}, fmt.Errorf("config: load file %s: %w", path, err)
		}
	}

	if l.envPrefix != "" {
		transform := func(s string) string {
			// Double underscores signal a nested path (SERVER__LISTEN__PORT -> server.listen.port).
			key := strings.TrimPrefix(s, l.envPrefix+"_")
			key = strings.ReplaceAll(key, "__", ".")
			lower := strings.ToLower(key)
			if mapped, ok := canonical[strings.ReplaceAll(lower, "_", "")]; ok {
				return mapped
			}
			// Single underscores are removed so QUOTA_BYTES collapses into quotabytes.
			key = strings.ReplaceAll(key, "_", "")
			return strings.ToLower(key)
		}
		if err := k.Load(env.Provider(l.envPrefix, ".", transform), nil); err != nil {
			return Config{}, fmt.Errorf("config: load env: %w", err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, fmt.Errorf("config: unmarshal: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func parserFor(path string) (koanf.Parser, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return yaml.Parser(), nil
	case ".json":
		return kjson.Parser(), nil
	case ".toml", ".tml":
		return toml.Parser(), nil
	default:
		return nil, fmt.Errorf("config: unsupported file extension for %s", path)
	}
}

// structToMap converts DefaultConfig into a map for the koanf confmap provider.
func structToMap(cfg Config) map[string]any {
	s := cfg.Server
	return map[string]any{
		"server": map[string]any{
			"listen": map[string]any{
				"address": s.Listen.Address,
				"port":    s.Listen.Port,
			},
			"logging": map[string]any{
				"level":      s.Logging.Level,
				"format":     s.Logging.Format,
				"file":       s.Logging.File,
				"maxSizeMB":  s.Logging.MaxSizeMB,
				"maxBackups": s.Logging.MaxBackups,
				"maxAgeDays": s.Logging.MaxAgeDays,
				"compress":   s.Logging.Compress,
			},
			"storage": map[string]any{
				"backend":    s.Storage.Backend,
				"quotaBytes": s.Storage.QuotaBytes,
				"keyPrefix":  s.Storage.KeyPrefix,
				"file": map[string]any{
					"dir":   s.Storage.File.Dir,
					"watch": s.Storage.File.Watch,
				},
				"redis": map[string]any{
					"address":  s.Storage.Redis.Address,
					"username": s.Storage.Redis.Username,
					"password": s.Storage.Redis.Password,
					"db":       s.Storage.Redis.DB,
					"tls": map[string]any{
						"enabled": s.Storage.Redis.TLS.Enabled,
						"caFile":  s.Storage.Redis.TLS.CAFile,
					},
				},
				"sqlite": map[string]any{
					"path":         s.Storage.SQLite.Path,
					"maxPageCount": s.Storage.SQLite.MaxPageCount,
				},
			},
			"cache": map[string]any{
				"version":         s.Cache.Version,
				"expiryDays":      s.Cache.ExpiryDays,
				"pageKeyTemplate": s.Cache.PageKeyTemplate,
				"sweepSchedule":   s.Cache.SweepSchedule,
			},
		},
	}
}
