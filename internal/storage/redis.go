package storage

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	valkey "github.com/valkey-io/valkey-go"
)

type RedisTLSConfig struct {
	Enabled bool
	CAFile  string
}

type RedisConfig struct {
	Address  string
	Username string
	Password string
	DB       int
	TLS      RedisTLSConfig
}

// RedisMedium persists values in a Redis-compatible server. A server running
// out of maxmemory answers writes with an OOM error, which maps to
// ErrQuotaExceeded.
type RedisMedium struct {
	client valkey.Client
}

func NewRedis(cfg RedisConfig) (*RedisMedium, error) {
	if cfg.Address == "" {
		return nil, errors.New("storage: redis address required")
	}

	option := valkey.ClientOption{
		InitAddress:       []string{cfg.Address},
		Username:          cfg.Username,
		Password:          cfg.Password,
		SelectDB:          cfg.DB,
		AlwaysRESP2:       true,
		ForceSingleClient: true,
		DisableCache:      true,
	}

	if cfg.TLS.Enabled {
		tlsConfig := &tls.Config{}
		if cfg.TLS.CAFile != "" {
			caData, err := os.ReadFile(cfg.TLS.CAFile)
			if err != nil {
				return nil, fmt.Errorf("storage: read redis ca file: %w", err)
			}
			pool := x509.NewCertPool()
			if !pool.AppendCertsFromPEM(caData) {
				return nil, errors.New("storage: redis ca file contains no certificates")
			}
			tlsConfig.RootCAs = pool
		}
		option.TLSConfig = tlsConfig
	}

	client, err := valkey.NewClient(option)
	if err != nil {
		return nil, fmt.Errorf("storage: redis client: %w: %w", ErrUnavailable, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Do(ctx, client.B().Ping().Build()).Error(); err != nil {
		client.Close()
		return nil, fmt.Errorf("storage: redis ping: %w: %w", ErrUnavailable, err)
	}

	return &RedisMedium{client: client}, nil
}

func (m *RedisMedium) Name() string { return "redis" }

func (m *RedisMedium) Get(ctx context.Context, key string) (string, bool, error) {
	resp := m.client.Do(ctx, m.client.B().Get().Key(key).Build())
	if err := resp.Error(); err != nil {
		if errors.Is(err, valkey.Nil) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("storage: redis get: %w: %w", ErrUnavailable, err)
	}
	value, err := resp.ToString()
	if err != nil {
		return "", false, fmt.Errorf("storage: redis get string: %w", err)
	}
	return value, true, nil
}

func (m *RedisMedium) Set(ctx context.Context, key, value string) error {
	cmd := m.client.B().Set().Key(key).Value(value).Build()
	if err := m.client.Do(ctx, cmd).Error(); err != nil {
		if isOutOfMemory(err) {
			return fmt.Errorf("%w: %w", ErrQuotaExceeded, err)
		}
		return fmt.Errorf("storage: redis set: %w: %w", ErrUnavailable, err)
	}
	return nil
}

func (m *RedisMedium) Remove(ctx context.Context, key string) error {
	if err := m.client.Do(ctx, m.client.B().Del().Key(key).Build()).Error(); err != nil {
		return fmt.Errorf("storage: redis del: %w: %w", ErrUnavailable, err)
	}
	return nil
}

func (m *RedisMedium) Close() error {
	m.client.Close()
	return nil
}

func isOutOfMemory(err error) bool {
	var verr *valkey.ValkeyError
	if errors.As(err, &verr) {
		return strings.HasPrefix(verr.Error(), "OOM")
	}
	return strings.HasPrefix(err.Error(), "OOM")
}
