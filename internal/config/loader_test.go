package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
	return path
}

func TestLoader(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(t *testing.T) []string
		wantErr bool
		assert  func(t *testing.T, cfg Config)
	}{
		{
			name:  "returns defaults when no overrides",
			setup: func(t *testing.T) []string { return nil },
			assert: func(t *testing.T, cfg Config) {
				require.Equal(t, 8765, cfg.Server.Listen.Port)
				require.Equal(t, BackendMemory, cfg.Server.Storage.BackendName())
				require.Equal(t, "1.0.0", cfg.Server.Cache.Version)
				require.Equal(t, 7, cfg.Server.Cache.ExpiryDays)
			},
		},
		{
			name: "merges yaml overrides",
			setup: func(t *testing.T) []string {
				return []string{writeFile(t, "server.yaml", "server:\n  listen:\n    port: 9090\n  storage:\n    backend: file\n    file:\n      dir: /var/lib/manga\n      watch: true\n")}
			},
			assert: func(t *testing.T, cfg Config) {
				require.Equal(t, 9090, cfg.Server.Listen.Port)
				require.Equal(t, BackendFile, cfg.Server.Storage.BackendName())
				require.Equal(t, "/var/lib/manga", cfg.Server.Storage.File.Dir)
				require.True(t, cfg.Server.Storage.File.Watch)
			},
		},
		{
			name: "merges json overrides",
			setup: func(t *testing.T) []string {
				return []string{writeFile(t, "server.json", `{"server":{"cache":{"expiryDays":3,"pageKeyTemplate":"{{ .Path | lower }}"}}}`)}
			},
			assert: func(t *testing.T, cfg Config) {
				require.Equal(t, 3, cfg.Server.Cache.ExpiryDays)
				require.Equal(t, "{{ .Path | lower }}", cfg.Server.Cache.PageKeyTemplate)
			},
		},
		{
			name: "merges toml overrides",
			setup: func(t *testing.T) []string {
				return []string{writeFile(t, "server.toml", "[server.storage]\nbackend = \"sqlite\"\n\n[server.storage.sqlite]\npath = \"/tmp/m.db\"\nmaxPageCount = 64\n")}
			},
			assert: func(t *testing.T, cfg Config) {
				require.Equal(t, BackendSQLite, cfg.Server.Storage.BackendName())
				require.Equal(t, "/tmp/m.db", cfg.Server.Storage.SQLite.Path)
				require.Equal(t, 64, cfg.Server.Storage.SQLite.MaxPageCount)
			},
		},
		{
			name: "prefers env overrides",
			setup: func(t *testing.T) []string {
				path := writeFile(t, "server.yaml", "server:\n  listen:\n    port: 9090\n")
				t.Setenv("MANGA_SERVER__LISTEN__PORT", "9091")
				return []string{path}
			},
			assert: func(t *testing.T, cfg Config) {
				require.Equal(t, 9091, cfg.Server.Listen.Port)
			},
		},
		{
			name: "maps camel case env keys",
			setup: func(t *testing.T) []string {
				t.Setenv("MANGA_SERVER__STORAGE__QUOTA_BYTES", "1024")
				t.Setenv("MANGA_SERVER__STORAGE__KEYPREFIX", "test:")
				t.Setenv("MANGA_SERVER__STORAGE__BACKEND", "redis")
				t.Setenv("MANGA_SERVER__STORAGE__REDIS__ADDRESS", "127.0.0.1:6379")
				t.Setenv("MANGA_SERVER__STORAGE__REDIS__TLS__CAFILE", "/etc/ca.pem")
				t.Setenv("MANGA_SERVER__CACHE__EXPIRY_DAYS", "2")
				t.Setenv("MANGA_SERVER__CACHE__SWEEP_SCHEDULE", "@every 10m")
				return nil
			},
			assert: func(t *testing.T, cfg Config) {
				require.EqualValues(t, 1024, cfg.Server.Storage.QuotaBytes)
				require.Equal(t, "test:", cfg.Server.Storage.KeyPrefix)
				require.Equal(t, "127.0.0.1:6379", cfg.Server.Storage.Redis.Address)
				require.Equal(t, "/etc/ca.pem", cfg.Server.Storage.Redis.TLS.CAFile)
				require.Equal(t, 2, cfg.Server.Cache.ExpiryDays)
				require.Equal(t, "@every 10m", cfg.Server.Cache.SweepSchedule)
			},
		},
		{
			name: "fails when file missing",
			setup: func(t *testing.T) []string {
				return []string{filepath.Join(t.TempDir(), "missing.yaml")}
			},
			wantErr: true,
		},
		{
			name: "fails on unsupported extension",
			setup: func(t *testing.T) []string {
				return []string{writeFile(t, "server.ini", "port=1")}
			},
			wantErr: true,
		},
		{
			name: "fails validation",
			setup: func(t *testing.T) []string {
				t.Setenv("MANGA_SERVER__STORAGE__BACKEND", "floppy")
				return nil
			},
			wantErr: true,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			files := tc.setup(t)
			cfg, err := NewLoader(DefaultEnvPrefix, files...).Load(context.Background())
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			tc.assert(t, cfg)
		})
	}
}

func TestLoaderHonorsCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	path := writeFile(t, "server.yaml", "server: {}\n")
	_, err := NewLoader("", path).Load(ctx)
	require.ErrorIs(t, err, context.Canceled)
}
