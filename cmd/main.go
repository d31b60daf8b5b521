package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/afero"

	"github.com/Njaecha/manga-helper/internal/cache"
	"github.com/Njaecha/manga-helper/internal/config"
	"github.com/Njaecha/manga-helper/internal/logging"
	"github.com/Njaecha/manga-helper/internal/metrics"
	"github.com/Njaecha/manga-helper/internal/server"
	"github.com/Njaecha/manga-helper/internal/session"
	"github.com/Njaecha/manga-helper/internal/storage"
	"github.com/Njaecha/manga-helper/internal/templates"
)

func main() {
	var (
		configFile = flag.String("config", "", "path to server configuration file (yaml, json or toml)")
		envPrefix  = flag.String("env-prefix", config.DefaultEnvPrefix, "environment variable prefix")
	)
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.NewLoader(*envPrefix, *configFile).Load(ctx)
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger, logCloser, err := logging.New(cfg.Server.Logging)
	if err != nil {
		log.Fatalf("failed to configure logger: %v", err)
	}
	defer logCloser.Close()

	recorder := metrics.NewRecorder(prometheus.NewRegistry())

	app, err := buildApp(ctx, cfg, logger, recorder)
	if err != nil {
		logger.Error("unable to assemble service", slog.Any("error", err))
		os.Exit(1)
	}
	defer app.Close()

	if err := app.server.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("server terminated unexpectedly", slog.Any("error", err))
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	logger.Info("server shutdown complete")
}

// app is the assembled service: one session over one cache and medium.
type app struct {
	logger  *slog.Logger
	store   *storage.Store
	session *session.Session
	events  *server.Events
	watcher *storage.Watcher
	sweeps  func()
	server  *server.Server
}

func buildApp(ctx context.Context, cfg config.Config, logger *slog.Logger, recorder *metrics.Recorder) (*app, error) {
	medium := buildMedium(ctx, logger.With(slog.String("agent", "storage_factory")), cfg.Server.Storage)
	store := storage.New(medium, storage.Options{
		KeyPrefix: cfg.Server.Storage.KeyPrefix,
		Logger:    logger,
		Metrics:   recorder,
	})

	c, err := cache.New(ctx, store, cache.Options{
		Version: cfg.Server.Cache.Version,
		TTL:     cfg.Server.Cache.TTL(),
		Logger:  logger,
		Metrics: recorder,
	})
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	pageKey, err := templates.NewRenderer().PageKeyFunc(cfg.Server.Cache.PageKeyTemplate)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("page key template: %w", err)
	}

	sess, err := session.New(c, nil, session.Options{
		Logger:  logger,
		Metrics: recorder,
		PageKey: pageKey,
	})
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	a := &app{logger: logger, store: store, session: sess}

	if schedule := strings.TrimSpace(cfg.Server.Cache.SweepSchedule); schedule != "" {
		stop, err := sess.ScheduleSweeps(schedule)
		if err != nil {
			_ = store.Close()
			return nil, err
		}
		a.sweeps = stop
	}

	if fileMedium, ok := medium.(*storage.FileMedium); ok && cfg.Server.Storage.File.Watch {
		watcher, err := storage.Watch(ctx, fileMedium, func(keys []string) {
			sess.ReloadFromStorage(ctx, keys)
		}, func(err error) {
			if err != nil {
				logger.Error("storage watcher error", slog.Any("error", err))
			}
		})
		if err != nil {
			logger.Error("storage watcher setup failed", slog.Any("error", err))
		} else {
			a.watcher = watcher
		}
	}

	api, err := server.NewAPI(sess, logger)
	if err != nil {
		a.Close()
		return nil, err
	}
	events, err := server.NewEvents(sess, logger)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.events = events

	srv, err := server.New(cfg.Server.Listen, logger, server.NewRouter(api, events, recorder.Handler()))
	if err != nil {
		a.Close()
		return nil, err
	}
	srv.OnShutdown(events.Close)
	a.server = srv
	return a, nil
}

// Close saves the open page and releases the medium.
func (a *app) Close() {
	if a.sweeps != nil {
		a.sweeps()
	}
	if a.watcher != nil {
		a.watcher.Stop()
	}
	if a.events != nil {
		a.events.Close()
	}
	// The signal context is already cancelled here, so the final flush gets
	// its own.
	a.session.SaveCurrentPage(context.Background())
	if err := a.store.Close(); err != nil {
		a.logger.Error("storage shutdown failed", slog.Any("error", err))
	}
}

func buildMedium(ctx context.Context, logger *slog.Logger, cfg config.StorageConfig) storage.Medium {
	fallback := func() storage.Medium {
		logger.Info("falling back to memory storage", slog.Int64("quota_bytes", cfg.QuotaBytes))
		return storage.NewMemory(cfg.QuotaBytes)
	}

	switch backend := cfg.BackendName(); backend {
	case config.BackendMemory:
		logger.Info("using memory storage", slog.Int64("quota_bytes", cfg.QuotaBytes))
		return storage.NewMemory(cfg.QuotaBytes)
	case config.BackendFile:
		medium, err := storage.NewFile(afero.NewOsFs(), storage.FileConfig{
			Dir:        cfg.File.Dir,
			QuotaBytes: cfg.QuotaBytes,
		})
		if err != nil {
			logger.Error("file storage initialization failed", slog.Any("error", err))
			return fallback()
		}
		logger.Info("using file storage", slog.String("dir", cfg.File.Dir), slog.Bool("watch", cfg.File.Watch))
		return medium
	case config.BackendRedis:
		medium, err := storage.NewRedis(storage.RedisConfig{
			Address:  cfg.Redis.Address,
			Username: cfg.Redis.Username,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			TLS: storage.RedisTLSConfig{
				Enabled: cfg.Redis.TLS.Enabled,
				CAFile:  cfg.Redis.TLS.CAFile,
			},
		})
		if err != nil {
			logger.Error("redis storage initialization failed", slog.Any("error", err))
			return fallback()
		}
		logger.Info("using redis storage", slog.String("address", cfg.Redis.Address))
		return medium
	case config.BackendSQLite:
		medium, err := storage.NewSQLite(ctx, storage.SQLiteConfig{
			Path:         cfg.SQLite.Path,
			MaxPageCount: cfg.SQLite.MaxPageCount,
		})
		if err != nil {
			logger.Error("sqlite storage initialization failed", slog.Any("error", err))
			return fallback()
		}
		logger.Info("using sqlite storage", slog.String("path", cfg.SQLite.Path))
		return medium
	default:
		logger.Warn("unsupported storage backend, defaulting to memory", slog.String("backend", backend))
		return storage.NewMemory(cfg.QuotaBytes)
	}
}
