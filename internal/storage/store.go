package storage

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/Njaecha/manga-helper/internal/metrics"
)

// Sweeper evicts expired entries across every cache namespace when the medium
// reports it is full. It returns the number of entries removed.
type Sweeper interface {
	SweepExpired(ctx context.Context) int
}

type Options struct {
	// KeyPrefix is prepended to every logical key before it reaches the medium.
	KeyPrefix string
	Logger    *slog.Logger
	Metrics   *metrics.Recorder
}

// Store is the JSON layer over a Medium. Load never fails and Save reports
// success as a bool; failures are logged and counted instead of returned.
type Store struct {
	medium  Medium
	prefix  string
	logger  *slog.Logger
	metrics *metrics.Recorder

	mu      sync.RWMutex
	schemas map[string]*jsonschema.Schema
	sweeper Sweeper

	recovering atomic.Bool
}

func New(medium Medium, opts Options) *Store {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		medium:  medium,
		prefix:  opts.KeyPrefix,
		logger:  logger.With(slog.String("agent", "storage"), slog.String("medium", medium.Name())),
		metrics: opts.Metrics,
		schemas: make(map[string]*jsonschema.Schema),
	}
}

// Medium exposes the underlying medium, e.g. for change watching.
func (s *Store) Medium() Medium { return s.medium }

// Key maps a logical key to the medium key.
func (s *Store) Key(logical string) string { return s.prefix + logical }

// LogicalKey strips the prefix from a medium key. ok is false for keys outside
// this store's prefix.
func (s *Store) LogicalKey(mediumKey string) (string, bool) {
	return strings.CutPrefix(mediumKey, s.prefix)
}

// RegisterSchema validates every value loaded for key against schema.
func (s *Store) RegisterSchema(key string, schema *jsonschema.Schema) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.schemas[key] = schema
}

// SetSweeper installs the eviction hook used when a write hits the quota.
func (s *Store) SetSweeper(sweeper Sweeper) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweeper = sweeper
}

// Raw returns the stored string for key. Errors are logged and reported as a
// miss.
func (s *Store) Raw(ctx context.Context, key string) (string, bool) {
	start := time.Now()
	raw, ok, err := s.medium.Get(ctx, s.Key(key))
	switch {
	case err != nil:
		s.metrics.ObserveStorage(s.medium.Name(), metrics.StorageOperationGet, metrics.StorageResultError, time.Since(start))
		s.logger.Warn("storage read failed", slog.String("key", key), slog.Any("error", err))
		return "", false
	case !ok:
		s.metrics.ObserveStorage(s.medium.Name(), metrics.StorageOperationGet, metrics.StorageResultMiss, time.Since(start))
		return "", false
	}
	s.metrics.ObserveStorage(s.medium.Name(), metrics.StorageOperationGet, metrics.StorageResultOK, time.Since(start))
	return raw, true
}

// Load reads and decodes key. Missing, empty, malformed or schema-invalid
// values, as well as medium failures, all yield def.
func Load[T any](ctx context.Context, s *Store, key string, def T) T {
	raw, ok := s.Raw(ctx, key)
	if !ok || strings.TrimSpace(raw) == "" {
		return def
	}
	s.mu.RLock()
	schema := s.schemas[key]
	s.mu.RUnlock()
	if schema != nil {
		if err := validateRaw(schema, raw); err != nil {
			s.logger.Warn("stored value rejected by schema", slog.String("key", key), slog.Any("error", err))
			return def
		}
	}
	var out T
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		s.logger.Warn("stored value is not valid json", slog.String("key", key), slog.Any("error", err))
		return def
	}
	return out
}

// Save encodes value and writes it under key. When the medium is full the
// registered sweeper runs once and the write is retried once with value
// re-encoded, since the sweep may have pruned it. Saves issued while that
// recovery is in progress do not start another one.
func (s *Store) Save(ctx context.Context, key string, value any) bool {
	err := s.write(ctx, key, value)
	if err == nil {
		return true
	}
	if !errors.Is(err, ErrQuotaExceeded) {
		s.logger.Warn("storage write failed", slog.String("key", key), slog.Any("error", err))
		return false
	}

	s.mu.RLock()
	sweeper := s.sweeper
	s.mu.RUnlock()
	if sweeper == nil || !s.recovering.CompareAndSwap(false, true) {
		s.logger.Warn("storage quota exceeded", slog.String("key", key), slog.Any("error", err))
		return false
	}
	evicted := func() int {
		defer s.recovering.Store(false)
		return sweeper.SweepExpired(ctx)
	}()

	if err := s.write(ctx, key, value); err != nil {
		s.metrics.ObserveQuotaRecovery(false)
		s.logger.Error("storage write failed after eviction",
			slog.String("key", key),
			slog.Int("evicted", evicted),
			slog.Any("error", err),
		)
		return false
	}
	s.metrics.ObserveQuotaRecovery(true)
	s.logger.Info("storage quota recovered", slog.String("key", key), slog.Int("evicted", evicted))
	return true
}

// Remove deletes key.
func (s *Store) Remove(ctx context.Context, key string) bool {
	start := time.Now()
	if err := s.medium.Remove(ctx, s.Key(key)); err != nil {
		s.metrics.ObserveStorage(s.medium.Name(), metrics.StorageOperationRemove, metrics.StorageResultError, time.Since(start))
		s.logger.Warn("storage remove failed", slog.String("key", key), slog.Any("error", err))
		return false
	}
	s.metrics.ObserveStorage(s.medium.Name(), metrics.StorageOperationRemove, metrics.StorageResultOK, time.Since(start))
	return true
}

// Close releases the medium.
func (s *Store) Close() error { return s.medium.Close() }

func (s *Store) write(ctx context.Context, key string, value any) error {
	payload, err := json.Marshal(value)
	if err != nil {
		return err
	}
	start := time.Now()
	err = s.medium.Set(ctx, s.Key(key), string(payload))
	result := metrics.StorageResultOK
	switch {
	case errors.Is(err, ErrQuotaExceeded):
		result = metrics.StorageResultQuota
	case err != nil:
		result = metrics.StorageResultError
	}
	s.metrics.ObserveStorage(s.medium.Name(), metrics.StorageOperationSet, result, time.Since(start))
	return err
}
