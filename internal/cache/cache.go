// Package cache implements the time-bounded page and word caches on top of
// the durable store. Entries expire lazily: stale entries are dropped in bulk
// when a namespace loads and individually when a lookup finds them.
package cache

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"

	"github.com/Njaecha/manga-helper/internal/metrics"
	"github.com/Njaecha/manga-helper/internal/storage"
)

const (
	PageCacheKey = "manga-page-cache"
	WordCacheKey = "manga-word-cache"
	MetaKey      = "manga-cache-meta"

	// DefaultVersion is the cache layout version. A persisted meta record with
	// any other version is replaced.
	DefaultVersion = "1.0.0"
	DefaultTTL     = 7 * 24 * time.Hour
)

type Options struct {
	Version string
	TTL     time.Duration
	// Now overrides the clock, mostly for tests.
	Now     func() time.Time
	Logger  *slog.Logger
	Metrics *metrics.Recorder
}

// Cache owns the page and word namespaces and the meta record. It is the
// store's eviction sweeper.
type Cache struct {
	store   *storage.Store
	version string
	ttl     time.Duration
	now     func() time.Time
	logger  *slog.Logger
	metrics *metrics.Recorder

	Pages *Namespace[*PageEntry]
	Words *Namespace[*WordEntry]

	meta Meta
}

// New loads both namespaces, reconciles the meta record and registers the
// cache with the store for schema checks and quota recovery.
func New(ctx context.Context, store *storage.Store, opts Options) (*Cache, error) {
	if store == nil {
		return nil, fmt.Errorf("cache: store required")
	}
	c := &Cache{
		store:   store,
		version: strings.TrimSpace(opts.Version),
		ttl:     opts.TTL,
		now:     opts.Now,
		logger:  opts.Logger,
		metrics: opts.Metrics,
	}
	if c.version == "" {
		c.version = DefaultVersion
	}
	if c.ttl <= 0 {
		c.ttl = DefaultTTL
	}
	if c.now == nil {
		c.now = time.Now
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	c.logger = c.logger.With(slog.String("agent", "cache"))

	if err := registerSchemas(store); err != nil {
		return nil, err
	}
	c.Pages = newNamespace[*PageEntry]("pages", PageCacheKey, c)
	c.Words = newNamespace[*WordEntry]("words", WordCacheKey, c)
	store.SetSweeper(c)

	c.Reload(ctx)
	c.logger.Info("cache initialized",
		slog.String("version", c.version),
		slog.Int("pages", c.Pages.Len()),
		slog.Int("words", c.Words.Len()),
	)
	return c, nil
}

// Version is the configured layout version.
func (c *Cache) Version() string { return c.version }

// TTL is the configured entry lifetime.
func (c *Cache) TTL() time.Duration { return c.ttl }

// Now is the cache clock.
func (c *Cache) Now() time.Time { return c.now() }

// Meta returns the current meta record.
func (c *Cache) Meta() Meta { return c.meta }

// Reload re-reads meta and both namespaces from the store, e.g. after another
// process changed the medium.
func (c *Cache) Reload(ctx context.Context) {
	c.meta = c.loadMeta(ctx)
	c.Pages.Load(ctx)
	c.Words.Load(ctx)
	c.saveMeta(ctx)
}

// SweepExpired drops stale entries from both namespaces.
func (c *Cache) SweepExpired(ctx context.Context) int {
	removed := c.Pages.SweepExpired(ctx) + c.Words.SweepExpired(ctx)
	c.logger.Info("expired cache entries cleared", slog.Int("removed", removed))
	return removed
}

// ClearAll removes every persisted key, meta included, and empties memory.
func (c *Cache) ClearAll(ctx context.Context) {
	c.store.Remove(ctx, PageCacheKey)
	c.store.Remove(ctx, WordCacheKey)
	c.store.Remove(ctx, MetaKey)
	c.Pages.forget()
	c.Words.forget()
	c.meta = c.freshMeta()
	c.logger.Info("all caches cleared")
}

// NamespaceStats is the size of one namespace.
type NamespaceStats struct {
	Count     int     `json:"count"`
	SizeBytes int64   `json:"sizeBytes"`
	SizeMB    float64 `json:"sizeMB"`
}

type TotalStats struct {
	SizeBytes int64   `json:"sizeBytes"`
	SizeMB    float64 `json:"sizeMB"`
}

type Stats struct {
	Pages NamespaceStats `json:"pages"`
	Words NamespaceStats `json:"words"`
	Total TotalStats     `json:"total"`
}

// Stats reports entry counts and serialized sizes. Stale entries still held in
// memory are swept first so the numbers match what a reload would see.
func (c *Cache) Stats(ctx context.Context) Stats {
	c.Pages.SweepExpired(ctx)
	c.Words.SweepExpired(ctx)
	pages := namespaceStats(c.Pages.Len(), c.Pages.SizeBytes())
	words := namespaceStats(c.Words.Len(), c.Words.SizeBytes())
	total := pages.SizeBytes + words.SizeBytes
	return Stats{
		Pages: pages,
		Words: words,
		Total: TotalStats{SizeBytes: total, SizeMB: megabytes(total)},
	}
}

// WordKey is the canonical form a word is cached under.
func WordKey(word string) string {
	return norm.NFC.String(strings.TrimSpace(word))
}

func namespaceStats(count int, size int64) NamespaceStats {
	return NamespaceStats{Count: count, SizeBytes: size, SizeMB: megabytes(size)}
}

// megabytes rounds to two decimals.
func megabytes(size int64) float64 {
	mb := float64(size) / 1024 / 1024
	return float64(int64(mb*100+0.5)) / 100
}

func (c *Cache) freshMeta() Meta {
	ts := c.now().UnixMilli()
	return Meta{Version: c.version, Created: ts, LastAccessed: ts}
}

func (c *Cache) loadMeta(ctx context.Context) Meta {
	meta := storage.Load[*Meta](ctx, c.store, MetaKey, nil)
	if meta == nil {
		return c.freshMeta()
	}
	if meta.Version != c.version {
		c.logger.Info("cache version changed, resetting meta",
			slog.String("persisted", meta.Version),
			slog.String("current", c.version),
		)
		return c.freshMeta()
	}
	return *meta
}

func (c *Cache) saveMeta(ctx context.Context) {
	c.meta.LastAccessed = c.now().UnixMilli()
	c.meta.TotalEntries = c.Pages.Len() + c.Words.Len()
	c.meta.TotalSizeBytes = c.Pages.SizeBytes() + c.Words.SizeBytes()
	c.store.Save(ctx, MetaKey, c.meta)
}
