package cache

import (
	"context"
	"encoding/json"
	"log/slog"
	"slices"
	"time"

	"github.com/Njaecha/manga-helper/internal/metrics"
	"github.com/Njaecha/manga-helper/internal/storage"
)

// Namespace is the in-memory mirror of one persisted mapping. Every mutation
// writes the whole mapping through to the store. A Namespace is not safe for
// concurrent use; callers serialize access.
type Namespace[R Record[R]] struct {
	name    string
	key     string
	store   *storage.Store
	ttl     time.Duration
	now     func() time.Time
	logger  *slog.Logger
	metrics *metrics.Recorder

	entries map[string]R
}

func newNamespace[R Record[R]](name, key string, c *Cache) *Namespace[R] {
	return &Namespace[R]{
		name:    name,
		key:     key,
		store:   c.store,
		ttl:     c.ttl,
		now:     c.now,
		logger:  c.logger.With(slog.String("namespace", name)),
		metrics: c.metrics,
		entries: map[string]R{},
	}
}

// Name is the metrics and statistics label of the namespace.
func (n *Namespace[R]) Name() string { return n.name }

// StorageKey is the logical store key the namespace persists under.
func (n *Namespace[R]) StorageKey() string { return n.key }

// Load replaces the in-memory mapping with the persisted one, dropping entries
// that are stale or carry no timestamp. The pruned mapping is written back
// only when something was dropped. It returns the number of live entries.
func (n *Namespace[R]) Load(ctx context.Context) int {
	loaded := storage.Load(ctx, n.store, n.key, map[string]R{})
	if loaded == nil {
		loaded = map[string]R{}
	}
	removed := n.prune(loaded)
	if removed > 0 {
		n.store.Save(ctx, n.key, loaded)
	}
	n.entries = loaded
	n.publishSize()
	return len(loaded)
}

// Get returns a copy of the live entry under key. A stale entry is deleted,
// persisted as deleted, and reported as a miss.
func (n *Namespace[R]) Get(ctx context.Context, key string) (R, bool) {
	var zero R
	entry, ok := n.entries[key]
	if !ok {
		n.metrics.ObserveCacheLookup(n.name, metrics.CacheLookupMiss)
		return zero, false
	}
	if n.expired(entry) {
		delete(n.entries, key)
		n.store.Save(ctx, n.key, n.entries)
		n.metrics.ObserveCacheLookup(n.name, metrics.CacheLookupExpired)
		n.metrics.ObserveEvictions(n.name, metrics.EvictionExpired, 1)
		n.logger.Debug("cache entry expired", slog.String("key", key))
		n.publishSize()
		return zero, false
	}
	n.metrics.ObserveCacheLookup(n.name, metrics.CacheLookupHit)
	return entry.Clone(), true
}

// Peek returns a copy of the entry under key without TTL handling or metrics.
func (n *Namespace[R]) Peek(key string) (R, bool) {
	entry, ok := n.entries[key]
	if !ok {
		var zero R
		return zero, false
	}
	return entry.Clone(), true
}

// Set stamps a copy of entry with the current time, stores it and persists
// the namespace. The result reports whether the write reached the medium.
func (n *Namespace[R]) Set(ctx context.Context, key string, entry R) bool {
	stored := entry.Clone()
	stored.Stamp(n.now().UnixMilli())
	n.entries[key] = stored
	ok := n.store.Save(ctx, n.key, n.entries)
	n.publishSize()
	return ok
}

// Delete removes key and persists the namespace. It reports whether the key
// was present; absent keys cause no write.
func (n *Namespace[R]) Delete(ctx context.Context, key string) bool {
	if _, ok := n.entries[key]; !ok {
		return false
	}
	delete(n.entries, key)
	n.store.Save(ctx, n.key, n.entries)
	n.metrics.ObserveEvictions(n.name, metrics.EvictionDeleted, 1)
	n.publishSize()
	return true
}

// DeleteWhere removes every entry match accepts and persists once. It returns
// the removed keys in sorted order.
func (n *Namespace[R]) DeleteWhere(ctx context.Context, match func(key string, entry R) bool) []string {
	var removed []string
	for key, entry := range n.entries {
		if match(key, entry) {
			removed = append(removed, key)
		}
	}
	if len(removed) == 0 {
		return nil
	}
	for _, key := range removed {
		delete(n.entries, key)
	}
	n.store.Save(ctx, n.key, n.entries)
	n.metrics.ObserveEvictions(n.name, metrics.EvictionDeleted, len(removed))
	n.publishSize()
	slices.Sort(removed)
	return removed
}

// Clear empties the namespace and persists the empty mapping.
func (n *Namespace[R]) Clear(ctx context.Context) {
	count := len(n.entries)
	n.entries = map[string]R{}
	n.store.Save(ctx, n.key, n.entries)
	n.metrics.ObserveEvictions(n.name, metrics.EvictionCleared, count)
	n.publishSize()
}

// Keys lists the keys held in memory, sorted.
func (n *Namespace[R]) Keys() []string {
	keys := make([]string, 0, len(n.entries))
	for key := range n.entries {
		keys = append(keys, key)
	}
	slices.Sort(keys)
	return keys
}

// Len is the number of entries held in memory, stale ones included until they
// are swept or looked up.
func (n *Namespace[R]) Len() int { return len(n.entries) }

// SweepExpired prunes stale entries in place and persists the result when
// anything was dropped. It returns the number of entries removed.
func (n *Namespace[R]) SweepExpired(ctx context.Context) int {
	removed := n.prune(n.entries)
	if removed > 0 {
		n.store.Save(ctx, n.key, n.entries)
		n.publishSize()
	}
	return removed
}

// SizeBytes is the length of the serialized mapping.
func (n *Namespace[R]) SizeBytes() int64 {
	payload, err := json.Marshal(n.entries)
	if err != nil {
		return 0
	}
	return int64(len(payload))
}

func (n *Namespace[R]) forget() {
	count := len(n.entries)
	n.entries = map[string]R{}
	n.metrics.ObserveEvictions(n.name, metrics.EvictionCleared, count)
	n.publishSize()
}

func (n *Namespace[R]) prune(entries map[string]R) int {
	removed := 0
	for key, entry := range entries {
		if n.expired(entry) {
			delete(entries, key)
			removed++
			n.logger.Debug("removed expired cache entry", slog.String("key", key))
		}
	}
	n.metrics.ObserveEvictions(n.name, metrics.EvictionExpired, removed)
	return removed
}

// expired treats a missing timestamp as stale. Staleness is strictly greater
// than the TTL.
func (n *Namespace[R]) expired(entry R) bool {
	ts := entry.StampedAt()
	if ts <= 0 {
		return true
	}
	return n.now().UnixMilli()-ts > n.ttl.Milliseconds()
}

func (n *Namespace[R]) publishSize() {
	if n.metrics == nil {
		return
	}
	n.metrics.SetCacheSize(n.name, len(n.entries), n.SizeBytes())
}
