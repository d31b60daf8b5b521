// Package session runs the save-before-navigate and restore-after-navigate
// protocol between the live state store and the page cache. A Session
// serializes every event; callers may use it from any goroutine.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/Njaecha/manga-helper/internal/address"
	"github.com/Njaecha/manga-helper/internal/annotation"
	"github.com/Njaecha/manga-helper/internal/cache"
	"github.com/Njaecha/manga-helper/internal/expr"
	"github.com/Njaecha/manga-helper/internal/metrics"
	"github.com/Njaecha/manga-helper/internal/state"
	"github.com/Njaecha/manga-helper/internal/templates"
)

var (
	ErrNoPage          = errors.New("session: no page open")
	ErrPageOutOfRange  = errors.New("session: page index out of range")
	ErrBoxOutOfRange   = errors.New("session: box index out of range")
	ErrTokenOutOfRange = errors.New("session: token index out of range")
	ErrNoSelection     = errors.New("session: empty selection")
	ErrEmptyWord       = errors.New("session: empty word")
)

// MaxRevealTokens bounds the token indices reveal flags may be set for.
const MaxRevealTokens = 4096

// PageKeyFunc maps a page to the key it is cached under.
type PageKeyFunc func(templates.PageKeyData) (string, error)

type Options struct {
	Logger  *slog.Logger
	Metrics *metrics.Recorder
	// PageKey overrides the default folder/image cache key.
	PageKey PageKeyFunc
}

type Session struct {
	id      string
	cache   *cache.Cache
	state   *state.Store
	logger  *slog.Logger
	metrics *metrics.Recorder
	pageKey PageKeyFunc
	exprEnv *expr.Environment

	mu sync.Mutex
}

func New(c *cache.Cache, st *state.Store, opts Options) (*Session, error) {
	if c == nil {
		return nil, fmt.Errorf("session: cache required")
	}
	if st == nil {
		st = state.New()
	}
	env, err := expr.NewEnvironment()
	if err != nil {
		return nil, fmt.Errorf("session: selector environment: %w", err)
	}
	id := uuid.NewString()
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	keyFn := opts.PageKey
	if keyFn == nil {
		keyFn = func(data templates.PageKeyData) (string, error) { return data.Path, nil }
	}
	return &Session{
		id:      id,
		cache:   c,
		state:   st,
		logger:  logger.With(slog.String("agent", "session"), slog.String("session", id)),
		metrics: opts.Metrics,
		pageKey: keyFn,
		exprEnv: env,
	}, nil
}

func (s *Session) ID() string { return s.id }

// State exposes the live store for subscriptions and reads.
func (s *Session) State() *state.Store { return s.state }

func (s *Session) Snapshot() *state.Snapshot { return s.state.Snapshot() }

// SaveCurrentPage flushes the live state of the current page into the cache.
// It reports false when no page is open or the write did not persist.
func (s *Session) SaveCurrentPage(ctx context.Context) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flush(ctx)
}

// RestoreCurrentPage overwrites the live state from the cache. It reports
// false, leaving state untouched, when the page has no live entry.
func (s *Session) RestoreCurrentPage(ctx context.Context) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.restore(ctx)
}

// ResetAnalysisState clears all per-page state.
func (s *Session) ResetAnalysisState() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.Reset()
}

// CurrentPageKey is the cache key of the page under the pointer.
func (s *Session) CurrentPageKey() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentKey()
}

func (s *Session) currentKey() (string, error) {
	folder, image := s.state.Folder(), s.state.CurrentImage()
	path := address.PageKey(folder, image)
	if path == "" {
		return "", ErrNoPage
	}
	key, err := s.pageKey(templates.PageKeyData{Folder: folder, Image: image, Path: path})
	if err != nil {
		return "", fmt.Errorf("session: page key: %w", err)
	}
	if key == "" {
		return "", ErrNoPage
	}
	return key, nil
}

// flush merges the live state into the page entry. Analyses and translations
// already cached under other addresses are kept; the current selection's
// address is overwritten only when there is something to store.
func (s *Session) flush(ctx context.Context) bool {
	key, err := s.currentKey()
	if err != nil {
		return false
	}
	entry, ok := s.cache.Pages.Get(ctx, key)
	if !ok {
		entry = cache.NewPageEntry()
	}
	boxes := s.state.Boxes()
	selection := s.state.Selection()
	entry.DetectedBoxes = boxes.Detected()
	entry.CustomBoxes = boxes.Custom()
	entry.SelectedBoxIndices = selection
	entry.LegacySelectedBoxIndex = nil
	entry.RevealedTokens = s.state.Revealed()

	if addr, ok := address.For(selection); ok {
		if analysis := s.state.Analysis(); !analysis.IsEmpty() {
			entry.Analyses[addr.Key()] = analysis
		}
		if streaming := s.state.Streaming(); streaming.Error == "" && !streaming.Translation().IsEmpty() {
			entry.StreamingTranslations[addr.Key()] = streaming.Translation()
		}
	}
	saved := s.cache.Pages.Set(ctx, key, entry)
	s.logger.Debug("page saved",
		slog.String("page", key),
		slog.Int("boxes", boxes.Len()),
		slog.Bool("persisted", saved),
	)
	return saved
}

func (s *Session) restore(ctx context.Context) bool {
	key, err := s.currentKey()
	if err != nil {
		return false
	}
	entry, ok := s.cache.Pages.Get(ctx, key)
	if !ok {
		return false
	}
	selection := entry.Selection()
	s.state.SetBoxes(entry.DetectedBoxes, entry.CustomBoxes)
	s.state.SetSelection(selection)
	s.state.SetRevealed(entry.RevealedTokens)
	s.showCached(entry, selection)
	s.logger.Debug("page restored", slog.String("page", key), slog.Any("selection", selection))
	return true
}

// showCached displays whatever entry holds for selection. Analysis and
// translation are resolved independently; a missing one is cleared.
func (s *Session) showCached(entry *cache.PageEntry, selection []int) {
	if entry == nil || len(selection) == 0 {
		s.state.ClearAnalysis()
		s.state.ClearStreaming()
		return
	}
	if analysis, ok := entry.Analysis(selection); ok {
		s.state.ShowAnalysis(analysis)
	} else {
		s.state.ClearAnalysis()
	}
	if translation, ok := entry.Translation(selection); ok {
		s.state.SetStreaming(annotation.RestoredStreaming(translation))
	} else {
		s.state.ClearStreaming()
	}
}

// entryForWrite returns the current page's entry, or a new one seeded with
// the live boxes and selection when the page is not cached yet.
func (s *Session) entryForWrite(ctx context.Context) (string, *cache.PageEntry, error) {
	key, err := s.currentKey()
	if err != nil {
		return "", nil, err
	}
	if entry, ok := s.cache.Pages.Get(ctx, key); ok {
		return key, entry, nil
	}
	entry := cache.NewPageEntry()
	boxes := s.state.Boxes()
	entry.DetectedBoxes = boxes.Detected()
	entry.CustomBoxes = boxes.Custom()
	entry.SelectedBoxIndices = s.state.Selection()
	return key, entry, nil
}

// ReloadFromStorage re-reads the caches after another process changed the
// medium. Live state is not touched.
func (s *Session) ReloadFromStorage(ctx context.Context, keys []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache.Reload(ctx)
	s.logger.Info("cache reloaded from storage",
		slog.Any("keys", keys),
		slog.Int("pages", s.cache.Pages.Len()),
		slog.Int("words", s.cache.Words.Len()),
	)
}
