package session

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/Njaecha/manga-helper/internal/address"
	"github.com/Njaecha/manga-helper/internal/cache"
)

// CachedPage returns the cached entry of the current page.
func (s *Session) CachedPage(ctx context.Context) (*cache.PageEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key, err := s.currentKey()
	if err != nil {
		return nil, err
	}
	entry, ok := s.cache.Pages.Get(ctx, key)
	if !ok {
		return nil, nil
	}
	return entry, nil
}

// HasDetectedBoxesCache reports whether the current page has cached
// detections.
func (s *Session) HasDetectedBoxesCache(ctx context.Context) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry := s.currentEntry(ctx)
	return entry != nil && len(entry.DetectedBoxes) > 0
}

// HasAnalysisCache reports whether an analysis is cached for selection on the
// current page.
func (s *Session) HasAnalysisCache(ctx context.Context, selection []int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry := s.currentEntry(ctx)
	if entry == nil {
		return false
	}
	_, ok := entry.Analysis(selection)
	return ok
}

// HasTranslationCache reports whether a translation is cached for selection
// on the current page.
func (s *Session) HasTranslationCache(ctx context.Context, selection []int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry := s.currentEntry(ctx)
	if entry == nil {
		return false
	}
	_, ok := entry.Translation(selection)
	return ok
}

func (s *Session) currentEntry(ctx context.Context) *cache.PageEntry {
	key, err := s.currentKey()
	if err != nil {
		return nil
	}
	entry, ok := s.cache.Pages.Get(ctx, key)
	if !ok {
		return nil
	}
	return entry
}

// ClearCurrentPageCache forgets everything cached for the current page. Live
// state is kept.
func (s *Session) ClearCurrentPageCache(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key, err := s.currentKey()
	if err != nil {
		return err
	}
	s.cache.Pages.Delete(ctx, key)
	s.logger.Info("page cache cleared", slog.String("page", key))
	return nil
}

// ClearAllPageCache empties the page namespace.
func (s *Session) ClearAllPageCache(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache.Pages.Clear(ctx)
	s.logger.Info("all page caches cleared")
}

// ClearDetectedBoxesCache drops the cached detections of the current page so
// the next detection run is not short-circuited.
func (s *Session) ClearDetectedBoxesCache(ctx context.Context) error {
	return s.editCurrentEntry(ctx, func(entry *cache.PageEntry) bool {
		if len(entry.DetectedBoxes) == 0 {
			return false
		}
		entry.DetectedBoxes = nil
		return true
	})
}

// ClearAnalysisCache drops the analysis cached for selection.
func (s *Session) ClearAnalysisCache(ctx context.Context, selection []int) error {
	addr, ok := address.For(selection)
	if !ok {
		return ErrNoSelection
	}
	return s.editCurrentEntry(ctx, func(entry *cache.PageEntry) bool {
		if _, ok := entry.Analyses[addr.Key()]; !ok {
			return false
		}
		delete(entry.Analyses, addr.Key())
		return true
	})
}

// ClearTranslationCache drops the translation cached for selection.
func (s *Session) ClearTranslationCache(ctx context.Context, selection []int) error {
	addr, ok := address.For(selection)
	if !ok {
		return ErrNoSelection
	}
	return s.editCurrentEntry(ctx, func(entry *cache.PageEntry) bool {
		if _, ok := entry.StreamingTranslations[addr.Key()]; !ok {
			return false
		}
		delete(entry.StreamingTranslations, addr.Key())
		return true
	})
}

// editCurrentEntry applies edit to the current page's entry and stores it when
// edit reports a change. Pages without an entry are left alone.
func (s *Session) editCurrentEntry(ctx context.Context, edit func(*cache.PageEntry) bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key, err := s.currentKey()
	if err != nil {
		return err
	}
	entry, ok := s.cache.Pages.Get(ctx, key)
	if !ok || !edit(entry) {
		return nil
	}
	s.cache.Pages.Set(ctx, key, entry)
	return nil
}

// ClearPagesMatching deletes every cached page the CEL selector accepts.
func (s *Session) ClearPagesMatching(ctx context.Context, expression string) ([]string, error) {
	selector, err := s.exprEnv.Compile(expression)
	if err != nil {
		return nil, fmt.Errorf("session: page selector: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cache.ClearPagesMatching(ctx, selector)
}

// ClearAllCaches removes every persisted cache key.
func (s *Session) ClearAllCaches(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache.ClearAll(ctx)
}

// Stats reports cache sizes.
func (s *Session) Stats(ctx context.Context) cache.Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cache.Stats(ctx)
}

// LookupWord returns the cached word-info payload for word.
func (s *Session) LookupWord(ctx context.Context, word string) (json.RawMessage, bool) {
	key := cache.WordKey(word)
	if key == "" {
		return nil, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.cache.Words.Get(ctx, key)
	if !ok {
		return nil, false
	}
	return entry.Data, true
}

// StoreWord caches a word-info payload.
func (s *Session) StoreWord(ctx context.Context, word string, data json.RawMessage) error {
	key := cache.WordKey(word)
	if key == "" {
		return ErrEmptyWord
	}
	if !json.Valid(data) {
		return fmt.Errorf("session: word %q: payload is not JSON", key)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache.Words.Set(ctx, key, &cache.WordEntry{Data: data})
	return nil
}

// ClearWord forgets one word. It reports whether the word was cached.
func (s *Session) ClearWord(ctx context.Context, word string) bool {
	key := cache.WordKey(word)
	if key == "" {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cache.Words.Delete(ctx, key)
}

// ClearAllWords empties the word namespace.
func (s *Session) ClearAllWords(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache.Words.Clear(ctx)
}
