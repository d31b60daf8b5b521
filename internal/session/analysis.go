package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Njaecha/manga-helper/internal/address"
	"github.com/Njaecha/manga-helper/internal/annotation"
)

// SetDetectedBoxes installs a detection result. The selection is cleared,
// and with it the displayed analysis and translation.
func (s *Session) SetDetectedBoxes(boxes []annotation.Box) {
	s.mu.Lock()
	defer s.mu.Unlock()
	normalized := make([]annotation.Box, len(boxes))
	for i, b := range boxes {
		normalized[i] = b.Normalize()
	}
	s.state.SetDetected(normalized)
	s.state.ClearAnalysis()
	s.state.ClearStreaming()
}

// AddCustomBox appends a user-drawn box and returns its index.
func (s *Session) AddCustomBox(box annotation.Box) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.AddCustom(box)
}

// RemoveBox deletes a box from the current page. The selection and the
// displayed results are cleared, and the cached analyses and translations of
// the page are re-keyed so every address still names the same boxes.
func (s *Session) RemoveBox(ctx context.Context, index int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	reindex, ok := s.state.RemoveBox(index)
	if !ok {
		return fmt.Errorf("%w: %d", ErrBoxOutOfRange, index)
	}
	s.state.ClearAnalysis()
	s.state.ClearStreaming()

	key, err := s.currentKey()
	if err != nil {
		return nil
	}
	entry, ok := s.cache.Pages.Get(ctx, key)
	if !ok {
		return nil
	}
	boxes := s.state.Boxes()
	entry.DetectedBoxes = boxes.Detected()
	entry.CustomBoxes = boxes.Custom()
	entry.SelectedBoxIndices = []int{}
	entry.Analyses = address.Remap(entry.Analyses, reindex)
	entry.StreamingTranslations = address.Remap(entry.StreamingTranslations, reindex)
	s.cache.Pages.Set(ctx, key, entry)
	s.logger.Debug("box removed", slog.String("page", key), slog.Int("index", index))
	return nil
}

// ClickBox applies a click to the selection and shows whatever the cache
// holds for the resulting selection. It returns the new selection.
func (s *Session) ClickBox(ctx context.Context, index int, multi bool) ([]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.state.Boxes().Contains(index) {
		return s.state.Selection(), fmt.Errorf("%w: %d", ErrBoxOutOfRange, index)
	}
	selection := s.state.Click(index, multi)
	s.restoreSelection(ctx, selection)
	return selection, nil
}

// ClearSelection deselects everything and clears the displayed results.
func (s *Session) ClearSelection() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.ClearSelection()
	s.showCached(nil, nil)
}

func (s *Session) restoreSelection(ctx context.Context, selection []int) {
	if len(selection) == 0 {
		s.showCached(nil, nil)
		return
	}
	key, err := s.currentKey()
	if err != nil {
		s.showCached(nil, nil)
		return
	}
	entry, ok := s.cache.Pages.Get(ctx, key)
	if !ok {
		s.showCached(nil, nil)
		return
	}
	s.showCached(entry, selection)
}

// CompleteAnalysis records a finished analysis of selection. The result is
// written through to the cache under the selection's address, and for
// multi-box results under each contributing box as well. It is displayed only
// when selection is still the live selection; displayed reports whether it
// was.
func (s *Session) CompleteAnalysis(ctx context.Context, selection []int, result annotation.AnalysisResult) (displayed bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	addr, ok := address.For(selection)
	if !ok {
		return false, ErrNoSelection
	}
	boxes := s.state.Boxes()
	for _, index := range selection {
		if !boxes.Contains(index) {
			return false, fmt.Errorf("%w: %d", ErrBoxOutOfRange, index)
		}
	}
	if err := s.cacheAnalysis(ctx, selection, result); err != nil && !errors.Is(err, ErrNoPage) {
		return false, err
	}
	if current, ok := address.For(s.state.Selection()); ok && current.Key() == addr.Key() {
		s.state.SetAnalysis(result)
		return true, nil
	}
	return false, nil
}

// UpdateCachedAnalysis writes result through to the cache without touching
// the display.
func (s *Session) UpdateCachedAnalysis(ctx context.Context, selection []int, result annotation.AnalysisResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(selection) == 0 {
		return ErrNoSelection
	}
	return s.cacheAnalysis(ctx, selection, result)
}

func (s *Session) cacheAnalysis(ctx context.Context, selection []int, result annotation.AnalysisResult) error {
	if result.IsEmpty() {
		return nil
	}
	key, entry, err := s.entryForWrite(ctx)
	if err != nil {
		return err
	}
	writes, aligned := address.Backfill(selection, result)
	if !aligned {
		s.logger.Warn("bubble breakdown does not match selection",
			slog.String("page", key),
			slog.Int("selected", len(selection)),
			slog.Int("bubbles", len(result.BubbleBreakdown)),
		)
	}
	for _, w := range writes {
		entry.Analyses[w.Address.Key()] = w.Result
	}
	s.cache.Pages.Set(ctx, key, entry)
	s.logger.Debug("analysis cached", slog.String("page", key), slog.Int("writes", len(writes)))
	return nil
}

// StartStream opens a new translation stream for the live selection. A stream
// still running is superseded. Changing the selection supersedes it too, and
// chunks of a superseded stream are dropped.
func (s *Session) StartStream() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.StartStreaming()
}

// AppendStreamChunk accumulates one chunk in memory. Chunks arriving while no
// stream is running are dropped.
func (s *Session) AppendStreamChunk(chunk annotation.StreamChunk) error {
	if err := chunk.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.state.AppendChunk(chunk) {
		s.logger.Debug("stream chunk dropped", slog.String("type", string(chunk.Type)))
	}
	return nil
}

// EndStream finishes the running stream and writes the accumulated text
// through to the cache under the live selection. Without a running stream it
// does nothing.
func (s *Session) EndStream(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	done, ok := s.state.EndStreaming()
	if !ok {
		s.logger.Debug("stream end ignored, no stream running")
		return nil
	}
	return s.cacheTranslation(ctx, done)
}

// FailStream records a collaborator failure on the stream. Failures are shown
// but never cached.
func (s *Session) FailStream(message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.StreamError(message)
	s.logger.Warn("translation stream failed", slog.String("error", message))
}

// UpdateCachedTranslation checkpoints the text accumulated so far.
func (s *Session) UpdateCachedTranslation(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cacheTranslation(ctx, s.state.Streaming())
}

// ClearStream drops the accumulator without caching it.
func (s *Session) ClearStream() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state.ClearStreaming()
}

func (s *Session) cacheTranslation(ctx context.Context, streaming annotation.Streaming) error {
	translation := streaming.Translation()
	if streaming.Error != "" || translation.IsEmpty() {
		return nil
	}
	addr, ok := address.For(s.state.Selection())
	if !ok {
		return ErrNoSelection
	}
	key, entry, err := s.entryForWrite(ctx)
	if err != nil {
		return err
	}
	entry.StreamingTranslations[addr.Key()] = translation
	s.cache.Pages.Set(ctx, key, entry)
	s.logger.Debug("translation cached", slog.String("page", key), slog.String("address", addr.Key()))
	return nil
}

// SetTokenRevealed uncovers or covers one row of one token.
func (s *Session) SetTokenRevealed(index int, kind annotation.TokenKind, revealed bool) error {
	if index < 0 || index >= MaxRevealTokens {
		return fmt.Errorf("%w: %d", ErrTokenOutOfRange, index)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if revealed {
		s.state.Reveal(index, kind)
		return nil
	}
	s.state.Hide(index, kind)
	return nil
}

// SetAllRevealed uncovers or covers tokens [0, count). An empty kind applies
// to every row.
func (s *Session) SetAllRevealed(kind annotation.TokenKind, count int, revealed bool) error {
	if count < 0 || count > MaxRevealTokens {
		return fmt.Errorf("%w: count %d", ErrTokenOutOfRange, count)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case kind != "":
		s.state.SetAllOfKind(kind, count, revealed)
	case revealed:
		s.state.RevealAll(count)
	default:
		s.state.HideAll()
	}
	return nil
}
