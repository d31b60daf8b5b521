package session

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Njaecha/manga-helper/internal/metrics"
)

// NextPage moves forward one page, staying on the last page at the end. The
// flush and restore cycle runs either way.
func (s *Session) NextPage(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := len(s.state.Images())
	if count == 0 {
		s.metrics.ObserveNavigation("next", metrics.NavigationRejected)
		return ErrNoPage
	}
	s.navigate(ctx, "next", min(s.state.CurrentIndex()+1, count-1))
	return nil
}

// PrevPage moves back one page, staying on the first page at the start.
func (s *Session) PrevPage(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.state.Images()) == 0 {
		s.metrics.ObserveNavigation("prev", metrics.NavigationRejected)
		return ErrNoPage
	}
	s.navigate(ctx, "prev", max(s.state.CurrentIndex()-1, 0))
	return nil
}

// GoToPage jumps to index. Out of range indices are rejected before anything
// is flushed.
func (s *Session) GoToPage(ctx context.Context, index int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := len(s.state.Images())
	if index < 0 || index >= count {
		s.metrics.ObserveNavigation("goto", metrics.NavigationRejected)
		return fmt.Errorf("%w: %d of %d", ErrPageOutOfRange, index, count)
	}
	s.navigate(ctx, "goto", index)
	return nil
}

// SetFolder opens a folder at its first image. The page being left is saved
// first and the new first page is restored when cached.
func (s *Session) SetFolder(ctx context.Context, path string, images []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flush(ctx)
	s.state.SetFolder(path, images)
	outcome := s.restoreOrReset(ctx)
	s.metrics.ObserveNavigation("folder", outcome)
	s.logger.Info("folder opened",
		slog.String("folder", path),
		slog.Int("images", len(images)),
		slog.String("outcome", string(outcome)),
	)
}

func (s *Session) navigate(ctx context.Context, direction string, target int) {
	from := s.state.CurrentIndex()
	s.flush(ctx)
	s.state.SetCurrentIndex(target)
	outcome := s.restoreOrReset(ctx)
	s.metrics.ObserveNavigation(direction, outcome)
	s.logger.Debug("page changed",
		slog.String("direction", direction),
		slog.Int("from", from),
		slog.Int("to", target),
		slog.String("outcome", string(outcome)),
	)
}

func (s *Session) restoreOrReset(ctx context.Context) metrics.NavigationOutcome {
	if s.restore(ctx) {
		return metrics.NavigationRestored
	}
	s.state.Reset()
	return metrics.NavigationReset
}
