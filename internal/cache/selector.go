package cache

import (
	"context"
	"log/slog"
	"strings"

	"github.com/Njaecha/manga-helper/internal/expr"
)

// Facts projects a page entry into the selector view.
func (c *Cache) Facts(key string, entry *PageEntry) expr.PageFacts {
	folder, image := key, ""
	if i := strings.LastIndex(key, "/"); i >= 0 {
		folder, image = key[:i], key[i+1:]
	}
	facts := expr.PageFacts{
		Path:     key,
		Folder:   folder,
		Image:    image,
		Detected: len(entry.DetectedBoxes),
		Custom:   len(entry.CustomBoxes),
		Selected: len(entry.Selection()),
	}
	if ts := entry.StampedAt(); ts > 0 {
		facts.AgeSeconds = (c.now().UnixMilli() - ts) / 1000
	}
	for k := range entry.Analyses {
		facts.Analyses = append(facts.Analyses, k)
	}
	for k := range entry.StreamingTranslations {
		facts.Translations = append(facts.Translations, k)
	}
	return facts
}

// ClearPagesMatching deletes every page the selector accepts. Selection is
// evaluated over all pages before anything is deleted, so an evaluation error
// leaves the cache untouched. It returns the deleted keys, sorted.
func (c *Cache) ClearPagesMatching(ctx context.Context, selector expr.Selector) ([]string, error) {
	matched := map[string]struct{}{}
	for _, key := range c.Pages.Keys() {
		entry, ok := c.Pages.Peek(key)
		if !ok || entry == nil {
			continue
		}
		hit, err := selector.Match(c.Facts(key, entry))
		if err != nil {
			return nil, err
		}
		if hit {
			matched[key] = struct{}{}
		}
	}
	removed := c.Pages.DeleteWhere(ctx, func(key string, _ *PageEntry) bool {
		_, ok := matched[key]
		return ok
	})
	c.logger.Info("page cache cleared by selector",
		slog.String("selector", selector.Source()),
		slog.Int("removed", len(removed)),
	)
	return removed, nil
}
