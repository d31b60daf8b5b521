package address

import (
	"strings"

	"github.com/Njaecha/manga-helper/internal/annotation"
)

// Write is one cache assignment produced by Backfill.
type Write struct {
	Address Address
	Result  annotation.AnalysisResult
}

// Backfill expands the result of analysing selection into the cache writes it
// implies. The first write is always the selection's own address. When the
// selection spans several boxes and the result carries a bubble breakdown,
// every contributing box also receives its own slice so selecting that box
// alone later still finds an analysis. The breakdown follows selection order,
// not the sorted address order.
//
// aligned is false when the breakdown length does not match the selection;
// only the overlapping prefix is back-filled in that case.
func Backfill(selection []int, result annotation.AnalysisResult) (writes []Write, aligned bool) {
	addr, ok := For(selection)
	if !ok {
		return nil, true
	}
	writes = append(writes, Write{Address: addr, Result: result.Clone()})
	if !addr.IsComposite() || len(result.BubbleBreakdown) == 0 {
		return writes, true
	}
	aligned = len(result.BubbleBreakdown) == len(selection)
	seen := make(map[int]struct{}, len(selection))
	for i, idx := range selection {
		if i >= len(result.BubbleBreakdown) {
			break
		}
		if _, dup := seen[idx]; dup {
			continue
		}
		seen[idx] = struct{}{}
		slice := result.BubbleBreakdown[i].Analysis()
		if slice.IsEmpty() {
			continue
		}
		writes = append(writes, Write{Address: Single(idx), Result: slice})
	}
	return writes, aligned
}

// Remap rewrites the address keys of a per-page mapping after boxes moved.
// Entries whose address references a box that no longer exists are dropped;
// keys that are not addresses are kept untouched.
func Remap[V any](entries map[string]V, reindex annotation.Reindex) map[string]V {
	out := make(map[string]V, len(entries))
	for key, value := range entries {
		addr, err := Parse(key)
		if err != nil {
			out[key] = value
			continue
		}
		moved := make([]int, 0, len(addr.indices))
		keep := true
		for _, idx := range addr.indices {
			next, ok := reindex(idx)
			if !ok {
				keep = false
				break
			}
			moved = append(moved, next)
		}
		if !keep {
			continue
		}
		out[Composite(moved).Key()] = value
	}
	return out
}

// PageKey builds the full image path a page is cached under. Backslashes are
// normalized to forward slashes and exactly one separator joins folder and
// image. Either part missing yields "".
func PageKey(folder, image string) string {
	if folder == "" || image == "" {
		return ""
	}
	normalized := strings.ReplaceAll(folder, `\`, "/")
	if strings.HasSuffix(normalized, "/") {
		return normalized + image
	}
	return normalized + "/" + image
}
