package cache

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Njaecha/manga-helper/internal/annotation"
	"github.com/Njaecha/manga-helper/internal/expr"
	"github.com/Njaecha/manga-helper/internal/metrics"
	"github.com/Njaecha/manga-helper/internal/storage"
)

type fakeClock struct{ t time.Time }

func newClock() *fakeClock { return &fakeClock{t: time.UnixMilli(1_700_000_000_000)} }

func (c *fakeClock) Now() time.Time         { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func analysis(text string) annotation.AnalysisResult {
	return annotation.AnalysisResult{
		OCRText:        text,
		OCRTokens:      []annotation.Token{annotation.TextToken(text)},
		HiraganaTokens: []annotation.Token{},
		RomajiTokens:   []annotation.Token{},
	}
}

func newTestCache(t *testing.T, medium storage.Medium, clock *fakeClock) (*Cache, *storage.Store) {
	t.Helper()
	store := storage.New(medium, storage.Options{})
	c, err := New(context.Background(), store, Options{Now: clock.Now, Metrics: metrics.NewRecorder(nil)})
	require.NoError(t, err)
	return c, store
}

func rawValue(t *testing.T, medium storage.Medium, key string) string {
	t.Helper()
	raw, ok, err := medium.Get(context.Background(), key)
	require.NoError(t, err)
	require.True(t, ok, "expected %s to be persisted", key)
	return raw
}

func TestPageRoundTripThroughMedium(t *testing.T) {
	ctx := context.Background()
	medium := storage.NewMemory(0)
	clock := newClock()
	c, _ := newTestCache(t, medium, clock)

	entry := NewPageEntry()
	entry.DetectedBoxes = []annotation.Box{{X: 1, Y: 2, W: 3, H: 4}}
	entry.SelectedBoxIndices = []int{0}
	entry.Analyses["0"] = analysis("猫")
	entry.StreamingTranslations["0"] = annotation.Translation{Content: "cat"}
	entry.RevealedTokens[0] = annotation.TokenReveal{Romaji: true}
	require.True(t, c.Pages.Set(ctx, "/manga/001.png", entry))
	require.Zero(t, entry.Timestamp, "Set must not mutate the caller's entry")

	reopened, _ := newTestCache(t, medium, clock)
	got, ok := reopened.Pages.Get(ctx, "/manga/001.png")
	require.True(t, ok)
	require.Equal(t, clock.Now().UnixMilli(), got.Timestamp)
	require.Equal(t, entry.DetectedBoxes, got.DetectedBoxes)
	require.Equal(t, []int{0}, got.SelectedBoxIndices)
	require.Equal(t, annotation.TokenReveal{Romaji: true}, got.RevealedTokens[0])

	cached, ok := got.Analysis([]int{0})
	require.True(t, ok)
	require.Equal(t, "猫", cached.OCRText)
	tr, ok := got.Translation([]int{0})
	require.True(t, ok)
	require.Equal(t, "cat", tr.Content)
	_, ok = got.Analysis([]int{1})
	require.False(t, ok)
}

func TestGetEvictsStaleEntry(t *testing.T) {
	ctx := context.Background()
	medium := storage.NewMemory(0)
	clock := newClock()
	c, _ := newTestCache(t, medium, clock)

	require.True(t, c.Pages.Set(ctx, "page", NewPageEntry()))

	clock.Advance(DefaultTTL)
	_, ok := c.Pages.Get(ctx, "page")
	require.True(t, ok, "an entry exactly one TTL old is still live")

	clock.Advance(time.Millisecond)
	_, ok = c.Pages.Get(ctx, "page")
	require.False(t, ok)
	require.Zero(t, c.Pages.Len())
	require.JSONEq(t, `{}`, rawValue(t, medium, PageCacheKey), "eviction must be persisted")
}

func TestLoadDropsStaleAndUnstampedEntries(t *testing.T) {
	ctx := context.Background()
	medium := storage.NewMemory(0)
	clock := newClock()
	now := clock.Now().UnixMilli()
	stale := now - DefaultTTL.Milliseconds() - 1

	raw := `{
		"live":  {"detectedBoxes": [], "timestamp": ` + jsonInt(now) + `},
		"stale": {"detectedBoxes": [], "timestamp": ` + jsonInt(stale) + `},
		"bare":  {"detectedBoxes": []},
		"null":  null
	}`
	require.NoError(t, medium.Set(ctx, PageCacheKey, raw))

	c, _ := newTestCache(t, medium, clock)
	require.Equal(t, []string{"live"}, c.Pages.Keys())

	var persisted map[string]json.RawMessage
	require.NoError(t, json.Unmarshal([]byte(rawValue(t, medium, PageCacheKey)), &persisted))
	require.Len(t, persisted, 1)
	require.Contains(t, persisted, "live")
}

func TestLoadLeavesCleanMappingUntouched(t *testing.T) {
	ctx := context.Background()
	medium := storage.NewMemory(0)
	clock := newClock()
	raw := `{"live":{"data":{"reading":"ねこ"},"timestamp":` + jsonInt(clock.Now().UnixMilli()) + `}}`
	require.NoError(t, medium.Set(ctx, WordCacheKey, raw))

	c, _ := newTestCache(t, medium, clock)
	require.Equal(t, 1, c.Words.Len())
	require.Equal(t, raw, rawValue(t, medium, WordCacheKey), "no write without evictions")
}

func TestLegacyScalarSelectionMigrates(t *testing.T) {
	ctx := context.Background()
	medium := storage.NewMemory(0)
	clock := newClock()
	raw := `{"/m/1.png":{"detectedBoxes":[{"x":0,"y":0,"w":1,"h":1}],"customBoxes":[],"selectedBoxIndex":4,"analyses":{},"streamingTranslations":{},"revealedTokens":{},"timestamp":` +
		jsonInt(clock.Now().UnixMilli()) + `}}`
	require.NoError(t, medium.Set(ctx, PageCacheKey, raw))

	c, _ := newTestCache(t, medium, clock)
	entry, ok := c.Pages.Get(ctx, "/m/1.png")
	require.True(t, ok)
	require.Equal(t, []int{4}, entry.Selection())
	require.Equal(t, []int{4}, entry.SelectedBoxIndices)

	require.True(t, c.Pages.Set(ctx, "/m/1.png", entry))
	persisted := rawValue(t, medium, PageCacheKey)
	require.Contains(t, persisted, `"selectedBoxIndices":[4]`)
	require.NotContains(t, persisted, `"selectedBoxIndex"`)
}

func TestEmptySelectionIsWrittenAsList(t *testing.T) {
	entry := &PageEntry{}
	payload, err := json.Marshal(entry)
	require.NoError(t, err)
	require.Contains(t, string(payload), `"selectedBoxIndices":[]`)
	require.Contains(t, string(payload), `"analyses":{}`)
}

func TestVersionMismatchResetsMetaOnly(t *testing.T) {
	ctx := context.Background()
	medium := storage.NewMemory(0)
	clock := newClock()
	now := clock.Now().UnixMilli()
	require.NoError(t, medium.Set(ctx, MetaKey, `{"version":"0.9.0","created":1,"lastAccessed":1,"totalEntries":9,"totalSizeBytes":9}`))
	require.NoError(t, medium.Set(ctx, PageCacheKey, `{"p":{"timestamp":`+jsonInt(now)+`}}`))

	c, _ := newTestCache(t, medium, clock)
	meta := c.Meta()
	require.Equal(t, DefaultVersion, meta.Version)
	require.Equal(t, now, meta.Created)
	require.Equal(t, 1, meta.TotalEntries)
	require.Positive(t, meta.TotalSizeBytes)
	require.Equal(t, []string{"p"}, c.Pages.Keys(), "page entries survive a meta reset")

	var persisted Meta
	require.NoError(t, json.Unmarshal([]byte(rawValue(t, medium, MetaKey)), &persisted))
	require.Equal(t, DefaultVersion, persisted.Version)

	// Matching versions keep their creation time.
	clock.Advance(time.Hour)
	again, _ := newTestCache(t, medium, clock)
	require.Equal(t, now, again.Meta().Created)
	require.Equal(t, clock.Now().UnixMilli(), again.Meta().LastAccessed)
}

func TestQuotaRecoveryEvictsStaleEntries(t *testing.T) {
	ctx := context.Background()
	medium := storage.NewMemory(0)
	clock := newClock()
	c, _ := newTestCache(t, medium, clock)

	old := NewPageEntry()
	for i := 0; i < 200; i++ {
		old.DetectedBoxes = append(old.DetectedBoxes, annotation.Box{X: float64(i), Y: 1, W: 1, H: 1})
	}
	require.True(t, c.Pages.Set(ctx, "old", old))

	clock.Advance(DefaultTTL + time.Hour)
	require.True(t, c.Pages.Set(ctx, "live", NewPageEntry()))
	require.Equal(t, []string{"live", "old"}, c.Pages.Keys(), "stale entries linger until swept")

	medium.SetQuota(medium.Used() + 200)
	word := &WordEntry{Data: json.RawMessage(`{"meaning":"` + strings.Repeat("c", 1000) + `"}`)}
	require.True(t, c.Words.Set(ctx, WordKey("猫"), word))

	require.Equal(t, []string{"live"}, c.Pages.Keys())
	require.NotContains(t, rawValue(t, medium, PageCacheKey), `"old"`)
	require.Contains(t, rawValue(t, medium, WordCacheKey), "猫")
}

func TestQuotaFailureKeepsRunning(t *testing.T) {
	ctx := context.Background()
	medium := storage.NewMemory(0)
	clock := newClock()
	c, _ := newTestCache(t, medium, clock)

	medium.SetQuota(medium.Used() + 10)
	word := &WordEntry{Data: json.RawMessage(`"` + strings.Repeat("x", 100) + `"`)}
	require.False(t, c.Words.Set(ctx, "w", word))
	// The in-memory mirror still serves the entry for this session.
	_, ok := c.Words.Get(ctx, "w")
	require.True(t, ok)
}

func TestClearAllRemovesEveryKey(t *testing.T) {
	ctx := context.Background()
	medium := storage.NewMemory(0)
	clock := newClock()
	c, _ := newTestCache(t, medium, clock)
	require.True(t, c.Pages.Set(ctx, "p", NewPageEntry()))
	require.True(t, c.Words.Set(ctx, "w", &WordEntry{Data: json.RawMessage(`1`)}))

	c.ClearAll(ctx)
	for _, key := range []string{PageCacheKey, WordCacheKey, MetaKey} {
		_, ok, err := medium.Get(ctx, key)
		require.NoError(t, err)
		require.False(t, ok, key)
	}
	require.Zero(t, c.Pages.Len())
	require.Zero(t, c.Words.Len())
}

func TestNamespaceDeleteAndClear(t *testing.T) {
	ctx := context.Background()
	medium := storage.NewMemory(0)
	c, _ := newTestCache(t, medium, newClock())
	require.True(t, c.Words.Set(ctx, "a", &WordEntry{Data: json.RawMessage(`1`)}))
	require.True(t, c.Words.Set(ctx, "b", &WordEntry{Data: json.RawMessage(`2`)}))

	require.True(t, c.Words.Delete(ctx, "a"))
	require.False(t, c.Words.Delete(ctx, "a"))
	require.Equal(t, []string{"b"}, c.Words.Keys())

	c.Words.Clear(ctx)
	require.Zero(t, c.Words.Len())
	require.JSONEq(t, `{}`, rawValue(t, medium, WordCacheKey))
}

func TestSchemaInvalidMappingLoadsEmpty(t *testing.T) {
	ctx := context.Background()
	medium := storage.NewMemory(0)
	require.NoError(t, medium.Set(ctx, PageCacheKey, `{"p":{"selectedBoxIndices":"nope","timestamp":1}}`))
	require.NoError(t, medium.Set(ctx, WordCacheKey, `[1,2,3]`))

	c, _ := newTestCache(t, medium, newClock())
	require.Zero(t, c.Pages.Len())
	require.Zero(t, c.Words.Len())
}

func TestStats(t *testing.T) {
	ctx := context.Background()
	clock := newClock()
	c, _ := newTestCache(t, storage.NewMemory(0), clock)
	require.True(t, c.Pages.Set(ctx, "p", NewPageEntry()))
	require.True(t, c.Words.Set(ctx, "w", &WordEntry{Data: json.RawMessage(`{"a":1}`)}))

	stats := c.Stats(ctx)
	require.Equal(t, 1, stats.Pages.Count)
	require.Equal(t, 1, stats.Words.Count)
	require.Equal(t, c.Pages.SizeBytes(), stats.Pages.SizeBytes)
	require.Equal(t, stats.Pages.SizeBytes+stats.Words.SizeBytes, stats.Total.SizeBytes)
	require.Equal(t, 0.0, stats.Total.SizeMB)

	clock.Advance(DefaultTTL + time.Second)
	stats = c.Stats(ctx)
	require.Zero(t, stats.Pages.Count)
	require.Zero(t, stats.Words.Count)

	require.Equal(t, 1.5, megabytes(1024*1024*3/2))
}

func TestClearPagesMatching(t *testing.T) {
	ctx := context.Background()
	clock := newClock()
	c, _ := newTestCache(t, storage.NewMemory(0), clock)
	require.True(t, c.Pages.Set(ctx, "/vol1/001.png", NewPageEntry()))
	clock.Advance(2 * time.Hour)
	require.True(t, c.Pages.Set(ctx, "/vol1/002.png", NewPageEntry()))
	require.True(t, c.Pages.Set(ctx, "/vol2/001.png", NewPageEntry()))

	env, err := expr.NewEnvironment()
	require.NoError(t, err)
	selector, err := env.Compile(`page.folder == "/vol1" && page.ageSeconds >= 3600`)
	require.NoError(t, err)

	removed, err := c.ClearPagesMatching(ctx, selector)
	require.NoError(t, err)
	require.Equal(t, []string{"/vol1/001.png"}, removed)
	require.Equal(t, []string{"/vol1/002.png", "/vol2/001.png"}, c.Pages.Keys())

	failing, err := env.Compile(`page.missing == 1`)
	require.NoError(t, err)
	_, err = c.ClearPagesMatching(ctx, failing)
	require.Error(t, err)
	require.Len(t, c.Pages.Keys(), 2)
}

func TestWordKeyNormalizesToNFC(t *testing.T) {
	require.Equal(t, "\u304c", WordKey("\u304b\u3099"))
	require.Equal(t, "猫", WordKey("  猫 "))
}

func TestNewRequiresStore(t *testing.T) {
	_, err := New(context.Background(), nil, Options{})
	require.Error(t, err)
}

func jsonInt(v int64) string {
	payload, _ := json.Marshal(v)
	return string(payload)
}
