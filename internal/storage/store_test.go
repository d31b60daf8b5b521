package storage

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Njaecha/manga-helper/internal/metrics"
)

type failingMedium struct {
	getErr error
	setErr error
	sets   int
}

func (f *failingMedium) Name() string { return "failing" }
func (f *failingMedium) Get(context.Context, string) (string, bool, error) {
	return "", false, f.getErr
}
func (f *failingMedium) Set(context.Context, string, string) error {
	f.sets++
	return f.setErr
}
func (f *failingMedium) Remove(context.Context, string) error { return f.setErr }
func (f *failingMedium) Close() error                         { return nil }

type sweepFunc func(ctx context.Context) int

func (f sweepFunc) SweepExpired(ctx context.Context) int { return f(ctx) }

func TestLoadFallsBackToDefault(t *testing.T) {
	ctx := context.Background()
	medium := NewMemory(0)
	store := New(medium, Options{KeyPrefix: "test:"})

	def := map[string]int{"default": 1}
	require.Equal(t, def, Load(ctx, store, "missing", def))

	require.NoError(t, medium.Set(ctx, "test:empty", "   "))
	require.Equal(t, def, Load(ctx, store, "empty", def))

	require.NoError(t, medium.Set(ctx, "test:corrupt", "{not json"))
	require.Equal(t, def, Load(ctx, store, "corrupt", def))

	require.NoError(t, medium.Set(ctx, "test:wrongshape", `["a"]`))
	require.Equal(t, def, Load(ctx, store, "wrongshape", def))

	require.True(t, store.Save(ctx, "good", map[string]int{"a": 2}))
	require.Equal(t, map[string]int{"a": 2}, Load(ctx, store, "good", def))

	raw, ok, err := medium.Get(ctx, "test:good")
	require.NoError(t, err)
	require.True(t, ok)
	require.JSONEq(t, `{"a":2}`, raw)
}

func TestLoadSwallowsMediumErrors(t *testing.T) {
	store := New(&failingMedium{getErr: ErrUnavailable, setErr: ErrUnavailable}, Options{})
	require.Equal(t, "fallback", Load(context.Background(), store, "k", "fallback"))
	require.False(t, store.Save(context.Background(), "k", "v"))
	require.False(t, store.Remove(context.Background(), "k"))
}

func TestLoadRejectsSchemaInvalidValues(t *testing.T) {
	ctx := context.Background()
	schema, err := CompileSchema("counts.json", `{"type":"object","additionalProperties":{"type":"integer"}}`)
	require.NoError(t, err)

	store := New(NewMemory(0), Options{})
	store.RegisterSchema("counts", schema)

	require.True(t, store.Save(ctx, "counts", map[string]any{"a": "not a number"}))
	require.Equal(t, map[string]int{}, Load(ctx, store, "counts", map[string]int{}))

	require.True(t, store.Save(ctx, "counts", map[string]int{"a": 1}))
	require.Equal(t, map[string]int{"a": 1}, Load(ctx, store, "counts", map[string]int{}))

	_, err = CompileSchema("broken.json", `{"type": 12}`)
	require.Error(t, err)
}

func TestSaveRecoversFromQuotaOnce(t *testing.T) {
	ctx := context.Background()
	medium := NewMemory(64)
	store := New(medium, Options{Metrics: metrics.NewRecorder(nil)})

	require.True(t, store.Save(ctx, "old", strings.Repeat("x", 40)))

	sweeps := 0
	store.SetSweeper(sweepFunc(func(ctx context.Context) int {
		sweeps++
		// A write issued from inside the sweep must not trigger a nested recovery.
		require.False(t, store.Save(ctx, "nested", strings.Repeat("y", 60)))
		require.True(t, store.Remove(ctx, "old"))
		return 1
	}))

	require.True(t, store.Save(ctx, "new", strings.Repeat("z", 30)))
	require.Equal(t, 1, sweeps)

	_, ok, _ := medium.Get(ctx, "old")
	require.False(t, ok)
	_, ok, _ = medium.Get(ctx, "new")
	require.True(t, ok)
}

func TestSaveGivesUpAfterOneRetry(t *testing.T) {
	ctx := context.Background()
	medium := &failingMedium{setErr: ErrQuotaExceeded}
	store := New(medium, Options{})
	sweeps := 0
	store.SetSweeper(sweepFunc(func(context.Context) int { sweeps++; return 0 }))

	require.False(t, store.Save(ctx, "k", "v"))
	require.Equal(t, 1, sweeps)
	require.Equal(t, 2, medium.sets)

	// The recovery flag is released, so the next write may recover again.
	require.False(t, store.Save(ctx, "k", "v"))
	require.Equal(t, 2, sweeps)
}

func TestSaveWithoutSweeperFailsOnQuota(t *testing.T) {
	medium := &failingMedium{setErr: ErrQuotaExceeded}
	store := New(medium, Options{})
	require.False(t, store.Save(context.Background(), "k", "v"))
	require.Equal(t, 1, medium.sets)
}

func TestSaveRejectsUnencodableValues(t *testing.T) {
	medium := &failingMedium{}
	store := New(medium, Options{})
	require.False(t, store.Save(context.Background(), "k", make(chan int)))
	require.Zero(t, medium.sets)
}

func TestMemoryMediumQuotaAccounting(t *testing.T) {
	ctx := context.Background()
	medium := NewMemory(20)
	require.NoError(t, medium.Set(ctx, "a", "123456789"))
	require.Equal(t, int64(10), medium.Used())

	// Overwrites only count the delta.
	require.NoError(t, medium.Set(ctx, "a", "1234567890123456789"))
	require.Equal(t, int64(20), medium.Used())

	err := medium.Set(ctx, "b", "1")
	require.True(t, errors.Is(err, ErrQuotaExceeded))

	require.NoError(t, medium.Remove(ctx, "a"))
	require.Zero(t, medium.Used())
	require.NoError(t, medium.Set(ctx, "b", "1"))
}

func TestStoreKeyPrefix(t *testing.T) {
	store := New(NewMemory(0), Options{KeyPrefix: "mh:"})
	require.Equal(t, "mh:manga-page-cache", store.Key("manga-page-cache"))
	logical, ok := store.LogicalKey("mh:manga-word-cache")
	require.True(t, ok)
	require.Equal(t, "manga-word-cache", logical)
	_, ok = store.LogicalKey("other:key")
	require.False(t, ok)
}
