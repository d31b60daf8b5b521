package storage

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
)

func TestFileMediumRoundTrip(t *testing.T) {
	ctx := context.Background()
	fsys := afero.NewMemMapFs()
	medium, err := NewFile(fsys, FileConfig{Dir: "/data/cache"})
	require.NoError(t, err)

	_, ok, err := medium.Get(ctx, "manga-page-cache")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, medium.Set(ctx, "mh:manga-page-cache", `{"a":1}`))
	value, ok, err := medium.Get(ctx, "mh:manga-page-cache")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, `{"a":1}`, value)

	path := medium.Path("mh:manga-page-cache")
	require.Equal(t, "/data/cache", filepath.Dir(path))
	exists, err := afero.Exists(fsys, path)
	require.NoError(t, err)
	require.True(t, exists)

	key, ok := medium.KeyForPath(path)
	require.True(t, ok)
	require.Equal(t, "mh:manga-page-cache", key)
	_, ok = medium.KeyForPath("/data/cache/.x.json.tmp")
	require.False(t, ok)
	_, ok = medium.KeyForPath("/elsewhere/x.json")
	require.False(t, ok)

	require.NoError(t, medium.Remove(ctx, "mh:manga-page-cache"))
	require.NoError(t, medium.Remove(ctx, "mh:manga-page-cache"))
	_, ok, err = medium.Get(ctx, "mh:manga-page-cache")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestFileMediumQuota(t *testing.T) {
	ctx := context.Background()
	medium, err := NewFile(afero.NewMemMapFs(), FileConfig{Dir: "/cache", QuotaBytes: 100})
	require.NoError(t, err)

	require.NoError(t, medium.Set(ctx, "a", strings.Repeat("a", 60)))
	// Replacing a file only counts its new size.
	require.NoError(t, medium.Set(ctx, "a", strings.Repeat("a", 90)))

	err = medium.Set(ctx, "b", strings.Repeat("b", 20))
	require.True(t, errors.Is(err, ErrQuotaExceeded))

	require.NoError(t, medium.Remove(ctx, "a"))
	require.NoError(t, medium.Set(ctx, "b", strings.Repeat("b", 20)))
}

func TestFileMediumForeignChanges(t *testing.T) {
	ctx := context.Background()
	fsys := afero.NewMemMapFs()
	medium, err := NewFile(fsys, FileConfig{Dir: "/cache"})
	require.NoError(t, err)

	require.NoError(t, medium.Set(ctx, "k", "mine"))
	require.False(t, medium.Foreign("k"))

	require.NoError(t, afero.WriteFile(fsys, medium.Path("k"), []byte("theirs"), 0o644))
	require.True(t, medium.Foreign("k"))
	require.False(t, medium.Foreign("k"), "a change is reported once")

	require.NoError(t, fsys.Remove(medium.Path("k")))
	require.True(t, medium.Foreign("k"))
}

func TestNewFileRequiresDir(t *testing.T) {
	_, err := NewFile(afero.NewMemMapFs(), FileConfig{})
	require.Error(t, err)
}
