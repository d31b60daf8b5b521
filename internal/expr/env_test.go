package expr

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSelectorMatchesPageFacts(t *testing.T) {
	env, err := NewEnvironment()
	require.NoError(t, err)

	facts := PageFacts{
		Path:         "/manga/vol1/001.png",
		Folder:       "/manga/vol1",
		Image:        "001.png",
		AgeSeconds:   7200,
		Detected:     3,
		Analyses:     []string{"0", "multi_0,1"},
		Translations: nil,
	}

	cases := map[string]bool{
		`page.folder.startsWith("/manga/vol1")`:  true,
		`page.ageSeconds > 3600`:                 true,
		`page.detected == 3 && page.custom == 0`: true,
		`"multi_0,1" in page.analyses`:           true,
		`size(page.translations) > 0`:            false,
		`page.image.endsWith(".jpg")`:            false,
		`lookup(page, "missing") == null`:        true,
	}
	for source, want := range cases {
		selector, err := env.Compile(source)
		require.NoError(t, err, source)
		got, err := selector.Match(facts)
		require.NoError(t, err, source)
		require.Equal(t, want, got, source)
	}
}

func TestCompileRejectsNonBoolean(t *testing.T) {
	env, err := NewEnvironment()
	require.NoError(t, err)

	_, err = env.Compile(`page.ageSeconds + 1`)
	require.Error(t, err)
	_, err = env.Compile(`   `)
	require.Error(t, err)
	_, err = env.Compile(`page.(`)
	require.Error(t, err)
}

func TestSelectorSource(t *testing.T) {
	env, err := NewEnvironment()
	require.NoError(t, err)
	selector, err := env.Compile(`  true `)
	require.NoError(t, err)
	require.Equal(t, "true", selector.Source())

	_, err = Selector{}.Match(PageFacts{})
	require.Error(t, err)
}
