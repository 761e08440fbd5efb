package app_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/artpar/bundlegate/app"
)

func TestGenerations_Swap(t *testing.T) {
	gens := app.NewGenerations(t.TempDir())
	assert.Empty(t, gens.Root())

	var dirs []string
	for i := 0; i < 3; i++ {
		dir, err := gens.Next()
		require.NoError(t, err)
		assert.DirExists(t, dir)
		gens.Swap(dir, []string{"/less/site.css"})
		dirs = append(dirs, dir)
	}

	assert.Equal(t, dirs[2], gens.Root())
	assert.Equal(t, []string{"/less/site.css"}, gens.InjectedStyles())
	assert.NoDirExists(t, dirs[0], "generations older than the previous one are removed")
	assert.DirExists(t, dirs[1])
}

func TestGenerations_Discard(t *testing.T) {
	gens := app.NewGenerations(t.TempDir())

	live, err := gens.Next()
	require.NoError(t, err)
	gens.Swap(live, nil)

	failed, err := gens.Next()
	require.NoError(t, err)
	assert.NotEqual(t, live, failed)

	gens.Discard(failed)
	assert.NoDirExists(t, failed)

	gens.Discard(live)
	assert.DirExists(t, live, "the live generation is never discarded")
	assert.Equal(t, live, gens.Root())
}

func TestGenerations_InjectedStylesIsACopy(t *testing.T) {
	gens := app.NewGenerations(t.TempDir())
	dir, err := gens.Next()
	require.NoError(t, err)
	gens.Swap(dir, []string{"/a.css"})

	styles := gens.InjectedStyles()
	styles[0] = "/b.css"
	assert.Equal(t, []string{"/a.css"}, gens.InjectedStyles())
}

func TestGenerations_Clean(t *testing.T) {
	base := t.TempDir()
	writeTree(t, base, map[string]string{
		".gen-000001/index.html": "old",
		".gen-000007/index.html": "old",
		"keep/index.html":        "keep",
	})

	require.NoError(t, app.NewGenerations(base).Clean())

	entries, err := os.ReadDir(base)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "keep", entries[0].Name())

	assert.NoError(t, app.NewGenerations(filepath.Join(base, "missing")).Clean())
}
