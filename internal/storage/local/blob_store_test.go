package local_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/globaltender/internal/storage/local"
)

func TestNew(t *testing.T) {
	t.Parallel()

	t.Run("creates nested directory", func(t *testing.T) {
		t.Parallel()
		dir := filepath.Join(t.TempDir(), "archive", "cppp")
		_, err := local.New(local.Config{BaseDir: dir})
		require.NoError(t, err)
		info, err := os.Stat(dir)
		require.NoError(t, err)
		assert.True(t, info.IsDir())

		entries, err := os.ReadDir(dir)
		require.NoError(t, err)
		assert.Empty(t, entries, "probe file is cleaned up")
	})

	t.Run("requires directory", func(t *testing.T) {
		t.Parallel()
		_, err := local.New(local.Config{BaseDir: "  "})
		require.Error(t, err)

		file := filepath.Join(t.TempDir(), "pages.html")
		require.NoError(t, os.WriteFile(file, []byte("x"), 0o600))
		_, err = local.New(local.Config{BaseDir: file})
		require.ErrorContains(t, err, "not a directory")
	})
}

func TestPutObject(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	store, err := local.New(local.Config{BaseDir: root})
	require.NoError(t, err)
	ctx := context.Background()

	path := "run-1/seed-00/page-00001.html"
	uri, err := store.PutObject(ctx, path, "text/html", []byte("<table>v1</table>"))
	require.NoError(t, err)
	assert.Equal(t, "file://"+filepath.ToSlash(filepath.Join(root, path)), uri)

	_, err = store.PutObject(ctx, path, "text/html", []byte("<table>v2</table>"))
	require.NoError(t, err)
	// #nosec G304 -- reads from the test's temp directory.
	got, err := os.ReadFile(filepath.Join(root, path))
	require.NoError(t, err)
	assert.Equal(t, "<table>v2</table>", string(got))

	entries, err := os.ReadDir(filepath.Join(root, "run-1", "seed-00"))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no staging files are left behind")
}

func TestPutObjectRejectsUnsafePaths(t *testing.T) {
	t.Parallel()

	store, err := local.New(local.Config{BaseDir: t.TempDir()})
	require.NoError(t, err)

	for _, path := range []string{"", "../outside.html", "run-1/../../outside.html", "/etc/passwd"} {
		_, err := store.PutObject(context.Background(), path, "text/html", []byte("x"))
		assert.Error(t, err, "path %q", path)
	}
}
