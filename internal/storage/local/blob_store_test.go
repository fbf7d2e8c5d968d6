package local_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/bulk-result-crawler/internal/storage/local"
)

func TestNewBlobStore(t *testing.T) {
	t.Parallel()

	t.Run("creates missing dir", func(t *testing.T) {
		t.Parallel()
		dir := filepath.Join(t.TempDir(), "exports")
		_, err := local.NewBlobStore(dir)
		require.NoError(t, err)
		info, err := os.Stat(dir)
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	})
	t.Run("empty dir", func(t *testing.T) {
		t.Parallel()
		_, err := local.NewBlobStore("  ")
		assert.Error(t, err)
	})
	t.Run("file not dir", func(t *testing.T) {
		t.Parallel()
		file := filepath.Join(t.TempDir(), "plain")
		require.NoError(t, os.WriteFile(file, []byte("x"), 0o600))
		_, err := local.NewBlobStore(file)
		assert.Error(t, err)
	})
}

func TestBlobStorePutObject(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	store, err := local.NewBlobStore(dir)
	require.NoError(t, err)

	uri, err := store.PutObject(context.Background(), "runs/r1/results.csv", "text/csv", []byte("a,b\n"))
	require.NoError(t, err)
	assert.Equal(t, "file://"+filepath.Join(dir, "runs/r1/results.csv"), uri)

	data, err := os.ReadFile(filepath.Join(dir, "runs/r1/results.csv"))
	require.NoError(t, err)
	assert.Equal(t, "a,b\n", string(data))

	_, err = store.PutObject(context.Background(), "../escape.csv", "text/csv", nil)
	assert.ErrorContains(t, err, "path traversal")
	_, err = store.PutObject(context.Background(), "", "text/csv", nil)
	assert.Error(t, err)
}
