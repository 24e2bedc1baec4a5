// Package local_test tests the local filesystem blob store.
package local_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/arcgis-harvester/internal/storage/local"
)

func TestNew(t *testing.T) {
	t.Run("ValidConfig", func(t *testing.T) {
		store, err := local.New(local.Config{BaseDir: t.TempDir()})
		require.NoError(t, err)
		assert.NotNil(t, store)
	})

	t.Run("CreatesMissingDir", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "data", "archive")
		_, err := local.New(local.Config{BaseDir: dir})
		require.NoError(t, err)
		assert.DirExists(t, dir)
	})

	t.Run("MissingBaseDir", func(t *testing.T) {
		_, err := local.New(local.Config{})
		assert.Error(t, err)
	})

	t.Run("BaseDirIsNotADirectory", func(t *testing.T) {
		tempFile := filepath.Join(t.TempDir(), "testfile")
		require.NoError(t, os.WriteFile(tempFile, []byte("x"), 0o600))
		_, err := local.New(local.Config{BaseDir: tempFile})
		assert.Error(t, err)
	})

	t.Run("BaseDirNotWritable", func(t *testing.T) {
		if os.Geteuid() == 0 {
			t.Skip("root ignores directory permissions")
		}
		tempDir := t.TempDir()
		// #nosec G302 -- directory permissions adjusted intentionally for test coverage.
		require.NoError(t, os.Chmod(tempDir, 0o500))
		_, err := local.New(local.Config{BaseDir: tempDir})
		assert.Error(t, err)
		// #nosec G302 -- reverting permissions to allow cleanup in the test environment.
		require.NoError(t, os.Chmod(tempDir, 0o700))
	})
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) {
	return 0, errors.New("peer hung up")
}

func TestPutObject(t *testing.T) {
	tempDir := t.TempDir()
	store, err := local.New(local.Config{BaseDir: tempDir})
	require.NoError(t, err)
	ctx := context.Background()

	t.Run("ValidPut", func(t *testing.T) {
		path := "ARMED_GROUPS/Military_CNR_SEP_2025_MIL1_FeatureServer_L12.geojson"
		data := []byte(`{"type":"FeatureCollection","features":[]}`)
		uri, err := store.PutObject(ctx, path, "application/geo+json", bytes.NewReader(data))
		require.NoError(t, err)
		assert.Equal(t, "file://"+filepath.Join(tempDir, path), uri)

		readData, err := os.ReadFile(filepath.Join(tempDir, path))
		require.NoError(t, err)
		assert.Equal(t, data, readData)
	})

	t.Run("OverwriteReplacesContent", func(t *testing.T) {
		path := "VICTIMS/registro.json"
		_, err := store.PutObject(ctx, path, "application/json", bytes.NewReader([]byte("first version")))
		require.NoError(t, err)
		_, err = store.PutObject(ctx, path, "application/json", bytes.NewReader([]byte("second")))
		require.NoError(t, err)

		readData, err := os.ReadFile(filepath.Join(tempDir, path))
		require.NoError(t, err)
		assert.Equal(t, "second", string(readData))
	})

	t.Run("FailedWriteKeepsPreviousFile", func(t *testing.T) {
		path := "HOSTED_SERVICES/layer.geojson"
		_, err := store.PutObject(ctx, path, "application/geo+json", bytes.NewReader([]byte("complete")))
		require.NoError(t, err)

		_, err = store.PutObject(ctx, path, "application/geo+json", io.MultiReader(bytes.NewReader([]byte("partial")), failingReader{}))
		require.Error(t, err)

		readData, err := os.ReadFile(filepath.Join(tempDir, path))
		require.NoError(t, err)
		assert.Equal(t, "complete", string(readData))

		entries, err := os.ReadDir(filepath.Join(tempDir, "HOSTED_SERVICES"))
		require.NoError(t, err)
		require.Len(t, entries, 1, "temporary files must be cleaned up")
	})

	t.Run("EmptyPath", func(t *testing.T) {
		_, err := store.PutObject(ctx, "", "text/plain", bytes.NewReader([]byte("data")))
		assert.Error(t, err)
	})

	t.Run("PathTraversal", func(t *testing.T) {
		_, err := store.PutObject(ctx, "../escape.txt", "text/plain", bytes.NewReader([]byte("data")))
		assert.Error(t, err)
		assert.NoFileExists(t, filepath.Join(filepath.Dir(tempDir), "escape.txt"))
	})

	t.Run("CanceledContext", func(t *testing.T) {
		canceled, cancel := context.WithCancel(ctx)
		cancel()
		_, err := store.PutObject(canceled, "VICTIMS/never.json", "application/json", bytes.NewReader([]byte("x")))
		require.ErrorIs(t, err, context.Canceled)
		assert.NoFileExists(t, filepath.Join(tempDir, "VICTIMS/never.json"))
	})
}
