package memory

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBlobStorePutObjectCopiesData(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	payload := []byte("content")
	uri, err := store.PutObject(context.Background(), "VICTIMS/meta.json", "application/json", bytes.NewReader(payload))
	require.NoError(t, err)
	assert.Equal(t, "memory://VICTIMS/meta.json", uri)

	payload[0] = 'C'
	stored, ok := store.Get("VICTIMS/meta.json")
	require.True(t, ok)
	assert.Equal(t, "content", string(stored))
}

func TestBlobStoreFailedReadKeepsPrevious(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	_, err := store.PutObject(context.Background(), "a/b.json", "", bytes.NewReader([]byte("v1")))
	require.NoError(t, err)

	broken := io.MultiReader(bytes.NewReader([]byte("v2")), iotestErrReader{})
	_, err = store.PutObject(context.Background(), "a/b.json", "", broken)
	require.Error(t, err)

	stored, _ := store.Get("a/b.json")
	assert.Equal(t, "v1", string(stored))
	assert.Equal(t, []string{"a/b.json"}, store.Paths())

	_, ok := store.Get("missing")
	assert.False(t, ok)
}

type iotestErrReader struct{}

func (iotestErrReader) Read([]byte) (int, error) { return 0, errors.New("boom") }
