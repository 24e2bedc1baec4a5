package gcs

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
)

func newTestStore(t *testing.T, handler http.Handler) *BlobStore {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	store, closeFn, err := Open(context.Background(), Config{Bucket: "harvest-bucket"},
		option.WithEndpoint(server.URL), option.WithoutAuthentication())
	require.NoError(t, err)
	t.Cleanup(func() { _ = closeFn() })
	return store
}

func TestNewValidation(t *testing.T) {
	t.Parallel()

	_, err := New(nil, Config{Bucket: "b"})
	assert.Error(t, err)

	_, _, err = Open(context.Background(), Config{Bucket: " "}, option.WithoutAuthentication())
	assert.Error(t, err)
}

func TestPutObjectUploads(t *testing.T) {
	t.Parallel()

	objectName := "colombia/VICTIMS/Victimas_Registro_MapServer_meta.json"
	payload := []byte(`{"layers":[]}`)
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Path, "/upload/storage/v1/b/harvest-bucket/o")
		assert.Equal(t, objectName, r.URL.Query().Get("name"))

		body, err := io.ReadAll(r.Body)
		assert.NoError(t, err)
		assert.Contains(t, string(body), string(payload))
		assert.Contains(t, string(body), "application/json")

		fmt.Fprintln(w, `{"name":"`+objectName+`","bucket":"harvest-bucket"}`)
	})

	store := newTestStore(t, handler)
	uri, err := store.PutObject(context.Background(), objectName, "application/json", bytes.NewReader(payload))
	require.NoError(t, err)
	assert.Equal(t, "gs://harvest-bucket/"+objectName, uri)
}

func TestPutObjectServerError(t *testing.T) {
	t.Parallel()

	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	})

	store := newTestStore(t, handler)
	_, err := store.PutObject(context.Background(), "a.json", "application/json", bytes.NewReader([]byte("{}")))
	assert.Error(t, err)

	_, err = store.PutObject(context.Background(), "", "application/json", bytes.NewReader(nil))
	assert.Error(t, err)
}
