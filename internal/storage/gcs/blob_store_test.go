package gcs

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"cloud.google.com/go/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
)

func newTestBlobStore(t *testing.T, handler http.Handler) *BlobStore {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := storage.NewClient(context.Background(),
		option.WithEndpoint(server.URL),
		option.WithoutAuthentication(),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	store, err := New(client, Config{Bucket: "test-bucket"})
	require.NoError(t, err)
	return store
}

func TestNewValidates(t *testing.T) {
	t.Parallel()

	_, err := New(nil, Config{Bucket: "b"})
	require.Error(t, err)

	client, err := storage.NewClient(context.Background(), option.WithoutAuthentication())
	require.NoError(t, err)
	defer func() { _ = client.Close() }()
	_, err = New(client, Config{})
	require.Error(t, err)

	_, err = Open(context.Background(), Config{})
	require.ErrorContains(t, err, "bucket name is required")
}

func TestPutObjectUploads(t *testing.T) {
	t.Parallel()

	objectName := "pages/site-1/abc.html"
	objectData := []byte("<html>archived</html>")

	store := newTestBlobStore(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Path, "/upload/storage/v1/b/test-bucket/o")
		assert.Equal(t, objectName, r.URL.Query().Get("name"))
		assert.Equal(t, "multipart", r.URL.Query().Get("uploadType"))

		body, err := io.ReadAll(r.Body)
		assert.NoError(t, err)
		assert.Contains(t, string(body), string(objectData))
		assert.Contains(t, string(body), "text/html")

		_, _ = fmt.Fprintln(w, `{ "name": "`+objectName+`", "bucket": "test-bucket" }`)
	}))

	uri, err := store.PutObject(context.Background(), objectName, "text/html", bytes.NewReader(objectData))
	require.NoError(t, err)
	require.Equal(t, "gs://test-bucket/"+objectName, uri)
	require.NoError(t, store.Close())
}

func TestPutObjectServerError(t *testing.T) {
	t.Parallel()

	store := newTestBlobStore(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))

	_, err := store.PutObject(context.Background(), "obj", "text/html", bytes.NewReader([]byte("x")))
	require.Error(t, err)
}

func TestPutObjectRequiresPath(t *testing.T) {
	t.Parallel()

	store := newTestBlobStore(t, http.NotFoundHandler())
	_, err := store.PutObject(context.Background(), " ", "text/html", bytes.NewReader(nil))
	require.ErrorContains(t, err, "path is required")
}

func TestOpenFailsWhenBucketMissing(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = fmt.Fprintln(w, `{"error":{"code":404,"message":"bucket not found"}}`)
	}))
	defer server.Close()

	_, err := Open(context.Background(), Config{Bucket: "missing"},
		option.WithEndpoint(server.URL),
		option.WithoutAuthentication(),
	)
	require.Error(t, err)
}
