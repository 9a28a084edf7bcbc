package memory

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBlobStorePutObjectCopiesData(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	payload := []byte("content")
	uri, err := store.PutObject(context.Background(), "path/page.html", "text/html", bytes.NewReader(payload))
	require.NoError(t, err)
	require.Equal(t, "memory://path/page.html", uri)

	payload[0] = 'C'
	stored, contentType, ok := store.Object("path/page.html")
	require.True(t, ok)
	require.Equal(t, "content", string(stored))
	require.Equal(t, "text/html", contentType)

	stored[0] = 'X'
	again, _, _ := store.Object("path/page.html")
	require.Equal(t, "content", string(again))
	require.Equal(t, 1, store.Len())
}

func TestBlobStoreReadError(t *testing.T) {
	t.Parallel()

	store := NewBlobStore()
	_, err := store.PutObject(context.Background(), "bad", "text/html", errReader{})
	require.Error(t, err)
	_, _, ok := store.Object("bad")
	require.False(t, ok)
}

type errReader struct{}

func (errReader) Read([]byte) (int, error) { return 0, errors.New("read failed") }
