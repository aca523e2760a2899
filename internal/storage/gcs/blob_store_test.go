package gcs

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
)

func newTestStore(t *testing.T, cfg Config, handler http.Handler) *BlobStore {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	store, err := New(context.Background(), cfg, option.WithEndpoint(srv.URL), option.WithoutAuthentication())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestPutObjectUploadsWithPrefix(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	var gotName, gotBody string
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		gotName = r.URL.Query().Get("name")
		gotBody = string(body)
		mu.Unlock()
		fmt.Fprintf(w, `{"bucket":"archive","name":%q}`, r.URL.Query().Get("name"))
	})
	store := newTestStore(t, Config{Bucket: "archive", Prefix: "/sentinel/"}, handler)

	uri, err := store.PutObject(context.Background(), "snapshots/x.json", "application/json", strings.NewReader(`[]`))
	require.NoError(t, err)
	require.Equal(t, "gs://archive/sentinel/snapshots/x.json", uri)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, "sentinel/snapshots/x.json", gotName)
	require.Contains(t, gotBody, "[]")
}

func TestPutObjectSurfacesServerError(t *testing.T) {
	t.Parallel()

	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"error":{"code":403,"message":"denied"}}`, http.StatusForbidden)
	})
	store := newTestStore(t, Config{Bucket: "archive"}, handler)

	_, err := store.PutObject(context.Background(), "snapshots/x.json", "application/json", strings.NewReader(`[]`))
	require.Error(t, err)
}

func TestConfigValidation(t *testing.T) {
	t.Parallel()

	_, err := New(context.Background(), Config{})
	require.Error(t, err)
	_, err = NewWithClient(nil, Config{Bucket: "b"})
	require.Error(t, err)

	_, err = store(t).PutObject(context.Background(), "", "", strings.NewReader(""))
	require.Error(t, err)
}

func store(t *testing.T) *BlobStore {
	t.Helper()
	return newTestStore(t, Config{Bucket: "b"}, http.NotFoundHandler())
}
