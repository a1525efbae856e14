package downloader

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDownload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/model.nmb" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte("payload"))
	}))
	defer srv.Close()

	dir := t.TempDir()
	out := filepath.Join(dir, "model.nmb")
	n, err := Download(context.Background(), srv.URL+"/model.nmb", out)
	require.NoError(t, err)
	assert.Equal(t, int64(7), n)
	b, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(b))

	missing := filepath.Join(dir, "missing.nmb")
	_, err = Download(context.Background(), srv.URL+"/missing.nmb", missing)
	assert.ErrorContains(t, err, "404")
	assert.NoFileExists(t, missing)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no partial files left behind")
}

func TestDownloadCanceled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("x"))
	}))
	defer srv.Close()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Download(ctx, srv.URL, filepath.Join(t.TempDir(), "x"))
	assert.Error(t, err)
}
