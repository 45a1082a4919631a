package ingest

import (
	"context"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omnidex-search/omnidex/internal/errors"
)

func TestFetcher_HTTP(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "omnidex-crawler/1.0", r.Header.Get("User-Agent"))
		_, _ = w.Write([]byte("page body"))
	}))
	defer srv.Close()

	f := NewFetcher(100, time.Second)
	data, err := f.Fetch(context.Background(), srv.URL+"/page")
	require.NoError(t, err)
	assert.Equal(t, []byte("page body"), data)
}

func TestFetcher_HTTPNotFoundIsPermanent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	f := NewFetcher(100, time.Second)
	_, err := f.Fetch(context.Background(), srv.URL+"/missing")
	require.Error(t, err)
	assert.False(t, errors.IsRetryable(err))
}

func TestFetcher_HTTPServerErrorIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "oops", http.StatusBadGateway)
	}))
	defer srv.Close()

	f := NewFetcher(100, time.Second)
	_, err := f.Fetch(context.Background(), srv.URL+"/flaky")
	require.Error(t, err)
	assert.True(t, errors.IsRetryable(err))
}

func TestFetcher_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "doc.txt")
	require.NoError(t, os.WriteFile(path, []byte("local content"), 0o644))

	f := NewFetcher(100, time.Second)
	data, err := f.Fetch(context.Background(), "file://"+path)
	require.NoError(t, err)
	assert.Equal(t, []byte("local content"), data)

	_, err = f.Fetch(context.Background(), "file://"+filepath.Join(t.TempDir(), "absent"))
	require.Error(t, err)
	assert.False(t, errors.IsRetryable(err))
}

func TestFetcher_DataURI(t *testing.T) {
	f := NewFetcher(100, time.Second)
	encoded := base64.StdEncoding.EncodeToString([]byte("inline bytes"))

	data, err := f.Fetch(context.Background(), "data:application/octet-stream;base64,"+encoded)
	require.NoError(t, err)
	assert.Equal(t, []byte("inline bytes"), data)

	_, err = f.Fetch(context.Background(), "data:text/plain,not-base64")
	assert.Error(t, err)
}

func TestFetcher_UnsupportedScheme(t *testing.T) {
	f := NewFetcher(100, time.Second)
	_, err := f.Fetch(context.Background(), "ftp://example.com/file")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrInvalidPayload))
}
