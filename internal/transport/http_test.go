package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/modzoo/hubfetch/internal/download"
	"github.com/modzoo/hubfetch/internal/hub"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// rangeServer serves a fixed payload with Range support.
func rangeServer(t *testing.T, payload []byte) *httptest.Server {
	t.Helper()

	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		offset := 0

		if rng := r.Header.Get("Range"); rng != "" {
			var err error

			offset, err = strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(rng, "bytes="), "-"))
			require.NoError(t, err)

			if offset >= len(payload) {
				w.WriteHeader(http.StatusRequestedRangeNotSatisfiable)

				return
			}

			w.Header().Set("Content-Range",
				fmt.Sprintf("bytes %d-%d/%d", offset, len(payload)-1, len(payload)))
			w.WriteHeader(http.StatusPartialContent)
		}

		w.Write(payload[offset:])
	}))
}

func fetchReq(dest string, offset int64, onProgress download.ProgressFunc) download.FetchRequest {
	return download.FetchRequest{
		ResourceID: "acme/llama-7b",
		Revision:   "main",
		File:       download.FileDescriptor{Path: "weights.gguf"},
		Dest:       dest,
		Offset:     offset,
		OnProgress: onProgress,
	}
}

func TestFetch_FullFile(t *testing.T) {
	payload := []byte("the quick brown fox jumps over the lazy dog")
	srv := rangeServer(t, payload)
	defer srv.Close()

	tr := NewHTTP(hub.NewClient(srv.URL, nil))
	dest := filepath.Join(t.TempDir(), "weights.gguf")

	var lastWritten int64

	n, err := tr.Fetch(context.Background(), fetchReq(dest, 0, func(written, total int64) {
		assert.GreaterOrEqual(t, written, lastWritten)
		lastWritten = written
	}))
	require.NoError(t, err)
	assert.Equal(t, int64(len(payload)), n)

	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestFetch_ResumeFromOffset(t *testing.T) {
	payload := []byte("0123456789abcdefghij")
	srv := rangeServer(t, payload)
	defer srv.Close()

	tr := NewHTTP(hub.NewClient(srv.URL, nil))
	require.True(t, tr.SupportsResume())

	dest := filepath.Join(t.TempDir(), "weights.gguf")
	require.NoError(t, os.WriteFile(dest, payload[:8], 0644))

	n, err := tr.Fetch(context.Background(), fetchReq(dest, 8, nil))
	require.NoError(t, err)
	assert.Equal(t, int64(len(payload)), n)

	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestFetch_RangeNotSatisfiableMeansComplete(t *testing.T) {
	payload := []byte("complete")
	srv := rangeServer(t, payload)
	defer srv.Close()

	tr := NewHTTP(hub.NewClient(srv.URL, nil))
	dest := filepath.Join(t.TempDir(), "weights.gguf")
	require.NoError(t, os.WriteFile(dest, payload, 0644))

	n, err := tr.Fetch(context.Background(), fetchReq(dest, int64(len(payload)), nil))
	require.NoError(t, err)
	assert.Equal(t, int64(len(payload)), n)
}

func TestFetch_ServerIgnoresRange(t *testing.T) {
	payload := []byte("full payload only")

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(payload) // plain 200 even for ranged requests
	}))
	defer srv.Close()

	tr := NewHTTP(hub.NewClient(srv.URL, nil))
	dest := filepath.Join(t.TempDir(), "weights.gguf")
	require.NoError(t, os.WriteFile(dest, payload[:5], 0644))

	n, err := tr.Fetch(context.Background(), fetchReq(dest, 5, nil))
	require.NoError(t, err)
	assert.Equal(t, int64(len(payload)), n)

	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestFetch_ErrorMapping(t *testing.T) {
	tests := []struct {
		status    int
		retryable bool
	}{
		{http.StatusUnauthorized, false},
		{http.StatusNotFound, false},
		{http.StatusInternalServerError, true},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			tr := NewHTTP(hub.NewClient(srv.URL, nil))
			dest := filepath.Join(t.TempDir(), "weights.gguf")

			_, err := tr.Fetch(context.Background(), fetchReq(dest, 0, nil))
			require.Error(t, err)
			assert.Equal(t, tt.retryable, download.IsRetryable(err))
		})
	}
}

func TestFetch_CancelledContextKeepsPartialBytes(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	payload := make([]byte, 1<<20)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", strconv.Itoa(len(payload)))
		w.Write(payload[:1024])
		w.(http.Flusher).Flush()

		cancel()
		<-r.Context().Done()
	}))
	defer srv.Close()

	tr := NewHTTP(hub.NewClient(srv.URL, nil))
	dest := filepath.Join(t.TempDir(), "weights.gguf")

	_, err := tr.Fetch(ctx, fetchReq(dest, 0, nil))
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
}
