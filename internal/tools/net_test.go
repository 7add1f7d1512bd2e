package tools

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/olympus-org/olympus/internal/core"
)

func TestNetHTTPGet(t *testing.T) {
	t.Parallel()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "olympus-test", r.Header.Get("X-Probe"))
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte("pong"))
	}))
	defer server.Close()

	r := NewRegistry(testEnv(t))
	out, err := r.Dispatch(context.Background(), "net.http_get", map[string]any{
		"url":     server.URL,
		"headers": map[string]any{"X-Probe": "olympus-test"},
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, server.URL, out["url"])
	assert.Equal(t, 200, out["status"])
	assert.Equal(t, "pong", out["text"])
	headers, ok := out["headers"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, headers["Content-Type"], "text/plain")
	assert.Equal(t, false, out["truncated"])
}

func TestNetHTTPGet_NonHTTPScheme(t *testing.T) {
	t.Parallel()
	r := NewRegistry(testEnv(t))

	_, err := r.Dispatch(context.Background(), "net.http_get",
		map[string]any{"url": "file:///etc/passwd"}, nil)
	require.Error(t, err)
	assert.True(t, core.Terminal(err))
}

func TestNetHTTPGet_ErrorStatusIsData(t *testing.T) {
	t.Parallel()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer server.Close()

	r := NewRegistry(testEnv(t))
	out, err := r.Dispatch(context.Background(), "net.http_get",
		map[string]any{"url": server.URL}, nil)
	require.NoError(t, err)
	assert.Equal(t, 404, out["status"])
}
