package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noWait(t *testing.T) *[]time.Duration {
	t.Helper()

	var waited []time.Duration
	original := wait
	wait = func(ctx context.Context, d time.Duration) error {
		waited = append(waited, d)
		return ctx.Err()
	}
	t.Cleanup(func() { wait = original })

	return &waited
}

func TestEmbedTextsOrdersByIndex(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/embeddings", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))

		var req request
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, []string{"first", "second"}, req.Input)
		assert.Equal(t, "test-model", req.Model)

		_, _ = w.Write([]byte(`{"data":[{"index":1,"embedding":[0,1]},{"index":0,"embedding":[1,0]}]}`))
	}))
	defer server.Close()

	c, err := NewClient(Config{BaseURL: server.URL + "/v1/", APIKey: " secret ", Model: "test-model"}, nil)
	require.NoError(t, err)

	vectors, err := c.EmbedTexts(context.Background(), []string{"first", "second"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{1, 0}, {0, 1}}, vectors)
}

func TestEmbedTextsAcceptsOllamaShape(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"embedding":[0.5,0.5]}`))
	}))
	defer server.Close()

	c, err := NewClient(Config{BaseURL: server.URL}, nil)
	require.NoError(t, err)

	vectors, err := c.EmbedTexts(context.Background(), []string{"only"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{0.5, 0.5}}, vectors)
}

func TestEmbedTextsRetriesRateLimit(t *testing.T) {
	waited := noWait(t)

	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After", "2")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte(`{"data":[{"index":0,"embedding":[1,2]}]}`))
	}))
	defer server.Close()

	c, err := NewClient(Config{BaseURL: server.URL}, nil)
	require.NoError(t, err)

	vectors, err := c.EmbedTexts(context.Background(), []string{"text"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{1, 2}}, vectors)
	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, []time.Duration{2 * time.Second}, *waited)
}

func TestEmbedTextsDoesNotRetryClientErrors(t *testing.T) {
	noWait(t)

	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	c, err := NewClient(Config{BaseURL: server.URL}, nil)
	require.NoError(t, err)

	_, err = c.EmbedTexts(context.Background(), []string{"text"})
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestEmbedTextsGivesUpAfterMaxRetries(t *testing.T) {
	waited := noWait(t)

	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	c, err := NewClient(Config{BaseURL: server.URL, MaxRetries: 2}, nil)
	require.NoError(t, err)

	_, err = c.EmbedTexts(context.Background(), []string{"text"})
	require.Error(t, err)
	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, []time.Duration{200 * time.Millisecond, 400 * time.Millisecond}, *waited)
}

func TestEmbedTextsRejectsMisalignedResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":[{"index":0,"embedding":[1]}]}`))
	}))
	defer server.Close()

	c, err := NewClient(Config{BaseURL: server.URL}, nil)
	require.NoError(t, err)

	_, err = c.EmbedTexts(context.Background(), []string{"a", "b"})
	assert.ErrorContains(t, err, "has 1 items, want 2")
}

func TestRetryDelay(t *testing.T) {
	tests := []struct {
		attempt int
		expect  time.Duration
	}{
		{attempt: -1, expect: 200 * time.Millisecond},
		{attempt: 0, expect: 200 * time.Millisecond},
		{attempt: 3, expect: 1600 * time.Millisecond},
		{attempt: 5, expect: 5 * time.Second},
		{attempt: 40, expect: 5 * time.Second},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expect, retryDelay(tt.attempt))
	}
}
