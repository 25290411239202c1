package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ragqa/internal/domain"
)

// embeddingServer answers /embeddings with a two-dimensional vector whose
// first component is the input length, so tests can check ordering.
func embeddingServer(t *testing.T, calls *atomic.Int32) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, "/embeddings", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req struct {
			Model string   `json:"model"`
			Input []string `json:"input"`
		}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "text-embedding-3-small", req.Model)

		type item struct {
			Index     int       `json:"index"`
			Embedding []float64 `json:"embedding"`
		}
		data := make([]item, len(req.Input))
		// Reverse the order on the wire; the client must sort by index.
		for i, in := range req.Input {
			data[len(req.Input)-1-i] = item{Index: i, Embedding: []float64{float64(len(in)), 1}}
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"data": data})
	}))
}

func newTestClient(t *testing.T, url string, batch int) *Client {
	t.Helper()
	c, err := NewClient(Config{BaseURL: url, APIKey: "test-key", Dimension: 2, BatchSize: batch, Concurrency: 2})
	require.NoError(t, err)
	return c
}

func TestNewClient_MissingKey(t *testing.T) {
	t.Setenv("RAGQA_TEST_EMPTY_KEY", "")
	_, err := NewClient(Config{APIKeyEnv: "RAGQA_TEST_EMPTY_KEY"})
	assert.ErrorIs(t, err, domain.ErrConfiguration)
}

func TestNewClient_KeyFromEnv(t *testing.T) {
	t.Setenv("RAGQA_TEST_KEY", "from-env")
	c, err := NewClient(Config{APIKeyEnv: "RAGQA_TEST_KEY", Dimension: 1536})
	require.NoError(t, err)
	assert.Equal(t, "from-env", c.apiKey)
	assert.Equal(t, 1536, c.Dimension())
	assert.Equal(t, "openai", c.Name())
}

func TestClient_Embed(t *testing.T) {
	var calls atomic.Int32
	srv := embeddingServer(t, &calls)
	defer srv.Close()

	c := newTestClient(t, srv.URL, 8)
	v, err := c.Embed(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, []float64{5, 1}, v)
	assert.EqualValues(t, 1, calls.Load())
}

func TestClient_EmbedBatchPreservesOrder(t *testing.T) {
	var calls atomic.Int32
	srv := embeddingServer(t, &calls)
	defer srv.Close()

	c := newTestClient(t, srv.URL, 2)
	texts := []string{"a", "bb", "ccc", "dddd", "eeeee"}
	vecs, err := c.EmbedBatch(context.Background(), texts)
	require.NoError(t, err)
	require.Len(t, vecs, len(texts))
	for i, text := range texts {
		assert.Equal(t, float64(len(text)), vecs[i][0])
	}
	// 5 inputs in batches of 2.
	assert.EqualValues(t, 3, calls.Load())
}

func TestClient_EmbedBatchEmpty(t *testing.T) {
	c := newTestClient(t, "http://127.0.0.1:0", 2)
	vecs, err := c.EmbedBatch(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, vecs)
}

func TestClient_OllamaShape(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"embedding":[0.5,0.25]}`))
	}))
	defer srv.Close()

	v, err := newTestClient(t, srv.URL, 4).Embed(context.Background(), "x")
	require.NoError(t, err)
	assert.Equal(t, []float64{0.5, 0.25}, v)
}

func TestClient_FailuresAreProviderErrors(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"quota", func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, `{"error":"quota"}`, http.StatusTooManyRequests)
		}},
		{"server error", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}},
		{"malformed json", func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"data": [`))
		}},
		{"wrong count", func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"data": []}`))
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				calls.Add(1)
				tt.handler(w, r)
			}))
			defer srv.Close()

			_, err := newTestClient(t, srv.URL, 4).Embed(context.Background(), "x")
			require.Error(t, err)
			var pe *domain.ProviderError
			require.ErrorAs(t, err, &pe)
			assert.Equal(t, "openai", pe.Provider)
			assert.Equal(t, "embeddings", pe.Op)
			// No retries.
			assert.EqualValues(t, 1, calls.Load())
		})
	}
}
