package libsearch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(url string, maxRetries int) *Client {
	return NewClient(Config{
		BaseURL:    url,
		NumResults: 5,
		Timeout:    2 * time.Second,
		MaxRetries: maxRetries,
		RetryDelay: 10 * time.Millisecond,
	})
}

func TestSearch(t *testing.T) {
	t.Run("successful query", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodPost, r.Method)
			w.Write([]byte(`[[{"result": {"name": ["Real", "exp"], "informal_description": "the exponential"}}]]`))
		}))
		defer server.Close()

		results, err := newTestClient(server.URL, 0).Search(context.Background(), "exponential function")
		require.NoError(t, err)
		require.Len(t, results, 1)
		assert.Equal(t, "Real.exp", results[0].FullName)
		assert.Equal(t, "the exponential", results[0].Description)
	})

	t.Run("retries server errors then succeeds", func(t *testing.T) {
		var calls atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if calls.Add(1) < 3 {
				w.WriteHeader(http.StatusInternalServerError)
				return
			}
			w.Write([]byte(`[[{"result": {"name": "Real.log"}}]]`))
		}))
		defer server.Close()

		results, err := newTestClient(server.URL, 3).Search(context.Background(), "logarithm")
		require.NoError(t, err)
		require.Len(t, results, 1)
		assert.Equal(t, "Real.log", results[0].FullName)
		assert.Equal(t, int32(3), calls.Load())
	})

	t.Run("exhausted retries degrade to empty", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer server.Close()

		results, err := newTestClient(server.URL, 2).Search(context.Background(), "anything")
		assert.NoError(t, err)
		assert.Empty(t, results)
	})

	t.Run("cancelled context stops retrying", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer server.Close()

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := newTestClient(server.URL, 5).Search(ctx, "anything")
		assert.Error(t, err)
	})
}

func TestParseResults(t *testing.T) {
	t.Run("flat json list", func(t *testing.T) {
		results := ParseResults(`[{"name": "Subgroup.index", "informal_description": "index of a subgroup"}]`)
		require.Len(t, results, 1)
		assert.Equal(t, "Subgroup.index", results[0].FullName)
	})

	t.Run("failed translation falls back to docstring", func(t *testing.T) {
		results := ParseResults(`[{"name": "Foo.bar", "informal_description": "[TRANSLATION_FAILED] x", "docstring": "the bar of a foo"}]`)
		require.Len(t, results, 1)
		assert.Contains(t, results[0].Description, "the bar of a foo")
	})

	t.Run("entries without names dropped", func(t *testing.T) {
		results := ParseResults(`[{"informal_description": "nameless"}, {"name": "Kept.one"}]`)
		require.Len(t, results, 1)
		assert.Equal(t, "Kept.one", results[0].FullName)
	})

	t.Run("text format", func(t *testing.T) {
		raw := "1:\ntheorem Real.add_comm (a b : ℝ) : a + b = b + a\nDistance: 0.12\n\n2:\nnot a declaration\nDistance: 0.50\n"
		results := ParseResults(raw)
		require.Len(t, results, 1)
		assert.Equal(t, "Real.add_comm", results[0].FullName)
	})

	t.Run("garbage yields empty", func(t *testing.T) {
		assert.Empty(t, ParseResults("service temporarily unavailable"))
		assert.Empty(t, ParseResults(""))
	})
}
