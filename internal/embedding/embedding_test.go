package embedding

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcliao/episodic-memory/internal/config"
)

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name     string
		a, b     Vector
		expected float64
		delta    float64
	}{
		{"identical", Vector{1, 0, 0}, Vector{1, 0, 0}, 1.0, 0.001},
		{"orthogonal", Vector{1, 0, 0}, Vector{0, 1, 0}, 0.0, 0.001},
		{"opposite", Vector{1, 0, 0}, Vector{-1, 0, 0}, -1.0, 0.001},
		{"similar", Vector{1, 1, 0}, Vector{1, 0, 0}, 0.707, 0.01},
		{"empty", Vector{}, Vector{}, 0.0, 0.001},
		{"different lengths", Vector{1, 0}, Vector{1, 0, 0}, 0.0, 0.001},
		{"zero vector", Vector{0, 0, 0}, Vector{1, 0, 0}, 0.0, 0.001},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CosineSimilarity(tt.a, tt.b)
			if math.Abs(got-tt.expected) > tt.delta {
				t.Errorf("CosineSimilarity(%v, %v) = %f, want %f (±%f)", tt.a, tt.b, got, tt.expected, tt.delta)
			}
		})
	}
}

func TestNew(t *testing.T) {
	tests := []struct {
		provider string
		wantErr  bool
	}{
		{"", false},
		{"hash", false},
		{"ollama", false},
		{"openai", false},
		{"bogus", true},
	}
	for _, tt := range tests {
		t.Run(tt.provider, func(t *testing.T) {
			e, err := New(config.EmbeddingConfig{Provider: tt.provider})
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, e)
		})
	}
}

func TestNewWrapsCache(t *testing.T) {
	e, err := New(config.EmbeddingConfig{Provider: "hash", Dims: 64, CacheSize: 1 << 20})
	require.NoError(t, err)
	c, ok := e.(*Cached)
	require.True(t, ok)
	defer c.Close()
	assert.Equal(t, 64, c.Dims())
}

func TestNormalizeAndMean(t *testing.T) {
	v := Normalize(Vector{3, 4})
	assert.InDelta(t, 0.6, v[0], 1e-6)
	assert.InDelta(t, 0.8, v[1], 1e-6)

	assert.Equal(t, Vector{0, 0}, Normalize(Vector{0, 0}))
	assert.Nil(t, Mean())
	assert.Equal(t, Vector{2, 1}, Mean(Vector{1, 0}, Vector{3, 2}))
}

func TestHashEmbedder(t *testing.T) {
	ctx := context.Background()
	e := NewHashEmbedder(384)

	a, err := e.Embed(ctx, "my cat's name is Luna")
	require.NoError(t, err)
	b, err := e.Embed(ctx, "My cat's name is Luna")
	require.NoError(t, err)
	assert.Equal(t, a, b, "embedding is case-insensitive and deterministic")
	assert.Len(t, a, 384)
	assert.InDelta(t, 1.0, CosineSimilarity(a, a), 1e-6)

	related, _ := e.Embed(ctx, "my cat's name is Whiskers")
	unrelated, _ := e.Embed(ctx, "quarterly budget forecast spreadsheet")
	assert.Greater(t, CosineSimilarity(a, related), CosineSimilarity(a, unrelated))

	punct, err := e.Embed(ctx, "!!!")
	require.NoError(t, err)
	assert.InDelta(t, 1.0, CosineSimilarity(punct, punct), 1e-6)
}

func TestTokenize(t *testing.T) {
	assert.Equal(t, []string{"my", "cat's", "name", "is", "luna"}, Tokenize("My cat's name is Luna!"))
	assert.Equal(t, []string{"concept", "pet_name", "hi"}, Tokenize("concept pet_name: hi"))
}

type countingEmbedder struct {
	calls int
}

func (c *countingEmbedder) Embed(ctx context.Context, text string) (Vector, error) {
	c.calls++
	return Vector{float32(len(text)), 1}, nil
}

func (c *countingEmbedder) Dims() int { return 2 }

func TestCachedEmbedder(t *testing.T) {
	ctx := context.Background()
	inner := &countingEmbedder{}
	c, err := NewCached(inner, 1<<20)
	require.NoError(t, err)
	defer c.Close()

	v1, err := c.Embed(ctx, "hello")
	require.NoError(t, err)
	c.cache.Wait()

	v2, err := c.Embed(ctx, "hello")
	require.NoError(t, err)
	assert.Equal(t, v1, v2)
	assert.Equal(t, 1, inner.calls)

	// callers may mutate what they get back
	v2[0] = 99
	v3, _ := c.Embed(ctx, "hello")
	assert.Equal(t, float32(5), v3[0])

	hits, _ := c.CacheStats()
	assert.Equal(t, uint64(2), hits)
}

func TestOllamaEmbedder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/embeddings", r.URL.Path)
		var req ollamaRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "all-minilm", req.Model)
		json.NewEncoder(w).Encode(ollamaResponse{Embedding: []float32{3, 4}})
	}))
	defer srv.Close()

	e := NewOllamaEmbedder(srv.URL+"/", "all-minilm", 2)
	assert.Equal(t, 2, e.Dims())
	v, err := e.Embed(context.Background(), "hi")
	require.NoError(t, err)
	assert.InDelta(t, 0.6, v[0], 1e-6)
	assert.InDelta(t, 0.8, v[1], 1e-6)

	assert.Equal(t, 384, NewOllamaEmbedder(srv.URL, "all-minilm", 0).Dims())
	_, err = NewOllamaEmbedder(srv.URL, "all-minilm", 0).Embed(context.Background(), "hi")
	assert.ErrorContains(t, err, "want 384")
}

func TestOpenAIEmbedder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/embeddings", r.URL.Path)
		var req openaiEmbedRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, 2, req.Dimensions)
		w.Write([]byte(`{"data":[{"embedding":[0,2]}]}`))
	}))
	defer srv.Close()

	e := NewOpenAIEmbedder(srv.URL, "", "", 2)
	v, err := e.Embed(context.Background(), "hi")
	require.NoError(t, err)
	assert.Equal(t, Vector{0, 1}, v)
	assert.Equal(t, 1536, NewOpenAIEmbedder(srv.URL, "", "", 0).Dims())
}

func TestOpenAIEmbedderError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte("slow down"))
	}))
	defer srv.Close()

	e := NewOpenAIEmbedder(srv.URL, "sk-test", "", 0)
	_, err := e.Embed(context.Background(), "hi")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
	assert.Contains(t, err.Error(), "slow down")
}
