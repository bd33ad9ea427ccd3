package rag

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"

	"github.com/Yates-Labs/tfguard/internal/config"
)

// embeddingsHandler answers /embeddings requests with one 3-d vector per input, in input order.
func embeddingsHandler(t *testing.T, check func(r *http.Request)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if check != nil {
			check(r)
		}

		var body struct {
			Input []string `json:"input"`
			Model string   `json:"model"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))

		data := make([]map[string]any, len(body.Input))
		for i, text := range body.Input {
			data[i] = map[string]any{
				"object":    "embedding",
				"index":     i,
				"embedding": []float64{float64(len(text)), float64(i), 1},
			}
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"object": "list",
			"data":   data,
			"model":  body.Model,
			"usage":  map[string]int{"prompt_tokens": 1, "total_tokens": 1},
		})
	}
}

func errorHandler(status int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(`{"error":{"message":"request failed","type":"test_error"}}`))
	}
}

func testOpenAIConfig(endpoint string) config.ProviderConfig {
	return config.ProviderConfig{
		Provider: config.ProviderOpenAI,
		APIKey:   "test-key",
		Endpoint: endpoint,
		Model:    "text-embedding-3-small",
	}
}

func TestNewOpenAIEmbedder_MissingAPIKey(t *testing.T) {
	cfg := testOpenAIConfig("")
	cfg.APIKey = ""

	_, err := NewOpenAIEmbedder(cfg)
	assert.ErrorIs(t, err, ErrMissingAPIKey)
}

func TestNewAzureEmbedder_RequiresEndpoint(t *testing.T) {
	_, err := NewAzureEmbedder(config.ProviderConfig{APIKey: "k", Model: "ada"})
	assert.ErrorIs(t, err, config.ErrMissingRequired)
}

func TestOpenAIEmbedder_EmptyTexts(t *testing.T) {
	embedder, err := NewOpenAIEmbedder(testOpenAIConfig("http://127.0.0.1:0"))
	require.NoError(t, err)

	_, err = embedder.Embed(context.Background(), []string{})
	assert.ErrorIs(t, err, ErrEmptyTexts)
}

func TestOpenAIEmbedder_Embed(t *testing.T) {
	ts := httptest.NewServer(embeddingsHandler(t, func(r *http.Request) {
		assert.Equal(t, "/embeddings", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
	}))
	defer ts.Close()

	embedder, err := NewOpenAIEmbedder(testOpenAIConfig(ts.URL))
	require.NoError(t, err)

	texts := []string{"hello world", "resource"}
	records, err := embedder.Embed(context.Background(), texts)
	require.NoError(t, err)
	require.Len(t, records, 2)

	for i, record := range records {
		assert.Equal(t, texts[i], record.Text)
		assert.Equal(t, i, record.Index)
		assert.Equal(t, "text-embedding-3-small", record.Model)
		assert.Equal(t, []float32{float32(len(texts[i])), float32(i), 1}, record.Embedding)
	}
}

func TestAzureEmbedder_Embed(t *testing.T) {
	ts := httptest.NewServer(embeddingsHandler(t, func(r *http.Request) {
		assert.Equal(t, "/openai/deployments/ada-deploy/embeddings", r.URL.Path)
		assert.Equal(t, "2023-05-15", r.URL.Query().Get("api-version"))
		assert.Equal(t, "azure-key", r.Header.Get("Api-Key"))
	}))
	defer ts.Close()

	embedder, err := NewAzureEmbedder(config.ProviderConfig{
		Provider:   config.ProviderAzure,
		APIKey:     "azure-key",
		Endpoint:   ts.URL,
		Model:      "ada-deploy",
		APIVersion: "2023-05-15",
	})
	require.NoError(t, err)

	vec, err := EmbedOne(context.Background(), embedder, "abc")
	require.NoError(t, err)
	assert.Equal(t, []float32{3, 0, 1}, vec)
}

func TestOpenAIEmbedder_ErrorClassification(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   error
	}{
		{"unauthorized", http.StatusUnauthorized, ErrAuthentication},
		{"forbidden", http.StatusForbidden, ErrAuthentication},
		{"rate limited", http.StatusTooManyRequests, ErrRateLimited},
		{"bad request", http.StatusBadRequest, ErrEmbeddingFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := httptest.NewServer(errorHandler(tt.status))
			defer ts.Close()

			embedder, err := NewOpenAIEmbedder(testOpenAIConfig(ts.URL))
			require.NoError(t, err)

			_, err = embedder.Embed(context.Background(), []string{"x"})
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestOpenAIEmbedder_MalformedResponse(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		// One embedding for two inputs
		_, _ = w.Write([]byte(`{"object":"list","model":"m","data":[{"object":"embedding","index":0,"embedding":[0.1,0.2]}],"usage":{"prompt_tokens":1,"total_tokens":1}}`))
	}))
	defer ts.Close()

	embedder, err := NewOpenAIEmbedder(testOpenAIConfig(ts.URL))
	require.NoError(t, err)

	_, err = embedder.Embed(context.Background(), []string{"a", "b"})
	assert.ErrorIs(t, err, ErrMalformedResponse)
}

func TestOpenAIEmbedder_Live(t *testing.T) {
	// Skip if no API key
	if os.Getenv("OPENAI_API_KEY") == "" || testing.Short() {
		t.Skip("OPENAI_API_KEY not set")
	}

	embedder, err := NewOpenAIEmbedder(config.ProviderConfig{
		APIKey: os.Getenv("OPENAI_API_KEY"),
		Model:  "text-embedding-3-small",
	})
	require.NoError(t, err)

	records, err := embedder.Embed(context.Background(), []string{"resource \"aws_s3_bucket\" \"logs\" {}"})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Len(t, records[0].Embedding, 1536)
}

func TestGeminiEmbedder_Embed(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, ":batchEmbedContents"), r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"embeddings": []map[string]any{
				{"values": []float32{0.1, 0.2, 0.3}},
				{"values": []float32{0.4, 0.5, 0.6}},
			},
		})
	}))
	defer ts.Close()

	ctx := context.Background()
	embedder, err := NewGeminiEmbedder(ctx, config.ProviderConfig{
		Provider: config.ProviderGemini,
		APIKey:   "gemini-key",
		Model:    "gemini-embedding-001",
	}, option.WithEndpoint(ts.URL))
	require.NoError(t, err)
	defer embedder.Close()

	records, err := embedder.Embed(ctx, []string{"a", "b"})
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, []float32{0.4, 0.5, 0.6}, records[1].Embedding)
	assert.Equal(t, "gemini-embedding-001", records[0].Model)
	assert.Equal(t, 0, embedder.GetDimension())
}

func TestGeminiEmbedder_RejectsDimension(t *testing.T) {
	_, err := NewGeminiEmbedder(context.Background(), config.ProviderConfig{
		Provider:  config.ProviderGemini,
		APIKey:    "gemini-key",
		Model:     "gemini-embedding-001",
		Dimension: 256,
	})
	assert.ErrorIs(t, err, config.ErrInvalid)
}

func TestGeminiEmbedder_MissingAPIKey(t *testing.T) {
	_, err := NewGeminiEmbedder(context.Background(), config.ProviderConfig{Model: "gemini-embedding-001"})
	assert.ErrorIs(t, err, ErrMissingAPIKey)
}
