package rag

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/azure"
	"github.com/openai/openai-go/option"

	"github.com/Yates-Labs/tfguard/internal/config"
)

// Common errors for embedding operations
var (
	ErrEmptyTexts        = errors.New("no texts provided for embedding")
	ErrMissingAPIKey     = errors.New("embedding API key not set")
	ErrEmbeddingFailed   = errors.New("embedding generation failed")
	ErrAuthentication    = errors.New("embedding provider rejected credentials")
	ErrRateLimited       = errors.New("embedding provider rate limit exceeded")
	ErrMalformedResponse = errors.New("malformed embedding response")
)

// EmbeddingRecord represents a single text embedding with metadata
type EmbeddingRecord struct {
	Text      string    `json:"text"`
	Embedding []float32 `json:"embedding"`
	Index     int       `json:"index"`
	Model     string    `json:"model"`
}

// Embedder defines the interface for generating text embeddings
type Embedder interface {
	// Embed generates embeddings for the provided texts, aligned by index
	Embed(ctx context.Context, texts []string) ([]EmbeddingRecord, error)

	// GetModel returns the embedding model identifier
	GetModel() string

	// GetDimension returns the embedding vector dimension (0 means provider default)
	GetDimension() int
}

// EmbedOne embeds a single text.
func EmbedOne(ctx context.Context, e Embedder, text string) ([]float32, error) {
	records, err := e.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(records) != 1 || len(records[0].Embedding) == 0 {
		return nil, fmt.Errorf("%w: expected 1 embedding, got %d", ErrMalformedResponse, len(records))
	}
	return records[0].Embedding, nil
}

// OpenAIEmbedder implements the Embedder interface using the OpenAI embeddings API.
// The same client serves Azure OpenAI deployments.
type OpenAIEmbedder struct {
	client    openai.Client
	model     string
	dimension int
}

// NewOpenAIEmbedder creates an embedder for api.openai.com or any OpenAI-compatible base URL.
func NewOpenAIEmbedder(cfg config.ProviderConfig, opts ...option.RequestOption) (*OpenAIEmbedder, error) {
	if cfg.APIKey == "" {
		return nil, ErrMissingAPIKey
	}

	base := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0), // retries are handled by ResilientEmbedder
	}
	if cfg.Endpoint != "" {
		base = append(base, option.WithBaseURL(withTrailingSlash(cfg.Endpoint)))
	}

	return newOpenAIEmbedder(cfg, append(base, opts...))
}

// NewAzureEmbedder creates an embedder for an Azure OpenAI deployment.
// cfg.Model is the deployment name.
func NewAzureEmbedder(cfg config.ProviderConfig, opts ...option.RequestOption) (*OpenAIEmbedder, error) {
	if cfg.APIKey == "" {
		return nil, ErrMissingAPIKey
	}
	if cfg.Endpoint == "" || cfg.APIVersion == "" {
		return nil, fmt.Errorf("%w: azure endpoint and api version are required", config.ErrMissingRequired)
	}

	base := []option.RequestOption{
		azure.WithEndpoint(cfg.Endpoint, cfg.APIVersion),
		azure.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}

	return newOpenAIEmbedder(cfg, append(base, opts...))
}

func newOpenAIEmbedder(cfg config.ProviderConfig, opts []option.RequestOption) (*OpenAIEmbedder, error) {
	if cfg.Model == "" {
		return nil, fmt.Errorf("%w: embedding model", config.ErrMissingRequired)
	}
	if cfg.Timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(cfg.Timeout))
	}

	return &OpenAIEmbedder{
		client:    openai.NewClient(opts...),
		model:     cfg.Model,
		dimension: cfg.Dimension,
	}, nil
}

// GetModel returns the embedding model identifier
func (e *OpenAIEmbedder) GetModel() string {
	return e.model
}

// GetDimension returns the embedding vector dimension
func (e *OpenAIEmbedder) GetDimension() int {
	return e.dimension
}

// Embed generates embeddings for the provided texts using OpenAI's API
func (e *OpenAIEmbedder) Embed(ctx context.Context, texts []string) ([]EmbeddingRecord, error) {
	if len(texts) == 0 {
		return nil, ErrEmptyTexts
	}

	params := openai.EmbeddingNewParams{
		Input: openai.EmbeddingNewParamsInputUnion{
			OfArrayOfStrings: texts,
		},
		Model:          e.model,
		EncodingFormat: openai.EmbeddingNewParamsEncodingFormatFloat,
	}
	if e.dimension > 0 {
		params.Dimensions = openai.Int(int64(e.dimension))
	}

	resp, err := e.client.Embeddings.New(ctx, params)
	if err != nil {
		return nil, classifyOpenAIError(err)
	}

	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("%w: sent %d texts, received %d embeddings", ErrMalformedResponse, len(texts), len(resp.Data))
	}

	records := make([]EmbeddingRecord, len(texts))
	seen := make([]bool, len(texts))
	for _, data := range resp.Data {
		idx := int(data.Index)
		if idx < 0 || idx >= len(texts) || seen[idx] {
			return nil, fmt.Errorf("%w: unexpected embedding index %d", ErrMalformedResponse, idx)
		}
		if len(data.Embedding) == 0 {
			return nil, fmt.Errorf("%w: empty embedding at index %d", ErrMalformedResponse, idx)
		}
		seen[idx] = true

		// Convert []float64 to []float32
		embedding := make([]float32, len(data.Embedding))
		for j, val := range data.Embedding {
			embedding[j] = float32(val)
		}

		records[idx] = EmbeddingRecord{
			Text:      texts[idx],
			Embedding: embedding,
			Index:     idx,
			Model:     e.model,
		}
	}

	return records, nil
}

// classifyOpenAIError maps API failures onto the embedding error kinds.
func classifyOpenAIError(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case http.StatusUnauthorized, http.StatusForbidden:
			return fmt.Errorf("%w: %v", ErrAuthentication, err)
		case http.StatusTooManyRequests:
			return fmt.Errorf("%w: %v", ErrRateLimited, err)
		}
	}
	return fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
}

func withTrailingSlash(u string) string {
	if strings.HasSuffix(u, "/") {
		return u
	}
	return u + "/"
}
