package rag

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/Yates-Labs/tfguard/internal/config"
)

// GeminiEmbedder implements the Embedder interface using Google's Gemini embedding models.
type GeminiEmbedder struct {
	client    *genai.Client
	model   string
	timeout time.Duration
}

// NewGeminiEmbedder creates a Gemini embedder. Extra client options are appended after the API key.
func NewGeminiEmbedder(ctx context.Context, cfg config.ProviderConfig, opts ...option.ClientOption) (*GeminiEmbedder, error) {
	if cfg.APIKey == "" {
		return nil, ErrMissingAPIKey
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("%w: embedding model", config.ErrMissingRequired)
	}
	if cfg.Dimension != 0 {
		return nil, fmt.Errorf("%w: gemini embeddings do not take a dimension", config.ErrInvalid)
	}

	opts = append([]option.ClientOption{option.WithAPIKey(cfg.APIKey)}, opts...)
	client, err := genai.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
	}

	return &GeminiEmbedder{client: client, model: cfg.Model, timeout: cfg.Timeout}, nil
}

func (g *GeminiEmbedder) GetModel() string { return g.model }

// GetDimension returns 0: Gemini always answers with the model's native size.
func (g *GeminiEmbedder) GetDimension() int { return 0 }

// Embed sends all texts in one batchEmbedContents call.
func (g *GeminiEmbedder) Embed(ctx context.Context, texts []string) ([]EmbeddingRecord, error) {
	if len(texts) == 0 {
		return nil, ErrEmptyTexts
	}

	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	em := g.client.EmbeddingModel(g.model)
	batch := em.NewBatch()
	for _, t := range texts {
		batch.AddContent(genai.Text(t))
	}

	res, err := em.BatchEmbedContents(ctx, batch)
	if err != nil {
		return nil, classifyGeminiError(err)
	}
	if res == nil || len(res.Embeddings) != len(texts) {
		got := 0
		if res != nil {
			got = len(res.Embeddings)
		}
		return nil, fmt.Errorf("%w: sent %d texts, received %d embeddings", ErrMalformedResponse, len(texts), got)
	}

	records := make([]EmbeddingRecord, len(texts))
	for i, e := range res.Embeddings {
		if e == nil || len(e.Values) == 0 {
			return nil, fmt.Errorf("%w: empty embedding at index %d", ErrMalformedResponse, i)
		}
		records[i] = EmbeddingRecord{
			Text:      texts[i],
			Embedding: e.Values,
			Index:     i,
			Model:     g.model,
		}
	}

	return records, nil
}

// Close releases the underlying client.
func (g *GeminiEmbedder) Close() error {
	return g.client.Close()
}

func classifyGeminiError(err error) error {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case http.StatusUnauthorized, http.StatusForbidden:
			return fmt.Errorf("%w: %v", ErrAuthentication, err)
		case http.StatusTooManyRequests:
			return fmt.Errorf("%w: %v", ErrRateLimited, err)
		}
	}
	return fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
}
