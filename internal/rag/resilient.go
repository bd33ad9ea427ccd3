package rag

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/time/rate"
)

// ResilientEmbedder wraps an Embedder with client-side rate limiting and
// exponential backoff on provider rate-limit errors. Every other error is returned immediately.
type ResilientEmbedder struct {
	next            Embedder
	limiter         *rate.Limiter
	maxRetries      int
	initialInterval time.Duration
	logger          *slog.Logger
}

// ResilienceOptions tune a ResilientEmbedder.
type ResilienceOptions struct {
	RequestsPerSecond float64       // <= 0 disables rate limiting
	MaxRetries        int           // retries after the first attempt
	InitialInterval   time.Duration // first backoff delay (default 500ms)
	Logger            *slog.Logger
}

// NewResilientEmbedder wraps next.
func NewResilientEmbedder(next Embedder, opts ResilienceOptions) *ResilientEmbedder {
	limit := rate.Inf
	if opts.RequestsPerSecond > 0 {
		limit = rate.Limit(opts.RequestsPerSecond)
	}
	interval := opts.InitialInterval
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &ResilientEmbedder{
		next:            next,
		limiter:         rate.NewLimiter(limit, 1),
		maxRetries:      max(opts.MaxRetries, 0),
		initialInterval: interval,
		logger:          logger,
	}
}

func (r *ResilientEmbedder) GetModel() string { return r.next.GetModel() }

func (r *ResilientEmbedder) GetDimension() int { return r.next.GetDimension() }

// Close closes the wrapped embedder when it holds a client connection.
func (r *ResilientEmbedder) Close() error {
	if c, ok := r.next.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

func (r *ResilientEmbedder) Embed(ctx context.Context, texts []string) ([]EmbeddingRecord, error) {
	attempt := 0
	op := func() ([]EmbeddingRecord, error) {
		attempt++
		if err := r.limiter.Wait(ctx); err != nil {
			return nil, backoff.Permanent(err)
		}

		records, err := r.next.Embed(ctx, texts)
		if err == nil {
			return records, nil
		}
		if errors.Is(err, ErrRateLimited) {
			r.logger.Warn("embedding rate limited", "attempt", attempt, "max_retries", r.maxRetries)
			return nil, err
		}
		return nil, backoff.Permanent(err)
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = r.initialInterval

	b := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(r.maxRetries)), ctx)
	return backoff.RetryWithData(op, b)
}
