// Package embeddings provides the embedding provider contract and its
// implementations: a TEI-compatible HTTP service for real deployments and a
// deterministic stub for reproducible tests.
package embeddings

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
)

var (
	// ErrUnavailable indicates the embedding provider failed or timed out.
	// Embedding has no side effects, so callers may retry with backoff.
	ErrUnavailable = errors.New("embedding provider unavailable")

	// ErrEmptyInput indicates empty or nil input texts.
	ErrEmptyInput = errors.New("empty or nil input texts")

	// ErrInvalidConfig indicates invalid provider configuration.
	ErrInvalidConfig = errors.New("invalid embeddings configuration")
)

// Embedder converts text into fixed-length vectors.
type Embedder interface {
	// EmbedQuery embeds a single query text.
	EmbedQuery(ctx context.Context, text string) ([]float32, error)

	// EmbedDocuments embeds a batch, one vector per input text.
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
}

// Provider is an Embedder with a known output dimension and a lifecycle.
type Provider interface {
	Embedder
	// Dimension returns the output vector length D.
	Dimension() int
	// Close releases provider resources.
	Close() error
}

// Config selects and configures a Provider.
type Config struct {
	// Provider is "tei" or "deterministic".
	Provider string
	// BaseURL is the TEI endpoint (tei provider only).
	BaseURL string
	// Model is the embedding model identifier.
	Model string
	// Dimension is the output vector length.
	Dimension int
}

// NewProvider creates an embedding provider from configuration.
func NewProvider(cfg Config, logger *zap.Logger) (Provider, error) {
	switch cfg.Provider {
	case "tei", "":
		return NewService(ServiceConfig{
			BaseURL:   cfg.BaseURL,
			Model:     cfg.Model,
			Dimension: cfg.Dimension,
			Logger:    logger,
		})
	case "deterministic":
		return NewDeterministic(cfg.Dimension), nil
	default:
		return nil, fmt.Errorf("%w: unknown provider %q", ErrInvalidConfig, cfg.Provider)
	}
}
