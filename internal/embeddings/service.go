package embeddings

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// ServiceConfig holds configuration for the TEI-compatible HTTP provider.
type ServiceConfig struct {
	// BaseURL is the base URL of the embedding API.
	BaseURL string

	// Model is the embedding model identifier, reported for metrics.
	Model string

	// Dimension is the model's output vector length.
	Dimension int

	// Timeout bounds a single HTTP request. Default: 30s. A caller
	// context with an earlier deadline still wins.
	Timeout time.Duration

	// Logger is optional.
	Logger *zap.Logger
}

// Validate validates the configuration.
func (c ServiceConfig) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("%w: base URL required", ErrInvalidConfig)
	}
	if c.Dimension <= 0 {
		return fmt.Errorf("%w: dimension must be positive", ErrInvalidConfig)
	}
	return nil
}

// Service embeds text via a text-embeddings-inference compatible HTTP API.
//
// Failures and timeouts surface as ErrUnavailable; embedding is free of side
// effects, so callers retry at their own discretion.
type Service struct {
	config  ServiceConfig
	client  *http.Client
	metrics *Metrics
}

// NewService creates a Service with the given configuration.
func NewService(config ServiceConfig) (*Service, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}
	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		config:  config,
		client:  &http.Client{Timeout: config.Timeout},
		metrics: NewMetrics(logger),
	}, nil
}

// teiRequest is the request body for the TEI embed endpoint.
type teiRequest struct {
	Inputs   any  `json:"inputs"`
	Truncate bool `json:"truncate"`
}

// EmbedQuery embeds a single query text.
func (s *Service) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vectors, err := s.embed(ctx, "embed_query", []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedDocuments embeds a batch of texts.
func (s *Service) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	return s.embed(ctx, "embed_documents", texts)
}

func (s *Service) embed(ctx context.Context, operation string, texts []string) (_ [][]float32, genErr error) {
	start := time.Now()
	defer func() {
		s.metrics.RecordGeneration(ctx, s.config.Model, operation, time.Since(start), len(texts), genErr)
	}()

	if len(texts) == 0 {
		genErr = fmt.Errorf("%w: texts cannot be empty", ErrEmptyInput)
		return nil, genErr
	}
	for i, text := range texts {
		if text == "" {
			genErr = fmt.Errorf("%w: text at index %d is empty", ErrEmptyInput, i)
			return nil, genErr
		}
	}

	body, err := json.Marshal(teiRequest{Inputs: texts, Truncate: true})
	if err != nil {
		genErr = fmt.Errorf("marshaling request: %w", err)
		return nil, genErr
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.config.BaseURL+"/embed", bytes.NewReader(body))
	if err != nil {
		genErr = fmt.Errorf("building request: %w", err)
		return nil, genErr
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		genErr = fmt.Errorf("%w: %v", ErrUnavailable, err)
		return nil, genErr
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		genErr = fmt.Errorf("%w: status %d: %s", ErrUnavailable, resp.StatusCode, msg)
		return nil, genErr
	}

	var vectors [][]float32
	if err := json.NewDecoder(resp.Body).Decode(&vectors); err != nil {
		genErr = fmt.Errorf("%w: decoding response: %v", ErrUnavailable, err)
		return nil, genErr
	}
	if len(vectors) != len(texts) {
		genErr = fmt.Errorf("%w: got %d vectors for %d texts", ErrUnavailable, len(vectors), len(texts))
		return nil, genErr
	}
	for i, v := range vectors {
		if len(v) != s.config.Dimension {
			genErr = fmt.Errorf("%w: vector %d has dimension %d, want %d", ErrUnavailable, i, len(v), s.config.Dimension)
			return nil, genErr
		}
	}
	return vectors, nil
}

// Dimension returns the configured output dimension.
func (s *Service) Dimension() int { return s.config.Dimension }

// Close is a no-op for the HTTP provider.
func (s *Service) Close() error { return nil }

var _ Provider = (*Service)(nil)
