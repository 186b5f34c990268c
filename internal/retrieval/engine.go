// Package retrieval orchestrates embedding, predicate construction and the
// filtered nearest-neighbor query into the final ranked answer set that
// grounds SQL generation.
package retrieval

import (
	"context"
	"crypto/sha256"
	"errors"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/fathomlabs/groundsql/internal/embeddings"
	"github.com/fathomlabs/groundsql/internal/policy"
	"github.com/fathomlabs/groundsql/internal/store"
	"github.com/fathomlabs/groundsql/internal/visibility"
)

var tracer = otel.Tracer("groundsql.retrieval")

// minCandidateLimit floors the over-fetch so post-filtering (deduplication)
// does not starve a small top-K.
const minCandidateLimit = 50

// Request describes one retrieval call.
type Request struct {
	// Query is the natural-language question to ground.
	Query string

	// DatabaseType scopes the search to one dialect.
	DatabaseType store.DatabaseType

	// TenantID is the requesting tenant; empty means the policy default.
	TenantID string

	// IncludeShared widens visibility to shared knowledge when the
	// policy enables it.
	IncludeShared bool

	// K is the number of items to return.
	K int
}

// Engine is the retrieval engine. It is safe for concurrent use: the policy
// is immutable and the store and embedder manage their own synchronization.
type Engine struct {
	store    store.Store
	embedder embeddings.Embedder
	policy   policy.Policy
	logger   *zap.Logger

	// retryBackoff is the pause before the single retry of a transient
	// embedding or storage failure.
	retryBackoff time.Duration
}

// Option configures an Engine.
type Option func(*Engine)

// WithRetryBackoff overrides the pause before the single transient-failure
// retry. Mostly for tests.
func WithRetryBackoff(d time.Duration) Option {
	return func(e *Engine) { e.retryBackoff = d }
}

// NewEngine creates an Engine.
func NewEngine(s store.Store, embedder embeddings.Embedder, pol policy.Policy, logger *zap.Logger, opts ...Option) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Engine{
		store:        s,
		embedder:     embedder,
		policy:       pol,
		logger:       logger,
		retryBackoff: 200 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Retrieve returns the top-K visible items nearest to the query, ascending
// by cosine distance.
//
// Error kinds callers can branch on: store.ErrInvalidRequest and
// policy.ErrTenantNotAllowed are caller errors and final;
// embeddings.ErrUnavailable and store.ErrStorage are transient and already
// retried once here, so further retries are the caller's choice. A caller
// timeout propagates through ctx and aborts both external calls.
func (e *Engine) Retrieve(ctx context.Context, req Request) ([]store.Match, error) {
	ctx, span := tracer.Start(ctx, "Engine.Retrieve")
	defer span.End()

	span.SetAttributes(
		attribute.String("database_type", string(req.DatabaseType)),
		attribute.Int("k", req.K),
		attribute.Bool("include_shared", req.IncludeShared),
	)

	if err := validateRequest(req); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	// Predicate construction is pure; do it before paying for the
	// embedding so allow-list rejections are cheap.
	vis, err := visibility.Build(req.DatabaseType, req.TenantID, req.IncludeShared, e.policy)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	var vector []float32
	err = e.withRetry(ctx, func() error {
		var embErr error
		vector, embErr = e.embedder.EmbedQuery(ctx, req.Query)
		return embErr
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	candidateLimit := req.K * 4
	if candidateLimit < minCandidateLimit {
		candidateLimit = minCandidateLimit
	}

	var matches []store.Match
	err = e.withRetry(ctx, func() error {
		var qErr error
		matches, qErr = e.store.Nearest(ctx, vector, candidateLimit, vis)
		return qErr
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	matches = dedupe(matches)
	if len(matches) > req.K {
		matches = matches[:req.K]
	}

	span.SetAttributes(attribute.Int("results", len(matches)))
	span.SetStatus(codes.Ok, "success")

	e.logger.Debug("retrieved training items",
		zap.String("database_type", string(req.DatabaseType)),
		zap.Int("k", req.K),
		zap.Int("results", len(matches)),
	)
	return matches, nil
}

func validateRequest(req Request) error {
	if strings.TrimSpace(req.Query) == "" {
		return &store.InvalidRequestError{Field: "query", Reason: "query text is required"}
	}
	if req.K < 1 {
		return &store.InvalidRequestError{Field: "k", Reason: "k must be at least 1"}
	}
	return nil
}

// withRetry runs op and retries once after a backoff if the failure is
// transient. Both retried operations are free of side effects.
func (e *Engine) withRetry(ctx context.Context, op func() error) error {
	err := op()
	if err == nil || !retryable(err) {
		return err
	}
	select {
	case <-ctx.Done():
		return err
	case <-time.After(e.retryBackoff):
	}
	if retryErr := op(); retryErr == nil {
		return nil
	}
	// Report the original failure; the retry outcome rarely differs.
	return err
}

func retryable(err error) bool {
	return errors.Is(err, embeddings.ErrUnavailable) || errors.Is(err, store.ErrStorage)
}

// dedupe drops near-identical duplicates of the same logical item, keeping
// the first (closest) occurrence. Inserting the same fact twice is not
// expected, but it must not crowd out distinct results. Best effort only.
func dedupe(matches []store.Match) []store.Match {
	seen := make(map[[sha256.Size]byte]struct{}, len(matches))
	out := matches[:0]
	for _, m := range matches {
		key := sha256.Sum256([]byte(string(m.Item.Kind) + "\x00" + canonicalContent(m.Item.Content)))
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, m)
	}
	return out
}

// canonicalContent normalizes whitespace so trivially re-serialized copies
// hash identically.
func canonicalContent(content string) string {
	return strings.Join(strings.Fields(content), " ")
}
