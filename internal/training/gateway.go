// Package training validates and tags new knowledge before it enters the
// item store, and guards the ownership-checked removal path.
package training

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/fathomlabs/groundsql/internal/embeddings"
	"github.com/fathomlabs/groundsql/internal/policy"
	"github.com/fathomlabs/groundsql/internal/store"
	"github.com/fathomlabs/groundsql/internal/visibility"
)

var tracer = otel.Tracer("groundsql.training")

// ErrAccessDenied is returned when a removal fails the ownership check or
// targets shared knowledge. Denied attempts are logged as potential policy
// violations; they are never downgraded to a silent no-op.
var ErrAccessDenied = errors.New("access denied")

// AccessDeniedError carries enough detail for an audit event and a
// human-readable refusal.
type AccessDeniedError struct {
	ID         string
	Owner      string
	Requesting string
}

func (e *AccessDeniedError) Error() string {
	if e.Owner == policy.SharedTenantID {
		return fmt.Sprintf("access denied: item %s is shared knowledge and cannot be removed through this path", e.ID)
	}
	return fmt.Sprintf("access denied: item %s belongs to another tenant", e.ID)
}

func (e *AccessDeniedError) Unwrap() error { return ErrAccessDenied }

// Request describes one piece of knowledge to train.
type Request struct {
	// Kind classifies the content.
	Kind store.ContentKind

	// Content is the schema DDL, documentation note, or SQL text.
	Content string

	// Question is the natural-language question; required for
	// query examples, where it is also the embedded text.
	Question string

	// DatabaseType tags the dialect the item belongs to.
	DatabaseType store.DatabaseType

	// TenantID is the owning tenant; empty means the policy default.
	TenantID string

	// Shared marks the item as shared knowledge for all tenants of the
	// database type. Takes precedence over TenantID.
	Shared bool
}

// BatchResult reports the outcome of one item in a TrainBatch call.
type BatchResult struct {
	// Index is the position of the request in the batch.
	Index int
	// ID is the stored item id on success.
	ID string
	// Err is the per-item insert failure, nil on success.
	Err error
}

// Gateway validates, tags and embeds training requests, then delegates
// persistence to the item store. Safe for concurrent use.
type Gateway struct {
	store    store.Store
	embedder embeddings.Embedder
	policy   policy.Policy
	logger   *zap.Logger
}

// NewGateway creates a Gateway.
func NewGateway(s store.Store, embedder embeddings.Embedder, pol policy.Policy, logger *zap.Logger) *Gateway {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gateway{store: s, embedder: embedder, policy: pol, logger: logger}
}

// Train validates and persists one item, returning its id.
//
// Tagging rules: the shared flag wins over any tenant argument; otherwise
// the effective tenant is the supplied one or the policy default, and must
// pass a non-empty allow-list. Nothing is written when validation or
// embedding fails.
func (g *Gateway) Train(ctx context.Context, req Request) (string, error) {
	ctx, span := tracer.Start(ctx, "Gateway.Train")
	defer span.End()

	span.SetAttributes(
		attribute.String("kind", string(req.Kind)),
		attribute.String("database_type", string(req.DatabaseType)),
		attribute.Bool("shared", req.Shared),
	)

	item, err := g.prepare(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}

	vector, err := g.embedder.EmbedQuery(ctx, item.EmbeddedText())
	if err != nil {
		wrapped := fmt.Errorf("%w: %v", embeddings.ErrUnavailable, err)
		span.RecordError(wrapped)
		span.SetStatus(codes.Error, wrapped.Error())
		return "", wrapped
	}
	item.Vector = vector

	id, err := g.store.Insert(ctx, item)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}

	span.SetAttributes(attribute.String("item_id", id))
	span.SetStatus(codes.Ok, "trained")

	g.logger.Info("trained item",
		zap.String("id", id),
		zap.String("kind", string(item.Kind)),
		zap.String("database_type", string(item.DatabaseType)),
		zap.String("tenant_id", item.TenantID),
	)
	return id, nil
}

// TrainBatch validates and embeds a whole batch up front, then inserts item
// by item. Validation or embedding failure aborts the batch before any
// write; individual insert failures are reported per item so one bad row
// does not discard the rest of a bulk schema load.
func (g *Gateway) TrainBatch(ctx context.Context, reqs []Request) ([]BatchResult, error) {
	ctx, span := tracer.Start(ctx, "Gateway.TrainBatch")
	defer span.End()
	span.SetAttributes(attribute.Int("batch_size", len(reqs)))

	if len(reqs) == 0 {
		return nil, &store.InvalidRequestError{Field: "batch", Reason: "batch is empty"}
	}

	items := make([]*store.TrainingItem, len(reqs))
	texts := make([]string, len(reqs))
	for i, req := range reqs {
		item, err := g.prepare(req)
		if err != nil {
			err = fmt.Errorf("item %d: %w", i, err)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
		items[i] = item
		texts[i] = item.EmbeddedText()
	}

	vectors, err := g.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		wrapped := fmt.Errorf("%w: %v", embeddings.ErrUnavailable, err)
		span.RecordError(wrapped)
		span.SetStatus(codes.Error, wrapped.Error())
		return nil, wrapped
	}
	if len(vectors) != len(items) {
		wrapped := fmt.Errorf("%w: got %d vectors for %d items", embeddings.ErrUnavailable, len(vectors), len(items))
		span.RecordError(wrapped)
		span.SetStatus(codes.Error, wrapped.Error())
		return nil, wrapped
	}

	results := make([]BatchResult, len(items))
	for i, item := range items {
		item.Vector = vectors[i]
		id, insErr := g.store.Insert(ctx, item)
		results[i] = BatchResult{Index: i, ID: id, Err: insErr}
		if insErr != nil {
			g.logger.Warn("batch item insert failed",
				zap.Int("index", i), zap.Error(insErr))
		}
	}

	span.SetStatus(codes.Ok, "batch trained")
	return results, nil
}

// prepare applies the tagging rules and validates the request. It never
// touches the store or the embedder.
func (g *Gateway) prepare(req Request) (*store.TrainingItem, error) {
	if req.Content == "" {
		return nil, &store.InvalidRequestError{Field: "content", Reason: "content is required"}
	}
	if !req.Kind.Valid() {
		return nil, &store.InvalidRequestError{Field: "content_kind", Reason: fmt.Sprintf("unknown kind %q", req.Kind)}
	}
	if req.Kind == store.KindQueryExample && req.Question == "" {
		return nil, &store.InvalidRequestError{Field: "question", Reason: "question is required for query examples"}
	}
	if !req.DatabaseType.Valid() {
		return nil, &store.InvalidRequestError{Field: "database_type", Reason: fmt.Sprintf("unknown database type %q", req.DatabaseType)}
	}

	tenantID := ""
	if g.policy.MultiTenantEnabled {
		if req.Shared {
			tenantID = policy.SharedTenantID
			if !g.policy.SharedKnowledgeEnabled {
				return nil, &store.InvalidRequestError{Field: "is_shared", Reason: "shared knowledge is disabled by policy"}
			}
		} else {
			tenantID = g.policy.Resolve(req.TenantID)
			if err := g.policy.Check(tenantID); err != nil {
				return nil, err
			}
		}
	}

	return &store.TrainingItem{
		Content:      req.Content,
		Question:     req.Question,
		Kind:         req.Kind,
		DatabaseType: req.DatabaseType,
		TenantID:     tenantID,
	}, nil
}

// Remove deletes an item only when the requesting tenant owns it.
//
// Shared items are always refused here: shared knowledge is protected from
// ordinary per-tenant deletion. A cross-tenant attempt is refused and logged
// as a policy violation rather than silently ignored.
func (g *Gateway) Remove(ctx context.Context, id, tenantID string) error {
	ctx, span := tracer.Start(ctx, "Gateway.Remove")
	defer span.End()
	span.SetAttributes(attribute.String("item_id", id))

	if id == "" {
		return &store.InvalidRequestError{Field: "id", Reason: "id is required"}
	}

	requesting := g.policy.Resolve(tenantID)
	if g.policy.MultiTenantEnabled {
		if err := g.policy.Check(requesting); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return err
		}
	}

	item, err := g.store.Get(ctx, id)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	if item.TenantID == policy.SharedTenantID {
		denied := &AccessDeniedError{ID: id, Owner: item.TenantID, Requesting: requesting}
		g.logger.Warn("policy violation: attempted removal of shared knowledge",
			zap.String("id", id),
			zap.String("requesting_tenant", requesting),
		)
		span.RecordError(denied)
		span.SetStatus(codes.Error, denied.Error())
		return denied
	}

	if g.policy.MultiTenantEnabled && item.TenantID != requesting {
		denied := &AccessDeniedError{ID: id, Owner: item.TenantID, Requesting: requesting}
		g.logger.Warn("policy violation: attempted cross-tenant removal",
			zap.String("id", id),
			zap.String("owner_tenant", item.TenantID),
			zap.String("requesting_tenant", requesting),
		)
		span.RecordError(denied)
		span.SetStatus(codes.Error, denied.Error())
		return denied
	}

	deleted, err := g.store.Delete(ctx, id)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	if !deleted {
		// Lost a race with another removal; already gone.
		span.SetStatus(codes.Ok, "already gone")
		return store.ErrNotFound
	}

	span.SetStatus(codes.Ok, "removed")
	g.logger.Info("removed training item",
		zap.String("id", id),
		zap.String("tenant_id", requesting),
	)
	return nil
}

// List enumerates the requesting tenant's visible items, newest first. It
// reuses the retrieval visibility predicate, so it can never show foreign
// items. Backends without enumeration report errors.ErrUnsupported.
func (g *Gateway) List(ctx context.Context, databaseType store.DatabaseType, tenantID string, includeShared bool) ([]store.TrainingItem, error) {
	lister, ok := g.store.(store.Lister)
	if !ok {
		return nil, fmt.Errorf("listing training data: %w", errors.ErrUnsupported)
	}
	vis, err := visibility.Build(databaseType, tenantID, includeShared, g.policy)
	if err != nil {
		return nil, err
	}
	return lister.List(ctx, vis)
}
