package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	chromem "github.com/philippgille/chromem-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

var chromemTracer = otel.Tracer("groundsql.store.chromem")

// Metadata keys used for the chromem and qdrant payloads.
const (
	metaDatabaseType = "database_type"
	metaTenantID     = "tenant_id"
	metaKind         = "kind"
	metaQuestion     = "question"
	metaCreatedAt    = "created_at"
)

// ChromemConfig holds configuration for the embedded chromem-go backend.
type ChromemConfig struct {
	// Path is the directory for persistent storage. Empty means a purely
	// in-memory database.
	Path string

	// Compress enables gzip compression of the persisted gob files.
	Compress bool

	// Collection is the name of the single training collection.
	// Default: "groundsql_training"
	Collection string
}

// ApplyDefaults sets default values for unset fields.
func (c *ChromemConfig) ApplyDefaults() {
	if c.Collection == "" {
		c.Collection = "groundsql_training"
	}
}

// ChromemStore persists training items in chromem-go, an embedded vector
// database with gob-file persistence.
//
// All items live in one collection; visibility is enforced by metadata
// filters that chromem evaluates before ranking. chromem's where-clause is
// conjunctive equality only, so a predicate admitting several tenants is
// decomposed into one filtered query per tenant and the results are merged
// by distance. Each per-tenant query is still a full push-down: foreign
// items never enter its ranking.
type ChromemStore struct {
	db         *chromem.DB
	collection *chromem.Collection
	config     ChromemConfig
	logger     *zap.Logger
}

// NewChromemStore opens (or creates) the training collection.
func NewChromemStore(config ChromemConfig, logger *zap.Logger) (*ChromemStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	config.ApplyDefaults()

	var db *chromem.DB
	if config.Path == "" {
		db = chromem.NewDB()
	} else {
		path, err := expandPath(config.Path)
		if err != nil {
			return nil, fmt.Errorf("%w: expanding path: %v", ErrInvalidConfig, err)
		}
		if err := os.MkdirAll(path, 0o755); err != nil {
			return nil, fmt.Errorf("%w: creating directory %s: %v", ErrStorage, path, err)
		}
		db, err = chromem.NewPersistentDB(path, config.Compress)
		if err != nil {
			return nil, fmt.Errorf("%w: opening chromem DB: %v", ErrStorage, err)
		}
	}

	// Embeddings are always supplied by the caller; the embedding func only
	// exists to satisfy the collection constructor and must never run.
	collection, err := db.GetOrCreateCollection(config.Collection, nil, rejectEmbedding)
	if err != nil {
		return nil, fmt.Errorf("%w: creating collection %s: %v", ErrStorage, config.Collection, err)
	}

	logger.Info("chromem store initialized",
		zap.String("path", config.Path),
		zap.String("collection", config.Collection),
		zap.Int("items", collection.Count()),
	)

	return &ChromemStore{
		db:         db,
		collection: collection,
		config:     config,
		logger:     logger,
	}, nil
}

// rejectEmbedding satisfies chromem's collection constructor. Items always
// carry a precomputed vector, so chromem must never embed on its own.
func rejectEmbedding(ctx context.Context, text string) ([]float32, error) {
	return nil, errors.New("groundsql items must carry a precomputed embedding")
}

// expandPath expands a leading ~ to the home directory.
func expandPath(path string) (string, error) {
	if strings.HasPrefix(path, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, path[1:]), nil
	}
	return path, nil
}

// Insert persists the item as a chromem document with its tags as metadata.
func (s *ChromemStore) Insert(ctx context.Context, item *TrainingItem) (string, error) {
	ctx, span := chromemTracer.Start(ctx, "ChromemStore.Insert")
	defer span.End()

	if err := validateItem(item); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}

	stored := item.Clone()
	if stored.ID == "" {
		stored.ID = uuid.New().String()
	}
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = timeNow().UTC()
	}

	// Retagging via ID reuse would break item immutability.
	if _, err := s.collection.GetByID(ctx, stored.ID); err == nil {
		err := invalidf("id", "item %q already exists", stored.ID)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}

	metadata := map[string]string{
		metaDatabaseType: string(stored.DatabaseType),
		metaTenantID:     stored.TenantID,
		metaKind:         string(stored.Kind),
		metaCreatedAt:    stored.CreatedAt.Format(time.RFC3339Nano),
	}
	if stored.Question != "" {
		metadata[metaQuestion] = stored.Question
	}

	err := s.collection.AddDocument(ctx, chromem.Document{
		ID:        stored.ID,
		Content:   stored.Content,
		Metadata:  metadata,
		Embedding: stored.Vector,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", fmt.Errorf("%w: adding document: %v", ErrStorage, err)
	}

	span.SetAttributes(attribute.String("item_id", stored.ID))
	span.SetStatus(codes.Ok, "inserted")
	return stored.ID, nil
}

// Nearest runs one chromem query per admitted tenant tag (or a single
// database-only query in single-tenant mode) and merges by distance.
func (s *ChromemStore) Nearest(ctx context.Context, vector []float32, limit int, vis Visibility) ([]Match, error) {
	ctx, span := chromemTracer.Start(ctx, "ChromemStore.Nearest")
	defer span.End()

	span.SetAttributes(
		attribute.String("database_type", string(vis.DatabaseType)),
		attribute.Int("limit", limit),
		attribute.Bool("include_shared", sharedAware(vis)),
	)

	if err := validateQuery(vector, limit); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	wheres := make([]map[string]string, 0, len(vis.Tenants)+1)
	if len(vis.Tenants) == 0 {
		wheres = append(wheres, map[string]string{metaDatabaseType: string(vis.DatabaseType)})
	} else {
		for _, tenant := range vis.Tenants {
			wheres = append(wheres, map[string]string{
				metaDatabaseType: string(vis.DatabaseType),
				metaTenantID:     tenant,
			})
		}
	}

	var matches []Match
	for _, where := range wheres {
		// chromem rejects nResults above the collection's document count.
		n := limit
		if count := s.collection.Count(); n > count {
			n = count
		}
		if n == 0 {
			continue
		}
		results, err := s.collection.QueryEmbedding(ctx, vector, n, where, nil)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, fmt.Errorf("%w: querying collection: %v", ErrStorage, err)
		}
		for _, r := range results {
			item, err := itemFromChromem(r.ID, r.Content, r.Metadata, r.Embedding)
			if err != nil {
				s.logger.Warn("skipping malformed stored document",
					zap.String("id", r.ID), zap.Error(err))
				continue
			}
			matches = append(matches, Match{Item: *item, Distance: 1 - r.Similarity})
		}
	}

	sortMatches(matches)
	if len(matches) > limit {
		matches = matches[:limit]
	}

	span.SetAttributes(attribute.Int("results", len(matches)))
	span.SetStatus(codes.Ok, "success")
	return matches, nil
}

// Delete removes the item, reporting false when it was never there.
func (s *ChromemStore) Delete(ctx context.Context, id string) (bool, error) {
	ctx, span := chromemTracer.Start(ctx, "ChromemStore.Delete")
	defer span.End()
	span.SetAttributes(attribute.String("item_id", id))

	if _, err := s.collection.GetByID(ctx, id); err != nil {
		span.SetStatus(codes.Ok, "not found")
		return false, nil
	}
	if err := s.collection.Delete(ctx, nil, nil, id); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return false, fmt.Errorf("%w: deleting document %s: %v", ErrStorage, id, err)
	}
	span.SetStatus(codes.Ok, "deleted")
	return true, nil
}

// Get fetches the item by id, or ErrNotFound.
func (s *ChromemStore) Get(ctx context.Context, id string) (*TrainingItem, error) {
	doc, err := s.collection.GetByID(ctx, id)
	if err != nil {
		return nil, ErrNotFound
	}
	return itemFromChromem(doc.ID, doc.Content, doc.Metadata, doc.Embedding)
}

// Close is a no-op: chromem persists synchronously on write.
func (s *ChromemStore) Close() error { return nil }

// itemFromChromem rebuilds a TrainingItem from a stored document.
func itemFromChromem(id, content string, metadata map[string]string, embedding []float32) (*TrainingItem, error) {
	item := &TrainingItem{
		ID:           id,
		Content:      content,
		Question:     metadata[metaQuestion],
		Kind:         ContentKind(metadata[metaKind]),
		Vector:       embedding,
		DatabaseType: DatabaseType(metadata[metaDatabaseType]),
		TenantID:     metadata[metaTenantID],
	}
	if raw := metadata[metaCreatedAt]; raw != "" {
		createdAt, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return nil, fmt.Errorf("parsing created_at %q: %w", raw, err)
		}
		item.CreatedAt = createdAt
	}
	if !item.DatabaseType.Valid() || !item.Kind.Valid() {
		return nil, fmt.Errorf("document %s has malformed tags", id)
	}
	return item, nil
}

var _ Store = (*ChromemStore)(nil)
