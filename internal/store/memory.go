package store

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

var memoryTracer = otel.Tracer("groundsql.store.memory")

// timeNow is a variable so tests can pin the clock.
var timeNow = time.Now

// tagKey is the composite key of the secondary index.
type tagKey struct {
	databaseType DatabaseType
	tenantID     string
}

// MemoryStore is the default backend: an in-process exact cosine scan over
// immutable items, with a secondary index on (database_type, tenant_id) so
// the visibility predicate selects candidate buckets before any distance is
// computed.
//
// Reads and writes may run concurrently; a single RWMutex protects the maps
// and stored items are never mutated after insert.
type MemoryStore struct {
	mu        sync.RWMutex
	items     map[string]*TrainingItem
	byTag     map[tagKey][]string
	dimension int
	logger    *zap.Logger
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore(logger *zap.Logger) *MemoryStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MemoryStore{
		items:  make(map[string]*TrainingItem),
		byTag:  make(map[tagKey][]string),
		logger: logger,
	}
}

// Insert stores a copy of the item. The write is atomic: the item becomes
// visible in both maps under one critical section or not at all.
func (s *MemoryStore) Insert(ctx context.Context, item *TrainingItem) (string, error) {
	_, span := memoryTracer.Start(ctx, "MemoryStore.Insert")
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

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.dimension == 0 {
		s.dimension = len(stored.Vector)
	} else if len(stored.Vector) != s.dimension {
		err := invalidf("vector", "dimension %d does not match store dimension %d", len(stored.Vector), s.dimension)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}
	if _, exists := s.items[stored.ID]; exists {
		err := invalidf("id", "item %q already exists", stored.ID)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}

	key := tagKey{databaseType: stored.DatabaseType, tenantID: stored.TenantID}
	s.items[stored.ID] = stored
	s.byTag[key] = append(s.byTag[key], stored.ID)

	span.SetAttributes(attribute.String("item_id", stored.ID))
	span.SetStatus(codes.Ok, "inserted")

	s.logger.Debug("inserted training item",
		zap.String("id", stored.ID),
		zap.String("database_type", string(stored.DatabaseType)),
		zap.String("tenant_id", stored.TenantID),
		zap.String("kind", string(stored.Kind)),
	)
	return stored.ID, nil
}

// Nearest scans only the index buckets admitted by vis, so invisible items
// never participate in ranking.
func (s *MemoryStore) Nearest(ctx context.Context, vector []float32, limit int, vis Visibility) ([]Match, error) {
	_, span := memoryTracer.Start(ctx, "MemoryStore.Nearest")
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

	s.mu.RLock()
	candidates := s.candidateIDs(vis)
	matches := make([]Match, 0, len(candidates))
	for _, id := range candidates {
		item := s.items[id]
		matches = append(matches, Match{
			Item:     *item.Clone(),
			Distance: CosineDistance(vector, item.Vector),
		})
	}
	s.mu.RUnlock()

	sortMatches(matches)
	if len(matches) > limit {
		matches = matches[:limit]
	}

	span.SetAttributes(attribute.Int("results", len(matches)))
	span.SetStatus(codes.Ok, "success")
	return matches, nil
}

// candidateIDs resolves the predicate against the secondary index.
// Callers must hold at least a read lock.
func (s *MemoryStore) candidateIDs(vis Visibility) []string {
	if len(vis.Tenants) > 0 {
		var ids []string
		for _, tenant := range vis.Tenants {
			ids = append(ids, s.byTag[tagKey{databaseType: vis.DatabaseType, tenantID: tenant}]...)
		}
		return ids
	}
	// Tenant tag ignored: every bucket of the database type qualifies.
	var ids []string
	for key, bucket := range s.byTag {
		if key.databaseType == vis.DatabaseType {
			ids = append(ids, bucket...)
		}
	}
	return ids
}

// Delete removes the item from both maps. Returns false if the id is absent.
func (s *MemoryStore) Delete(ctx context.Context, id string) (bool, error) {
	_, span := memoryTracer.Start(ctx, "MemoryStore.Delete")
	defer span.End()
	span.SetAttributes(attribute.String("item_id", id))

	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.items[id]
	if !ok {
		span.SetStatus(codes.Ok, "not found")
		return false, nil
	}

	key := tagKey{databaseType: item.DatabaseType, tenantID: item.TenantID}
	bucket := s.byTag[key]
	for i, candidate := range bucket {
		if candidate == id {
			s.byTag[key] = append(bucket[:i], bucket[i+1:]...)
			break
		}
	}
	if len(s.byTag[key]) == 0 {
		delete(s.byTag, key)
	}
	delete(s.items, id)

	span.SetStatus(codes.Ok, "deleted")
	return true, nil
}

// Get returns a copy of the stored item or ErrNotFound.
func (s *MemoryStore) Get(ctx context.Context, id string) (*TrainingItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	item, ok := s.items[id]
	if !ok {
		return nil, ErrNotFound
	}
	return item.Clone(), nil
}

// List enumerates every item visible under vis, newest first.
func (s *MemoryStore) List(ctx context.Context, vis Visibility) ([]TrainingItem, error) {
	s.mu.RLock()
	candidates := s.candidateIDs(vis)
	out := make([]TrainingItem, 0, len(candidates))
	for _, id := range candidates {
		out = append(out, *s.items[id].Clone())
	}
	s.mu.RUnlock()

	// Stable, newest-first order for listings.
	sortItemsNewestFirst(out)
	return out, nil
}

// Stats counts items by database type and tenant.
func (s *MemoryStore) Stats(ctx context.Context) (*Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := &Stats{
		Total:          len(s.items),
		ByDatabaseType: make(map[DatabaseType]int),
		ByTenant:       make(map[string]int),
	}
	for key, bucket := range s.byTag {
		stats.ByDatabaseType[key.databaseType] += len(bucket)
		if key.tenantID != "" {
			stats.ByTenant[key.tenantID] += len(bucket)
		}
	}
	return stats, nil
}

// Close is a no-op for the in-process backend.
func (s *MemoryStore) Close() error { return nil }

var (
	_ Store         = (*MemoryStore)(nil)
	_ Lister        = (*MemoryStore)(nil)
	_ StatsProvider = (*MemoryStore)(nil)
)
