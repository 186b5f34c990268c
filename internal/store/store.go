package store

import (
	"context"
	"math"
	"sort"

	"github.com/fathomlabs/groundsql/internal/policy"
)

// Visibility is the push-down predicate restricting which items a similarity
// query may rank. Matches is pure and safe for concurrent use; the exported
// fields let backends translate the same predicate into their native filter
// (index buckets, chromem where-clauses, Qdrant filter conditions) so it is
// evaluated before or during distance computation, never only after
// truncating to top-K.
type Visibility struct {
	// DatabaseType must match the item's tag exactly.
	DatabaseType DatabaseType

	// Tenants is the set of tenant tags an item may carry, typically the
	// effective tenant plus the shared sentinel. Empty means the tenant
	// tag is ignored entirely (single-tenant mode).
	Tenants []string
}

// Matches reports whether an item tagged (databaseType, tenantID) is visible
// under this predicate.
func (v Visibility) Matches(databaseType DatabaseType, tenantID string) bool {
	if databaseType != v.DatabaseType {
		return false
	}
	if len(v.Tenants) == 0 {
		return true
	}
	for _, t := range v.Tenants {
		if t == tenantID {
			return true
		}
	}
	return false
}

// Store is the durable, queryable collection of training items.
//
// Implementations must provide atomic Insert (partial writes never visible)
// and a consistent read view: a Nearest call observes at least every insert
// that completed before the call started. Items are immutable once stored,
// so no further locking discipline is imposed on callers.
type Store interface {
	// Insert persists the item and returns its id, assigning ID and
	// CreatedAt when unset. Fails with ErrInvalidRequest on a malformed
	// item and ErrStorage on I/O failure.
	Insert(ctx context.Context, item *TrainingItem) (string, error)

	// Nearest returns up to limit items visible under vis, ordered by
	// ascending cosine distance to vector, ties broken by CreatedAt
	// descending then ID. Fails with ErrStorage if the store is
	// unreachable.
	Nearest(ctx context.Context, vector []float32, limit int, vis Visibility) ([]Match, error)

	// Delete removes an item by id. It reports false when the id does not
	// exist and fails with ErrStorage on I/O failure.
	Delete(ctx context.Context, id string) (bool, error)

	// Get fetches an item by id, or ErrNotFound.
	Get(ctx context.Context, id string) (*TrainingItem, error)

	// Close releases backend resources.
	Close() error
}

// Lister is implemented by backends that can enumerate items under a
// visibility predicate. Used for training-data listings; network backends
// without a cheap scan may omit it.
type Lister interface {
	List(ctx context.Context, vis Visibility) ([]TrainingItem, error)
}

// StatsProvider is implemented by backends that can summarize the corpus by
// database type and tenant.
type StatsProvider interface {
	Stats(ctx context.Context) (*Stats, error)
}

// CosineDistance returns 1 - cosine similarity of a and b, accumulating in
// float64 for stability. Vectors need not be normalized. A zero-magnitude
// vector is maximally distant from everything.
func CosineDistance(a, b []float32) float32 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var dot, na, nb float64
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 1
	}
	return float32(1 - dot/math.Sqrt(na*nb))
}

// sortMatches orders matches by ascending distance, then CreatedAt
// descending (prefer newer), then ID for full determinism.
func sortMatches(matches []Match) {
	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Distance != matches[j].Distance {
			return matches[i].Distance < matches[j].Distance
		}
		if !matches[i].Item.CreatedAt.Equal(matches[j].Item.CreatedAt) {
			return matches[i].Item.CreatedAt.After(matches[j].Item.CreatedAt)
		}
		return matches[i].Item.ID < matches[j].Item.ID
	})
}

// sortItemsNewestFirst orders listings by CreatedAt descending, then ID.
func sortItemsNewestFirst(items []TrainingItem) {
	sort.SliceStable(items, func(i, j int) bool {
		if !items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].CreatedAt.After(items[j].CreatedAt)
		}
		return items[i].ID < items[j].ID
	})
}

// validateItem enforces the tag invariants shared by every backend.
func validateItem(item *TrainingItem) error {
	if item == nil {
		return invalidf("item", "item is required")
	}
	if item.Content == "" {
		return invalidf("content", "content is required")
	}
	if !item.Kind.Valid() {
		return invalidf("content_kind", "unknown kind %q", item.Kind)
	}
	if item.Kind == KindQueryExample && item.Question == "" {
		return invalidf("question", "question is required for query examples")
	}
	if !item.DatabaseType.Valid() {
		return invalidf("database_type", "unknown database type %q", item.DatabaseType)
	}
	if len(item.Vector) == 0 {
		return invalidf("vector", "embedding vector is required")
	}
	return nil
}

// validateQuery enforces query-side invariants shared by every backend.
func validateQuery(vector []float32, limit int) error {
	if len(vector) == 0 {
		return invalidf("vector", "query vector is required")
	}
	if limit < 1 {
		return invalidf("limit", "limit must be at least 1, got %d", limit)
	}
	return nil
}

// sharedAware reports whether the predicate admits shared knowledge.
// Backends use it only for tracing attributes.
func sharedAware(vis Visibility) bool {
	for _, t := range vis.Tenants {
		if t == policy.SharedTenantID {
			return true
		}
	}
	return false
}
