package training

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fathomlabs/groundsql/internal/embeddings"
	"github.com/fathomlabs/groundsql/internal/policy"
	"github.com/fathomlabs/groundsql/internal/store"
)

func multiTenantPolicy() policy.Policy {
	return policy.Policy{
		MultiTenantEnabled:     true,
		DefaultTenantID:        "acme",
		AllowedTenants:         []string{"acme", "globex"},
		SharedKnowledgeEnabled: true,
	}
}

func newGateway(t *testing.T, pol policy.Policy) (*Gateway, *store.MemoryStore) {
	t.Helper()
	s := store.NewMemoryStore(nil)
	return NewGateway(s, embeddings.NewDeterministic(16), pol, nil), s
}

func schemaRequest(tenantID string) Request {
	return Request{
		Kind:         store.KindSchema,
		Content:      "CREATE TABLE orders (id INT)",
		DatabaseType: store.DatabasePostgres,
		TenantID:     tenantID,
	}
}

func TestTrain_TagsEffectiveTenant(t *testing.T) {
	ctx := context.Background()
	g, s := newGateway(t, multiTenantPolicy())

	id, err := g.Train(ctx, schemaRequest("globex"))
	require.NoError(t, err)

	item, err := s.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "globex", item.TenantID)
	assert.NotEmpty(t, item.Vector)
	assert.False(t, item.CreatedAt.IsZero())
}

func TestTrain_DefaultTenantWhenUnspecified(t *testing.T) {
	ctx := context.Background()
	g, s := newGateway(t, multiTenantPolicy())

	id, err := g.Train(ctx, schemaRequest(""))
	require.NoError(t, err)

	item, err := s.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "acme", item.TenantID)
}

func TestTrain_SharedFlagWinsOverTenant(t *testing.T) {
	ctx := context.Background()
	g, s := newGateway(t, multiTenantPolicy())

	req := schemaRequest("acme")
	req.Shared = true
	id, err := g.Train(ctx, req)
	require.NoError(t, err)

	item, err := s.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, policy.SharedTenantID, item.TenantID)
}

func TestTrain_SharedRequiresPolicy(t *testing.T) {
	pol := multiTenantPolicy()
	pol.SharedKnowledgeEnabled = false
	g, _ := newGateway(t, pol)

	req := schemaRequest("acme")
	req.Shared = true
	_, err := g.Train(context.Background(), req)
	assert.ErrorIs(t, err, store.ErrInvalidRequest)
}

func TestTrain_AllowListRejection(t *testing.T) {
	ctx := context.Background()
	g, s := newGateway(t, multiTenantPolicy())

	_, err := g.Train(ctx, schemaRequest("initech"))
	require.Error(t, err)
	assert.ErrorIs(t, err, policy.ErrTenantNotAllowed)

	// Nothing was written.
	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.Total)
}

func TestTrain_SingleTenantLeavesTagEmpty(t *testing.T) {
	ctx := context.Background()
	g, s := newGateway(t, policy.Policy{})

	id, err := g.Train(ctx, schemaRequest("ignored"))
	require.NoError(t, err)

	item, err := s.Get(ctx, id)
	require.NoError(t, err)
	assert.Empty(t, item.TenantID)
}

func TestTrain_QuestionRequiredForQueryExamples(t *testing.T) {
	g, _ := newGateway(t, policy.Policy{})

	req := Request{
		Kind:         store.KindQueryExample,
		Content:      "SELECT count(*) FROM orders",
		DatabaseType: store.DatabasePostgres,
	}
	_, err := g.Train(context.Background(), req)
	assert.ErrorIs(t, err, store.ErrInvalidRequest)

	req.Question = "how many orders are there"
	_, err = g.Train(context.Background(), req)
	assert.NoError(t, err)
}

func TestTrain_ValidatesContentAndTags(t *testing.T) {
	g, _ := newGateway(t, policy.Policy{})
	ctx := context.Background()

	empty := schemaRequest("")
	empty.Content = ""
	_, err := g.Train(ctx, empty)
	assert.ErrorIs(t, err, store.ErrInvalidRequest)

	badKind := schemaRequest("")
	badKind.Kind = "note"
	_, err = g.Train(ctx, badKind)
	assert.ErrorIs(t, err, store.ErrInvalidRequest)

	badDB := schemaRequest("")
	badDB.DatabaseType = "oracle"
	_, err = g.Train(ctx, badDB)
	assert.ErrorIs(t, err, store.ErrInvalidRequest)
}

func TestTrain_EmbedsQuestionForQueryExamples(t *testing.T) {
	ctx := context.Background()
	embedder := embeddings.NewDeterministic(16)
	s := store.NewMemoryStore(nil)
	g := NewGateway(s, embedder, policy.Policy{}, nil)

	id, err := g.Train(ctx, Request{
		Kind:         store.KindQueryExample,
		Content:      "SELECT count(*) FROM orders",
		Question:     "how many orders are there",
		DatabaseType: store.DatabasePostgres,
	})
	require.NoError(t, err)

	item, err := s.Get(ctx, id)
	require.NoError(t, err)

	want, err := embedder.EmbedQuery(ctx, "how many orders are there")
	require.NoError(t, err)
	assert.Equal(t, want, item.Vector)
}

func TestTrainBatch(t *testing.T) {
	ctx := context.Background()
	g, s := newGateway(t, multiTenantPolicy())

	reqs := make([]Request, 0, 3)
	for i := 0; i < 3; i++ {
		req := schemaRequest("acme")
		req.Content = fmt.Sprintf("CREATE TABLE t%d (id INT)", i)
		reqs = append(reqs, req)
	}

	results, err := g.TrainBatch(ctx, reqs)
	require.NoError(t, err)
	require.Len(t, results, 3)
	for i, r := range results {
		assert.Equal(t, i, r.Index)
		assert.NoError(t, r.Err)
		assert.NotEmpty(t, r.ID)
	}

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Total)
}

func TestTrainBatch_ValidationAbortsBeforeAnyWrite(t *testing.T) {
	ctx := context.Background()
	g, s := newGateway(t, multiTenantPolicy())

	bad := schemaRequest("acme")
	bad.Content = ""
	_, err := g.TrainBatch(ctx, []Request{schemaRequest("acme"), bad})
	assert.ErrorIs(t, err, store.ErrInvalidRequest)

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.Total)
}

func TestTrainBatch_RejectsEmptyBatch(t *testing.T) {
	g, _ := newGateway(t, policy.Policy{})
	_, err := g.TrainBatch(context.Background(), nil)
	assert.ErrorIs(t, err, store.ErrInvalidRequest)
}

func TestRemove_OwnerDeletes(t *testing.T) {
	ctx := context.Background()
	g, s := newGateway(t, multiTenantPolicy())

	id, err := g.Train(ctx, schemaRequest("acme"))
	require.NoError(t, err)

	require.NoError(t, g.Remove(ctx, id, "acme"))

	_, err = s.Get(ctx, id)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestRemove_CrossTenantDenied(t *testing.T) {
	ctx := context.Background()
	g, s := newGateway(t, multiTenantPolicy())

	id, err := g.Train(ctx, schemaRequest("acme"))
	require.NoError(t, err)

	err = g.Remove(ctx, id, "globex")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAccessDenied)

	var denied *AccessDeniedError
	require.True(t, errors.As(err, &denied))
	assert.Equal(t, "acme", denied.Owner)
	assert.Equal(t, "globex", denied.Requesting)

	// The item is untouched.
	_, err = s.Get(ctx, id)
	assert.NoError(t, err)
}

func TestRemove_SharedKnowledgeProtected(t *testing.T) {
	ctx := context.Background()
	g, s := newGateway(t, multiTenantPolicy())

	req := schemaRequest("acme")
	req.Shared = true
	id, err := g.Train(ctx, req)
	require.NoError(t, err)

	err = g.Remove(ctx, id, "acme")
	assert.ErrorIs(t, err, ErrAccessDenied)

	_, err = s.Get(ctx, id)
	assert.NoError(t, err)
}

func TestRemove_UnknownID(t *testing.T) {
	g, _ := newGateway(t, multiTenantPolicy())
	err := g.Remove(context.Background(), "missing", "acme")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestRemove_RequiresID(t *testing.T) {
	g, _ := newGateway(t, multiTenantPolicy())
	err := g.Remove(context.Background(), "", "acme")
	assert.ErrorIs(t, err, store.ErrInvalidRequest)
}

func TestRemove_AllowListChecked(t *testing.T) {
	ctx := context.Background()
	g, _ := newGateway(t, multiTenantPolicy())

	id, err := g.Train(ctx, schemaRequest("acme"))
	require.NoError(t, err)

	err = g.Remove(ctx, id, "initech")
	assert.ErrorIs(t, err, policy.ErrTenantNotAllowed)
}

func TestRemove_SingleTenantIgnoresOwnership(t *testing.T) {
	ctx := context.Background()
	g, s := newGateway(t, policy.Policy{})

	id, err := g.Train(ctx, schemaRequest(""))
	require.NoError(t, err)

	require.NoError(t, g.Remove(ctx, id, ""))
	_, err = s.Get(ctx, id)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestList_ScopedToTenant(t *testing.T) {
	ctx := context.Background()
	g, _ := newGateway(t, multiTenantPolicy())

	_, err := g.Train(ctx, schemaRequest("acme"))
	require.NoError(t, err)
	_, err = g.Train(ctx, schemaRequest("globex"))
	require.NoError(t, err)
	shared := schemaRequest("acme")
	shared.Shared = true
	_, err = g.Train(ctx, shared)
	require.NoError(t, err)

	items, err := g.List(ctx, store.DatabasePostgres, "acme", true)
	require.NoError(t, err)
	require.Len(t, items, 2)
	for _, item := range items {
		assert.NotEqual(t, "globex", item.TenantID)
	}

	items, err = g.List(ctx, store.DatabasePostgres, "acme", false)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "acme", items[0].TenantID)
}

// unsupportingStore hides the memory store's enumeration capability.
type unsupportingStore struct{ store.Store }

func TestList_UnsupportedBackend(t *testing.T) {
	g := NewGateway(unsupportingStore{store.NewMemoryStore(nil)}, embeddings.NewDeterministic(16), policy.Policy{}, nil)

	_, err := g.List(context.Background(), store.DatabasePostgres, "", false)
	assert.ErrorIs(t, err, errors.ErrUnsupported)
}
