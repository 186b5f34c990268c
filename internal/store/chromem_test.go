package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newChromemTestStore(t *testing.T, path string) *ChromemStore {
	t.Helper()
	s, err := NewChromemStore(ChromemConfig{Path: path}, nil)
	require.NoError(t, err)
	return s
}

func TestChromemStore_InsertAndGet(t *testing.T) {
	ctx := context.Background()
	s := newChromemTestStore(t, "")

	item := newItem("CREATE TABLE orders (id INT)", DatabasePostgres, "acme", []float32{1, 0, 0})
	item.Question = ""
	id, err := s.Insert(ctx, item)
	require.NoError(t, err)

	got, err := s.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "CREATE TABLE orders (id INT)", got.Content)
	assert.Equal(t, DatabasePostgres, got.DatabaseType)
	assert.Equal(t, "acme", got.TenantID)
	assert.Equal(t, KindSchema, got.Kind)
	assert.False(t, got.CreatedAt.IsZero())

	_, err = s.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestChromemStore_QuestionRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newChromemTestStore(t, "")

	item := &TrainingItem{
		Content:      "SELECT count(*) FROM orders",
		Question:     "how many orders are there",
		Kind:         KindQueryExample,
		DatabaseType: DatabasePostgres,
		TenantID:     "acme",
		Vector:       []float32{1, 0, 0},
	}
	id, err := s.Insert(ctx, item)
	require.NoError(t, err)

	got, err := s.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "how many orders are there", got.Question)
	assert.Equal(t, KindQueryExample, got.Kind)
}

func TestChromemStore_InsertRejectsDuplicateID(t *testing.T) {
	ctx := context.Background()
	s := newChromemTestStore(t, "")

	item := newItem("a", DatabasePostgres, "acme", []float32{1, 0, 0})
	item.ID = "fixed"
	_, err := s.Insert(ctx, item)
	require.NoError(t, err)

	dup := newItem("b", DatabasePostgres, "acme", []float32{0, 1, 0})
	dup.ID = "fixed"
	_, err = s.Insert(ctx, dup)
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestChromemStore_NearestTenantIsolation(t *testing.T) {
	ctx := context.Background()
	s := newChromemTestStore(t, "")

	_, err := s.Insert(ctx, newItem("own", DatabasePostgres, "acme", []float32{1, 0, 0}))
	require.NoError(t, err)
	_, err = s.Insert(ctx, newItem("common", DatabasePostgres, "shared", []float32{0.9, 0.1, 0}))
	require.NoError(t, err)
	_, err = s.Insert(ctx, newItem("foreign", DatabasePostgres, "globex", []float32{1, 0, 0}))
	require.NoError(t, err)
	_, err = s.Insert(ctx, newItem("wrong dialect", DatabaseMySQL, "acme", []float32{1, 0, 0}))
	require.NoError(t, err)

	vis := Visibility{DatabaseType: DatabasePostgres, Tenants: []string{"acme", "shared"}}
	matches, err := s.Nearest(ctx, []float32{1, 0, 0}, 10, vis)
	require.NoError(t, err)
	require.Len(t, matches, 2)
	for _, m := range matches {
		assert.True(t, vis.Matches(m.Item.DatabaseType, m.Item.TenantID))
	}
	// Own exact match ranks above the shared neighbor.
	assert.Equal(t, "own", matches[0].Item.Content)
	assert.LessOrEqual(t, matches[0].Distance, matches[1].Distance)
}

func TestChromemStore_NearestEmptyCollection(t *testing.T) {
	ctx := context.Background()
	s := newChromemTestStore(t, "")

	matches, err := s.Nearest(ctx, []float32{1, 0, 0}, 5, Visibility{DatabaseType: DatabasePostgres})
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestChromemStore_Delete(t *testing.T) {
	ctx := context.Background()
	s := newChromemTestStore(t, "")

	id, err := s.Insert(ctx, newItem("a", DatabasePostgres, "acme", []float32{1, 0, 0}))
	require.NoError(t, err)

	deleted, err := s.Delete(ctx, id)
	require.NoError(t, err)
	assert.True(t, deleted)

	deleted, err = s.Delete(ctx, id)
	require.NoError(t, err)
	assert.False(t, deleted)
}

func TestChromemStore_PersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	s := newChromemTestStore(t, dir)
	id, err := s.Insert(ctx, newItem("durable", DatabasePostgres, "acme", []float32{1, 0, 0}))
	require.NoError(t, err)
	require.NoError(t, s.Close())

	reopened := newChromemTestStore(t, dir)
	got, err := reopened.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "durable", got.Content)
}
