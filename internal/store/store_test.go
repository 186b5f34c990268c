package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestVisibilityMatches(t *testing.T) {
	tests := []struct {
		name         string
		vis          Visibility
		databaseType DatabaseType
		tenantID     string
		want         bool
	}{
		{
			name:         "database type mismatch always invisible",
			vis:          Visibility{DatabaseType: DatabasePostgres, Tenants: []string{"acme"}},
			databaseType: DatabaseMySQL,
			tenantID:     "acme",
			want:         false,
		},
		{
			name:         "empty tenants ignores tenant tag",
			vis:          Visibility{DatabaseType: DatabasePostgres},
			databaseType: DatabasePostgres,
			tenantID:     "anyone",
			want:         true,
		},
		{
			name:         "own tenant visible",
			vis:          Visibility{DatabaseType: DatabasePostgres, Tenants: []string{"acme", "shared"}},
			databaseType: DatabasePostgres,
			tenantID:     "acme",
			want:         true,
		},
		{
			name:         "shared visible when listed",
			vis:          Visibility{DatabaseType: DatabasePostgres, Tenants: []string{"acme", "shared"}},
			databaseType: DatabasePostgres,
			tenantID:     "shared",
			want:         true,
		},
		{
			name:         "foreign tenant invisible",
			vis:          Visibility{DatabaseType: DatabasePostgres, Tenants: []string{"acme", "shared"}},
			databaseType: DatabasePostgres,
			tenantID:     "globex",
			want:         false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.vis.Matches(tt.databaseType, tt.tenantID))
		})
	}
}

func TestCosineDistance(t *testing.T) {
	assert.InDelta(t, 0, CosineDistance([]float32{1, 0}, []float32{1, 0}), 1e-6)
	assert.InDelta(t, 1, CosineDistance([]float32{1, 0}, []float32{0, 1}), 1e-6)
	assert.InDelta(t, 2, CosineDistance([]float32{1, 0}, []float32{-1, 0}), 1e-6)

	// Magnitude does not matter.
	assert.InDelta(t, 0, CosineDistance([]float32{1, 1}, []float32{5, 5}), 1e-6)

	// Zero vectors are maximally distant.
	assert.InDelta(t, 1, CosineDistance([]float32{0, 0}, []float32{1, 0}), 1e-6)
}

func TestSortMatches_Determinism(t *testing.T) {
	older := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	newer := older.Add(time.Hour)

	matches := []Match{
		{Item: TrainingItem{ID: "b", CreatedAt: older}, Distance: 0.5},
		{Item: TrainingItem{ID: "a", CreatedAt: older}, Distance: 0.5},
		{Item: TrainingItem{ID: "c", CreatedAt: newer}, Distance: 0.5},
		{Item: TrainingItem{ID: "d", CreatedAt: older}, Distance: 0.1},
	}
	sortMatches(matches)

	// Closest first, then newer, then lexical id.
	ids := []string{matches[0].Item.ID, matches[1].Item.ID, matches[2].Item.ID, matches[3].Item.ID}
	assert.Equal(t, []string{"d", "c", "a", "b"}, ids)
}

func TestEmbeddedText(t *testing.T) {
	schema := &TrainingItem{Kind: KindSchema, Content: "CREATE TABLE orders (id INT)"}
	assert.Equal(t, schema.Content, schema.EmbeddedText())

	example := &TrainingItem{
		Kind:     KindQueryExample,
		Content:  "SELECT count(*) FROM orders",
		Question: "how many orders are there",
	}
	assert.Equal(t, example.Question, example.EmbeddedText())
}

func TestParseDatabaseType(t *testing.T) {
	for _, d := range DatabaseTypes() {
		got, err := ParseDatabaseType(string(d))
		assert.NoError(t, err)
		assert.Equal(t, d, got)
	}

	_, err := ParseDatabaseType("oracle")
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestValidateItem(t *testing.T) {
	valid := func() *TrainingItem {
		return &TrainingItem{
			Content:      "CREATE TABLE t (id INT)",
			Kind:         KindSchema,
			DatabaseType: DatabasePostgres,
			Vector:       []float32{1, 0},
		}
	}

	assert.NoError(t, validateItem(valid()))

	missingContent := valid()
	missingContent.Content = ""
	assert.ErrorIs(t, validateItem(missingContent), ErrInvalidRequest)

	badKind := valid()
	badKind.Kind = "note"
	assert.ErrorIs(t, validateItem(badKind), ErrInvalidRequest)

	exampleWithoutQuestion := valid()
	exampleWithoutQuestion.Kind = KindQueryExample
	assert.ErrorIs(t, validateItem(exampleWithoutQuestion), ErrInvalidRequest)

	badDatabase := valid()
	badDatabase.DatabaseType = "oracle"
	assert.ErrorIs(t, validateItem(badDatabase), ErrInvalidRequest)

	noVector := valid()
	noVector.Vector = nil
	assert.ErrorIs(t, validateItem(noVector), ErrInvalidRequest)
}
