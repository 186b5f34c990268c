package embeddings

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeterministic_SameTextSameVector(t *testing.T) {
	ctx := context.Background()
	d := NewDeterministic(32)

	a, err := d.EmbedQuery(ctx, "how many orders shipped last week")
	require.NoError(t, err)
	b, err := d.EmbedQuery(ctx, "how many orders shipped last week")
	require.NoError(t, err)
	assert.Equal(t, a, b)

	c, err := d.EmbedQuery(ctx, "total revenue by region")
	require.NoError(t, err)
	assert.NotEqual(t, a, c)
}

func TestDeterministic_UnitNorm(t *testing.T) {
	d := NewDeterministic(64)
	vec, err := d.EmbedQuery(context.Background(), "some text")
	require.NoError(t, err)
	require.Len(t, vec, 64)

	var sumSq float64
	for _, v := range vec {
		sumSq += float64(v) * float64(v)
	}
	assert.InDelta(t, 1.0, math.Sqrt(sumSq), 1e-5)
}

func TestDeterministic_DefaultDimension(t *testing.T) {
	d := NewDeterministic(0)
	assert.Equal(t, 64, d.Dimension())
}

func TestDeterministic_RejectsEmptyInput(t *testing.T) {
	ctx := context.Background()
	d := NewDeterministic(16)

	_, err := d.EmbedQuery(ctx, "")
	assert.ErrorIs(t, err, ErrEmptyInput)

	_, err = d.EmbedDocuments(ctx, nil)
	assert.ErrorIs(t, err, ErrEmptyInput)

	_, err = d.EmbedDocuments(ctx, []string{"ok", ""})
	assert.ErrorIs(t, err, ErrEmptyInput)
}

func TestDeterministic_BatchMatchesSingle(t *testing.T) {
	ctx := context.Background()
	d := NewDeterministic(16)

	single, err := d.EmbedQuery(ctx, "alpha")
	require.NoError(t, err)

	batch, err := d.EmbedDocuments(ctx, []string{"alpha", "beta"})
	require.NoError(t, err)
	require.Len(t, batch, 2)
	assert.Equal(t, single, batch[0])
}
