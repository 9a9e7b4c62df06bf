package weaviate_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coverscan/internal/adapter/weaviate"
	"coverscan/internal/testutils"
)

func TestWeaviateIndex_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	s := testutils.NewIntegrationSuite(t)
	s.Setup()
	defer s.Teardown()

	idx := weaviate.NewIndex(s.Weaviate, 3)
	ctx := context.Background()

	require.NoError(t, idx.EnsureSchema(ctx))

	require.NoError(t, idx.Insert(ctx, "near", []float32{0.1, 0, 0}))
	require.NoError(t, idx.Insert(ctx, "far", []float32{0.9, 0.9, 0.9}))
	require.NoError(t, idx.Insert(ctx, "near", []float32{0.1, 0, 0}))

	n, err := idx.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	got, err := idx.Query(ctx, []float32{0, 0, 0}, 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "near", got[0].ISBN)
	assert.InDelta(t, 0.1, got[0].Distance, 1e-3)

	require.NoError(t, idx.Remove(ctx, "near"))
	require.NoError(t, idx.Remove(ctx, "near"))
	ok, err := idx.Contains(ctx, "near")
	require.NoError(t, err)
	assert.False(t, ok)
}
