package coverindex_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coverscan/internal/coverindex"
	"coverscan/internal/feature"
	"coverscan/internal/index"
)

type bookKeys []string

func (b bookKeys) Keys(context.Context) ([]string, error) { return b, nil }

type syncFixture struct {
	dir     string
	idx     *index.Flat
	checker *coverindex.Checker
}

// newSyncFixture lays out every kind of drift:
//   - 0201633612: book row only
//   - 0306406152: book row, cover and embedding
//   - 2889539210: book row and cover, embedding lost
//   - house-special, broken: covers with no book row or embedding
//   - ghost: embedding only
func newSyncFixture(t *testing.T) *syncFixture {
	t.Helper()
	dir := t.TempDir()
	writeFile(t, dir, "0306406152.jpg", coverPNG(t, 30))
	writeFile(t, dir, "9782889539215.png", coverPNG(t, 200))
	writeFile(t, dir, "house-special.jpeg", coverPNG(t, 120))
	writeFile(t, dir, "broken.jpg", []byte("not an image"))

	ext := feature.NewDescriptor()
	idx := index.NewFlat(ext.Dimension())
	b := coverindex.NewBuilder(ext, idx, nil)
	ctx := context.Background()
	_, err := b.IndexFile(ctx, filepath.Join(dir, "0306406152.jpg"))
	require.NoError(t, err)
	require.NoError(t, idx.Insert(ctx, "ghost", make([]float32, ext.Dimension())))

	books := bookKeys{"0201633612", "0306406152", "2889539210"}
	return &syncFixture{dir: dir, idx: idx, checker: coverindex.NewChecker(books, idx, b, nil)}
}

func TestChecker_Check(t *testing.T) {
	f := newSyncFixture(t)

	d, err := f.checker.Check(context.Background(), f.dir)
	require.NoError(t, err)
	assert.False(t, d.Clean())
	assert.Equal(t, []string{"0201633612", "2889539210"}, d.MissingEmbedding)
	assert.Equal(t, []string{"0201633612"}, d.MissingCover)
	assert.Equal(t, []string{"broken", "house-special"}, d.OrphanCover)
	assert.Equal(t, []string{"2889539210", "broken", "house-special"}, d.UnindexedCover)
	assert.Equal(t, []string{"ghost"}, d.OrphanEmbedding)
	assert.Empty(t, d.Reindexed)

	// Check never writes.
	n, err := f.idx.Len(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestChecker_Repair(t *testing.T) {
	f := newSyncFixture(t)
	ctx := context.Background()

	d, err := f.checker.Repair(ctx, f.dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"2889539210", "house-special"}, d.Reindexed)
	assert.Equal(t, []string{"ghost"}, d.Removed)
	assert.Equal(t, []string{"broken"}, d.RepairFailed)

	after, err := f.checker.Check(ctx, f.dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"0201633612"}, after.MissingEmbedding)
	assert.Equal(t, []string{"broken"}, after.UnindexedCover)
	assert.Empty(t, after.OrphanEmbedding)
}

func TestChecker_CleanStores(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "0306406152.jpg", coverPNG(t, 30))

	ext := feature.NewDescriptor()
	idx := index.NewFlat(ext.Dimension())
	b := coverindex.NewBuilder(ext, idx, nil)
	_, err := b.Build(context.Background(), dir, false)
	require.NoError(t, err)

	d, err := coverindex.NewChecker(bookKeys{"0306406152"}, idx, b, nil).Check(context.Background(), dir)
	require.NoError(t, err)
	assert.True(t, d.Clean())
}

type failingKeys struct{}

func (failingKeys) Keys(context.Context) ([]string, error) { return nil, errors.New("pq: connection refused") }

func TestChecker_BookStoreDown(t *testing.T) {
	ext := feature.NewDescriptor()
	idx := index.NewFlat(ext.Dimension())
	c := coverindex.NewChecker(failingKeys{}, idx, coverindex.NewBuilder(ext, idx, nil), nil)

	_, err := c.Check(context.Background(), t.TempDir())
	assert.ErrorContains(t, err, "list books")
}
