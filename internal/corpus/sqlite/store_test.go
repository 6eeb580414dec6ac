package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spigell/resume-matcher/internal/corpus"
	"github.com/spigell/resume-matcher/internal/domain"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()

	s, err := Open(context.Background(), Options{
		Path:      filepath.Join(t.TempDir(), "corpus.db"),
		Dimension: 3,
	})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	return s
}

func newDocument(location, hash string, embedding []float32) *domain.Document {
	return &domain.Document{
		Location:       location,
		ContentHash:    hash,
		RawText:        "raw " + location,
		NormalizedText: "normalized " + location,
		Fields:         map[string]any{"full_name": "Jane " + location},
		Embedding:      embedding,
	}
}

func TestUpsertInsertsAndReplacesByLocation(t *testing.T) {
	ctx := context.Background()
	s := setupTestStore(t)

	id, err := s.Upsert(ctx, newDocument("/cv/a.txt", "h1", []float32{1, 0, 0}))
	require.NoError(t, err)

	first, err := s.GetByLocation(ctx, "/cv/a.txt")
	require.NoError(t, err)
	assert.Equal(t, id, first.ID)
	assert.Equal(t, "h1", first.ContentHash)
	assert.Equal(t, "Jane /cv/a.txt", first.Fields["full_name"])
	assert.Equal(t, []float32{1, 0, 0}, first.Embedding)

	again, err := s.Upsert(ctx, newDocument("/cv/a.txt", "h2", []float32{0, 1, 0}))
	require.NoError(t, err)
	assert.Equal(t, id, again, "same location must keep its id")

	second, err := s.GetByLocation(ctx, "/cv/a.txt")
	require.NoError(t, err)
	assert.Equal(t, "h2", second.ContentHash)
	assert.Equal(t, []float32{0, 1, 0}, second.Embedding)
	assert.True(t, second.UpdatedAt.After(first.UpdatedAt), "updated_at must advance on every upsert")

	total, err := s.Count(ctx, domain.CountAll)
	require.NoError(t, err)
	assert.Equal(t, 1, total)
}

func TestUpsertWithoutEmbedding(t *testing.T) {
	ctx := context.Background()
	s := setupTestStore(t)

	_, err := s.Upsert(ctx, newDocument("/cv/a.txt", "h1", nil))
	require.NoError(t, err)

	doc, err := s.GetByLocation(ctx, "/cv/a.txt")
	require.NoError(t, err)
	assert.False(t, doc.HasEmbedding())

	withEmbedding, err := s.Count(ctx, domain.CountWithEmbedding)
	require.NoError(t, err)
	assert.Equal(t, 0, withEmbedding)
}

func TestUpsertRejectsDimensionMismatch(t *testing.T) {
	s := setupTestStore(t)

	_, err := s.Upsert(context.Background(), newDocument("/cv/a.txt", "h1", []float32{1, 0}))
	require.ErrorIs(t, err, domain.ErrDimensionMismatch)
}

func TestOpenRejectsDifferentDimension(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "corpus.db")

	s, err := Open(ctx, Options{Path: path, Dimension: 3})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	_, err = Open(ctx, Options{Path: path, Dimension: 4})
	require.ErrorIs(t, err, domain.ErrDimensionMismatch)

	reopened, err := Open(ctx, Options{Path: path})
	require.NoError(t, err)
	defer reopened.Close()
	assert.Equal(t, 3, reopened.Dimension())
}

func TestFirstEmbeddingRecordsDimension(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "corpus.db")

	s, err := Open(ctx, Options{Path: path})
	require.NoError(t, err)
	assert.Equal(t, 0, s.Dimension())

	_, err = s.Upsert(ctx, newDocument("/cv/none.txt", "h0", nil))
	require.NoError(t, err)
	assert.Equal(t, 0, s.Dimension(), "documents without embeddings must not fix the dimension")

	_, err = s.Upsert(ctx, newDocument("/cv/a.txt", "h1", []float32{1, 0}))
	require.NoError(t, err)
	assert.Equal(t, 2, s.Dimension())

	_, err = s.Upsert(ctx, newDocument("/cv/b.txt", "h2", []float32{1, 0, 0}))
	require.ErrorIs(t, err, domain.ErrDimensionMismatch)

	_, err = s.SimilaritySearch(ctx, []float32{1, 0, 0}, 1, 0)
	require.ErrorIs(t, err, domain.ErrDimensionMismatch)
	require.NoError(t, s.Close())

	_, err = Open(ctx, Options{Path: path, Dimension: 3})
	require.ErrorIs(t, err, domain.ErrDimensionMismatch)

	reopened, err := Open(ctx, Options{Path: path})
	require.NoError(t, err)
	defer reopened.Close()
	assert.Equal(t, 2, reopened.Dimension())
}

func TestExistsAndNotFound(t *testing.T) {
	ctx := context.Background()
	s := setupTestStore(t)

	_, err := s.Upsert(ctx, newDocument("/cv/a.txt", "h1", nil))
	require.NoError(t, err)

	ok, err := s.ExistsByLocation(ctx, "/cv/a.txt")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.ExistsByLocation(ctx, "/cv/missing.txt")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = s.GetByLocation(ctx, "/cv/missing.txt")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = s.Get(ctx, 9999)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = s.FindByContentHash(ctx, "nope")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestFindByContentHashReturnsFirstMatch(t *testing.T) {
	ctx := context.Background()
	s := setupTestStore(t)

	firstID, err := s.Upsert(ctx, newDocument("/cv/a.txt", "same", nil))
	require.NoError(t, err)
	_, err = s.Upsert(ctx, newDocument("/cv/b.txt", "same", nil))
	require.NoError(t, err)

	doc, err := s.FindByContentHash(ctx, "same")
	require.NoError(t, err)
	assert.Equal(t, firstID, doc.ID)
}

func TestSimilaritySearchOrderingAndThreshold(t *testing.T) {
	ctx := context.Background()
	s := setupTestStore(t)

	idA, err := s.Upsert(ctx, newDocument("/cv/a.txt", "a", []float32{1, 0, 0}))
	require.NoError(t, err)
	idB, err := s.Upsert(ctx, newDocument("/cv/b.txt", "b", corpus.Normalize([]float32{1, 1, 0})))
	require.NoError(t, err)
	idC, err := s.Upsert(ctx, newDocument("/cv/c.txt", "c", []float32{1, 0, 0}))
	require.NoError(t, err)
	_, err = s.Upsert(ctx, newDocument("/cv/d.txt", "d", []float32{0, 0, 1}))
	require.NoError(t, err)
	_, err = s.Upsert(ctx, newDocument("/cv/e.txt", "e", nil))
	require.NoError(t, err)

	hits, err := s.SimilaritySearch(ctx, []float32{2, 0, 0}, 10, 0.5)
	require.NoError(t, err)
	require.Len(t, hits, 3)

	assert.Equal(t, idA, hits[0].ID, "ties are broken by ascending id")
	assert.Equal(t, idC, hits[1].ID)
	assert.Equal(t, idB, hits[2].ID)
	assert.InDelta(t, 1.0, hits[0].Similarity, 1e-6)
	assert.InDelta(t, 0.7071, hits[2].Similarity, 1e-3)
	assert.Equal(t, "Jane /cv/a.txt", hits[0].Fields["full_name"])

	for _, hit := range hits {
		assert.GreaterOrEqual(t, hit.Similarity, 0.5)
	}

	top, err := s.SimilaritySearch(ctx, []float32{1, 0, 0}, 1, 0)
	require.NoError(t, err)
	require.Len(t, top, 1)
	assert.Equal(t, idA, top[0].ID)
}

func TestSimilaritySearchValidatesInput(t *testing.T) {
	s := setupTestStore(t)

	_, err := s.SimilaritySearch(context.Background(), []float32{1, 0}, 5, 0)
	assert.ErrorIs(t, err, domain.ErrDimensionMismatch)

	_, err = s.SimilaritySearch(context.Background(), []float32{1, 0, 0}, 0, 0)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestCountPredicates(t *testing.T) {
	ctx := context.Background()
	s := setupTestStore(t)

	_, err := s.Upsert(ctx, newDocument("/cv/a.txt", "a", []float32{1, 0, 0}))
	require.NoError(t, err)
	noFields := newDocument("/cv/b.txt", "b", nil)
	noFields.Fields = nil
	_, err = s.Upsert(ctx, noFields)
	require.NoError(t, err)

	tests := []struct {
		predicate domain.Predicate
		expect    int
	}{
		{domain.CountAll, 2},
		{domain.CountWithEmbedding, 1},
		{domain.CountWithFields, 1},
	}

	for _, tt := range tests {
		t.Run(tt.predicate.String(), func(t *testing.T) {
			n, err := s.Count(ctx, tt.predicate)
			require.NoError(t, err)
			assert.Equal(t, tt.expect, n)
		})
	}
}

func TestListDuplicateGroupsMostRecentFirst(t *testing.T) {
	ctx := context.Background()
	s := setupTestStore(t)

	older, err := s.Upsert(ctx, newDocument("/cv/a.txt", "dup", nil))
	require.NoError(t, err)
	newer, err := s.Upsert(ctx, newDocument("/cv/b.txt", "dup", nil))
	require.NoError(t, err)
	_, err = s.Upsert(ctx, newDocument("/cv/c.txt", "unique", nil))
	require.NoError(t, err)

	groups, err := s.ListDuplicateGroups(ctx)
	require.NoError(t, err)
	require.Len(t, groups, 1)

	group := groups[0]
	assert.Equal(t, "dup", group.ContentHash)
	require.Len(t, group.Members, 2)
	assert.Equal(t, newer, group.Members[0].ID)
	assert.Equal(t, older, group.Members[1].ID)
	assert.False(t, group.Members[0].UpdatedAt.Before(group.Members[1].UpdatedAt))
}

func TestDeleteReturnsRemovedCount(t *testing.T) {
	ctx := context.Background()
	s := setupTestStore(t)

	idA, err := s.Upsert(ctx, newDocument("/cv/a.txt", "a", nil))
	require.NoError(t, err)
	idB, err := s.Upsert(ctx, newDocument("/cv/b.txt", "b", nil))
	require.NoError(t, err)

	n, err := s.Delete(ctx, []int64{idA, idB, 12345})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = s.Delete(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestAllLocations(t *testing.T) {
	ctx := context.Background()
	s := setupTestStore(t)

	idA, err := s.Upsert(ctx, newDocument("/cv/a.txt", "a", nil))
	require.NoError(t, err)
	idB, err := s.Upsert(ctx, newDocument("/cv/b.txt", "b", nil))
	require.NoError(t, err)

	locations, err := s.AllLocations(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"/cv/a.txt": idA, "/cv/b.txt": idB}, locations)
}

func TestClosedStoreIsUnavailable(t *testing.T) {
	s := setupTestStore(t)
	require.NoError(t, s.Close())

	err := s.Ping(context.Background())
	assert.ErrorIs(t, err, domain.ErrStoreUnavailable)

	_, err = s.Count(context.Background(), domain.CountAll)
	assert.ErrorIs(t, err, domain.ErrStoreUnavailable)
}
