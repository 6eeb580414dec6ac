package corpus_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/spigell/resume-matcher/internal/corpus"
	"github.com/spigell/resume-matcher/internal/corpus/sqlite"
	"github.com/spigell/resume-matcher/internal/domain"
)

func openStore(t *testing.T) corpus.Store {
	t.Helper()

	s, err := sqlite.Open(context.Background(), sqlite.Options{
		Path:      filepath.Join(t.TempDir(), "corpus.db"),
		Dimension: 2,
	})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	return s
}

func put(t *testing.T, s corpus.Store, location, hash string, embedding []float32, fields map[string]any) int64 {
	t.Helper()

	id, err := s.Upsert(context.Background(), &domain.Document{
		Location:    location,
		ContentHash: hash,
		Fields:      fields,
		Embedding:   embedding,
	})
	require.NoError(t, err)
	return id
}

func TestCleanDuplicatesKeepsMostRecent(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	admin := corpus.NewAdmin(s, zap.NewNop())

	hash := "0123456789abcdef0123456789abcdef"
	older := put(t, s, "/cv/old.txt", hash, nil, nil)
	newer := put(t, s, "/cv/new.txt", hash, nil, nil)
	put(t, s, "/cv/other.txt", "unique", nil, nil)

	report, err := admin.ListDuplicates(ctx)
	require.NoError(t, err)
	require.Len(t, report.Groups, 1)
	assert.Equal(t, 1, report.TotalGroups)
	assert.Equal(t, 1, report.TotalDuplicates)
	assert.Equal(t, "0123456789abcdef", report.Groups[0].HashPrefix)
	assert.Equal(t, 2, report.Groups[0].Count)

	clean, err := admin.CleanDuplicates(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, 1, clean.Deleted)
	require.Len(t, clean.Kept, 1)
	require.Len(t, clean.Removed, 1)
	assert.Equal(t, newer, clean.Kept[0].ID)
	assert.Equal(t, older, clean.Removed[0].ID)

	_, err = s.Get(ctx, older)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = s.Get(ctx, newer)
	assert.NoError(t, err)

	report, err = admin.ListDuplicates(ctx)
	require.NoError(t, err)
	assert.Empty(t, report.Groups)
}

func TestCleanDuplicatesDryRunDeletesNothing(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	admin := corpus.NewAdmin(s, nil)

	put(t, s, "/cv/a.txt", "dup", nil, nil)
	put(t, s, "/cv/b.txt", "dup", nil, nil)
	put(t, s, "/cv/c.txt", "dup", nil, nil)

	clean, err := admin.CleanDuplicates(ctx, true)
	require.NoError(t, err)
	assert.True(t, clean.DryRun)
	assert.Len(t, clean.Removed, 2)
	assert.Zero(t, clean.Deleted)

	total, err := s.Count(ctx, domain.CountAll)
	require.NoError(t, err)
	assert.Equal(t, 3, total)
}

func TestStats(t *testing.T) {
	s := openStore(t)
	admin := corpus.NewAdmin(s, nil)

	put(t, s, "/cv/a.txt", "a", []float32{1, 0}, map[string]any{"full_name": "A"})
	put(t, s, "/cv/b.txt", "b", []float32{0, 1}, nil)
	put(t, s, "/cv/c.txt", "c", nil, nil)

	stats, err := admin.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.Stats{Total: 3, WithEmbedding: 2, WithFields: 1}, *stats)
}

func TestAdminDeleteReportsNotFound(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	admin := corpus.NewAdmin(s, nil)

	id := put(t, s, "/cv/a.txt", "a", nil, nil)

	require.NoError(t, admin.Delete(ctx, id))
	assert.ErrorIs(t, admin.Delete(ctx, id), domain.ErrNotFound)

	_, err := admin.Get(ctx, id)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
