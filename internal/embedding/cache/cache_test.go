package cache

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spigell/resume-matcher/internal/embedding"
)

func TestGetRequiresMatchingFingerprint(t *testing.T) {
	ctx := context.Background()
	s, err := NewInMemory()
	require.NoError(t, err)

	key := embedding.Key{ID: "/cv/a.txt", Fingerprint: "h1"}
	require.NoError(t, s.Put(ctx, key, []float32{1, 0}))

	v, ok := s.Get(ctx, key)
	require.True(t, ok)
	assert.Equal(t, []float32{1, 0}, v)

	_, ok = s.Get(ctx, embedding.Key{ID: "/cv/a.txt", Fingerprint: "h2"})
	assert.False(t, ok, "a changed file must not reuse a stale vector")

	_, ok = s.Get(ctx, embedding.Key{ID: "/cv/missing.txt", Fingerprint: "h1"})
	assert.False(t, ok)
}

func TestPutOverwritesAndSkipsZeroVectors(t *testing.T) {
	ctx := context.Background()
	s, err := NewInMemory()
	require.NoError(t, err)

	key := embedding.Key{ID: "/cv/a.txt", Fingerprint: "h1"}
	require.NoError(t, s.Put(ctx, key, []float32{1, 0}))
	require.NoError(t, s.Put(ctx, embedding.Key{ID: "/cv/a.txt", Fingerprint: "h2"}, []float32{0, 1}))

	v, ok := s.Get(ctx, embedding.Key{ID: "/cv/a.txt", Fingerprint: "h2"})
	require.True(t, ok)
	assert.Equal(t, []float32{0, 1}, v)
	assert.Equal(t, 1, s.Len())

	require.NoError(t, s.Put(ctx, embedding.Key{ID: "/cv/zero.txt"}, []float32{0, 0}))
	assert.Equal(t, 1, s.Len())

	assert.Error(t, s.Put(ctx, embedding.Key{}, []float32{1, 0}))
}

func TestPersistentCacheSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	s, err := Open(dir)
	require.NoError(t, err)
	key := embedding.Key{ID: "/cv/a.txt", Fingerprint: "h1"}
	require.NoError(t, s.Put(ctx, key, []float32{0, 1}))

	reopened, err := Open(dir)
	require.NoError(t, err)

	v, ok := reopened.Get(ctx, key)
	require.True(t, ok)
	assert.Equal(t, []float32{0, 1}, v)
}
