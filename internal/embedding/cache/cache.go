// Package cache persists document embeddings with chromem-go. Every entry is a
// separate file on disk, so a crash mid-write only loses that entry.
package cache

import (
	"context"
	"fmt"
	"strings"

	"github.com/philippgille/chromem-go"

	"github.com/spigell/resume-matcher/internal/corpus"
	"github.com/spigell/resume-matcher/internal/embedding"
)

const (
	collectionName = "embeddings"
	fingerprintKey = "fingerprint"
)

var _ embedding.Cache = (*Store)(nil)

type Store struct {
	collection *chromem.Collection
}

// Open opens or creates a persistent cache in dir.
func Open(dir string) (*Store, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil, fmt.Errorf("embedding cache directory is required")
	}

	db, err := chromem.NewPersistentDB(dir, false)
	if err != nil {
		return nil, fmt.Errorf("open embedding cache %q: %w", dir, err)
	}

	return newStore(db)
}

// NewInMemory returns a cache that lives only as long as the process.
func NewInMemory() (*Store, error) {
	return newStore(chromem.NewDB())
}

func newStore(db *chromem.DB) (*Store, error) {
	// Vectors are always supplied, so the collection never needs an embedding func.
	c, err := db.GetOrCreateCollection(collectionName, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("open embedding collection: %w", err)
	}
	return &Store{collection: c}, nil
}

// Get returns the vector stored for key.ID when it was computed from the same fingerprint.
func (s *Store) Get(ctx context.Context, key embedding.Key) ([]float32, bool) {
	if key.ID == "" {
		return nil, false
	}

	doc, err := s.collection.GetByID(ctx, key.ID)
	if err != nil {
		return nil, false
	}
	if doc.Metadata[fingerprintKey] != key.Fingerprint || len(doc.Embedding) == 0 {
		return nil, false
	}

	v := make([]float32, len(doc.Embedding))
	copy(v, doc.Embedding)
	return v, true
}

// Put stores vector under key, replacing any previous entry. Zero vectors are skipped.
func (s *Store) Put(ctx context.Context, key embedding.Key, vector []float32) error {
	if key.ID == "" {
		return fmt.Errorf("embedding cache key is empty")
	}
	if len(vector) == 0 || corpus.IsZero(vector) {
		return nil
	}

	return s.collection.AddDocument(ctx, chromem.Document{
		ID:        key.ID,
		Metadata:  map[string]string{fingerprintKey: key.Fingerprint},
		Embedding: vector,
		Content:   key.ID,
	})
}

// Len reports the number of cached entries.
func (s *Store) Len() int {
	return s.collection.Count()
}
