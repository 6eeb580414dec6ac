// Package corpus defines the persisted document corpus and the administrative
// operations built on top of it. Backends live in the sqlite and postgres
// subpackages.
package corpus

import (
	"context"

	"github.com/spigell/resume-matcher/internal/domain"
)

// Store is the vector store adapter owning the persisted corpus.
//
// Upsert is keyed by location and always refreshes UpdatedAt. It is safe to call
// concurrently for different locations; calls for the same location are last
// write wins. SimilaritySearch only considers documents with an embedding and
// returns hits ordered by similarity descending, ties by ascending id.
type Store interface {
	Upsert(ctx context.Context, doc *domain.Document) (int64, error)
	Get(ctx context.Context, id int64) (*domain.Document, error)
	GetByLocation(ctx context.Context, location string) (*domain.Document, error)
	ExistsByLocation(ctx context.Context, location string) (bool, error)
	FindByContentHash(ctx context.Context, hash string) (*domain.Document, error)
	SimilaritySearch(ctx context.Context, vector []float32, k int, minSimilarity float64) ([]domain.Hit, error)
	Count(ctx context.Context, predicate domain.Predicate) (int, error)
	ListDuplicateGroups(ctx context.Context) ([]domain.DuplicateGroup, error)
	Delete(ctx context.Context, ids []int64) (int, error)
	// AllLocations returns every stored location mapped to its document id,
	// read from a single consistent snapshot.
	AllLocations(ctx context.Context) (map[string]int64, error)
	Dimension() int
	Ping(ctx context.Context) error
	Close() error
}
