// Package retrieval runs the first, broad stage of a match: nearest neighbours of
// a query vector in the corpus above a similarity threshold.
package retrieval

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/spigell/resume-matcher/internal/corpus"
	"github.com/spigell/resume-matcher/internal/domain"
)

// Searcher is the similarity primitive of the corpus store.
type Searcher interface {
	SimilaritySearch(ctx context.Context, vector []float32, k int, minSimilarity float64) ([]domain.Hit, error)
	Dimension() int
}

// Candidate is a retrieved document with its 1-based retrieval rank.
type Candidate struct {
	domain.Hit
	Rank int `json:"rank" yaml:"rank"`
}

type Engine struct {
	store  Searcher
	logger *zap.Logger
}

func NewEngine(store Searcher, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{store: store, logger: logger}
}

// Retrieve returns at most k candidates with similarity >= minSimilarity, best first.
// A zero query vector carries no signal and yields no candidates.
func (e *Engine) Retrieve(ctx context.Context, vector []float32, k int, minSimilarity float64) ([]Candidate, error) {
	if k <= 0 {
		return nil, fmt.Errorf("k must be positive, got %d: %w", k, domain.ErrInvalidInput)
	}
	if minSimilarity < -1 || minSimilarity > 1 {
		return nil, fmt.Errorf("min similarity %v is outside [-1, 1]: %w", minSimilarity, domain.ErrInvalidInput)
	}
	if err := corpus.CheckDimension(vector, e.store.Dimension()); err != nil {
		return nil, err
	}
	if corpus.IsZero(vector) {
		e.logger.Debug("zero query vector, nothing to retrieve")
		return []Candidate{}, nil
	}

	hits, err := e.store.SimilaritySearch(ctx, vector, k, minSimilarity)
	if err != nil {
		return nil, fmt.Errorf("similarity search: %w", err)
	}

	// Stores already order and filter; this only guards against a backend that
	// rounds distances differently.
	filtered := hits[:0]
	for _, hit := range hits {
		if hit.Similarity >= minSimilarity {
			filtered = append(filtered, hit)
		}
	}
	corpus.SortHits(filtered)
	if len(filtered) > k {
		filtered = filtered[:k]
	}

	candidates := make([]Candidate, len(filtered))
	for i, hit := range filtered {
		candidates[i] = Candidate{Hit: hit, Rank: i + 1}
	}

	e.logger.Debug("candidates retrieved",
		zap.Int("k", k),
		zap.Float64("min_similarity", minSimilarity),
		zap.Int("candidates", len(candidates)),
	)

	return candidates, nil
}
