// Package embedding turns text into unit vectors of a fixed dimension.
//
// A Provider wraps an opaque Model, normalises and validates its output, batches
// requests and optionally consults a per-document Cache.
package embedding

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/spigell/resume-matcher/internal/corpus"
	"github.com/spigell/resume-matcher/internal/domain"
)

const defaultBatchSize = 32

// Model is the embedding model itself. Output must be index-aligned with texts.
type Model interface {
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
}

// Key identifies a cache entry. ID is the document identity (its location) and
// Fingerprint the content hash the vector was computed from.
type Key struct {
	ID          string
	Fingerprint string
}

// Cache stores vectors per document. Implementations must be safe for concurrent use.
type Cache interface {
	Get(ctx context.Context, key Key) ([]float32, bool)
	Put(ctx context.Context, key Key, vector []float32) error
}

type Options struct {
	Dimension int
	BatchSize int
	Cache     Cache
}

type Provider struct {
	model     Model
	dimension int
	batchSize int
	cache     Cache
	logger    *zap.Logger
}

func NewProvider(model Model, opts Options, logger *zap.Logger) (*Provider, error) {
	if model == nil {
		return nil, fmt.Errorf("embedding model is required: %w", domain.ErrInvalidInput)
	}
	if opts.Dimension <= 0 {
		return nil, fmt.Errorf("embedding dimension must be positive: %w", domain.ErrInvalidInput)
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultBatchSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Provider{
		model:     model,
		dimension: opts.Dimension,
		batchSize: opts.BatchSize,
		cache:     opts.Cache,
		logger:    logger,
	}, nil
}

func (p *Provider) Dimension() int {
	return p.dimension
}

// Embed returns the unit vector for text. Blank text maps to the zero vector
// without calling the model.
func (p *Provider) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := p.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedBatch embeds texts in batches. The result is index-aligned with texts and
// blank entries become zero vectors instead of failing the batch.
func (p *Provider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	result := make([][]float32, len(texts))

	pending := make([]int, 0, len(texts))
	for i, text := range texts {
		if strings.TrimSpace(text) == "" {
			result[i] = make([]float32, p.dimension)
			continue
		}
		pending = append(pending, i)
	}

	for start := 0; start < len(pending); start += p.batchSize {
		end := min(start+p.batchSize, len(pending))
		indexes := pending[start:end]

		batch := make([]string, len(indexes))
		for j, idx := range indexes {
			batch[j] = texts[idx]
		}

		vectors, err := p.model.EmbedTexts(ctx, batch)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", domain.ErrEmbedding, err)
		}
		if len(vectors) != len(batch) {
			return nil, fmt.Errorf("%w: model returned %d vectors for %d inputs", domain.ErrEmbedding, len(vectors), len(batch))
		}

		for j, idx := range indexes {
			v, err := p.validate(vectors[j])
			if err != nil {
				return nil, fmt.Errorf("input %d: %w", idx, err)
			}
			result[idx] = v
		}
	}

	return result, nil
}

// GetOrCompute returns the cached vector for key when its fingerprint matches,
// otherwise computes it and stores it. force skips the lookup and overwrites the
// entry. The boolean reports a cache hit.
func (p *Provider) GetOrCompute(ctx context.Context, text string, key Key, force bool) ([]float32, bool, error) {
	if strings.TrimSpace(text) == "" {
		return make([]float32, p.dimension), false, nil
	}

	if p.cache != nil && !force {
		if v, ok := p.cache.Get(ctx, key); ok && len(v) == p.dimension {
			return v, true, nil
		}
	}

	v, err := p.Embed(ctx, text)
	if err != nil {
		return nil, false, err
	}

	if p.cache != nil {
		if err := p.cache.Put(ctx, key, v); err != nil {
			p.logger.Warn("embedding cache write failed",
				zap.String("location", key.ID),
				zap.Error(err),
			)
		}
	}

	return v, false, nil
}

func (p *Provider) validate(v []float32) ([]float32, error) {
	if len(v) != p.dimension {
		return nil, fmt.Errorf("%w: %w: got %d, want %d", domain.ErrEmbedding, domain.ErrDimensionMismatch, len(v), p.dimension)
	}
	if !corpus.IsFinite(v) {
		return nil, fmt.Errorf("%w: vector contains non-finite values", domain.ErrEmbedding)
	}
	if corpus.IsZero(v) {
		return nil, fmt.Errorf("%w: model returned a zero vector", domain.ErrEmbedding)
	}
	return corpus.Normalize(v), nil
}
