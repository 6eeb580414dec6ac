package gemini

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/spigell/resume-matcher/internal/embedding"
)

const (
	defaultEmbeddingModel  = "gemini-embedding-001"
	taskSemanticSimilarity = "SEMANTIC_SIMILARITY"
)

var _ embedding.Model = (*Embedder)(nil)

// Embedder computes embeddings with Gemini, sharing the generator's client and retry policy.
type Embedder struct {
	generator *Generator
	model     string
	dimension int
}

func NewEmbedder(generator *Generator, model string, dimension int) *Embedder {
	if model = strings.TrimSpace(model); model == "" {
		model = defaultEmbeddingModel
	}
	return &Embedder{generator: generator, model: model, dimension: dimension}
}

func (e *Embedder) Model() string {
	return e.model
}

// EmbedTexts embeds texts in a single request. Vectors are returned in input order.
func (e *Embedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	contents := make([]*genai.Content, len(texts))
	for i, text := range texts {
		contents[i] = genai.NewContentFromText(text, genai.RoleUser)
	}

	config := &genai.EmbedContentConfig{TaskType: taskSemanticSimilarity}
	if e.dimension > 0 {
		config.OutputDimensionality = genai.Ptr(int32(e.dimension))
	}

	var resp *genai.EmbedContentResponse
	err := e.generator.retry(ctx, "embed content", func() error {
		var err error
		resp, err = e.generator.models.EmbedContent(ctx, e.model, contents, config)
		return err
	})
	if err != nil {
		return nil, err
	}

	if resp == nil || len(resp.Embeddings) != len(texts) {
		got := 0
		if resp != nil {
			got = len(resp.Embeddings)
		}
		return nil, fmt.Errorf("gemini returned %d embeddings for %d inputs", got, len(texts))
	}

	vectors := make([][]float32, len(texts))
	for i, item := range resp.Embeddings {
		if item == nil {
			return nil, fmt.Errorf("gemini returned an empty embedding for input %d", i)
		}
		vectors[i] = item.Values
	}

	return vectors, nil
}
