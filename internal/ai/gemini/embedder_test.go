package gemini

import (
	"context"
	"net/http"
	"testing"

	"google.golang.org/genai"
)

func TestEmbedderEmbedTexts(t *testing.T) {
	skipWaits(t)

	models := &fakeModels{}
	models.enqueueEmbed(nil, genai.APIError{Code: http.StatusServiceUnavailable})
	models.enqueueEmbed(&genai.EmbedContentResponse{
		Embeddings: []*genai.ContentEmbedding{
			{Values: []float32{1, 0, 0}},
			{Values: []float32{0, 1, 0}},
		},
	}, nil)

	e := NewEmbedder(newTestGenerator(models, 2), "", 3)

	vectors, err := e.EmbedTexts(context.Background(), []string{"first", "second"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(vectors) != 2 || vectors[1][1] != 1 {
		t.Fatalf("unexpected vectors: %v", vectors)
	}

	if len(models.embedCalls) != 2 {
		t.Fatalf("expected a retry, got %d calls", len(models.embedCalls))
	}

	call := models.embedCalls[1]
	if call.model != defaultEmbeddingModel {
		t.Fatalf("unexpected model: %q", call.model)
	}
	if len(call.contents) != 2 || call.contents[0].Parts[0].Text != "first" {
		t.Fatalf("unexpected contents")
	}
	if call.config.OutputDimensionality == nil || *call.config.OutputDimensionality != 3 {
		t.Fatalf("expected output dimensionality to be requested")
	}
}

func TestEmbedderRejectsMisalignedResponse(t *testing.T) {
	models := &fakeModels{}
	models.enqueueEmbed(&genai.EmbedContentResponse{
		Embeddings: []*genai.ContentEmbedding{{Values: []float32{1}}},
	}, nil)

	e := NewEmbedder(newTestGenerator(models, 1), "embed-model", 1)

	if _, err := e.EmbedTexts(context.Background(), []string{"a", "b"}); err == nil {
		t.Fatal("expected error for misaligned response")
	}
}
