package cmd

import (
	"testing"

	"github.com/spigell/resume-matcher/internal/ingest"
)

func TestImportModelsSkippedWhenNothingIsStored(t *testing.T) {
	for _, opts := range []ingest.Options{{DryRun: true}, {OnlySync: true}, {DryRun: true, OnlySync: true}} {
		// A nil deps would panic if any model were built.
		embedder, profiles := importModels(nil, opts, false)
		if embedder != nil || profiles != nil {
			t.Fatalf("expected no models for %+v", opts)
		}
	}
}
