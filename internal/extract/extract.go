// Package extract turns resume files into plain text.
package extract

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spigell/resume-matcher/internal/domain"
)

// Extractor reads one file format.
type Extractor interface {
	Extract(ctx context.Context, path string) (string, error)
}

type ExtractorFunc func(ctx context.Context, path string) (string, error)

func (f ExtractorFunc) Extract(ctx context.Context, path string) (string, error) {
	return f(ctx, path)
}

// Registry dispatches extraction by lower-cased file extension.
type Registry struct {
	byExt map[string]Extractor
}

func NewRegistry() *Registry {
	return &Registry{byExt: make(map[string]Extractor)}
}

// Default returns a registry for .txt, .md, .docx and .pdf. PDFs go through runner.
func Default(runner CommandRunner) *Registry {
	r := NewRegistry()
	r.Register(".txt", ExtractorFunc(PlainText))
	r.Register(".md", ExtractorFunc(PlainText))
	r.Register(".docx", ExtractorFunc(Docx))
	r.Register(".pdf", NewPDF(runner))
	return r
}

func (r *Registry) Register(ext string, e Extractor) {
	r.byExt[strings.ToLower(ext)] = e
}

func (r *Registry) Supports(path string) bool {
	_, ok := r.byExt[strings.ToLower(filepath.Ext(path))]
	return ok
}

// Extensions lists the registered extensions in sorted order.
func (r *Registry) Extensions() []string {
	exts := make([]string, 0, len(r.byExt))
	for ext := range r.byExt {
		exts = append(exts, ext)
	}
	sort.Strings(exts)
	return exts
}

// Extract returns the raw text of path. An unsupported extension or a file
// without text fails with domain.ErrExtraction.
func (r *Registry) Extract(ctx context.Context, path string) (string, error) {
	e, ok := r.byExt[strings.ToLower(filepath.Ext(path))]
	if !ok {
		return "", fmt.Errorf("unsupported file type %q: %w", filepath.Ext(path), domain.ErrExtraction)
	}

	text, err := e.Extract(ctx, path)
	if err != nil {
		return "", fmt.Errorf("extract %s: %w: %w", path, domain.ErrExtraction, err)
	}
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("no text in %s: %w", path, domain.ErrExtraction)
	}
	return text, nil
}

// PlainText reads the file as UTF-8 text.
func PlainText(_ context.Context, path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
