package domain

import (
	"path/filepath"
	"time"
)

// Document is a single ingested file in the corpus.
type Document struct {
	ID             int64          `json:"id" yaml:"id"`
	Location       string         `json:"location" yaml:"location"`
	ContentHash    string         `json:"content_hash" yaml:"content_hash"`
	RawText        string         `json:"raw_text,omitempty" yaml:"raw_text,omitempty"`
	NormalizedText string         `json:"normalized_text,omitempty" yaml:"normalized_text,omitempty"`
	Fields         map[string]any `json:"fields" yaml:"fields"`
	// Embedding is nil until it has been computed successfully.
	Embedding []float32 `json:"-" yaml:"-"`
	UpdatedAt time.Time `json:"updated_at" yaml:"updated_at"`
}

// HasEmbedding reports whether the document takes part in retrieval.
func (d *Document) HasEmbedding() bool {
	return d != nil && len(d.Embedding) > 0
}

// FileName returns the base name of the document location.
func (d *Document) FileName() string {
	if d == nil {
		return ""
	}
	return filepath.Base(d.Location)
}

// Hit is a single similarity search result.
type Hit struct {
	ID         int64          `json:"id" yaml:"id"`
	Location   string         `json:"location" yaml:"location"`
	Fields     map[string]any `json:"fields" yaml:"fields"`
	Similarity float64        `json:"similarity" yaml:"similarity"`
}

// DocumentRef identifies a stored document without its payload.
type DocumentRef struct {
	ID          int64     `json:"id" yaml:"id"`
	Location    string    `json:"location" yaml:"location"`
	ContentHash string    `json:"content_hash" yaml:"content_hash"`
	UpdatedAt   time.Time `json:"updated_at" yaml:"updated_at"`
}

// DuplicateGroup is a set of documents sharing a content hash.
// Members are ordered by UpdatedAt descending, so the first one is the one to keep.
type DuplicateGroup struct {
	ContentHash string        `json:"content_hash" yaml:"content_hash"`
	Members     []DocumentRef `json:"members" yaml:"members"`
}

// Predicate selects the documents counted by a store.
type Predicate int

const (
	// CountAll counts every stored document.
	CountAll Predicate = iota
	// CountWithEmbedding counts documents with a non-null embedding.
	CountWithEmbedding
	// CountWithFields counts documents with non-empty structured fields.
	CountWithFields
)

func (p Predicate) String() string {
	switch p {
	case CountAll:
		return "all"
	case CountWithEmbedding:
		return "with_embedding"
	case CountWithFields:
		return "with_fields"
	default:
		return "unknown"
	}
}

// Stats summarises the corpus.
type Stats struct {
	Total         int `json:"total" yaml:"total"`
	WithEmbedding int `json:"with_embedding" yaml:"with_embedding"`
	WithFields    int `json:"with_parsed_data" yaml:"with_parsed_data"`
}
