package domain

import "errors"

var (
	// ErrExtraction is returned when a document yields no usable text.
	ErrExtraction = errors.New("extraction failed")
	// ErrEmbedding is returned when an embedding could not be computed or was malformed.
	ErrEmbedding = errors.New("embedding failed")
	// ErrJudgeParse is returned when a remote judge response does not match the expected schema.
	ErrJudgeParse = errors.New("judge response could not be parsed")
	// ErrStoreUnavailable is returned when the backing store cannot be reached.
	// Callers may retry the whole operation; the core never retries on its own.
	ErrStoreUnavailable = errors.New("store unavailable")
	// ErrNotFound is returned when a record id or location does not exist.
	ErrNotFound = errors.New("not found")
	// ErrInvalidRange is returned for a score range with min > max or bounds outside [0,100].
	ErrInvalidRange = errors.New("invalid score range")
	// ErrDimensionMismatch is returned when a vector length differs from the corpus dimension.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
	// ErrInvalidInput is returned for malformed arguments.
	ErrInvalidInput = errors.New("invalid input")
)
