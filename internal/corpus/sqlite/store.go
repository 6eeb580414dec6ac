// Package sqlite implements the corpus store on an embedded SQLite database.
// Similarity search is a brute-force cosine scan over the stored unit vectors.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/spigell/resume-matcher/internal/corpus"
	"github.com/spigell/resume-matcher/internal/corpus/sqlite/migrations"
	"github.com/spigell/resume-matcher/internal/domain"
)

const dimensionKey = "dimension"

var _ corpus.Store = (*Store)(nil)

// Options configures the SQLite store.
type Options struct {
	// Path is the database file. Parent directories are created when missing.
	Path string
	// Dimension is the expected corpus embedding dimension. When zero, the length of
	// the first stored embedding becomes the corpus dimension.
	Dimension int
}

// Store is the SQLite-backed corpus.
type Store struct {
	db   *sql.DB
	path string

	mu        sync.RWMutex
	dimension int
}

// Open opens or creates the database at opts.Path and runs pending migrations.
func Open(ctx context.Context, opts Options) (*Store, error) {
	path := strings.TrimSpace(opts.Path)
	if path == "" {
		return nil, fmt.Errorf("sqlite path is required: %w", domain.ErrInvalidInput)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, corpus.Unavailable("creating data directory", err)
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, corpus.Unavailable("opening database", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, corpus.Unavailable("opening database", err)
	}

	s := &Store{db: db, path: path}

	if err := corpus.Migrate(ctx, db, migrations.FS, false, nil); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	if err := s.initDimension(ctx, opts.Dimension); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// Dimension returns the corpus embedding dimension, zero when not yet known.
func (s *Store) Dimension() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dimension
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return corpus.Unavailable("ping", err)
	}
	return nil
}

func (s *Store) initDimension(ctx context.Context, want int) error {
	stored, err := s.storedDimension(ctx)
	if err != nil {
		return err
	}

	switch {
	case stored == 0 && want <= 0:
		return nil
	case stored == 0:
		return s.recordDimension(ctx, want)
	case want > 0 && stored != want:
		return fmt.Errorf("%w: corpus uses %d, configured %d", domain.ErrDimensionMismatch, stored, want)
	}

	s.mu.Lock()
	s.dimension = stored
	s.mu.Unlock()
	return nil
}

// storedDimension returns zero when no dimension has been recorded yet.
func (s *Store) storedDimension(ctx context.Context) (int, error) {
	var value string
	err := s.db.QueryRowContext(ctx, "SELECT value FROM corpus_meta WHERE key = ?", dimensionKey).Scan(&value)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return 0, nil
	case err != nil:
		return 0, wrap("reading corpus dimension", err)
	}

	stored, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("corrupt corpus dimension %q: %w", value, err)
	}
	return stored, nil
}

// recordDimension stores n unless another writer recorded a dimension first, and
// adopts whichever value won.
func (s *Store) recordDimension(ctx context.Context, n int) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO corpus_meta (key, value) VALUES (?, ?) ON CONFLICT(key) DO NOTHING",
		dimensionKey, strconv.Itoa(n),
	)
	if err != nil {
		return wrap("recording corpus dimension", err)
	}

	stored, err := s.storedDimension(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.dimension = stored
	s.mu.Unlock()
	return nil
}

// Upsert inserts the document or fully replaces the one stored at the same location.
// updated_at always advances, even when two writes land in the same nanosecond.
func (s *Store) Upsert(ctx context.Context, doc *domain.Document) (int64, error) {
	if doc == nil || strings.TrimSpace(doc.Location) == "" {
		return 0, fmt.Errorf("upsert: document location is required: %w", domain.ErrInvalidInput)
	}

	var embedding any
	if len(doc.Embedding) > 0 {
		if s.Dimension() == 0 {
			if err := s.recordDimension(ctx, len(doc.Embedding)); err != nil {
				return 0, fmt.Errorf("upsert %s: %w", doc.Location, err)
			}
		}
		if err := corpus.CheckDimension(doc.Embedding, s.Dimension()); err != nil {
			return 0, fmt.Errorf("upsert %s: %w", doc.Location, err)
		}
		embedding = corpus.EncodeVector(doc.Embedding)
	}

	fields, err := corpus.EncodeFields(doc.Fields)
	if err != nil {
		return 0, fmt.Errorf("upsert %s: %w", doc.Location, err)
	}

	var id int64
	err = s.db.QueryRowContext(ctx, `
		INSERT INTO documents (location, content_hash, raw_text, normalized_text, fields, embedding, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(location) DO UPDATE SET
			content_hash    = excluded.content_hash,
			raw_text        = excluded.raw_text,
			normalized_text = excluded.normalized_text,
			fields          = excluded.fields,
			embedding       = excluded.embedding,
			updated_at      = MAX(excluded.updated_at, documents.updated_at + 1)
		RETURNING id
	`,
		doc.Location,
		doc.ContentHash,
		doc.RawText,
		doc.NormalizedText,
		fields,
		embedding,
		time.Now().UTC().UnixNano(),
	).Scan(&id)
	if err != nil {
		return 0, wrap("upsert "+doc.Location, err)
	}

	return id, nil
}

const documentColumns = "id, location, content_hash, raw_text, normalized_text, fields, embedding, updated_at"

func (s *Store) Get(ctx context.Context, id int64) (*domain.Document, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+documentColumns+" FROM documents WHERE id = ?", id)
	doc, err := scanDocument(row)
	if err != nil {
		return nil, wrap(fmt.Sprintf("get document %d", id), err)
	}
	return doc, nil
}

func (s *Store) GetByLocation(ctx context.Context, location string) (*domain.Document, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+documentColumns+" FROM documents WHERE location = ?", location)
	doc, err := scanDocument(row)
	if err != nil {
		return nil, wrap("get document "+location, err)
	}
	return doc, nil
}

func (s *Store) ExistsByLocation(ctx context.Context, location string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, "SELECT EXISTS(SELECT 1 FROM documents WHERE location = ?)", location).Scan(&exists)
	if err != nil {
		return false, wrap("exists "+location, err)
	}
	return exists, nil
}

// FindByContentHash returns the oldest document with the given hash.
func (s *Store) FindByContentHash(ctx context.Context, hash string) (*domain.Document, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+documentColumns+" FROM documents WHERE content_hash = ? ORDER BY id LIMIT 1", hash)
	doc, err := scanDocument(row)
	if err != nil {
		return nil, wrap("find by content hash", err)
	}
	return doc, nil
}

type candidate struct {
	hit    domain.Hit
	fields []byte
}

func (s *Store) SimilaritySearch(ctx context.Context, vector []float32, k int, minSimilarity float64) ([]domain.Hit, error) {
	if k <= 0 {
		return nil, fmt.Errorf("similarity search: k must be positive: %w", domain.ErrInvalidInput)
	}
	if err := corpus.CheckDimension(vector, s.Dimension()); err != nil {
		return nil, fmt.Errorf("similarity search: %w", err)
	}
	query := corpus.Normalize(vector)

	rows, err := s.db.QueryContext(ctx,
		"SELECT id, location, fields, embedding FROM documents WHERE embedding IS NOT NULL")
	if err != nil {
		return nil, wrap("similarity search", err)
	}
	defer rows.Close()

	candidates := make([]candidate, 0)
	for rows.Next() {
		var (
			c    candidate
			blob []byte
		)
		if err := rows.Scan(&c.hit.ID, &c.hit.Location, &c.fields, &blob); err != nil {
			return nil, wrap("similarity search", err)
		}
		embedding := corpus.DecodeVector(blob)
		if len(embedding) != len(query) {
			continue
		}
		c.hit.Similarity = corpus.Cosine(query, embedding)
		if c.hit.Similarity < minSimilarity {
			continue
		}
		candidates = append(candidates, c)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap("similarity search", err)
	}

	hits := make([]domain.Hit, len(candidates))
	raw := make(map[int64][]byte, len(candidates))
	for i, c := range candidates {
		hits[i] = c.hit
		raw[c.hit.ID] = c.fields
	}
	corpus.SortHits(hits)
	if len(hits) > k {
		hits = hits[:k]
	}

	for i := range hits {
		fields, err := corpus.DecodeFields(raw[hits[i].ID])
		if err != nil {
			return nil, fmt.Errorf("similarity search: document %d: %w", hits[i].ID, err)
		}
		hits[i].Fields = fields
	}

	return hits, nil
}

func (s *Store) Count(ctx context.Context, predicate domain.Predicate) (int, error) {
	query := "SELECT COUNT(*) FROM documents"
	switch predicate {
	case domain.CountAll:
	case domain.CountWithEmbedding:
		query += " WHERE embedding IS NOT NULL"
	case domain.CountWithFields:
		query += " WHERE fields NOT IN ('', '{}', 'null')"
	default:
		return 0, fmt.Errorf("count: unknown predicate %d: %w", predicate, domain.ErrInvalidInput)
	}

	var n int
	if err := s.db.QueryRowContext(ctx, query).Scan(&n); err != nil {
		return 0, wrap("count "+predicate.String(), err)
	}
	return n, nil
}

func (s *Store) ListDuplicateGroups(ctx context.Context) ([]domain.DuplicateGroup, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, location, content_hash, updated_at
		FROM documents
		WHERE content_hash IN (
			SELECT content_hash FROM documents GROUP BY content_hash HAVING COUNT(*) > 1
		)
		ORDER BY content_hash, updated_at DESC, id DESC
	`)
	if err != nil {
		return nil, wrap("list duplicate groups", err)
	}
	defer rows.Close()

	refs := make([]domain.DocumentRef, 0)
	for rows.Next() {
		var (
			ref     domain.DocumentRef
			updated int64
		)
		if err := rows.Scan(&ref.ID, &ref.Location, &ref.ContentHash, &updated); err != nil {
			return nil, wrap("list duplicate groups", err)
		}
		ref.UpdatedAt = time.Unix(0, updated).UTC()
		refs = append(refs, ref)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap("list duplicate groups", err)
	}

	return corpus.GroupDuplicates(refs), nil
}

func (s *Store) Delete(ctx context.Context, ids []int64) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	res, err := s.db.ExecContext(ctx,
		"DELETE FROM documents WHERE id IN ("+corpus.Placeholders(len(ids), 0, false)+")", args...)
	if err != nil {
		return 0, wrap("delete documents", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, wrap("delete documents", err)
	}
	return int(n), nil
}

func (s *Store) AllLocations(ctx context.Context) (map[string]int64, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id, location FROM documents")
	if err != nil {
		return nil, wrap("all locations", err)
	}
	defer rows.Close()

	locations := make(map[string]int64)
	for rows.Next() {
		var (
			id       int64
			location string
		)
		if err := rows.Scan(&id, &location); err != nil {
			return nil, wrap("all locations", err)
		}
		locations[location] = id
	}
	if err := rows.Err(); err != nil {
		return nil, wrap("all locations", err)
	}

	return locations, nil
}

func scanDocument(row *sql.Row) (*domain.Document, error) {
	var (
		doc     domain.Document
		fields  []byte
		blob    []byte
		updated int64
	)
	err := row.Scan(&doc.ID, &doc.Location, &doc.ContentHash, &doc.RawText, &doc.NormalizedText, &fields, &blob, &updated)
	if err != nil {
		return nil, err
	}

	doc.Fields, err = corpus.DecodeFields(fields)
	if err != nil {
		return nil, err
	}
	doc.Embedding = corpus.DecodeVector(blob)
	doc.UpdatedAt = time.Unix(0, updated).UTC()

	return &doc, nil
}

func wrap(op string, err error) error {
	return corpus.WrapError(op, err, nil)
}
