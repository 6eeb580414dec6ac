// Package postgres implements the corpus store on PostgreSQL with the pgvector
// extension. Nearest neighbour search runs in the database through the cosine
// distance operator and an HNSW index.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib" // pgx database/sql driver
	"github.com/pgvector/pgvector-go"

	"github.com/spigell/resume-matcher/internal/corpus"
	"github.com/spigell/resume-matcher/internal/corpus/postgres/migrations"
	"github.com/spigell/resume-matcher/internal/domain"
)

const (
	dimensionKey     = "dimension"
	defaultDimension = 768
	maxOpenConns     = 16
)

var _ corpus.Store = (*Store)(nil)

// Options configures the Postgres store.
type Options struct {
	// DSN is a libpq style connection string or URL.
	DSN string
	// Dimension sizes the vector column on first migration and guards every write.
	Dimension int
}

// Store is the Postgres-backed corpus.
type Store struct {
	db        *sql.DB
	dimension int
}

// Open connects to Postgres, runs migrations and verifies the corpus dimension.
func Open(ctx context.Context, opts Options) (*Store, error) {
	dsn := strings.TrimSpace(opts.DSN)
	if dsn == "" {
		return nil, fmt.Errorf("postgres dsn is required: %w", domain.ErrInvalidInput)
	}

	dimension := opts.Dimension
	if dimension <= 0 {
		dimension = defaultDimension
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, corpus.Unavailable("opening database", err)
	}
	db.SetMaxOpenConns(maxOpenConns)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, corpus.Unavailable("connecting to database", err)
	}

	render := func(script string) string {
		return strings.ReplaceAll(script, "{{DIMENSION}}", strconv.Itoa(dimension))
	}
	if err := corpus.Migrate(ctx, db, migrations.FS, true, render); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	s := &Store{db: db}
	if err := s.initDimension(ctx, dimension); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

func (s *Store) Dimension() int {
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
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO corpus_meta (key, value) VALUES ($1, $2) ON CONFLICT (key) DO NOTHING",
		dimensionKey, strconv.Itoa(want),
	)
	if err != nil {
		return wrap("recording corpus dimension", err)
	}

	var value string
	if err := s.db.QueryRowContext(ctx, "SELECT value FROM corpus_meta WHERE key = $1", dimensionKey).Scan(&value); err != nil {
		return wrap("reading corpus dimension", err)
	}

	stored, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("corrupt corpus dimension %q: %w", value, err)
	}
	if stored != want {
		return fmt.Errorf("%w: corpus uses %d, configured %d", domain.ErrDimensionMismatch, stored, want)
	}
	s.dimension = stored
	return nil
}

func (s *Store) Upsert(ctx context.Context, doc *domain.Document) (int64, error) {
	if doc == nil || strings.TrimSpace(doc.Location) == "" {
		return 0, fmt.Errorf("upsert: document location is required: %w", domain.ErrInvalidInput)
	}

	var embedding any
	if len(doc.Embedding) > 0 {
		if err := corpus.CheckDimension(doc.Embedding, s.dimension); err != nil {
			return 0, fmt.Errorf("upsert %s: %w", doc.Location, err)
		}
		embedding = pgvector.NewVector(doc.Embedding)
	}

	fields, err := corpus.EncodeFields(doc.Fields)
	if err != nil {
		return 0, fmt.Errorf("upsert %s: %w", doc.Location, err)
	}

	var id int64
	err = s.db.QueryRowContext(ctx, `
		INSERT INTO documents (location, content_hash, raw_text, normalized_text, fields, embedding, updated_at)
		VALUES ($1, $2, $3, $4, $5::jsonb, $6, $7)
		ON CONFLICT (location) DO UPDATE SET
			content_hash    = EXCLUDED.content_hash,
			raw_text        = EXCLUDED.raw_text,
			normalized_text = EXCLUDED.normalized_text,
			fields          = EXCLUDED.fields,
			embedding       = EXCLUDED.embedding,
			updated_at      = GREATEST(EXCLUDED.updated_at, documents.updated_at + INTERVAL '1 microsecond')
		RETURNING id
	`,
		doc.Location,
		doc.ContentHash,
		doc.RawText,
		doc.NormalizedText,
		fields,
		embedding,
		time.Now().UTC(),
	).Scan(&id)
	if err != nil {
		return 0, wrap("upsert "+doc.Location, err)
	}

	return id, nil
}

const documentColumns = "id, location, content_hash, raw_text, normalized_text, fields, embedding, updated_at"

func (s *Store) Get(ctx context.Context, id int64) (*domain.Document, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+documentColumns+" FROM documents WHERE id = $1", id)
	doc, err := scanDocument(row)
	if err != nil {
		return nil, wrap(fmt.Sprintf("get document %d", id), err)
	}
	return doc, nil
}

func (s *Store) GetByLocation(ctx context.Context, location string) (*domain.Document, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+documentColumns+" FROM documents WHERE location = $1", location)
	doc, err := scanDocument(row)
	if err != nil {
		return nil, wrap("get document "+location, err)
	}
	return doc, nil
}

func (s *Store) ExistsByLocation(ctx context.Context, location string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, "SELECT EXISTS(SELECT 1 FROM documents WHERE location = $1)", location).Scan(&exists)
	if err != nil {
		return false, wrap("exists "+location, err)
	}
	return exists, nil
}

func (s *Store) FindByContentHash(ctx context.Context, hash string) (*domain.Document, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+documentColumns+" FROM documents WHERE content_hash = $1 ORDER BY id LIMIT 1", hash)
	doc, err := scanDocument(row)
	if err != nil {
		return nil, wrap("find by content hash", err)
	}
	return doc, nil
}

// SimilaritySearch converts minSimilarity into a cosine distance bound once per
// call and lets the database order by distance.
func (s *Store) SimilaritySearch(ctx context.Context, vector []float32, k int, minSimilarity float64) ([]domain.Hit, error) {
	if k <= 0 {
		return nil, fmt.Errorf("similarity search: k must be positive: %w", domain.ErrInvalidInput)
	}
	if err := corpus.CheckDimension(vector, s.dimension); err != nil {
		return nil, fmt.Errorf("similarity search: %w", err)
	}

	query := pgvector.NewVector(corpus.Normalize(vector))
	maxDistance := corpus.MaxCosineDistance(minSimilarity)

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, location, fields, embedding <=> $1 AS distance
		FROM documents
		WHERE embedding IS NOT NULL AND (embedding <=> $1) <= $2
		ORDER BY embedding <=> $1, id
		LIMIT $3
	`, query, maxDistance, k)
	if err != nil {
		return nil, wrap("similarity search", err)
	}
	defer rows.Close()

	hits := make([]domain.Hit, 0)
	for rows.Next() {
		var (
			hit      domain.Hit
			fields   []byte
			distance float64
		)
		if err := rows.Scan(&hit.ID, &hit.Location, &fields, &distance); err != nil {
			return nil, wrap("similarity search", err)
		}
		hit.Fields, err = corpus.DecodeFields(fields)
		if err != nil {
			return nil, fmt.Errorf("similarity search: document %d: %w", hit.ID, err)
		}
		hit.Similarity = corpus.SimilarityFromDistance(distance)
		hits = append(hits, hit)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap("similarity search", err)
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
		query += " WHERE fields <> '{}'::jsonb AND fields <> 'null'::jsonb"
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
		var ref domain.DocumentRef
		if err := rows.Scan(&ref.ID, &ref.Location, &ref.ContentHash, &ref.UpdatedAt); err != nil {
			return nil, wrap("list duplicate groups", err)
		}
		ref.UpdatedAt = ref.UpdatedAt.UTC()
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
		"DELETE FROM documents WHERE id IN ("+corpus.Placeholders(len(ids), 0, true)+")", args...)
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
		doc       domain.Document
		fields    []byte
		embedding *pgvector.Vector
	)
	err := row.Scan(&doc.ID, &doc.Location, &doc.ContentHash, &doc.RawText, &doc.NormalizedText, &fields, &embedding, &doc.UpdatedAt)
	if err != nil {
		return nil, err
	}

	doc.Fields, err = corpus.DecodeFields(fields)
	if err != nil {
		return nil, err
	}
	if embedding != nil {
		doc.Embedding = embedding.Slice()
	}
	doc.UpdatedAt = doc.UpdatedAt.UTC()

	return &doc, nil
}

func isUnavailable(err error) bool {
	var connErr *pgconn.ConnectError
	return errors.As(err, &connErr) || pgconn.Timeout(err)
}

func wrap(op string, err error) error {
	return corpus.WrapError(op, err, isUnavailable)
}
