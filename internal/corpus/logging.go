package corpus

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/spigell/resume-matcher/internal/domain"
)

// WithLogging decorates a store so that every operation is logged with its action
// name and duration.
func WithLogging(next Store, log *zap.Logger) Store {
	if log == nil {
		log = zap.NewNop()
	}
	return &loggingStore{
		log:  log.With(zap.String("component", "store")),
		next: next,
	}
}

type loggingStore struct {
	log  *zap.Logger
	next Store
}

func (mw *loggingStore) done(log *zap.Logger, start time.Time, err error, msg string, fields ...zap.Field) {
	log = log.With(zap.Duration("took", time.Since(start)))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			log.Debug(err.Error())
			return
		}
		log.Error(err.Error())
		return
	}
	log.Debug(msg, fields...)
}

func (mw *loggingStore) Upsert(ctx context.Context, doc *domain.Document) (int64, error) {
	log := mw.log.With(
		zap.String("action", "upsert"),
		zap.String("location", doc.Location),
	)

	start := time.Now()
	id, err := mw.next.Upsert(ctx, doc)
	mw.done(log, start, err, "document upserted", zap.Int64("document_id", id))
	return id, err
}

func (mw *loggingStore) Get(ctx context.Context, id int64) (*domain.Document, error) {
	log := mw.log.With(
		zap.String("action", "get"),
		zap.Int64("document_id", id),
	)

	start := time.Now()
	doc, err := mw.next.Get(ctx, id)
	mw.done(log, start, err, "document loaded")
	return doc, err
}

func (mw *loggingStore) GetByLocation(ctx context.Context, location string) (*domain.Document, error) {
	log := mw.log.With(
		zap.String("action", "get_by_location"),
		zap.String("location", location),
	)

	start := time.Now()
	doc, err := mw.next.GetByLocation(ctx, location)
	mw.done(log, start, err, "document loaded")
	return doc, err
}

func (mw *loggingStore) ExistsByLocation(ctx context.Context, location string) (bool, error) {
	log := mw.log.With(
		zap.String("action", "exists_by_location"),
		zap.String("location", location),
	)

	start := time.Now()
	ok, err := mw.next.ExistsByLocation(ctx, location)
	mw.done(log, start, err, "existence checked", zap.Bool("exists", ok))
	return ok, err
}

func (mw *loggingStore) FindByContentHash(ctx context.Context, hash string) (*domain.Document, error) {
	log := mw.log.With(
		zap.String("action", "find_by_content_hash"),
		zap.String("content_hash", hash),
	)

	start := time.Now()
	doc, err := mw.next.FindByContentHash(ctx, hash)
	mw.done(log, start, err, "document found")
	return doc, err
}

func (mw *loggingStore) SimilaritySearch(ctx context.Context, vector []float32, k int, minSimilarity float64) ([]domain.Hit, error) {
	log := mw.log.With(
		zap.String("action", "similarity_search"),
		zap.Int("k", k),
		zap.Float64("min_similarity", minSimilarity),
	)

	start := time.Now()
	hits, err := mw.next.SimilaritySearch(ctx, vector, k, minSimilarity)
	mw.done(log, start, err, "similarity search finished", zap.Int("hits", len(hits)))
	return hits, err
}

func (mw *loggingStore) Count(ctx context.Context, predicate domain.Predicate) (int, error) {
	log := mw.log.With(
		zap.String("action", "count"),
		zap.Stringer("predicate", predicate),
	)

	start := time.Now()
	n, err := mw.next.Count(ctx, predicate)
	mw.done(log, start, err, "documents counted", zap.Int("count", n))
	return n, err
}

func (mw *loggingStore) ListDuplicateGroups(ctx context.Context) ([]domain.DuplicateGroup, error) {
	log := mw.log.With(
		zap.String("action", "list_duplicate_groups"),
	)

	start := time.Now()
	groups, err := mw.next.ListDuplicateGroups(ctx)
	mw.done(log, start, err, "duplicate groups listed", zap.Int("groups", len(groups)))
	return groups, err
}

func (mw *loggingStore) Delete(ctx context.Context, ids []int64) (int, error) {
	log := mw.log.With(
		zap.String("action", "delete"),
		zap.Int64s("document_ids", ids),
	)

	start := time.Now()
	n, err := mw.next.Delete(ctx, ids)
	mw.done(log, start, err, "documents deleted", zap.Int("deleted", n))
	return n, err
}

func (mw *loggingStore) AllLocations(ctx context.Context) (map[string]int64, error) {
	log := mw.log.With(
		zap.String("action", "all_locations"),
	)

	start := time.Now()
	locations, err := mw.next.AllLocations(ctx)
	mw.done(log, start, err, "locations listed", zap.Int("count", len(locations)))
	return locations, err
}

func (mw *loggingStore) Dimension() int {
	return mw.next.Dimension()
}

func (mw *loggingStore) Ping(ctx context.Context) error {
	log := mw.log.With(
		zap.String("action", "ping"),
	)

	start := time.Now()
	err := mw.next.Ping(ctx)
	mw.done(log, start, err, "store reachable")
	return err
}

func (mw *loggingStore) Close() error {
	log := mw.log.With(
		zap.String("action", "close"),
	)

	err := mw.next.Close()
	if err != nil {
		log.Error(err.Error())
		return err
	}

	log.Info("store closed")
	return nil
}
