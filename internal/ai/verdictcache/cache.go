// Package verdictcache memoises judge responses in a bbolt file so that repeated
// matches against the same vacancy do not pay for the same remote calls twice.
package verdictcache

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"
	"go.uber.org/zap"

	"github.com/spigell/resume-matcher/internal/ai"
	"github.com/spigell/resume-matcher/internal/hasher"
)

var (
	bucketRequirements = []byte("requirements")
	bucketVerdicts     = []byte("verdicts")
)

var _ ai.Judge = (*Cache)(nil)

// Cache is an ai.Judge decorator. Requirements are keyed by the query text and
// verdicts by the requirements and profile they were computed from. Fallback
// verdicts are never stored.
type Cache struct {
	db     *bbolt.DB
	next   ai.Judge
	logger *zap.Logger
}

func Open(path string, next ai.Judge, logger *zap.Logger) (*Cache, error) {
	if next == nil {
		return nil, fmt.Errorf("verdict cache needs a judge to wrap")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create verdict cache directory: %w", err)
	}

	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open verdict cache %q: %w", path, err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketRequirements); err != nil {
			return err
		}
		if _, err := tx.CreateBucketIfNotExists(bucketVerdicts); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Cache{db: db, next: next, logger: logger}, nil
}

func (c *Cache) Close() error {
	return c.db.Close()
}

func (c *Cache) ParseRequirements(ctx context.Context, queryText string) (*ai.Requirements, error) {
	key := []byte(hasher.HashBytes([]byte(queryText)))

	var cached ai.Requirements
	if c.load(bucketRequirements, key, &cached) {
		c.logger.Debug("requirements cache hit", zap.String("job_title", cached.JobTitle))
		return &cached, nil
	}

	requirements, err := c.next.ParseRequirements(ctx, queryText)
	if err != nil {
		return nil, err
	}

	// Unknown requirements mean the response did not parse. Try again next time.
	if requirements.JobTitle != ai.UnknownRequirements().JobTitle {
		c.store(bucketRequirements, key, requirements)
	}

	return requirements, nil
}

func (c *Cache) Judge(ctx context.Context, requirements *ai.Requirements, profile *ai.Profile, similarity float64) (*ai.Verdict, error) {
	key, err := verdictKey(requirements, profile)
	if err != nil {
		return c.next.Judge(ctx, requirements, profile, similarity)
	}

	var cached ai.Verdict
	if c.load(bucketVerdicts, key, &cached) {
		cached.Similarity = similarity
		return &cached, nil
	}

	verdict, err := c.next.Judge(ctx, requirements, profile, similarity)
	if err != nil {
		return nil, err
	}

	if !verdict.IsFallback() {
		c.store(bucketVerdicts, key, verdict)
	}

	return verdict, nil
}

func verdictKey(requirements *ai.Requirements, profile *ai.Profile) ([]byte, error) {
	payload, err := json.Marshal(struct {
		Requirements *ai.Requirements `json:"requirements"`
		Profile      *ai.Profile      `json:"profile"`
	}{requirements, profile})
	if err != nil {
		return nil, err
	}
	return []byte(hasher.HashBytes(payload)), nil
}

func (c *Cache) load(bucket, key []byte, out any) bool {
	var found bool
	err := c.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucket).Get(key)
		if data == nil {
			return nil
		}
		found = true
		return json.Unmarshal(data, out)
	})
	if err != nil {
		c.logger.Warn("verdict cache read failed", zap.ByteString("bucket", bucket), zap.Error(err))
		return false
	}
	return found
}

func (c *Cache) store(bucket, key []byte, value any) {
	err := c.db.Update(func(tx *bbolt.Tx) error {
		data, err := json.Marshal(value)
		if err != nil {
			return err
		}
		return tx.Bucket(bucket).Put(key, data)
	})
	if err != nil {
		c.logger.Warn("verdict cache write failed", zap.ByteString("bucket", bucket), zap.Error(err))
	}
}
