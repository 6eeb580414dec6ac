// Package matcher answers match requests: retrieve a broad candidate pool,
// optionally judge every candidate, fuse the scores and rank.
package matcher

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/spigell/resume-matcher/internal/ai"
	"github.com/spigell/resume-matcher/internal/domain"
	"github.com/spigell/resume-matcher/internal/ranking"
	"github.com/spigell/resume-matcher/internal/retrieval"
)

const (
	DefaultTopN        = 10
	DefaultCandidates  = 30
	defaultConcurrency = 5
	defaultTimeout     = 60 * time.Second
)

type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

type Retriever interface {
	Retrieve(ctx context.Context, vector []float32, k int, minSimilarity float64) ([]retrieval.Candidate, error)
}

type Options struct {
	// Concurrency bounds the judge calls in flight.
	Concurrency int
	// RequestsPerSecond limits the judge call rate. Zero means unlimited.
	RequestsPerSecond float64
	// Timeout applies to each judge call on its own, requirements parsing included.
	Timeout time.Duration
}

type Service struct {
	embedder    Embedder
	retriever   Retriever
	judge       ai.Judge
	limiter     *rate.Limiter
	concurrency int
	timeout     time.Duration
	logger      *zap.Logger
}

// NewService builds the match service. judge may be nil when only unjudged
// matching is needed.
func NewService(embedder Embedder, retriever Retriever, judge ai.Judge, opts Options, logger *zap.Logger) *Service {
	if opts.Concurrency <= 0 {
		opts.Concurrency = defaultConcurrency
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	limit := rate.Inf
	if opts.RequestsPerSecond > 0 {
		limit = rate.Limit(opts.RequestsPerSecond)
	}

	return &Service{
		embedder:    embedder,
		retriever:   retriever,
		judge:       judge,
		limiter:     rate.NewLimiter(limit, opts.Concurrency),
		concurrency: opts.Concurrency,
		timeout:     opts.Timeout,
		logger:      logger,
	}
}

// Request describes one match. Vector, when set, is used instead of embedding Text;
// Text is still needed for judging.
type Request struct {
	Text          string
	Vector        []float32
	TopN          int
	MinSimilarity float64
	UseJudge      bool
	// Candidates is the pool judged before truncating to TopN. It is raised to TopN when smaller.
	Candidates int
	ScoreRange *ranking.Range
}

type Result struct {
	Requirements *ai.Requirements `json:"requirements,omitempty" yaml:"requirements,omitempty"`
	Matches      []ranking.Match  `json:"matches" yaml:"matches"`
	Retrieved    int              `json:"retrieved" yaml:"retrieved"`
	Judged       int              `json:"judged" yaml:"judged"`
	// Degraded counts candidates that fell back to the fallback verdict.
	Degraded int          `json:"degraded" yaml:"degraded"`
	Filter   ranking.Step `json:"filter" yaml:"filter"`
}

func (s *Service) Match(ctx context.Context, req Request) (*Result, error) {
	if err := req.ScoreRange.Validate(); err != nil {
		return nil, err
	}
	if req.TopN <= 0 {
		return nil, fmt.Errorf("top n must be positive, got %d: %w", req.TopN, domain.ErrInvalidInput)
	}
	if req.UseJudge && s.judge == nil {
		return nil, fmt.Errorf("judging requested but no judge is configured: %w", domain.ErrInvalidInput)
	}
	if req.Vector == nil && s.embedder == nil {
		return nil, fmt.Errorf("no query vector and no embedder: %w", domain.ErrInvalidInput)
	}

	vector := req.Vector
	if vector == nil {
		v, err := s.embedder.Embed(ctx, req.Text)
		if err != nil {
			return nil, fmt.Errorf("embed query: %w", err)
		}
		vector = v
	}

	k := req.TopN
	if req.UseJudge {
		k = max(req.Candidates, req.TopN)
	}

	candidates, err := s.retriever.Retrieve(ctx, vector, k, req.MinSimilarity)
	if err != nil {
		return nil, err
	}

	result := &Result{Retrieved: len(candidates)}
	matches := ranking.FromCandidates(candidates)

	if req.UseJudge && len(matches) > 0 {
		requirements, err := s.requirements(ctx, req.Text)
		if err != nil {
			return nil, err
		}
		result.Requirements = requirements

		degraded, err := s.judgeAll(ctx, requirements, matches)
		if err != nil {
			return nil, err
		}
		result.Judged = len(matches)
		result.Degraded = degraded
	}

	ranked := ranking.Rank(matches, req.TopN)
	result.Matches, result.Filter = ranking.Filter(ranked, req.ScoreRange)

	s.logger.Info("match finished",
		zap.Bool("judged", req.UseJudge),
		zap.Int("retrieved", result.Retrieved),
		zap.Int("degraded", result.Degraded),
		zap.Int("returned", len(result.Matches)),
		zap.Stringer("score_range", req.ScoreRange),
	)

	return result, nil
}

func (s *Service) requirements(ctx context.Context, text string) (*ai.Requirements, error) {
	if strings.TrimSpace(text) == "" {
		return ai.UnknownRequirements(), nil
	}

	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	requirements, err := s.judge.ParseRequirements(callCtx, text)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		log := s.logger
		if errors.Is(err, context.DeadlineExceeded) {
			log = log.With(zap.Duration("timeout", s.timeout))
		}
		log.Warn("requirements parsing failed, judging against unknown requirements", zap.Error(err))
		return ai.UnknownRequirements(), nil
	}
	return requirements, nil
}

// judgeAll judges every match concurrently and applies the verdicts in place.
// It returns once all calls finished, or at once when ctx is cancelled.
func (s *Service) judgeAll(ctx context.Context, requirements *ai.Requirements, matches []ranking.Match) (int, error) {
	verdicts := make([]*ai.Verdict, len(matches))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)

	done := make(chan error, 1)
	go func() {
		for i := range matches {
			m := matches[i]
			g.Go(func() error {
				v, err := s.judgeOne(gctx, requirements, m)
				if err != nil {
					return err
				}
				verdicts[i] = v
				return nil
			})
		}
		done <- g.Wait()
	}()

	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	case err := <-done:
		if err != nil {
			return 0, err
		}
	}

	degraded := 0
	for i := range matches {
		if verdicts[i].IsFallback() {
			degraded++
		}
		ranking.ApplyVerdict(&matches[i], verdicts[i])
	}
	return degraded, nil
}

// judgeOne only returns an error when ctx is done; every other failure degrades
// to the fallback verdict.
func (s *Service) judgeOne(ctx context.Context, requirements *ai.Requirements, m ranking.Match) (*ai.Verdict, error) {
	log := s.logger.With(zap.Int64("document_id", m.ID), zap.String("location", m.Location))

	if err := s.limiter.Wait(ctx); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		log.Warn("judge rate limiter refused the call", zap.Error(err))
		return ai.FallbackVerdict(m.Similarity), nil
	}

	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	profile := ai.ProfileFromFields(m.Location, m.Fields)
	verdict, err := s.judge.Judge(callCtx, requirements, profile, m.Similarity)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if errors.Is(err, context.DeadlineExceeded) {
			log = log.With(zap.Duration("timeout", s.timeout))
		}
		log.Warn("judge call failed, using fallback verdict", zap.Error(err))
		return ai.FallbackVerdict(m.Similarity), nil
	}
	if verdict == nil {
		return ai.FallbackVerdict(m.Similarity), nil
	}

	return verdict, nil
}
