package matcher

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spigell/resume-matcher/internal/ai"
	"github.com/spigell/resume-matcher/internal/domain"
	"github.com/spigell/resume-matcher/internal/ranking"
	"github.com/spigell/resume-matcher/internal/retrieval"
)

type fakeEmbedder struct {
	calls int
}

func (e *fakeEmbedder) Embed(_ context.Context, _ string) ([]float32, error) {
	e.calls++
	return []float32{1, 0}, nil
}

type fakeRetriever struct {
	candidates []retrieval.Candidate
	calls      int
	gotK       int
	gotMinSim  float64
}

func (r *fakeRetriever) Retrieve(_ context.Context, _ []float32, k int, minSimilarity float64) ([]retrieval.Candidate, error) {
	r.calls++
	r.gotK = k
	r.gotMinSim = minSimilarity
	out := r.candidates
	if len(out) > k {
		out = out[:k]
	}
	return out, nil
}

// scriptedJudge returns verdicts by document location.
type scriptedJudge struct {
	mu         sync.Mutex
	scores     map[string]int
	errs       map[string]error
	block      map[string]bool
	judged     []string
	parseErr   error
	parseBlock bool
	parseText  string
}

func (j *scriptedJudge) ParseRequirements(ctx context.Context, text string) (*ai.Requirements, error) {
	j.parseText = text
	if j.parseBlock {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if j.parseErr != nil {
		return nil, j.parseErr
	}
	return &ai.Requirements{JobTitle: "Go Developer"}, nil
}

func (j *scriptedJudge) Judge(ctx context.Context, _ *ai.Requirements, profile *ai.Profile, similarity float64) (*ai.Verdict, error) {
	j.mu.Lock()
	j.judged = append(j.judged, profile.Name)
	block := j.block[profile.Name]
	err := j.errs[profile.Name]
	score, ok := j.scores[profile.Name]
	j.mu.Unlock()

	if block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if err != nil {
		return nil, err
	}
	if !ok {
		// What a judge hands back after failing to decode a response.
		return ai.FallbackVerdict(similarity), nil
	}
	return &ai.Verdict{Score: score, Level: ai.LevelGood, Similarity: similarity}, nil
}

func candidates(sims ...float64) []retrieval.Candidate {
	names := []string{"a.txt", "b.txt", "c.txt", "d.txt", "e.txt", "f.txt"}
	out := make([]retrieval.Candidate, len(sims))
	for i, sim := range sims {
		out[i] = retrieval.Candidate{
			Hit:  domain.Hit{ID: int64(i + 1), Location: "/cv/" + names[i], Similarity: sim},
			Rank: i + 1,
		}
	}
	return out
}

func names(matches []ranking.Match) []string {
	out := make([]string, len(matches))
	for i, m := range matches {
		out[i] = m.Name
	}
	return out
}

func TestMatchWithoutJudgeUsesSimilarity(t *testing.T) {
	embedder := &fakeEmbedder{}
	retriever := &fakeRetriever{candidates: candidates(0.9, 0.8, 0.7)}
	s := NewService(embedder, retriever, nil, Options{}, nil)

	result, err := s.Match(context.Background(), Request{Text: "go developer", TopN: 2, MinSimilarity: 0.3, Candidates: 30})
	require.NoError(t, err)

	assert.Equal(t, 1, retriever.calls)
	assert.Equal(t, 2, retriever.gotK, "without judging only top n are retrieved")
	assert.Equal(t, 0.3, retriever.gotMinSim)
	assert.Equal(t, []string{"a.txt", "b.txt"}, names(result.Matches))
	assert.Equal(t, 90.0, result.Matches[0].Score)
	assert.Nil(t, result.Matches[0].Verdict)
	assert.Zero(t, result.Judged)
}

func TestMatchWithJudgeReranksCandidatePool(t *testing.T) {
	retriever := &fakeRetriever{candidates: candidates(0.9, 0.8, 0.7, 0.6)}
	judge := &scriptedJudge{scores: map[string]int{"a.txt": 40, "b.txt": 95, "c.txt": 90, "d.txt": 20}}
	s := NewService(&fakeEmbedder{}, retriever, judge, Options{Concurrency: 2}, nil)

	result, err := s.Match(context.Background(), Request{Text: "vacancy", TopN: 2, MinSimilarity: 0.5, UseJudge: true, Candidates: 4})
	require.NoError(t, err)

	assert.Equal(t, 1, retriever.calls, "the threshold is applied once, at retrieval")
	assert.Equal(t, 4, retriever.gotK)
	assert.Equal(t, 0.5, retriever.gotMinSim)
	assert.Equal(t, "vacancy", judge.parseText)

	assert.Equal(t, []string{"b.txt", "c.txt"}, names(result.Matches))
	assert.Equal(t, ranking.Fuse(0.8, 95), result.Matches[0].Score)
	assert.Equal(t, 4, result.Judged)
	assert.Equal(t, "Go Developer", result.Requirements.JobTitle)
}

func TestMatchPoolIsNeverSmallerThanTopN(t *testing.T) {
	retriever := &fakeRetriever{candidates: candidates(0.9, 0.8, 0.7)}
	judge := &scriptedJudge{scores: map[string]int{"a.txt": 1, "b.txt": 1, "c.txt": 1}}
	s := NewService(&fakeEmbedder{}, retriever, judge, Options{}, nil)

	_, err := s.Match(context.Background(), Request{Text: "vacancy", TopN: 3, UseJudge: true, Candidates: 1})
	require.NoError(t, err)
	assert.Equal(t, 3, retriever.gotK)
}

func TestMatchDegradesFailedVerdicts(t *testing.T) {
	retriever := &fakeRetriever{candidates: candidates(0.9, 0.8, 0.7)}
	judge := &scriptedJudge{
		scores: map[string]int{"c.txt": 70},
		errs:   map[string]error{"b.txt": errors.New("503 from judge")},
	}
	s := NewService(&fakeEmbedder{}, retriever, judge, Options{}, nil)

	result, err := s.Match(context.Background(), Request{Text: "vacancy", TopN: 3, UseJudge: true, Candidates: 3})
	require.NoError(t, err)
	require.Len(t, result.Matches, 3)
	assert.Equal(t, 2, result.Degraded)

	assert.Equal(t, "c.txt", result.Matches[0].Name)
	for _, m := range result.Matches[1:] {
		require.NotNil(t, m.Verdict)
		assert.Equal(t, ai.LevelError, m.Verdict.Level)
		assert.Equal(t, 0, m.Verdict.Score)
	}
	assert.Equal(t, []string{"c.txt", "a.txt", "b.txt"}, names(result.Matches))
}

func TestMatchJudgeTimeoutDegradesOnlyThatCandidate(t *testing.T) {
	retriever := &fakeRetriever{candidates: candidates(0.9, 0.8)}
	judge := &scriptedJudge{
		scores: map[string]int{"b.txt": 90},
		block:  map[string]bool{"a.txt": true},
	}
	s := NewService(&fakeEmbedder{}, retriever, judge, Options{Timeout: 20 * time.Millisecond}, nil)

	result, err := s.Match(context.Background(), Request{Text: "vacancy", TopN: 2, UseJudge: true, Candidates: 2})
	require.NoError(t, err)
	require.Len(t, result.Matches, 2)

	assert.Equal(t, "b.txt", result.Matches[0].Name)
	assert.Equal(t, ai.LevelError, result.Matches[1].Verdict.Level)
	assert.Equal(t, 1, result.Degraded)
}

func TestMatchRequirementsFailureUsesUnknown(t *testing.T) {
	retriever := &fakeRetriever{candidates: candidates(0.9)}
	judge := &scriptedJudge{scores: map[string]int{"a.txt": 50}, parseErr: errors.New("quota")}
	s := NewService(&fakeEmbedder{}, retriever, judge, Options{}, nil)

	result, err := s.Match(context.Background(), Request{Text: "vacancy", TopN: 1, UseJudge: true, Candidates: 1})
	require.NoError(t, err)
	assert.Equal(t, "Unknown", result.Requirements.JobTitle)
	assert.Len(t, result.Matches, 1)
}

func TestMatchRequirementsTimeoutUsesUnknown(t *testing.T) {
	retriever := &fakeRetriever{candidates: candidates(0.9, 0.8)}
	judge := &scriptedJudge{scores: map[string]int{"a.txt": 40, "b.txt": 90}, parseBlock: true}
	s := NewService(&fakeEmbedder{}, retriever, judge, Options{Timeout: 50 * time.Millisecond}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	start := time.Now()
	result, err := s.Match(ctx, Request{Text: "vacancy", TopN: 2, UseJudge: true, Candidates: 2})
	require.NoError(t, err)
	assert.Less(t, time.Since(start), time.Second)

	assert.Equal(t, "Unknown", result.Requirements.JobTitle)
	assert.Equal(t, []string{"b.txt", "a.txt"}, names(result.Matches))
	assert.Zero(t, result.Degraded)
}

func TestMatchAppliesScoreRangeToFinalScore(t *testing.T) {
	retriever := &fakeRetriever{candidates: candidates(0.9, 0.8, 0.5)}
	judge := &scriptedJudge{scores: map[string]int{"a.txt": 10, "b.txt": 80, "c.txt": 100}}
	s := NewService(&fakeEmbedder{}, retriever, judge, Options{}, nil)

	r, err := ranking.NewRange(50, 90)
	require.NoError(t, err)

	result, err := s.Match(context.Background(), Request{Text: "vacancy", TopN: 3, UseJudge: true, Candidates: 3, ScoreRange: r})
	require.NoError(t, err)

	// a: 0.7*10+27 = 34, b: 56+24 = 80, c: 70+15 = 85
	assert.Equal(t, []string{"c.txt", "b.txt"}, names(result.Matches))
	assert.Equal(t, ranking.Step{Initial: 3, Dropped: 1, Left: 2}, result.Filter)
}

func TestMatchRejectsInvalidRangeBeforeAnyWork(t *testing.T) {
	embedder := &fakeEmbedder{}
	retriever := &fakeRetriever{}
	s := NewService(embedder, retriever, &scriptedJudge{}, Options{}, nil)

	_, err := s.Match(context.Background(), Request{Text: "vacancy", TopN: 5, UseJudge: true, ScoreRange: &ranking.Range{Min: 90, Max: 10}})
	require.ErrorIs(t, err, domain.ErrInvalidRange)
	assert.Zero(t, embedder.calls)
	assert.Zero(t, retriever.calls)
}

func TestMatchValidatesRequest(t *testing.T) {
	s := NewService(&fakeEmbedder{}, &fakeRetriever{}, nil, Options{}, nil)

	_, err := s.Match(context.Background(), Request{Text: "x", TopN: 0})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)

	_, err = s.Match(context.Background(), Request{Text: "x", TopN: 1, UseJudge: true})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestMatchUsesProvidedVector(t *testing.T) {
	embedder := &fakeEmbedder{}
	s := NewService(embedder, &fakeRetriever{candidates: candidates(0.9)}, nil, Options{}, nil)

	result, err := s.Match(context.Background(), Request{Vector: []float32{0, 1}, TopN: 1})
	require.NoError(t, err)
	assert.Zero(t, embedder.calls)
	assert.Len(t, result.Matches, 1)
}

func TestMatchCancellationAbortsJudging(t *testing.T) {
	retriever := &fakeRetriever{candidates: candidates(0.9, 0.8)}
	judge := &scriptedJudge{block: map[string]bool{"a.txt": true, "b.txt": true}}
	s := NewService(&fakeEmbedder{}, retriever, judge, Options{Timeout: time.Minute}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := s.Match(ctx, Request{Text: "vacancy", TopN: 2, UseJudge: true, Candidates: 2})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
