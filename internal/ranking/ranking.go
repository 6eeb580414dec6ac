// Package ranking fuses retrieval similarity with judge verdicts and orders the
// final result list.
package ranking

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/spigell/resume-matcher/internal/ai"
	"github.com/spigell/resume-matcher/internal/domain"
	"github.com/spigell/resume-matcher/internal/retrieval"
)

const (
	JudgeWeight      = 0.7
	SimilarityWeight = 0.3
)

// Match is one ranked candidate. Score is the final ranking key: the fused score
// when a verdict is present, otherwise the similarity as a percentage.
type Match struct {
	ID         int64          `json:"id" yaml:"id"`
	Location   string         `json:"location" yaml:"location"`
	Name       string         `json:"name" yaml:"name"`
	Fields     map[string]any `json:"fields,omitempty" yaml:"fields,omitempty"`
	Similarity float64        `json:"similarity" yaml:"similarity"`
	// Rank is the 1-based position the candidate was retrieved at.
	Rank    int         `json:"retrieval_rank" yaml:"retrieval_rank"`
	Verdict *ai.Verdict `json:"verdict,omitempty" yaml:"verdict,omitempty"`
	Score   float64     `json:"score" yaml:"score"`
}

// Fuse combines a judge score with a retrieval similarity into [0, 100].
func Fuse(similarity float64, judgeScore int) float64 {
	combined := JudgeWeight*float64(judgeScore) + SimilarityWeight*(similarity*100)
	return round2(clamp(combined))
}

// SimilarityScore expresses a similarity as a percentage.
func SimilarityScore(similarity float64) float64 {
	return round2(clamp(similarity * 100))
}

// FromCandidates turns retrieved candidates into unjudged matches.
func FromCandidates(candidates []retrieval.Candidate) []Match {
	matches := make([]Match, len(candidates))
	for i, c := range candidates {
		matches[i] = Match{
			ID:         c.ID,
			Location:   c.Location,
			Name:       ai.ProfileFromFields(c.Location, c.Fields).Name,
			Fields:     c.Fields,
			Similarity: c.Similarity,
			Rank:       c.Rank,
			Score:      SimilarityScore(c.Similarity),
		}
	}
	return matches
}

// ApplyVerdict attaches v to m and replaces its score with the fused one.
func ApplyVerdict(m *Match, v *ai.Verdict) {
	if v == nil {
		return
	}
	m.Verdict = v
	m.Score = Fuse(m.Similarity, v.Score)
}

// Rank orders matches by score descending, ties by ascending retrieval rank,
// and keeps at most topN of them. topN <= 0 keeps all.
func Rank(matches []Match, topN int) []Match {
	sorted := make([]Match, len(matches))
	copy(sorted, matches)

	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Score != sorted[j].Score {
			return sorted[i].Score > sorted[j].Score
		}
		return sorted[i].Rank < sorted[j].Rank
	})

	if topN > 0 && len(sorted) > topN {
		sorted = sorted[:topN]
	}
	return sorted
}

// Range is a closed score interval within [0, 100].
type Range struct {
	Min float64 `json:"min" yaml:"min"`
	Max float64 `json:"max" yaml:"max"`
}

func NewRange(min, max float64) (*Range, error) {
	r := &Range{Min: min, Max: max}
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Range) Validate() error {
	if r == nil {
		return nil
	}
	if math.IsNaN(r.Min) || math.IsNaN(r.Max) || r.Min < 0 || r.Max > 100 || r.Min > r.Max {
		return fmt.Errorf("%w: [%v, %v]", domain.ErrInvalidRange, r.Min, r.Max)
	}
	return nil
}

func (r *Range) Contains(score float64) bool {
	return r == nil || (score >= r.Min && score <= r.Max)
}

func (r *Range) String() string {
	if r == nil {
		return "any"
	}
	return fmt.Sprintf("%g-%g", r.Min, r.Max)
}

// ParseRange parses "min-max", for example "80-100". An empty string means no range.
func ParseRange(s string) (*Range, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}

	lo, hi, ok := strings.Cut(s, "-")
	if !ok {
		return nil, fmt.Errorf("%w: %q is not in min-max form", domain.ErrInvalidRange, s)
	}

	min, err := strconv.ParseFloat(strings.TrimSpace(lo), 64)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %w", domain.ErrInvalidRange, s, err)
	}
	max, err := strconv.ParseFloat(strings.TrimSpace(hi), 64)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %w", domain.ErrInvalidRange, s, err)
	}

	return NewRange(min, max)
}

// Step reports how many matches a filter pass dropped.
type Step struct {
	Initial int `json:"initial" yaml:"initial"`
	Dropped int `json:"dropped" yaml:"dropped"`
	Left    int `json:"left" yaml:"left"`
}

// Filter keeps the matches whose final score lies in r, preserving order.
func Filter(matches []Match, r *Range) ([]Match, Step) {
	kept := make([]Match, 0, len(matches))
	for _, m := range matches {
		if r.Contains(m.Score) {
			kept = append(kept, m)
		}
	}
	return kept, Step{Initial: len(matches), Dropped: len(matches) - len(kept), Left: len(kept)}
}

func clamp(v float64) float64 {
	return math.Max(0, math.Min(100, v))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
