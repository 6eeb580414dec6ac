package corpus

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/spigell/resume-matcher/internal/domain"
)

// EncodeFields serialises structured fields. A nil map is stored as an empty object.
func EncodeFields(fields map[string]any) (string, error) {
	if len(fields) == 0 {
		return "{}", nil
	}
	data, err := json.Marshal(fields)
	if err != nil {
		return "", fmt.Errorf("marshal fields: %w", err)
	}
	return string(data), nil
}

// DecodeFields parses stored fields, always returning a non-nil map.
func DecodeFields(data []byte) (map[string]any, error) {
	fields := make(map[string]any)
	if len(data) == 0 {
		return fields, nil
	}
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, fmt.Errorf("unmarshal fields: %w", err)
	}
	if fields == nil {
		fields = make(map[string]any)
	}
	return fields, nil
}

// CheckDimension validates a vector against the corpus dimension.
func CheckDimension(v []float32, dimension int) error {
	if dimension > 0 && len(v) != dimension {
		return fmt.Errorf("%w: got %d, corpus uses %d", domain.ErrDimensionMismatch, len(v), dimension)
	}
	return nil
}

// Placeholders builds a comma separated list of n bind parameters. When numbered
// is true the postgres $N form starting at offset+1 is used.
func Placeholders(n, offset int, numbered bool) string {
	parts := make([]string, n)
	for i := range parts {
		if numbered {
			parts[i] = fmt.Sprintf("$%d", offset+i+1)
		} else {
			parts[i] = "?"
		}
	}
	return strings.Join(parts, ", ")
}

// GroupDuplicates folds refs into duplicate groups. refs must already be ordered by
// content hash and then by preference (most recent first).
func GroupDuplicates(refs []domain.DocumentRef) []domain.DuplicateGroup {
	groups := make([]domain.DuplicateGroup, 0)
	for _, ref := range refs {
		n := len(groups)
		if n > 0 && groups[n-1].ContentHash == ref.ContentHash {
			groups[n-1].Members = append(groups[n-1].Members, ref)
			continue
		}
		groups = append(groups, domain.DuplicateGroup{
			ContentHash: ref.ContentHash,
			Members:     []domain.DocumentRef{ref},
		})
	}

	result := groups[:0]
	for _, g := range groups {
		if len(g.Members) > 1 {
			result = append(result, g)
		}
	}
	return result
}

// SortHits orders hits by similarity descending with ascending id on ties.
func SortHits(hits []domain.Hit) {
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Similarity != hits[j].Similarity {
			return hits[i].Similarity > hits[j].Similarity
		}
		return hits[i].ID < hits[j].ID
	})
}
