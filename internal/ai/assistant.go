// Package ai defines the relevance judge contract: requirements parsed from a
// vacancy, candidate profiles and the verdicts a judge returns for them.
package ai

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/mitchellh/mapstructure"
)

// Level is the categorical match level of a verdict.
type Level string

const (
	LevelExcellent Level = "excellent"
	LevelGood      Level = "good"
	LevelPartial   Level = "partial"
	LevelPoor      Level = "poor"
	// LevelUnknown is used when the judge omitted the level.
	LevelUnknown Level = "unknown"
	// LevelError marks a fallback verdict.
	LevelError Level = "error"
)

const (
	unknownTitle = "Unknown"
	// MaxProfileSkills bounds the skills sent to the judge per candidate.
	MaxProfileSkills    = 30
	fallbackExplanation = "scoring failed"
)

// Requirements are the structured requirements of a vacancy.
type Requirements struct {
	JobTitle           string   `json:"job_title" yaml:"job_title" mapstructure:"job_title"`
	Department         string   `json:"department,omitempty" yaml:"department,omitempty" mapstructure:"department"`
	SeniorityLevel     string   `json:"seniority_level,omitempty" yaml:"seniority_level,omitempty" mapstructure:"seniority_level"`
	MustHaveSkills     []string `json:"must_have_skills" yaml:"must_have_skills" mapstructure:"must_have_skills"`
	NiceToHaveSkills   []string `json:"nice_to_have_skills" yaml:"nice_to_have_skills" mapstructure:"nice_to_have_skills"`
	MinYearsExperience *int     `json:"min_years_experience,omitempty" yaml:"min_years_experience,omitempty" mapstructure:"min_years_experience"`
	Responsibilities   []string `json:"responsibilities" yaml:"responsibilities" mapstructure:"responsibilities"`
	Location           string   `json:"location,omitempty" yaml:"location,omitempty" mapstructure:"location"`
	RemoteOK           bool     `json:"remote_ok" yaml:"remote_ok" mapstructure:"remote_ok"`
	Summary            string   `json:"summary" yaml:"summary" mapstructure:"summary"`
}

// UnknownRequirements is the value used when requirements could not be parsed.
func UnknownRequirements() *Requirements {
	r := &Requirements{JobTitle: unknownTitle}
	r.Normalize()
	return r
}

// Normalize trims strings and replaces nil lists with empty ones.
func (r *Requirements) Normalize() {
	r.JobTitle = strings.TrimSpace(r.JobTitle)
	if r.JobTitle == "" {
		r.JobTitle = unknownTitle
	}
	r.Department = strings.TrimSpace(r.Department)
	r.SeniorityLevel = strings.TrimSpace(r.SeniorityLevel)
	r.Location = strings.TrimSpace(r.Location)
	r.Summary = strings.TrimSpace(r.Summary)
	r.MustHaveSkills = cleanList(r.MustHaveSkills)
	r.NiceToHaveSkills = cleanList(r.NiceToHaveSkills)
	r.Responsibilities = cleanList(r.Responsibilities)
}

// Profile is the projection of a stored document that is sent to the judge.
type Profile struct {
	Name            string   `json:"name"`
	CurrentPosition string   `json:"current_position,omitempty"`
	YearsExperience *float64 `json:"years_experience,omitempty"`
	Skills          []string `json:"skills"`
	Summary         string   `json:"summary,omitempty"`
}

type profileFields struct {
	FullName        string   `mapstructure:"full_name"`
	CurrentPosition string   `mapstructure:"current_position"`
	YearsExperience *float64 `mapstructure:"years_experience"`
	Skills          []string `mapstructure:"skills"`
	Summary         string   `mapstructure:"summary"`
}

// ProfileFromFields builds a profile from the structured fields stored for a
// document. Decoding is best effort: fields of an unexpected shape are left empty.
// The name falls back to the file name of location, then to "Unknown".
func ProfileFromFields(location string, fields map[string]any) *Profile {
	var decoded profileFields
	if dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           &decoded,
	}); err == nil {
		_ = dec.Decode(fields)
	}

	name := strings.TrimSpace(decoded.FullName)
	if name == "" && strings.TrimSpace(location) != "" {
		name = filepath.Base(location)
	}
	if name == "" {
		name = unknownTitle
	}

	skills := cleanList(decoded.Skills)
	if len(skills) > MaxProfileSkills {
		skills = skills[:MaxProfileSkills]
	}

	return &Profile{
		Name:            name,
		CurrentPosition: strings.TrimSpace(decoded.CurrentPosition),
		YearsExperience: decoded.YearsExperience,
		Skills:          skills,
		Summary:         strings.TrimSpace(decoded.Summary),
	}
}

// Verdict is the judge's assessment of one candidate.
type Verdict struct {
	Score          int      `json:"score" yaml:"score"`
	Level          Level    `json:"match_level" yaml:"match_level"`
	MatchingSkills []string `json:"matching_skills" yaml:"matching_skills"`
	MissingSkills  []string `json:"missing_skills" yaml:"missing_skills"`
	Strengths      []string `json:"strengths" yaml:"strengths"`
	Concerns       []string `json:"concerns" yaml:"concerns"`
	Explanation    string   `json:"explanation" yaml:"explanation"`
	// Similarity is the retrieval similarity the verdict was requested with.
	Similarity float64 `json:"similarity" yaml:"similarity"`
}

// FallbackVerdict is used in place of a verdict that could not be obtained.
func FallbackVerdict(similarity float64) *Verdict {
	return &Verdict{
		Score:          0,
		Level:          LevelError,
		MatchingSkills: []string{},
		MissingSkills:  []string{},
		Strengths:      []string{},
		Concerns:       []string{},
		Explanation:    fallbackExplanation,
		Similarity:     similarity,
	}
}

// IsFallback reports whether v stands in for a failed judgement.
func (v *Verdict) IsFallback() bool {
	return v == nil || v.Level == LevelError
}

// Judge is the remote relevance judge. Implementations recover malformed
// responses locally and only return errors for failed calls.
type Judge interface {
	ParseRequirements(ctx context.Context, queryText string) (*Requirements, error)
	Judge(ctx context.Context, requirements *Requirements, profile *Profile, similarity float64) (*Verdict, error)
}

// ProfileExtractor extracts structured fields from a document's text at ingest.
type ProfileExtractor interface {
	ExtractProfile(ctx context.Context, text string) (map[string]any, error)
}

func cleanList(items []string) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
