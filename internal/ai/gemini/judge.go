package gemini

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode/utf8"

	_ "embed"

	"github.com/mitchellh/mapstructure"
	"go.uber.org/zap"

	"github.com/spigell/resume-matcher/internal/ai"
	"github.com/spigell/resume-matcher/internal/domain"
	"github.com/spigell/resume-matcher/internal/utils"
)

type contentGenerator interface {
	GenerateContent(ctx context.Context, prompt string) (string, error)
}

var (
	//go:embed requirements.md
	requirementsTemplate string
	//go:embed verdict.md
	verdictTemplate string
	//go:embed profile.md
	profileTemplate string
)

const (
	defaultMaxLogLength = 200
	maxVacancyRunes     = 12000
	maxResumeRunes      = 15000
	notSpecified        = "Not specified"
)

var (
	_ ai.Judge            = (*Judge)(nil)
	_ ai.ProfileExtractor = (*Judge)(nil)
)

// Judge scores candidates, parses vacancies and extracts resume profiles with Gemini.
type Judge struct {
	generator contentGenerator
	logger    *zap.Logger
	maxLogLen int
}

func NewJudge(generator contentGenerator, logger *zap.Logger, maxLogLength int) *Judge {
	if maxLogLength <= 0 {
		maxLogLength = defaultMaxLogLength
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Judge{
		generator: generator,
		logger:    logger,
		maxLogLen: maxLogLength,
	}
}

// ParseRequirements extracts structured requirements from the vacancy text.
// A response that does not decode yields ai.UnknownRequirements.
func (j *Judge) ParseRequirements(ctx context.Context, queryText string) (*ai.Requirements, error) {
	prompt := strings.ReplaceAll(requirementsTemplate, "{{VACANCY_TEXT}}", truncateRunes(queryText, maxVacancyRunes))

	raw, err := j.generate(ctx, "parse_requirements", prompt)
	if err != nil {
		return nil, err
	}

	var requirements ai.Requirements
	if err := decodeJSON(raw, &requirements); err != nil {
		j.logger.Warn("requirements response could not be parsed", zap.Error(err))
		return ai.UnknownRequirements(), nil
	}
	requirements.Normalize()

	j.logger.Debug("vacancy parsed",
		zap.String("job_title", requirements.JobTitle),
		zap.Strings("must_have_skills", requirements.MustHaveSkills),
	)

	return &requirements, nil
}

type verdictPayload struct {
	Score          float64  `mapstructure:"score"`
	Level          string   `mapstructure:"match_level"`
	MatchingSkills []string `mapstructure:"matching_skills"`
	MissingSkills  []string `mapstructure:"missing_skills"`
	Strengths      []string `mapstructure:"strengths"`
	Concerns       []string `mapstructure:"concerns"`
	Explanation    string   `mapstructure:"explanation"`
}

// Judge scores a candidate profile against the requirements. A response that
// does not decode yields ai.FallbackVerdict.
func (j *Judge) Judge(ctx context.Context, requirements *ai.Requirements, profile *ai.Profile, similarity float64) (*ai.Verdict, error) {
	if requirements == nil {
		requirements = ai.UnknownRequirements()
	}
	if profile == nil {
		profile = ai.ProfileFromFields("", nil)
	}

	raw, err := j.generate(ctx, "judge", buildVerdictPrompt(requirements, profile, similarity))
	if err != nil {
		return nil, err
	}

	verdict, err := parseVerdict(raw, similarity)
	if err != nil {
		j.logger.Warn("verdict response could not be parsed",
			zap.String("candidate", profile.Name),
			zap.Error(err),
		)
		return ai.FallbackVerdict(similarity), nil
	}

	return verdict, nil
}

// ExtractProfile extracts the structured resume fields from text.
func (j *Judge) ExtractProfile(ctx context.Context, text string) (map[string]any, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("resume text is empty: %w", domain.ErrInvalidInput)
	}

	prompt := strings.ReplaceAll(profileTemplate, "{{RESUME_TEXT}}", truncateRunes(text, maxResumeRunes))

	raw, err := j.generate(ctx, "extract_profile", prompt)
	if err != nil {
		return nil, err
	}

	var fields map[string]any
	if err := json.Unmarshal([]byte(extractJSON(raw)), &fields); err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrJudgeParse, err)
	}
	if fields == nil {
		return nil, fmt.Errorf("%w: response is not an object", domain.ErrJudgeParse)
	}

	return fields, nil
}

func (j *Judge) generate(ctx context.Context, op, prompt string) (string, error) {
	j.logger.Debug("gemini generate content request",
		zap.String("operation", op),
		zap.Int("prompt_length", utf8.RuneCountInString(prompt)),
		zap.String("prompt_preview", utils.TruncateForLog(prompt, j.maxLogLen)),
	)

	raw, err := j.generator.GenerateContent(ctx, prompt)
	if err != nil {
		return "", err
	}

	j.logger.Debug("gemini generate content response",
		zap.String("operation", op),
		zap.Int("response_length", utf8.RuneCountInString(raw)),
		zap.String("response_preview", utils.TruncateForLog(raw, j.maxLogLen)),
	)

	return raw, nil
}

func buildVerdictPrompt(r *ai.Requirements, p *ai.Profile, similarity float64) string {
	minExperience := notSpecified
	if r.MinYearsExperience != nil {
		minExperience = strconv.Itoa(*r.MinYearsExperience)
	}

	experience := "Unknown"
	if p.YearsExperience != nil {
		experience = strconv.FormatFloat(*p.YearsExperience, 'f', -1, 64)
	}

	skills := p.Skills
	if len(skills) > ai.MaxProfileSkills {
		skills = skills[:ai.MaxProfileSkills]
	}

	replacer := strings.NewReplacer(
		"{{JOB_TITLE}}", r.JobTitle,
		"{{SENIORITY}}", orDefault(r.SeniorityLevel, notSpecified),
		"{{MUST_HAVE}}", orDefault(strings.Join(r.MustHaveSkills, ", "), "None specified"),
		"{{NICE_TO_HAVE}}", orDefault(strings.Join(r.NiceToHaveSkills, ", "), "None specified"),
		"{{MIN_EXPERIENCE}}", minExperience,
		"{{REQUIREMENTS_SUMMARY}}", r.Summary,
		"{{CANDIDATE_NAME}}", p.Name,
		"{{CANDIDATE_POSITION}}", orDefault(p.CurrentPosition, "Unknown"),
		"{{CANDIDATE_EXPERIENCE}}", experience,
		"{{CANDIDATE_SKILLS}}", orDefault(strings.Join(skills, ", "), "Not listed"),
		"{{CANDIDATE_SUMMARY}}", orDefault(p.Summary, "Not provided"),
		"{{SIMILARITY}}", strconv.FormatFloat(similarity, 'f', 3, 64),
	)

	return replacer.Replace(verdictTemplate)
}

func parseVerdict(raw string, similarity float64) (*ai.Verdict, error) {
	var payload verdictPayload
	if err := decodeJSON(raw, &payload); err != nil {
		return nil, err
	}
	if math.IsNaN(payload.Score) || math.IsInf(payload.Score, 0) {
		return nil, fmt.Errorf("%w: score is not a number", domain.ErrJudgeParse)
	}

	level := ai.Level(strings.ToLower(strings.TrimSpace(payload.Level)))
	if level == "" {
		level = ai.LevelUnknown
	}

	explanation := strings.TrimSpace(payload.Explanation)
	if explanation == "" {
		explanation = "No explanation provided"
	}

	return &ai.Verdict{
		Score:          clampScore(payload.Score),
		Level:          level,
		MatchingSkills: nonNil(payload.MatchingSkills),
		MissingSkills:  nonNil(payload.MissingSkills),
		Strengths:      nonNil(payload.Strengths),
		Concerns:       nonNil(payload.Concerns),
		Explanation:    explanation,
		Similarity:     similarity,
	}, nil
}

// decodeJSON decodes a JSON object response into out, converting loosely typed
// values such as "85" or a single string in place of a list.
func decodeJSON(raw string, out any) error {
	var data map[string]any
	if err := json.Unmarshal([]byte(extractJSON(raw)), &data); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrJudgeParse, err)
	}
	if data == nil {
		return fmt.Errorf("%w: response is not an object", domain.ErrJudgeParse)
	}

	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(data); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrJudgeParse, err)
	}
	return nil
}

// extractJSON strips markdown fences and any prose around the outermost object.
func extractJSON(raw string) string {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "```") {
		raw = strings.TrimPrefix(raw, "```json")
		raw = strings.TrimPrefix(raw, "```")
		raw = strings.TrimSpace(raw)
		if idx := strings.LastIndex(raw, "```"); idx != -1 {
			raw = raw[:idx]
		}
	}
	raw = strings.Trim(raw, "`")

	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start != -1 && end > start {
		raw = raw[start : end+1]
	}
	return strings.TrimSpace(raw)
}

func clampScore(score float64) int {
	return int(math.Round(math.Max(0, math.Min(100, score))))
}

func nonNil(items []string) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func orDefault(value, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return value
}

func truncateRunes(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	return string([]rune(s)[:limit])
}
