package gemini

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/spigell/resume-matcher/internal/utils"
)

const (
	defaultModel      = "gemini-2.5-flash"
	defaultMaxRetries = 3
	maxQuotaDelay     = 30 * time.Second
	maxBackoff        = 10 * time.Second
)

var (
	wait = utils.WaitFor

	retryAfterPattern = regexp.MustCompile(`(?i)retry (?:after|in) ([0-9]+(?:\.[0-9]+)?)\s*s`)
)

// contentModels is the part of genai.Models the generator and embedder use.
type contentModels interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
	EmbedContent(ctx context.Context, model string, contents []*genai.Content, config *genai.EmbedContentConfig) (*genai.EmbedContentResponse, error)
}

// Generator wraps the Google GenAI client to provide simple prompt-based interactions.
type Generator struct {
	models     contentModels
	model      string
	maxRetries int
	logger     *zap.Logger
}

// NewGenerator creates a new Generator configured for the Gemini API backend.
// maxRetries is the total number of attempts made for a retryable failure.
func NewGenerator(ctx context.Context, apiKey, model string, maxRetries int, logger *zap.Logger) (*Generator, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, errors.New("gemini api key is required")
	}

	cfg := &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	}

	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}

	if model = strings.TrimSpace(model); model == "" {
		model = defaultModel
	}
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Generator{
		models:     client.Models,
		model:      model,
		maxRetries: maxRetries,
		logger:     logger,
	}, nil
}

// GenerateContent sends the prompt to Gemini in JSON mode and returns the textual response.
func (g *Generator) GenerateContent(ctx context.Context, prompt string) (string, error) {
	if g == nil || g.models == nil {
		return "", errors.New("gemini generator is not initialized")
	}

	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return "", errors.New("prompt must not be empty")
	}

	config := &genai.GenerateContentConfig{
		Temperature:      genai.Ptr[float32](0),
		ResponseMIMEType: "application/json",
	}

	var output string
	err := g.retry(ctx, "generate content", func() error {
		resp, err := g.models.GenerateContent(ctx, g.model, genai.Text(prompt), config)
		if err != nil {
			return err
		}
		output, err = responseText(resp)
		return err
	})
	if err != nil {
		return "", err
	}

	return output, nil
}

func (g *Generator) Model() string {
	if g == nil {
		return ""
	}
	return g.model
}

func responseText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil {
		return "", errors.New("gemini api returned empty response")
	}

	var builder strings.Builder
	for _, candidate := range resp.Candidates {
		if candidate == nil || candidate.Content == nil {
			continue
		}
		for _, part := range candidate.Content.Parts {
			if part == nil {
				continue
			}
			text := strings.TrimSpace(part.Text)
			if text == "" {
				continue
			}
			if builder.Len() > 0 {
				builder.WriteString("\n")
			}
			builder.WriteString(text)
		}
	}

	output := strings.TrimSpace(builder.String())
	if output == "" {
		return "", errors.New("gemini api returned empty response")
	}

	return output, nil
}

// retry runs fn up to maxRetries times while it fails with a temporary API error.
// Quota errors asking for a longer pause than maxQuotaDelay are returned at once.
func (g *Generator) retry(ctx context.Context, op string, fn func() error) error {
	var err error
	for attempt := 1; attempt <= g.maxRetries; attempt++ {
		if err = fn(); err == nil {
			return nil
		}

		apiErr, ok := asAPIError(err)
		if !ok || !isTemporary(apiErr) {
			return fmt.Errorf("%s: %w", op, err)
		}

		delay := backoff(attempt)
		if requested, found := requestedDelay(apiErr.Message); found {
			if requested > maxQuotaDelay {
				return fmt.Errorf("%s: quota delay %s is too long: %w", op, requested, err)
			}
			delay = requested
		}

		if attempt == g.maxRetries {
			break
		}

		g.logger.Warn("gemini request failed, retrying",
			zap.String("operation", op),
			zap.Int("attempt", attempt),
			zap.Int("status_code", apiErr.Code),
			zap.Duration("delay", delay),
		)

		if werr := wait(ctx, delay); werr != nil {
			return werr
		}
	}

	return fmt.Errorf("%s: giving up after %d attempts: %w", op, g.maxRetries, err)
}

func asAPIError(err error) (*genai.APIError, bool) {
	var value genai.APIError
	if errors.As(err, &value) {
		return &value, true
	}
	var ptr *genai.APIError
	if errors.As(err, &ptr) && ptr != nil {
		return ptr, true
	}
	return nil, false
}

func isTemporary(err *genai.APIError) bool {
	return err.Code == http.StatusTooManyRequests || err.Code >= http.StatusInternalServerError
}

func requestedDelay(message string) (time.Duration, bool) {
	m := retryAfterPattern.FindStringSubmatch(message)
	if m == nil {
		return 0, false
	}
	secs, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, false
	}
	return time.Duration(secs * float64(time.Second)), true
}

func backoff(attempt int) time.Duration {
	d := time.Second << (attempt - 1)
	if d <= 0 || d > maxBackoff {
		return maxBackoff
	}
	return d
}
