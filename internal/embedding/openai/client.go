// Package openai embeds text through an OpenAI-compatible /embeddings endpoint.
// Ollama's native {"embedding": [...]} shape is accepted as well.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/spigell/resume-matcher/internal/embedding"
	"github.com/spigell/resume-matcher/internal/utils"
)

const (
	defaultBaseURL    = "https://api.openai.com/v1"
	defaultModel      = "text-embedding-3-small"
	defaultTimeout    = 30 * time.Second
	defaultMaxRetries = 5
)

var _ embedding.Model = (*Client)(nil)

var wait = utils.WaitFor

type Config struct {
	BaseURL    string
	APIKey     string
	Model      string
	Dimensions int
	Timeout    time.Duration
	MaxRetries int
}

// Client is an OpenAI-compatible embeddings client.
type Client struct {
	baseURL    string
	apiKey     string
	model      string
	dimensions int
	maxRetries int
	client     *http.Client
	logger     *zap.Logger
}

func NewClient(cfg Config, logger *zap.Logger) (*Client, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MaxRetries < 0 {
		return nil, errors.New("max retries must not be negative")
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = defaultMaxRetries
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     strings.TrimSpace(cfg.APIKey),
		model:      cfg.Model,
		dimensions: cfg.Dimensions,
		maxRetries: cfg.MaxRetries,
		client:     &http.Client{Timeout: cfg.Timeout},
		logger:     logger,
	}, nil
}

func (c *Client) Model() string { return c.model }

type request struct {
	Input      []string `json:"input"`
	Model      string   `json:"model"`
	Dimensions int      `json:"dimensions,omitempty"`
}

type response struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float64 `json:"embedding"`
	} `json:"data"`
	// Ollama native shape, single input only.
	Embedding []float64 `json:"embedding"`
}

// EmbedTexts embeds texts in one request. Results are ordered by the index the
// server reports, not by the order of the data array.
func (c *Client) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	body, err := json.Marshal(request{Input: texts, Model: c.model, Dimensions: c.dimensions})
	if err != nil {
		return nil, fmt.Errorf("marshal embeddings request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			if err := wait(ctx, lastDelay(lastErr, attempt-1)); err != nil {
				return nil, err
			}
		}

		payload, err := c.do(ctx, body)
		if err == nil {
			return decode(payload, len(texts))
		}
		if !isRetryable(err) || ctx.Err() != nil {
			return nil, err
		}

		lastErr = err
		c.logger.Debug("embeddings request failed, retrying",
			zap.Int("attempt", attempt+1),
			zap.Error(err),
		)
	}

	return nil, fmt.Errorf("embeddings request failed after %d attempts: %w", c.maxRetries+1, lastErr)
}

type statusError struct {
	status     int
	text       string
	retryAfter time.Duration
}

func (e *statusError) Error() string {
	return fmt.Sprintf("embeddings request failed: %s", e.text)
}

func (c *Client) do(ctx context.Context, body []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build embeddings request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send embeddings request: %w", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read embeddings response: %w", err)
	}

	if resp.StatusCode >= 300 {
		serr := &statusError{status: resp.StatusCode, text: resp.Status}
		if secs, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil && secs > 0 {
			serr.retryAfter = time.Duration(secs) * time.Second
		}
		return nil, serr
	}

	return payload, nil
}

func isRetryable(err error) bool {
	var serr *statusError
	if errors.As(err, &serr) {
		return serr.status == http.StatusTooManyRequests || serr.status >= 500
	}
	// Transport failures.
	return true
}

func lastDelay(err error, attempt int) time.Duration {
	var serr *statusError
	if errors.As(err, &serr) && serr.retryAfter > 0 {
		return serr.retryAfter
	}
	return retryDelay(attempt)
}

// retryDelay is an exponential backoff starting at 200ms, capped at 5s.
func retryDelay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if attempt > 5 {
		return 5 * time.Second
	}
	d := 200 * time.Millisecond << attempt
	if d > 5*time.Second {
		d = 5 * time.Second
	}
	return d
}

func decode(payload []byte, want int) ([][]float32, error) {
	var out response
	if err := json.Unmarshal(payload, &out); err != nil {
		return nil, fmt.Errorf("decode embeddings response: %w", err)
	}

	if len(out.Data) == 0 && len(out.Embedding) > 0 && want == 1 {
		return [][]float32{toFloat32(out.Embedding)}, nil
	}

	if len(out.Data) != want {
		return nil, fmt.Errorf("embeddings response has %d items, want %d", len(out.Data), want)
	}

	sort.SliceStable(out.Data, func(i, j int) bool { return out.Data[i].Index < out.Data[j].Index })

	vectors := make([][]float32, want)
	for i, item := range out.Data {
		if item.Index != i {
			return nil, fmt.Errorf("embeddings response index %d out of sequence", item.Index)
		}
		vectors[i] = toFloat32(item.Embedding)
	}

	return vectors, nil
}

func toFloat32(v []float64) []float32 {
	out := make([]float32, len(v))
	for i, f := range v {
		out[i] = float32(f)
	}
	return out
}
