package classify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/felo/reportmaster/internal/model"
)

const (
	defaultModel     = "claude-sonnet-4-5-20250929"
	defaultMaxTokens = 64
	defaultEndpoint  = "https://api.anthropic.com/v1/messages"
	apiVersion       = "2023-06-01"

	keywordCount   = 10
	sampleMaxRunes = 500
)

// ErrUnauthorized is returned once the API has rejected the key. Later calls
// fail fast with it instead of hitting the API again.
var ErrUnauthorized = errors.New("classify: api key rejected")

// AnthropicClassifier asks the Claude Messages API for a short category name.
type AnthropicClassifier struct {
	apiKey    string
	model     string
	maxTokens int
	endpoint  string
	client    *http.Client
	rejected  atomic.Bool
}

// AnthropicOption configures an AnthropicClassifier.
type AnthropicOption func(*AnthropicClassifier)

// WithEndpoint overrides the Messages API URL.
func WithEndpoint(url string) AnthropicOption {
	return func(c *AnthropicClassifier) { c.endpoint = url }
}

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(hc *http.Client) AnthropicOption {
	return func(c *AnthropicClassifier) { c.client = hc }
}

// NewAnthropic creates a classifier. Empty model or non-positive maxTokens
// select the defaults.
func NewAnthropic(apiKey, modelName string, maxTokens int, opts ...AnthropicOption) (*AnthropicClassifier, error) {
	if apiKey == "" {
		return nil, errors.New("classify: anthropic classifier needs an api key")
	}
	if modelName == "" {
		modelName = defaultModel
	}
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	c := &AnthropicClassifier{
		apiKey:    apiKey,
		model:     modelName,
		maxTokens: maxTokens,
		endpoint:  defaultEndpoint,
		client:    &http.Client{Timeout: 60 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

type apiRequest struct {
	Model     string       `json:"model"`
	MaxTokens int          `json:"max_tokens"`
	Messages  []apiMessage `json:"messages"`
}

type apiMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type apiContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type apiResponse struct {
	Content    []apiContentBlock `json:"content"`
	StopReason string            `json:"stop_reason"`
}

type apiErrorResponse struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// Classify implements Classifier.
func (c *AnthropicClassifier) Classify(ctx context.Context, t *model.Thread) (string, error) {
	if c.rejected.Load() {
		return "", ErrUnauthorized
	}

	reqBody := apiRequest{
		Model:     c.model,
		MaxTokens: c.maxTokens,
		Messages:  []apiMessage{{Role: "user", Content: buildPrompt(t)}},
	}
	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(bodyBytes))
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("anthropic-version", apiVersion)

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("calling Claude API: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		c.rejected.Store(true)
		return "", fmt.Errorf("%w (%d)", ErrUnauthorized, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		var apiErr apiErrorResponse
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Error.Message != "" {
			return "", fmt.Errorf("API error (%d): %s", resp.StatusCode, apiErr.Error.Message)
		}
		return "", fmt.Errorf("API error (%d): %s", resp.StatusCode, string(respBody))
	}

	var result apiResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return "", fmt.Errorf("decoding response: %w", err)
	}

	var text strings.Builder
	for _, block := range result.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	return parseCategory(text.String()), nil
}

func buildPrompt(t *model.Thread) string {
	var sb strings.Builder
	sb.WriteString("Name the category of this email conversation in 2-4 words.\n\n")
	fmt.Fprintf(&sb, "Subject: %s\n", StripSubject(t.Subject))
	fmt.Fprintf(&sb, "Keywords: %s\n\n", strings.Join(Keywords(t, keywordCount), ", "))
	sb.WriteString("Sample:\n")
	sb.WriteString(Sample(t, sampleMaxRunes))
	sb.WriteString("\n\nAnswer with exactly one line:\nCategory: <name>")
	return sb.String()
}

// parseCategory takes the value of a "Category:" line, or failing that the
// first non-empty line.
func parseCategory(text string) string {
	var first string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if first == "" {
			first = line
		}
		key, value, ok := strings.Cut(line, ":")
		if ok && strings.EqualFold(strings.TrimSpace(key), "category") {
			return strings.Trim(strings.TrimSpace(value), `"'`)
		}
	}
	return strings.Trim(first, `"'`)
}
