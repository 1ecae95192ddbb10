package cluster

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"time"
)

// LLMClient is the disambiguation-model surface the adjudicator needs.
type LLMClient interface {
	// Complete sends one system prompt and one user message and returns the
	// raw text of the model's reply.
	Complete(ctx context.Context, system, user string) (string, error)
}

// ErrNoAPIKey indicates the model client was configured without credentials.
var ErrNoAPIKey = errors.New("model API key required")

const (
	defaultModelBaseURL = "https://api.anthropic.com"
	defaultModel        = "claude-sonnet-4-20250514"
	defaultMaxTokens    = 256
	defaultHTTPTimeout  = 60 * time.Second
	defaultMaxRetries   = 3
	defaultBaseBackoff  = time.Second
)

// ClientConfig configures the Anthropic messages-API client.
type ClientConfig struct {
	// APIKey authenticates requests. Required.
	APIKey string

	// BaseURL overrides the API endpoint, e.g. for a proxy.
	BaseURL string

	// Model names the model to call.
	Model string

	// MaxTokens caps the reply length. Adjudication replies are one line,
	// so the default is small.
	MaxTokens int

	// Timeout bounds a single HTTP request.
	Timeout time.Duration

	// MaxRetries is the number of retries after a transient failure.
	MaxRetries int
}

// AnthropicClient calls the Anthropic messages API.
type AnthropicClient struct {
	apiKey      string
	baseURL     string
	model       string
	maxTokens   int
	maxRetries  int
	baseBackoff time.Duration
	httpClient  *http.Client
}

// NewAnthropicClient creates a messages-API client.
func NewAnthropicClient(cfg ClientConfig) (*AnthropicClient, error) {
	if cfg.APIKey == "" {
		return nil, ErrNoAPIKey
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultModelBaseURL
	}
	model := cfg.Model
	if model == "" {
		model = defaultModel
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}
	maxRetries := cfg.MaxRetries
	if maxRetries < 0 {
		maxRetries = defaultMaxRetries
	}

	return &AnthropicClient{
		apiKey:      cfg.APIKey,
		baseURL:     baseURL,
		model:       model,
		maxTokens:   maxTokens,
		maxRetries:  maxRetries,
		baseBackoff: defaultBaseBackoff,
		httpClient:  &http.Client{Timeout: timeout},
	}, nil
}

type messagesRequest struct {
	Model       string    `json:"model"`
	MaxTokens   int       `json:"max_tokens"`
	System      string    `json:"system,omitempty"`
	Messages    []message `json:"messages"`
	Temperature float64   `json:"temperature"`
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type messagesResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
}

type messagesError struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// Complete sends the prompt pair and returns the reply text. Stored content
// is scrubbed for secret-shaped strings before leaving the process. Transient
// failures (connection errors, 429, 5xx) are retried with exponential
// backoff.
func (c *AnthropicClient) Complete(ctx context.Context, system, user string) (string, error) {
	req := messagesRequest{
		Model:     c.model,
		MaxTokens: c.maxTokens,
		System:    system,
		Messages:  []message{{Role: "user", Content: scrub(user)}},
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			wait := c.baseBackoff * time.Duration(1<<(attempt-1))
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}

		reply, err := c.send(ctx, req)
		if err == nil {
			return reply, nil
		}
		if !isTransient(err) {
			return "", err
		}
		lastErr = err
	}
	return "", fmt.Errorf("model call retries exhausted: %w", lastErr)
}

func (c *AnthropicClient) send(ctx context.Context, req messagesRequest) (string, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-API-Key", c.apiKey)
	httpReq.Header.Set("Anthropic-Version", "2023-06-01")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", &transientError{err: fmt.Errorf("model request: %w", err)}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return "", &transientError{err: errors.New("model rate limited (429)")}
	case resp.StatusCode >= 500:
		return "", &transientError{err: fmt.Errorf("model server error (%d)", resp.StatusCode)}
	case resp.StatusCode != http.StatusOK:
		var apiErr messagesError
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Error.Message != "" {
			return "", fmt.Errorf("model error (%d): %s", resp.StatusCode, apiErr.Error.Message)
		}
		return "", fmt.Errorf("model error (%d)", resp.StatusCode)
	}

	var parsed messagesResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", fmt.Errorf("parse response: %w", err)
	}
	if len(parsed.Content) == 0 {
		return "", errors.New("empty model reply")
	}
	return parsed.Content[0].Text, nil
}

// transientError marks a failure worth retrying.
type transientError struct {
	err error
}

func (e *transientError) Error() string { return e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }

func isTransient(err error) bool {
	var te *transientError
	return errors.As(err, &te)
}

// secretPatterns match credential-shaped strings that must not leave the
// process inside a prompt. Ordered most specific first.
var secretPatterns = []struct {
	re          *regexp.Regexp
	replacement string
}{
	{regexp.MustCompile(`sk-ant-[a-zA-Z0-9-]{20,}`), "[REDACTED]"},
	{regexp.MustCompile(`sk-[a-zA-Z0-9]{20,}`), "[REDACTED]"},
	{regexp.MustCompile(`(?i)bearer\s+[a-zA-Z0-9_\-.=]{20,}`), "[REDACTED]"},
	{regexp.MustCompile(`(?i)(api[_-]?key|token|secret|password|passwd)\s*[:=]\s*["']?[^"'\s]{8,}["']?`), "$1=[REDACTED]"},
	{regexp.MustCompile(`-----BEGIN [A-Z ]*PRIVATE KEY-----[\s\S]*?-----END [A-Z ]*PRIVATE KEY-----`), "[REDACTED]"},
}

// scrub redacts secret-shaped substrings from content bound for the model.
func scrub(content string) string {
	for _, p := range secretPatterns {
		content = p.re.ReplaceAllString(content, p.replacement)
	}
	return content
}
