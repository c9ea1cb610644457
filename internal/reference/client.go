package reference

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"reelswap/internal/config"
	"reelswap/internal/retry"
	"reelswap/internal/services"
)

const (
	component          = "reference"
	defaultBaseURL     = "https://api.perplexity.ai/chat/completions"
	defaultModel       = "sonar"
	defaultHTTPTimeout = 60 * time.Second
)

// Client talks to the chat completions endpoint.
type Client struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
	budget     retry.Budget
	retryOpts  []retry.Option
}

// Option customises the client.
type Option func(*Client)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithRetryBudget overrides the per-request retry budget.
func WithRetryBudget(budget retry.Budget) Option {
	return func(c *Client) {
		c.budget = budget
	}
}

// WithRetryOptions passes options to every retry.Do call (tests use a
// recording sleeper).
func WithRetryOptions(opts ...retry.Option) Option {
	return func(c *Client) {
		c.retryOpts = append(c.retryOpts, opts...)
	}
}

// New builds a client from the reference settings.
func New(cfg config.Reference, opts ...Option) (*Client, error) {
	key := strings.TrimSpace(cfg.APIKey)
	if key == "" {
		return nil, services.Wrap(services.ErrConfiguration, component, "init", "api key is required", nil)
	}
	timeout := defaultHTTPTimeout
	if cfg.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}
	c := &Client{
		apiKey:     key,
		baseURL:    strings.TrimSpace(cfg.BaseURL),
		model:      strings.TrimSpace(cfg.Model),
		httpClient: &http.Client{Timeout: timeout},
		budget:     retry.Budget{Attempts: 2, Initial: time.Second, Max: 10 * time.Second},
	}
	if c.baseURL == "" {
		c.baseURL = defaultBaseURL
	}
	if c.model == "" {
		c.model = defaultModel
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

type chatRequest struct {
	Model              string          `json:"model"`
	Messages           []chatMessage   `json:"messages"`
	ResponseFormat     *responseFormat `json:"response_format,omitempty"`
	SearchDomainFilter []string        `json:"search_domain_filter,omitempty"`
	ReturnImages       bool            `json:"return_images,omitempty"`
	MediaResponse      *mediaResponse  `json:"media_response,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responseFormat struct {
	Type       string     `json:"type"`
	JSONSchema jsonSchema `json:"json_schema"`
}

type jsonSchema struct {
	Schema json.RawMessage `json:"schema"`
}

type mediaResponse struct {
	EnableMediaClassifier bool `json:"enable_media_classifier"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Images []struct {
		ImageURL  string `json:"image_url"`
		OriginURL string `json:"origin_url"`
	} `json:"images"`
}

func (r chatResponse) content() string {
	for _, choice := range r.Choices {
		if content := strings.TrimSpace(choice.Message.Content); content != "" {
			return content
		}
	}
	return ""
}

// ask sends one prompt with a JSON schema and decodes the model's JSON answer
// into target. The raw response is returned for callers that read images.
func (c *Client) ask(ctx context.Context, op, prompt string, schema json.RawMessage, domains []string, target any) (chatResponse, error) {
	payload := chatRequest{
		Model:              c.model,
		Messages:           []chatMessage{{Role: "user", Content: prompt}},
		ResponseFormat:     &responseFormat{Type: "json_schema", JSONSchema: jsonSchema{Schema: schema}},
		SearchDomainFilter: domains,
		ReturnImages:       true,
		MediaResponse:      &mediaResponse{EnableMediaClassifier: true},
	}
	var resp chatResponse
	err := retry.Do(ctx, c.budget, func(ctx context.Context) error {
		var err error
		resp, err = c.sendOnce(ctx, payload)
		if err != nil {
			return err
		}
		content := resp.content()
		if content == "" {
			return services.Wrap(services.ErrTransient, component, op, "empty content", nil)
		}
		if err := DecodeJSON(content, target); err != nil {
			return services.Wrap(services.ErrExternalTool, component, op, "decode answer", err)
		}
		return nil
	}, c.retryOpts...)
	return resp, err
}

func (c *Client) sendOnce(ctx context.Context, payload chatRequest) (chatResponse, error) {
	var out chatResponse
	encoded, err := json.Marshal(payload)
	if err != nil {
		return out, fmt.Errorf("reference request: encode body: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(encoded))
	if err != nil {
		return out, fmt.Errorf("reference request: new request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return out, err
		}
		return out, services.Wrap(services.ErrTransient, component, "request", "", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return out, services.Wrap(services.ErrTransient, component, "request", "read body", err)
	}
	if resp.StatusCode >= http.StatusMultipleChoices {
		return out, services.NewHTTPError("reference", resp, body)
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return out, services.Wrap(services.ErrExternalTool, component, "request", "decode response: "+services.Snippet(string(body), 160), err)
	}
	return out, nil
}

// DecodeJSON decodes a model answer, tolerating code fences and leading prose.
func DecodeJSON(content string, target any) error {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return errors.New("empty payload")
	}
	directErr := json.Unmarshal([]byte(trimmed), target)
	if directErr == nil {
		return nil
	}
	sanitized := sanitizeJSON(trimmed)
	if sanitized == "" || sanitized == trimmed {
		return fmt.Errorf("%w (payload snippet: %s)", directErr, services.Snippet(trimmed, 160))
	}
	if err := json.Unmarshal([]byte(sanitized), target); err != nil {
		return fmt.Errorf("%w (sanitized payload snippet: %s)", err, services.Snippet(sanitized, 160))
	}
	return nil
}

func sanitizeJSON(content string) string {
	trimmed := strings.TrimSpace(stripCodeFence(content))
	if trimmed == "" {
		return ""
	}
	if trimmed[0] == '{' || trimmed[0] == '[' {
		return trimmed
	}
	if start := strings.Index(trimmed, "{"); start >= 0 {
		if end := strings.LastIndex(trimmed, "}"); end > start {
			return strings.TrimSpace(trimmed[start : end+1])
		}
	}
	return trimmed
}

func stripCodeFence(content string) string {
	trimmed := strings.TrimSpace(content)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	body := strings.TrimLeft(trimmed[3:], " \t\r\n")
	if len(body) >= 4 && strings.EqualFold(body[:4], "json") {
		body = strings.TrimLeft(body[4:], " \t\r\n")
	}
	if idx := strings.LastIndex(body, "```"); idx >= 0 {
		body = body[:idx]
	}
	return strings.TrimSpace(body)
}
