// Package transcribe turns a clip's audio into text with the OpenAI audio
// transcription endpoint.
package transcribe

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"reelswap/internal/config"
	"reelswap/internal/services"
)

const (
	component      = "transcribe"
	defaultModel   = "whisper-1"
	defaultTimeout = 120 * time.Second
)

// Client transcribes local media files.
type Client struct {
	api      openai.Client
	model    string
	language string
}

// Option customises the client.
type Option func(*[]option.RequestOption)

// WithHTTPClient routes requests through client (tests).
func WithHTTPClient(client *http.Client) Option {
	return func(opts *[]option.RequestOption) {
		if client != nil {
			*opts = append(*opts, option.WithHTTPClient(client))
		}
	}
}

// New builds a client from the transcription settings. Retries are left to the
// caller's budget, so the SDK's own retry loop is disabled.
func New(cfg config.Transcription, opts ...Option) (*Client, error) {
	key := strings.TrimSpace(cfg.APIKey)
	if key == "" {
		return nil, services.Wrap(services.ErrConfiguration, component, "init", "api key is required", nil)
	}
	timeout := defaultTimeout
	if cfg.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}
	requestOpts := []option.RequestOption{
		option.WithAPIKey(key),
		option.WithMaxRetries(0),
		option.WithRequestTimeout(timeout),
	}
	if base := strings.TrimSpace(cfg.BaseURL); base != "" {
		requestOpts = append(requestOpts, option.WithBaseURL(base))
	}
	for _, opt := range opts {
		opt(&requestOpts)
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = defaultModel
	}
	return &Client{
		api:      openai.NewClient(requestOpts...),
		model:    model,
		language: strings.TrimSpace(cfg.Language),
	}, nil
}

// Transcribe uploads the file at path and returns the transcript. Errors are
// tagged services.ErrTransient when a retry may succeed.
func (c *Client) Transcribe(ctx context.Context, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", services.Wrap(services.ErrValidation, component, "open", path, err)
	}
	defer f.Close()

	params := openai.AudioTranscriptionNewParams{
		File:  f,
		Model: openai.AudioModel(c.model),
	}
	if c.language != "" {
		params.Language = openai.String(c.language)
	}
	resp, err := c.api.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		return "", classify(err)
	}
	return strings.TrimSpace(resp.Text), nil
}

func classify(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		marker := services.ErrExternalTool
		if services.TransientStatus(apiErr.StatusCode) {
			marker = services.ErrTransient
		}
		return services.Wrap(marker, component, "request", fmt.Sprintf("http %d", apiErr.StatusCode), err)
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	// Connection resets and timeouts surface without a status code.
	return services.Wrap(services.ErrTransient, component, "request", "", err)
}
