package objectstore

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"reelswap/internal/services"
)

const defaultStorageTimeout = 120 * time.Second

// SupabaseConfig addresses one Supabase Storage bucket.
type SupabaseConfig struct {
	URL            string
	Key            string
	Bucket         string
	TimeoutSeconds int
}

// Supabase talks to the Supabase Storage REST API.
type Supabase struct {
	base       string
	key        string
	bucket     string
	httpClient *http.Client
}

// SupabaseOption customises a Supabase store.
type SupabaseOption func(*Supabase)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(client *http.Client) SupabaseOption {
	return func(s *Supabase) {
		if client != nil {
			s.httpClient = client
		}
	}
}

// NewSupabase validates cfg and returns a store.
func NewSupabase(cfg SupabaseConfig, opts ...SupabaseOption) (*Supabase, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.URL), "/")
	if base == "" || strings.TrimSpace(cfg.Key) == "" {
		return nil, services.Wrap(services.ErrConfiguration, "objectstore", "init", "supabase url and key are required", nil)
	}
	if _, err := url.Parse(base); err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "objectstore", "init", "invalid supabase url", err)
	}
	bucket := strings.Trim(strings.TrimSpace(cfg.Bucket), "/")
	if bucket == "" {
		return nil, services.Wrap(services.ErrConfiguration, "objectstore", "init", "bucket is required", nil)
	}
	timeout := defaultStorageTimeout
	if cfg.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}
	s := &Supabase{
		base:       base,
		key:        strings.TrimSpace(cfg.Key),
		bucket:     bucket,
		httpClient: &http.Client{Timeout: timeout},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Put uploads r under key, overwriting any existing object.
func (s *Supabase) Put(ctx context.Context, key string, r io.Reader, contentType string) error {
	key, err := cleanKey(key)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.objectURL(key), r)
	if err != nil {
		return fmt.Errorf("supabase put: new request: %w", err)
	}
	s.authorize(req)
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("x-upsert", "true")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return services.Wrap(services.ErrTransient, "objectstore", "put", key, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusMultipleChoices {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("put %s: %w", key, services.NewHTTPError("supabase storage", resp, body))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// Get streams the object at key into w.
func (s *Supabase) Get(ctx context.Context, key string, w io.Writer) error {
	key, err := cleanKey(key)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.objectURL(key), nil)
	if err != nil {
		return fmt.Errorf("supabase get: new request: %w", err)
	}
	s.authorize(req)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return services.Wrap(services.ErrTransient, "objectstore", "get", key, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusMultipleChoices {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("get %s: %w", key, services.NewHTTPError("supabase storage", resp, body))
	}
	if _, err := io.Copy(w, resp.Body); err != nil {
		return services.Wrap(services.ErrTransient, "objectstore", "get", "read body for "+key, err)
	}
	return nil
}

// PublicURL returns the public download URL of key.
func (s *Supabase) PublicURL(key string) string {
	return s.base + "/storage/v1/object/public/" + s.bucket + "/" + escapeKey(strings.Trim(key, "/"))
}

func (s *Supabase) objectURL(key string) string {
	return s.base + "/storage/v1/object/" + s.bucket + "/" + escapeKey(key)
}

func (s *Supabase) authorize(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+s.key)
	req.Header.Set("apikey", s.key)
}

func escapeKey(key string) string {
	parts := strings.Split(key, "/")
	for i, part := range parts {
		parts[i] = url.PathEscape(part)
	}
	return strings.Join(parts, "/")
}
