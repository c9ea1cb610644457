package objectstore

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"reelswap/internal/services"
)

// IsURL reports whether ref is an absolute http(s) URL rather than a key.
func IsURL(ref string) bool {
	parsed, err := url.Parse(strings.TrimSpace(ref))
	if err != nil {
		return false
	}
	return (parsed.Scheme == "http" || parsed.Scheme == "https") && parsed.Host != ""
}

// Fetch materialises ref at path: http(s) URLs are downloaded directly and
// anything else is read from store as a key.
func Fetch(ctx context.Context, store Store, client *http.Client, ref, path string) error {
	if IsURL(ref) {
		return DownloadURL(ctx, client, ref, path)
	}
	return GetFile(ctx, store, ref, path)
}

// DownloadURL GETs rawURL into path. Non-2xx responses are classified by
// services.HTTPError.
func DownloadURL(ctx context.Context, client *http.Client, rawURL, path string) (err error) {
	if client == nil {
		client = &http.Client{Timeout: defaultStorageTimeout}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return services.Wrap(services.ErrValidation, "objectstore", "download", "invalid url", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return services.Wrap(services.ErrTransient, "objectstore", "download", rawURL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusMultipleChoices {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("download %s: %w", rawURL, services.NewHTTPError("download", resp, body))
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create download dir: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer func() {
		closeErr := f.Close()
		if err == nil {
			err = closeErr
		}
		if err != nil {
			os.Remove(path)
		}
	}()
	if _, err := io.Copy(f, resp.Body); err != nil {
		return services.Wrap(services.ErrTransient, "objectstore", "download", "read body", err)
	}
	return nil
}
