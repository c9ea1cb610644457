package objectstore

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"reelswap/internal/config"
	"reelswap/internal/services"
)

// ContentTypeMP4 is the content type of every uploaded clip.
const ContentTypeMP4 = "video/mp4"

// Store is a bucket-scoped blob store.
type Store interface {
	Put(ctx context.Context, key string, r io.Reader, contentType string) error
	Get(ctx context.Context, key string, w io.Writer) error
	PublicURL(key string) string
}

// New builds the Store selected by cfg.Storage.Backend.
func New(cfg *config.Config) (Store, error) {
	if cfg == nil {
		return nil, services.Wrap(services.ErrConfiguration, "objectstore", "init", "config is required", nil)
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Storage.Backend)) {
	case config.StorageSupabase:
		return NewSupabase(SupabaseConfig{
			URL:            cfg.Storage.SupabaseURL,
			Key:            cfg.Storage.SupabaseKey,
			Bucket:         cfg.Storage.Bucket,
			TimeoutSeconds: cfg.Storage.RequestTimeout,
		})
	case config.StorageFilesystem, "":
		return NewFilesystem(cfg.Storage.LocalRoot, cfg.Storage.PublicBaseURL)
	default:
		return nil, services.Wrap(services.ErrConfiguration, "objectstore", "init", fmt.Sprintf("unknown backend %q", cfg.Storage.Backend), nil)
	}
}

// ChunkKey is the key of original clip idx in split generation gen.
func ChunkKey(jobID string, gen, idx int) string {
	return generationPrefix(jobID, gen) + "/chunks/" + strconv.Itoa(idx) + ".mp4"
}

// ReplacementKey is the key of the replacement for clip idx in split
// generation gen. Writers from an abandoned generation land under their own
// prefix and never overwrite the current one.
func ReplacementKey(jobID string, gen, idx int) string {
	return generationPrefix(jobID, gen) + "/replacements/" + strconv.Itoa(idx) + ".mp4"
}

func generationPrefix(jobID string, gen int) string {
	return "jobs/" + jobID + "/g" + strconv.Itoa(gen)
}

// FinalKey is the key of the stitched output.
func FinalKey(jobID string) string {
	return "jobs/" + jobID + "/final.mp4"
}

// PutFile uploads the file at path under key.
func PutFile(ctx context.Context, store Store, key, path, contentType string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	return store.Put(ctx, key, f, contentType)
}

// GetFile downloads key into path, creating parent directories. A partial
// file is removed on failure.
func GetFile(ctx context.Context, store Store, key, path string) (err error) {
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
	return store.Get(ctx, key, f)
}

func cleanKey(key string) (string, error) {
	trimmed := strings.Trim(strings.TrimSpace(key), "/")
	if trimmed == "" {
		return "", services.Wrap(services.ErrValidation, "objectstore", "key", "empty key", nil)
	}
	for _, part := range strings.Split(trimmed, "/") {
		if part == "" || part == "." || part == ".." {
			return "", services.Wrap(services.ErrValidation, "objectstore", "key", fmt.Sprintf("invalid key %q", key), nil)
		}
	}
	return trimmed, nil
}
