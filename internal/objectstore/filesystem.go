package objectstore

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"reelswap/internal/services"
)

// Filesystem stores objects as files under a root directory.
type Filesystem struct {
	root       string
	publicBase string
}

// NewFilesystem returns a store rooted at root. When publicBase is empty,
// public URLs are file:// URLs.
func NewFilesystem(root, publicBase string) (*Filesystem, error) {
	root = strings.TrimSpace(root)
	if root == "" {
		return nil, services.Wrap(services.ErrConfiguration, "objectstore", "init", "local root is required", nil)
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "objectstore", "init", "resolve local root", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "objectstore", "init", "create local root", err)
	}
	return &Filesystem{root: abs, publicBase: strings.TrimRight(strings.TrimSpace(publicBase), "/")}, nil
}

// Put writes r to key through a temp file and rename so readers never see a
// partial object.
func (f *Filesystem) Put(ctx context.Context, key string, r io.Reader, _ string) error {
	target, err := f.path(key)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("filesystem put: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(target), ".upload-*")
	if err != nil {
		return fmt.Errorf("filesystem put: %w", err)
	}
	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("filesystem put %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("filesystem put %s: %w", key, err)
	}
	if err := os.Rename(tmp.Name(), target); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("filesystem put %s: %w", key, err)
	}
	return nil
}

// Get copies the object at key into w.
func (f *Filesystem) Get(ctx context.Context, key string, w io.Writer) error {
	target, err := f.path(key)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	file, err := os.Open(target)
	if os.IsNotExist(err) {
		return fmt.Errorf("object %s: %w", key, services.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("filesystem get: %w", err)
	}
	defer file.Close()
	if _, err := io.Copy(w, file); err != nil {
		return fmt.Errorf("filesystem get %s: %w", key, err)
	}
	return nil
}

// PublicURL returns publicBase/key, or a file:// URL without a public base.
func (f *Filesystem) PublicURL(key string) string {
	key = strings.Trim(key, "/")
	if f.publicBase != "" {
		return f.publicBase + "/" + escapeKey(key)
	}
	return (&url.URL{Scheme: "file", Path: filepath.ToSlash(filepath.Join(f.root, filepath.FromSlash(key)))}).String()
}

func (f *Filesystem) path(key string) (string, error) {
	cleaned, err := cleanKey(key)
	if err != nil {
		return "", err
	}
	return filepath.Join(f.root, filepath.FromSlash(cleaned)), nil
}
