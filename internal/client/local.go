package client

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// LocalStorage implements StorageClient against a local directory. It exists
// for development and tests where R2 credentials are not configured; keys map
// to file paths under the root.
type LocalStorage struct {
	root string
}

func NewLocalStorage(root string) (*LocalStorage, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create storage root: %w", err)
	}
	return &LocalStorage{root: root}, nil
}

func (l *LocalStorage) path(key string) string {
	return filepath.Join(l.root, filepath.FromSlash(key))
}

func (l *LocalStorage) Download(ctx context.Context, key string, localPath string) error {
	src, err := os.Open(l.path(key))
	if err != nil {
		return fmt.Errorf("failed to open object %s: %w", key, err)
	}
	defer src.Close()

	dst, err := os.Create(localPath)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		return fmt.Errorf("failed to copy object: %w", err)
	}
	return nil
}

func (l *LocalStorage) Upload(ctx context.Context, key string, body io.Reader, contentType string) (string, error) {
	dest := l.path(key)
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return "", fmt.Errorf("failed to create object dir: %w", err)
	}
	f, err := os.Create(dest)
	if err != nil {
		return "", fmt.Errorf("failed to create object: %w", err)
	}
	defer f.Close()
	if _, err := io.Copy(f, body); err != nil {
		return "", fmt.Errorf("failed to write object: %w", err)
	}
	return l.GetPublicURL(key), nil
}

func (l *LocalStorage) UploadFile(ctx context.Context, key string, localPath string, contentType string) (string, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("failed to open file: %w", err)
	}
	defer f.Close()
	return l.Upload(ctx, key, f, contentType)
}

// GetSignedURL returns a plain file URL. Local storage has no access control,
// so "signing" is a formality that keeps the call sites uniform.
func (l *LocalStorage) GetSignedURL(ctx context.Context, key string, expiry time.Duration) (string, error) {
	if _, err := os.Stat(l.path(key)); err != nil {
		return "", fmt.Errorf("failed to stat object %s: %w", key, err)
	}
	return l.GetPublicURL(key), nil
}

func (l *LocalStorage) GetPublicURL(key string) string {
	return "file://" + filepath.ToSlash(l.path(strings.TrimPrefix(key, "/")))
}
