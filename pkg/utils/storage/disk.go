package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"konnectsphere_backend/pkg/utils/cloudflare"
)

// Disk keeps uploads on the local filesystem. Used in development when
// no R2 bucket is configured; files are served from PublicURL.
type Disk struct {
	root      string
	publicURL string
}

func NewDisk(root, publicURL string) (*Disk, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("could not create upload dir: %w", err)
	}
	return &Disk{root: root, publicURL: strings.TrimRight(publicURL, "/")}, nil
}

func (d *Disk) Root() string { return d.root }

func (d *Disk) Upload(ctx context.Context, key string, body io.Reader, contentType string) (string, error) {
	dst, err := d.path(key)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return "", fmt.Errorf("could not create upload dir: %w", err)
	}

	f, err := os.Create(dst)
	if err != nil {
		return "", fmt.Errorf("could not store file: %w", err)
	}
	defer f.Close()

	if _, err := io.Copy(f, body); err != nil {
		return "", fmt.Errorf("could not store file: %w", err)
	}
	return cloudflare.PublicURL(d.publicURL, key), nil
}

// Delete removes key. A missing file is not an error.
func (d *Disk) Delete(ctx context.Context, key string) error {
	dst, err := d.path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(dst); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("could not delete file: %w", err)
	}
	return nil
}

func (d *Disk) path(key string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(key))
	if filepath.IsAbs(clean) || clean == "." || strings.HasPrefix(clean, "..") {
		return "", fmt.Errorf("invalid object key %q", key)
	}
	return filepath.Join(d.root, clean), nil
}
