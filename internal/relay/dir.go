package relay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

// DirHost stores objects under a local directory, typically one a web
// server already exposes at baseURL.
type DirHost struct {
	root    string
	baseURL string
}

func NewDirHost(root, baseURL string) (*DirHost, error) {
	if root == "" {
		return nil, fmt.Errorf("relay directory is empty")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create relay directory %s: %w", root, err)
	}
	return &DirHost{root: root, baseURL: baseURL}, nil
}

func (h *DirHost) local(p string) (string, error) {
	clean, err := cleanRelayPath(p)
	if err != nil {
		return "", err
	}
	return filepath.Join(h.root, filepath.FromSlash(clean)), nil
}

// Put writes to a temp file in the target directory and renames it into place.
func (h *DirHost) Put(ctx context.Context, p string, r io.Reader) error {
	dst, err := h.local(p)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("create %s: %w", filepath.Dir(dst), err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(dst), ".upload-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", dst, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", dst, err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), dst)
}

func (h *DirHost) Size(ctx context.Context, p string) (int64, bool, error) {
	dst, err := h.local(p)
	if err != nil {
		return 0, false, err
	}
	info, err := os.Stat(dst)
	if errors.Is(err, fs.ErrNotExist) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return info.Size(), true, nil
}

func (h *DirHost) Delete(ctx context.Context, p string) error {
	dst, err := h.local(p)
	if err != nil {
		return err
	}
	if err := os.Remove(dst); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

func (h *DirHost) PublicURL(p string) string {
	return publicURL(h.baseURL, p)
}
