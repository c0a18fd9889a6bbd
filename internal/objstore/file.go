package objstore

import (
	"context"
	"errors"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// fileStore keeps blobs on local disk. Useful for dev and single-node
// deployments; SignedURL returns an app-served /uploads/ path since plain
// files cannot carry an expiry.
type fileStore struct {
	base string
}

func newFileStore(base string) (*fileStore, error) {
	if err := os.MkdirAll(base, 0o755); err != nil {
		return nil, err
	}
	return &fileStore{base: base}, nil
}

func (f *fileStore) path(key string) string {
	return filepath.Join(f.base, filepath.FromSlash(sanitizeKey(key)))
}

func (f *fileStore) Put(ctx context.Context, key string, r io.Reader, contentType string) error {
	p := f.path(key)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return err
	}
	tmp := p + ".part"
	w, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if _, err := io.Copy(w, r); err != nil {
		_ = w.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := w.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, p)
}

func (f *fileStore) SignedURL(ctx context.Context, key, method string, expiry time.Duration) (string, error) {
	parts := strings.Split(sanitizeKey(key), "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return "/uploads/" + strings.Join(parts, "/"), nil
}

// Open streams a stored blob. The HTTP layer uses it to serve the
// /uploads/ URLs this driver signs.
func (f *fileStore) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	return os.Open(f.path(key))
}

func (f *fileStore) Copy(ctx context.Context, srcKey, dstKey string) error {
	src, err := os.Open(f.path(srcKey))
	if err != nil {
		return err
	}
	defer src.Close()
	return f.Put(ctx, dstKey, src, "")
}

func (f *fileStore) Exists(ctx context.Context, key string) (bool, error) {
	_, err := os.Stat(f.path(key))
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (f *fileStore) Delete(ctx context.Context, key string) error {
	err := os.Remove(f.path(key))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}
