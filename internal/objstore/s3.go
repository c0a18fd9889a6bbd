package objstore

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"time"

	"gocloud.dev/blob"
	_ "gocloud.dev/blob/s3blob"
)

// s3Store uses the portable blob API over S3 or anything S3-compatible
// (MinIO via STORAGE_ENDPOINT).
type s3Store struct {
	b *blob.Bucket
}

func newS3Store(ctx context.Context, c Config) (*s3Store, error) {
	q := url.Values{}
	if c.Region != "" {
		q.Set("region", c.Region)
	}
	if c.Endpoint != "" {
		q.Set("endpoint", c.Endpoint)
		q.Set("s3ForcePathStyle", "true")
	}
	u := fmt.Sprintf("s3://%s", c.Bucket)
	if enc := q.Encode(); enc != "" {
		u += "?" + enc
	}
	bk, err := blob.OpenBucket(ctx, u)
	if err != nil {
		return nil, fmt.Errorf("objstore: open s3 bucket: %w", err)
	}
	return &s3Store{b: bk}, nil
}

func (s *s3Store) Put(ctx context.Context, key string, r io.Reader, contentType string) error {
	w, err := s.b.NewWriter(ctx, sanitizeKey(key), &blob.WriterOptions{ContentType: contentType})
	if err != nil {
		return err
	}
	if _, err := io.Copy(w, r); err != nil {
		_ = w.Close()
		return err
	}
	return w.Close()
}

func (s *s3Store) SignedURL(ctx context.Context, key, method string, expiry time.Duration) (string, error) {
	return s.b.SignedURL(ctx, sanitizeKey(key), &blob.SignedURLOptions{Method: method, Expiry: expiry})
}

func (s *s3Store) Copy(ctx context.Context, srcKey, dstKey string) error {
	return s.b.Copy(ctx, sanitizeKey(dstKey), sanitizeKey(srcKey), nil)
}

func (s *s3Store) Exists(ctx context.Context, key string) (bool, error) {
	return s.b.Exists(ctx, sanitizeKey(key))
}

func (s *s3Store) Delete(ctx context.Context, key string) error {
	return s.b.Delete(ctx, sanitizeKey(key))
}
