package objstore

import (
	"context"
	"io"
	"time"

	oss "github.com/aliyun/aliyun-oss-go-sdk/oss"
)

type ossStore struct {
	bucket *oss.Bucket
}

func newOSSStore(c Config) (*ossStore, error) {
	cli, err := oss.New(c.Endpoint, c.AccessKey, c.SecretKey)
	if err != nil {
		return nil, err
	}
	bk, err := cli.Bucket(c.Bucket)
	if err != nil {
		return nil, err
	}
	return &ossStore{bucket: bk}, nil
}

func (s *ossStore) Put(ctx context.Context, key string, r io.Reader, contentType string) error {
	var opts []oss.Option
	if contentType != "" {
		opts = append(opts, oss.ContentType(contentType))
	}
	return s.bucket.PutObject(sanitizeKey(key), r, opts...)
}

func (s *ossStore) SignedURL(ctx context.Context, key, method string, expiry time.Duration) (string, error) {
	m := oss.HTTPGet
	if method == "PUT" {
		m = oss.HTTPPut
	}
	return s.bucket.SignURL(sanitizeKey(key), m, int64(expiry/time.Second))
}

func (s *ossStore) Copy(ctx context.Context, srcKey, dstKey string) error {
	_, err := s.bucket.CopyObject(sanitizeKey(srcKey), sanitizeKey(dstKey))
	return err
}

func (s *ossStore) Exists(ctx context.Context, key string) (bool, error) {
	return s.bucket.IsObjectExist(sanitizeKey(key))
}

func (s *ossStore) Delete(ctx context.Context, key string) error {
	return s.bucket.DeleteObject(sanitizeKey(key))
}
