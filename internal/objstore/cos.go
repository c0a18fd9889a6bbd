package objstore

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	cos "github.com/tencentyun/cos-go-sdk-v5"
)

type cosStore struct {
	cli       *cos.Client
	host      string // bucket host without scheme, for copy source URLs
	secretID  string
	secretKey string
}

func newCOSStore(c Config) (*cosStore, error) {
	// endpoint is the full bucket URL, e.g. https://bucket-appid.cos.region.myqcloud.com
	u, err := url.Parse(c.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("objstore: parse cos endpoint: %w", err)
	}
	cli := cos.NewClient(&cos.BaseURL{BucketURL: u}, &http.Client{
		Transport: &cos.AuthorizationTransport{SecretID: c.AccessKey, SecretKey: c.SecretKey},
	})
	return &cosStore{cli: cli, host: u.Host, secretID: c.AccessKey, secretKey: c.SecretKey}, nil
}

func (s *cosStore) Put(ctx context.Context, key string, r io.Reader, contentType string) error {
	var opt *cos.ObjectPutOptions
	if contentType != "" {
		opt = &cos.ObjectPutOptions{
			ObjectPutHeaderOptions: &cos.ObjectPutHeaderOptions{ContentType: contentType},
		}
	}
	_, err := s.cli.Object.Put(ctx, sanitizeKey(key), r, opt)
	return err
}

func (s *cosStore) SignedURL(ctx context.Context, key, method string, expiry time.Duration) (string, error) {
	m := http.MethodGet
	if strings.EqualFold(method, "PUT") {
		m = http.MethodPut
	}
	u, err := s.cli.Object.GetPresignedURL(ctx, m, sanitizeKey(key), s.secretID, s.secretKey, expiry, nil)
	if err != nil {
		return "", err
	}
	return u.String(), nil
}

func (s *cosStore) Copy(ctx context.Context, srcKey, dstKey string) error {
	srcURL := fmt.Sprintf("%s/%s", s.host, sanitizeKey(srcKey))
	_, _, err := s.cli.Object.Copy(ctx, sanitizeKey(dstKey), srcURL, nil)
	return err
}

func (s *cosStore) Exists(ctx context.Context, key string) (bool, error) {
	return s.cli.Object.IsExist(ctx, sanitizeKey(key))
}

func (s *cosStore) Delete(ctx context.Context, key string) error {
	_, err := s.cli.Object.Delete(ctx, sanitizeKey(key))
	return err
}
