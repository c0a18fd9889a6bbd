package objstore

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"
)

// Store is the attachment blob backend. Keys are slash-separated paths
// like tmp/<token>/<filename> or requests/<request id>/<filename>.
type Store interface {
	Put(ctx context.Context, key string, r io.Reader, contentType string) error
	// SignedURL returns a time-limited URL for the given HTTP method.
	SignedURL(ctx context.Context, key, method string, expiry time.Duration) (string, error)
	Copy(ctx context.Context, srcKey, dstKey string) error
	Exists(ctx context.Context, key string) (bool, error)
	Delete(ctx context.Context, key string) error
}

type Config struct {
	Driver    string // s3|oss|cos|file
	Bucket    string
	Region    string
	Endpoint  string
	AccessKey string
	SecretKey string
	BaseDir   string // file driver root
}

// FromEnv reads storage settings from STORAGE_* variables.
func FromEnv() Config {
	return Config{
		Driver:    getenvDefault("STORAGE_DRIVER", "file"),
		Bucket:    os.Getenv("STORAGE_BUCKET"),
		Region:    os.Getenv("STORAGE_REGION"),
		Endpoint:  os.Getenv("STORAGE_ENDPOINT"),
		AccessKey: os.Getenv("STORAGE_ACCESS_KEY"),
		SecretKey: os.Getenv("STORAGE_SECRET_KEY"),
		BaseDir:   getenvDefault("STORAGE_BASE_DIR", "data/uploads"),
	}
}

func getenvDefault(k, d string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return d
}

func Validate(c Config) error {
	switch c.Driver {
	case "file":
		if c.BaseDir == "" {
			return fmt.Errorf("objstore: file driver requires base dir")
		}
	case "s3":
		if c.Bucket == "" {
			return fmt.Errorf("objstore: s3 driver requires bucket")
		}
	case "oss", "cos":
		if c.Bucket == "" || c.Endpoint == "" || c.AccessKey == "" || c.SecretKey == "" {
			return fmt.Errorf("objstore: %s driver requires bucket, endpoint and credentials", c.Driver)
		}
	default:
		return fmt.Errorf("objstore: unknown driver %q", c.Driver)
	}
	return nil
}

// Open builds a store for the configured driver.
func Open(ctx context.Context, c Config) (Store, error) {
	if err := Validate(c); err != nil {
		return nil, err
	}
	switch c.Driver {
	case "file":
		return newFileStore(c.BaseDir)
	case "s3":
		return newS3Store(ctx, c)
	case "oss":
		return newOSSStore(c)
	case "cos":
		return newCOSStore(c)
	}
	return nil, fmt.Errorf("objstore: unknown driver %q", c.Driver)
}

// sanitizeKey collapses path tricks out of user-influenced key parts.
func sanitizeKey(key string) string {
	key = strings.ReplaceAll(key, "\\", "/")
	parts := strings.Split(key, "/")
	out := parts[:0]
	for _, p := range parts {
		if p == "" || p == "." || p == ".." {
			continue
		}
		out = append(out, p)
	}
	return strings.Join(out, "/")
}
