package blob

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// DefaultS3Endpoint is used when no endpoint is configured.
const DefaultS3Endpoint = "s3.amazonaws.com"

// S3Config holds the connection settings for S3-compatible storage.
type S3Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Region    string
	Insecure  bool
}

// S3Fetcher downloads objects referenced by s3:// or *.amazonaws.com URLs.
type S3Fetcher struct {
	api *minio.Client
}

// NewS3Fetcher creates a fetcher backed by a minio client.
func NewS3Fetcher(cfg S3Config) (*S3Fetcher, error) {
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = DefaultS3Endpoint
	}
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: !cfg.Insecure,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("create s3 client: %w", err)
	}
	return &S3Fetcher{api: client}, nil
}

// Fetch downloads the whole object into memory.
func (f *S3Fetcher) Fetch(ctx context.Context, location string) ([]byte, error) {
	bucket, key, err := ParseS3URL(location)
	if err != nil {
		return nil, err
	}
	obj, err := f.api.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("get object %s/%s: %w", bucket, key, err)
	}
	defer func() { _ = obj.Close() }()

	buf := new(bytes.Buffer)
	if _, err := io.Copy(buf, obj); err != nil {
		return nil, fmt.Errorf("read object %s/%s: %w", bucket, key, err)
	}
	return buf.Bytes(), nil
}

// IsS3URL reports whether the location addresses an S3 object.
func IsS3URL(location string) bool {
	return strings.HasPrefix(location, "s3://") ||
		(strings.HasPrefix(location, "https://") && strings.Contains(location, "amazonaws.com"))
}

// ParseS3URL splits an S3 locator into bucket and key. Supported forms:
//
//	s3://<bucket>/<key>
//	https://<bucket>.s3.<region>.amazonaws.com/<key>
func ParseS3URL(location string) (bucket, key string, err error) {
	u, err := url.Parse(location)
	if err != nil {
		return "", "", fmt.Errorf("invalid S3 URL %q: %w", location, err)
	}
	switch {
	case u.Scheme == "s3":
		bucket = u.Host
	case u.Scheme == "https" && strings.Contains(u.Host, ".amazonaws.com"):
		bucket = strings.Split(u.Host, ".")[0]
	default:
		return "", "", fmt.Errorf("invalid S3 URL %q", location)
	}
	key = strings.TrimPrefix(u.Path, "/")
	if bucket == "" || key == "" {
		return "", "", fmt.Errorf("invalid S3 URL %q: missing bucket or key", location)
	}
	return bucket, key, nil
}
