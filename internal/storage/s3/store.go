// Package s3 reads the database artifact from an S3-compatible bucket.
package s3

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"path"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/sociosbot/sociosbot/internal/storage"
)

type Config struct {
	Endpoint        string
	Region          string
	Bucket          string
	AccessKeyID     string
	SecretAccessKey string
	UseSSL          bool
	Prefix          string
}

// bucketReader is the slice of the minio API the store relies on.
type bucketReader interface {
	Get(ctx context.Context, bucket, name string) (io.ReadCloser, error)
	Stat(ctx context.Context, bucket, name string) (storage.ObjectInfo, error)
}

// Store resolves artifact keys below an optional prefix of one bucket.
type Store struct {
	reader bucketReader
	bucket string
	prefix string
}

func New(cfg Config) (*Store, error) {
	bucket := strings.TrimSpace(cfg.Bucket)
	if bucket == "" {
		return nil, errors.New("s3 bucket is required")
	}
	host, secure, err := parseEndpoint(cfg.Endpoint, cfg.UseSSL)
	if err != nil {
		return nil, err
	}
	mc, err := minio.New(host, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: secure,
		Region: strings.TrimSpace(cfg.Region),
	})
	if err != nil {
		return nil, fmt.Errorf("create s3 client: %w", err)
	}
	return &Store{reader: minioReader{mc}, bucket: bucket, prefix: cleanPrefix(cfg.Prefix)}, nil
}

func NewWithClient(bucket, prefix string, reader bucketReader) (*Store, error) {
	if reader == nil {
		return nil, errors.New("client is required")
	}
	bucket = strings.TrimSpace(bucket)
	if bucket == "" {
		return nil, errors.New("bucket is required")
	}
	return &Store{reader: reader, bucket: bucket, prefix: cleanPrefix(prefix)}, nil
}

func (s *Store) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	name, err := s.objectName(key)
	if err != nil {
		return nil, err
	}
	body, err := s.reader.Get(ctx, s.bucket, name)
	if err != nil {
		return nil, s.wrap("get", name, err)
	}
	return body, nil
}

func (s *Store) Stat(ctx context.Context, key string) (storage.ObjectInfo, error) {
	name, err := s.objectName(key)
	if err != nil {
		return storage.ObjectInfo{}, err
	}
	info, err := s.reader.Stat(ctx, s.bucket, name)
	if err != nil {
		return storage.ObjectInfo{}, s.wrap("stat", name, err)
	}
	return info, nil
}

func (s *Store) wrap(op, name string, err error) error {
	return fmt.Errorf("%s s3://%s/%s: %w", op, s.bucket, name, err)
}

// objectName maps a caller key onto the bucket, refusing keys that climb out
// of the prefix.
func (s *Store) objectName(key string) (string, error) {
	trimmed := strings.Trim(strings.TrimSpace(key), "/")
	if trimmed == "" {
		return "", errors.New("object key is required")
	}
	for _, segment := range strings.Split(trimmed, "/") {
		if segment == ".." {
			return "", fmt.Errorf("invalid object key: %q", key)
		}
	}
	name := path.Clean(trimmed)
	if s.prefix != "" {
		name = s.prefix + "/" + name
	}
	return name, nil
}

func cleanPrefix(prefix string) string {
	prefix = path.Clean("/" + strings.TrimSpace(prefix))
	return strings.TrimPrefix(prefix, "/")
}

// parseEndpoint accepts host:port or a URL. An https URL forces TLS.
func parseEndpoint(raw string, useSSL bool) (string, bool, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false, errors.New("s3 endpoint is required")
	}
	if !strings.Contains(raw, "://") {
		return raw, useSSL, nil
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return "", false, fmt.Errorf("parse s3 endpoint: %w", err)
	}
	if parsed.Host == "" {
		return "", false, fmt.Errorf("s3 endpoint %q has no host", raw)
	}
	return parsed.Host, useSSL || parsed.Scheme == "https", nil
}

type minioReader struct {
	client *minio.Client
}

// Get stats the object before handing it back; minio defers errors for a
// missing key until the first read otherwise.
func (m minioReader) Get(ctx context.Context, bucket, name string) (io.ReadCloser, error) {
	object, err := m.client.GetObject(ctx, bucket, name, minio.GetObjectOptions{})
	if err != nil {
		return nil, notFound(err)
	}
	if _, err := object.Stat(); err != nil {
		_ = object.Close()
		return nil, notFound(err)
	}
	return object, nil
}

func (m minioReader) Stat(ctx context.Context, bucket, name string) (storage.ObjectInfo, error) {
	info, err := m.client.StatObject(ctx, bucket, name, minio.StatObjectOptions{})
	if err != nil {
		return storage.ObjectInfo{}, notFound(err)
	}
	return storage.ObjectInfo{
		Key:          info.Key,
		Size:         info.Size,
		ETag:         info.ETag,
		ContentType:  info.ContentType,
		LastModified: info.LastModified,
	}, nil
}

func notFound(err error) error {
	switch minio.ToErrorResponse(err).Code {
	case "NoSuchKey", "NoSuchBucket", "NotFound":
		return storage.ErrObjectNotFound
	}
	return err
}
