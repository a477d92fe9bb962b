// Package docstore wraps the separate document-store project used for
// journal uploads. It is consumed only through the Uploader interface;
// everything else about that store is outside the auth core.
package docstore

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// Uploader stores a journal document on behalf of a user, keyed by the
// uploader's email, and returns a retrievable URL.
type Uploader interface {
	Upload(ctx context.Context, email, filename string, body io.Reader, size int64, contentType string) (string, error)
}

// Config holds connection settings for the document store.
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// MinioStore implements Uploader on a MinIO/S3 bucket.
type MinioStore struct {
	client *minio.Client
	bucket string
}

// NewMinioStore connects to the document store and ensures the bucket
// exists.
func NewMinioStore(ctx context.Context, cfg Config) (*MinioStore, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("docstore: connect: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("docstore: bucket check: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("docstore: make bucket: %w", err)
		}
	}

	return &MinioStore{client: client, bucket: cfg.Bucket}, nil
}

// Upload stores the document under <email>/<timestamp>-<filename>.
func (s *MinioStore) Upload(ctx context.Context, email, filename string, body io.Reader, size int64, contentType string) (string, error) {
	key := objectKey(email, filename)
	_, err := s.client.PutObject(ctx, s.bucket, key, body, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", fmt.Errorf("docstore: put %s: %w", key, err)
	}
	return fmt.Sprintf("%s/%s/%s", s.client.EndpointURL(), s.bucket, key), nil
}

func objectKey(email, filename string) string {
	owner := strings.ToLower(strings.TrimSpace(email))
	return path.Join(owner, fmt.Sprintf("%d-%s", time.Now().UnixNano(), path.Base(filename)))
}

var _ Uploader = (*MinioStore)(nil)
