// Package upload stores file attachments and hands back a URL reference for
// broadcasting. The production backend is MinIO object storage; an inline
// data-URL fallback keeps file sharing working when no backend is
// configured.
package upload

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"log"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// FileStore saves a file payload and returns a URL the clients can fetch it
// from.
type FileStore interface {
	Save(ctx context.Context, filename, contentType string, data []byte) (string, error)
}

// MinioStore stores uploads in a MinIO bucket.
type MinioStore struct {
	client *minio.Client
	bucket string
}

// MinioConfig holds MinIO connection settings.
type MinioConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// NewMinioStore connects to MinIO and ensures the bucket exists.
func NewMinioStore(ctx context.Context, config MinioConfig) (*MinioStore, error) {
	client, err := minio.New(config.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(config.AccessKey, config.SecretKey, ""),
		Secure: config.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("upload: failed to create minio client: %w", err)
	}

	exists, err := client.BucketExists(ctx, config.Bucket)
	if err != nil {
		return nil, fmt.Errorf("upload: failed to check bucket: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, config.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("upload: failed to create bucket: %w", err)
		}
	}

	log.Printf("upload: connected to minio endpoint=%s bucket=%s", config.Endpoint, config.Bucket)
	return &MinioStore{client: client, bucket: config.Bucket}, nil
}

// Save uploads the payload under a unique object key and returns its URL.
func (s *MinioStore) Save(ctx context.Context, filename, contentType string, data []byte) (string, error) {
	objectName := fmt.Sprintf("uploads/%s-%s", uuid.New().String(), filename)

	_, err := s.client.PutObject(ctx, s.bucket, objectName, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return "", fmt.Errorf("upload: failed to put object %s: %w", objectName, err)
	}

	url := fmt.Sprintf("http://%s/%s/%s", s.client.EndpointURL().Host, s.bucket, objectName)
	return url, nil
}

// InlineStore is the no-backend fallback: it encodes the payload as a data
// URL so small files still round-trip through the broadcast path.
type InlineStore struct{}

// Save returns a data URL embedding the payload.
func (InlineStore) Save(_ context.Context, _, contentType string, data []byte) (string, error) {
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	return "data:" + contentType + ";base64," + base64.StdEncoding.EncodeToString(data), nil
}
