// Package gcs archives exported result files in Google Cloud Storage.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"cloud.google.com/go/storage"
)

// Config captures the bucket and optional object prefix.
type Config struct {
	Bucket string
	Prefix string
}

// objectWriterFactory opens a writer for an object. It lets tests swap the
// GCS client out.
type objectWriterFactory func(ctx context.Context, bucket, object, contentType string) io.WriteCloser

// BlobStore writes artifacts to a configured GCS bucket.
type BlobStore struct {
	bucket    string
	prefix    string
	newWriter objectWriterFactory
}

// New creates a GCS-backed blob store.
func New(client *storage.Client, cfg Config) (*BlobStore, error) {
	if client == nil {
		return nil, errors.New("storage client is required")
	}
	return newBlobStore(cfg, func(ctx context.Context, bucket, object, contentType string) io.WriteCloser {
		w := client.Bucket(bucket).Object(object).NewWriter(ctx)
		if contentType != "" {
			w.ContentType = contentType
		}
		return w
	})
}

func newBlobStore(cfg Config, factory objectWriterFactory) (*BlobStore, error) {
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, errors.New("bucket name is required")
	}
	return &BlobStore{
		bucket:    cfg.Bucket,
		prefix:    strings.Trim(cfg.Prefix, "/"),
		newWriter: factory,
	}, nil
}

// PutObject uploads data and returns a gs:// URI.
func (s *BlobStore) PutObject(ctx context.Context, objectPath string, contentType string, data []byte) (string, error) {
	if strings.TrimSpace(objectPath) == "" {
		return "", errors.New("path is required")
	}
	object := strings.TrimPrefix(objectPath, "/")
	if s.prefix != "" {
		object = path.Join(s.prefix, object)
	}
	w := s.newWriter(ctx, s.bucket, object, contentType)
	if _, err := w.Write(data); err != nil {
		if closeErr := w.Close(); closeErr != nil {
			return "", fmt.Errorf("write object: %w (close writer: %v)", err, closeErr)
		}
		return "", fmt.Errorf("write object: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("close writer: %w", err)
	}
	return fmt.Sprintf("gs://%s/%s", s.bucket, object), nil
}
