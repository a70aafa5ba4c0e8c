package cachestore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"

	"cloud.google.com/go/storage"
)

// GCSColdProvider mirrors evicted disk-tier blobs to a Google Cloud
// Storage bucket.
type GCSColdProvider struct {
	bucket string
	prefix string
	client *storage.Client
}

// NewGCSColdProvider builds a GCSColdProvider using Application Default
// Credentials.
func NewGCSColdProvider(ctx context.Context, bucket, prefix string) (*GCSColdProvider, error) {
	if bucket == "" {
		return nil, errors.New("cachestore: gcs bucket is required")
	}
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("cachestore: gcs client: %w", err)
	}
	return &GCSColdProvider{bucket: bucket, prefix: prefix, client: client}, nil
}

func (p *GCSColdProvider) objectName(key string) string {
	if p.prefix == "" {
		return key
	}
	return path.Join(p.prefix, key)
}

func (p *GCSColdProvider) Put(ctx context.Context, key string, data []byte) error {
	obj := p.client.Bucket(p.bucket).Object(p.objectName(key))
	w := obj.NewWriter(ctx)
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return fmt.Errorf("cachestore: gcs write %s: %w", key, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("cachestore: gcs close writer %s: %w", key, err)
	}
	return nil
}

func (p *GCSColdProvider) Get(ctx context.Context, key string) ([]byte, error) {
	obj := p.client.Bucket(p.bucket).Object(p.objectName(key))
	r, err := obj.NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, ErrColdMiss
		}
		return nil, fmt.Errorf("cachestore: gcs reader %s: %w", key, err)
	}
	defer r.Close()
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, r); err != nil {
		return nil, fmt.Errorf("cachestore: gcs read %s: %w", key, err)
	}
	return buf.Bytes(), nil
}

func (p *GCSColdProvider) Delete(ctx context.Context, key string) error {
	obj := p.client.Bucket(p.bucket).Object(p.objectName(key))
	if err := obj.Delete(ctx); err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("cachestore: gcs delete %s: %w", key, err)
	}
	return nil
}
