package cachestore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"

	"github.com/Backblaze/blazer/b2"
)

// B2ColdProvider mirrors evicted disk-tier blobs to a Backblaze B2 bucket.
type B2ColdProvider struct {
	prefix string
	bucket *b2.Bucket
}

// NewB2ColdProvider builds a B2ColdProvider from the B2_ACCOUNT_ID and
// B2_APPLICATION_KEY environment variables.
func NewB2ColdProvider(ctx context.Context, bucketName, prefix string) (*B2ColdProvider, error) {
	if bucketName == "" {
		return nil, errors.New("cachestore: b2 bucket is required")
	}
	accountID := os.Getenv("B2_ACCOUNT_ID")
	appKey := os.Getenv("B2_APPLICATION_KEY")
	if accountID == "" || appKey == "" {
		return nil, errors.New("cachestore: B2_ACCOUNT_ID/B2_APPLICATION_KEY are not set")
	}
	client, err := b2.NewClient(ctx, accountID, appKey)
	if err != nil {
		return nil, fmt.Errorf("cachestore: b2 client: %w", err)
	}
	bucket, err := client.Bucket(ctx, bucketName)
	if err != nil {
		return nil, fmt.Errorf("cachestore: b2 bucket %s: %w", bucketName, err)
	}
	return &B2ColdProvider{prefix: prefix, bucket: bucket}, nil
}

func (p *B2ColdProvider) objectName(key string) string {
	if p.prefix == "" {
		return key
	}
	return path.Join(p.prefix, key)
}

func (p *B2ColdProvider) Put(ctx context.Context, key string, data []byte) error {
	w := p.bucket.Object(p.objectName(key)).NewWriter(ctx)
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return fmt.Errorf("cachestore: b2 write %s: %w", key, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("cachestore: b2 close writer %s: %w", key, err)
	}
	return nil
}

func (p *B2ColdProvider) Get(ctx context.Context, key string) ([]byte, error) {
	r := p.bucket.Object(p.objectName(key)).NewReader(ctx)
	defer r.Close()
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, r); err != nil {
		if errors.Is(err, b2.ErrNotExist) {
			return nil, ErrColdMiss
		}
		return nil, fmt.Errorf("cachestore: b2 read %s: %w", key, err)
	}
	return buf.Bytes(), nil
}

func (p *B2ColdProvider) Delete(ctx context.Context, key string) error {
	if err := p.bucket.Object(p.objectName(key)).Delete(ctx); err != nil && !errors.Is(err, b2.ErrNotExist) {
		return fmt.Errorf("cachestore: b2 delete %s: %w", key, err)
	}
	return nil
}
