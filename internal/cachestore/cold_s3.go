package cachestore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	smithy "github.com/aws/smithy-go"
)

// S3ColdProvider mirrors evicted disk-tier blobs to an S3 bucket for
// multi-machine warm-cache sharing (spec §4.J).
type S3ColdProvider struct {
	bucket string
	prefix string
	client *s3.Client
}

// NewS3ColdProvider builds an S3ColdProvider using the default AWS
// credential chain (env vars, shared config, instance role), matching the
// donor's preference for ambient credentials over embedding secrets in
// config.Config.
func NewS3ColdProvider(ctx context.Context, bucket, region, prefix string) (*S3ColdProvider, error) {
	if bucket == "" {
		return nil, errors.New("cachestore: s3 bucket is required")
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("cachestore: load aws config: %w", err)
	}
	return &S3ColdProvider{bucket: bucket, prefix: prefix, client: s3.NewFromConfig(cfg)}, nil
}

func (p *S3ColdProvider) objectKey(key string) string {
	if p.prefix == "" {
		return key
	}
	return path.Join(p.prefix, key)
}

func (p *S3ColdProvider) Put(ctx context.Context, key string, data []byte) error {
	uploader := manager.NewUploader(p.client)
	_, err := uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(p.bucket),
		Key:    aws.String(p.objectKey(key)),
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return fmt.Errorf("cachestore: s3 upload %s: %w", key, err)
	}
	return nil
}

func (p *S3ColdProvider) Get(ctx context.Context, key string) ([]byte, error) {
	out, err := p.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(p.bucket),
		Key:    aws.String(p.objectKey(key)),
	})
	if err != nil {
		var apiErr smithy.APIError
		if errors.As(err, &apiErr) && apiErr.ErrorCode() == "NoSuchKey" {
			return nil, ErrColdMiss
		}
		return nil, fmt.Errorf("cachestore: s3 get %s: %w", key, err)
	}
	defer out.Body.Close()
	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("cachestore: s3 read body %s: %w", key, err)
	}
	return data, nil
}

func (p *S3ColdProvider) Delete(ctx context.Context, key string) error {
	_, err := p.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(p.bucket),
		Key:    aws.String(p.objectKey(key)),
	})
	if err != nil {
		return fmt.Errorf("cachestore: s3 delete %s: %w", key, err)
	}
	return nil
}
