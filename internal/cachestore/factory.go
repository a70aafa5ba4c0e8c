package cachestore

import (
	"context"
	"fmt"
)

// NewColdProvider selects a ColdProvider implementation from
// config.Config's cache_cold_provider setting (s3 | azure | gcs | b2 |
// none).
func NewColdProvider(ctx context.Context, provider, bucket, region, prefix string) (ColdProvider, error) {
	switch provider {
	case "", "none":
		return NoopColdProvider(), nil
	case "s3":
		return NewS3ColdProvider(ctx, bucket, region, prefix)
	case "azure":
		return NewAzureColdProvider(bucket, prefix)
	case "gcs":
		return NewGCSColdProvider(ctx, bucket, prefix)
	case "b2":
		return NewB2ColdProvider(ctx, bucket, prefix)
	default:
		return nil, fmt.Errorf("cachestore: unknown cold provider %q", provider)
	}
}
