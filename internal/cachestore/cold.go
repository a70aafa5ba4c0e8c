package cachestore

import "context"

// ColdProvider mirrors blobs evicted from the local disk tier to a remote
// store, for multi-machine warm-cache sharing (spec §4.J). Selected by
// config's cache_cold_provider: s3|azure|gcs|b2|none.
type ColdProvider interface {
	Put(ctx context.Context, key string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
}

// noopColdProvider is used when cache_cold_provider is "none" or unset;
// every operation is a cache miss, never an error, so the frame cache's
// disk tier is the only durable store.
type noopColdProvider struct{}

func (noopColdProvider) Put(ctx context.Context, key string, data []byte) error { return nil }
func (noopColdProvider) Get(ctx context.Context, key string) ([]byte, error)    { return nil, ErrColdMiss }
func (noopColdProvider) Delete(ctx context.Context, key string) error          { return nil }

// NoopColdProvider returns the always-miss provider used when no cold
// mirror is configured.
func NoopColdProvider() ColdProvider { return noopColdProvider{} }
