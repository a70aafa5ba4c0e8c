package cachestore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
)

// AzureColdProvider mirrors evicted disk-tier blobs to an Azure Blob
// Storage container.
type AzureColdProvider struct {
	container string
	prefix    string
	client    *azblob.Client
}

// NewAzureColdProvider builds an AzureColdProvider from the
// AZURE_STORAGE_CONNECTION_STRING environment variable, matching the
// donor's posture of sourcing cloud credentials from the environment
// rather than config.Config fields.
func NewAzureColdProvider(container, prefix string) (*AzureColdProvider, error) {
	if container == "" {
		return nil, errors.New("cachestore: azure container is required")
	}
	connStr := os.Getenv("AZURE_STORAGE_CONNECTION_STRING")
	if connStr == "" {
		return nil, errors.New("cachestore: AZURE_STORAGE_CONNECTION_STRING is not set")
	}
	client, err := azblob.NewClientFromConnectionString(connStr, nil)
	if err != nil {
		return nil, fmt.Errorf("cachestore: azure client: %w", err)
	}
	return &AzureColdProvider{container: container, prefix: prefix, client: client}, nil
}

func (p *AzureColdProvider) blobName(key string) string {
	if p.prefix == "" {
		return key
	}
	return path.Join(p.prefix, key)
}

func (p *AzureColdProvider) Put(ctx context.Context, key string, data []byte) error {
	_, err := p.client.UploadBuffer(ctx, p.container, p.blobName(key), data, nil)
	if err != nil {
		return fmt.Errorf("cachestore: azure upload %s: %w", key, err)
	}
	return nil
}

func (p *AzureColdProvider) Get(ctx context.Context, key string) ([]byte, error) {
	resp, err := p.client.DownloadStream(ctx, p.container, p.blobName(key), nil)
	if err != nil {
		if bloberror.HasCode(err, bloberror.BlobNotFound) {
			return nil, ErrColdMiss
		}
		return nil, fmt.Errorf("cachestore: azure download %s: %w", key, err)
	}
	defer resp.Body.Close()
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, resp.Body); err != nil {
		return nil, fmt.Errorf("cachestore: azure read %s: %w", key, err)
	}
	return buf.Bytes(), nil
}

func (p *AzureColdProvider) Delete(ctx context.Context, key string) error {
	_, err := p.client.DeleteBlob(ctx, p.container, p.blobName(key), nil)
	if err != nil && !bloberror.HasCode(err, bloberror.BlobNotFound) {
		return fmt.Errorf("cachestore: azure delete %s: %w", key, err)
	}
	return nil
}
