package cachestore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// SaveIndexSnapshot writes v as versioned JSON to
// <cache_root>/IFrameIndices/<assetID>.iframeindex (spec §6 "Persistent
// state layout"), used by internal/gopindex to optionally persist a
// track's GOP index across process restarts.
func SaveIndexSnapshot(cacheRoot, assetID string, v any) error {
	dir := filepath.Join(cacheRoot, "IFrameIndices")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("cachestore: mkdir IFrameIndices: %w", err)
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("cachestore: marshal index snapshot: %w", err)
	}
	dest := filepath.Join(dir, assetID+".iframeindex")
	tmp := dest + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("cachestore: write index snapshot: %w", err)
	}
	if err := os.Rename(tmp, dest); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("cachestore: rename index snapshot: %w", err)
	}
	return nil
}

// LoadIndexSnapshot reads and unmarshals a persisted index snapshot into v.
func LoadIndexSnapshot(cacheRoot, assetID string, v any) error {
	path := filepath.Join(cacheRoot, "IFrameIndices", assetID+".iframeindex")
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("cachestore: unmarshal index snapshot: %w", err)
	}
	return nil
}
