package loader

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// DescriptorFile is the descriptor name inside a cache directory.
const DescriptorFile = "model.json"

// Download describes a model mirrored into a local directory.
type Download struct {
	DescriptorPath string
	Shards         []string
	Cached         int
}

// DownloadModel mirrors the descriptor at ref and its shards into cacheDir. Shards
// already present are kept. The written descriptor lists shards by file name so the
// directory can be loaded offline.
func DownloadModel(ctx context.Context, fetcher Fetcher, ref, cacheDir string) (Download, error) {
	if cacheDir == "" {
		return Download{}, fmt.Errorf("cache directory is required")
	}
	if err := os.MkdirAll(cacheDir, 0o755); err != nil {
		return Download{}, fmt.Errorf("failed to create cache dir: %w", err)
	}

	raw, err := fetcher.Fetch(ctx, ref)
	if err != nil {
		return Download{}, fmt.Errorf("%w: descriptor %s: %w", ErrLoadNetwork, ref, err)
	}
	desc, err := ParseDescriptor(raw)
	if err != nil {
		return Download{}, err
	}

	result := Download{DescriptorPath: filepath.Join(cacheDir, DescriptorFile)}
	local := make([]string, 0, len(desc.ShardPaths()))
	for _, shard := range desc.ShardPaths() {
		name := filepath.Base(shard)
		destPath := filepath.Join(cacheDir, name)
		local = append(local, name)
		result.Shards = append(result.Shards, destPath)

		if _, err := os.Stat(destPath); err == nil {
			result.Cached++
			continue
		} else if !errors.Is(err, os.ErrNotExist) {
			return Download{}, fmt.Errorf("failed to stat cached shard: %w", err)
		}
		data, err := fetcher.Fetch(ctx, ResolveRef(ref, shard))
		if err != nil {
			return Download{}, fmt.Errorf("%w: shard %s: %w", ErrLoadNetwork, shard, err)
		}
		if err := writeFileAtomic(destPath, data); err != nil {
			return Download{}, err
		}
	}

	desc.WeightsManifest = []WeightsGroup{{Paths: local}}
	out, err := json.MarshalIndent(desc, "", "  ")
	if err != nil {
		return Download{}, fmt.Errorf("failed to encode descriptor: %w", err)
	}
	if err := writeFileAtomic(result.DescriptorPath, out); err != nil {
		return Download{}, err
	}
	return result, nil
}

func writeFileAtomic(path string, data []byte) error {
	tmpFile, err := os.CreateTemp(filepath.Dir(path), "model-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()
	defer func() {
		_ = tmpFile.Close()
		_ = os.Remove(tmpPath)
	}()

	if _, err := tmpFile.Write(data); err != nil {
		return fmt.Errorf("failed to write %s: %w", filepath.Base(path), err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("failed to move %s into cache: %w", filepath.Base(path), err)
	}
	return nil
}
