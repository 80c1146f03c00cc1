package loader

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Fetcher retrieves one model asset by reference.
type Fetcher interface {
	Fetch(ctx context.Context, ref string) ([]byte, error)
}

// HTTPFetcher fetches assets over HTTP(S).
type HTTPFetcher struct {
	Client *http.Client
}

// Fetch implements Fetcher.
func (f HTTPFetcher) Fetch(ctx context.Context, ref string) ([]byte, error) {
	client := f.Client
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ref, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", "signdrill")
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status for %s: %s", ref, resp.Status)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", ref, err)
	}
	return data, nil
}

// FileFetcher reads assets from the local filesystem.
type FileFetcher struct{}

// Fetch implements Fetcher.
func (FileFetcher) Fetch(ctx context.Context, ref string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return os.ReadFile(strings.TrimPrefix(ref, "file://"))
}

// AutoFetcher dispatches on the reference scheme.
type AutoFetcher struct {
	HTTP HTTPFetcher
	File FileFetcher
}

// NewFetcher returns a fetcher for both URLs and local paths.
func NewFetcher(client *http.Client) AutoFetcher {
	return AutoFetcher{HTTP: HTTPFetcher{Client: client}}
}

// Fetch implements Fetcher.
func (f AutoFetcher) Fetch(ctx context.Context, ref string) ([]byte, error) {
	if isURL(ref) {
		return f.HTTP.Fetch(ctx, ref)
	}
	return f.File.Fetch(ctx, ref)
}

// ResolveRef resolves a shard path against the descriptor reference.
func ResolveRef(descriptorRef, shard string) string {
	if isURL(shard) {
		return shard
	}
	if isURL(descriptorRef) {
		base, err := url.Parse(descriptorRef)
		if err != nil {
			return shard
		}
		rel, err := url.Parse(shard)
		if err != nil {
			return shard
		}
		return base.ResolveReference(rel).String()
	}
	if filepath.IsAbs(shard) {
		return shard
	}
	return filepath.Join(filepath.Dir(strings.TrimPrefix(descriptorRef, "file://")), shard)
}

func isURL(ref string) bool {
	return strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://")
}
