package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// CategoryThumb holds clip thumbnails, named <clip id>.png.
const CategoryThumb = "thumb"

const (
	DefaultAssetCacheSize    = 4096
	prefetchConcurrency      = 4
	DefaultAssetFetchTimeout = 10 * time.Second
)

// ThumbnailAsset returns the asset id of a clip's thumbnail.
func ThumbnailAsset(clipID string) string {
	return clipID + ".png"
}

// SignedURLFetcher mints a URL for an asset.
type SignedURLFetcher interface {
	SignedURL(ctx context.Context, id, category string) (string, error)
}

// HTTPSignedURLFetcher asks an endpoint for signed URLs. A GET to
// <Endpoint>/<category>/<id> must answer {"url": "..."}.
type HTTPSignedURLFetcher struct {
	Endpoint string
	Client   *http.Client
}

func (f *HTTPSignedURLFetcher) SignedURL(ctx context.Context, id, category string) (string, error) {
	target := strings.TrimRight(f.Endpoint, "/") + "/" + url.PathEscape(category) + "/" + url.PathEscape(id)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return "", err
	}
	client := f.Client
	if client == nil {
		client = &http.Client{Timeout: DefaultAssetFetchTimeout}
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("signed url %s/%s: %w", category, id, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("signed url %s/%s: unexpected status %s", category, id, resp.Status)
	}
	var body struct {
		URL string `json:"url"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&body); err != nil {
		return "", fmt.Errorf("signed url %s/%s: decode: %w", category, id, err)
	}
	if body.URL == "" {
		return "", errors.New("response does not contain a url")
	}
	return body.URL, nil
}

// StaticURLFetcher serves assets from a fixed base, for development.
type StaticURLFetcher struct {
	Base string
}

func (f StaticURLFetcher) SignedURL(_ context.Context, id, category string) (string, error) {
	return strings.TrimRight(f.Base, "/") + "/" + category + "/" + id, nil
}

// AssetResolver resolves asset URLs through an LRU cache. Concurrent
// lookups of one key share a single fetch. Failures are not cached.
type AssetResolver struct {
	fetcher SignedURLFetcher
	cache   *lru.Cache[string, string]
	group   singleflight.Group
	logger  *slog.Logger
}

// NewAssetResolver returns a resolver caching up to size URLs.
func NewAssetResolver(fetcher SignedURLFetcher, size int, logger *slog.Logger) (*AssetResolver, error) {
	if size <= 0 {
		size = DefaultAssetCacheSize
	}
	cache, err := lru.New[string, string](size)
	if err != nil {
		return nil, fmt.Errorf("asset cache: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &AssetResolver{fetcher: fetcher, cache: cache, logger: logger}, nil
}

func assetKey(category, id string) string {
	return category + "/" + id
}

// Cached returns a URL without fetching.
func (r *AssetResolver) Cached(category, id string) (string, bool) {
	return r.cache.Get(assetKey(category, id))
}

// Resolve returns the URL of an asset. ok is false while the asset is not
// available.
func (r *AssetResolver) Resolve(ctx context.Context, category, id string) (string, bool) {
	key := assetKey(category, id)
	if u, ok := r.cache.Get(key); ok {
		return u, true
	}
	v, err, _ := r.group.Do(key, func() (any, error) {
		u, err := r.fetcher.SignedURL(ctx, id, category)
		if err != nil {
			return "", err
		}
		if u != "" {
			r.cache.Add(key, u)
		}
		return u, nil
	})
	if err != nil {
		r.logger.Warn("asset unavailable", "category", category, "id", id, "error", err)
		return "", false
	}
	u := v.(string)
	return u, u != ""
}

// Prefetch resolves ids a few at a time and returns how many resolved.
// It returns once every lookup finished; ids not started when ctx ends are
// skipped.
func (r *AssetResolver) Prefetch(ctx context.Context, category string, ids []string) int {
	var g errgroup.Group
	g.SetLimit(prefetchConcurrency)
	resolved := make([]bool, len(ids))
	for i, id := range ids {
		i, id := i, id
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			_, resolved[i] = r.Resolve(ctx, category, id)
			return nil
		})
	}
	_ = g.Wait()
	n := 0
	for _, ok := range resolved {
		if ok {
			n++
		}
	}
	return n
}

// Len returns the number of cached URLs.
func (r *AssetResolver) Len() int {
	return r.cache.Len()
}
