package app

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type countingFetcher struct {
	mu    sync.Mutex
	calls map[string]int
	fail  map[string]bool
	delay time.Duration
}

func newCountingFetcher() *countingFetcher {
	return &countingFetcher{calls: map[string]int{}, fail: map[string]bool{}}
}

func (f *countingFetcher) SignedURL(ctx context.Context, id, category string) (string, error) {
	f.mu.Lock()
	f.calls[id]++
	fail := f.fail[id]
	f.mu.Unlock()
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if fail {
		return "", errors.New("storage unavailable")
	}
	return "https://signed/" + category + "/" + id, nil
}

func (f *countingFetcher) count(id string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[id]
}

func TestAssetResolver_CachesSuccess(t *testing.T) {
	f := newCountingFetcher()
	r, err := NewAssetResolver(f, 8, discardLogger())
	require.NoError(t, err)
	ctx := context.Background()

	_, ok := r.Cached(CategoryThumb, "1.png")
	require.False(t, ok)

	for i := 0; i < 3; i++ {
		u, ok := r.Resolve(ctx, CategoryThumb, "1.png")
		require.True(t, ok)
		require.Equal(t, "https://signed/thumb/1.png", u)
	}
	require.Equal(t, 1, f.count("1.png"))
	require.Equal(t, 1, r.Len())
}

func TestAssetResolver_FailuresNotCached(t *testing.T) {
	f := newCountingFetcher()
	f.fail["bad.png"] = true
	r, err := NewAssetResolver(f, 8, discardLogger())
	require.NoError(t, err)
	ctx := context.Background()

	u, ok := r.Resolve(ctx, CategoryThumb, "bad.png")
	require.False(t, ok)
	require.Empty(t, u)

	f.mu.Lock()
	f.fail["bad.png"] = false
	f.mu.Unlock()

	u, ok = r.Resolve(ctx, CategoryThumb, "bad.png")
	require.True(t, ok)
	require.NotEmpty(t, u)
	require.Equal(t, 2, f.count("bad.png"))
}

func TestAssetResolver_ConcurrentLookupsShareFetch(t *testing.T) {
	f := newCountingFetcher()
	f.delay = 50 * time.Millisecond
	r, err := NewAssetResolver(f, 8, discardLogger())
	require.NoError(t, err)

	var wg sync.WaitGroup
	var resolved atomic.Int32
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, ok := r.Resolve(context.Background(), CategoryThumb, "hot.png"); ok {
				resolved.Add(1)
			}
		}()
	}
	wg.Wait()
	require.Equal(t, int32(8), resolved.Load())
	require.LessOrEqual(t, f.count("hot.png"), 2)
}

func TestAssetResolver_EvictsLeastRecentlyUsed(t *testing.T) {
	f := newCountingFetcher()
	r, err := NewAssetResolver(f, 2, discardLogger())
	require.NoError(t, err)
	ctx := context.Background()

	r.Resolve(ctx, CategoryThumb, "a")
	r.Resolve(ctx, CategoryThumb, "b")
	r.Resolve(ctx, CategoryThumb, "c")
	require.Equal(t, 2, r.Len())

	_, ok := r.Cached(CategoryThumb, "a")
	require.False(t, ok)
}

func TestAssetResolver_Prefetch(t *testing.T) {
	f := newCountingFetcher()
	f.fail["3.png"] = true
	r, err := NewAssetResolver(f, 0, discardLogger())
	require.NoError(t, err)

	n := r.Prefetch(context.Background(), CategoryThumb, []string{"1.png", "2.png", "3.png", "4.png", "5.png"})
	require.Equal(t, 4, n)
	require.Equal(t, 4, r.Len())
}

func TestHTTPSignedURLFetcher(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/thumb/42.png":
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"url": "https://cdn.example/42.png?sig=abc"}`))
		case "/thumb/empty.png":
			w.Write([]byte(`{}`))
		default:
			http.Error(w, "nope", http.StatusForbidden)
		}
	}))
	defer srv.Close()

	f := &HTTPSignedURLFetcher{Endpoint: srv.URL + "/", Client: srv.Client()}
	ctx := context.Background()

	u, err := f.SignedURL(ctx, "42.png", CategoryThumb)
	require.NoError(t, err)
	require.Equal(t, "https://cdn.example/42.png?sig=abc", u)

	_, err = f.SignedURL(ctx, "empty.png", CategoryThumb)
	require.Error(t, err)

	_, err = f.SignedURL(ctx, "denied.png", CategoryThumb)
	require.Error(t, err)
}

func TestStaticURLFetcher(t *testing.T) {
	u, err := StaticURLFetcher{Base: "http://localhost:9000/assets/"}.SignedURL(context.Background(), "7.png", CategoryThumb)
	require.NoError(t, err)
	require.Equal(t, "http://localhost:9000/assets/thumb/7.png", u)
	require.Equal(t, "7.png", ThumbnailAsset("7"))
}
