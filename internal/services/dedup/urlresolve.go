package dedup

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
)

// URLResolver follows redirects via HEAD requests to canonicalize suspicious
// URLs in company mode. One resolver is shared process-wide: the cache is
// bounded with FIFO eviction and records failures too, so a dead URL is only
// probed once.
type URLResolver struct {
	client  *http.Client
	logger  arbor.ILogger
	timeout time.Duration

	mu       sync.Mutex
	cache    map[string]resolved
	order    []string
	capacity int

	hits     int64
	misses   int64
	failures int64
}

type resolved struct {
	finalHost string
	failed    bool
}

// URLResolverStats is the snapshot served by the stats API.
type URLResolverStats struct {
	CacheSize int   `json:"cacheSize"`
	Capacity  int   `json:"capacity"`
	Hits      int64 `json:"hits"`
	Misses    int64 `json:"misses"`
	Failures  int64 `json:"failures"`
}

// NewURLResolver creates a resolver with the given per-request timeout and
// cache bound.
func NewURLResolver(logger arbor.ILogger, timeout time.Duration, capacity int) *URLResolver {
	if capacity <= 0 {
		capacity = 2000
	}
	return &URLResolver{
		client: &http.Client{
			Timeout: timeout,
		},
		logger:   logger,
		timeout:  timeout,
		cache:    make(map[string]resolved, capacity),
		capacity: capacity,
	}
}

// ResolveHost returns the final hostname a URL redirects to, or "" when
// resolution failed. Both outcomes are cached.
func (r *URLResolver) ResolveHost(ctx context.Context, rawURL string) string {
	if rawURL == "" {
		return ""
	}

	r.mu.Lock()
	if entry, ok := r.cache[rawURL]; ok {
		r.hits++
		r.mu.Unlock()
		if entry.failed {
			return ""
		}
		return entry.finalHost
	}
	r.misses++
	r.mu.Unlock()

	finalHost, err := r.head(ctx, rawURL)
	if err != nil {
		// One retry, then cache the failure.
		finalHost, err = r.head(ctx, rawURL)
	}

	r.mu.Lock()
	if err != nil {
		r.failures++
		r.store(rawURL, resolved{failed: true})
		r.mu.Unlock()
		r.logger.Debug().Err(err).Str("url", rawURL).Msg("URL resolution failed")
		return ""
	}
	r.store(rawURL, resolved{finalHost: finalHost})
	r.mu.Unlock()
	return finalHost
}

// SameFinalHost reports whether two URLs resolve to the same hostname.
func (r *URLResolver) SameFinalHost(ctx context.Context, urlA, urlB string) bool {
	hostA := r.ResolveHost(ctx, urlA)
	if hostA == "" {
		return false
	}
	hostB := r.ResolveHost(ctx, urlB)
	return hostB != "" && hostA == hostB
}

// Stats returns a snapshot of cache behavior.
func (r *URLResolver) Stats() URLResolverStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return URLResolverStats{
		CacheSize: len(r.cache),
		Capacity:  r.capacity,
		Hits:      r.hits,
		Misses:    r.misses,
		Failures:  r.failures,
	}
}

func (r *URLResolver) head(ctx context.Context, rawURL string) (string, error) {
	reqCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodHead, rawURL, nil)
	if err != nil {
		return "", err
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	return resp.Request.URL.Hostname(), nil
}

// store inserts under r.mu, evicting the oldest entry when full.
func (r *URLResolver) store(key string, value resolved) {
	if _, exists := r.cache[key]; !exists {
		if len(r.cache) >= r.capacity && len(r.order) > 0 {
			oldest := r.order[0]
			r.order = r.order[1:]
			delete(r.cache, oldest)
		}
		r.order = append(r.order, key)
	}
	r.cache[key] = value
}
