// Package secrets loads runtime secrets from static config or Google Secret Manager.
package secrets

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrNotFound is returned when a secret does not exist.
var ErrNotFound = errors.New("secret not found")

// Source resolves secrets by name.
type Source interface {
	Get(ctx context.Context, name string) (string, error)
}

// Static is a Source backed by a map, typically filled from config.
type Static map[string]string

// Get returns the value for name.
func (s Static) Get(_ context.Context, name string) (string, error) {
	v, ok := s[name]
	if !ok || v == "" {
		return "", ErrNotFound
	}
	return v, nil
}

// DefaultCacheTTL is how long a cached secret is served before refresh.
const DefaultCacheTTL = 5 * time.Minute

type cachedValue struct {
	value   string
	err     error
	expires time.Time
}

// CachedSource memoizes lookups of another source for a fixed TTL.
// Not-found results are cached too; other errors are not.
type CachedSource struct {
	source Source
	ttl    time.Duration
	now    func() time.Time

	mu     sync.Mutex
	values map[string]cachedValue
}

// Cached wraps source with a TTL cache.
func Cached(source Source, ttl time.Duration) *CachedSource {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &CachedSource{
		source: source,
		ttl:    ttl,
		now:    time.Now,
		values: make(map[string]cachedValue),
	}
}

// Get returns the cached value or loads it from the wrapped source.
func (c *CachedSource) Get(ctx context.Context, name string) (string, error) {
	c.mu.Lock()
	if v, ok := c.values[name]; ok && c.now().Before(v.expires) {
		c.mu.Unlock()
		return v.value, v.err
	}
	c.mu.Unlock()

	value, err := c.source.Get(ctx, name)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return "", err
	}

	c.mu.Lock()
	c.values[name] = cachedValue{value: value, err: err, expires: c.now().Add(c.ttl)}
	c.mu.Unlock()

	return value, err
}

// Invalidate drops every cached value.
func (c *CachedSource) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.values = make(map[string]cachedValue)
}
