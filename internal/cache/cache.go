// Package cache provides the injected key-value cache used to memoize auth
// tokens and precompiled query text. The cache is a performance optimization,
// never a source of truth: every caller must tolerate a miss or a cache
// failure by falling back to the collaborator it shadows.
package cache

import (
	"context"
	"time"
)

// Cache is a narrow key-value interface over the shared cache backend. An
// instance is created at process start and injected explicitly; there is no
// package-level default.
type Cache interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Remove(ctx context.Context, key string) error
	RemoveByPattern(ctx context.Context, pattern string) error
	Increment(ctx context.Context, key string) (int64, error)
}

// WithCache returns the cached value under key when present, otherwise calls
// compute, stores its result under key with the given ttl and returns it.
// Cache errors on either side are swallowed: a broken cache degrades to
// calling compute every time, never to a request failure.
func WithCache(ctx context.Context, c Cache, key string, ttl time.Duration, compute func(ctx context.Context) (string, error)) (string, error) {
	if c != nil {
		if val, ok, err := c.Get(ctx, key); err == nil && ok {
			return val, nil
		}
	}

	val, err := compute(ctx)
	if err != nil {
		return "", err
	}

	if c != nil {
		_ = c.Set(ctx, key, val, ttl)
	}

	return val, nil
}
