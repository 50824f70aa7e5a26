// Package cache defines the shared byte cache holding fetched layer
// bodies, keyed by tenant and layer. It sits in front of the HTTP
// fetcher; per-session feature caches live in the viewer package.
package cache

import (
	"context"
	"time"
)

type Interface interface {
	// Get returns the cached body for key. The bool reports whether the
	// key was present; a miss is not an error.
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, val []byte, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
}
