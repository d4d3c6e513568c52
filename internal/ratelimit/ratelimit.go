// Package ratelimit throttles API callers per key.
//
// MemoryLimiter keeps token buckets in process memory. Middleware adapts any
// Limiter to net/http and answers 429 in the standard error envelope.
package ratelimit

import "context"

// Limiter decides whether a request identified by key should be allowed.
// Implementations must be safe for concurrent use.
type Limiter interface {
	// Allow reports whether the request may proceed. A non-nil error means
	// the limiter itself failed; Middleware lets such requests through.
	Allow(ctx context.Context, key string) (bool, error)

	Close() error
}

// NoopLimiter permits every request. Used when rate limiting is disabled.
type NoopLimiter struct{}

func (NoopLimiter) Allow(context.Context, string) (bool, error) { return true, nil }

func (NoopLimiter) Close() error { return nil }
