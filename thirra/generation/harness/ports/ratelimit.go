package harnessports

import "context"

// RateLimiter coordinates throughput per model. Callers key permits by model ID and
// must call release once the provider call has finished.
type RateLimiter interface {
	Acquire(ctx context.Context, key string) (release func(), err error)
}
