package adapters

import (
	"context"
	"errors"
	"sync"
	"time"

	ports "github.com/opestro/Thirra-ai-sub000/thirra/generation/harness/ports"
)

// ErrRateLimitExceeded is returned when no token frees up before the context ends.
var ErrRateLimitExceeded = errors.New("rate limit exceeded")

// TokenBucket implements a per-key token bucket rate limiter.
type TokenBucket struct {
	mu         sync.Mutex
	buckets    map[string]*bucket
	capacity   int           // max tokens per bucket
	refillRate time.Duration // time between token refills
	now        func() time.Time
}

// bucket represents a single token bucket for a key.
type bucket struct {
	tokens     int
	lastRefill time.Time
}

// NewTokenBucket creates a new token bucket rate limiter.
// A refillRate <= 0 never refills, so each key gets capacity permits in total.
func NewTokenBucket(capacity int, refillRate time.Duration) *TokenBucket {
	if capacity < 1 {
		capacity = 1
	}
	return &TokenBucket{
		buckets:    make(map[string]*bucket),
		capacity:   capacity,
		refillRate: refillRate,
		now:        time.Now,
	}
}

// Acquire takes a token for key, waiting for a refill while ctx allows.
// The returned release func is a no-op; tokens come back only through refill.
func (tb *TokenBucket) Acquire(ctx context.Context, key string) (release func(), err error) {
	for {
		wait, ok := tb.take(key)
		if ok {
			return func() {}, nil
		}
		if wait <= 0 {
			return nil, ErrRateLimitExceeded
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, errors.Join(ErrRateLimitExceeded, ctx.Err())
		case <-timer.C:
		}
	}
}

// take consumes a token or reports how long until the next refill.
func (tb *TokenBucket) take(key string) (time.Duration, bool) {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	now := tb.now()
	b, exists := tb.buckets[key]
	if !exists {
		b = &bucket{tokens: tb.capacity, lastRefill: now}
		tb.buckets[key] = b
	}

	if tb.refillRate > 0 {
		elapsed := now.Sub(b.lastRefill)
		if tokensToAdd := int(elapsed / tb.refillRate); tokensToAdd > 0 {
			b.tokens = min(b.tokens+tokensToAdd, tb.capacity)
			b.lastRefill = b.lastRefill.Add(time.Duration(tokensToAdd) * tb.refillRate)
		}
	}

	if b.tokens > 0 {
		b.tokens--
		return 0, true
	}
	if tb.refillRate <= 0 {
		return 0, false
	}
	return tb.refillRate - now.Sub(b.lastRefill), false
}

// Ensure TokenBucket implements the RateLimiter interface.
var _ ports.RateLimiter = (*TokenBucket)(nil)
