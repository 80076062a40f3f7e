package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter gates outgoing provider requests
type Limiter interface {
	// Allow reports whether a request may proceed now, consuming a token
	Allow() bool
	// Wait blocks until a request may proceed or ctx is done
	Wait(ctx context.Context) error
	// Reset refills the bucket
	Reset()
}

// TokenBucket is a process-wide request budget shared by every harvest
type TokenBucket struct {
	mu      sync.Mutex
	limit   rate.Limit
	burst   int
	limiter *rate.Limiter
}

// NewTokenBucket allows requestsPerMinute on average with bursts of burst
func NewTokenBucket(requestsPerMinute, burst int) *TokenBucket {
	if requestsPerMinute <= 0 {
		requestsPerMinute = 1
	}
	if burst <= 0 {
		burst = 1
	}
	limit := rate.Every(time.Minute / time.Duration(requestsPerMinute))
	return &TokenBucket{
		limit:   limit,
		burst:   burst,
		limiter: rate.NewLimiter(limit, burst),
	}
}

func (tb *TokenBucket) current() *rate.Limiter {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	return tb.limiter
}

func (tb *TokenBucket) Allow() bool {
	return tb.current().Allow()
}

func (tb *TokenBucket) Wait(ctx context.Context) error {
	return tb.current().Wait(ctx)
}

func (tb *TokenBucket) Reset() {
	tb.mu.Lock()
	tb.limiter = rate.NewLimiter(tb.limit, tb.burst)
	tb.mu.Unlock()
}

// Unlimited never blocks
type Unlimited struct{}

func (Unlimited) Allow() bool                { return true }
func (Unlimited) Wait(context.Context) error { return nil }
func (Unlimited) Reset()                     {}
