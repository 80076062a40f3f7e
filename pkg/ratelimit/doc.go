// Package ratelimit keeps concurrent harvests inside the provider's request
// budget. TokenBucket wraps golang.org/x/time/rate; one instance is shared by
// every listing client in the process.
//
//	limiter := ratelimit.NewTokenBucket(20, 3)
//	if err := limiter.Wait(ctx); err != nil {
//	    return err
//	}
package ratelimit
