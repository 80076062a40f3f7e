// Package retry re-runs operations that failed with a retryable error.
//
// Components themselves never retry; callers such as the sync runner wrap a
// whole harvest in Do and resume where the failed attempt stopped:
//
//	err := retry.Do(ctx, func(ctx context.Context, attempt int) error {
//	    return harvestFrom(ctx, nextPage)
//	}, &retry.Config{MaxAttempts: 3, Backoff: retry.DefaultExponentialBackoff()})
package retry
