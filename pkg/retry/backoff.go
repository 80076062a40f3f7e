package retry

import (
	"context"
	"math/rand/v2"
	"time"
)

// BackoffStrategy computes the pause before retry number attempt (1-based)
type BackoffStrategy interface {
	NextDelay(attempt int) time.Duration
}

// ExponentialBackoff grows the pause by Multiplier per attempt up to
// MaxDelay. A non-zero JitterFactor spreads it by up to ±factor.
type ExponentialBackoff struct {
	BaseDelay    time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	JitterFactor float64

	// Rand returns a value in [0,1); nil uses math/rand
	Rand func() float64
}

// DefaultExponentialBackoff starts at 5s and caps at two minutes
func DefaultExponentialBackoff() *ExponentialBackoff {
	return &ExponentialBackoff{
		BaseDelay:    5 * time.Second,
		MaxDelay:     2 * time.Minute,
		Multiplier:   2.0,
		JitterFactor: 0.1,
	}
}

func (eb *ExponentialBackoff) NextDelay(attempt int) time.Duration {
	if attempt <= 0 || eb.BaseDelay <= 0 {
		return 0
	}
	mult := eb.Multiplier
	if mult < 1 {
		mult = 2
	}

	d := float64(eb.BaseDelay)
	limit := float64(eb.MaxDelay)
	for i := 1; i < attempt; i++ {
		d *= mult
		if limit > 0 && d >= limit {
			break
		}
	}
	if limit > 0 && d > limit {
		d = limit
	}

	if eb.JitterFactor > 0 {
		r := eb.Rand
		if r == nil {
			r = rand.Float64
		}
		d += d * eb.JitterFactor * (2*r() - 1)
	}
	if d < 0 {
		return 0
	}
	return time.Duration(d)
}

// ConstantBackoff pauses for Delay before every retry
type ConstantBackoff struct {
	Delay time.Duration
}

func (cb *ConstantBackoff) NextDelay(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}
	return cb.Delay
}

// Wait pauses for delay, returning early with ctx.Err() when ctx ends
func Wait(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(delay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
