package activity

import (
	"context"
	"math"
	"time"
)

// ExponentialBackoff grows the delay by Factor after each failed attempt, capped at Max.
type ExponentialBackoff struct {
	Base   time.Duration
	Factor float64
	Max    time.Duration
}

// Delay returns the wait before retry number attempt (0-based).
func (e ExponentialBackoff) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}

	delay := float64(e.Base) * math.Pow(e.Factor, float64(attempt))
	if e.Max > 0 && time.Duration(delay) > e.Max {
		return e.Max
	}

	return time.Duration(delay)
}

// RetryPolicy bounds how often a fatal activity error is retried.
type RetryPolicy struct {
	MaxAttempts int
	Backoff     ExponentialBackoff
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		Backoff: ExponentialBackoff{
			Base:   200 * time.Millisecond,
			Factor: 2,
			Max:    5 * time.Second,
		},
	}
}

// NoRetry runs every activity exactly once.
func NoRetry() RetryPolicy {
	return RetryPolicy{MaxAttempts: 1}
}

func (p RetryPolicy) attempts() int {
	return max(p.MaxAttempts, 1)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
