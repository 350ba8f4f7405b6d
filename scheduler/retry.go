package scheduler

import (
	"context"
	"time"

	"golang.org/x/time/rate"

	"github.com/amelia-run/amelia/config"
)

// retryPolicy bounds how many times a Transient node failure is retried
// and how long the scheduler waits between attempts. limiter caps the rate
// at which retries may fire across every in-flight workflow, so a cluster
// of simultaneously retrying runs can't burst the Driver layer with
// requests a degraded provider is already struggling to answer.
type retryPolicy struct {
	maxAttempts int
	baseDelay   time.Duration
	maxDelay    time.Duration
	coefficient float64
	limiter     *rate.Limiter
}

// newRetryPolicy builds a retryPolicy from the store-resident settings.
// The limiter is seeded at one retry per base delay interval with a burst
// of maxAttempts, so a single workflow can exhaust its own backoff budget
// immediately but many workflows retrying at once are smoothed out.
func newRetryPolicy(s config.ServerSettings) retryPolicy {
	base := time.Duration(s.RetryBaseDelayMs) * time.Millisecond
	if base <= 0 {
		base = 500 * time.Millisecond
	}
	burst := s.RetryMaxAttempts
	if burst < 1 {
		burst = 1
	}
	return retryPolicy{
		maxAttempts: s.RetryMaxAttempts,
		baseDelay:   base,
		maxDelay:    time.Duration(s.RetryMaxDelayMs) * time.Millisecond,
		coefficient: s.RetryBackoffCoefficient,
		limiter:     rate.NewLimiter(rate.Every(base), burst),
	}
}

// delay returns the backoff duration before retry attempt n (1-indexed),
// capped at maxDelay.
func (p retryPolicy) delay(attempt int) time.Duration {
	d := float64(p.baseDelay)
	for i := 1; i < attempt; i++ {
		d *= p.coefficient
	}
	capped := time.Duration(d)
	if p.maxDelay > 0 && capped > p.maxDelay {
		return p.maxDelay
	}
	return capped
}

// wait blocks for the retry's backoff delay, also respecting the shared
// rate limiter, or returns ctx.Err() if ctx is cancelled first.
func (p retryPolicy) wait(ctx context.Context, attempt int) error {
	if err := p.limiter.Wait(ctx); err != nil {
		return err
	}
	t := time.NewTimer(p.delay(attempt))
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
