package crawler

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"
)

// ExponentialRetryPolicy retries transient fetch failures with equal-jitter
// exponential backoff. A server-supplied Retry-After raises the wait.
type ExponentialRetryPolicy struct {
	maxRetries int
	base       time.Duration
	ceiling    time.Duration
	jitter     func() float64
}

// NewExponentialRetryPolicy allows maxRetries retries after the first attempt.
// Zero durations fall back to 500ms and 30s.
func NewExponentialRetryPolicy(maxRetries int, base, ceiling time.Duration) *ExponentialRetryPolicy {
	if base <= 0 {
		base = 500 * time.Millisecond
	}
	if ceiling <= 0 {
		ceiling = 30 * time.Second
	}
	if ceiling < base {
		ceiling = base
	}
	return &ExponentialRetryPolicy{
		maxRetries: maxRetries,
		base:       base,
		ceiling:    ceiling,
		jitter:     rand.Float64,
	}
}

// ShouldRetry reports whether another attempt is worthwhile. attempt counts
// the attempts already made, starting at 1.
func (p *ExponentialRetryPolicy) ShouldRetry(err error, attempt int) bool {
	if err == nil || attempt > p.maxRetries || errors.Is(err, ErrDisallowed) {
		return false
	}
	// A per-request client timeout also matches context.DeadlineExceeded, so
	// fetch failures are judged before bare context errors.
	var fetchErr *FetchError
	if errors.As(err, &fetchErr) {
		if errors.Is(fetchErr.Err, context.Canceled) {
			return false
		}
		return fetchErr.Retryable()
	}
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}

// Backoff returns the wait before attempt+1: half of base*2^(attempt-1)
// plus a random share of the other half, never above the ceiling.
func (p *ExponentialRetryPolicy) Backoff(err error, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := p.ceiling
	if shift := attempt - 1; shift < 32 {
		if grown := p.base << shift; grown > 0 && grown < p.ceiling {
			d = grown
		}
	}
	wait := d/2 + time.Duration(p.jitter()*float64(d/2))

	var fetchErr *FetchError
	if errors.As(err, &fetchErr) && fetchErr.RetryAfter > wait {
		wait = min(fetchErr.RetryAfter, p.ceiling)
	}
	return wait
}
