// Package ratelimit implements per-host politeness: a token bucket plus an
// adaptive inter-request delay that reacts to server feedback.
package ratelimit

import (
	"context"
	"fmt"
	"math/rand/v2"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/JakeFAU/globaltender/internal/metrics"
)

// Limiter manages per-host rate limits and throttle delays.
type Limiter struct {
	mu           sync.Mutex
	hosts        map[string]*hostState
	defaultRate  rate.Limit
	defaultBurst int
	minDelay     time.Duration
	maxDelay     time.Duration
	now          func() time.Time
	jitter       func() float64
}

type hostState struct {
	bucket *rate.Limiter
	delay  time.Duration
	// floor raises minDelay for this host, e.g. from a robots.txt Crawl-delay.
	floor time.Duration
	next  time.Time
}

// Config holds rate limiter configuration.
type Config struct {
	// DefaultRPS is the token bucket rate per host; <= 0 disables the bucket.
	DefaultRPS   float64
	DefaultBurst int
	// MinDelay is the floor of the per-host delay and its starting value.
	MinDelay time.Duration
	// MaxDelay caps the adaptive delay.
	MaxDelay time.Duration
}

// Option customizes a Limiter.
type Option func(*Limiter)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// WithJitter overrides the delay multiplier source. The function must return
// values in [0.5, 1.5).
func WithJitter(j func() float64) Option {
	return func(l *Limiter) { l.jitter = j }
}

// New creates a new Limiter.
func New(cfg Config, opts ...Option) *Limiter {
	r := rate.Limit(cfg.DefaultRPS)
	if cfg.DefaultRPS <= 0 {
		r = rate.Inf
	}
	burst := cfg.DefaultBurst
	if burst <= 0 {
		burst = 1
	}
	maxDelay := cfg.MaxDelay
	if maxDelay < cfg.MinDelay {
		maxDelay = cfg.MinDelay
	}
	l := &Limiter{
		hosts:        make(map[string]*hostState),
		defaultRate:  r,
		defaultBurst: burst,
		minDelay:     cfg.MinDelay,
		maxDelay:     maxDelay,
		now:          time.Now,
		jitter:       func() float64 { return 0.5 + rand.Float64() },
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Wait blocks until a token is available for the URL's host, respecting the context.
func (l *Limiter) Wait(ctx context.Context, rawURL string) error {
	host := hostOf(rawURL)
	l.mu.Lock()
	st := l.state(host)
	l.mu.Unlock()

	start := time.Now()
	if err := st.bucket.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	if waited := time.Since(start); waited > time.Millisecond {
		metrics.ObserveRateLimitDelay(host, waited)
	}
	return nil
}

// Reserve books the next request slot for the URL's host and returns how long
// the caller must sleep before issuing it. The gap between consecutive
// requests to one host is the current delay scaled by a jitter factor in
// [0.5, 1.5). The first request to a host is not delayed.
func (l *Limiter) Reserve(rawURL string) time.Duration {
	host := hostOf(rawURL)
	l.mu.Lock()
	defer l.mu.Unlock()
	st := l.state(host)
	now := l.now()
	var wait time.Duration
	if !st.next.IsZero() && st.next.After(now) {
		wait = st.next.Sub(now)
	}
	gap := time.Duration(float64(st.delay) * l.jitter())
	st.next = now.Add(wait).Add(gap)
	return wait
}

// Delay returns the current adaptive delay for the URL's host.
func (l *Limiter) Delay(rawURL string) time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state(hostOf(rawURL)).delay
}

// ReportResult adapts the host delay from the outcome of a fetch. Errors, 429
// and 5xx double the delay; a success moves it halfway toward the observed
// latency. The result always stays within [MinDelay, MaxDelay].
func (l *Limiter) ReportResult(rawURL string, status int, err error, latency time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	st := l.state(hostOf(rawURL))
	var next time.Duration
	if err != nil || status == http.StatusTooManyRequests || status >= http.StatusInternalServerError {
		next = max(st.delay*2, l.minDelay)
	} else {
		next = (st.delay + latency) / 2
	}
	st.delay = l.clamp(st, next)
}

// SetFloor raises the minimum delay for the URL's host to d, still capped by
// MaxDelay. A floor below MinDelay has no effect.
func (l *Limiter) SetFloor(rawURL string, d time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	st := l.state(hostOf(rawURL))
	st.floor = d
	st.delay = l.clamp(st, st.delay)
}

func (l *Limiter) clamp(st *hostState, d time.Duration) time.Duration {
	floor := max(l.minDelay, st.floor)
	if l.maxDelay > 0 && floor > l.maxDelay {
		floor = l.maxDelay
	}
	if d < floor {
		return floor
	}
	if l.maxDelay > 0 && d > l.maxDelay {
		return l.maxDelay
	}
	return d
}

// state must be called with l.mu held.
func (l *Limiter) state(host string) *hostState {
	st, ok := l.hosts[host]
	if !ok {
		st = &hostState{
			bucket: rate.NewLimiter(l.defaultRate, l.defaultBurst),
			delay:  l.minDelay,
		}
		l.hosts[host] = st
	}
	return st
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return "unknown"
	}
	return strings.ToLower(u.Host)
}
