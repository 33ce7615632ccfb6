package crawler

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/JakeFAU/globaltender/internal/metrics"
	"github.com/JakeFAU/globaltender/internal/policy/ratelimit"
)

// PolicyConfig holds the politeness knobs applied per host.
type PolicyConfig struct {
	PerHostConcurrency int
	RequestsPerSecond  float64
	// Burst is the token bucket size; it defaults to PerHostConcurrency.
	Burst              int
	MinDelay           time.Duration
	MaxDelay           time.Duration
}

// HostPolicy gates every fetch: robots.txt, an in-flight ceiling per host, a
// token bucket and the adaptive inter-request delay.
type HostPolicy struct {
	robots  RobotsPolicy
	limiter *ratelimit.Limiter
	perHost int64
	pause   pauseController
	logger  *zap.Logger

	mu    sync.Mutex
	slots map[string]*semaphore.Weighted
}

// NewHostPolicy wires the per-host gates. A nil robots policy allows everything.
func NewHostPolicy(cfg PolicyConfig, robots RobotsPolicy, logger *zap.Logger, opts ...ratelimit.Option) *HostPolicy {
	if robots == nil {
		robots = allowAllPolicy{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	perHost := int64(cfg.PerHostConcurrency)
	if perHost <= 0 {
		perHost = 1
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = int(perHost)
	}
	return &HostPolicy{
		robots: robots,
		limiter: ratelimit.New(ratelimit.Config{
			DefaultRPS:   cfg.RequestsPerSecond,
			DefaultBurst: burst,
			MinDelay:     cfg.MinDelay,
			MaxDelay:     cfg.MaxDelay,
		}, opts...),
		perHost: perHost,
		pause:   timerPauseController{},
		logger:  logger,
		slots:   make(map[string]*semaphore.Weighted),
	}
}

// Allowed reports whether robots.txt permits rawURL, counting denials. A
// Crawl-delay in the host's robots.txt raises that host's delay floor.
func (p *HostPolicy) Allowed(ctx context.Context, rawURL string) bool {
	if p.robots.Allowed(ctx, rawURL) {
		if cd, ok := p.robots.(crawlDelayer); ok {
			if d := cd.CrawlDelay(ctx, rawURL); d > 0 {
				p.limiter.SetFloor(rawURL, d)
			}
		}
		return true
	}
	metrics.ObserveRobotsDenied(rawURL)
	p.logger.Info("robots.txt disallows url", zap.String("url", rawURL))
	return false
}

// Acquire blocks until a request to rawURL may be issued and returns the
// function that frees the host slot. The slot is held across the delay so the
// in-flight ceiling covers waiting requests too.
func (p *HostPolicy) Acquire(ctx context.Context, rawURL string) (func(), error) {
	slot := p.slot(rawURL)
	if err := slot.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("acquire host slot: %w", err)
	}
	release := func() { slot.Release(1) }

	if err := p.limiter.Wait(ctx, rawURL); err != nil {
		release()
		return nil, err
	}
	if wait := p.limiter.Reserve(rawURL); wait > 0 {
		metrics.ObserveThrottleDelay(rawURL, wait)
		p.pause.Pause(ctx, wait)
		if err := ctx.Err(); err != nil {
			release()
			return nil, fmt.Errorf("politeness delay: %w", err)
		}
	}
	return release, nil
}

// Report feeds a fetch outcome back into the adaptive throttle.
func (p *HostPolicy) Report(rawURL string, status int, err error, latency time.Duration) {
	p.limiter.ReportResult(rawURL, status, err, latency)
}

// Delay is the current adaptive delay for rawURL's host.
func (p *HostPolicy) Delay(rawURL string) time.Duration {
	return p.limiter.Delay(rawURL)
}

func (p *HostPolicy) slot(rawURL string) *semaphore.Weighted {
	host := "unknown"
	if u, err := url.Parse(rawURL); err == nil && u.Host != "" {
		host = strings.ToLower(u.Host)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.slots[host]
	if !ok {
		s = semaphore.NewWeighted(p.perHost)
		p.slots[host] = s
	}
	return s
}

// pauseController abstracts how the crawler sleeps between requests.
type pauseController interface {
	Pause(ctx context.Context, delay time.Duration)
}

type timerPauseController struct{}

func (timerPauseController) Pause(ctx context.Context, delay time.Duration) {
	if delay <= 0 {
		return
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
