package crawler

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/temoto/robotstxt"
	"go.uber.org/zap"
)

// DefaultRobotsTTL is how long a parsed robots.txt is reused.
const DefaultRobotsTTL = 24 * time.Hour

// RobotsEnforcer answers robots.txt questions per host, caching each parsed
// file for a TTL so long-lived processes pick up changes.
type RobotsEnforcer struct {
	client    *http.Client
	userAgent string
	ttl       time.Duration
	now       func() time.Time
	logger    *zap.Logger

	mu      sync.Mutex
	entries map[string]robotsEntry
}

type robotsEntry struct {
	data      *robotstxt.RobotsData
	fetchedAt time.Time
}

// NewRobotsEnforcer builds a RobotsPolicy respecting the config toggle. A nil
// client gets a 10s timeout client.
func NewRobotsEnforcer(respect bool, userAgent string, client *http.Client, logger *zap.Logger) RobotsPolicy {
	if !respect {
		return allowAllPolicy{}
	}
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RobotsEnforcer{
		client:    client,
		userAgent: userAgent,
		ttl:       DefaultRobotsTTL,
		now:       time.Now,
		logger:    logger,
		entries:   make(map[string]robotsEntry),
	}
}

// Allowed implements RobotsPolicy. A robots.txt that cannot be fetched allows
// access and is retried on the next call.
func (r *RobotsEnforcer) Allowed(ctx context.Context, rawURL string) bool {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Host == "" {
		return false
	}
	data, err := r.load(ctx, parsed)
	if err != nil {
		r.logger.Warn("robots fetch failed; allowing access", zap.String("host", parsed.Host), zap.Error(err))
		return true
	}
	target := parsed.EscapedPath()
	if target == "" {
		target = "/"
	}
	if parsed.RawQuery != "" {
		target += "?" + parsed.RawQuery
	}
	return data.TestAgent(target, r.userAgent)
}

// CrawlDelay returns the Crawl-delay that applies to our user agent on
// rawURL's host, or zero.
func (r *RobotsEnforcer) CrawlDelay(ctx context.Context, rawURL string) time.Duration {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Host == "" {
		return 0
	}
	data, err := r.load(ctx, parsed)
	if err != nil {
		return 0
	}
	if group := data.FindGroup(r.userAgent); group != nil {
		return group.CrawlDelay
	}
	return 0
}

func (r *RobotsEnforcer) load(ctx context.Context, parsed *url.URL) (*robotstxt.RobotsData, error) {
	key := strings.ToLower(parsed.Scheme + "://" + parsed.Host)
	r.mu.Lock()
	entry, ok := r.entries[key]
	r.mu.Unlock()
	if ok && r.now().Sub(entry.fetchedAt) < r.ttl {
		return entry.data, nil
	}

	data, err := r.fetch(ctx, parsed)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	r.entries[key] = robotsEntry{data: data, fetchedAt: r.now()}
	r.mu.Unlock()
	return data, nil
}

func (r *RobotsEnforcer) fetch(ctx context.Context, parsed *url.URL) (*robotstxt.RobotsData, error) {
	robotsURL := url.URL{Scheme: parsed.Scheme, Host: parsed.Host, Path: "/robots.txt"}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("new robots request: %w", err)
	}
	req.Header.Set("User-Agent", r.userAgent)
	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch robots: %w", err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			r.logger.Debug("close robots body", zap.Error(cerr))
		}
	}()
	if resp.StatusCode >= http.StatusInternalServerError {
		return nil, fmt.Errorf("fetch robots: status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read robots body: %w", err)
	}
	data, err := robotstxt.FromStatusAndBytes(resp.StatusCode, body)
	if err != nil {
		return nil, fmt.Errorf("parse robots: %w", err)
	}
	return data, nil
}

type allowAllPolicy struct{}

func (allowAllPolicy) Allowed(context.Context, string) bool { return true }

// crawlDelayer is implemented by robots policies that know a host's
// Crawl-delay.
type crawlDelayer interface {
	CrawlDelay(ctx context.Context, rawURL string) time.Duration
}
