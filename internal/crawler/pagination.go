package crawler

import (
	"fmt"
	"net/url"
	"strconv"
	"sync/atomic"
)

// Quota is the session-wide item cap shared by every pagination chain.
type Quota struct {
	limit int64
	taken atomic.Int64
}

// NewQuota returns a quota of limit items. A non-positive limit is unlimited.
func NewQuota(limit int) *Quota {
	return &Quota{limit: int64(limit)}
}

// TryTake reserves one item. It returns false once the cap is reached and
// never lets the count exceed it, however many chains race for it.
func (q *Quota) TryTake() bool {
	if q.limit <= 0 {
		q.taken.Add(1)
		return true
	}
	for {
		cur := q.taken.Load()
		if cur >= q.limit {
			return false
		}
		if q.taken.CompareAndSwap(cur, cur+1) {
			return true
		}
	}
}

// Reached reports whether no further items may be taken.
func (q *Quota) Reached() bool {
	return q.limit > 0 && q.taken.Load() >= q.limit
}

// Taken is the number of items reserved so far.
func (q *Quota) Taken() int {
	return int(q.taken.Load())
}

// StopReason explains why a pagination chain ended.
type StopReason string

// Reasons a chain stops.
const (
	StopNone       StopReason = ""
	StopQuota      StopReason = "quota_reached"
	StopEmptyPage  StopReason = "empty_page"
	StopMaxPages   StopReason = "max_pages"
	StopFailures   StopReason = "consecutive_failures"
	StopDisallowed StopReason = "robots_disallowed"
	StopCanceled   StopReason = "canceled"
	StopInvalidURL StopReason = "invalid_url"
)

// PaginationConfig bounds a chain beyond the shared quota.
type PaginationConfig struct {
	// MaxPages caps pages visited per seed; 0 means unlimited.
	MaxPages int
	// StopOnEmptyPage ends the chain when a page yields zero rows.
	StopOnEmptyPage bool
	// MaxConsecutiveFailures ends the chain after this many abandoned pages
	// in a row; 0 means unlimited.
	MaxConsecutiveFailures int
}

// Paginator walks one seed's listing pages. It is owned by a single chain.
type Paginator struct {
	cfg      PaginationConfig
	quota    *Quota
	current  string
	page     int
	visited  int
	failures int
	stop     StopReason
}

// NewPaginator starts a chain at seed.
func NewPaginator(seed string, cfg PaginationConfig, quota *Quota) *Paginator {
	p := &Paginator{cfg: cfg, quota: quota, current: seed, page: pageNumber(seed)}
	if quota != nil && quota.Reached() {
		p.stop = StopQuota
	}
	return p
}

// Current is the URL of the page to fetch next.
func (p *Paginator) Current() string { return p.current }

// Page is the page number of Current.
func (p *Paginator) Page() int { return p.page }

// Visited is the number of pages processed or abandoned so far.
func (p *Paginator) Visited() int { return p.visited }

// Done reports whether the chain has stopped and why.
func (p *Paginator) Done() (bool, StopReason) {
	return p.stop != StopNone, p.stop
}

// Stop ends the chain for an external reason.
func (p *Paginator) Stop(reason StopReason) {
	if p.stop == StopNone {
		p.stop = reason
	}
}

// Redirected moves the chain onto the URL the current page was finally
// served from, so the next page is derived from it. Empty or relative URLs
// are ignored.
func (p *Paginator) Redirected(finalURL string) {
	if finalURL == "" || finalURL == p.current {
		return
	}
	u, err := url.Parse(finalURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return
	}
	p.current = finalURL
	p.page = pageNumber(finalURL)
}

// Completed records a processed page with rows listing rows and advances.
func (p *Paginator) Completed(rows int) {
	p.visited++
	p.failures = 0
	switch {
	case p.quota != nil && p.quota.Reached():
		p.stop = StopQuota
	case rows == 0 && p.cfg.StopOnEmptyPage:
		p.stop = StopEmptyPage
	default:
		p.advance()
	}
}

// Abandoned records a page whose fetch failed for good and moves past it.
func (p *Paginator) Abandoned() {
	p.visited++
	p.failures++
	if p.cfg.MaxConsecutiveFailures > 0 && p.failures >= p.cfg.MaxConsecutiveFailures {
		p.stop = StopFailures
		return
	}
	p.advance()
}

func (p *Paginator) advance() {
	if p.cfg.MaxPages > 0 && p.visited >= p.cfg.MaxPages {
		p.stop = StopMaxPages
		return
	}
	next, err := NextPageURL(p.current)
	if err != nil {
		p.stop = StopInvalidURL
		return
	}
	p.current = next
	p.page++
}

// NextPageURL increments the page query parameter of current (1 when absent)
// and keeps scheme, host and path. Other query parameters are dropped.
func NextPageURL(current string) (string, error) {
	u, err := url.Parse(current)
	if err != nil {
		return "", fmt.Errorf("parse page url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("page url %q is not absolute", current)
	}
	next := url.URL{Scheme: u.Scheme, Host: u.Host, Path: u.Path, RawPath: u.RawPath}
	next.RawQuery = "page=" + strconv.Itoa(pageNumber(current)+1)
	return next.String(), nil
}

func pageNumber(raw string) int {
	u, err := url.Parse(raw)
	if err != nil {
		return 1
	}
	n, err := strconv.Atoi(u.Query().Get("page"))
	if err != nil || n < 1 {
		return 1
	}
	return n
}
