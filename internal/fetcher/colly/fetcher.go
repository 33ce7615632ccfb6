// Package collyfetcher fetches listing pages with gocolly.
package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/JakeFAU/globaltender/internal/crawler"
)

const defaultAccept = "text/html,application/xhtml+xml;q=0.9,*/*;q=0.8"

// Config controls collector behavior.
type Config struct {
	UserAgent string
	// Accept is sent when the request does not set its own.
	Accept      string
	Timeout     time.Duration
	MaxBodySize int
	// Transport replaces the pooled default transport.
	Transport http.RoundTripper
}

// Fetcher implements crawler.Fetcher on a base collector cloned per request.
// robots.txt is enforced by the crawl policy before a fetch, so the collector
// ignores it.
type Fetcher struct {
	cfg  Config
	base *colly.Collector
	now  func() time.Time
}

// New builds a Fetcher.
func New(cfg Config) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Accept == "" {
		cfg.Accept = defaultAccept
	}
	c := colly.NewCollector(colly.Async(false))
	c.IgnoreRobotsTxt = true
	c.AllowURLRevisit = true
	if cfg.MaxBodySize > 0 {
		c.MaxBodySize = cfg.MaxBodySize
	}
	transport := cfg.Transport
	if transport == nil {
		transport = newHTTPTransport()
	}
	c.WithTransport(transport)

	return &Fetcher{cfg: cfg, base: c, now: time.Now}
}

// visit collects the outcome of one collector run.
type visit struct {
	resp crawler.FetchResponse
	err  error
}

// hooks is the callback surface of *colly.Collector used by Fetch.
type hooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// Fetch performs one GET. Non-2xx responses come back as *crawler.FetchError
// carrying the status and any Retry-After hint.
func (f *Fetcher) Fetch(ctx context.Context, request crawler.FetchRequest) (crawler.FetchResponse, error) {
	collector := f.base.Clone()
	if f.cfg.UserAgent != "" {
		collector.UserAgent = f.cfg.UserAgent
	}
	collector.SetRequestTimeout(f.cfg.Timeout)
	collector.Context = ctx
	v := f.register(collector, request, f.now())

	done := make(chan error, 1)
	go func() { done <- collector.Visit(request.URL) }()

	select {
	case <-ctx.Done():
		return crawler.FetchResponse{}, fmt.Errorf("fetch %s: %w", request.URL, ctx.Err())
	case err := <-done:
		if ctxErr := ctx.Err(); ctxErr != nil {
			return crawler.FetchResponse{}, fmt.Errorf("fetch %s: %w", request.URL, ctxErr)
		}
		switch {
		case v.err != nil:
			return crawler.FetchResponse{}, v.err
		case err != nil:
			var fe *crawler.FetchError
			if errors.As(err, &fe) {
				return crawler.FetchResponse{}, err
			}
			return crawler.FetchResponse{}, &crawler.FetchError{URL: request.URL, Err: fmt.Errorf("colly visit: %w", err)}
		}
		return v.resp, nil
	}
}

func (f *Fetcher) register(h hooks, request crawler.FetchRequest, start time.Time) *visit {
	v := &visit{}
	h.OnRequest(func(r *colly.Request) {
		for key, values := range request.Headers {
			if key == "User-Agent" && f.cfg.UserAgent != "" {
				continue
			}
			for _, val := range values {
				r.Headers.Set(key, val)
			}
		}
		if r.Headers.Get("Accept") == "" {
			r.Headers.Set("Accept", f.cfg.Accept)
		}
	})
	h.OnResponse(func(r *colly.Response) {
		v.resp = f.response(r, start)
	})
	h.OnError(func(r *colly.Response, err error) {
		fe := &crawler.FetchError{URL: request.URL, Err: err}
		if r != nil && r.StatusCode != 0 {
			fe.StatusCode = r.StatusCode
			if r.Headers != nil {
				fe.RetryAfter = crawler.ParseRetryAfter(r.Headers.Get("Retry-After"), f.now())
			}
			v.resp = f.response(r, start)
		}
		v.err = fe
	})
	return v
}

func (f *Fetcher) response(r *colly.Response, start time.Time) crawler.FetchResponse {
	resp := crawler.FetchResponse{
		StatusCode: r.StatusCode,
		Body:       append([]byte(nil), r.Body...),
		Duration:   f.now().Sub(start),
	}
	if r.Request != nil && r.Request.URL != nil {
		resp.URL = r.Request.URL.String()
	}
	if r.Headers != nil {
		resp.Headers = r.Headers.Clone()
	}
	return resp
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: time.Second,
		MaxIdleConnsPerHost:   4,
		IdleConnTimeout:       90 * time.Second,
	}
}
