package crawler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path"
	"strconv"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/globaltender/internal/metrics"
)

// Config controls one crawl session.
type Config struct {
	Seeds        []string
	Quota        int
	UserAgent    string
	Pagination   PaginationConfig
	Profile      SourceProfile
	WriteBuffer  int
	WriteTimeout time.Duration
	ContentType  string
	BlobPrefix   string
}

// Engine runs crawl sessions: one pagination chain per seed, sharing the
// quota, the host policy and a single ordered writer.
type Engine struct {
	cfg       Config
	fetcher   Fetcher
	extractor RowExtractor
	policy    *HostPolicy
	retry     RetryPolicy
	writer    *Writer
	blobStore BlobStore
	clock     Clock
	ids       IDGenerator
	pause     pauseController
	logger    *zap.Logger
}

// New constructs an Engine. blobStore may be nil to skip archiving raw pages.
func New(
	cfg Config,
	fetcher Fetcher,
	extractor RowExtractor,
	policy *HostPolicy,
	retry RetryPolicy,
	writer *Writer,
	blobStore BlobStore,
	clock Clock,
	ids IDGenerator,
	logger *zap.Logger,
) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ContentType == "" {
		cfg.ContentType = "text/html; charset=utf-8"
	}
	if cfg.WriteBuffer <= 0 {
		cfg.WriteBuffer = 64
	}
	return &Engine{
		cfg:       cfg,
		fetcher:   fetcher,
		extractor: extractor,
		policy:    policy,
		retry:     retry,
		writer:    writer,
		blobStore: blobStore,
		clock:     clock,
		ids:       ids,
		pause:     timerPauseController{},
		logger:    logger,
	}
}

type runStats struct {
	pagesFetched  atomic.Int64
	pagesFailed   atomic.Int64
	robotsDenied  atomic.Int64
	rowsSeen      atomic.Int64
	rowsSkipped   atomic.Int64
	fieldWarnings atomic.Int64
}

type run struct {
	id    string
	quota *Quota
	queue *Queue
	stats *runStats
}

// Run executes one crawl session and blocks until every chain has stopped and
// every queued record has been written. A canceled ctx stops fetching; the
// returned error then wraps ctx.Err().
func (e *Engine) Run(ctx context.Context) (Summary, error) {
	runID, err := e.ids.NewID()
	if err != nil {
		return Summary{}, fmt.Errorf("generate run id: %w", err)
	}
	started := e.clock.Now()
	logger := e.logger.With(zap.String("run_id", runID))
	logger.Info("crawl started", zap.Strings("seeds", e.cfg.Seeds), zap.Int("quota", e.cfg.Quota))

	r := &run{
		id:    runID,
		quota: NewQuota(e.cfg.Quota),
		queue: e.writer.StartQueue(ctx, e.cfg.WriteBuffer, e.cfg.WriteTimeout),
		stats: &runStats{},
	}

	g, gctx := errgroup.WithContext(ctx)
	for i, seed := range e.cfg.Seeds {
		g.Go(func() error {
			e.runChain(gctx, r, i, seed, logger)
			return nil
		})
	}
	_ = g.Wait()
	tally := r.queue.Close()

	summary := Summary{
		RunID:         runID,
		StartedAt:     started,
		Duration:      e.clock.Now().Sub(started),
		PagesFetched:  int(r.stats.pagesFetched.Load()),
		PagesFailed:   int(r.stats.pagesFailed.Load()),
		RobotsDenied:  int(r.stats.robotsDenied.Load()),
		RowsSeen:      int(r.stats.rowsSeen.Load()),
		RowsSkipped:   int(r.stats.rowsSkipped.Load()),
		FieldWarnings: int(r.stats.fieldWarnings.Load()),
		Inserted:      tally.Inserted,
		Updated:       tally.Updated,
		Unchanged:     tally.Unchanged,
		WriteFailures: tally.Failed,
		QuotaReached:  r.quota.Reached(),
		Canceled:      ctx.Err() != nil,
	}
	fields := []zap.Field{
		zap.Int("pages_fetched", summary.PagesFetched),
		zap.Int("pages_failed", summary.PagesFailed),
		zap.Int("records_written", summary.Written()),
		zap.Int("write_failures", summary.WriteFailures),
		zap.Duration("duration", summary.Duration),
	}
	if summary.Canceled {
		metrics.ObserveRun("canceled")
		logger.Warn("crawl canceled", fields...)
		return summary, fmt.Errorf("crawl canceled: %w", ctx.Err())
	}
	metrics.ObserveRun("succeeded")
	logger.Info("crawl finished", fields...)
	return summary, nil
}

func (e *Engine) runChain(ctx context.Context, r *run, seedIndex int, seed string, logger *zap.Logger) {
	p := NewPaginator(seed, e.cfg.Pagination, r.quota)
	logger = logger.With(zap.String("seed", seed))
	for {
		if done, _ := p.Done(); done {
			break
		}
		if ctx.Err() != nil {
			p.Stop(StopCanceled)
			break
		}
		pageURL := p.Current()
		if !e.policy.Allowed(ctx, pageURL) {
			r.stats.robotsDenied.Add(1)
			p.Stop(StopDisallowed)
			break
		}

		resp, err := e.fetchWithRetry(ctx, r.id, pageURL, logger)
		if err != nil {
			if ctx.Err() != nil {
				p.Stop(StopCanceled)
				break
			}
			r.stats.pagesFailed.Add(1)
			metrics.ObservePage(pageURL, "abandoned", 0)
			logger.Warn("abandoning page", zap.String("url", pageURL), zap.Int("page", p.Page()), zap.Error(err))
			p.Abandoned()
			continue
		}
		r.stats.pagesFetched.Add(1)
		metrics.ObservePage(pageURL, strconv.Itoa(resp.StatusCode), len(resp.Body))

		page := Page{
			URL:        pageURL,
			FinalURL:   resp.URL,
			Number:     p.Page(),
			StatusCode: resp.StatusCode,
			Body:       resp.Body,
			FetchedAt:  e.clock.Now(),
		}
		e.archive(ctx, r.id, seedIndex, page, logger)

		rows, err := e.extractor.Rows(page)
		if err != nil {
			r.stats.pagesFailed.Add(1)
			logger.Warn("unparseable listing page", zap.String("url", pageURL), zap.Error(err))
			p.Abandoned()
			continue
		}
		yielded := e.processRows(r, page, rows, logger)
		logger.Info("page processed",
			zap.String("url", pageURL),
			zap.Int("page", page.Number),
			zap.Int("rows", len(rows)),
			zap.Int("yielded", yielded),
			zap.Int("quota_taken", r.quota.Taken()),
		)
		p.Redirected(page.FinalURL)
		p.Completed(yielded)
	}
	_, reason := p.Done()
	logger.Info("pagination stopped", zap.String("reason", string(reason)), zap.Int("pages", p.Visited()))
}

// processRows extracts rows in document order and queues them for writing.
// It stops as soon as the quota is exhausted, leaving later rows untouched.
func (e *Engine) processRows(r *run, page Page, rows []Row, logger *zap.Logger) int {
	source := page.FinalURL
	if source == "" {
		source = page.URL
	}
	rc := RowContext{SourceURL: source, ScrapedAt: e.clock.Now(), Profile: e.cfg.Profile}
	yielded := 0
	for _, row := range rows {
		if r.quota.Reached() {
			break
		}
		ex := e.extractor.Extract(row, rc)
		r.stats.rowsSeen.Add(1)
		if ex.Skip {
			r.stats.rowsSkipped.Add(1)
			metrics.ObserveRow("skipped")
			continue
		}
		for _, w := range ex.Warnings {
			r.stats.fieldWarnings.Add(1)
			metrics.ObserveFieldWarning(w.Field)
			logger.Debug("field warning",
				zap.String("url", source),
				zap.Int("row", row.Index),
				zap.String("tender_id", ex.Record.TenderID),
				zap.String("field", w.Field),
				zap.String("reason", w.Reason),
			)
		}
		if !r.quota.TryTake() {
			break
		}
		metrics.ObserveRow("extracted")
		r.queue.Enqueue(ex.Record)
		yielded++
	}
	return yielded
}

func (e *Engine) fetchWithRetry(ctx context.Context, runID, pageURL string, logger *zap.Logger) (FetchResponse, error) {
	for attempt := 1; ; attempt++ {
		release, err := e.policy.Acquire(ctx, pageURL)
		if err != nil {
			return FetchResponse{}, err
		}
		start := time.Now()
		resp, err := e.fetcher.Fetch(ctx, FetchRequest{
			RunID:   runID,
			URL:     pageURL,
			Headers: http.Header{"User-Agent": []string{e.cfg.UserAgent}},
		})
		latency := time.Since(start)
		release()

		if ctx.Err() == nil {
			e.report(pageURL, resp.StatusCode, err, latency)
		}
		if err == nil {
			return resp, nil
		}
		if !e.retry.ShouldRetry(err, attempt) {
			return FetchResponse{}, err
		}
		backoff := e.retry.Backoff(err, attempt)
		metrics.ObserveRetry(pageURL)
		logger.Warn("fetch failed; retrying",
			zap.String("url", pageURL),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", backoff),
			zap.Error(err),
		)
		e.pause.Pause(ctx, backoff)
		if ctx.Err() != nil {
			return FetchResponse{}, fmt.Errorf("retry backoff: %w", ctx.Err())
		}
	}
}

// report feeds the throttle. HTTP status failures are judged by their code so
// a 404 does not slow the host down.
func (e *Engine) report(pageURL string, status int, err error, latency time.Duration) {
	var fetchErr *FetchError
	if errors.As(err, &fetchErr) && fetchErr.StatusCode != 0 {
		e.policy.Report(pageURL, fetchErr.StatusCode, nil, latency)
		return
	}
	e.policy.Report(pageURL, status, err, latency)
}

func (e *Engine) archive(ctx context.Context, runID string, seedIndex int, page Page, logger *zap.Logger) {
	if e.blobStore == nil {
		return
	}
	key := path.Join(e.cfg.BlobPrefix, runID, fmt.Sprintf("seed-%02d", seedIndex), fmt.Sprintf("page-%05d.html", page.Number))
	uri, err := e.blobStore.PutObject(ctx, key, e.cfg.ContentType, page.Body)
	if err != nil {
		logger.Warn("archive page failed", zap.String("url", page.URL), zap.Error(err))
		return
	}
	logger.Debug("page archived", zap.String("url", page.URL), zap.String("uri", uri))
}
