package crawler

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/globaltender/internal/metrics"
	"github.com/JakeFAU/globaltender/internal/tender"
)

// Writer persists one record at a time. It never retries.
type Writer struct {
	store  tender.Writer
	logger *zap.Logger
}

// NewWriter builds a Writer over store.
func NewWriter(store tender.Writer, logger *zap.Logger) *Writer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Writer{store: store, logger: logger}
}

// Write upserts rec. Failures are logged with the tenderId and returned as
// *WriteError; callers are expected to keep going.
func (w *Writer) Write(ctx context.Context, rec tender.Record) (tender.UpsertResult, error) {
	res, err := w.store.Upsert(ctx, rec)
	if err != nil {
		metrics.ObserveRecord("failed")
		w.logger.Error("failed to write tender",
			zap.String("tender_id", rec.TenderID),
			zap.String("source_url", rec.SourceURL),
			zap.Error(err),
		)
		return 0, &WriteError{TenderID: rec.TenderID, Err: err}
	}
	metrics.ObserveRecord(res.String())
	w.logger.Debug("tender written", zap.String("tender_id", rec.TenderID), zap.Stringer("result", res))
	return res, nil
}

// WriteTally counts write outcomes.
type WriteTally struct {
	Inserted  int
	Updated   int
	Unchanged int
	Failed    int
}

// Queue feeds records to a single writer goroutine so writes overlap fetching
// while keeping enqueue order.
type Queue struct {
	writer  *Writer
	timeout time.Duration
	ch      chan tender.Record
	done    chan struct{}

	closeOnce sync.Once
	mu        sync.Mutex
	tally     WriteTally
}

// StartQueue launches the writer goroutine. Each write runs on a context
// detached from ctx's cancellation and bounded by timeout, so records already
// queued are still written when the crawl is canceled.
func (w *Writer) StartQueue(ctx context.Context, buffer int, timeout time.Duration) *Queue {
	if buffer < 0 {
		buffer = 0
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	q := &Queue{
		writer:  w,
		timeout: timeout,
		ch:      make(chan tender.Record, buffer),
		done:    make(chan struct{}),
	}
	base := context.WithoutCancel(ctx)
	go q.run(base)
	return q
}

func (q *Queue) run(base context.Context) {
	defer close(q.done)
	for rec := range q.ch {
		wctx, cancel := context.WithTimeout(base, q.timeout)
		res, err := q.writer.Write(wctx, rec)
		cancel()
		q.mu.Lock()
		switch {
		case err != nil:
			q.tally.Failed++
		case res == tender.Inserted:
			q.tally.Inserted++
		case res == tender.Updated:
			q.tally.Updated++
		default:
			q.tally.Unchanged++
		}
		q.mu.Unlock()
	}
}

// Enqueue hands rec to the writer. It blocks while the buffer is full.
// Enqueue must not be called after Close.
func (q *Queue) Enqueue(rec tender.Record) {
	q.ch <- rec
}

// Close stops accepting records, waits for queued writes to finish and
// returns the final tally.
func (q *Queue) Close() WriteTally {
	q.closeOnce.Do(func() { close(q.ch) })
	<-q.done
	return q.Tally()
}

// Tally is a snapshot of the outcomes so far.
func (q *Queue) Tally() WriteTally {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.tally
}
