// Package scheduler runs crawl sessions on a cron schedule.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Job is one scheduled unit of work.
type Job func(ctx context.Context) error

// Scheduler fires Job on a cron spec. A firing that arrives while the
// previous run is still going is skipped, never queued.
type Scheduler struct {
	cron   *cron.Cron
	spec   string
	job    cron.Job
	logger *zap.Logger

	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
}

// New parses spec (standard five-field cron or a descriptor such as
// "@every 1h") and wraps job.
func New(spec string, job Job, logger *zap.Logger) (*Scheduler, error) {
	if job == nil {
		return nil, errors.New("scheduler job is nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	schedule, err := cron.ParseStandard(spec)
	if err != nil {
		return nil, fmt.Errorf("parse schedule %q: %w", spec, err)
	}

	cl := cronLogger{logger: logger.Sugar()}
	s := &Scheduler{
		spec:   spec,
		logger: logger,
		ctx:    context.Background(),
	}
	s.job = cron.NewChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)).Then(cron.FuncJob(s.run(job)))
	s.cron = cron.New(cron.WithLogger(cl), cron.WithLocation(time.UTC))
	s.cron.Schedule(schedule, s.job)
	return s, nil
}

func (s *Scheduler) run(job Job) func() {
	return func() {
		s.mu.Lock()
		ctx := s.ctx
		s.mu.Unlock()
		if ctx.Err() != nil {
			return
		}
		start := time.Now()
		s.logger.Info("scheduled crawl starting", zap.String("schedule", s.spec))
		if err := job(ctx); err != nil {
			s.logger.Error("scheduled crawl failed", zap.Duration("duration", time.Since(start)), zap.Error(err))
			return
		}
		s.logger.Info("scheduled crawl finished", zap.Duration("duration", time.Since(start)))
	}
}

// Start begins firing. Jobs receive a context derived from ctx that is
// canceled by Stop.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()
	s.cron.Start()
	s.logger.Info("scheduler started", zap.String("schedule", s.spec), zap.Time("next", s.Next()))
}

// Trigger runs the job now through the same overlap guard as scheduled runs.
func (s *Scheduler) Trigger() {
	s.job.Run()
}

// Next reports the next scheduled firing, zero before Start.
func (s *Scheduler) Next() time.Time {
	entries := s.cron.Entries()
	if len(entries) == 0 {
		return time.Time{}
	}
	return entries[0].Next
}

// Stop cancels the running job, if any, and waits for it to return or for
// ctx to expire.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Unlock()
	done := s.cron.Stop()
	select {
	case <-done.Done():
		s.logger.Info("scheduler stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("wait for scheduled crawl: %w", ctx.Err())
	}
}

// cronLogger adapts zap to cron.Logger. Cron's chatty bookkeeping goes to
// debug; skips and panics stay visible.
type cronLogger struct {
	logger *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	if msg == "skip" {
		l.logger.Warnw("scheduled crawl skipped; previous run still in progress", keysAndValues...)
		return
	}
	l.logger.Debugw("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Errorw("cron: "+msg, append(keysAndValues, "error", err)...)
}
