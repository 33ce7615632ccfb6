// Package app wires configuration into long-lived services and owns their
// lifecycle: storage is opened once per process and released on every exit
// path.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/globaltender/internal/api"
	"github.com/JakeFAU/globaltender/internal/clock/system"
	"github.com/JakeFAU/globaltender/internal/config"
	"github.com/JakeFAU/globaltender/internal/crawler"
	collyfetcher "github.com/JakeFAU/globaltender/internal/fetcher/colly"
	"github.com/JakeFAU/globaltender/internal/id/uuid"
	"github.com/JakeFAU/globaltender/internal/scheduler"
	"github.com/JakeFAU/globaltender/internal/storage/gcs"
	"github.com/JakeFAU/globaltender/internal/storage/local"
	"github.com/JakeFAU/globaltender/internal/storage/memory"
	"github.com/JakeFAU/globaltender/internal/storage/postgres"
	"github.com/JakeFAU/globaltender/internal/tender"
)

// App holds the shared services built from one Config.
type App struct {
	cfg    config.Config
	logger *zap.Logger
	store  tender.Store
	blobs  crawler.BlobStore

	closers   []func() error
	closeOnce sync.Once
	closeErr  error
}

// New opens storage and the page archive. On failure anything already
// opened is released before returning.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{cfg: cfg, logger: logger}
	if err := a.openStore(ctx); err != nil {
		_ = a.Close()
		return nil, err
	}
	if err := a.openArchive(ctx); err != nil {
		_ = a.Close()
		return nil, err
	}
	logger.Info("application services initialized",
		zap.String("storage", cfg.Storage.Backend),
		zap.String("archive", cfg.Archive.Backend),
		zap.String("upsert_policy", string(cfg.UpsertPolicy())),
	)
	return a, nil
}

// Store returns the tender store.
func (a *App) Store() tender.Store { return a.store }

// Archive returns the raw page archive.
func (a *App) Archive() crawler.BlobStore { return a.blobs }

// Logger returns the root logger.
func (a *App) Logger() *zap.Logger { return a.logger }

func (a *App) openStore(ctx context.Context) error {
	sc := a.cfg.Storage
	switch sc.Backend {
	case config.BackendPostgres:
		pgCfg := postgres.TenderStoreConfig{
			DSN:          sc.DSN,
			Table:        sc.Table,
			MaxConns:     sc.MaxConns,
			UpsertPolicy: a.cfg.UpsertPolicy(),
		}
		log := a.logger.Named("postgres")
		// The vector type only exists after migration, so migrate on a pool
		// that does not register it.
		if sc.Migrate {
			migrator, err := postgres.NewTenderStore(ctx, pgCfg, log)
			if err != nil {
				return fmt.Errorf("open postgres for migration: %w", err)
			}
			err = migrator.Migrate(ctx)
			migrator.Close()
			if err != nil {
				return fmt.Errorf("migrate postgres: %w", err)
			}
		}
		pgCfg.RegisterVector = sc.Vector
		store, err := postgres.NewTenderStore(ctx, pgCfg, log)
		if err != nil {
			return fmt.Errorf("open postgres: %w", err)
		}
		a.store = store
	default:
		a.store = memory.NewTenderStore(a.cfg.UpsertPolicy())
	}
	store := a.store
	a.closers = append(a.closers, func() error {
		store.Close()
		return nil
	})
	return nil
}

func (a *App) openArchive(ctx context.Context) error {
	ac := a.cfg.Archive
	switch ac.Backend {
	case config.BackendMemory:
		a.blobs = memory.NewBlobStore()
	case config.BackendLocal:
		store, err := local.New(local.Config{BaseDir: ac.BaseDir})
		if err != nil {
			return fmt.Errorf("open local archive: %w", err)
		}
		a.blobs = store
	case config.BackendGCS:
		store, err := gcs.Open(ctx, gcs.Config{Bucket: ac.Bucket, Endpoint: ac.Endpoint}, a.logger.Named("gcs"))
		if err != nil {
			return fmt.Errorf("open gcs archive: %w", err)
		}
		a.blobs = store
		a.closers = append(a.closers, store.Close)
	}
	return nil
}

// NewEngine builds a crawl engine from the configuration.
func (a *App) NewEngine() (*crawler.Engine, error) {
	cfg := a.cfg
	dates, err := crawler.NewDateNormalizer(cfg.Source.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load source timezone: %w", err)
	}
	l := cfg.Source.Layout
	extractor, err := crawler.NewListingExtractor(cfg.Crawler.RowSelector, crawler.Layout{
		Published:     l.Published,
		Title:         l.Title,
		Authority:     l.Authority,
		Closing:       l.Closing,
		Opening:       l.Opening,
		TitleFallback: l.TitleFallback,
	}, dates)
	if err != nil {
		return nil, fmt.Errorf("build extractor: %w", err)
	}

	robots := crawler.NewRobotsEnforcer(
		cfg.Policy.RespectRobots,
		cfg.Crawler.UserAgent,
		&http.Client{Timeout: cfg.Crawler.RequestTimeout},
		a.logger.Named("robots"),
	)
	policy := crawler.NewHostPolicy(crawler.PolicyConfig{
		PerHostConcurrency: cfg.Policy.PerHostConcurrency,
		RequestsPerSecond:  cfg.Policy.RequestsPerSecond,
		Burst:              cfg.Policy.Burst,
		MinDelay:           cfg.Policy.MinDelay,
		MaxDelay:           cfg.Policy.MaxDelay,
	}, robots, a.logger.Named("policy"))
	retry := crawler.NewExponentialRetryPolicy(cfg.Policy.MaxRetries, cfg.Policy.BackoffInitial, cfg.Policy.BackoffMax)
	fetcher := collyfetcher.New(collyfetcher.Config{
		UserAgent:   cfg.Crawler.UserAgent,
		Timeout:     cfg.Crawler.RequestTimeout,
		MaxBodySize: cfg.Crawler.MaxBodyBytes,
	})
	writer := crawler.NewWriter(a.store, a.logger.Named("writer"))

	return crawler.New(crawler.Config{
		Seeds:     cfg.Crawler.StartURLs,
		Quota:     cfg.Crawler.Quota,
		UserAgent: cfg.Crawler.UserAgent,
		Pagination: crawler.PaginationConfig{
			MaxPages:               cfg.Crawler.MaxPages,
			StopOnEmptyPage:        cfg.Crawler.StopOnEmptyPage,
			MaxConsecutiveFailures: cfg.Crawler.MaxConsecutiveFailures,
		},
		Profile: crawler.SourceProfile{
			Name:     cfg.Source.Name,
			Country:  cfg.Source.Country,
			State:    cfg.Source.State,
			Region:   cfg.Source.Region,
			Currency: cfg.Source.Currency,
		},
		WriteBuffer:  cfg.Storage.WriteBuffer,
		WriteTimeout: cfg.Storage.WriteTimeout,
		ContentType:  cfg.Archive.ContentType,
		BlobPrefix:   cfg.Archive.Prefix,
	}, fetcher, extractor, policy, retry, writer, a.blobs, system.New(), uuid.New(), a.logger.Named("crawler")), nil
}

// Crawl runs one crawl session.
func (a *App) Crawl(ctx context.Context) (crawler.Summary, error) {
	engine, err := a.NewEngine()
	if err != nil {
		return crawler.Summary{}, err
	}
	return engine.Run(ctx)
}

// Serve listens on the configured port until ctx is canceled.
func (a *App) Serve(ctx context.Context) error {
	addr := net.JoinHostPort("", strconv.Itoa(a.cfg.Server.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	return a.ServeListener(ctx, ln)
}

// ServeListener runs the query API on ln and, when a schedule is configured,
// recurring crawls. It returns after a graceful shutdown once ctx is done.
func (a *App) ServeListener(ctx context.Context, ln net.Listener) error {
	handler := api.NewServer(a.store, system.New(), api.Options{
		RequestTimeout: a.cfg.Server.RequestTimeout,
		QueryTimeout:   a.cfg.Server.QueryTimeout,
	}, a.logger.Named("api")).Handler()
	srv := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	var sched *scheduler.Scheduler
	if spec := a.cfg.Crawler.Schedule; spec != "" {
		var err error
		sched, err = scheduler.New(spec, func(ctx context.Context) error {
			_, err := a.Crawl(ctx)
			return err
		}, a.logger.Named("scheduler"))
		if err != nil {
			_ = ln.Close()
			return fmt.Errorf("build scheduler: %w", err)
		}
		sched.Start(ctx)
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("api listening", zap.String("addr", ln.Addr().String()))
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
	case err, ok := <-errCh:
		if ok {
			serveErr = fmt.Errorf("serve http: %w", err)
		}
	}

	timeout := a.cfg.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if sched != nil {
		if err := sched.Stop(shutdownCtx); err != nil {
			a.logger.Warn("scheduler stop", zap.Error(err))
		}
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		serveErr = errors.Join(serveErr, fmt.Errorf("shutdown http: %w", err))
	}
	a.logger.Info("api stopped")
	return serveErr
}

// Close releases resources in reverse order of acquisition. It is safe to
// call more than once.
func (a *App) Close() error {
	a.closeOnce.Do(func() {
		var errs []error
		for i := len(a.closers) - 1; i >= 0; i-- {
			if err := a.closers[i](); err != nil {
				errs = append(errs, err)
			}
		}
		a.closeErr = errors.Join(errs...)
		if a.closeErr != nil {
			a.logger.Warn("error releasing services", zap.Error(a.closeErr))
		}
	})
	return a.closeErr
}
