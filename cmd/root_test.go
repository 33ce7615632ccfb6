package cmd

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/globaltender/internal/config"
	"github.com/JakeFAU/globaltender/internal/crawler"
)

type fakeApp struct {
	summary crawler.Summary
	err     error
	served  bool
	closed  int
	cfg     config.Config
}

func (f *fakeApp) Crawl(context.Context) (crawler.Summary, error) { return f.summary, f.err }
func (f *fakeApp) Serve(context.Context) error {
	f.served = true
	return f.err
}
func (f *fakeApp) Logger() *zap.Logger { return zap.NewNop() }
func (f *fakeApp) Close() error {
	f.closed++
	return nil
}

// useFakeApp swaps the application factory for the duration of the test.
func useFakeApp(t *testing.T, fake *fakeApp) {
	t.Helper()
	orig := newApp
	newApp = func(_ context.Context, cfg config.Config, _ *zap.Logger) (App, error) {
		fake.cfg = cfg
		return fake, nil
	}
	t.Cleanup(func() { newApp = orig })
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestCrawlCommandPrintsSummary(t *testing.T) {
	fake := &fakeApp{summary: crawler.Summary{RunID: "run-42", PagesFetched: 2, Inserted: 5, QuotaReached: true}}
	useFakeApp(t, fake)

	out, err := execute(t, "crawl", "--quota", "5", "--seed", "https://example.test/list")
	require.NoError(t, err)
	assert.Contains(t, out, "run-42")
	assert.Contains(t, out, "Inserted")
	assert.Equal(t, 5, fake.cfg.Crawler.Quota)
	assert.Equal(t, []string{"https://example.test/list"}, fake.cfg.Crawler.StartURLs)
	assert.Equal(t, 1, fake.closed)
}

func TestCrawlCommandCanceledIsNotAnError(t *testing.T) {
	fake := &fakeApp{
		summary: crawler.Summary{RunID: "run-1", Canceled: true},
		err:     errors.Join(errors.New("crawl canceled"), context.Canceled),
	}
	useFakeApp(t, fake)

	_, err := execute(t, "crawl")
	require.NoError(t, err)
	assert.Equal(t, 1, fake.closed)
}

func TestCrawlCommandFailureReleasesServices(t *testing.T) {
	fake := &fakeApp{err: errors.New("store down")}
	useFakeApp(t, fake)

	_, err := execute(t, "crawl")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store down")
	assert.Equal(t, 1, fake.closed)
}

func TestServeCommandOverrides(t *testing.T) {
	fake := &fakeApp{}
	useFakeApp(t, fake)

	_, err := execute(t, "serve", "--port", "9191", "--schedule", "@every 1h")
	require.NoError(t, err)
	assert.True(t, fake.served)
	assert.Equal(t, 9191, fake.cfg.Server.Port)
	assert.Equal(t, "@every 1h", fake.cfg.Crawler.Schedule)
}

func TestInvalidOverrideRejected(t *testing.T) {
	fake := &fakeApp{}
	useFakeApp(t, fake)

	_, err := execute(t, "serve", "--schedule", "not a schedule")
	require.ErrorIs(t, err, config.ErrConfiguration)
	assert.Zero(t, fake.closed, "no services are built for an invalid configuration")
}

func TestVersionCommandSkipsServices(t *testing.T) {
	useFakeApp(t, &fakeApp{})
	newApp = func(context.Context, config.Config, *zap.Logger) (App, error) {
		t.Fatal("version must not build services")
		return nil, nil
	}

	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "globaltender 1.0.0\n", out)
}

func TestEnvFileFeedsConfig(t *testing.T) {
	fake := &fakeApp{summary: crawler.Summary{RunID: "run-env"}}
	useFakeApp(t, fake)

	path := filepath.Join(t.TempDir(), "crawl.env")
	require.NoError(t, os.WriteFile(path, []byte("TENDER_CRAWLER_QUOTA=7\n"), 0o600))
	t.Cleanup(func() { _ = os.Unsetenv("TENDER_CRAWLER_QUOTA") })

	_, err := execute(t, "crawl", "--env-file", path)
	require.NoError(t, err)
	assert.Equal(t, 7, fake.cfg.Crawler.Quota)
}

func TestMissingEnvFileIgnored(t *testing.T) {
	require.NoError(t, loadEnvFile(filepath.Join(t.TempDir(), "absent.env")))
	require.NoError(t, loadEnvFile(""))
}
