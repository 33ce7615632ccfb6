// Package config loads and validates service configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
	_ "time/tzdata" // source.timezone must resolve on hosts without zoneinfo

	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/JakeFAU/globaltender/internal/tender"
)

// ErrConfiguration is wrapped by every validation failure.
var ErrConfiguration = errors.New("configuration error")

// ConfigurationError names the offending key.
type ConfigurationError struct {
	Key    string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("%s: %s %s", ErrConfiguration, e.Key, e.Reason)
}

// Unwrap lets errors.Is match ErrConfiguration.
func (e *ConfigurationError) Unwrap() error { return ErrConfiguration }

func invalid(key, reason string) error {
	return &ConfigurationError{Key: key, Reason: reason}
}

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Crawler CrawlerConfig `mapstructure:"crawler"`
	Policy  PolicyConfig  `mapstructure:"policy"`
	Source  SourceConfig  `mapstructure:"source"`
	Storage StorageConfig `mapstructure:"storage"`
	Archive ArchiveConfig `mapstructure:"archive"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// ServerConfig controls the query API.
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	QueryTimeout    time.Duration `mapstructure:"query_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// CrawlerConfig governs one crawl session.
type CrawlerConfig struct {
	StartURLs              []string      `mapstructure:"start_urls"`
	Quota                  int           `mapstructure:"quota"`
	UserAgent              string        `mapstructure:"user_agent"`
	MaxPages               int           `mapstructure:"max_pages"`
	StopOnEmptyPage        bool          `mapstructure:"stop_on_empty_page"`
	MaxConsecutiveFailures int           `mapstructure:"max_consecutive_failures"`
	RequestTimeout         time.Duration `mapstructure:"request_timeout"`
	MaxBodyBytes           int           `mapstructure:"max_body_bytes"`
	RowSelector            string        `mapstructure:"row_selector"`
	// Schedule is a cron spec for recurring crawls under `serve`. Empty disables.
	Schedule string `mapstructure:"schedule"`
}

// PolicyConfig sets politeness and retry behavior.
type PolicyConfig struct {
	PerHostConcurrency int           `mapstructure:"per_host_concurrency"`
	RequestsPerSecond  float64       `mapstructure:"requests_per_second"`
	Burst              int           `mapstructure:"burst"`
	MinDelay           time.Duration `mapstructure:"min_delay"`
	MaxDelay           time.Duration `mapstructure:"max_delay"`
	MaxRetries         int           `mapstructure:"max_retries"`
	BackoffInitial     time.Duration `mapstructure:"backoff_initial"`
	BackoffMax         time.Duration `mapstructure:"backoff_max"`
	RespectRobots      bool          `mapstructure:"respect_robots"`
}

// SourceConfig describes the listing site and its jurisdiction.
type SourceConfig struct {
	Name     string       `mapstructure:"name"`
	Country  string       `mapstructure:"country"`
	State    string       `mapstructure:"state"`
	Region   string       `mapstructure:"region"`
	Currency string       `mapstructure:"currency"`
	Timezone string       `mapstructure:"timezone"`
	Layout   LayoutConfig `mapstructure:"layout"`
}

// LayoutConfig holds 1-based column positions within a listing row.
type LayoutConfig struct {
	Published     int `mapstructure:"published"`
	Title         int `mapstructure:"title"`
	Authority     int `mapstructure:"authority"`
	Closing       int `mapstructure:"closing"`
	Opening       int `mapstructure:"opening"`
	TitleFallback int `mapstructure:"title_fallback"`
}

// StorageConfig selects and tunes the tender store.
type StorageConfig struct {
	Backend      string        `mapstructure:"backend"`
	DSN          string        `mapstructure:"dsn"`
	Table        string        `mapstructure:"table"`
	MaxConns     int32         `mapstructure:"max_conns"`
	UpsertPolicy string        `mapstructure:"upsert_policy"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	WriteBuffer  int           `mapstructure:"write_buffer"`
	Migrate      bool          `mapstructure:"migrate"`
	Vector       bool          `mapstructure:"vector"`
}

// ArchiveConfig selects where raw listing pages are kept.
type ArchiveConfig struct {
	Backend     string `mapstructure:"backend"`
	Bucket      string `mapstructure:"bucket"`
	Endpoint    string `mapstructure:"endpoint"`
	BaseDir     string `mapstructure:"base_dir"`
	Prefix      string `mapstructure:"prefix"`
	ContentType string `mapstructure:"content_type"`
}

// LoggingConfig selects the zap preset and its overrides.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
	Encoding    string `mapstructure:"encoding"`
}

// Storage backends.
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendNone     = "none"
	BackendLocal    = "local"
	BackendGCS      = "gcs"
)

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("TENDER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.normalize()

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.request_timeout", "60s")
	v.SetDefault("server.query_timeout", "10s")
	v.SetDefault("server.shutdown_timeout", "15s")

	v.SetDefault("crawler.start_urls", []string{"https://eprocure.gov.in/cppp/latestactivetendersnew/cpppdata"})
	v.SetDefault("crawler.quota", 30)
	v.SetDefault("crawler.user_agent", "globaltender-bot/1.0 (+https://github.com/JakeFAU/globaltender)")
	v.SetDefault("crawler.max_pages", 100)
	v.SetDefault("crawler.stop_on_empty_page", true)
	v.SetDefault("crawler.max_consecutive_failures", 3)
	v.SetDefault("crawler.request_timeout", "30s")
	v.SetDefault("crawler.max_body_bytes", 10*1024*1024)
	v.SetDefault("crawler.row_selector", "table.table > tbody > tr")
	v.SetDefault("crawler.schedule", "")

	v.SetDefault("policy.per_host_concurrency", 8)
	v.SetDefault("policy.requests_per_second", 0.0)
	v.SetDefault("policy.burst", 1)
	v.SetDefault("policy.min_delay", "1s")
	v.SetDefault("policy.max_delay", "60s")
	v.SetDefault("policy.max_retries", 3)
	v.SetDefault("policy.backoff_initial", "500ms")
	v.SetDefault("policy.backoff_max", "30s")
	v.SetDefault("policy.respect_robots", true)

	v.SetDefault("source.name", "cppp")
	v.SetDefault("source.country", "IN")
	v.SetDefault("source.currency", "INR")
	v.SetDefault("source.timezone", "Asia/Kolkata")
	v.SetDefault("source.layout.published", 4)
	v.SetDefault("source.layout.title", 5)
	v.SetDefault("source.layout.authority", 6)
	v.SetDefault("source.layout.closing", 7)
	v.SetDefault("source.layout.opening", 7)
	v.SetDefault("source.layout.title_fallback", 1)

	v.SetDefault("storage.backend", BackendMemory)
	v.SetDefault("storage.table", "tenders")
	v.SetDefault("storage.max_conns", 4)
	v.SetDefault("storage.upsert_policy", string(tender.LastWriteWins))
	v.SetDefault("storage.write_timeout", "5s")
	v.SetDefault("storage.write_buffer", 64)
	v.SetDefault("storage.migrate", true)
	v.SetDefault("storage.vector", true)

	v.SetDefault("archive.backend", BackendNone)
	v.SetDefault("archive.prefix", "pages")
	v.SetDefault("archive.content_type", "text/html; charset=utf-8")

	v.SetDefault("logging.development", false)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.encoding", "")
}

var upper = cases.Upper(language.Und)

// normalize canonicalizes codes and enum values before validation.
func (c *Config) normalize() {
	c.Source.Country = upper.String(strings.TrimSpace(c.Source.Country))
	c.Source.Currency = upper.String(strings.TrimSpace(c.Source.Currency))
	c.Storage.Backend = strings.ToLower(strings.TrimSpace(c.Storage.Backend))
	c.Archive.Backend = strings.ToLower(strings.TrimSpace(c.Archive.Backend))
	c.Crawler.StartURLs = tender.Terms(c.Crawler.StartURLs)
}

// Validate enforces required values and reasonable limits. Every failure
// wraps ErrConfiguration.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return invalid("server.port", "must be > 0")
	}
	if err := c.validateCrawler(); err != nil {
		return err
	}
	if err := c.validatePolicy(); err != nil {
		return err
	}
	if err := c.validateSource(); err != nil {
		return err
	}
	if err := c.validateStorage(); err != nil {
		return err
	}
	return c.validateArchive()
}

func (c Config) validateCrawler() error {
	cr := c.Crawler
	if len(cr.StartURLs) == 0 {
		return invalid("crawler.start_urls", "must list at least one URL")
	}
	for _, raw := range cr.StartURLs {
		u, err := url.Parse(raw)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return invalid("crawler.start_urls", fmt.Sprintf("%q is not an absolute http(s) URL", raw))
		}
	}
	if cr.Quota < 0 {
		return invalid("crawler.quota", "must be >= 0")
	}
	if cr.Quota == 0 && cr.MaxPages <= 0 && !cr.StopOnEmptyPage {
		return invalid("crawler.quota", "an unlimited quota needs max_pages or stop_on_empty_page")
	}
	if cr.MaxPages < 0 {
		return invalid("crawler.max_pages", "must be >= 0")
	}
	if cr.MaxConsecutiveFailures < 0 {
		return invalid("crawler.max_consecutive_failures", "must be >= 0")
	}
	if cr.RequestTimeout <= 0 {
		return invalid("crawler.request_timeout", "must be > 0")
	}
	if strings.TrimSpace(cr.UserAgent) == "" {
		return invalid("crawler.user_agent", "is required")
	}
	if cr.Schedule != "" {
		if _, err := cron.ParseStandard(cr.Schedule); err != nil {
			return invalid("crawler.schedule", fmt.Sprintf("is not a valid cron spec: %v", err))
		}
	}
	return nil
}

func (c Config) validatePolicy() error {
	p := c.Policy
	if p.PerHostConcurrency <= 0 {
		return invalid("policy.per_host_concurrency", "must be > 0")
	}
	if p.RequestsPerSecond < 0 {
		return invalid("policy.requests_per_second", "must be >= 0")
	}
	if p.MinDelay < 0 || p.MaxDelay < 0 {
		return invalid("policy.min_delay", "delays must be >= 0")
	}
	if p.MaxDelay > 0 && p.MinDelay > p.MaxDelay {
		return invalid("policy.max_delay", "must be >= policy.min_delay")
	}
	if p.MaxRetries < 0 {
		return invalid("policy.max_retries", "must be >= 0")
	}
	if p.BackoffMax > 0 && p.BackoffInitial > p.BackoffMax {
		return invalid("policy.backoff_max", "must be >= policy.backoff_initial")
	}
	return nil
}

func (c Config) validateSource() error {
	s := c.Source
	if len(s.Country) != 2 {
		return invalid("source.country", "must be an ISO 3166-1 alpha-2 code")
	}
	if s.Currency != "" && len(s.Currency) != 3 {
		return invalid("source.currency", "must be an ISO 4217 code")
	}
	if _, err := time.LoadLocation(s.Timezone); err != nil {
		return invalid("source.timezone", fmt.Sprintf("unknown zone %q", s.Timezone))
	}
	l := s.Layout
	for key, col := range map[string]int{
		"published": l.Published, "title": l.Title, "authority": l.Authority,
		"closing": l.Closing, "opening": l.Opening, "title_fallback": l.TitleFallback,
	} {
		if col < 1 {
			return invalid("source.layout."+key, "must be a 1-based column")
		}
	}
	return nil
}

func (c Config) validateStorage() error {
	s := c.Storage
	switch s.Backend {
	case BackendMemory:
	case BackendPostgres:
		if strings.TrimSpace(s.DSN) == "" {
			return invalid("storage.dsn", "is required for the postgres backend")
		}
	default:
		return invalid("storage.backend", fmt.Sprintf("unknown backend %q", s.Backend))
	}
	if _, err := tender.ParseUpsertPolicy(s.UpsertPolicy); err != nil {
		return invalid("storage.upsert_policy", err.Error())
	}
	if s.WriteTimeout <= 0 {
		return invalid("storage.write_timeout", "must be > 0")
	}
	return nil
}

func (c Config) validateArchive() error {
	a := c.Archive
	switch a.Backend {
	case "", BackendNone, BackendMemory:
	case BackendLocal:
		if strings.TrimSpace(a.BaseDir) == "" {
			return invalid("archive.base_dir", "is required for the local backend")
		}
	case BackendGCS:
		if strings.TrimSpace(a.Bucket) == "" {
			return invalid("archive.bucket", "is required for the gcs backend")
		}
	default:
		return invalid("archive.backend", fmt.Sprintf("unknown backend %q", a.Backend))
	}
	return nil
}

// UpsertPolicy returns the parsed storage policy. Validate has already
// rejected unknown values.
func (c Config) UpsertPolicy() tender.UpsertPolicy {
	p, _ := tender.ParseUpsertPolicy(c.Storage.UpsertPolicy)
	return p
}
