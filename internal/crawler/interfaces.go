package crawler

import (
	"context"
	"time"
)

// Fetcher fetches a URL and returns the body plus metadata. Non-2xx responses
// are returned as *FetchError.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (FetchResponse, error)
}

// RowExtractor turns a listing page into tender records. A new portal layout
// is a new implementation.
type RowExtractor interface {
	Rows(page Page) ([]Row, error)
	Extract(row Row, rc RowContext) Extraction
}

// BlobStore archives raw listing pages and returns the object URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data []byte) (string, error)
}

// RobotsPolicy decides whether robots.txt permits fetching a URL.
type RobotsPolicy interface {
	Allowed(ctx context.Context, rawURL string) bool
}

// RetryPolicy decides whether and when a failed fetch is retried.
type RetryPolicy interface {
	ShouldRetry(err error, attempt int) bool
	Backoff(err error, attempt int) time.Duration
}

// Clock returns the current time.
type Clock interface {
	Now() time.Time
}

// IDGenerator produces crawl run IDs.
type IDGenerator interface {
	NewID() (string, error)
}
