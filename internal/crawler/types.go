package crawler

import (
	"net/http"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/globaltender/internal/tender"
)

// FetchRequest captures everything needed to fetch a URL.
type FetchRequest struct {
	RunID   string
	URL     string
	Headers http.Header
}

// FetchResponse is the result returned by a Fetcher implementation.
type FetchResponse struct {
	URL        string
	StatusCode int
	Headers    http.Header
	Body       []byte
	Duration   time.Duration
}

// Page is one fetched listing page handed to the extractor.
type Page struct {
	URL        string
	FinalURL   string
	Number     int
	StatusCode int
	Body       []byte
	FetchedAt  time.Time
}

// Row is one listing row in document order.
type Row struct {
	Index int
	Cells *goquery.Selection
}

// SourceProfile carries the facts about a portal that are not on the page.
type SourceProfile struct {
	Name     string
	Country  string
	State    string
	Region   string
	Currency string
}

// RowContext is the per-page information the extractor needs for each row.
type RowContext struct {
	SourceURL string
	ScrapedAt time.Time
	Profile   SourceProfile
}

// Extraction is the outcome of extracting one row.
type Extraction struct {
	Record   tender.Record
	Warnings []FieldWarning
	// Skip is set for rows that carry no data at all.
	Skip bool
}

// Summary reports what a crawl session did.
type Summary struct {
	RunID         string
	StartedAt     time.Time
	Duration      time.Duration
	PagesFetched  int
	PagesFailed   int
	RobotsDenied  int
	RowsSeen      int
	RowsSkipped   int
	FieldWarnings int
	Inserted      int
	Updated       int
	Unchanged     int
	WriteFailures int
	QuotaReached  bool
	Canceled      bool
}

// Written is the number of records accepted by the store.
func (s Summary) Written() int {
	return s.Inserted + s.Updated + s.Unchanged
}
