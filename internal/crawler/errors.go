package crawler

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// ErrDisallowed is returned when robots.txt forbids a URL.
var ErrDisallowed = errors.New("disallowed by robots.txt")

// FieldWarning reports a field that could not be extracted from a row.
// It never fails the run.
type FieldWarning struct {
	Field  string
	Reason string
}

func (w FieldWarning) String() string {
	return fmt.Sprintf("%s: %s", w.Field, w.Reason)
}

// FetchError describes a failed page fetch. StatusCode is zero for
// transport failures. RetryAfter carries the server's Retry-After hint.
type FetchError struct {
	URL        string
	StatusCode int
	RetryAfter time.Duration
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s: status %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Retryable reports whether the status warrants another attempt. Client
// errors other than 408 and 429 are final.
func (e *FetchError) Retryable() bool {
	if e.StatusCode == 0 {
		return true
	}
	switch e.StatusCode {
	case http.StatusRequestTimeout, http.StatusTooManyRequests:
		return true
	}
	return e.StatusCode >= http.StatusInternalServerError
}

// WriteError wraps a storage failure for one record.
type WriteError struct {
	TenderID string
	Err      error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("write tender %q: %v", e.TenderID, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

// ParseRetryAfter reads a Retry-After header value given in seconds or as an
// HTTP date relative to now. Unparseable or past values yield zero.
func ParseRetryAfter(value string, now time.Time) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}
	if secs, err := strconv.Atoi(value); err == nil {
		if secs <= 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	at, err := http.ParseTime(value)
	if err != nil {
		return 0
	}
	if d := at.Sub(now); d > 0 {
		return d
	}
	return 0
}
