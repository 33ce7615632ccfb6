package tender

import (
	"context"
	"fmt"
	"strings"
)

// UpsertResult reports what a single write did to the store.
type UpsertResult int

const (
	// Inserted means a new document was created.
	Inserted UpsertResult = iota
	// Updated means an existing document with the same tenderId was replaced.
	Updated
	// Unchanged means an existing document was kept as is.
	Unchanged
)

func (r UpsertResult) String() string {
	switch r {
	case Inserted:
		return "inserted"
	case Updated:
		return "updated"
	case Unchanged:
		return "unchanged"
	default:
		return "unknown"
	}
}

// UpsertPolicy decides what happens when a tenderId is already stored.
type UpsertPolicy string

const (
	// LastWriteWins replaces the stored document and keeps its position.
	LastWriteWins UpsertPolicy = "last_write_wins"
	// FirstWriteWins keeps the stored document untouched.
	FirstWriteWins UpsertPolicy = "first_write_wins"
)

// ParseUpsertPolicy validates a configured policy name. Empty means LastWriteWins.
func ParseUpsertPolicy(s string) (UpsertPolicy, error) {
	switch UpsertPolicy(strings.ToLower(strings.TrimSpace(s))) {
	case "", LastWriteWins:
		return LastWriteWins, nil
	case FirstWriteWins:
		return FirstWriteWins, nil
	default:
		return "", fmt.Errorf("unknown upsert policy %q", s)
	}
}

// Writer is the write half of the storage contract used by the crawler.
type Writer interface {
	Upsert(ctx context.Context, rec Record) (UpsertResult, error)
}

// Reader is the read half of the storage contract used by the query API.
type Reader interface {
	Count(ctx context.Context, f Filter) (int64, error)
	// Find returns at most limit records matching f after skipping skip of
	// them, in insertion order.
	Find(ctx context.Context, f Filter, skip, limit int) ([]Record, error)
}

// Store is a document store keyed by tenderId.
type Store interface {
	Writer
	Reader
	Ping(ctx context.Context) error
	Close()
}
