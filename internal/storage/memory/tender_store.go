// Package memory holds in-process stores used when no database is configured.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/JakeFAU/globaltender/internal/tender"
)

// TenderStore keeps records in insertion order with a tenderId index.
// Records are stored as deep copies so callers cannot mutate stored state.
type TenderStore struct {
	mu      sync.RWMutex
	policy  tender.UpsertPolicy
	records []tender.Record
	index   map[string]int
}

// NewTenderStore constructs a TenderStore. An empty policy means last write wins.
func NewTenderStore(policy tender.UpsertPolicy) *TenderStore {
	if policy == "" {
		policy = tender.LastWriteWins
	}
	return &TenderStore{
		policy: policy,
		index:  make(map[string]int),
	}
}

// Upsert inserts rec or resolves a tenderId collision per the store policy.
func (s *TenderStore) Upsert(ctx context.Context, rec tender.Record) (tender.UpsertResult, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	cp, err := clone(rec)
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !cp.Keyed() {
		s.records = append(s.records, cp)
		return tender.Inserted, nil
	}
	if pos, ok := s.index[cp.TenderID]; ok {
		if s.policy == tender.FirstWriteWins {
			return tender.Unchanged, nil
		}
		s.records[pos] = cp
		return tender.Updated, nil
	}
	s.index[cp.TenderID] = len(s.records)
	s.records = append(s.records, cp)
	return tender.Inserted, nil
}

// Count returns the number of records matching f.
func (s *TenderStore) Count(ctx context.Context, f tender.Filter) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var n int64
	for _, r := range s.records {
		if f.Match(r) {
			n++
		}
	}
	return n, nil
}

// Find returns up to limit matches after skipping skip, in insertion order.
func (s *TenderStore) Find(ctx context.Context, f tender.Filter, skip, limit int) ([]tender.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []tender.Record{}
	for _, r := range s.records {
		if limit >= 0 && len(out) >= limit {
			break
		}
		if !f.Match(r) {
			continue
		}
		if skip > 0 {
			skip--
			continue
		}
		cp, err := clone(r)
		if err != nil {
			return nil, err
		}
		out = append(out, cp)
	}
	return out, nil
}

// Len returns the number of stored records.
func (s *TenderStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// Ping always succeeds.
func (s *TenderStore) Ping(context.Context) error { return nil }

// Close is a no-op.
func (s *TenderStore) Close() {}

// clone round-trips through JSON, which is also how records leave the API.
func clone(r tender.Record) (tender.Record, error) {
	r.Normalize()
	b, err := json.Marshal(r)
	if err != nil {
		return tender.Record{}, fmt.Errorf("copy tender %q: %w", r.TenderID, err)
	}
	var out tender.Record
	if err := json.Unmarshal(b, &out); err != nil {
		return tender.Record{}, fmt.Errorf("copy tender %q: %w", r.TenderID, err)
	}
	out.Normalize()
	return out, nil
}
