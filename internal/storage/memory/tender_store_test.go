package memory

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/globaltender/internal/tender"
)

var _ tender.Store = (*TenderStore)(nil)

func record(id, title string) tender.Record {
	return tender.Record{TenderID: id, Country: "IN", Details: tender.Details{Title: title}}
}

func TestTenderStoreLastWriteWins(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewTenderStore("")

	res, err := s.Upsert(ctx, record("A", "first"))
	require.NoError(t, err)
	assert.Equal(t, tender.Inserted, res)
	_, err = s.Upsert(ctx, record("B", "second"))
	require.NoError(t, err)

	res, err = s.Upsert(ctx, record("A", "replaced"))
	require.NoError(t, err)
	assert.Equal(t, tender.Updated, res)

	got, err := s.Find(ctx, tender.Filter{}, 0, 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "replaced", got[0].Details.Title, "replacement keeps insertion position")
	assert.Equal(t, "B", got[1].TenderID)
}

func TestTenderStoreFirstWriteWins(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewTenderStore(tender.FirstWriteWins)
	_, err := s.Upsert(ctx, record("A", "first"))
	require.NoError(t, err)

	res, err := s.Upsert(ctx, record("A", "second"))
	require.NoError(t, err)
	assert.Equal(t, tender.Unchanged, res)

	got, err := s.Find(ctx, tender.Filter{TenderID: "A"}, 0, 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "first", got[0].Details.Title)
}

func TestTenderStoreEmptyIDAlwaysInserts(t *testing.T) {
	t.Parallel()

	s := NewTenderStore("")
	for i := 0; i < 3; i++ {
		res, err := s.Upsert(context.Background(), record("", "anon"))
		require.NoError(t, err)
		assert.Equal(t, tender.Inserted, res)
	}
	assert.Equal(t, 3, s.Len())
}

func TestTenderStoreFindPaging(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewTenderStore("")
	for i := 1; i <= 25; i++ {
		title := "Supply of paper"
		if i%2 == 0 {
			title = "Road tender"
		}
		_, err := s.Upsert(ctx, record(fmt.Sprintf("T-%02d", i), title))
		require.NoError(t, err)
	}

	f := tender.Filter{IncludeKeywords: []string{"road"}}
	n, err := s.Count(ctx, f)
	require.NoError(t, err)
	assert.Equal(t, int64(12), n)

	page, err := s.Find(ctx, f, 10, 10)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "T-22", page[0].TenderID)
	assert.Equal(t, "T-24", page[1].TenderID)

	empty, err := s.Find(ctx, f, 100, 10)
	require.NoError(t, err)
	assert.NotNil(t, empty)
	assert.Empty(t, empty)
}

func TestTenderStoreReturnsCopies(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewTenderStore("")
	rec := record("A", "orig")
	rec.UnstructuredData = map[string]string{"col1": "1."}
	_, err := s.Upsert(ctx, rec)
	require.NoError(t, err)
	rec.UnstructuredData["col1"] = "mutated"

	got, err := s.Find(ctx, tender.Filter{}, 0, 1)
	require.NoError(t, err)
	got[0].UnstructuredData["col1"] = "also mutated"

	again, err := s.Find(ctx, tender.Filter{}, 0, 1)
	require.NoError(t, err)
	assert.Equal(t, "1.", again[0].UnstructuredData["col1"])
}

func TestTenderStoreConcurrentUpserts(t *testing.T) {
	t.Parallel()

	s := NewTenderStore("")
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				_, err := s.Upsert(context.Background(), record(fmt.Sprintf("%d-%d", n, j%5), "x"))
				assert.NoError(t, err)
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 40, s.Len())
}

func TestTenderStoreCanceled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewTenderStore("").Upsert(ctx, record("A", "x"))
	require.ErrorIs(t, err, context.Canceled)
}
