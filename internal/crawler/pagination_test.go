package crawler

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const cpppBase = "https://eprocure.gov.in/cppp/latestactivetendersnew/cpppdata"

func TestNextPageURL(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		cpppBase + "?page=3":             cpppBase + "?page=4",
		cpppBase:                         cpppBase + "?page=2",
		cpppBase + "?sort=asc&page=9":    cpppBase + "?page=10",
		cpppBase + "?page=abc":           cpppBase + "?page=2",
		cpppBase + "?page=0":             cpppBase + "?page=2",
		"http://host.test:8080/x?page=1": "http://host.test:8080/x?page=2",
	}
	for in, want := range cases {
		got, err := NextPageURL(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := NextPageURL("/relative?page=2")
	require.Error(t, err)
	_, err = NextPageURL("http://[::1")
	require.Error(t, err)
}

func TestQuotaTryTake(t *testing.T) {
	t.Parallel()

	q := NewQuota(3)
	for i := 0; i < 3; i++ {
		require.True(t, q.TryTake())
	}
	assert.False(t, q.TryTake())
	assert.True(t, q.Reached())
	assert.Equal(t, 3, q.Taken())

	unlimited := NewQuota(0)
	for i := 0; i < 100; i++ {
		require.True(t, unlimited.TryTake())
	}
	assert.False(t, unlimited.Reached())
}

func TestQuotaConcurrentNeverExceeds(t *testing.T) {
	t.Parallel()

	q := NewQuota(50)
	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		got int
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				if q.TryTake() {
					mu.Lock()
					got++
					mu.Unlock()
				}
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 50, got)
	assert.Equal(t, 50, q.Taken())
}

func TestPaginatorFollowsRedirect(t *testing.T) {
	t.Parallel()

	p := NewPaginator("http://eprocure.gov.in/cppp/latestactivetendersnew/cpppdata", PaginationConfig{}, nil)
	p.Redirected("")
	p.Redirected("/relative")
	assert.Equal(t, "http://eprocure.gov.in/cppp/latestactivetendersnew/cpppdata", p.Current())

	p.Redirected(cpppBase + "?page=1")
	p.Completed(4)
	assert.Equal(t, cpppBase+"?page=2", p.Current(), "next page is built from the final URL")
	assert.Equal(t, 2, p.Page())
}

func TestPaginatorStopsOnQuota(t *testing.T) {
	t.Parallel()

	q := NewQuota(2)
	p := NewPaginator(cpppBase, PaginationConfig{StopOnEmptyPage: true}, q)
	assert.Equal(t, 1, p.Page())

	require.True(t, q.TryTake())
	p.Completed(1)
	done, _ := p.Done()
	require.False(t, done)
	assert.Equal(t, cpppBase+"?page=2", p.Current())
	assert.Equal(t, 2, p.Page())

	require.True(t, q.TryTake())
	p.Completed(10)
	done, reason := p.Done()
	assert.True(t, done)
	assert.Equal(t, StopQuota, reason)
	assert.Equal(t, cpppBase+"?page=2", p.Current(), "no further page is computed")

	late := NewPaginator(cpppBase, PaginationConfig{}, q)
	done, reason = late.Done()
	assert.True(t, done)
	assert.Equal(t, StopQuota, reason)
}

func TestPaginatorEmptyPage(t *testing.T) {
	t.Parallel()

	p := NewPaginator(cpppBase, PaginationConfig{StopOnEmptyPage: true}, NewQuota(10))
	p.Completed(0)
	done, reason := p.Done()
	assert.True(t, done)
	assert.Equal(t, StopEmptyPage, reason)

	keepGoing := NewPaginator(cpppBase, PaginationConfig{StopOnEmptyPage: false}, NewQuota(10))
	keepGoing.Completed(0)
	done, _ = keepGoing.Done()
	assert.False(t, done)
}

func TestPaginatorMaxPages(t *testing.T) {
	t.Parallel()

	p := NewPaginator(cpppBase+"?page=5", PaginationConfig{MaxPages: 2}, NewQuota(100))
	p.Completed(3)
	assert.Equal(t, cpppBase+"?page=6", p.Current())
	p.Completed(3)
	done, reason := p.Done()
	assert.True(t, done)
	assert.Equal(t, StopMaxPages, reason)
	assert.Equal(t, 2, p.Visited())
}

func TestPaginatorFailures(t *testing.T) {
	t.Parallel()

	p := NewPaginator(cpppBase, PaginationConfig{MaxConsecutiveFailures: 2}, NewQuota(100))
	p.Abandoned()
	assert.Equal(t, cpppBase+"?page=2", p.Current(), "an abandoned page does not block later pages")
	p.Completed(5)
	p.Abandoned()
	done, _ := p.Done()
	assert.False(t, done, "success resets the failure streak")
	p.Abandoned()
	done, reason := p.Done()
	assert.True(t, done)
	assert.Equal(t, StopFailures, reason)
}

func TestPaginatorStopKeepsFirstReason(t *testing.T) {
	t.Parallel()

	p := NewPaginator(cpppBase, PaginationConfig{}, nil)
	p.Stop(StopCanceled)
	p.Stop(StopDisallowed)
	_, reason := p.Done()
	assert.Equal(t, StopCanceled, reason)
}
