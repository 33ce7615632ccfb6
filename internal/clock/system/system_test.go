package system

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClockNow(t *testing.T) {
	t.Parallel()

	lower := time.Now().Add(-time.Second)
	got := New().Now()
	upper := time.Now().Add(time.Second)

	assert.Equal(t, time.UTC, got.Location())
	assert.True(t, got.After(lower) && got.Before(upper), "now %v outside [%v, %v]", got, lower, upper)
}

func TestFixed(t *testing.T) {
	t.Parallel()

	ist := time.FixedZone("IST", 5*3600+1800)
	at := time.Date(2025, 1, 15, 15, 0, 0, 0, ist)
	clk := Fixed(at)

	first, second := clk.Now(), clk.Now()
	require.Equal(t, first, second)
	assert.Equal(t, time.UTC, first.Location())
	assert.Equal(t, "2025-01-15T09:30:00Z", first.Format(time.RFC3339))
}

func TestFunc(t *testing.T) {
	t.Parallel()

	calls := 0
	clk := Func(func() time.Time {
		calls++
		return time.Unix(int64(calls), 0)
	})
	assert.Equal(t, int64(1), clk.Now().Unix())
	assert.Equal(t, int64(2), clk.Now().Unix())
}
