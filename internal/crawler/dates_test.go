package crawler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDateNormalizer(t *testing.T) {
	t.Parallel()

	utc := DateNormalizer{Location: time.UTC}
	ist, err := NewDateNormalizer("Asia/Kolkata")
	require.NoError(t, err)

	cases := []struct {
		name string
		n    DateNormalizer
		in   string
		want string
	}{
		{"canonical", utc, "01-Jan-2025 10:30 AM", "2025-01-01T10:30:00Z"},
		{"pm", utc, "15-Mar-2025 03:45 PM", "2025-03-15T15:45:00Z"},
		{"noon", utc, "15-Mar-2025 12:00 PM", "2025-03-15T12:00:00Z"},
		{"midnight", utc, "15-Mar-2025 12:05 AM", "2025-03-15T00:05:00Z"},
		{"single digit day and hour", utc, "5-Feb-2025 9:05 AM", "2025-02-05T09:05:00Z"},
		{"lower case", utc, "05-feb-2025 09:05 pm", "2025-02-05T21:05:00Z"},
		{"padded", utc, "  05-Feb-2025   09:05 PM ", "2025-02-05T21:05:00Z"},
		{"source timezone", ist, "01-Jan-2025 10:30 AM", "2025-01-01T05:00:00Z"},
		{"day rollover", ist, "01-Jan-2025 02:00 AM", "2024-12-31T20:30:00Z"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := tc.n.Normalize(tc.in)
			require.NotNil(t, got)
			assert.Equal(t, tc.want, *got)
		})
	}
}

func TestDateNormalizerRejects(t *testing.T) {
	t.Parallel()

	n := DateNormalizer{Location: time.UTC}
	for _, in := range []string{"", "   ", "--", "31-Feb-2025 10:00 AM", "2025-01-01", "01-Jan-2025", "tomorrow", "01-Foo-2025 10:30 AM", "05-Jan-2025 00:30 AM", "05-Jan-2025 0:30 PM"} {
		assert.Nil(t, n.Normalize(in), "input %q", in)
	}
}

func TestNewDateNormalizerUnknownZone(t *testing.T) {
	t.Parallel()

	_, err := NewDateNormalizer("Mars/Olympus")
	require.Error(t, err)
}
