package crawler

import (
	"strings"
	"time"
)

// sourceDateLayout matches listing dates such as "01-Jan-2025 10:30 AM".
// Day and hour may have one or two digits.
const sourceDateLayout = "2-Jan-2006 3:04 PM"

// DateNormalizer converts listing dates to RFC 3339 in UTC.
type DateNormalizer struct {
	// Location is the timezone the portal publishes wall-clock times in.
	Location *time.Location
}

// NewDateNormalizer returns a normalizer for the named IANA zone.
func NewDateNormalizer(zone string) (DateNormalizer, error) {
	if zone == "" {
		return DateNormalizer{Location: time.UTC}, nil
	}
	loc, err := time.LoadLocation(zone)
	if err != nil {
		return DateNormalizer{}, err
	}
	return DateNormalizer{Location: loc}, nil
}

// Normalize returns the canonical form of raw, or nil when raw is empty, the
// "--" placeholder, or not in the listing format. It never returns raw text.
func (n DateNormalizer) Normalize(raw string) *string {
	s := strings.Join(strings.Fields(raw), " ")
	if s == "" || s == "--" {
		return nil
	}
	loc := n.Location
	if loc == nil {
		loc = time.UTC
	}
	t, err := time.ParseInLocation(sourceDateLayout, strings.ToUpper(s), loc)
	if err != nil || zeroClockHour(s) {
		return nil
	}
	out := t.UTC().Format(time.RFC3339)
	return &out
}

// zeroClockHour reports an hour of 0 or 00, which the parser accepts but a
// 12-hour clock does not have.
func zeroClockHour(s string) bool {
	fields := strings.Fields(s)
	if len(fields) < 2 {
		return false
	}
	hour, _, _ := strings.Cut(fields[1], ":")
	return strings.Trim(hour, "0") == ""
}
